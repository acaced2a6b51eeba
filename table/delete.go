package table

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/cdc"
	"github.com/deltakernel/deltakernel/commit"
	"github.com/deltakernel/deltakernel/dv"
	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/zonemap"
)

// Delete removes rows matching filter, choosing per file between rewriting
// the file (strategy a) and updating a deletion-vector descriptor in place
// (strategy b), preferring (b) when the protocol supports deletion vectors
// and the matching-row fraction is below dvThreshold (§4.6 "Delete(filter)").
func (t *Table) Delete(ctx context.Context, filter zonemap.Filter) (*WriteResult, error) {
	ctx, span := t.tracer.Start(ctx, "Table/Delete")
	span.SetAttributes(attribute.Int("filterKeys", len(filter)))
	defer span.End()

	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := t.schema(snap)
	if err != nil {
		return nil, err
	}
	pkColumn := t.primaryKeyColumn(snap)
	dvCapable := snap.Protocol.SupportsDeletionVectors()

	var removes []action.Remove
	var adds []action.Add
	var records []cdc.Record
	var writtenPaths []string
	cleanup := func() {
		for _, p := range writtenPaths {
			_ = t.backend.Delete(ctx, t.tablePath+"/"+p)
		}
	}

	for _, add := range snap.Files() {
		if ctx.Err() != nil {
			cleanup()
			return nil, ctx.Err()
		}

		zones, err := zonesFromStats(add.Stats)
		if err != nil {
			cleanup()
			return nil, err
		}
		if zonemap.CanSkip(zones, filter) {
			continue
		}

		rows, err := t.readFile(ctx, schema, add)
		if err != nil {
			cleanup()
			return nil, err
		}

		var matchedIdx []uint64
		var kept []parquetio.Row
		for i, row := range rows {
			if matchesRow(row, filter) {
				matchedIdx = append(matchedIdx, uint64(i))
				records = append(records, cdc.Record{Operation: cdc.OpDelete, PrimaryKey: rowKey(row, pkColumn), Data: row})
			} else {
				kept = append(kept, row)
			}
		}
		if len(matchedIdx) == 0 {
			continue
		}

		fraction := float64(len(matchedIdx)) / float64(len(rows))
		if dvCapable && fraction < t.dvThreshold {
			newDesc, err := dv.MergeDescriptors(ctx, t.backend, t.tablePath, add.DeletionVector, matchedIdx)
			if err != nil {
				cleanup()
				return nil, err
			}
			updated := add
			updated.DeletionVector = newDesc
			adds = append(adds, updated)
			continue
		}

		removes = append(removes, action.Remove{
			Path:              add.Path,
			DeletionTimestamp: time.Now().UnixNano() / int64(time.Millisecond),
			DataChange:        true,
			PartitionValues:   add.PartitionValues,
			Size:              add.Size,
		})
		if len(kept) == 0 {
			continue
		}
		files, err := splitByTargetSize(kept, schema, t.targetFileSize)
		if err != nil {
			cleanup()
			return nil, err
		}
		for _, f := range files {
			path := filePath(snap.Metadata.PartitionColumns, f.rows[0])
			if err := t.backend.Write(ctx, t.tablePath+"/"+path, f.data); err != nil {
				cleanup()
				return nil, err
			}
			writtenPaths = append(writtenPaths, path)
			statsJSON, err := encodeStats(f.rowGroups)
			if err != nil {
				cleanup()
				return nil, err
			}
			adds = append(adds, action.Add{
				Path:             path,
				Size:             int64(len(f.data)),
				ModificationTime: time.Now().UnixNano() / int64(time.Millisecond),
				DataChange:       true,
				PartitionValues:  add.PartitionValues,
				Stats:            statsJSON,
			})
		}
	}

	if len(removes) == 0 && len(adds) == 0 {
		return &WriteResult{Version: snap.Version}, nil
	}

	actions := make([]action.Action, 0, len(removes)+len(adds))
	for i := range removes {
		r := removes[i]
		actions = append(actions, action.Action{Remove: &r})
	}
	for i := range adds {
		a := adds[i]
		actions = append(actions, action.Action{Add: &a})
	}

	result, err := t.commitP.Commit(ctx, commit.Proposal{ReadVersion: snap.Version, Operation: "DELETE", Actions: actions})
	if err != nil {
		cleanup()
		return nil, err
	}

	if len(records) > 0 {
		if err := t.producer.Emit(ctx, result.Version, result.Timestamp, records); err != nil {
			return nil, err
		}
	}

	return &WriteResult{Version: result.Version, Files: writtenPaths}, nil
}
