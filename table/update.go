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

// Update rewrites every file whose zone map cannot rule out filter,
// replacing matching rows with updates applied and leaving non-matching rows
// and untouched files alone (§4.6 "Update(filter, updates)"). As with
// Delete, a file prefers the deletion-vector strategy over a full rewrite
// when the protocol supports deletion vectors and the matching-row fraction
// is below dvThreshold: the matched rows are tombstoned in place on the
// original file via a merged deletion vector, and only the updated rows are
// materialized into a new, small file.
func (t *Table) Update(ctx context.Context, filter zonemap.Filter, updates map[string]any) (*WriteResult, error) {
	ctx, span := t.tracer.Start(ctx, "Table/Update")
	span.SetAttributes(attribute.Int("updates", len(updates)))
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
		var updatedRows []parquetio.Row
		outRows := make([]parquetio.Row, 0, len(rows))
		for i, row := range rows {
			if !matchesRow(row, filter) {
				outRows = append(outRows, row)
				continue
			}
			matchedIdx = append(matchedIdx, uint64(i))
			pre := cloneRow(row)
			post := cloneRow(row)
			for k, v := range updates {
				post[k] = v
			}
			updatedRows = append(updatedRows, post)
			outRows = append(outRows, post)
			key := rowKey(row, pkColumn)
			records = append(records,
				cdc.Record{Operation: cdc.OpUpdatePreimage, PrimaryKey: key, Data: pre},
				cdc.Record{Operation: cdc.OpUpdatePostimage, PrimaryKey: key, Data: post},
			)
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

			files, err := splitByTargetSize(updatedRows, schema, t.targetFileSize)
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
			continue
		}

		removes = append(removes, action.Remove{
			Path:              add.Path,
			DeletionTimestamp: time.Now().UnixNano() / int64(time.Millisecond),
			DataChange:        true,
			PartitionValues:   add.PartitionValues,
			Size:              add.Size,
		})

		if len(outRows) == 0 {
			continue
		}
		files, err := splitByTargetSize(outRows, schema, t.targetFileSize)
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

	result, err := t.commitP.Commit(ctx, commit.Proposal{ReadVersion: snap.Version, Operation: "UPDATE", Actions: actions})
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

func cloneRow(row parquetio.Row) parquetio.Row {
	out := make(parquetio.Row, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
