package table

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/cdc"
	"github.com/deltakernel/deltakernel/commit"
	"github.com/deltakernel/deltakernel/parquetio"
)

// MatchCondition decides whether an incoming row matches an existing row
// (§4.6 "Merge").
type MatchCondition func(existing, incoming parquetio.Row) bool

// WhenMatched transforms a matched existing/incoming pair; a nil result
// deletes the existing row.
type WhenMatched func(existing, incoming parquetio.Row) parquetio.Row

// WhenNotMatched transforms an incoming row with no existing match; a nil
// result skips it.
type WhenNotMatched func(incoming parquetio.Row) parquetio.Row

// Merge performs a streaming upsert against the table's snapshot-time state:
// each incoming row is matched against existing rows across every live file,
// transformed via whenMatched/whenNotMatched, and the result translated to
// the same add/remove primitives as Update/Delete (§4.6 "Merge").
func (t *Table) Merge(ctx context.Context, rows []parquetio.Row, matchCondition MatchCondition, whenMatched WhenMatched, whenNotMatched WhenNotMatched) (*WriteResult, error) {
	ctx, span := t.tracer.Start(ctx, "Table/Merge")
	span.SetAttributes(attribute.Int("rows", len(rows)))
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

	consumed := make([]bool, len(rows))

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

		existingRows, err := t.readFile(ctx, schema, add)
		if err != nil {
			cleanup()
			return nil, err
		}

		var outRows []parquetio.Row
		modified := false
		for _, existing := range existingRows {
			matchedIdx := -1
			for i, incoming := range rows {
				if consumed[i] {
					continue
				}
				if matchCondition(existing, incoming) {
					matchedIdx = i
					break
				}
			}
			if matchedIdx < 0 {
				outRows = append(outRows, existing)
				continue
			}
			consumed[matchedIdx] = true
			modified = true
			incoming := rows[matchedIdx]
			newRow := whenMatched(existing, incoming)
			key := rowKey(existing, pkColumn)
			if newRow == nil {
				records = append(records, cdc.Record{Operation: cdc.OpDelete, PrimaryKey: key, Data: existing})
				continue
			}
			outRows = append(outRows, newRow)
			records = append(records,
				cdc.Record{Operation: cdc.OpUpdatePreimage, PrimaryKey: key, Data: cloneRow(existing)},
				cdc.Record{Operation: cdc.OpUpdatePostimage, PrimaryKey: key, Data: newRow},
			)
		}
		if !modified {
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
			if err := t.writeDataFile(ctx, snap.Metadata.PartitionColumns, &writtenPaths, &adds, f, add.PartitionValues); err != nil {
				cleanup()
				return nil, err
			}
		}
	}

	var insertRows []parquetio.Row
	for i, incoming := range rows {
		if consumed[i] {
			continue
		}
		newRow := whenNotMatched(incoming)
		if newRow == nil {
			continue
		}
		insertRows = append(insertRows, newRow)
		records = append(records, cdc.Record{Operation: cdc.OpInsert, PrimaryKey: rowKey(newRow, pkColumn), Data: newRow})
	}
	if len(insertRows) > 0 {
		for _, group := range groupByPartition(insertRows, snap.Metadata.PartitionColumns) {
			files, err := splitByTargetSize(group.rows, schema, t.targetFileSize)
			if err != nil {
				cleanup()
				return nil, err
			}
			for _, f := range files {
				if err := t.writeDataFile(ctx, snap.Metadata.PartitionColumns, &writtenPaths, &adds, f, group.values); err != nil {
					cleanup()
					return nil, err
				}
			}
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

	result, err := t.commitP.Commit(ctx, commit.Proposal{ReadVersion: snap.Version, Operation: "MERGE", Actions: actions})
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

// writeDataFile writes one split output file to storage and appends its add
// action, recording the path for cleanup on failure.
func (t *Table) writeDataFile(ctx context.Context, partitionColumns []string, writtenPaths *[]string, adds *[]action.Add, f writtenFile, partitionValues map[string]string) error {
	path := filePath(partitionColumns, f.rows[0])
	if err := t.backend.Write(ctx, t.tablePath+"/"+path, f.data); err != nil {
		return err
	}
	*writtenPaths = append(*writtenPaths, path)
	statsJSON, err := encodeStats(f.rowGroups)
	if err != nil {
		return err
	}
	*adds = append(*adds, action.Add{
		Path:             path,
		Size:             int64(len(f.data)),
		ModificationTime: time.Now().UnixNano() / int64(time.Millisecond),
		DataChange:       true,
		PartitionValues:  partitionValues,
		Stats:            statsJSON,
	})
	return nil
}
