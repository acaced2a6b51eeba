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

// WriteResult reports what a Write produced.
type WriteResult struct {
	Version int64
	Files   []string
}

// Write materializes rows into one or more Parquet files targeting
// targetFileSize, computes stats, commits the resulting add actions, and —
// when CDC is enabled — emits one insert record per row (§4.6 "Write").
func (t *Table) Write(ctx context.Context, rows []parquetio.Row) (*WriteResult, error) {
	ctx, span := t.tracer.Start(ctx, "Table/Write")
	span.SetAttributes(attribute.Int("rows", len(rows)))
	defer span.End()

	if len(rows) == 0 {
		return nil, nil
	}

	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := t.schema(snap)
	if err != nil {
		return nil, err
	}

	groups := groupByPartition(rows, snap.Metadata.PartitionColumns)

	var adds []action.Add
	var writtenPaths []string
	cleanup := func() {
		for _, p := range writtenPaths {
			_ = t.backend.Delete(ctx, t.tablePath+"/"+p)
		}
	}

	for _, group := range groups {
		files, err := splitByTargetSize(group.rows, schema, t.targetFileSize)
		if err != nil {
			cleanup()
			return nil, err
		}
		for _, f := range files {
			if ctx.Err() != nil {
				cleanup()
				return nil, ctx.Err()
			}
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
				PartitionValues:  group.values,
				Stats:            statsJSON,
			})
		}
	}

	actions := make([]action.Action, 0, len(adds))
	for i := range adds {
		a := adds[i]
		actions = append(actions, action.Action{Add: &a})
	}

	result, err := t.commitP.Commit(ctx, commit.Proposal{ReadVersion: snap.Version, Operation: "WRITE", Actions: actions})
	if err != nil {
		cleanup()
		return nil, err
	}

	pkColumn := t.primaryKeyColumn(snap)
	records := make([]cdc.Record, len(rows))
	for i, row := range rows {
		records[i] = cdc.Record{Operation: cdc.OpInsert, PrimaryKey: rowKey(row, pkColumn), Data: row}
	}
	if err := t.producer.Emit(ctx, result.Version, result.Timestamp, records); err != nil {
		return nil, err
	}

	return &WriteResult{Version: result.Version, Files: writtenPaths}, nil
}

// rowKey renders a row's primary-key value as the CDC record's deterministic
// key, or "" when the table has no primary-key column.
func rowKey(row parquetio.Row, pkColumn string) string {
	if pkColumn == "" {
		return ""
	}
	return formatKey(row[pkColumn])
}
