package table

import (
	"context"

	"github.com/go-kit/log"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/cdc"
	"github.com/deltakernel/deltakernel/commit"
	deltalog "github.com/deltakernel/deltakernel/log"
	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/storage"
)

// The accessors and helpers below exist so the optimize package (compaction,
// deduplication, clustering) can share the table's storage/log/commit wiring
// and file encoding conventions instead of duplicating them (§4.8: "all
// three operations share the structure: select a set of live files F; read
// them; write new files F'; commit a single transaction").

func (t *Table) Backend() storage.Backend        { return t.backend }
func (t *Table) TablePath() string                { return t.tablePath }
func (t *Table) Engine() *deltalog.Engine         { return t.engine }
func (t *Table) CommitProtocol() *commit.Protocol { return t.commitP }
func (t *Table) Producer() *cdc.Producer          { return t.producer }
func (t *Table) TargetFileSize() int64            { return t.targetFileSize }
func (t *Table) Logger() log.Logger               { return t.logger }

// Schema decodes the table's current logical schema from a snapshot.
func (t *Table) Schema(snap *deltalog.Snapshot) (parquetio.Schema, error) { return t.schema(snap) }

// PrimaryKeyColumn reports the configured primary-key column, or "" if none.
func (t *Table) PrimaryKeyColumn(snap *deltalog.Snapshot) string { return t.primaryKeyColumn(snap) }

// ReadFile decodes one data file's rows.
func (t *Table) ReadFile(ctx context.Context, schema parquetio.Schema, add action.Add) ([]parquetio.Row, error) {
	return t.readFile(ctx, schema, add)
}

// FilePath builds a Hive-style partitioned file path for a row.
func FilePath(partitionColumns []string, row parquetio.Row) string { return filePath(partitionColumns, row) }

// EncodeStats encodes merged row-group statistics as an add.stats JSON blob.
func EncodeStats(groups []parquetio.RowGroupStats) (string, error) { return encodeStats(groups) }

// WrittenFile is one Parquet file produced by SplitByTargetSize.
type WrittenFile struct {
	Rows      []parquetio.Row
	Data      []byte
	RowGroups []parquetio.RowGroupStats
}

// SplitByTargetSize writes rows as Parquet, recursively halving whenever the
// encoded output exceeds targetSize (§4.6/§4.8 "target size 128 MB").
func SplitByTargetSize(rows []parquetio.Row, schema parquetio.Schema, targetSize int64) ([]WrittenFile, error) {
	files, err := splitByTargetSize(rows, schema, targetSize)
	if err != nil {
		return nil, err
	}
	out := make([]WrittenFile, len(files))
	for i, f := range files {
		out[i] = WrittenFile{Rows: f.rows, Data: f.data, RowGroups: f.rowGroups}
	}
	return out, nil
}

// FormatKey renders a column value the same way rowKey/hivePartitionValue
// do, for components that group or sort rows by a column's raw value.
func FormatKey(v any) string { return formatKey(v) }
