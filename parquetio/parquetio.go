package parquetio

import (
	"bytes"
	"io"

	"github.com/parquet-go/parquet-go"

	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/zonemap"
)

// WriteOptions controls Parquet encoding (§4.9).
type WriteOptions struct {
	// Compression is one of "snappy", "zstd", "gzip", "uncompressed".
	// Defaults to "snappy", matching the teacher's dynparquet default.
	Compression string
	// TargetRowGroupSize bounds rows per row group; 0 means a single group.
	TargetRowGroupSize int
}

func (o WriteOptions) compressionCodec() parquet.Compression {
	switch o.Compression {
	case "zstd":
		return &parquet.Zstd
	case "gzip":
		return &parquet.Gzip
	case "uncompressed":
		return nil
	default:
		return &parquet.Snappy
	}
}

// RowGroupStats carries one written row group's statistics, the unit the
// Zone-Map Filter consumes.
type RowGroupStats struct {
	NumRows     int64
	ColumnStats map[string]zonemap.Zone
}

// Write encodes rows under schema into a single Parquet file, returning the
// encoded bytes and per-row-group column statistics (§6 "rowGroups[i]
// carries {numRows, columnStats}").
func Write(rows []Row, schema Schema, opts WriteOptions) ([]byte, []RowGroupStats, error) {
	pschema, err := schema.toParquet()
	if err != nil {
		return nil, nil, err
	}

	groupSize := opts.TargetRowGroupSize
	if groupSize <= 0 {
		groupSize = len(rows)
		if groupSize == 0 {
			groupSize = 1
		}
	}

	var buf bytes.Buffer
	writerOpts := []parquet.WriterOption{pschema}
	if codec := opts.compressionCodec(); codec != nil {
		writerOpts = append(writerOpts, parquet.Compression(codec))
	}
	w := parquet.NewWriter(&buf, writerOpts...)

	var stats []RowGroupStats
	tracker := newStatsTracker(schema)

	for i, row := range rows {
		prow, err := rowToParquet(schema, row)
		if err != nil {
			return nil, nil, errs.Wrap(errs.KindValidation, err, "encode row")
		}
		if _, err := w.WriteRows([]parquet.Row{prow}); err != nil {
			return nil, nil, errs.Wrap(errs.KindStorage, err, "write parquet row")
		}
		tracker.observe(row)

		if (i+1)%groupSize == 0 {
			if err := w.Flush(); err != nil {
				return nil, nil, errs.Wrap(errs.KindStorage, err, "flush row group")
			}
			stats = append(stats, tracker.finish())
		}
	}
	if tracker.rows > 0 {
		if err := w.Flush(); err != nil {
			return nil, nil, errs.Wrap(errs.KindStorage, err, "flush row group")
		}
		stats = append(stats, tracker.finish())
	}

	if err := w.Close(); err != nil {
		return nil, nil, errs.Wrap(errs.KindStorage, err, "close parquet writer")
	}

	return buf.Bytes(), stats, nil
}

// statsTracker accumulates per-column min/max/null-count across the rows of
// one in-progress row group.
type statsTracker struct {
	schema Schema
	rows   int64
	zones  map[string]*zonemap.Zone
}

func newStatsTracker(schema Schema) *statsTracker {
	zones := make(map[string]*zonemap.Zone, len(schema.Columns))
	for _, c := range schema.Columns {
		zones[c.Name] = &zonemap.Zone{}
	}
	return &statsTracker{schema: schema, zones: zones}
}

func (t *statsTracker) observe(row Row) {
	t.rows++
	for _, col := range t.schema.Columns {
		z := t.zones[col.Name]
		v, ok := row[col.Name]
		if !ok || v == nil {
			z.NullCount++
			continue
		}
		if z.Min == nil || lessAny(v, z.Min) {
			z.Min = v
		}
		if z.Max == nil || lessAny(z.Max, v) {
			z.Max = v
		}
	}
}

func (t *statsTracker) finish() RowGroupStats {
	out := make(map[string]zonemap.Zone, len(t.zones))
	for name, z := range t.zones {
		out[name] = *z
	}
	n := t.rows
	t.rows = 0
	for _, c := range t.schema.Columns {
		t.zones[c.Name] = &zonemap.Zone{}
	}
	return RowGroupStats{NumRows: n, ColumnStats: out}
}

// lessAny is a minimal same-type comparator sufficient for the concrete
// value types toParquetValue accepts; it is not a general ordering.
func lessAny(a, b any) bool {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		return av < bv
	case float64:
		bv, _ := b.(float64)
		return av < bv
	case string:
		bv, _ := b.(string)
		return av < bv
	case bool:
		bv, _ := b.(bool)
		return !av && bv
	default:
		return false
	}
}

// ReadOptions controls a Parquet read; an empty Columns list reads all
// columns.
type ReadOptions struct {
	Columns []string
}

// Rows is the result of Read: the decoded rows plus the row-group stats
// recovered from the file, so callers can re-run Zone-Map pruning without
// re-deriving stats from the decoded data.
type Rows struct {
	Rows      []Row
	RowGroups []RowGroupStats
}

// Read decodes a Parquet file written by Write back into rows (§6). Unlike
// the file's own Parquet footer, schema carries this engine's logical types
// (distinguishing, e.g., TypeTimestamp from TypeInt64, both physically
// int64) and must be the schema Write was called with, mirroring dynparquet
// requiring the caller to supply the dynamic schema on read.
func Read(r io.ReaderAt, size int64, schema Schema, opts ReadOptions) (*Rows, error) {
	if _, err := schema.toParquet(); err != nil {
		return nil, err
	}

	file, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, errs.Wrap(errs.KindStorage, err, "open parquet file")
	}

	projected := schema
	if len(opts.Columns) > 0 {
		projected = projectSchema(schema, opts.Columns)
	}

	result := &Rows{}
	for _, rg := range file.RowGroups() {
		group := newStatsTracker(projected)

		rgReader := rg.Rows()
		buf := make([]parquet.Row, 128)
		for {
			n, readErr := rgReader.ReadRows(buf)
			for i := 0; i < n; i++ {
				row, convErr := parquetToRow(schema, buf[i])
				if convErr != nil {
					rgReader.Close()
					return nil, convErr
				}
				if len(opts.Columns) > 0 {
					row = projectRow(row, opts.Columns)
				}
				result.Rows = append(result.Rows, row)
				group.observe(row)
			}
			if readErr == io.EOF {
				break
			}
			if readErr != nil {
				rgReader.Close()
				return nil, errs.Wrap(errs.KindStorage, readErr, "read parquet row group")
			}
		}
		rgReader.Close()
		result.RowGroups = append(result.RowGroups, group.finish())
	}

	return result, nil
}

func projectSchema(schema Schema, columns []string) Schema {
	want := make(map[string]bool, len(columns))
	for _, c := range columns {
		want[c] = true
	}
	out := Schema{}
	for _, c := range schema.Columns {
		if want[c.Name] {
			out.Columns = append(out.Columns, c)
		}
	}
	return out
}

func projectRow(row Row, columns []string) Row {
	out := make(Row, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}
