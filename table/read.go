package table

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/zonemap"
)

// Read scans every live file at the table's current snapshot, skipping files
// filter provably excludes (zonemap.CanSkip) and returning only the rows
// filter matches. A nil or empty filter returns every row. This is the
// read-only counterpart to Update/Delete/Merge's file-skip-then-row-match
// scan, exposed for callers (the CLI's `read`/`history` surface) that need
// rows back rather than a mutation.
func (t *Table) Read(ctx context.Context, filter zonemap.Filter) ([]parquetio.Row, error) {
	ctx, span := t.tracer.Start(ctx, "Table/Read")
	defer span.End()

	snap, err := t.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := t.schema(snap)
	if err != nil {
		return nil, err
	}

	files := snap.Files()
	span.SetAttributes(attribute.Int("files", len(files)))

	var out []parquetio.Row
	for _, add := range files {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		zones, err := zonesFromStats(add.Stats)
		if err != nil {
			return nil, err
		}
		if len(filter) > 0 && zonemap.CanSkip(zones, filter) {
			continue
		}
		rows, err := t.readFile(ctx, schema, add)
		if err != nil {
			return nil, err
		}
		if len(filter) == 0 {
			out = append(out, rows...)
			continue
		}
		for _, row := range rows {
			if matchesRow(row, filter) {
				out = append(out, row)
			}
		}
	}
	return out, nil
}
