package optimize

import (
	"context"

	"github.com/dgryski/go-metro"

	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/table"
)

// KeepStrategy picks which row of a duplicate group survives.
type KeepStrategy string

const (
	KeepFirst  KeepStrategy = "first"
	KeepLast   KeepStrategy = "last"
	KeepLatest KeepStrategy = "latest"
)

// DeduplicateOptions configures one deduplication pass (§4.8
// "Deduplication").
type DeduplicateOptions struct {
	// ExactDuplicates groups by a full-row hash instead of the table's
	// primary-key column.
	ExactDuplicates bool
	KeepStrategy    KeepStrategy
	// OrderByColumn is required when KeepStrategy is KeepLatest; the row
	// with the maximum value in this column survives.
	OrderByColumn string
}

// DeduplicateResult reports what one deduplication pass removed.
type DeduplicateResult struct {
	JobID            string
	Version          int64
	RowsScanned      int
	RowsRemoved      int
	MaxDuplicatesKey int
	// Histogram maps "duplicates beyond the first" to the number of keys
	// that had that many, e.g. Histogram[1] counts keys with exactly one
	// extra duplicate row.
	Histogram map[int]int64
}

// Deduplicate scans every live file, groups rows by primary key (or a
// full-row hash when ExactDuplicates is set), and keeps one row per group
// per KeepStrategy (§4.8 "Deduplication").
func (o *Optimizer) Deduplicate(ctx context.Context, opts DeduplicateOptions) (*DeduplicateResult, error) {
	jobID := newJobID()
	if opts.KeepStrategy == KeepLatest && opts.OrderByColumn == "" {
		return nil, errs.Validation("optimize: deduplicate with keepStrategy=latest requires orderByColumn")
	}

	snap, err := o.tbl.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := o.tbl.Schema(snap)
	if err != nil {
		return nil, err
	}
	pkColumn := o.tbl.PrimaryKeyColumn(snap)
	if !opts.ExactDuplicates && pkColumn == "" {
		return nil, errs.Validation("optimize: deduplicate without exactDuplicates requires a primary key column")
	}

	files := snap.Files()
	if len(files) == 0 {
		return &DeduplicateResult{JobID: jobID, Version: snap.Version, Histogram: map[int]int64{}}, nil
	}

	rows, err := readRows(ctx, o, schema, files)
	if err != nil {
		return nil, err
	}

	groups := map[string][]parquetio.Row{}
	order := []string{}
	for _, row := range rows {
		key := dedupKey(row, pkColumn, opts.ExactDuplicates, schema)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	kept := make([]parquetio.Row, 0, len(order))
	histogram := map[int]int64{}
	maxDuplicates := 0
	removed := 0
	for _, key := range order {
		group := groups[key]
		if extra := len(group) - 1; extra > 0 {
			histogram[extra]++
			if extra > maxDuplicates {
				maxDuplicates = extra
			}
			removed += extra
		}
		kept = append(kept, pickSurvivor(group, opts))
	}

	if removed == 0 {
		return &DeduplicateResult{JobID: jobID, Version: snap.Version, RowsScanned: len(rows), Histogram: histogram}, nil
	}

	p := &plan{}
	for _, f := range files {
		p.removeFile(f)
	}
	for _, group := range groupByPartitionValues(kept, snap.Metadata.PartitionColumns) {
		splitFiles, err := table.SplitByTargetSize(group.rows, schema, o.tbl.TargetFileSize())
		if err != nil {
			p.cleanup(ctx, o)
			return nil, err
		}
		for _, f := range splitFiles {
			if err := p.writeFile(ctx, o, group.values, f); err != nil {
				p.cleanup(ctx, o)
				return nil, err
			}
		}
	}

	result, err := p.commit(ctx, o, snap.Version, "DEDUPLICATE")
	if err != nil {
		return nil, err
	}

	if o.metrics != nil {
		o.metrics.rowsDropped.Add(float64(removed))
	}
	return &DeduplicateResult{
		JobID:            jobID,
		Version:          result.Version,
		RowsScanned:      len(rows),
		RowsRemoved:      removed,
		MaxDuplicatesKey: maxDuplicates,
		Histogram:        histogram,
	}, nil
}

func dedupKey(row parquetio.Row, pkColumn string, exact bool, schema parquetio.Schema) string {
	if !exact {
		return table.FormatKey(row[pkColumn])
	}
	var buf []byte
	for _, col := range schema.Columns {
		buf = append(buf, []byte(table.FormatKey(row[col.Name]))...)
		buf = append(buf, 0)
	}
	h := metro.Hash64(buf, 0)
	return table.FormatKey(int64(h))
}

func pickSurvivor(group []parquetio.Row, opts DeduplicateOptions) parquetio.Row {
	switch opts.KeepStrategy {
	case KeepLast:
		return group[len(group)-1]
	case KeepLatest:
		best := group[0]
		for _, row := range group[1:] {
			if rowGreater(row[opts.OrderByColumn], best[opts.OrderByColumn]) {
				best = row
			}
		}
		return best
	default: // KeepFirst
		return group[0]
	}
}

func rowGreater(a, b any) bool {
	return sortableCompare(a, b) > 0
}

// sortableCompare orders comparable scalar values for KeepLatest; falls back
// to string comparison for types it doesn't special-case.
func sortableCompare(a, b any) int {
	switch av := a.(type) {
	case int64:
		bv, _ := b.(int64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	case float64:
		bv, _ := b.(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	default:
		as, bs := table.FormatKey(a), table.FormatKey(b)
		switch {
		case as < bs:
			return -1
		case as > bs:
			return 1
		default:
			return 0
		}
	}
}

type partitionRows struct {
	values map[string]string
	rows   []parquetio.Row
}

func groupByPartitionValues(rows []parquetio.Row, partitionColumns []string) []partitionRows {
	if len(partitionColumns) == 0 {
		return []partitionRows{{values: map[string]string{}, rows: rows}}
	}
	index := map[string]int{}
	var groups []*partitionRows
	for _, row := range rows {
		values := make(map[string]string, len(partitionColumns))
		key := ""
		for _, col := range partitionColumns {
			v := table.FormatKey(row[col])
			values[col] = v
			key += col + "=" + v + "/"
		}
		idx, ok := index[key]
		if !ok {
			idx = len(groups)
			index[key] = idx
			groups = append(groups, &partitionRows{values: values})
		}
		groups[idx].rows = append(groups[idx].rows, row)
	}
	out := make([]partitionRows, len(groups))
	for i, g := range groups {
		out[i] = *g
	}
	return out
}
