package optimize

import (
	"context"
	"sort"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/table"
)

// Strategy selects how undersized files are bin-packed into compaction
// groups (§4.8 "Compaction").
type Strategy string

const (
	StrategyBinPacking Strategy = "bin-packing"
	StrategyGreedy     Strategy = "greedy"
	StrategySortBySize Strategy = "sort-by-size"
)

// CompactOptions configures one compaction pass.
type CompactOptions struct {
	// TargetFileSize defaults to the table's configured target file size.
	TargetFileSize int64
	Strategy       Strategy
	// PreserveOrder is accepted for API compatibility with §4.8; this
	// implementation always concatenates a bin's source files in order
	// and never reorders their rows, so it has no further effect.
	PreserveOrder bool
	// VerifyIntegrity recomputes the row count and a content checksum
	// across a bin's input and output rows before committing.
	VerifyIntegrity bool
}

// CompactResult reports what one compaction pass did.
type CompactResult struct {
	JobID         string
	Version       int64
	FilesRemoved  int
	FilesWritten  int
	BinsCompacted int
}

// Compact merges files smaller than TargetFileSize, grouped by exact
// partitionValues, into bins sized near TargetFileSize (§4.8 "Compaction").
func (o *Optimizer) Compact(ctx context.Context, opts CompactOptions) (*CompactResult, error) {
	jobID := newJobID()
	snap, err := o.tbl.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := o.tbl.Schema(snap)
	if err != nil {
		return nil, err
	}
	targetSize := opts.TargetFileSize
	if targetSize <= 0 {
		targetSize = o.tbl.TargetFileSize()
	}

	var small []action.Add
	for _, f := range snap.Files() {
		if f.Size < targetSize {
			small = append(small, f)
		}
	}
	if len(small) < 2 {
		return &CompactResult{JobID: jobID, Version: snap.Version}, nil
	}

	p := &plan{}
	binsCompacted := 0
	columns := columnNames(schema)

	for _, group := range groupFilesByPartition(small) {
		bins := binPack(group, targetSize, opts.Strategy)
		for _, bin := range bins {
			if len(bin) < 2 {
				continue
			}
			if err := o.compactBin(ctx, p, schema, columns, bin, targetSize, opts); err != nil {
				p.cleanup(ctx, o)
				return nil, err
			}
			binsCompacted++
		}
	}
	if binsCompacted == 0 {
		return &CompactResult{JobID: jobID, Version: snap.Version}, nil
	}

	result, err := p.commit(ctx, o, snap.Version, "COMPACT")
	if err != nil {
		return nil, err
	}
	return &CompactResult{
		JobID:         jobID,
		Version:       result.Version,
		FilesRemoved:  len(p.removes),
		FilesWritten:  len(p.adds),
		BinsCompacted: binsCompacted,
	}, nil
}

func (o *Optimizer) compactBin(ctx context.Context, p *plan, schema parquetio.Schema, columns []string, bin []action.Add, targetSize int64, opts CompactOptions) error {
	rows, err := readRows(ctx, o, schema, bin)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return errNoRows()
	}

	var beforeSum uint64
	if opts.VerifyIntegrity {
		beforeSum, err = checksum(rows, columns)
		if err != nil {
			return err
		}
	}

	files, err := table.SplitByTargetSize(rows, schema, targetSize)
	if err != nil {
		return err
	}

	if opts.VerifyIntegrity {
		var outRows []parquetio.Row
		for _, f := range files {
			outRows = append(outRows, f.Rows...)
		}
		if len(outRows) != len(rows) {
			return errs.Newf(errs.KindValidation, "optimize: compaction row count mismatch: in=%d out=%d", len(rows), len(outRows))
		}
		afterSum, err := checksum(outRows, columns)
		if err != nil {
			return err
		}
		if afterSum != beforeSum {
			return errs.Newf(errs.KindValidation, "optimize: compaction checksum mismatch")
		}
	}

	for _, f := range bin {
		p.removeFile(f)
	}
	for _, f := range files {
		if err := p.writeFile(ctx, o, bin[0].PartitionValues, f); err != nil {
			return err
		}
	}
	return nil
}

func columnNames(schema parquetio.Schema) []string {
	names := make([]string, len(schema.Columns))
	for i, c := range schema.Columns {
		names[i] = c.Name
	}
	return names
}

// binPack groups files into bins sized near targetSize per Strategy.
func binPack(files []action.Add, targetSize int64, strategy Strategy) [][]action.Add {
	sorted := append([]action.Add(nil), files...)

	switch strategy {
	case StrategySortBySize:
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size < sorted[j].Size })
		return sequentialBins(sorted, targetSize)
	case StrategyGreedy:
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
		return sequentialBins(sorted, targetSize)
	default: // StrategyBinPacking: first-fit decreasing
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].Size > sorted[j].Size })
		return firstFitDecreasing(sorted, targetSize)
	}
}

// sequentialBins fills bins in the given order, starting a new bin whenever
// the next file would push the current one over targetSize.
func sequentialBins(files []action.Add, targetSize int64) [][]action.Add {
	var bins [][]action.Add
	var current []action.Add
	var currentSize int64
	for _, f := range files {
		if len(current) > 0 && currentSize+f.Size > targetSize {
			bins = append(bins, current)
			current = nil
			currentSize = 0
		}
		current = append(current, f)
		currentSize += f.Size
	}
	if len(current) > 0 {
		bins = append(bins, current)
	}
	return bins
}

// firstFitDecreasing places each file (already sorted largest-first) into
// the first existing bin with room, opening a new bin otherwise.
func firstFitDecreasing(files []action.Add, targetSize int64) [][]action.Add {
	var bins [][]action.Add
	var sizes []int64
	for _, f := range files {
		placed := false
		for i := range bins {
			if sizes[i]+f.Size <= targetSize {
				bins[i] = append(bins[i], f)
				sizes[i] += f.Size
				placed = true
				break
			}
		}
		if !placed {
			bins = append(bins, []action.Add{f})
			sizes = append(sizes, f.Size)
		}
	}
	return bins
}
