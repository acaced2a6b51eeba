// Package optimize implements the Optimization Kernel (§4.8): compaction,
// deduplication, and Z-order/Hilbert clustering. All three share one shape —
// select live files F, read them, write replacement files F', commit a
// single remove(F)+add(F') transaction with strategy (a) conflict semantics
// — grounded on the teacher's TableBlock.compact, a background goroutine
// that splits/merges granules and commits the result as one transaction.
package optimize

import (
	"context"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/errgroup"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/commit"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/parquetio"
	"github.com/deltakernel/deltakernel/table"
)

// Optimizer runs maintenance transactions against a table, sharing its
// storage/log/commit wiring rather than opening a second connection to it.
type Optimizer struct {
	tbl     *table.Table
	metrics *metrics
}

// New wraps a table for maintenance operations.
func New(tbl *table.Table, opts ...Option) *Optimizer {
	o := &Optimizer{tbl: tbl}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// newJobID mints a monotonic, time-sortable job identifier for one
// compaction/dedup/clustering run, the way the teacher names its table
// blocks with a ULID in store.go.
func newJobID() string {
	return ulid.Make().String()
}

// plan accumulates the remove/add actions and newly-written paths of one
// optimize transaction so a failed commit can clean up after itself.
type plan struct {
	removes      []action.Remove
	adds         []action.Add
	writtenPaths []string
}

func (p *plan) removeFile(add action.Add) {
	p.removes = append(p.removes, action.Remove{
		Path:              add.Path,
		DeletionTimestamp: time.Now().UnixNano() / int64(time.Millisecond),
		DataChange:        false,
		PartitionValues:   add.PartitionValues,
		Size:              add.Size,
	})
}

func (p *plan) writeFile(ctx context.Context, o *Optimizer, partitionValues map[string]string, f table.WrittenFile) error {
	partitionColumns := make([]string, 0, len(partitionValues))
	for col := range partitionValues {
		partitionColumns = append(partitionColumns, col)
	}
	path := table.FilePath(partitionColumns, f.Rows[0])
	if err := o.tbl.Backend().Write(ctx, o.tbl.TablePath()+"/"+path, f.Data); err != nil {
		return err
	}
	p.writtenPaths = append(p.writtenPaths, path)
	statsJSON, err := table.EncodeStats(f.RowGroups)
	if err != nil {
		return err
	}
	p.adds = append(p.adds, action.Add{
		Path:             path,
		Size:             int64(len(f.Data)),
		ModificationTime: time.Now().UnixNano() / int64(time.Millisecond),
		DataChange:       false,
		PartitionValues:  partitionValues,
		Stats:            statsJSON,
	})
	if o.metrics != nil {
		o.metrics.filesOut.Inc()
	}
	return nil
}

func (p *plan) cleanup(ctx context.Context, o *Optimizer) {
	for _, path := range p.writtenPaths {
		_ = o.tbl.Backend().Delete(ctx, o.tbl.TablePath()+"/"+path)
	}
}

// commit lands the accumulated remove/add actions as a single transaction
// (§4.8 "commit a single transaction with remove(f) for f∈F and add(f') for
// f'∈F'"), using strategy (a) conflict semantics: the ordinary commit
// protocol, which fails outright on an overlapping remove (§4.5) rather than
// silently reapplying a stale optimize pass.
func (p *plan) commit(ctx context.Context, o *Optimizer, readVersion int64, operation string) (*commit.Result, error) {
	if len(p.removes) == 0 && len(p.adds) == 0 {
		return nil, nil
	}
	actions := make([]action.Action, 0, len(p.removes)+len(p.adds))
	for i := range p.removes {
		r := p.removes[i]
		actions = append(actions, action.Action{Remove: &r})
	}
	for i := range p.adds {
		a := p.adds[i]
		actions = append(actions, action.Action{Add: &a})
	}
	result, err := o.tbl.CommitProtocol().Commit(ctx, commit.Proposal{ReadVersion: readVersion, Operation: operation, Actions: actions})
	if err != nil {
		p.cleanup(ctx, o)
		return nil, err
	}
	return result, nil
}

// groupFilesByPartition groups live add actions by their exact
// partitionValues map, mirroring the row-level grouping table.Write performs
// before encoding (§3 "partitionValues ... must match ... exactly").
func groupFilesByPartition(files []action.Add) [][]action.Add {
	index := map[string]int{}
	var groups [][]action.Add
	for _, f := range files {
		key := partitionKey(f.PartitionValues)
		idx, ok := index[key]
		if !ok {
			idx = len(groups)
			index[key] = idx
			groups = append(groups, nil)
		}
		groups[idx] = append(groups[idx], f)
	}
	return groups
}

func partitionKey(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	key := ""
	for _, k := range keys {
		key += k + "=" + values[k] + "/"
	}
	return key
}

// readRows reads every file's rows concurrently via errgroup, bounding
// in-flight reads the way the teacher bounds concurrent granule reads, then
// concatenates them back in file order for determinism.
func readRows(ctx context.Context, o *Optimizer, schema parquetio.Schema, files []action.Add) ([]parquetio.Row, error) {
	perFile := make([][]parquetio.Row, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, f := range files {
		i, f := i, f
		g.Go(func() error {
			fileRows, err := o.tbl.ReadFile(gctx, schema, f)
			if err != nil {
				return err
			}
			perFile[i] = fileRows
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if o.metrics != nil {
		o.metrics.filesIn.Add(float64(len(files)))
	}
	var rows []parquetio.Row
	for _, fr := range perFile {
		rows = append(rows, fr...)
	}
	return rows, nil
}

// checksum computes a content checksum over rows in their current order, for
// verifyIntegrity to compare before and after a rewrite (§4.8 "Compaction").
func checksum(rows []parquetio.Row, columns []string) (uint64, error) {
	h := xxhash.New()
	for _, row := range rows {
		for _, col := range columns {
			h.Write([]byte(table.FormatKey(row[col])))
			h.Write([]byte{0})
		}
		h.Write([]byte{0xff})
	}
	return h.Sum64(), nil
}

func errNoRows() error {
	return errs.Validation("optimize: no live files selected")
}
