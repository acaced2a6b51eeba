// Package vacuum implements table vacuum (§4.9): physically deleting data
// files that are both tombstoned and past the commit log's retention
// window, never touching a file any retained commit still references.
// Grounded on the teacher's checkpoint.go (`pruneOldCheckpoints`,
// `deleteCheckpointIfExpired`), which already walks storage and deletes
// objects older than a retention window; this package generalizes that
// expiry sweep from checkpoints to data files.
package vacuum

import (
	"context"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/log"
	"github.com/deltakernel/deltakernel/storage"
)

// DefaultRetention is the default tombstone retention window (§4.9 "default
// 7 days").
const DefaultRetention = 7 * 24 * time.Hour

// Vacuum sweeps one table's physical files for ones safe to delete.
type Vacuum struct {
	backend   storage.Backend
	tablePath string
	engine    *log.Engine
}

// New wraps a table's storage backend and log engine for vacuuming. Callers
// with a *table.Table can pass tbl.Backend(), tbl.TablePath(), tbl.Engine().
func New(backend storage.Backend, tablePath string, engine *log.Engine) *Vacuum {
	return &Vacuum{backend: backend, tablePath: tablePath, engine: engine}
}

// Options configures one vacuum pass.
type Options struct {
	// Retention defaults to DefaultRetention when zero; a negative value
	// treats every tombstoned file as expired.
	Retention time.Duration
	// DryRun reports what would be deleted without deleting anything.
	DryRun bool
}

// Result reports what one vacuum pass did (or, in dry-run mode, would do).
type Result struct {
	FilesDeleted  []string
	BytesReclaimed int64
	FilesRetained int
}

// HumanBytesReclaimed renders BytesReclaimed for operator-facing reports.
func (r *Result) HumanBytesReclaimed() string { return humanize.IBytes(uint64(r.BytesReclaimed)) }

// Run lists every physical file reachable from the table root, cross
// references it against every add/remove action in the commit log, and
// deletes files that are tombstoned and older than Retention (§4.9). A file
// with no tombstone, or one removed more recently than Retention, is always
// retained.
func (v *Vacuum) Run(ctx context.Context, opts Options) (*Result, error) {
	retention := opts.Retention
	if retention == 0 {
		retention = DefaultRetention
	}

	live, tombstones, err := v.scanLog(ctx)
	if err != nil {
		return nil, err
	}

	physical, err := v.backend.List(ctx, v.tablePath+"/")
	if err != nil {
		return nil, err
	}

	now := time.Now()
	result := &Result{}
	for _, path := range physical {
		rel := strings.TrimPrefix(path, v.tablePath+"/")
		if rel == "" || strings.HasPrefix(rel, "_delta_log/") {
			continue
		}
		if _, ok := live[rel]; ok {
			result.FilesRetained++
			continue
		}
		deletionTime, tombstoned := tombstones[rel]
		if !tombstoned || now.Sub(deletionTime) < retention {
			result.FilesRetained++
			continue
		}

		info, err := v.backend.Stat(ctx, path)
		if err != nil && !errs.IsNotFound(err) {
			return nil, err
		}
		if info != nil {
			result.BytesReclaimed += info.Size
		}

		if !opts.DryRun {
			if err := v.backend.Delete(ctx, path); err != nil {
				return nil, err
			}
		}
		result.FilesDeleted = append(result.FilesDeleted, rel)
	}

	return result, nil
}

// scanLog replays the whole commit log, returning the set of currently live
// file paths and a map of every tombstoned path to its most recent
// deletionTimestamp.
func (v *Vacuum) scanLog(ctx context.Context) (live map[string]struct{}, tombstones map[string]time.Time, err error) {
	snap, err := v.engine.ReadLatest(ctx)
	if err != nil {
		return nil, nil, err
	}
	live = make(map[string]struct{}, snap.FileCount())
	for _, add := range snap.Files() {
		live[add.Path] = struct{}{}
	}

	tombstones = map[string]time.Time{}
	for n := int64(0); n <= snap.Version; n++ {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		path, err := action.CommitPath(n)
		if err != nil {
			return nil, nil, err
		}
		body, err := v.backend.Read(ctx, v.tablePath+"/"+path)
		if err != nil {
			if errs.IsNotFound(err) {
				continue
			}
			return nil, nil, err
		}
		for _, line := range action.DecodeCommit(body) {
			if line.Err != nil || line.Action.Remove == nil {
				continue
			}
			r := line.Action.Remove
			ts := time.UnixMilli(r.DeletionTimestamp)
			if existing, ok := tombstones[r.Path]; !ok || ts.After(existing) {
				tombstones[r.Path] = ts
			}
		}
	}
	return live, tombstones, nil
}
