// Package log implements the Log & Snapshot Engine (§4.4): replaying the
// object-store action log into an in-memory snapshot, deciding when to
// checkpoint, and writing/reading checkpoint files. Grounded on the
// teacher's snapshot.go, which reconstructs database state by scanning a
// directory of versioned files in reverse and replaying them into memory;
// this package replays forward instead (checkpoint then deltas, per §4.4),
// since the log here lives as an ordered object-store prefix rather than a
// locally numbered directory, but keeps the teacher's "newest first, fall
// back on corruption" resilience idea for locating `_last_checkpoint`.
package log

import (
	"context"
	"encoding/json"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/btree"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/exp/slices"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/storage"
)

// Snapshot is the materialized state of a table at a given version (§4.4).
type Snapshot struct {
	Version  int64
	Protocol action.Protocol
	Metadata action.Metadata

	// files indexes live `add` entries by path in a btree for ordered
	// iteration (used by compaction/vacuum listing), mirroring the
	// teacher's granule btree index.
	files *btree.BTreeG[fileEntry]
}

type fileEntry struct {
	path string
	add  action.Add
}

func lessFileEntry(a, b fileEntry) bool { return a.path < b.path }

// Files returns the snapshot's live add actions, ordered by path.
func (s *Snapshot) Files() []action.Add {
	out := make([]action.Add, 0, s.files.Len())
	s.files.Ascend(func(e fileEntry) bool {
		out = append(out, e.add)
		return true
	})
	return out
}

// FileCount reports the number of live files without materializing them.
func (s *Snapshot) FileCount() int { return s.files.Len() }

// Engine replays and checkpoints a single table's log.
type Engine struct {
	backend   storage.Backend
	tablePath string
	logger    log.Logger

	checkpointInterval      int64
	maxActionsPerCheckpoint int64
	numRetainedCheckpoints  int
	checkpointRetentionMs   int64

	metrics *metrics
}

// Option configures an Engine, following the teacher's functional-options
// constructors (e.g. table.go's TableConfig builder).
type Option func(*Engine)

func WithCheckpointInterval(n int64) Option {
	return func(e *Engine) { e.checkpointInterval = n }
}

func WithMaxActionsPerCheckpoint(n int64) Option {
	return func(e *Engine) { e.maxActionsPerCheckpoint = n }
}

func WithNumRetainedCheckpoints(n int) Option {
	return func(e *Engine) { e.numRetainedCheckpoints = n }
}

func WithCheckpointRetentionMs(ms int64) Option {
	return func(e *Engine) { e.checkpointRetentionMs = ms }
}

func WithLogger(logger log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithRegisterer registers checkpoint size/duration metrics against reg,
// mirroring the teacher's per-table prometheus.WrapRegistererWith (db.go).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		if reg != nil {
			e.metrics = newMetrics(reg, e.tablePath)
		}
	}
}

// New constructs a log Engine for one table rooted at tablePath.
func New(backend storage.Backend, tablePath string, opts ...Option) *Engine {
	e := &Engine{
		backend:                 backend,
		tablePath:               tablePath,
		logger:                  log.NewNopLogger(),
		checkpointInterval:      10,
		maxActionsPerCheckpoint: 100_000,
		numRetainedCheckpoints:  2,
		checkpointRetentionMs:   7 * 24 * 3600 * 1000,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) path(rel string) string {
	return strings.TrimSuffix(e.tablePath, "/") + "/" + rel
}

// ReadVersion replays the log up to and including version v (§4.4
// "Replay"): load the checkpoint named by `_last_checkpoint` if it is at or
// below v, then apply each delta file in (checkpoint.version, v] in order.
func (e *Engine) ReadVersion(ctx context.Context, v int64) (*Snapshot, error) {
	checkpointVersion, snap, err := e.loadNearestCheckpoint(ctx, v)
	if err != nil {
		return nil, err
	}

	for n := checkpointVersion + 1; n <= v; n++ {
		commitPath, err := action.CommitPath(n)
		if err != nil {
			return nil, err
		}
		body, err := e.backend.Read(ctx, e.path(commitPath))
		if err != nil {
			return nil, errs.Wrap(errs.KindStorage, err, "read commit "+commitPath)
		}
		for _, line := range action.DecodeCommit(body) {
			if line.Err != nil {
				return nil, errs.Wrap(errs.KindValidation, line.Err, "decode commit "+commitPath)
			}
			applyAction(snap, line.Action)
		}
		snap.Version = n
	}
	return snap, nil
}

// ReadLatest discovers the current version by listing `_delta_log` and
// taking the highest commit version present, then replays up to it.
func (e *Engine) ReadLatest(ctx context.Context) (*Snapshot, error) {
	latest, err := e.latestVersion(ctx)
	if err != nil {
		return nil, err
	}
	if latest < 0 {
		return &Snapshot{Version: -1, files: btree.NewG(32, lessFileEntry)}, nil
	}
	return e.ReadVersion(ctx, latest)
}

// latestVersion lists the log prefix and returns the highest commit version
// present, or -1 if the table has no commits yet.
func (e *Engine) latestVersion(ctx context.Context) (int64, error) {
	names, err := e.backend.List(ctx, e.path("_delta_log"))
	if err != nil {
		return 0, err
	}
	var versions []int64
	for _, name := range names {
		base := name[strings.LastIndex(name, "/")+1:]
		if !strings.HasSuffix(base, ".json") {
			continue
		}
		numStr := strings.TrimSuffix(base, ".json")
		n, err := strconv.ParseInt(numStr, 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, n)
	}
	if len(versions) == 0 {
		return -1, nil
	}
	return slices.Max(versions), nil
}

// loadNearestCheckpoint returns the version and partially materialized
// snapshot of the checkpoint `_last_checkpoint` points to, when its version
// is at or below v; otherwise it returns (-1, empty). Older checkpoints are
// not searched, and a missing or corrupt checkpoint file also yields
// (-1, empty).
func (e *Engine) loadNearestCheckpoint(ctx context.Context, v int64) (int64, *Snapshot, error) {
	empty := &Snapshot{Version: -1, files: btree.NewG(32, lessFileEntry)}

	data, err := e.backend.Read(ctx, e.path(action.LastCheckpointPath))
	if err != nil {
		if errs.IsNotFound(err) {
			return -1, empty, nil
		}
		return -1, empty, err
	}

	var lastCheckpoint action.LastCheckpoint
	if err := json.Unmarshal(data, &lastCheckpoint); err != nil {
		return -1, empty, errs.Wrap(errs.KindValidation, err, "decode _last_checkpoint")
	}
	if lastCheckpoint.Version > v {
		return -1, empty, nil
	}

	checkpointPath, err := action.CheckpointPath(lastCheckpoint.Version)
	if err != nil {
		return -1, empty, err
	}
	body, err := e.backend.Read(ctx, e.path(checkpointPath))
	if err != nil {
		level.Warn(e.logger).Log("msg", "checkpoint pointer present but file missing, falling back to full replay", "version", lastCheckpoint.Version, "err", err)
		return -1, empty, nil
	}

	snap, err := decodeCheckpoint(body)
	if err != nil {
		level.Warn(e.logger).Log("msg", "checkpoint corrupt, falling back to full replay", "version", lastCheckpoint.Version, "err", err)
		return -1, empty, nil
	}
	snap.Version = lastCheckpoint.Version
	return lastCheckpoint.Version, snap, nil
}

// applyAction folds one action into snap per §4.4's tie-break rule: the last
// protocol/metadata in a commit wins, add inserts, remove deletes.
func applyAction(snap *Snapshot, a action.Action) {
	switch {
	case a.Protocol != nil:
		snap.Protocol = *a.Protocol
	case a.Metadata != nil:
		snap.Metadata = *a.Metadata
	case a.Add != nil:
		snap.files.ReplaceOrInsert(fileEntry{path: a.Add.Path, add: *a.Add})
	case a.Remove != nil:
		snap.files.Delete(fileEntry{path: a.Remove.Path})
	}
}

// ExtractPartitionValuesFromPath parses `col=val/` Hive-style segments from a
// data file's path (§4.4 "Partition-value path decoding"), applying a single
// URL-decode pass per segment.
func ExtractPartitionValuesFromPath(path string) (map[string]string, error) {
	out := map[string]string{}
	segments := strings.Split(path, "/")
	for _, seg := range segments {
		eq := strings.Index(seg, "=")
		if eq < 0 {
			continue
		}
		key := seg[:eq]
		val := seg[eq+1:]
		decodedKey, err := url.QueryUnescape(key)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "decode partition key")
		}
		decodedVal, err := url.QueryUnescape(val)
		if err != nil {
			return nil, errs.Wrap(errs.KindValidation, err, "decode partition value")
		}
		out[decodedKey] = decodedVal
	}
	return out, nil
}
