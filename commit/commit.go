// Package commit implements the Commit Protocol (§4.5): conditional append
// of a new log version, conflict detection and classification, and a
// bounded retry loop with exponential backoff. Grounded on the teacher's
// db.go transaction bookkeeping (begin/commit watermark, waiting pool for
// out-of-order completions), generalized here from an in-process tx counter
// to a protocol whose source of truth is the object store's conditional
// write.
package commit

import (
	"context"
	"errors"
	"time"

	gokitlog "github.com/go-kit/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/deltakernel/deltakernel/action"
	"github.com/deltakernel/deltakernel/errs"
	"github.com/deltakernel/deltakernel/log"
	"github.com/deltakernel/deltakernel/storage"
)

// Protocol drives the commit loop for one table.
type Protocol struct {
	backend   storage.Backend
	tablePath string
	engine    *log.Engine
	backoff   errs.BackoffConfig
	logger    gokitlog.Logger

	// group serializes concurrent commit attempts from this process onto a
	// single retry loop per table, the process-local half of §5's "write
	// lock"; cross-process exclusion still rests entirely on WriteConditional.
	group singleflight.Group

	lastKnownVersion atomic.Int64

	// metrics is nil unless WithRegisterer is passed; every call site guards
	// on this before touching it.
	metrics *metrics
	tracer  trace.Tracer
}

func New(backend storage.Backend, tablePath string, engine *log.Engine, logger gokitlog.Logger, opts ...Option) *Protocol {
	if logger == nil {
		logger = gokitlog.NewNopLogger()
	}
	p := &Protocol{backend: backend, tablePath: tablePath, engine: engine, backoff: errs.DefaultBackoff(), logger: logger, tracer: trace.NewNoopTracerProvider().Tracer("")}
	p.lastKnownVersion.Store(-1)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Proposal is a caller's set of actions to commit, plus the version they
// were computed against (the read version).
type Proposal struct {
	ReadVersion int64
	Actions     []action.Action
	Operation   string
}

// Result is what a successful commit produced.
type Result struct {
	Version   int64
	Timestamp int64
	Snapshot  *log.Snapshot
}

// Commit appends p's actions as the next version, retrying on resolvable
// conflicts (§4.5). Concurrent callers within this process for the same
// table path are coalesced onto one in-flight attempt via singleflight,
// still retrying internally if the pending proposal's actions don't apply
// cleanly against what the coalesced caller observes.
func (p *Protocol) Commit(ctx context.Context, proposal Proposal) (*Result, error) {
	ctx, span := p.tracer.Start(ctx, "Commit/Commit")
	span.SetAttributes(
		attribute.Int64("readVersion", proposal.ReadVersion),
		attribute.Int("actions", len(proposal.Actions)),
		attribute.String("operation", proposal.Operation),
	)
	defer span.End()

	v, err, _ := p.group.Do(p.tablePath, func() (any, error) {
		return p.commitWithRetry(ctx, proposal)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Result), nil
}

func (p *Protocol) commitWithRetry(ctx context.Context, proposal Proposal) (*Result, error) {
	start := time.Now()
	var result *Result
	err := errs.Retry(ctx, p.logger, p.backoff, "commit", func(attempt int) error {
		if p.metrics != nil {
			p.metrics.attempted.Inc()
			if attempt > 0 {
				p.metrics.retries.Inc()
			}
		}
		r, err := p.tryCommit(ctx, proposal)
		if err != nil {
			if p.metrics != nil {
				var e *errs.Error
				if errors.As(err, &e) && e.Kind == errs.KindConflict {
					p.metrics.conflicted.Inc()
				}
			}
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p.metrics != nil {
		p.metrics.succeeded.Inc()
		p.metrics.commitLatency.Observe(time.Since(start).Seconds())
	}
	return result, nil
}

// tryCommit makes one attempt: read the current snapshot, validate the
// proposal against it, and WriteConditional the next version.
func (p *Protocol) tryCommit(ctx context.Context, proposal Proposal) (*Result, error) {
	current, err := p.engine.ReadLatest(ctx)
	if err != nil {
		return nil, err
	}

	if current.Version != proposal.ReadVersion {
		if err := classifyConflict(current, proposal); err != nil {
			return nil, err
		}
	}

	nextVersion := current.Version + 1
	commitInfo := action.CommitInfo{
		Timestamp:     time.Now().UnixNano(),
		Operation:     proposal.Operation,
		ReadVersion:   proposal.ReadVersion,
		IsBlindAppend: isBlindAppend(proposal.Actions),
	}
	actions := append(append([]action.Action{}, proposal.Actions...), action.Action{CommitInfo: &commitInfo})

	for _, a := range actions {
		if err := a.Validate(); err != nil {
			return nil, err
		}
	}

	body, err := action.EncodeCommit(actions)
	if err != nil {
		return nil, err
	}
	commitPath, err := action.CommitPath(nextVersion)
	if err != nil {
		return nil, err
	}

	if _, err := p.backend.WriteConditional(ctx, p.tablePath+"/"+commitPath, body, ""); err != nil {
		if errs.IsRetryable(err) {
			return nil, err
		}
		return nil, errs.Wrap(errs.KindStorage, err, "write commit "+commitPath)
	}

	p.lastKnownVersion.Store(nextVersion)
	newSnap, err := p.engine.ReadVersion(ctx, nextVersion)
	if err != nil {
		return nil, err
	}
	return &Result{Version: nextVersion, Timestamp: commitInfo.Timestamp, Snapshot: newSnap}, nil
}

func isBlindAppend(actions []action.Action) bool {
	for _, a := range actions {
		if a.Remove != nil {
			return false
		}
	}
	return true
}

// classifyConflict implements §4.5's retry-eligibility rules: a concurrent
// winning commit is inspected against the pending proposal's own actions.
func classifyConflict(current *log.Snapshot, proposal Proposal) error {
	var pendingRemoves, pendingMetaProtocol bool
	for _, a := range proposal.Actions {
		if a.Remove != nil {
			pendingRemoves = true
		}
		if a.Metadata != nil || a.Protocol != nil {
			pendingMetaProtocol = true
		}
	}

	if pendingMetaProtocol {
		return fatalConflict(proposal.ReadVersion, current.Version)
	}

	if pendingRemoves {
		for _, a := range proposal.Actions {
			if a.Remove == nil {
				continue
			}
			if _, stillLive := findAdd(current, a.Remove.Path); !stillLive {
				// The file this proposal wants to remove was already removed
				// (or never existed) in the winning commit: an overlapping
				// remove set, per §4.5 "fail with a concurrency error".
				return fatalConflict(proposal.ReadVersion, current.Version)
			}
		}
	}

	// add-only append over a concurrent add-only append: always retry.
	return nil
}

// fatalConflict builds a commit conflict for the two §4.5 cases
// ("overlapping removes", "metadata/protocol change") that must fail
// outright rather than feed the retry loop.
func fatalConflict(expected, actual int64) error {
	return errs.Conflict(formatVersion(expected), formatVersion(actual))
}

func findAdd(snap *log.Snapshot, path string) (action.Add, bool) {
	for _, a := range snap.Files() {
		if a.Path == path {
			return a, true
		}
	}
	return action.Add{}, false
}

func formatVersion(v int64) string {
	s, err := action.FormatVersion(v)
	if err != nil {
		return ""
	}
	return s
}
