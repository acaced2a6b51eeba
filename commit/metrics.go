package commit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel/trace"
)

// metrics tracks one table's commit activity, mirroring the teacher's
// tableMetrics struct in table.go (per-table counters and histograms
// registered via promauto.With(reg)).
type metrics struct {
	attempted     prometheus.Counter
	succeeded     prometheus.Counter
	conflicted    prometheus.Counter
	retries       prometheus.Counter
	commitLatency prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, tablePath string) *metrics {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"table": tablePath}, reg)
	return &metrics{
		attempted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_commits_attempted_total",
			Help: "Number of commit attempts (including retries).",
		}),
		succeeded: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_commits_succeeded_total",
			Help: "Number of commits that landed successfully.",
		}),
		conflicted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_commits_conflicted_total",
			Help: "Number of commits that failed with a fatal conflict (§4.5).",
		}),
		retries: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_commit_retries_total",
			Help: "Number of retried commit attempts after a transient conflict.",
		}),
		commitLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "deltakernel_commit_latency_seconds",
			Help:    "Wall-clock latency of a successful Commit call.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}
}

// Option configures a Protocol beyond its required constructor arguments.
type Option func(*Protocol)

// WithRegisterer registers this table's commit metrics against reg. Without
// it, Protocol runs with metrics disabled (nil-safe throughout).
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(p *Protocol) {
		if reg != nil {
			p.metrics = newMetrics(reg, p.tablePath)
		}
	}
}

// WithTracer spans each Commit call, mirroring frostdb's table.go
// tracer.Start/SetAttributes/defer span.End() convention. Without it,
// Protocol runs against a no-op tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(p *Protocol) {
		if tracer != nil {
			p.tracer = tracer
		}
	}
}
