package optimize

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks one table's optimize activity, mirroring the teacher's
// tableMetrics struct (table.go) registered per table via promauto.With(reg).
type metrics struct {
	filesIn     prometheus.Counter
	filesOut    prometheus.Counter
	rowsDropped prometheus.Counter
}

func newMetrics(reg prometheus.Registerer, tablePath string) *metrics {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"table": tablePath}, reg)
	return &metrics{
		filesIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_optimize_files_in_total",
			Help: "Number of files read as input to compaction/dedup/clustering.",
		}),
		filesOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_optimize_files_out_total",
			Help: "Number of files written as output of compaction/dedup/clustering.",
		}),
		rowsDropped: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_optimize_rows_dropped_total",
			Help: "Number of rows dropped by deduplication.",
		}),
	}
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithRegisterer wires this optimizer's files-in/files-out/rows-dropped
// metrics into reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Optimizer) {
		if reg != nil {
			o.metrics = newMetrics(reg, o.tbl.TablePath())
		}
	}
}
