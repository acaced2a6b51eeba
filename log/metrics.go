package log

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks one table's checkpoint activity, mirroring the teacher's
// tableMetrics struct (table.go) registered per table via promauto.With(reg).
type metrics struct {
	checkpointSize     prometheus.Histogram
	checkpointDuration prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer, tablePath string) *metrics {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"table": tablePath}, reg)
	return &metrics{
		checkpointSize: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "deltakernel_checkpoint_size_bytes",
			Help:    "Size in bytes of written checkpoint files.",
			Buckets: prometheus.ExponentialBuckets(1<<10, 4, 10),
		}),
		checkpointDuration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "deltakernel_checkpoint_duration_seconds",
			Help:    "Wall-clock time spent writing a checkpoint.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		}),
	}
}
