package cdc

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics tracks one table's CDC activity, mirroring the teacher's
// tableMetrics struct (table.go) registered per table via promauto.With(reg).
type metrics struct {
	recordsEmitted  prometheus.Counter
	subscriberLag   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer, tablePath string) *metrics {
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"table": tablePath}, reg)
	return &metrics{
		recordsEmitted: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "deltakernel_cdc_records_emitted_total",
			Help: "Number of CDC records emitted for committed versions.",
		}),
		subscriberLag: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "deltakernel_cdc_subscriber_lag_versions",
			Help: "Versions between a subscription's last-polled version and the table's latest version.",
		}),
	}
}

// WithRegisterer enables metrics on a Producer, wiring recordsEmitted
// against reg.
func (p *Producer) WithRegisterer(reg prometheus.Registerer) *Producer {
	if reg != nil {
		p.metrics = newMetrics(reg, p.tablePath)
	}
	return p
}

// WithRegisterer enables metrics on a Reader's Subscribe loops, wiring
// subscriberLag against reg.
func (r *Reader) WithRegisterer(reg prometheus.Registerer) *Reader {
	if reg != nil {
		r.metrics = newMetrics(reg, r.tablePath)
	}
	return r
}
