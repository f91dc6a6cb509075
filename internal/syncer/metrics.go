package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes sync engine counters. The aggregate sync-health surface
// is what the UI observes; these feed dashboards.
type Metrics struct {
	AttemptsTotal *prometheus.CounterVec
	DrainDuration prometheus.Histogram
	QueueDepth    prometheus.Gauge
	TerminalDepth prometheus.Gauge
}

// NewMetrics builds and registers the engine metrics. A nil registerer
// skips registration (tests).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_attempts_total",
			Help: "Sync dispatch attempts by outcome.",
		}, []string{"entity", "outcome"}),
		DrainDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sync_drain_duration_seconds",
			Help:    "Duration of queue drain cycles.",
			Buckets: prometheus.DefBuckets,
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_queue_depth",
			Help: "Pending (retryable) sync queue entries.",
		}),
		TerminalDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sync_queue_terminal",
			Help: "Queue entries parked with a terminal error.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.AttemptsTotal, m.DrainDuration, m.QueueDepth, m.TerminalDepth)
	}
	return m
}
