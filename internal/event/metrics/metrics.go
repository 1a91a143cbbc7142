package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the event queue and the
// orchestrator's processing cycles. A nil *Metrics is a no-op, so tests can
// skip registration entirely.
type Metrics struct {
	EventsReceived  prometheus.Counter
	EventsProcessed prometheus.Counter
	EventsFailed    prometheus.Counter
	EventsRequeued  prometheus.Counter
	EventsCleaned   prometheus.Counter
	CyclesTotal     prometheus.Counter
	CycleDuration   prometheus.Histogram
	QueueDepth      prometheus.Gauge
}

// New creates and registers all queue metrics.
func New() *Metrics {
	return &Metrics{
		EventsReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriq_events_received_total",
			Help: "Total number of events accepted by the ingestion endpoint",
		}),
		EventsProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriq_events_processed_total",
			Help: "Total number of events verified successfully",
		}),
		EventsFailed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriq_events_failed_total",
			Help: "Total number of events that failed verification or conversion",
		}),
		EventsRequeued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriq_events_requeued_total",
			Help: "Total number of stale processing events reverted for retry",
		}),
		EventsCleaned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriq_events_cleaned_total",
			Help: "Total number of terminal events removed by retention cleanup",
		}),
		CyclesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "veriq_processing_cycles_total",
			Help: "Total number of processing cycles executed",
		}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "veriq_processing_cycle_duration_seconds",
			Help:    "Wall-clock duration of processing cycles",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "veriq_queue_depth",
			Help: "Current number of events eligible for claiming",
		}),
	}
}

func (m *Metrics) IncrementReceived() {
	if m == nil {
		return
	}
	m.EventsReceived.Inc()
}

func (m *Metrics) IncrementProcessed() {
	if m == nil {
		return
	}
	m.EventsProcessed.Inc()
}

func (m *Metrics) IncrementFailed() {
	if m == nil {
		return
	}
	m.EventsFailed.Inc()
}

func (m *Metrics) AddRequeued(n int64) {
	if m == nil {
		return
	}
	m.EventsRequeued.Add(float64(n))
}

func (m *Metrics) AddCleaned(n int64) {
	if m == nil {
		return
	}
	m.EventsCleaned.Add(float64(n))
}

func (m *Metrics) ObserveCycle(seconds float64) {
	if m == nil {
		return
	}
	m.CyclesTotal.Inc()
	m.CycleDuration.Observe(seconds)
}

func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}
