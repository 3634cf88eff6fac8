// Package metrics exposes Prometheus instrumentation for the prediction loop.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the loop's collectors. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	cycles         *prometheus.CounterVec
	fetchErrors    *prometheus.CounterVec
	fetchDuration  prometheus.Histogram
	events         *prometheus.CounterVec
	alerts         *prometheus.CounterVec
	notifyFailures prometheus.Counter
	recordFailures prometheus.Counter
	historySize    prometheus.Gauge
	running        prometheus.Gauge
}

// New registers all collectors with reg
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		// cycles counts loop iterations by outcome (accepted, duplicate, error)
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gas_monitor_cycles_total",
			Help: "Prediction loop cycles by outcome",
		}, []string{"outcome"}),

		fetchErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gas_monitor_fetch_errors_total",
			Help: "Feed fetch failures by kind",
		}, []string{"kind"}),

		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gas_monitor_fetch_duration_seconds",
			Help:    "Feed fetch latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 10), // 10ms to ~5s
		}),

		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gas_monitor_events_total",
			Help: "Classified events by level",
		}, []string{"level"}),

		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gas_monitor_alerts_total",
			Help: "Alerts raised by level",
		}, []string{"level"}),

		notifyFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gas_monitor_notification_failures_total",
			Help: "Alerts where at least one channel failed",
		}),

		recordFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "gas_monitor_record_failures_total",
			Help: "Events that could not be persisted or published",
		}),

		historySize: f.NewGauge(prometheus.GaugeOpts{
			Name: "gas_monitor_history_size",
			Help: "Events currently held in the history",
		}),

		running: f.NewGauge(prometheus.GaugeOpts{
			Name: "gas_monitor_loop_running",
			Help: "1 while the automatic prediction loop is running",
		}),
	}
}

func (m *Metrics) Cycle(outcome string) {
	if m == nil {
		return
	}
	m.cycles.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FetchError(kind string) {
	if m == nil {
		return
	}
	m.fetchErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
}

func (m *Metrics) Event(level string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(level).Inc()
}

func (m *Metrics) Alert(level string) {
	if m == nil {
		return
	}
	m.alerts.WithLabelValues(level).Inc()
}

func (m *Metrics) NotifyFailure() {
	if m == nil {
		return
	}
	m.notifyFailures.Inc()
}

func (m *Metrics) RecordFailure() {
	if m == nil {
		return
	}
	m.recordFailures.Inc()
}

func (m *Metrics) SetHistorySize(n int) {
	if m == nil {
		return
	}
	m.historySize.Set(float64(n))
}

func (m *Metrics) SetRunning(running bool) {
	if m == nil {
		return
	}
	if running {
		m.running.Set(1)
	} else {
		m.running.Set(0)
	}
}
