// Package metrics exposes the sidecar's own health as Prometheus gauges
// and counters — cache hit/miss, queue depth, supervisor state — on the
// /metrics endpoint, grounded on jordigilh-kubernaut's
// prometheus.NewRegistry()-per-component style rather than the default
// global registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every counter/gauge the sidecar publishes.
type Metrics struct {
	registry *prometheus.Registry

	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	QueueDepth     prometheus.Gauge
	QueueFailed    prometheus.Gauge
	SupervisorState *prometheus.GaugeVec
	ToolCalls      *prometheus.CounterVec
}

// New builds a fresh Metrics with its own registry (spec's Non-goals don't
// name metrics, so this is ambient, not a feature).
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sidecar", Subsystem: "cache", Name: "hits_total",
			Help: "Cache reads served from the local store.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sidecar", Subsystem: "cache", Name: "misses_total",
			Help: "Cache reads that fell through to the upstream.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sidecar", Subsystem: "queue", Name: "pending",
			Help: "Rows currently awaiting replay.",
		}),
		QueueFailed: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "sidecar", Subsystem: "queue", Name: "failed",
			Help: "Rows that exhausted their retry budget.",
		}),
		SupervisorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "sidecar", Subsystem: "connection", Name: "state",
			Help: "1 for the currently active ConnectionSupervisor state, 0 otherwise.",
		}, []string{"state"}),
		ToolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sidecar", Subsystem: "dispatch", Name: "tool_calls_total",
			Help: "Tool calls by name and outcome source.",
		}, []string{"tool", "source"}),
	}

	reg.MustRegister(m.CacheHits, m.CacheMisses, m.QueueDepth, m.QueueFailed, m.SupervisorState, m.ToolCalls)
	return m
}

// Handler returns the /metrics HTTP handler for this Metrics' registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStateChange zeroes every known state's gauge and sets only to's to
// 1, so scraping mid-transition never reports two active states. from is
// accepted so this matches connection.Events.OnStateChange's signature when
// adapted with a small closure; it is otherwise unused.
func (m *Metrics) ObserveStateChange(from, to string) {
	m.SupervisorState.Reset()
	m.SupervisorState.WithLabelValues(to).Set(1)
}
