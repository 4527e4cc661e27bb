// metrics.go - Prometheus metrics for the daemon.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"veil/internal/errdefs"
)

const namespace = "veil"

// Metrics owns a private registry so tests and multiple services do not collide.
type Metrics struct {
	registry *prometheus.Registry

	operations  *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	spent       *prometheus.GaugeVec
	threatLevel prometheus.Gauge
	vaults      *prometheus.GaugeVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Protocol operations by result.",
		}, []string{"op", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Protocol operation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{"op"}),
		spent: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "spent_entries",
			Help:      "Entries in each ledger set.",
		}, []string{"kind"}),
		threatLevel: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "threat_level",
			Help:      "Current threat level (0 normal .. 3 critical).",
		}),
		vaults: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vaults",
			Help:      "Registered vaults by status.",
		}, []string{"state"}),
	}
	m.registry.MustRegister(
		m.operations, m.duration, m.spent, m.threatLevel, m.vaults,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Result returns the result label for err: "ok" or the error kind.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	return errdefs.KindOf(err).String()
}

// ObserveOperation counts one operation and records its latency.
func (m *Metrics) ObserveOperation(op string, err error, elapsed time.Duration) {
	m.operations.WithLabelValues(op, Result(err)).Inc()
	m.duration.WithLabelValues(op).Observe(elapsed.Seconds())
}

func (m *Metrics) SetSpentEntries(kind string, n int) {
	m.spent.WithLabelValues(kind).Set(float64(n))
}

func (m *Metrics) SetThreatLevel(level uint8) {
	m.threatLevel.Set(float64(level))
}

func (m *Metrics) SetVaults(state string, n int) {
	m.vaults.WithLabelValues(state).Set(float64(n))
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
