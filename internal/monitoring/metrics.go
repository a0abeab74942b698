// Package monitoring exposes hotspot engine metrics to Prometheus and runs
// a background checker that posts webhook alerts when the failure rate or
// point store health crosses configured thresholds.
package monitoring

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/hotspots/internal/resilience"
)

const namespace = "hotspots"

// Metrics records engine runs on its own registry. It satisfies
// hotspot.Observer and is safe for concurrent use.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	failures *prometheus.CounterVec
	duration *prometheus.HistogramVec
	points   *prometheus.HistogramVec
	rows     *prometheus.CounterVec
	storeUp  prometheus.Gauge
	circuit  prometheus.Gauge

	completed atomic.Int64
	failed    atomic.Int64
}

// NewMetrics registers the hotspot metric families on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Completed hotspot computations by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Failed hotspot computations by kind and retryability.",
		}, []string{"kind", "retryable"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a hotspot computation including point fetch.",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"kind"}),
		points: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_points",
			Help:      "Points considered per hotspot computation.",
			Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
		}, []string{"kind"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_total",
			Help:      "Clusters or grid cells returned.",
		}, []string{"kind"}),
		storeUp: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_up",
			Help:      "1 when the last point store ping succeeded.",
		}),
		circuit: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "store_circuit_state",
			Help:      "Point store circuit breaker state: 0 closed, 1 open, 2 half-open.",
		}),
	}
	m.registry.MustRegister(m.runs, m.failures, m.duration, m.points, m.rows, m.storeUp, m.circuit)
	return m
}

// RunCompleted records one successful computation.
func (m *Metrics) RunCompleted(kind string, points, rows int, elapsed time.Duration) {
	m.runs.WithLabelValues(kind).Inc()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())
	m.points.WithLabelValues(kind).Observe(float64(points))
	m.rows.WithLabelValues(kind).Add(float64(rows))
	m.completed.Add(1)
}

// RequestFailed records one failed computation.
func (m *Metrics) RequestFailed(kind string, retryable bool) {
	m.failures.WithLabelValues(kind, strconv.FormatBool(retryable)).Inc()
	m.failed.Add(1)
}

// SetStoreUp records the outcome of a store health probe.
func (m *Metrics) SetStoreUp(up bool) {
	if up {
		m.storeUp.Set(1)
		return
	}
	m.storeUp.Set(0)
}

// SetCircuitState mirrors the point store breaker. It is meant to be wired
// as the breaker's OnStateChange callback.
func (m *Metrics) SetCircuitState(s resilience.CircuitState) {
	m.circuit.Set(float64(s))
}

// Totals returns the lifetime completed and failed computation counts.
func (m *Metrics) Totals() (completed, failed int64) {
	return m.completed.Load(), m.failed.Load()
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
