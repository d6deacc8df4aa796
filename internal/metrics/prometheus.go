package metrics

import (
	"errors"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/arloliu/fleet/types"
)

// PrometheusCollector implements types.MetricsCollector backed by Prometheus.
//
// Metric registration is deferred until first use so constructing the
// collector never panics on duplicate registration in tests.
type PrometheusCollector struct {
	reg       prometheus.Registerer
	namespace string
	once      sync.Once

	registrations     *prometheus.CounterVec
	heartbeats        prometheus.Counter
	workersTotal      prometheus.Gauge
	workersReady      prometheus.Gauge
	assignmentChanges *prometheus.CounterVec
	placementFailures prometheus.Counter
	staleWorkers      prometheus.Counter
	rebalanceMoves    prometheus.Counter
	rebalanceDuration prometheus.Histogram
}

// Compile-time assertion that PrometheusCollector implements MetricsCollector.
var _ types.MetricsCollector = (*PrometheusCollector)(nil)

// NewPrometheus creates a new Prometheus-backed metrics collector.
//
// Parameters:
//   - reg: Prometheus registerer (uses prometheus.DefaultRegisterer if nil)
//   - namespace: Metrics namespace (defaults to "fleet" if empty)
//
// Returns:
//   - *PrometheusCollector: A MetricsCollector implementation using Prometheus
func NewPrometheus(reg prometheus.Registerer, namespace string) *PrometheusCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "fleet"
	}

	return &PrometheusCollector{reg: reg, namespace: namespace}
}

func (p *PrometheusCollector) ensureRegistered() {
	p.once.Do(func() {
		p.registrations = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "registrations_total",
			Help:      "Total worker registrations by pool.",
		}, []string{"pool"})

		p.heartbeats = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "heartbeats_total",
			Help:      "Total worker heartbeats processed.",
		})

		p.workersTotal = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "workers_total",
			Help:      "Current number of registered workers.",
		})

		p.workersReady = prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: p.namespace,
			Subsystem: "registry",
			Name:      "workers_ready",
			Help:      "Current number of READY workers.",
		})

		p.assignmentChanges = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "placement",
			Name:      "assignment_changes_total",
			Help:      "Total assignment changes by type (CREATED, DELETED).",
		}, []string{"change"})

		p.placementFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "placement",
			Name:      "failures_total",
			Help:      "Total placements that found no available worker.",
		})

		p.staleWorkers = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "health",
			Name:      "stale_workers_total",
			Help:      "Total workers marked OFFLINE by the health monitor.",
		})

		p.rebalanceMoves = prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "moves_total",
			Help:      "Total assignments moved by the rebalancer.",
		})

		p.rebalanceDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: p.namespace,
			Subsystem: "rebalance",
			Name:      "duration_seconds",
			Help:      "Duration of rebalance passes in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms .. ~10s
		})

		collectors := []prometheus.Collector{
			p.registrations, p.heartbeats, p.workersTotal, p.workersReady,
			p.assignmentChanges, p.placementFailures, p.staleWorkers,
			p.rebalanceMoves, p.rebalanceDuration,
		}
		for _, c := range collectors {
			// A duplicate registration (possible when tests build several
			// collectors against the default registerer) is benign.
			var are prometheus.AlreadyRegisteredError
			if err := p.reg.Register(c); err != nil && !errors.As(err, &are) {
				continue
			}
		}
	})
}

// RecordRegistration increments the registration counter for the pool.
func (p *PrometheusCollector) RecordRegistration(pool string) {
	p.ensureRegistered()
	p.registrations.WithLabelValues(pool).Inc()
}

// RecordHeartbeat increments the heartbeat counter.
func (p *PrometheusCollector) RecordHeartbeat(_ /* workerID */ string) {
	p.ensureRegistered()
	p.heartbeats.Inc()
}

// SetWorkerCounts sets the worker count gauges.
func (p *PrometheusCollector) SetWorkerCounts(total, ready int) {
	p.ensureRegistered()
	p.workersTotal.Set(float64(total))
	p.workersReady.Set(float64(ready))
}

// RecordAssignmentChange increments the assignment change counter.
func (p *PrometheusCollector) RecordAssignmentChange(change types.ChangeType) {
	p.ensureRegistered()
	p.assignmentChanges.WithLabelValues(string(change)).Inc()
}

// RecordPlacementFailure increments the placement failure counter.
func (p *PrometheusCollector) RecordPlacementFailure() {
	p.ensureRegistered()
	p.placementFailures.Inc()
}

// RecordStaleWorker increments the stale worker counter.
func (p *PrometheusCollector) RecordStaleWorker() {
	p.ensureRegistered()
	p.staleWorkers.Inc()
}

// RecordRebalance records the moves and duration of a rebalance pass.
func (p *PrometheusCollector) RecordRebalance(moves int, seconds float64) {
	p.ensureRegistered()
	p.rebalanceMoves.Add(float64(moves))
	p.rebalanceDuration.Observe(seconds)
}
