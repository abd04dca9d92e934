package pool

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/viant/taskpool/internal/clock"
)

// rateAlpha is the smoothing factor for the exponential moving averages.
const rateAlpha = 0.2

// Snapshot is a read-only view of the pool's rolling counters.
type Snapshot struct {
	UtilizationRate float64
	AllocationRate  float64
	ReleaseRate     float64
	FailureRate     float64
	AverageLatency  time.Duration
}

// Metrics keeps the pool's rolling counters with exponential smoothing and
// optionally exports them through Prometheus collectors.
type Metrics struct {
	mu sync.Mutex

	utilizationRate float64
	allocationRate  float64
	releaseRate     float64
	failureRate     float64
	averageLatency  time.Duration

	lastAllocationAt time.Time
	lastReleaseAt    time.Time
	lastFailureAt    time.Time

	allocationsTotal prometheus.Counter
	releasesTotal    prometheus.Counter
	failuresTotal    prometheus.Counter
	utilizationGauge prometheus.Gauge
	latencySeconds   prometheus.Histogram
}

// NewMetrics creates pool metrics. When registerer is non-nil the Prometheus
// collectors are registered on it.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		allocationsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskpool", Subsystem: "pool", Name: "allocations_total",
			Help: "Total successful resource allocations.",
		}),
		releasesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskpool", Subsystem: "pool", Name: "releases_total",
			Help: "Total resource releases.",
		}),
		failuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "taskpool", Subsystem: "pool", Name: "failures_total",
			Help: "Total failed allocation attempts.",
		}),
		utilizationGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "taskpool", Subsystem: "pool", Name: "utilization",
			Help: "Pool-wide utilization of non-stale resources.",
		}),
		latencySeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "taskpool", Subsystem: "pool", Name: "allocation_latency_seconds",
			Help:    "Allocation latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	if registerer != nil {
		registerer.MustRegister(m.allocationsTotal, m.releasesTotal, m.failuresTotal, m.utilizationGauge, m.latencySeconds)
	}
	return m
}

// RecordAllocation folds a successful allocation into the rolling counters.
func (m *Metrics) RecordAllocation(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := clock.Now()
	m.allocationRate = smoothRate(m.allocationRate, m.lastAllocationAt, now)
	m.lastAllocationAt = now
	if m.averageLatency == 0 {
		m.averageLatency = latency
	} else {
		m.averageLatency = time.Duration(rateAlpha*float64(latency) + (1-rateAlpha)*float64(m.averageLatency))
	}
	m.allocationsTotal.Inc()
	m.latencySeconds.Observe(latency.Seconds())
}

// RecordRelease folds a release into the rolling counters.
func (m *Metrics) RecordRelease() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := clock.Now()
	m.releaseRate = smoothRate(m.releaseRate, m.lastReleaseAt, now)
	m.lastReleaseAt = now
	m.releasesTotal.Inc()
}

// RecordFailure folds a failed allocation into the rolling counters.
func (m *Metrics) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := clock.Now()
	m.failureRate = smoothRate(m.failureRate, m.lastFailureAt, now)
	m.lastFailureAt = now
	m.failuresTotal.Inc()
}

// SetUtilization records the current pool-wide utilization.
func (m *Metrics) SetUtilization(utilization float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.utilizationRate = utilization
	m.utilizationGauge.Set(utilization)
}

// AverageLatency returns the smoothed allocation latency.
func (m *Metrics) AverageLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.averageLatency
}

// Snapshot returns the current counters.
func (m *Metrics) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		UtilizationRate: m.utilizationRate,
		AllocationRate:  m.allocationRate,
		ReleaseRate:     m.releaseRate,
		FailureRate:     m.failureRate,
		AverageLatency:  m.averageLatency,
	}
}

// smoothRate updates an events-per-second EWMA given the previous event time.
func smoothRate(current float64, lastAt, now time.Time) float64 {
	if lastAt.IsZero() {
		return current
	}
	gap := now.Sub(lastAt).Seconds()
	if gap <= 0 {
		return current
	}
	instantaneous := 1.0 / gap
	if current == 0 {
		return instantaneous
	}
	return rateAlpha*instantaneous + (1-rateAlpha)*current
}
