package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coreerrors "assetmech/core/errors"
)

// SettlementMetrics tracks engine operations and the value flowing through
// them.
type SettlementMetrics struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	stakesActive   *prometheus.GaugeVec
	randomPending  prometheus.Gauge
	vestingRelease *prometheus.CounterVec
}

var (
	settlementOnce     sync.Once
	settlementRegistry *SettlementMetrics
)

// Settlement returns the lazily registered settlement metrics.
func Settlement() *SettlementMetrics {
	settlementOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "assetmech",
				Name:      "operations_total",
				Help:      "Engine operations segmented by engine, operation and outcome code.",
			}, []string{"engine", "operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "assetmech",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution of engine operations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"engine", "operation"}),
			stakesActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: "assetmech",
				Name:      "stakes_active",
				Help:      "Active stakes per staking instance.",
			}, []string{"instance"}),
			randomPending: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "assetmech",
				Name:      "random_requests_pending",
				Help:      "Randomness requests awaiting fulfilment.",
			}),
			vestingRelease: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "assetmech",
				Name:      "vesting_releases_total",
				Help:      "Vesting release calls by asset kind.",
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			settlementRegistry.operations,
			settlementRegistry.latency,
			settlementRegistry.stakesActive,
			settlementRegistry.randomPending,
			settlementRegistry.vestingRelease,
		)
	})
	return settlementRegistry
}

// Outcome maps an operation error to a stable label: "ok", the taxonomy code,
// or "error".
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code := coreerrors.CodeOf(err); code != "" {
		return code
	}
	return "error"
}

// Observe records one engine operation.
func (m *SettlementMetrics) Observe(engine, operation string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(engine, operation, Outcome(err)).Inc()
	m.latency.WithLabelValues(engine, operation).Observe(elapsed.Seconds())
}

// AdjustActiveStakes moves the active stake gauge of instance by delta.
func (m *SettlementMetrics) AdjustActiveStakes(instance string, delta float64) {
	if m == nil {
		return
	}
	m.stakesActive.WithLabelValues(instance).Add(delta)
}

// SetRandomPending reports the number of pending randomness requests.
func (m *SettlementMetrics) SetRandomPending(n int) {
	if m == nil {
		return
	}
	m.randomPending.Set(float64(n))
}

// RecordVestingRelease counts a vesting release of the given asset kind.
func (m *SettlementMetrics) RecordVestingRelease(kind string) {
	if m == nil {
		return
	}
	m.vestingRelease.WithLabelValues(kind).Inc()
}
