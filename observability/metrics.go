package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type mintMetrics struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
	allocated   *prometheus.CounterVec
	remaining   prometheus.Gauge
	throttles   *prometheus.CounterVec
	halted      prometheus.Gauge
}

var (
	mintMetricsOnce sync.Once
	mintRegistry    *mintMetrics
)

// MintMetrics returns the lazily-initialised registry recording mint
// invocations and pool state.
func MintMetrics() *mintMetrics {
	mintMetricsOnce.Do(func() {
		mintRegistry = &mintMetrics{
			invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintmgr",
				Subsystem: "runtime",
				Name:      "invocations_total",
				Help:      "Total mint invocations segmented by action and outcome.",
			}, []string{"action", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "mintmgr",
				Subsystem: "runtime",
				Name:      "invocation_duration_seconds",
				Help:      "Latency distribution for mint invocations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"action"}),
			allocated: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintmgr",
				Subsystem: "pool",
				Name:      "items_allocated_total",
				Help:      "Items drawn from the pool segmented by payment channel.",
			}, []string{"channel"}),
			remaining: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mintmgr",
				Subsystem: "pool",
				Name:      "items_remaining",
				Help:      "Items left in the pool after the last committed invocation.",
			}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "mintmgr",
				Subsystem: "rpc",
				Name:      "throttles_total",
				Help:      "Requests rejected before reaching the runtime.",
			}, []string{"reason"}),
			halted: prometheus.NewGauge(prometheus.GaugeOpts{
				Namespace: "mintmgr",
				Subsystem: "pool",
				Name:      "halted",
				Help:      "Set to 1 once a corrupt pool has stopped allocation.",
			}),
		}
		prometheus.MustRegister(
			mintRegistry.invocations,
			mintRegistry.latency,
			mintRegistry.allocated,
			mintRegistry.remaining,
			mintRegistry.throttles,
			mintRegistry.halted,
		)
	})
	return mintRegistry
}

func normalizeLabel(value, fallback string) string {
	trimmed := strings.ToLower(strings.TrimSpace(value))
	if trimmed == "" {
		return fallback
	}
	return trimmed
}

// ObserveInvocation records the outcome and latency of one runtime call.
func (m *mintMetrics) ObserveInvocation(action, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	action = normalizeLabel(action, "unknown")
	m.invocations.WithLabelValues(action, normalizeLabel(outcome, "unknown")).Inc()
	m.latency.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordAllocated adds n drawn items for channel.
func (m *mintMetrics) RecordAllocated(channel string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.allocated.WithLabelValues(normalizeLabel(channel, "unknown")).Add(float64(n))
}

// SetRemaining publishes the current pool size.
func (m *mintMetrics) SetRemaining(total uint64) {
	if m == nil {
		return
	}
	m.remaining.Set(float64(total))
}

// SetHalted flags a halted allocation engine.
func (m *mintMetrics) SetHalted(halted bool) {
	if m == nil {
		return
	}
	if halted {
		m.halted.Set(1)
		return
	}
	m.halted.Set(0)
}

// RecordThrottle counts a request refused at the edge.
func (m *mintMetrics) RecordThrottle(reason string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(reason, "unknown")).Inc()
}
