package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the subsystem's Prometheus instrumentation.
//
// All methods are nil-safe so components can run uninstrumented in tests.
type Metrics struct {
	rotations     *prometheus.CounterVec
	reuseDetected prometheus.Counter
	rateLimited   prometheus.Counter
	blocklistSize prometheus.Gauge
	sweepDeleted  *prometheus.CounterVec
}

// NewMetrics registers the session metrics on reg and returns them.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		rotations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "rotations_total",
			Help:      "Refresh rotation attempts by outcome.",
		}, []string{"result"}),
		reuseDetected: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "reuse_detected_total",
			Help:      "Refresh-token reuse incidents (family-wide revocations).",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "refresh_rate_limited_total",
			Help:      "Refresh attempts rejected by the rate limiter.",
		}),
		blocklistSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "blocklist_entries",
			Help:      "Access-token blocklist entries held in memory.",
		}),
		sweepDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "session",
			Name:      "sweep_deleted_total",
			Help:      "Rows removed by the maintenance sweeper, by kind.",
		}, []string{"kind"}),
	}
}

func (m *Metrics) rotation(result string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
}

func (m *Metrics) reuse() {
	if m == nil {
		return
	}
	m.reuseDetected.Inc()
}

// RateLimited records a refresh attempt rejected by the rate limiter.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Metrics) setBlocklistSize(n int) {
	if m == nil {
		return
	}
	m.blocklistSize.Set(float64(n))
}

func (m *Metrics) swept(kind string, n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.sweepDeleted.WithLabelValues(kind).Add(float64(n))
}
