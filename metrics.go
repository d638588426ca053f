package tokengate

import (
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter or latency histogram.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLoginLocked
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReplayDetected
	MetricRefreshRateLimited
	MetricLogout
	MetricLogoutAll
	MetricSessionRevoked
	MetricAuthAccepted
	MetricAuthRejected
	MetricAuthNoToken
	MetricAuthRevoked
	MetricAuthStoreUnavailable
	MetricRateLimitHit
	MetricRateLimitStoreError
	MetricAccountLocked
	MetricAccountUnlocked
	// Latency histograms.
	MetricAuthenticateLatency
	MetricLoginLatency
	MetricRefreshLatency
	metricIDCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

type metricHistogram struct {
	buckets [histBucketCount]uint64
}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds lock-free engine counters, latency histograms and the
// active-sessions gauge.
type Metrics struct {
	enabled        bool
	enableLatency  bool
	counters       [metricIDCount]paddedCounter
	histograms     [metricIDCount]metricHistogram
	activeSessions atomic.Int64
}

// MetricsSnapshot is a point-in-time copy of all metrics.
type MetricsSnapshot struct {
	Counters       map[MetricID]uint64
	Histograms     map[MetricID][]uint64
	ActiveSessions int64
}

// NewMetrics returns a Metrics honoring cfg. Latency histograms are only
// recorded when metrics are enabled as well.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

func (m *Metrics) LatencyEnabled() bool {
	return m != nil && m.enableLatency
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Observe records d into the histogram of a latency metric. Other ids are ignored.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil || !m.enableLatency || !IsLatencyMetric(id) {
		return
	}
	b := bucketIndex(d)
	atomic.AddUint64(&m.histograms[id].buckets[b], 1)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// AddActiveSessions moves the gauge by delta. The gauge never drops below zero.
func (m *Metrics) AddActiveSessions(delta int64) {
	if m == nil || !m.enabled || delta == 0 {
		return
	}
	for {
		cur := m.activeSessions.Load()
		next := cur + delta
		if next < 0 {
			next = 0
		}
		if m.activeSessions.CompareAndSwap(cur, next) {
			return
		}
	}
}

// SetActiveSessions overwrites the gauge, typically after reconciling with the store.
func (m *Metrics) SetActiveSessions(n int64) {
	if m == nil || !m.enabled {
		return
	}
	if n < 0 {
		n = 0
	}
	m.activeSessions.Store(n)
}

func (m *Metrics) ActiveSessions() int64 {
	if m == nil {
		return 0
	}
	return m.activeSessions.Load()
}

func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:       make(map[MetricID]uint64, int(metricIDCount)),
		Histograms:     make(map[MetricID][]uint64, 3),
		ActiveSessions: m.activeSessions.Load(),
	}

	for id := MetricID(0); id < metricIDCount; id++ {
		if IsLatencyMetric(id) {
			continue
		}
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}

	if m.enableLatency {
		for _, id := range latencyMetrics {
			buckets := make([]uint64, histBucketCount)
			for i := 0; i < histBucketCount; i++ {
				buckets[i] = atomic.LoadUint64(&m.histograms[id].buckets[i])
			}
			s.Histograms[id] = buckets
		}
	}

	return s
}

var latencyMetrics = [...]MetricID{MetricAuthenticateLatency, MetricLoginLatency, MetricRefreshLatency}

// IsLatencyMetric reports whether id names a histogram rather than a counter.
func IsLatencyMetric(id MetricID) bool {
	return id >= MetricAuthenticateLatency && id < metricIDCount
}

func bucketIndex(d time.Duration) int {
	ms := d.Milliseconds()

	switch {
	case ms <= 5:
		return 0
	case ms <= 10:
		return 1
	case ms <= 25:
		return 2
	case ms <= 50:
		return 3
	case ms <= 100:
		return 4
	case ms <= 250:
		return 5
	case ms <= 500:
		return 6
	default:
		return 7
	}
}
