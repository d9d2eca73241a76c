package stayAuth

import (
	"time"

	"github.com/MrEthical07/stayAuth/internal/metrics"
)

// MetricID names one engine counter.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginLocked
	MetricTwoFactorRequired
	MetricTOTPSuccess
	MetricTOTPFailure
	MetricTOTPReplay
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricBackupCodeRegenerated
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuseDetected
	MetricAuthenticateSuccess
	MetricAuthenticateFailure
	MetricBlacklistHit
	MetricSessionCreated
	MetricSessionFallbackRead
	MetricMirrorFailure
	MetricDeviceMismatch
	MetricDeviceRejected
	MetricLogout
	MetricLogoutAll
	MetricBreakerOpened
	MetricBreakerClosed
	MetricAuthenticateLatency
	metricIDCount
)

// Metrics holds the engine's counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	set *metrics.Set
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds the counter set described by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	var latency []int
	if cfg.EnableLatencyHistograms {
		latency = append(latency, int(MetricAuthenticateLatency))
	}
	return &Metrics{set: metrics.New(int(metricIDCount), cfg.Enabled, latency...)}
}

func (m *Metrics) Enabled() bool {
	return m != nil && m.set.Enabled()
}

func (m *Metrics) Inc(id MetricID) {
	if m == nil {
		return
	}
	m.set.Inc(int(id))
}

func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m == nil {
		return
	}
	m.set.Observe(int(id), d)
}

func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil {
		return 0
	}
	return m.set.Value(int(id))
}

// Snapshot copies the current values. A disabled set yields empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id, v := range m.set.Counters() {
		s.Counters[MetricID(id)] = v
	}
	for _, id := range m.set.HistogramIDs() {
		s.Histograms[MetricID(id)] = m.set.Histogram(id)
	}
	return s
}
