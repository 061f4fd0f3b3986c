// Package metrics provides operational metrics for the tunnel core.
// This package tracks transport, circuit, handshake, pool, and tunnel-level
// metrics for observability and monitoring.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics provides a collection of counters, gauges, and histograms for
// the tunnel core's major subsystems.
type Metrics struct {
	// Transport metrics
	DatagramsSent     *Counter
	DatagramsReceived *Counter
	DatagramsDropped  *Counter
	CodecErrors       *Counter

	// Circuit metrics
	CircuitBuilds       *Counter
	CircuitBuildSuccess *Counter
	CircuitBuildFailure *Counter
	CircuitBuildTime    *Histogram
	ActiveCircuits      *Gauge
	CircuitsEstablished *Gauge
	CircuitsFailed      *Gauge

	// Handshake metrics
	HandshakeAttempts *Counter
	HandshakeSuccess  *Counter
	HandshakeFailure  *Counter
	HandshakeTimeout  *Counter

	// Pool metrics
	PoolAcquisitions *Counter
	PoolTimeouts     *Counter
	PoolReleases     *Counter
	PoolEvictions    *Counter

	// Tunnel metrics
	TunnelStreamsOpened *Counter
	TunnelStreamsClosed *Counter
	TunnelBytesSent     *Counter
	TunnelBytesReceived *Counter
	ActiveStreams       *Gauge

	// System metrics
	Uptime      *Gauge
	startTime   time.Time
	startTimeMu sync.RWMutex
}

// New creates a new metrics instance.
func New() *Metrics {
	now := time.Now()
	return &Metrics{
		DatagramsSent:     NewCounter(),
		DatagramsReceived: NewCounter(),
		DatagramsDropped:  NewCounter(),
		CodecErrors:       NewCounter(),

		CircuitBuilds:       NewCounter(),
		CircuitBuildSuccess: NewCounter(),
		CircuitBuildFailure: NewCounter(),
		CircuitBuildTime:    NewHistogram(),
		ActiveCircuits:      NewGauge(),
		CircuitsEstablished: NewGauge(),
		CircuitsFailed:      NewGauge(),

		HandshakeAttempts: NewCounter(),
		HandshakeSuccess:  NewCounter(),
		HandshakeFailure:  NewCounter(),
		HandshakeTimeout:  NewCounter(),

		PoolAcquisitions: NewCounter(),
		PoolTimeouts:     NewCounter(),
		PoolReleases:     NewCounter(),
		PoolEvictions:    NewCounter(),

		TunnelStreamsOpened: NewCounter(),
		TunnelStreamsClosed: NewCounter(),
		TunnelBytesSent:     NewCounter(),
		TunnelBytesReceived: NewCounter(),
		ActiveStreams:       NewGauge(),

		Uptime:    NewGauge(),
		startTime: now,
	}
}

// RecordCircuitBuild records a circuit build attempt and its duration.
func (m *Metrics) RecordCircuitBuild(success bool, duration time.Duration) {
	m.CircuitBuilds.Inc()
	if success {
		m.CircuitBuildSuccess.Inc()
	} else {
		m.CircuitBuildFailure.Inc()
	}
	m.CircuitBuildTime.Observe(duration)
}

// RecordHandshake records a handshake attempt and its outcome.
func (m *Metrics) RecordHandshake(success, timedOut bool) {
	m.HandshakeAttempts.Inc()
	switch {
	case timedOut:
		m.HandshakeTimeout.Inc()
	case success:
		m.HandshakeSuccess.Inc()
	default:
		m.HandshakeFailure.Inc()
	}
}

// UpdateUptime updates the uptime metric.
func (m *Metrics) UpdateUptime() {
	m.startTimeMu.RLock()
	defer m.startTimeMu.RUnlock()
	m.Uptime.Set(int64(time.Since(m.startTime).Seconds()))
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (m *Metrics) Snapshot() *Snapshot {
	m.UpdateUptime()
	return &Snapshot{
		DatagramsSent:     m.DatagramsSent.Value(),
		DatagramsReceived: m.DatagramsReceived.Value(),
		DatagramsDropped:  m.DatagramsDropped.Value(),
		CodecErrors:       m.CodecErrors.Value(),

		CircuitBuilds:       m.CircuitBuilds.Value(),
		CircuitBuildSuccess: m.CircuitBuildSuccess.Value(),
		CircuitBuildFailure: m.CircuitBuildFailure.Value(),
		CircuitBuildTimeAvg: m.CircuitBuildTime.Mean(),
		CircuitBuildTimeP95: m.CircuitBuildTime.Percentile(0.95),
		ActiveCircuits:      m.ActiveCircuits.Value(),
		CircuitsEstablished: m.CircuitsEstablished.Value(),
		CircuitsFailed:      m.CircuitsFailed.Value(),

		HandshakeAttempts: m.HandshakeAttempts.Value(),
		HandshakeSuccess:  m.HandshakeSuccess.Value(),
		HandshakeFailure:  m.HandshakeFailure.Value(),
		HandshakeTimeout:  m.HandshakeTimeout.Value(),

		PoolAcquisitions: m.PoolAcquisitions.Value(),
		PoolTimeouts:     m.PoolTimeouts.Value(),
		PoolReleases:     m.PoolReleases.Value(),
		PoolEvictions:    m.PoolEvictions.Value(),

		TunnelStreamsOpened: m.TunnelStreamsOpened.Value(),
		TunnelStreamsClosed: m.TunnelStreamsClosed.Value(),
		TunnelBytesSent:     m.TunnelBytesSent.Value(),
		TunnelBytesReceived: m.TunnelBytesReceived.Value(),
		ActiveStreams:       m.ActiveStreams.Value(),

		UptimeSeconds: m.Uptime.Value(),
	}
}

// Snapshot represents a point-in-time snapshot of metrics.
type Snapshot struct {
	DatagramsSent     int64
	DatagramsReceived int64
	DatagramsDropped  int64
	CodecErrors       int64

	CircuitBuilds       int64
	CircuitBuildSuccess int64
	CircuitBuildFailure int64
	CircuitBuildTimeAvg time.Duration
	CircuitBuildTimeP95 time.Duration
	ActiveCircuits      int64
	CircuitsEstablished int64
	CircuitsFailed      int64

	HandshakeAttempts int64
	HandshakeSuccess  int64
	HandshakeFailure  int64
	HandshakeTimeout  int64

	PoolAcquisitions int64
	PoolTimeouts     int64
	PoolReleases     int64
	PoolEvictions    int64

	TunnelStreamsOpened int64
	TunnelStreamsClosed int64
	TunnelBytesSent     int64
	TunnelBytesReceived int64
	ActiveStreams       int64

	UptimeSeconds int64
}

// Counter is a monotonically increasing counter.
type Counter struct {
	value int64
}

// NewCounter creates a new counter.
func NewCounter() *Counter {
	return &Counter{}
}

// Inc increments the counter by 1.
func (c *Counter) Inc() {
	atomic.AddInt64(&c.value, 1)
}

// Add adds n to the counter.
func (c *Counter) Add(n int64) {
	atomic.AddInt64(&c.value, n)
}

// Value returns the current counter value.
func (c *Counter) Value() int64 {
	return atomic.LoadInt64(&c.value)
}

// Gauge is a value that can go up or down.
type Gauge struct {
	value int64
}

// NewGauge creates a new gauge.
func NewGauge() *Gauge {
	return &Gauge{}
}

// Set sets the gauge to a specific value.
func (g *Gauge) Set(value int64) {
	atomic.StoreInt64(&g.value, value)
}

// Inc increments the gauge by 1.
func (g *Gauge) Inc() {
	atomic.AddInt64(&g.value, 1)
}

// Dec decrements the gauge by 1.
func (g *Gauge) Dec() {
	atomic.AddInt64(&g.value, -1)
}

// Add adds n to the gauge.
func (g *Gauge) Add(n int64) {
	atomic.AddInt64(&g.value, n)
}

// Value returns the current gauge value.
func (g *Gauge) Value() int64 {
	return atomic.LoadInt64(&g.value)
}

// Histogram tracks the distribution of durations.
type Histogram struct {
	observations []time.Duration
	mu           sync.RWMutex
}

// NewHistogram creates a new histogram.
func NewHistogram() *Histogram {
	return &Histogram{
		observations: make([]time.Duration, 0, 1000),
	}
}

// Observe adds a new observation to the histogram.
func (h *Histogram) Observe(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.observations) >= 1000 {
		h.observations = h.observations[1:]
	}
	h.observations = append(h.observations, d)
}

// Mean returns the mean of all observations.
func (h *Histogram) Mean() time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.observations) == 0 {
		return 0
	}

	var sum time.Duration
	for _, d := range h.observations {
		sum += d
	}
	return sum / time.Duration(len(h.observations))
}

// Percentile returns the nth percentile (0.0 to 1.0).
func (h *Histogram) Percentile(p float64) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.observations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(h.observations))
	copy(sorted, h.observations)

	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] > sorted[j] {
				sorted[i], sorted[j] = sorted[j], sorted[i]
			}
		}
	}

	index := int(float64(len(sorted)-1) * p)
	return sorted[index]
}

// Count returns the number of observations.
func (h *Histogram) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observations)
}
