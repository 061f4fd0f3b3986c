package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector adapts Metrics to the prometheus.Collector interface so it can
// be registered with a prometheus.Registry and served via promhttp.
type Collector struct {
	m *Metrics

	datagramsSent     *prometheus.Desc
	datagramsReceived *prometheus.Desc
	datagramsDropped  *prometheus.Desc
	codecErrors       *prometheus.Desc

	circuitBuilds       *prometheus.Desc
	circuitBuildSuccess *prometheus.Desc
	circuitBuildFailure *prometheus.Desc
	activeCircuits      *prometheus.Desc

	handshakeAttempts *prometheus.Desc
	handshakeSuccess  *prometheus.Desc
	handshakeFailure  *prometheus.Desc
	handshakeTimeout  *prometheus.Desc

	poolAcquisitions *prometheus.Desc
	poolTimeouts     *prometheus.Desc

	tunnelBytesSent     *prometheus.Desc
	tunnelBytesReceived *prometheus.Desc
	activeStreams       *prometheus.Desc

	uptimeSeconds *prometheus.Desc
}

// NewCollector builds a Collector wrapping m, namespacing every metric
// under "tunnelcore".
func NewCollector(m *Metrics) *Collector {
	ns := "tunnelcore"
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(ns+"_"+name, help, nil, nil)
	}
	return &Collector{
		m: m,

		datagramsSent:     desc("datagrams_sent_total", "Total UDP datagrams sent"),
		datagramsReceived: desc("datagrams_received_total", "Total UDP datagrams received"),
		datagramsDropped:  desc("datagrams_dropped_total", "Total UDP datagrams dropped"),
		codecErrors:       desc("codec_errors_total", "Total wire codec decode failures"),

		circuitBuilds:       desc("circuit_builds_total", "Total circuit build attempts"),
		circuitBuildSuccess: desc("circuit_build_success_total", "Total successful circuit builds"),
		circuitBuildFailure: desc("circuit_build_failure_total", "Total failed circuit builds"),
		activeCircuits:      desc("active_circuits", "Current number of active circuits"),

		handshakeAttempts: desc("handshake_attempts_total", "Total handshake attempts"),
		handshakeSuccess:  desc("handshake_success_total", "Total successful handshakes"),
		handshakeFailure:  desc("handshake_failure_total", "Total failed handshakes"),
		handshakeTimeout:  desc("handshake_timeout_total", "Total timed-out handshakes"),

		poolAcquisitions: desc("pool_acquisitions_total", "Total circuit pool acquisitions"),
		poolTimeouts:     desc("pool_timeouts_total", "Total circuit pool acquisition timeouts"),

		tunnelBytesSent:     desc("tunnel_bytes_sent_total", "Total bytes sent through tunnel streams"),
		tunnelBytesReceived: desc("tunnel_bytes_received_total", "Total bytes received through tunnel streams"),
		activeStreams:       desc("active_streams", "Current number of active tunnel streams"),

		uptimeSeconds: desc("uptime_seconds", "Process uptime in seconds"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.datagramsSent
	ch <- c.datagramsReceived
	ch <- c.datagramsDropped
	ch <- c.codecErrors
	ch <- c.circuitBuilds
	ch <- c.circuitBuildSuccess
	ch <- c.circuitBuildFailure
	ch <- c.activeCircuits
	ch <- c.handshakeAttempts
	ch <- c.handshakeSuccess
	ch <- c.handshakeFailure
	ch <- c.handshakeTimeout
	ch <- c.poolAcquisitions
	ch <- c.poolTimeouts
	ch <- c.tunnelBytesSent
	ch <- c.tunnelBytesReceived
	ch <- c.activeStreams
	ch <- c.uptimeSeconds
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snap := c.m.Snapshot()

	ch <- prometheus.MustNewConstMetric(c.datagramsSent, prometheus.CounterValue, float64(snap.DatagramsSent))
	ch <- prometheus.MustNewConstMetric(c.datagramsReceived, prometheus.CounterValue, float64(snap.DatagramsReceived))
	ch <- prometheus.MustNewConstMetric(c.datagramsDropped, prometheus.CounterValue, float64(snap.DatagramsDropped))
	ch <- prometheus.MustNewConstMetric(c.codecErrors, prometheus.CounterValue, float64(snap.CodecErrors))

	ch <- prometheus.MustNewConstMetric(c.circuitBuilds, prometheus.CounterValue, float64(snap.CircuitBuilds))
	ch <- prometheus.MustNewConstMetric(c.circuitBuildSuccess, prometheus.CounterValue, float64(snap.CircuitBuildSuccess))
	ch <- prometheus.MustNewConstMetric(c.circuitBuildFailure, prometheus.CounterValue, float64(snap.CircuitBuildFailure))
	ch <- prometheus.MustNewConstMetric(c.activeCircuits, prometheus.GaugeValue, float64(snap.ActiveCircuits))

	ch <- prometheus.MustNewConstMetric(c.handshakeAttempts, prometheus.CounterValue, float64(snap.HandshakeAttempts))
	ch <- prometheus.MustNewConstMetric(c.handshakeSuccess, prometheus.CounterValue, float64(snap.HandshakeSuccess))
	ch <- prometheus.MustNewConstMetric(c.handshakeFailure, prometheus.CounterValue, float64(snap.HandshakeFailure))
	ch <- prometheus.MustNewConstMetric(c.handshakeTimeout, prometheus.CounterValue, float64(snap.HandshakeTimeout))

	ch <- prometheus.MustNewConstMetric(c.poolAcquisitions, prometheus.CounterValue, float64(snap.PoolAcquisitions))
	ch <- prometheus.MustNewConstMetric(c.poolTimeouts, prometheus.CounterValue, float64(snap.PoolTimeouts))

	ch <- prometheus.MustNewConstMetric(c.tunnelBytesSent, prometheus.CounterValue, float64(snap.TunnelBytesSent))
	ch <- prometheus.MustNewConstMetric(c.tunnelBytesReceived, prometheus.CounterValue, float64(snap.TunnelBytesReceived))
	ch <- prometheus.MustNewConstMetric(c.activeStreams, prometheus.GaugeValue, float64(snap.ActiveStreams))

	ch <- prometheus.MustNewConstMetric(c.uptimeSeconds, prometheus.GaugeValue, float64(snap.UptimeSeconds))
}
