// Package health provides health check and monitoring capabilities for the
// tunnel core. This package implements health checks for circuits,
// transport, and peer discovery, plus the node's overall bootstrap status.
package health

import (
	"context"
	"sync"
	"time"
)

// Status represents the health status of a component
type Status string

const (
	// StatusHealthy indicates the component is functioning normally
	StatusHealthy Status = "healthy"
	// StatusDegraded indicates the component is functioning but with reduced capacity
	StatusDegraded Status = "degraded"
	// StatusUnhealthy indicates the component is not functioning properly
	StatusUnhealthy Status = "unhealthy"
)

// ComponentHealth represents the health of a single component
type ComponentHealth struct {
	Name           string                 `json:"name"`
	Status         Status                 `json:"status"`
	Message        string                 `json:"message,omitempty"`
	LastChecked    time.Time              `json:"last_checked"`
	Details        map[string]interface{} `json:"details,omitempty"`
	ResponseTimeMs int64                  `json:"response_time_ms,omitempty"`
}

// OverallHealth represents the overall health of the tunnel node
type OverallHealth struct {
	Status     Status                     `json:"status"`
	Components map[string]ComponentHealth `json:"components"`
	Timestamp  time.Time                  `json:"timestamp"`
	Uptime     time.Duration              `json:"uptime"`
}

// Checker defines the interface for health checks
type Checker interface {
	// Check performs a health check and returns the result
	Check(ctx context.Context) ComponentHealth
	// Name returns the name of the component being checked
	Name() string
}

// Monitor manages health checks for various components
type Monitor struct {
	mu         sync.RWMutex
	checkers   map[string]Checker
	lastChecks map[string]ComponentHealth
	startTime  time.Time
}

// NewMonitor creates a new health monitor
func NewMonitor() *Monitor {
	return &Monitor{
		checkers:   make(map[string]Checker),
		lastChecks: make(map[string]ComponentHealth),
		startTime:  time.Now(),
	}
}

// RegisterChecker registers a health checker for a component
func (m *Monitor) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers[checker.Name()] = checker
}

// UnregisterChecker removes a health checker
func (m *Monitor) UnregisterChecker(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checkers, name)
}

// Check performs health checks on all registered components
func (m *Monitor) Check(ctx context.Context) OverallHealth {
	m.mu.Lock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, checker := range m.checkers {
		checkers = append(checkers, checker)
	}
	m.mu.Unlock()

	// Perform checks concurrently
	resultsCh := make(chan ComponentHealth, len(checkers))
	for _, checker := range checkers {
		go func(c Checker) {
			startTime := time.Now()
			health := c.Check(ctx)
			health.ResponseTimeMs = time.Since(startTime).Milliseconds()
			resultsCh <- health
		}(checker)
	}

	// Collect results
	components := make(map[string]ComponentHealth)
	for i := 0; i < len(checkers); i++ {
		health := <-resultsCh
		components[health.Name] = health
	}

	// Update last checks cache
	m.mu.Lock()
	m.lastChecks = components
	m.mu.Unlock()

	// Determine overall status
	overallStatus := StatusHealthy
	for _, health := range components {
		if health.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if health.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return OverallHealth{
		Status:     overallStatus,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

// GetLastCheck returns the last health check result
func (m *Monitor) GetLastCheck() OverallHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	components := make(map[string]ComponentHealth)
	for name, health := range m.lastChecks {
		components[name] = health
	}

	overallStatus := StatusHealthy
	for _, health := range components {
		if health.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			break
		} else if health.Status == StatusDegraded && overallStatus == StatusHealthy {
			overallStatus = StatusDegraded
		}
	}

	return OverallHealth{
		Status:     overallStatus,
		Components: components,
		Timestamp:  time.Now(),
		Uptime:     time.Since(m.startTime),
	}
}

// CircuitHealthChecker checks the health of circuits
type CircuitHealthChecker struct {
	getStats func() CircuitStats
}

// CircuitStats contains circuit statistics for health checking
type CircuitStats struct {
	ActiveCircuits int
	MinRequired    int
	FailedBuilds   int
	AverageAge     time.Duration
	MaxAge         time.Duration
}

// NewCircuitHealthChecker creates a new circuit health checker
func NewCircuitHealthChecker(getStats func() CircuitStats) *CircuitHealthChecker {
	return &CircuitHealthChecker{
		getStats: getStats,
	}
}

// Name returns the checker name
func (c *CircuitHealthChecker) Name() string {
	return "circuits"
}

// Check performs the health check
func (c *CircuitHealthChecker) Check(ctx context.Context) ComponentHealth {
	stats := c.getStats()

	health := ComponentHealth{
		Name:        c.Name(),
		LastChecked: time.Now(),
		Details: map[string]interface{}{
			"active_circuits": stats.ActiveCircuits,
			"min_required":    stats.MinRequired,
			"failed_builds":   stats.FailedBuilds,
			"average_age":     stats.AverageAge.String(),
			"max_age":         stats.MaxAge.String(),
		},
	}

	// Determine status based on circuit count
	if stats.ActiveCircuits == 0 {
		health.Status = StatusUnhealthy
		health.Message = "No active circuits available"
	} else if stats.ActiveCircuits < stats.MinRequired {
		health.Status = StatusDegraded
		health.Message = "Circuit count below minimum threshold"
	} else {
		health.Status = StatusHealthy
		health.Message = "Circuits functioning normally"
	}

	return health
}

// TransportHealthChecker checks the health of the UDP transport.
type TransportHealthChecker struct {
	getStats func() TransportStats
}

// TransportStats contains transport statistics for health checking.
type TransportStats struct {
	DatagramsSent     int64
	DatagramsReceived int64
	DatagramsDropped  int64
	CodecErrors       int64
}

// NewTransportHealthChecker creates a new transport health checker.
func NewTransportHealthChecker(getStats func() TransportStats) *TransportHealthChecker {
	return &TransportHealthChecker{
		getStats: getStats,
	}
}

// Name returns the checker name.
func (c *TransportHealthChecker) Name() string {
	return "transport"
}

// Check performs the health check.
func (c *TransportHealthChecker) Check(ctx context.Context) ComponentHealth {
	stats := c.getStats()

	health := ComponentHealth{
		Name:        c.Name(),
		LastChecked: time.Now(),
		Details: map[string]interface{}{
			"datagrams_sent":     stats.DatagramsSent,
			"datagrams_received": stats.DatagramsReceived,
			"datagrams_dropped":  stats.DatagramsDropped,
			"codec_errors":       stats.CodecErrors,
		},
	}

	total := stats.DatagramsSent + stats.DatagramsReceived
	switch {
	case total == 0:
		health.Status = StatusDegraded
		health.Message = "No datagram traffic observed yet"
	case stats.DatagramsDropped > total/2:
		health.Status = StatusUnhealthy
		health.Message = "Majority of datagrams are being dropped"
	case stats.CodecErrors > total/10:
		health.Status = StatusDegraded
		health.Message = "Elevated codec error rate"
	default:
		health.Status = StatusHealthy
		health.Message = "Transport functioning normally"
	}

	return health
}

// PeerHealthChecker checks the health of peer discovery.
type PeerHealthChecker struct {
	getStats func() PeerStats
}

// PeerStats contains peer-table statistics for health checking.
type PeerStats struct {
	KnownPeers      int
	RelayCandidates int
	LastRefresh     time.Time
	RefreshInterval time.Duration
}

// NewPeerHealthChecker creates a new peer health checker.
func NewPeerHealthChecker(getStats func() PeerStats) *PeerHealthChecker {
	return &PeerHealthChecker{
		getStats: getStats,
	}
}

// Name returns the checker name.
func (p *PeerHealthChecker) Name() string {
	return "peers"
}

// Check performs the health check.
func (p *PeerHealthChecker) Check(ctx context.Context) ComponentHealth {
	stats := p.getStats()
	age := time.Since(stats.LastRefresh)

	health := ComponentHealth{
		Name:        p.Name(),
		LastChecked: time.Now(),
		Details: map[string]interface{}{
			"known_peers":      stats.KnownPeers,
			"relay_candidates": stats.RelayCandidates,
			"last_refresh":     stats.LastRefresh.Format(time.RFC3339),
			"refresh_age":      age.String(),
		},
	}

	switch {
	case stats.RelayCandidates == 0:
		health.Status = StatusUnhealthy
		health.Message = "No relay-capable peers known"
	case stats.RefreshInterval > 0 && age > 3*stats.RefreshInterval:
		health.Status = StatusDegraded
		health.Message = "Peer table has not refreshed recently"
	default:
		health.Status = StatusHealthy
		health.Message = "Peer discovery functioning normally"
	}

	return health
}

// NodeStatus represents the tunnel node's overall bootstrap lifecycle,
// distinct from the per-component health reported by Monitor.
type NodeStatus string

const (
	NodeNotStarted    NodeStatus = "not_started"
	NodeBootstrapping NodeStatus = "bootstrapping"
	NodeReady         NodeStatus = "ready"
	NodeDegraded      NodeStatus = "degraded"
)

// DeriveNodeStatus maps circuit establishment progress to a NodeStatus.
// started indicates whether the node has begun bootstrapping at all;
// establishedFraction is established circuits divided by the configured
// target circuit count.
func DeriveNodeStatus(started bool, establishedFraction float64) NodeStatus {
	switch {
	case !started:
		return NodeNotStarted
	case establishedFraction >= 1.0:
		return NodeReady
	case establishedFraction > 0:
		return NodeBootstrapping
	default:
		return NodeDegraded
	}
}
