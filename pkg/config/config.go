// Package config provides configuration management for the tunnel node.
package config

import (
	"fmt"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/autoconfig"
)

// Config holds every tunable of a tunnel node.
type Config struct {
	// Network settings
	UDPPort       int    // UDP listen port (default: 6421)
	DataDirectory string // Directory for the identity key store

	// Circuit shape
	DefaultHops int // Hop count used when a circuit request doesn't specify one
	MinHops     int // Minimum hops accepted at construction (default: 1)
	MaxHops     int // Maximum hops accepted at construction (default: 3)

	// Circuit pool bounds
	MinConcurrentCircuits int // Maintenance floor (default: 2)
	MaxConcurrentCircuits int // Maintenance ceiling (default: 8)

	CircuitLifetimeSeconds             int // Circuit max age before rotation (default: 600)
	CircuitEstablishmentTimeoutSeconds int // Deadline for building one circuit (default: 30)

	// Relay selection
	MinRelayReliability      float64 // Reliability floor for relay candidates (default: 0.7)
	PreferHighBandwidthRelay bool    // Weight relay selection toward higher bandwidth
	PreferLowLatencyRelay    bool    // Weight relay selection toward lower RTT

	// Fallback behavior
	AllowNonAnonymousFallback bool // Permit a direct connection when no circuit is available (default: false)

	// Health monitoring
	EnableCircuitHealthMonitoring   bool // Run the heartbeat/recovery passes (default: true)
	CircuitHealthCheckIntervalSeconds int // Heartbeat interval (default: 30)

	// Logging
	LogLevel string // debug, info, warn, error (default: info)

	// Monitoring and observability
	MetricsPort   int  // HTTP metrics server port (default: 0 = disabled)
	EnableMetrics bool // Enable HTTP metrics endpoint (default: false)

	// Bootstrap
	BootstrapEndpoints []string // Additional IP:port bootstrap endpoints, merged with the embedded list
}

// DefaultConfig returns a configuration with the defaults named throughout
// the circuit-manager design.
func DefaultConfig() *Config {
	dataDir, err := autoconfig.GetDefaultDataDir()
	if err != nil {
		dataDir = "./tunnelcore-data"
	}

	return &Config{
		UDPPort:       6421,
		DataDirectory: dataDir,

		DefaultHops: 3,
		MinHops:     1,
		MaxHops:     3,

		MinConcurrentCircuits: 2,
		MaxConcurrentCircuits: 8,

		CircuitLifetimeSeconds:             600,
		CircuitEstablishmentTimeoutSeconds: 30,

		MinRelayReliability:      0.7,
		PreferHighBandwidthRelay: true,
		PreferLowLatencyRelay:    true,

		AllowNonAnonymousFallback: false,

		EnableCircuitHealthMonitoring:     true,
		CircuitHealthCheckIntervalSeconds: 30,

		LogLevel: "info",

		MetricsPort:   0,
		EnableMetrics: false,

		BootstrapEndpoints: []string{},
	}
}

// CircuitLifetime returns CircuitLifetimeSeconds as a time.Duration.
func (c *Config) CircuitLifetime() time.Duration {
	return time.Duration(c.CircuitLifetimeSeconds) * time.Second
}

// CircuitEstablishmentTimeout returns CircuitEstablishmentTimeoutSeconds as
// a time.Duration.
func (c *Config) CircuitEstablishmentTimeout() time.Duration {
	return time.Duration(c.CircuitEstablishmentTimeoutSeconds) * time.Second
}

// CircuitHealthCheckInterval returns CircuitHealthCheckIntervalSeconds as a
// time.Duration.
func (c *Config) CircuitHealthCheckInterval() time.Duration {
	return time.Duration(c.CircuitHealthCheckIntervalSeconds) * time.Second
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.UDPPort < 0 || c.UDPPort > 65535 {
		return fmt.Errorf("invalid UDPPort: %d", c.UDPPort)
	}
	if c.MetricsPort < 0 || c.MetricsPort > 65535 {
		return fmt.Errorf("invalid MetricsPort: %d", c.MetricsPort)
	}
	if c.MetricsPort > 0 && c.MetricsPort == c.UDPPort {
		return fmt.Errorf("port conflict: MetricsPort (%d) conflicts with UDPPort", c.MetricsPort)
	}

	if c.MinHops < 1 {
		return fmt.Errorf("MinHops must be at least 1")
	}
	if c.MaxHops < c.MinHops {
		return fmt.Errorf("MaxHops must be >= MinHops")
	}
	if c.DefaultHops < c.MinHops || c.DefaultHops > c.MaxHops {
		return fmt.Errorf("DefaultHops must be within [MinHops, MaxHops]")
	}

	if c.MinConcurrentCircuits < 0 {
		return fmt.Errorf("MinConcurrentCircuits must be non-negative")
	}
	if c.MaxConcurrentCircuits < c.MinConcurrentCircuits {
		return fmt.Errorf("MaxConcurrentCircuits must be >= MinConcurrentCircuits")
	}

	if c.CircuitLifetimeSeconds <= 0 {
		return fmt.Errorf("CircuitLifetimeSeconds must be positive")
	}
	if c.CircuitEstablishmentTimeoutSeconds <= 0 {
		return fmt.Errorf("CircuitEstablishmentTimeoutSeconds must be positive")
	}
	if c.CircuitHealthCheckIntervalSeconds <= 0 {
		return fmt.Errorf("CircuitHealthCheckIntervalSeconds must be positive")
	}

	if c.MinRelayReliability < 0 || c.MinRelayReliability > 1 {
		return fmt.Errorf("MinRelayReliability must be within [0,1]")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid LogLevel: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	return nil
}

// Clone creates a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.BootstrapEndpoints = append([]string{}, c.BootstrapEndpoints...)
	return &clone
}
