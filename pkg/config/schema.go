// Package config provides configuration management for the tunnel node.
package config

import (
	"encoding/json"
	"fmt"
)

// JSONSchema represents the JSON Schema v7 for the tunnel node
// configuration. This enables IDE autocomplete, validation, and
// documentation.
type JSONSchema struct {
	Schema      string                    `json:"$schema"`
	Title       string                    `json:"title"`
	Description string                    `json:"description"`
	Type        string                    `json:"type"`
	Properties  map[string]PropertySchema `json:"properties"`
	Required    []string                  `json:"required,omitempty"`
}

// PropertySchema represents a property in the JSON schema.
type PropertySchema struct {
	Type        string          `json:"type,omitempty"`
	Description string          `json:"description,omitempty"`
	Default     interface{}     `json:"default,omitempty"`
	Minimum     *float64        `json:"minimum,omitempty"`
	Maximum     *float64        `json:"maximum,omitempty"`
	Enum        []string        `json:"enum,omitempty"`
	Items       *PropertySchema `json:"items,omitempty"`
	Examples    []interface{}   `json:"examples,omitempty"`
}

// GenerateJSONSchema creates a JSON Schema v7 for the Config structure.
func GenerateJSONSchema() (*JSONSchema, error) {
	minPort := 0.0
	maxPort := 65535.0
	minHops := 1.0
	maxHopsBound := 3.0
	zero := 0.0
	one := 1.0

	schema := &JSONSchema{
		Schema:      "http://json-schema.org/draft-07/schema#",
		Title:       "tunnelcore Configuration",
		Description: "Configuration schema for the tunnel node",
		Type:        "object",
		Properties: map[string]PropertySchema{
			"UDPPort": {
				Type:        "integer",
				Description: "UDP listen port",
				Default:     6421,
				Minimum:     &minPort,
				Maximum:     &maxPort,
			},
			"DataDirectory": {
				Type:        "string",
				Description: "Directory for the identity key store",
				Examples:    []interface{}{"./tunnelcore-data", "~/.tunnelcore"},
			},
			"DefaultHops": {
				Type:        "integer",
				Description: "Hop count used when a circuit request doesn't specify one",
				Default:     3,
				Minimum:     &minHops,
				Maximum:     &maxHopsBound,
			},
			"MinHops": {
				Type:        "integer",
				Description: "Minimum hops accepted at circuit construction",
				Default:     1,
				Minimum:     &minHops,
			},
			"MaxHops": {
				Type:        "integer",
				Description: "Maximum hops accepted at circuit construction",
				Default:     3,
				Maximum:     &maxHopsBound,
			},
			"MinConcurrentCircuits": {
				Type:        "integer",
				Description: "Maintenance floor for established circuits",
				Default:     2,
				Minimum:     &zero,
			},
			"MaxConcurrentCircuits": {
				Type:        "integer",
				Description: "Maintenance ceiling for established circuits",
				Default:     8,
				Minimum:     &zero,
			},
			"CircuitLifetimeSeconds": {
				Type:        "integer",
				Description: "Circuit max age before rotation",
				Default:     600,
				Minimum:     &one,
			},
			"CircuitEstablishmentTimeoutSeconds": {
				Type:        "integer",
				Description: "Deadline for building one circuit",
				Default:     30,
				Minimum:     &one,
			},
			"MinRelayReliability": {
				Type:        "number",
				Description: "Reliability floor for relay candidates",
				Default:     0.7,
				Minimum:     &zero,
				Maximum:     &one,
			},
			"PreferHighBandwidthRelay": {
				Type:        "boolean",
				Description: "Weight relay selection toward higher bandwidth",
				Default:     true,
			},
			"PreferLowLatencyRelay": {
				Type:        "boolean",
				Description: "Weight relay selection toward lower RTT",
				Default:     true,
			},
			"AllowNonAnonymousFallback": {
				Type:        "boolean",
				Description: "Permit a direct connection when no circuit is available",
				Default:     false,
			},
			"EnableCircuitHealthMonitoring": {
				Type:        "boolean",
				Description: "Run the heartbeat and recovery passes",
				Default:     true,
			},
			"CircuitHealthCheckIntervalSeconds": {
				Type:        "integer",
				Description: "Heartbeat interval",
				Default:     30,
				Minimum:     &one,
			},
			"LogLevel": {
				Type:        "string",
				Description: "Logging verbosity level",
				Default:     "info",
				Enum:        []string{"debug", "info", "warn", "error"},
			},
			"MetricsPort": {
				Type:        "integer",
				Description: "HTTP metrics server port (0 to disable)",
				Default:     0,
				Minimum:     &minPort,
				Maximum:     &maxPort,
			},
			"EnableMetrics": {
				Type:        "boolean",
				Description: "Enable the HTTP metrics endpoint",
				Default:     false,
			},
			"BootstrapEndpoints": {
				Type:        "array",
				Description: "Additional IP:port bootstrap endpoints, merged with the embedded list",
				Items:       &PropertySchema{Type: "string"},
			},
		},
	}

	return schema, nil
}

// ToJSON converts the schema to JSON format.
func (s *JSONSchema) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}

// ValidationError represents a configuration validation error with context.
type ValidationError struct {
	Field      string
	Value      interface{}
	Message    string
	Suggestion string
	Severity   string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v.Suggestion != "" {
		return fmt.Sprintf("%s: %s (suggestion: %s)", v.Field, v.Message, v.Suggestion)
	}
	return fmt.Sprintf("%s: %s", v.Field, v.Message)
}

// ValidationResult contains the results of configuration validation.
type ValidationResult struct {
	Valid    bool
	Errors   []ValidationError
	Warnings []ValidationError
}

// ValidateDetailed performs comprehensive validation with detailed feedback.
func (c *Config) ValidateDetailed() *ValidationResult {
	result := &ValidationResult{Valid: true, Errors: []ValidationError{}, Warnings: []ValidationError{}}

	if c.UDPPort < 0 || c.UDPPort > 65535 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field: "UDPPort", Value: c.UDPPort,
			Message:    fmt.Sprintf("invalid port number: %d", c.UDPPort),
			Suggestion: "use a port between 0 and 65535",
			Severity:   "error",
		})
	} else if c.UDPPort > 0 && c.UDPPort < 1024 {
		result.Warnings = append(result.Warnings, ValidationError{
			Field: "UDPPort", Value: c.UDPPort,
			Message:    "using privileged port (< 1024)",
			Suggestion: "consider using port >= 1024 to avoid requiring root privileges",
			Severity:   "warning",
		})
	}

	if c.MinHops < 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field: "MinHops", Value: c.MinHops,
			Message: "must be at least 1", Severity: "error",
		})
	}
	if c.MaxHops < c.MinHops {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field: "MaxHops", Value: c.MaxHops,
			Message: "must be >= MinHops", Severity: "error",
		})
	}
	if c.MaxConcurrentCircuits < c.MinConcurrentCircuits {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field: "MaxConcurrentCircuits", Value: c.MaxConcurrentCircuits,
			Message:    "must be >= MinConcurrentCircuits",
			Suggestion: fmt.Sprintf("set to at least %d", c.MinConcurrentCircuits),
			Severity:   "error",
		})
	}
	if c.MinRelayReliability < 0 || c.MinRelayReliability > 1 {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field: "MinRelayReliability", Value: c.MinRelayReliability,
			Message: "must be within [0,1]", Severity: "error",
		})
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		result.Valid = false
		result.Errors = append(result.Errors, ValidationError{
			Field: "LogLevel", Value: c.LogLevel,
			Message:    "invalid log level",
			Suggestion: "must be one of: debug, info, warn, error",
			Severity:   "error",
		})
	}

	return result
}
