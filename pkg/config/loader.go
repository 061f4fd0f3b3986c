// Package config provides configuration file loading for tunnelcore.conf files.
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// LoadFromFile loads configuration from a tunnelcore.conf-style file.
// It parses the file line by line and updates the provided config.
// Lines starting with # are treated as comments and ignored.
// Each configuration line follows the format: Key Value
func LoadFromFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePath(path); err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	file, err := os.Open(path) // #nosec G304 - path is validated by validatePath
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 1 {
			continue
		}

		key := parts[0]
		value := ""
		if len(parts) > 1 {
			value = strings.Join(parts[1:], " ")
		}

		if err := processConfigOption(cfg, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNum, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	return nil
}

func processConfigOption(cfg *Config, key, value string) error {
	switch key {
	case "UDPPort":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid UDPPort value: %s", value)
		}
		cfg.UDPPort = port

	case "DataDirectory":
		cfg.DataDirectory = value

	case "DefaultHops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid DefaultHops value: %s", value)
		}
		cfg.DefaultHops = n

	case "MinHops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MinHops value: %s", value)
		}
		cfg.MinHops = n

	case "MaxHops":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MaxHops value: %s", value)
		}
		cfg.MaxHops = n

	case "MinConcurrentCircuits":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MinConcurrentCircuits value: %s", value)
		}
		cfg.MinConcurrentCircuits = n

	case "MaxConcurrentCircuits":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MaxConcurrentCircuits value: %s", value)
		}
		cfg.MaxConcurrentCircuits = n

	case "CircuitLifetimeSeconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CircuitLifetimeSeconds value: %s", value)
		}
		cfg.CircuitLifetimeSeconds = n

	case "CircuitEstablishmentTimeoutSeconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CircuitEstablishmentTimeoutSeconds value: %s", value)
		}
		cfg.CircuitEstablishmentTimeoutSeconds = n

	case "MinRelayReliability":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid MinRelayReliability value: %s", value)
		}
		cfg.MinRelayReliability = f

	case "PreferHighBandwidthRelay":
		cfg.PreferHighBandwidthRelay = parseBool(value)

	case "PreferLowLatencyRelay":
		cfg.PreferLowLatencyRelay = parseBool(value)

	case "AllowNonAnonymousFallback":
		cfg.AllowNonAnonymousFallback = parseBool(value)

	case "EnableCircuitHealthMonitoring":
		cfg.EnableCircuitHealthMonitoring = parseBool(value)

	case "CircuitHealthCheckIntervalSeconds":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid CircuitHealthCheckIntervalSeconds value: %s", value)
		}
		cfg.CircuitHealthCheckIntervalSeconds = n

	case "LogLevel":
		cfg.LogLevel = strings.ToLower(value)

	case "MetricsPort":
		port, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid MetricsPort value: %s", value)
		}
		cfg.MetricsPort = port

	case "EnableMetrics":
		cfg.EnableMetrics = parseBool(value)

	case "BootstrapEndpoint":
		cfg.BootstrapEndpoints = append(cfg.BootstrapEndpoints, value)

	default:
		// Silently ignore unknown options for forward compatibility.
	}

	return nil
}

// parseBool parses a boolean value from various string formats.
// Accepts: 1/0, true/false, yes/no, on/off (case-insensitive)
func parseBool(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	switch s {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return false
	}
}

// validatePath validates a file path to prevent directory traversal attacks.
func validatePath(path string) error {
	cleanPath := filepath.Clean(path)
	if strings.Contains(cleanPath, "..") {
		return fmt.Errorf("invalid path: directory traversal detected")
	}
	if !filepath.IsAbs(path) && filepath.IsAbs(cleanPath) {
		return fmt.Errorf("invalid path: attempts to escape working directory")
	}
	return nil
}

// SaveToFile saves the configuration to a tunnelcore.conf-style file.
func SaveToFile(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validatePath(path); err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}

	file, err := os.Create(path) // #nosec G304 - path is validated by validatePath
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	defer writer.Flush()

	fmt.Fprintf(writer, "# tunnelcore configuration file\n")
	fmt.Fprintf(writer, "# Generated automatically - edit with care\n\n")

	fmt.Fprintf(writer, "# Network Settings\n")
	fmt.Fprintf(writer, "UDPPort %d\n", cfg.UDPPort)
	fmt.Fprintf(writer, "DataDirectory %s\n\n", cfg.DataDirectory)

	fmt.Fprintf(writer, "# Circuit Shape\n")
	fmt.Fprintf(writer, "DefaultHops %d\n", cfg.DefaultHops)
	fmt.Fprintf(writer, "MinHops %d\n", cfg.MinHops)
	fmt.Fprintf(writer, "MaxHops %d\n\n", cfg.MaxHops)

	fmt.Fprintf(writer, "# Circuit Pool\n")
	fmt.Fprintf(writer, "MinConcurrentCircuits %d\n", cfg.MinConcurrentCircuits)
	fmt.Fprintf(writer, "MaxConcurrentCircuits %d\n", cfg.MaxConcurrentCircuits)
	fmt.Fprintf(writer, "CircuitLifetimeSeconds %d\n", cfg.CircuitLifetimeSeconds)
	fmt.Fprintf(writer, "CircuitEstablishmentTimeoutSeconds %d\n\n", cfg.CircuitEstablishmentTimeoutSeconds)

	fmt.Fprintf(writer, "# Relay Selection\n")
	fmt.Fprintf(writer, "MinRelayReliability %s\n", strconv.FormatFloat(cfg.MinRelayReliability, 'f', 2, 64))
	fmt.Fprintf(writer, "PreferHighBandwidthRelay %s\n", formatBool(cfg.PreferHighBandwidthRelay))
	fmt.Fprintf(writer, "PreferLowLatencyRelay %s\n\n", formatBool(cfg.PreferLowLatencyRelay))

	fmt.Fprintf(writer, "# Fallback\n")
	fmt.Fprintf(writer, "AllowNonAnonymousFallback %s\n\n", formatBool(cfg.AllowNonAnonymousFallback))

	fmt.Fprintf(writer, "# Health Monitoring\n")
	fmt.Fprintf(writer, "EnableCircuitHealthMonitoring %s\n", formatBool(cfg.EnableCircuitHealthMonitoring))
	fmt.Fprintf(writer, "CircuitHealthCheckIntervalSeconds %d\n\n", cfg.CircuitHealthCheckIntervalSeconds)

	fmt.Fprintf(writer, "# Logging and Metrics\n")
	fmt.Fprintf(writer, "LogLevel %s\n", cfg.LogLevel)
	fmt.Fprintf(writer, "MetricsPort %d\n", cfg.MetricsPort)
	fmt.Fprintf(writer, "EnableMetrics %s\n", formatBool(cfg.EnableMetrics))

	for _, ep := range cfg.BootstrapEndpoints {
		fmt.Fprintf(writer, "BootstrapEndpoint %s\n", ep)
	}

	return writer.Flush()
}

// formatBool formats a boolean for writing to config file
func formatBool(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
