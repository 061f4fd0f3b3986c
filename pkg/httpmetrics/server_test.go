package httpmetrics

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/health"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/metrics"
)

func sampleMetrics() *metrics.Metrics {
	m := metrics.New()
	m.CircuitBuilds.Add(100)
	m.CircuitBuildSuccess.Add(95)
	m.CircuitBuildFailure.Add(5)
	m.ActiveCircuits.Set(3)
	m.DatagramsSent.Add(50)
	m.DatagramsReceived.Add(48)
	m.HandshakeAttempts.Add(10)
	m.HandshakeSuccess.Add(9)
	m.ActiveStreams.Set(10)
	return m
}

// Mock health provider for testing.
type mockHealthProvider struct {
	health health.OverallHealth
}

func (m *mockHealthProvider) Check(ctx context.Context) health.OverallHealth {
	if m.health.Status == "" {
		return health.OverallHealth{
			Status:    health.StatusHealthy,
			Timestamp: time.Now(),
			Uptime:    time.Hour,
			Components: map[string]health.ComponentHealth{
				"circuits": {
					Name:        "circuits",
					Status:      health.StatusHealthy,
					Message:     "All circuits operational",
					LastChecked: time.Now(),
				},
			},
		}
	}
	return m.health
}

func TestNewServer(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if server == nil {
		t.Fatal("NewServer returned nil")
	}

	if server.address == "" {
		t.Error("Server address not set")
	}
	if server.metricsProvider == nil {
		t.Error("Metrics provider not set")
	}
	if server.healthProvider == nil {
		t.Error("Health provider not set")
	}
}

func TestServerStartStop(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)

	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}

	addr := server.GetAddress()
	if addr == "" {
		t.Error("Server address is empty after start")
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Failed to stop server: %v", err)
	}
}

func TestPrometheusMetricsEndpoint(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/metrics"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	bodyStr := string(body)
	expectedMetrics := []string{
		"tunnelcore_circuit_builds_total",
		"tunnelcore_circuit_build_success_total",
		"tunnelcore_active_circuits",
		"tunnelcore_datagrams_sent_total",
		"tunnelcore_active_streams",
		"tunnelcore_uptime_seconds",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(bodyStr, metric) {
			t.Errorf("Expected metric %s not found in response", metric)
		}
	}
}

func TestJSONMetricsEndpoint(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/metrics/json"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /metrics/json: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "application/json") {
		t.Errorf("Expected Content-Type application/json, got %s", contentType)
	}

	var snapshot metrics.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}

	if snapshot.CircuitBuilds != 100 {
		t.Errorf("Expected CircuitBuilds=100, got %d", snapshot.CircuitBuilds)
	}
	if snapshot.ActiveCircuits != 3 {
		t.Errorf("Expected ActiveCircuits=3, got %d", snapshot.ActiveCircuits)
	}
}

func TestHealthEndpoint(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/health"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 for healthy, got %d", resp.StatusCode)
	}

	var healthStatus health.OverallHealth
	if err := json.NewDecoder(resp.Body).Decode(&healthStatus); err != nil {
		t.Fatalf("Failed to decode JSON response: %v", err)
	}

	if healthStatus.Status != health.StatusHealthy {
		t.Errorf("Expected status healthy, got %s", healthStatus.Status)
	}
}

func TestHealthEndpointUnhealthy(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{
		health: health.OverallHealth{
			Status:    health.StatusUnhealthy,
			Timestamp: time.Now(),
			Components: map[string]health.ComponentHealth{
				"circuits": {
					Name:    "circuits",
					Status:  health.StatusUnhealthy,
					Message: "No circuits available",
				},
			},
		},
	}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/health"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503 for unhealthy, got %d", resp.StatusCode)
	}
}

func TestDashboardEndpoint(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/debug/metrics"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /debug/metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	contentType := resp.Header.Get("Content-Type")
	if !strings.Contains(contentType, "text/html") {
		t.Errorf("Expected Content-Type text/html, got %s", contentType)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "<!DOCTYPE html>") {
		t.Error("Expected HTML document")
	}
	if !strings.Contains(bodyStr, "tunnelcore Metrics Dashboard") {
		t.Error("Expected dashboard title")
	}
	if !strings.Contains(bodyStr, "Circuit Metrics") {
		t.Error("Expected circuit metrics section")
	}
}

func TestIndexEndpoint(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}

	bodyStr := string(body)
	expectedLinks := []string{"/metrics", "/metrics/json", "/health", "/debug/metrics"}
	for _, link := range expectedLinks {
		if !strings.Contains(bodyStr, link) {
			t.Errorf("Expected link to %s not found", link)
		}
	}
}

func TestNotFound(t *testing.T) {
	log := logger.NewDefault()
	m := sampleMetrics()
	healthProvider := &mockHealthProvider{}

	server := NewServer("127.0.0.1:0", m, healthProvider, log)
	if err := server.Start(); err != nil {
		t.Fatalf("Failed to start server: %v", err)
	}
	defer server.Stop()

	url := "http://" + server.GetAddress() + "/nonexistent"
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("Failed to GET /nonexistent: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", resp.StatusCode)
	}
}
