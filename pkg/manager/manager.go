// Package manager implements the circuit manager: relay selection,
// circuit construction, and the background maintenance, recovery, and
// heartbeat passes that keep the circuit pool healthy.
package manager

import (
	"context"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/events"
	"github.com/tribler-go/tunnelcore/pkg/identity"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/metrics"
	"github.com/tribler-go/tunnelcore/pkg/peer"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// Config holds the Circuit Manager's tunables.
type Config struct {
	MinHops    int
	MaxHops    int
	MinConcurrent int
	MaxConcurrent int

	EstablishmentTimeout time.Duration
	Lifetime             time.Duration
	MinRelayReliability  float64

	PreferHighBandwidth bool
	PreferLowLatency    bool

	MaintenanceInterval time.Duration
	RecoveryInterval    time.Duration
	RecoveryDeadline    time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatTimeout    time.Duration
}

// DefaultConfig returns the manager's tunables with the values named in
// the circuit-manager design.
func DefaultConfig() Config {
	return Config{
		MinHops:              circuit.MinHops,
		MaxHops:              circuit.MaxHops,
		MinConcurrent:        2,
		MaxConcurrent:        8,
		EstablishmentTimeout: 30 * time.Second,
		Lifetime:             circuit.DefaultLifetime,
		MinRelayReliability:  0.7,
		MaintenanceInterval:  5 * time.Second,
		RecoveryInterval:     5 * time.Second,
		RecoveryDeadline:     30 * time.Second,
		HeartbeatInterval:    30 * time.Second,
		HeartbeatTimeout:     90 * time.Second,
	}
}

// Manager is the central algorithm described by the circuit-manager
// design: it owns the circuit table, drives construction end to end, and
// runs the background passes that keep the circuit population healthy.
type Manager struct {
	cfg Config

	circuits  *circuit.Table
	peers     *peer.Table
	netClient *circuit.NetworkClient
	ourIdentity *identity.Identity

	metrics    *metrics.Metrics
	dispatcher *events.Dispatcher
	logger     *logger.Logger

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New builds a Manager. ourIdentity's public key is carried in outbound
// CREATE/EXTEND frames so relays can identify the circuit's initiator.
func New(cfg Config, circuits *circuit.Table, peers *peer.Table, netClient *circuit.NetworkClient, ourIdentity *identity.Identity, m *metrics.Metrics, dispatcher *events.Dispatcher, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{
		cfg:         cfg,
		circuits:    circuits,
		peers:       peers,
		netClient:   netClient,
		ourIdentity: ourIdentity,
		metrics:     m,
		dispatcher:  dispatcher,
		logger:      log.Component("manager"),
		stopCh:      make(chan struct{}),
	}
}

// selectRelay implements 4.8.1: candidates are handshake-complete,
// relay-capable, not already a hop in c, and reliability >= the
// configured minimum; the constraint is relaxed if that set is empty.
// The surviving set is ordered by preference and one of the top 5 is
// picked uniformly at random to preserve path diversity under load.
func (m *Manager) selectRelay(c *circuit.Circuit) (*peer.Peer, error) {
	all := m.peers.RelayCandidates()

	notInCircuit := make([]*peer.Peer, 0, len(all))
	for _, p := range all {
		if !c.ContainsRelay(p.PublicKey) {
			notInCircuit = append(notInCircuit, p)
		}
	}

	reliable := make([]*peer.Peer, 0, len(notInCircuit))
	for _, p := range notInCircuit {
		if p.Reliability() >= m.cfg.MinRelayReliability {
			reliable = append(reliable, p)
		}
	}

	candidates := reliable
	if len(candidates) == 0 {
		candidates = notInCircuit
	}
	if len(candidates) == 0 {
		return nil, errors.NoRelayError("no eligible relay available")
	}

	sort.Slice(candidates, func(i, j int) bool {
		return m.preferenceScore(candidates[i]) > m.preferenceScore(candidates[j])
	})

	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	return top[rand.Intn(len(top))], nil
}

// preferenceScore combines bandwidth and RTT into a single ordering key.
// Higher is better. RTT is inverted so lower latency scores higher.
func (m *Manager) preferenceScore(p *peer.Peer) float64 {
	var score float64
	if m.cfg.PreferHighBandwidth {
		score += p.EstimatedBandwidth()
	}
	if m.cfg.PreferLowLatency {
		rtt := p.RTTMillis()
		if rtt > 0 {
			score += 1000.0 / rtt
		}
	}
	return score
}

// CreateCircuit implements 4.8.2: construction proceeds hop by hop, each
// hop reached via CREATE (hop 0) or EXTEND (hop > 0), deriving the AEAD
// key for the new hop from the X25519 agreement between our ephemeral
// private key and the ephemeral public key the relay returns.
func (m *Manager) CreateCircuit(ctx context.Context, hops int) (*circuit.Circuit, error) {
	if hops < m.cfg.MinHops || hops > m.cfg.MaxHops {
		return nil, errors.ConfigurationError("requested hop count outside configured bounds", nil)
	}
	if m.circuits.CountInState(circuit.StateEstablished)+m.circuits.CountInState(circuit.StateCreating) >= m.cfg.MaxConcurrent {
		return nil, errors.LimitReachedError("maximum concurrent circuits reached")
	}

	started := time.Now()
	id := m.circuits.NextID()
	c, err := circuit.New(id, hops, m.cfg.Lifetime)
	if err != nil {
		return nil, err
	}
	m.circuits.Insert(c)

	var entry circuit.Endpoint
	for i := 0; i < hops; i++ {
		relay, err := m.selectRelay(c)
		if err != nil {
			c.MarkFailed("no relay at hop " + strconv.Itoa(i))
			m.recordBuildFailure(started)
			return nil, err
		}

		ephemeral, err := identity.GenerateEphemeralKeyPair()
		if err != nil {
			relay.RecordFailure()
			c.MarkFailed("ephemeral key generation failed")
			m.recordBuildFailure(started)
			return nil, err
		}

		var created wire.CreatedPayload
		if i == 0 {
			entry = relay.Endpoint
			created, err = m.netClient.SendCreate(ctx, relay.Endpoint, c.ID, m.identityPublicKey(), ephemeral.Public)
		} else {
			created, err = m.netClient.SendExtend(ctx, entry, c.ID, m.identityPublicKey(), relay.Endpoint.IPv4, relay.Endpoint.Port)
		}
		if err != nil {
			relay.RecordFailure()
			c.MarkFailed("relay exchange failed at hop " + strconv.Itoa(i))
			m.recordBuildFailure(started)
			return nil, err
		}

		sharedSecret, err := identity.Agree(ephemeral.Private, created.EphemeralKey)
		if err != nil {
			relay.RecordFailure()
			c.MarkFailed("key agreement failed at hop " + strconv.Itoa(i))
			m.recordBuildFailure(started)
			return nil, err
		}

		hop := circuit.NewHop(relay.PublicKey, relay.Endpoint.IPv4, relay.Endpoint.Port, i)
		if err := hop.CompleteKeyExchange(sharedSecret); err != nil {
			relay.RecordFailure()
			c.MarkFailed("hop key derivation failed at hop " + strconv.Itoa(i))
			m.recordBuildFailure(started)
			return nil, err
		}
		if err := c.AddHop(hop); err != nil {
			relay.RecordFailure()
			c.MarkFailed(err.Error())
			m.recordBuildFailure(started)
			return nil, err
		}
		relay.RecordSuccess()
	}

	if err := c.MarkEstablished(); err != nil {
		m.recordBuildFailure(started)
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.RecordCircuitBuild(true, time.Since(started))
	}
	if m.dispatcher != nil {
		m.dispatcher.Dispatch(events.CircuitEstablishedEvent{CircuitID: c.ID, HopCount: hops})
	}
	m.logger.Info("circuit established", "circuit_id", c.ID, "hops", hops)
	return c, nil
}

func (m *Manager) recordBuildFailure(started time.Time) {
	if m.metrics != nil {
		m.metrics.RecordCircuitBuild(false, time.Since(started))
	}
}

func (m *Manager) identityPublicKey() [32]byte {
	var pub [32]byte
	if m.ourIdentity == nil {
		return pub
	}
	copy(pub[:], m.ourIdentity.PublicKey)
	return pub
}

// RetryCreate implements 4.8.6: up to maxAttempts attempts, sleeping
// attempt*1s between them, bounded by an overall deadline equal to the
// establishment timeout.
func (m *Manager) RetryCreate(ctx context.Context, hops, maxAttempts int) (*circuit.Circuit, error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.EstablishmentTimeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		c, err := m.CreateCircuit(ctx, hops)
		if err == nil {
			return c, nil
		}
		lastErr = err
		if attempt == maxAttempts {
			break
		}
		select {
		case <-time.After(time.Duration(attempt) * time.Second):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

// Start launches the background maintenance, recovery, and heartbeat
// passes. Call Stop to tear them down.
func (m *Manager) Start(ctx context.Context) {
	m.wg.Add(3)
	go m.maintenanceLoop(ctx)
	go m.recoveryLoop(ctx)
	go m.heartbeatLoop(ctx)
}

// Stop halts every background pass and waits for them to exit.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

// maintenanceLoop implements 4.8.3: enforce min <= active <= max every
// MaintenanceInterval.
func (m *Manager) maintenanceLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.enforceBounds(ctx)
		}
	}
}

func (m *Manager) enforceBounds(ctx context.Context) {
	active := m.circuits.CountInState(circuit.StateEstablished)

	for active < m.cfg.MinConcurrent {
		if _, err := m.CreateCircuit(ctx, m.cfg.MinHops); err != nil {
			m.logger.Warn("maintenance: failed to create circuit toward minimum", "error", err)
			return
		}
		active++
	}

	if active > m.cfg.MaxConcurrent {
		established := establishedByLastActivity(m.circuits.All())
		excess := active - m.cfg.MaxConcurrent
		for i := 0; i < excess && i < len(established); i++ {
			established[i].Close()
			m.circuits.Remove(established[i].ID)
		}
	}
}

func establishedByLastActivity(all []*circuit.Circuit) []*circuit.Circuit {
	out := make([]*circuit.Circuit, 0, len(all))
	for _, c := range all {
		if c.State() == circuit.StateEstablished {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActivity().Before(out[j].LastActivity())
	})
	return out
}

// recoveryLoop implements 4.8.4: scan for Failed or expired circuits
// every RecoveryInterval, remove them, and attempt a replacement under a
// deadline.
func (m *Manager) recoveryLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.recoverFailed(ctx)
		}
	}
}

func (m *Manager) recoverFailed(ctx context.Context) {
	for _, c := range m.circuits.All() {
		if c.State() != circuit.StateFailed && !c.IsExpired() {
			continue
		}
		m.circuits.Remove(c.ID)
		c.Close()

		recoverCtx, cancel := context.WithTimeout(ctx, m.cfg.RecoveryDeadline)
		if _, err := m.CreateCircuit(recoverCtx, c.TargetHops); err != nil {
			m.logger.Warn("recovery: replacement circuit failed", "circuit_id", c.ID, "error", err)
		}
		cancel()
	}
	m.enforceBounds(ctx)
}

// heartbeatLoop implements 4.8.5: inspect every established circuit every
// HeartbeatInterval; one that has missed 3 heartbeats (idle beyond
// HeartbeatTimeout) is marked Failed and a TimedOut event is emitted.
func (m *Manager) heartbeatLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.checkHeartbeats()
		}
	}
}

func (m *Manager) checkHeartbeats() {
	now := time.Now()
	for _, c := range m.circuits.All() {
		if c.State() != circuit.StateEstablished {
			continue
		}
		inactiveFor := now.Sub(c.LastActivity())
		if inactiveFor <= m.cfg.HeartbeatTimeout {
			continue
		}
		c.MarkFailed("timeout")
		if m.dispatcher != nil {
			m.dispatcher.Dispatch(events.CircuitTimedOutEvent{
				CircuitID:    c.ID,
				LastActivity: c.LastActivity(),
				InactiveFor:  inactiveFor,
			})
		}
	}
}

