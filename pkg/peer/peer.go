// Package peer maintains the table of known peers: their reachability,
// handshake status, and inferred relay suitability.
package peer

import (
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/events"
	"github.com/tribler-go/tunnelcore/pkg/health"
)

// DefaultReliability is assigned to a peer before it has any recorded
// successes or failures.
const DefaultReliability = 0.5

// UnhealthyThreshold is the number of consecutive failed probes after
// which a peer is demoted from relay candidacy.
const UnhealthyThreshold = 3

// DefaultRefreshInterval is how often the table reprobes a random subset
// of known peers to detect liveness.
const DefaultRefreshInterval = 60 * time.Second

// NATType classifies a peer's observed NAT behavior.
type NATType int

const (
	NATUnknown NATType = iota
	NATRestrictedCone
	NATPortRestrictedCone
	NATSymmetric
)

func (n NATType) String() string {
	switch n {
	case NATRestrictedCone:
		return "RestrictedCone"
	case NATPortRestrictedCone:
		return "PortRestrictedCone"
	case NATSymmetric:
		return "Symmetric"
	default:
		return "Unknown"
	}
}

// Peer records everything known about one remote node.
type Peer struct {
	mu sync.RWMutex

	PublicKey [32]byte
	ID        string
	Endpoint  circuit.Endpoint

	lastSeen             time.Time
	rttMillis            float64
	rttVarianceMillis    float64
	estimatedBandwidth   float64
	successCount         int64
	failureCount         int64
	consecutiveFailures  int
	handshakeComplete    bool
	relayCandidate       bool
	natType              NATType
	protocolVersion      byte
	punctureSuccesses    int
	punctureAttempts     int
}

// New creates a Peer entry for the given identity and address.
func New(publicKey [32]byte, id string, endpoint circuit.Endpoint) *Peer {
	return &Peer{
		PublicKey: publicKey,
		ID:        id,
		Endpoint:  endpoint,
		lastSeen:  time.Now(),
		relayCandidate: true,
	}
}

// Reliability returns successes/(successes+failures), defaulting to
// DefaultReliability when nothing has been recorded yet.
func (p *Peer) Reliability() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := p.successCount + p.failureCount
	if total == 0 {
		return DefaultReliability
	}
	return float64(p.successCount) / float64(total)
}

// RecordSuccess marks a successful interaction (handshake, relay use,
// or probe) and clears the consecutive-failure streak.
func (p *Peer) RecordSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.successCount++
	p.consecutiveFailures = 0
	p.lastSeen = time.Now()
}

// RecordFailure marks a failed interaction. After UnhealthyThreshold
// consecutive failures the peer loses relay candidacy.
func (p *Peer) RecordFailure() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failureCount++
	p.consecutiveFailures++
	if p.consecutiveFailures >= UnhealthyThreshold {
		p.relayCandidate = false
	}
}

// MarkHandshakeComplete records that an IntroResponse was received.
func (p *Peer) MarkHandshakeComplete() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handshakeComplete = true
	p.lastSeen = time.Now()
}

// IsHandshakeComplete reports whether the handshake exchange succeeded.
func (p *Peer) IsHandshakeComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.handshakeComplete
}

// IsRelayCandidate reports whether this peer may still be selected as a
// circuit hop.
func (p *Peer) IsRelayCandidate() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.relayCandidate
}

// RecordRTT folds a new round-trip sample into the running mean and
// variance, following the classic exponential-moving-average estimator.
func (p *Peer) RecordRTT(sample time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ms := float64(sample.Milliseconds())
	const alpha = 0.125
	diff := ms - p.rttMillis
	p.rttMillis += alpha * diff
	p.rttVarianceMillis += alpha * (abs(diff) - p.rttVarianceMillis)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// RTTMillis returns the current smoothed round-trip estimate.
func (p *Peer) RTTMillis() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rttMillis
}

// SetEstimatedBandwidth records an out-of-band bandwidth estimate used by
// relay-preference ordering.
func (p *Peer) SetEstimatedBandwidth(bw float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.estimatedBandwidth = bw
}

// EstimatedBandwidth returns the last recorded bandwidth estimate.
func (p *Peer) EstimatedBandwidth() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.estimatedBandwidth
}

// RecordPunctureOutcome folds a NAT-traversal attempt into the per-peer
// counters and recomputes the inferred NAT type once at least three
// attempts have been observed.
func (p *Peer) RecordPunctureOutcome(success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.punctureAttempts++
	if success {
		p.punctureSuccesses++
	}
	if p.punctureAttempts < 3 {
		return
	}
	failureRate := 1 - float64(p.punctureSuccesses)/float64(p.punctureAttempts)
	switch {
	case failureRate >= 0.5:
		p.natType = NATSymmetric
	case failureRate < 0.2 && p.punctureSuccesses > 0:
		p.natType = NATPortRestrictedCone
	default:
		p.natType = NATRestrictedCone
	}
}

// NATType returns the currently inferred NAT classification.
func (p *Peer) NATType() NATType {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.natType
}

// IsPunctureTarget reports whether this peer may still be attempted as a
// hole-punch target. Symmetric NAT peers are relay-eligible but are never
// retried for puncturing.
func (p *Peer) IsPunctureTarget() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.natType != NATSymmetric
}

// LastSeen returns the timestamp of the most recent successful
// interaction with this peer.
func (p *Peer) LastSeen() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastSeen
}

// MarkSeen refreshes the last-seen timestamp without affecting
// reliability counters, used by the periodic liveness probe.
func (p *Peer) MarkSeen() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastSeen = time.Now()
}

// Table is the set of known peers, keyed by peer id.
type Table struct {
	mu             sync.RWMutex
	peers          map[string]*Peer
	lastRefresh    time.Time
	dispatcher     *events.Dispatcher
}

// NewTable creates an empty peer table. dispatcher may be nil.
func NewTable(dispatcher *events.Dispatcher) *Table {
	return &Table{
		peers:      make(map[string]*Peer),
		dispatcher: dispatcher,
	}
}

// Add registers a new peer, or returns the existing entry if one with the
// same id is already present. Returns the entry and whether it is newly
// inserted.
func (t *Table) Add(p *Peer) (*Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.peers[p.ID]; ok {
		return existing, false
	}
	t.peers[p.ID] = p
	if t.dispatcher != nil {
		t.dispatcher.Dispatch(events.PeerDiscoveredEvent{
			PeerID: p.ID,
			IPv4:   p.Endpoint.IPv4,
			Port:   p.Endpoint.Port,
		})
	}
	return p, true
}

// Remove deletes a peer from the table.
func (t *Table) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, id)
}

// Lookup returns the peer for id, if known.
func (t *Table) Lookup(id string) (*Peer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.peers[id]
	return p, ok
}

// RelayCandidates returns every peer currently eligible for circuit
// construction: handshake-complete and still flagged relay-candidate.
func (t *Table) RelayCandidates() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		if p.IsHandshakeComplete() && p.IsRelayCandidate() {
			out = append(out, p)
		}
	}
	return out
}

// All returns every known peer, regardless of candidacy.
func (t *Table) All() []*Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, p)
	}
	return out
}

// Count returns the number of known peers.
func (t *Table) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.peers)
}

// MarkRefreshed records that a liveness refresh pass has just completed.
func (t *Table) MarkRefreshed() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastRefresh = time.Now()
}

// LastRefresh returns the timestamp of the most recent refresh pass.
func (t *Table) LastRefresh() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRefresh
}

// Stats summarizes the table for the health checker.
func (t *Table) Stats(refreshInterval time.Duration) health.PeerStats {
	t.mu.RLock()
	defer t.mu.RUnlock()
	candidates := 0
	for _, p := range t.peers {
		if p.IsHandshakeComplete() && p.IsRelayCandidate() {
			candidates++
		}
	}
	return health.PeerStats{
		KnownPeers:      len(t.peers),
		RelayCandidates: candidates,
		LastRefresh:     t.lastRefresh,
		RefreshInterval: refreshInterval,
	}
}
