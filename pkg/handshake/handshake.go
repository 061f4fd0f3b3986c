// Package handshake implements the introduction/puncture exchange used
// to establish reachability with a peer and to infer its NAT behavior.
package handshake

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/events"
	"github.com/tribler-go/tunnelcore/pkg/identity"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/metrics"
	"github.com/tribler-go/tunnelcore/pkg/peer"
	"github.com/tribler-go/tunnelcore/pkg/resources"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// Timeout is how long a session may sit in a non-terminal state before a
// State() query reports it as TimedOut.
const Timeout = 10 * time.Second

// State is a handshake session's position in the 4-message exchange.
type State int

const (
	StateNone State = iota
	StateIntroRequestSent
	StateIntroResponseReceived
	StatePunctureRequestSent
	StatePunctureReceived
	StateTimedOut
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNone:
		return "None"
	case StateIntroRequestSent:
		return "IntroRequestSent"
	case StateIntroResponseReceived:
		return "IntroResponseReceived"
	case StatePunctureRequestSent:
		return "PunctureRequestSent"
	case StatePunctureReceived:
		return "PunctureReceived"
	case StateTimedOut:
		return "TimedOut"
	case StateFailed:
		return "Failed"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

func (s State) terminal() bool {
	return s == StateTimedOut || s == StateFailed
}

// Session tracks one in-flight handshake attempt toward a target peer.
type Session struct {
	mu sync.Mutex

	identifier     uint16
	target         circuit.Endpoint
	state          State
	lastTransition time.Time
	candidate      wire.SocketAddress
	hasCandidate   bool
	recorded       bool
}

func newSession(identifier uint16, target circuit.Endpoint) *Session {
	return &Session{
		identifier:     identifier,
		target:         target,
		state:          StateIntroRequestSent,
		lastTransition: time.Now(),
	}
}

// State returns the session's current state, applying the 10 s timeout
// rule: a non-terminal session queried more than Timeout after its last
// transition reports TimedOut.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.terminal() && time.Since(s.lastTransition) > Timeout {
		s.state = StateTimedOut
	}
	return s.state
}

func (s *Session) transition(to State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = to
	s.lastTransition = time.Now()
}

// Identifier returns the 16-bit request identifier this session was
// registered under.
func (s *Session) Identifier() uint16 {
	return s.identifier
}

// Manager drives handshake sessions: sending IntroRequest/PunctureRequest
// datagrams, routing inbound IntroResponse/Puncture frames to the right
// session, and feeding outcomes into the peer table and metrics.
type Manager struct {
	sender circuit.Sender
	prefix wire.Prefix

	peers      *peer.Table
	metrics    *metrics.Metrics
	dispatcher *events.Dispatcher
	logger     *logger.Logger

	mu       sync.Mutex
	sessions map[uint16]*Session
}

// Config holds Manager construction parameters.
type Config struct {
	Sender     circuit.Sender
	Prefix     wire.Prefix
	Peers      *peer.Table
	Metrics    *metrics.Metrics
	Dispatcher *events.Dispatcher
	Logger     *logger.Logger
}

// NewManager builds a handshake Manager.
func NewManager(cfg Config) *Manager {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault()
	}
	return &Manager{
		sender:     cfg.Sender,
		prefix:     cfg.Prefix,
		peers:      cfg.Peers,
		metrics:    cfg.Metrics,
		dispatcher: cfg.Dispatcher,
		logger:     log.Component("handshake"),
		sessions:   make(map[uint16]*Session),
	}
}

func randomIdentifier() (uint16, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.InternalError("failed to generate handshake identifier", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// StartIntroRequest sends an IntroRequest to target carrying our LAN and
// WAN source addresses, and registers a new session under a random
// identifier.
func (m *Manager) StartIntroRequest(target circuit.Endpoint, lan, wan wire.SocketAddress) (*Session, error) {
	id, err := randomIdentifier()
	if err != nil {
		return nil, err
	}

	payload := wire.EncodeIntroRequest(wire.IntroRequestPayload{
		Destination: wire.SocketAddress{IPv4: target.IPv4, Port: target.Port},
		SourceLAN:   lan,
		SourceWAN:   wan,
		Identifier:  id,
	})
	frame := append(m.prefix.Encode(byte(wire.MsgIntroRequest)), payload...)
	if err := m.sender.SendTo(frame, target); err != nil {
		return nil, errors.SendError("failed to send IntroRequest", err)
	}

	session := newSession(id, target)
	m.mu.Lock()
	m.sessions[id] = session
	m.mu.Unlock()

	m.logger.Debug("sent IntroRequest", "identifier", id, "target_ipv4", target.IPv4, "target_port", target.Port)
	return session, nil
}

// Bootstrap probes every embedded bootstrap endpoint with an IntroRequest
// carrying lan/wan as our source addresses, populating the peer table as
// responses arrive through HandleIntroResponse. It returns once every probe
// has been sent (or reports the error reading the embedded endpoint list);
// send failures against individual endpoints are logged and otherwise
// ignored so one unreachable bootstrap node cannot block the rest.
func (m *Manager) Bootstrap(lan, wan wire.SocketAddress) error {
	endpoints, err := resources.GetBootstrapEndpoints()
	if err != nil {
		return err
	}

	for _, ep := range endpoints {
		if _, err := m.StartIntroRequest(ep, lan, wan); err != nil {
			m.logger.Debug("bootstrap probe failed", "target_ipv4", ep.IPv4, "target_port", ep.Port, "error", err)
		}
	}
	return nil
}

// BootstrapComplete reports whether at least one peer has finished a
// handshake, the signal that bootstrap has produced a usable peer.
func (m *Manager) BootstrapComplete() bool {
	for _, p := range m.peers.All() {
		if p.IsHandshakeComplete() {
			return true
		}
	}
	return false
}

// HandleIntroResponse routes an inbound IntroResponse to its session.
// Within Timeout of the original IntroRequest it transitions the session
// to IntroResponseReceived and marks the target handshake-complete; a
// stale or unknown identifier is ignored.
func (m *Manager) HandleIntroResponse(payload wire.IntroResponsePayload) {
	session := m.lookup(payload.Identifier)
	if session == nil {
		return
	}
	if session.State() != StateIntroRequestSent {
		return
	}

	session.mu.Lock()
	if payload.HasCandidate() {
		session.candidate = payload.Candidate
		session.hasCandidate = true
	}
	session.mu.Unlock()
	session.transition(StateIntroResponseReceived)

	m.lookupOrAddPeer(session.target).MarkHandshakeComplete()

	m.recordOutcome(session, true, false)
}

// CandidateForPuncture reports the third-party candidate offered in the
// IntroResponse, if any.
func (s *Session) CandidateForPuncture() (wire.SocketAddress, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.candidate, s.hasCandidate
}

// SendPunctureRequest asks the candidate named in session's IntroResponse
// to send a Puncture datagram back to us, advancing the session to
// PunctureRequestSent.
func (m *Manager) SendPunctureRequest(session *Session) error {
	candidate, ok := session.CandidateForPuncture()
	if !ok {
		return errors.ConfigurationError("session carries no puncture candidate", nil)
	}

	payload := wire.EncodePunctureRequest(wire.PunctureRequestPayload{
		Identifier: session.identifier,
		Target:     candidate,
	})
	frame := append(m.prefix.Encode(byte(wire.MsgPunctureRequest)), payload...)
	dst := circuit.Endpoint{IPv4: candidate.IPv4, Port: candidate.Port}
	if err := m.sender.SendTo(frame, dst); err != nil {
		return errors.SendError("failed to send PunctureRequest", err)
	}

	session.transition(StatePunctureRequestSent)
	return nil
}

// HandlePuncture routes an inbound Puncture datagram to its session,
// marking it PunctureReceived and recording a NAT-inference success for
// the originating peer.
func (m *Manager) HandlePuncture(payload wire.PuncturePayload, from circuit.Endpoint) {
	session := m.lookup(payload.Identifier)
	if session == nil {
		return
	}
	session.transition(StatePunctureReceived)

	m.lookupOrAddPeer(from).RecordPunctureOutcome(true)
}

// RecordPunctureFailure folds a failed puncture attempt into the target
// peer's NAT-inference counters. Callers invoke this when a
// PunctureRequestSent session times out without a Puncture arriving.
func (m *Manager) RecordPunctureFailure(session *Session) {
	if p, ok := m.peers.Lookup(peerIDFor(session.target)); ok {
		p.RecordPunctureOutcome(false)
	}
}

func (m *Manager) lookup(identifier uint16) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[identifier]
}

// Forget removes a session from the manager, typically once its outcome
// has been recorded.
func (m *Manager) Forget(session *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, session.identifier)
}

func (m *Manager) recordOutcome(session *Session, success, timedOut bool) {
	session.mu.Lock()
	already := session.recorded
	session.recorded = true
	session.mu.Unlock()
	if already {
		return
	}
	if m.metrics != nil {
		m.metrics.RecordHandshake(success, timedOut)
	}
}

// ReapTimeouts scans every tracked session and records a timeout outcome
// for any that have aged out of a non-terminal state. Call periodically
// from the peer/handshake maintenance loop.
func (m *Manager) ReapTimeouts() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		if s.State() == StateTimedOut {
			m.recordOutcome(s, false, true)
			m.Forget(s)
		}
	}
}

// syntheticPublicKey stands in for a cryptographic public key when all we
// know about a peer is the endpoint it answered an IntroRequest or Puncture
// from: handshake wire messages carry no public key of their own, one only
// arrives later via the CREATE/CREATED key exchange if the peer is used as
// a relay hop.
func syntheticPublicKey(ep circuit.Endpoint) [32]byte {
	var key [32]byte
	binary.BigEndian.PutUint32(key[0:4], ep.IPv4)
	binary.BigEndian.PutUint16(key[4:6], ep.Port)
	return key
}

// peerIDFor derives a peer table key from an endpoint using the same
// identity.PeerIDFromPublicKey scheme every other peer in the table is
// keyed by, so a peer discovered here and later re-identified by its real
// public key resolve to consistent table entries.
func peerIDFor(ep circuit.Endpoint) string {
	key := syntheticPublicKey(ep)
	return identity.PeerIDFromPublicKey(key[:])
}

// lookupOrAddPeer returns the peer table entry for ep, inserting a new one
// keyed by peerIDFor(ep) if none exists yet. This is how the peer table
// first learns about a peer: any valid IntroResponse or Puncture populates
// it.
func (m *Manager) lookupOrAddPeer(ep circuit.Endpoint) *peer.Peer {
	id := peerIDFor(ep)
	if p, ok := m.peers.Lookup(id); ok {
		return p
	}
	p, _ := m.peers.Add(peer.New(syntheticPublicKey(ep), id, ep))
	return p
}
