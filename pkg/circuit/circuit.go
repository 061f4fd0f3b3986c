// Package circuit provides the Circuit and Hop types that make up a
// multi-hop onion route, plus the table that owns them and the network
// client that matches CREATE/EXTEND requests with their responses.
package circuit

import (
	"fmt"
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/identity"
)

// State represents the current state of a circuit.
type State int

const (
	// StateCreating indicates the circuit is being built hop by hop.
	StateCreating State = iota
	// StateEstablished indicates every hop completed its key exchange.
	StateEstablished
	// StateFailed indicates construction or operation failed.
	StateFailed
	// StateClosed indicates the circuit has been disposed.
	StateClosed
)

// String returns a human-readable name for the state.
func (s State) String() string {
	switch s {
	case StateCreating:
		return "CREATING"
	case StateEstablished:
		return "ESTABLISHED"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

const (
	// MinHops is the minimum number of relays in a circuit.
	MinHops = 1
	// MaxHops is the maximum number of relays in a circuit.
	MaxHops = 3
	// DefaultLifetime is the default circuit lifetime.
	DefaultLifetime = 600 * time.Second
	// MinLifetime is the minimum circuit lifetime accepted at construction.
	MinLifetime = 60 * time.Second
)

// Hop is a single relay within a circuit. It owns the per-direction AEAD
// state for its session key; that state is established only once the
// hop's key exchange completes.
type Hop struct {
	RelayPublicKey [32]byte
	IPv4           uint32
	Port           uint16
	Index          int
	CreatedAt      time.Time

	mu              sync.Mutex
	keyExchangeDone bool
	sendCipher      *identity.HopCipher
	recvCipher      *identity.HopCipher
}

// NewHop creates a hop at the given index, not yet key-exchanged.
func NewHop(relayPublicKey [32]byte, ipv4 uint32, port uint16, index int) *Hop {
	return &Hop{
		RelayPublicKey: relayPublicKey,
		IPv4:           ipv4,
		Port:           port,
		Index:          index,
		CreatedAt:      time.Now(),
	}
}

// CompleteKeyExchange derives the hop's send/receive AEAD ciphers from a
// shared secret. The spec's wire format uses one derived key per hop
// (info = "hop-encryption-{index}"); the same key seeds both directions,
// with nonce counters kept strictly separate per direction so no (key,
// nonce) pair is ever reused between the two.
func (h *Hop) CompleteKeyExchange(sharedSecret [32]byte) error {
	key, err := identity.DeriveHopKey(sharedSecret, h.Index)
	if err != nil {
		return err
	}
	send, err := identity.NewHopCipher(key)
	if err != nil {
		return err
	}
	recv, err := identity.NewHopCipher(key)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendCipher = send
	h.recvCipher = recv
	h.keyExchangeDone = true
	return nil
}

// IsKeyExchangeComplete reports whether CompleteKeyExchange has run.
func (h *Hop) IsKeyExchangeComplete() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.keyExchangeDone
}

// Encrypt seals plaintext under this hop's outbound direction counter.
func (h *Hop) Encrypt(plaintext []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.keyExchangeDone {
		return nil, errors.AgreementFailedError("hop encrypt attempted before key exchange completed", nil)
	}
	return h.sendCipher.Encrypt(plaintext)
}

// Decrypt opens a peer-produced ciphertext under this hop's inbound
// direction counter. The first 12 bytes of data are the nonce.
func (h *Hop) Decrypt(data []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.keyExchangeDone {
		return nil, errors.AgreementFailedError("hop decrypt attempted before key exchange completed", nil)
	}
	return h.recvCipher.Decrypt(data)
}

// close disposes the hop's AEAD state. Idempotent.
func (h *Hop) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendCipher != nil {
		h.sendCipher.Close()
	}
	if h.recvCipher != nil {
		h.recvCipher.Close()
	}
	h.keyExchangeDone = false
}

// Circuit is an ordered chain of 1-3 relay hops. The Circuit Manager owns
// all Circuit values; a Tunnel Stream holds only a non-owning reference.
type Circuit struct {
	ID         uint32
	TargetHops int

	mu             sync.RWMutex
	state          State
	hops           []*Hop
	createdAt      time.Time
	lastActivityAt time.Time
	expiresAt      time.Time
	bytesSent      uint64
	bytesReceived  uint64
	rtt            time.Duration
	failReason     string
	inUse          bool
}

// New creates a circuit targeting the given hop count and lifetime.
// Hop counts outside [MinHops, MaxHops] are rejected.
func New(id uint32, targetHops int, lifetime time.Duration) (*Circuit, error) {
	if targetHops < MinHops || targetHops > MaxHops {
		return nil, errors.CodecError(fmt.Sprintf("target hop count %d outside [%d,%d]", targetHops, MinHops, MaxHops), nil)
	}
	if lifetime < MinLifetime {
		lifetime = MinLifetime
	}
	now := time.Now()
	return &Circuit{
		ID:             id,
		TargetHops:     targetHops,
		state:          StateCreating,
		createdAt:      now,
		lastActivityAt: now,
		expiresAt:      now.Add(lifetime),
	}, nil
}

// State returns the circuit's current state.
func (c *Circuit) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// HopCount returns the number of hops added so far.
func (c *Circuit) HopCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.hops)
}

// Hops returns a snapshot of the circuit's hops in construction order
// (entry=0 ... exit=N-1).
func (c *Circuit) Hops() []*Hop {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Hop, len(c.hops))
	copy(out, c.hops)
	return out
}

// AddHop appends a hop while the circuit is Creating and below target.
func (c *Circuit) AddHop(h *Hop) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return errors.DisposedError("cannot add hop to a closed circuit")
	}
	if c.state != StateCreating {
		return errors.CodecError(fmt.Sprintf("cannot add hop to circuit in state %s", c.state), nil)
	}
	if len(c.hops) >= c.TargetHops {
		return errors.CodecError("circuit already has its target hop count", nil)
	}
	c.hops = append(c.hops, h)
	c.lastActivityAt = time.Now()
	return nil
}

// MarkEstablished transitions to Established. It requires hop-count to
// equal target and every hop to have completed its key exchange.
func (c *Circuit) MarkEstablished() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return errors.DisposedError("cannot establish a closed circuit")
	}
	if len(c.hops) != c.TargetHops {
		return errors.CodecError(fmt.Sprintf("hop count %d does not match target %d", len(c.hops), c.TargetHops), nil)
	}
	for _, h := range c.hops {
		if !h.IsKeyExchangeComplete() {
			return errors.AgreementFailedError("not every hop completed its key exchange", nil)
		}
	}
	c.state = StateEstablished
	c.lastActivityAt = time.Now()
	return nil
}

// MarkFailed transitions to Failed and records reason.
func (c *Circuit) MarkFailed(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	c.state = StateFailed
	c.failReason = reason
}

// FailReason returns the reason passed to the most recent MarkFailed.
func (c *Circuit) FailReason() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.failReason
}

// RecordBytesSent adds n to the circuit's outbound byte counter.
func (c *Circuit) RecordBytesSent(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesSent += n
	c.lastActivityAt = time.Now()
}

// RecordBytesReceived adds n to the circuit's inbound byte counter.
func (c *Circuit) RecordBytesReceived(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bytesReceived += n
	c.lastActivityAt = time.Now()
}

// RecordRTT stores the most recently measured round-trip time.
func (c *Circuit) RecordRTT(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rtt = d
}

// RTT returns the most recently measured round-trip time.
func (c *Circuit) RTT() time.Duration {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.rtt
}

// SetExpiration overrides the circuit's expiry time.
func (c *Circuit) SetExpiration(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expiresAt = t
}

// IsExpired reports whether the circuit's lifetime has elapsed.
func (c *Circuit) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return time.Now().After(c.expiresAt)
}

// LastActivity returns the time of the most recent send/receive/state
// change recorded against this circuit.
func (c *Circuit) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivityAt
}

// Touch records activity without changing byte counters (used by the
// heartbeat and onion layers on every successful frame).
func (c *Circuit) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastActivityAt = time.Now()
}

// CreatedAt returns the circuit's creation time.
func (c *Circuit) CreatedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.createdAt
}

// SetInUse marks whether the pool currently has this circuit checked out.
func (c *Circuit) SetInUse(inUse bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inUse = inUse
}

// InUse reports whether the pool currently has this circuit checked out.
func (c *Circuit) InUse() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.inUse
}

// ContainsRelay reports whether publicKey is already a hop in this
// circuit, used by relay selection to avoid picking the same relay twice.
func (c *Circuit) ContainsRelay(publicKey [32]byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, h := range c.hops {
		if h.RelayPublicKey == publicKey {
			return true
		}
	}
	return false
}

// Close disposes every hop's AEAD ciphers and sets state=Closed. The key
// bytes held inside the ciphers are dropped, not overwritten with zeros.
// Idempotent: a second call is a no-op.
func (c *Circuit) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosed {
		return
	}
	for _, h := range c.hops {
		h.close()
	}
	c.state = StateClosed
}
