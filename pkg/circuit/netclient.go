package circuit

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// RequestTimeout is the default deadline for a CREATE or EXTEND exchange.
const RequestTimeout = 10 * time.Second

// Endpoint is an IPv4/port destination for an outbound datagram.
type Endpoint struct {
	IPv4 uint32
	Port uint16
}

// Sender is the minimal capability the network client needs from the
// transport layer: addressed datagram send. Production code supplies the
// real UDP transport; tests supply a fake.
type Sender interface {
	SendTo(data []byte, dst Endpoint) error
}

type waiter struct {
	resultCh chan wire.CreatedPayload
	errCh    chan error
}

// NetworkClient matches outbound CREATE/EXTEND requests with their
// CREATED/EXTENDED responses via two waiter maps keyed by the 16-bit
// identifier carried in the wire messages. At most one waiter is
// registered per identifier at a time.
type NetworkClient struct {
	sender  Sender
	prefix  wire.Prefix
	timeout time.Duration

	mu            sync.Mutex
	createWaiters map[uint16]*waiter
	extendWaiters map[uint16]*waiter

	unmatchedFrames uint64
}

// NewNetworkClient builds a client that sends through sender, stamping
// every message with prefix (community id + circuit service byte).
func NewNetworkClient(sender Sender, prefix wire.Prefix) *NetworkClient {
	return &NetworkClient{
		sender:        sender,
		prefix:        prefix,
		timeout:       RequestTimeout,
		createWaiters: make(map[uint16]*waiter),
		extendWaiters: make(map[uint16]*waiter),
	}
}

func randomIdentifier() (uint16, error) {
	var buf [2]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return 0, errors.InternalError("failed to generate request identifier", err)
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// SendCreate sends a CREATE to relay and blocks until the matching
// CREATED arrives, ctx is cancelled, or the request times out with
// Network/Timeout.
func (nc *NetworkClient) SendCreate(ctx context.Context, relay Endpoint, circuitID uint32, nodePublicKey, ephemeralKey [32]byte) (wire.CreatedPayload, error) {
	id, err := randomIdentifier()
	if err != nil {
		return wire.CreatedPayload{}, err
	}
	w := nc.registerCreate(id)
	defer nc.unregisterCreate(id)

	payload := wire.EncodeCreate(wire.CreatePayload{
		CircuitID:     circuitID,
		Identifier:    id,
		NodePublicKey: nodePublicKey,
		EphemeralKey:  ephemeralKey,
	})
	frame := append(nc.prefix.Encode(byte(wire.MsgCreate)), payload...)
	if err := nc.sender.SendTo(frame, relay); err != nil {
		return wire.CreatedPayload{}, errors.SendError("failed to send CREATE", err)
	}

	return nc.await(ctx, w)
}

// SendExtend sends an EXTEND to the circuit's current last hop (the
// caller addresses it via the circuit's entry, per the onion routing
// layer) and blocks until the matching EXTENDED arrives.
func (nc *NetworkClient) SendExtend(ctx context.Context, entryHop Endpoint, circuitID uint32, nodePublicKey [32]byte, nextHopIPv4 uint32, nextHopPort uint16) (wire.CreatedPayload, error) {
	id, err := randomIdentifier()
	if err != nil {
		return wire.CreatedPayload{}, err
	}
	w := nc.registerExtend(id)
	defer nc.unregisterExtend(id)

	payload := wire.EncodeExtend(wire.ExtendPayload{
		CircuitID:     circuitID,
		NodePublicKey: nodePublicKey,
		IPv4:          nextHopIPv4,
		Port:          nextHopPort,
		Identifier:    id,
	})
	frame := append(nc.prefix.Encode(byte(wire.MsgExtend)), payload...)
	if err := nc.sender.SendTo(frame, entryHop); err != nil {
		return wire.CreatedPayload{}, errors.SendError("failed to send EXTEND", err)
	}

	return nc.await(ctx, w)
}

// SendDestroy is fire-and-forget: it does not wait for a response.
func (nc *NetworkClient) SendDestroy(relay Endpoint, circuitID uint32, reason uint16) error {
	payload := wire.EncodeDestroy(wire.DestroyPayload{CircuitID: circuitID, Reason: reason})
	frame := append(nc.prefix.Encode(byte(wire.MsgDestroy)), payload...)
	if err := nc.sender.SendTo(frame, relay); err != nil {
		return errors.SendError("failed to send DESTROY", err)
	}
	return nil
}

func (nc *NetworkClient) await(ctx context.Context, w *waiter) (wire.CreatedPayload, error) {
	timer := time.NewTimer(nc.timeout)
	defer timer.Stop()

	select {
	case result := <-w.resultCh:
		return result, nil
	case err := <-w.errCh:
		return wire.CreatedPayload{}, err
	case <-timer.C:
		return wire.CreatedPayload{}, errors.TimeoutError("timed out waiting for response", nil)
	case <-ctx.Done():
		return wire.CreatedPayload{}, errors.TimeoutError("request cancelled", ctx.Err())
	}
}

func (nc *NetworkClient) registerCreate(id uint16) *waiter {
	w := &waiter{resultCh: make(chan wire.CreatedPayload, 1), errCh: make(chan error, 1)}
	nc.mu.Lock()
	nc.createWaiters[id] = w
	nc.mu.Unlock()
	return w
}

func (nc *NetworkClient) unregisterCreate(id uint16) {
	nc.mu.Lock()
	delete(nc.createWaiters, id)
	nc.mu.Unlock()
}

func (nc *NetworkClient) registerExtend(id uint16) *waiter {
	w := &waiter{resultCh: make(chan wire.CreatedPayload, 1), errCh: make(chan error, 1)}
	nc.mu.Lock()
	nc.extendWaiters[id] = w
	nc.mu.Unlock()
	return w
}

func (nc *NetworkClient) unregisterExtend(id uint16) {
	nc.mu.Lock()
	delete(nc.extendWaiters, id)
	nc.mu.Unlock()
}

// DeliverCreated routes an incoming CREATED frame to its waiter by
// identifier. Unmatched frames are dropped and counted.
func (nc *NetworkClient) DeliverCreated(payload wire.CreatedPayload) {
	nc.mu.Lock()
	w, ok := nc.createWaiters[payload.Identifier]
	nc.mu.Unlock()
	if !ok {
		nc.mu.Lock()
		nc.unmatchedFrames++
		nc.mu.Unlock()
		return
	}
	select {
	case w.resultCh <- payload:
	default:
	}
}

// DeliverExtended routes an incoming EXTENDED frame to its waiter by
// identifier. Unmatched frames are dropped and counted.
func (nc *NetworkClient) DeliverExtended(payload wire.CreatedPayload) {
	nc.mu.Lock()
	w, ok := nc.extendWaiters[payload.Identifier]
	nc.mu.Unlock()
	if !ok {
		nc.mu.Lock()
		nc.unmatchedFrames++
		nc.mu.Unlock()
		return
	}
	select {
	case w.resultCh <- payload:
	default:
	}
}

// UnmatchedFrames returns the number of CREATED/EXTENDED frames dropped
// because no waiter was registered for their identifier.
func (nc *NetworkClient) UnmatchedFrames() uint64 {
	nc.mu.Lock()
	defer nc.mu.Unlock()
	return nc.unmatchedFrames
}
