// Package tunnel provides the Tunnel Stream and Tunnel Proxy: the
// stream-multiplexing layer that rides on top of an established circuit,
// onion-wrapping each outbound segment and reassembling inbound segments
// in sequence-counter order.
package tunnel

import (
	"context"
	"io"
	"sync"
	"sync/atomic"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/onion"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// reorderWindow caps how many out-of-order segments a stream buffers.
// When the cap is reached the buffered segment with the lowest sequence
// number is dropped; the stream keeps waiting for the missing sequence
// number and does not skip the gap.
const reorderWindow = 256

// State is the lifecycle state of a tunnel stream.
type State int

const (
	// StateOpen indicates the stream may send and receive data.
	StateOpen State = iota
	// StateClosed indicates the stream has been torn down.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Stream is a bidirectional byte stream multiplexed over one circuit.
// It holds only a non-owning reference into the circuit table (per
// circuit.Circuit's own doc comment: "a Tunnel Stream holds only a
// non-owning reference") so closing a stream never disposes the circuit
// it rides on, and a circuit's failure never leaves a dangling pointer
// behind in stream state.
type Stream struct {
	id        uint16
	circuitID uint32
	table     *circuit.Table
	sender    circuit.Sender
	prefix    wire.Prefix
	remote    circuit.Endpoint
	logger    *logger.Logger

	sendSeq uint64 // atomic

	mu        sync.Mutex
	recvSeq   uint64
	pending   map[uint64][]byte
	inbox     chan []byte
	closeChan chan struct{}
	closeOnce sync.Once
	state     State
	bytesSent uint64
	bytesRecv uint64
}

// newStream builds a stream bound to circuitID. Only the proxy constructs
// streams, since it owns id allocation.
func newStream(id uint16, circuitID uint32, table *circuit.Table, sender circuit.Sender, prefix wire.Prefix, remote circuit.Endpoint, log *logger.Logger) *Stream {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Stream{
		id:        id,
		circuitID: circuitID,
		table:     table,
		sender:    sender,
		prefix:    prefix,
		remote:    remote,
		logger:    log.Component("tunnel-stream"),
		pending:   make(map[uint64][]byte),
		inbox:     make(chan []byte, 64),
		closeChan: make(chan struct{}),
		state:     StateOpen,
	}
}

// ID returns the stream's 16-bit identifier.
func (s *Stream) ID() uint16 { return s.id }

// CircuitID returns the id of the circuit this stream rides on.
func (s *Stream) CircuitID() uint32 { return s.circuitID }

// Remote returns the logical endpoint this stream was opened to reach.
// It plays no part in addressing outbound datagrams, which always go to
// the circuit's hop 0 — it exists for callers that need to know what a
// stream is for.
func (s *Stream) Remote() circuit.Endpoint { return s.remote }

// State reports whether the stream is still open.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// circuit looks up the backing circuit, failing with Circuit/Disposed if
// it has gone missing from the table. It does not check the circuit's
// state.
func (s *Stream) circuit() (*circuit.Circuit, error) {
	c, ok := s.table.Get(s.circuitID)
	if !ok {
		return nil, errors.DisposedError("tunnel stream's circuit is no longer in the table")
	}
	return c, nil
}

// Write onion-wraps payload across every hop of the backing circuit and
// sends it addressed to hop 0, stamped with the next send sequence
// number.
func (s *Stream) Write(payload []byte) (int, error) {
	if s.State() != StateOpen {
		return 0, errors.StreamClosedError("write on a closed tunnel stream")
	}

	c, err := s.circuit()
	if err != nil {
		return 0, err
	}

	sealed, err := onion.EncryptLayers(payload, c)
	if err != nil {
		return 0, err
	}

	hops := c.Hops()
	if len(hops) == 0 {
		return 0, errors.DisposedError("circuit has no hops to address the first relay")
	}
	hop0 := circuit.Endpoint{IPv4: hops[0].IPv4, Port: hops[0].Port}

	seq := atomic.AddUint64(&s.sendSeq, 1) - 1
	frame, err := wire.EncodeData(wire.DataPayload{
		CircuitID: s.circuitID,
		StreamID:  s.id,
		Sequence:  seq,
		Payload:   sealed,
	})
	if err != nil {
		return 0, err
	}
	out := append(s.prefix.Encode(byte(wire.MsgData)), frame...)

	if err := s.sender.SendTo(out, hop0); err != nil {
		return 0, errors.SendError("tunnel stream send failed", err)
	}

	s.mu.Lock()
	s.bytesSent += uint64(len(payload))
	s.mu.Unlock()
	c.RecordBytesSent(uint64(len(out)))

	return len(payload), nil
}

// deliver decrypts an inbound DATA frame addressed to this stream and
// reassembles it into the inbox in sequence-counter order, buffering
// out-of-order arrivals up to reorderWindow.
func (s *Stream) deliver(p wire.DataPayload) error {
	c, err := s.circuit()
	if err != nil {
		return err
	}

	plaintext, err := onion.DecryptLayers(p.Payload, c)
	if err != nil {
		return err
	}
	c.RecordBytesReceived(uint64(len(p.Payload)))

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateOpen {
		return errors.StreamClosedError("deliver on a closed tunnel stream")
	}

	if p.Sequence < s.recvSeq {
		s.logger.Debug("dropping duplicate/stale segment", "stream_id", s.id, "sequence", p.Sequence, "expected", s.recvSeq)
		return nil
	}

	if len(s.pending) >= reorderWindow {
		s.evictOldestLocked()
	}
	s.pending[p.Sequence] = plaintext

	for {
		next, ok := s.pending[s.recvSeq]
		if !ok {
			break
		}
		delete(s.pending, s.recvSeq)
		s.recvSeq++
		s.bytesRecv += uint64(len(next))
		select {
		case s.inbox <- next:
		case <-s.closeChan:
			return io.EOF
		}
	}

	if len(s.pending) > 0 {
		s.logger.Debug("tunnel stream awaiting retransmission to fill sequence gap",
			"stream_id", s.id, "expected", s.recvSeq, "buffered", len(s.pending))
	}

	return nil
}

func (s *Stream) evictOldestLocked() {
	var oldest uint64
	first := true
	for seq := range s.pending {
		if first || seq < oldest {
			oldest = seq
			first = false
		}
	}
	if !first {
		delete(s.pending, oldest)
	}
}

// Read blocks until a reassembled segment is available, the stream is
// closed, or ctx is cancelled.
func (s *Stream) Read(ctx context.Context) ([]byte, error) {
	select {
	case data := <-s.inbox:
		return data, nil
	case <-s.closeChan:
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// BytesSent and BytesReceived report cumulative payload byte counts,
// ahead of AEAD/wire overhead, for metrics.
func (s *Stream) BytesSent() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

func (s *Stream) BytesReceived() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesRecv
}

// Close tears the stream down idempotently, waking any blocked Read.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.mu.Unlock()
		close(s.closeChan)
		s.logger.Debug("tunnel stream closed", "stream_id", s.id, "circuit_id", s.circuitID)
	})
	return nil
}
