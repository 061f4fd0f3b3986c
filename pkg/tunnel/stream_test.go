package tunnel

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/onion"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// captureSender is a fake circuit.Sender that records every frame sent to
// it instead of putting bytes on the wire.
type captureSender struct {
	mu    sync.Mutex
	sent  [][]byte
	dests []circuit.Endpoint
	err   error
}

func (c *captureSender) SendTo(data []byte, dst circuit.Endpoint) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	cp := append([]byte(nil), data...)
	c.sent = append(c.sent, cp)
	c.dests = append(c.dests, dst)
	return nil
}

func (c *captureSender) last() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.sent) == 0 {
		return nil
	}
	return c.sent[len(c.sent)-1]
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sent)
}

// establishedCircuit builds a single-hop circuit whose hop has completed
// key exchange, so onion.EncryptLayers/DecryptLayers both succeed against
// it (the same Hop owns both the send and receive AEAD ciphers, so a
// payload this test encrypts can be decrypted back through the same
// circuit, exactly as a relay peeling its own layer would).
func establishedCircuit(t *testing.T, id uint32, ipv4 uint32, port uint16) *circuit.Circuit {
	t.Helper()
	c, err := circuit.New(id, 1, 10*time.Minute)
	if err != nil {
		t.Fatalf("circuit.New: %v", err)
	}
	hop := circuit.NewHop([32]byte{1, 2, 3}, ipv4, port, 0)
	if err := hop.CompleteKeyExchange([32]byte{9, 9, 9}); err != nil {
		t.Fatalf("CompleteKeyExchange: %v", err)
	}
	if err := c.AddHop(hop); err != nil {
		t.Fatalf("AddHop: %v", err)
	}
	if err := c.MarkEstablished(); err != nil {
		t.Fatalf("MarkEstablished: %v", err)
	}
	return c
}

func testPrefixTunnel() wire.Prefix {
	return wire.Prefix{CommunityID: [20]byte{0xAA}, Service: 0x01}
}

func newTestStream(t *testing.T, table *circuit.Table, c *circuit.Circuit, sender circuit.Sender) *Stream {
	t.Helper()
	table.Insert(c)
	remote := circuit.Endpoint{IPv4: 0x7F000001, Port: 9000}
	return newStream(1, c.ID, table, sender, testPrefixTunnel(), remote, nil)
}

func TestStreamWriteSendsOnionWrappedFrame(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 1, 0x0A000001, 7000)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)

	n, err := s.Write([]byte("hello relay"))
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != len("hello relay") {
		t.Errorf("Write returned %d, want %d", n, len("hello relay"))
	}
	if sender.count() != 1 {
		t.Fatalf("expected 1 frame sent, got %d", sender.count())
	}

	frame := sender.last()
	prefixLen := len(testPrefixTunnel().Encode(byte(wire.MsgData)))
	if len(frame) <= prefixLen {
		t.Fatalf("frame too short: %d bytes", len(frame))
	}
	payload, err := wire.DecodeData(frame[prefixLen:])
	if err != nil {
		t.Fatalf("DecodeData: %v", err)
	}
	if payload.CircuitID != c.ID {
		t.Errorf("CircuitID = %d, want %d", payload.CircuitID, c.ID)
	}
	if payload.StreamID != s.ID() {
		t.Errorf("StreamID = %d, want %d", payload.StreamID, s.ID())
	}
	if payload.Sequence != 0 {
		t.Errorf("first Sequence = %d, want 0", payload.Sequence)
	}
	if string(payload.Payload) == "hello relay" {
		t.Error("payload should be onion-wrapped, not plaintext")
	}
	if s.BytesSent() != uint64(len("hello relay")) {
		t.Errorf("BytesSent = %d, want %d", s.BytesSent(), len("hello relay"))
	}
}

func TestStreamWriteSequenceIncrements(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 2, 0x0A000002, 7001)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)

	for i := 0; i < 3; i++ {
		if _, err := s.Write([]byte("x")); err != nil {
			t.Fatalf("Write %d: %v", i, err)
		}
	}

	prefixLen := len(testPrefixTunnel().Encode(byte(wire.MsgData)))
	if sender.count() != 3 {
		t.Fatalf("expected 3 frames, got %d", sender.count())
	}
	for i := 0; i < 3; i++ {
		p, err := wire.DecodeData(sender.sent[i][prefixLen:])
		if err != nil {
			t.Fatalf("DecodeData %d: %v", i, err)
		}
		if p.Sequence != uint64(i) {
			t.Errorf("frame %d sequence = %d, want %d", i, p.Sequence, i)
		}
	}
}

func TestStreamWriteOnClosedStreamFails(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 3, 0x0A000003, 7002)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := s.Write([]byte("x")); err == nil {
		t.Fatal("expected write on closed stream to fail")
	}
}

func TestStreamDeliverInOrderReachesInbox(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 4, 0x0A000004, 7003)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)

	sealed, err := sealForTest(c, []byte("segment-0"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if err := s.deliver(wire.DataPayload{CircuitID: c.ID, StreamID: s.ID(), Sequence: 0, Payload: sealed}); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	got, err := s.Read(ctx)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "segment-0" {
		t.Errorf("Read = %q, want %q", got, "segment-0")
	}
}

func TestStreamDeliverOutOfOrderReordersBeforeDelivery(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 5, 0x0A000005, 7004)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)

	seg1, _ := sealForTest(c, []byte("one"))
	seg0, _ := sealForTest(c, []byte("zero"))

	if err := s.deliver(wire.DataPayload{CircuitID: c.ID, StreamID: s.ID(), Sequence: 1, Payload: seg1}); err != nil {
		t.Fatalf("deliver seg1: %v", err)
	}

	select {
	case <-s.inbox:
		t.Fatal("out-of-order segment should not reach the inbox yet")
	default:
	}

	if err := s.deliver(wire.DataPayload{CircuitID: c.ID, StreamID: s.ID(), Sequence: 0, Payload: seg0}); err != nil {
		t.Fatalf("deliver seg0: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	first, err := s.Read(ctx)
	if err != nil || string(first) != "zero" {
		t.Fatalf("first Read = %q, %v, want zero", first, err)
	}
	second, err := s.Read(ctx)
	if err != nil || string(second) != "one" {
		t.Fatalf("second Read = %q, %v, want one", second, err)
	}
}

func TestStreamDeliverOnClosedCircuitFails(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 6, 0x0A000006, 7005)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)
	table.Remove(c.ID)

	err := s.deliver(wire.DataPayload{CircuitID: c.ID, StreamID: s.ID(), Sequence: 0, Payload: []byte("x")})
	if err == nil {
		t.Fatal("expected deliver to fail once the circuit has left the table")
	}
}

func TestStreamCloseIsIdempotentAndWakesRead(t *testing.T) {
	table := circuit.NewTable()
	c := establishedCircuit(t, 7, 0x0A000007, 7006)
	sender := &captureSender{}
	s := newTestStream(t, table, c, sender)

	done := make(chan error, 1)
	go func() {
		_, err := s.Read(context.Background())
		done <- err
	}()

	time.Sleep(10 * time.Millisecond)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected Read to return an error once the stream closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Read did not wake up after Close")
	}
}

// sealForTest onion-wraps payload the same way a sender-side Write would,
// used to synthesize inbound DATA frames for deliver() tests.
func sealForTest(c *circuit.Circuit, payload []byte) ([]byte, error) {
	return onion.EncryptLayers(payload, c)
}
