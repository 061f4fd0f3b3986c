package tunnel

import (
	"context"
	"testing"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

func newTestProxy(t *testing.T) (*Proxy, *circuit.Table, *captureSender) {
	t.Helper()
	table := circuit.NewTable()
	sender := &captureSender{}
	p := NewProxy(table, sender, testPrefixTunnel(), nil)
	p.Start()
	return p, table, sender
}

func TestProxyOpenStreamAllocatesDistinctIDs(t *testing.T) {
	p, table, sender := newTestProxy(t)
	c := establishedCircuit(t, 1, 0x0A000001, 7100)
	table.Insert(c)

	remote := circuit.Endpoint{IPv4: 0x7F000001, Port: 80}
	s1, err := p.OpenStream(c.ID, remote)
	if err != nil {
		t.Fatalf("OpenStream 1: %v", err)
	}
	s2, err := p.OpenStream(c.ID, remote)
	if err != nil {
		t.Fatalf("OpenStream 2: %v", err)
	}
	if s1.ID() == 0 || s2.ID() == 0 {
		t.Fatal("stream id 0 is reserved and must never be allocated")
	}
	if s1.ID() == s2.ID() {
		t.Fatalf("expected distinct stream ids, got %d twice", s1.ID())
	}
	if p.Count() != 2 {
		t.Errorf("Count() = %d, want 2", p.Count())
	}
	_ = sender
}

func TestProxyAllocateIDLockedSkipsInUseAndWraps(t *testing.T) {
	p, _, _ := newTestProxy(t)
	p.nextID = 0xFFFE
	p.streams[0xFFFE] = &Stream{}

	id, err := p.allocateIDLocked()
	if err != nil {
		t.Fatalf("allocateIDLocked: %v", err)
	}
	if id != 0xFFFF {
		t.Errorf("expected to skip the occupied id and land on 0xFFFF, got %d", id)
	}

	id2, err := p.allocateIDLocked()
	if err != nil {
		t.Fatalf("allocateIDLocked after wrap: %v", err)
	}
	if id2 != 1 {
		t.Errorf("expected wraparound to id 1, got %d", id2)
	}
}

func TestProxyAllocateIDLockedExhaustionFails(t *testing.T) {
	p, _, _ := newTestProxy(t)
	for i := 1; i <= 0xFFFF; i++ {
		p.streams[uint16(i)] = &Stream{}
	}

	_, err := p.allocateIDLocked()
	if err == nil {
		t.Fatal("expected exhaustion error when every stream id is in use")
	}
	if !errors.IsCategory(err, errors.CategoryTunnel) {
		t.Errorf("expected a tunnel-category error, got %v", err)
	}
}

func TestProxyDispatchRoutesToMatchingStream(t *testing.T) {
	p, table, _ := newTestProxy(t)
	c := establishedCircuit(t, 2, 0x0A000002, 7101)
	table.Insert(c)

	remote := circuit.Endpoint{IPv4: 0x7F000001, Port: 80}
	s, err := p.OpenStream(c.ID, remote)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}

	sealed, err := sealForTest(c, []byte("routed"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	err = p.Dispatch(wire.DataPayload{CircuitID: c.ID, StreamID: s.ID(), Sequence: 0, Payload: sealed})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(got) != "routed" {
		t.Errorf("Read = %q, want %q", got, "routed")
	}
}

func TestProxyDispatchUnknownStreamIDFails(t *testing.T) {
	p, _, _ := newTestProxy(t)
	err := p.Dispatch(wire.DataPayload{CircuitID: 1, StreamID: 999, Sequence: 0, Payload: []byte("x")})
	if err == nil {
		t.Fatal("expected dispatch to an unknown stream id to fail")
	}
}

func TestProxyCloseStreamRemovesFromTable(t *testing.T) {
	p, table, _ := newTestProxy(t)
	c := establishedCircuit(t, 3, 0x0A000003, 7102)
	table.Insert(c)

	s, err := p.OpenStream(c.ID, circuit.Endpoint{})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	if err := p.CloseStream(s.ID()); err != nil {
		t.Fatalf("CloseStream: %v", err)
	}
	if _, ok := p.Stream(s.ID()); ok {
		t.Fatal("expected stream to be removed after CloseStream")
	}
	if s.State() != StateClosed {
		t.Error("expected the underlying stream to be closed")
	}
}

func TestProxyCloseStreamUnknownIDFails(t *testing.T) {
	p, _, _ := newTestProxy(t)
	if err := p.CloseStream(42); err == nil {
		t.Fatal("expected CloseStream on an unknown id to fail")
	}
}

func TestProxyStreamsForCircuitFiltersByCircuit(t *testing.T) {
	p, table, _ := newTestProxy(t)
	c1 := establishedCircuit(t, 4, 0x0A000004, 7103)
	c2 := establishedCircuit(t, 5, 0x0A000005, 7104)
	table.Insert(c1)
	table.Insert(c2)

	if _, err := p.OpenStream(c1.ID, circuit.Endpoint{}); err != nil {
		t.Fatalf("OpenStream c1 a: %v", err)
	}
	if _, err := p.OpenStream(c1.ID, circuit.Endpoint{}); err != nil {
		t.Fatalf("OpenStream c1 b: %v", err)
	}
	if _, err := p.OpenStream(c2.ID, circuit.Endpoint{}); err != nil {
		t.Fatalf("OpenStream c2: %v", err)
	}

	if got := len(p.StreamsForCircuit(c1.ID)); got != 2 {
		t.Errorf("StreamsForCircuit(c1) = %d, want 2", got)
	}
	if got := len(p.StreamsForCircuit(c2.ID)); got != 1 {
		t.Errorf("StreamsForCircuit(c2) = %d, want 1", got)
	}
}

func TestProxyStopClosesAllStreams(t *testing.T) {
	p, table, _ := newTestProxy(t)
	c := establishedCircuit(t, 6, 0x0A000006, 7105)
	table.Insert(c)

	s1, _ := p.OpenStream(c.ID, circuit.Endpoint{})
	s2, _ := p.OpenStream(c.ID, circuit.Endpoint{})

	if err := p.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if p.Count() != 0 {
		t.Errorf("Count() after Stop = %d, want 0", p.Count())
	}
	if s1.State() != StateClosed || s2.State() != StateClosed {
		t.Error("expected every stream closed after Stop")
	}
}
