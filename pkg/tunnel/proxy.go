package tunnel

import (
	"sync"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/wire"
)

// Proxy owns the live set of tunnel streams, allocating stream ids
// monotonically (with wraparound and collision checking, mirroring the
// circuit table's own id-allocation strategy) and dispatching inbound
// DATA frames to the stream they address.
type Proxy struct {
	table  *circuit.Table
	sender circuit.Sender
	prefix wire.Prefix
	logger *logger.Logger

	mu      sync.Mutex
	streams map[uint16]*Stream
	nextID  uint16
	running bool
}

// NewProxy builds a proxy that addresses outbound datagrams through
// sender and stamps them with prefix, resolving circuits from table.
func NewProxy(table *circuit.Table, sender circuit.Sender, prefix wire.Prefix, log *logger.Logger) *Proxy {
	if log == nil {
		log = logger.NewDefault()
	}
	return &Proxy{
		table:   table,
		sender:  sender,
		prefix:  prefix,
		logger:  log.Component("tunnel-proxy"),
		streams: make(map[uint16]*Stream),
		nextID:  1,
	}
}

// Start sets the proxy's running flag. OpenStream does not check that
// flag, so a freshly constructed Proxy is usable without calling Start and
// streams can still be opened after Stop.
func (p *Proxy) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = true
}

// OpenStream allocates a fresh stream id bound to circuitID and registers
// it in the stream table.
func (p *Proxy) OpenStream(circuitID uint32, remote circuit.Endpoint) (*Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	id, err := p.allocateIDLocked()
	if err != nil {
		return nil, err
	}

	s := newStream(id, circuitID, p.table, p.sender, p.prefix, remote, p.logger)
	p.streams[id] = s
	p.logger.Debug("tunnel stream opened", "stream_id", id, "circuit_id", circuitID)
	return s, nil
}

// allocateIDLocked scans forward from nextID for an id not currently in
// use, wrapping past 65535 back to 1 (0 is reserved, matching the
// circuit table's own convention). Returns Tunnel/StreamIDsExhausted if
// every one of the 65535 usable ids is occupied.
func (p *Proxy) allocateIDLocked() (uint16, error) {
	start := p.nextID
	for {
		id := p.nextID
		if p.nextID == 0xFFFF {
			p.nextID = 1
		} else {
			p.nextID++
		}
		if id == 0 {
			continue
		}
		if _, inUse := p.streams[id]; !inUse {
			return id, nil
		}
		if p.nextID == start {
			return 0, errors.StreamExhaustedError("no free tunnel stream ids remain")
		}
	}
}

// Stream looks up a stream by id.
func (p *Proxy) Stream(id uint16) (*Stream, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.streams[id]
	return s, ok
}

// CloseStream closes and unregisters a stream.
func (p *Proxy) CloseStream(id uint16) error {
	p.mu.Lock()
	s, ok := p.streams[id]
	if ok {
		delete(p.streams, id)
	}
	p.mu.Unlock()

	if !ok {
		return errors.StreamClosedError("close of unknown tunnel stream")
	}
	return s.Close()
}

// Dispatch routes a decoded DATA frame to the stream it addresses.
// Frames for an unknown stream id are not delivered and return a
// Tunnel/StreamClosed error; the caller (the router) logs dispatch
// failures at debug level.
func (p *Proxy) Dispatch(payload wire.DataPayload) error {
	p.mu.Lock()
	s, ok := p.streams[payload.StreamID]
	p.mu.Unlock()
	if !ok {
		return errors.StreamClosedError("DATA frame addressed to an unknown stream id")
	}
	return s.deliver(payload)
}

// StreamsForCircuit returns every live stream bound to circuitID.
func (p *Proxy) StreamsForCircuit(circuitID uint32) []*Stream {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []*Stream
	for _, s := range p.streams {
		if s.circuitID == circuitID {
			out = append(out, s)
		}
	}
	return out
}

// Count returns the number of live streams.
func (p *Proxy) Count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}

// Stop closes and unregisters every outstanding stream and clears the
// running flag. It does not prevent later OpenStream calls.
func (p *Proxy) Stop() error {
	p.mu.Lock()
	p.running = false
	streams := make([]*Stream, 0, len(p.streams))
	for id, s := range p.streams {
		streams = append(streams, s)
		delete(p.streams, id)
	}
	p.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}
	p.logger.Info("tunnel proxy stopped", "streams_closed", len(streams))
	return nil
}
