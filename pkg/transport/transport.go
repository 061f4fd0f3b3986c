// Package transport implements the UDP datagram endpoint that every higher
// layer sends and receives wire frames through.
package transport

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"golang.org/x/net/ipv4"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/events"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/metrics"
)

// MaxDatagramSize is the largest UDP payload the transport will send. A
// datagram above this size cannot fit in a single IPv4 UDP packet even
// with the maximum possible header budget.
const MaxDatagramSize = 65507

// recvBufferSize is the size of the per-receive scratch buffer. It is
// larger than MaxDatagramSize only to detect and reject oversized inbound
// frames rather than silently truncating them.
const recvBufferSize = 65536

// State represents the lifecycle state of a Transport.
type State int

const (
	// StateIdle indicates Start has not yet been called.
	StateIdle State = iota
	// StateRunning indicates the receive loop is active.
	StateRunning
	// StateStopped indicates Stop has completed.
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRunning:
		return "RUNNING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", int(s))
	}
}

// FrameHandler processes a decoded inbound datagram. The implementation is
// expected to be non-blocking; the transport's single receive goroutine
// calls it inline for every datagram.
type FrameHandler func(data []byte, src circuit.Endpoint)

// Transport is a UDP datagram endpoint. A single goroutine owns the socket
// read path; sends may happen concurrently from any goroutine.
type Transport struct {
	stateMu sync.RWMutex
	state   State

	conn    *net.UDPConn
	closeCh chan struct{}

	dispatcher *events.Dispatcher
	metrics    *metrics.Metrics
	logger     *logger.Logger

	handler FrameHandler

	droppedOversized uint64
}

// Config holds transport construction parameters.
type Config struct {
	// Port is the UDP port to bind; 0 requests an ephemeral port.
	Port int
	// Dispatcher receives a DatagramReceivedEvent for every accepted
	// inbound datagram. May be nil.
	Dispatcher *events.Dispatcher
	// Metrics records send/receive/drop counters. May be nil.
	Metrics *metrics.Metrics
	// Logger is the component logger. Defaults to logger.NewDefault() component "transport".
	Logger *logger.Logger
	// Handler is invoked for every accepted inbound datagram, after prefix
	// validation is the caller's responsibility (the transport itself
	// does not parse wire frames).
	Handler FrameHandler
}

// New creates a Transport in StateIdle. Call Start to bind the socket.
func New(cfg Config) *Transport {
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault()
	}
	return &Transport{
		state:      StateIdle,
		dispatcher: cfg.Dispatcher,
		metrics:    cfg.Metrics,
		logger:     log.Component("transport"),
		handler:    cfg.Handler,
	}
}

// Start binds the UDP socket on the configured port (0 for ephemeral) and
// launches the receive loop. Bind failure returns Transport/BindError.
func (t *Transport) Start(port int) error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.state == StateRunning {
		return errors.ConfigurationError("transport already running", nil)
	}

	addr := &net.UDPAddr{Port: port}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return errors.BindError(fmt.Sprintf("failed to bind UDP port %d", port), err)
	}

	// Best-effort socket tuning; a failure here does not prevent the
	// transport from operating, it only forgoes ToS marking.
	if ipc := ipv4.NewConn(conn); ipc != nil {
		_ = ipc.SetTOS(0)
	}

	t.conn = conn
	t.closeCh = make(chan struct{})
	t.state = StateRunning

	go t.receiveLoop()

	t.logger.Info("transport started", "local_addr", conn.LocalAddr().String())
	return nil
}

// LocalPort returns the bound UDP port, valid only once Start has
// succeeded.
func (t *Transport) LocalPort() int {
	t.stateMu.RLock()
	defer t.stateMu.RUnlock()
	if t.conn == nil {
		return 0
	}
	if addr, ok := t.conn.LocalAddr().(*net.UDPAddr); ok {
		return addr.Port
	}
	return 0
}

// Stop closes the socket and waits for the receive loop to exit.
func (t *Transport) Stop() error {
	t.stateMu.Lock()
	defer t.stateMu.Unlock()

	if t.state != StateRunning {
		return nil
	}
	t.state = StateStopped
	close(t.closeCh)
	err := t.conn.Close()
	t.logger.Info("transport stopped")
	return err
}

// SendTo writes data to dst. It implements circuit.Sender. Send failures
// increment a counter and are returned as Transport/SendError; they are
// not treated as fatal by callers.
func (t *Transport) SendTo(data []byte, dst circuit.Endpoint) error {
	if len(data) > MaxDatagramSize {
		if t.metrics != nil {
			t.metrics.DatagramsDropped.Inc()
		}
		return errors.SendError(fmt.Sprintf("datagram of %d bytes exceeds maximum %d", len(data), MaxDatagramSize), nil)
	}

	t.stateMu.RLock()
	conn := t.conn
	t.stateMu.RUnlock()
	if conn == nil {
		return errors.SendError("transport not started", nil)
	}

	addr := &net.UDPAddr{IP: ipv4FromUint32(dst.IPv4), Port: int(dst.Port)}
	if _, err := conn.WriteToUDP(data, addr); err != nil {
		if t.metrics != nil {
			t.metrics.DatagramsDropped.Inc()
		}
		return errors.SendError("failed to write datagram", err)
	}
	if t.metrics != nil {
		t.metrics.DatagramsSent.Inc()
	}
	return nil
}

func (t *Transport) receiveLoop() {
	buf := make([]byte, recvBufferSize)
	for {
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-t.closeCh:
				return
			default:
				if t.metrics != nil {
					t.metrics.CodecErrors.Inc()
				}
				continue
			}
		}

		if n > MaxDatagramSize {
			atomic.AddUint64(&t.droppedOversized, 1)
			if t.metrics != nil {
				t.metrics.DatagramsDropped.Inc()
			}
			continue
		}

		frame := make([]byte, n)
		copy(frame, buf[:n])

		src := circuit.Endpoint{IPv4: uint32FromIPv4(addr.IP), Port: uint16(addr.Port)}

		if t.metrics != nil {
			t.metrics.DatagramsReceived.Inc()
		}
		if t.dispatcher != nil {
			t.dispatcher.Dispatch(events.DatagramReceivedEvent{
				SourceIPv4: src.IPv4,
				SourcePort: src.Port,
				Size:       n,
			})
		}
		if t.handler != nil {
			t.handler(frame, src)
		}
	}
}

// DroppedOversized returns the count of inbound datagrams rejected for
// exceeding MaxDatagramSize.
func (t *Transport) DroppedOversized() uint64 {
	return atomic.LoadUint64(&t.droppedOversized)
}

func ipv4FromUint32(v uint32) net.IP {
	return net.IPv4(byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

func uint32FromIPv4(ip net.IP) uint32 {
	ip4 := ip.To4()
	if ip4 == nil {
		return 0
	}
	return uint32(ip4[0])<<24 | uint32(ip4[1])<<16 | uint32(ip4[2])<<8 | uint32(ip4[3])
}
