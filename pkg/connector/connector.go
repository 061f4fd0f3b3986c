// Package connector implements the upstream socket-connector contract: a
// circuit-backed connector that wraps a tunnel stream in a socket-like
// object, with a direct-dial connector as its non-anonymous fallback.
package connector

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"math/big"
	"net"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/pool"
	"github.com/tribler-go/tunnelcore/pkg/tunnel"
)

// MaxAttempts bounds the circuit-connect retry loop (spec: "retry up to 3
// times on circuit failure").
const MaxAttempts = 3

// Conn is the socket-like object the upstream engine gets back from
// Connect: read/write/close plus connection state and the remote
// endpoint it was dialed to.
type Conn interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	Close() error
	Connected() bool
	RemoteEndpoint() string
}

// Connector is the upstream socket-connector contract: connect(uri,
// cancel) -> socket-like. The URI is "ipv4://host:port".
type Connector interface {
	Connect(ctx context.Context, uri string) (Conn, error)
}

// CircuitConnector is the production Connector: it acquires a circuit
// from the pool, opens a tunnel stream to the destination, and wraps it
// as a Conn. On repeated circuit failure it falls back to a direct TCP
// connection when configured to, or fails closed with Tunnel/NoCircuit.
type CircuitConnector struct {
	pool   *pool.CircuitPool
	proxy  *tunnel.Proxy
	direct *DirectConnector

	allowFallback bool
	routingOff    atomic.Bool // runtime toggle: true routes everything direct

	logger *logger.Logger
}

// NewCircuitConnector builds a connector backed by p/proxy, falling back
// to direct when allowFallback is true and circuits are exhausted.
func NewCircuitConnector(p *pool.CircuitPool, proxy *tunnel.Proxy, direct *DirectConnector, allowFallback bool, log *logger.Logger) *CircuitConnector {
	if log == nil {
		log = logger.NewDefault()
	}
	return &CircuitConnector{
		pool:          p,
		proxy:         proxy,
		direct:        direct,
		allowFallback: allowFallback,
		logger:        log.Component("connector"),
	}
}

// SetCircuitRoutingEnabled implements the runtime toggle that disables
// circuit routing entirely, sending all traffic through the direct
// connector regardless of allowFallback.
func (c *CircuitConnector) SetCircuitRoutingEnabled(enabled bool) {
	c.routingOff.Store(!enabled)
}

// Connect implements the Connector contract, retrying circuit
// acquisition/stream-open up to MaxAttempts times with exponential
// backoff (100ms * 2^attempt + 0-100ms jitter) before falling back or
// failing with Tunnel/NoCircuit.
func (c *CircuitConnector) Connect(ctx context.Context, uri string) (Conn, error) {
	if c.routingOff.Load() {
		return c.direct.Connect(ctx, uri)
	}

	remote, err := parseIPv4URI(uri)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < MaxAttempts; attempt++ {
		conn, err := c.tryOnce(ctx, remote)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		c.logger.Debug("circuit connect attempt failed", "uri", uri, "attempt", attempt, "error", err)

		if attempt == MaxAttempts-1 {
			break
		}
		if err := sleepBackoff(ctx, attempt); err != nil {
			return nil, err
		}
	}

	if c.allowFallback {
		c.logger.Debug("falling back to direct connection", "uri", uri)
		return c.direct.Connect(ctx, uri)
	}
	return nil, errors.NoCircuitError("no usable circuit and non-anonymous fallback is disabled", lastErr)
}

func (c *CircuitConnector) tryOnce(ctx context.Context, remote circuit.Endpoint) (Conn, error) {
	circ, err := c.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	stream, err := c.proxy.OpenStream(circ.ID, remote)
	if err != nil {
		c.pool.Release(circ, false)
		return nil, err
	}

	return &circuitConn{
		pool:   c.pool,
		circ:   circ,
		stream: stream,
		remote: remote,
	}, nil
}

// sleepBackoff sleeps 100ms*2^attempt plus 0-100ms of jitter, or returns
// ctx.Err() if the context is cancelled first.
func sleepBackoff(ctx context.Context, attempt int) error {
	base := 100 * time.Millisecond * time.Duration(1<<uint(attempt))
	jitter, err := randDuration(100 * time.Millisecond)
	if err != nil {
		jitter = 0
	}
	select {
	case <-time.After(base + jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func randDuration(max time.Duration) (time.Duration, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		return 0, err
	}
	return time.Duration(n.Int64()), nil
}

// circuitConn adapts a tunnel stream to the Conn interface, buffering any
// leftover bytes from a reassembled segment that didn't fit in the
// caller's read buffer.
type circuitConn struct {
	pool     *pool.CircuitPool
	circ     *circuit.Circuit
	stream   *tunnel.Stream
	remote   circuit.Endpoint
	leftover []byte
	closed   bool
}

func (cc *circuitConn) Read(buf []byte) (int, error) {
	if len(cc.leftover) == 0 {
		data, err := cc.stream.Read(context.Background())
		if err != nil {
			return 0, err
		}
		cc.leftover = data
	}
	n := copy(buf, cc.leftover)
	cc.leftover = cc.leftover[n:]
	return n, nil
}

func (cc *circuitConn) Write(buf []byte) (int, error) {
	return cc.stream.Write(buf)
}

func (cc *circuitConn) Close() error {
	if cc.closed {
		return nil
	}
	cc.closed = true
	err := cc.stream.Close()
	healthy := cc.circ.State() == circuit.StateEstablished
	cc.pool.Release(cc.circ, healthy)
	return err
}

func (cc *circuitConn) Connected() bool {
	return !cc.closed && cc.stream.State() == tunnel.StateOpen
}

func (cc *circuitConn) RemoteEndpoint() string {
	return endpointString(cc.remote)
}

// parseIPv4URI parses the upstream socket-connector contract's URI form,
// "ipv4://host:port", into an addressable Endpoint.
func parseIPv4URI(uri string) (circuit.Endpoint, error) {
	trimmed := strings.TrimPrefix(uri, "ipv4://")
	if trimmed == uri {
		return circuit.Endpoint{}, errors.CodecError(fmt.Sprintf("connector uri %q missing ipv4:// scheme", uri), nil)
	}

	host, portStr, err := net.SplitHostPort(trimmed)
	if err != nil {
		return circuit.Endpoint{}, errors.CodecError(fmt.Sprintf("connector uri %q: %v", uri, err), err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return circuit.Endpoint{}, errors.CodecError(fmt.Sprintf("connector uri %q: invalid port", uri), err)
	}

	ip := net.ParseIP(host)
	if ip == nil {
		resolved, err := net.ResolveIPAddr("ip4", host)
		if err != nil {
			return circuit.Endpoint{}, errors.CodecError(fmt.Sprintf("connector uri %q: cannot resolve host", uri), err)
		}
		ip = resolved.IP
	}
	v4 := ip.To4()
	if v4 == nil {
		return circuit.Endpoint{}, errors.CodecError(fmt.Sprintf("connector uri %q: not an IPv4 address", uri), nil)
	}

	return circuit.Endpoint{
		IPv4: binary.BigEndian.Uint32(v4),
		Port: uint16(port),
	}, nil
}

func endpointString(e circuit.Endpoint) string {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], e.IPv4)
	ip := net.IPv4(b[0], b[1], b[2], b[3])
	return fmt.Sprintf("ipv4://%s:%d", ip.String(), e.Port)
}
