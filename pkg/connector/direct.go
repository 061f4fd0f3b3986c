package connector

import (
	"context"
	"net"
	"strings"

	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/pool"
)

// DirectConnector dials destinations over plain TCP, pooling connections
// per address. It is used as the non-anonymous fallback when circuit
// routing is disabled or exhausted, and directly when a caller disables
// circuit routing at runtime.
type DirectConnector struct {
	pool   *pool.ConnectionPool
	logger *logger.Logger
}

// NewDirectConnector builds a direct connector backed by p.
func NewDirectConnector(p *pool.ConnectionPool, log *logger.Logger) *DirectConnector {
	if log == nil {
		log = logger.NewDefault()
	}
	return &DirectConnector{pool: p, logger: log.Component("direct-connector")}
}

// Connect implements the Connector contract without any anonymity layer.
func (d *DirectConnector) Connect(ctx context.Context, uri string) (Conn, error) {
	remote, err := parseIPv4URI(uri)
	if err != nil {
		return nil, err
	}
	address := strings.TrimPrefix(endpointString(remote), "ipv4://")

	conn, err := d.pool.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	return &directConn{pool: d.pool, address: address, conn: conn}, nil
}

// directConn adapts a pooled net.Conn to the Conn interface.
type directConn struct {
	pool    *pool.ConnectionPool
	address string
	conn    net.Conn
	closed  bool
}

func (dc *directConn) Read(buf []byte) (int, error)  { return dc.conn.Read(buf) }
func (dc *directConn) Write(buf []byte) (int, error) { return dc.conn.Write(buf) }

func (dc *directConn) Close() error {
	if dc.closed {
		return nil
	}
	dc.closed = true
	dc.pool.Remove(dc.address)
	return dc.conn.Close()
}

func (dc *directConn) Connected() bool {
	return !dc.closed
}

func (dc *directConn) RemoteEndpoint() string {
	return "ipv4://" + dc.address
}
