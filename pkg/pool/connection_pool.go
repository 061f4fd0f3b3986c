package pool

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/logger"
)

// ConnectionPool manages a pool of reusable direct TCP connections used
// by the non-anonymous fallback connector when circuit routing is
// disabled or exhausted.
type ConnectionPool struct {
	mu          sync.RWMutex
	connections map[string]*pooledConnection
	maxIdle     int
	maxLifetime time.Duration
	dialer      net.Dialer
	logger      *logger.Logger
}

type pooledConnection struct {
	conn      net.Conn
	inUse     bool
	lastUsed  time.Time
	createdAt time.Time
}

// ConnectionPoolConfig holds configuration for the connection pool.
type ConnectionPoolConfig struct {
	MaxIdlePerHost int           // Stored but not enforced; the pool tracks one connection per address
	MaxLifetime    time.Duration // Maximum lifetime of a connection
	DialTimeout    time.Duration
}

// DefaultConnectionPoolConfig returns sensible defaults for connection pooling.
func DefaultConnectionPoolConfig() *ConnectionPoolConfig {
	return &ConnectionPoolConfig{
		MaxIdlePerHost: 5,
		MaxLifetime:    10 * time.Minute,
		DialTimeout:    10 * time.Second,
	}
}

// NewConnectionPool creates a new connection pool.
func NewConnectionPool(cfg *ConnectionPoolConfig, log *logger.Logger) *ConnectionPool {
	if cfg == nil {
		cfg = DefaultConnectionPoolConfig()
	}
	if log == nil {
		log = logger.NewDefault()
	}

	return &ConnectionPool{
		connections: make(map[string]*pooledConnection),
		maxIdle:     cfg.MaxIdlePerHost,
		maxLifetime: cfg.MaxLifetime,
		dialer:      net.Dialer{Timeout: cfg.DialTimeout},
		logger:      log.Component("conn-pool"),
	}
}

// Get retrieves a connection from the pool or dials a new one.
func (p *ConnectionPool) Get(ctx context.Context, address string) (net.Conn, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.connections[address]; ok {
		if !pc.inUse && time.Since(pc.createdAt) < p.maxLifetime {
			pc.inUse = true
			pc.lastUsed = time.Now()
			p.logger.Debug("reusing pooled connection", "address", address)
			return pc.conn, nil
		}
		if pc.inUse {
			// fall through to dial a fresh connection; the pool only
			// tracks one slot per address for direct-fallback use.
		} else {
			p.logger.Debug("closing stale pooled connection", "address", address, "age", time.Since(pc.createdAt))
			pc.conn.Close()
			delete(p.connections, address)
		}
	}

	p.logger.Debug("dialing new direct connection", "address", address)
	conn, err := p.dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	p.connections[address] = &pooledConnection{
		conn:      conn,
		inUse:     true,
		lastUsed:  time.Now(),
		createdAt: time.Now(),
	}

	return conn, nil
}

// Put returns a connection to the pool.
func (p *ConnectionPool) Put(address string, conn net.Conn) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.connections[address]; ok && pc.conn == conn {
		pc.inUse = false
		pc.lastUsed = time.Now()
		p.logger.Debug("returned connection to pool", "address", address)
	}
}

// Remove removes a connection from the pool and closes it.
func (p *ConnectionPool) Remove(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if pc, ok := p.connections[address]; ok {
		pc.conn.Close()
		delete(p.connections, address)
		p.logger.Debug("removed connection from pool", "address", address)
	}
}

// CleanupIdle closes idle connections that haven't been used recently.
func (p *ConnectionPool) CleanupIdle(maxIdleTime time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for address, pc := range p.connections {
		if !pc.inUse && now.Sub(pc.lastUsed) > maxIdleTime {
			p.logger.Debug("closing idle connection", "address", address, "idle_time", now.Sub(pc.lastUsed))
			pc.conn.Close()
			delete(p.connections, address)
		}
	}
}

// CleanupExpired closes connections that have exceeded their maximum lifetime.
func (p *ConnectionPool) CleanupExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for address, pc := range p.connections {
		if now.Sub(pc.createdAt) > p.maxLifetime {
			p.logger.Debug("closing expired connection", "address", address, "age", now.Sub(pc.createdAt))
			pc.conn.Close()
			delete(p.connections, address)
		}
	}
}

// Close closes all connections in the pool.
func (p *ConnectionPool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for address, pc := range p.connections {
		p.logger.Debug("closing pooled connection", "address", address)
		pc.conn.Close()
	}
	p.connections = make(map[string]*pooledConnection)

	return nil
}

// Stats returns statistics about the connection pool.
func (p *ConnectionPool) Stats() ConnectionPoolStats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	stats := ConnectionPoolStats{Total: len(p.connections)}
	for _, pc := range p.connections {
		if pc.inUse {
			stats.InUse++
		} else {
			stats.Idle++
		}
	}
	return stats
}

// ConnectionPoolStats holds statistics about the connection pool.
type ConnectionPoolStats struct {
	Total int
	InUse int
	Idle  int
}
