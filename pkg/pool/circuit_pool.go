// Package pool provides the circuit connection pool and the buffer and
// direct-connection pools that back the tunnel proxy.
package pool

import (
	"context"
	"sync"
	"time"

	"github.com/tribler-go/tunnelcore/pkg/circuit"
	"github.com/tribler-go/tunnelcore/pkg/errors"
	"github.com/tribler-go/tunnelcore/pkg/logger"
	"github.com/tribler-go/tunnelcore/pkg/manager"
	"github.com/tribler-go/tunnelcore/pkg/metrics"
)

// CircuitPoolConfig holds configuration for the circuit connection pool.
type CircuitPoolConfig struct {
	DefaultHops         int
	MaxConcurrent       int           // Semaphore capacity gating acquisition
	AcquireTimeout      time.Duration // Deadline for acquire() when a new circuit must be built
	HealthCheckInterval time.Duration // How often the health monitor polls idle circuits
}

// DefaultCircuitPoolConfig returns sensible defaults for circuit pooling.
func DefaultCircuitPoolConfig() *CircuitPoolConfig {
	return &CircuitPoolConfig{
		DefaultHops:         circuit.MaxHops,
		MaxConcurrent:       8,
		AcquireTimeout:      30 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

// CircuitPool is the bounded Circuit Connection Pool described by the
// tunnel proxy design: acquire() prefers an idle healthy circuit, falls
// back to any Established circuit not in use, and otherwise builds one
// under the configured timeout. A binary semaphore with capacity
// MaxConcurrent gates acquisition so the pool never exceeds the circuit
// manager's own concurrency ceiling.
type CircuitPool struct {
	cfg     *CircuitPoolConfig
	mgr     *manager.Manager
	table   *circuit.Table
	sem     chan struct{}
	metrics *metrics.Metrics
	logger  *logger.Logger

	mu   sync.Mutex
	idle []*circuit.Circuit

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCircuitPool creates a circuit pool backed by mgr and table.
func NewCircuitPool(cfg *CircuitPoolConfig, mgr *manager.Manager, table *circuit.Table, m *metrics.Metrics, log *logger.Logger) *CircuitPool {
	if cfg == nil {
		cfg = DefaultCircuitPoolConfig()
	}
	if log == nil {
		log = logger.NewDefault()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &CircuitPool{
		cfg:     cfg,
		mgr:     mgr,
		table:   table,
		sem:     make(chan struct{}, cfg.MaxConcurrent),
		metrics: m,
		logger:  log.Component("circuit-pool"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Acquire implements the pool's acquire() contract: reuse an idle pooled
// circuit if present; otherwise take any Established circuit not
// currently in-use; otherwise build one and await establishment under
// the configured timeout, failing with Pool/Timeout.
func (p *CircuitPool) Acquire(ctx context.Context) (*circuit.Circuit, error) {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, errors.PoolTimeoutError("pool acquisition: semaphore wait cancelled", ctx.Err())
	}

	c, err := p.acquireLocked(ctx)
	if err != nil {
		<-p.sem
		if p.metrics != nil {
			p.metrics.PoolTimeouts.Inc()
		}
		return nil, err
	}

	c.SetInUse(true)
	if p.metrics != nil {
		p.metrics.PoolAcquisitions.Inc()
	}
	return c, nil
}

func (p *CircuitPool) acquireLocked(ctx context.Context) (*circuit.Circuit, error) {
	if c := p.takeHealthyIdle(); c != nil {
		return c, nil
	}

	if c := p.takeUnusedEstablished(); c != nil {
		return c, nil
	}

	acquireCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	c, err := p.mgr.RetryCreate(acquireCtx, p.cfg.DefaultHops, 3)
	if err != nil {
		return nil, errors.PoolTimeoutError("pool acquisition: circuit establishment timed out", err)
	}
	return c, nil
}

// takeHealthyIdle pops the first healthy circuit off the idle queue,
// discarding any unhealthy ones it encounters along the way.
func (p *CircuitPool) takeHealthyIdle() *circuit.Circuit {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		c := p.idle[0]
		p.idle = p.idle[1:]
		if p.healthy(c) {
			return c
		}
		p.evict(c)
	}
	return nil
}

// takeUnusedEstablished scans the full table for any Established circuit
// not already checked out, used when the idle queue is empty.
func (p *CircuitPool) takeUnusedEstablished() *circuit.Circuit {
	for _, c := range p.table.All() {
		if c.State() == circuit.StateEstablished && !c.InUse() {
			return c
		}
	}
	return nil
}

func (p *CircuitPool) healthy(c *circuit.Circuit) bool {
	return c.State() == circuit.StateEstablished && !c.IsExpired()
}

func (p *CircuitPool) evict(c *circuit.Circuit) {
	if p.metrics != nil {
		p.metrics.PoolEvictions.Inc()
	}
	p.table.Remove(c.ID)
	c.Close()
	p.logger.Debug("evicted unhealthy circuit from pool", "circuit_id", c.ID)
}

// Release implements release(circuit, healthy): healthy and still
// Established circuits return to the idle queue; anything else is
// discarded and removed from the table.
func (p *CircuitPool) Release(c *circuit.Circuit, healthy bool) {
	defer func() { <-p.sem }()

	c.SetInUse(false)
	if p.metrics != nil {
		p.metrics.PoolReleases.Inc()
	}

	if !healthy || !p.healthy(c) {
		p.evict(c)
		return
	}

	p.mu.Lock()
	p.idle = append(p.idle, c)
	p.mu.Unlock()
}

// StartHealthMonitor polls every idle circuit on HealthCheckInterval,
// evicting any that have become unhealthy since they were last released.
func (p *CircuitPool) StartHealthMonitor() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.ctx.Done():
				return
			case <-ticker.C:
				p.sweepIdle()
			}
		}
	}()
}

func (p *CircuitPool) sweepIdle() {
	p.mu.Lock()
	remaining := p.idle[:0]
	var stale []*circuit.Circuit
	for _, c := range p.idle {
		if p.healthy(c) {
			remaining = append(remaining, c)
		} else {
			stale = append(stale, c)
		}
	}
	p.idle = remaining
	p.mu.Unlock()

	for _, c := range stale {
		p.evict(c)
	}
}

// Stats reports the pool's current occupancy.
func (p *CircuitPool) Stats() CircuitPoolStats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	return CircuitPoolStats{
		Idle:          idle,
		InFlight:      len(p.sem),
		MaxConcurrent: p.cfg.MaxConcurrent,
	}
}

// CircuitPoolStats holds statistics about the circuit pool.
type CircuitPoolStats struct {
	Idle          int
	InFlight      int
	MaxConcurrent int
}

// Close stops the health monitor and closes every idle circuit.
func (p *CircuitPool) Close() error {
	p.cancel()
	p.wg.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, c := range p.idle {
		p.table.Remove(c.ID)
		c.Close()
	}
	p.idle = nil
	return nil
}
