package circuit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Table maps circuit-id to Circuit. The Circuit Manager owns one Table;
// this type only provides the concurrency-safe storage and lookup, not
// relay selection or maintenance policy.
type Table struct {
	mu       sync.RWMutex
	circuits map[uint32]*Circuit
	nextID   uint32
}

// NewTable creates an empty circuit table. Circuit-id 0 is reserved.
func NewTable() *Table {
	return &Table{
		circuits: make(map[uint32]*Circuit),
		nextID:   1,
	}
}

// Insert registers c under its existing ID, replacing any circuit already
// stored under that ID. It does not allocate an ID; callers take one from
// NextID before constructing the circuit.
func (t *Table) Insert(c *Circuit) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.circuits[c.ID] = c
}

// NextID allocates the next circuit-id, skipping any already in use and
// skipping the reserved value 0.
func (t *Table) NextID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := t.nextID
	for {
		if _, exists := t.circuits[id]; !exists && id != 0 {
			break
		}
		id++
		if id == 0 {
			id = 1
		}
	}
	t.nextID = id + 1
	if t.nextID == 0 {
		t.nextID = 1
	}
	return id
}

// Get returns the circuit for id, if present.
func (t *Table) Get(id uint32) (*Circuit, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.circuits[id]
	return c, ok
}

// Remove deletes the circuit for id from the table without closing it.
func (t *Table) Remove(id uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.circuits, id)
}

// All returns a snapshot of every circuit currently in the table.
func (t *Table) All() []*Circuit {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Circuit, 0, len(t.circuits))
	for _, c := range t.circuits {
		out = append(out, c)
	}
	return out
}

// CountInState returns the number of circuits currently in the given state.
func (t *Table) CountInState(state State) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, c := range t.circuits {
		if c.State() == state {
			n++
		}
	}
	return n
}

// WaitForState blocks until c reaches state or ctx is done.
func (c *Circuit) WaitForState(ctx context.Context, state State) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.State() == state {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for state %s (current: %s): %w", state, c.State(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// WaitUntilEstablished is a convenience wrapper for the common wait target.
func (c *Circuit) WaitUntilEstablished(ctx context.Context) error {
	return c.WaitForState(ctx, StateEstablished)
}

// Age returns how long the circuit has existed.
func (c *Circuit) Age() time.Duration {
	return time.Since(c.CreatedAt())
}
