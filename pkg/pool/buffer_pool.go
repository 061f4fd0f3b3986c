// Package pool provides resource pooling: datagram buffers, the circuit
// connection pool, and the direct-fallback TCP connection pool that
// together back the tunnel proxy.
package pool

import (
	"sync"
)

// BufferPool provides a pool of byte slices for reuse.
type BufferPool struct {
	pool sync.Pool
	size int
}

// NewBufferPool creates a new buffer pool with the specified buffer size.
func NewBufferPool(size int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, size)
				return &buf
			},
		},
		size: size,
	}
}

// Get retrieves a buffer from the pool.
func (p *BufferPool) Get() []byte {
	obj := p.pool.Get()
	bufPtr, ok := obj.(*[]byte)
	if !ok {
		return make([]byte, p.size)
	}
	return (*bufPtr)[:p.size]
}

// Put returns a buffer to the pool.
func (p *BufferPool) Put(buf []byte) {
	if cap(buf) < p.size {
		return
	}
	buf = buf[:p.size]
	p.pool.Put(&buf)
}

// DatagramBufferPool is a pre-configured pool sized for a full UDP
// datagram (wire.MaxDatagram). The transport's receive loop does not use
// it; it allocates its own receive buffer.
var DatagramBufferPool = NewBufferPool(65507)

// PayloadBufferPool is a pre-configured pool for onion-layered payloads
// below the wire overhead of a single CREATE/EXTEND frame.
var PayloadBufferPool = NewBufferPool(1500)

// CryptoBufferPool is a pre-configured pool for crypto scratch space.
var CryptoBufferPool = NewBufferPool(1024)

// StreamBufferPool is a pre-configured pool for tunnel stream read
// buffers.
var StreamBufferPool = NewBufferPool(8192)
