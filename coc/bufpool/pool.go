package bufpool

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/TheusHen/cocstress/coc/fault"
)

var (
	ErrExhausted       = fmt.Errorf("bufpool: pool exhausted: %w", fault.ErrResourceExhausted)
	ErrDoubleRelease   = fmt.Errorf("bufpool: buffer released twice: %w", fault.ErrProtocolViolation)
	ErrForeignBuffer   = fmt.Errorf("bufpool: buffer does not belong to pool: %w", fault.ErrProtocolViolation)
	ErrUseAfterRelease = fmt.Errorf("bufpool: buffer used after release: %w", fault.ErrProtocolViolation)
	ErrBufferFull      = fmt.Errorf("bufpool: buffer capacity exceeded: %w", fault.ErrProtocolViolation)
)

// Role identifies what a pool's buffers are used for.
type Role uint8

const (
	RoleTxSDU Role = iota + 1
	RoleSegment
	RoleRxSDU
)

func (r Role) String() string {
	switch r {
	case RoleTxSDU:
		return "TX_SDU"
	case RoleSegment:
		return "SEGMENT"
	case RoleRxSDU:
		return "RX_SDU"
	default:
		return "UNKNOWN"
	}
}

// Pool is a bounded set of equally sized buffers.
type Pool struct {
	name     string
	role     Role
	size     int
	capacity int
	free     chan *Buffer

	inUse     atomic.Int32
	peak      atomic.Int32
	acquired  atomic.Int64
	released  atomic.Int64
	exhausted atomic.Int64
}

// New creates a pool of count buffers of size bytes each.
func New(name string, role Role, count, size int) *Pool {
	if count <= 0 {
		count = 1
	}
	if size <= 0 {
		size = 1
	}
	p := &Pool{
		name:     name,
		role:     role,
		size:     size,
		capacity: count,
		free:     make(chan *Buffer, count),
	}
	for i := 0; i < count; i++ {
		p.free <- &Buffer{pool: p, id: i, data: make([]byte, 0, size)}
	}
	return p
}

// Acquire takes a buffer from the pool without blocking.
func (p *Pool) Acquire() (*Buffer, error) {
	select {
	case b := <-p.free:
		b.mu.Lock()
		b.held = true
		b.data = b.data[:0]
		b.mu.Unlock()
		n := p.inUse.Add(1)
		for {
			peak := p.peak.Load()
			if n <= peak || p.peak.CompareAndSwap(peak, n) {
				break
			}
		}
		p.acquired.Add(1)
		return b, nil
	default:
		p.exhausted.Add(1)
		return nil, fmt.Errorf("%s: %w", p.name, ErrExhausted)
	}
}

// Release returns b to the pool. Releasing a buffer that is not held, or one
// that belongs to another pool, is an error and leaves the pool untouched.
func (p *Pool) Release(b *Buffer) error {
	if b == nil || b.pool != p {
		return fmt.Errorf("%s: %w", p.name, ErrForeignBuffer)
	}
	b.mu.Lock()
	if !b.held {
		b.mu.Unlock()
		return fmt.Errorf("%s buffer %d: %w", p.name, b.id, ErrDoubleRelease)
	}
	b.held = false
	b.data = b.data[:0]
	b.mu.Unlock()

	p.inUse.Add(-1)
	p.released.Add(1)
	p.free <- b
	return nil
}

// Name returns the pool name used in errors and logs.
func (p *Pool) Name() string { return p.name }

// Role returns the pool role.
func (p *Pool) Role() Role { return p.role }

// BufferSize returns the capacity in bytes of each buffer.
func (p *Pool) BufferSize() int { return p.size }

// Capacity returns the number of buffers the pool was created with.
func (p *Pool) Capacity() int { return p.capacity }

// Available returns the number of free buffers.
func (p *Pool) Available() int { return len(p.free) }

// InUse returns the number of buffers currently held by owners.
func (p *Pool) InUse() int { return int(p.inUse.Load()) }

// Peak returns the highest number of buffers simultaneously in use.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

// Stats is a point-in-time snapshot of pool counters.
type Stats struct {
	Name      string
	Role      Role
	Capacity  int
	InUse     int
	Peak      int
	Acquired  int64
	Released  int64
	Exhausted int64
}

// Stats returns a snapshot of the pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Name:      p.name,
		Role:      p.role,
		Capacity:  p.capacity,
		InUse:     p.InUse(),
		Peak:      p.Peak(),
		Acquired:  p.acquired.Load(),
		Released:  p.released.Load(),
		Exhausted: p.exhausted.Load(),
	}
}

// Buffer is a fixed-capacity byte region owned by exactly one holder.
type Buffer struct {
	pool *Pool
	id   int

	mu   sync.Mutex
	held bool
	data []byte
}

// Pool returns the originating pool.
func (b *Buffer) Pool() *Pool { return b.pool }

// Release returns the buffer to its pool.
func (b *Buffer) Release() error { return b.pool.Release(b) }

// Held reports whether the buffer is currently owned.
func (b *Buffer) Held() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.held
}

// Append copies p to the end of the buffer.
func (b *Buffer) Append(p []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.held {
		return ErrUseAfterRelease
	}
	if len(b.data)+len(p) > cap(b.data) {
		return fmt.Errorf("%s buffer %d: %d+%d > %d: %w", b.pool.name, b.id, len(b.data), len(p), cap(b.data), ErrBufferFull)
	}
	b.data = append(b.data, p...)
	return nil
}

// Bytes returns the buffer contents. The slice is only valid until the
// buffer is released.
func (b *Buffer) Bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.held {
		return nil, ErrUseAfterRelease
	}
	return b.data, nil
}

// Len returns the number of bytes written, or 0 once released.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Cap returns the buffer capacity in bytes.
func (b *Buffer) Cap() int { return cap(b.data) }

// Reset empties the buffer while keeping ownership.
func (b *Buffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.held {
		return ErrUseAfterRelease
	}
	b.data = b.data[:0]
	return nil
}

func (b *Buffer) String() string {
	return fmt.Sprintf("%s#%d", b.pool.name, b.id)
}
