/*
Package bufpool implements a fixed-capacity allocator of fixed-size byte buffers.

A Pool hands out *Buffer values up to a configured maximum count. Once that count of buffers is
live (issued and not yet released) Alloc returns ErrExhausted rather than growing further - this is
the sole back-pressure mechanism against a busy proxy exhausting memory, by design there is no
queueing.

Buffers released via Release are kept on an internal free list and handed back out on the next
Alloc rather than being returned to the garbage collector, on the theory that steady-state load
amortises the cost of the initial allocations. Shrink is the manual escape hatch that drops the free
list so its backing memory can be collected, while buffers still in use are left untouched.

Typical usage:

	pool := bufpool.New(2048, 4096)
	buf, err := pool.Alloc()
	if err != nil {
	        return err // Pool exhausted, caller must either retry later or fail
	}
	defer pool.Release(buf)
	... buf.Data()[:n] ...
*/
package bufpool

import (
	"errors"
	"sync"
)

// ErrExhausted is returned by Alloc when the pool already has MaxCount buffers live.
var ErrExhausted = errors.New("bufpool: exhausted")

// Buffer is a single fixed-size unit of memory issued by a Pool. Offset and Length describe the
// active window within Data during incremental I/O - neither is touched by the pool itself, they
// exist purely for the convenience of callers threading partial reads/writes through Buffer.
type Buffer struct {
	data   []byte
	Offset int
	Length int
}

// Data returns the full fixed-size backing array for this buffer. Callers are expected to use
// Offset/Length to track the active window rather than reslicing Data itself, so that the same
// backing array can be reused verbatim across many Alloc/Release cycles.
func (b *Buffer) Data() []byte {
	return b.data
}

// Reset zeroes Offset and Length. It does not clear Data - a fresh Alloc does not promise
// zero-filled memory, matching the teacher allocator it generalises from.
func (b *Buffer) Reset() {
	b.Offset = 0
	b.Length = 0
}

// Pool is a fixed-capacity allocator of Size-byte Buffers, capped at MaxCount live buffers.
type Pool struct {
	size     int
	maxCount int

	mu        sync.Mutex
	usedCount int
	free      []*Buffer

	zero *Buffer // Lazily created, shared, owned-by-the-pool scratch buffer; see Zero()
}

// New constructs a Pool that will issue buffers of 'size' bytes, capping total live buffers at
// 'maxCount'. No memory is allocated up front - buffers are created lazily by Alloc.
func New(size, maxCount int) *Pool {
	return &Pool{size: size, maxCount: maxCount}
}

// Size returns the per-buffer data size this pool was constructed with.
func (p *Pool) Size() int {
	return p.size
}

// MaxCount returns the maximum number of buffers this pool will ever have live simultaneously.
func (p *Pool) MaxCount() int {
	return p.maxCount
}

// Alloc returns a Buffer from the free list if one is available, otherwise allocates a fresh one
// provided the live count hasn't reached MaxCount. Returns ErrExhausted once it has. Callers must
// call Release on every path out, including error paths, or the buffer is permanently lost to the
// pool's accounting.
func (p *Pool) Alloc() (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		b := p.free[n-1]
		p.free = p.free[:n-1]
		p.usedCount++
		return b, nil
	}

	if p.usedCount >= p.maxCount {
		return nil, ErrExhausted
	}

	b := &Buffer{data: make([]byte, p.size)}
	p.usedCount++

	return b, nil
}

// Release returns a buffer to the pool's free list for reuse. It is the caller's responsibility to
// only release buffers obtained from this pool exactly once - Release does not detect double-frees
// or foreign buffers.
func (p *Pool) Release(b *Buffer) {
	if b == nil {
		return
	}
	b.Reset()

	p.mu.Lock()
	defer p.mu.Unlock()

	p.usedCount--
	p.free = append(p.free, b)
}

// Zero returns a single shared, zero-initialised scratch buffer owned by the pool. It is created
// lazily on first use and does not count against MaxCount since it is never released back into
// circulation - it exists for callers that need a read-only zero-filled buffer (e.g. padding) and
// would otherwise have to Alloc and clear a real one.
func (p *Pool) Zero() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.zero == nil {
		p.zero = &Buffer{data: make([]byte, p.size)}
	}

	return p.zero
}

// Shrink frees every buffer currently on the free list back to the garbage collector, leaving
// buffers that are still in use (issued via Alloc, not yet Released) untouched. It is a manual
// pressure-relief valve - the pool never shrinks itself automatically.
func (p *Pool) Shrink() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.free = nil
}

// LiveCount returns the number of buffers currently issued (allocated and not yet released).
func (p *Pool) LiveCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.usedCount
}

// FreeCount returns the number of buffers sitting on the free list, available for immediate reuse
// without a fresh allocation.
func (p *Pool) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.free)
}
