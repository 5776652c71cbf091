package uvloop

import "sync"

// Buffer is one fixed-size, memory-pool-backed block in a ByteChannel's
// linked chain.
type Buffer struct {
	Data []byte
	Next *Buffer
}

// MemoryPool is the external source of buffers backing a ByteChannel.
// ByteChannel.Write takes blocks with Get and ByteChannel.Advance hands
// drained blocks back with Put; Loop.Stop's pre-stop phase calls Dispose.
type MemoryPool interface {
	// Get returns a buffer with capacity for at least size bytes.
	Get(size int) *Buffer
	// Put returns a buffer to the pool once fully drained.
	Put(*Buffer)
	// Dispose releases all pooled memory. Called once, during Loop.Stop's
	// pre-stop phase, on the goroutine that called Stop.
	Dispose() error
}

// SlabPool is a fixed-block-size MemoryPool sufficient to drive the demo
// server in cmd/uvloopd and the tests in this module. A production
// deployment is expected to supply its own MemoryPool, typically backed
// by a NUMA-aware or io_uring-registered arena.
type SlabPool struct {
	blockSize int
	mu        sync.Mutex
	free      []*Buffer
	disposed  bool
}

// NewSlabPool returns a SlabPool whose blocks default to blockSize bytes
// of capacity (larger requests get an oversized one-off block).
func NewSlabPool(blockSize int) *SlabPool {
	return &SlabPool{blockSize: blockSize}
}

func (p *SlabPool) Get(size int) *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.disposed {
		if n := len(p.free); n > 0 && cap(p.free[n-1].Data) >= size {
			b := p.free[n-1]
			p.free = p.free[:n-1]
			b.Data = b.Data[:0]
			b.Next = nil
			return b
		}
	}
	cp := p.blockSize
	if size > cp {
		cp = size
	}
	return &Buffer{Data: make([]byte, 0, cp)}
}

func (p *SlabPool) Put(b *Buffer) {
	if b == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	b.Next = nil
	if p.disposed {
		return
	}
	p.free = append(p.free, b)
}

func (p *SlabPool) Dispose() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.disposed = true
	p.free = nil
	return nil
}
