package uvloop

import (
	"context"
	"io"
	"sync"
)

// Iterator names a position within a ByteChannel's linked buffer chain:
// a block plus a byte offset into it.
type Iterator struct {
	Block *Buffer
	Index int
}

// ByteChannel is the ordered stream of MemoryPool-backed buffers produced
// by the (out-of-scope) request-processing pipeline and drained by an
// OutputPump (spec §4.5 step 3, named in the GLOSSARY). Write and Close
// are a minimal producer stand-in for that excluded pipeline — enough to
// drive an OutputPump from tests and from the cmd/uvloopd demo — while
// Await/Advance/Cancel are the consumer contract OutputPump actually
// relies on.
type ByteChannel struct {
	pool MemoryPool

	mu        sync.Mutex
	head      *Buffer
	tail      *Buffer
	beginIdx  int
	tailLen   int
	closed    bool
	cancelled bool
	notify    chan struct{}
}

func NewByteChannel(pool MemoryPool) *ByteChannel {
	return &ByteChannel{pool: pool, notify: make(chan struct{}, 1)}
}

func (c *ByteChannel) wake() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// Write appends p, pulling fresh blocks from the MemoryPool as needed.
func (c *ByteChannel) Write(p []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrChannelClosed
	}
	for len(p) > 0 {
		if c.tail == nil || c.tailLen == cap(c.tail.Data) {
			b := c.pool.Get(len(p))
			if c.tail == nil {
				c.head = b
			} else {
				c.tail.Next = b
			}
			c.tail = b
			c.tailLen = 0
		}
		n := copy(c.tail.Data[c.tailLen:cap(c.tail.Data)], p)
		if n == 0 {
			break
		}
		c.tail.Data = c.tail.Data[:c.tailLen+n]
		c.tailLen += n
		p = p[n:]
	}
	c.wake()
	return nil
}

// Close marks the channel closed; any data already written remains
// available to Await, but no further writes are accepted.
func (c *ByteChannel) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wake()
}

// Cancel requests cooperative termination of a pending or future Await.
func (c *ByteChannel) Cancel() {
	c.mu.Lock()
	c.cancelled = true
	c.mu.Unlock()
	c.wake()
}

// Await blocks until bytes are available, returns io.EOF once the channel
// is closed with nothing left to drain, or returns ErrChannelCancelled
// once Cancel has been called. This is the pump's first suspension point
// (spec §4.5); resumption may happen on any goroutine.
func (c *ByteChannel) Await(ctx context.Context) (begin, end Iterator, err error) {
	for {
		c.mu.Lock()
		switch {
		case c.cancelled:
			c.mu.Unlock()
			return Iterator{}, Iterator{}, ErrChannelCancelled
		case c.head != nil:
			begin = Iterator{Block: c.head, Index: c.beginIdx}
			end = Iterator{Block: c.tail, Index: c.tailLen}
			c.mu.Unlock()
			return begin, end, nil
		case c.closed:
			c.mu.Unlock()
			return Iterator{}, Iterator{}, io.EOF
		}
		c.mu.Unlock()

		select {
		case <-c.notify:
		case <-ctx.Done():
			return Iterator{}, Iterator{}, ctx.Err()
		}
	}
}

// Advance tells the channel that bytes up to end have been consumed,
// returning fully-drained blocks to the MemoryPool.
func (c *ByteChannel) Advance(end Iterator) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.head != nil && c.head != end.Block {
		next := c.head.Next
		c.pool.Put(c.head)
		c.head = next
		c.beginIdx = 0
	}
	if c.head == end.Block && c.head != nil {
		c.beginIdx = end.Index
		if c.head == c.tail && c.beginIdx >= c.tailLen {
			c.pool.Put(c.head)
			c.head, c.tail, c.beginIdx, c.tailLen = nil, nil, 0, 0
		}
	}
}

// ByteCount implements spec §4.5 step 3's tie-break: a single buffer's
// span when begin and end share a block, else the sum across the chain.
func ByteCount(begin, end Iterator) int {
	if begin.Block == end.Block {
		return end.Index - begin.Index
	}
	n := len(begin.Block.Data) - begin.Index
	for b := begin.Block.Next; b != nil && b != end.Block; b = b.Next {
		n += len(b.Data)
	}
	n += end.Index
	return n
}

// BufferCount counts the blocks spanned by [begin, end).
func BufferCount(begin, end Iterator) int {
	if begin.Block == end.Block {
		return 1
	}
	n := 1
	for b := begin.Block.Next; b != nil; b = b.Next {
		n++
		if b == end.Block {
			break
		}
	}
	return n
}

// flatten copies [begin, end) into a single contiguous slice sized n, for
// handoff to a single non-blocking write(2) call.
func flatten(begin, end Iterator, n int) []byte {
	out := make([]byte, 0, n)
	if begin.Block == end.Block {
		return append(out, begin.Block.Data[begin.Index:end.Index]...)
	}
	out = append(out, begin.Block.Data[begin.Index:]...)
	for b := begin.Block.Next; b != nil && b != end.Block; b = b.Next {
		out = append(out, b.Data...)
	}
	return append(out, end.Block.Data[:end.Index]...)
}
