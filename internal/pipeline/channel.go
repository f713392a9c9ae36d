package pipeline

import "sync/atomic"

// FrameChannel is a bounded FIFO for exactly one producer goroutine and one
// consumer goroutine. Neither side ever blocks: Push on a full channel drops
// the incoming item and counts it, Pop on an empty channel returns false.
type FrameChannel[T any] struct {
	buf []T

	// head is written only by the consumer, tail only by the producer.
	head  atomic.Uint64
	tail  atomic.Uint64
	drops atomic.Uint64
}

// NewFrameChannel returns a channel holding at most capacity items.
// It panics if capacity is not positive.
func NewFrameChannel[T any](capacity int) *FrameChannel[T] {
	if capacity <= 0 {
		panic("pipeline: frame channel capacity must be positive")
	}
	return &FrameChannel[T]{buf: make([]T, capacity)}
}

// Push appends v. It returns false, and increments the drop counter, when the
// channel is full.
func (c *FrameChannel[T]) Push(v T) bool {
	t := c.tail.Load()
	if t-c.head.Load() == uint64(len(c.buf)) {
		c.drops.Add(1)
		return false
	}
	c.buf[t%uint64(len(c.buf))] = v
	c.tail.Store(t + 1)
	return true
}

// Pop removes the oldest item. It returns false when the channel is empty.
func (c *FrameChannel[T]) Pop() (T, bool) {
	var zero T
	h := c.head.Load()
	if h == c.tail.Load() {
		return zero, false
	}
	i := h % uint64(len(c.buf))
	v := c.buf[i]
	// Release the slot's reference so a dropped-out frame can be collected.
	c.buf[i] = zero
	c.head.Store(h + 1)
	return v, true
}

// Len returns the number of queued items. It is exact only when called from
// the producer or consumer goroutine; elsewhere it is a snapshot.
func (c *FrameChannel[T]) Len() int {
	h := c.head.Load()
	return int(c.tail.Load() - h)
}

// Cap returns the channel's capacity.
func (c *FrameChannel[T]) Cap() int { return len(c.buf) }

// Drops returns the number of items rejected by Push since creation.
func (c *FrameChannel[T]) Drops() uint64 { return c.drops.Load() }
