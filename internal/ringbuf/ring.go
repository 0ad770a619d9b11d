// Package ringbuf provides a bounded single-producer/single-consumer ring
// shared between an interrupt handler and a foreground reader.
//
// The producer only ever stores tail and the consumer only ever stores head,
// so no lock is needed between the two sides. One slot is kept free to tell
// full from empty: a ring of size N holds at most N-1 elements.
package ringbuf

import (
	"errors"
	"sync/atomic"
)

// ErrSize is returned by New for sizes that cannot hold a single element.
var ErrSize = errors.New("ringbuf: size must be >= 2")

// Ring is a fixed-size circular buffer. Use Producer and Consumer to get the
// role-restricted views; each must be used from at most one goroutine at a time.
type Ring[T any] struct {
	buf  []T
	head atomic.Uint32 // next slot to read, consumer-owned
	tail atomic.Uint32 // next slot to write, producer-owned
}

// New allocates a ring with size slots.
func New[T any](size int) (*Ring[T], error) {
	if size < 2 || int64(size) > 1<<31 {
		return nil, ErrSize
	}
	return &Ring[T]{buf: make([]T, size)}, nil
}

// MustNew is New for static sizes; it panics on a bad size.
func MustNew[T any](size int) *Ring[T] {
	r, err := New[T](size)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Ring[T]) next(i uint32) uint32 {
	i++
	if i == uint32(len(r.buf)) {
		return 0
	}
	return i
}

// Size is the number of slots (capacity + 1).
func (r *Ring[T]) Size() int { return len(r.buf) }

// Cap is the number of elements the ring can hold.
func (r *Ring[T]) Cap() int { return len(r.buf) - 1 }

// Len is a snapshot of the number of queued elements.
func (r *Ring[T]) Len() int {
	h, t := r.head.Load(), r.tail.Load()
	if t >= h {
		return int(t - h)
	}
	return int(uint32(len(r.buf)) - h + t)
}

// Empty reports whether nothing is queued.
func (r *Ring[T]) Empty() bool { return r.head.Load() == r.tail.Load() }

// Full reports whether a push would be dropped.
func (r *Ring[T]) Full() bool { return r.next(r.tail.Load()) == r.head.Load() }

// Indices exposes head and tail for diagnostics and tests.
func (r *Ring[T]) Indices() (head, tail int) { return int(r.head.Load()), int(r.tail.Load()) }

// Reset empties the ring. Neither side may be active while it runs.
func (r *Ring[T]) Reset() {
	r.head.Store(0)
	r.tail.Store(0)
}

// Push appends v. It returns false and leaves the ring untouched when full.
func (r *Ring[T]) Push(v T) bool {
	t := r.tail.Load()
	n := r.next(t)
	if n == r.head.Load() {
		return false
	}
	r.buf[t] = v
	r.tail.Store(n)
	return true
}

// Pop removes the oldest element.
func (r *Ring[T]) Pop() (T, bool) {
	var zero T
	h := r.head.Load()
	if h == r.tail.Load() {
		return zero, false
	}
	v := r.buf[h]
	r.buf[h] = zero
	r.head.Store(r.next(h))
	return v, true
}

// Peek returns the oldest element without removing it.
func (r *Ring[T]) Peek() (T, bool) {
	var zero T
	h := r.head.Load()
	if h == r.tail.Load() {
		return zero, false
	}
	return r.buf[h], true
}

// Producer is the write side of a Ring.
type Producer[T any] struct{ r *Ring[T] }

// Consumer is the read side of a Ring.
type Consumer[T any] struct{ r *Ring[T] }

func (r *Ring[T]) Producer() Producer[T] { return Producer[T]{r} }
func (r *Ring[T]) Consumer() Consumer[T] { return Consumer[T]{r} }

func (p Producer[T]) Push(v T) bool { return p.r.Push(v) }
func (p Producer[T]) Full() bool    { return p.r.Full() }

func (c Consumer[T]) Pop() (T, bool)  { return c.r.Pop() }
func (c Consumer[T]) Peek() (T, bool) { return c.r.Peek() }
func (c Consumer[T]) Empty() bool     { return c.r.Empty() }
func (c Consumer[T]) Len() int        { return c.r.Len() }
