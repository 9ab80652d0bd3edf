// Package ringbuf implements a small generic ring buffer.
//
// Sizes must be powers of two so a mask can stand in for a modulo and the
// index math stays correct on wrap.
package ringbuf

import "fmt"

// Buf is a bounded ring buffer that drops the oldest element when full.
//
// A Buf is not safe for concurrent use.
type Buf[T any] struct {
	buf  []T
	head uint32
	tail uint32
}

// Init sizes the buffer for sz elements. Sz must be a positive power of two;
// Init panics if not.
func (r *Buf[T]) Init(sz int) {
	if sz < 2 || sz&(sz-1) != 0 {
		panic(fmt.Sprintf("ringbuf: invalid size: %d", sz))
	}
	r.head, r.tail = 0, 0
	if len(r.buf) != sz {
		r.buf = make([]T, sz)
	} else {
		clear(r.buf)
	}
}

func (r *Buf[T]) mask(i uint32) int { return int(i & uint32(len(r.buf)-1)) }

// Len reports the number of buffered elements.
func (r *Buf[T]) Len() int { return int(r.tail - r.head) }

// Push appends v, evicting the oldest element when the buffer is full.
func (r *Buf[T]) Push(v T) {
	if r.Len() == len(r.buf) {
		r.head++
	}
	r.buf[r.mask(r.tail)] = v
	r.tail++
}

// Snapshot copies the buffered elements, oldest first.
func (r *Buf[T]) Snapshot() []T {
	out := make([]T, 0, r.Len())
	for i := r.head; i != r.tail; i++ {
		out = append(out, r.buf[r.mask(i)])
	}
	return out
}
