// Package bufpool provides size-classed, reusable byte slices for packet payloads.
//
// Most frames on a framekit connection are small control messages, with occasional
// bulk transfers. Buffers are drawn from three sync.Pool classes so receive loops can
// allocate a payload buffer per frame without churning the garbage collector.
//
// Requests above the largest class are allocated directly and never pooled.
package bufpool

import "sync"

const (
	// SmallSize covers typical request/response frames.
	SmallSize = 4 << 10 // 4KB

	// MediumSize covers batched or aggregated payloads.
	MediumSize = 64 << 10 // 64KB

	// LargeSize covers bulk transfers. Larger frames bypass the pool.
	LargeSize = 1 << 20 // 1MB
)

type class struct {
	size int
	pool sync.Pool
}

func newClass(size int) *class {
	c := &class{size: size}
	c.pool.New = func() any {
		buf := make([]byte, size)
		return &buf
	}
	return c
}

var classes = []*class{
	newClass(SmallSize),
	newClass(MediumSize),
	newClass(LargeSize),
}

// Get returns a slice of exactly size bytes.
//
// The backing array may be larger than size when it comes from a pooled class.
// Callers must hand the slice back with Put once no reference to it remains.
func Get(size int) []byte {
	if size < 0 {
		size = 0
	}

	for _, c := range classes {
		if size <= c.size {
			buf := *(c.pool.Get().(*[]byte))
			return buf[:size]
		}
	}

	return make([]byte, size)
}

// Put returns a buffer obtained from Get to its pool.
//
// Buffers whose capacity does not match a class exactly are left to the GC.
func Put(buf []byte) {
	if buf == nil {
		return
	}

	capacity := cap(buf)
	for _, c := range classes {
		if capacity == c.size {
			full := buf[:capacity]
			c.pool.Put(&full)
			return
		}
	}
}

// Pooled reports whether a buffer of the given size would come from a pool.
func Pooled(size int) bool {
	return size <= LargeSize
}
