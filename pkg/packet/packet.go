package packet

import (
	"github.com/marmos91/framekit/internal/bufpool"
	"github.com/marmos91/framekit/pkg/refcount"
)

// Packet is a fixed-size binary payload: the unit read from and written to the
// wire, and handed between I/O loops and application handlers.
//
// The buffer is allocated up front at the declared length, so a receive loop can
// read straight into it. Its size never changes afterwards.
//
// Packets are reference counted. The creator holds the first reference; any
// goroutine that keeps the packet beyond the call that handed it over must
// Retain it and Release it when done. The payload buffer returns to the pool on
// the last Release, after which Bytes must not be used.
type Packet struct {
	refs   refcount.Object
	data   []byte
	pooled bool
}

// New allocates a packet with a payload of exactly length bytes.
// The payload content is unspecified; callers overwrite it.
func New(length int) *Packet {
	if length < 0 {
		length = 0
	}

	p := &Packet{
		data:   bufpool.Get(length),
		pooled: bufpool.Pooled(length),
	}
	p.refs.Init(p.free)
	return p
}

// FromBytes returns a packet holding a copy of b.
func FromBytes(b []byte) *Packet {
	p := New(len(b))
	copy(p.data, b)
	return p
}

// Len returns the payload length in bytes.
func (p *Packet) Len() int {
	return len(p.data)
}

// Bytes returns the payload. The slice aliases the packet's buffer.
func (p *Packet) Bytes() []byte {
	return p.data
}

// Retain adds a reference.
func (p *Packet) Retain() {
	p.refs.Retain()
}

// Release drops a reference and reports whether the packet was freed.
func (p *Packet) Release() bool {
	return p.refs.Release()
}

// RefCount returns the number of outstanding references.
func (p *Packet) RefCount() int32 {
	return p.refs.Count()
}

// Freed reports whether the last reference has been released.
func (p *Packet) Freed() bool {
	return p.refs.Destroyed()
}

// CheckReleased reports a leak, as refcount.Object.CheckReleased does, if
// the packet is still referenced.
func (p *Packet) CheckReleased(name string) {
	p.refs.CheckReleased(name)
}

func (p *Packet) free() {
	if p.pooled {
		bufpool.Put(p.data)
	}
	p.data = nil
}
