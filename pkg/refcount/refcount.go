// Package refcount implements shared ownership for objects that cross goroutine
// boundaries, such as packets handed from a receive loop to a parser.
//
// Every holder of a reference is an equal co-owner. The object starts with one
// reference, each Retain adds one, each Release drops one, and the destroy
// callback runs exactly once when the last reference is released.
//
// Ownership mistakes are reported instead of silently corrupting state:
//   - releasing more times than retained (over-release)
//   - retaining an object that was already destroyed
//   - finding an object still alive at teardown (leak)
//
// By default violations are logged at ERROR level. Tests and debug builds call
// SetAssertions(true) to turn them into panics.
package refcount

import (
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/marmos91/framekit/internal/logger"
)

var (
	// ErrOverRelease reports a Release with no outstanding reference.
	ErrOverRelease = errors.New("refcount: over-release")

	// ErrRetainDestroyed reports a Retain on an object whose count already reached zero.
	ErrRetainDestroyed = errors.New("refcount: retain of destroyed object")

	// ErrLeaked reports an object still referenced when its owner expected it gone.
	ErrLeaked = errors.New("refcount: object still referenced")
)

var assertions atomic.Bool

// SetAssertions enables or disables panicking on ownership violations.
func SetAssertions(enabled bool) {
	assertions.Store(enabled)
}

// AssertionsEnabled reports whether ownership violations panic.
func AssertionsEnabled() bool {
	return assertions.Load()
}

// noCopy makes go vet's copylocks check flag accidental copies of Object.
// A copied Object would share no state with the original, so copies are never
// what the caller wants.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Object is an embeddable reference counter.
//
// The zero value has no references; call Init (or use New) before sharing it.
type Object struct {
	_ noCopy

	refs      atomic.Int32
	destroyed atomic.Bool
	destroy   func()
}

// New returns an Object holding one reference.
func New(destroy func()) *Object {
	o := &Object{}
	o.Init(destroy)
	return o
}

// Init resets o to a single reference with the given destroy callback.
// destroy may be nil.
func (o *Object) Init(destroy func()) {
	o.destroy = destroy
	o.destroyed.Store(false)
	o.refs.Store(1)
}

// Retain adds a reference.
func (o *Object) Retain() {
	for {
		n := o.refs.Load()
		if n <= 0 {
			violation(ErrRetainDestroyed, n)
			return
		}
		if o.refs.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// Release drops a reference and reports whether this call destroyed the object.
func (o *Object) Release() bool {
	n := o.refs.Add(-1)

	switch {
	case n == 0:
		if o.destroyed.CompareAndSwap(false, true) {
			if o.destroy != nil {
				o.destroy()
			}
			return true
		}
		return false

	case n < 0:
		o.refs.Add(1)
		violation(ErrOverRelease, n)
		return false

	default:
		return false
	}
}

// Count returns the number of outstanding references.
func (o *Object) Count() int32 {
	return o.refs.Load()
}

// Destroyed reports whether the destroy callback has run.
func (o *Object) Destroyed() bool {
	return o.destroyed.Load()
}

// CheckReleased reports a leak if o has not been destroyed.
// name identifies the object in the report.
func (o *Object) CheckReleased(name string) {
	if !o.destroyed.Load() {
		violation(fmt.Errorf("%w: %s", ErrLeaked, name), o.refs.Load())
	}
}

func violation(err error, count int32) {
	err = fmt.Errorf("%w (count=%d)", err, count)
	if assertions.Load() {
		panic(err)
	}
	logger.Error("%v", err)
}
