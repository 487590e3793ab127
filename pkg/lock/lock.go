// Package lock provides the pluggable locking strategies used by every stateful
// framekit component.
//
// A component receives a Locker at construction and never switches on the
// policy itself. Three strategies are available:
//
//   - Exclusive: a non-reentrant sync.Mutex.
//   - Mutex: a blocking mutex that may be released by a goroutine other than
//     the one that acquired it, with context-aware acquisition.
//   - None: no synchronization at all, for code that is known to run on a
//     single goroutine. In debug mode it panics on overlapping acquisition or
//     unbalanced release, which surfaces accidental concurrent use in tests.
package lock

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Locker is the strategy interface shared by all lock policies.
type Locker interface {
	Lock()
	Unlock()

	// TryLock acquires the lock if it is free and reports whether it did.
	TryLock() bool
}

// Policy names a locking strategy. It is the value carried by configuration.
type Policy int

const (
	Exclusive Policy = iota
	Mutex
	None
)

func (p Policy) String() string {
	switch p {
	case Exclusive:
		return "exclusive"
	case Mutex:
		return "mutex"
	case None:
		return "none"
	default:
		return fmt.Sprintf("Policy(%d)", int(p))
	}
}

// ParsePolicy converts a configuration string into a Policy.
// Matching is case-insensitive; the empty string selects Exclusive.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "exclusive":
		return Exclusive, nil
	case "mutex":
		return Mutex, nil
	case "none":
		return None, nil
	default:
		return Exclusive, fmt.Errorf("unknown lock policy %q (valid: exclusive, mutex, none)", s)
	}
}

// New returns a fresh Locker implementing policy.
//
// debug only affects the None policy, where it enables misuse detection.
func New(policy Policy, debug bool) Locker {
	switch policy {
	case Mutex:
		return NewMutex()
	case None:
		return NewNone(debug)
	default:
		return NewExclusive()
	}
}

// ============================================================================
// Exclusive
// ============================================================================

// ExclusiveLock is a plain non-reentrant mutual exclusion lock.
type ExclusiveLock struct {
	mu sync.Mutex
}

func NewExclusive() *ExclusiveLock {
	return &ExclusiveLock{}
}

func (l *ExclusiveLock) Lock()         { l.mu.Lock() }
func (l *ExclusiveLock) Unlock()       { l.mu.Unlock() }
func (l *ExclusiveLock) TryLock() bool { return l.mu.TryLock() }

// ============================================================================
// Mutex
// ============================================================================

// MutexLock is a blocking mutex backed by a one-slot channel.
//
// Ownership is not tied to a goroutine, so a lock taken by one goroutine may be
// released by another. Acquisition can be bounded by a context.
type MutexLock struct {
	slot chan struct{}
}

func NewMutex() *MutexLock {
	return &MutexLock{slot: make(chan struct{}, 1)}
}

func (l *MutexLock) Lock() {
	l.slot <- struct{}{}
}

// LockContext blocks until the lock is acquired or ctx is done.
func (l *MutexLock) LockContext(ctx context.Context) error {
	select {
	case l.slot <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MutexLock) TryLock() bool {
	select {
	case l.slot <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock panics if the lock is not held, matching sync.Mutex.
func (l *MutexLock) Unlock() {
	select {
	case <-l.slot:
	default:
		panic("lock: unlock of unlocked MutexLock")
	}
}

// ============================================================================
// None
// ============================================================================

// NoneLock performs no synchronization.
//
// With debug enabled it counts holders: acquiring while already held means the
// caller re-entered or another goroutine is using the component concurrently,
// and releasing with no holder means an unbalanced Unlock. Both panic.
type NoneLock struct {
	debug   bool
	holders atomic.Int32
}

func NewNone(debug bool) *NoneLock {
	return &NoneLock{debug: debug}
}

func (l *NoneLock) Lock() {
	if !l.debug {
		return
	}
	if n := l.holders.Add(1); n > 1 {
		l.holders.Add(-1)
		panic(fmt.Sprintf("lock: re-entrant or concurrent acquisition of NoneLock (%d holders)", n))
	}
}

func (l *NoneLock) TryLock() bool {
	if !l.debug {
		return true
	}
	return l.holders.CompareAndSwap(0, 1)
}

func (l *NoneLock) Unlock() {
	if !l.debug {
		return
	}
	if n := l.holders.Add(-1); n < 0 {
		l.holders.Add(1)
		panic("lock: unlock of NoneLock without matching lock")
	}
}

// Held reports the number of current holders. It is always 0 without debug.
func (l *NoneLock) Held() int {
	return int(l.holders.Load())
}
