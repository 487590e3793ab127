package refcount

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withAssertions(t *testing.T, enabled bool) {
	t.Helper()
	prev := AssertionsEnabled()
	SetAssertions(enabled)
	t.Cleanup(func() { SetAssertions(prev) })
}

// panicError runs fn and returns the error it panicked with, or nil.
func panicError(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err, _ = r.(error)
		}
	}()
	fn()
	return nil
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestNewStartsWithOneReference(t *testing.T) {
	o := New(nil)
	assert.Equal(t, int32(1), o.Count())
	assert.False(t, o.Destroyed())
}

func TestReleaseDestroysExactlyOnce(t *testing.T) {
	withAssertions(t, true)

	var destroyed atomic.Int32
	o := New(func() { destroyed.Add(1) })

	o.Retain()
	o.Retain()
	assert.Equal(t, int32(3), o.Count())

	assert.False(t, o.Release())
	assert.False(t, o.Release())
	assert.Equal(t, int32(0), destroyed.Load())

	assert.True(t, o.Release())
	assert.Equal(t, int32(1), destroyed.Load())
	assert.True(t, o.Destroyed())
	assert.Equal(t, int32(0), o.Count())
}

func TestRetainReleaseSequences(t *testing.T) {
	tests := []struct {
		name    string
		retains int
	}{
		{"NoRetain", 0},
		{"OneRetain", 1},
		{"ManyRetains", 25},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withAssertions(t, true)

			var destroyed int
			o := New(func() { destroyed++ })
			for i := 0; i < tt.retains; i++ {
				o.Retain()
			}
			for i := 0; i < tt.retains; i++ {
				require.False(t, o.Release())
			}
			require.Equal(t, 0, destroyed)
			require.True(t, o.Release())
			assert.Equal(t, 1, destroyed)
		})
	}
}

func TestConcurrentRetainRelease(t *testing.T) {
	withAssertions(t, true)

	var destroyed atomic.Int32
	o := New(func() { destroyed.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		o.Retain()
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				o.Retain()
				o.Release()
			}
			o.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), o.Count())
	assert.Equal(t, int32(0), destroyed.Load())
	assert.True(t, o.Release())
	assert.Equal(t, int32(1), destroyed.Load())
}

// ============================================================================
// Violations
// ============================================================================

func TestOverRelease(t *testing.T) {
	t.Run("PanicsWithAssertions", func(t *testing.T) {
		withAssertions(t, true)

		var destroyed int
		o := New(func() { destroyed++ })
		require.True(t, o.Release())

		err := panicError(func() { o.Release() })
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrOverRelease))
		assert.Equal(t, 1, destroyed, "destroy must not run twice")
		assert.Equal(t, int32(0), o.Count(), "count is restored after a rejected release")
	})

	t.Run("ReportedWithoutAssertions", func(t *testing.T) {
		withAssertions(t, false)

		var destroyed int
		o := New(func() { destroyed++ })
		o.Release()

		assert.NotPanics(t, func() { assert.False(t, o.Release()) })
		assert.Equal(t, 1, destroyed)
	})
}

func TestRetainAfterDestroy(t *testing.T) {
	withAssertions(t, true)

	o := New(nil)
	o.Release()

	err := panicError(func() { o.Retain() })
	assert.ErrorIs(t, err, ErrRetainDestroyed)
	assert.Equal(t, int32(0), o.Count())
}

func TestCheckReleased(t *testing.T) {
	withAssertions(t, true)

	o := New(nil)
	err := panicError(func() { o.CheckReleased("packet") })
	require.ErrorIs(t, err, ErrLeaked)
	assert.Contains(t, err.Error(), "packet")

	o.Release()
	assert.NotPanics(t, func() { o.CheckReleased("packet") })
}

func TestInitResets(t *testing.T) {
	withAssertions(t, true)

	var o Object
	o.Init(nil)
	o.Release()
	require.True(t, o.Destroyed())

	o.Init(nil)
	assert.False(t, o.Destroyed())
	assert.Equal(t, int32(1), o.Count())
}
