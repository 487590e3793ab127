package ratelimiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNew verifies limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		perSecond float64
		burst     int
		wantNil   bool
		wantBurst int
	}{
		{name: "standard rate", perSecond: 100, burst: 200, wantBurst: 200},
		{name: "default burst", perSecond: 50, burst: 0, wantBurst: 50},
		{name: "fractional rate", perSecond: 0.5, burst: 0, wantBurst: 1},
		{name: "unlimited", perSecond: 0, burst: 10, wantNil: true},
		{name: "negative", perSecond: -1, burst: 10, wantNil: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.perSecond, tt.burst)
			if tt.wantNil {
				assert.Nil(t, limiter)
				return
			}
			require.NotNil(t, limiter)
			assert.Equal(t, tt.wantBurst, limiter.limiter.Burst())
		})
	}
}

// TestWait verifies that Wait blocks until a token is available.
func TestWait(t *testing.T) {
	limiter := New(10, 1)
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

// TestWaitContextCancellation verifies that Wait respects cancellation.
func TestWaitContextCancellation(t *testing.T) {
	limiter := New(1, 1)
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	assert.Error(t, limiter.Wait(ctx))
}

// TestNilLimiter verifies that an unlimited limiter never throttles.
func TestNilLimiter(t *testing.T) {
	var limiter *AcceptLimiter

	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Wait(context.Background()))
	}
	assert.NoError(t, limiter.Wait(context.Background()))
	assert.Equal(t, float64(-1), limiter.Tokens())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, limiter.Wait(ctx), context.Canceled)
}

// TestTokens verifies that Tokens tracks consumption.
func TestTokens(t *testing.T) {
	limiter := New(10, 10)

	initial := limiter.Tokens()
	assert.InDelta(t, 10, initial, 1)

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(context.Background()))
	}
	assert.InDelta(t, 5, limiter.Tokens(), 1)
}

func BenchmarkWait(b *testing.B) {
	limiter := New(1e9, 1_000_000)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = limiter.Wait(ctx)
	}
}
