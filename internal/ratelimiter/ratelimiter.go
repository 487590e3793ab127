package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// AcceptLimiter throttles how fast a listener hands out new connections.
//
// It wraps golang.org/x/time/rate's token bucket: each accepted connection
// consumes one token, tokens refill at a fixed rate per second and the burst
// bounds how many connections can be admitted back to back after a quiet period.
//
// A nil *AcceptLimiter is valid and never throttles, so callers can hold one
// unconditionally and let configuration decide whether limiting is active.
//
// Thread safety:
// All methods are safe for concurrent use.
type AcceptLimiter struct {
	limiter *rate.Limiter
}

// New creates an AcceptLimiter admitting perSecond connections per second with
// the given burst.
//
// Special cases:
//   - perSecond <= 0: returns nil (no limiting)
//   - burst <= 0: burst defaults to max(1, perSecond)
func New(perSecond float64, burst int) *AcceptLimiter {
	if perSecond <= 0 {
		return nil
	}

	if burst <= 0 {
		burst = int(perSecond)
		if burst < 1 {
			burst = 1
		}
	}

	return &AcceptLimiter{
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

// Wait blocks until a connection may be accepted or ctx is done.
//
// Returns the context error if ctx ends first.
func (a *AcceptLimiter) Wait(ctx context.Context) error {
	if a == nil {
		return ctx.Err()
	}
	return a.limiter.Wait(ctx)
}

// Tokens returns the number of accepts currently available without waiting.
// An unlimited limiter reports -1.
func (a *AcceptLimiter) Tokens() float64 {
	if a == nil {
		return -1
	}
	return a.limiter.Tokens()
}
