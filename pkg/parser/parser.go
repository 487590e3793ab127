// Package parser defines the per-packet units of work a client dispatches off
// its receive loop, and the List that tracks them while they are in flight.
package parser

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/packet"
)

// Parser interprets one fully received packet.
//
// Parse runs on a pool goroutine, never on the receive loop. The packet is
// valid for the duration of the call; implementations that keep it longer
// must Retain it. ctx is cancelled when the owning connection disconnects.
type Parser interface {
	Parse(ctx context.Context, p *packet.Packet) error
}

// Func adapts an ordinary function to the Parser interface.
type Func func(ctx context.Context, p *packet.Packet) error

func (f Func) Parse(ctx context.Context, p *packet.Packet) error {
	return f(ctx, p)
}

// Factory creates the parser for a newly received packet.
type Factory func() Parser

// Task pairs a received packet with the parser handling it.
//
// A Task holds one reference to its packet and releases it when Run returns.
type Task struct {
	ID uuid.UUID

	parser   Parser
	packet   *packet.Packet
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	finished atomic.Bool
	err      error
	duration time.Duration
}

// NewTask takes ownership of one reference to p.
// The task's context derives from parent.
func NewTask(parent context.Context, parser Parser, p *packet.Packet) *Task {
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		ID:     uuid.New(),
		parser: parser,
		packet: p,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Run executes the parser once.
//
// Panics raised by the parser are recovered and reported as the task error so
// that one bad packet cannot take down the pool.
func (t *Task) Run() {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("parser panic: %v", r)
			logger.Error("Panic in parser task %s: %v", t.ID, r)
		}
		t.duration = time.Since(start)
		t.packet.Release()
		t.cancel()
		t.finished.Store(true)
		close(t.done)
	}()

	if err := t.ctx.Err(); err != nil {
		t.err = err
		return
	}

	t.err = t.parser.Parse(t.ctx, t.packet)
	if t.err != nil {
		logger.Debug("Parser task %s failed: %v", t.ID, t.err)
	}
}

// Cancel signals the parser to stop. It does not wait for it.
func (t *Task) Cancel() {
	t.cancel()
}

// Finished reports whether Run has returned.
func (t *Task) Finished() bool {
	return t.finished.Load()
}

// Done is closed when Run returns.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the parser's result. Valid once Finished reports true.
func (t *Task) Err() error {
	if !t.finished.Load() {
		return nil
	}
	return t.err
}

// Duration returns how long Run took. Valid once Finished reports true.
func (t *Task) Duration() time.Duration {
	if !t.finished.Load() {
		return 0
	}
	return t.duration
}

// CheckReleased reports a leak if the task has finished but its packet is
// still referenced, which happens when a parser retains the packet and never
// releases it. Unfinished tasks are skipped.
func (t *Task) CheckReleased() {
	if !t.finished.Load() {
		return
	}
	t.packet.CheckReleased(fmt.Sprintf("packet of parser task %s", t.ID))
}

// PacketLen returns the length of the packet being parsed.
func (t *Task) PacketLen() int {
	return t.packet.Len()
}
