// Package handlers provides ready-made server packet handlers selected by the
// handler.type configuration key.
package handlers

import (
	"context"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/journal"
	"github.com/marmos91/framekit/pkg/packet"
	"github.com/marmos91/framekit/pkg/server"
)

// Handler types understood by the configuration layer.
const (
	TypeEcho    = "echo"
	TypeDiscard = "discard"
	TypeLog     = "log"
	TypeRecord  = "record"
)

// Types lists every handler type.
var Types = []string{TypeEcho, TypeDiscard, TypeLog, TypeRecord}

// Options are shared by every handler.
type Options struct {
	// CloseAfter ends a session after this many packets. 0 never closes.
	CloseAfter int `mapstructure:"close_after"`

	// Delay is waited before handling each packet.
	Delay time.Duration `mapstructure:"delay"`

	// PreviewBytes is how many payload bytes the log handler prints.
	PreviewBytes int `mapstructure:"preview_bytes"`

	// Journal configures the store of the record handler.
	Journal journal.Config `mapstructure:"journal"`
}

// DefaultPreviewBytes is used by the log handler when PreviewBytes is 0.
const DefaultPreviewBytes = 16

// wait applies the configured delay. It returns false if ctx ended first.
func (o Options) wait(ctx context.Context) bool {
	if o.Delay <= 0 {
		return true
	}

	timer := time.NewTimer(o.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// result tells the worker whether to keep the session open after the packet
// currently being handled.
func (o Options) result(w *server.Worker) int {
	if o.CloseAfter > 0 && int(w.PacketsHandled())+1 >= o.CloseAfter {
		return 0
	}
	return 1
}

// Echo sends every packet back to its sender.
type Echo struct {
	opts Options
}

func NewEcho(opts Options) *Echo {
	return &Echo{opts: opts}
}

func (h *Echo) HandlePacket(ctx context.Context, w *server.Worker, p *packet.Packet) int {
	if !h.opts.wait(ctx) {
		return 0
	}

	if _, err := w.Send(p); err != nil {
		logger.Debug("Echo to %s failed: %v", w.RemoteAddr(), err)
		return 0
	}
	return h.opts.result(w)
}

// Discard drops every packet, counting what it saw.
type Discard struct {
	opts    Options
	packets atomic.Uint64
	bytes   atomic.Uint64
}

func NewDiscard(opts Options) *Discard {
	return &Discard{opts: opts}
}

func (h *Discard) HandlePacket(ctx context.Context, w *server.Worker, p *packet.Packet) int {
	if !h.opts.wait(ctx) {
		return 0
	}

	h.packets.Add(1)
	h.bytes.Add(uint64(p.Len()))
	return h.opts.result(w)
}

// Packets returns the number of packets dropped across all sessions.
func (h *Discard) Packets() uint64 {
	return h.packets.Load()
}

// Bytes returns the number of payload bytes dropped across all sessions.
func (h *Discard) Bytes() uint64 {
	return h.bytes.Load()
}

// Log writes a hex preview of every packet to the logger at INFO level.
type Log struct {
	opts Options
}

func NewLog(opts Options) *Log {
	if opts.PreviewBytes <= 0 {
		opts.PreviewBytes = DefaultPreviewBytes
	}
	return &Log{opts: opts}
}

func (h *Log) HandlePacket(ctx context.Context, w *server.Worker, p *packet.Packet) int {
	if !h.opts.wait(ctx) {
		return 0
	}

	logger.Info("Packet from %s (worker %s): %d bytes: %s",
		w.RemoteAddr(), w.ID, p.Len(), Preview(p.Bytes(), h.opts.PreviewBytes))
	return h.opts.result(w)
}

// Preview hex-encodes up to n bytes of b, marking truncation with "...".
func Preview(b []byte, n int) string {
	if len(b) <= n {
		return hex.EncodeToString(b)
	}
	return hex.EncodeToString(b[:n]) + "..."
}
