package handlers

import (
	"context"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/journal"
	"github.com/marmos91/framekit/pkg/packet"
	"github.com/marmos91/framekit/pkg/server"
)

// Record writes every packet to a journal, one journal session per worker.
//
// Record owns its journal; call Close once the server has stopped.
type Record struct {
	opts    Options
	journal *journal.Store
}

func NewRecord(ctx context.Context, opts Options) (*Record, error) {
	store, err := journal.Open(ctx, opts.Journal)
	if err != nil {
		return nil, err
	}
	return &Record{opts: opts, journal: store}, nil
}

func (h *Record) HandlePacket(ctx context.Context, w *server.Worker, p *packet.Packet) int {
	if !h.opts.wait(ctx) {
		return 0
	}

	seq := w.PacketsHandled()
	if seq == 0 {
		if err := h.journal.BeginSession(w.ID, w.RemoteAddr().String()); err != nil {
			logger.Error("Journal session for %s failed: %v", w.RemoteAddr(), err)
			return 0
		}
	}

	if err := h.journal.Append(w.ID, seq, p.Bytes()); err != nil {
		logger.Error("Journal append for %s failed: %v", w.RemoteAddr(), err)
		return 0
	}
	return h.opts.result(w)
}

// Journal returns the store packets are recorded to.
func (h *Record) Journal() *journal.Store {
	return h.journal
}

func (h *Record) Close() error {
	return h.journal.Close()
}
