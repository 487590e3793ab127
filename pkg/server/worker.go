package server

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/lock"
	"github.com/marmos91/framekit/pkg/metrics"
	"github.com/marmos91/framekit/pkg/packet"
)

// ErrWorkerClosed is returned by Send after the worker's connection closed.
var ErrWorkerClosed = errors.New("worker closed")

// Worker owns one accepted connection and runs its receive loop.
//
// The loop reads one frame at a time and hands each complete packet to the
// server's PacketHandler. It ends when the peer closes, a frame arrives only
// partially, a read fails or times out, the handler returns a non-positive
// result, or the run context is cancelled.
type Worker struct {
	// ID identifies the worker in logs.
	ID uuid.UUID

	server  *Server
	conn    net.Conn
	handler PacketHandler

	sendMu    lock.Locker
	closeOnce sync.Once
	closeErr  error
	closed    atomic.Bool

	done     chan struct{}
	finished atomic.Bool
	packets  atomic.Uint64

	dataMu sync.Mutex
	data   any
}

// NewWorker is the default WorkerFactory.
func NewWorker(s *Server, conn net.Conn) *Worker {
	return &Worker{
		ID:      uuid.New(),
		server:  s,
		conn:    conn,
		handler: s.handler,
		sendMu:  s.config.newLocker(),
		done:    make(chan struct{}),
	}
}

// Serve runs the receive loop until the session ends, then closes the
// connection. A panic in the handler is recovered and ends the session.
func (w *Worker) Serve(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clientAddr := w.RemoteAddr().String()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Panic in worker %s for %s: %v", w.ID, clientAddr, r)
		}
		if err := w.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error closing connection from %s: %v", clientAddr, err)
		}
		w.finished.Store(true)
		close(w.done)
	}()

	// Cancellation interrupts a blocked read
	stop := context.AfterFunc(ctx, func() {
		_ = w.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	logger.Debug("Worker %s serving %s", w.ID, clientAddr)

	for {
		result, err := w.handleFrame(ctx)
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				logger.Debug("Connection from %s closed by peer", clientAddr)
			case errors.Is(err, io.ErrUnexpectedEOF):
				logger.Debug("Connection from %s closed mid-frame: %v", clientAddr, err)
			case errors.Is(err, packet.ErrFrameTooLarge):
				logger.Warn("Connection from %s sent an oversized frame: %v", clientAddr, err)
			case ctx.Err() != nil:
				logger.Debug("Connection from %s cancelled: %v", clientAddr, ctx.Err())
			case isTimeout(err):
				logger.Debug("Connection from %s timed out: %v", clientAddr, err)
			default:
				logger.Debug("Error reading from %s: %v", clientAddr, err)
			}
			return
		}

		if result <= 0 {
			logger.Debug("Handler ended session with %s (result %d)", clientAddr, result)
			return
		}
	}
}

// handleFrame reads one frame and dispatches it. It returns the handler's
// result, or an error if no complete frame could be read.
func (w *Worker) handleFrame(ctx context.Context) (int, error) {
	s := w.server

	if err := w.armReadDeadline(ctx, s.config.IdleTimeout); err != nil {
		return 0, err
	}

	length, n, err := s.codec.ReadHeader(w.conn)
	if err != nil {
		s.metrics.RecordBytes(metrics.DirectionIn, n)
		return 0, err
	}

	if err := w.armReadDeadline(ctx, s.config.ReadTimeout); err != nil {
		return 0, err
	}

	p, m, err := s.codec.ReadPayload(w.conn, length)
	s.metrics.RecordBytes(metrics.DirectionIn, n+m)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	result := w.dispatch(ctx, p)
	s.metrics.RecordPacketHandled(time.Since(start), result)
	w.packets.Add(1)

	return result, nil
}

func (w *Worker) dispatch(ctx context.Context, p *packet.Packet) int {
	defer p.Release()
	return w.handler.HandlePacket(ctx, w, p)
}

// armReadDeadline sets the read deadline d from now (none if d is 0), then
// reports whether ctx was cancelled meanwhile. The order matters: a
// cancellation after the check still lands its own deadline last.
func (w *Worker) armReadDeadline(ctx context.Context, d time.Duration) error {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := w.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return ctx.Err()
}

// Send writes p as one frame. Concurrent sends are serialized.
//
// Returns the number of bytes written, which is less than the frame size if
// the write failed part way.
func (w *Worker) Send(p *packet.Packet) (int, error) {
	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if w.closed.Load() {
		return 0, ErrWorkerClosed
	}

	s := w.server
	if s.config.WriteTimeout > 0 {
		if err := w.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return 0, err
		}
	}

	n, err := s.codec.WriteFrame(w.conn, p)
	s.metrics.RecordBytes(metrics.DirectionOut, n)
	return n, err
}

// Close half-closes the write side of the connection, then closes it. A failed
// half-close is logged and does not prevent the close. Safe to call multiple
// times; later calls return the first result.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)

		if hc, ok := w.conn.(interface{ CloseWrite() error }); ok {
			if err := hc.CloseWrite(); err != nil {
				logger.Debug("Worker %s: half-close of %s failed: %v", w.ID, w.RemoteAddr(), err)
			}
		}

		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

// Finished reports whether the receive loop has exited.
func (w *Worker) Finished() bool {
	return w.finished.Load()
}

// Done is closed when the receive loop has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// RemoteAddr returns the peer address.
func (w *Worker) RemoteAddr() net.Addr {
	return w.conn.RemoteAddr()
}

// PacketsHandled returns the number of packets dispatched to the handler.
func (w *Worker) PacketsHandled() uint64 {
	return w.packets.Load()
}

// Server returns the server that accepted the connection.
func (w *Worker) Server() *Server {
	return w.server
}

// Data returns the value attached with SetData.
func (w *Worker) Data() any {
	w.dataMu.Lock()
	defer w.dataMu.Unlock()
	return w.data
}

// SetData attaches per-connection state for handlers.
func (w *Worker) SetData(v any) {
	w.dataMu.Lock()
	w.data = v
	w.dataMu.Unlock()
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
