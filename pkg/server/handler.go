package server

import (
	"context"
	"net"

	"github.com/marmos91/framekit/pkg/lock"
	"github.com/marmos91/framekit/pkg/packet"
)

// PacketHandler processes packets received by a worker.
//
// HandlePacket is called on the worker's goroutine, once per complete frame, in
// arrival order. The packet is released when the call returns; implementations
// that keep it must Retain it.
//
// The return value decides whether the session continues: a positive result
// reads the next frame, zero or a negative result closes the connection.
type PacketHandler interface {
	HandlePacket(ctx context.Context, w *Worker, p *packet.Packet) int
}

// HandlerFunc adapts an ordinary function to PacketHandler.
type HandlerFunc func(ctx context.Context, w *Worker, p *packet.Packet) int

func (f HandlerFunc) HandlePacket(ctx context.Context, w *Worker, p *packet.Packet) int {
	return f(ctx, w, p)
}

// WorkerFactory builds the worker for an accepted connection.
//
// Custom factories usually call NewWorker and attach per-connection state
// with SetData.
type WorkerFactory func(s *Server, conn net.Conn) *Worker

// ListenFunc opens the server's listener.
type ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)

// Option customizes a Server at construction.
type Option func(*Server)

// WithWorkerFactory replaces the default worker constructor.
func WithWorkerFactory(f WorkerFactory) Option {
	return func(s *Server) {
		if f != nil {
			s.newWorker = f
		}
	}
}

// WithLocker replaces the general lock that serializes Start and Stop.
func WithLocker(l lock.Locker) Option {
	return func(s *Server) {
		if l != nil {
			s.mu = l
		}
	}
}

// WithListen replaces how the listener is opened, e.g. for socket activation.
func WithListen(fn ListenFunc) Option {
	return func(s *Server) {
		if fn != nil {
			s.listen = fn
		}
	}
}

func defaultListen(ctx context.Context, network, address string) (net.Listener, error) {
	var lc net.ListenConfig
	return lc.Listen(ctx, network, address)
}
