package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/internal/ratelimiter"
	"github.com/marmos91/framekit/pkg/lock"
	"github.com/marmos91/framekit/pkg/metrics"
	"github.com/marmos91/framekit/pkg/packet"
)

// ErrServerStopped is returned by Serve when the server stopped on its own,
// for example after the listener broke.
var ErrServerStopped = errors.New("server stopped")

// Server accepts TCP connections and runs one Worker per connection.
//
// Architecture:
// Server owns the listener and the accept loop. Every accepted connection is
// handed to the WorkerFactory and the resulting worker runs its receive loop on
// its own goroutine. Workers are tracked in a list that the accept loop sweeps
// after every accept; finished workers are dropped there and nowhere else while
// the server runs.
//
// Shutdown flow:
//  1. Stop called, Serve's context cancelled, or the listener broke
//  2. Listener closed (no new connections)
//  3. Run context cancelled (blocked worker reads are interrupted)
//  4. Wait for workers to finish (up to ShutdownTimeout)
//  5. Force-close any remaining connections after timeout
//
// A stopped server can be started again; each Start begins a new run with its
// own listener and context.
//
// Thread safety:
// All methods are safe for concurrent use. Start and Stop are serialized by the
// general lock.
type Server struct {
	config  Config
	handler PacketHandler
	metrics metrics.ServerMetrics
	codec   packet.Codec
	limiter *ratelimiter.AcceptLimiter

	newWorker WorkerFactory
	listen    ListenFunc

	// mu is the general lock. It serializes Start and Stop so a stop cannot
	// race a startup.
	mu lock.Locker

	// run is the active run, nil while stopped.
	run atomic.Pointer[runState]

	// workersMu guards workers.
	workersMu lock.Locker
	workers   []*Worker

	// connCount tracks the current number of live connections.
	connCount atomic.Int32
}

// runState holds everything that belongs to one Start/Stop cycle.
type runState struct {
	listener net.Listener

	// ctx is passed to every worker and cancelled on shutdown.
	ctx    context.Context
	cancel context.CancelFunc

	shutdown     chan struct{}
	shutdownOnce sync.Once

	// acceptDone is closed when the accept loop has returned.
	acceptDone chan struct{}

	// stopped is closed once the run is fully torn down.
	stopped chan struct{}

	activeConns sync.WaitGroup

	// connSemaphore limits concurrent connections, nil if unlimited.
	connSemaphore chan struct{}
}

// New creates a Server in a stopped state. Call Start or Serve to begin
// accepting connections.
//
// Zero values in config are replaced with defaults. An invalid configuration
// or a nil handler panics, as both indicate a programmer error. A nil metrics
// collector records nothing.
func New(config Config, handler PacketHandler, m metrics.ServerMetrics, opts ...Option) *Server {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid server config: %v", err))
	}
	if handler == nil {
		panic("server: nil packet handler")
	}
	if m == nil {
		m = metrics.NewNoopServerMetrics()
	}

	s := &Server{
		config:    config,
		handler:   handler,
		metrics:   m,
		codec:     config.codec(),
		limiter:   ratelimiter.New(config.AcceptRate, config.AcceptBurst),
		newWorker: NewWorker,
		listen:    defaultListen,
		mu:        config.newLocker(),
		workersMu: config.newLocker(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start binds the listener and starts the accept loop.
//
// Start is idempotent: it returns nil without doing anything when the server is
// already running. ctx only bounds the bind; the run itself lasts until Stop.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.run.Load() != nil {
		logger.Debug("Server already started on %s", s.Addr())
		return nil
	}

	address := s.config.Address()
	listener, err := s.listen(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("failed to create listener on %s: %w", address, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	run := &runState{
		listener:   listener,
		ctx:        runCtx,
		cancel:     cancel,
		shutdown:   make(chan struct{}),
		acceptDone: make(chan struct{}),
		stopped:    make(chan struct{}),
	}
	if s.config.MaxConnections > 0 {
		run.connSemaphore = make(chan struct{}, s.config.MaxConnections)
		logger.Debug("Connection limit: %d", s.config.MaxConnections)
	} else {
		logger.Debug("Connection limit: unlimited")
	}
	s.run.Store(run)

	logger.Info("Server listening on %s", listener.Addr())
	logger.Debug("Server config: max_connections=%d read_timeout=%v write_timeout=%v idle_timeout=%v byte_order=%s",
		s.config.MaxConnections, s.config.ReadTimeout, s.config.WriteTimeout, s.config.IdleTimeout, s.config.ByteOrder)

	go s.acceptLoop(run)

	if s.config.MetricsLogInterval > 0 {
		go s.logMetrics(run.ctx)
	}
	return nil
}

// Serve starts the server and blocks until ctx is cancelled, then stops it
// gracefully.
//
// Returns:
//   - nil on graceful shutdown
//   - ErrServerStopped if the server stopped itself before ctx was cancelled
//   - error if the listener cannot be created or shutdown is not graceful
func (s *Server) Serve(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	run := s.run.Load()
	if run == nil {
		return ErrServerStopped
	}

	select {
	case <-ctx.Done():
		logger.Info("Server shutdown signal received: %v", ctx.Err())
	case <-run.stopped:
		return ErrServerStopped
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	return s.Stop(stopCtx)
}

// Stop shuts the server down: the listener is closed, workers are signalled to
// finish and, after ShutdownTimeout or when ctx is done, whatever is still
// running is force-closed.
//
// Stop is idempotent and returns nil when the server is not running.
//
// Returns:
//   - nil if every worker finished gracefully
//   - error if connections had to be force-closed
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopLocked(ctx, s.run.Load())
}

// stopLocked tears down run if it is still the active one. The caller holds mu.
func (s *Server) stopLocked(ctx context.Context, run *runState) error {
	if run == nil || s.run.Load() != run {
		return nil
	}

	run.initiateShutdown()
	<-run.acceptDone

	err := s.drain(ctx, run)
	s.run.Store(nil)
	close(run.stopped)

	logger.Info("Server stopped")
	return err
}

// stopFromAcceptLoop stops the server after the accept loop gave up on a
// broken listener. It runs on its own goroutine because Stop waits for the
// accept loop to return.
func (s *Server) stopFromAcceptLoop(run *runState) {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.stopLocked(ctx, run); err != nil {
		logger.Warn("Server stop after listener failure: %v", err)
	}
}

// initiateShutdown closes the shutdown channel and the listener, and cancels
// the run context. Safe to call multiple times.
func (r *runState) initiateShutdown() {
	r.shutdownOnce.Do(func() {
		logger.Debug("Server shutdown initiated")

		close(r.shutdown)

		if err := r.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			logger.Debug("Error closing listener: %v", err)
		}

		r.cancel()
	})
}

// acceptLoop accepts connections until shutdown or until the listener is
// deemed broken.
func (s *Server) acceptLoop(run *runState) {
	defer close(run.acceptDone)

	var (
		failures  int
		tempDelay time.Duration
	)

	for {
		if err := s.limiter.Wait(run.ctx); err != nil {
			return
		}

		// Blocks at MaxConnections until a connection closes
		if run.connSemaphore != nil {
			select {
			case run.connSemaphore <- struct{}{}:
			case <-run.shutdown:
				return
			}
		}

		conn, err := run.listener.Accept()
		if err != nil {
			if run.connSemaphore != nil {
				<-run.connSemaphore
			}

			select {
			case <-run.shutdown:
				return
			default:
			}

			failures++
			s.metrics.RecordAcceptError()

			if errors.Is(err, net.ErrClosed) || failures >= s.config.MaxAcceptFailures {
				logger.Error("Listener %s is broken after %d consecutive failure(s): %v - stopping server",
					run.listener.Addr(), failures, err)
				go s.stopFromAcceptLoop(run)
				return
			}

			if tempDelay == 0 {
				tempDelay = 5 * time.Millisecond
			} else {
				tempDelay = min(2*tempDelay, time.Second)
			}
			logger.Debug("Error accepting connection (%d/%d): %v; retrying in %v",
				failures, s.config.MaxAcceptFailures, err, tempDelay)

			select {
			case <-time.After(tempDelay):
			case <-run.shutdown:
				return
			}
			continue
		}

		failures = 0
		tempDelay = 0

		s.startWorker(run, conn)

		if reclaimed := s.sweep(); reclaimed > 0 {
			s.metrics.RecordWorkersReclaimed(reclaimed)
			logger.Debug("Reclaimed %d finished worker(s) (tracked: %d)", reclaimed, s.WorkerCount())
		}
	}
}

// startWorker builds a worker for conn, tracks it and runs it on its own
// goroutine.
func (s *Server) startWorker(run *runState, conn net.Conn) {
	w := s.newWorker(s, conn)
	if w == nil {
		logger.Warn("Worker factory rejected connection from %s", conn.RemoteAddr())
		_ = conn.Close()
		if run.connSemaphore != nil {
			<-run.connSemaphore
		}
		return
	}

	run.activeConns.Add(1)
	current := s.connCount.Add(1)

	s.workersMu.Lock()
	s.workers = append(s.workers, w)
	s.workersMu.Unlock()

	s.metrics.RecordConnectionAccepted()
	s.metrics.SetActiveConnections(current)

	logger.Debug("Connection accepted from %s (worker: %s, active: %d)",
		conn.RemoteAddr(), w.ID, current)

	go func() {
		defer func() {
			current := s.connCount.Add(-1)
			if run.connSemaphore != nil {
				<-run.connSemaphore
			}

			s.metrics.RecordConnectionClosed()
			s.metrics.SetActiveConnections(current)

			logger.Debug("Connection closed from %s (worker: %s, active: %d)",
				w.RemoteAddr(), w.ID, current)

			run.activeConns.Done()
		}()

		w.Serve(run.ctx)
	}()
}

// sweep drops finished workers from the tracked list and returns how many
// were removed.
func (s *Server) sweep() int {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()

	kept := s.workers[:0]
	for _, w := range s.workers {
		if !w.Finished() {
			kept = append(kept, w)
		}
	}
	removed := len(s.workers) - len(kept)
	clear(s.workers[len(kept):])
	s.workers = kept
	return removed
}

// drain waits for the run's workers up to ShutdownTimeout or until ctx is
// done, then releases every tracked worker.
func (s *Server) drain(ctx context.Context, run *runState) error {
	activeCount := s.connCount.Load()
	logger.Info("Graceful shutdown: waiting for %d active connection(s) (timeout: %v)",
		activeCount, s.config.ShutdownTimeout)

	done := make(chan struct{})
	go func() {
		run.activeConns.Wait()
		close(done)
	}()

	timer := time.NewTimer(s.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		s.ShutdownAllClients()
		logger.Info("Graceful shutdown complete: all connections closed")
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	remaining := s.connCount.Load()
	logger.Warn("Shutdown timeout exceeded: %d connection(s) still active - forcing closure", remaining)
	forced := s.ShutdownAllClients()
	return fmt.Errorf("shutdown timeout: %d connection(s) force-closed", forced)
}

// ShutdownAllClients closes every tracked worker's connection and drops all of
// them from the list. It returns the number of workers that were still running.
//
// Safe to call at any time and repeatedly; with nothing tracked it is a no-op.
func (s *Server) ShutdownAllClients() int {
	s.workersMu.Lock()
	workers := s.workers
	s.workers = nil
	s.workersMu.Unlock()

	forced := 0
	for _, w := range workers {
		if w.Finished() {
			continue
		}
		forced++
		s.metrics.RecordConnectionForceClosed()
		if err := w.Close(); err != nil {
			logger.Debug("Error force-closing worker %s (%s): %v", w.ID, w.RemoteAddr(), err)
		}
	}

	if forced > 0 {
		logger.Info("Force-closed %d connection(s)", forced)
	}
	return forced
}

// logMetrics periodically logs connection statistics until ctx is cancelled.
func (s *Server) logMetrics(ctx context.Context) {
	ticker := time.NewTicker(s.config.MetricsLogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			logger.Info("Server metrics: active_connections=%d tracked_workers=%d accept_tokens=%.1f",
				s.connCount.Load(), s.WorkerCount(), s.AcceptTokens())
		}
	}
}

// AcceptTokens returns how many connections the accept rate limiter would
// admit right now without waiting, or -1 when accept limiting is off.
func (s *Server) AcceptTokens() float64 {
	return s.limiter.Tokens()
}

// IsStarted reports whether the server is accepting connections.
func (s *Server) IsStarted() bool {
	return s.run.Load() != nil
}

// Addr returns the listener address, or nil while stopped.
func (s *Server) Addr() net.Addr {
	run := s.run.Load()
	if run == nil {
		return nil
	}
	return run.listener.Addr()
}

// Port returns the bound TCP port, or 0 while stopped.
func (s *Server) Port() int {
	if addr, ok := s.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// WorkerCount returns the number of tracked workers, including finished ones
// the accept loop has not swept yet.
func (s *Server) WorkerCount() int {
	s.workersMu.Lock()
	defer s.workersMu.Unlock()
	return len(s.workers)
}

// ActiveConnections returns the number of connections whose worker is still
// running.
func (s *Server) ActiveConnections() int32 {
	return s.connCount.Load()
}

// Config returns the effective configuration, defaults applied.
func (s *Server) Config() Config {
	return s.config
}
