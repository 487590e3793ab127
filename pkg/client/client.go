// Package client implements the outbound side of the framing protocol: a
// connection state machine, a receive loop that hands every packet to a
// parser on a bounded pool, and serialized sends.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/marmos91/framekit/internal/logger"
	"github.com/marmos91/framekit/pkg/lock"
	"github.com/marmos91/framekit/pkg/metrics"
	"github.com/marmos91/framekit/pkg/packet"
	"github.com/marmos91/framekit/pkg/parser"
	"github.com/marmos91/framekit/pkg/refcount"
	"github.com/sourcegraph/conc/pool"
)

var (
	// ErrNotConnected is returned by Send when there is no active connection.
	ErrNotConnected = errors.New("client: not connected")

	// ErrConnected is returned when changing the address of a connected client.
	ErrConnected = errors.New("client: connection active")

	// ErrNoAddress is returned when the host resolves to no address.
	ErrNoAddress = errors.New("client: host resolved to no addresses")
)

// State is the connection state of a Client.
type State int32

const (
	Unconnected State = iota
	Connecting
	Connected
	Disconnecting
)

func (s State) String() string {
	switch s {
	case Unconnected:
		return "unconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	case Disconnecting:
		return "disconnecting"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Option customizes a Client at construction.
type Option func(*Client)

// WithResolver replaces the resolver used to look up the host.
func WithResolver(r *net.Resolver) Option {
	return func(c *Client) {
		if r != nil {
			c.resolver = r
		}
	}
}

// WithLocker replaces the general lock that serializes Connect and address
// changes.
func WithLocker(l lock.Locker) Option {
	return func(c *Client) {
		if l != nil {
			c.mu = l
		}
	}
}

// Client owns one outbound connection.
//
// State machine:
//
//	Unconnected -> Connecting -> Connected -> Disconnecting -> Unconnected
//
// Connect moves to Connected only after the receive loop is running. Teardown
// happens exactly once per connection: the first caller to move the state from
// Connected to Disconnecting performs it and every other caller returns at
// once, whether it is the application calling Disconnect or the receive loop
// reacting to the peer.
//
// Thread safety:
// All methods are safe for concurrent use.
type Client struct {
	config   Config
	factory  parser.Factory
	metrics  metrics.ClientMetrics
	codec    packet.Codec
	resolver *net.Resolver

	// mu is the general lock: Connect and address changes.
	mu lock.Locker

	// sendMu serializes writers.
	sendMu lock.Locker

	state   atomic.Int32
	conn    atomic.Pointer[connection]
	parsers *parser.List
}

// connection is the state of one established connection.
type connection struct {
	conn net.Conn

	// ctx is cancelled at teardown; parser tasks derive from it.
	ctx    context.Context
	cancel context.CancelFunc

	pool *pool.Pool

	// slots bounds the parsers submitted to pool. Acquiring one also watches
	// ctx, so a full pool never holds up teardown.
	slots chan struct{}

	// live is closed once the client is Connected, releasing the receive loop.
	live chan struct{}

	// loopDone is closed when the receive loop has returned.
	loopDone chan struct{}
}

// New creates a Client in the Unconnected state.
//
// factory builds the parser for every received packet. Zero values in config
// are replaced with defaults; an invalid configuration or a nil factory
// panics. A nil metrics collector records nothing.
func New(config Config, factory parser.Factory, m metrics.ClientMetrics, opts ...Option) *Client {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		panic(fmt.Sprintf("invalid client config: %v", err))
	}
	if factory == nil {
		panic("client: nil parser factory")
	}
	if m == nil {
		m = metrics.NewNoopClientMetrics()
	}

	c := &Client{
		config:   config,
		factory:  factory,
		metrics:  m,
		codec:    config.codec(),
		resolver: net.DefaultResolver,
		mu:       config.newLocker(),
		sendMu:   config.newLocker(),
		parsers:  parser.NewList(config.newLocker()),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetHost changes the host used by the next Connect.
// Returns ErrConnected unless the client is Unconnected.
func (c *Client) SetHost(host string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Unconnected {
		return ErrConnected
	}
	if host == "" {
		host = DefaultHost
	}
	c.config.Host = host
	return nil
}

// SetPort changes the port used by the next Connect.
// Returns ErrConnected unless the client is Unconnected.
func (c *Client) SetPort(port string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() != Unconnected {
		return ErrConnected
	}
	if port == "" {
		port = DefaultPort
	}
	if err := validatePort(port); err != nil {
		return err
	}
	c.config.Port = port
	return nil
}

// Host returns the configured host.
func (c *Client) Host() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Host
}

// Port returns the configured port.
func (c *Client) Port() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config.Port
}

// Connect establishes the connection and starts the receive loop.
//
// Connect is idempotent: it returns nil at once when already connected. The
// host is resolved and every candidate address is tried in order until one
// accepts; if none does the client stays Unconnected and the errors of all
// attempts are returned joined.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == Connected {
		return nil
	}
	if !c.state.CompareAndSwap(int32(Unconnected), int32(Connecting)) {
		return fmt.Errorf("client: cannot connect while %s", c.State())
	}

	conn, err := c.dial(ctx)
	c.metrics.RecordConnect(err)
	if err != nil {
		c.state.Store(int32(Unconnected))
		return err
	}

	connCtx, cancel := context.WithCancel(context.Background())
	cc := &connection{
		conn:     conn,
		ctx:      connCtx,
		cancel:   cancel,
		pool:     pool.New().WithMaxGoroutines(c.config.ParserConcurrency),
		slots:    make(chan struct{}, c.config.ParserConcurrency),
		live:     make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	c.conn.Store(cc)

	started := make(chan struct{})
	go c.receiveLoop(cc, started)
	<-started

	c.state.Store(int32(Connected))
	close(cc.live)

	logger.Info("Connected to %s (local %s)", conn.RemoteAddr(), conn.LocalAddr())
	return nil
}

// ConnectWithRetry calls Connect until it succeeds, retrying up to
// RetryAttempts times with exponential backoff between attempts.
func (c *Client) ConnectWithRetry(ctx context.Context) error {
	attempts := c.config.RetryAttempts + 1

	var err error
	for attempt := 1; ; attempt++ {
		if err = c.Connect(ctx); err == nil {
			return nil
		}
		if attempt >= attempts {
			break
		}

		delay := c.config.backoff(attempt)
		logger.Warn("Connect attempt %d/%d failed: %v; retrying in %v", attempt, attempts, err, delay)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("connect cancelled after %d attempt(s): %w", attempt, ctx.Err())
		}
	}
	return fmt.Errorf("connect failed after %d attempt(s): %w", attempts, err)
}

// dial resolves the host and tries each candidate address. The caller holds mu.
func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	host, port := c.config.Host, c.config.Port

	addrs, err := c.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", host, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddress, host)
	}

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	var errs []error
	for _, addr := range addrs {
		target := net.JoinHostPort(addr, port)
		conn, err := dialer.DialContext(ctx, "tcp", target)
		if err == nil {
			return conn, nil
		}

		logger.Debug("Connect to %s failed: %v", target, err)
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("failed to connect to %s: %w", net.JoinHostPort(host, port), errors.Join(errs...))
}

// receiveLoop reads frames until the connection ends, then tears it down.
func (c *Client) receiveLoop(cc *connection, started chan<- struct{}) {
	defer close(cc.loopDone)
	close(started)

	select {
	case <-cc.live:
	case <-cc.ctx.Done():
		return
	}

	remote := cc.conn.RemoteAddr().String()

	// Cancellation interrupts a blocked read
	stop := context.AfterFunc(cc.ctx, func() {
		_ = cc.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	err := c.readFrames(cc)
	switch {
	case cc.ctx.Err() != nil:
		logger.Debug("Receive loop for %s stopped by disconnect", remote)
		return
	case errors.Is(err, io.EOF):
		logger.Info("Connection to %s closed by peer", remote)
	case errors.Is(err, io.ErrUnexpectedEOF):
		logger.Warn("Connection to %s closed mid-frame: %v", remote, err)
	default:
		logger.Warn("Receive from %s failed: %v", remote, err)
	}

	c.disconnect(cc, true)
}

func (c *Client) readFrames(cc *connection) error {
	for {
		if err := c.armReadDeadline(cc, 0); err != nil {
			return err
		}

		length, n, err := c.codec.ReadHeader(cc.conn)
		if err != nil {
			return err
		}

		if err := c.armReadDeadline(cc, c.config.ReadTimeout); err != nil {
			return err
		}

		p, m, err := c.codec.ReadPayload(cc.conn, length)
		if err != nil {
			return err
		}
		c.metrics.RecordPacketReceived(n + m)

		c.dispatch(cc, p)

		c.parsers.Sweep()
		c.metrics.SetParsersInFlight(c.parsers.Len())
	}
}

// armReadDeadline sets the read deadline d from now (none if d is 0), then
// reports whether the connection was cancelled meanwhile.
func (c *Client) armReadDeadline(cc *connection, d time.Duration) error {
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	if err := cc.conn.SetReadDeadline(deadline); err != nil {
		return err
	}
	return cc.ctx.Err()
}

// dispatch hands p to a new parser on the pool. Submission blocks while every
// slot is busy, until a parser finishes or the connection is torn down. A
// packet that arrives during teardown is dropped.
func (c *Client) dispatch(cc *connection, p *packet.Packet) {
	select {
	case cc.slots <- struct{}{}:
	case <-cc.ctx.Done():
		logger.Debug("Dropping %d-byte packet received during disconnect", p.Len())
		p.Release()
		return
	}

	prs := c.factory()
	if prs == nil {
		<-cc.slots
		logger.Warn("Parser factory returned nil; dropping %d-byte packet", p.Len())
		p.Release()
		return
	}

	task := parser.NewTask(cc.ctx, prs, p)
	c.parsers.Add(task)

	cc.pool.Go(func() {
		defer func() { <-cc.slots }()
		task.Run()
		c.metrics.RecordParse(task.Duration(), task.Err())
	})
}

// Send writes p as one frame and returns the number of bytes written, which
// is less than the frame size if the write failed part way.
//
// A failed write leaves the stream in an unknown state, so the connection is
// closed and the receive loop tears it down.
func (c *Client) Send(p *packet.Packet) (int, error) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	cc := c.conn.Load()
	if cc == nil || c.State() != Connected {
		return 0, ErrNotConnected
	}

	if c.config.WriteTimeout > 0 {
		if err := cc.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout)); err != nil {
			return 0, err
		}
	}

	n, err := c.codec.WriteFrame(cc.conn, p)
	c.metrics.RecordPacketSent(n, err)
	if err != nil {
		if errors.Is(err, packet.ErrFrameTooLarge) {
			return n, err
		}
		logger.Warn("Send to %s failed after %d byte(s): %v", cc.conn.RemoteAddr(), n, err)
		_ = cc.conn.Close()
		return n, err
	}
	return n, nil
}

// Disconnect tears down the connection. It is a no-op when the client is not
// connected or another teardown is already running.
//
// Disconnect waits for the receive loop to exit, up to DisconnectTimeout, and
// returns an error if it did not.
func (c *Client) Disconnect() error {
	return c.disconnect(nil, false)
}

// Close disconnects the client.
func (c *Client) Close() error {
	return c.Disconnect()
}

// disconnect performs the teardown if this caller wins the transition out of
// Connected. from restricts the teardown to that connection; internal marks a
// call from the receive loop, which must not wait for itself.
func (c *Client) disconnect(from *connection, internal bool) error {
	if !c.state.CompareAndSwap(int32(Connected), int32(Disconnecting)) {
		return nil
	}

	cc := c.conn.Load()
	if cc == nil {
		c.state.Store(int32(Unconnected))
		return nil
	}
	if from != nil && cc != from {
		// A newer connection replaced the one this loop served
		c.state.Store(int32(Connected))
		return nil
	}

	remote := cc.conn.RemoteAddr().String()
	cc.cancel()

	if hc, ok := cc.conn.(interface{ CloseWrite() error }); ok {
		if err := hc.CloseWrite(); err != nil {
			logger.Debug("Half-close of %s failed: %v", remote, err)
		}
	}
	if err := cc.conn.Close(); err != nil {
		logger.Debug("Close of %s failed: %v", remote, err)
	}

	var err error
	if !internal {
		err = c.waitReceiveLoop(cc)
	}

	tasks := c.parsers.Snapshot()
	cancelled := c.parsers.Clear()

	// The pool accepts no submissions once the receive loop is gone
	go func() {
		<-cc.loopDone
		cc.pool.Wait()
		if refcount.AssertionsEnabled() {
			for _, t := range tasks {
				t.CheckReleased()
			}
		}
	}()

	c.metrics.RecordDisconnect(internal)
	c.metrics.SetParsersInFlight(0)

	c.conn.Store(nil)
	c.state.Store(int32(Unconnected))

	logger.Info("Disconnected from %s (internal=%t, parsers cancelled=%d)", remote, internal, cancelled)
	return err
}

func (c *Client) waitReceiveLoop(cc *connection) error {
	if c.config.DisconnectTimeout <= 0 {
		<-cc.loopDone
		return nil
	}

	timer := time.NewTimer(c.config.DisconnectTimeout)
	defer timer.Stop()

	select {
	case <-cc.loopDone:
		return nil
	case <-timer.C:
		return fmt.Errorf("client: receive loop did not exit within %v", c.config.DisconnectTimeout)
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

// IsConnected reports whether the client is Connected.
func (c *Client) IsConnected() bool {
	return c.State() == Connected
}

// Addr returns the remote address of the active connection, or nil.
func (c *Client) Addr() net.Addr {
	cc := c.conn.Load()
	if cc == nil {
		return nil
	}
	return cc.conn.RemoteAddr()
}

// InFlight returns the number of parsers that have not finished yet.
func (c *Client) InFlight() int {
	n := 0
	for _, t := range c.parsers.Snapshot() {
		if !t.Finished() {
			n++
		}
	}
	return n
}
