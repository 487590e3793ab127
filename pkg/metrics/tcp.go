package metrics

import "time"

// Traffic directions used by RecordBytes.
const (
	DirectionIn  = "in"
	DirectionOut = "out"
)

// ServerMetrics provides observability for the packet server.
//
// Implementations collect connection lifecycle, worker reclamation and
// per-packet handling statistics. The server falls back to a no-op
// implementation when none is supplied.
//
// Example usage:
//
//	// With metrics enabled
//	srv := server.New(cfg, handler, prometheus.NewServerMetrics())
//
//	// Without metrics (no-op)
//	srv := server.New(cfg, handler, nil)
type ServerMetrics interface {
	// RecordConnectionAccepted increments the accepted connections counter.
	RecordConnectionAccepted()

	// RecordConnectionClosed increments the closed connections counter.
	RecordConnectionClosed()

	// RecordConnectionForceClosed counts connections closed by a shutdown timeout.
	RecordConnectionForceClosed()

	// SetActiveConnections updates the current connection count.
	SetActiveConnections(count int32)

	// RecordAcceptError counts a failed Accept call.
	RecordAcceptError()

	// RecordPacketHandled records one dispatched packet.
	//
	// Parameters:
	//   - duration: Time spent in the packet handler
	//   - result: The handler's return value (<= 0 ends the session)
	RecordPacketHandled(duration time.Duration, result int)

	// RecordBytes records payload and header bytes moved on worker connections.
	//
	// Parameters:
	//   - direction: DirectionIn or DirectionOut
	//   - bytes: Number of bytes transferred
	RecordBytes(direction string, bytes int)

	// RecordWorkersReclaimed counts finished workers removed by an accept-loop sweep.
	RecordWorkersReclaimed(count int)
}

// ClientMetrics provides observability for the packet client.
type ClientMetrics interface {
	// RecordConnect records a connection attempt; err is nil on success.
	RecordConnect(err error)

	// RecordDisconnect records a completed teardown.
	//
	// Parameters:
	//   - internal: true if the receive loop initiated it (peer close or error)
	RecordDisconnect(internal bool)

	// RecordPacketReceived records a fully framed inbound packet.
	RecordPacketReceived(bytes int)

	// RecordPacketSent records an outbound frame; bytes may be partial on failure.
	RecordPacketSent(bytes int, err error)

	// RecordParse records one finished parser task.
	RecordParse(duration time.Duration, err error)

	// SetParsersInFlight updates the number of listed parser tasks.
	SetParsersInFlight(count int)
}

// noopServerMetrics is a no-op implementation of ServerMetrics with zero overhead.
type noopServerMetrics struct{}

// NewNoopServerMetrics returns a ServerMetrics that discards everything.
func NewNoopServerMetrics() ServerMetrics {
	return noopServerMetrics{}
}

func (noopServerMetrics) RecordConnectionAccepted()                       {}
func (noopServerMetrics) RecordConnectionClosed()                         {}
func (noopServerMetrics) RecordConnectionForceClosed()                    {}
func (noopServerMetrics) SetActiveConnections(count int32)                {}
func (noopServerMetrics) RecordAcceptError()                              {}
func (noopServerMetrics) RecordPacketHandled(d time.Duration, result int) {}
func (noopServerMetrics) RecordBytes(direction string, bytes int)         {}
func (noopServerMetrics) RecordWorkersReclaimed(count int)                {}

// noopClientMetrics is a no-op implementation of ClientMetrics with zero overhead.
type noopClientMetrics struct{}

// NewNoopClientMetrics returns a ClientMetrics that discards everything.
func NewNoopClientMetrics() ClientMetrics {
	return noopClientMetrics{}
}

func (noopClientMetrics) RecordConnect(err error)                {}
func (noopClientMetrics) RecordDisconnect(internal bool)         {}
func (noopClientMetrics) RecordPacketReceived(bytes int)         {}
func (noopClientMetrics) RecordPacketSent(bytes int, err error)  {}
func (noopClientMetrics) RecordParse(d time.Duration, err error) {}
func (noopClientMetrics) SetParsersInFlight(count int)           {}
