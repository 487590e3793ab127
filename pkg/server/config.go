package server

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/framekit/pkg/lock"
	"github.com/marmos91/framekit/pkg/packet"
)

// DefaultPort is the port used when none is configured.
const DefaultPort = "7700"

// Config holds configuration parameters for the packet server.
//
// All timeout values are optional; zero means no timeout unless noted.
//
// Default values (applied by New if zero):
//   - Port: "7700" ("0" asks the OS for an ephemeral port)
//   - MaxConnections: 0 (unlimited)
//   - IdleTimeout: 0 (connections may stay idle indefinitely)
//   - ShutdownTimeout: 30s
//   - MaxFrameSize: 16MB
//   - ByteOrder: big
//   - MaxAcceptFailures: 10
//   - LockPolicy: exclusive
type Config struct {
	// Host is the interface to bind. Empty binds all interfaces.
	Host string `mapstructure:"host"`

	// Port is the TCP port to listen on, as a decimal string.
	Port string `mapstructure:"port" validate:"omitempty,numeric"`

	// MaxConnections limits concurrent connections. When reached, the accept
	// loop waits for a connection to close before accepting again.
	// 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// ReadTimeout bounds reading a frame payload once its header has arrived.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one frame from Worker.Send.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout bounds the wait for the next frame header. 0 waits forever.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is how long Stop waits for in-flight packets before
	// force-closing the remaining connections. Must be > 0.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`

	// MaxFrameSize is the largest payload accepted from a peer.
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`

	// ByteOrder of the frame length prefix: big, little or native.
	ByteOrder string `mapstructure:"byte_order" validate:"omitempty,oneof=big little native"`

	// AcceptRate limits new connections per second. 0 means unlimited.
	AcceptRate float64 `mapstructure:"accept_rate" validate:"min=0"`

	// AcceptBurst is the number of connections admitted back to back.
	AcceptBurst int `mapstructure:"accept_burst" validate:"min=0"`

	// MaxAcceptFailures is the number of consecutive Accept errors after
	// which the listener is considered broken and the server stops itself.
	MaxAcceptFailures int `mapstructure:"max_accept_failures" validate:"min=0"`

	// LockPolicy selects the lock used for server bookkeeping:
	// exclusive, mutex or none.
	LockPolicy string `mapstructure:"lock_policy" validate:"omitempty,oneof=exclusive mutex none"`

	// LockDebug enables misuse detection for the none policy.
	LockDebug bool `mapstructure:"lock_debug"`

	// MetricsLogInterval is the interval for logging connection statistics.
	// 0 disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval" validate:"min=0"`
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = packet.DefaultMaxFrameSize
	}
	if c.ByteOrder == "" {
		c.ByteOrder = "big"
	}
	if c.MaxAcceptFailures == 0 {
		c.MaxAcceptFailures = 10
	}
	if c.LockPolicy == "" {
		c.LockPolicy = lock.Exclusive.String()
	}
}

// Validate checks the values struct tags cannot express.
func (c *Config) Validate() error {
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 0 || port > 65535 {
		return fmt.Errorf("invalid port %q: must be 0-65535", c.Port)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts: read=%v write=%v idle=%v must be >= 0",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return fmt.Errorf("invalid accept limits: rate=%v burst=%d must be >= 0", c.AcceptRate, c.AcceptBurst)
	}
	if _, err := packet.ParseByteOrder(c.ByteOrder); err != nil {
		return err
	}
	if _, err := lock.ParsePolicy(c.LockPolicy); err != nil {
		return err
	}
	return nil
}

// Address returns the host:port the server binds.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, c.Port)
}

func (c *Config) codec() packet.Codec {
	order, _ := packet.ParseByteOrder(c.ByteOrder)
	return packet.Codec{Order: order, MaxFrameSize: c.MaxFrameSize}
}

func (c *Config) newLocker() lock.Locker {
	policy, _ := lock.ParsePolicy(c.LockPolicy)
	return lock.New(policy, c.LockDebug)
}
