package client

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/marmos91/framekit/pkg/lock"
	"github.com/marmos91/framekit/pkg/packet"
)

const (
	// DefaultHost is the host used when none is configured.
	DefaultHost = "127.0.0.1"

	// DefaultPort is the port used when none is configured.
	DefaultPort = "7700"
)

// Config holds configuration parameters for a Client.
//
// Default values (applied by New if zero):
//   - Host: 127.0.0.1
//   - Port: "7700"
//   - DialTimeout: 10s
//   - DisconnectTimeout: 0 (wait for the receive loop indefinitely)
//   - MaxFrameSize: 16MB
//   - ByteOrder: big
//   - ParserConcurrency: 16
//   - LockPolicy: exclusive
//   - RetryBaseDelay: 100ms
//   - RetryMaxDelay: 5s
type Config struct {
	// Host to connect to: a name or an IP literal. Names may resolve to
	// several candidate addresses, tried in order.
	Host string `mapstructure:"host"`

	// Port to connect to, as a decimal string.
	Port string `mapstructure:"port" validate:"omitempty,numeric"`

	// DialTimeout bounds each connection attempt.
	DialTimeout time.Duration `mapstructure:"dial_timeout" validate:"min=0"`

	// ReadTimeout bounds reading a frame payload once its header has arrived.
	// 0 means no timeout.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds one Send. 0 means no timeout.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// DisconnectTimeout bounds how long Disconnect waits for the receive loop.
	// 0 waits indefinitely.
	DisconnectTimeout time.Duration `mapstructure:"disconnect_timeout" validate:"min=0"`

	// MaxFrameSize is the largest payload accepted from the server.
	MaxFrameSize uint32 `mapstructure:"max_frame_size"`

	// ByteOrder of the frame length prefix: big, little or native.
	ByteOrder string `mapstructure:"byte_order" validate:"omitempty,oneof=big little native"`

	// ParserConcurrency is the number of parsers that may run at once.
	// The receive loop blocks when all of them are busy.
	ParserConcurrency int `mapstructure:"parser_concurrency" validate:"min=0"`

	// LockPolicy selects the lock used for client bookkeeping:
	// exclusive, mutex or none.
	LockPolicy string `mapstructure:"lock_policy" validate:"omitempty,oneof=exclusive mutex none"`

	// LockDebug enables misuse detection for the none policy.
	LockDebug bool `mapstructure:"lock_debug"`

	// RetryAttempts is the number of extra attempts ConnectWithRetry makes
	// after the first one fails.
	RetryAttempts int `mapstructure:"retry_attempts" validate:"min=0"`

	// RetryBaseDelay is the delay before the first retry. Each further retry
	// doubles it, up to RetryMaxDelay.
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay" validate:"min=0"`

	// RetryMaxDelay caps the retry delay.
	RetryMaxDelay time.Duration `mapstructure:"retry_max_delay" validate:"min=0"`
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == "" {
		c.Port = DefaultPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = packet.DefaultMaxFrameSize
	}
	if c.ByteOrder == "" {
		c.ByteOrder = "big"
	}
	if c.ParserConcurrency == 0 {
		c.ParserConcurrency = 16
	}
	if c.LockPolicy == "" {
		c.LockPolicy = lock.Exclusive.String()
	}
	if c.RetryBaseDelay == 0 {
		c.RetryBaseDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay == 0 {
		c.RetryMaxDelay = 5 * time.Second
	}
}

// Validate checks the values struct tags cannot express.
func (c *Config) Validate() error {
	if err := validatePort(c.Port); err != nil {
		return err
	}
	if c.DialTimeout < 0 || c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.DisconnectTimeout < 0 {
		return fmt.Errorf("invalid timeouts: dial=%v read=%v write=%v disconnect=%v must be >= 0",
			c.DialTimeout, c.ReadTimeout, c.WriteTimeout, c.DisconnectTimeout)
	}
	if c.ParserConcurrency < 0 {
		return fmt.Errorf("invalid ParserConcurrency %d: must be >= 0", c.ParserConcurrency)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("invalid RetryAttempts %d: must be >= 0", c.RetryAttempts)
	}
	if c.RetryMaxDelay < c.RetryBaseDelay {
		return fmt.Errorf("invalid retry delays: max %v is below base %v", c.RetryMaxDelay, c.RetryBaseDelay)
	}
	if _, err := packet.ParseByteOrder(c.ByteOrder); err != nil {
		return err
	}
	if _, err := lock.ParsePolicy(c.LockPolicy); err != nil {
		return err
	}
	return nil
}

// Address returns the configured host:port.
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

// backoff returns the delay before retry n (1-based): base * 2^(n-1),
// capped at max.
func (c *Config) backoff(n int) time.Duration {
	delay := c.RetryBaseDelay
	for i := 1; i < n && delay < c.RetryMaxDelay; i++ {
		delay *= 2
	}
	return min(delay, c.RetryMaxDelay)
}

func validatePort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return fmt.Errorf("invalid port %q: must be 1-65535", port)
	}
	return nil
}
