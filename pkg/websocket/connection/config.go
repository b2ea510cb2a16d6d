package connection

import (
	"fmt"
	"net/url"
	"time"
)

// Config holds WebSocket connection configuration
type Config struct {
	URL              string            `mapstructure:"url" validate:"required,url"`
	Headers          map[string]string `mapstructure:"headers"`
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"`

	// Buffer settings
	ReadBufferSize  int   `mapstructure:"read_buffer_size"`
	WriteBufferSize int   `mapstructure:"write_buffer_size"`
	MaxMessageSize  int64 `mapstructure:"max_message_size"`

	// Timing settings
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PingInterval time.Duration `mapstructure:"ping_interval"`

	// Reconnection settings
	EnableReconnect   bool          `mapstructure:"enable_reconnect"`
	ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
	MaxReconnectDelay time.Duration `mapstructure:"max_reconnect_delay"`
	MaxReconnects     int           `mapstructure:"max_reconnects"`

	// Dial failures before the breaker opens, and how long it stays open
	BreakerFailures int           `mapstructure:"breaker_failures"`
	BreakerReset    time.Duration `mapstructure:"breaker_reset"`

	RequireSSL bool `mapstructure:"require_ssl"`
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout:  10 * time.Second,
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		MaxMessageSize:    2 * 1024 * 1024, // large order books
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		PingInterval:      15 * time.Second,
		EnableReconnect:   true,
		ReconnectDelay:    time.Second,
		MaxReconnectDelay: 30 * time.Second,
		MaxReconnects:     10,
		BreakerFailures:   3,
		BreakerReset:      30 * time.Second,
		RequireSSL:        true,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("URL is required")
	}

	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid WebSocket URL: %w", err)
	}
	switch u.Scheme {
	case "wss":
	case "ws":
		if c.RequireSSL {
			return fmt.Errorf("insecure WebSocket scheme: %s (must be wss)", u.Scheme)
		}
	default:
		return fmt.Errorf("unsupported WebSocket scheme: %q", u.Scheme)
	}

	if c.ReadBufferSize <= 0 || c.WriteBufferSize <= 0 {
		return fmt.Errorf("buffer sizes must be positive")
	}

	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("max message size must be positive")
	}

	if c.MaxReconnects < 0 {
		return fmt.Errorf("max reconnects must not be negative")
	}

	return nil
}

// ApplyDefaults fills in missing values with defaults
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()

	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if c.ReadBufferSize == 0 {
		c.ReadBufferSize = defaults.ReadBufferSize
	}
	if c.WriteBufferSize == 0 {
		c.WriteBufferSize = defaults.WriteBufferSize
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = defaults.MaxMessageSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = defaults.ReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = defaults.WriteTimeout
	}
	if c.PingInterval == 0 {
		c.PingInterval = defaults.PingInterval
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = defaults.ReconnectDelay
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = defaults.MaxReconnectDelay
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = defaults.BreakerFailures
	}
	if c.BreakerReset == 0 {
		c.BreakerReset = defaults.BreakerReset
	}
}

// TestConfig returns a configuration suitable for testing against a local
// plain-text server.
func TestConfig(url string) Config {
	config := DefaultConfig()
	config.URL = url
	config.HandshakeTimeout = 2 * time.Second
	config.PingInterval = 0
	config.ReconnectDelay = 10 * time.Millisecond
	config.MaxReconnectDelay = 50 * time.Millisecond
	config.MaxReconnects = 3
	config.BreakerFailures = 100
	config.RequireSSL = false
	return config
}
