package icsp

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/bigbag/pic18-flasher/internal/protocol"
)

// Config holds the session configuration.
type Config struct {
	// Timeout bounds each response read
	Timeout time.Duration

	// Logger receives frame traces at debug level
	Logger zerolog.Logger
}

func defaultConfig() Config {
	return Config{
		Timeout: protocol.DefaultTimeout,
		Logger:  zerolog.Nop(),
	}
}

// Option is a functional option for configuring the Session.
type Option func(*Config)

// WithTimeout sets the response timeout for every exchange.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		if timeout > 0 {
			c.Timeout = timeout
		}
	}
}

// WithLogger sets the logger used for frame traces.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}
