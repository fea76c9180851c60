package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/trackrelay/internal/protocol/frame"
)

var ErrInvalidConfig = errors.New("session: invalid config")

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines handshake and channel timing.
type Config struct {
	// IdentMaxBytes bounds the identifier line read during the handshake.
	IdentMaxBytes    int
	HandshakeTimeout time.Duration
	// WriteTimeout bounds every frame send on an established channel.
	WriteTimeout   time.Duration
	ConnectTimeout time.Duration
	Limits         frame.Limits
	Backoff        BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		IdentMaxBytes:    50,
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     time.Second,
		ConnectTimeout:   5 * time.Second,
		Limits:           frame.DefaultLimits(),
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

func (c Config) Validate() error {
	if c.IdentMaxBytes <= 0 {
		return fmt.Errorf("%w: ident_max_bytes must be > 0", ErrInvalidConfig)
	}
	if c.HandshakeTimeout <= 0 {
		return fmt.Errorf("%w: handshake_timeout must be > 0", ErrInvalidConfig)
	}
	if c.WriteTimeout <= 0 {
		return fmt.Errorf("%w: write_timeout must be > 0", ErrInvalidConfig)
	}
	if c.Limits.MaxFrameBytes <= 0 {
		return fmt.Errorf("%w: max_frame_bytes must be > 0", ErrInvalidConfig)
	}
	return nil
}
