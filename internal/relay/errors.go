package relay

import (
	"errors"
	"fmt"
)

var (
	ErrTopologyMismatch = errors.New("relay: records do not match installed topology")
	ErrInvalidTopology  = errors.New("relay: invalid topology")
	ErrConnectionClosed = errors.New("relay: connection closed")
	ErrNoSession        = errors.New("relay: no active session")
	ErrInvalidConfig    = errors.New("relay: invalid config")
	ErrHubStopped       = errors.New("relay: hub stopped")

	// errStaleTopology marks mismatches caused by a topology change racing a
	// tick. It is always wrapped together with ErrTopologyMismatch.
	errStaleTopology = errors.New("stale topology")
)

func connClosed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrConnectionClosed, op, err)
}
