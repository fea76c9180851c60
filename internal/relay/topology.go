package relay

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/danmuck/trackrelay/internal/protocol/record"
)

// Topology is one announced device order. Version increases with every
// publish on a session; zero means nothing has been published.
type Topology struct {
	Version     uint64
	Descriptors []record.DeviceDescriptor
}

// NewTopology validates descs and returns a topology holding a copy of them.
func NewTopology(version uint64, descs []record.DeviceDescriptor) (Topology, error) {
	t := Topology{Version: version, Descriptors: slices.Clone(descs)}
	if err := t.Validate(); err != nil {
		return Topology{}, err
	}
	return t, nil
}

func (t Topology) Validate() error {
	if n := len(t.Descriptors); n < 1 || n > record.MaxDevices {
		return fmt.Errorf("%w: %d devices, want 1..%d", ErrInvalidTopology, n, record.MaxDevices)
	}
	for i, d := range t.Descriptors {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("%w: device[%d]: %w", ErrInvalidTopology, i, err)
		}
	}
	return nil
}

// Kinds returns the record kind expected in each frame slot.
func (t Topology) Kinds() []record.Kind {
	out := make([]record.Kind, len(t.Descriptors))
	for i, d := range t.Descriptors {
		out[i], _ = d.Kind()
	}
	return out
}

// FrameSize is the pose-frame payload width, terminator excluded.
func (t Topology) FrameSize() int {
	n, _ := record.FrameSize(t.Descriptors)
	return n
}

func (t Topology) Message() record.TopologyMessage {
	return record.TopologyMessage{Descriptors: t.Descriptors}
}

// TopologyStore holds the installed topology. Readers always observe a whole
// Topology, never a partial update.
//
// gate orders pose frames against topology changes: a tick holds it shared
// from its version check until its write returns, and retire takes it
// exclusively, so once retire returns no frame for the old order is being
// written and none will be.
type TopologyStore struct {
	current atomic.Pointer[Topology]
	version atomic.Uint64
	retired atomic.Bool
	gate    sync.RWMutex
}

// Current returns the installed topology, or false before the first install.
func (s *TopologyStore) Current() (Topology, bool) {
	t := s.current.Load()
	if t == nil {
		return Topology{}, false
	}
	return *t, true
}

// nextVersion reserves the version for the next publish.
func (s *TopologyStore) nextVersion() uint64 {
	return s.version.Add(1)
}

// retire stops frames for the installed order and waits out any frame write
// already in flight. The order stays retired until the next install.
func (s *TopologyStore) retire() {
	s.gate.Lock()
	s.retired.Store(true)
	s.gate.Unlock()
}

func (s *TopologyStore) install(t Topology) {
	s.current.Store(&t)
	s.retired.Store(false)
}
