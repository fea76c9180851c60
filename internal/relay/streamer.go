package relay

import (
	"fmt"
	"sync/atomic"

	"github.com/danmuck/trackrelay/internal/observability"
	"github.com/danmuck/trackrelay/internal/protocol/record"
)

// Streamer sends pose frames on the tracking channel. Frames are
// fire-and-forget: nothing is acknowledged or retransmitted.
type Streamer struct {
	w     FrameWriter
	store *TopologyStore
	buf   []byte
	sent  atomic.Uint64
}

func NewStreamer(w FrameWriter, store *TopologyStore) *Streamer {
	return &Streamer{w: w, store: store}
}

// Tick encodes records in order and sends them as one frame. topo must be
// the installed version and records must match it slot for slot; otherwise
// nothing is sent and ErrTopologyMismatch is returned. Tick is not safe for
// concurrent use.
func (s *Streamer) Tick(topo Topology, records []record.Record) error {
	s.store.gate.RLock()
	defer s.store.gate.RUnlock()
	if err := s.check(topo, records); err != nil {
		observability.RecordTopologyMismatch()
		return err
	}
	s.buf = s.buf[:0]
	for _, rec := range records {
		s.buf = rec.AppendBinary(s.buf)
	}
	if err := writeTimed(s.w, observability.ChannelTracking, s.buf); err != nil {
		return err
	}
	s.sent.Add(1)
	return nil
}

func (s *Streamer) check(topo Topology, records []record.Record) error {
	cur, ok := s.store.Current()
	if !ok {
		return fmt.Errorf("%w: %w: none published", ErrTopologyMismatch, errStaleTopology)
	}
	if s.store.retired.Load() {
		return fmt.Errorf("%w: %w: version %d is being replaced", ErrTopologyMismatch, errStaleTopology, cur.Version)
	}
	if topo.Version != cur.Version {
		return fmt.Errorf("%w: %w: version %d, installed %d", ErrTopologyMismatch, errStaleTopology, topo.Version, cur.Version)
	}
	if len(records) != len(cur.Descriptors) {
		return fmt.Errorf("%w: %d records for %d devices", ErrTopologyMismatch, len(records), len(cur.Descriptors))
	}
	for i, want := range cur.Kinds() {
		if records[i] == nil {
			return fmt.Errorf("%w: slot %d is nil", ErrTopologyMismatch, i)
		}
		if got := records[i].Kind(); got != want {
			return fmt.Errorf("%w: slot %d is %s, want %s", ErrTopologyMismatch, i, got, want)
		}
	}
	return nil
}

// Sent returns the number of frames written.
func (s *Streamer) Sent() uint64 {
	return s.sent.Load()
}
