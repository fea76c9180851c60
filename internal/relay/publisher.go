package relay

import (
	"fmt"
	"time"

	"github.com/danmuck/trackrelay/internal/observability"
	"github.com/danmuck/trackrelay/internal/protocol/frame"
	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/rs/zerolog/log"
)

// FrameWriter sends one terminated message per call.
type FrameWriter interface {
	WriteFrame(parts ...[]byte) error
}

// writeTimed writes parts on w and records the frame under channel.
func writeTimed(w FrameWriter, channel string, parts ...[]byte) error {
	size := len(frame.Terminator)
	for _, p := range parts {
		size += len(p)
	}
	start := time.Now()
	if err := w.WriteFrame(parts...); err != nil {
		return connClosed(channel+" write", err)
	}
	observability.RecordFrameSent(channel, size, time.Since(start))
	return nil
}

// Publisher announces device topologies on the manager channel.
type Publisher struct {
	w     FrameWriter
	store *TopologyStore
}

func NewPublisher(w FrameWriter, store *TopologyStore) *Publisher {
	return &Publisher{w: w, store: store}
}

// Publish retires the current device order, sends a topology message for
// descs and, once the write returned, installs it. Pose frames pause between
// retire and install, so no frame for the old order follows the new
// topology. A failed write leaves the old order retired.
func (p *Publisher) Publish(descs []record.DeviceDescriptor) (Topology, error) {
	topo, err := NewTopology(0, descs)
	if err != nil {
		return Topology{}, err
	}
	payload, err := record.EncodeTopology(topo.Message())
	if err != nil {
		return Topology{}, err
	}
	topo.Version = p.store.nextVersion()
	p.store.retire()
	if err := writeTimed(p.w, observability.ChannelManager, payload); err != nil {
		return Topology{}, err
	}
	p.store.install(topo)
	observability.RecordTopologyPublish(len(topo.Descriptors))
	log.Info().
		Uint64("version", topo.Version).
		Int("devices", len(topo.Descriptors)).
		Int("frame_bytes", topo.FrameSize()).
		Msg("relay.Publisher topology installed")
	return topo, nil
}

// Send writes a non-topology manager message such as an IPD update.
func (p *Publisher) Send(msg record.ManagerMessage) error {
	if msg.Tag == record.TagTopology {
		// Topologies must be installed, not just sent.
		return fmt.Errorf("%w: use Publish for topology messages", ErrInvalidTopology)
	}
	payload, err := record.EncodeManager(msg)
	if err != nil {
		return err
	}
	return writeTimed(p.w, observability.ChannelManager, payload)
}
