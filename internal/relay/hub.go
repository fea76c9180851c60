package relay

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/trackrelay/internal/protocol/record"
)

// Snapshot is one sent pose frame, decoded for observers.
type Snapshot struct {
	Session         string        `json:"session"`
	TopologyVersion uint64        `json:"topology_version"`
	Seq             uint64        `json:"seq"`
	ElapsedMS       float64       `json:"elapsed_ms"`
	SentAt          time.Time     `json:"sent_at"`
	Devices         []DeviceState `json:"devices"`
}

type DeviceState struct {
	Class       string     `json:"class"`
	Kind        string     `json:"kind"`
	Position    [3]float32 `json:"position"`
	Orientation [4]float32 `json:"orientation"`
	Channels    []float32  `json:"channels"`
}

func newSnapshot(sessionID string, topo Topology, seq uint64, elapsed time.Duration, records []record.Record) Snapshot {
	devices := make([]DeviceState, 0, len(records))
	for i, rec := range records {
		state := DeviceState{Class: topo.Descriptors[i].Class.String(), Kind: rec.Kind().String()}
		switch r := rec.(type) {
		case record.PoseRecord:
			state.Position, state.Orientation = r.Position, r.Orientation
			state.Channels = append([]float32(nil), r.Channels[:]...)
		case record.ControllerRecord:
			state.Position, state.Orientation = r.Position, r.Orientation
			state.Channels = append([]float32(nil), r.Channels[:]...)
		}
		devices = append(devices, state)
	}
	return Snapshot{
		Session:         sessionID,
		TopologyVersion: topo.Version,
		Seq:             seq,
		ElapsedMS:       float64(elapsed) / float64(time.Millisecond),
		SentAt:          time.Now(),
		Devices:         devices,
	}
}

// Hub fans snapshots out to subscribers. Slow subscribers miss snapshots
// instead of stalling the tracking loop.
type Hub struct {
	broadcast  chan Snapshot
	register   chan chan Snapshot
	unregister chan chan Snapshot
	clients    map[chan Snapshot]struct{}
	clientBuf  int
	done       chan struct{}
	runOnce    sync.Once
}

type HubOption func(*Hub)

func WithBroadcastBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.broadcast = make(chan Snapshot, size)
		}
	}
}

func WithClientBuffer(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.clientBuf = size
		}
	}
}

func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		broadcast:  make(chan Snapshot, 64),
		register:   make(chan chan Snapshot),
		unregister: make(chan chan Snapshot),
		clients:    make(map[chan Snapshot]struct{}),
		clientBuf:  16,
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run dispatches until ctx is done, then closes every subscriber channel.
// A hub runs once; later calls return immediately.
func (h *Hub) Run(ctx context.Context) {
	h.runOnce.Do(func() { h.run(ctx) })
}

func (h *Hub) run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for ch := range h.clients {
				close(ch)
			}
			return
		case ch := <-h.register:
			h.clients[ch] = struct{}{}
		case ch := <-h.unregister:
			if _, ok := h.clients[ch]; ok {
				delete(h.clients, ch)
				close(ch)
			}
		case snap := <-h.broadcast:
			for ch := range h.clients {
				select {
				case ch <- snap:
				default:
				}
			}
		}
	}
}

// Subscribe registers a new subscriber. The channel is closed on
// Unsubscribe or when the hub stops.
func (h *Hub) Subscribe(ctx context.Context) (<-chan Snapshot, func(), error) {
	ch := make(chan Snapshot, h.clientBuf)
	select {
	case h.register <- ch:
	case <-h.done:
		return nil, nil, ErrHubStopped
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	cancel := func() {
		select {
		case h.unregister <- ch:
		case <-h.done:
		}
	}
	return ch, cancel, nil
}

// Publish never blocks; snapshots are dropped when the hub is behind.
func (h *Hub) Publish(snap Snapshot) {
	select {
	case h.broadcast <- snap:
	default:
	}
}
