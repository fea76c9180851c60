package relay

import (
	"errors"
	"sync"
	"testing"

	"github.com/danmuck/trackrelay/internal/protocol/record"
	"github.com/danmuck/trackrelay/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func TestPublishInstallsAfterWrite(t *testing.T) {
	testlog.Start(t)
	store := &TopologyStore{}
	w := &captureWriter{err: errors.New("reset by peer")}
	pub := NewPublisher(w, store)

	if _, err := pub.Publish([]record.DeviceDescriptor{hmd}); !errors.Is(err, ErrConnectionClosed) {
		t.Fatalf("expected ErrConnectionClosed, got %v", err)
	}
	if _, ok := store.Current(); ok {
		t.Fatalf("topology installed despite failed write")
	}

	w.err = nil
	topo, err := pub.Publish([]record.DeviceDescriptor{hmd, controller})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	cur, ok := store.Current()
	if !ok {
		t.Fatalf("topology not installed")
	}
	if diff := cmp.Diff(topo, cur); diff != "" {
		t.Fatalf("installed (-want +got):\n%s", diff)
	}
	msg, err := record.DecodeTopology(w.frames[0][:record.TopologySize])
	if err != nil {
		t.Fatalf("decode sent topology: %v", err)
	}
	if diff := cmp.Diff(topo.Descriptors, msg.Descriptors); diff != "" {
		t.Fatalf("sent descriptors (-want +got):\n%s", diff)
	}
}

func TestPublishVersionsIncrease(t *testing.T) {
	testlog.Start(t)
	store := &TopologyStore{}
	pub := NewPublisher(&captureWriter{}, store)
	var last uint64
	for i := 0; i < 3; i++ {
		topo, err := pub.Publish([]record.DeviceDescriptor{hmd})
		if err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
		if topo.Version <= last {
			t.Fatalf("version %d not above %d", topo.Version, last)
		}
		last = topo.Version
	}
}

func TestPublishRejectsInvalidTopologies(t *testing.T) {
	testlog.Start(t)
	w := &captureWriter{}
	pub := NewPublisher(w, &TopologyStore{})
	tooMany := make([]record.DeviceDescriptor, record.MaxDevices+1)
	for i := range tooMany {
		tooMany[i] = hmd
	}
	cases := map[string][]record.DeviceDescriptor{
		"empty":       nil,
		"too many":    tooMany,
		"bad subtype": {{Class: record.ClassHMD, Subtype: 12}},
	}
	for name, descs := range cases {
		if _, err := pub.Publish(descs); !errors.Is(err, ErrInvalidTopology) {
			t.Fatalf("%s: expected ErrInvalidTopology, got %v", name, err)
		}
	}
	if w.count() != 0 {
		t.Fatalf("invalid topologies were written")
	}

	full := make([]record.DeviceDescriptor, record.MaxDevices)
	for i := range full {
		full[i] = controller
	}
	if _, err := pub.Publish(full); err != nil {
		t.Fatalf("64 devices: %v", err)
	}
}

func TestPublisherSendSettings(t *testing.T) {
	testlog.Start(t)
	w := &captureWriter{}
	pub := NewPublisher(w, &TopologyStore{})
	ipd, err := record.IPDMessage(0.064)
	if err != nil {
		t.Fatalf("ipd: %v", err)
	}
	if err := pub.Send(ipd); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err := record.DecodeManager(w.frames[0][:record.TopologySize])
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Tag != record.TagIPD {
		t.Fatalf("tag=%d", got.Tag)
	}

	topoMsg, err := record.TopologyMessage{Descriptors: []record.DeviceDescriptor{hmd}}.Manager()
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	if err := pub.Send(topoMsg); !errors.Is(err, ErrInvalidTopology) {
		t.Fatalf("expected ErrInvalidTopology, got %v", err)
	}
}

func TestTopologyStoreReadsAreWhole(t *testing.T) {
	testlog.Start(t)
	store := &TopologyStore{}
	pub := NewPublisher(&captureWriter{}, store)
	shapes := [][]record.DeviceDescriptor{
		{hmd},
		{hmd, controller, controller},
	}
	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if _, err := pub.Publish(shapes[i%2]); err != nil {
				t.Errorf("publish: %v", err)
				return
			}
		}
		close(stop)
	}()
	for {
		select {
		case <-stop:
			wg.Wait()
			return
		default:
		}
		topo, ok := store.Current()
		if !ok {
			continue
		}
		// Odd versions carry the single HMD, even versions three devices.
		want := 1
		if topo.Version%2 == 0 {
			want = 3
		}
		if len(topo.Descriptors) != want {
			t.Fatalf("version %d has %d devices", topo.Version, len(topo.Descriptors))
		}
	}
}
