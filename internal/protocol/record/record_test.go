package record

import (
	"bytes"
	"errors"
	"math"
	"testing"

	"github.com/danmuck/trackrelay/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
)

func descriptorsOf(n int) []DeviceDescriptor {
	out := make([]DeviceDescriptor, n)
	for i := range out {
		switch i % 3 {
		case 0:
			out[i] = DeviceDescriptor{Class: ClassHMD, Subtype: PoseFields}
		case 1:
			out[i] = DeviceDescriptor{Class: ClassController, Subtype: ControllerFields}
		default:
			out[i] = DeviceDescriptor{Class: ClassTracker, Subtype: PoseFields}
		}
	}
	return out
}

func TestTopologyRoundTripAllCounts(t *testing.T) {
	testlog.Start(t)

	for n := 1; n <= MaxDevices; n++ {
		in := TopologyMessage{Descriptors: descriptorsOf(n)}
		b, err := EncodeTopology(in)
		if err != nil {
			t.Fatalf("encode n=%d: %v", n, err)
		}
		if len(b) != TopologySize {
			t.Fatalf("encode n=%d: len=%d want %d", n, len(b), TopologySize)
		}
		if got := ByteOrder.Uint32(b[0:4]); got != TagTopology {
			t.Fatalf("n=%d: tag=%d", n, got)
		}
		if got := ByteOrder.Uint32(b[4:8]); got != uint32(n) {
			t.Fatalf("n=%d: count=%d", n, got)
		}
		for i := 8 + 8*n; i < len(b); i++ {
			if b[i] != 0 {
				t.Fatalf("n=%d: nonzero fill at byte %d", n, i)
			}
		}
		out, err := DecodeTopology(b)
		if err != nil {
			t.Fatalf("decode n=%d: %v", n, err)
		}
		if diff := cmp.Diff(in, out); diff != "" {
			t.Fatalf("n=%d round trip (-want +got):\n%s", n, diff)
		}
	}
}

func TestTopologySingleHMDLayout(t *testing.T) {
	testlog.Start(t)

	b, err := EncodeTopology(TopologyMessage{Descriptors: []DeviceDescriptor{{Class: ClassHMD, Subtype: 13}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := []uint32{20, 1, 0, 13}
	for i, w := range want {
		if got := ByteOrder.Uint32(b[i*4:]); got != w {
			t.Fatalf("word %d = %d want %d", i, got, w)
		}
	}
}

func TestTopologyRejectsTooManyDevices(t *testing.T) {
	testlog.Start(t)

	if _, err := EncodeTopology(TopologyMessage{Descriptors: descriptorsOf(MaxDevices + 1)}); !errors.Is(err, ErrTooManyDevices) {
		t.Fatalf("encode: expected ErrTooManyDevices, got %v", err)
	}

	b := make([]byte, TopologySize)
	ByteOrder.PutUint32(b[0:], TagTopology)
	ByteOrder.PutUint32(b[4:], MaxDevices+1)
	if _, err := DecodeTopology(b); !errors.Is(err, ErrTooManyDevices) {
		t.Fatalf("decode: expected ErrTooManyDevices, got %v", err)
	}
}

func TestDecodeTopologyRejectsWrongTagAndLength(t *testing.T) {
	testlog.Start(t)

	b := make([]byte, TopologySize)
	ByteOrder.PutUint32(b[0:], TagIPD)
	if _, err := DecodeTopology(b); !errors.Is(err, ErrUnexpectedTag) {
		t.Fatalf("expected ErrUnexpectedTag, got %v", err)
	}
	for _, n := range []int{0, TopologySize - 1, TopologySize + 1} {
		if _, err := DecodeTopology(make([]byte, n)); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("len=%d: expected ErrMalformedRecord, got %v", n, err)
		}
	}
}

func TestDecodeTopologyRejectsNonZeroPadding(t *testing.T) {
	testlog.Start(t)

	b, err := EncodeTopology(TopologyMessage{Descriptors: []DeviceDescriptor{{Class: ClassHMD, Subtype: 13}}})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	for _, word := range []int{4, ManagerWords - 1} {
		padded := bytes.Clone(b)
		ByteOrder.PutUint32(padded[word*4:], 7)
		if _, err := DecodeTopology(padded); !errors.Is(err, ErrMalformedRecord) {
			t.Fatalf("word %d: expected ErrMalformedRecord, got %v", word, err)
		}
	}
	if _, err := DecodeTopology(b); err != nil {
		t.Fatalf("zero padding rejected: %v", err)
	}
}

func TestPoseRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := PoseRecord{
		Position:    [3]float32{0.1, -1.5, 2},
		Orientation: [4]float32{1, 0, 0, 0},
		Channels:    [6]float32{0, 0, 0.25, math.MaxFloat32, -0, float32(math.SmallestNonzeroFloat32)},
	}
	b := EncodePose(in)
	if len(b) != PoseSize {
		t.Fatalf("pose len=%d want %d", len(b), PoseSize)
	}
	out, err := DecodePose(b)
	if err != nil {
		t.Fatalf("decode pose: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("pose round trip (-want +got):\n%s", diff)
	}
	if _, err := DecodePose(b[:PoseSize-1]); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestControllerRoundTrip(t *testing.T) {
	testlog.Start(t)

	in := ControllerRecord{
		Position:    [3]float32{0.3, 1.2, -0.4},
		Orientation: [4]float32{0.707, 0, 0.707, 0},
	}
	for i := range in.Channels {
		in.Channels[i] = float32(i) * 0.5
	}
	b := EncodeController(in)
	if len(b) != ControllerSize {
		t.Fatalf("controller len=%d want %d", len(b), ControllerSize)
	}
	out, err := DecodeController(b)
	if err != nil {
		t.Fatalf("decode controller: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Fatalf("controller round trip (-want +got):\n%s", diff)
	}
	if _, err := DecodeController(append(b, 0)); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestPoseWireIsLittleEndianFloat32(t *testing.T) {
	testlog.Start(t)

	b := EncodePose(PoseRecord{Orientation: [4]float32{1, 0, 0, 0}})
	// 1.0f = 0x3F800000, little endian.
	want := []byte{0x00, 0x00, 0x80, 0x3F}
	if diff := cmp.Diff(want, b[12:16]); diff != "" {
		t.Fatalf("orientation w bytes (-want +got):\n%s", diff)
	}
}

func TestDecodeFrameFollowsDescriptorOrder(t *testing.T) {
	testlog.Start(t)

	descs := []DeviceDescriptor{
		{Class: ClassHMD, Subtype: PoseFields},
		{Class: ClassController, Subtype: ControllerFields},
	}
	size, err := FrameSize(descs)
	if err != nil {
		t.Fatalf("frame size: %v", err)
	}
	if size != 140 {
		t.Fatalf("frame size=%d want 140", size)
	}

	hmd := PoseRecord{Position: [3]float32{0, 1.7, 0}, Orientation: [4]float32{1, 0, 0, 0}}
	ctl := ControllerRecord{Position: [3]float32{0.2, 1.2, -0.3}, Orientation: [4]float32{1, 0, 0, 0}}
	ctl.Channels[6] = 1
	payload := ctl.AppendBinary(hmd.AppendBinary(nil))

	got, err := DecodeFrame(descs, payload)
	if err != nil {
		t.Fatalf("decode frame: %v", err)
	}
	want := []Record{hmd, ctl}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("frame (-want +got):\n%s", diff)
	}

	if _, err := DecodeFrame(descs, payload[:100]); !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord, got %v", err)
	}
}

func TestDescriptorValidate(t *testing.T) {
	testlog.Start(t)

	cases := []struct {
		name string
		d    DeviceDescriptor
		want error
	}{
		{"hmd pose", DeviceDescriptor{Class: ClassHMD, Subtype: 13}, nil},
		{"controller", DeviceDescriptor{Class: ClassController, Subtype: 22}, nil},
		{"tracker pose", DeviceDescriptor{Class: ClassTracker, Subtype: 13}, nil},
		{"bad subtype", DeviceDescriptor{Class: ClassHMD, Subtype: 14}, ErrUnknownSubtype},
		{"bad class", DeviceDescriptor{Class: 9, Subtype: 13}, ErrUnknownClass},
	}
	for _, tc := range cases {
		err := tc.d.Validate()
		if tc.want == nil && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if tc.want != nil && !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestParseDeviceClass(t *testing.T) {
	testlog.Start(t)

	for raw, want := range map[string]DeviceClass{
		"hmd": ClassHMD, "Headset": ClassHMD, " controller ": ClassController, "t": ClassTracker,
	} {
		got, err := ParseDeviceClass(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if got != want {
			t.Fatalf("parse %q = %s want %s", raw, got, want)
		}
	}
	if _, err := ParseDeviceClass("glove"); !errors.Is(err, ErrUnknownClass) {
		t.Fatalf("expected ErrUnknownClass, got %v", err)
	}
}
