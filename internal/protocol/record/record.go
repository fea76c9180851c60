package record

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ByteOrder is the word order shared with the consuming runtime. It is fixed
// at build time and never negotiated on the wire.
var ByteOrder = binary.LittleEndian

const (
	wordSize = 4

	PoseFields       = 13
	ControllerFields = 22

	PoseSize       = PoseFields * wordSize
	ControllerSize = ControllerFields * wordSize
)

// DeviceClass is the device family announced in a topology descriptor.
type DeviceClass uint32

const (
	ClassHMD        DeviceClass = 0
	ClassController DeviceClass = 1
	ClassTracker    DeviceClass = 2
)

func (c DeviceClass) String() string {
	switch c {
	case ClassHMD:
		return "hmd"
	case ClassController:
		return "controller"
	case ClassTracker:
		return "tracker"
	default:
		return fmt.Sprintf("class(%d)", uint32(c))
	}
}

// ParseDeviceClass accepts the names produced by String.
func ParseDeviceClass(raw string) (DeviceClass, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "hmd", "headset", "h":
		return ClassHMD, nil
	case "controller", "c":
		return ClassController, nil
	case "tracker", "t":
		return ClassTracker, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, raw)
	}
}

// Kind is the record layout a device streams on the tracking channel.
type Kind uint8

const (
	KindPose Kind = iota + 1
	KindController
)

func (k Kind) String() string {
	switch k {
	case KindPose:
		return "pose"
	case KindController:
		return "controller"
	default:
		return "invalid"
	}
}

// Size returns the encoded width of one record of this kind.
func (k Kind) Size() int {
	switch k {
	case KindPose:
		return PoseSize
	case KindController:
		return ControllerSize
	default:
		return 0
	}
}

// DeviceDescriptor declares one active device. Subtype is the record size
// code in float words: 13 streams a PoseRecord, 22 a ControllerRecord.
type DeviceDescriptor struct {
	Class   DeviceClass
	Subtype uint32
}

func (d DeviceDescriptor) Kind() (Kind, error) {
	switch d.Subtype {
	case PoseFields:
		return KindPose, nil
	case ControllerFields:
		return KindController, nil
	default:
		return 0, fmt.Errorf("%w: class=%s subtype=%d", ErrUnknownSubtype, d.Class, d.Subtype)
	}
}

func (d DeviceDescriptor) Validate() error {
	switch d.Class {
	case ClassHMD, ClassController, ClassTracker:
	default:
		return fmt.Errorf("%w: %d", ErrUnknownClass, uint32(d.Class))
	}
	_, err := d.Kind()
	return err
}

func (d DeviceDescriptor) String() string {
	return fmt.Sprintf("%s:%d", d.Class, d.Subtype)
}

// FrameSize returns the pose-frame payload width for a device order.
func FrameSize(descs []DeviceDescriptor) (int, error) {
	total := 0
	for i, d := range descs {
		k, err := d.Kind()
		if err != nil {
			return 0, fmt.Errorf("device[%d]: %w", i, err)
		}
		total += k.Size()
	}
	return total, nil
}

// Record is one encodable tracking-channel record.
type Record interface {
	Kind() Kind
	AppendBinary(dst []byte) []byte
}

// PoseRecord is the state of a single-pose device (HMD or tracker).
// Orientation is a quaternion in w, x, y, z order. Channels are opaque to
// the protocol; the reference runtime reads them as linear velocity followed
// by angular velocity.
type PoseRecord struct {
	Position    [3]float32
	Orientation [4]float32
	Channels    [6]float32
}

func (PoseRecord) Kind() Kind { return KindPose }

func (p PoseRecord) AppendBinary(dst []byte) []byte {
	dst = appendFloats(dst, p.Position[:])
	dst = appendFloats(dst, p.Orientation[:])
	return appendFloats(dst, p.Channels[:])
}

// ControllerRecord is the state of a handheld controller. The first six
// channels mirror PoseRecord; the remaining nine carry buttons and axes.
type ControllerRecord struct {
	Position    [3]float32
	Orientation [4]float32
	Channels    [15]float32
}

func (ControllerRecord) Kind() Kind { return KindController }

func (c ControllerRecord) AppendBinary(dst []byte) []byte {
	dst = appendFloats(dst, c.Position[:])
	dst = appendFloats(dst, c.Orientation[:])
	return appendFloats(dst, c.Channels[:])
}

func EncodePose(p PoseRecord) []byte {
	return p.AppendBinary(make([]byte, 0, PoseSize))
}

func DecodePose(b []byte) (PoseRecord, error) {
	if len(b) != PoseSize {
		return PoseRecord{}, malformed("pose", PoseSize, len(b))
	}
	var p PoseRecord
	b = readFloats(b, p.Position[:])
	b = readFloats(b, p.Orientation[:])
	readFloats(b, p.Channels[:])
	return p, nil
}

func EncodeController(c ControllerRecord) []byte {
	return c.AppendBinary(make([]byte, 0, ControllerSize))
}

func DecodeController(b []byte) (ControllerRecord, error) {
	if len(b) != ControllerSize {
		return ControllerRecord{}, malformed("controller", ControllerSize, len(b))
	}
	var c ControllerRecord
	b = readFloats(b, c.Position[:])
	b = readFloats(b, c.Orientation[:])
	readFloats(b, c.Channels[:])
	return c, nil
}

// DecodeFrame splits a pose-frame payload into records following descs.
func DecodeFrame(descs []DeviceDescriptor, payload []byte) ([]Record, error) {
	want, err := FrameSize(descs)
	if err != nil {
		return nil, err
	}
	if len(payload) != want {
		return nil, malformed("frame", want, len(payload))
	}
	out := make([]Record, 0, len(descs))
	offset := 0
	for _, d := range descs {
		k, _ := d.Kind()
		chunk := payload[offset : offset+k.Size()]
		offset += k.Size()
		switch k {
		case KindPose:
			p, err := DecodePose(chunk)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		case KindController:
			c, err := DecodeController(chunk)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func appendFloats(dst []byte, vals []float32) []byte {
	for _, v := range vals {
		dst = ByteOrder.AppendUint32(dst, math.Float32bits(v))
	}
	return dst
}

func readFloats(b []byte, out []float32) []byte {
	for i := range out {
		out[i] = math.Float32frombits(ByteOrder.Uint32(b[:wordSize]))
		b = b[wordSize:]
	}
	return b
}

func malformed(what string, want, got int) error {
	return fmt.Errorf("%w: %s wants %d bytes, got %d", ErrMalformedRecord, what, want, got)
}
