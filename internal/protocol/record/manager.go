package record

import (
	"fmt"
	"math"
	"strings"
)

// Manager-channel message tags.
const (
	TagIPD            uint32 = 10
	TagTopology       uint32 = 20
	TagPoseTimeOffset uint32 = 30
	TagDistortion     uint32 = 40
	TagEyeGap         uint32 = 50
	TagSelfPose       uint32 = 60
)

// RatioScale is the denominator used for every scalar sent as a ratio pair.
const RatioScale uint32 = 1_000_000

// ManagerMessage is the generic 130-word manager-channel layout: the tag word
// followed by up to 129 body words, zero-filled on the wire.
type ManagerMessage struct {
	Tag   uint32
	Words []uint32
}

func (m ManagerMessage) word(i int) uint32 {
	if i < 0 || i >= len(m.Words) {
		return 0
	}
	return m.Words[i]
}

// Ratio returns body words i and i+1 as numerator / denominator.
func (m ManagerMessage) Ratio(i int) float64 {
	den := m.word(i + 1)
	if den == 0 {
		return 0
	}
	return float64(m.word(i)) / float64(den)
}

func EncodeManager(m ManagerMessage) ([]byte, error) {
	if len(m.Words) > ManagerWords-1 {
		return nil, fmt.Errorf("%w: manager body has %d words, max %d", ErrMalformedRecord, len(m.Words), ManagerWords-1)
	}
	out := make([]byte, 0, TopologySize)
	out = ByteOrder.AppendUint32(out, m.Tag)
	for _, w := range m.Words {
		out = ByteOrder.AppendUint32(out, w)
	}
	return append(out, make([]byte, TopologySize-len(out))...), nil
}

// DecodeManager parses any manager-channel message. Trailing zero words are
// trimmed from Words so re-encoding reproduces the input exactly.
func DecodeManager(b []byte) (ManagerMessage, error) {
	if len(b) != TopologySize {
		return ManagerMessage{}, malformed("manager message", TopologySize, len(b))
	}
	msg := ManagerMessage{Tag: ByteOrder.Uint32(b[:wordSize])}
	words := make([]uint32, ManagerWords-1)
	for i := range words {
		off := (i + 1) * wordSize
		words[i] = ByteOrder.Uint32(b[off : off+wordSize])
	}
	end := len(words)
	for end > 0 && words[end-1] == 0 {
		end--
	}
	msg.Words = words[:end]
	return msg, nil
}

// IPDMessage sets the interpupillary distance in meters.
func IPDMessage(meters float64) (ManagerMessage, error) {
	num, err := ratio(meters)
	if err != nil {
		return ManagerMessage{}, fmt.Errorf("ipd: %w", err)
	}
	return ManagerMessage{Tag: TagIPD, Words: []uint32{num, RatioScale}}, nil
}

// PoseTimeOffsetMessage sets the prediction offset, in seconds, the consumer
// applies to received poses.
func PoseTimeOffsetMessage(seconds float64) (ManagerMessage, error) {
	num, err := ratio(seconds)
	if err != nil {
		return ManagerMessage{}, fmt.Errorf("pose time offset: %w", err)
	}
	return ManagerMessage{Tag: TagPoseTimeOffset, Words: []uint32{num, RatioScale}}, nil
}

// DistortionMessage sets the lens distortion coefficients and zoom factors.
func DistortionMessage(k1, k2, zoomW, zoomH float64) (ManagerMessage, error) {
	words := make([]uint32, 0, 8)
	for _, v := range []float64{k1, k2, zoomW, zoomH} {
		num, err := ratio(v)
		if err != nil {
			return ManagerMessage{}, fmt.Errorf("distortion: %w", err)
		}
		words = append(words, num, RatioScale)
	}
	return ManagerMessage{Tag: TagDistortion, Words: words}, nil
}

// EyeGapMessage sets the pixel gap between the two eye viewports.
func EyeGapMessage(pixels uint32) ManagerMessage {
	return ManagerMessage{Tag: TagEyeGap, Words: []uint32{pixels}}
}

// SelfPoseMessage moves the consumer's tracking origin.
func SelfPoseMessage(x, y, z float64) (ManagerMessage, error) {
	words := make([]uint32, 0, 6)
	for _, v := range []float64{x, y, z} {
		num, err := ratio(v)
		if err != nil {
			return ManagerMessage{}, fmt.Errorf("self pose: %w", err)
		}
		words = append(words, num, RatioScale)
	}
	return ManagerMessage{Tag: TagSelfPose, Words: words}, nil
}

func ratio(v float64) (uint32, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, fmt.Errorf("%w: %v", ErrRatioRange, v)
	}
	scaled := math.Round(v * float64(RatioScale))
	if scaled > math.MaxUint32 {
		return 0, fmt.Errorf("%w: %v", ErrRatioRange, v)
	}
	return uint32(scaled), nil
}

// Reply is the consumer's answer to a manager-channel message.
type Reply int

const (
	ReplyOK      Reply = 2000
	ReplyUnknown Reply = -100
)

func (r Reply) String() string {
	switch r {
	case ReplyOK:
		return "ok"
	case ReplyUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("reply(%d)", int(r))
	}
}

// Bytes is the wire form of the reply, without the terminator.
func (r Reply) Bytes() []byte {
	return []byte(fmt.Sprintf("%d", int(r)))
}

func ParseReply(b []byte) (Reply, error) {
	switch strings.TrimSpace(string(b)) {
	case "2000":
		return ReplyOK, nil
	case "-100":
		return ReplyUnknown, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidReply, b)
	}
}
