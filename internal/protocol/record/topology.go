package record

import "fmt"

const (
	// ManagerWords is the fixed width of every manager-channel message.
	ManagerWords = 130
	TopologySize = ManagerWords * wordSize

	// MaxDevices is the number of descriptor pairs that fit after the
	// tag and count words.
	MaxDevices = 64
)

// TopologyMessage announces the ordered set of active devices.
type TopologyMessage struct {
	Descriptors []DeviceDescriptor
}

// Manager returns the generic manager-channel form of the message.
func (m TopologyMessage) Manager() (ManagerMessage, error) {
	if len(m.Descriptors) > MaxDevices {
		return ManagerMessage{}, fmt.Errorf("%w: %d > %d", ErrTooManyDevices, len(m.Descriptors), MaxDevices)
	}
	words := make([]uint32, 0, 1+2*len(m.Descriptors))
	words = append(words, uint32(len(m.Descriptors)))
	for _, d := range m.Descriptors {
		words = append(words, uint32(d.Class), d.Subtype)
	}
	return ManagerMessage{Tag: TagTopology, Words: words}, nil
}

func EncodeTopology(m TopologyMessage) ([]byte, error) {
	msg, err := m.Manager()
	if err != nil {
		return nil, err
	}
	return EncodeManager(msg)
}

func DecodeTopology(b []byte) (TopologyMessage, error) {
	msg, err := DecodeManager(b)
	if err != nil {
		return TopologyMessage{}, err
	}
	return msg.Topology()
}

// Topology interprets a decoded manager message as a topology declaration.
func (m ManagerMessage) Topology() (TopologyMessage, error) {
	if m.Tag != TagTopology {
		return TopologyMessage{}, fmt.Errorf("%w: got %d want %d", ErrUnexpectedTag, m.Tag, TagTopology)
	}
	count := m.word(0)
	if count > MaxDevices {
		return TopologyMessage{}, fmt.Errorf("%w: %d > %d", ErrTooManyDevices, count, MaxDevices)
	}
	// DecodeManager trims trailing zero words, so anything left past the
	// declared pairs is non-zero padding.
	if used := 1 + 2*int(count); len(m.Words) > used {
		return TopologyMessage{}, fmt.Errorf("%w: topology padding word %d is non-zero", ErrMalformedRecord, len(m.Words))
	}
	descs := make([]DeviceDescriptor, 0, count)
	for i := 0; i < int(count); i++ {
		descs = append(descs, DeviceDescriptor{
			Class:   DeviceClass(m.word(1 + 2*i)),
			Subtype: m.word(2 + 2*i),
		})
	}
	return TopologyMessage{Descriptors: descs}, nil
}
