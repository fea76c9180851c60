package config

import (
	"fmt"

	"github.com/danmuck/trackrelay/internal/protocol/record"
)

// Descriptors converts the profile device list into wire descriptors, in
// file order.
func (p Profile) Descriptors() ([]record.DeviceDescriptor, error) {
	if len(p.Devices) > record.MaxDevices {
		return nil, fmt.Errorf("%w: %d devices, max %d", ErrInvalidProfile, len(p.Devices), record.MaxDevices)
	}
	out := make([]record.DeviceDescriptor, 0, len(p.Devices))
	for i, entry := range p.Devices {
		d, err := entry.Descriptor()
		if err != nil {
			return nil, fmt.Errorf("%w: devices[%d]: %w", ErrInvalidProfile, i, err)
		}
		out = append(out, d)
	}
	return out, nil
}

func (e DeviceEntry) Descriptor() (record.DeviceDescriptor, error) {
	class, err := record.ParseDeviceClass(e.Class)
	if err != nil {
		return record.DeviceDescriptor{}, err
	}
	d := record.DeviceDescriptor{Class: class, Subtype: e.Subtype}
	if err := d.Validate(); err != nil {
		return record.DeviceDescriptor{}, err
	}
	return d, nil
}

// EntriesFor is the inverse of Descriptors, used when reporting the active
// topology.
func EntriesFor(descs []record.DeviceDescriptor) []DeviceEntry {
	out := make([]DeviceEntry, 0, len(descs))
	for _, d := range descs {
		out = append(out, DeviceEntry{Class: d.Class.String(), Subtype: d.Subtype})
	}
	return out
}
