package record

import "errors"

var (
	ErrMalformedRecord = errors.New("record: malformed record")
	ErrUnexpectedTag   = errors.New("record: unexpected message tag")
	ErrTooManyDevices  = errors.New("record: too many devices")
	ErrUnknownSubtype  = errors.New("record: unknown device subtype")
	ErrUnknownClass    = errors.New("record: unknown device class")
	ErrRatioRange      = errors.New("record: value out of ratio range")
	ErrInvalidReply    = errors.New("record: invalid manager reply")
)
