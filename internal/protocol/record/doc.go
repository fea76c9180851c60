// Package record owns the fixed-width binary records carried on both relay
// channels.
//
// Ownership boundary:
// - pose and controller records (tracking channel)
// - topology and settings messages (manager channel)
// - manager reply parsing
//
// Every record is atomic: decoders accept exactly the record width and
// nothing else. Framing lives in package frame.
package record
