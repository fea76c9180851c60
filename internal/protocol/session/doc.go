// Package session owns the two-connection handshake and the resulting
// session aggregate.
//
// Ownership boundary:
// - accept-and-identify state machine (hello -> tracking, monky -> manager)
// - Session and Channel lifecycle
// - handshake/write timing and reconnect backoff
//
// A Session exists only after both roles resolve. Closing it closes both
// connections; neither channel outlives the other.
package session
