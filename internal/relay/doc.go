// Package relay streams device topology and pose frames over a resolved
// session.
//
// Ownership boundary:
// - versioned topology value and its atomic store
// - topology publishing on the manager channel
// - fixed-cadence pose frames on the tracking channel
// - per-session runner and the accept/serve loop
//
// A pose frame is only sent when its records match the installed topology
// version, slot for slot. The topology is installed only after its message
// was written.
package relay
