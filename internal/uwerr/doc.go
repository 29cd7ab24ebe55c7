// Package uwerr defines the error taxonomy shared by the conversion and
// streaming subsystems.
//
// Failures are tagged with sentinel markers (decode, configuration, capacity,
// not-found, lock contention, stream I/O) so that callers classify them with
// errors.Is rather than string matching. Per-geometry and per-session errors
// never escalate; IsFatal identifies the small set of conditions that should
// stop the daemon.
package uwerr
