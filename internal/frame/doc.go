// Package frame converts decoded media into device-ready pixel sequences and
// defines their on-disk container format.
//
// Convert is the codec: pure and stateless, it scales every clip frame to one
// target geometry (uniform scale, letterbox, never crop) and flattens it to
// RGB24. The container format carries geometry, loop flag, and per-frame
// durations; Reader streams frames from it without loading whole artifacts.
//
// EncoderVersion is part of every artifact's cache key. Bump it whenever the
// fit policy, pixel format, or container layout changes.
package frame
