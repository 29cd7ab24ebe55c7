// Package store persists cache metadata in SQLite and owns the artifact
// bytes on disk. It is the single writer for both; the scheduler, stream
// server, and CLI all read and mutate through its API.
//
// # Layout
//
// Metadata lives in one database with three tables: sources (ingested media,
// keyed by content hash), artifacts (converted frame sequences, keyed by
// source and geometry), and jobs (the conversion queue). Artifact bytes live
// under the cache root at <geometry>/<source-id>.uwfa.
//
// # Capacity
//
// Writes enforce the configured byte and count bounds plus a free-space
// floor on the cache volume by evicting least-recently-served artifacts
// first. Artifact bytes always land with a temp-write and rename before the
// metadata row commits, so a crash leaves at worst an orphaned file; orphans
// are reclaimed at open and by the scheduler's maintenance pass.
package store
