// Package daemon coordinates the long-running uwrangler process.
//
// It wires configuration, the artifact store, the conversion scheduler, the
// stream server, and the management API into a single lifecycle with
// flock-based locking to prevent multiple instances. Orchestration lives
// here; conversion and streaming behavior belong to their own packages.
package daemon
