// Package scheduler keeps the artifact cache aligned with the source
// directory. A discovery loop hashes files into sources and queues
// conversion jobs; a single worker drains the queue under the cross-process
// conversion lock, retrying transient failures with backoff. Sources whose
// files disappear are removed along with their cached artifacts.
package scheduler
