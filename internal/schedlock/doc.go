// Package schedlock provides the cross-process lock that serializes
// conversion work. Only one scheduler converts at a time; contending
// processes wait a bounded time and then report who holds the lock.
package schedlock
