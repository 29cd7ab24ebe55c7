package stream

import (
	"sync"
	"time"
)

// EventKind classifies activity log entries.
type EventKind string

const (
	EventConnect    EventKind = "connect"
	EventStream     EventKind = "stream"
	EventNotReady   EventKind = "notready"
	EventError      EventKind = "error"
	EventDisconnect EventKind = "disconnect"
)

// Event is one session occurrence retained for the dashboard.
type Event struct {
	Time     time.Time `json:"time"`
	Session  string    `json:"session"`
	Kind     EventKind `json:"kind"`
	Client   string    `json:"client"`
	Geometry string    `json:"geometry,omitempty"`
	Name     string    `json:"name,omitempty"`
	Frames   int       `json:"frames,omitempty"`
	Dropped  int       `json:"dropped,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// ActivityLog is a fixed-size in-memory ring of recent session events.
// Oldest entries fall off; nothing persists across restarts.
type ActivityLog struct {
	mu     sync.Mutex
	events []Event
	next   int
	full   bool
}

// NewActivityLog creates a ring holding up to size events.
func NewActivityLog(size int) *ActivityLog {
	if size <= 0 {
		size = 64
	}
	return &ActivityLog{events: make([]Event, size)}
}

// Add records an event, stamping it if the caller left Time zero.
func (l *ActivityLog) Add(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now().UTC()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events[l.next] = event
	l.next++
	if l.next == len(l.events) {
		l.next = 0
		l.full = true
	}
}

// Recent returns events newest first.
func (l *ActivityLog) Recent() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	count := l.next
	if l.full {
		count = len(l.events)
	}
	out := make([]Event, 0, count)
	for i := 0; i < count; i++ {
		idx := l.next - 1 - i
		if idx < 0 {
			idx += len(l.events)
		}
		out = append(out, l.events[idx])
	}
	return out
}
