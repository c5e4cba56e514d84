// Package audittest provides an in-memory audit sink for tests.
package audittest

import (
	"sync"

	"github.com/yieldera/advisor/internal/audit"
)

// Recorder is an audit.Sink that keeps events in memory for assertions.
type Recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

// Log implements audit.Sink.
func (r *Recorder) Log(event audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, audit.Normalize(event))
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.Event, len(r.events))
	copy(out, r.events)
	return out
}

// Types returns the recorded event types in order.
func (r *Recorder) Types() []audit.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audit.EventType, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType
	}
	return out
}

// Count returns how many events of type t were recorded.
func (r *Recorder) Count(t audit.EventType) int {
	n := 0
	for _, e := range r.Types() {
		if e == t {
			n++
		}
	}
	return n
}
