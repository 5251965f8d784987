// Package report collects the ordered outcome events of each test and writes
// them out as JSON, JUnit XML and HTML.
package report

import (
	"sync"
	"time"
)

// Status is the outcome class of an event.
type Status string

const (
	Info Status = "info"
	Pass Status = "pass"
	Fail Status = "fail"
	Skip Status = "skip"
)

// Event is one entry of a test's audit trail.
type Event struct {
	Test string `json:"test"`
	// Unit identifies one run of a test. Events of tests sharing a name are
	// kept apart by it.
	Unit       string    `json:"unit,omitempty"`
	Step       string    `json:"step"`
	Status     Status    `json:"status"`
	Message    string    `json:"message,omitempty"`
	Screenshot *Artifact `json:"screenshot,omitempty"`
	At         time.Time `json:"at"`
}

// Sink accepts outcome events. Implementations must be safe for concurrent use.
type Sink interface {
	Emit(Event)
}

// SinkFunc adapts a function into a Sink.
type SinkFunc func(Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Sink = SinkFunc(func(Event) {})

// MultiSink fans events out to every sink in order.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(e)
		}
	}
}

// Recorder keeps events in memory in arrival order.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a copy of everything recorded.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// ForUnit returns the events of one test run in order.
func (r *Recorder) ForUnit(id string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Unit == id {
			out = append(out, e)
		}
	}
	return out
}

// ForTest returns the events of one test in order.
func (r *Recorder) ForTest(name string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Test == name {
			out = append(out, e)
		}
	}
	return out
}
