// Copyright 2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package profiling records timing events of inference runs and writes
// them out in the chrome://tracing JSON format.
//
// All Profiler methods are no-ops on a nil receiver, so callers can keep a
// possibly-nil *Profiler and instrument unconditionally: a disabled
// profiler costs nothing and never changes control flow.
package profiling

import (
	"encoding/json"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Event categories, matching the "cat" field of chrome trace events.
const (
	CategorySession = "Session"
	CategoryNode    = "Node"
)

// DefaultMaxEvents is the cap on recorded events per Profiler; events past
// the cap are counted but dropped.
const DefaultMaxEvents = 1_000_000

// Event is one recorded time span.
type Event struct {
	Category string
	Name     string

	// Start is the offset from the profiler's creation.
	Start    time.Duration
	Duration time.Duration

	// Args are free-form labels (op type, provider, ...).
	Args map[string]string
}

// Profiler accumulates timing events. Safe for concurrent use; one
// Profiler typically serves all runs of a session.
type Profiler struct {
	epoch time.Time
	runID string

	mu        sync.Mutex
	events    []Event
	dropped   int
	maxEvents int
}

// New returns an enabled Profiler with the DefaultMaxEvents cap.
func New() *Profiler {
	return &Profiler{
		epoch:     time.Now(),
		runID:     uuid.NewString(),
		maxEvents: DefaultMaxEvents,
	}
}

// Enabled reports whether the profiler records events: false for nil.
func (p *Profiler) Enabled() bool { return p != nil }

// RunID is a unique id for this profiler's lifetime, handy to correlate
// trace files with logs. Empty for a nil profiler.
func (p *Profiler) RunID() string {
	if p == nil {
		return ""
	}
	return p.runID
}

// Start returns the timestamp to later pass to Record. On a nil profiler
// it returns the zero time without reading the clock.
func (p *Profiler) Start() time.Time {
	if p == nil {
		return time.Time{}
	}
	return time.Now()
}

// Record stores an event spanning from start (a Start result) to now.
// No-op on a nil profiler.
func (p *Profiler) Record(category, name string, start time.Time, args map[string]string) {
	if p == nil {
		return
	}
	now := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) >= p.maxEvents {
		if p.dropped == 0 {
			klog.Warningf("profiling: reached %d events, further events are dropped", p.maxEvents)
		}
		p.dropped++
		return
	}
	p.events = append(p.events, Event{
		Category: category,
		Name:     name,
		Start:    start.Sub(p.epoch),
		Duration: now.Sub(start),
		Args:     args,
	})
}

// Events returns a copy of the recorded events, in record order. Nil for a
// nil profiler.
func (p *Profiler) Events() []Event {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	events := make([]Event, len(p.events))
	copy(events, p.events)
	return events
}

// NumEvents is the number of recorded (not dropped) events.
func (p *Profiler) NumEvents() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

// NumDropped is the number of events dropped past the cap.
func (p *Profiler) NumDropped() int {
	if p == nil {
		return 0
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// traceEvent is one chrome://tracing "complete" event.
type traceEvent struct {
	Category  string            `json:"cat"`
	PID       int               `json:"pid"`
	TID       int               `json:"tid"`
	Timestamp int64             `json:"ts"`  // Microseconds.
	Duration  int64             `json:"dur"` // Microseconds.
	Phase     string            `json:"ph"`
	Name      string            `json:"name"`
	Args      map[string]string `json:"args,omitempty"`
}

// WriteChromeTrace writes the recorded events as a chrome://tracing JSON
// array, loadable by chrome's tracing UI or by perfetto.
func (p *Profiler) WriteChromeTrace(w io.Writer) error {
	if p == nil {
		return errors.New("profiling: WriteChromeTrace on a disabled (nil) profiler")
	}
	events := p.Events()
	trace := make([]traceEvent, 0, len(events))
	pid := os.Getpid()
	for _, ev := range events {
		trace = append(trace, traceEvent{
			Category:  ev.Category,
			PID:       pid,
			TID:       0,
			Timestamp: ev.Start.Microseconds(),
			Duration:  ev.Duration.Microseconds(),
			Phase:     "X",
			Name:      ev.Name,
			Args:      ev.Args,
		})
	}
	encoded, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "profiling: failed to encode %d trace events", len(trace))
	}
	_, err = w.Write(encoded)
	return errors.Wrap(err, "profiling: failed to write trace")
}
