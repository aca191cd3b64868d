// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"sync"
	"time"

	"github.com/tanishka786/GDHS/pkg/redact"
)

// EventKind enumerates telemetry event types.
type EventKind string

const (
	EventRequestStart    EventKind = "request_start"
	EventStepStart       EventKind = "step_start"
	EventStepComplete    EventKind = "step_complete"
	EventStepFailed      EventKind = "step_failed"
	EventStepSkipped     EventKind = "step_skipped"
	EventRequestComplete EventKind = "request_complete"
)

// Event is a single telemetry record. Metadata is redacted before any
// hook sees it.
type Event struct {
	Kind       EventKind      `json:"kind"`
	RequestID  string         `json:"request_id"`
	Step       StepName       `json:"step,omitempty"`
	ConfigHash string         `json:"config_hash,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// Hook receives telemetry events. Implementations must return quickly;
// slow consumers should wrap themselves in an AsyncHook.
type Hook interface {
	Emit(event Event)
}

// HookFunc adapts a function to the Hook interface.
type HookFunc func(Event)

// Emit calls the wrapped function.
func (f HookFunc) Emit(event Event) { f(event) }

// maxAuditEvents bounds the in-memory audit trail.
const maxAuditEvents = 10000

// AuditTrail is a bounded in-memory event log. When full, the oldest
// events are discarded; telemetry never blocks or fails the pipeline.
//
// # Thread Safety
//
// Safe for concurrent use.
type AuditTrail struct {
	mu     sync.Mutex
	events []Event
	limit  int
}

// NewAuditTrail creates an audit trail holding up to maxAuditEvents.
func NewAuditTrail() *AuditTrail {
	return &AuditTrail{limit: maxAuditEvents}
}

// Emit appends an event, evicting the oldest when at capacity.
func (a *AuditTrail) Emit(event Event) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) >= a.limit {
		a.events = a.events[1:]
	}
	a.events = append(a.events, event)
}

// Events returns up to limit most recent events for a request, oldest
// first. A limit <= 0 returns all matching events. An empty requestID
// matches every event.
func (a *AuditTrail) Events(requestID string, limit int) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []Event
	for _, e := range a.events {
		if requestID == "" || e.RequestID == requestID {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

// Len returns the number of retained events.
func (a *AuditTrail) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.events)
}

var _ Hook = (*AuditTrail)(nil)

// AsyncHook decouples a slow consumer from the pipeline with a bounded
// buffer. Events are dropped, not queued unboundedly, when the consumer
// cannot keep up.
type AsyncHook struct {
	inner   Hook
	ch      chan Event
	done    chan struct{}
	mu      sync.Mutex
	dropped int64
	closed  bool
}

// NewAsyncHook wraps a hook with a buffered delivery goroutine.
func NewAsyncHook(inner Hook, buffer int) *AsyncHook {
	if buffer <= 0 {
		buffer = 256
	}
	h := &AsyncHook{
		inner: inner,
		ch:    make(chan Event, buffer),
		done:  make(chan struct{}),
	}
	go h.run()
	return h
}

// Emit enqueues the event without blocking; the event is dropped when
// the buffer is full. The mutex is held across the send so Close cannot
// close the channel between the closed check and the send.
func (h *AsyncHook) Emit(event Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	select {
	case h.ch <- event:
	default:
		h.dropped++
	}
}

// Dropped returns how many events were discarded due to backpressure.
func (h *AsyncHook) Dropped() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Close stops delivery after draining buffered events.
func (h *AsyncHook) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	close(h.ch)
	<-h.done
}

func (h *AsyncHook) run() {
	defer close(h.done)
	for event := range h.ch {
		h.inner.Emit(event)
	}
}

var _ Hook = (*AsyncHook)(nil)

// newEvent builds a redacted event. Metadata passes through redact.Map
// so sensitive request fields never reach a hook.
func newEvent(kind EventKind, requestID, configHash string, step StepName, durationMS int64, metadata map[string]any) Event {
	return Event{
		Kind:       kind,
		RequestID:  requestID,
		Step:       step,
		ConfigHash: configHash,
		DurationMS: durationMS,
		Timestamp:  time.Now().UTC(),
		Metadata:   redact.Map(metadata),
	}
}
