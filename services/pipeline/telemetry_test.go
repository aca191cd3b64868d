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
	"fmt"
	"sync"
	"testing"

	"github.com/tanishka786/GDHS/pkg/redact"
	"github.com/tanishka786/GDHS/services/policy"
)

func TestAuditTrailEvictsOldest(t *testing.T) {
	trail := &AuditTrail{limit: 3}
	for i := 0; i < 5; i++ {
		trail.Emit(Event{Kind: EventStepStart, RequestID: fmt.Sprintf("req-%d", i)})
	}

	if trail.Len() != 3 {
		t.Fatalf("len = %d, want 3", trail.Len())
	}
	events := trail.Events("", 0)
	if events[0].RequestID != "req-2" || events[2].RequestID != "req-4" {
		t.Fatalf("retained = %v", events)
	}
}

func TestAuditTrailFilterAndLimit(t *testing.T) {
	trail := NewAuditTrail()
	for i := 0; i < 4; i++ {
		trail.Emit(Event{Kind: EventStepStart, RequestID: "req-a", DurationMS: int64(i)})
	}
	trail.Emit(Event{Kind: EventStepStart, RequestID: "req-b"})

	got := trail.Events("req-a", 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	// Most recent two, oldest first.
	if got[0].DurationMS != 2 || got[1].DurationMS != 3 {
		t.Fatalf("events = %v", got)
	}
	if n := len(trail.Events("req-b", 0)); n != 1 {
		t.Fatalf("req-b events = %d, want 1", n)
	}
}

func TestAsyncHookDeliversAndDrains(t *testing.T) {
	trail := NewAuditTrail()
	hook := NewAsyncHook(trail, 32)
	for i := 0; i < 10; i++ {
		hook.Emit(Event{Kind: EventStepComplete, RequestID: "req-1"})
	}
	hook.Close()

	if trail.Len() != 10 {
		t.Fatalf("delivered = %d, want 10", trail.Len())
	}
	if hook.Dropped() != 0 {
		t.Fatalf("dropped = %d, want 0", hook.Dropped())
	}
}

func TestAsyncHookDropsUnderBackpressure(t *testing.T) {
	gate := make(chan struct{})
	delivered := 0
	blocking := HookFunc(func(Event) {
		<-gate
		delivered++
	})
	hook := NewAsyncHook(blocking, 1)

	for i := 0; i < 5; i++ {
		hook.Emit(Event{Kind: EventStepStart})
	}
	close(gate)
	hook.Close()

	if hook.Dropped() == 0 {
		t.Fatal("expected drops with a full buffer")
	}
	if int64(delivered)+hook.Dropped() != 5 {
		t.Fatalf("delivered=%d dropped=%d, want total 5", delivered, hook.Dropped())
	}
}

func TestAsyncHookConcurrentEmitAndClose(t *testing.T) {
	// Emit and Close racing must never send on the closed channel.
	for i := 0; i < 200; i++ {
		hook := NewAsyncHook(NewAuditTrail(), 1)
		var wg sync.WaitGroup
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 8; j++ {
					hook.Emit(Event{Kind: EventStepStart})
				}
			}()
		}
		hook.Close()
		wg.Wait()
	}
}

func TestAsyncHookEmitAfterCloseIsNoop(t *testing.T) {
	trail := NewAuditTrail()
	hook := NewAsyncHook(trail, 4)
	hook.Close()
	hook.Emit(Event{Kind: EventStepStart})
	hook.Close() // second close must not panic

	if trail.Len() != 0 {
		t.Fatalf("len = %d, want 0", trail.Len())
	}
}

func TestNewEventRedactsMetadata(t *testing.T) {
	event := newEvent(EventRequestStart, "req-1", "abcd1234", policy.StepValidate, 0, map[string]any{
		"mode":       "AUTO",
		"api_key":    "sk-123",
		"patient_id": "p-42",
	})

	if event.Metadata["mode"] != "AUTO" {
		t.Fatalf("mode = %v", event.Metadata["mode"])
	}
	if event.Metadata["api_key"] != redact.Placeholder {
		t.Fatalf("api_key not redacted: %v", event.Metadata["api_key"])
	}
	if event.Metadata["patient_id"] != redact.Placeholder {
		t.Fatalf("patient_id not redacted: %v", event.Metadata["patient_id"])
	}
	if event.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}
