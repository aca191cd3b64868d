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
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tanishka786/GDHS/services/policy"
)

type fakeNetErr struct{ timeout bool }

func (e *fakeNetErr) Error() string   { return "net failure" }
func (e *fakeNetErr) Timeout() bool   { return e.timeout }
func (e *fakeNetErr) Temporary() bool { return false }

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"deadline", context.DeadlineExceeded, ErrKindTimeout},
		{"wrapped deadline", fmt.Errorf("calling detector: %w", context.DeadlineExceeded), ErrKindTimeout},
		{"cancelled", context.Canceled, ErrKindUnavailable},
		{"net timeout", &fakeNetErr{timeout: true}, ErrKindTimeout},
		{"net refused", &fakeNetErr{timeout: false}, ErrKindConnection},
		{"plain", errors.New("boom"), ErrKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			if got.Kind != tt.want {
				t.Fatalf("kind = %s, want %s", got.Kind, tt.want)
			}
			if !errors.Is(got, tt.err) && got.Err == nil {
				t.Fatal("cause not preserved")
			}
		})
	}
}

func TestClassifyErrorPassesThroughStageError(t *testing.T) {
	orig := NewStageError(ErrKindRateLimit, "throttled by upstream")
	got := ClassifyError(fmt.Errorf("detector call: %w", orig))
	if got != orig {
		t.Fatalf("expected the original StageError, got %+v", got)
	}
}

func TestStageErrorMessage(t *testing.T) {
	err := WrapStageError(ErrKindConnection, errors.New("dial tcp: refused"), "hand detector unreachable")
	want := "connection: hand detector unreachable: dial tcp: refused"
	if err.Error() != want {
		t.Fatalf("message = %q, want %q", err.Error(), want)
	}
	if errors.Unwrap(err) == nil {
		t.Fatal("cause not unwrapped")
	}
}

func TestStageRegistryRejectsNilAndDuplicate(t *testing.T) {
	reg := NewStageRegistry()
	if err := reg.Register(policy.StepValidate, nil); err == nil {
		t.Fatal("nil stage accepted")
	}

	noop := StageFunc(func(ctx context.Context, req *Request, view GraphView, cfg *policy.Config) (*StageResult, error) {
		return &StageResult{}, nil
	})
	if err := reg.Register(policy.StepValidate, noop); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := reg.Register(policy.StepValidate, noop); err == nil {
		t.Fatal("duplicate register accepted")
	}
}

func TestStageRegistryStepsInPipelineOrder(t *testing.T) {
	reg := NewStageRegistry()
	noop := StageFunc(func(ctx context.Context, req *Request, view GraphView, cfg *policy.Config) (*StageResult, error) {
		return &StageResult{}, nil
	})
	// Register out of order on purpose.
	for _, name := range []StepName{policy.StepTriage, policy.StepValidate, policy.StepDetectLeg} {
		if err := reg.Register(name, noop); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	got := reg.Steps()
	want := []StepName{policy.StepValidate, policy.StepDetectLeg, policy.StepTriage}
	if len(got) != len(want) {
		t.Fatalf("steps = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("steps[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}
