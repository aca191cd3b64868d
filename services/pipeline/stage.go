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
	"net"

	"github.com/tanishka786/GDHS/services/policy"
)

// ErrorKind tags stage failures for retry decisions. The set is closed:
// every stage failure must map to one of these.
type ErrorKind string

const (
	ErrKindTimeout      ErrorKind = "timeout"
	ErrKindConnection   ErrorKind = "connection"
	ErrKindTemporary    ErrorKind = "temporary"
	ErrKindRateLimit    ErrorKind = "rate_limit"
	ErrKindInvalidInput ErrorKind = "invalid_input"
	ErrKindInternal     ErrorKind = "internal"
	ErrKindUnavailable  ErrorKind = "unavailable"
)

// StageError is a structured stage failure. Stages return these instead
// of panicking; the orchestrator uses the Kind for retry decisions and
// the step record.
type StageError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// NewStageError builds a StageError with a formatted message.
func NewStageError(kind ErrorKind, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapStageError attaches a cause to a tagged failure.
func WrapStageError(kind ErrorKind, err error, format string, args ...any) *StageError {
	return &StageError{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}

// ClassifyError maps an arbitrary error to a StageError. Existing
// StageErrors pass through; context deadlines become timeouts; network
// errors become connection failures; everything else is internal.
func ClassifyError(err error) *StageError {
	var se *StageError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &StageError{Kind: ErrKindTimeout, Message: "deadline exceeded", Err: err}
	}
	if errors.Is(err, context.Canceled) {
		return &StageError{Kind: ErrKindUnavailable, Message: "cancelled", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return &StageError{Kind: ErrKindTimeout, Message: "network timeout", Err: err}
		}
		return &StageError{Kind: ErrKindConnection, Message: "network error", Err: err}
	}
	return &StageError{Kind: ErrKindInternal, Message: err.Error(), Err: err}
}

// StageResult carries a stage's typed outputs. Each stage populates only
// the fields relevant to its step; the orchestrator projects them into
// the step graph and the response.
type StageResult struct {
	// Confidence is the stage's own confidence in its output.
	Confidence float64

	// Artifacts maps artifact names to store identifiers written by
	// this stage.
	Artifacts map[string]string

	// BodyPart is set by the routing stage.
	BodyPart BodyPart

	// Detections are set by detector stages.
	Detections []Detection

	// InferenceMS is the model inference time reported by detectors.
	InferenceMS int64

	// Triage is set by the triage stage.
	Triage *TriageResult

	// Diagnosis is set by the diagnosis stage.
	Diagnosis *DiagnosisResult

	// Report is set by the report stage.
	Report *ReportManifest

	// Hospitals is set by the hospital lookup stage.
	Hospitals []Hospital
}

// Stage is the execution contract for one pipeline step.
//
// The context carries the orchestrator-imposed attempt deadline; stages
// must honor cancellation. The request and view are read-only: a stage
// communicates exclusively through its StageResult or a returned error
// (ideally a *StageError; anything else is classified as internal).
type Stage interface {
	Execute(ctx context.Context, req *Request, view GraphView, cfg *policy.Config) (*StageResult, error)
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(ctx context.Context, req *Request, view GraphView, cfg *policy.Config) (*StageResult, error)

// Execute calls the wrapped function.
func (f StageFunc) Execute(ctx context.Context, req *Request, view GraphView, cfg *policy.Config) (*StageResult, error) {
	return f(ctx, req, view, cfg)
}

// StageRegistry maps step names to their stage implementations. It is
// populated once at boot and read-only afterwards; there is no global
// registry.
type StageRegistry struct {
	stages map[StepName]Stage
}

// NewStageRegistry creates an empty registry.
func NewStageRegistry() *StageRegistry {
	return &StageRegistry{stages: make(map[StepName]Stage)}
}

// Register binds a stage to a step name. Registering a nil stage or a
// duplicate step is an error.
func (r *StageRegistry) Register(name StepName, stage Stage) error {
	if stage == nil {
		return fmt.Errorf("stage for %s must not be nil", name)
	}
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("stage for %s already registered", name)
	}
	r.stages[name] = stage
	return nil
}

// Get returns the stage for a step, if registered.
func (r *StageRegistry) Get(name StepName) (Stage, bool) {
	s, ok := r.stages[name]
	return s, ok
}

// Steps returns the registered step names in pipeline order.
func (r *StageRegistry) Steps() []StepName {
	out := make([]StepName, 0, len(r.stages))
	for _, name := range policy.KnownSteps {
		if _, ok := r.stages[name]; ok {
			out = append(out, name)
		}
	}
	return out
}
