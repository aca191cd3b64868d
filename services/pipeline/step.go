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
	"time"

	"github.com/tanishka786/GDHS/services/policy"
)

// step is the internal mutable record for one pipeline step. External
// observers only ever see StepSnapshot copies.
type step struct {
	name       StepName
	status     StepStatus
	attempts   int
	retryCount int
	startedAt  *time.Time
	endedAt    *time.Time
	durationMS int64
	errMsg     string
	errKind    ErrorKind
	confidence float64
	artifacts  map[string]string
}

// StepSnapshot is an immutable projection of a step for status queries
// and responses.
type StepSnapshot struct {
	Name       StepName   `json:"name"`
	Status     StepStatus `json:"status"`
	Attempts   int        `json:"attempts"`
	RetryCount int        `json:"retry_count"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMS int64      `json:"duration_ms"`
	Error      string     `json:"error,omitempty"`
	ErrorKind  ErrorKind  `json:"error_kind,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`

	// Artifacts maps artifact names to store identifiers produced by
	// this step.
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// GraphSnapshot is an immutable projection of a whole step graph. It
// carries the policy values the request ran under, so a status query can
// show the thresholds and timeouts that shaped its steps.
type GraphSnapshot struct {
	RequestID  string    `json:"request_id"`
	Mode       Mode      `json:"mode"`
	ConfigHash string    `json:"config_hash"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Done       bool      `json:"done"`

	// Partial is true when at least one step ended in ERROR or TIMEOUT
	// but no fatal step failed.
	Partial bool `json:"partial"`

	BodyPart       BodyPart    `json:"detected_body_part,omitempty"`
	TriageLevel    TriageLevel `json:"triage_level,omitempty"`
	StepsCompleted int         `json:"steps_completed"`
	StepsTotal     int         `json:"steps_total"`

	// Thresholds and Timeouts snapshot the resolved policy values,
	// including any ADVANCED-mode overrides.
	Thresholds map[string]float64   `json:"thresholds,omitempty"`
	Timeouts   map[StepName]float64 `json:"timeouts,omitempty"`

	Steps     []StepSnapshot    `json:"steps"`
	Prompts   []GuidedPrompt    `json:"prompts,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// GraphView is the read-only surface stages receive. Stages observe
// upstream results through it; they never mutate the graph.
type GraphView interface {
	// RequestID returns the owning request id.
	RequestID() string

	// ConfigHash returns the bound policy fingerprint.
	ConfigHash() string

	// Step returns the snapshot for a step, if it exists.
	Step(name StepName) (StepSnapshot, bool)

	// Detections returns all recorded detections in detector order
	// (hand before leg).
	Detections() []Detection

	// DetectorDegraded reports whether any detector step ended in
	// ERROR or TIMEOUT.
	DetectorDegraded() bool

	// Artifacts returns the merged artifact name to id map.
	Artifacts() map[string]string
}

// StepGraph is the mutable per-request execution record.
//
// The orchestrator is the only writer. Mutations and reads are guarded
// by an internal mutex, so status queries and concurrent detector
// completions are safe. External callers only receive snapshots.
type StepGraph struct {
	mu sync.Mutex

	requestID  string
	mode       Mode
	configHash string
	createdAt  time.Time
	updatedAt  time.Time
	done       bool
	fatal      bool

	bodyPart    BodyPart
	triageLevel TriageLevel
	thresholds  map[string]float64
	timeouts    map[StepName]float64

	steps      map[StepName]*step
	order      []StepName
	detections map[StepName][]Detection
	prompts    []GuidedPrompt
	artifacts  map[string]string
}

// NewStepGraph creates an empty graph for a request, snapshotting the
// thresholds and timeouts of the policy config it runs under.
func NewStepGraph(requestID string, mode Mode, cfg *policy.Config) *StepGraph {
	now := time.Now().UTC()
	return &StepGraph{
		requestID:  requestID,
		mode:       mode,
		configHash: cfg.Hash(),
		createdAt:  now,
		updatedAt:  now,
		thresholds: thresholdSnapshot(cfg),
		timeouts:   timeoutSnapshot(cfg),
		steps:      make(map[StepName]*step),
		detections: make(map[StepName][]Detection),
		artifacts:  make(map[string]string),
	}
}

func thresholdSnapshot(cfg *policy.Config) map[string]float64 {
	return map[string]float64{
		"router_threshold":                 cfg.RouterThreshold,
		"detector_score_min":               cfg.DetectorScoreMin,
		"nms_iou":                          cfg.NMSIoU,
		"triage_red_threshold":             cfg.TriageRedThreshold,
		"triage_amber_threshold":           cfg.TriageAmberThreshold,
		"triage_high_confidence_threshold": cfg.HighConfidenceThreshold,
	}
}

func timeoutSnapshot(cfg *policy.Config) map[StepName]float64 {
	out := make(map[StepName]float64, len(policy.KnownSteps))
	for _, step := range policy.KnownSteps {
		out[step] = cfg.StepPolicy(step).TimeoutSeconds
	}
	return out
}

// AddStep appends a step in PENDING. Step names are unique within a
// graph; adding an existing name fails.
func (g *StepGraph) AddStep(name StepName) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.steps[name]; ok {
		return fmt.Errorf("step %s already exists", name)
	}
	g.steps[name] = &step{name: name, status: StatusPending, artifacts: make(map[string]string)}
	g.order = append(g.order, name)
	g.touch()
	return nil
}

// Start transitions a step to RUNNING and counts the attempt.
func (g *StepGraph) Start(name StepName) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.step(name)
	now := time.Now().UTC()
	s.status = StatusRunning
	s.attempts++
	s.startedAt = &now
	s.endedAt = nil
	s.errMsg = ""
	s.errKind = ""
	g.touch()
}

// Complete marks a step OK, recording its confidence and merging its
// artifacts into the step and graph-level maps.
func (g *StepGraph) Complete(name StepName, confidence float64, artifacts map[string]string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.step(name)
	g.finish(s, StatusOK)
	s.confidence = confidence
	for k, v := range artifacts {
		s.artifacts[k] = v
		g.artifacts[k] = v
	}
	g.touch()
}

// Fail marks a step ERROR with a tagged reason.
func (g *StepGraph) Fail(name StepName, kind ErrorKind, msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.step(name)
	g.finish(s, StatusError)
	s.errKind = kind
	s.errMsg = msg
	g.touch()
}

// Timeout marks a step TIMEOUT.
func (g *StepGraph) Timeout(name StepName, msg string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.step(name)
	g.finish(s, StatusTimeout)
	s.errKind = ErrKindTimeout
	s.errMsg = msg
	g.touch()
}

// Skip marks a step SKIPPED with a reason. Skipped steps that never ran
// keep zero attempts.
func (g *StepGraph) Skip(name StepName, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.step(name)
	g.finish(s, StatusSkipped)
	s.errMsg = reason
	g.touch()
}

// SetRetryCount records how many retries a step has consumed.
func (g *StepGraph) SetRetryCount(name StepName, count int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.step(name).retryCount = count
	g.touch()
}

// RecordDetections stores a detector step's findings for downstream
// stages (triage reads them through the graph view).
func (g *StepGraph) RecordDetections(name StepName, detections []Detection) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.detections[name] = append([]Detection(nil), detections...)
	g.touch()
}

// SkipPending marks every step still PENDING as SKIPPED with the given
// reason. Used when a cancelled request finalizes before its remaining
// steps start.
func (g *StepGraph) SkipPending(reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, s := range g.steps {
		if s.status == StatusPending {
			g.finish(s, StatusSkipped)
			s.errMsg = reason
		}
	}
	g.touch()
}

// AddPrompt records a guided-mode decision point.
func (g *StepGraph) AddPrompt(prompt GuidedPrompt) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	g.touch()
}

// SetBodyPart records the routing decision on the graph.
func (g *StepGraph) SetBodyPart(part BodyPart) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.bodyPart = part
	g.touch()
}

// SetTriageLevel records the triage outcome on the graph.
func (g *StepGraph) SetTriageLevel(level TriageLevel) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.triageLevel = level
	g.touch()
}

// MarkFatal records that a fatal step failure aborted the request. A
// fatally failed graph is never reported partial.
func (g *StepGraph) MarkFatal() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fatal = true
	g.touch()
}

// MarkDone marks the request as finished processing.
func (g *StepGraph) MarkDone() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.done = true
	g.touch()
}

// Done reports whether processing has finished.
func (g *StepGraph) Done() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// CreatedAt returns the graph creation time.
func (g *StepGraph) CreatedAt() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.createdAt
}

// RequestID returns the owning request id.
func (g *StepGraph) RequestID() string {
	return g.requestID
}

// ConfigHash returns the bound policy fingerprint.
func (g *StepGraph) ConfigHash() string {
	return g.configHash
}

// Step returns the snapshot for a step, if it exists.
func (g *StepGraph) Step(name StepName) (StepSnapshot, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.steps[name]
	if !ok {
		return StepSnapshot{}, false
	}
	return snapshotStep(s), true
}

// Detections returns all recorded detections, hand detector first, in
// the order detectors reported them.
func (g *StepGraph) Detections() []Detection {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []Detection
	for _, name := range []StepName{policy.StepDetectHand, policy.StepDetectLeg} {
		out = append(out, g.detections[name]...)
	}
	return out
}

// DetectorDegraded reports whether any detector step ended in ERROR or
// TIMEOUT.
func (g *StepGraph) DetectorDegraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, name := range []StepName{policy.StepDetectHand, policy.StepDetectLeg} {
		if s, ok := g.steps[name]; ok {
			if s.status == StatusError || s.status == StatusTimeout {
				return true
			}
		}
	}
	return false
}

// Degraded reports whether any step ended in ERROR or TIMEOUT.
func (g *StepGraph) Degraded() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.degradedLocked()
}

// Partial reports whether the graph holds a degraded but usable result:
// at least one step ended in ERROR or TIMEOUT and no fatal step failed.
func (g *StepGraph) Partial() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.partialLocked()
}

func (g *StepGraph) degradedLocked() bool {
	for _, s := range g.steps {
		if s.status == StatusError || s.status == StatusTimeout {
			return true
		}
	}
	return false
}

func (g *StepGraph) partialLocked() bool {
	return !g.fatal && g.degradedLocked()
}

// Artifacts returns a copy of the merged artifact name to id map.
func (g *StepGraph) Artifacts() map[string]string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[string]string, len(g.artifacts))
	for k, v := range g.artifacts {
		out[k] = v
	}
	return out
}

// ArtifactIDs returns every artifact id referenced by the graph.
func (g *StepGraph) ArtifactIDs() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.artifacts))
	for _, id := range g.artifacts {
		out = append(out, id)
	}
	return out
}

// Prompts returns a copy of the recorded guided prompts.
func (g *StepGraph) Prompts() []GuidedPrompt {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]GuidedPrompt(nil), g.prompts...)
}

// Snapshot returns an immutable projection of the whole graph, steps in
// insertion order.
func (g *StepGraph) Snapshot() GraphSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	steps := make([]StepSnapshot, 0, len(g.order))
	completed := 0
	for _, name := range g.order {
		s := g.steps[name]
		if s.status.Terminal() {
			completed++
		}
		steps = append(steps, snapshotStep(s))
	}
	artifacts := make(map[string]string, len(g.artifacts))
	for k, v := range g.artifacts {
		artifacts[k] = v
	}
	thresholds := make(map[string]float64, len(g.thresholds))
	for k, v := range g.thresholds {
		thresholds[k] = v
	}
	timeouts := make(map[StepName]float64, len(g.timeouts))
	for k, v := range g.timeouts {
		timeouts[k] = v
	}
	return GraphSnapshot{
		RequestID:      g.requestID,
		Mode:           g.mode,
		ConfigHash:     g.configHash,
		CreatedAt:      g.createdAt,
		UpdatedAt:      g.updatedAt,
		Done:           g.done,
		Partial:        g.partialLocked(),
		BodyPart:       g.bodyPart,
		TriageLevel:    g.triageLevel,
		StepsCompleted: completed,
		StepsTotal:     len(steps),
		Thresholds:     thresholds,
		Timeouts:       timeouts,
		Steps:          steps,
		Prompts:        append([]GuidedPrompt(nil), g.prompts...),
		Artifacts:      artifacts,
	}
}

// step returns the record for name, creating it if the caller skipped
// AddStep. Callers must hold g.mu.
func (g *StepGraph) step(name StepName) *step {
	s, ok := g.steps[name]
	if !ok {
		s = &step{name: name, status: StatusPending, artifacts: make(map[string]string)}
		g.steps[name] = s
		g.order = append(g.order, name)
	}
	return s
}

// finish stamps end time and duration. Callers must hold g.mu.
func (g *StepGraph) finish(s *step, status StepStatus) {
	now := time.Now().UTC()
	s.status = status
	s.endedAt = &now
	if s.startedAt != nil {
		s.durationMS = now.Sub(*s.startedAt).Milliseconds()
	}
}

// touch updates the modification time. Callers must hold g.mu.
func (g *StepGraph) touch() {
	g.updatedAt = time.Now().UTC()
}

func snapshotStep(s *step) StepSnapshot {
	artifacts := make(map[string]string, len(s.artifacts))
	for k, v := range s.artifacts {
		artifacts[k] = v
	}
	return StepSnapshot{
		Name:       s.name,
		Status:     s.status,
		Attempts:   s.attempts,
		RetryCount: s.retryCount,
		StartedAt:  s.startedAt,
		EndedAt:    s.endedAt,
		DurationMS: s.durationMS,
		Error:      s.errMsg,
		ErrorKind:  s.errKind,
		Confidence: s.confidence,
		Artifacts:  artifacts,
	}
}

var _ GraphView = (*StepGraph)(nil)
