// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline implements the medical imaging triage pipeline: a
// typed step graph per request, a stage execution contract with policy-
// driven timeouts and retries, a pure triage scoring kernel, and the
// orchestrator that drives a request through validation, routing,
// detection, triage, diagnosis, reporting, and hospital lookup.
package pipeline

import (
	"time"

	"github.com/tanishka786/GDHS/services/policy"
)

// BodyPart is the routing decision for an X-ray image.
type BodyPart string

const (
	BodyPartHand    BodyPart = "HAND"
	BodyPartLeg     BodyPart = "LEG"
	BodyPartUnknown BodyPart = "UNKNOWN"
)

// TriageLevel is the clinical urgency classification.
type TriageLevel string

const (
	// TriageRed demands immediate attention.
	TriageRed TriageLevel = "RED"

	// TriageAmber warrants prompt clinical evaluation.
	TriageAmber TriageLevel = "AMBER"

	// TriageGreen is routine follow-up.
	TriageGreen TriageLevel = "GREEN"
)

// Mode selects the orchestration control flow for a request.
type Mode string

const (
	// ModeAuto runs the full pipeline without user interaction.
	ModeAuto Mode = "AUTO"

	// ModeGuided records prompts at decision points (ambiguous routing,
	// geolocation consent) while still making forward progress.
	ModeGuided Mode = "GUIDED"

	// ModeAdvanced is AUTO with caller-supplied policy overrides.
	ModeAdvanced Mode = "ADVANCED"
)

// Valid reports whether m is a known processing mode.
func (m Mode) Valid() bool {
	switch m {
	case ModeAuto, ModeGuided, ModeAdvanced:
		return true
	}
	return false
}

// StepStatus is the lifecycle state of a pipeline step.
type StepStatus string

const (
	StatusPending StepStatus = "PENDING"
	StatusRunning StepStatus = "RUNNING"
	StatusOK      StepStatus = "OK"
	StatusError   StepStatus = "ERROR"
	StatusTimeout StepStatus = "TIMEOUT"
	StatusSkipped StepStatus = "SKIPPED"
)

// Terminal reports whether the status is final.
func (s StepStatus) Terminal() bool {
	switch s {
	case StatusOK, StatusError, StatusTimeout, StatusSkipped:
		return true
	}
	return false
}

// Detection is a single fracture finding from a detector.
type Detection struct {
	// Label is the finding class, e.g. "fracture detected".
	Label string `json:"label"`

	// Score is the detector confidence in [0, 1].
	Score float64 `json:"score"`

	// Box is the bounding box as [x1, y1, x2, y2] in image pixels.
	Box []float64 `json:"bbox,omitempty"`
}

// GuidedPrompt records a decision point surfaced to the user in GUIDED
// mode. The pipeline does not block on an answer; it records the prompt
// and proceeds with the default.
type GuidedPrompt struct {
	// Type identifies the decision, e.g. "low_confidence" or
	// "geo_consent".
	Type string `json:"type"`

	// StepName is the step the decision belongs to.
	StepName StepName `json:"step_name,omitempty"`

	// Message is the user-facing question.
	Message string `json:"message"`

	// Options are the allowed answers.
	Options []string `json:"options,omitempty"`

	// Default is the option the pipeline proceeds with.
	Default string `json:"default,omitempty"`
}

// Location is a caller-supplied geolocation for hospital lookup.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Hospital is a nearby facility suggestion.
type Hospital struct {
	Name       string  `json:"name"`
	Address    string  `json:"address,omitempty"`
	Phone      string  `json:"phone,omitempty"`
	DistanceKM float64 `json:"distance_km"`
}

// DiagnosisResult is the narrative assessment built from detections.
type DiagnosisResult struct {
	Summary    string   `json:"summary"`
	Findings   []string `json:"findings,omitempty"`
	Confidence float64  `json:"confidence"`
}

// ReportManifest describes a rendered report document.
type ReportManifest struct {
	// ArtifactID references the rendered document in the artifact store.
	ArtifactID string `json:"artifact_id"`

	// ManifestID references the JSON manifest in the artifact store.
	ManifestID string `json:"manifest_id,omitempty"`

	// Format is the document format, e.g. "pdf".
	Format string `json:"format"`

	GeneratedAt time.Time `json:"generated_at"`
}

// TriageResult is the urgency assessment for a request.
type TriageResult struct {
	Level TriageLevel `json:"level"`

	// Score is the computed urgency in [0, 1].
	Score float64 `json:"score"`

	// Confidence reflects detector certainty, not urgency.
	Confidence float64 `json:"confidence"`

	// Method names the scoring path: "dynamic_scoring" or
	// "error_fallback".
	Method string `json:"method"`

	// Rationale explains the level in human-readable lines.
	Rationale []string `json:"rationale"`

	// Recommendations are next-step suggestions for the level.
	Recommendations []string `json:"recommendations,omitempty"`

	// Priority is the dispatch priority: "immediate", "urgent", or
	// "routine".
	Priority string `json:"priority,omitempty"`

	// Partial is true when the assessment ran on incomplete upstream
	// results (a detector failed or timed out).
	Partial bool `json:"partial"`
}

// Request is a triage pipeline submission.
type Request struct {
	// RequestID is optional; the orchestrator assigns one when empty.
	RequestID string `json:"request_id,omitempty"`

	// ImageURL references the X-ray image. Either ImageURL or ImageData
	// must be set.
	ImageURL string `json:"image_url,omitempty"`

	// ImageData is the raw image payload for inline uploads.
	ImageData []byte `json:"image_data,omitempty"`

	// Symptoms is the free-text symptom description.
	Symptoms string `json:"symptoms,omitempty"`

	// Mode selects the control flow. Defaults to AUTO when empty.
	Mode Mode `json:"mode,omitempty"`

	// Overrides are policy overrides; honored only in ADVANCED mode.
	Overrides map[string]any `json:"overrides,omitempty"`

	// GeoConsent authorizes hospital lookup from Location.
	GeoConsent bool `json:"geo_consent,omitempty"`

	// Location is used for hospital lookup when GeoConsent is true.
	Location *Location `json:"location,omitempty"`
}

// RequestStatus is the terminal status of a processed request.
type RequestStatus string

const (
	RequestCompleted RequestStatus = "completed"
	RequestFailed    RequestStatus = "failed"
)

// Response is the assembled pipeline output.
type Response struct {
	RequestID  string        `json:"request_id"`
	Status     RequestStatus `json:"status"`
	Mode       Mode          `json:"mode"`
	ConfigHash string        `json:"config_hash"`

	BodyPart        BodyPart    `json:"body_part,omitempty"`
	RouteConfidence float64     `json:"route_confidence,omitempty"`
	Detections      []Detection `json:"detections,omitempty"`

	Triage    *TriageResult    `json:"triage,omitempty"`
	Diagnosis *DiagnosisResult `json:"diagnosis,omitempty"`
	Report    *ReportManifest  `json:"report,omitempty"`
	Hospitals []Hospital       `json:"hospitals,omitempty"`

	// Artifacts maps artifact names (e.g. "annotated_image") to opaque
	// artifact store identifiers.
	Artifacts map[string]string `json:"artifacts,omitempty"`

	// Prompts are the guided-mode decision points recorded during
	// processing.
	Prompts []GuidedPrompt `json:"prompts,omitempty"`

	// Partial is true when at least one step failed or timed out but no
	// fatal step failed. A fatal failure is never reported partial.
	Partial bool `json:"partial"`

	// Error carries the failure reason when Status is failed.
	Error string `json:"error,omitempty"`

	Steps           []StepSnapshot `json:"steps"`
	TotalDurationMS int64          `json:"total_duration_ms"`
}

// StepName re-exports the policy step identifier for graph keys.
type StepName = policy.Step
