// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package stages provides the concrete stage implementations wired into
// the pipeline orchestrator: validation, routing, fracture detection,
// triage, diagnosis, report rendering, and hospital lookup. Each stage
// adapts an external model or service client behind a narrow interface
// so stages stay testable with fakes.
package stages

import (
	"context"

	"github.com/tanishka786/GDHS/services/pipeline"
)

// ImageRef carries an X-ray image either inline or by reference.
// Clients resolve whichever field is set; inline data wins when both
// are present.
type ImageRef struct {
	Data []byte
	URL  string
}

// Empty reports whether the reference carries neither data nor a URL.
func (r ImageRef) Empty() bool {
	return len(r.Data) == 0 && r.URL == ""
}

func imageRef(req *pipeline.Request) ImageRef {
	return ImageRef{Data: req.ImageData, URL: req.ImageURL}
}

// RouteDecision is a router's body-part classification.
type RouteDecision struct {
	BodyPart   pipeline.BodyPart
	Confidence float64
}

// Router classifies which anatomy an X-ray shows.
type Router interface {
	Route(ctx context.Context, image ImageRef, symptoms string) (RouteDecision, error)
}

// DetectionOutput is a detector's raw inference result, before score
// filtering and non-maximum suppression.
type DetectionOutput struct {
	Detections []pipeline.Detection

	// AnnotatedImage is the input image with detection boxes drawn,
	// when the detector produces one.
	AnnotatedImage []byte

	// InferenceMS is the model inference time.
	InferenceMS int64
}

// Detector runs fracture detection for one body part.
type Detector interface {
	Detect(ctx context.Context, image ImageRef) (DetectionOutput, error)
}

// Diagnoser produces a narrative assessment from detections and
// reported symptoms.
type Diagnoser interface {
	Diagnose(ctx context.Context, detections []pipeline.Detection, symptoms string) (*pipeline.DiagnosisResult, error)
}

// ReportInput is everything a renderer needs to produce a document.
type ReportInput struct {
	RequestID  string
	BodyPart   pipeline.BodyPart
	Symptoms   string
	Detections []pipeline.Detection
	Triage     *pipeline.TriageResult
	Diagnosis  *pipeline.DiagnosisResult
	Disclaimer string
}

// ReportRenderer renders a report document (PDF) from assessment data.
type ReportRenderer interface {
	Render(ctx context.Context, input ReportInput) ([]byte, error)
}

// HospitalLocator finds facilities near a location.
type HospitalLocator interface {
	Nearby(ctx context.Context, loc pipeline.Location, limit int) ([]pipeline.Hospital, error)
}
