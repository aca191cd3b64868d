// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// ReportStage renders the patient-facing report document and writes a
// machine-readable manifest next to it. The triage assessment is
// recomputed here from graph state; the scoring kernel is deterministic,
// so the report always matches what the triage step produced.
type ReportStage struct {
	renderer ReportRenderer
	store    artifacts.Store
}

// NewReportStage creates the report stage. The renderer is required;
// the store may be nil, in which case the rendered bytes are discarded
// and only the manifest metadata is returned.
func NewReportStage(renderer ReportRenderer, store artifacts.Store) *ReportStage {
	return &ReportStage{renderer: renderer, store: store}
}

// reportManifestDoc is the persisted manifest shape.
type reportManifestDoc struct {
	RequestID   string                   `json:"request_id"`
	BodyPart    pipeline.BodyPart        `json:"body_part,omitempty"`
	Detections  []pipeline.Detection     `json:"detections"`
	Triage      *pipeline.TriageResult   `json:"triage"`
	Disclaimer  string                   `json:"disclaimer"`
	GeneratedAt time.Time                `json:"generated_at"`
	Artifacts   map[string]string        `json:"artifacts,omitempty"`
}

func (s *ReportStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	detections := view.Detections()
	triage := pipeline.Assess(detections, req.Symptoms, cfg)
	if view.DetectorDegraded() {
		triage.Partial = true
	}

	input := ReportInput{
		RequestID:  view.RequestID(),
		Symptoms:   req.Symptoms,
		Detections: detections,
		Triage:     triage,
		Disclaimer: pipeline.Disclaimer,
	}
	document, err := s.renderer.Render(ctx, input)
	if err != nil {
		return nil, err
	}

	generatedAt := time.Now().UTC()
	manifest := &pipeline.ReportManifest{Format: "pdf", GeneratedAt: generatedAt}
	stageArtifacts := map[string]string{}

	if s.store != nil {
		reportArtifact, err := s.store.Put(ctx, artifacts.BucketReports, document, "pdf")
		if err != nil {
			return nil, pipeline.WrapStageError(pipeline.ErrKindInternal, err, "archiving report")
		}
		manifest.ArtifactID = reportArtifact.ID
		stageArtifacts["report"] = reportArtifact.ID

		doc := reportManifestDoc{
			RequestID:   view.RequestID(),
			Detections:  detections,
			Triage:      triage,
			Disclaimer:  pipeline.Disclaimer,
			GeneratedAt: generatedAt,
			Artifacts:   map[string]string{"report": reportArtifact.ID},
		}
		if payload, err := json.Marshal(doc); err == nil {
			if manifestArtifact, err := s.store.Put(ctx, artifacts.BucketManifests, payload, "json"); err == nil {
				manifest.ManifestID = manifestArtifact.ID
				stageArtifacts["report_manifest"] = manifestArtifact.ID
			}
		}
	}

	return &pipeline.StageResult{
		Report:    manifest,
		Artifacts: stageArtifacts,
	}, nil
}

var _ pipeline.Stage = (*ReportStage)(nil)
