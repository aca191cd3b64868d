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

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// TriageStage scores urgency from the recorded detections and symptom
// text. The scoring kernel is pure and local; this stage only feeds it
// graph state and archives the assessment.
type TriageStage struct {
	store artifacts.Store
}

// NewTriageStage creates the triage stage. The store may be nil.
func NewTriageStage(store artifacts.Store) *TriageStage {
	return &TriageStage{store: store}
}

func (s *TriageStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	assessment := pipeline.Assess(view.Detections(), req.Symptoms, cfg)
	if view.DetectorDegraded() {
		assessment.Partial = true
	}

	result := &pipeline.StageResult{
		Confidence: assessment.Confidence,
		Triage:     assessment,
	}

	if s.store != nil {
		if payload, err := json.Marshal(assessment); err == nil {
			if artifact, err := s.store.Put(ctx, artifacts.BucketReports, payload, "json"); err == nil {
				result.Artifacts = map[string]string{"triage_assessment": artifact.ID}
			}
		}
	}

	return result, nil
}

var _ pipeline.Stage = (*TriageStage)(nil)
