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

	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// DiagnoseStage asks the diagnosis client for a narrative assessment of
// the recorded detections. Skippable by policy: the triage level stands
// on its own when diagnosis is unavailable.
type DiagnoseStage struct {
	diagnoser Diagnoser
}

// NewDiagnoseStage creates the diagnosis stage.
func NewDiagnoseStage(diagnoser Diagnoser) *DiagnoseStage {
	return &DiagnoseStage{diagnoser: diagnoser}
}

func (s *DiagnoseStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	diagnosis, err := s.diagnoser.Diagnose(ctx, view.Detections(), req.Symptoms)
	if err != nil {
		return nil, err
	}
	if diagnosis == nil {
		return nil, pipeline.NewStageError(pipeline.ErrKindInternal, "diagnoser returned no assessment")
	}
	return &pipeline.StageResult{
		Confidence: diagnosis.Confidence,
		Diagnosis:  diagnosis,
	}, nil
}

var _ pipeline.Stage = (*DiagnoseStage)(nil)
