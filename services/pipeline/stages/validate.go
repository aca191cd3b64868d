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
	"net/url"

	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

const (
	// defaultMaxImageBytes caps inline image payloads at 20 MiB.
	defaultMaxImageBytes = 20 << 20

	// maxSymptomsLen caps the free-text symptom description.
	maxSymptomsLen = 10000
)

// ValidateStage checks a request is well formed before any model work
// happens. It is the only fatal, non-retryable step: a request that
// fails here never consumed inference capacity.
type ValidateStage struct {
	maxImageBytes int
}

// NewValidateStage creates the validation stage. A non-positive
// maxImageBytes selects the default cap.
func NewValidateStage(maxImageBytes int) *ValidateStage {
	if maxImageBytes <= 0 {
		maxImageBytes = defaultMaxImageBytes
	}
	return &ValidateStage{maxImageBytes: maxImageBytes}
}

func (s *ValidateStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	if imageRef(req).Empty() {
		return nil, pipeline.NewStageError(pipeline.ErrKindInvalidInput, "either image_url or image_data is required")
	}
	if len(req.ImageData) > s.maxImageBytes {
		return nil, pipeline.NewStageError(pipeline.ErrKindInvalidInput, "image exceeds %d byte limit", s.maxImageBytes)
	}
	if req.ImageURL != "" {
		u, err := url.Parse(req.ImageURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return nil, pipeline.NewStageError(pipeline.ErrKindInvalidInput, "image_url must be an http(s) URL")
		}
	}
	if len(req.Symptoms) > maxSymptomsLen {
		return nil, pipeline.NewStageError(pipeline.ErrKindInvalidInput, "symptoms text exceeds %d characters", maxSymptomsLen)
	}
	if req.GeoConsent && req.Location == nil {
		return nil, pipeline.NewStageError(pipeline.ErrKindInvalidInput, "geo_consent requires a location")
	}

	return &pipeline.StageResult{Confidence: 1.0}, nil
}

var _ pipeline.Stage = (*ValidateStage)(nil)
