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
	"sort"

	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// defaultHospitalLimit caps nearby-facility suggestions.
const defaultHospitalLimit = 5

// HospitalStage looks up facilities near the caller. The orchestrator
// only schedules this step when the request carries geolocation
// consent; the stage still refuses to run without coordinates.
type HospitalStage struct {
	locator HospitalLocator
	limit   int
}

// NewHospitalStage creates the hospital lookup stage. A non-positive
// limit selects the default.
func NewHospitalStage(locator HospitalLocator, limit int) *HospitalStage {
	if limit <= 0 {
		limit = defaultHospitalLimit
	}
	return &HospitalStage{locator: locator, limit: limit}
}

func (s *HospitalStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	if req.Location == nil {
		return nil, pipeline.NewStageError(pipeline.ErrKindInvalidInput, "hospital lookup requires a location")
	}

	hospitals, err := s.locator.Nearby(ctx, *req.Location, s.limit)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(hospitals, func(i, j int) bool {
		return hospitals[i].DistanceKM < hospitals[j].DistanceKM
	})
	if len(hospitals) > s.limit {
		hospitals = hospitals[:s.limit]
	}

	return &pipeline.StageResult{Hospitals: hospitals}, nil
}

var _ pipeline.Stage = (*HospitalStage)(nil)
