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

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// RouteStage classifies the imaged body part and archives the raw
// upload. Routing is fatal by policy: the detectors cannot run without
// knowing where to look.
type RouteStage struct {
	router Router
	store  artifacts.Store
}

// NewRouteStage creates the routing stage. The store may be nil, in
// which case the raw image is not archived.
func NewRouteStage(router Router, store artifacts.Store) *RouteStage {
	return &RouteStage{router: router, store: store}
}

func (s *RouteStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	decision, err := s.router.Route(ctx, imageRef(req), req.Symptoms)
	if err != nil {
		return nil, err
	}

	bodyPart := decision.BodyPart
	switch bodyPart {
	case pipeline.BodyPartHand, pipeline.BodyPartLeg, pipeline.BodyPartUnknown:
	default:
		bodyPart = pipeline.BodyPartUnknown
	}

	result := &pipeline.StageResult{
		BodyPart:   bodyPart,
		Confidence: decision.Confidence,
	}

	// Archive the inline upload so later stages and audits reference
	// the exact bytes the models saw. Failing to archive is not a
	// reason to fail the request.
	if s.store != nil && len(req.ImageData) > 0 {
		artifact, err := s.store.Put(ctx, artifacts.BucketRaw, req.ImageData, "png")
		if err == nil {
			result.Artifacts = map[string]string{"raw_image": artifact.ID}
		}
	}

	return result, nil
}

var _ pipeline.Stage = (*RouteStage)(nil)
