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
	"sort"
	"strings"

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// DetectStage runs one body part's fracture detector, filters its raw
// output by the policy score floor, suppresses overlapping boxes, and
// archives both the findings and the annotated image.
type DetectStage struct {
	detector Detector
	store    artifacts.Store
	label    string
}

// NewDetectStage creates a detector stage. The label prefixes artifact
// names, e.g. "hand" yields "hand_detections" and "hand_annotated".
func NewDetectStage(detector Detector, store artifacts.Store, label string) *DetectStage {
	return &DetectStage{detector: detector, store: store, label: strings.ToLower(label)}
}

func (s *DetectStage) Execute(ctx context.Context, req *pipeline.Request, view pipeline.GraphView, cfg *policy.Config) (*pipeline.StageResult, error) {
	output, err := s.detector.Detect(ctx, imageRef(req))
	if err != nil {
		return nil, err
	}

	detections := filterByScore(output.Detections, cfg.DetectorScoreMin)
	detections = suppressOverlaps(detections, cfg.NMSIoU)

	result := &pipeline.StageResult{
		Detections:  detections,
		Confidence:  detectionConfidence(detections),
		InferenceMS: output.InferenceMS,
		Artifacts:   map[string]string{},
	}

	if s.store != nil {
		if payload, err := json.Marshal(detections); err == nil {
			if artifact, err := s.store.Put(ctx, artifacts.BucketManifests, payload, "json"); err == nil {
				result.Artifacts[s.label+"_detections"] = artifact.ID
			}
		}
		if len(output.AnnotatedImage) > 0 {
			if artifact, err := s.store.Put(ctx, artifacts.BucketAnnotated, output.AnnotatedImage, "png"); err == nil {
				result.Artifacts[s.label+"_annotated"] = artifact.ID
			}
		}
	}

	return result, nil
}

// filterByScore drops detections below the policy score floor.
func filterByScore(detections []pipeline.Detection, min float64) []pipeline.Detection {
	out := make([]pipeline.Detection, 0, len(detections))
	for _, d := range detections {
		if d.Score >= min {
			out = append(out, d)
		}
	}
	return out
}

// suppressOverlaps is greedy non-maximum suppression: keep the highest
// scoring detection, drop any remaining detection whose box overlaps it
// above the IoU threshold, repeat. Detections without a full box are
// never suppressed.
func suppressOverlaps(detections []pipeline.Detection, iouThreshold float64) []pipeline.Detection {
	if len(detections) < 2 {
		return detections
	}

	sorted := append([]pipeline.Detection(nil), detections...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var kept []pipeline.Detection
	for _, candidate := range sorted {
		suppressed := false
		for _, k := range kept {
			if iou(candidate.Box, k.Box) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, candidate)
		}
	}
	return kept
}

// iou computes intersection over union for two [x1, y1, x2, y2] boxes.
// Malformed boxes yield 0, so they never trigger suppression.
func iou(a, b []float64) float64 {
	if len(a) != 4 || len(b) != 4 {
		return 0
	}
	ix1 := max64(a[0], b[0])
	iy1 := max64(a[1], b[1])
	ix2 := min64(a[2], b[2])
	iy2 := min64(a[3], b[3])

	iw := ix2 - ix1
	ih := iy2 - iy1
	if iw <= 0 || ih <= 0 {
		return 0
	}
	intersection := iw * ih
	areaA := (a[2] - a[0]) * (a[3] - a[1])
	areaB := (b[2] - b[0]) * (b[3] - b[1])
	union := areaA + areaB - intersection
	if union <= 0 {
		return 0
	}
	return intersection / union
}

// detectionConfidence reports (max+avg)/2 over detection scores, or 0.8
// for a clean image: an empty result from a healthy detector is a
// fairly confident negative.
func detectionConfidence(detections []pipeline.Detection) float64 {
	if len(detections) == 0 {
		return 0.8
	}
	var sum, maxScore float64
	for _, d := range detections {
		sum += d.Score
		if d.Score > maxScore {
			maxScore = d.Score
		}
	}
	avg := sum / float64(len(detections))
	return (maxScore + avg) / 2
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

var _ pipeline.Stage = (*DetectStage)(nil)
