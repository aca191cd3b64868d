// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// computeHash fingerprints the semantic content of a Config.
//
// The payload is canonical JSON: encoding/json sorts map keys, so two
// configs with the same thresholds, patterns, and step table always
// produce the same digest regardless of construction order. The digest
// is truncated to 16 hex characters; collisions across the handful of
// configs alive in one deployment are not a concern.
func computeHash(c *Config) string {
	steps := make(map[string]any, len(c.Steps))
	for name, p := range c.Steps {
		steps[string(name)] = map[string]any{
			"timeout_seconds": p.TimeoutSeconds,
			"retry":           string(p.Retry),
			"max_retries":     p.MaxRetries,
			"fatal":           p.Fatal,
			"skippable":       p.Skippable,
		}
	}

	payload := map[string]any{
		"version": c.Version,
		"thresholds": map[string]any{
			"router_threshold":   c.RouterThreshold,
			"detector_score_min": c.DetectorScoreMin,
			"nms_iou":            c.NMSIoU,
			"triage_red":         c.TriageRedThreshold,
			"triage_amber":       c.TriageAmberThreshold,
			"high_confidence":    c.HighConfidenceThreshold,
		},
		"triage_patterns": map[string]any{
			"red":   c.RedPatterns,
			"amber": c.AmberPatterns,
			"green": c.GreenPatterns,
		},
		"step_policies": steps,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		// Payload is built from scalars and string slices only.
		panic("policy: hash payload not serializable: " + err.Error())
	}
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])[:16]
}
