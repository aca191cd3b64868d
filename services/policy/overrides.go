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
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Override keys accepted from advanced-mode requests. Anything else is
// rejected outright; silently ignoring unknown keys would hide typos in
// exactly the requests where operators are tuning behavior.
const (
	OverrideRouterThreshold       = "router_threshold"
	OverrideDetectorScoreMin      = "detector_score_min"
	OverrideNMSIoU                = "nms_iou"
	OverrideTriageRedThreshold    = "triage_red_threshold"
	OverrideTriageAmberThreshold  = "triage_amber_threshold"
	OverrideHighConfThreshold     = "triage_high_confidence_threshold"
	OverrideTriageRedPatterns     = "triage_red_patterns"
	OverrideTriageAmberPatterns   = "triage_amber_patterns"
	OverrideTriageGreenPatterns   = "triage_green_patterns"
	OverrideMaxRetries            = "max_retries"
	OverrideTimeouts              = "timeout_overrides"
)

var thresholdKeys = map[string]bool{
	OverrideRouterThreshold:      true,
	OverrideDetectorScoreMin:     true,
	OverrideNMSIoU:               true,
	OverrideTriageRedThreshold:   true,
	OverrideTriageAmberThreshold: true,
	OverrideHighConfThreshold:    true,
}

var patternKeys = map[string]bool{
	OverrideTriageRedPatterns:   true,
	OverrideTriageAmberPatterns: true,
	OverrideTriageGreenPatterns: true,
}

// timeoutTargets maps timeout_overrides keys to policy table steps.
// The "detect" alias fans out to both detectors.
var timeoutTargets = map[string][]Step{
	"validate":    {StepValidate},
	"route":       {StepRoute},
	"detect":      {StepDetectHand, StepDetectLeg},
	"detect_hand": {StepDetectHand},
	"detect_leg":  {StepDetectLeg},
	"triage":      {StepTriage},
	"diagnose":    {StepDiagnose},
	"report":      {StepReport},
	"hospitals":   {StepHospitals},
}

// maxRetriesCap bounds the max_retries override.
const maxRetriesCap = 5

// timeoutCapSeconds bounds per-step timeout overrides.
const timeoutCapSeconds = 300.0

var fieldValidator = validator.New()

// OverrideError reports every problem found in an override set at once,
// so callers can fix a request in a single round trip.
type OverrideError struct {
	Problems []string
}

func (e *OverrideError) Error() string {
	return "invalid policy overrides: " + strings.Join(e.Problems, "; ")
}

// ValidateOverrides checks an override set without applying it.
//
// Pure with respect to the receiver-less default config: no binding or
// state is touched. Returns nil when the set is acceptable, otherwise an
// *OverrideError listing every problem.
func ValidateOverrides(overrides map[string]any) error {
	var problems []string

	for key, value := range overrides {
		switch {
		case thresholdKeys[key]:
			f, ok := toFloat(value)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be a number", key))
				continue
			}
			if err := fieldValidator.Var(f, "gte=0,lte=1"); err != nil {
				problems = append(problems, fmt.Sprintf("%s must be between 0 and 1, got %v", key, value))
			}

		case patternKeys[key]:
			patterns, ok := toStringSlice(value)
			if !ok {
				problems = append(problems, fmt.Sprintf("%s must be a list of strings", key))
				continue
			}
			for _, p := range patterns {
				if strings.TrimSpace(p) == "" {
					problems = append(problems, fmt.Sprintf("%s contains an empty pattern", key))
					break
				}
			}

		case key == OverrideMaxRetries:
			n, ok := toInt(value)
			if !ok {
				problems = append(problems, "max_retries must be an integer")
				continue
			}
			if err := fieldValidator.Var(n, fmt.Sprintf("gte=0,lte=%d", maxRetriesCap)); err != nil {
				problems = append(problems, fmt.Sprintf("max_retries must be between 0 and %d, got %v", maxRetriesCap, value))
			}

		case key == OverrideTimeouts:
			timeouts, ok := value.(map[string]any)
			if !ok {
				problems = append(problems, "timeout_overrides must be a map of step name to seconds")
				continue
			}
			for step, raw := range timeouts {
				if _, known := timeoutTargets[strings.ToLower(step)]; !known {
					problems = append(problems, fmt.Sprintf("timeout_overrides: unknown step %q", step))
					continue
				}
				secs, ok := toFloat(raw)
				if !ok {
					problems = append(problems, fmt.Sprintf("timeout_overrides.%s must be a number", step))
					continue
				}
				if err := fieldValidator.Var(secs, fmt.Sprintf("gt=0,lte=%v", timeoutCapSeconds)); err != nil {
					problems = append(problems, fmt.Sprintf("timeout_overrides.%s must be in (0, %v] seconds, got %v", step, timeoutCapSeconds, raw))
				}
			}

		default:
			problems = append(problems, fmt.Sprintf("unknown override key %q", key))
		}
	}

	if len(problems) > 0 {
		return &OverrideError{Problems: problems}
	}
	return nil
}

// ApplyOverrides returns a new Config with the overrides applied on top
// of base. The base config is never modified. The returned config has a
// freshly computed hash.
func ApplyOverrides(base *Config, overrides map[string]any) (*Config, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	if err := ValidateOverrides(overrides); err != nil {
		return nil, err
	}

	cfg := base.clone()

	for key, value := range overrides {
		switch key {
		case OverrideRouterThreshold:
			cfg.RouterThreshold, _ = toFloat(value)
		case OverrideDetectorScoreMin:
			cfg.DetectorScoreMin, _ = toFloat(value)
		case OverrideNMSIoU:
			cfg.NMSIoU, _ = toFloat(value)
		case OverrideTriageRedThreshold:
			cfg.TriageRedThreshold, _ = toFloat(value)
		case OverrideTriageAmberThreshold:
			cfg.TriageAmberThreshold, _ = toFloat(value)
		case OverrideHighConfThreshold:
			cfg.HighConfidenceThreshold, _ = toFloat(value)
		case OverrideTriageRedPatterns:
			cfg.RedPatterns, _ = toStringSlice(value)
		case OverrideTriageAmberPatterns:
			cfg.AmberPatterns, _ = toStringSlice(value)
		case OverrideTriageGreenPatterns:
			cfg.GreenPatterns, _ = toStringSlice(value)
		case OverrideMaxRetries:
			n, _ := toInt(value)
			for step, p := range cfg.Steps {
				if p.Retry != RetryNever {
					p.MaxRetries = n
					cfg.Steps[step] = p
				}
			}
		case OverrideTimeouts:
			for step, raw := range value.(map[string]any) {
				secs, _ := toFloat(raw)
				for _, target := range timeoutTargets[strings.ToLower(step)] {
					p := cfg.Steps[target]
					p.TimeoutSeconds = secs
					cfg.Steps[target] = p
				}
			}
		}
	}

	cfg.hash = computeHash(cfg)
	return cfg, nil
}

// toFloat accepts the numeric types JSON and YAML decoding produce.
func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

// toInt accepts integers and whole-valued floats (JSON numbers decode as
// float64).
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		if t == float64(int(t)) {
			return int(t), true
		}
		return 0, false
	default:
		return 0, false
	}
}

// toStringSlice accepts []string and []any of strings.
func toStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return append([]string(nil), t...), true
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	default:
		return nil, false
	}
}
