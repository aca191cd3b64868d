// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"fmt"
	"strings"

	"github.com/tanishka786/GDHS/services/policy"
)

// Disclaimer accompanies every triage assessment surfaced to users.
const Disclaimer = "Automated assessment only. Not a medical diagnosis; seek professional evaluation for any injury."

// severeSymptomKeywords escalate urgency when found in the symptom text.
// Matching is case-insensitive substring.
var severeSymptomKeywords = []string{
	"severe pain",
	"intense pain",
	"unbearable",
	"excruciating",
	"deformity",
	"bone visible",
	"bleeding",
	"numbness",
	"tingling",
	"can't move",
	"unable to bear weight",
}

// moderateSymptomKeywords inform rationale only; they never change the
// score.
var moderateSymptomKeywords = []string{
	"swelling",
	"bruising",
	"tender",
	"stiffness",
	"difficulty moving",
}

// severityTiers maps label fragments to severity weights, checked from
// most to least severe. Negative findings are matched last, so a label
// naming a critical finding always takes the critical weight.
var severityTiers = []struct {
	fragments []string
	weight    float64
}{
	{[]string{"compound", "open", "severe", "displaced", "comminuted", "avulsion"}, 0.30},
	{[]string{"fracture detected", "break", "crack", "confirmed fracture"}, 0.20},
	{[]string{"likely fracture", "probable fracture", "suspected fracture"}, 0.10},
	{[]string{"possible fracture", "minor", "hairline", "stress"}, 0.05},
	{[]string{"no fractures", "no fracture", "normal", "clear", "negative"}, 0.00},
}

// defaultSeverity applies to labels matching no tier.
const defaultSeverity = 0.10

// severityWeight returns the severity contribution for a detection label.
func severityWeight(label string) float64 {
	lower := strings.ToLower(label)
	for _, tier := range severityTiers {
		for _, fragment := range tier.fragments {
			if strings.Contains(lower, fragment) {
				return tier.weight
			}
		}
	}
	return defaultSeverity
}

// HasSevereSymptoms reports whether the symptom text contains any
// escalation keyword.
func HasSevereSymptoms(symptoms string) bool {
	return containsAny(symptoms, severeSymptomKeywords)
}

// HasModerateSymptoms reports whether the symptom text mentions any
// moderate finding.
func HasModerateSymptoms(symptoms string) bool {
	return containsAny(symptoms, moderateSymptomKeywords)
}

func containsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, kw := range keywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// recommendationsFor returns next-step guidance per level.
func recommendationsFor(level TriageLevel) []string {
	switch level {
	case TriageRed:
		return []string{
			"Seek emergency care immediately",
			"Immobilize the affected limb",
			"Do not bear weight on the injury",
		}
	case TriageAmber:
		return []string{
			"Schedule clinical evaluation within 24 hours",
			"Apply ice and immobilize as a precaution",
			"Monitor for worsening pain or swelling",
		}
	default:
		return []string{
			"Monitor symptoms",
			"Follow up with primary care if pain persists",
		}
	}
}

// priorityFor maps a level to dispatch priority.
func priorityFor(level TriageLevel) string {
	switch level {
	case TriageRed:
		return "immediate"
	case TriageAmber:
		return "urgent"
	default:
		return "routine"
	}
}

// FallbackTriage is the assessment returned when triage cannot run. It
// deliberately lands on AMBER: erring toward evaluation is safer than
// silently reporting GREEN on a broken pipeline.
func FallbackTriage() *TriageResult {
	return &TriageResult{
		Level:           TriageAmber,
		Score:           0.5,
		Confidence:      0.0,
		Method:          "error_fallback",
		Rationale:       []string{"Triage assessment unavailable, recommend medical evaluation"},
		Recommendations: recommendationsFor(TriageAmber),
		Priority:        priorityFor(TriageAmber),
		Partial:         true,
	}
}

// Assess computes the urgency level for a set of detections and symptom
// text under the given policy config.
//
// The function is pure and deterministic: same inputs and config, same
// result. It never fails; any internal panic degrades to the AMBER
// fallback assessment.
//
// Scoring: each detection contributes 0.7*score + 0.3*severity(label);
// the maximum contribution drives the urgency score (ties broken by
// higher raw score, then earlier detection). Severe symptoms add a 0.10
// bonus (0.30 when there are no detections at all), capped at 1.0. The
// reported confidence is the highest raw detection score, or 0.8 for a
// clean image.
func Assess(detections []Detection, symptoms string, cfg *policy.Config) (result *TriageResult) {
	defer func() {
		if r := recover(); r != nil {
			result = FallbackTriage()
		}
	}()

	severe := HasSevereSymptoms(symptoms)

	var score, confidence float64
	var rationale []string

	if len(detections) == 0 {
		confidence = 0.8
		rationale = append(rationale, "No fractures detected")
		if severe {
			score = 0.30
			rationale = append(rationale, "Concerning symptoms reported")
		} else if HasModerateSymptoms(symptoms) {
			rationale = append(rationale, "Moderate symptoms reported")
		}
	} else {
		best := 0
		bestContribution := contribution(detections[0])
		for i := 1; i < len(detections); i++ {
			c := contribution(detections[i])
			if c > bestContribution || (c == bestContribution && detections[i].Score > detections[best].Score) {
				best = i
				bestContribution = c
			}
		}
		score = bestContribution

		for _, d := range detections {
			if d.Score > confidence {
				confidence = d.Score
			}
		}

		primary := detections[best]
		if primary.Score >= cfg.HighConfidenceThreshold {
			rationale = append(rationale, fmt.Sprintf("%s (confidence: %.2f)", primary.Label, primary.Score))
		} else {
			rationale = append(rationale, fmt.Sprintf("Possible %s (confidence: %.2f)", strings.ToLower(primary.Label), primary.Score))
		}
		if len(detections) > 1 {
			rationale = append(rationale, fmt.Sprintf("%d findings evaluated", len(detections)))
		}
		if severe {
			score += 0.10
			rationale = append(rationale, "Concerning symptoms reported")
		}
		if pattern, ok := matchPattern(primary.Label, cfg.RedPatterns); ok {
			rationale = append(rationale, fmt.Sprintf("Finding matches escalation pattern %q", pattern))
		}
	}

	if score > 1.0 {
		score = 1.0
	}

	level := TriageGreen
	switch {
	case score >= cfg.TriageRedThreshold:
		level = TriageRed
	case score >= cfg.TriageAmberThreshold:
		level = TriageAmber
	}

	return &TriageResult{
		Level:           level,
		Score:           score,
		Confidence:      confidence,
		Method:          "dynamic_scoring",
		Rationale:       rationale,
		Recommendations: recommendationsFor(level),
		Priority:        priorityFor(level),
	}
}

// contribution weights a detection's raw score against its label
// severity.
func contribution(d Detection) float64 {
	return 0.7*d.Score + 0.3*severityWeight(d.Label)
}

// matchPattern returns the first configured pattern contained in label.
func matchPattern(label string, patterns []string) (string, bool) {
	lower := strings.ToLower(label)
	for _, p := range patterns {
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
