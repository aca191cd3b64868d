// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy centralizes every tunable the triage pipeline consults:
// step timeouts, retry behavior, detection thresholds, and triage level
// patterns. No step may carry hardcoded limits; everything flows from a
// Config resolved through the Registry at request start.
//
// Configs are immutable once built. Per-request overrides produce a new
// Config; they never mutate the shared defaults. Every Config carries a
// short deterministic hash so results can name the exact configuration
// that produced them.
package policy

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Step identifies a pipeline step in the policy table. The pipeline
// package reuses this type for its step graph keys.
type Step string

const (
	StepValidate   Step = "VALIDATE"
	StepRoute      Step = "ROUTE"
	StepDetectHand Step = "DETECT_HAND"
	StepDetectLeg  Step = "DETECT_LEG"
	StepTriage     Step = "TRIAGE"
	StepDiagnose   Step = "DIAGNOSE"
	StepReport     Step = "REPORT"
	StepHospitals  Step = "HOSPITALS"
)

// KnownSteps lists every step in pipeline order.
var KnownSteps = []Step{
	StepValidate,
	StepRoute,
	StepDetectHand,
	StepDetectLeg,
	StepTriage,
	StepDiagnose,
	StepReport,
	StepHospitals,
}

// RetryPolicy controls whether and how a step is retried after failure.
type RetryPolicy string

const (
	// RetryNever disables retries.
	RetryNever RetryPolicy = "NEVER"

	// RetryOnce allows a single retry regardless of failure kind.
	RetryOnce RetryPolicy = "ONCE"

	// RetryExponential allows retries with growing backoff, but only
	// for transient failure kinds (timeouts, connection errors,
	// rate limits).
	RetryExponential RetryPolicy = "EXPONENTIAL"
)

// UnmarshalYAML validates retry policy values at load time.
func (r *RetryPolicy) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	incoming := RetryPolicy(s)
	switch incoming {
	case RetryNever, RetryOnce, RetryExponential:
		*r = incoming
		return nil
	default:
		return fmt.Errorf("invalid value for retry policy: %q", incoming)
	}
}

// StepPolicy is the per-step execution budget.
type StepPolicy struct {
	// TimeoutSeconds is the wall-clock budget for a single attempt.
	TimeoutSeconds float64 `yaml:"timeout_seconds" json:"timeout_seconds"`

	// Retry selects the retry behavior after a failed attempt.
	Retry RetryPolicy `yaml:"retry" json:"retry"`

	// MaxRetries caps retry attempts (not counting the first attempt).
	MaxRetries int `yaml:"max_retries" json:"max_retries"`

	// Fatal marks steps whose failure aborts the whole request.
	Fatal bool `yaml:"fatal" json:"fatal"`

	// Skippable marks steps that may be skipped with a recorded reason.
	Skippable bool `yaml:"skippable" json:"skippable"`
}

// Timeout returns the attempt budget as a duration.
func (p StepPolicy) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds * float64(time.Second))
}

// transientKinds are the failure kinds RetryExponential considers
// retryable. Matching is case-insensitive substring.
var transientKinds = []string{"timeout", "connection", "temporary", "rate_limit"}

// isTransientKind reports whether an error kind names a transient failure.
func isTransientKind(kind string) bool {
	lower := strings.ToLower(kind)
	for _, t := range transientKinds {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Config is an immutable policy snapshot. Build one via Default() or
// ApplyOverrides(); never modify fields after construction.
type Config struct {
	// Version tags the policy schema and participates in the hash.
	Version string

	// RouterThreshold is the minimum routing confidence below which a
	// classification counts as low-confidence.
	RouterThreshold float64

	// DetectorScoreMin filters out detections scored below it.
	DetectorScoreMin float64

	// NMSIoU is the IoU threshold for detector non-max suppression.
	NMSIoU float64

	// TriageRedThreshold is the minimum urgency score for RED.
	TriageRedThreshold float64

	// TriageAmberThreshold is the minimum urgency score for AMBER.
	TriageAmberThreshold float64

	// HighConfidenceThreshold marks detections confident enough to
	// state without hedging.
	HighConfidenceThreshold float64

	// RedPatterns, AmberPatterns, and GreenPatterns are label fragments
	// used to tag rationale lines by level. They participate in the
	// config hash.
	RedPatterns   []string
	AmberPatterns []string
	GreenPatterns []string

	// Steps is the per-step execution policy table.
	Steps map[Step]StepPolicy

	hash string
}

// Hash returns the 16-hex-character configuration fingerprint.
func (c *Config) Hash() string {
	return c.hash
}

// StepPolicy returns the policy for a step. Steps missing from the table
// get a conservative default: 30s, no retries, non-fatal, skippable.
func (c *Config) StepPolicy(step Step) StepPolicy {
	if p, ok := c.Steps[step]; ok {
		return p
	}
	return StepPolicy{
		TimeoutSeconds: 30,
		Retry:          RetryNever,
		Skippable:      true,
	}
}

// StepTimeout returns the attempt budget for a step.
func (c *Config) StepTimeout(step Step) time.Duration {
	return c.StepPolicy(step).Timeout()
}

// IsFatal reports whether a step failure aborts the request.
func (c *Config) IsFatal(step Step) bool {
	return c.StepPolicy(step).Fatal
}

// CanSkip reports whether a step may be skipped.
func (c *Config) CanSkip(step Step) bool {
	return c.StepPolicy(step).Skippable
}

// ShouldRetry decides whether a failed step attempt is retried.
//
// Triage is never retried: its kernel cannot fail, so a triage error is
// an orchestration bug and repeating it would not help. Otherwise the
// step's retry policy applies: ONCE retries any failure exactly once,
// EXPONENTIAL retries only transient kinds up to MaxRetries.
func (c *Config) ShouldRetry(step Step, errorKind string, retryCount int) bool {
	if step == StepTriage {
		return false
	}
	p := c.StepPolicy(step)
	if p.Retry == RetryNever || retryCount >= p.MaxRetries {
		return false
	}
	switch p.Retry {
	case RetryOnce:
		return retryCount == 0
	case RetryExponential:
		return isTransientKind(errorKind)
	default:
		return false
	}
}

// RetryBackoff returns how long to wait before the next attempt. The
// floor is half a second; exponential policies double it per retry.
func (c *Config) RetryBackoff(step Step, retryCount int) time.Duration {
	const base = 500 * time.Millisecond
	if c.StepPolicy(step).Retry == RetryExponential {
		return base << uint(retryCount)
	}
	return base
}

// clone returns a deep copy of the Config with an empty hash. Used by
// ApplyOverrides before mutation.
func (c *Config) clone() *Config {
	out := *c
	out.hash = ""
	out.RedPatterns = append([]string(nil), c.RedPatterns...)
	out.AmberPatterns = append([]string(nil), c.AmberPatterns...)
	out.GreenPatterns = append([]string(nil), c.GreenPatterns...)
	out.Steps = make(map[Step]StepPolicy, len(c.Steps))
	for k, v := range c.Steps {
		out.Steps[k] = v
	}
	return &out
}
