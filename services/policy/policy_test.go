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
	"errors"
	"testing"
	"time"
)

func mustDefault(t *testing.T) *Config {
	t.Helper()
	cfg, err := Default()
	if err != nil {
		t.Fatalf("Default: %v", err)
	}
	return cfg
}

func TestDefaultLoadsEmbeddedTable(t *testing.T) {
	cfg := mustDefault(t)

	if cfg.RouterThreshold != 0.70 {
		t.Errorf("router threshold = %v, want 0.70", cfg.RouterThreshold)
	}
	if cfg.DetectorScoreMin != 0.35 {
		t.Errorf("detector score min = %v, want 0.35", cfg.DetectorScoreMin)
	}
	if cfg.TriageRedThreshold != 0.75 || cfg.TriageAmberThreshold != 0.40 {
		t.Errorf("triage cutoffs = %v/%v, want 0.75/0.40", cfg.TriageRedThreshold, cfg.TriageAmberThreshold)
	}

	validate := cfg.StepPolicy(StepValidate)
	if validate.Timeout() != 5*time.Second || validate.Retry != RetryNever || !validate.Fatal {
		t.Errorf("VALIDATE policy unexpected: %+v", validate)
	}
	detect := cfg.StepPolicy(StepDetectHand)
	if detect.Timeout() != 12*time.Second || detect.Retry != RetryOnce || detect.MaxRetries != 1 || !detect.Skippable {
		t.Errorf("DETECT_HAND policy unexpected: %+v", detect)
	}
	if len(cfg.Hash()) != 16 {
		t.Errorf("hash %q is not 16 chars", cfg.Hash())
	}
}

func TestHashDeterministicAndSensitive(t *testing.T) {
	a := mustDefault(t)
	b := mustDefault(t)
	if a.Hash() != b.Hash() {
		t.Errorf("identical configs hash differently: %s vs %s", a.Hash(), b.Hash())
	}

	derived, err := ApplyOverrides(a, map[string]any{OverrideRouterThreshold: 0.9})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if derived.Hash() == a.Hash() {
		t.Error("changed threshold did not change hash")
	}
}

func TestShouldRetry(t *testing.T) {
	cfg := mustDefault(t)

	tests := []struct {
		name       string
		step       Step
		errorKind  string
		retryCount int
		want       bool
	}{
		{"validate never retries", StepValidate, "internal", 0, false},
		{"route retries once", StepRoute, "connection", 0, true},
		{"route exhausted", StepRoute, "connection", 1, false},
		{"detect retries once on timeout", StepDetectHand, "timeout", 0, true},
		{"detect retries once on internal", StepDetectHand, "internal", 0, true},
		{"detect exhausted", StepDetectHand, "timeout", 1, false},
		{"triage never retries", StepTriage, "timeout", 0, false},
		{"hospitals retries", StepHospitals, "rate_limit", 0, true},
	}
	for _, tt := range tests {
		if got := cfg.ShouldRetry(tt.step, tt.errorKind, tt.retryCount); got != tt.want {
			t.Errorf("%s: ShouldRetry = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestShouldRetryExponentialTransientOnly(t *testing.T) {
	cfg := mustDefault(t)
	cfg = cfg.clone()
	p := cfg.Steps[StepDiagnose]
	p.Retry = RetryExponential
	p.MaxRetries = 3
	cfg.Steps[StepDiagnose] = p

	transient := []string{"timeout", "CONNECTION", "temporary_failure", "rate_limit_exceeded"}
	for _, kind := range transient {
		if !cfg.ShouldRetry(StepDiagnose, kind, 1) {
			t.Errorf("expected retry for transient kind %q", kind)
		}
	}
	for _, kind := range []string{"invalid_input", "internal", "unavailable"} {
		if cfg.ShouldRetry(StepDiagnose, kind, 1) {
			t.Errorf("expected no retry for kind %q", kind)
		}
	}
	if cfg.ShouldRetry(StepDiagnose, "timeout", 3) {
		t.Error("expected no retry past max_retries")
	}
}

func TestRetryBackoff(t *testing.T) {
	cfg := mustDefault(t)
	if d := cfg.RetryBackoff(StepRoute, 0); d < 500*time.Millisecond {
		t.Errorf("backoff %v below half-second floor", d)
	}

	cfg = cfg.clone()
	p := cfg.Steps[StepRoute]
	p.Retry = RetryExponential
	cfg.Steps[StepRoute] = p
	if d := cfg.RetryBackoff(StepRoute, 2); d != 2*time.Second {
		t.Errorf("exponential backoff at retry 2 = %v, want 2s", d)
	}
}

func TestValidateOverridesRejectsBadInput(t *testing.T) {
	cases := map[string]map[string]any{
		"unknown key":          {"router_treshold": 0.5},
		"threshold over 1":     {OverrideRouterThreshold: 1.5},
		"threshold wrong type": {OverrideNMSIoU: "high"},
		"negative retries":     {OverrideMaxRetries: -1},
		"retries over cap":     {OverrideMaxRetries: 9},
		"fractional retries":   {OverrideMaxRetries: 1.5},
		"bad timeout step":     {OverrideTimeouts: map[string]any{"upload": 5}},
		"timeout not number":   {OverrideTimeouts: map[string]any{"route": "fast"}},
		"timeout zero":         {OverrideTimeouts: map[string]any{"route": 0}},
		"empty pattern":        {OverrideTriageRedPatterns: []any{"compound", " "}},
		"pattern wrong type":   {OverrideTriageRedPatterns: []any{"compound", 3}},
	}
	for name, overrides := range cases {
		err := ValidateOverrides(overrides)
		var oe *OverrideError
		if !errors.As(err, &oe) {
			t.Errorf("%s: expected OverrideError, got %v", name, err)
		}
	}
}

func TestValidateOverridesCollectsAllProblems(t *testing.T) {
	err := ValidateOverrides(map[string]any{
		OverrideRouterThreshold: 2.0,
		OverrideMaxRetries:      99,
		"bogus":                 true,
	})
	var oe *OverrideError
	if !errors.As(err, &oe) {
		t.Fatalf("expected OverrideError, got %v", err)
	}
	if len(oe.Problems) != 3 {
		t.Errorf("expected 3 problems, got %d: %v", len(oe.Problems), oe.Problems)
	}
}

func TestApplyOverridesDoesNotMutateBase(t *testing.T) {
	base := mustDefault(t)
	baseHash := base.Hash()

	derived, err := ApplyOverrides(base, map[string]any{
		OverrideRouterThreshold: 0.9,
		OverrideMaxRetries:      3,
		OverrideTimeouts:        map[string]any{"detect": 30},
	})
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}

	if base.RouterThreshold != 0.70 || base.Hash() != baseHash {
		t.Error("base config was mutated")
	}
	if base.Steps[StepDetectHand].TimeoutSeconds != 12 {
		t.Error("base step table was mutated")
	}

	if derived.RouterThreshold != 0.9 {
		t.Errorf("derived router threshold = %v, want 0.9", derived.RouterThreshold)
	}
	// "detect" alias applies to both detectors.
	if derived.StepTimeout(StepDetectHand) != 30*time.Second {
		t.Errorf("DETECT_HAND timeout = %v, want 30s", derived.StepTimeout(StepDetectHand))
	}
	if derived.StepTimeout(StepDetectLeg) != 30*time.Second {
		t.Errorf("DETECT_LEG timeout = %v, want 30s", derived.StepTimeout(StepDetectLeg))
	}
	// max_retries applies to retryable steps only.
	if derived.Steps[StepRoute].MaxRetries != 3 {
		t.Errorf("ROUTE max retries = %d, want 3", derived.Steps[StepRoute].MaxRetries)
	}
	if derived.Steps[StepValidate].MaxRetries != 0 {
		t.Errorf("VALIDATE max retries = %d, want 0", derived.Steps[StepValidate].MaxRetries)
	}
}

func TestApplyOverridesEmptyReturnsBase(t *testing.T) {
	base := mustDefault(t)
	derived, err := ApplyOverrides(base, nil)
	if err != nil {
		t.Fatalf("ApplyOverrides: %v", err)
	}
	if derived != base {
		t.Error("expected base config back for empty overrides")
	}
}

func TestRegistryBindings(t *testing.T) {
	base := mustDefault(t)
	reg := NewRegistry(base)

	cfg, err := reg.ConfigFor("req-1", map[string]any{OverrideRouterThreshold: 0.95})
	if err != nil {
		t.Fatalf("ConfigFor: %v", err)
	}
	if reg.Get("req-1") != cfg {
		t.Error("binding not resolved for req-1")
	}
	if reg.Get("req-unknown") != base {
		t.Error("unknown request should resolve to defaults")
	}
	if reg.BindingCount() != 1 {
		t.Errorf("binding count = %d, want 1", reg.BindingCount())
	}

	reg.Release("req-1")
	if reg.Get("req-1") != base {
		t.Error("released binding should resolve to defaults")
	}
	if reg.BindingCount() != 0 {
		t.Errorf("binding count after release = %d, want 0", reg.BindingCount())
	}
}

func TestRegistryInvalidOverridesLeaveNoBinding(t *testing.T) {
	reg := NewRegistry(mustDefault(t))
	_, err := reg.ConfigFor("req-2", map[string]any{"bogus": 1})
	if err == nil {
		t.Fatal("expected error for invalid overrides")
	}
	if reg.BindingCount() != 0 {
		t.Errorf("binding count = %d, want 0", reg.BindingCount())
	}
}
