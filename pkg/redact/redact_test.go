// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package redact

import "testing"

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{
		"password",
		"user_password",
		"API_KEY",
		"Patient_ID",
		"medical_record_number",
		"authToken",
		"home_address",
	}
	for _, key := range sensitive {
		if !IsSensitiveKey(key) {
			t.Errorf("expected %q to be sensitive", key)
		}
	}

	benign := []string{"request_id", "body_part", "score", "duration_ms"}
	for _, key := range benign {
		if IsSensitiveKey(key) {
			t.Errorf("expected %q to be benign", key)
		}
	}
}

func TestMapRedactsNestedValues(t *testing.T) {
	in := map[string]any{
		"request_id": "req-1",
		"api_key":    "sk-live-12345",
		"context": map[string]any{
			"patient_id": "P-99",
			"symptoms":   "severe pain",
		},
		"attachments": []any{
			map[string]any{"phone": "555-0100", "label": "intake"},
		},
	}

	out := Map(in)

	if out["api_key"] != Placeholder {
		t.Errorf("api_key not redacted: %v", out["api_key"])
	}
	nested := out["context"].(map[string]any)
	if nested["patient_id"] != Placeholder {
		t.Errorf("nested patient_id not redacted: %v", nested["patient_id"])
	}
	if nested["symptoms"] != "severe pain" {
		t.Errorf("benign nested value modified: %v", nested["symptoms"])
	}
	item := out["attachments"].([]any)[0].(map[string]any)
	if item["phone"] != Placeholder {
		t.Errorf("slice element phone not redacted: %v", item["phone"])
	}
	if item["label"] != "intake" {
		t.Errorf("slice element label modified: %v", item["label"])
	}

	// Input must be untouched.
	if in["api_key"] != "sk-live-12345" {
		t.Error("input map was mutated")
	}
}

func TestMapNil(t *testing.T) {
	if Map(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

func TestArgs(t *testing.T) {
	args := []any{"request_id", "req-1", "auth_token", "abc", "score", 0.9}
	out := Args(args)

	if out[1] != "req-1" {
		t.Errorf("benign value modified: %v", out[1])
	}
	if out[3] != Placeholder {
		t.Errorf("auth_token value not redacted: %v", out[3])
	}
	if out[5] != 0.9 {
		t.Errorf("trailing value modified: %v", out[5])
	}
	if args[3] != "abc" {
		t.Error("input slice was mutated")
	}
}
