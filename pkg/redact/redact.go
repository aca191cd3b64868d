// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package redact scrubs sensitive values from telemetry and log payloads.
//
// Medical triage requests can carry credentials and protected health
// information. Anything keyed by a sensitive name is replaced with a
// placeholder before it reaches an audit trail, a log line, or a metrics
// label. Redaction is key-based: values are never inspected.
package redact

import "strings"

// Placeholder replaces values held under sensitive keys.
const Placeholder = "[REDACTED]"

// sensitiveKeys is the closed set of key fragments that trigger redaction.
// Matching is case-insensitive and substring-based, so "user_password" and
// "Patient_ID" are both caught.
var sensitiveKeys = []string{
	"password",
	"token",
	"api_key",
	"secret",
	"auth",
	"credential",
	"ssn",
	"patient_id",
	"medical_record_number",
	"dob",
	"phone",
	"email",
	"address",
}

// IsSensitiveKey reports whether a key must have its value redacted.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, fragment := range sensitiveKeys {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Map returns a deep copy of m with every value under a sensitive key
// replaced by Placeholder. Nested maps and slices are walked recursively.
// The input map is never modified. A nil input returns nil.
func Map(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitiveKey(k) {
			out[k] = Placeholder
			continue
		}
		out[k] = value(v)
	}
	return out
}

// value recursively redacts container values. Scalars pass through.
func value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return Map(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = value(item)
		}
		return out
	default:
		return v
	}
}

// Args redacts slog-style alternating key/value arguments. Keys that are
// not strings are passed through untouched along with their values.
func Args(args []any) []any {
	out := make([]any, len(args))
	copy(out, args)
	for i := 0; i < len(out)-1; i += 2 {
		key, ok := out[i].(string)
		if !ok {
			continue
		}
		if IsSensitiveKey(key) {
			out[i+1] = Placeholder
		}
	}
	return out
}
