// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

// newTestService builds a service on the in-memory store with no model
// endpoints configured. Metrics stay disabled so repeated constructions
// do not re-register Prometheus collectors.
func newTestService(t *testing.T, mutate func(*Config)) Service {
	t.Helper()

	cfg := Config{
		GinMode:       gin.TestMode,
		InMemoryStore: true,
		SigningSecret: "test-secret",
	}
	if mutate != nil {
		mutate(&cfg)
	}

	svc, err := New(cfg)
	require.NoError(t, err)
	return svc
}

// =============================================================================
// Config Tests
// =============================================================================

// TestApplyConfigDefaults_AllDefaults verifies default values are applied.
func TestApplyConfigDefaults_AllDefaults(t *testing.T) {
	result := applyConfigDefaults(Config{})

	assert.Equal(t, 8080, result.Port, "default port should be 8080")
	assert.Equal(t, "./data/artifacts", result.DataDir)
	assert.Equal(t, 60*time.Second, result.ClientTimeout)
	assert.Equal(t, int64(8), result.MaxConcurrent)
	assert.Equal(t, 15*time.Minute, result.CleanupInterval)
	assert.Equal(t, time.Hour, result.RetentionPeriod)
}

// TestApplyConfigDefaults_PreservesCustomValues verifies custom values
// are not overwritten.
func TestApplyConfigDefaults_PreservesCustomValues(t *testing.T) {
	cfg := Config{
		Port:            9090,
		DataDir:         "/var/lib/gdhs",
		ClientTimeout:   5 * time.Second,
		MaxConcurrent:   2,
		RetentionPeriod: 10 * time.Minute,
	}

	result := applyConfigDefaults(cfg)

	assert.Equal(t, 9090, result.Port)
	assert.Equal(t, "/var/lib/gdhs", result.DataDir)
	assert.Equal(t, 5*time.Second, result.ClientTimeout)
	assert.Equal(t, int64(2), result.MaxConcurrent)
	assert.Equal(t, 10*time.Minute, result.RetentionPeriod)
}

// =============================================================================
// Service Construction Tests
// =============================================================================

func TestNew_BuildsRunnableService(t *testing.T) {
	svc := newTestService(t, nil)

	require.NotNil(t, svc.Router())

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["config_hash"])

	// VALIDATE and TRIAGE run locally and are always registered, even
	// with no model endpoints configured.
	steps, ok := body["steps"].([]any)
	require.True(t, ok)
	assert.Contains(t, steps, "VALIDATE")
	assert.Contains(t, steps, "TRIAGE")
	assert.NotContains(t, steps, "ROUTE")
}

// =============================================================================
// HTTP Surface Tests
// =============================================================================

func TestAnalyze_RejectsRequestWithoutImage(t *testing.T) {
	svc := newTestService(t, nil)

	req := httptest.NewRequest("POST", "/api/v1/analyze",
		strings.NewReader(`{"symptoms": "wrist pain"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	// Admission succeeds; validation fails inside the pipeline, so the
	// terminal state rides a 200 response.
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "failed", body["status"])
	assert.NotEmpty(t, body["error"])
}

func TestAnalyze_RejectsUnknownMode(t *testing.T) {
	svc := newTestService(t, nil)

	req := httptest.NewRequest("POST", "/api/v1/analyze",
		strings.NewReader(`{"image_url": "https://example.com/x.png", "mode": "TURBO"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAnalyze_RejectsInvalidOverrides(t *testing.T) {
	svc := newTestService(t, nil)

	payload := `{
		"image_url": "https://example.com/x.png",
		"mode": "ADVANCED",
		"overrides": {"router_threshold": 2.5, "max_retries": 99}
	}`
	req := httptest.NewRequest("POST", "/api/v1/analyze", strings.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	problems, ok := body["problems"].([]any)
	require.True(t, ok, "override rejections should list individual problems")
	assert.Len(t, problems, 2)
}

func TestAnalyze_FailsWhenRouterUnconfigured(t *testing.T) {
	svc := newTestService(t, nil)

	req := httptest.NewRequest("POST", "/api/v1/analyze",
		strings.NewReader(`{"image_url": "https://example.com/x.png", "symptoms": "fell on hand"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	// Routing is fatal and has no registered handler here.
	assert.Equal(t, "failed", body["status"])
	assert.NotEmpty(t, body["request_id"])
}

func TestAPIKeyEnforcedWhenConfigured(t *testing.T) {
	svc := newTestService(t, func(cfg *Config) {
		cfg.APIKey = "service-key"
	})

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/requests", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/v1/requests", nil)
	req.Header.Set("Authorization", "Bearer service-key")
	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestFileDownloadRequiresSignedToken(t *testing.T) {
	svc := newTestService(t, nil)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/files/art-1", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestArtifactStatsEndpoint(t *testing.T) {
	svc := newTestService(t, nil)

	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/artifacts/stats", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Contains(t, body, "counts")
	assert.Contains(t, body, "total_bytes")
}

func TestAuditTrailEndpoint(t *testing.T) {
	svc := newTestService(t, nil)

	// Run a request through to populate the trail.
	req := httptest.NewRequest("POST", "/api/v1/analyze",
		strings.NewReader(`{"request_id": "req-audit", "image_url": "https://example.com/x.png"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	svc.Router().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	svc.Router().ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/requests/req-audit/audit", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	events, ok := body["events"].([]any)
	require.True(t, ok)
	assert.NotEmpty(t, events)
}
