// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// ============================================================================
// Test Setup
// ============================================================================

func init() {
	// Set Gin to test mode to reduce noise in test output
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, apiKey string) *gin.Engine {
	t.Helper()

	defaults, err := policy.Default()
	require.NoError(t, err)

	store, err := artifacts.Open(artifacts.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine, err := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{},
		pipeline.NewStageRegistry(), policy.NewRegistry(defaults), store)
	require.NoError(t, err)

	router := gin.New()
	SetupRoutes(router, Deps{
		Engine:     engine,
		Store:      store,
		Trail:      pipeline.NewAuditTrail(),
		ConfigHash: defaults.Hash(),
		Steps:      []pipeline.StepName{policy.StepValidate, policy.StepTriage},
		APIKey:     apiKey,
	})
	return router
}

// ============================================================================
// Route Table Tests
// ============================================================================

func TestSetupRoutes_RegistersCoreRoutes(t *testing.T) {
	router := newTestRouter(t, "")

	expected := []struct {
		method string
		path   string
	}{
		{"GET", "/health"},
		{"GET", "/metrics"},
		{"GET", "/api/v1/files/:id"},
		{"POST", "/api/v1/analyze"},
		{"GET", "/api/v1/requests"},
		{"GET", "/api/v1/requests/:id"},
		{"GET", "/api/v1/requests/:id/audit"},
		{"DELETE", "/api/v1/requests/:id"},
		{"GET", "/api/v1/artifacts/stats"},
		{"POST", "/api/v1/artifacts/:id/sign"},
	}

	registered := router.Routes()
	for _, want := range expected {
		found := false
		for _, r := range registered {
			if r.Method == want.method && r.Path == want.path {
				found = true
				break
			}
		}
		assert.True(t, found, "route %s %s should be registered", want.method, want.path)
	}
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["config_hash"])
	assert.Equal(t, float64(0), body["active_requests"])
}

// ============================================================================
// Authentication Boundary Tests
// ============================================================================

func TestAPIGroupRequiresKey(t *testing.T) {
	router := newTestRouter(t, "service-key")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/requests", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest("GET", "/api/v1/requests", nil)
	req.Header.Set("X-API-Key", "service-key")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHealthAndMetricsStayOpen(t *testing.T) {
	router := newTestRouter(t, "service-key")

	for _, path := range []string{"/health", "/metrics"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, w.Code, "%s should not require the API key", path)
	}
}

func TestFilesEndpointUsesTokenNotAPIKey(t *testing.T) {
	router := newTestRouter(t, "service-key")

	// The file route sits outside the key group; a bad token is the
	// failure, not a missing API key.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/files/art-1?token=bogus", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "token")
}

func TestGetUnknownRequestReturns404(t *testing.T) {
	router := newTestRouter(t, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/requests/missing", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
}
