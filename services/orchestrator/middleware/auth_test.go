// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

// =============================================================================
// Test Setup
// =============================================================================

func init() {
	gin.SetMode(gin.TestMode)
}

func newProtectedRouter(key string) *gin.Engine {
	router := gin.New()
	router.Use(APIKeyMiddleware(key))
	router.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"pong": true})
	})
	return router
}

// =============================================================================
// APIKeyMiddleware Tests
// =============================================================================

func TestAPIKeyMiddleware_EmptyKeyDisablesAuth(t *testing.T) {
	router := newProtectedRouter("")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddleware_AcceptsBearerToken(t *testing.T) {
	router := newProtectedRouter("secret-key")

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer secret-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddleware_AcceptsXAPIKeyHeader(t *testing.T) {
	router := newProtectedRouter("secret-key")

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddleware_RejectsMissingKey(t *testing.T) {
	router := newProtectedRouter("secret-key")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/ping", nil))

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "unauthorized")
}

func TestAPIKeyMiddleware_RejectsWrongKey(t *testing.T) {
	router := newProtectedRouter("secret-key")

	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyMiddleware_BearerTakesPrecedence(t *testing.T) {
	router := newProtectedRouter("secret-key")

	// A present but wrong bearer token is not rescued by a correct
	// X-API-Key header.
	req := httptest.NewRequest("GET", "/ping", nil)
	req.Header.Set("Authorization", "Bearer wrong-key")
	req.Header.Set("X-API-Key", "secret-key")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

// =============================================================================
// extractBearerToken Tests
// =============================================================================

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"valid token", "Bearer abc123", "abc123"},
		{"case insensitive prefix", "bearer abc123", "abc123"},
		{"missing header", "", ""},
		{"no prefix", "abc123", ""},
		{"wrong scheme", "Basic abc123", ""},
		{"whitespace trimmed", "Bearer   abc123", "abc123"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				c.Request.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(c))
		})
	}
}
