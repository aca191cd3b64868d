// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package middleware provides HTTP middleware for the triage service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header (or the X-API-Key header) and compares it against the
// configured service key in constant time.
//
// # Open Deployment Behavior
//
// When no API key is configured, all requests pass through. This keeps
// local single-user deployments friction-free; exposed deployments set
// GDHS_API_KEY.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// APIKeyMiddleware creates a Gin middleware that authenticates requests
// against a static service key.
//
// # Description
//
// Accepts the key via "Authorization: Bearer <key>" or "X-API-Key".
// An empty configured key disables authentication entirely.
//
// # Inputs
//
//   - key: The expected API key. Empty disables the check.
//
// # Outputs
//
//   - gin.HandlerFunc: Middleware function ready for use with Gin
//
// # Thread Safety
//
// Thread-safe. The returned middleware can be used concurrently.
func APIKeyMiddleware(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}

		presented := extractBearerToken(c)
		if presented == "" {
			presented = c.GetHeader("X-API-Key")
		}
		if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "unauthorized",
			})
			return
		}
		c.Next()
	}
}

// extractBearerToken extracts the token from the Authorization header.
//
// Parses the header expecting "Bearer <token>"; the prefix is
// case-insensitive per RFC 7235. Returns empty string if the header is
// missing or malformed.
func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
