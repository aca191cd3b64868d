// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tanishka786/GDHS/services/artifacts"
)

// defaultSignedURLTTL is the lifetime of freshly minted download links.
const defaultSignedURLTTL = 15 * time.Minute

// GetFile streams an artifact's content.
//
// # Description
//
// Requires a valid signed token in the "token" query parameter; content
// is served with the stored content type. Integrity failures surface as
// 500, missing artifacts as 404, bad tokens as 401.
func GetFile(store artifacts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		token := c.Query("token")
		if !store.VerifyToken(id, token) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
			return
		}

		content, meta, err := store.Get(c.Request.Context(), id)
		if err != nil {
			switch {
			case errors.Is(err, artifacts.ErrNotFound):
				c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
			case errors.Is(err, artifacts.ErrIntegrity):
				c.JSON(http.StatusInternalServerError, gin.H{"error": "artifact failed integrity check"})
			default:
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			}
			return
		}

		c.Header("Cache-Control", "private, no-store")
		c.Data(http.StatusOK, meta.ContentType, content)
	}
}

// SignFile mints a fresh signed download URL for an artifact.
func SignFile(store artifacts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, err := store.Stat(c.Request.Context(), id); err != nil {
			if errors.Is(err, artifacts.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "artifact not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		url, err := store.SignedURL(id, defaultSignedURLTTL)
		if err != nil {
			if errors.Is(err, artifacts.ErrSigningDisabled) {
				c.JSON(http.StatusNotImplemented, gin.H{"error": "artifact signing is not configured"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"artifact_id": id,
			"url":         url,
			"expires_in":  int(defaultSignedURLTTL.Seconds()),
		})
	}
}

// GetArtifactStats reports bucket counts and stored bytes.
func GetArtifactStats(store artifacts.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := store.Stats(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}
