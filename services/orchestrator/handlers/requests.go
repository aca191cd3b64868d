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

	"github.com/gin-gonic/gin"

	"github.com/tanishka786/GDHS/services/pipeline"
)

// ListRequests returns snapshots of retained requests, newest first.
func ListRequests(engine *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		snapshots := engine.ListActive()
		c.JSON(http.StatusOK, gin.H{
			"requests": snapshots,
			"count":    len(snapshots),
		})
	}
}

// GetRequest returns one request's step graph, plus the assembled
// response once processing has finished.
func GetRequest(engine *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		snapshot, err := engine.Status(id)
		if err != nil {
			if errors.Is(err, pipeline.ErrRequestNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		payload := gin.H{"request": snapshot}
		if result, err := engine.Result(id); err == nil {
			payload["result"] = result
		}
		c.JSON(http.StatusOK, payload)
	}
}

// DeleteRequest removes a request's records and artifacts.
func DeleteRequest(engine *pipeline.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		result, err := engine.Cleanup(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, pipeline.ErrRequestNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "request not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"request_id":        id,
			"steps_removed":     result.StepsRemoved,
			"artifacts_removed": result.ArtifactsRemoved,
		})
	}
}

// GetAuditTrail returns recent telemetry events for a request.
func GetAuditTrail(trail *pipeline.AuditTrail) gin.HandlerFunc {
	return func(c *gin.Context) {
		if trail == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "audit trail disabled"})
			return
		}
		id := c.Param("id")
		events := trail.Events(id, 100)
		c.JSON(http.StatusOK, gin.H{
			"request_id": id,
			"events":     events,
			"count":      len(events),
		})
	}
}
