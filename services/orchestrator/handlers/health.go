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
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanishka786/GDHS/services/pipeline"
)

// Version is the service version reported by /health. Overridden at
// build time via -ldflags.
var Version = "dev"

// HealthCheck reports service liveness, the bound policy fingerprint,
// and which pipeline steps have registered handlers.
func HealthCheck(engine *pipeline.Orchestrator, configHash string, steps []pipeline.StepName) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":          "ok",
			"version":         Version,
			"config_hash":     configHash,
			"steps":           steps,
			"active_requests": engine.ActiveCount(),
		})
	}
}
