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
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/orchestrator/handlers"
	"github.com/tanishka786/GDHS/services/orchestrator/middleware"
	"github.com/tanishka786/GDHS/services/orchestrator/observability"
	"github.com/tanishka786/GDHS/services/pipeline"
)

// Deps carries everything the route table needs.
type Deps struct {
	Engine     *pipeline.Orchestrator
	Store      artifacts.Store
	Trail      *pipeline.AuditTrail
	Metrics    *observability.PipelineMetrics
	ConfigHash string
	Steps      []pipeline.StepName

	// APIKey protects the API group when non-empty.
	APIKey string
}

// SetupRoutes registers the service's HTTP surface.
func SetupRoutes(router *gin.Engine, deps Deps) {
	router.GET("/health", handlers.HealthCheck(deps.Engine, deps.ConfigHash, deps.Steps))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Signed file downloads sit outside the API key group: the token
	// in the URL is the credential.
	router.GET("/api/v1/files/:id", handlers.GetFile(deps.Store))

	v1 := router.Group("/api/v1")
	v1.Use(middleware.APIKeyMiddleware(deps.APIKey))
	{
		v1.POST("/analyze", handlers.HandleAnalyze(deps.Engine, deps.Metrics))

		requests := v1.Group("/requests")
		{
			requests.GET("", handlers.ListRequests(deps.Engine))
			requests.GET("/:id", handlers.GetRequest(deps.Engine))
			requests.GET("/:id/audit", handlers.GetAuditTrail(deps.Trail))
			requests.DELETE("/:id", handlers.DeleteRequest(deps.Engine))
		}

		artifactsGroup := v1.Group("/artifacts")
		{
			artifactsGroup.GET("/stats", handlers.GetArtifactStats(deps.Store))
			artifactsGroup.POST("/:id/sign", handlers.SignFile(deps.Store))
		}
	}
}
