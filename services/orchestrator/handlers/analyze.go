// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the HTTP endpoints of the triage service:
// analysis submission, request status and cleanup, artifact retrieval,
// and health.
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tanishka786/GDHS/services/orchestrator/observability"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// analyzeRequest is the POST /analyze body. It mirrors pipeline.Request
// but keeps the wire shape decoupled from the engine type.
type analyzeRequest struct {
	RequestID  string             `json:"request_id"`
	ImageURL   string             `json:"image_url"`
	ImageData  []byte             `json:"image_data"`
	Symptoms   string             `json:"symptoms"`
	Mode       string             `json:"mode"`
	Overrides  map[string]any     `json:"overrides"`
	GeoConsent bool               `json:"geo_consent"`
	Location   *pipeline.Location `json:"location"`
}

// HandleAnalyze processes a triage submission synchronously.
//
// # Description
//
// Binds the JSON body, runs the request through the pipeline engine,
// and returns the assembled response. Admission failures (bad mode,
// invalid overrides, malformed body) return 400 with the problem list;
// an admitted request always returns 200, carrying its terminal status
// and step records in the body.
//
// # Inputs
//
//   - engine: The pipeline orchestrator. Must not be nil.
//   - metrics: Pipeline metrics. May be nil.
//
// # Outputs
//
//   - gin.HandlerFunc: Handler for POST /api/v1/analyze
func HandleAnalyze(engine *pipeline.Orchestrator, metrics *observability.PipelineMetrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body analyzeRequest
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}

		req := &pipeline.Request{
			RequestID:  body.RequestID,
			ImageURL:   body.ImageURL,
			ImageData:  body.ImageData,
			Symptoms:   body.Symptoms,
			Mode:       pipeline.Mode(body.Mode),
			Overrides:  body.Overrides,
			GeoConsent: body.GeoConsent,
			Location:   body.Location,
		}

		resp, err := engine.Process(c.Request.Context(), req)
		if err != nil {
			status := http.StatusBadRequest
			var serr *pipeline.StageError
			if errors.As(err, &serr) && serr.Kind == pipeline.ErrKindUnavailable {
				status = http.StatusServiceUnavailable
			}
			if metrics != nil {
				metrics.RequestsTotal.WithLabelValues("rejected").Inc()
			}

			// Override problems are reported individually so a caller
			// can fix the whole request in one round trip.
			var overrideErr *policy.OverrideError
			if errors.As(err, &overrideErr) {
				c.JSON(status, gin.H{"error": "invalid policy overrides", "problems": overrideErr.Problems})
				return
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}

		metrics.ObserveTriage(resp.Triage)
		c.JSON(http.StatusOK, resp)
	}
}
