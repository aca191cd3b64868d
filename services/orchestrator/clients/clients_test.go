// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package clients

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/pipeline/stages"
)

func TestHTTPRouterRoute(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"body_part": "HAND", "confidence": 0.92}`))
	}))
	defer server.Close()

	router := NewHTTPRouter(server.URL, time.Second)
	decision, err := router.Route(context.Background(), stages.ImageRef{Data: []byte("png")}, "wrist pain")
	require.NoError(t, err)
	assert.Equal(t, pipeline.BodyPartHand, decision.BodyPart)
	assert.Equal(t, 0.92, decision.Confidence)
}

func TestHTTPDetectorDetect(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"detections": [{"label": "fracture detected", "score": 0.88, "bbox": [1, 2, 3, 4]}], "inference_ms": 120}`))
	}))
	defer server.Close()

	detector := NewHTTPDetector(server.URL, time.Second)
	out, err := detector.Detect(context.Background(), stages.ImageRef{URL: "https://example.com/x.png"})
	require.NoError(t, err)
	require.Len(t, out.Detections, 1)
	assert.Equal(t, "fracture detected", out.Detections[0].Label)
	assert.Equal(t, int64(120), out.InferenceMS)
}

func TestPostJSONErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		wantKind pipeline.ErrorKind
	}{
		{"throttled", http.StatusTooManyRequests, pipeline.ErrKindRateLimit},
		{"server error", http.StatusInternalServerError, pipeline.ErrKindTemporary},
		{"bad gateway", http.StatusBadGateway, pipeline.ErrKindTemporary},
		{"bad input", http.StatusBadRequest, pipeline.ErrKindInvalidInput},
		{"not found", http.StatusNotFound, pipeline.ErrKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer server.Close()

			detector := NewHTTPDetector(server.URL, time.Second)
			_, err := detector.Detect(context.Background(), stages.ImageRef{Data: []byte("x")})
			require.Error(t, err)
			serr := pipeline.ClassifyError(err)
			assert.Equal(t, tt.wantKind, serr.Kind)
		})
	}
}

func TestPostJSONTimeoutClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		<-r.Context().Done()
	}))
	defer server.Close()

	detector := NewHTTPDetector(server.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := detector.Detect(ctx, stages.ImageRef{Data: []byte("x")})
	require.Error(t, err)
	serr := pipeline.ClassifyError(err)
	assert.Equal(t, pipeline.ErrKindTimeout, serr.Kind)
}

func TestHTTPLocatorNearby(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"hospitals": [{"name": "City General", "distance_km": 2.4}]}`))
	}))
	defer server.Close()

	locator := NewHTTPLocator(server.URL, time.Second)
	hospitals, err := locator.Nearby(context.Background(), pipeline.Location{Latitude: 40.7, Longitude: -74.0}, 5)
	require.NoError(t, err)
	require.Len(t, hospitals, 1)
	assert.Equal(t, "City General", hospitals[0].Name)
}

func TestPDFRendererProducesValidStructure(t *testing.T) {
	renderer := NewPDFRenderer()
	doc, err := renderer.Render(context.Background(), stages.ReportInput{
		RequestID: "req-1",
		Symptoms:  "pain with (parens) and \\slashes",
		Triage: &pipeline.TriageResult{
			Level:      pipeline.TriageAmber,
			Score:      0.61,
			Confidence: 0.82,
			Rationale:  []string{"fracture detected (confidence: 0.82)"},
		},
		Detections: []pipeline.Detection{{Label: "fracture detected", Score: 0.82}},
		Disclaimer: pipeline.Disclaimer,
	})
	require.NoError(t, err)

	body := string(doc)
	assert.True(t, strings.HasPrefix(body, "%PDF-1.4"))
	assert.True(t, strings.HasSuffix(body, "%%EOF\n"))
	assert.Contains(t, body, "Fracture Triage Report")
	assert.Contains(t, body, `\(parens\)`)
	assert.Contains(t, body, "startxref")
}

func TestPDFRendererHonorsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewPDFRenderer().Render(ctx, stages.ReportInput{RequestID: "req-1"})
	require.Error(t, err)
}
