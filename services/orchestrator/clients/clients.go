// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package clients provides HTTP implementations of the stage
// collaborator interfaces: the body-part router, the fracture
// detectors, the diagnosis service, and hospital lookup. Each client
// wraps one model-service endpoint and maps transport failures onto
// pipeline error kinds so the retry policy can distinguish transient
// from permanent faults.
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/pipeline/stages"
)

// defaultHTTPTimeout bounds a single model-service call. Step deadlines
// are usually tighter; this is the backstop for misconfigured policies.
const defaultHTTPTimeout = 60 * time.Second

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	return &http.Client{Timeout: timeout}
}

// postJSON posts a JSON body and decodes a JSON response, mapping HTTP
// status codes onto pipeline error kinds.
func postJSON(ctx context.Context, client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return pipeline.WrapStageError(pipeline.ErrKindInternal, err, "encoding request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return pipeline.WrapStageError(pipeline.ErrKindInternal, err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// Deadline, cancellation, and network faults are classified by
		// the shared mapper.
		return pipeline.ClassifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return pipeline.NewStageError(pipeline.ErrKindRateLimit, "model service throttled: %s", snippet)
		case resp.StatusCode >= 500:
			return pipeline.NewStageError(pipeline.ErrKindTemporary, "model service error %d: %s", resp.StatusCode, snippet)
		case resp.StatusCode == http.StatusBadRequest:
			return pipeline.NewStageError(pipeline.ErrKindInvalidInput, "model service rejected input: %s", snippet)
		default:
			return pipeline.NewStageError(pipeline.ErrKindInternal, "model service status %d: %s", resp.StatusCode, snippet)
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pipeline.WrapStageError(pipeline.ErrKindInternal, err, "decoding response")
	}
	return nil
}

// imagePayload is the wire form of an image reference.
type imagePayload struct {
	ImageURL  string `json:"image_url,omitempty"`
	ImageData []byte `json:"image_data,omitempty"`
}

func toImagePayload(image stages.ImageRef) imagePayload {
	return imagePayload{ImageURL: image.URL, ImageData: image.Data}
}

// HTTPRouter calls the body-part classification service.
type HTTPRouter struct {
	url    string
	client *http.Client
}

// NewHTTPRouter creates a router client for the given endpoint.
func NewHTTPRouter(url string, timeout time.Duration) *HTTPRouter {
	return &HTTPRouter{url: url, client: newHTTPClient(timeout)}
}

func (r *HTTPRouter) Route(ctx context.Context, image stages.ImageRef, symptoms string) (stages.RouteDecision, error) {
	body := struct {
		imagePayload
		Symptoms string `json:"symptoms,omitempty"`
	}{toImagePayload(image), symptoms}

	var out struct {
		BodyPart   string  `json:"body_part"`
		Confidence float64 `json:"confidence"`
	}
	if err := postJSON(ctx, r.client, r.url, body, &out); err != nil {
		return stages.RouteDecision{}, err
	}
	return stages.RouteDecision{
		BodyPart:   pipeline.BodyPart(out.BodyPart),
		Confidence: out.Confidence,
	}, nil
}

// HTTPDetector calls one fracture detection service.
type HTTPDetector struct {
	url    string
	client *http.Client
}

// NewHTTPDetector creates a detector client for the given endpoint.
func NewHTTPDetector(url string, timeout time.Duration) *HTTPDetector {
	return &HTTPDetector{url: url, client: newHTTPClient(timeout)}
}

func (d *HTTPDetector) Detect(ctx context.Context, image stages.ImageRef) (stages.DetectionOutput, error) {
	var out struct {
		Detections     []pipeline.Detection `json:"detections"`
		AnnotatedImage []byte               `json:"annotated_image,omitempty"`
		InferenceMS    int64                `json:"inference_ms"`
	}
	if err := postJSON(ctx, d.client, d.url, toImagePayload(image), &out); err != nil {
		return stages.DetectionOutput{}, err
	}
	return stages.DetectionOutput{
		Detections:     out.Detections,
		AnnotatedImage: out.AnnotatedImage,
		InferenceMS:    out.InferenceMS,
	}, nil
}

// HTTPDiagnoser calls the diagnosis service.
type HTTPDiagnoser struct {
	url    string
	client *http.Client
}

// NewHTTPDiagnoser creates a diagnoser client for the given endpoint.
func NewHTTPDiagnoser(url string, timeout time.Duration) *HTTPDiagnoser {
	return &HTTPDiagnoser{url: url, client: newHTTPClient(timeout)}
}

func (d *HTTPDiagnoser) Diagnose(ctx context.Context, detections []pipeline.Detection, symptoms string) (*pipeline.DiagnosisResult, error) {
	body := struct {
		Detections []pipeline.Detection `json:"detections"`
		Symptoms   string               `json:"symptoms,omitempty"`
	}{detections, symptoms}

	var out pipeline.DiagnosisResult
	if err := postJSON(ctx, d.client, d.url, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// HTTPLocator calls the hospital lookup service.
type HTTPLocator struct {
	url    string
	client *http.Client
}

// NewHTTPLocator creates a locator client for the given endpoint.
func NewHTTPLocator(url string, timeout time.Duration) *HTTPLocator {
	return &HTTPLocator{url: url, client: newHTTPClient(timeout)}
}

func (l *HTTPLocator) Nearby(ctx context.Context, loc pipeline.Location, limit int) ([]pipeline.Hospital, error) {
	body := struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Limit     int     `json:"limit"`
	}{loc.Latitude, loc.Longitude, limit}

	var out struct {
		Hospitals []pipeline.Hospital `json:"hospitals"`
	}
	if err := postJSON(ctx, l.client, l.url, body, &out); err != nil {
		return nil, err
	}
	return out.Hospitals, nil
}

var (
	_ stages.Router          = (*HTTPRouter)(nil)
	_ stages.Detector        = (*HTTPDetector)(nil)
	_ stages.Diagnoser       = (*HTTPDiagnoser)(nil)
	_ stages.HospitalLocator = (*HTTPLocator)(nil)
)
