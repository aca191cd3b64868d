// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/semaphore"

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/policy"
)

var (
	tracer = otel.Tracer("gdhs.pipeline")
	meter  = otel.Meter("gdhs.pipeline")

	metricsOnce   sync.Once
	stepDuration  metric.Float64Histogram
	stepRetries   metric.Int64Counter
	requestsTotal metric.Int64Counter
)

// initMetrics lazily creates instruments. Failures leave nil instruments;
// recording on them is skipped.
func initMetrics() {
	metricsOnce.Do(func() {
		stepDuration, _ = meter.Float64Histogram(
			"gdhs.pipeline.step.duration",
			metric.WithDescription("Step execution duration in seconds"),
			metric.WithUnit("s"),
		)
		stepRetries, _ = meter.Int64Counter(
			"gdhs.pipeline.step.retries",
			metric.WithDescription("Step retry attempts"),
		)
		requestsTotal, _ = meter.Int64Counter(
			"gdhs.pipeline.requests",
			metric.WithDescription("Processed requests by status"),
		)
	})
}

// ErrRequestNotFound indicates a status, result, or cleanup query for an
// unknown request id.
var ErrRequestNotFound = errors.New("request not found")

// OrchestratorConfig tunes the orchestrator. Zero values get defaults.
type OrchestratorConfig struct {
	// MaxConcurrent caps simultaneously processing requests. Default: 8.
	MaxConcurrent int64

	// MaxListed caps ListActive output. Default: 50.
	MaxListed int

	// Logger receives orchestration logs. Default: slog.Default().
	Logger *slog.Logger
}

func applyOrchestratorDefaults(cfg OrchestratorConfig) OrchestratorConfig {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.MaxListed <= 0 {
		cfg.MaxListed = 50
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return cfg
}

// activeRequest pairs a request's step graph with its assembled response
// once processing finishes.
type activeRequest struct {
	graph    *StepGraph
	response *Response
}

// CleanupResult reports what a cleanup removed.
type CleanupResult struct {
	StepsRemoved     int `json:"steps_removed"`
	ArtifactsRemoved int `json:"artifacts_removed"`
}

// Orchestrator drives requests through the pipeline under policy
// control.
//
// # Thread Safety
//
// Safe for concurrent use. Each request's graph is mutated only by its
// own processing goroutines; the active-request table is mutex-guarded.
type Orchestrator struct {
	cfg      OrchestratorConfig
	stages   *StageRegistry
	policies *policy.Registry
	store    artifacts.Store
	hooks    []Hook
	logger   *slog.Logger
	sem      *semaphore.Weighted

	mu     sync.Mutex
	active map[string]*activeRequest
}

// NewOrchestrator wires the orchestrator. The artifact store may be nil
// (cleanup then skips artifact deletion); stages and policies must not.
func NewOrchestrator(cfg OrchestratorConfig, stages *StageRegistry, policies *policy.Registry, store artifacts.Store, hooks ...Hook) (*Orchestrator, error) {
	if stages == nil {
		return nil, errors.New("stage registry must not be nil")
	}
	if policies == nil {
		return nil, errors.New("policy registry must not be nil")
	}
	cfg = applyOrchestratorDefaults(cfg)
	return &Orchestrator{
		cfg:      cfg,
		stages:   stages,
		policies: policies,
		store:    store,
		hooks:    hooks,
		logger:   cfg.Logger,
		sem:      semaphore.NewWeighted(cfg.MaxConcurrent),
		active:   make(map[string]*activeRequest),
	}, nil
}

// Process runs a request through the pipeline and returns the assembled
// response.
//
// Requests with invalid overrides or an unknown mode are rejected before
// any step runs; those return an error and leave no trace in the active
// table. Once admitted, a request always produces a Response: step
// failures surface as step records and a failed/partial status, never as
// a Process error.
func (o *Orchestrator) Process(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, NewStageError(ErrKindInvalidInput, "request must not be nil")
	}
	initMetrics()

	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	mode := req.Mode
	if mode == "" {
		mode = ModeAuto
	}
	if !mode.Valid() {
		return nil, NewStageError(ErrKindInvalidInput, "unknown processing mode %q", req.Mode)
	}

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return nil, WrapStageError(ErrKindUnavailable, err, "admission cancelled")
	}
	defer o.sem.Release(1)

	var overrides map[string]any
	if mode == ModeAdvanced {
		overrides = req.Overrides
	} else if len(req.Overrides) > 0 {
		o.logger.Warn("ignoring policy overrides outside ADVANCED mode", "request_id", requestID)
	}

	cfg, err := o.policies.ConfigFor(requestID, overrides)
	if err != nil {
		return nil, WrapStageError(ErrKindInvalidInput, err, "policy overrides rejected")
	}
	defer o.policies.Release(requestID)

	// Stages see the resolved id and mode.
	normalized := *req
	normalized.RequestID = requestID
	normalized.Mode = mode
	req = &normalized

	// Every request shares the same seeded sequence; detector steps are
	// added after routing decides which detectors run, and HOSPITALS is
	// seeded only with explicit consent.
	graph := NewStepGraph(requestID, mode, cfg)
	for _, name := range []StepName{policy.StepValidate, policy.StepRoute, policy.StepTriage, policy.StepDiagnose, policy.StepReport} {
		_ = graph.AddStep(name)
	}
	if req.GeoConsent {
		_ = graph.AddStep(policy.StepHospitals)
	}
	o.mu.Lock()
	o.active[requestID] = &activeRequest{graph: graph}
	o.mu.Unlock()

	ctx, span := tracer.Start(ctx, "pipeline.process")
	defer span.End()
	span.SetAttributes(
		attribute.String("request_id", requestID),
		attribute.String("mode", string(mode)),
		attribute.String("config_hash", cfg.Hash()),
	)

	started := time.Now()
	o.emit(newEvent(EventRequestStart, requestID, cfg.Hash(), "", 0, map[string]any{
		"mode": string(mode),
	}))
	o.logger.Info("request started",
		"request_id", requestID,
		"mode", string(mode),
		"config_hash", cfg.Hash(),
	)

	resp := &Response{RequestID: requestID, Mode: mode, ConfigHash: cfg.Hash()}

	finalize := func(status RequestStatus, failure *StageError) *Response {
		resp.Status = status
		if failure != nil {
			resp.Error = failure.Message
		}
		if ctx.Err() != nil {
			graph.SkipPending("request cancelled")
		}
		resp.Artifacts = graph.Artifacts()
		resp.Prompts = graph.Prompts()
		resp.Partial = graph.Partial()
		resp.Steps = graph.Snapshot().Steps
		resp.TotalDurationMS = time.Since(started).Milliseconds()
		graph.MarkDone()

		o.mu.Lock()
		if entry, ok := o.active[requestID]; ok {
			entry.response = resp
		}
		o.mu.Unlock()

		o.emit(newEvent(EventRequestComplete, requestID, cfg.Hash(), "", resp.TotalDurationMS, map[string]any{
			"status":  string(status),
			"partial": resp.Partial,
		}))
		if requestsTotal != nil {
			requestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
		}
		o.logger.Info("request finished",
			"request_id", requestID,
			"status", string(status),
			"partial", resp.Partial,
			"duration_ms", resp.TotalDurationMS,
		)
		return resp
	}

	// Phase 1: validation. Fatal by policy.
	if _, serr := o.executeStep(ctx, graph, cfg, req, policy.StepValidate); serr != nil {
		return finalize(RequestFailed, serr), nil
	}

	// Phase 2: routing. Fatal by policy.
	routeRes, serr := o.executeStep(ctx, graph, cfg, req, policy.StepRoute)
	if serr != nil {
		return finalize(RequestFailed, serr), nil
	}
	bodyPart := routeRes.BodyPart
	if bodyPart == "" {
		bodyPart = BodyPartUnknown
	}
	resp.BodyPart = bodyPart
	resp.RouteConfidence = routeRes.Confidence
	graph.SetBodyPart(bodyPart)

	// Low routing confidence widens detection to both detectors. In
	// GUIDED mode the ambiguity is also surfaced as a prompt; the
	// pipeline proceeds with the default rather than blocking.
	target := bodyPart
	if routeRes.Confidence < cfg.RouterThreshold {
		if mode == ModeGuided {
			graph.AddPrompt(GuidedPrompt{
				Type:     "low_confidence",
				StepName: policy.StepRoute,
				Message:  fmt.Sprintf("Routing confidence %.2f is below %.2f. Which detector should run?", routeRes.Confidence, cfg.RouterThreshold),
				Options:  []string{"hand", "leg", "both"},
				Default:  "both",
			})
		}
		target = BodyPartUnknown
	}

	// Phase 3: detection. Non-fatal; UNKNOWN fans out to both
	// detectors concurrently, and one detector failing never cancels
	// the other.
	switch target {
	case BodyPartHand:
		o.executeStep(ctx, graph, cfg, req, policy.StepDetectHand) //nolint:errcheck // recorded in graph
	case BodyPartLeg:
		o.executeStep(ctx, graph, cfg, req, policy.StepDetectLeg) //nolint:errcheck // recorded in graph
	default:
		var wg sync.WaitGroup
		for _, name := range []StepName{policy.StepDetectHand, policy.StepDetectLeg} {
			wg.Add(1)
			go func(n StepName) {
				defer wg.Done()
				o.executeStep(ctx, graph, cfg, req, n) //nolint:errcheck // recorded in graph
			}(name)
		}
		wg.Wait()
	}
	resp.Detections = graph.Detections()

	// Phase 4: triage. Never fails the request: a missing, failed, or
	// timed-out triage step degrades to the AMBER fallback.
	triageRes, serr := o.executeStep(ctx, graph, cfg, req, policy.StepTriage)
	if serr != nil || triageRes.Triage == nil {
		resp.Triage = FallbackTriage()
	} else {
		resp.Triage = triageRes.Triage
	}
	graph.SetTriageLevel(resp.Triage.Level)

	// Phase 5: diagnosis and reporting. Best effort.
	if res, serr := o.executeStep(ctx, graph, cfg, req, policy.StepDiagnose); serr == nil {
		resp.Diagnosis = res.Diagnosis
	}
	if res, serr := o.executeStep(ctx, graph, cfg, req, policy.StepReport); serr == nil {
		resp.Report = res.Report
	}

	// Phase 6: hospital lookup, seeded only with explicit consent. In
	// GUIDED mode a missing consent is surfaced as a prompt and a
	// skipped step; other modes omit the step entirely.
	if req.GeoConsent {
		if res, serr := o.executeStep(ctx, graph, cfg, req, policy.StepHospitals); serr == nil {
			resp.Hospitals = res.Hospitals
		}
	} else if mode == ModeGuided {
		const reason = "Geolocation consent not provided"
		_ = graph.AddStep(policy.StepHospitals)
		graph.AddPrompt(GuidedPrompt{
			Type:     "geo_consent",
			StepName: policy.StepHospitals,
			Message:  "Share your location to find nearby hospitals?",
			Options:  []string{"yes", "no"},
			Default:  "no",
		})
		graph.Skip(policy.StepHospitals, reason)
		o.emit(newEvent(EventStepSkipped, requestID, cfg.Hash(), policy.StepHospitals, 0, map[string]any{
			"reason": reason,
		}))
	}

	if err := ctx.Err(); err != nil {
		return finalize(RequestFailed, WrapStageError(ErrKindUnavailable, err, "request cancelled")), nil
	}
	return finalize(RequestCompleted, nil), nil
}

// executeStep runs one step under its policy: per-attempt deadline,
// retry loop with backoff, graph bookkeeping, and telemetry. Returns the
// stage result, or the terminal StageError after retries are exhausted.
func (o *Orchestrator) executeStep(ctx context.Context, graph *StepGraph, cfg *policy.Config, req *Request, name StepName) (*StageResult, *StageError) {
	// Detector steps are added here on first use; seeded steps already
	// exist in the graph.
	_ = graph.AddStep(name)

	if err := ctx.Err(); err != nil {
		const reason = "request cancelled"
		graph.Skip(name, reason)
		o.emit(newEvent(EventStepSkipped, graph.RequestID(), cfg.Hash(), name, 0, map[string]any{
			"reason": reason,
		}))
		return nil, WrapStageError(ErrKindUnavailable, err, reason)
	}

	stage, ok := o.stages.Get(name)
	if !ok {
		const reason = "No handler available"
		graph.Skip(name, reason)
		o.emit(newEvent(EventStepSkipped, graph.RequestID(), cfg.Hash(), name, 0, map[string]any{
			"reason": reason,
		}))
		o.logger.Warn("step skipped", "request_id", graph.RequestID(), "step", string(name), "reason", reason)
		return nil, NewStageError(ErrKindUnavailable, "no handler for step %s", name)
	}

	ctx, span := tracer.Start(ctx, "pipeline.step."+string(name))
	defer span.End()

	pol := cfg.StepPolicy(name)
	retryCount := 0

	for {
		graph.Start(name)
		o.emit(newEvent(EventStepStart, graph.RequestID(), cfg.Hash(), name, 0, nil))
		attemptStart := time.Now()

		res, serr := o.runAttempt(ctx, stage, req, graph, cfg, name, pol.Timeout())
		elapsed := time.Since(attemptStart)

		if stepDuration != nil {
			stepDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
				attribute.String("step", string(name)),
				attribute.Bool("ok", serr == nil),
			))
		}

		if serr == nil {
			snap, _ := graph.Step(name)
			o.emit(newEvent(EventStepComplete, graph.RequestID(), cfg.Hash(), name, elapsed.Milliseconds(), map[string]any{
				"attempts": snap.Attempts,
			}))
			return res, nil
		}

		o.emit(newEvent(EventStepFailed, graph.RequestID(), cfg.Hash(), name, elapsed.Milliseconds(), map[string]any{
			"error_kind": string(serr.Kind),
			"error":      serr.Message,
		}))
		o.logger.Warn("step failed",
			"request_id", graph.RequestID(),
			"step", string(name),
			"error_kind", string(serr.Kind),
			"error", serr.Message,
			"retry_count", retryCount,
		)

		if ctx.Err() == nil && cfg.ShouldRetry(name, string(serr.Kind), retryCount) {
			backoff := cfg.RetryBackoff(name, retryCount)
			retryCount++
			graph.SetRetryCount(name, retryCount)
			if stepRetries != nil {
				stepRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("step", string(name))))
			}
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				if pol.Fatal {
					graph.MarkFatal()
				}
				return nil, WrapStageError(ErrKindUnavailable, ctx.Err(), "request cancelled during retry backoff")
			}
		}
		if pol.Fatal {
			graph.MarkFatal()
		}
		return nil, serr
	}
}

// runAttempt executes a single stage attempt under its deadline and
// records the outcome in the graph. A nil error means the step is OK.
func (o *Orchestrator) runAttempt(ctx context.Context, stage Stage, req *Request, graph *StepGraph, cfg *policy.Config, name StepName, timeout time.Duration) (*StageResult, *StageError) {
	sctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		res *StageResult
		err error
	}
	ch := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- outcome{err: NewStageError(ErrKindInternal, "stage panic: %v", r)}
			}
		}()
		res, err := stage.Execute(sctx, req, graph, cfg)
		ch <- outcome{res: res, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			serr := ClassifyError(out.err)
			if serr.Kind == ErrKindTimeout {
				graph.Timeout(name, serr.Message)
			} else {
				graph.Fail(name, serr.Kind, serr.Message)
			}
			return nil, serr
		}
		res := out.res
		if res == nil {
			serr := NewStageError(ErrKindInternal, "stage for %s returned no result", name)
			graph.Fail(name, serr.Kind, serr.Message)
			return nil, serr
		}
		graph.Complete(name, res.Confidence, res.Artifacts)
		if len(res.Detections) > 0 {
			graph.RecordDetections(name, res.Detections)
		}
		return res, nil

	case <-sctx.Done():
		// The stage goroutine keeps running until it honors the
		// cancelled context; its late result lands in the buffered
		// channel and is discarded.
		if ctx.Err() != nil {
			serr := WrapStageError(ErrKindUnavailable, ctx.Err(), "request cancelled")
			graph.Fail(name, serr.Kind, serr.Message)
			return nil, serr
		}
		msg := fmt.Sprintf("step %s exceeded %s budget", name, timeout)
		graph.Timeout(name, msg)
		return nil, &StageError{Kind: ErrKindTimeout, Message: msg}
	}
}

// Status returns the step graph snapshot for a request.
func (o *Orchestrator) Status(requestID string) (GraphSnapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.active[requestID]
	if !ok {
		return GraphSnapshot{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return entry.graph.Snapshot(), nil
}

// Result returns the assembled response for a finished request.
func (o *Orchestrator) Result(requestID string) (*Response, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	entry, ok := o.active[requestID]
	if !ok || entry.response == nil {
		return nil, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}
	return entry.response, nil
}

// ListActive returns snapshots of retained requests, most recent first,
// capped at the configured limit.
func (o *Orchestrator) ListActive() []GraphSnapshot {
	o.mu.Lock()
	graphs := make([]*StepGraph, 0, len(o.active))
	for _, entry := range o.active {
		graphs = append(graphs, entry.graph)
	}
	o.mu.Unlock()

	sort.Slice(graphs, func(i, j int) bool {
		return graphs[i].CreatedAt().After(graphs[j].CreatedAt())
	})
	if len(graphs) > o.cfg.MaxListed {
		graphs = graphs[:o.cfg.MaxListed]
	}

	out := make([]GraphSnapshot, 0, len(graphs))
	for _, g := range graphs {
		out = append(out, g.Snapshot())
	}
	return out
}

// Cleanup removes a request's step graph and deletes its artifacts.
// Policy bindings for the request are released as well.
func (o *Orchestrator) Cleanup(ctx context.Context, requestID string) (CleanupResult, error) {
	o.mu.Lock()
	entry, ok := o.active[requestID]
	if ok {
		delete(o.active, requestID)
	}
	o.mu.Unlock()

	if !ok {
		return CleanupResult{}, fmt.Errorf("%w: %s", ErrRequestNotFound, requestID)
	}

	result := CleanupResult{StepsRemoved: len(entry.graph.Snapshot().Steps)}
	if o.store != nil {
		for _, id := range entry.graph.ArtifactIDs() {
			if err := o.store.Delete(ctx, id); err == nil {
				result.ArtifactsRemoved++
			} else if !errors.Is(err, artifacts.ErrNotFound) {
				o.logger.Warn("artifact delete failed", "request_id", requestID, "artifact_id", id, "error", err)
			}
		}
	}
	o.policies.Release(requestID)

	o.logger.Info("request cleaned up",
		"request_id", requestID,
		"steps_removed", result.StepsRemoved,
		"artifacts_removed", result.ArtifactsRemoved,
	)
	return result, nil
}

// CleanupCompleted sweeps finished requests older than maxAge and
// returns how many were removed.
func (o *Orchestrator) CleanupCompleted(ctx context.Context, maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	o.mu.Lock()
	var stale []string
	for id, entry := range o.active {
		if entry.graph.Done() && entry.graph.CreatedAt().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	o.mu.Unlock()

	removed := 0
	for _, id := range stale {
		if _, err := o.Cleanup(ctx, id); err == nil {
			removed++
		}
	}
	return removed
}

// ActiveCount returns the number of retained requests.
func (o *Orchestrator) ActiveCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.active)
}

func (o *Orchestrator) emit(event Event) {
	for _, hook := range o.hooks {
		hook.Emit(event)
	}
}
