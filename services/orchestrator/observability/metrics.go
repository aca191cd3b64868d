// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the triage
// service.
//
// # Description
//
// This package implements Prometheus metrics for monitoring pipeline
// request processing. Metrics include:
//   - Request counters (by terminal status)
//   - Step outcome counters (by step, status, error kind)
//   - Latency histograms (per-step and per-request duration)
//   - Active request gauge
//   - Triage level counters
//
// # Integration
//
// Metrics are exposed via the /metrics endpoint. The MetricsHook type
// adapts the pipeline telemetry stream onto these metrics, so the
// pipeline package itself never imports Prometheus.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/tanishka786/GDHS/services/pipeline"
)

// Namespace for all metrics
const metricsNamespace = "gdhs"

// Subsystem for pipeline metrics
const pipelineSubsystem = "pipeline"

// PipelineMetrics holds all Prometheus metrics for request processing.
//
// # Description
//
// Provides counters, histograms, and gauges for monitoring pipeline
// throughput, failure modes, and clinical outcomes. Initialize once at
// startup via InitMetrics().
//
// # Thread Safety
//
// All operations are thread-safe.
type PipelineMetrics struct {
	// RequestsTotal counts processed requests by terminal status.
	// Labels: status (completed, failed, rejected)
	RequestsTotal *prometheus.CounterVec

	// RequestDurationSeconds measures end-to-end request duration.
	// Labels: status (completed, failed)
	RequestDurationSeconds *prometheus.HistogramVec

	// StepOutcomesTotal counts step completions by outcome.
	// Labels: step, outcome (ok, error, timeout, skipped)
	StepOutcomesTotal *prometheus.CounterVec

	// StepDurationSeconds measures per-step attempt duration.
	// Labels: step
	StepDurationSeconds *prometheus.HistogramVec

	// TriageLevelsTotal counts assessments by level.
	// Labels: level (RED, AMBER, GREEN), method (dynamic_scoring, error_fallback)
	TriageLevelsTotal *prometheus.CounterVec

	// ActiveRequests tracks requests currently being processed.
	ActiveRequests prometheus.Gauge
}

// DefaultMetrics is the singleton instance of PipelineMetrics.
// Initialized by InitMetrics().
var DefaultMetrics *PipelineMetrics

// InitMetrics initializes the default metrics instance.
//
// # Description
//
// Creates and registers all Prometheus metrics. Should be called once
// at application startup.
//
// # Outputs
//
//   - *PipelineMetrics: The initialized metrics instance.
//
// # Limitations
//
//   - Panics if called twice (duplicate registration).
func InitMetrics() *PipelineMetrics {
	DefaultMetrics = &PipelineMetrics{
		RequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "requests_total",
				Help:      "Total number of pipeline requests by terminal status",
			},
			[]string{"status"},
		),
		RequestDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "request_duration_seconds",
				Help:      "End-to-end request processing duration",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"status"},
		),
		StepOutcomesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "step_outcomes_total",
				Help:      "Step completions by step and outcome",
			},
			[]string{"step", "outcome"},
		),
		StepDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "step_duration_seconds",
				Help:      "Per-step attempt duration",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"step"},
		),
		TriageLevelsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "triage_levels_total",
				Help:      "Triage assessments by level and scoring method",
			},
			[]string{"level", "method"},
		),
		ActiveRequests: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: pipelineSubsystem,
				Name:      "active_requests",
				Help:      "Requests currently being processed",
			},
		),
	}
	return DefaultMetrics
}

// MetricsHook adapts pipeline telemetry events onto Prometheus metrics.
//
// # Description
//
// Registered as a telemetry hook on the orchestrator, it translates
// the event stream (request_start, step_complete, ...) into metric
// updates. Unknown event kinds are ignored.
type MetricsHook struct {
	metrics *PipelineMetrics
}

// NewMetricsHook creates a hook over the given metrics instance.
func NewMetricsHook(metrics *PipelineMetrics) *MetricsHook {
	return &MetricsHook{metrics: metrics}
}

// Emit updates metrics for one telemetry event.
func (h *MetricsHook) Emit(event pipeline.Event) {
	if h.metrics == nil {
		return
	}
	step := string(event.Step)
	switch event.Kind {
	case pipeline.EventRequestStart:
		h.metrics.ActiveRequests.Inc()
	case pipeline.EventStepComplete:
		h.metrics.StepOutcomesTotal.WithLabelValues(step, "ok").Inc()
		h.metrics.StepDurationSeconds.WithLabelValues(step).Observe(float64(event.DurationMS) / 1000)
	case pipeline.EventStepFailed:
		outcome := "error"
		if kind, ok := event.Metadata["error_kind"].(string); ok && kind == "timeout" {
			outcome = "timeout"
		}
		h.metrics.StepOutcomesTotal.WithLabelValues(step, outcome).Inc()
		h.metrics.StepDurationSeconds.WithLabelValues(step).Observe(float64(event.DurationMS) / 1000)
	case pipeline.EventStepSkipped:
		h.metrics.StepOutcomesTotal.WithLabelValues(step, "skipped").Inc()
	case pipeline.EventRequestComplete:
		h.metrics.ActiveRequests.Dec()
		status := "completed"
		if s, ok := event.Metadata["status"].(string); ok {
			status = s
		}
		h.metrics.RequestsTotal.WithLabelValues(status).Inc()
		h.metrics.RequestDurationSeconds.WithLabelValues(status).Observe(float64(event.DurationMS) / 1000)
	}
}

// ObserveTriage records a triage assessment outcome.
func (m *PipelineMetrics) ObserveTriage(result *pipeline.TriageResult) {
	if m == nil || result == nil {
		return
	}
	m.TriageLevelsTotal.WithLabelValues(string(result.Level), result.Method).Inc()
}

var _ pipeline.Hook = (*MetricsHook)(nil)
