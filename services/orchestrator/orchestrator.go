// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package orchestrator provides the HTTP service for the fracture
// triage pipeline.
//
// This package contains the main Service type that coordinates all
// components: HTTP routing via Gin, the pipeline engine, the policy
// registry, the artifact store, and observability infrastructure
// (OpenTelemetry tracing, Prometheus metrics, the audit trail).
//
// # Usage
//
//	cfg := orchestrator.Config{Port: 8080, RouterURL: "http://router:9001/route"}
//	svc, err := orchestrator.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	log.Fatal(svc.Run())
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/orchestrator/clients"
	"github.com/tanishka786/GDHS/services/orchestrator/observability"
	"github.com/tanishka786/GDHS/services/orchestrator/routes"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/pipeline/stages"
	"github.com/tanishka786/GDHS/services/policy"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Service defines the contract for the triage HTTP service.
//
// # Description
//
// Service abstracts the service lifecycle, enabling testing and
// alternative implementations. Run() blocks and should only be called
// once per instance.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use.
type Service interface {
	// Run starts the HTTP server and blocks until shutdown or error.
	Run() error

	// Router returns the underlying Gin engine for testing.
	//
	// Callers must not modify the router after construction.
	Router() *gin.Engine
}

// =============================================================================
// Configuration
// =============================================================================

// Config holds service configuration options.
//
// # Description
//
// Config centralizes all configuration for the triage service. Values
// can be populated from environment variables, config files, or
// programmatically for testing.
//
// # Required Fields
//
// None - all fields have sensible defaults. Model endpoints left empty
// leave their pipeline steps unregistered; the engine records those
// steps as skipped rather than failing requests.
type Config struct {
	// Port is the HTTP server port. Default: 8080
	Port int

	// GinMode sets the Gin framework mode.
	// Valid values: "debug", "release", "test"
	// Default: uses GIN_MODE env var or "debug"
	GinMode string

	// OTelEndpoint is the OpenTelemetry collector endpoint.
	// If empty, tracing export is disabled.
	OTelEndpoint string

	// EnableMetrics enables the Prometheus metrics endpoint.
	// Default: true
	EnableMetrics bool

	// APIKey protects the API when non-empty.
	APIKey string

	// DataDir is the artifact store directory. Default: "./data/artifacts"
	DataDir string

	// InMemoryStore selects an in-memory artifact store (tests).
	InMemoryStore bool

	// SigningSecret signs artifact download URLs. If empty, signed
	// URLs are disabled and file downloads always 401.
	SigningSecret string

	// Model service endpoints. Empty endpoints disable their step.
	RouterURL       string
	HandDetectorURL string
	LegDetectorURL  string
	DiagnoserURL    string
	HospitalsURL    string

	// ClientTimeout bounds a single model service call.
	// Default: 60s
	ClientTimeout time.Duration

	// MaxConcurrent caps simultaneously processing requests.
	// Default: 8
	MaxConcurrent int64

	// CleanupInterval is how often finished requests are swept.
	// Default: 15 minutes
	CleanupInterval time.Duration

	// RetentionPeriod is how long finished requests are retained.
	// Default: 1 hour
	RetentionPeriod time.Duration
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data/artifacts"
	}
	if cfg.ClientTimeout == 0 {
		cfg.ClientTimeout = 60 * time.Second
	}
	if cfg.MaxConcurrent == 0 {
		cfg.MaxConcurrent = 8
	}
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = 15 * time.Minute
	}
	if cfg.RetentionPeriod == 0 {
		cfg.RetentionPeriod = time.Hour
	}
	return cfg
}

// =============================================================================
// Implementation
// =============================================================================

// service implements Service for production use.
//
// # Thread Safety
//
// Thread-safe after construction. All fields are read-only after New()
// returns.
type service struct {
	config        Config
	router        *gin.Engine
	engine        *pipeline.Orchestrator
	store         *artifacts.BadgerStore
	trail         *pipeline.AuditTrail
	metricsHook   *pipeline.AsyncHook
	tracerCleanup func(context.Context)
	sweepStop     chan struct{}
	sweepDone     chan struct{}
}

// =============================================================================
// Constructor
// =============================================================================

// New creates a triage Service with the given configuration.
//
// # Description
//
// New initializes all service components:
//  1. Applies default configuration for missing values
//  2. Initializes OpenTelemetry tracing (if an endpoint is configured)
//  3. Initializes Prometheus metrics
//  4. Opens the Badger-backed artifact store
//  5. Loads the default step policy table and creates the registry
//  6. Registers pipeline stages for every configured model endpoint
//  7. Builds the pipeline engine with audit and metrics hooks
//  8. Sets up HTTP routes
//
// # Inputs
//
//   - cfg: Service configuration. Zero values use defaults.
//
// # Outputs
//
//   - Service: Ready-to-run service
//   - error: Non-nil if initialization fails
func New(cfg Config) (Service, error) {
	s := &service{
		config:    applyConfigDefaults(cfg),
		sweepStop: make(chan struct{}),
		sweepDone: make(chan struct{}),
	}

	if s.config.OTelEndpoint != "" {
		cleanup, err := s.initTracer()
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracer: %w", err)
		}
		s.tracerCleanup = cleanup
	}

	var metrics *observability.PipelineMetrics
	if s.config.EnableMetrics {
		metrics = observability.InitMetrics()
		slog.Info("Initialized Prometheus metrics for pipeline")
	}

	if err := s.initStore(); err != nil {
		return nil, fmt.Errorf("failed to open artifact store: %w", err)
	}

	defaults, err := policy.Default()
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to load default policy: %w", err)
	}
	policies := policy.NewRegistry(defaults)

	stageRegistry := pipeline.NewStageRegistry()
	if err := stages.Register(stageRegistry, s.buildClients(), s.store); err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to register stages: %w", err)
	}

	s.trail = pipeline.NewAuditTrail()
	hooks := []pipeline.Hook{s.trail}
	if metrics != nil {
		// Metrics updates ride an async hook so a scrape stall can
		// never slow a request down.
		s.metricsHook = pipeline.NewAsyncHook(observability.NewMetricsHook(metrics), 1024)
		hooks = append(hooks, s.metricsHook)
	}

	s.engine, err = pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		MaxConcurrent: s.config.MaxConcurrent,
	}, stageRegistry, policies, s.store, hooks...)
	if err != nil {
		s.cleanup()
		return nil, fmt.Errorf("failed to build pipeline engine: %w", err)
	}

	s.initRouter(routes.Deps{
		Engine:     s.engine,
		Store:      s.store,
		Trail:      s.trail,
		Metrics:    metrics,
		ConfigHash: defaults.Hash(),
		Steps:      stageRegistry.Steps(),
		APIKey:     s.config.APIKey,
	})

	return s, nil
}

// =============================================================================
// Service Interface Methods
// =============================================================================

// Run starts the HTTP server and the retention sweeper, and blocks
// until the server stops. Cleanup is automatic on return.
func (s *service) Run() error {
	defer s.cleanup()

	go s.runSweeper()

	addr := fmt.Sprintf(":%d", s.config.Port)
	slog.Info("Starting triage server", "port", s.config.Port)
	return s.router.Run(addr)
}

// Router returns the underlying Gin engine for testing.
func (s *service) Router() *gin.Engine {
	return s.router
}

// =============================================================================
// Private Initialization Methods
// =============================================================================

func (s *service) initStore() error {
	var storeCfg artifacts.Config
	if s.config.InMemoryStore {
		storeCfg = artifacts.InMemoryConfig()
	} else {
		storeCfg = artifacts.DefaultConfig(s.config.DataDir)
	}
	if s.config.SigningSecret != "" {
		storeCfg.SigningSecret = []byte(s.config.SigningSecret)
	}
	storeCfg.Logger = slog.Default()

	store, err := artifacts.Open(storeCfg)
	if err != nil {
		return err
	}
	s.store = store
	return nil
}

// buildClients creates a model client per configured endpoint. Empty
// endpoints yield nil clients, leaving those steps unregistered.
func (s *service) buildClients() stages.Clients {
	c := stages.Clients{
		Renderer: clients.NewPDFRenderer(),
	}
	timeout := s.config.ClientTimeout
	if s.config.RouterURL != "" {
		c.Router = clients.NewHTTPRouter(s.config.RouterURL, timeout)
	}
	if s.config.HandDetectorURL != "" {
		c.HandDetector = clients.NewHTTPDetector(s.config.HandDetectorURL, timeout)
	}
	if s.config.LegDetectorURL != "" {
		c.LegDetector = clients.NewHTTPDetector(s.config.LegDetectorURL, timeout)
	}
	if s.config.DiagnoserURL != "" {
		c.Diagnoser = clients.NewHTTPDiagnoser(s.config.DiagnoserURL, timeout)
	}
	if s.config.HospitalsURL != "" {
		c.Hospitals = clients.NewHTTPLocator(s.config.HospitalsURL, timeout)
	}
	return c
}

func (s *service) initRouter(deps routes.Deps) {
	if s.config.GinMode != "" {
		gin.SetMode(s.config.GinMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("gdhs-orchestrator"))
	routes.SetupRoutes(router, deps)
	s.router = router
}

// initTracer initializes OpenTelemetry distributed tracing.
//
// Sets up an OTLP trace exporter over an insecure gRPC connection
// (appropriate for internal networks) and installs a batching tracer
// provider globally.
func (s *service) initTracer() (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(s.config.OTelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC connection: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("gdhs-orchestrator")))
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))

	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))

	cleanup := func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}
	return cleanup, nil
}

// runSweeper periodically evicts finished requests past retention.
func (s *service) runSweeper() {
	defer close(s.sweepDone)
	ticker := time.NewTicker(s.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			removed := s.engine.CleanupCompleted(context.Background(), s.config.RetentionPeriod)
			if removed > 0 {
				slog.Info("Swept finished requests", "removed", removed)
			}
		case <-s.sweepStop:
			return
		}
	}
}

func (s *service) cleanup() {
	select {
	case <-s.sweepStop:
	default:
		close(s.sweepStop)
	}
	if s.metricsHook != nil {
		s.metricsHook.Close()
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			slog.Error("failed to close artifact store", "error", err)
		}
	}
	if s.tracerCleanup != nil {
		s.tracerCleanup(context.Background())
	}
}
