// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command orchestrator starts the GDHS fracture triage HTTP server.
//
// This is the main entry point for the containerized triage service.
// It reads configuration from environment variables and starts the
// server.
//
// # Environment Variables
//
//   - GDHS_PORT: HTTP server port (default: 8080)
//   - GDHS_API_KEY: API key protecting the API group (optional)
//   - GDHS_DATA_DIR: Artifact store directory (default: ./data/artifacts)
//   - GDHS_SIGNING_SECRET: Secret for signed artifact URLs (optional)
//   - GDHS_ROUTER_URL: Body part router endpoint (optional)
//   - GDHS_HAND_DETECTOR_URL: Hand detector endpoint (optional)
//   - GDHS_LEG_DETECTOR_URL: Leg detector endpoint (optional)
//   - GDHS_DIAGNOSER_URL: Diagnosis service endpoint (optional)
//   - GDHS_HOSPITALS_URL: Hospital lookup endpoint (optional)
//   - GDHS_LOG_DIR: Log file directory (optional; stderr only if unset)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OpenTelemetry collector (optional)
//
// # Usage
//
//	# Build
//	go build -o orchestrator ./cmd/orchestrator
//
//	# Run
//	./orchestrator
package main

import (
	"log"
	"os"
	"strconv"

	"github.com/tanishka786/GDHS/pkg/logging"
	"github.com/tanishka786/GDHS/services/orchestrator"
)

func main() {
	// Setup structured logging with redaction
	logger := logging.New(logging.Config{
		Service: "gdhs-orchestrator",
		LogDir:  os.Getenv("GDHS_LOG_DIR"),
		JSON:    true,
	})
	defer logger.Close()

	// Build configuration from environment variables
	cfg := orchestrator.Config{
		Port:            getEnvInt("GDHS_PORT", 8080),
		APIKey:          os.Getenv("GDHS_API_KEY"),
		DataDir:         getEnvString("GDHS_DATA_DIR", "./data/artifacts"),
		SigningSecret:   os.Getenv("GDHS_SIGNING_SECRET"),
		RouterURL:       os.Getenv("GDHS_ROUTER_URL"),
		HandDetectorURL: os.Getenv("GDHS_HAND_DETECTOR_URL"),
		LegDetectorURL:  os.Getenv("GDHS_LEG_DETECTOR_URL"),
		DiagnoserURL:    os.Getenv("GDHS_DIAGNOSER_URL"),
		HospitalsURL:    os.Getenv("GDHS_HOSPITALS_URL"),
		OTelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		EnableMetrics:   true,
	}

	logger.Info("Starting triage service",
		"port", cfg.Port,
		"data_dir", cfg.DataDir,
		"router_url", cfg.RouterURL,
		"hand_detector_url", cfg.HandDetectorURL,
		"leg_detector_url", cfg.LegDetectorURL,
	)

	svc, err := orchestrator.New(cfg)
	if err != nil {
		log.Fatalf("Failed to create service: %v", err)
	}

	// Run the server (blocks until shutdown)
	if err := svc.Run(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// getEnvString returns the environment variable value or a default.
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}
