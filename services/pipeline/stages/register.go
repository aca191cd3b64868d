// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package stages

import (
	"github.com/tanishka786/GDHS/services/artifacts"
	"github.com/tanishka786/GDHS/services/pipeline"
	"github.com/tanishka786/GDHS/services/policy"
)

// Clients bundles the external collaborators the stages depend on. Any
// nil client leaves its step unregistered; the orchestrator then skips
// that step with a "no handler" record instead of failing the request.
type Clients struct {
	Router       Router
	HandDetector Detector
	LegDetector  Detector
	Diagnoser    Diagnoser
	Renderer     ReportRenderer
	Hospitals    HospitalLocator
}

// Register wires the standard stage set into a registry. Validation and
// triage need no external client and are always registered.
func Register(registry *pipeline.StageRegistry, clients Clients, store artifacts.Store) error {
	if err := registry.Register(policy.StepValidate, NewValidateStage(0)); err != nil {
		return err
	}
	if clients.Router != nil {
		if err := registry.Register(policy.StepRoute, NewRouteStage(clients.Router, store)); err != nil {
			return err
		}
	}
	if clients.HandDetector != nil {
		if err := registry.Register(policy.StepDetectHand, NewDetectStage(clients.HandDetector, store, "hand")); err != nil {
			return err
		}
	}
	if clients.LegDetector != nil {
		if err := registry.Register(policy.StepDetectLeg, NewDetectStage(clients.LegDetector, store, "leg")); err != nil {
			return err
		}
	}
	if err := registry.Register(policy.StepTriage, NewTriageStage(store)); err != nil {
		return err
	}
	if clients.Diagnoser != nil {
		if err := registry.Register(policy.StepDiagnose, NewDiagnoseStage(clients.Diagnoser)); err != nil {
			return err
		}
	}
	if clients.Renderer != nil {
		if err := registry.Register(policy.StepReport, NewReportStage(clients.Renderer, store)); err != nil {
			return err
		}
	}
	if clients.Hospitals != nil {
		if err := registry.Register(policy.StepHospitals, NewHospitalStage(clients.Hospitals, 0)); err != nil {
			return err
		}
	}
	return nil
}
