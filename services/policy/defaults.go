// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	_ "embed"
	"fmt"

	"gopkg.in/yaml.v3"
)

// defaultPolicyYAML is the embedded default policy table. Embedding keeps
// the binary self-contained; there is no policy file to misplace in a
// deployment.
//
//go:embed defaults.yaml
var defaultPolicyYAML []byte

// policyFile mirrors the YAML document structure.
type policyFile struct {
	Version    string `yaml:"version"`
	Thresholds struct {
		RouterThreshold  float64 `yaml:"router_threshold"`
		DetectorScoreMin float64 `yaml:"detector_score_min"`
		NMSIoU           float64 `yaml:"nms_iou"`
		TriageRed        float64 `yaml:"triage_red"`
		TriageAmber      float64 `yaml:"triage_amber"`
		HighConfidence   float64 `yaml:"high_confidence"`
	} `yaml:"thresholds"`
	TriagePatterns struct {
		Red   []string `yaml:"red"`
		Amber []string `yaml:"amber"`
		Green []string `yaml:"green"`
	} `yaml:"triage_patterns"`
	Steps map[Step]StepPolicy `yaml:"steps"`
}

// Default builds the default Config from the embedded policy file.
//
// Returns an error if the embedded YAML is malformed or incomplete; that
// is a build defect, not a runtime condition.
func Default() (*Config, error) {
	var file policyFile
	if err := yaml.Unmarshal(defaultPolicyYAML, &file); err != nil {
		return nil, fmt.Errorf("unmarshal embedded policy file: %w", err)
	}
	if file.Version == "" {
		return nil, fmt.Errorf("embedded policy file has no version")
	}
	for _, step := range KnownSteps {
		if _, ok := file.Steps[step]; !ok {
			return nil, fmt.Errorf("embedded policy file missing step %s", step)
		}
	}

	cfg := &Config{
		Version:                 file.Version,
		RouterThreshold:         file.Thresholds.RouterThreshold,
		DetectorScoreMin:        file.Thresholds.DetectorScoreMin,
		NMSIoU:                  file.Thresholds.NMSIoU,
		TriageRedThreshold:      file.Thresholds.TriageRed,
		TriageAmberThreshold:    file.Thresholds.TriageAmber,
		HighConfidenceThreshold: file.Thresholds.HighConfidence,
		RedPatterns:             file.TriagePatterns.Red,
		AmberPatterns:           file.TriagePatterns.Amber,
		GreenPatterns:           file.TriagePatterns.Green,
		Steps:                   file.Steps,
	}
	cfg.hash = computeHash(cfg)
	return cfg, nil
}
