// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline drives one audit job through the ordered stage
// table: it resolves and executes the external analysis tools, records
// per-stage outcomes, and persists progress after every stage.
package pipeline

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MaxStagesFileSize caps the stage table override file (1MB).
// Prevents memory issues from a mistaken or hostile file.
const MaxStagesFileSize = 1024 * 1024

// StageDef describes one pipeline stage. The table is read-only after
// load; a StageDef is always passed by value.
type StageDef struct {
	// Name is the unique stage key used in stage_outcomes and errors.
	Name string `yaml:"name"`

	// Label is the human-readable step name surfaced while the stage
	// is in flight.
	Label string `yaml:"label"`

	// Targets is the ordered list of candidate tool executables,
	// resolved relative to the tools directory. The first target that
	// exists runs; if none exists the stage is skipped.
	Targets []string `yaml:"targets"`

	// Artifact is the report filename the tool writes via --output.
	Artifact string `yaml:"artifact"`

	// TimeoutSeconds is the stage's execution budget.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Checkpoint is the progress value reported while this stage is
	// in flight. The schedule is configuration, not derived from the
	// stage count.
	Checkpoint int `yaml:"checkpoint"`

	// Required is informational only; a failing required stage still
	// does not abort the pipeline.
	Required bool `yaml:"required"`
}

// Timeout returns the stage budget as a duration.
func (s StageDef) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// DefaultStages returns the built-in six-stage audit table. Checkpoint
// values follow the reference apportionment.
func DefaultStages() []StageDef {
	return []StageDef{
		{
			Name:           "health_check",
			Label:          "Checking codebase health",
			Targets:        []string{"health_check"},
			Artifact:       "health_report.md",
			TimeoutSeconds: 60,
			Checkpoint:     10,
			Required:       true,
		},
		{
			Name:           "structure_map",
			Label:          "Mapping folder structure",
			Targets:        []string{"structure_map"},
			Artifact:       "structure_report.md",
			TimeoutSeconds: 120,
			Checkpoint:     25,
			Required:       true,
		},
		{
			Name:           "business_glossary",
			Label:          "Building business glossary",
			Targets:        []string{"business_glossary_ai", "business_glossary"},
			Artifact:       "glossary_report.md",
			TimeoutSeconds: 300,
			Checkpoint:     45,
		},
		{
			Name:           "data_flows",
			Label:          "Tracing data flows",
			Targets:        []string{"data_flows"},
			Artifact:       "flow_report.md",
			TimeoutSeconds: 300,
			Checkpoint:     60,
		},
		{
			Name:           "risk_scan",
			Label:          "Scanning for risks",
			Targets:        []string{"risk_scan"},
			Artifact:       "risk_report.md",
			TimeoutSeconds: 300,
			Checkpoint:     75,
		},
		{
			Name:           "coverage_audit",
			Label:          "Auditing test coverage",
			Targets:        []string{"coverage_audit"},
			Artifact:       "coverage_report.md",
			TimeoutSeconds: 180,
			Checkpoint:     90,
		},
	}
}

type stagesFile struct {
	Stages []StageDef `yaml:"stages"`
}

// LoadStages reads a stage table override from a YAML file. The table
// is validated before being returned; a bad table fails at startup,
// never mid-job.
func LoadStages(path string) ([]StageDef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat stages file %s: %w", path, err)
	}
	if info.Size() > MaxStagesFileSize {
		return nil, fmt.Errorf("stages file %s exceeds %d bytes", path, MaxStagesFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read stages file %s: %w", path, err)
	}

	var f stagesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse stages file %s: %w", path, err)
	}
	if err := ValidateStages(f.Stages); err != nil {
		return nil, fmt.Errorf("invalid stages file %s: %w", path, err)
	}
	return f.Stages, nil
}

// ValidateStages checks the table invariants: non-empty, unique stage
// and artifact names, at least one target per stage, positive
// timeouts, and a strictly increasing checkpoint schedule capped at 95
// (the synthesis step reports 95 and finalization reports 100).
func ValidateStages(stages []StageDef) error {
	if len(stages) == 0 {
		return fmt.Errorf("stage table is empty")
	}
	names := make(map[string]bool, len(stages))
	artifacts := make(map[string]bool, len(stages))
	prevCheckpoint := 0
	for i, s := range stages {
		if s.Name == "" {
			return fmt.Errorf("stage %d has no name", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate stage name %q", s.Name)
		}
		names[s.Name] = true

		if len(s.Targets) == 0 {
			return fmt.Errorf("stage %q has no targets", s.Name)
		}
		if s.Artifact == "" {
			return fmt.Errorf("stage %q has no artifact name", s.Name)
		}
		if artifacts[s.Artifact] {
			return fmt.Errorf("duplicate artifact name %q", s.Artifact)
		}
		artifacts[s.Artifact] = true

		if s.TimeoutSeconds <= 0 {
			return fmt.Errorf("stage %q has non-positive timeout", s.Name)
		}
		if s.Checkpoint <= prevCheckpoint {
			return fmt.Errorf("stage %q checkpoint %d is not strictly increasing", s.Name, s.Checkpoint)
		}
		if s.Checkpoint > 95 {
			return fmt.Errorf("stage %q checkpoint %d exceeds 95", s.Name, s.Checkpoint)
		}
		prevCheckpoint = s.Checkpoint
	}
	return nil
}
