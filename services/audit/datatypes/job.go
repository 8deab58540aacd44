// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes defines the job and stage records shared by the
// audit pipeline, persistence tiers, and HTTP handlers.
package datatypes

import "time"

// JobStatus is the lifecycle state of an analysis job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusError     JobStatus = "error"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusError
}

// StageStatus is the outcome classification of one pipeline stage.
type StageStatus string

const (
	StageSuccess StageStatus = "success"
	StageFailed  StageStatus = "failed"
	StageTimeout StageStatus = "timeout"
	StageSkipped StageStatus = "skipped"
	StageErrored StageStatus = "error"
)

// StageResult records the outcome of one stage execution.
type StageResult struct {
	Status         StageStatus `json:"status"`
	ElapsedSeconds float64     `json:"elapsed_seconds"`
	StdoutExcerpt  string      `json:"stdout_excerpt,omitempty"`
	StderrExcerpt  string      `json:"stderr_excerpt,omitempty"`
	ArtifactName   string      `json:"artifact_name,omitempty"`
}

// StageError is one entry in a job's error list. Entries are
// append-only and never removed.
type StageError struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// JobRecord is the mutable state of one pipeline run.
//
// A JobRecord is mutated by exactly one Controller goroutine
// (single-writer). All other parties observe it through the store,
// which hands out copies.
type JobRecord struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"current_step_name"`
	Question    string    `json:"question,omitempty"`

	// StageOrder preserves execution order for StageOutcomes, which a
	// JSON map would lose.
	StageOrder    []string               `json:"stage_order,omitempty"`
	StageOutcomes map[string]StageResult `json:"stage_outcomes,omitempty"`
	Errors        []StageError           `json:"errors,omitempty"`

	// Filesystem scope for the run. Meaningful only on the host that
	// created the job; cleared by cleanup.
	WorkspaceRoot string `json:"workspace_root,omitempty"`
	CodebasePath  string `json:"codebase_path,omitempty"`
	OutputDir     string `json:"output_dir,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// NewJobRecord creates a pending record with the given identity.
func NewJobRecord(id, question string) *JobRecord {
	return &JobRecord{
		ID:            id,
		Status:        JobStatusPending,
		Progress:      0,
		CurrentStep:   "Queued for analysis",
		Question:      question,
		StageOutcomes: make(map[string]StageResult),
		CreatedAt:     time.Now().UTC(),
	}
}

// RecordStage stores the result for a stage, preserving insertion
// order. Recording the same stage twice overwrites the result without
// duplicating the order entry.
func (j *JobRecord) RecordStage(name string, res StageResult) {
	if j.StageOutcomes == nil {
		j.StageOutcomes = make(map[string]StageResult)
	}
	if _, seen := j.StageOutcomes[name]; !seen {
		j.StageOrder = append(j.StageOrder, name)
	}
	j.StageOutcomes[name] = res
}

// AppendError appends to the job's error list.
func (j *JobRecord) AppendError(stage, message string) {
	j.Errors = append(j.Errors, StageError{Stage: stage, Message: message})
}

// SetProgress advances progress. Progress is monotonically
// non-decreasing; a lower value is ignored.
func (j *JobRecord) SetProgress(p int) {
	if p > j.Progress {
		j.Progress = p
	}
}

// Complete transitions the record to a terminal status and stamps
// CompletedAt exactly once.
func (j *JobRecord) Complete(status JobStatus) {
	j.Status = status
	if j.CompletedAt == nil {
		now := time.Now().UTC()
		j.CompletedAt = &now
	}
}

// Clone returns a deep copy. Stores hand out clones so that no caller
// can mutate another caller's view of the record.
func (j *JobRecord) Clone() *JobRecord {
	if j == nil {
		return nil
	}
	cp := *j
	if j.StageOrder != nil {
		cp.StageOrder = append([]string(nil), j.StageOrder...)
	}
	if j.StageOutcomes != nil {
		cp.StageOutcomes = make(map[string]StageResult, len(j.StageOutcomes))
		for k, v := range j.StageOutcomes {
			cp.StageOutcomes[k] = v
		}
	}
	if j.Errors != nil {
		cp.Errors = append([]StageError(nil), j.Errors...)
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
