// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import "time"

// SubmitResponse is returned by POST /v1/audit/jobs.
type SubmitResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse is returned by GET /v1/audit/jobs/:id/status.
// It is always answerable from the store and never blocks on the
// controller.
type StatusResponse struct {
	ID          string       `json:"id"`
	Status      JobStatus    `json:"status"`
	Progress    int          `json:"progress"`
	CurrentStep string       `json:"current_step_name"`
	Errors      []StageError `json:"errors"`
}

// ResultsResponse is returned by GET /v1/audit/jobs/:id/results once
// the job is terminal.
type ResultsResponse struct {
	ID          string            `json:"id"`
	Status      JobStatus         `json:"status"`
	Question    string            `json:"question,omitempty"`
	Artifacts   map[string]string `json:"artifacts"`
	Summary     string            `json:"summary,omitempty"`
	Errors      []StageError      `json:"errors"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// AskRequest is the body of POST /v1/audit/jobs/:id/ask.
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// AskResponse carries the synthesized answer to a follow-up question.
type AskResponse struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// ErrorResponse is the uniform error body for all audit endpoints.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
