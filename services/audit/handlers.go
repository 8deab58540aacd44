// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package audit exposes the job lifecycle HTTP API: submit a codebase,
// poll status, fetch results and artifacts, ask follow-up questions,
// and clean up.
package audit

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
	"github.com/AleutianAI/AleutianAudit/services/audit/pipeline"
	"github.com/AleutianAI/AleutianAudit/services/audit/store"
	"github.com/AleutianAI/AleutianAudit/services/audit/synth"
	"github.com/AleutianAI/AleutianAudit/services/audit/workspace"
)

// ServiceVersion is the audit service version.
const ServiceVersion = "0.1.0"

// MaxUploadBytes caps the uploaded codebase file (256MB).
const MaxUploadBytes = 256 * 1024 * 1024

// Handlers contains the HTTP handlers for the audit service.
//
// Thread Safety: safe for concurrent requests. All mutable job state
// lives in the store; the handlers themselves are read-only after
// construction.
type Handlers struct {
	store         store.JobStore
	controller    *pipeline.Controller
	synthesizer   synth.Synthesizer
	workspaceBase string
	limiter       *rate.Limiter
	logger        *slog.Logger
}

// NewHandlers creates handlers wired to the given store and controller.
// synthesizer may be nil; follow-up questions then use the
// deterministic template.
func NewHandlers(js store.JobStore, controller *pipeline.Controller,
	synthesizer synth.Synthesizer, workspaceBase string, logger *slog.Logger) *Handlers {

	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		store:         js,
		controller:    controller,
		synthesizer:   synthesizer,
		workspaceBase: workspaceBase,
		// Submissions spawn processes and disk writes; everything else
		// is a cheap store read, so only submit is rate limited.
		limiter: rate.NewLimiter(rate.Limit(2), 5),
		logger:  logger,
	}
}

// HandleSubmit handles POST /v1/audit/jobs.
//
// Description:
//
//	Accepts a multipart upload (field "file": a zip archive or a
//	single source file, optional field "question"), creates the job
//	record, and launches the pipeline in the background. The response
//	returns immediately with the job id; progress is observed via the
//	status endpoint.
//
// Response:
//
//	202 Accepted: SubmitResponse
//	400 Bad Request: No file or malformed archive
//	429 Too Many Requests: Submission rate exceeded
//	500 Internal Server Error: Workspace or store failure
func (h *Handlers) HandleSubmit(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleSubmit")

	if !h.limiter.Allow() {
		c.JSON(http.StatusTooManyRequests, datatypes.ErrorResponse{
			Error: "too many submissions, retry later",
			Code:  "RATE_LIMITED",
		})
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		logger.Warn("Submission without codebase file", "error", err)
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: ErrNoUpload.Error(),
			Code:  "NO_UPLOAD",
		})
		return
	}
	if fileHeader.Size > MaxUploadBytes {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: fmt.Sprintf("upload exceeds %d bytes", MaxUploadBytes),
			Code:  "UPLOAD_TOO_LARGE",
		})
		return
	}
	question := strings.TrimSpace(c.PostForm("question"))

	jobID := uuid.NewString()
	ws, err := workspace.Create(h.workspaceBase, jobID)
	if err != nil {
		logger.Error("Workspace creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "could not allocate workspace",
			Code:  "WORKSPACE_FAILED",
		})
		return
	}

	uploadPath := filepath.Join(ws.UploadDir, filepath.Base(fileHeader.Filename))
	if err := c.SaveUploadedFile(fileHeader, uploadPath); err != nil {
		_ = ws.Release()
		logger.Error("Saving upload failed", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "could not store upload",
			Code:  "UPLOAD_FAILED",
		})
		return
	}

	codebasePath, err := ws.PrepareCodebase(uploadPath)
	if err != nil {
		_ = ws.Release()
		logger.Warn("Codebase preparation failed", "error", err)
		status := http.StatusBadRequest
		code := "BAD_ARCHIVE"
		if !errors.Is(err, workspace.ErrPathTraversal) && !errors.Is(err, workspace.ErrArchiveTooLarge) {
			// os-level failures are ours, not the client's.
			status = http.StatusInternalServerError
			code = "EXTRACT_FAILED"
		}
		c.JSON(status, datatypes.ErrorResponse{Error: err.Error(), Code: code})
		return
	}

	job := datatypes.NewJobRecord(jobID, question)
	job.WorkspaceRoot = ws.Root
	job.CodebasePath = codebasePath
	job.OutputDir = ws.OutputDir

	if err := h.store.CreateJob(c.Request.Context(), job); err != nil {
		_ = ws.Release()
		logger.Error("Job creation failed", "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "could not create job",
			Code:  "CREATE_FAILED",
		})
		return
	}

	logger.Info("Job submitted",
		"job_id", jobID,
		"upload", fileHeader.Filename,
		"has_question", question != "")

	// The pipeline outlives this request; detach from its cancellation
	// but keep trace context.
	go h.controller.Execute(context.WithoutCancel(c.Request.Context()), jobID)

	c.JSON(http.StatusAccepted, datatypes.SubmitResponse{JobID: jobID})
}

// HandleStatus handles GET /v1/audit/jobs/:id/status.
//
// Response:
//
//	200 OK: StatusResponse
//	404 Not Found: Unknown job
func (h *Handlers) HandleStatus(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, datatypes.StatusResponse{
		ID:          job.ID,
		Status:      job.Status,
		Progress:    job.Progress,
		CurrentStep: job.CurrentStep,
		Errors:      job.Errors,
	})
}

// HandleResults handles GET /v1/audit/jobs/:id/results.
//
// Description:
//
//	Returns the full result set: every artifact plus the executive
//	brief. Only answerable once the job is terminal; a running job
//	returns 409 so clients keep polling status instead.
//
// Response:
//
//	200 OK: ResultsResponse
//	404 Not Found: Unknown job
//	409 Conflict: Job still running
func (h *Handlers) HandleResults(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{
			Error: ErrJobNotTerminal.Error(),
			Code:  "JOB_RUNNING",
		})
		return
	}

	artifacts, err := h.store.GetArtifacts(c.Request.Context(), job.ID)
	if err != nil {
		artifacts = map[string]string{}
	}

	c.JSON(http.StatusOK, datatypes.ResultsResponse{
		ID:          job.ID,
		Status:      job.Status,
		Question:    job.Question,
		Artifacts:   artifacts,
		Summary:     artifacts[pipeline.BriefArtifact],
		Errors:      job.Errors,
		CompletedAt: job.CompletedAt,
	})
}

// HandleArtifact handles GET /v1/audit/jobs/:id/artifacts/:name.
//
// Response:
//
//	200 OK: The raw artifact (text/markdown)
//	404 Not Found: Unknown job or artifact
func (h *Handlers) HandleArtifact(c *gin.Context) {
	jobID := c.Param("id")
	name := c.Param("name")

	content, err := h.store.GetArtifact(c.Request.Context(), jobID, name)
	if err != nil {
		code := "ARTIFACT_NOT_FOUND"
		if errors.Is(err, store.ErrJobNotFound) {
			code = "JOB_NOT_FOUND"
		}
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{Error: err.Error(), Code: code})
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(content))
}

// HandleArchive handles GET /v1/audit/jobs/:id/archive.
//
// Description:
//
//	Streams all artifacts of a terminal job as a single zip download.
//
// Response:
//
//	200 OK: application/zip
//	404 Not Found: Unknown job or no artifacts
//	409 Conflict: Job still running
func (h *Handlers) HandleArchive(c *gin.Context) {
	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{
			Error: ErrJobNotTerminal.Error(),
			Code:  "JOB_RUNNING",
		})
		return
	}

	artifacts, err := h.store.GetArtifacts(c.Request.Context(), job.ID)
	if err != nil || len(artifacts) == 0 {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
			Error: ErrNoArtifacts.Error(),
			Code:  "NO_ARTIFACTS",
		})
		return
	}

	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)

	c.Header("Content-Type", "application/zip")
	c.Header("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", "audit_"+job.ID+".zip"))
	c.Status(http.StatusOK)

	zw := zip.NewWriter(c.Writer)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			h.logger.Error("Archive entry failed", "job_id", job.ID, "artifact", name, "error", err)
			return
		}
		if _, err := w.Write([]byte(artifacts[name])); err != nil {
			h.logger.Error("Archive write failed", "job_id", job.ID, "artifact", name, "error", err)
			return
		}
	}
	if err := zw.Close(); err != nil {
		h.logger.Error("Archive close failed", "job_id", job.ID, "error", err)
	}
}

// HandleAsk handles POST /v1/audit/jobs/:id/ask.
//
// Description:
//
//	Answers a follow-up question against the stored artifacts of a
//	finished job. Synthesis failures fall back to the deterministic
//	template, so this endpoint always returns an answer for a known
//	terminal job.
//
// Request Body:
//
//	AskRequest
//
// Response:
//
//	200 OK: AskResponse
//	400 Bad Request: Missing question
//	404 Not Found: Unknown job
//	409 Conflict: Job still running
func (h *Handlers) HandleAsk(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleAsk")

	job, ok := h.loadJob(c)
	if !ok {
		return
	}
	if !job.Status.Terminal() {
		c.JSON(http.StatusConflict, datatypes.ErrorResponse{
			Error: ErrJobNotTerminal.Error(),
			Code:  "JOB_RUNNING",
		})
		return
	}

	var req datatypes.AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, datatypes.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	artifacts, err := h.store.GetArtifacts(c.Request.Context(), job.ID)
	if err != nil {
		artifacts = map[string]string{}
	}

	answer := ""
	if h.synthesizer != nil {
		answer, err = h.synthesizer.Synthesize(c.Request.Context(), artifacts, req.Question)
		if err != nil {
			logger.Warn("Follow-up synthesis failed, using template", "job_id", job.ID, "error", err)
			answer = ""
		}
	}
	if answer == "" {
		answer = synth.TemplateSummary(artifacts, req.Question)
	}

	c.JSON(http.StatusOK, datatypes.AskResponse{
		Question: req.Question,
		Answer:   answer,
	})
}

// HandleCleanup handles DELETE /v1/audit/jobs/:id.
//
// Description:
//
//	Removes the job record, its artifacts, and its workspace. Safe to
//	call while the job is still running: the pipeline observes the
//	deletion at its next persistence point and abandons the run.
//	Deleting an unknown job succeeds.
//
// Response:
//
//	200 OK: {"deleted": id}
func (h *Handlers) HandleCleanup(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := h.logger.With("request_id", requestID, "handler", "HandleCleanup")
	jobID := c.Param("id")

	workspaceRoot := ""
	if job, err := h.store.GetJob(c.Request.Context(), jobID); err == nil {
		workspaceRoot = job.WorkspaceRoot
	}

	if err := h.store.DeleteJob(c.Request.Context(), jobID); err != nil {
		logger.Error("Job deletion failed", "job_id", jobID, "error", err)
		c.JSON(http.StatusInternalServerError, datatypes.ErrorResponse{
			Error: "could not delete job",
			Code:  "DELETE_FAILED",
		})
		return
	}
	if workspaceRoot != "" {
		if err := os.RemoveAll(workspaceRoot); err != nil {
			logger.Warn("Workspace removal failed", "job_id", jobID, "error", err)
		}
	}

	logger.Info("Job cleaned up", "job_id", jobID)
	c.JSON(http.StatusOK, gin.H{"deleted": jobID})
}

// HandleHealth handles GET /health.
func (h *Handlers) HandleHealth(c *gin.Context) {
	durable := false
	if ts, ok := h.store.(*store.TieredStore); ok {
		durable = ts.Durable()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"version":         ServiceVersion,
		"durable_storage": durable,
	})
}

// HandleRoot handles GET /.
func (h *Handlers) HandleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "aleutian-audit",
		"version": ServiceVersion,
	})
}

// loadJob fetches the path job or writes the 404 itself.
func (h *Handlers) loadJob(c *gin.Context) (*datatypes.JobRecord, bool) {
	jobID := c.Param("id")
	job, err := h.store.GetJob(c.Request.Context(), jobID)
	if err != nil {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
			Error: fmt.Sprintf("job %s not found", jobID),
			Code:  "JOB_NOT_FOUND",
		})
		return nil, false
	}
	return job, true
}

func getOrCreateRequestID(c *gin.Context) string {
	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Header("X-Request-ID", requestID)
	return requestID
}
