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
	"os"
	"path/filepath"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
	"github.com/AleutianAI/AleutianAudit/services/audit/report"
	"github.com/AleutianAI/AleutianAudit/services/audit/store"
	"github.com/AleutianAI/AleutianAudit/services/audit/synth"
)

// Artifact names produced by the controller itself, outside the stage
// table.
const (
	BriefArtifact      = "executive_brief.md"
	FullReportArtifact = "full_report.md"
)

// Controller drives one job through the stage table sequentially.
//
// A Controller instance is shared across jobs, but each Execute call
// is the single writer for its job record: all communication with the
// triggering request and with pollers goes through the store.
//
// Thread Safety: safe for concurrent Execute calls on distinct job
// ids.
type Controller struct {
	store       store.JobStore
	stages      []StageDef
	runner      *Runner
	synthesizer synth.Synthesizer
	logger      *slog.Logger
}

// NewController creates a controller. synthesizer may be nil, in which
// case every synthesis uses the deterministic template.
func NewController(js store.JobStore, stages []StageDef, runner *Runner,
	synthesizer synth.Synthesizer, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		store:       js,
		stages:      stages,
		runner:      runner,
		synthesizer: synthesizer,
		logger:      logger,
	}
}

// Stages returns the controller's stage table.
func (c *Controller) Stages() []StageDef {
	return c.stages
}

// loggerWithTrace returns a logger enriched with trace context.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// Execute runs the job to completion. It is meant to be launched as
// its own goroutine; the triggering request returns immediately after
// creating the record.
//
// Per-stage failures are recorded and never abort the pipeline. The
// only path that prevents remaining stages from running is a fatal
// submission error (the codebase root cannot be read at all). A job
// deleted mid-run is abandoned silently.
func (c *Controller) Execute(ctx context.Context, jobID string) {
	tracer := otel.Tracer("audit/pipeline")
	ctx, span := tracer.Start(ctx, "pipeline.Execute",
		trace.WithAttributes(attribute.String("audit.job_id", jobID)))
	defer span.End()

	jobsStartedTotal.Inc()
	activeJobsGauge.Inc()
	defer activeJobsGauge.Dec()

	logger := loggerWithTrace(ctx, c.logger).With("job_id", jobID)

	job, err := c.store.GetJob(ctx, jobID)
	if err != nil {
		logger.Error("job vanished before execution started", "error", err)
		span.SetStatus(codes.Error, "job not found")
		return
	}

	if err := checkCodebase(job.CodebasePath); err != nil {
		logger.Error("fatal submission error, pipeline will not run", "error", err)
		c.finalize(ctx, job, datatypes.JobStatusError, err.Error(), logger)
		span.SetStatus(codes.Error, "fatal submission error")
		return
	}
	if err := os.MkdirAll(job.OutputDir, 0750); err != nil {
		logger.Error("cannot create output directory", "error", err)
		c.finalize(ctx, job, datatypes.JobStatusError,
			fmt.Sprintf("create output directory: %v", err), logger)
		span.SetStatus(codes.Error, "output directory")
		return
	}

	job.Status = datatypes.JobStatusRunning
	if !c.persist(ctx, job, logger) {
		return
	}
	logger.Info("pipeline started", "stages", len(c.stages))

	for _, stage := range c.stages {
		job.CurrentStep = stage.Label
		job.SetProgress(stage.Checkpoint)
		if !c.persist(ctx, job, logger) {
			return
		}

		result := c.runStage(ctx, tracer, stage, job, logger)

		job.RecordStage(stage.Name, result)
		if result.Status != datatypes.StageSuccess {
			job.AppendError(stage.Name, describeOutcome(stage, result))
		}
		if !c.persist(ctx, job, logger) {
			return
		}
	}

	if job.Question != "" {
		job.CurrentStep = "Generating executive brief"
		job.SetProgress(95)
		if !c.persist(ctx, job, logger) {
			return
		}
		brief := c.synthesize(ctx, jobID, job.Question, logger)
		if err := c.store.PutArtifact(ctx, jobID, BriefArtifact, brief); err != nil {
			if errors.Is(err, store.ErrJobNotFound) {
				logger.Info("job deleted while executing, abandoning run")
				return
			}
			logger.Error("persist executive brief failed", "error", err)
		}
	}

	job.CurrentStep = "Analysis complete"
	job.SetProgress(100)
	c.finalize(ctx, job, datatypes.JobStatusCompleted, "", logger)

	c.aggregate(ctx, job, logger)
	logger.Info("pipeline finished",
		"status", job.Status, "errors", len(job.Errors))
}

// runStage executes one stage under its own span and harvests the
// artifact on success.
func (c *Controller) runStage(ctx context.Context, tracer trace.Tracer, stage StageDef,
	job *datatypes.JobRecord, logger *slog.Logger) datatypes.StageResult {

	stageCtx, stageSpan := tracer.Start(ctx, "pipeline.stage",
		trace.WithAttributes(
			attribute.String("audit.stage", stage.Name),
			attribute.Int("audit.timeout_seconds", stage.TimeoutSeconds),
		))
	defer stageSpan.End()

	outputPath := filepath.Join(job.OutputDir, stage.Artifact)
	result := c.runner.Run(stageCtx, stage, job.CodebasePath, outputPath)
	stageSpan.SetAttributes(attribute.String("audit.stage_status", string(result.Status)))

	logger.Info("stage finished",
		"stage", stage.Name,
		"status", result.Status,
		"elapsed_seconds", result.ElapsedSeconds,
	)

	if result.Status != datatypes.StageSuccess {
		stageSpan.SetStatus(codes.Error, string(result.Status))
		return result
	}

	// An artifact is persisted iff the stage succeeded and actually
	// produced output.
	content, err := os.ReadFile(outputPath)
	if err != nil || len(content) == 0 {
		logger.Warn("stage succeeded but produced no artifact",
			"stage", stage.Name, "path", outputPath)
		result.ArtifactName = ""
		return result
	}
	if err := c.store.PutArtifact(ctx, job.ID, stage.Artifact, string(content)); err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			logger.Error("persist artifact failed", "stage", stage.Name, "error", err)
		}
	}
	return result
}

// synthesize produces the executive brief, falling back to the
// deterministic template on any synthesizer failure, including an
// absent synthesizer. The fallback always yields non-empty output.
func (c *Controller) synthesize(ctx context.Context, jobID, question string, logger *slog.Logger) string {
	artifacts, err := c.store.GetArtifacts(ctx, jobID)
	if err != nil {
		artifacts = map[string]string{}
	}
	if c.synthesizer != nil {
		brief, serr := c.synthesizer.Synthesize(ctx, artifacts, question)
		if serr == nil {
			return brief
		}
		logger.Warn("synthesis failed, using template fallback", "error", serr)
	}
	synthesisFallbackTotal.Inc()
	return synth.TemplateSummary(artifacts, question)
}

// aggregate builds and persists the consolidated document.
func (c *Controller) aggregate(ctx context.Context, job *datatypes.JobRecord, logger *slog.Logger) {
	artifacts, err := c.store.GetArtifacts(ctx, job.ID)
	if err != nil {
		logger.Warn("cannot load artifacts for aggregation", "error", err)
		return
	}

	summary := artifacts[BriefArtifact]
	if summary == "" {
		summary = synth.TemplateSummary(artifacts, job.Question)
	}

	sections := make([]report.Section, 0, len(c.stages))
	for _, stage := range c.stages {
		content, ok := artifacts[stage.Artifact]
		if !ok {
			continue
		}
		sections = append(sections, report.Section{Title: stage.Label, Content: content})
	}

	doc := report.Aggregate(job, summary, sections)
	if err := c.store.PutArtifact(ctx, job.ID, FullReportArtifact, doc); err != nil {
		if !errors.Is(err, store.ErrJobNotFound) {
			logger.Error("persist consolidated report failed", "error", err)
		}
	}
}

// finalize transitions the job to a terminal status and persists it.
func (c *Controller) finalize(ctx context.Context, job *datatypes.JobRecord,
	status datatypes.JobStatus, message string, logger *slog.Logger) {

	if message != "" {
		job.AppendError("submission", message)
		job.CurrentStep = "Analysis failed"
	}
	job.Complete(status)
	c.persist(ctx, job, logger)
	jobsFinishedTotal.WithLabelValues(string(status)).Inc()
}

// persist writes the record and reports whether execution should
// continue. A deleted job is tolerated as a no-op stop signal.
func (c *Controller) persist(ctx context.Context, job *datatypes.JobRecord, logger *slog.Logger) bool {
	if err := c.store.UpdateJob(ctx, job); err != nil {
		if errors.Is(err, store.ErrJobNotFound) {
			logger.Info("job deleted while executing, abandoning run")
			return false
		}
		logger.Error("persist job state failed", "error", err)
	}
	return true
}

// checkCodebase verifies the submitted codebase root is a readable
// directory. Failure here is the fatal submission path.
func checkCodebase(path string) error {
	if path == "" {
		return errors.New("no codebase path recorded for job")
	}
	if _, err := os.ReadDir(path); err != nil {
		return fmt.Errorf("codebase path unreadable: %w", err)
	}
	return nil
}

// describeOutcome renders a stage outcome as an error-list entry.
func describeOutcome(stage StageDef, res datatypes.StageResult) string {
	switch res.Status {
	case datatypes.StageTimeout:
		return fmt.Sprintf("timed out after %ds", stage.TimeoutSeconds)
	case datatypes.StageSkipped:
		return "no runnable tool found"
	case datatypes.StageErrored:
		return fmt.Sprintf("could not execute tool: %s", res.StderrExcerpt)
	default:
		msg := "tool exited non-zero"
		if res.StderrExcerpt != "" {
			msg += ": " + firstLine(res.StderrExcerpt)
		}
		return msg
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}
