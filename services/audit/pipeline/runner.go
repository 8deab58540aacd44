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
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

// DefaultMaxOutputBytes caps captured stdout/stderr per stage.
const DefaultMaxOutputBytes = 4096

// waitGrace bounds how long a run may outlive its deadline when a
// descendant process inherits the stdout/stderr pipes and survives the
// kill. Without it cmd.Run blocks until the last pipe holder exits.
const waitGrace = 2 * time.Second

// Runner invokes one external analysis tool per stage, enforcing the
// stage timeout and capturing output. It never returns an error past
// its boundary: every failure mode is encoded in the StageResult so
// the controller can continue the pipeline regardless.
//
// Thread Safety: safe for concurrent use. Each run creates its own
// process.
type Runner struct {
	toolsDir  string
	maxOutput int
	logger    *slog.Logger
}

// NewRunner creates a runner that resolves tool targets inside
// toolsDir.
func NewRunner(toolsDir string, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		toolsDir:  toolsDir,
		maxOutput: DefaultMaxOutputBytes,
		logger:    logger,
	}
}

// Run executes the stage's tool against codebasePath, directing the
// report to outputPath.
//
// Target resolution tries stage.Targets in order and runs the first
// candidate that exists on disk. If none exists, the result is
// StageSkipped. A process exceeding the stage budget is forcibly
// terminated and reported as StageTimeout with elapsed ≈ the budget.
// A non-zero exit is StageFailed; a spawn failure is StageErrored.
func (r *Runner) Run(ctx context.Context, stage StageDef, codebasePath, outputPath string) datatypes.StageResult {
	toolPath, found := r.resolveTarget(stage)
	if !found {
		r.logger.Warn("no runnable target for stage, skipping",
			"stage", stage.Name, "targets", stage.Targets)
		return datatypes.StageResult{Status: datatypes.StageSkipped}
	}

	runCtx, cancel := context.WithTimeout(ctx, stage.Timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, toolPath, codebasePath, "--output", outputPath)
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")
	cmd.WaitDelay = waitGrace

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: r.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	r.logger.Debug("Executing stage tool",
		slog.String("stage", stage.Name),
		slog.String("tool", toolPath),
		slog.Duration("timeout", stage.Timeout()),
	)

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	result := datatypes.StageResult{
		ElapsedSeconds: elapsed.Seconds(),
		StdoutExcerpt:  stdout.String(),
		StderrExcerpt:  stderr.String(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		result.Status = datatypes.StageTimeout
		r.logger.Warn("stage timed out",
			"stage", stage.Name, "timeout", stage.Timeout())
	case err == nil:
		result.Status = datatypes.StageSuccess
		result.ArtifactName = stage.Artifact
	default:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.Status = datatypes.StageFailed
			r.logger.Warn("stage exited non-zero",
				"stage", stage.Name, "exit_code", exitErr.ExitCode())
		} else {
			// The process never started (permissions, bad interpreter).
			result.Status = datatypes.StageErrored
			result.StderrExcerpt = err.Error()
			r.logger.Error("stage tool could not be executed",
				"stage", stage.Name, "tool", toolPath, "error", err)
		}
	}

	stageDurationHistogram.WithLabelValues(stage.Name, string(result.Status)).
		Observe(elapsed.Seconds())
	return result
}

// resolveTarget returns the first existing candidate, tried in order.
func (r *Runner) resolveTarget(stage StageDef) (string, bool) {
	for _, target := range stage.Targets {
		path := filepath.Join(r.toolsDir, target)
		info, err := os.Stat(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				r.logger.Warn("stat tool candidate failed",
					"stage", stage.Name, "tool", path, "error", err)
			}
			continue
		}
		if info.IsDir() {
			continue
		}
		return path, true
	}
	return "", false
}

// limitedWriter wraps a writer with a size limit, discarding the
// excess so tool output cannot balloon the job record.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	origLen := len(p)
	if lw.written >= lw.limit {
		lw.truncated = true
		return origLen, nil
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	return origLen, err // Report full length so the process is not broken mid-pipe.
}
