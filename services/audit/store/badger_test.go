// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

func newTestBadger(t *testing.T) *BadgerStore {
	t.Helper()
	s, err := OpenBadger(InMemoryBadgerConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestBadgerStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	job := datatypes.NewJobRecord("job-1", "is this maintainable?")
	job.RecordStage("health_check", datatypes.StageResult{
		Status:         datatypes.StageSuccess,
		ElapsedSeconds: 1.5,
		ArtifactName:   "health_report.md",
	})
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.Question, got.Question)
	require.Contains(t, got.StageOutcomes, "health_check")
	assert.Equal(t, datatypes.StageSuccess, got.StageOutcomes["health_check"].Status)
	assert.Equal(t, []string{"health_check"}, got.StageOrder)
}

func TestBadgerStore_GetMissing(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	_, err := s.GetJob(ctx, "nope")
	assert.ErrorIs(t, err, ErrJobNotFound)

	_, err = s.GetArtifact(ctx, "nope", "health_report.md")
	assert.ErrorIs(t, err, ErrArtifactNotFound)
}

func TestBadgerStore_ArtifactScanAndDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestBadger(t)

	require.NoError(t, s.CreateJob(ctx, datatypes.NewJobRecord("job-1", "")))
	require.NoError(t, s.PutArtifact(ctx, "job-1", "health_report.md", "# Health\nREADY FOR ANALYSIS"))
	require.NoError(t, s.PutArtifact(ctx, "job-1", "risk_report.md", "# Risks"))

	// A second job with a prefix-overlapping id must not bleed into
	// job-1's scan.
	require.NoError(t, s.CreateJob(ctx, datatypes.NewJobRecord("job-10", "")))
	require.NoError(t, s.PutArtifact(ctx, "job-10", "health_report.md", "other"))

	artifacts, err := s.GetArtifacts(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, artifacts, 2)
	assert.Contains(t, artifacts["health_report.md"], "READY FOR ANALYSIS")

	require.NoError(t, s.DeleteJob(ctx, "job-1"))
	_, err = s.GetJob(ctx, "job-1")
	assert.ErrorIs(t, err, ErrJobNotFound)
	artifacts, err = s.GetArtifacts(ctx, "job-1")
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	// Other job untouched.
	other, err := s.GetArtifacts(ctx, "job-10")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	// Idempotent delete.
	require.NoError(t, s.DeleteJob(ctx, "job-1"))
}
