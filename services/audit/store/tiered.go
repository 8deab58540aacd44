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
	"errors"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

var (
	durableWriteFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_store_durable_write_failures_total",
		Help: "Durable-tier writes that were swallowed and served by memory only",
	})

	durableReadFallbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_store_durable_read_fallbacks_total",
		Help: "Reads that degraded from the durable tier to the memory tier",
	})
)

// TieredStore composes the always-available memory tier with an
// optional durable tier.
//
// Precedence rules:
//   - Writes land in memory first (creation always registers in-memory
//     first), then mirror to the durable tier best-effort. A durable
//     write failure is logged and swallowed.
//   - Reads prefer the durable tier and fall back to memory on any
//     durable error. The schema is identical regardless of which tier
//     answered.
//   - Not-found is authoritative only when both tiers agree.
type TieredStore struct {
	memory  *MemoryStore
	durable JobStore // nil when unconfigured
	logger  *slog.Logger
}

var _ JobStore = (*TieredStore)(nil)

// NewTieredStore creates a tiered store. durable may be nil, in which
// case the memory tier is the sole source of truth.
func NewTieredStore(durable JobStore, logger *slog.Logger) *TieredStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &TieredStore{
		memory:  NewMemoryStore(),
		durable: durable,
		logger:  logger,
	}
}

// Durable reports whether a durable tier is configured.
func (s *TieredStore) Durable() bool {
	return s.durable != nil
}

// CreateJob registers the job in memory, then mirrors it durably.
func (s *TieredStore) CreateJob(ctx context.Context, job *datatypes.JobRecord) error {
	if err := s.memory.CreateJob(ctx, job); err != nil {
		return err
	}
	s.mirror(ctx, job.ID, "create", func() error {
		return s.durable.CreateJob(ctx, job)
	})
	return nil
}

// UpdateJob replaces the record in memory, then mirrors it durably.
// ErrJobNotFound from the memory tier means the job was deleted while
// executing; the caller must treat it as a stop signal, not a crash.
func (s *TieredStore) UpdateJob(ctx context.Context, job *datatypes.JobRecord) error {
	if err := s.memory.UpdateJob(ctx, job); err != nil {
		return err
	}
	s.mirror(ctx, job.ID, "update", func() error {
		return s.durable.UpdateJob(ctx, job)
	})
	return nil
}

// GetJob reads durable-first with silent memory fallback.
func (s *TieredStore) GetJob(ctx context.Context, id string) (*datatypes.JobRecord, error) {
	if s.durable == nil {
		return s.memory.GetJob(ctx, id)
	}

	job, err := s.durable.GetJob(ctx, id)
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, ErrJobNotFound) {
		durableReadFallbacks.Inc()
		s.logger.Warn("durable tier read failed, serving from memory",
			"job_id", id, "error", err)
	}
	// Durable miss or failure: the memory tier decides. A not-found
	// here means both tiers agree (or the durable tier cannot answer
	// and memory has nothing either).
	return s.memory.GetJob(ctx, id)
}

// PutArtifact stores in memory, then mirrors durably.
func (s *TieredStore) PutArtifact(ctx context.Context, jobID, name, content string) error {
	if err := s.memory.PutArtifact(ctx, jobID, name, content); err != nil {
		return err
	}
	s.mirror(ctx, jobID, "put_artifact", func() error {
		return s.durable.PutArtifact(ctx, jobID, name, content)
	})
	return nil
}

// GetArtifact reads durable-first with silent memory fallback.
func (s *TieredStore) GetArtifact(ctx context.Context, jobID, name string) (string, error) {
	if s.durable == nil {
		return s.memory.GetArtifact(ctx, jobID, name)
	}
	content, err := s.durable.GetArtifact(ctx, jobID, name)
	if err == nil {
		return content, nil
	}
	if !errors.Is(err, ErrArtifactNotFound) && !errors.Is(err, ErrJobNotFound) {
		durableReadFallbacks.Inc()
		s.logger.Warn("durable tier artifact read failed, serving from memory",
			"job_id", jobID, "artifact", name, "error", err)
	}
	return s.memory.GetArtifact(ctx, jobID, name)
}

// GetArtifacts reads durable-first; an empty durable result also falls
// back so a job still executing with a failing durable tier keeps
// serving coherent results.
func (s *TieredStore) GetArtifacts(ctx context.Context, jobID string) (map[string]string, error) {
	if s.durable == nil {
		return s.memory.GetArtifacts(ctx, jobID)
	}
	artifacts, err := s.durable.GetArtifacts(ctx, jobID)
	if err == nil && len(artifacts) > 0 {
		return artifacts, nil
	}
	if err != nil {
		durableReadFallbacks.Inc()
		s.logger.Warn("durable tier artifact scan failed, serving from memory",
			"job_id", jobID, "error", err)
	}
	memArtifacts, memErr := s.memory.GetArtifacts(ctx, jobID)
	if memErr != nil {
		if err == nil {
			// Durable answered (empty) and memory has no entry:
			// trust the durable tier.
			return artifacts, nil
		}
		return nil, memErr
	}
	return memArtifacts, nil
}

// DeleteJob removes the job from both tiers. A durable failure is
// logged but does not mask the memory deletion; cleanup is idempotent
// so a retry can finish the durable side later.
func (s *TieredStore) DeleteJob(ctx context.Context, id string) error {
	if err := s.memory.DeleteJob(ctx, id); err != nil {
		return err
	}
	s.mirror(ctx, id, "delete", func() error {
		return s.durable.DeleteJob(ctx, id)
	})
	return nil
}

// mirror runs a durable-tier write and swallows its failure. It never
// aborts the caller's stage loop.
func (s *TieredStore) mirror(_ context.Context, jobID, op string, fn func() error) {
	if s.durable == nil {
		return
	}
	if err := fn(); err != nil {
		durableWriteFailures.Inc()
		s.logger.Warn("durable tier write failed, continuing on memory tier",
			"job_id", jobID, "op", op, "error", err)
	}
}
