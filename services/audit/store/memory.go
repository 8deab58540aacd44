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
	"sync"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

// MemoryStore is the volatile tier. It owns an explicit arena of job
// entries keyed by job id; entries exist only for the process
// lifetime.
//
// Thread Safety: safe for concurrent use.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]*memoryEntry
}

type memoryEntry struct {
	job       *datatypes.JobRecord
	artifacts map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]*memoryEntry)}
}

// CreateJob registers a new job. Fails with ErrJobExists on id reuse.
func (s *MemoryStore) CreateJob(_ context.Context, job *datatypes.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[job.ID]; ok {
		return ErrJobExists
	}
	s.jobs[job.ID] = &memoryEntry{
		job:       job.Clone(),
		artifacts: make(map[string]string),
	}
	return nil
}

// UpdateJob replaces the stored record. Returns ErrJobNotFound if the
// job has been deleted; the controller treats that as a signal to stop
// persisting, not as a failure.
func (s *MemoryStore) UpdateJob(_ context.Context, job *datatypes.JobRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[job.ID]
	if !ok {
		return ErrJobNotFound
	}
	entry.job = job.Clone()
	return nil
}

// GetJob returns a clone of the stored record.
func (s *MemoryStore) GetJob(_ context.Context, id string) (*datatypes.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return entry.job.Clone(), nil
}

// PutArtifact stores artifact text under (jobID, name).
func (s *MemoryStore) PutArtifact(_ context.Context, jobID, name, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	entry.artifacts[name] = content
	return nil
}

// GetArtifact returns one artifact's text.
func (s *MemoryStore) GetArtifact(_ context.Context, jobID, name string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return "", ErrJobNotFound
	}
	content, ok := entry.artifacts[name]
	if !ok {
		return "", ErrArtifactNotFound
	}
	return content, nil
}

// GetArtifacts returns a copy of the job's artifact map.
func (s *MemoryStore) GetArtifacts(_ context.Context, jobID string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrJobNotFound
	}
	out := make(map[string]string, len(entry.artifacts))
	for k, v := range entry.artifacts {
		out[k] = v
	}
	return out, nil
}

// DeleteJob removes the job and its artifacts. Idempotent.
func (s *MemoryStore) DeleteJob(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, id)
	return nil
}
