// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store implements the two-tier persistence adapter for audit
// jobs and their artifacts.
//
// Two concrete backends implement JobStore: an always-available
// in-memory tier (MemoryStore) and an optional durable tier backed by
// BadgerDB (BadgerStore). TieredStore composes them with an explicit
// precedence rule: writes land in memory first and are mirrored to the
// durable tier best-effort; reads prefer the durable tier and degrade
// silently to memory. A caller cannot tell which tier served a read.
//
// Thread Safety: all stores are safe for concurrent use by distinct
// job identities. A single job is still written by exactly one
// controller goroutine.
package store

import (
	"context"
	"errors"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

var (
	// ErrJobNotFound indicates the job does not exist in the store.
	ErrJobNotFound = errors.New("job not found")

	// ErrArtifactNotFound indicates the named artifact does not exist
	// for the job.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrJobExists indicates a create collided with an existing id.
	ErrJobExists = errors.New("job already exists")
)

// JobStore is the persistence boundary for job records and artifacts.
//
// Implementations must return clones (or freshly decoded values) from
// read operations so callers can never mutate stored state in place.
type JobStore interface {
	CreateJob(ctx context.Context, job *datatypes.JobRecord) error
	UpdateJob(ctx context.Context, job *datatypes.JobRecord) error
	GetJob(ctx context.Context, id string) (*datatypes.JobRecord, error)

	PutArtifact(ctx context.Context, jobID, name, content string) error
	GetArtifact(ctx context.Context, jobID, name string) (string, error)
	GetArtifacts(ctx context.Context, jobID string) (map[string]string, error)

	// DeleteJob removes the job and all its artifacts. Deleting a
	// missing job is not an error.
	DeleteJob(ctx context.Context, id string) error
}
