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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

// Key layout in BadgerDB:
//
//	job:<id>             -> JSON JobRecord
//	artifact:<id>:<name> -> raw artifact text
const (
	jobKeyPrefix      = "job:"
	artifactKeyPrefix = "artifact:"
)

// BadgerConfig holds configuration for the durable tier.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode. Used in tests.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, internal
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults for the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a config for tests (no disk I/O).
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore is the durable tier, backed by an embedded BadgerDB.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions
// provide per-key isolation.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens the durable tier with the given configuration.
// The caller must Close() the returned store.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// Close releases the underlying database.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func jobKey(id string) []byte {
	return []byte(jobKeyPrefix + id)
}

func artifactKey(jobID, name string) []byte {
	return []byte(artifactKeyPrefix + jobID + ":" + name)
}

// CreateJob writes the record. An existing id is overwritten; the
// tiered wrapper guarantees id uniqueness via the memory tier.
func (s *BadgerStore) CreateJob(ctx context.Context, job *datatypes.JobRecord) error {
	return s.UpdateJob(ctx, job)
}

// UpdateJob upserts the JSON-encoded record.
func (s *BadgerStore) UpdateJob(_ context.Context, job *datatypes.JobRecord) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job %s: %w", job.ID, err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(jobKey(job.ID), payload)
	})
	if err != nil {
		return fmt.Errorf("write job %s: %w", job.ID, err)
	}
	return nil
}

// GetJob decodes the record for id.
func (s *BadgerStore) GetJob(_ context.Context, id string) (*datatypes.JobRecord, error) {
	var job datatypes.JobRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(jobKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &job)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read job %s: %w", id, err)
	}
	return &job, nil
}

// PutArtifact stores artifact text under (jobID, name).
func (s *BadgerStore) PutArtifact(_ context.Context, jobID, name, content string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(jobID, name), []byte(content))
	})
	if err != nil {
		return fmt.Errorf("write artifact %s/%s: %w", jobID, name, err)
	}
	return nil
}

// GetArtifact returns one artifact's text.
func (s *BadgerStore) GetArtifact(_ context.Context, jobID, name string) (string, error) {
	var content []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(jobID, name))
		if err != nil {
			return err
		}
		content, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return "", ErrArtifactNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read artifact %s/%s: %w", jobID, name, err)
	}
	return string(content), nil
}

// GetArtifacts returns all artifacts for the job by prefix scan.
func (s *BadgerStore) GetArtifacts(_ context.Context, jobID string) (map[string]string, error) {
	prefix := []byte(artifactKeyPrefix + jobID + ":")
	out := make(map[string]string)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.Key()), string(prefix))
			val, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out[name] = string(val)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan artifacts for %s: %w", jobID, err)
	}
	return out, nil
}

// DeleteJob removes the record and every artifact key. Idempotent.
func (s *BadgerStore) DeleteJob(_ context.Context, id string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete(jobKey(id)); err != nil {
			return err
		}
		prefix := []byte(artifactKeyPrefix + id + ":")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete job %s: %w", id, err)
	}
	return nil
}
