// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package workspace manages the per-job filesystem scope: the uploaded
// archive, the extracted codebase, and the tool output directory.
//
// A Workspace is scoped to exactly one job and must be released
// deterministically on cleanup, including cleanup invoked while the
// job is still executing.
package workspace

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxExtractedBytes caps a single extracted archive (512MB).
const MaxExtractedBytes = 512 * 1024 * 1024

var (
	// ErrPathTraversal indicates an archive entry tried to escape the
	// extraction root.
	ErrPathTraversal = errors.New("archive entry escapes extraction root")

	// ErrArchiveTooLarge indicates the archive exceeds MaxExtractedBytes.
	ErrArchiveTooLarge = errors.New("archive exceeds extraction size limit")
)

// Workspace is the filesystem scope of one job.
type Workspace struct {
	// Root holds everything below; Release removes it entirely.
	Root string

	// UploadDir receives the raw uploaded file.
	UploadDir string

	// CodebaseDir receives the extracted (or moved) codebase.
	CodebaseDir string

	// OutputDir receives tool reports.
	OutputDir string
}

// Create allocates a workspace for jobID under baseDir. baseDir may be
// empty, in which case the system temp directory is used.
func Create(baseDir, jobID string) (*Workspace, error) {
	if baseDir == "" {
		baseDir = os.TempDir()
	}
	root := filepath.Join(baseDir, "audit-"+jobID)
	ws := &Workspace{
		Root:        root,
		UploadDir:   filepath.Join(root, "upload"),
		CodebaseDir: filepath.Join(root, "codebase"),
		OutputDir:   filepath.Join(root, "reports"),
	}
	for _, dir := range []string{ws.UploadDir, ws.CodebaseDir, ws.OutputDir} {
		if err := os.MkdirAll(dir, 0750); err != nil {
			_ = os.RemoveAll(root)
			return nil, fmt.Errorf("create workspace directory %s: %w", dir, err)
		}
	}
	return ws, nil
}

// Release removes the entire workspace. Safe to call more than once
// and while a stage process may still be writing; removal errors on a
// missing root are ignored.
func (w *Workspace) Release() error {
	if w == nil || w.Root == "" {
		return nil
	}
	if err := os.RemoveAll(w.Root); err != nil {
		return fmt.Errorf("release workspace %s: %w", w.Root, err)
	}
	return nil
}

// PrepareCodebase makes the uploaded file available for analysis and
// returns the codebase root the tools should read.
//
// A .zip upload is extracted into CodebaseDir; when the archive holds
// exactly one top-level directory, that directory becomes the root
// (matching how people zip project folders). Any other upload is moved
// into CodebaseDir as a single file.
func (w *Workspace) PrepareCodebase(uploadedPath string) (string, error) {
	if strings.EqualFold(filepath.Ext(uploadedPath), ".zip") {
		if err := extractZip(uploadedPath, w.CodebaseDir); err != nil {
			return "", err
		}
		entries, err := os.ReadDir(w.CodebaseDir)
		if err != nil {
			return "", fmt.Errorf("read extracted codebase: %w", err)
		}
		if len(entries) == 1 && entries[0].IsDir() {
			return filepath.Join(w.CodebaseDir, entries[0].Name()), nil
		}
		return w.CodebaseDir, nil
	}

	dest := filepath.Join(w.CodebaseDir, filepath.Base(uploadedPath))
	if err := os.Rename(uploadedPath, dest); err != nil {
		return "", fmt.Errorf("move upload into codebase dir: %w", err)
	}
	return w.CodebaseDir, nil
}

// extractZip extracts archivePath into destDir with traversal and
// size guards.
func extractZip(archivePath, destDir string) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	var total int64
	for _, file := range reader.File {
		target, err := sanitizePath(destDir, file.Name)
		if err != nil {
			return err
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("create directory %s: %w", target, err)
			}
			continue
		}

		total += int64(file.UncompressedSize64)
		if total > MaxExtractedBytes {
			return ErrArchiveTooLarge
		}

		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return fmt.Errorf("create directory for %s: %w", target, err)
		}
		if err := extractFile(file, target); err != nil {
			return err
		}
	}
	return nil
}

func extractFile(file *zip.File, target string) error {
	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer dst.Close()

	// LimitReader backstops a lying zip header.
	if _, err := io.Copy(dst, io.LimitReader(src, MaxExtractedBytes)); err != nil {
		return fmt.Errorf("extract %s: %w", file.Name, err)
	}
	return nil
}

// sanitizePath joins entry into root and rejects traversal.
func sanitizePath(root, entry string) (string, error) {
	target := filepath.Join(root, entry)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrPathTraversal, entry)
	}
	return target, nil
}
