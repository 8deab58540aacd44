// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package workspace

import (
	"archive/zip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// writeZip builds a zip at path containing the given name->content
// entries. Names ending in "/" become directories.
func writeZip(t *testing.T, path string, entries map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create zip: %v", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range entries {
		if name[len(name)-1] == '/' {
			if _, err := zw.Create(name); err != nil {
				t.Fatalf("create dir entry: %v", err)
			}
			continue
		}
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("create entry: %v", err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write entry: %v", err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
}

func TestCreate_LaysOutDirectories(t *testing.T) {
	ws, err := Create(t.TempDir(), "job-1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	for _, dir := range []string{ws.UploadDir, ws.CodebaseDir, ws.OutputDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Errorf("expected directory %s, err=%v", dir, err)
		}
	}
}

func TestPrepareCodebase_SingleRootZip(t *testing.T) {
	base := t.TempDir()
	ws, err := Create(base, "job-2")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	archive := filepath.Join(ws.UploadDir, "project.zip")
	writeZip(t, archive, map[string]string{
		"myproject/":            "",
		"myproject/main.py":     "print('hi')\n",
		"myproject/lib/util.py": "pass\n",
	})

	root, err := ws.PrepareCodebase(archive)
	if err != nil {
		t.Fatalf("PrepareCodebase: %v", err)
	}
	if filepath.Base(root) != "myproject" {
		t.Errorf("expected single-root unwrap, got %s", root)
	}
	if _, err := os.Stat(filepath.Join(root, "lib", "util.py")); err != nil {
		t.Errorf("expected extracted file: %v", err)
	}
}

func TestPrepareCodebase_FlatZip(t *testing.T) {
	ws, err := Create(t.TempDir(), "job-3")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	archive := filepath.Join(ws.UploadDir, "flat.zip")
	writeZip(t, archive, map[string]string{
		"a.go": "package a\n",
		"b.go": "package a\n",
	})

	root, err := ws.PrepareCodebase(archive)
	if err != nil {
		t.Fatalf("PrepareCodebase: %v", err)
	}
	if root != ws.CodebaseDir {
		t.Errorf("expected codebase dir as root, got %s", root)
	}
}

func TestPrepareCodebase_SingleFile(t *testing.T) {
	ws, err := Create(t.TempDir(), "job-4")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	upload := filepath.Join(ws.UploadDir, "script.py")
	if err := os.WriteFile(upload, []byte("print('x')\n"), 0640); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	root, err := ws.PrepareCodebase(upload)
	if err != nil {
		t.Fatalf("PrepareCodebase: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "script.py")); err != nil {
		t.Errorf("expected moved file: %v", err)
	}
}

func TestPrepareCodebase_RejectsTraversal(t *testing.T) {
	ws, err := Create(t.TempDir(), "job-5")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	archive := filepath.Join(ws.UploadDir, "evil.zip")
	writeZip(t, archive, map[string]string{
		"../../escape.txt": "nope",
	})

	if _, err := ws.PrepareCodebase(archive); !errors.Is(err, ErrPathTraversal) {
		t.Errorf("expected ErrPathTraversal, got %v", err)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	ws, err := Create(t.TempDir(), "job-6")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("first Release: %v", err)
	}
	if err := ws.Release(); err != nil {
		t.Fatalf("second Release: %v", err)
	}
	if _, err := os.Stat(ws.Root); !os.IsNotExist(err) {
		t.Errorf("expected root removed, got %v", err)
	}
}
