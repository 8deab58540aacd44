// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package audit

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
	"github.com/AleutianAI/AleutianAudit/services/audit/pipeline"
	"github.com/AleutianAI/AleutianAudit/services/audit/store"
)

// apiFixture wires a full router over a memory store and a tools
// directory of shell-script stage tools.
type apiFixture struct {
	router *gin.Engine
	store  *store.MemoryStore
	base   string
}

func newAPIFixture(t *testing.T, stages []pipeline.StageDef, tools map[string]string) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	toolsDir := t.TempDir()
	for name, script := range tools {
		if err := os.WriteFile(filepath.Join(toolsDir, name),
			[]byte("#!/bin/sh\n"+script), 0750); err != nil {
			t.Fatalf("install tool %s: %v", name, err)
		}
	}

	ms := store.NewMemoryStore()
	ctrl := pipeline.NewController(ms, stages, pipeline.NewRunner(toolsDir, nil), nil, nil)

	base := t.TempDir()
	handlers := NewHandlers(ms, ctrl, nil, base, nil)

	router := gin.New()
	RegisterServiceRoutes(router, handlers)
	RegisterRoutes(router.Group("/v1"), handlers)

	return &apiFixture{router: router, store: ms, base: base}
}

func apiStages() []pipeline.StageDef {
	return []pipeline.StageDef{
		{
			Name:           "health_check",
			Label:          "Checking codebase health",
			Targets:        []string{"health_check"},
			Artifact:       "health_report.md",
			TimeoutSeconds: 30,
			Checkpoint:     40,
		},
		{
			Name:           "risk_scan",
			Label:          "Scanning for risks",
			Targets:        []string{"risk_scan"},
			Artifact:       "risk_report.md",
			TimeoutSeconds: 30,
			Checkpoint:     80,
		},
	}
}

// submitZip posts an in-memory zip with one Python file as the
// upload field and returns the job id.
func (f *apiFixture) submitZip(t *testing.T, question string) string {
	t.Helper()

	var archive bytes.Buffer
	zw := zip.NewWriter(&archive)
	w, err := zw.Create("project/main.py")
	if err != nil {
		t.Fatalf("zip entry: %v", err)
	}
	if _, err := w.Write([]byte("print('hello')\n")); err != nil {
		t.Fatalf("zip write: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "project.zip")
	if err != nil {
		t.Fatalf("form file: %v", err)
	}
	if _, err := fw.Write(archive.Bytes()); err != nil {
		t.Fatalf("form write: %v", err)
	}
	if question != "" {
		if err := mw.WriteField("question", question); err != nil {
			t.Fatalf("form field: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("form close: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/audit/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit: expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp datatypes.SubmitResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.JobID == "" {
		t.Fatalf("submit: bad response %q (err=%v)", rec.Body.String(), err)
	}
	return resp.JobID
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

// waitTerminal polls the status endpoint until the job reaches a
// terminal state.
func (f *apiFixture) waitTerminal(t *testing.T, jobID string) datatypes.StatusResponse {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := f.get(t, "/v1/audit/jobs/"+jobID+"/status")
		if rec.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d", rec.Code)
		}
		var status datatypes.StatusResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
			t.Fatalf("status: bad body %q", rec.Body.String())
		}
		if status.Status.Terminal() {
			return status
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return datatypes.StatusResponse{}
}

func TestSubmitPollResults(t *testing.T) {
	f := newAPIFixture(t, apiStages(), map[string]string{
		"health_check": `echo "READY FOR ANALYSIS" > "$3"` + "\n",
		"risk_scan":    `echo "No risks found" > "$3"` + "\n",
	})

	jobID := f.submitZip(t, "Is this codebase healthy?")
	status := f.waitTerminal(t, jobID)

	if status.Status != datatypes.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (errors: %v)", status.Status, status.Errors)
	}
	if status.Progress != 100 {
		t.Errorf("expected progress 100, got %d", status.Progress)
	}

	rec := f.get(t, "/v1/audit/jobs/"+jobID+"/results")
	if rec.Code != http.StatusOK {
		t.Fatalf("results: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var results datatypes.ResultsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("results: bad body %q", rec.Body.String())
	}
	if results.Summary == "" {
		t.Error("expected an executive brief in the results")
	}
	for _, name := range []string{"health_report.md", "risk_report.md", pipeline.FullReportArtifact} {
		if results.Artifacts[name] == "" {
			t.Errorf("expected artifact %s in results", name)
		}
	}
	if results.CompletedAt == nil {
		t.Error("expected completion timestamp")
	}

	// Individual artifact fetch returns the raw document.
	rec = f.get(t, "/v1/audit/jobs/"+jobID+"/artifacts/health_report.md")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "READY FOR ANALYSIS") {
		t.Errorf("artifact fetch: got %d %q", rec.Code, rec.Body.String())
	}
}

func TestSubmitWithoutFile(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("question", "where is the code?")
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/audit/jobs", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var resp datatypes.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Code != "NO_UPLOAD" {
		t.Errorf("expected NO_UPLOAD error, got %q", rec.Body.String())
	}
}

func TestUnknownJobReturns404(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	for _, path := range []string{
		"/v1/audit/jobs/nope/status",
		"/v1/audit/jobs/nope/results",
		"/v1/audit/jobs/nope/artifacts/health_report.md",
		"/v1/audit/jobs/nope/archive",
	} {
		if rec := f.get(t, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", path, rec.Code)
		}
	}
}

func TestResultsConflictWhileRunning(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	job := datatypes.NewJobRecord("running-job", "")
	job.Status = datatypes.JobStatusRunning
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	rec := f.get(t, "/v1/audit/jobs/running-job/results")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var resp datatypes.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Code != "JOB_RUNNING" {
		t.Errorf("expected JOB_RUNNING error, got %q", rec.Body.String())
	}
}

func TestArchiveDownload(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	job := datatypes.NewJobRecord("done-job", "")
	job.Complete(datatypes.JobStatusCompleted)
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	for name, content := range map[string]string{
		"health_report.md": "# Health\nok\n",
		"risk_report.md":   "# Risks\nnone\n",
	} {
		if err := f.store.PutArtifact(context.Background(), job.ID, name, content); err != nil {
			t.Fatalf("put artifact: %v", err)
		}
	}

	rec := f.get(t, "/v1/audit/jobs/done-job/archive")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/zip" {
		t.Errorf("expected zip content type, got %q", ct)
	}

	zr, err := zip.NewReader(bytes.NewReader(rec.Body.Bytes()), int64(rec.Body.Len()))
	if err != nil {
		t.Fatalf("response is not a zip: %v", err)
	}
	if len(zr.File) != 2 {
		t.Errorf("expected 2 entries, got %d", len(zr.File))
	}
}

func TestAskFallsBackToTemplate(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	job := datatypes.NewJobRecord("asked-job", "")
	job.Complete(datatypes.JobStatusCompleted)
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	body := strings.NewReader(`{"question": "What did you find?"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/audit/jobs/asked-job/ask", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp datatypes.AskResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad body %q", rec.Body.String())
	}
	// No synthesizer and no artifacts: the template still answers.
	if resp.Answer == "" {
		t.Error("expected a non-empty template answer")
	}
	if resp.Question != "What did you find?" {
		t.Errorf("expected question echoed, got %q", resp.Question)
	}
}

func TestAskRejectsMissingQuestion(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	job := datatypes.NewJobRecord("q-job", "")
	job.Complete(datatypes.JobStatusCompleted)
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/v1/audit/jobs/q-job/ask", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestCleanupIdempotent(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	job := datatypes.NewJobRecord("gone-job", "")
	job.WorkspaceRoot = filepath.Join(f.base, "audit-gone-job")
	if err := os.MkdirAll(job.WorkspaceRoot, 0750); err != nil {
		t.Fatalf("mk workspace: %v", err)
	}
	if err := f.store.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	del := func() *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec,
			httptest.NewRequest(http.MethodDelete, "/v1/audit/jobs/gone-job", nil))
		return rec
	}

	if rec := del(); rec.Code != http.StatusOK {
		t.Fatalf("first delete: expected 200, got %d", rec.Code)
	}
	if _, err := os.Stat(job.WorkspaceRoot); !os.IsNotExist(err) {
		t.Errorf("expected workspace removed, got %v", err)
	}
	if rec := del(); rec.Code != http.StatusOK {
		t.Errorf("second delete must succeed, got %d", rec.Code)
	}
	if rec := f.get(t, "/v1/audit/jobs/gone-job/status"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 after cleanup, got %d", rec.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	rec := f.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected health body %q", rec.Body.String())
	}
}

func TestWatchStreamsUntilTerminal(t *testing.T) {
	f := newAPIFixture(t, apiStages(), map[string]string{
		"health_check": `echo ok > "$3"` + "\n",
		"risk_scan":    `echo ok > "$3"` + "\n",
	})

	srv := httptest.NewServer(f.router)
	defer srv.Close()

	jobID := f.submitZip(t, "")

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/audit/jobs/" + jobID + "/watch"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial watch: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	var last datatypes.StatusResponse
	frames := 0
	for {
		var status datatypes.StatusResponse
		if err := conn.ReadJSON(&status); err != nil {
			break
		}
		frames++
		last = status
	}

	if frames == 0 {
		t.Fatal("expected at least one status frame")
	}
	if !last.Status.Terminal() {
		t.Errorf("expected terminal final frame, got %s", last.Status)
	}
	if last.Progress != 100 {
		t.Errorf("expected final progress 100, got %d", last.Progress)
	}
}

func TestWatchUnknownJob(t *testing.T) {
	f := newAPIFixture(t, apiStages(), nil)

	rec := f.get(t, "/v1/audit/jobs/nope/watch")
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
