// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package synth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianAudit/services/llm"
)

// fakeLLM is a scriptable llm.LLMClient.
type fakeLLM struct {
	reply string
	err   error
	calls atomic.Int64
	block chan struct{} // when non-nil, Generate waits until closed
}

func (f *fakeLLM) Generate(ctx context.Context, prompt string, _ llm.GenerationParams) (string, error) {
	f.calls.Add(1)
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func TestLLMSynthesizer_ForwardsCappedArtifacts(t *testing.T) {
	client := &fakeLLM{reply: "The codebase is in good shape."}
	s := NewLLMSynthesizer(client, nil)

	artifacts := map[string]string{
		"health_report.md": strings.Repeat("x", MaxArtifactChars+500),
	}
	out, err := s.Synthesize(context.Background(), artifacts, "is it healthy?")
	if err != nil {
		t.Fatalf("Synthesize returned error: %v", err)
	}
	if out != "The codebase is in good shape." {
		t.Errorf("unexpected answer: %q", out)
	}
}

func TestLLMSynthesizer_PromptCapsEachArtifact(t *testing.T) {
	artifacts := map[string]string{
		"risk_report.md": strings.Repeat("r", MaxArtifactChars*2),
	}
	prompt := buildPrompt(artifacts, "what are the risks?")
	if !strings.Contains(prompt, "[... truncated for brevity ...]") {
		t.Error("oversized artifact was not truncated in the prompt")
	}
	if len(prompt) > MaxArtifactChars+4000 {
		t.Errorf("prompt length %d suggests the cap was not applied", len(prompt))
	}
}

func TestCapArtifact_KeepsRunesIntact(t *testing.T) {
	// Place a multi-byte rune straddling the byte cap.
	content := strings.Repeat("a", MaxArtifactChars-1) + strings.Repeat("日", 20)
	capped := capArtifact(content)
	if !utf8.ValidString(capped) {
		t.Error("truncation split a UTF-8 sequence")
	}
	if !strings.HasSuffix(capped, "[... truncated for brevity ...]") {
		t.Error("expected truncation marker")
	}
	if len(capped) > MaxArtifactChars+len("\n\n[... truncated for brevity ...]") {
		t.Errorf("cap not applied, got %d bytes", len(capped))
	}
}

func TestFlightKey_DistinguishesContent(t *testing.T) {
	a := map[string]string{"health_report.md": "READY FOR ANALYSIS"}
	b := map[string]string{"health_report.md": "NOT READY AT ALL!!"}
	if len(a["health_report.md"]) != len(b["health_report.md"]) {
		t.Fatal("fixture error: contents must be the same length")
	}
	if flightKey(a, "q") == flightKey(b, "q") {
		t.Error("same-length artifacts with different content must not share a flight")
	}
}

func TestLLMSynthesizer_SurfacesBackendError(t *testing.T) {
	client := &fakeLLM{err: errors.New("upstream unavailable")}
	s := NewLLMSynthesizer(client, nil)

	_, err := s.Synthesize(context.Background(), nil, "anything?")
	if err == nil {
		t.Fatal("expected an error from a failing backend")
	}
}

func TestLLMSynthesizer_DeduplicatesConcurrentCalls(t *testing.T) {
	client := &fakeLLM{reply: "answer", block: make(chan struct{})}
	s := NewLLMSynthesizer(client, nil)
	artifacts := map[string]string{"health_report.md": "READY FOR ANALYSIS"}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Synthesize(context.Background(), artifacts, "same question")
		}()
	}
	// Let the goroutines pile onto the singleflight key, then release.
	time.Sleep(100 * time.Millisecond)
	close(client.block)
	wg.Wait()

	if got := client.calls.Load(); got > 2 {
		t.Errorf("backend called %d times for identical concurrent requests", got)
	}
}

func TestTemplateSummary_NonEmptyWithZeroArtifacts(t *testing.T) {
	out := TemplateSummary(nil, "can we scale to 100k users?")
	if strings.TrimSpace(out) == "" {
		t.Fatal("fallback summary must be non-empty with zero artifacts")
	}
	if !strings.Contains(out, "can we scale to 100k users?") {
		t.Error("fallback summary should echo the question")
	}
	if !strings.Contains(out, "No analysis reports are available") {
		t.Error("fallback summary should state that no reports exist")
	}
}

func TestTemplateSummary_ExtractsMarkers(t *testing.T) {
	t.Run("healthy verdict", func(t *testing.T) {
		out := TemplateSummary(map[string]string{
			"health_report.md": "# Health\n\nVerdict: READY FOR ANALYSIS\n",
		}, "")
		if !strings.Contains(out, "HEALTHY") {
			t.Errorf("missing healthy verdict, got:\n%s", out)
		}
	})

	t.Run("unhealthy verdict", func(t *testing.T) {
		out := TemplateSummary(map[string]string{
			"health_report.md": "NOT READY: missing build files",
		}, "")
		if !strings.Contains(out, "ISSUES FOUND") {
			t.Errorf("missing issues verdict, got:\n%s", out)
		}
	})

	t.Run("coverage percentage", func(t *testing.T) {
		out := TemplateSummary(map[string]string{
			"coverage_report.md": "**Estimated Coverage:** 42%\n",
		}, "")
		if !strings.Contains(out, "Test Coverage: 42%") {
			t.Errorf("missing coverage extraction, got:\n%s", out)
		}
	})
}

func TestTemplateSynthesizer_NeverErrors(t *testing.T) {
	var s Synthesizer = TemplateSynthesizer{}
	out, err := s.Synthesize(context.Background(), map[string]string{}, "")
	if err != nil {
		t.Fatalf("template synthesizer returned error: %v", err)
	}
	if out == "" {
		t.Fatal("template synthesizer returned empty output")
	}
}
