// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package synth turns the pipeline's artifacts and a free-text
// question into an executive brief.
//
// Two implementations exist: an LLM-backed gateway and a deterministic
// template. The gateway is fallible; callers fall back to
// TemplateSummary, which produces valid, non-empty output under all
// circumstances, including zero available artifacts.
package synth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianAudit/services/llm"
)

// MaxArtifactChars caps each artifact's contribution to the LLM
// context to bound request size.
const MaxArtifactChars = 8000

// DefaultTimeout bounds one synthesis call.
const DefaultTimeout = 120 * time.Second

// Synthesizer produces prose from artifacts and a question.
type Synthesizer interface {
	Synthesize(ctx context.Context, artifacts map[string]string, question string) (string, error)
}

// LLMSynthesizer forwards a bounded-size context to an LLM backend.
//
// Concurrent identical requests (same question over the same artifact
// set) are deduplicated so a burst of follow-up polls costs one
// upstream call.
//
// Thread Safety: safe for concurrent use.
type LLMSynthesizer struct {
	client  llm.LLMClient
	timeout time.Duration
	logger  *slog.Logger
	flight  singleflight.Group
}

var _ Synthesizer = (*LLMSynthesizer)(nil)

// NewLLMSynthesizer creates a gateway over the given backend.
func NewLLMSynthesizer(client llm.LLMClient, logger *slog.Logger) *LLMSynthesizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSynthesizer{
		client:  client,
		timeout: DefaultTimeout,
		logger:  logger,
	}
}

// Synthesize implements Synthesizer.
func (s *LLMSynthesizer) Synthesize(ctx context.Context, artifacts map[string]string, question string) (string, error) {
	key := flightKey(artifacts, question)
	result, err, shared := s.flight.Do(key, func() (interface{}, error) {
		callCtx, cancel := context.WithTimeout(ctx, s.timeout)
		defer cancel()

		prompt := buildPrompt(artifacts, question)
		s.logger.Debug("requesting synthesis",
			"artifacts", len(artifacts), "prompt_chars", len(prompt))

		maxTokens := 1500
		text, err := s.client.Generate(callCtx, prompt, llm.GenerationParams{
			MaxTokens: &maxTokens,
		})
		if err != nil {
			return nil, fmt.Errorf("synthesis call: %w", err)
		}
		if strings.TrimSpace(text) == "" {
			return nil, fmt.Errorf("synthesis returned empty response")
		}
		return text, nil
	})
	if shared {
		s.logger.Debug("synthesis deduplicated with an in-flight call")
	}
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func flightKey(artifacts map[string]string, question string) string {
	h := sha256.New()
	h.Write([]byte(question))
	names := sortedNames(artifacts)
	for _, name := range names {
		// Hash the content, not just its length: same-length artifacts
		// with different text must not share a flight.
		fmt.Fprintf(h, "%s:%d;", name, len(artifacts[name]))
		h.Write([]byte(artifacts[name]))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// capArtifact cuts content to at most MaxArtifactChars bytes without
// splitting a UTF-8 sequence.
func capArtifact(content string) string {
	if len(content) <= MaxArtifactChars {
		return content
	}
	cut := MaxArtifactChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	return content[:cut] + "\n\n[... truncated for brevity ...]"
}

// buildPrompt assembles the consultant prompt with every artifact
// capped to MaxArtifactChars.
func buildPrompt(artifacts map[string]string, question string) string {
	var context strings.Builder
	for _, name := range sortedNames(artifacts) {
		fmt.Fprintf(&context, "\n\n=== %s ===\n%s", name, capArtifact(artifacts[name]))
	}

	return fmt.Sprintf(`You are a senior technical consultant writing an executive brief for a client.

You have analyzed a codebase using multiple specialized tools. Below are the reports from each analysis.

The client's specific question is: %q

Based on ALL the reports below, write a 1-page executive summary that:

1. DIRECTLY answers their question in the first paragraph
2. Provides supporting evidence from the analysis
3. Identifies the top 3 concerns or recommendations
4. Ends with a clear verdict/recommendation

STYLE REQUIREMENTS:
- Write in flowing prose paragraphs, like a well-written business memo
- NO bullet points, NO tables, NO markdown headers
- Write as if explaining to a smart business person, not a developer
- Keep it to roughly 400-600 words

Here are the analysis reports:
%s

Now write the executive summary addressing: %q
`, question, context.String(), question)
}

func sortedNames(artifacts map[string]string) []string {
	names := make([]string, 0, len(artifacts))
	for name := range artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
