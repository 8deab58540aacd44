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
	"fmt"
	"strings"
)

// Artifact names the template knows how to mine for markers.
const (
	healthArtifact   = "health_report.md"
	coverageArtifact = "coverage_report.md"
)

// TemplateSynthesizer is the deterministic, always-available
// implementation of Synthesizer. It never returns an error.
type TemplateSynthesizer struct{}

var _ Synthesizer = TemplateSynthesizer{}

// Synthesize implements Synthesizer via TemplateSummary.
func (TemplateSynthesizer) Synthesize(_ context.Context, artifacts map[string]string, question string) (string, error) {
	return TemplateSummary(artifacts, question), nil
}

// TemplateSummary assembles a minimal structured summary from known
// markers in the raw artifact text. It produces non-empty output under
// all circumstances, including zero available artifacts.
func TemplateSummary(artifacts map[string]string, question string) string {
	var b strings.Builder
	b.WriteString("EXECUTIVE SUMMARY\n")
	b.WriteString(strings.Repeat("=", 50))
	b.WriteString("\n\n")

	if question != "" {
		fmt.Fprintf(&b, "Question: %s\n\n", question)
	}
	b.WriteString("NOTE: This is a basic summary generated without the narrative\n")
	b.WriteString("synthesis service. Configure an LLM backend for a prose brief.\n\n")
	b.WriteString(strings.Repeat("-", 50))
	b.WriteString("\n\n")

	health := artifacts[healthArtifact]
	switch {
	case strings.Contains(health, "READY FOR ANALYSIS"):
		b.WriteString("Codebase Status: HEALTHY - Ready for analysis\n")
	case strings.Contains(health, "NOT READY"):
		b.WriteString("Codebase Status: ISSUES FOUND - Needs attention\n")
	default:
		b.WriteString("Codebase Status: Unknown\n")
	}

	if coverage := extractCoverage(artifacts[coverageArtifact]); coverage != "" {
		fmt.Fprintf(&b, "Test Coverage: %s\n", coverage)
	}

	b.WriteString("\n")
	if len(artifacts) == 0 {
		b.WriteString("No analysis reports are available for this job.\n")
	} else {
		fmt.Fprintf(&b, "Available reports (%d):\n", len(artifacts))
		for _, name := range sortedNames(artifacts) {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}

	return b.String()
}

// extractCoverage pulls the value after the "Estimated Coverage:"
// marker the coverage tool emits.
func extractCoverage(report string) string {
	const marker = "Estimated Coverage:"
	for _, line := range strings.Split(report, "\n") {
		idx := strings.Index(line, marker)
		if idx < 0 {
			continue
		}
		value := strings.TrimSpace(line[idx+len(marker):])
		value = strings.Trim(value, "* ")
		if value != "" {
			return value
		}
	}
	return ""
}
