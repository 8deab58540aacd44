// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package report builds the consolidated audit document.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

// Section is one stage's contribution, already ordered by the caller
// to match the stage table.
type Section struct {
	Title   string
	Content string
}

// Aggregate concatenates the synthesized (or fallback) summary and all
// artifact sections into one consolidated document.
//
// Pure function of its inputs; persistence of the document is the
// caller's responsibility.
func Aggregate(job *datatypes.JobRecord, summary string, sections []Section) string {
	var b strings.Builder

	b.WriteString("CODEBASE AUDIT REPORT\n")
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Job: %s\n", job.ID)
	if job.Question != "" {
		fmt.Fprintf(&b, "Question: %s\n", job.Question)
	}
	if job.CompletedAt != nil {
		fmt.Fprintf(&b, "Completed: %s\n", job.CompletedAt.Format(time.RFC3339))
	}
	if len(job.Errors) > 0 {
		fmt.Fprintf(&b, "Stage errors: %d (see status for details)\n", len(job.Errors))
	}
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\n\n")

	b.WriteString(summary)
	if !strings.HasSuffix(summary, "\n") {
		b.WriteString("\n")
	}

	for _, section := range sections {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("-", 60))
		b.WriteString("\n")
		fmt.Fprintf(&b, "## %s\n\n", section.Title)
		b.WriteString(section.Content)
		if !strings.HasSuffix(section.Content, "\n") {
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 60))
	b.WriteString("\nEnd of Audit Report\n")
	return b.String()
}
