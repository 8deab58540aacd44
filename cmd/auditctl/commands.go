// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL        = "http://localhost:12230"
	submitQuestion   string
	watchAfterSubmit bool

	rootCmd = &cobra.Command{
		Use:   "auditctl",
		Short: "A cli to submit codebases to the Aleutian audit service",
		Long: `auditctl drives the audit service job lifecycle: submit a
				codebase archive, follow its progress, fetch the reports,
				and clean up when done.`,
	}

	submitCmd = &cobra.Command{
		Use:   "submit [zip-or-file]",
		Short: "Submit a codebase archive for analysis",
		Args:  cobra.ExactArgs(1),
		Run:   runSubmit, // Defined in cmd_jobs.go
	}

	statusCmd = &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the progress of a job",
		Args:  cobra.ExactArgs(1),
		Run:   runStatus, // Defined in cmd_jobs.go
	}

	resultsCmd = &cobra.Command{
		Use:   "results [job-id]",
		Short: "Print the consolidated report of a finished job",
		Args:  cobra.ExactArgs(1),
		Run:   runResults, // Defined in cmd_jobs.go
	}

	askCmd = &cobra.Command{
		Use:   "ask [job-id] [question]",
		Short: "Ask a follow-up question about a finished job",
		Args:  cobra.ExactArgs(2),
		Run:   runAsk, // Defined in cmd_jobs.go
	}

	cleanupCmd = &cobra.Command{
		Use:   "cleanup [job-id]",
		Short: "Delete a job, its artifacts, and its workspace",
		Args:  cobra.ExactArgs(1),
		Run:   runCleanup, // Defined in cmd_jobs.go
	}
)
