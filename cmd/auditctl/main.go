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
	"log"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	if url := os.Getenv("AUDIT_SERVICE_URL"); url != "" {
		serverURL = url
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", serverURL,
		"Base URL of the audit service")
	submitCmd.Flags().StringVarP(&submitQuestion, "question", "q", "",
		"Question to answer in the executive brief")
	submitCmd.Flags().BoolVarP(&watchAfterSubmit, "watch", "w", false,
		"Poll status until the job finishes")

	rootCmd.AddCommand(submitCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resultsCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(cleanupCmd)
}
