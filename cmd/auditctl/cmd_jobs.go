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
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

var httpClient = &http.Client{Timeout: 60 * time.Second}

func jobsURL(parts ...string) string {
	url := serverURL + "/v1/audit/jobs"
	for _, p := range parts {
		url += "/" + p
	}
	return url
}

// decodeOrDie reads an API response, failing the command on transport
// errors and non-2xx statuses.
func decodeOrDie(resp *http.Response, err error, out any) {
	if err != nil {
		log.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatalf("Reading response failed: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr datatypes.ErrorResponse
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			log.Fatalf("Server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		log.Fatalf("Server error (%d): %s", resp.StatusCode, string(body))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			log.Fatalf("Malformed response: %v", err)
		}
	}
}

func runSubmit(cmd *cobra.Command, args []string) {
	path := args[0]
	file, err := os.Open(path)
	if err != nil {
		log.Fatalf("Cannot open %s: %v", path, err)
	}
	defer file.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		log.Fatalf("Building upload failed: %v", err)
	}
	if _, err := io.Copy(fw, file); err != nil {
		log.Fatalf("Reading %s failed: %v", path, err)
	}
	if submitQuestion != "" {
		if err := mw.WriteField("question", submitQuestion); err != nil {
			log.Fatalf("Building upload failed: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		log.Fatalf("Building upload failed: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, jobsURL(), &body)
	if err != nil {
		log.Fatalf("Building request failed: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var submitted datatypes.SubmitResponse
	resp, err := httpClient.Do(req)
	decodeOrDie(resp, err, &submitted)

	fmt.Println("Job submitted:", submitted.JobID)

	if watchAfterSubmit {
		pollUntilTerminal(submitted.JobID)
	}
}

func runStatus(cmd *cobra.Command, args []string) {
	var status datatypes.StatusResponse
	resp, err := httpClient.Get(jobsURL(args[0], "status"))
	decodeOrDie(resp, err, &status)
	printStatus(status)
}

func runResults(cmd *cobra.Command, args []string) {
	var results datatypes.ResultsResponse
	resp, err := httpClient.Get(jobsURL(args[0], "results"))
	decodeOrDie(resp, err, &results)

	if full, ok := results.Artifacts["full_report.md"]; ok {
		fmt.Println(full)
		return
	}
	// No consolidated report; fall back to the summary and name the
	// individual artifacts.
	if results.Summary != "" {
		fmt.Println(results.Summary)
	}
	for name := range results.Artifacts {
		fmt.Println("artifact:", name)
	}
	for _, e := range results.Errors {
		fmt.Printf("error in %s: %s\n", e.Stage, e.Message)
	}
}

func runAsk(cmd *cobra.Command, args []string) {
	payload, err := json.Marshal(datatypes.AskRequest{Question: args[1]})
	if err != nil {
		log.Fatalf("Building request failed: %v", err)
	}

	var answer datatypes.AskResponse
	resp, err := httpClient.Post(jobsURL(args[0], "ask"), "application/json",
		bytes.NewReader(payload))
	decodeOrDie(resp, err, &answer)

	fmt.Println(answer.Answer)
}

func runCleanup(cmd *cobra.Command, args []string) {
	req, err := http.NewRequest(http.MethodDelete, jobsURL(args[0]), nil)
	if err != nil {
		log.Fatalf("Building request failed: %v", err)
	}
	resp, err := httpClient.Do(req)
	decodeOrDie(resp, err, nil)
	fmt.Println("Job deleted:", args[0])
}

func pollUntilTerminal(jobID string) {
	lastStep := ""
	for {
		var status datatypes.StatusResponse
		resp, err := httpClient.Get(jobsURL(jobID, "status"))
		decodeOrDie(resp, err, &status)

		if status.CurrentStep != lastStep {
			printStatus(status)
			lastStep = status.CurrentStep
		}
		if status.Status.Terminal() {
			fmt.Println("Final status:", status.Status)
			return
		}
		time.Sleep(2 * time.Second)
	}
}

func printStatus(status datatypes.StatusResponse) {
	fmt.Printf("[%3d%%] %s (%s)\n", status.Progress, status.CurrentStep, status.Status)
	for _, e := range status.Errors {
		fmt.Printf("       error in %s: %s\n", e.Stage, e.Message)
	}
}
