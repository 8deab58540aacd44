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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all audit routes with the router.
//
// Description:
//
//	Registers all /v1/audit/* endpoints with the given Gin router
//	group. The router group should already have any required
//	middleware applied.
//
// Inputs:
//
//	rg - Gin router group (typically /v1)
//	handlers - The handlers instance
//
// Job Lifecycle Endpoints:
//
//	POST   /v1/audit/jobs - Submit a codebase for analysis
//	GET    /v1/audit/jobs/:id/status - Poll job progress
//	GET    /v1/audit/jobs/:id/results - Fetch results once terminal
//	GET    /v1/audit/jobs/:id/artifacts/:name - Fetch one artifact
//	GET    /v1/audit/jobs/:id/archive - Download all artifacts as zip
//	GET    /v1/audit/jobs/:id/watch - Stream status over WebSocket
//	POST   /v1/audit/jobs/:id/ask - Ask a follow-up question
//	DELETE /v1/audit/jobs/:id - Delete the job and its workspace
//
// Example:
//
//	ctrl := pipeline.NewController(js, stages, runner, synthesizer, logger)
//	handlers := audit.NewHandlers(js, ctrl, synthesizer, workDir, logger)
//
//	v1 := router.Group("/v1")
//	audit.RegisterRoutes(v1, handlers)
func RegisterRoutes(rg *gin.RouterGroup, handlers *Handlers) {
	jobs := rg.Group("/audit/jobs")
	{
		// Submission
		jobs.POST("", handlers.HandleSubmit)

		// Observation
		jobs.GET("/:id/status", handlers.HandleStatus)
		jobs.GET("/:id/results", handlers.HandleResults)
		jobs.GET("/:id/artifacts/:name", handlers.HandleArtifact)
		jobs.GET("/:id/archive", handlers.HandleArchive)
		jobs.GET("/:id/watch", handlers.HandleWatch)

		// Follow-up
		jobs.POST("/:id/ask", handlers.HandleAsk)

		// Cleanup
		jobs.DELETE("/:id", handlers.HandleCleanup)
	}
}

// RegisterServiceRoutes registers the unversioned service endpoints.
func RegisterServiceRoutes(router *gin.Engine, handlers *Handlers) {
	router.GET("/", handlers.HandleRoot)
	router.GET("/health", handlers.HandleHealth)
}
