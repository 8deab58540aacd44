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
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianAudit/services/audit/datatypes"
)

// watchPollInterval is how often the watch loop re-reads the store.
const watchPollInterval = 500 * time.Millisecond

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4 * 1024,
	WriteBufferSize: 4 * 1024,
}

// HandleWatch handles GET /v1/audit/jobs/:id/watch.
//
// Description:
//
//	Upgrades to a WebSocket and streams StatusResponse frames until
//	the job reaches a terminal status, after which the final frame is
//	sent and the connection closed. Frames are only sent when the
//	observable state changed. A job deleted mid-watch closes the
//	stream.
//
// Response:
//
//	101 Switching Protocols, then StatusResponse frames
//	404 Not Found: Unknown job
func (h *Handlers) HandleWatch(c *gin.Context) {
	jobID := c.Param("id")
	logger := h.logger.With("handler", "HandleWatch", "job_id", jobID)

	if _, err := h.store.GetJob(c.Request.Context(), jobID); err != nil {
		c.JSON(http.StatusNotFound, datatypes.ErrorResponse{
			Error: "job not found",
			Code:  "JOB_NOT_FOUND",
		})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Error("Websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()
	logger.Info("Watch client connected")

	// Drain client frames so pings and close frames are processed.
	go func() {
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var last datatypes.StatusResponse
	sent := false
	ticker := time.NewTicker(watchPollInterval)
	defer ticker.Stop()

	for {
		job, err := h.store.GetJob(c.Request.Context(), jobID)
		if err != nil {
			logger.Info("Job disappeared, closing watch")
			return
		}

		status := datatypes.StatusResponse{
			ID:          job.ID,
			Status:      job.Status,
			Progress:    job.Progress,
			CurrentStep: job.CurrentStep,
			Errors:      job.Errors,
		}
		if !sent || statusChanged(last, status) {
			if err := ws.WriteJSON(status); err != nil {
				logger.Info("Watch client disconnected", "error", err)
				return
			}
			last = status
			sent = true
		}

		if job.Status.Terminal() {
			logger.Info("Job terminal, closing watch", "status", job.Status)
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(job.Status)),
				time.Now().Add(time.Second))
			return
		}

		select {
		case <-ticker.C:
		case <-c.Request.Context().Done():
			return
		}
	}
}

func statusChanged(a, b datatypes.StatusResponse) bool {
	return a.Status != b.Status ||
		a.Progress != b.Progress ||
		a.CurrentStep != b.CurrentStep ||
		len(a.Errors) != len(b.Errors)
}
