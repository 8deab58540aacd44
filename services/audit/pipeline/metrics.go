// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsStartedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_jobs_started_total",
		Help: "Analysis jobs handed to a controller",
	})

	jobsFinishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "audit_jobs_finished_total",
		Help: "Analysis jobs that reached a terminal status",
	}, []string{"status"})

	activeJobsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "audit_jobs_active",
		Help: "Controllers currently executing",
	})

	stageDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "audit_stage_duration_seconds",
		Help:    "Wall-clock duration of one stage execution",
		Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"stage", "status"})

	synthesisFallbackTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "audit_synthesis_fallbacks_total",
		Help: "Syntheses that fell back to the template summary",
	})
)
