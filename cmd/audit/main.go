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
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/AleutianAudit/pkg/logging"
	"github.com/AleutianAI/AleutianAudit/services/audit"
	"github.com/AleutianAI/AleutianAudit/services/audit/pipeline"
	"github.com/AleutianAI/AleutianAudit/services/audit/store"
	"github.com/AleutianAI/AleutianAudit/services/audit/synth"
	"github.com/AleutianAI/AleutianAudit/services/llm"
)

func initTracer(otelEndpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(otelEndpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("audit-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// buildSynthesizer picks an LLM backend from LLM_BACKEND_TYPE and wraps
// it. Returns nil when no backend is configured; the pipeline then uses
// the deterministic template for every brief.
func buildSynthesizer(logger *slog.Logger) synth.Synthesizer {
	var (
		client llm.LLMClient
		err    error
	)
	switch backend := os.Getenv("LLM_BACKEND_TYPE"); backend {
	case "openai":
		client, err = llm.NewOpenAIClient()
		slog.Info("Using OpenAI LLM backend")
	case "claude", "anthropic":
		client, err = llm.NewAnthropicClient()
		slog.Info("Using Anthropic (Claude) LLM backend")
	case "", "none":
		slog.Info("LLM_BACKEND_TYPE not set, executive briefs use the template synthesizer")
		return nil
	default:
		slog.Warn("Unknown LLM_BACKEND_TYPE, executive briefs use the template synthesizer",
			"backend", backend)
		return nil
	}
	if err != nil {
		slog.Warn("LLM backend unavailable, executive briefs use the template synthesizer",
			"error", err)
		return nil
	}
	return synth.NewLLMSynthesizer(client, logger)
}

func main() {
	port := os.Getenv("AUDIT_PORT")
	if port == "" {
		port = "12230"
	}

	auditLogger, err := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  os.Getenv("AUDIT_LOG_DIR"),
		Service: "audit",
		JSON:    true,
	})
	if err != nil {
		// stderr logging still works; only the file path failed.
		slog.Warn("File logging unavailable", "error", err)
	}
	defer auditLogger.Close()
	logger := auditLogger.Logger
	slog.SetDefault(logger)

	// Tracing is optional: without a collector endpoint the service
	// runs untraced rather than failing startup.
	if otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); otelEndpoint != "" {
		cleanup, err := initTracer(otelEndpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	} else {
		slog.Info("OTEL_EXPORTER_OTLP_ENDPOINT not set, tracing disabled")
	}

	// Durable tier: a badger failure degrades to memory-only instead of
	// refusing to start. Job state then does not survive a restart.
	var durable store.JobStore
	if dataDir := os.Getenv("AUDIT_DATA_DIR"); dataDir != "" {
		badgerStore, err := store.OpenBadger(store.DefaultBadgerConfig(dataDir))
		if err != nil {
			slog.Warn("Durable storage unavailable, running on the memory tier only",
				"data_dir", dataDir, "error", err)
		} else {
			defer badgerStore.Close()
			durable = badgerStore
			slog.Info("Durable storage ready", "data_dir", dataDir)
		}
	} else {
		slog.Info("AUDIT_DATA_DIR not set, running on the memory tier only")
	}
	jobStore := store.NewTieredStore(durable, logger)

	stages := pipeline.DefaultStages()
	if stagesFile := os.Getenv("AUDIT_STAGES_FILE"); stagesFile != "" {
		var err error
		stages, err = pipeline.LoadStages(stagesFile)
		if err != nil {
			log.Fatalf("FATAL: invalid stage table: %v", err)
		}
		slog.Info("Loaded stage table override", "file", stagesFile, "stages", len(stages))
	}

	toolsDir := os.Getenv("AUDIT_TOOLS_DIR")
	if toolsDir == "" {
		toolsDir = "/opt/audit/tools"
	}
	if _, err := os.Stat(toolsDir); err != nil {
		slog.Warn("Tools directory not accessible, every stage will be skipped",
			"tools_dir", toolsDir, "error", err)
	}

	synthesizer := buildSynthesizer(logger)
	runner := pipeline.NewRunner(toolsDir, logger)
	controller := pipeline.NewController(jobStore, stages, runner, synthesizer, logger)

	workDir := os.Getenv("AUDIT_WORK_DIR")
	handlers := audit.NewHandlers(jobStore, controller, synthesizer, workDir, logger)

	router := gin.Default()
	router.Use(otelgin.Middleware("audit-service"))

	audit.RegisterServiceRoutes(router, handlers)
	audit.RegisterRoutes(router.Group("/v1"), handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	log.Println("Starting the audit server on port ", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
