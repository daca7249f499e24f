// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
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
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/SentryMeshAI/SentryMesh/pkg/logging"
	"github.com/SentryMeshAI/SentryMesh/services/mesh"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/config"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/observability"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/routes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/synthesis"
)

// initTracer wires the OTLP/gRPC exporter. An empty endpoint leaves the
// global no-op tracer in place, so spans cost nothing when no collector
// is running.
func initTracer(endpoint string) (func(context.Context), error) {
	if endpoint == "" {
		slog.Info("telemetry.otlp_endpoint not set, tracing disabled")
		return func(context.Context) {}, nil
	}
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("sentrymesh")))
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

func main() {
	appLogger := logging.New(logging.Config{
		Level:   logging.LevelInfo,
		LogDir:  "~/.sentrymesh/logs",
		Service: "mesh",
		JSON:    true,
	})
	defer appLogger.Close()
	logger := appLogger.Slog()
	slog.SetDefault(logger)

	configPath := os.Getenv("SENTRYMESH_CONFIG")
	if configPath == "" {
		var err error
		configPath, err = config.DefaultPath()
		if err != nil {
			log.Fatalf("could not resolve the config path: %v", err)
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("could not load the config: %v", err)
	}

	port := cfg.Server.Port
	if env := os.Getenv("SENTRYMESH_PORT"); env != "" {
		parsed, err := strconv.Atoi(env)
		if err != nil {
			log.Fatalf("SENTRYMESH_PORT is not a number: %v", err)
		}
		port = parsed
	}

	cleanup, err := initTracer(cfg.Telemetry.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup the OTLP tracer: %v", err)
	}
	defer cleanup(context.Background())

	core, err := mesh.New(cfg, mesh.Options{
		Logger:  logger,
		Metrics: observability.InitMetrics(),
	})
	if err != nil {
		log.Fatalf("failed to assemble the mesh core: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	core.Start(ctx)
	defer core.Shutdown()

	// Hot reload for the decision thresholds: edits to the config file
	// apply without a restart, everything else needs one.
	watcher, err := config.NewWatcher(configPath, func(t config.ThresholdsConfig) {
		core.Engine.SetThresholds(synthesis.Thresholds{Block: t.Block, Warn: t.Warn})
		logger.Info("decision thresholds reloaded", "block", t.Block, "warn", t.Warn)
	}, logger)
	if err != nil {
		logger.Warn("config watcher unavailable, thresholds are fixed for this run", "error", err)
	} else {
		go watcher.Start(ctx)
	}

	router := gin.Default()
	router.Use(otelgin.Middleware("sentrymesh"))
	routes.SetupRoutes(router, core)

	logger.Info("starting the mesh server", "port", port)
	if err := router.Run(":" + strconv.Itoa(port)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
