// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package mesh assembles the orchestration context: message bus,
// circuit breakers, verification cache, synthesis engine, and the
// threat queue, wired together from an explicit Config.
package mesh

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/auth"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/breaker"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/bus"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/cache"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/config"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/notify"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/observability"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/providers"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/queue"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/storage"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/synthesis"
)

// Options supplies the pieces tests and embedders swap out. Every field
// may be zero: Metrics nil disables instrumentation, Sink nil logs
// decisions, Providers nil builds providers from the config.
type Options struct {
	Logger    *slog.Logger
	Metrics   *observability.MeshMetrics
	Sink      notify.Sink
	Providers []providers.Provider
}

// Core is the assembled orchestration context.
//
// # Description
//
// Core owns construction order and lifecycle: the settings store opens
// first (the auth manager reads tokens from it), then breakers, cache,
// and bus, then providers, engine, and queue. Start launches the queue
// loop and the registry sweep; Shutdown stops both and closes the
// store.
type Core struct {
	Config   config.Config
	Logger   *slog.Logger
	Metrics  *observability.MeshMetrics
	Store    *storage.Store
	Breakers *breaker.Manager
	Cache    *cache.Cache
	Bus      *bus.Bus
	Engine   *synthesis.Engine
	Queue    *queue.Processor

	hooks  bus.Hooks
	cancel context.CancelFunc
}

// New wires a Core from cfg. The returned Core is stopped; call Start.
func New(cfg config.Config, opts Options) (*Core, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.Open(storage.Config{
		Path:     cfg.Storage.Path,
		InMemory: cfg.Storage.Path == "",
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("open settings store: %w", err)
	}

	metrics := opts.Metrics
	breakers := breaker.NewManager(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Cooldown:         time.Duration(cfg.Breaker.CooldownSeconds) * time.Second,
		OnStateChange: func(service string, from, to breaker.State) {
			logger.Warn("circuit breaker transition",
				"service", service, "from", from.String(), "to", to.String())
			metrics.RecordBreakerTransition(service, to.String())
		},
	})

	verifCache := cache.New(cache.Config{
		Capacity:         cfg.Cache.Capacity,
		AcceptanceCutoff: cfg.Cache.AcceptanceCutoff,
	})

	meshBus := bus.New(cfg.Mesh.MeshID, bus.Config{
		SweepInterval: time.Duration(cfg.Mesh.SweepIntervalSeconds) * time.Second,
		InactiveAfter: time.Duration(cfg.Mesh.InactiveAfterSeconds) * time.Second,
	}, logger)

	provs := opts.Providers
	if provs == nil {
		provs, err = buildProviders(cfg.Providers, store, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	engine, err := synthesis.NewEngine(provs, breakers, verifCache, meshBus, synthesis.Config{
		ProviderTimeout: time.Duration(cfg.Synthesis.ProviderTimeoutSeconds) * time.Second,
		Thresholds: synthesis.Thresholds{
			Block: cfg.Synthesis.Thresholds.Block,
			Warn:  cfg.Synthesis.Thresholds.Warn,
		},
	}, metrics, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build synthesis engine: %w", err)
	}

	sink := opts.Sink
	if sink == nil {
		sink = &notify.LogSink{Logger: logger}
	}

	processor, err := queue.NewProcessor(engine, sink, queue.Config{
		TickInterval:    time.Duration(cfg.Queue.TickIntervalSeconds) * time.Second,
		RetainFinalized: time.Duration(cfg.Queue.RetainFinalizedSeconds) * time.Second,
	}, metrics, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("build queue processor: %w", err)
	}

	core := &Core{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Store:    store,
		Breakers: breakers,
		Cache:    verifCache,
		Bus:      meshBus,
		Engine:   engine,
		Queue:    processor,
	}
	core.hooks = bus.Hooks{
		OnThreatDetected: core.EnqueueThreat,
		OnMeshSync: func(from string, agents []datatypes.AgentDescriptor) {
			logger.Info("received mesh sync", "from", from, "agents", len(agents))
		},
	}

	for _, p := range provs {
		if err := core.registerProviderAgent(p); err != nil {
			store.Close()
			return nil, err
		}
	}
	return core, nil
}

// buildProviders constructs the configured providers. A disabled or
// unconfigured provider is simply omitted; the engine degrades to the
// sources it has.
func buildProviders(cfg config.ProvidersConfig, store *storage.Store,
	logger *slog.Logger) ([]providers.Provider, error) {
	var provs []providers.Provider

	if cfg.LLM.Enabled {
		authManager := auth.NewManager(store, cfg.LLM.TokenEnv)
		llm, err := providers.NewLLMAnalysisProvider(authManager, cfg.LLM.Model, cfg.LLM.BaseURL, logger)
		if err != nil {
			return nil, fmt.Errorf("build llm provider: %w", err)
		}
		provs = append(provs, llm)
	}

	if cfg.Verification.Enabled && cfg.Verification.Endpoint != "" {
		verify, err := providers.NewHTTPVerificationProvider(cfg.Verification.Endpoint,
			time.Duration(cfg.Verification.TimeoutSeconds)*time.Second, logger)
		if err != nil {
			return nil, fmt.Errorf("build verification provider: %w", err)
		}
		provs = append(provs, verify)
	}

	return provs, nil
}

// registerProviderAgent puts a provider on the bus as a routable agent
// so remote nodes can reach it with analysis requests.
func (c *Core) registerProviderAgent(p providers.Provider) error {
	handler := c.providerHandler(p)
	_, err := c.Bus.RegisterAgent(datatypes.AgentDescriptor{
		ID:           p.Name(),
		Type:         p.Capability(),
		Capabilities: []string{p.Capability()},
		Status:       datatypes.AgentActive,
	}, handler)
	if err != nil {
		return fmt.Errorf("register agent %s: %w", p.Name(), err)
	}
	return nil
}

// providerHandler answers ANALYSIS_REQUEST and VERIFICATION_REQUEST
// envelopes by running the provider and routing the outcome back.
// Coordination broadcasts are acknowledged silently.
func (c *Core) providerHandler(p providers.Provider) bus.Handler {
	return func(env *datatypes.Envelope) error {
		switch env.Type {
		case datatypes.MessageAnalysisRequest, datatypes.MessageVerificationRequest:
		case datatypes.MessageAutonomousCoordination:
			return nil
		default:
			return nil
		}

		var req datatypes.AnalysisRequestPayload
		if err := env.DecodePayload(&req); err != nil {
			return err
		}

		timeout := time.Duration(c.Config.Synthesis.ProviderTimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		resp := datatypes.AnalysisResponsePayload{
			RequestID: req.RequestID,
			Agent:     p.Name(),
		}
		err := c.Breakers.Execute(p.Name(), func() error {
			r, analyzeErr := p.Analyze(ctx, req.Content, req.ThreatType, req.ContextURL)
			if analyzeErr != nil {
				return analyzeErr
			}
			resp.Result = r
			return nil
		})
		if err != nil {
			resp.Error = err.Error()
		}

		respType := datatypes.MessageAnalysisResponse
		if env.Type == datatypes.MessageVerificationRequest {
			respType = datatypes.MessageVerificationResponse
		}
		out, buildErr := datatypes.NewEnvelope(c.Bus.Source(),
			datatypes.EnvelopeTarget{AgentID: req.ReplyTo, Broadcast: req.ReplyTo == ""},
			respType, resp)
		if buildErr != nil {
			return buildErr
		}
		if req.ReplyTo == "" {
			c.Bus.Broadcast(out)
			return nil
		}
		return c.Bus.Send(out)
	}
}

// EnqueueThreat validates and enqueues a threat event.
func (c *Core) EnqueueThreat(event *datatypes.ThreatEvent) error {
	if event == nil || event.Content == "" {
		return fmt.Errorf("threat event requires content")
	}
	return c.Queue.Enqueue(event)
}

// Start launches the queue loop and the registry sweep.
func (c *Core) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.Bus.StartSweep()
	c.Queue.Start(ctx)
	c.Logger.Info("mesh core started",
		"nodeId", c.Bus.NodeID(), "meshId", c.Bus.MeshID())
}

// Shutdown stops background work and closes the settings store.
func (c *Core) Shutdown() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.Queue.Stop()
	c.Bus.StopSweep()
	return c.Store.Close()
}

// Hooks returns the dispatch hooks remote node links should use.
func (c *Core) Hooks() bus.Hooks {
	return c.hooks
}
