// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the mesh service's YAML configuration.
//
// There is no package-level singleton: Load returns a Config that the
// caller wires into the orchestration context explicitly, so tests can
// run independent instances side by side.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Port the gin server listens on. The SENTRYMESH_PORT environment
	// variable overrides it.
	Port int `yaml:"port"`
}

// MeshConfig configures the message bus.
type MeshConfig struct {
	// MeshID joins an existing mesh; empty generates a new one.
	MeshID string `yaml:"mesh_id"`

	// SweepIntervalSeconds is the heartbeat sweep cadence.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`

	// InactiveAfterSeconds marks agents inactive after this silence.
	InactiveAfterSeconds int `yaml:"inactive_after_seconds"`
}

// BreakerConfig configures circuit breakers.
type BreakerConfig struct {
	FailureThreshold int `yaml:"failure_threshold"`
	CooldownSeconds  int `yaml:"cooldown_seconds"`
}

// CacheConfig configures the verification cache.
type CacheConfig struct {
	Capacity         int     `yaml:"capacity"`
	AcceptanceCutoff float64 `yaml:"acceptance_cutoff"`
}

// ThresholdsConfig holds the decision boundaries. These are the only
// fields the hot-reload watcher applies at runtime.
type ThresholdsConfig struct {
	Block float64 `yaml:"block"`
	Warn  float64 `yaml:"warn"`
}

// SynthesisConfig configures the synthesis engine.
type SynthesisConfig struct {
	ProviderTimeoutSeconds int              `yaml:"provider_timeout_seconds"`
	Thresholds             ThresholdsConfig `yaml:"thresholds"`
}

// QueueConfig configures the threat queue processor.
type QueueConfig struct {
	TickIntervalSeconds int `yaml:"tick_interval_seconds"`

	// RetainFinalizedSeconds is how long finalized events stay queryable
	// before the processor prunes them from its index.
	RetainFinalizedSeconds int `yaml:"retain_finalized_seconds"`
}

// LLMProviderConfig configures the LLM analysis provider.
type LLMProviderConfig struct {
	Enabled bool `yaml:"enabled"`

	// Model is the chat model name, e.g. "gpt-4o-mini".
	Model string `yaml:"model"`

	// BaseURL points at an OpenAI-compatible endpoint; empty means the
	// public API.
	BaseURL string `yaml:"base_url"`

	// TokenEnv names the environment variable holding the API key.
	TokenEnv string `yaml:"token_env"`
}

// VerificationProviderConfig configures the HTTP verification provider.
type VerificationProviderConfig struct {
	Enabled        bool   `yaml:"enabled"`
	Endpoint       string `yaml:"endpoint"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ProvidersConfig groups provider configuration.
type ProvidersConfig struct {
	LLM          LLMProviderConfig          `yaml:"llm"`
	Verification VerificationProviderConfig `yaml:"verification"`
}

// StorageConfig configures the settings/token store.
type StorageConfig struct {
	// Path is the BadgerDB directory. Empty keeps the store in memory.
	Path string `yaml:"path"`
}

// TelemetryConfig configures tracing.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/gRPC collector address. Empty disables
	// the exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mesh      MeshConfig      `yaml:"mesh"`
	Breaker   BreakerConfig   `yaml:"breaker"`
	Cache     CacheConfig     `yaml:"cache"`
	Synthesis SynthesisConfig `yaml:"synthesis"`
	Queue     QueueConfig     `yaml:"queue"`
	Providers ProvidersConfig `yaml:"providers"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 12300},
		Mesh: MeshConfig{
			SweepIntervalSeconds: 30,
			InactiveAfterSeconds: 60,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 3,
			CooldownSeconds:  60,
		},
		Cache: CacheConfig{
			Capacity:         50,
			AcceptanceCutoff: 0.4,
		},
		Synthesis: SynthesisConfig{
			ProviderTimeoutSeconds: 10,
			Thresholds:             ThresholdsConfig{Block: 0.7, Warn: 0.4},
		},
		Queue: QueueConfig{
			TickIntervalSeconds:    5,
			RetainFinalizedSeconds: 3600,
		},
		Providers: ProvidersConfig{
			LLM: LLMProviderConfig{
				Enabled:  true,
				Model:    "gpt-4o-mini",
				TokenEnv: "OPENAI_API_KEY",
			},
			Verification: VerificationProviderConfig{
				TimeoutSeconds: 30,
			},
		},
	}
}

// DefaultPath returns ~/.sentrymesh/sentrymesh.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".sentrymesh", "sentrymesh.yaml"), nil
}

// Load reads the config at path, creating it with defaults on first run.
func Load(path string) (Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := writeDefault(path); err != nil {
			return Config{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

func writeDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(Default())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
