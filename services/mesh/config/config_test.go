// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.Default()
}

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Server.Port != 12300 {
		t.Errorf("expected port 12300, got %d", cfg.Server.Port)
	}
	if cfg.Breaker.FailureThreshold != 3 || cfg.Breaker.CooldownSeconds != 60 {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Cache.Capacity != 50 || cfg.Cache.AcceptanceCutoff != 0.4 {
		t.Errorf("unexpected cache defaults: %+v", cfg.Cache)
	}
	if cfg.Synthesis.Thresholds.Block != 0.7 || cfg.Synthesis.Thresholds.Warn != 0.4 {
		t.Errorf("unexpected threshold defaults: %+v", cfg.Synthesis.Thresholds)
	}
	if cfg.Queue.TickIntervalSeconds != 5 {
		t.Errorf("expected tick interval 5, got %d", cfg.Queue.TickIntervalSeconds)
	}
	if cfg.Queue.RetainFinalizedSeconds != 3600 {
		t.Errorf("expected finalized retention 3600, got %d", cfg.Queue.RetainFinalizedSeconds)
	}
	if cfg.Mesh.SweepIntervalSeconds != 30 || cfg.Mesh.InactiveAfterSeconds != 60 {
		t.Errorf("unexpected mesh defaults: %+v", cfg.Mesh)
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	t.Run("first run writes a default file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sub", "sentrymesh.yaml")
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Server.Port != 12300 {
			t.Errorf("expected defaults, got port %d", cfg.Server.Port)
		}
		if _, err := os.Stat(path); err != nil {
			t.Errorf("expected the default file on disk: %v", err)
		}
	})

	t.Run("partial files overlay the defaults", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sentrymesh.yaml")
		partial := "synthesis:\n  thresholds:\n    block: 0.9\n"
		if err := os.WriteFile(path, []byte(partial), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.Synthesis.Thresholds.Block != 0.9 {
			t.Errorf("expected the overridden block 0.9, got %v", cfg.Synthesis.Thresholds.Block)
		}
		// Untouched fields keep their defaults.
		if cfg.Cache.Capacity != 50 {
			t.Errorf("expected default cache capacity, got %d", cfg.Cache.Capacity)
		}
	})

	t.Run("malformed yaml errors", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "sentrymesh.yaml")
		if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Error("expected a parse error")
		}
	})
}

func TestWatcher_Reload(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sentrymesh.yaml")
	if _, err := Load(path); err != nil {
		t.Fatalf("seed config: %v", err)
	}

	reloaded := make(chan ThresholdsConfig, 1)
	w, err := NewWatcher(path, func(tc ThresholdsConfig) {
		select {
		case reloaded <- tc:
		default:
		}
	}, testLogger())
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	// Give the watcher a moment to attach before writing.
	time.Sleep(50 * time.Millisecond)

	update := "synthesis:\n  thresholds:\n    block: 0.85\n    warn: 0.35\n"
	if err := os.WriteFile(path, []byte(update), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case tc := <-reloaded:
		if tc.Block != 0.85 || tc.Warn != 0.35 {
			t.Errorf("expected 0.85/0.35, got %+v", tc)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("expected a reload callback")
	}
}
