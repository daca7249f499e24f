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

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the config file when it changes on disk.
//
// # Description
//
// Only the decision thresholds are safe to apply mid-flight; the
// callback receives the freshly parsed thresholds and the owning
// component swaps them in. Structural settings (ports, storage paths,
// provider wiring) still require a restart.
//
// # Thread Safety
//
// Safe for concurrent use. Start should only be called once.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onReload func(ThresholdsConfig)
	logger   *slog.Logger
}

// NewWatcher creates a watcher for the config file at path.
//
// # Inputs
//
//   - path: The config file to watch.
//   - onReload: Invoked with the new thresholds after a successful
//     reload. Must not be nil.
//   - logger: Structured logger. Must not be nil.
//
// # Outputs
//
//   - *Watcher: Ready-to-start watcher.
//   - error: Non-nil if watcher creation fails.
func NewWatcher(path string, onReload func(ThresholdsConfig), logger *slog.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		path:     path,
		watcher:  fw,
		onReload: onReload,
		logger:   logger,
	}, nil
}

// Start begins watching. Blocks until the context is cancelled; run it
// in a goroutine.
func (w *Watcher) Start(ctx context.Context) {
	defer w.watcher.Close()

	if err := w.watcher.Add(w.path); err != nil {
		w.logger.Warn("failed to watch config file", "path", w.path, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)
		}
	}
}

// reload parses the file and hands the thresholds to the callback.
// A malformed file keeps the previous thresholds in place.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous thresholds",
			"path", w.path, "error", err)
		return
	}

	w.logger.Info("config reloaded",
		"block_threshold", cfg.Synthesis.Thresholds.Block,
		"warn_threshold", cfg.Synthesis.Thresholds.Warn)
	w.onReload(cfg.Synthesis.Thresholds)
}
