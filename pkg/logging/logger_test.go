// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLevel_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.level.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLogger_ExporterReceivesEntries(t *testing.T) {
	t.Parallel()

	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Service:  "mesh",
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Info("threat queued", "eventId", "evt-1")
	logger.Warn("breaker opened", "service", "llm_analysis")

	// Export runs on a goroutine per entry.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := exporter.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 exported entries, got %d", len(entries))
	}

	byMessage := make(map[string]LogEntry, len(entries))
	for _, entry := range entries {
		byMessage[entry.Message] = entry
	}

	queued, ok := byMessage["threat queued"]
	if !ok {
		t.Fatal("missing entry for threat queued")
	}
	if queued.Level != LevelInfo {
		t.Errorf("level = %v, want %v", queued.Level, LevelInfo)
	}
	if queued.Service != "mesh" {
		t.Errorf("service = %q, want mesh", queued.Service)
	}
	if queued.Attrs["eventId"] != "evt-1" {
		t.Errorf("eventId attr = %v, want evt-1", queued.Attrs["eventId"])
	}
}

func TestLogger_ExporterRespectsLevel(t *testing.T) {
	t.Parallel()

	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelWarn,
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	logger.Debug("dropped")
	logger.Info("also dropped")
	logger.Error("kept")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	entries := exporter.Entries()
	if len(entries) != 1 {
		t.Fatalf("expected 1 exported entry, got %d", len(entries))
	}
	if entries[0].Message != "kept" {
		t.Errorf("message = %q, want kept", entries[0].Message)
	}
}

func TestLogger_FileOutput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger := New(Config{
		Level:   LevelInfo,
		LogDir:  dir,
		Service: "mesh",
		Quiet:   true,
	})

	logger.Info("node started", "nodeId", "node-1")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	filename := fmt.Sprintf("mesh_%s.log", time.Now().Format("2006-01-02"))
	data, err := os.ReadFile(filepath.Join(dir, filename))
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}

	var record map[string]any
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("log file is not JSON: %v", err)
	}
	if record["msg"] != "node started" {
		t.Errorf("msg = %v, want node started", record["msg"])
	}
	if record["service"] != "mesh" {
		t.Errorf("service = %v, want mesh", record["service"])
	}
	if record["nodeId"] != "node-1" {
		t.Errorf("nodeId = %v, want node-1", record["nodeId"])
	}
}

func TestLogger_With(t *testing.T) {
	t.Parallel()

	exporter := NewBufferedExporter()
	logger := New(Config{
		Level:    LevelInfo,
		Quiet:    true,
		Exporter: exporter,
	})
	defer logger.Close()

	child := logger.With("agent", "llm_analysis")
	if child == logger {
		t.Fatal("With should return a new logger")
	}
	if child.Slog() == logger.Slog() {
		t.Error("child should carry its own slog logger")
	}

	// Attributes passed to With live on the slog handler, not the
	// exporter map; both parent and child still export.
	child.Info("from child")
	logger.Info("from parent")

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if len(exporter.Entries()) == 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := len(exporter.Entries()); got != 2 {
		t.Errorf("expected 2 entries from the shared exporter, got %d", got)
	}
}

func TestLogger_CloseFlushesExporter(t *testing.T) {
	t.Parallel()

	exporter := &recordingExporter{}
	logger := New(Config{Quiet: true, Exporter: exporter})

	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if !exporter.flushed {
		t.Error("expected Flush to be called on Close")
	}
	if !exporter.closed {
		t.Error("expected Close to be called on Close")
	}
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}

	if got := expandPath("~/logs"); got != filepath.Join(home, "logs") {
		t.Errorf("expandPath(~/logs) = %q", got)
	}
	if got := expandPath("/var/log/mesh"); got != "/var/log/mesh" {
		t.Errorf("expandPath should leave absolute paths alone, got %q", got)
	}
}

func TestArgsToMap(t *testing.T) {
	t.Parallel()

	got := argsToMap([]any{"a", 1, "b", "two", "dangling"})
	if len(got) != 2 {
		t.Fatalf("expected 2 entries, got %d: %v", len(got), got)
	}
	if got["a"] != 1 || got["b"] != "two" {
		t.Errorf("unexpected map: %v", got)
	}
}

// recordingExporter tracks lifecycle calls for Close tests.
type recordingExporter struct {
	flushed bool
	closed  bool
}

func (e *recordingExporter) Export(ctx context.Context, entry LogEntry) error { return nil }
func (e *recordingExporter) Flush(ctx context.Context) error {
	e.flushed = true
	return nil
}
func (e *recordingExporter) Close() error {
	e.closed = true
	return nil
}

var _ LogExporter = (*recordingExporter)(nil)
