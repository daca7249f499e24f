// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify defines the notification sink collaborator contract.
package notify

import (
	"log/slog"
	"sync"
)

// Notification is one user-facing message about a decision.
type Notification struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// Sink receives notifications fire-and-forget.
//
// Implementations must not block the caller; the queue processor hands
// decisions off and moves on regardless of delivery.
type Sink interface {
	Notify(n Notification)
}

// LogSink writes notifications to the structured log. It stands in for
// the browser-side notification surface, which is outside this core.
type LogSink struct {
	Logger *slog.Logger
}

// Notify implements Sink.
func (s *LogSink) Notify(n Notification) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notification",
		"title", n.Title,
		"severity", n.Severity,
		"message", n.Message)
}

// MockSink records notifications for tests.
type MockSink struct {
	mu            sync.Mutex
	Notifications []Notification
}

// Notify implements Sink.
func (s *MockSink) Notify(n Notification) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Notifications = append(s.Notifications, n)
}

// Count returns how many notifications were recorded.
func (s *MockSink) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Notifications)
}

// All returns a copy of the recorded notifications.
func (s *MockSink) All() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Notification, len(s.Notifications))
	copy(out, s.Notifications)
	return out
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*MockSink)(nil)
)
