// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package providers

import (
	"context"
	"sync"
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// MockProvider is a configurable provider for tests.
//
// # Description
//
// All behavior is configured through the struct fields. Delay simulates
// a slow backend and respects ctx cancellation, so timeout paths can be
// exercised deterministically.
//
// # Thread Safety
//
// Safe for concurrent use; call counts are mutex-guarded.
type MockProvider struct {
	// ProviderName is returned by Name(). Required.
	ProviderName string

	// ProviderCapability is returned by Capability(). Default "analysis".
	ProviderCapability string

	// Result is returned on success. The Source field is filled in
	// automatically if empty.
	Result datatypes.ProviderResult

	// Err, when non-nil, is returned instead of Result.
	Err error

	// Delay is slept (cancellably) before answering.
	Delay time.Duration

	mu    sync.Mutex
	calls int
}

// Name implements Provider.
func (m *MockProvider) Name() string { return m.ProviderName }

// Capability implements Provider.
func (m *MockProvider) Capability() string {
	if m.ProviderCapability == "" {
		return "analysis"
	}
	return m.ProviderCapability
}

// Analyze implements Provider.
func (m *MockProvider) Analyze(ctx context.Context, content, threatType, contextURL string) (*datatypes.ProviderResult, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, &ProviderTimeoutError{Provider: m.ProviderName, Timeout: m.Delay}
		}
	}

	if m.Err != nil {
		return nil, m.Err
	}

	result := m.Result
	if result.Source == "" {
		result.Source = m.ProviderName
	}
	return &result, nil
}

// Calls returns how many times Analyze was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ Provider = (*MockProvider)(nil)
