// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package breaker

import "sync"

// Manager holds one breaker per named upstream dependency.
//
// # Description
//
// Breakers are created on demand with the manager's default configuration.
// The manager is constructed explicitly and injected wherever provider
// calls are made; there is no package-level instance.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
//
// # Example
//
//	mgr := NewManager(DefaultConfig())
//	err := mgr.Execute("analysis", func() error { return provider.Analyze(...) })
type Manager struct {
	defaultConfig Config
	breakers      map[string]*Breaker
	mu            sync.RWMutex
}

// NewManager creates an empty manager.
func NewManager(defaultConfig Config) *Manager {
	return &Manager{
		defaultConfig: defaultConfig,
		breakers:      make(map[string]*Breaker),
	}
}

// Get returns the breaker for a service, creating it if needed.
func (m *Manager) Get(service string) *Breaker {
	m.mu.RLock()
	b, exists := m.breakers[service]
	m.mu.RUnlock()

	if exists {
		return b
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring the write lock.
	if b, exists = m.breakers[service]; exists {
		return b
	}

	b = New(service, m.defaultConfig)
	m.breakers[service] = b
	return b
}

// GetWithConfig returns the service's breaker, creating it with a custom
// configuration if it does not exist yet.
func (m *Manager) GetWithConfig(service string, config Config) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, exists := m.breakers[service]; exists {
		return b
	}

	b := New(service, config)
	m.breakers[service] = b
	return b
}

// Execute runs fn through the named service's breaker.
func (m *Manager) Execute(service string, fn func() error) error {
	return m.Get(service).Execute(fn)
}

// Available reports whether the named service would accept a call now.
func (m *Manager) Available(service string) bool {
	return m.Get(service).Available()
}

// Snapshots returns a point-in-time view of every breaker, keyed by
// service name.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for name, b := range m.breakers {
		out[name] = b.Snapshot()
	}
	return out
}

// ResetAll forces every breaker back to closed.
func (m *Manager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.breakers {
		b.Reset()
	}
}
