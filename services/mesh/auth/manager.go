// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package auth manages provider API credentials backed by the opaque
// key-value store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

// tokenKey is where the active provider token lives in the store.
const tokenKey = "auth/provider_token"

// AuthenticationError signals a rejected or missing credential.
//
// The holder of a Manager reacts with exactly one
// re-authenticate-and-retry (see WithRetry); never an unbounded loop.
type AuthenticationError struct {
	// Reason describes what went wrong.
	Reason string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

func (e *AuthenticationError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("authentication failed: %s: %v", e.Reason, e.Wrapped)
	}
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// Unwrap returns the underlying error.
func (e *AuthenticationError) Unwrap() error {
	return e.Wrapped
}

var _ error = (*AuthenticationError)(nil)

// Store is the key-value collaborator the manager persists tokens in.
// Semantics are last-write-wins; the store is outside the mesh core's
// consistency domain.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Manager holds the provider API token and refreshes it on rejection.
//
// # Description
//
// Tokens resolve in priority order: cached in memory, persisted in the
// store, then the environment variable named by EnvVar. Refresh re-reads
// the environment (the operator's rotation path) and persists the new
// token.
//
// # Thread Safety
//
// Manager is safe for concurrent use.
type Manager struct {
	store  Store
	envVar string

	mu    sync.Mutex
	token string
}

// NewManager creates a manager reading fallback tokens from envVar.
//
// store may be nil; the manager then works purely from the environment.
func NewManager(store Store, envVar string) *Manager {
	return &Manager{store: store, envVar: envVar}
}

// Token returns the active credential.
//
// # Outputs
//
//   - string: The token.
//   - error: *AuthenticationError if no credential can be resolved.
func (m *Manager) Token(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.token != "" {
		return m.token, nil
	}

	if m.store != nil {
		data, ok, err := m.store.Get(ctx, tokenKey)
		if err != nil {
			return "", &AuthenticationError{Reason: "token store read failed", Wrapped: err}
		}
		if ok && len(data) > 0 {
			m.token = string(data)
			return m.token, nil
		}
	}

	if tok := os.Getenv(m.envVar); tok != "" {
		m.token = tok
		m.persistLocked(ctx, tok)
		return tok, nil
	}

	return "", &AuthenticationError{Reason: "no credential configured"}
}

// Refresh discards the cached token and re-resolves from the environment.
//
// # Outputs
//
//   - error: *AuthenticationError if no fresh credential is available.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tok := os.Getenv(m.envVar)
	if tok == "" || tok == m.token {
		m.token = ""
		if tok == "" {
			return &AuthenticationError{Reason: "no credential available on refresh"}
		}
	}
	m.token = tok
	m.persistLocked(ctx, tok)
	return nil
}

// persistLocked writes the token through to the store, best effort.
// Caller must hold m.mu.
func (m *Manager) persistLocked(ctx context.Context, tok string) {
	if m.store == nil {
		return
	}
	// Last-write-wins store; a failed write only costs the next restart
	// a fallback to the environment.
	_ = m.store.Put(ctx, tokenKey, []byte(tok))
}

// WithRetry runs fn with the active token, re-authenticating and
// retrying exactly once if fn reports an AuthenticationError.
//
// # Inputs
//
//   - ctx: Context for cancellation. Must not be nil.
//   - fn: Operation taking the resolved token.
//
// # Outputs
//
//   - error: The final failure after at most one refresh-and-retry.
func (m *Manager) WithRetry(ctx context.Context, fn func(token string) error) error {
	tok, err := m.Token(ctx)
	if err != nil {
		return err
	}

	err = fn(tok)
	var authErr *AuthenticationError
	if err == nil || !errors.As(err, &authErr) {
		return err
	}

	if refreshErr := m.Refresh(ctx); refreshErr != nil {
		return refreshErr
	}
	tok, tokErr := m.Token(ctx)
	if tokErr != nil {
		return tokErr
	}
	return fn(tok)
}
