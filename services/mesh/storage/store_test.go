// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// TestStore_MissIsNotAnError verifies an absent key reports a clean miss.
func TestStore_MissIsNotAnError(t *testing.T) {
	s := openTestStore(t)

	value, ok, err := s.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok, "absent key should report a miss")
	assert.Nil(t, value)
}

// TestStore_RoundTrip verifies Put then Get returns the stored value.
func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "auth/provider_token", []byte("secret")))

	value, ok, err := s.Get(ctx, "auth/provider_token")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "secret", string(value))
}

// TestStore_LastWriteWins verifies overwrite semantics.
func TestStore_LastWriteWins(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "k", []byte("one")))
	require.NoError(t, s.Put(ctx, "k", []byte("two")))

	value, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(value))
}

// TestStore_Delete verifies a deleted key reads back as a miss.
func TestStore_Delete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	require.NoError(t, s.Put(ctx, "gone", []byte("x")))
	require.NoError(t, s.Delete(ctx, "gone"))

	_, ok, err := s.Get(ctx, "gone")
	require.NoError(t, err)
	assert.False(t, ok, "deleted key should be gone")
}

// TestStore_RequiresPath verifies a persistent store rejects an empty path.
func TestStore_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err, "persistent store needs a path")
}

// TestStore_PersistsAcrossReopen verifies values survive Close and Open.
func TestStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "durable", []byte("value")))
	require.NoError(t, s.Close())

	s2, err := Open(Config{Path: dir})
	require.NoError(t, err)
	defer s2.Close()

	value, ok, err := s2.Get(ctx, "durable")
	require.NoError(t, err)
	require.True(t, ok, "value should survive a reopen")
	assert.Equal(t, "value", string(value))
}
