// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the bounded verification/intelligence cache,
// keyed by a deterministic request fingerprint.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// queryTruncateLen bounds how much of the query text feeds the
// fingerprint. Identical long texts still collide on purpose; the tail
// of a flagged passage rarely changes its verification outcome.
const queryTruncateLen = 100

// Fingerprint derives the deterministic cache key for a request.
//
// # Description
//
// The key covers (truncated query text, threat type, context URL). An
// empty context is normalized to "global" so page-independent lookups
// share entries. Identical triples always produce the same key and
// changing any one component changes the key.
//
// # Inputs
//
//   - query: The flagged content. Only the first 100 bytes participate.
//   - threatType: The detector's classification hint.
//   - contextURL: The page the content was seen at. May be empty.
//
// # Outputs
//
//   - string: Hex-encoded SHA-256 digest.
func Fingerprint(query, threatType, contextURL string) string {
	if len(query) > queryTruncateLen {
		query = query[:queryTruncateLen]
	}
	if contextURL == "" {
		contextURL = "global"
	}

	h := sha256.New()
	h.Write([]byte(query))
	h.Write([]byte{0})
	h.Write([]byte(threatType))
	h.Write([]byte{0})
	h.Write([]byte(contextURL))
	return hex.EncodeToString(h.Sum(nil))
}

// Entry is one cached verification result.
type Entry struct {
	// Key is the request fingerprint.
	Key string

	// Value is the cached provider result.
	Value datatypes.ProviderResult

	// InsertedAt orders entries for eviction.
	InsertedAt time.Time
}

// Config controls cache admission and capacity.
type Config struct {
	// Capacity is the maximum number of entries. Default: 50
	Capacity int

	// AcceptanceCutoff is the minimum confidence a result needs to be
	// admitted; lower-confidence noise never enters the cache.
	// Default: 0.4
	AcceptanceCutoff float64
}

// DefaultConfig returns the mesh defaults.
func DefaultConfig() Config {
	return Config{
		Capacity:         50,
		AcceptanceCutoff: 0.4,
	}
}

// Cache is a bounded fingerprint-keyed store of verification results.
//
// # Description
//
// Eviction is strict insertion order: when an insert would exceed
// capacity, the oldest still-present insertion is dropped, regardless of
// how recently it was read. Identical fingerprints tend to recur with
// stable results, so the simpler policy trades little hit rate for a lot
// less bookkeeping. There is no time-based expiry.
//
// # Thread Safety
//
// Cache is safe for concurrent use.
type Cache struct {
	config  Config
	entries map[string]*Entry
	order   []string // fingerprints in insertion order, oldest first
	hits    uint64
	misses  uint64
	mu      sync.Mutex
}

// New creates an empty cache. Zero-value config fields fall back to
// DefaultConfig values.
func New(config Config) *Cache {
	if config.Capacity <= 0 {
		config.Capacity = 50
	}
	if config.AcceptanceCutoff <= 0 {
		config.AcceptanceCutoff = 0.4
	}

	return &Cache{
		config:  config,
		entries: make(map[string]*Entry),
		order:   make([]string, 0, config.Capacity),
	}
}

// Get looks up an entry by fingerprint.
//
// A miss is a normal outcome, reported through ok, never an error.
func (c *Cache) Get(key string) (datatypes.ProviderResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return datatypes.ProviderResult{}, false
	}
	c.hits++
	return entry.Value, true
}

// Put stores a result under the fingerprint if its confidence clears the
// acceptance cutoff.
//
// # Outputs
//
//   - bool: True if the value was admitted.
func (c *Cache) Put(key string, value datatypes.ProviderResult) bool {
	if value.Confidence <= c.config.AcceptanceCutoff {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		// Refresh in place; insertion order is unchanged.
		existing.Value = value
		return true
	}

	if len(c.entries) >= c.config.Capacity {
		c.evictOldest()
	}

	c.entries[key] = &Entry{
		Key:        key,
		Value:      value,
		InsertedAt: time.Now(),
	}
	c.order = append(c.order, key)
	return true
}

// evictOldest drops the earliest still-present insertion.
// Caller must hold c.mu.
func (c *Cache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats reports hit/miss counters and current size.
type Stats struct {
	Hits   uint64 `json:"hits"`
	Misses uint64 `json:"misses"`
	Size   int    `json:"size"`
}

// Stats returns a point-in-time counter snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: len(c.entries)}
}
