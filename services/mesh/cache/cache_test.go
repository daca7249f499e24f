// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"fmt"
	"strings"
	"testing"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

func result(score, confidence float64) datatypes.ProviderResult {
	return datatypes.ProviderResult{
		ThreatScore: score,
		Confidence:  confidence,
		Source:      "test",
	}
}

func TestFingerprint(t *testing.T) {
	t.Parallel()

	t.Run("is deterministic", func(t *testing.T) {
		a := Fingerprint("suspicious text", "phishing", "https://example.com")
		b := Fingerprint("suspicious text", "phishing", "https://example.com")
		if a != b {
			t.Errorf("expected identical fingerprints, got %s and %s", a, b)
		}
	})

	t.Run("empty url folds into global scope", func(t *testing.T) {
		a := Fingerprint("text", "phishing", "")
		b := Fingerprint("text", "phishing", "global")
		if a != b {
			t.Errorf("expected empty url to equal the global scope, got %s and %s", a, b)
		}
	})

	t.Run("only first 100 bytes of the query participate", func(t *testing.T) {
		base := strings.Repeat("x", 100)
		a := Fingerprint(base+"tail one", "phishing", "")
		b := Fingerprint(base+"different tail", "phishing", "")
		if a != b {
			t.Errorf("expected identical fingerprints past the truncation point")
		}

		c := Fingerprint(strings.Repeat("y", 100), "phishing", "")
		if a == c {
			t.Errorf("expected different prefixes to produce different fingerprints")
		}
	})

	t.Run("field boundaries do not collide", func(t *testing.T) {
		a := Fingerprint("ab", "c", "url")
		b := Fingerprint("a", "bc", "url")
		if a == b {
			t.Errorf("expected separator to keep field boundaries distinct")
		}
	})
}

func TestCache_GetPut(t *testing.T) {
	t.Parallel()

	t.Run("miss then hit", func(t *testing.T) {
		c := New(DefaultConfig())
		key := Fingerprint("query", "phishing", "")

		if _, ok := c.Get(key); ok {
			t.Fatal("expected a miss on an empty cache")
		}
		if !c.Put(key, result(0.9, 0.8)) {
			t.Fatal("expected the result to be admitted")
		}
		got, ok := c.Get(key)
		if !ok {
			t.Fatal("expected a hit after Put")
		}
		if got.ThreatScore != 0.9 {
			t.Errorf("expected score 0.9, got %v", got.ThreatScore)
		}

		stats := c.Stats()
		if stats.Hits != 1 || stats.Misses != 1 {
			t.Errorf("expected 1 hit and 1 miss, got %+v", stats)
		}
	})

	t.Run("rejects results at or below the acceptance cutoff", func(t *testing.T) {
		c := New(Config{Capacity: 10, AcceptanceCutoff: 0.4})

		if c.Put("k1", result(0.9, 0.4)) {
			t.Error("expected confidence equal to the cutoff to be rejected")
		}
		if c.Put("k2", result(0.9, 0.1)) {
			t.Error("expected low confidence to be rejected")
		}
		if !c.Put("k3", result(0.9, 0.41)) {
			t.Error("expected confidence above the cutoff to be admitted")
		}
		if c.Len() != 1 {
			t.Errorf("expected 1 entry, got %d", c.Len())
		}
	})

	t.Run("refresh keeps insertion order", func(t *testing.T) {
		c := New(Config{Capacity: 2, AcceptanceCutoff: 0.4})
		c.Put("a", result(0.1, 0.9))
		c.Put("b", result(0.2, 0.9))

		// Refreshing "a" must not make it the newest insertion.
		c.Put("a", result(0.3, 0.9))
		c.Put("c", result(0.4, 0.9))

		if _, ok := c.Get("a"); ok {
			t.Error("expected refreshed oldest entry to still be evicted first")
		}
		if _, ok := c.Get("b"); !ok {
			t.Error("expected second insertion to survive")
		}
		if _, ok := c.Get("c"); !ok {
			t.Error("expected newest insertion to survive")
		}
	})
}

func TestCache_CapacityBound(t *testing.T) {
	t.Parallel()

	c := New(Config{Capacity: 50, AcceptanceCutoff: 0.4})
	for i := 0; i < 75; i++ {
		c.Put(fmt.Sprintf("key-%d", i), result(0.5, 0.9))
	}

	if c.Len() != 50 {
		t.Fatalf("expected the cache to hold exactly 50 entries, got %d", c.Len())
	}

	// The 25 oldest insertions are gone, the rest are present.
	for i := 0; i < 25; i++ {
		if _, ok := c.Get(fmt.Sprintf("key-%d", i)); ok {
			t.Errorf("expected key-%d to have been evicted", i)
		}
	}
	for i := 25; i < 75; i++ {
		if _, ok := c.Get(fmt.Sprintf("key-%d", i)); !ok {
			t.Errorf("expected key-%d to be present", i)
		}
	}
}

func TestCache_Defaults(t *testing.T) {
	t.Parallel()

	c := New(Config{})
	for i := 0; i < 60; i++ {
		c.Put(fmt.Sprintf("key-%d", i), result(0.5, 0.9))
	}
	if c.Len() != 50 {
		t.Errorf("expected the default capacity of 50, got %d", c.Len())
	}
	if c.Put("low", result(0.5, 0.3)) {
		t.Error("expected the default cutoff of 0.4 to reject confidence 0.3")
	}
}
