// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package providers defines the analysis/verification provider contract
// and the concrete provider implementations the mesh ships with.
package providers

import (
	"context"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// Provider is an external capability that independently assesses content.
//
// # Description
//
// Implementations are unreliable by assumption: calls may time out or
// fail with transport errors, and the synthesis engine absorbs both as
// the source abstaining. Implementations must honor ctx cancellation on
// the network path.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use; the synthesis engine
// fans out to all providers in parallel.
type Provider interface {
	// Name identifies the provider; it doubles as the circuit breaker
	// key and the source label in synthesis results.
	Name() string

	// Capability is the mesh capability the provider serves,
	// e.g. "analysis" or "verification".
	Capability() string

	// Analyze assesses the content and returns a scored result.
	Analyze(ctx context.Context, content, threatType, contextURL string) (*datatypes.ProviderResult, error)
}

// clamp bounds a score to [0,1]. Provider backends occasionally return
// out-of-range values; the data model forbids them.
func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
