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
	"fmt"
	"time"
)

// ProviderError wraps a single-source transport or backend failure.
//
// # Description
//
// Carries the provider name so synthesis can attribute the abstention.
// Supports unwrapping via errors.Is/As. A ProviderError never escalates
// past synthesis unless every attempted source fails.
type ProviderError struct {
	// Provider is the failing provider's name.
	Provider string

	// Wrapped is the underlying error (may be nil).
	Wrapped error
}

func (e *ProviderError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("provider %s: %v", e.Provider, e.Wrapped)
	}
	return fmt.Sprintf("provider %s failed", e.Provider)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Wrapped
}

// ProviderTimeoutError marks a call abandoned by the caller's deadline.
//
// The call may still complete in the background; its result is discarded.
type ProviderTimeoutError struct {
	// Provider is the provider that exceeded the deadline.
	Provider string

	// Timeout is the per-call budget that was exceeded.
	Timeout time.Duration
}

func (e *ProviderTimeoutError) Error() string {
	return fmt.Sprintf("provider %s timed out after %s", e.Provider, e.Timeout)
}

// Compile-time interface satisfaction checks
var (
	_ error = (*ProviderError)(nil)
	_ error = (*ProviderTimeoutError)(nil)
)
