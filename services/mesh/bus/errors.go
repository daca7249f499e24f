// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bus

import (
	"fmt"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// RoutingError is returned when an envelope's target resolves nowhere.
//
// Routing failures are never silent: a target that matches no local
// agent, no relay node, and no broadcast recipient surfaces here.
type RoutingError struct {
	// TargetID is the unresolvable agent ID ("" for empty broadcasts).
	TargetID string

	// Type is the envelope's message type, for log context.
	Type datatypes.MessageType

	// Reason describes the resolution failure.
	Reason string
}

func (e *RoutingError) Error() string {
	if e.TargetID == "" {
		return fmt.Sprintf("routing %s: %s", e.Type, e.Reason)
	}
	return fmt.Sprintf("routing %s to %q: %s", e.Type, e.TargetID, e.Reason)
}

var _ error = (*RoutingError)(nil)
