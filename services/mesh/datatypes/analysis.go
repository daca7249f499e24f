// Copyright (C) 2025 SentryMesh AI (dev@sentrymesh.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

// AnalysisRequestPayload is the body of ANALYSIS_REQUEST and
// VERIFICATION_REQUEST envelopes. ReplyTo names the agent the response
// should route back to; empty broadcasts the response.
type AnalysisRequestPayload struct {
	RequestID  string `json:"requestId"`
	Content    string `json:"content"`
	ThreatType string `json:"threatType"`
	ContextURL string `json:"contextUrl,omitempty"`
	ReplyTo    string `json:"replyTo,omitempty"`
}

// AnalysisResponsePayload is the body of ANALYSIS_RESPONSE and
// VERIFICATION_RESPONSE envelopes.
type AnalysisResponsePayload struct {
	RequestID string          `json:"requestId"`
	Agent     string          `json:"agent"`
	Result    *ProviderResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
