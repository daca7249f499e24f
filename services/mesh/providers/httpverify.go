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
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// verifyRequest is the wire request to a verification backend.
type verifyRequest struct {
	Query      string `json:"query"`
	ThreatType string `json:"threatType"`
	ContextURL string `json:"contextUrl"`
}

// verifyResponse is the wire response from a verification backend.
type verifyResponse struct {
	ThreatScore float64  `json:"threatScore"`
	Confidence  float64  `json:"confidence"`
	Indicators  []string `json:"indicators"`
}

// HTTPVerificationProvider corroborates threats against an external
// search/intelligence backend over plain HTTP.
//
// # Thread Safety
//
// Safe for concurrent use; http.Client is safe for concurrent use.
type HTTPVerificationProvider struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPVerificationProvider creates the provider.
//
// # Inputs
//
//   - endpoint: Full URL of the backend's verify route.
//   - timeout: Transport-level timeout. The synthesis engine applies its
//     own per-call deadline on top; this one guards dialing stalls.
//   - logger: Structured logger. Must not be nil.
func NewHTTPVerificationProvider(endpoint string, timeout time.Duration, logger *slog.Logger) (*HTTPVerificationProvider, error) {
	if endpoint == "" {
		return nil, errors.New("endpoint must not be empty")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPVerificationProvider{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}, nil
}

// Name implements Provider.
func (p *HTTPVerificationProvider) Name() string { return "http_verification" }

// Capability implements Provider.
func (p *HTTPVerificationProvider) Capability() string { return "verification" }

// Analyze implements Provider.
func (p *HTTPVerificationProvider) Analyze(ctx context.Context, content, threatType, contextURL string) (*datatypes.ProviderResult, error) {
	body, err := json.Marshal(verifyRequest{
		Query:      content,
		ThreatType: threatType,
		ContextURL: orGlobal(contextURL),
	})
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Wrapped: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Wrapped: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, &ProviderTimeoutError{Provider: p.Name(), Timeout: p.client.Timeout}
		}
		return nil, &ProviderError{Provider: p.Name(), Wrapped: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain a little of the body for the error message; backends
		// return short JSON errors.
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, &ProviderError{
			Provider: p.Name(),
			Wrapped:  fmt.Errorf("backend returned %d: %s", resp.StatusCode, snippet),
		}
	}

	var vr verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&vr); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Wrapped: fmt.Errorf("decode response: %w", err)}
	}

	p.logger.Debug("verification complete",
		"threat_type", threatType,
		"score", vr.ThreatScore,
		"confidence", vr.Confidence)

	return &datatypes.ProviderResult{
		ThreatScore: clamp(vr.ThreatScore),
		Confidence:  clamp(vr.Confidence),
		Indicators:  vr.Indicators,
		Source:      p.Name(),
	}, nil
}
