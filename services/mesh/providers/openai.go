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
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/SentryMeshAI/SentryMesh/services/mesh/auth"
	"github.com/SentryMeshAI/SentryMesh/services/mesh/datatypes"
)

// analysisSystemPrompt instructs the model to answer in the strict JSON
// shape llmVerdict unmarshals.
const analysisSystemPrompt = `You are a browser threat analyst. Assess whether the given content is a threat of the hinted type (prompt injection, phishing, social engineering, malware lure, scam).
Respond with ONLY a JSON object: {"threat_score": <0..1>, "confidence": <0..1>, "indicators": ["..."]}.
threat_score is how likely the content is the hinted threat. confidence is how sure you are of your own assessment.`

// llmVerdict is the JSON shape the model is instructed to return.
type llmVerdict struct {
	ThreatScore float64  `json:"threat_score"`
	Confidence  float64  `json:"confidence"`
	Indicators  []string `json:"indicators"`
}

// LLMAnalysisProvider scores content with an OpenAI-compatible chat model.
//
// # Description
//
// Sends the flagged content plus the detector's hints to the model and
// parses a strict-JSON verdict. Credentials come from the auth manager;
// a rejected key triggers exactly one refresh-and-retry via
// auth.Manager.WithRetry, never a loop.
//
// # Thread Safety
//
// Safe for concurrent use; the underlying client is stateless per call.
type LLMAnalysisProvider struct {
	authManager *auth.Manager
	model       string
	baseURL     string
	logger      *slog.Logger
}

// NewLLMAnalysisProvider creates the provider.
//
// # Inputs
//
//   - authManager: Credential source. Must not be nil.
//   - model: Chat model name, e.g. "gpt-4o-mini".
//   - baseURL: Optional OpenAI-compatible endpoint; empty means the
//     public API.
//   - logger: Structured logger. Must not be nil.
func NewLLMAnalysisProvider(authManager *auth.Manager, model, baseURL string, logger *slog.Logger) (*LLMAnalysisProvider, error) {
	if authManager == nil {
		return nil, errors.New("authManager must not be nil")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &LLMAnalysisProvider{
		authManager: authManager,
		model:       model,
		baseURL:     baseURL,
		logger:      logger,
	}, nil
}

// Name implements Provider.
func (p *LLMAnalysisProvider) Name() string { return "llm_analysis" }

// Capability implements Provider.
func (p *LLMAnalysisProvider) Capability() string { return "analysis" }

// Analyze implements Provider.
func (p *LLMAnalysisProvider) Analyze(ctx context.Context, content, threatType, contextURL string) (*datatypes.ProviderResult, error) {
	var result *datatypes.ProviderResult

	err := p.authManager.WithRetry(ctx, func(token string) error {
		cfg := openai.DefaultConfig(token)
		if p.baseURL != "" {
			cfg.BaseURL = p.baseURL
		}
		client := openai.NewClientWithConfig(cfg)

		userPrompt := fmt.Sprintf("Threat type hint: %s\nContext URL: %s\nContent:\n%s",
			threatType, orGlobal(contextURL), content)

		resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: p.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: analysisSystemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			Temperature: 0.1,
		})
		if err != nil {
			if isAuthError(err) {
				return &auth.AuthenticationError{Reason: "provider rejected credential", Wrapped: err}
			}
			return &ProviderError{Provider: p.Name(), Wrapped: err}
		}
		if len(resp.Choices) == 0 {
			return &ProviderError{Provider: p.Name(), Wrapped: errors.New("no choices returned")}
		}

		verdict, err := parseVerdict(resp.Choices[0].Message.Content)
		if err != nil {
			return &ProviderError{Provider: p.Name(), Wrapped: err}
		}

		result = &datatypes.ProviderResult{
			ThreatScore: clamp(verdict.ThreatScore),
			Confidence:  clamp(verdict.Confidence),
			Indicators:  verdict.Indicators,
			Source:      p.Name(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.logger.Debug("llm analysis complete",
		"threat_type", threatType,
		"score", result.ThreatScore,
		"confidence", result.Confidence)
	return result, nil
}

// parseVerdict extracts the JSON verdict from a model reply, tolerating
// code fences around the object.
func parseVerdict(reply string) (*llmVerdict, error) {
	reply = strings.TrimSpace(reply)
	if start := strings.Index(reply, "{"); start >= 0 {
		if end := strings.LastIndex(reply, "}"); end > start {
			reply = reply[start : end+1]
		}
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(reply), &v); err != nil {
		return nil, fmt.Errorf("unparseable verdict: %w", err)
	}
	return &v, nil
}

// isAuthError reports whether an OpenAI API error is a credential
// rejection.
func isAuthError(err error) bool {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusUnauthorized ||
			apiErr.HTTPStatusCode == http.StatusForbidden
	}
	return false
}

func orGlobal(contextURL string) string {
	if contextURL == "" {
		return "global"
	}
	return contextURL
}
