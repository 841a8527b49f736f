// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

const defaultOllamaModel = "llama3"

// OllamaBackend is the simple generation style remote provider, speaking
// the Ollama /api/generate endpoint.
type OllamaBackend struct {
	httpClient *http.Client
	baseURL    string
	model      string
	log        *logging.Logger
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllamaBackend builds the backend. Returns ErrNotConfigured when the
// base URL is empty.
func NewOllamaBackend(baseURL, model string, log *logging.Logger) (*OllamaBackend, error) {
	if baseURL == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = defaultOllamaModel
	}
	if log == nil {
		log = logging.Default()
	}
	l := log.Component("llm.ollama")
	l.Info("initialized Ollama backend", "base_url", baseURL, "model", model)
	return &OllamaBackend{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		model:   model,
		log:     l,
	}, nil
}

func (b *OllamaBackend) Name() string { return "ollama" }
func (b *OllamaBackend) Ready() bool  { return true }

// Generate implements the Backend contract.
func (b *OllamaBackend) Generate(ctx context.Context, req Request) Result {
	if req.Prompt == "" {
		return failure(req, "Prompt cannot be empty")
	}
	if req.MaxTokens <= 0 {
		return failure(req, "max_tokens must be positive")
	}

	payload := ollamaGenerateRequest{
		Model:  b.model,
		Prompt: req.Prompt,
		Stream: false,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": req.MaxTokens,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return failure(req, "failed to marshal Ollama request: "+err.Error())
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/api/generate", bytes.NewBuffer(body))
	if err != nil {
		return failure(req, "failed to create Ollama request: "+err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	b.log.Debug("generating via Ollama", "model", b.model)
	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		b.log.Error("Ollama API call failed", "error", err)
		return failure(req, "Ollama API call failed: "+err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return failure(req, "failed to read Ollama response: "+err.Error())
	}

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(respBody, &errResp) == nil && errResp.Error != "" {
			if resp.StatusCode == http.StatusNotFound && strings.Contains(errResp.Error, "not found") {
				return failure(req, fmt.Sprintf("model '%s' not found. Please run: 'ollama pull %s'", b.model, b.model))
			}
			return failure(req, "Ollama error: "+errResp.Error)
		}
		return failure(req, fmt.Sprintf("Ollama failed with status %d", resp.StatusCode))
	}

	var parsed ollamaGenerateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		b.log.Error("failed to parse Ollama response", "error", err)
		return failure(req, "failed to parse Ollama response: "+err.Error())
	}
	return Result{
		RequestID: req.ID,
		Success:   true,
		Output:    parsed.Response,
	}
}
