// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAIBackend is the chat-completion style remote provider.
type OpenAIBackend struct {
	client *openai.Client
	model  string
	log    *logging.Logger
}

// NewOpenAIBackend builds the backend. Returns ErrNotConfigured when the
// API key is empty. An empty model selects a small default; an empty
// baseURL uses the public API.
func NewOpenAIBackend(apiKey, model, baseURL string, log *logging.Logger) (*OpenAIBackend, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	if model == "" {
		model = defaultOpenAIModel
	}
	if log == nil {
		log = logging.Default()
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	// Generation can take minutes; the default client timeout is far too
	// short for an inference call.
	cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}

	l := log.Component("llm.openai")
	l.Info("initialized OpenAI backend", "model", model)
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
		log:    l,
	}, nil
}

func (b *OpenAIBackend) Name() string { return "openai" }
func (b *OpenAIBackend) Ready() bool  { return true }

// Generate implements the Backend contract.
func (b *OpenAIBackend) Generate(ctx context.Context, req Request) Result {
	if req.Prompt == "" {
		return failure(req, "Prompt cannot be empty")
	}
	if req.MaxTokens <= 0 {
		return failure(req, "max_tokens must be positive")
	}

	b.log.Debug("generating via OpenAI", "model", b.model)
	resp, err := b.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: b.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
	})
	if err != nil {
		b.log.Error("OpenAI API call failed", "error", err)
		return failure(req, "OpenAI API call failed: "+err.Error())
	}
	if len(resp.Choices) == 0 {
		return failure(req, "OpenAI returned no choices")
	}
	return Result{
		RequestID: req.ID,
		Success:   true,
		Output:    resp.Choices[0].Message.Content,
	}
}
