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
	"sync"
	"time"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

// Engine is the raw completion engine behind the local backend. Production
// uses the llama-server HTTP engine; tests inject a fake.
type Engine interface {
	// Load prepares the engine for the given model path. Must be cheap to
	// call when already loaded.
	Load(modelPath string) error

	// Unload releases the model.
	Unload()

	// Complete runs one raw completion. Returned errors describe transport,
	// provider, or response-shape failures.
	Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error)
}

// LocalBackend drives a llama.cpp-style completion engine. The engine
// handle is guarded by its own lock, separate from the queue's lock, so
// LoadModel/UnloadModel can never race with an in-flight Generate.
type LocalBackend struct {
	mu     sync.Mutex
	engine Engine
	loaded bool
	log    *logging.Logger
}

// NewLocalBackend wraps the given engine. Pass NewLlamaServerEngine for the
// production configuration.
func NewLocalBackend(engine Engine, log *logging.Logger) *LocalBackend {
	if log == nil {
		log = logging.Default()
	}
	return &LocalBackend{engine: engine, log: log.Component("llm.local")}
}

func (b *LocalBackend) Name() string { return "local" }

// Ready reports whether a model is loaded.
func (b *LocalBackend) Ready() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loaded
}

// LoadModel loads the model at path. Idempotent: loading while already
// loaded succeeds without touching the engine again.
func (b *LocalBackend) LoadModel(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		b.log.Warn("model already loaded", "path", path)
		return nil
	}
	b.log.Info("loading model", "path", path)
	if err := b.engine.Load(path); err != nil {
		b.log.Error("model load failed", "path", path, "error", err)
		return err
	}
	b.loaded = true
	return nil
}

// UnloadModel releases the model. Safe to call when nothing is loaded.
func (b *LocalBackend) UnloadModel() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return
	}
	b.engine.Unload()
	b.loaded = false
	b.log.Info("model unloaded")
}

// Generate validates the request, runs the engine, and sanitizes the
// output. Validation failures are reported without touching the engine.
func (b *LocalBackend) Generate(ctx context.Context, req Request) Result {
	if req.Prompt == "" {
		return failure(req, "Prompt cannot be empty")
	}
	if len(req.Prompt) > MaxPromptBytes {
		return failure(req, fmt.Sprintf("Prompt exceeds maximum size (%d bytes)", MaxPromptBytes))
	}
	if req.MaxTokens <= 0 {
		return failure(req, "max_tokens must be positive")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.loaded {
		return failure(req, "Model not loaded")
	}

	output, err := b.engine.Complete(ctx, req.Prompt, req.MaxTokens, req.Temperature)
	if err != nil {
		b.log.Warn("engine completion failed", "error", err)
		return failure(req, err.Error())
	}
	return Result{
		RequestID: req.ID,
		Success:   true,
		Output:    sanitizeCompletion(output),
	}
}

// llamaServerEngine speaks the native llama-server /completion API over
// HTTP. The server owns the actual model weights; Load only verifies the
// endpoint is reachable.
type llamaServerEngine struct {
	httpClient *http.Client
	baseURL    string
	log        *logging.Logger
}

// NewLlamaServerEngine builds the production engine for the llama-server
// at baseURL (default http://127.0.0.1:8085). The overall timeout is long
// because inference is not a fast network call.
func NewLlamaServerEngine(baseURL string, log *logging.Logger) Engine {
	if baseURL == "" {
		baseURL = "http://127.0.0.1:8085"
	}
	if log == nil {
		log = logging.Default()
	}
	return &llamaServerEngine{
		httpClient: &http.Client{
			Timeout: 5 * time.Minute,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		log:     log.Component("llm.llama"),
	}
}

func (e *llamaServerEngine) Load(modelPath string) error {
	// llama-server loads the weights itself; a health probe confirms it is
	// up and has a model resident.
	resp, err := e.httpClient.Get(e.baseURL + "/health")
	if err != nil {
		return fmt.Errorf("failed to connect to llama-server at %s: %w", e.baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llama-server not ready (status %d), model %s", resp.StatusCode, modelPath)
	}
	return nil
}

func (e *llamaServerEngine) Unload() {}

type llamaCompletionRequest struct {
	Prompt      string   `json:"prompt"`
	NPredict    int      `json:"n_predict"`
	Temperature float32  `json:"temperature"`
	Stop        []string `json:"stop"`
	Stream      bool     `json:"stream"`
}

type llamaCompletionResponse struct {
	Content string `json:"content"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// systemPreamble frames the bare prompt for a Llama-2-chat completion model.
const systemPreamble = "You are a helpful Linux system administrator AI. " +
	"Give direct, actionable advice. Do not ask questions or request clarification. " +
	"Just provide the answer."

func (e *llamaServerEngine) Complete(ctx context.Context, prompt string, maxTokens int, temperature float32) (string, error) {
	formatted := "<s>[INST] <<SYS>>\n" + systemPreamble + "\n<</SYS>>\n\n" + prompt + " [/INST]"

	payload := llamaCompletionRequest{
		Prompt:      formatted,
		NPredict:    maxTokens,
		Temperature: temperature,
		Stop:        []string{"</s>", "[INST]", "[/INST]"},
		Stream:      false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/completion", bytes.NewBuffer(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	e.log.Debug("calling llama-server", "url", e.baseURL+"/completion")
	resp, err := e.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to connect to llama-server: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read llama-server response: %w", err)
	}

	var parsed llamaCompletionResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse llama-server response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llama-server error: %s", parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("llama-server failed with status %d", resp.StatusCode)
	}
	if parsed.Content == "" && len(respBody) > 0 && !bytes.Contains(respBody, []byte("content")) {
		return "", fmt.Errorf("invalid response format from llama-server")
	}
	return parsed.Content, nil
}
