// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package llm provides the inference backend abstraction and the admission-
// controlled queue that serializes access to it.
//
// A Backend presents one contract over heterogeneous providers: a local
// llama.cpp-style engine, an OpenAI chat-completion API, or an Ollama
// generation API. Backend failures are always carried in the Result's Error
// field; nothing in this package panics across a goroutine boundary.
package llm

import (
	"context"
	"errors"
	"time"
)

// MaxPromptBytes bounds the prompt accepted by the local backend.
const MaxPromptBytes = 8192

// Request is one inference job. Immutable once enqueued; the ID is the
// caller-supplied correlation identifier used to retrieve the result.
type Request struct {
	ID          string  `json:"id"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

// Result is produced exactly once per accepted request.
type Result struct {
	RequestID string        `json:"request_id"`
	Success   bool          `json:"success"`
	Output    string        `json:"output,omitempty"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"-"`
}

// LatencyMS is the wire representation of the measured latency.
func (r Result) LatencyMS() float64 {
	return float64(r.Latency) / float64(time.Millisecond)
}

// failure builds an error Result for a request.
func failure(req Request, msg string) Result {
	return Result{RequestID: req.ID, Success: false, Error: msg}
}

// Backend is the generic generate contract. Generate blocks for the full
// provider round trip (minutes for slow models) and must only be driven
// from the queue's single worker.
type Backend interface {
	// Name identifies the provider ("local", "openai", "ollama", "none").
	Name() string

	// Ready reports whether the backend can serve a request right now.
	Ready() bool

	// Generate runs one inference. Errors are reported in Result.Error.
	Generate(ctx context.Context, req Request) Result
}

// Failure taxonomy shared by the concrete backends.
var (
	ErrNotConfigured = errors.New("backend not configured")
	ErrNotLoaded     = errors.New("model not loaded")
)

// NoneBackend is the disabled provider. Every request fails with a
// not-configured error.
type NoneBackend struct{}

func (NoneBackend) Name() string { return "none" }
func (NoneBackend) Ready() bool  { return false }

func (NoneBackend) Generate(_ context.Context, req Request) Result {
	return failure(req, "LLM backend not configured")
}
