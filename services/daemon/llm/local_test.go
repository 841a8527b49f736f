// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package llm

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEngine counts calls so tests can assert validation short-circuits
// before the engine is ever touched.
type fakeEngine struct {
	loadErr     error
	output      string
	completeErr error

	loads     atomic.Int32
	completes atomic.Int32
}

func (f *fakeEngine) Load(string) error {
	f.loads.Add(1)
	return f.loadErr
}

func (f *fakeEngine) Unload() {}

func (f *fakeEngine) Complete(context.Context, string, int, float32) (string, error) {
	f.completes.Add(1)
	return f.output, f.completeErr
}

func TestLocalGenerateNotLoaded(t *testing.T) {
	engine := &fakeEngine{}
	b := NewLocalBackend(engine, nil)

	res := b.Generate(context.Background(), Request{ID: "r1", Prompt: "hi", MaxTokens: 10, Temperature: 0.5})
	assert.False(t, res.Success)
	assert.Equal(t, "Model not loaded", res.Error)
	assert.Equal(t, int32(0), engine.completes.Load())
}

func TestLocalGenerateValidation(t *testing.T) {
	engine := &fakeEngine{output: "fine"}
	b := NewLocalBackend(engine, nil)
	require.NoError(t, b.LoadModel("/models/test.gguf"))

	tests := []struct {
		name    string
		req     Request
		wantErr string
	}{
		{"empty prompt", Request{MaxTokens: 10}, "Prompt cannot be empty"},
		{"oversized prompt", Request{Prompt: strings.Repeat("x", MaxPromptBytes+1), MaxTokens: 10}, "Prompt exceeds maximum size (8192 bytes)"},
		{"zero tokens", Request{Prompt: "hi"}, "max_tokens must be positive"},
		{"negative tokens", Request{Prompt: "hi", MaxTokens: -1}, "max_tokens must be positive"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := b.Generate(context.Background(), tt.req)
			assert.False(t, res.Success)
			assert.Equal(t, tt.wantErr, res.Error)
		})
	}
	// No validation failure reached the engine.
	assert.Equal(t, int32(0), engine.completes.Load())
}

func TestLocalLoadModelIdempotent(t *testing.T) {
	engine := &fakeEngine{}
	b := NewLocalBackend(engine, nil)

	require.NoError(t, b.LoadModel("/models/test.gguf"))
	require.NoError(t, b.LoadModel("/models/test.gguf"))
	assert.Equal(t, int32(1), engine.loads.Load())
	assert.True(t, b.Ready())

	b.UnloadModel()
	assert.False(t, b.Ready())
}

func TestLocalLoadModelFailure(t *testing.T) {
	engine := &fakeEngine{loadErr: errors.New("no such file")}
	b := NewLocalBackend(engine, nil)

	require.Error(t, b.LoadModel("/missing.gguf"))
	assert.False(t, b.Ready())
}

func TestLocalGenerateSanitizesOutput(t *testing.T) {
	engine := &fakeEngine{output: "You are a helpful assistant\nCheck journalctl -u nginx\nNote: ask again if unclear\n"}
	b := NewLocalBackend(engine, nil)
	require.NoError(t, b.LoadModel("/models/test.gguf"))

	res := b.Generate(context.Background(), Request{ID: "r1", Prompt: "nginx is down", MaxTokens: 64})
	require.True(t, res.Success)
	assert.Equal(t, "Check journalctl -u nginx", res.Output)
}

func TestLocalGenerateEngineError(t *testing.T) {
	engine := &fakeEngine{completeErr: errors.New("connection refused")}
	b := NewLocalBackend(engine, nil)
	require.NoError(t, b.LoadModel("/models/test.gguf"))

	res := b.Generate(context.Background(), Request{Prompt: "hi", MaxTokens: 10})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "connection refused")
}

func TestSanitizeCompletion(t *testing.T) {
	raw := "I'd be happy to help!\n\nRestart the service with systemctl.\nHint: use sudo\n  \nThen verify status."
	got := sanitizeCompletion(raw)
	assert.Equal(t, "Restart the service with systemctl.\nThen verify status.", got)

	// Output that is nothing but leakage sanitizes to empty.
	assert.Equal(t, "", sanitizeCompletion("As an AI, I cannot.\nPlease provide more detail."))
}

func TestLlamaServerEngineComplete(t *testing.T) {
	var gotBody []byte
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/completion":
			gotBody, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"content":"use df -h"}`))
		}
	}))
	defer ts.Close()

	engine := NewLlamaServerEngine(ts.URL, nil)
	require.NoError(t, engine.Load("/models/test.gguf"))

	out, err := engine.Complete(context.Background(), "disk full", 32, 0.2)
	require.NoError(t, err)
	assert.Equal(t, "use df -h", out)
	assert.Contains(t, string(gotBody), "[INST]")
	assert.Contains(t, string(gotBody), "disk full")
}

func TestLlamaServerEngineProviderError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"model exploded"}}`))
	}))
	defer ts.Close()

	engine := NewLlamaServerEngine(ts.URL, nil)
	_, err := engine.Complete(context.Background(), "hi", 8, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model exploded")
}

func TestLlamaServerEngineTransportFailure(t *testing.T) {
	engine := NewLlamaServerEngine("http://127.0.0.1:1", nil)
	_, err := engine.Complete(context.Background(), "hi", 8, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect")
}
