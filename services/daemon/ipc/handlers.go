// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/cortexlinux/cortexd/services/daemon/alerts"
	"github.com/cortexlinux/cortexd/services/daemon/config"
	"github.com/cortexlinux/cortexd/services/daemon/llm"
	"github.com/cortexlinux/cortexd/services/daemon/monitor"
)

const defaultMaxTokens = 512

// Deps carries the subsystems the protocol handlers operate on. Explicit
// injection instead of process-wide singletons so tests run against
// isolated instances.
type Deps struct {
	Name      string
	Version   string
	StartedAt time.Time

	Alerts  *alerts.Store
	Config  *config.Store
	Queue   *llm.Queue
	Monitor *monitor.Monitor

	// Shutdown requests graceful daemon termination. Invoked
	// asynchronously so the shutdown response still reaches the client.
	Shutdown func()
}

// RegisterHandlers binds the full daemon method set onto the server.
func RegisterHandlers(s *Server, d Deps) {
	s.Register("ping", handlePing)
	s.Register("version", d.handleVersion)
	s.Register("status", d.handleStatus)
	s.Register("health", d.handleHealth)
	s.Register("alerts", d.handleAlertsGet)
	s.Register("alerts.get", d.handleAlertsGet)
	s.Register("alerts.ack", d.handleAlertsAck)
	s.Register("alerts.dismiss", d.handleAlertsDismiss)
	s.Register("config.get", d.handleConfigGet)
	s.Register("config.reload", d.handleConfigReload)
	s.Register("shutdown", d.handleShutdown)
	s.Register("infer", d.handleInfer)
	s.Register("infer.result", d.handleInferResult)
}

func handlePing(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]any{"pong": true}, nil
}

func (d Deps) handleVersion(_ context.Context, _ json.RawMessage) (any, error) {
	return map[string]any{"name": d.Name, "version": d.Version}, nil
}

func (d Deps) handleStatus(_ context.Context, _ json.RawMessage) (any, error) {
	out := map[string]any{
		"running":        true,
		"name":           d.Name,
		"version":        d.Version,
		"uptime_seconds": int64(time.Since(d.StartedAt) / time.Second),
	}
	if d.Monitor != nil {
		h := d.Monitor.Health()
		out["health"] = h
		out["backend"] = h.Backend
	}
	if d.Queue != nil {
		out["queue_depth"] = d.Queue.Pending()
	}
	if d.Alerts != nil {
		out["active_alerts"] = d.Alerts.CountActive()
	}
	return out, nil
}

func (d Deps) handleHealth(ctx context.Context, _ json.RawMessage) (any, error) {
	if d.Monitor == nil {
		return nil, Errorf(CodeInternalError, "monitor not available")
	}
	// Serve a fresh sample when none has been taken yet.
	if _, ok := d.Monitor.LastSnapshot(); !ok {
		if err := d.Monitor.Refresh(ctx); err != nil {
			return nil, Errorf(CodeInternalError, "resource sample failed: %v", err)
		}
	}
	return d.Monitor.Health(), nil
}

type alertsGetParams struct {
	Severity string `json:"severity"`
	Type     string `json:"type"`
	Limit    any    `json:"limit"`
}

func (d Deps) handleAlertsGet(_ context.Context, params json.RawMessage) (any, error) {
	var p alertsGetParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
		}
	}

	active := d.Alerts.Active()
	filtered := make([]alerts.Alert, 0, len(active))
	for _, a := range active {
		if p.Severity != "" && a.Severity.String() != strings.ToLower(p.Severity) {
			continue
		}
		if p.Type != "" && a.Type.String() != strings.ToLower(p.Type) {
			continue
		}
		filtered = append(filtered, a)
	}

	// Limit is best-effort: a malformed value is ignored, matching the
	// lenient parsing contract everywhere else.
	if limit, ok := coerceLimit(p.Limit); ok && limit >= 0 && limit < len(filtered) {
		filtered = filtered[:limit]
	}

	return map[string]any{
		"alerts": filtered,
		"count":  len(filtered),
		"counts": d.Alerts.CountBySeverity(),
	}, nil
}

func coerceLimit(v any) (int, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

type alertIDParams struct {
	ID  string `json:"id"`
	All bool   `json:"all"`
}

func (d Deps) handleAlertsAck(_ context.Context, params json.RawMessage) (any, error) {
	var p alertIDParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
		}
	}
	if p.All {
		return map[string]any{"acknowledged_count": d.Alerts.AcknowledgeAll()}, nil
	}
	if p.ID == "" {
		return nil, Errorf(CodeInvalidParams, "id or all:true is required")
	}
	if !d.Alerts.Acknowledge(p.ID) {
		return nil, Errorf(CodeNotFound, "alert %s not found", p.ID)
	}
	return map[string]any{"acknowledged": p.ID}, nil
}

func (d Deps) handleAlertsDismiss(_ context.Context, params json.RawMessage) (any, error) {
	var p alertIDParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
		}
	}
	if p.All {
		return map[string]any{"dismissed_count": d.Alerts.DismissAll()}, nil
	}
	if p.ID == "" {
		return nil, Errorf(CodeInvalidParams, "id or all:true is required")
	}
	if !d.Alerts.Dismiss(p.ID) {
		return nil, Errorf(CodeNotFound, "alert %s not found", p.ID)
	}
	return map[string]any{"dismissed": p.ID}, nil
}

func (d Deps) handleConfigGet(_ context.Context, _ json.RawMessage) (any, error) {
	return d.Config.Get().Sanitized(), nil
}

func (d Deps) handleConfigReload(_ context.Context, _ json.RawMessage) (any, error) {
	if err := d.Config.Reload(); err != nil {
		return nil, Errorf(CodeConfigError, "reload failed: %v", err)
	}
	return map[string]any{
		"reloaded": true,
		"config":   d.Config.Get().Sanitized(),
	}, nil
}

func (d Deps) handleShutdown(_ context.Context, _ json.RawMessage) (any, error) {
	if d.Shutdown != nil {
		go d.Shutdown()
	}
	return map[string]any{"shutting_down": true}, nil
}

type inferParams struct {
	ID          string  `json:"id"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
}

func (d Deps) handleInfer(_ context.Context, params json.RawMessage) (any, error) {
	var p inferParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
		}
	}
	if p.Prompt == "" {
		return nil, Errorf(CodeInvalidParams, "Prompt cannot be empty")
	}
	if len(p.Prompt) > llm.MaxPromptBytes {
		return nil, Errorf(CodeInvalidParams, "Prompt exceeds maximum size (%d bytes)", llm.MaxPromptBytes)
	}
	if p.MaxTokens == 0 {
		p.MaxTokens = defaultMaxTokens
	}
	if p.MaxTokens < 0 {
		return nil, Errorf(CodeInvalidParams, "max_tokens must be positive")
	}
	if d.Queue == nil {
		return nil, Errorf(CodeBackendError, "LLM backend not configured")
	}
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	err := d.Queue.Enqueue(llm.Request{
		ID:          p.ID,
		Prompt:      p.Prompt,
		MaxTokens:   p.MaxTokens,
		Temperature: p.Temperature,
	})
	switch {
	case errors.Is(err, llm.ErrRateLimited):
		return nil, Errorf(CodeRateLimited, "rate limit exceeded")
	case errors.Is(err, llm.ErrQueueFull):
		return nil, Errorf(CodeQueueFull, "queue full")
	case err != nil:
		return nil, Errorf(CodeInternalError, "enqueue failed: %v", err)
	}

	return map[string]any{
		"id":      p.ID,
		"queued":  true,
		"pending": d.Queue.Pending(),
	}, nil
}

type inferResultParams struct {
	ID string `json:"id"`
}

func (d Deps) handleInferResult(_ context.Context, params json.RawMessage) (any, error) {
	var p inferResultParams
	if len(params) > 0 {
		if err := json.Unmarshal(params, &p); err != nil {
			return nil, Errorf(CodeInvalidParams, "invalid params: %v", err)
		}
	}
	if d.Queue == nil {
		return nil, Errorf(CodeBackendError, "LLM backend not configured")
	}

	var (
		res llm.Result
		ok  bool
	)
	if p.ID == "" {
		res, ok = d.Queue.LastResult()
	} else {
		res, ok = d.Queue.Result(p.ID)
	}
	if !ok {
		if p.ID == "" {
			return nil, Errorf(CodeNotFound, "no result available")
		}
		return nil, Errorf(CodeNotFound, "no result for request %s", p.ID)
	}

	return map[string]any{
		"request_id": res.RequestID,
		"success":    res.Success,
		"output":     res.Output,
		"error":      res.Error,
		"latency_ms": res.LatencyMS(),
	}, nil
}
