// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config holds the daemon's operating parameters and supports safe
// hot reload.
//
// Parsing is deliberately lenient: unknown keys are ignored, and a malformed
// value fails only that field's assignment, leaving its default (or prior
// value) in place. A file that cannot be read or parsed at all leaves the
// previously committed configuration fully intact.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Defaults mirror a conservative single-host deployment.
const (
	DefaultSocketPath         = "/run/cortex.sock"
	DefaultSocketBacklog      = 16
	DefaultSocketTimeout      = 5 * time.Second
	DefaultMaxRequestsPerSec  = 100
	DefaultMonitoringInterval = 5 * time.Minute
	DefaultAlertRetention     = 7 * 24 * time.Hour
	DefaultMaxQueueSize       = 100
)

// Backend selects which inference provider the daemon drives.
type Backend string

const (
	BackendNone   Backend = "none"
	BackendLocal  Backend = "local"
	BackendOpenAI Backend = "openai"
	BackendOllama Backend = "ollama"
)

// Config is the flat record of daemon operating parameters. Readers always
// receive a full copy from Store.Get, never a live handle.
type Config struct {
	SocketPath    string
	SocketBacklog int
	SocketTimeout time.Duration

	MaxRequestsPerSec int
	MaxQueueSize      int

	LogLevel string
	LogDir   string

	LLMBackend Backend
	LLMBaseURL string
	ModelPath  string
	APIKey     string

	MonitoringInterval time.Duration
	AlertRetention     time.Duration

	DiskWarnThreshold       float64
	DiskCriticalThreshold   float64
	MemoryWarnThreshold     float64
	MemoryCriticalThreshold float64

	MetricsAddr string
}

// DefaultConfig returns the built-in defaults applied before any file overlay.
func DefaultConfig() Config {
	return Config{
		SocketPath:              DefaultSocketPath,
		SocketBacklog:           DefaultSocketBacklog,
		SocketTimeout:           DefaultSocketTimeout,
		MaxRequestsPerSec:       DefaultMaxRequestsPerSec,
		MaxQueueSize:            DefaultMaxQueueSize,
		LogLevel:                "info",
		LLMBackend:              BackendNone,
		ModelPath:               "~/.cortex/models/default.gguf",
		MonitoringInterval:      DefaultMonitoringInterval,
		AlertRetention:          DefaultAlertRetention,
		DiskWarnThreshold:       0.80,
		DiskCriticalThreshold:   0.95,
		MemoryWarnThreshold:     0.85,
		MemoryCriticalThreshold: 0.95,
	}
}

// SearchPaths is the priority-ordered list of default config file locations
// consulted when no explicit path is given.
func SearchPaths() []string {
	return []string{
		"/etc/cortex/daemon.conf",
		ExpandHome("~/.cortex/daemon.conf"),
	}
}

// ExpandHome replaces a leading ~ with the user's home directory.
func ExpandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}

// Sanitized returns the client-visible view of the configuration for the
// config.get method. Secrets are omitted; the API key's presence is
// reported as a boolean only.
func (c Config) Sanitized() map[string]any {
	return map[string]any{
		"socket_path":                 c.SocketPath,
		"socket_backlog":              c.SocketBacklog,
		"socket_timeout_ms":           int(c.SocketTimeout / time.Millisecond),
		"max_requests_per_sec":        c.MaxRequestsPerSec,
		"max_inference_queue_size":    c.MaxQueueSize,
		"log_level":                   c.LogLevel,
		"llm_backend":                 string(c.LLMBackend),
		"llm_base_url":                c.LLMBaseURL,
		"model_path":                  c.ModelPath,
		"api_key_present":             c.APIKey != "",
		"monitoring_interval_seconds": int(c.MonitoringInterval / time.Second),
		"alert_retention_days":        int(c.AlertRetention / (24 * time.Hour)),
		"disk_warn_threshold":         c.DiskWarnThreshold,
		"disk_critical_threshold":     c.DiskCriticalThreshold,
		"memory_warn_threshold":       c.MemoryWarnThreshold,
		"memory_critical_threshold":   c.MemoryCriticalThreshold,
		"metrics_addr":                c.MetricsAddr,
	}
}

// apply assigns a single parsed key. Malformed values are reported through
// the returned error but the caller continues with remaining keys; this is
// the per-field leniency contract.
func (c *Config) apply(key string, value any) error {
	switch key {
	case "socket_path":
		return assignString(&c.SocketPath, value)
	case "socket_backlog":
		return assignInt(&c.SocketBacklog, value)
	case "socket_timeout_ms":
		var ms int
		if err := assignInt(&ms, value); err != nil {
			return err
		}
		c.SocketTimeout = time.Duration(ms) * time.Millisecond
		return nil
	case "max_requests_per_sec":
		return assignInt(&c.MaxRequestsPerSec, value)
	case "max_inference_queue_size":
		return assignInt(&c.MaxQueueSize, value)
	case "log_level":
		s := fmt.Sprintf("%v", value)
		c.LogLevel = strings.TrimSpace(s)
		return nil
	case "log_dir":
		return assignString(&c.LogDir, value)
	case "llm_backend":
		var s string
		if err := assignString(&s, value); err != nil {
			return err
		}
		switch Backend(strings.ToLower(s)) {
		case BackendNone, BackendLocal, BackendOpenAI, BackendOllama:
			c.LLMBackend = Backend(strings.ToLower(s))
			return nil
		default:
			return fmt.Errorf("unknown llm_backend %q", s)
		}
	case "llm_base_url":
		return assignString(&c.LLMBaseURL, value)
	case "model_path":
		return assignString(&c.ModelPath, value)
	case "api_key":
		return assignString(&c.APIKey, value)
	case "monitoring_interval_seconds":
		var secs int
		if err := assignInt(&secs, value); err != nil {
			return err
		}
		c.MonitoringInterval = time.Duration(secs) * time.Second
		return nil
	case "alert_retention_days":
		var days int
		if err := assignInt(&days, value); err != nil {
			return err
		}
		c.AlertRetention = time.Duration(days) * 24 * time.Hour
		return nil
	case "disk_warn_threshold":
		return assignFloat(&c.DiskWarnThreshold, value)
	case "disk_critical_threshold":
		return assignFloat(&c.DiskCriticalThreshold, value)
	case "memory_warn_threshold":
		return assignFloat(&c.MemoryWarnThreshold, value)
	case "memory_critical_threshold":
		return assignFloat(&c.MemoryCriticalThreshold, value)
	case "metrics_addr":
		return assignString(&c.MetricsAddr, value)
	default:
		// Unknown keys are ignored.
		return nil
	}
}

func assignString(dst *string, value any) error {
	switch v := value.(type) {
	case string:
		*dst = strings.TrimSpace(v)
		return nil
	case nil:
		return fmt.Errorf("missing value")
	default:
		*dst = fmt.Sprintf("%v", v)
		return nil
	}
}

func assignInt(dst *int, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
		return nil
	case int64:
		*dst = int(v)
		return nil
	case float64:
		*dst = int(v)
		return nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*dst = n
		return nil
	default:
		return fmt.Errorf("not an integer: %v", value)
	}
}

func assignFloat(dst *float64, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
		return nil
	case int:
		*dst = float64(v)
		return nil
	case int64:
		*dst = float64(v)
		return nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("not a number: %q", v)
		}
		*dst = f
		return nil
	default:
		return fmt.Errorf("not a number: %v", value)
	}
}
