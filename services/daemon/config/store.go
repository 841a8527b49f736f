// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

// ChangeCallback receives the newly committed configuration by value after
// each successful load or reload. Callbacks run after the store's lock is
// released, so they may safely call back into the store.
type ChangeCallback func(Config)

// Store holds the single authoritative in-memory configuration. Readers get
// atomically consistent snapshots; a failed load never exposes a partially
// updated record.
type Store struct {
	mu        sync.Mutex
	current   Config
	path      string
	callbacks []ChangeCallback
	log       *logging.Logger
}

// NewStore constructs a store holding the built-in defaults.
func NewStore(log *logging.Logger) *Store {
	if log == nil {
		log = logging.Default()
	}
	return &Store{
		current: DefaultConfig(),
		log:     log.Component("config"),
	}
}

// Get returns a full copy of the current configuration.
func (s *Store) Get() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// Path returns the file path used by the last successful Load, or "".
func (s *Store) Path() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.path
}

// OnChange registers a callback fired once per successful load or reload.
func (s *Store) OnChange(cb ChangeCallback) {
	if cb == nil {
		return
	}
	s.mu.Lock()
	s.callbacks = append(s.callbacks, cb)
	s.mu.Unlock()
}

// Load overlays the file at path onto the defaults and commits the result.
// An empty path consults SearchPaths in priority order; when no file exists
// the defaults stay committed and Load returns nil.
//
// A file that cannot be read or is not valid YAML fails the whole load and
// leaves the prior configuration intact. A malformed individual value only
// skips that field (logged at warning level).
func (s *Store) Load(path string) error {
	if path == "" {
		for _, candidate := range SearchPaths() {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
		if path == "" {
			s.log.Info("no config file found, using defaults")
			return nil
		}
	}

	raw, err := os.ReadFile(ExpandHome(path))
	if err != nil {
		s.log.Error("failed to read config file", "path", path, "error", err)
		return fmt.Errorf("read config %s: %w", path, err)
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(raw, &parsed); err != nil {
		s.log.Error("failed to parse config file", "path", path, "error", err)
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	next := DefaultConfig()
	// Deterministic application order keeps warning logs stable.
	keys := make([]string, 0, len(parsed))
	for k := range parsed {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := next.apply(k, parsed[k]); err != nil {
			s.log.Warn("skipping malformed config value", "key", k, "error", err)
		}
	}

	s.commit(next, path)
	s.log.Info("configuration loaded", "path", path)
	return nil
}

// Reload re-runs Load against the previously used path.
func (s *Store) Reload() error {
	s.mu.Lock()
	path := s.path
	s.mu.Unlock()
	if path == "" {
		return fmt.Errorf("no config file was ever loaded")
	}
	return s.Load(path)
}

// commit swaps in the new configuration and fires callbacks with the lock
// released, so a callback reading the store cannot deadlock.
func (s *Store) commit(next Config, path string) {
	s.mu.Lock()
	prev := s.current
	s.current = next
	s.path = path
	callbacks := make([]ChangeCallback, len(s.callbacks))
	copy(callbacks, s.callbacks)
	s.mu.Unlock()

	// Some values only take effect on restart; adopt them in memory but
	// tell the operator.
	if prev.ModelPath != next.ModelPath {
		s.log.Warn("model path changed, restart daemon to apply",
			"old", prev.ModelPath, "new", next.ModelPath)
	}
	if prev.SocketPath != next.SocketPath {
		s.log.Warn("socket path changed, restart daemon to apply",
			"old", prev.SocketPath, "new", next.SocketPath)
	}

	for _, cb := range callbacks {
		cb(next)
	}
}

// Save writes the current configuration to path (or the last loaded path
// when empty) as YAML, creating parent directories as needed.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	cfg := s.current
	if path == "" {
		path = s.path
	}
	s.mu.Unlock()
	if path == "" {
		return fmt.Errorf("no target path for save")
	}
	path = ExpandHome(path)

	doc := map[string]any{
		"socket_path":                 cfg.SocketPath,
		"socket_backlog":              cfg.SocketBacklog,
		"socket_timeout_ms":           int(cfg.SocketTimeout / time.Millisecond),
		"max_requests_per_sec":        cfg.MaxRequestsPerSec,
		"max_inference_queue_size":    cfg.MaxQueueSize,
		"log_level":                   cfg.LogLevel,
		"log_dir":                     cfg.LogDir,
		"llm_backend":                 string(cfg.LLMBackend),
		"llm_base_url":                cfg.LLMBaseURL,
		"model_path":                  cfg.ModelPath,
		"monitoring_interval_seconds": int(cfg.MonitoringInterval / time.Second),
		"alert_retention_days":        int(cfg.AlertRetention / (24 * time.Hour)),
		"disk_warn_threshold":         cfg.DiskWarnThreshold,
		"disk_critical_threshold":     cfg.DiskCriticalThreshold,
		"memory_warn_threshold":       cfg.MemoryWarnThreshold,
		"memory_critical_threshold":   cfg.MemoryCriticalThreshold,
		"metrics_addr":                cfg.MetricsAddr,
	}
	if cfg.APIKey != "" {
		doc["api_key"] = cfg.APIKey
	}

	raw, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write config %s: %w", path, err)
	}
	s.log.Info("configuration saved", "path", path)
	return nil
}
