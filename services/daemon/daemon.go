// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package daemon assembles the cortexd subsystems and runs them as one
// process: configuration, alerting, inference, monitoring, observability,
// and the IPC surface.
package daemon

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cortexlinux/cortexd/pkg/logging"
	"github.com/cortexlinux/cortexd/services/daemon/alerts"
	"github.com/cortexlinux/cortexd/services/daemon/config"
	"github.com/cortexlinux/cortexd/services/daemon/ipc"
	"github.com/cortexlinux/cortexd/services/daemon/llm"
	"github.com/cortexlinux/cortexd/services/daemon/monitor"
	"github.com/cortexlinux/cortexd/services/daemon/observability"
)

const (
	// Name is the process identity reported over IPC.
	Name = "cortexd"

	// Version is stamped at release time.
	Version = "0.2.0"
)

// Supervisor is the process-supervisor handshake: notified once when the
// daemon is ready to serve and once when shutdown begins. The default
// implementation does nothing.
type Supervisor interface {
	Ready()
	Stopping()
}

// NoopSupervisor satisfies Supervisor for unsupervised runs and tests.
type NoopSupervisor struct{}

func (NoopSupervisor) Ready()    {}
func (NoopSupervisor) Stopping() {}

// Options controls daemon construction. Zero values defer to the loaded
// configuration.
type Options struct {
	// ConfigPath overrides the default config search paths.
	ConfigPath string

	// SocketPath overrides the configured IPC socket path.
	SocketPath string

	// LogLevel overrides the configured log level.
	LogLevel string

	// LogJSON switches stderr logging to JSON.
	LogJSON bool

	// Supervisor receives the readiness/shutdown handshake. Defaults to
	// NoopSupervisor.
	Supervisor Supervisor
}

// Daemon owns every subsystem. Construct with New, run with Run.
type Daemon struct {
	opts    Options
	log     *logging.Logger
	cfg     *config.Store
	alerts  *alerts.Store
	backend llm.Backend
	queue   *llm.Queue
	monitor *monitor.Monitor
	metrics *observability.Metrics
	obs     *observability.Server
	server  *ipc.Server
	socket  string
	watcher *config.Watcher
	started time.Time

	shutdownOnce sync.Once
	shutdownCh   chan struct{}
}

// New loads configuration and constructs every subsystem. Nothing is
// started; Run owns the lifecycle. An unreadable explicit config file is
// fatal here, matching the contract that startup either fully succeeds or
// cleanly aborts.
func New(opts Options) (*Daemon, error) {
	if opts.Supervisor == nil {
		opts.Supervisor = NoopSupervisor{}
	}

	cfgStore := config.NewStore(nil)
	if err := cfgStore.Load(opts.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg := cfgStore.Get()

	level := cfg.LogLevel
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}
	log := logging.New(logging.Config{
		Level:   logging.ParseLevel(level),
		LogDir:  cfg.LogDir,
		Service: Name,
		JSON:    opts.LogJSON,
	})

	metrics := observability.NewMetrics()
	alertStore := alerts.NewStore(log)
	backend := buildBackend(cfg, log)
	queue := llm.NewQueue(backend, llm.QueueOptions{
		MaxDepth:     cfg.MaxQueueSize,
		MaxPerSecond: cfg.MaxRequestsPerSec,
	}, metrics, log)
	mon := monitor.New(cfgStore, nil, alertStore, queue, backend, metrics, log)

	socketPath := cfg.SocketPath
	if opts.SocketPath != "" {
		socketPath = opts.SocketPath
	}
	server := ipc.NewServer(ipc.ServerOptions{
		SocketPath: socketPath,
		Timeout:    cfg.SocketTimeout,
	}, metrics, log)

	d := &Daemon{
		opts:       opts,
		log:        log,
		cfg:        cfgStore,
		alerts:     alertStore,
		backend:    backend,
		queue:      queue,
		monitor:    mon,
		metrics:    metrics,
		server:     server,
		socket:     socketPath,
		watcher:    config.NewWatcher(cfgStore, log),
		started:    time.Now(),
		shutdownCh: make(chan struct{}),
	}

	ipc.RegisterHandlers(server, ipc.Deps{
		Name:      Name,
		Version:   Version,
		StartedAt: d.started,
		Alerts:    alertStore,
		Config:    cfgStore,
		Queue:     queue,
		Monitor:   mon,
		Shutdown:  d.Shutdown,
	})

	if cfg.MetricsAddr != "" {
		d.obs = observability.NewServer(cfg.MetricsAddr, metrics, func() map[string]any {
			h := mon.Health()
			return map[string]any{
				"status":         h.Status,
				"active_alerts":  h.ActiveAlerts,
				"queue_depth":    h.QueueDepth,
				"uptime_seconds": h.UptimeSeconds,
			}
		}, log)
	}

	// Reload-safe settings take effect without a restart. Settings that
	// require one (socket path, model path) are warned about in the store.
	cfgStore.OnChange(func(c config.Config) {
		queue.SetRateLimit(c.MaxRequestsPerSec)
	})

	return d, nil
}

// buildBackend selects the inference provider from configuration. A
// misconfigured provider degrades to the disabled backend rather than
// failing startup; inference is an optional capability of the daemon.
func buildBackend(cfg config.Config, log *logging.Logger) llm.Backend {
	l := log.Component("daemon")
	switch cfg.LLMBackend {
	case config.BackendLocal:
		engine := llm.NewLlamaServerEngine(cfg.LLMBaseURL, log)
		backend := llm.NewLocalBackend(engine, log)
		modelPath := config.ExpandHome(cfg.ModelPath)
		if err := backend.LoadModel(modelPath); err != nil {
			l.Warn("local model not loaded at startup", "model_path", modelPath, "error", err)
		}
		return backend
	case config.BackendOpenAI:
		backend, err := llm.NewOpenAIBackend(cfg.APIKey, "", cfg.LLMBaseURL, log)
		if err != nil {
			l.Warn("OpenAI backend unavailable", "error", err)
			return llm.NoneBackend{}
		}
		return backend
	case config.BackendOllama:
		baseURL := cfg.LLMBaseURL
		if baseURL == "" {
			baseURL = "http://127.0.0.1:11434"
		}
		backend, err := llm.NewOllamaBackend(baseURL, "", log)
		if err != nil {
			l.Warn("Ollama backend unavailable", "error", err)
			return llm.NoneBackend{}
		}
		return backend
	default:
		return llm.NoneBackend{}
	}
}

// Shutdown requests graceful termination. Idempotent and safe from any
// goroutine, including IPC handlers.
func (d *Daemon) Shutdown() {
	d.shutdownOnce.Do(func() { close(d.shutdownCh) })
}

// Run starts every subsystem, signals readiness, and blocks until the
// context is canceled or Shutdown is called. It always returns after a
// complete teardown.
func (d *Daemon) Run(ctx context.Context) error {
	log := d.log.Component("daemon")
	log.Info("starting", "name", Name, "version", Version)

	if err := d.server.Start(); err != nil {
		return err
	}

	d.queue.Start()
	if d.obs != nil {
		d.obs.Start()
	}

	loopCtx, cancelLoops := context.WithCancel(context.Background())
	var loops sync.WaitGroup
	loops.Add(2)
	go func() {
		defer loops.Done()
		d.monitor.Run(loopCtx)
	}()
	go func() {
		defer loops.Done()
		if err := d.watcher.Run(loopCtx); err != nil {
			log.Warn("config watcher unavailable", "error", err)
		}
	}()

	d.alerts.Create(alerts.SeverityInfo, alerts.TypeDaemonStatus, "Daemon started",
		fmt.Sprintf("%s %s is running", Name, Version), nil)
	d.opts.Supervisor.Ready()
	log.Info("ready", "socket", d.socket)

	select {
	case <-ctx.Done():
		log.Info("shutdown requested by signal")
	case <-d.shutdownCh:
		log.Info("shutdown requested over IPC")
	}

	d.opts.Supervisor.Stopping()

	// Teardown order: stop accepting requests, stop the background loops,
	// let the in-flight inference finish, then drop the HTTP listener.
	stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.server.Stop(stopCtx); err != nil {
		log.Warn("IPC server did not stop cleanly", "error", err)
	}

	cancelLoops()
	loops.Wait()

	d.queue.Stop()
	if d.obs != nil {
		d.obs.Stop(stopCtx)
	}

	log.Info("stopped")
	d.log.Close()
	return nil
}
