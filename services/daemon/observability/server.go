// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cortexlinux/cortexd/pkg/logging"
)

// Server is the optional local HTTP listener for scrape and liveness
// endpoints. It serves only /metrics and /healthz and is expected to be
// bound to a loopback address; it is not part of the IPC surface.
type Server struct {
	addr   string
	srv    *http.Server
	log    *logging.Logger
	health func() map[string]any
}

// NewServer builds the listener. The health callback provides the /healthz
// body; it may be nil.
func NewServer(addr string, metrics *Metrics, health func() map[string]any, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Default()
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	if metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))
	}

	s := &Server{
		addr:   addr,
		log:    log.Component("observability"),
		health: health,
	}
	router.GET("/healthz", func(c *gin.Context) {
		body := gin.H{"status": "ok"}
		if s.health != nil {
			for k, v := range s.health() {
				body[k] = v
			}
		}
		c.JSON(http.StatusOK, body)
	})

	s.srv = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start begins serving in a background goroutine. Listener failures after
// startup are logged, not fatal; the IPC surface is the daemon's contract.
func (s *Server) Start() {
	s.log.Info("metrics listener starting", "addr", s.addr)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("metrics listener failed", "error", err)
		}
	}()
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) {
	if err := s.srv.Shutdown(ctx); err != nil {
		s.log.Warn("metrics listener shutdown", "error", err)
	}
}
