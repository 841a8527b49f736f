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
	"time"

	"github.com/cortexlinux/cortexd/pkg/logging"
	"github.com/cortexlinux/cortexd/services/daemon/observability"
)

// Admission failures. Rejects are immediate; the queue never blocks a
// caller waiting for backend availability.
var (
	ErrRateLimited = errors.New("rate limit exceeded")
	ErrQueueFull   = errors.New("queue full")
)

// Queue protects the slow, single-concurrency backend from overload. One
// dedicated worker goroutine pulls requests and drives Generate; the
// worker never has more than one in-flight backend call, which is the
// mechanism that prevents concurrent engine access.
type Queue struct {
	backend Backend
	limiter *windowLimiter
	items   chan Request
	stop    chan struct{}
	done    chan struct{}
	results *resultCache
	metrics *observability.Metrics
	log     *logging.Logger
}

// QueueOptions tunes admission control.
type QueueOptions struct {
	// MaxDepth bounds pending requests. Default 100.
	MaxDepth int

	// MaxPerSecond is the fixed-window rate ceiling. Default 100;
	// non-positive disables the limiter.
	MaxPerSecond int
}

// NewQueue builds a queue over the backend. Call Start to launch the
// worker and Stop to tear it down.
func NewQueue(backend Backend, opts QueueOptions, metrics *observability.Metrics, log *logging.Logger) *Queue {
	if backend == nil {
		backend = NoneBackend{}
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 100
	}
	if log == nil {
		log = logging.Default()
	}
	return &Queue{
		backend: backend,
		limiter: newWindowLimiter(opts.MaxPerSecond),
		items:   make(chan Request, opts.MaxDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
		results: newResultCache(resultCacheSize, resultCacheTTL),
		metrics: metrics,
		log:     log.Component("inference"),
	}
}

// Backend returns the provider the worker drives.
func (q *Queue) Backend() Backend { return q.backend }

// SetRateLimit adjusts the admission ceiling at runtime (config reload).
func (q *Queue) SetRateLimit(perSecond int) {
	q.limiter.setLimit(perSecond)
}

// Enqueue admits or rejects a request. Rate limit is checked first, then
// queue depth; both rejects return immediately with a distinct error so
// clients can back off appropriately.
func (q *Queue) Enqueue(req Request) error {
	if !q.limiter.allow(time.Now()) {
		q.metrics.RecordReject("rate_limited")
		q.log.Warn("rejected inference request", "reason", "rate limit exceeded", "id", req.ID)
		return ErrRateLimited
	}
	select {
	case q.items <- req:
		q.metrics.RecordAdmit()
		q.metrics.SetQueueDepth(len(q.items))
		return nil
	default:
		q.metrics.RecordReject("queue_full")
		q.log.Warn("rejected inference request", "reason", "queue full", "id", req.ID)
		return ErrQueueFull
	}
}

// Pending returns the number of requests waiting for the worker.
func (q *Queue) Pending() int { return len(q.items) }

// Result returns the outcome for a correlation ID, if still retained.
func (q *Queue) Result(id string) (Result, bool) { return q.results.get(id) }

// LastResult returns the most recently produced result. Retained for
// single-client polling; concurrent callers should use Result instead.
func (q *Queue) LastResult() (Result, bool) { return q.results.last() }

// Start launches the worker goroutine.
func (q *Queue) Start() {
	go q.run()
	q.log.Info("inference worker started", "backend", q.backend.Name())
}

// Stop wakes the worker and blocks until it has exited. The current
// backend call, if any, runs to completion first; generation is not
// preemptible mid-call.
func (q *Queue) Stop() {
	close(q.stop)
	<-q.done
	q.log.Info("inference worker stopped")
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.stop:
			return
		case req := <-q.items:
			q.metrics.SetQueueDepth(len(q.items))
			q.process(req)
		}
	}
}

func (q *Queue) process(req Request) {
	start := time.Now()
	result := q.backend.Generate(context.Background(), req)
	result.RequestID = req.ID
	result.Latency = time.Since(start)

	q.metrics.ObserveLatency(result.Latency.Seconds())
	q.results.put(result)

	if result.Success {
		q.log.Debug("processed inference request", "id", req.ID, "latency_ms", result.LatencyMS())
	} else {
		q.log.Warn("inference request failed", "id", req.ID, "error", result.Error)
	}
}
