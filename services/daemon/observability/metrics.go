// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability exposes the daemon's Prometheus metrics and an
// optional localhost HTTP listener serving /metrics and /healthz.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles every instrument the daemon records. A nil *Metrics is
// valid everywhere and records nothing, which keeps tests quiet.
type Metrics struct {
	registry *prometheus.Registry

	IPCRequests      *prometheus.CounterVec
	IPCErrors        *prometheus.CounterVec
	InferenceAdmits  prometheus.Counter
	InferenceRejects *prometheus.CounterVec
	InferenceLatency prometheus.Histogram
	QueueDepth       prometheus.Gauge
	ActiveAlerts     prometheus.Gauge
}

// NewMetrics builds and registers all daemon instruments on a private
// registry.
func NewMetrics() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.IPCRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortexd",
		Subsystem: "ipc",
		Name:      "requests_total",
		Help:      "IPC requests handled, by method.",
	}, []string{"method"})

	m.IPCErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortexd",
		Subsystem: "ipc",
		Name:      "errors_total",
		Help:      "IPC error responses, by error code.",
	}, []string{"code"})

	m.InferenceAdmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "cortexd",
		Subsystem: "inference",
		Name:      "admitted_total",
		Help:      "Inference requests admitted to the queue.",
	})

	m.InferenceRejects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "cortexd",
		Subsystem: "inference",
		Name:      "rejected_total",
		Help:      "Inference requests rejected at admission, by reason.",
	}, []string{"reason"})

	m.InferenceLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "cortexd",
		Subsystem: "inference",
		Name:      "latency_seconds",
		Help:      "Backend generate latency.",
		Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	})

	m.QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cortexd",
		Subsystem: "inference",
		Name:      "queue_depth",
		Help:      "Requests currently waiting in the inference queue.",
	})

	m.ActiveAlerts = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "cortexd",
		Subsystem: "alerts",
		Name:      "active",
		Help:      "Non-acknowledged alerts in the store.",
	})

	m.registry.MustRegister(
		m.IPCRequests, m.IPCErrors,
		m.InferenceAdmits, m.InferenceRejects, m.InferenceLatency,
		m.QueueDepth, m.ActiveAlerts,
	)
	return m
}

// Registry returns the private registry backing these instruments.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// The recording helpers below are nil-safe so call sites never need a guard.

func (m *Metrics) RecordIPCRequest(method string) {
	if m != nil {
		m.IPCRequests.WithLabelValues(method).Inc()
	}
}

func (m *Metrics) RecordIPCError(code string) {
	if m != nil {
		m.IPCErrors.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) RecordAdmit() {
	if m != nil {
		m.InferenceAdmits.Inc()
	}
}

func (m *Metrics) RecordReject(reason string) {
	if m != nil {
		m.InferenceRejects.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) ObserveLatency(seconds float64) {
	if m != nil {
		m.InferenceLatency.Observe(seconds)
	}
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) SetActiveAlerts(n int) {
	if m != nil {
		m.ActiveAlerts.Set(float64(n))
	}
}
