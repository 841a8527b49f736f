// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package observability

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	// Every recording helper must be callable on a nil receiver.
	m.RecordIPCRequest("ping")
	m.RecordIPCError("parse_error")
	m.RecordAdmit()
	m.RecordReject("queue_full")
	m.ObserveLatency(1.5)
	m.SetQueueDepth(3)
	m.SetActiveAlerts(1)
	assert.Nil(t, m.Registry())
}

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.RecordIPCRequest("ping")
	m.RecordIPCRequest("ping")
	m.RecordIPCError("method_not_found")
	m.RecordAdmit()
	m.RecordReject("rate_limited")
	m.SetQueueDepth(7)
	m.SetActiveAlerts(2)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IPCRequests.WithLabelValues("ping")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IPCErrors.WithLabelValues("method_not_found")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InferenceAdmits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InferenceRejects.WithLabelValues("rate_limited")))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ActiveAlerts))
}

func TestSeparateRegistries(t *testing.T) {
	// Two instances must not collide; each daemon test gets its own registry.
	a := NewMetrics()
	b := NewMetrics()
	a.RecordAdmit()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.InferenceAdmits))
}
