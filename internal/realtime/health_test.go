// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorTrackerBoundedRing(t *testing.T) {
	tr := NewErrorTracker(3)
	for i := 0; i < 5; i++ {
		tr.Record(ErrorRecord{
			Category: CategoryDelivery,
			Severity: SeverityLow,
			Message:  fmt.Sprintf("err %d", i),
		})
	}

	sum := tr.Summary(0)
	if len(sum.Recent) != 3 {
		t.Fatalf("recent = %d, want 3", len(sum.Recent))
	}
	if sum.Recent[0].Message != "err 2" {
		t.Errorf("oldest retained = %q, want err 2", sum.Recent[0].Message)
	}
	if sum.Total != 5 {
		t.Errorf("total = %d, want 5 (counts survive eviction)", sum.Total)
	}
	if sum.ByCategory[CategoryDelivery] != 5 {
		t.Errorf("ByCategory = %v", sum.ByCategory)
	}
}

func TestErrorTrackerClear(t *testing.T) {
	tr := NewErrorTracker(10)
	tr.Record(ErrorRecord{Category: CategoryAuth})
	tr.Clear()

	sum := tr.Summary(0)
	if len(sum.Recent) != 0 || sum.Total != 0 || len(sum.ByCategory) != 0 {
		t.Errorf("tracker not empty after Clear: %+v", sum)
	}
}

func TestErrorTrackerDefaultSeverity(t *testing.T) {
	tr := NewErrorTracker(10)
	tr.Record(ErrorRecord{Category: CategoryInternal})
	if got := tr.Summary(0).Recent[0].Severity; got != SeverityMedium {
		t.Errorf("severity = %q, want medium default", got)
	}
}

type stubRelay struct {
	mode string
	err  error
}

func (s stubRelay) Mode() string                  { return s.mode }
func (s stubRelay) Healthy(context.Context) error { return s.err }

func TestHealthMonitorHealthy(t *testing.T) {
	m := NewHealthMonitor(NewRegistry(), stubRelay{mode: "nats"}, NewLimiter(LimiterConfig{}), NewErrorTracker(10))

	status := m.Status(context.Background(), false)
	if status.Overall != "healthy" {
		t.Errorf("overall = %q, want healthy", status.Overall)
	}
	if status.Components != nil {
		t.Error("lightweight status must not include components")
	}
}

func TestHealthMonitorDegradedRelay(t *testing.T) {
	tests := []struct {
		name  string
		relay stubRelay
	}{
		{"memory mode", stubRelay{mode: "memory", err: errors.New("broker unavailable")}},
		{"broker unreachable", stubRelay{mode: "nats", err: errors.New("connection lost")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewHealthMonitor(NewRegistry(), tt.relay, NewLimiter(LimiterConfig{}), NewErrorTracker(10))
			status := m.Status(context.Background(), true)
			if status.Overall != "degraded" {
				t.Errorf("overall = %q, want degraded", status.Overall)
			}
			if status.Components["relay"].Status != "degraded" {
				t.Errorf("relay component = %+v, want degraded", status.Components["relay"])
			}
		})
	}
}

func TestHealthMonitorErrorRate(t *testing.T) {
	m := NewHealthMonitor(NewRegistry(), stubRelay{mode: "nats"}, NewLimiter(LimiterConfig{}), NewErrorTracker(10))
	m.ErrorRateAlert = 0.5

	for i := 0; i < 4; i++ {
		m.ObserveRequest(10*time.Millisecond, false)
	}
	if got := m.Status(context.Background(), false).Overall; got != "healthy" {
		t.Fatalf("overall = %q, want healthy at 0%% errors", got)
	}

	for i := 0; i < 6; i++ {
		m.ObserveRequest(10*time.Millisecond, true)
	}
	status := m.Status(context.Background(), false)
	if status.Overall != "degraded" {
		t.Errorf("overall = %q, want degraded at 60%% errors", status.Overall)
	}
	if status.Metrics.RequestCount != 10 {
		t.Errorf("RequestCount = %d, want 10", status.Metrics.RequestCount)
	}
}

func TestHealthMonitorDetails(t *testing.T) {
	reg := NewRegistry()
	mustAdd(t, reg, "c1", "u1", NewChanSink(1))

	tr := NewErrorTracker(10)
	tr.Record(ErrorRecord{Category: CategoryConnection, Severity: SeverityHigh, Message: "boom"})

	m := NewHealthMonitor(reg, stubRelay{mode: "nats"}, NewLimiter(LimiterConfig{}), tr)
	status := m.Status(context.Background(), true)

	if _, ok := status.Components["registry"]; !ok {
		t.Error("details missing registry component")
	}
	if status.Errors.Total != 1 {
		t.Errorf("errors total = %d, want 1", status.Errors.Total)
	}
}
