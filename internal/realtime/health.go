// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Error severities recorded by the tracker.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Error categories used across the service.
const (
	CategoryConnection = "connection"
	CategoryDelivery   = "delivery"
	CategoryRelay      = "relay"
	CategoryAuth       = "auth"
	CategoryRateLimit  = "rate_limit"
	CategoryInternal   = "internal"
)

// ErrorRecord is one entry in the recent-error ring.
type ErrorRecord struct {
	Time     time.Time `json:"time"`
	Category string    `json:"category"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	ClientID string    `json:"clientId,omitempty"`
	UserID   string    `json:"userId,omitempty"`
}

// ErrorTracker keeps a bounded ring of recent errors plus running counts by
// category and severity. It feeds the detailed health view.
type ErrorTracker struct {
	mu         sync.Mutex
	recent     []ErrorRecord
	max        int
	byCategory map[string]int
	bySeverity map[string]int
	total      uint64
}

// NewErrorTracker returns a tracker retaining up to max recent records.
func NewErrorTracker(max int) *ErrorTracker {
	if max <= 0 {
		max = 100
	}
	return &ErrorTracker{
		max:        max,
		byCategory: make(map[string]int),
		bySeverity: make(map[string]int),
	}
}

// Record appends an error record, evicting the oldest past capacity.
func (t *ErrorTracker) Record(rec ErrorRecord) {
	if rec.Time.IsZero() {
		rec.Time = time.Now()
	}
	if rec.Severity == "" {
		rec.Severity = SeverityMedium
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent = append(t.recent, rec)
	if len(t.recent) > t.max {
		t.recent = t.recent[len(t.recent)-t.max:]
	}
	t.byCategory[rec.Category]++
	t.bySeverity[rec.Severity]++
	t.total++
}

// Clear wipes the history. Privileged admin operation.
func (t *ErrorTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.recent = nil
	t.byCategory = make(map[string]int)
	t.bySeverity = make(map[string]int)
	t.total = 0
}

// ErrorSummary is the errors section of the detailed health view.
type ErrorSummary struct {
	Recent     []ErrorRecord  `json:"recent"`
	ByCategory map[string]int `json:"byCategory"`
	BySeverity map[string]int `json:"bySeverity"`
	Total      uint64         `json:"total"`
}

// Summary returns a copy of the current error state, newest last.
func (t *ErrorTracker) Summary(limit int) ErrorSummary {
	t.mu.Lock()
	defer t.mu.Unlock()

	recent := t.recent
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	out := ErrorSummary{
		Recent:     append([]ErrorRecord(nil), recent...),
		ByCategory: make(map[string]int, len(t.byCategory)),
		BySeverity: make(map[string]int, len(t.bySeverity)),
		Total:      t.total,
	}
	for k, v := range t.byCategory {
		out.ByCategory[k] = v
	}
	for k, v := range t.bySeverity {
		out.BySeverity[k] = v
	}
	return out
}

// RelayStatus is the narrow view of the broker relay the health monitor
// consumes. Defined here so internal/relay can depend on this package
// without a cycle.
type RelayStatus interface {
	// Mode is "nats" when broker-backed or "memory" in the degraded
	// single-instance fallback.
	Mode() string

	// Healthy returns nil when the relay's backing store is reachable.
	Healthy(ctx context.Context) error
}

// ComponentHealth is one entry of the per-component breakdown.
type ComponentHealth struct {
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// HealthMetrics aggregates request-level measurements.
type HealthMetrics struct {
	UptimeSeconds     float64 `json:"uptimeSeconds"`
	ErrorRate         float64 `json:"errorRate"`
	AvgResponseTimeMs float64 `json:"avgResponseTimeMs"`
	RequestCount      uint64  `json:"requestCount"`
}

// HealthStatus is the aggregate answer for both the lightweight public
// check (Overall + Metrics.Uptime) and the privileged detailed view.
type HealthStatus struct {
	Overall    string                     `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
	Metrics    HealthMetrics              `json:"metrics"`
	Errors     ErrorSummary               `json:"errors"`
	Timestamp  time.Time                  `json:"timestamp"`
}

// HealthMonitor aggregates registry stats, relay reachability and recorded
// errors into one status object.
type HealthMonitor struct {
	registry *Registry
	relay    RelayStatus
	limiter  *Limiter
	tracker  *ErrorTracker
	start    time.Time

	// ErrorRateAlert is the request error rate above which overall health
	// degrades. Configuration, not contract.
	ErrorRateAlert float64

	mu       sync.Mutex
	requests uint64
	errors   uint64
	totalDur time.Duration
}

// NewHealthMonitor wires the monitor to its collaborators.
func NewHealthMonitor(registry *Registry, relay RelayStatus, limiter *Limiter, tracker *ErrorTracker) *HealthMonitor {
	return &HealthMonitor{
		registry:       registry,
		relay:          relay,
		limiter:        limiter,
		tracker:        tracker,
		start:          time.Now(),
		ErrorRateAlert: 0.1,
	}
}

// ObserveRequest records one served request for the error-rate and latency
// aggregates. Called from the HTTP middleware.
func (m *HealthMonitor) ObserveRequest(duration time.Duration, failed bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.totalDur += duration
	if failed {
		m.errors++
	}
}

// Tracker exposes the error tracker for producers of error records.
func (m *HealthMonitor) Tracker() *ErrorTracker {
	return m.tracker
}

// Status computes the aggregate health. includeDetails controls whether the
// per-component breakdown and error history are populated; the lightweight
// public check passes false.
func (m *HealthMonitor) Status(ctx context.Context, includeDetails bool) HealthStatus {
	m.mu.Lock()
	requests := m.requests
	errors := m.errors
	totalDur := m.totalDur
	m.mu.Unlock()

	metrics := HealthMetrics{
		UptimeSeconds: time.Since(m.start).Seconds(),
		RequestCount:  requests,
	}
	if requests > 0 {
		metrics.ErrorRate = float64(errors) / float64(requests)
		metrics.AvgResponseTimeMs = float64(totalDur.Milliseconds()) / float64(requests)
	}

	relayErr := m.relay.Healthy(ctx)
	degradedRelay := m.relay.Mode() != "nats" || relayErr != nil

	overall := "healthy"
	if degradedRelay {
		overall = "degraded"
	}
	if metrics.ErrorRate > m.ErrorRateAlert {
		overall = "degraded"
	}

	status := HealthStatus{
		Overall:   overall,
		Metrics:   metrics,
		Timestamp: time.Now(),
	}

	if !includeDetails {
		return status
	}

	stats := m.registry.Stats()
	users, ips := m.limiter.OpenCounts()

	relayHealth := ComponentHealth{Status: "healthy", Detail: "mode=" + m.relay.Mode()}
	if relayErr != nil {
		relayHealth = ComponentHealth{Status: "degraded", Detail: relayErr.Error()}
	} else if degradedRelay {
		relayHealth.Status = "degraded"
	}

	status.Components = map[string]ComponentHealth{
		"registry": {
			Status: "healthy",
			Detail: statsDetail(stats),
		},
		"relay": relayHealth,
		"limiter": {
			Status: "healthy",
			Detail: limiterDetail(users, ips),
		},
	}
	status.Errors = m.tracker.Summary(20)
	return status
}

func statsDetail(stats Stats) string {
	return fmt.Sprintf("connections=%d users=%d", stats.TotalConnections, stats.UniqueUsers)
}

func limiterDetail(users, ips int) string {
	return fmt.Sprintf("tracked_users=%d tracked_ips=%d", users, ips)
}
