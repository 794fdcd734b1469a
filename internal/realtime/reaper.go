// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"context"
	"time"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
)

// ReaperConfig holds the liveness policy. Both thresholds are configuration,
// not contract.
type ReaperConfig struct {
	// Interval between sweeps.
	Interval time.Duration

	// InactivityTimeout evicts a connection with no activity for this long.
	InactivityTimeout time.Duration

	// MaxLifetime evicts a connection regardless of activity, forcing a
	// clean reconnect cycle.
	MaxLifetime time.Duration
}

// DefaultReaperConfig mirrors the reference behavior: sweep every 30s,
// inactive after 3m, stale after 15m.
func DefaultReaperConfig() ReaperConfig {
	return ReaperConfig{
		Interval:          30 * time.Second,
		InactivityTimeout: 3 * time.Minute,
		MaxLifetime:       15 * time.Minute,
	}
}

// Reaper periodically evicts idle and stale connections. It is the
// time-bounded backstop for connections whose transport close signal was
// lost. Runs as a supervised service.
type Reaper struct {
	registry *Registry
	cfg      ReaperConfig
}

// NewReaper builds a reaper, filling zero config fields with defaults.
func NewReaper(registry *Registry, cfg ReaperConfig) *Reaper {
	def := DefaultReaperConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.MaxLifetime <= 0 {
		cfg.MaxLifetime = def.MaxLifetime
	}
	return &Reaper{registry: registry, cfg: cfg}
}

// Serve runs the sweep loop until ctx is canceled. Implements
// suture.Service.
func (r *Reaper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	logging.Info().
		Dur("interval", r.cfg.Interval).
		Dur("inactivity_timeout", r.cfg.InactivityTimeout).
		Dur("max_lifetime", r.cfg.MaxLifetime).
		Msg("connection reaper started")

	for {
		select {
		case <-ctx.Done():
			logging.Info().Msg("connection reaper stopped")
			return ctx.Err()
		case <-ticker.C:
			r.SweepOnce(time.Now())
		}
	}
}

// SweepOnce evaluates every connection against the liveness policy and
// returns the number evicted. Exposed for tests and the admin surface.
func (r *Reaper) SweepOnce(now time.Time) int {
	evicted := 0
	for _, conn := range r.registry.Connections() {
		switch {
		case now.Sub(conn.ConnectedAt) > r.cfg.MaxLifetime:
			if r.registry.RemoveClient(conn.ID, RemoveReasonStale) {
				evicted++
			}
		case now.Sub(conn.LastActivity()) > r.cfg.InactivityTimeout:
			if r.registry.RemoveClient(conn.ID, RemoveReasonInactive) {
				evicted++
			}
		}
	}
	if evicted > 0 {
		logging.Info().Int("evicted", evicted).Msg("reaper sweep evicted connections")
	}
	return evicted
}

// Heartbeat broadcasts periodic ping events on the streaming transport,
// keeping intermediary proxies from closing idle connections and refreshing
// each connection's activity timestamp. Runs as a supervised service.
type Heartbeat struct {
	registry *Registry
	interval time.Duration
}

// NewHeartbeat builds a heartbeat service; interval defaults to 30s.
func NewHeartbeat(registry *Registry, interval time.Duration) *Heartbeat {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Heartbeat{registry: registry, interval: interval}
}

// Serve runs the heartbeat loop until ctx is canceled. Implements
// suture.Service.
func (h *Heartbeat) Serve(ctx context.Context) error {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.BroadcastPing()
		}
	}
}

// BroadcastPing sends one synthetic ping to all connections. Also invoked
// directly by the admin surface.
func (h *Heartbeat) BroadcastPing() int {
	return h.registry.BroadcastEvent(EventTypePing, map[string]any{
		"timestamp": time.Now().UnixMilli(),
	}, nil)
}
