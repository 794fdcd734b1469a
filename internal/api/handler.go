// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package api exposes the HTTP surfaces of the realtime delivery service:
// the streaming endpoint, the polling catch-up endpoint, the producer
// publish endpoint and the health/admin surface.
package api

import (
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/config"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/relay"
)

// Handler bundles the injected collaborators for all HTTP handlers. The
// registry, relay and limiter are constructed once at bootstrap; handlers
// never reach for globals.
type Handler struct {
	cfg       *config.Config
	registry  *realtime.Registry
	rel       relay.Relay
	limiter   *realtime.Limiter
	health    *realtime.HealthMonitor
	heartbeat *realtime.Heartbeat
	auth      *auth.Authenticator
}

// NewHandler wires the handler set.
func NewHandler(
	cfg *config.Config,
	registry *realtime.Registry,
	rel relay.Relay,
	limiter *realtime.Limiter,
	health *realtime.HealthMonitor,
	heartbeat *realtime.Heartbeat,
	authenticator *auth.Authenticator,
) *Handler {
	return &Handler{
		cfg:       cfg,
		registry:  registry,
		rel:       rel,
		limiter:   limiter,
		health:    health,
		heartbeat: heartbeat,
		auth:      authenticator,
	}
}
