// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"net/http"
	"runtime"

	"github.com/goccy/go-json"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

// Health serves GET /api/v1/health: the lightweight authenticated check.
// Degraded states still answer 200 so load balancers keep routing; the
// overall field carries the verdict.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.health.Status(r.Context(), false)
	respondJSON(w, http.StatusOK, map[string]any{
		"status":        status.Overall,
		"uptimeSeconds": status.Metrics.UptimeSeconds,
		"timestamp":     status.Timestamp,
	})
}

// HealthDetails serves GET /api/v1/health/details: the privileged view with
// component breakdown, registry stats, error history and process info.
func (h *Handler) HealthDetails(w http.ResponseWriter, r *http.Request) {
	status := h.health.Status(r.Context(), true)

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     status.Overall,
		"components": status.Components,
		"metrics":    status.Metrics,
		"errors":     status.Errors,
		"registry":   h.registry.Stats(),
		"relayMode":  h.rel.Mode(),
		"system": map[string]any{
			"goroutines":  runtime.NumGoroutine(),
			"heapAllocMB": mem.HeapAlloc >> 20,
			"numGC":       mem.NumGC,
			"goVersion":   runtime.Version(),
		},
		"timestamp": status.Timestamp,
	})
}

// healthActionRequest is the body of POST /api/v1/health/actions.
type healthActionRequest struct {
	Action   string `json:"action"`
	ClientID string `json:"clientId,omitempty"`
}

// HealthAction serves POST /api/v1/health/actions: privileged operational
// commands against the live service.
func (h *Handler) HealthAction(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req healthActionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}

	log := logging.Ctx(r.Context()).With().
		Str("action", req.Action).
		Str("admin", identity.UserID).
		Logger()

	switch req.Action {
	case "clearErrors":
		h.health.Tracker().Clear()
		log.Info().Msg("error history cleared")
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "action": req.Action})

	case "clearEvents":
		if err := h.rel.PurgeEvents(r.Context()); err != nil {
			log.Err(err).Msg("event purge failed")
			respondError(w, http.StatusInternalServerError, CodeInternal, "event purge failed", nil)
			return
		}
		log.Info().Msg("durable events purged")
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "action": req.Action})

	case "broadcastPing":
		delivered := h.heartbeat.BroadcastPing()
		log.Info().Int("delivered", delivered).Msg("manual ping broadcast")
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok", "action": req.Action, "delivered": delivered,
		})

	case "clientInfo":
		if req.ClientID == "" {
			respondError(w, http.StatusBadRequest, CodeBadRequest, "clientId is required", nil)
			return
		}
		info, ok := h.registry.ClientInfo(req.ClientID)
		if !ok {
			respondError(w, http.StatusNotFound, CodeNotFound, "client not found", nil)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{
			"status": "ok", "action": req.Action, "client": info,
		})

	case "disconnectClient":
		if req.ClientID == "" {
			respondError(w, http.StatusBadRequest, CodeBadRequest, "clientId is required", nil)
			return
		}
		if !h.registry.RemoveClient(req.ClientID, realtime.RemoveReasonForced) {
			respondError(w, http.StatusNotFound, CodeNotFound, "client not found", nil)
			return
		}
		log.Info().Str("client_id", req.ClientID).Msg("client force-disconnected")
		respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "action": req.Action})

	default:
		respondError(w, http.StatusBadRequest, CodeBadRequest, "unknown action", map[string]any{
			"supported": []string{"clearErrors", "clearEvents", "broadcastPing", "clientInfo", "disconnectClient"},
		})
	}
}
