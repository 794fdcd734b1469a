// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/relay"
)

// Poll serves GET /api/v1/events/poll: the catch-up path for clients
// without a live streaming connection.
//
// Query parameters:
//
//	since          unix millisecond watermark (default: one retention window back)
//	types          comma-separated event-type filter
//	limit          result bound, clamped to the configured maximum
//	includeExpired also return recently expired events (privileged only)
func (h *Handler) Poll(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	q := r.URL.Query()

	since, err := parseSince(q.Get("since"), h.cfg.Broker.Retention)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid since parameter", err.Error())
		return
	}

	limit := h.cfg.Realtime.PollMaxLimit
	if rawLimit := q.Get("limit"); rawLimit != "" {
		n, err := strconv.Atoi(rawLimit)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid limit parameter", nil)
			return
		}
		if n < limit {
			limit = n
		}
	}

	var types []string
	if rawTypes := q.Get("types"); rawTypes != "" {
		for _, t := range strings.Split(rawTypes, ",") {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
	}

	// Expired events remain queryable for diagnostics, but only by
	// privileged callers; for everyone else the flag is ignored.
	includeExpired := q.Get("includeExpired") == "true" && identity.Privileged()

	events, total, err := h.rel.GetEventsForUser(r.Context(), identity.UserID, since, relay.QueryOptions{
		Types:          types,
		Limit:          limit,
		IncludeExpired: includeExpired,
	})
	if err != nil {
		logging.Ctx(r.Context()).Err(err).Str("user_id", identity.UserID).Msg("poll read failed")
		h.health.Tracker().Record(realtime.ErrorRecord{
			Category: realtime.CategoryRelay,
			Severity: realtime.SeverityMedium,
			Message:  err.Error(),
			UserID:   identity.UserID,
		})
		respondError(w, http.StatusInternalServerError, CodeInternal, "event lookup failed", nil)
		return
	}

	metrics.PollRequests.Inc()
	envelope := realtime.NewPollEnvelope(
		identity.UserID, since, events, total, types, includeExpired, h.cfg.Realtime.PollInterval,
	)
	respondJSON(w, http.StatusOK, envelope)
}

// parseSince accepts a unix millisecond timestamp or RFC3339. An empty
// value defaults to one retention window in the past, so a fresh poller
// sees everything still retained.
func parseSince(raw string, retention time.Duration) (time.Time, error) {
	if raw == "" {
		return time.Now().Add(-retention), nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms), nil
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts, nil
}
