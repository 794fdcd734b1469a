// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

const maxPublishBody = 64 << 10

// publishRequest is the producer-facing body of POST /api/v1/events.
// targetUserIds accepts either a JSON array of user ids or the string
// "all" for a broadcast.
type publishRequest struct {
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	TargetUserIDs json.RawMessage `json:"targetUserIds"`
	Priority      string          `json:"priority"`
}

// Publish serves POST /api/v1/events: the privileged producer surface the
// report CRUD side calls after a mutation.
func (h *Handler) Publish(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())

	var req publishRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxPublishBody))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body", err.Error())
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "event type is required", nil)
		return
	}

	targets, err := parseTargets(req.TargetUserIDs)
	if err != nil {
		respondError(w, http.StatusBadRequest, CodeBadRequest, "invalid targetUserIds", err.Error())
		return
	}

	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	ev := realtime.Event{
		ID:            realtime.NewEventID(),
		Type:          req.Type,
		Data:          data,
		TargetUserIDs: targets,
		Priority:      req.Priority,
		Timestamp:     time.Now().UTC(),
	}

	eventID, err := h.rel.Publish(r.Context(), ev)
	if err != nil {
		logging.Ctx(r.Context()).Err(err).
			Str("event_type", ev.Type).
			Str("publisher", identity.UserID).
			Msg("event publish failed")
		h.health.Tracker().Record(realtime.ErrorRecord{
			Category: realtime.CategoryRelay,
			Severity: realtime.SeverityHigh,
			Message:  err.Error(),
			UserID:   identity.UserID,
		})
		respondError(w, http.StatusInternalServerError, CodeInternal, "event publish failed", nil)
		return
	}

	logging.Ctx(r.Context()).Info().
		Str("event_id", eventID).
		Str("event_type", ev.Type).
		Int("targets", len(targets)).
		Str("publisher", identity.UserID).
		Msg("event published")
	respondJSON(w, http.StatusAccepted, map[string]any{
		"status":  "accepted",
		"eventId": eventID,
	})
}

// parseTargets accepts `"all"`, `["u1","u2"]`, or absent (broadcast). An
// explicit empty list is rejected: only the sentinel may address everyone,
// and an event addressed to nobody is a producer bug.
func parseTargets(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		if single == realtime.BroadcastTarget {
			return nil, nil
		}
		return []string{single}, nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.New(`targetUserIds must name at least one user; use "all" for a broadcast`)
	}
	return list, nil
}
