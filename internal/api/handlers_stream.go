// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

// Stream serves GET /api/v1/events/stream: a long-lived text/event-stream
// response. Query parameters (clientType, role) are informational metadata
// only; authorization comes exclusively from the verified identity.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	identity, _ := auth.IdentityFromContext(r.Context())
	ip := clientIP(r)

	if err := h.limiter.Acquire(identity.UserID, ip, realtime.CategorySSE); err != nil {
		h.rejectStream(w, r, identity.UserID, err)
		return
	}
	// The registry removal hook releases the limiter slot; until the
	// connection is registered, release on every early return.
	registered := false
	defer func() {
		if !registered {
			h.limiter.Release(identity.UserID, ip, realtime.CategorySSE)
		}
	}()

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusNotImplemented, CodeStreamingUnsupported, "streaming unsupported by transport", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	clientID := uuid.New().String()
	sink := newStreamSink(w, flusher)
	meta := realtime.ClientMetadata{
		ClientType: r.URL.Query().Get("clientType"),
		Role:       r.URL.Query().Get("role"),
		UserAgent:  r.UserAgent(),
		IP:         ip,
	}

	// Initial handshake frame carries the client id and the reconnect hint
	// for the browser EventSource. Written before registration so it always
	// precedes queued deliveries.
	connected, err := realtime.NewEvent(realtime.EventTypeConnected, map[string]any{
		"clientId":  clientID,
		"userId":    identity.UserID,
		"timestamp": time.Now().UnixMilli(),
	}, []string{identity.UserID}, "")
	if err == nil {
		frame := realtime.EncodeSSE(connected, &realtime.SendOptions{Retry: 5 * time.Second})
		if werr := sink.Write(frame); werr != nil {
			return
		}
	}

	if _, err := h.registry.AddClient(clientID, identity.UserID, sink, meta); err != nil {
		logging.Ctx(r.Context()).Err(err).Str("client_id", clientID).Msg("register streaming client")
		return
	}
	registered = true

	select {
	case <-r.Context().Done():
		// Client navigated away or the connection dropped.
		h.registry.RemoveClient(clientID, realtime.RemoveReasonClosed)
	case <-sink.Done():
		// Evicted by the reaper, a write failure or the admin surface;
		// removal already happened.
	}
}

func (h *Handler) rejectStream(w http.ResponseWriter, r *http.Request, userID string, err error) {
	h.health.Tracker().Record(realtime.ErrorRecord{
		Category: realtime.CategoryRateLimit,
		Severity: realtime.SeverityLow,
		Message:  err.Error(),
		UserID:   userID,
	})
	logging.Ctx(r.Context()).Warn().
		Err(err).
		Str("user_id", userID).
		Msg("streaming connection rejected")

	if rl, ok := realtime.IsRateLimited(err); ok {
		respondRateLimited(w, CodeRateLimited, rl.RetryAfter)
		return
	}
	if errors.Is(err, realtime.ErrUserConnectionLimit) || errors.Is(err, realtime.ErrIPConnectionLimit) {
		respondRateLimited(w, CodeTooManyConnections, h.cfg.Realtime.AttemptWindow)
		return
	}
	respondError(w, http.StatusInternalServerError, CodeInternal, "connection rejected", nil)
}

// clientIP returns the remote address without the port. The RealIP
// middleware has already resolved X-Forwarded-For when trusted.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
