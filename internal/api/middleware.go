// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

// RequestID attaches a request ID and a fresh correlation ID to the context
// so every log line of the request carries both.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = logging.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := logging.ContextWithRequestID(r.Context(), requestID)
		ctx = logging.ContextWithNewCorrelationID(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestLogger logs each request and feeds the latency/error aggregates
// for metrics and the health monitor.
func (h *Handler) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		duration := time.Since(start)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		metrics.RecordHTTPRequest(r.URL.Path, status, duration)
		h.health.ObserveRequest(duration, status >= http.StatusInternalServerError)

		logging.Ctx(r.Context()).Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("duration", duration).
			Str("remote", r.RemoteAddr).
			Msg("request served")
	})
}

// Recoverer catches panics at the handler boundary so one broken request
// cannot take down the connection-handling loop for everyone else.
func Recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.Ctx(r.Context()).Error().
					Any("panic", rec).
					Str("path", r.URL.Path).
					Msg("handler panic recovered")
				respondError(w, http.StatusInternalServerError, CodeInternal, "internal error", nil)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders adds the standard hardening headers to API responses.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// Authenticate resolves the caller identity from the bearer token and
// stores it in the request context. Unauthenticated requests are rejected
// with a machine-readable 401.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.auth.Verify(auth.TokenFromRequest(r))
		if err != nil {
			h.health.Tracker().Record(realtime.ErrorRecord{
				Category: realtime.CategoryAuth,
				Severity: realtime.SeverityLow,
				Message:  err.Error(),
			})
			respondError(w, http.StatusUnauthorized, CodeAuthRequired, "authentication required", nil)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithIdentity(r.Context(), identity)))
	})
}

// RequirePrivileged gates admin surfaces. Must run after Authenticate.
func RequirePrivileged(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := auth.IdentityFromContext(r.Context())
		if !ok || !identity.Privileged() {
			logging.Ctx(r.Context()).Warn().
				Str("user_id", identity.UserID).
				Str("role", identity.Role).
				Str("path", r.URL.Path).
				Msg("privileged access denied")
			respondError(w, http.StatusForbidden, CodeForbidden, "admin role required", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
