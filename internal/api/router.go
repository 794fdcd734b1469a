// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
)

// Router assembles the chi router with the full middleware stack and all
// HTTP surfaces.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RealIP)
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(SecurityHeaders)
	r.Use(h.RequestLogger)

	if len(h.cfg.Server.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   h.cfg.Server.CORSAllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.Authenticate)
		r.Use(httprate.Limit(
			h.cfg.Realtime.HTTPRateRequests,
			h.cfg.Realtime.HTTPRateWindow,
			httprate.WithKeyFuncs(rateKey),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				metrics.LimiterRejections.WithLabelValues("http_rate").Inc()
				respondRateLimited(w, CodeRateLimited, h.cfg.Realtime.HTTPRateWindow)
			}),
		))

		r.Get("/events/stream", h.Stream)
		r.Get("/events/poll", h.Poll)
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(RequirePrivileged)
			r.Post("/events", h.Publish)
			r.Get("/health/details", h.HealthDetails)
			r.Post("/health/actions", h.HealthAction)
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// rateKey buckets request rates by verified user when present, falling back
// to the client IP.
func rateKey(r *http.Request) (string, error) {
	if identity, ok := auth.IdentityFromContext(r.Context()); ok && identity.UserID != "" {
		return "user:" + identity.UserID, nil
	}
	return httprate.KeyByIP(r)
}
