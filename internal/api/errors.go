// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// Machine-readable error codes returned to clients.
const (
	CodeAuthRequired         = "AUTHENTICATION_REQUIRED"
	CodeForbidden            = "FORBIDDEN"
	CodeRateLimited          = "RATE_LIMITED"
	CodeTooManyConnections   = "TOO_MANY_CONNECTIONS"
	CodeStreamingUnsupported = "STREAMING_UNSUPPORTED"
	CodeBadRequest           = "BAD_REQUEST"
	CodeNotFound             = "NOT_FOUND"
	CodeInternal             = "INTERNAL_ERROR"
)

// APIError is the JSON error body.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

type errorResponse struct {
	Status    string   `json:"status"`
	Error     APIError `json:"error"`
	Timestamp int64    `json:"timestamp"`
}

// respondJSON writes v as a JSON body with the given status.
func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respondError writes the standard error envelope.
func respondError(w http.ResponseWriter, status int, code, message string, details any) {
	respondJSON(w, status, errorResponse{
		Status:    "error",
		Error:     APIError{Code: code, Message: message, Details: details},
		Timestamp: time.Now().UnixMilli(),
	})
}

// respondRateLimited writes a 429 with the Retry-After hint the client must
// honor before reconnecting.
func respondRateLimited(w http.ResponseWriter, code string, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int(retryAfter.Seconds())
		if secs < 1 {
			secs = 1
		}
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}
	respondError(w, http.StatusTooManyRequests, code, "too many requests", map[string]any{
		"retryAfterMs": retryAfter.Milliseconds(),
	})
}
