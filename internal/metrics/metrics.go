// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package metrics exposes Prometheus instrumentation for the realtime
// delivery service: connection lifecycle, event fan-out, relay health,
// limiter rejections and HTTP latency.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_connections_active",
			Help: "Current number of open streaming connections",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_total",
			Help: "Total streaming connections accepted, by client type",
		},
		[]string{"client_type"},
	)

	ConnectionsEvicted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_connections_evicted_total",
			Help: "Connections removed by the reaper or on write failure",
		},
		[]string{"reason"}, // "inactive", "stale", "write_failure", "forced", "closed"
	)

	// Delivery metrics
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_published_total",
			Help: "Events accepted by the relay, by event type",
		},
		[]string{"type"},
	)

	EventsDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_events_delivered_total",
			Help: "Events written to local streaming connections, by event type",
		},
		[]string{"type"},
	)

	SinkWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_sink_write_failures_total",
			Help: "Failed writes to streaming connection sinks",
		},
	)

	PollRequests = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_poll_requests_total",
			Help: "Polling catch-up requests served",
		},
	)

	// Relay metrics
	RelayMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "realtime_relay_broker_backed",
			Help: "1 when the relay is broker-backed, 0 when degraded to the in-process store",
		},
	)

	RelayPublishErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "realtime_relay_publish_errors_total",
			Help: "Relay publish attempts that failed against the broker",
		},
	)

	// Limiter metrics
	LimiterRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_limiter_rejections_total",
			Help: "Connection attempts rejected by the limiter",
		},
		[]string{"kind"}, // "user_cap", "ip_cap", "rate"
	)

	// HTTP metrics
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "realtime_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)

// RecordHTTPRequest observes one HTTP request for the latency histogram.
func RecordHTTPRequest(route string, status int, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// SetRelayBrokerBacked flips the relay mode gauge.
func SetRelayBrokerBacked(brokerBacked bool) {
	if brokerBacked {
		RelayMode.Set(1)
		return
	}
	RelayMode.Set(0)
}
