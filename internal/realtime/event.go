// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package realtime implements the process-local half of the event delivery
// core: the connection registry, the wire encoders for the streaming and
// polling transports, the rate/connection limiter and the liveness reaper.
// Cross-process coordination lives in internal/relay.
package realtime

import (
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Well-known event types. Producers may use arbitrary type tags; these are
// the ones the service itself emits or that the frontend subscribes to.
const (
	EventTypeConnected       = "connected"
	EventTypePing            = "ping"
	EventTypeReportUpdate    = "report-update"
	EventTypeDashboardUpdate = "dashboardUpdate"
	EventTypeNotification    = "notification"
	EventTypeSystemAlert     = "systemAlert"
)

// BroadcastTarget is the sentinel recipient meaning "every connected user".
const BroadcastTarget = "all"

// Event is a notification payload destined for one or more users.
// Events are immutable after creation; consumers must tolerate duplicate
// delivery across transports and deduplicate by ID.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	TargetUserIDs []string        `json:"targetUserIds,omitempty"`
	Priority      string          `json:"priority,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}

// NewEvent builds an event with a fresh ID and timestamp. data must be
// JSON-serializable; marshaling happens once, at creation.
func NewEvent(eventType string, data any, targetUserIDs []string, priority string) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event data: %w", err)
	}
	return Event{
		ID:            NewEventID(),
		Type:          eventType,
		Data:          raw,
		TargetUserIDs: targetUserIDs,
		Priority:      priority,
		Timestamp:     time.Now().UTC(),
	}, nil
}

// NewEventID returns a unique ID whose lexicographic order roughly follows
// creation time, so clients can use it for display ordering.
func NewEventID() string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), uuid.New().String()[:8])
}

// IsBroadcast reports whether the event targets every connected user.
func (e Event) IsBroadcast() bool {
	if len(e.TargetUserIDs) == 0 {
		return true
	}
	for _, id := range e.TargetUserIDs {
		if id == BroadcastTarget {
			return true
		}
	}
	return false
}

// Targets reports whether the event should be delivered to userID.
func (e Event) Targets(userID string) bool {
	if e.IsBroadcast() {
		return true
	}
	for _, id := range e.TargetUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// Expired reports whether the event falls outside the retention window
// ending at now.
func (e Event) Expired(now time.Time, retention time.Duration) bool {
	return now.Sub(e.Timestamp) > retention
}
