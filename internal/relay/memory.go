// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package relay

import (
	"context"
	"sync"
	"time"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

// memoryStore is a bounded per-user event list. It backs the MemoryRelay
// and serves as the NATSRelay's degraded-mode buffer. Entries are kept for
// twice the retention window (hard bound) so includeExpired reads can still
// observe recently expired events; normal reads filter at the window.
type memoryStore struct {
	mu        sync.Mutex
	byUser    map[string][]realtime.Event
	broadcast []realtime.Event
	retention time.Duration
	maxPerKey int
}

func newMemoryStore(retention time.Duration, maxPerKey int) *memoryStore {
	return &memoryStore{
		byUser:    make(map[string][]realtime.Event),
		retention: retention,
		maxPerKey: maxPerKey,
	}
}

func (s *memoryStore) append(ev realtime.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if ev.IsBroadcast() {
		s.broadcast = trimEvents(append(s.broadcast, ev), s.maxPerKey, now, s.retention)
		return
	}
	for _, userID := range ev.TargetUserIDs {
		s.byUser[userID] = trimEvents(append(s.byUser[userID], ev), s.maxPerKey, now, s.retention)
	}
}

func (s *memoryStore) eventsFor(userID string) []realtime.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]realtime.Event, 0, len(s.byUser[userID])+len(s.broadcast))
	out = append(out, s.byUser[userID]...)
	out = append(out, s.broadcast...)
	return out
}

func (s *memoryStore) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byUser = make(map[string][]realtime.Event)
	s.broadcast = nil
}

// trimEvents drops entries past the count cap or older than twice the
// retention window, keeping the newest.
func trimEvents(events []realtime.Event, maxLen int, now time.Time, retention time.Duration) []realtime.Event {
	hardBound := 2 * retention
	firstLive := 0
	for firstLive < len(events) && events[firstLive].Expired(now, hardBound) {
		firstLive++
	}
	events = events[firstLive:]
	if maxLen > 0 && len(events) > maxLen {
		events = events[len(events)-maxLen:]
	}
	return events
}

// MemoryRelay is the reduced-guarantee fallback variant: events are stored
// and delivered within this process only. Health always reports the
// degraded broker-unreachable condition.
type MemoryRelay struct {
	cfg       Config
	store     *memoryStore
	deliverer LocalDeliverer
}

// NewMemoryRelay builds the in-process variant.
func NewMemoryRelay(cfg Config, deliverer LocalDeliverer) *MemoryRelay {
	cfg.applyDefaults()
	return &MemoryRelay{
		cfg:       cfg,
		store:     newMemoryStore(cfg.Retention, cfg.MaxEventsPerUser),
		deliverer: deliverer,
	}
}

// Publish appends to the in-process store and fans out to local
// connections. There is no cross-instance announcement in this mode.
func (r *MemoryRelay) Publish(_ context.Context, ev realtime.Event) (string, error) {
	r.store.append(ev)
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	if r.deliverer != nil {
		r.deliverer.DeliverLocal(ev)
	}
	return ev.ID, nil
}

// GetEventsForUser reads the bounded in-process list.
func (r *MemoryRelay) GetEventsForUser(_ context.Context, userID string, since time.Time, opts QueryOptions) ([]realtime.Event, int, error) {
	events, total := filterEvents(r.store.eventsFor(userID), since, r.cfg.Retention, opts, time.Now())
	return events, total, nil
}

// PurgeEvents clears the store.
func (r *MemoryRelay) PurgeEvents(context.Context) error {
	r.store.clear()
	return nil
}

// Mode identifies the degraded variant.
func (r *MemoryRelay) Mode() string { return ModeMemory }

// Healthy always reports the degraded condition so health surfaces show
// the reduced-guarantee mode.
func (r *MemoryRelay) Healthy(context.Context) error {
	return ErrBrokerUnavailable
}

// Close is a no-op for the memory variant.
func (r *MemoryRelay) Close() error { return nil }
