// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package relay makes event delivery correct across multiple server
// instances. Producers publish events here; the relay stores them durably
// for late-connecting and polling consumers, and announces them so every
// instance with a live connection for the target user can push immediately.
//
// Two variants implement the Relay contract, selected once at startup:
//
//   - NATSRelay: JetStream-backed durable per-user event subjects plus a
//     core NATS announce channel. Correct across instances.
//   - MemoryRelay: bounded in-process store. Reduced-guarantee mode, only
//     visible within this instance; reported as degraded in health.
package relay

import (
	"context"
	"sort"
	"time"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

// Relay modes reported by Mode().
const (
	ModeNATS   = "nats"
	ModeMemory = "memory"
)

// LocalDeliverer pushes a relayed event to this instance's live connections.
// Satisfied by *realtime.Registry.
type LocalDeliverer interface {
	DeliverLocal(ev realtime.Event) int
}

// QueryOptions narrow a GetEventsForUser read.
type QueryOptions struct {
	// Types filters by event type when non-empty.
	Types []string

	// Limit bounds the result count; zero means no bound.
	Limit int

	// IncludeExpired also returns events past the retention window that
	// are still physically present in the store.
	IncludeExpired bool
}

// Relay is the cross-instance event coordination contract.
type Relay interface {
	realtime.RelayStatus

	// Publish stores the event durably and announces it for immediate
	// fan-out. Returns the event ID. Duplicate publishes create duplicate
	// but distinguishable events; consumers deduplicate by ID.
	Publish(ctx context.Context, ev realtime.Event) (string, error)

	// GetEventsForUser returns durable events for the user newer than
	// since, in publish order, retention-filtered. The int result is the
	// matching count before the type filter and limit were applied.
	GetEventsForUser(ctx context.Context, userID string, since time.Time, opts QueryOptions) ([]realtime.Event, int, error)

	// PurgeEvents clears the durable store. Privileged admin operation.
	PurgeEvents(ctx context.Context) error

	// Close releases broker resources.
	Close() error
}

// Config holds relay tuning shared by both variants.
type Config struct {
	// URL is the NATS server address. Ignored by the memory variant.
	URL string

	// Retention is the event visibility window for polling consumers.
	Retention time.Duration

	// MaxEventsPerUser caps the durable list length per user.
	MaxEventsPerUser int

	// ConnectTimeout bounds the startup reachability probe.
	ConnectTimeout time.Duration
}

// DefaultConfig returns the reference retention policy: 30 minutes, at most
// 100 events per user.
func DefaultConfig() Config {
	return Config{
		URL:              "nats://127.0.0.1:4222",
		Retention:        30 * time.Minute,
		MaxEventsPerUser: 100,
		ConnectTimeout:   5 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig()
	if c.URL == "" {
		c.URL = def.URL
	}
	if c.Retention <= 0 {
		c.Retention = def.Retention
	}
	if c.MaxEventsPerUser <= 0 {
		c.MaxEventsPerUser = def.MaxEventsPerUser
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
}

// New selects the relay variant at startup. It probes the broker once; on
// failure it degrades to the in-process store so delivery keeps working
// within this instance. The chosen mode is observable through Mode(),
// health and the relay metrics gauge.
func New(cfg Config, deliverer LocalDeliverer) Relay {
	cfg.applyDefaults()

	r, err := NewNATSRelay(cfg, deliverer)
	if err != nil {
		logging.Warn().
			Err(err).
			Str("url", cfg.URL).
			Msg("broker unreachable, degrading to in-process event store")
		metrics.SetRelayBrokerBacked(false)
		return NewMemoryRelay(cfg, deliverer)
	}
	metrics.SetRelayBrokerBacked(true)
	return r
}

// priorityRank orders the optional event priority for poll tiebreaks.
func priorityRank(p string) int {
	switch p {
	case "urgent":
		return 0
	case "high":
		return 1
	case "", "normal":
		return 2
	default:
		return 3
	}
}

// sortForPoll orders events by publish time, then priority, then ID.
func sortForPoll(events []realtime.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Timestamp.Equal(events[j].Timestamp) {
			return events[i].Timestamp.Before(events[j].Timestamp)
		}
		if pi, pj := priorityRank(events[i].Priority), priorityRank(events[j].Priority); pi != pj {
			return pi < pj
		}
		return events[i].ID < events[j].ID
	})
}

// filterEvents applies the since watermark, retention window, type filter
// and limit. Returns the filtered slice and the count before type filter
// and limit were applied.
func filterEvents(events []realtime.Event, since time.Time, retention time.Duration, opts QueryOptions, now time.Time) ([]realtime.Event, int) {
	var inWindow []realtime.Event
	for _, ev := range events {
		if !ev.Timestamp.After(since) {
			continue
		}
		if !opts.IncludeExpired && ev.Expired(now, retention) {
			continue
		}
		inWindow = append(inWindow, ev)
	}
	total := len(inWindow)

	out := inWindow
	if len(opts.Types) > 0 {
		out = out[:0:0]
		allowed := make(map[string]struct{}, len(opts.Types))
		for _, t := range opts.Types {
			allowed[t] = struct{}{}
		}
		for _, ev := range inWindow {
			if _, ok := allowed[ev.Type]; ok {
				out = append(out, ev)
			}
		}
	}

	sortForPoll(out)
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, total
}
