// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"strings"
	"testing"
	"time"
)

func TestReaperSweepInactive(t *testing.T) {
	r := NewRegistry()
	reaper := NewReaper(r, ReaperConfig{
		InactivityTimeout: 3 * time.Minute,
		MaxLifetime:       15 * time.Minute,
	})

	mustAdd(t, r, "fresh", "u1", NewChanSink(1))
	mustAdd(t, r, "idle", "u2", NewChanSink(1))

	// Backdate the idle connection's activity past the threshold.
	r.mu.RLock()
	r.clients["idle"].lastActivity.Store(time.Now().Add(-4 * time.Minute).UnixNano())
	r.mu.RUnlock()

	if n := reaper.SweepOnce(time.Now()); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
	if _, ok := r.ClientInfo("idle"); ok {
		t.Error("idle connection survived the sweep")
	}
	if _, ok := r.ClientInfo("fresh"); !ok {
		t.Error("fresh connection was evicted")
	}
}

func TestReaperSweepStale(t *testing.T) {
	r := NewRegistry()
	reaper := NewReaper(r, ReaperConfig{
		InactivityTimeout: 3 * time.Minute,
		MaxLifetime:       15 * time.Minute,
	})

	mustAdd(t, r, "old", "u1", NewChanSink(1))

	// Active but past maximum lifetime: still evicted.
	r.mu.RLock()
	r.clients["old"].ConnectedAt = time.Now().Add(-16 * time.Minute)
	r.clients["old"].lastActivity.Store(time.Now().UnixNano())
	r.mu.RUnlock()

	if n := reaper.SweepOnce(time.Now()); n != 1 {
		t.Fatalf("evicted = %d, want 1", n)
	}
}

func TestReaperSweepKeepsActive(t *testing.T) {
	r := NewRegistry()
	reaper := NewReaper(r, ReaperConfig{})

	mustAdd(t, r, "c1", "u1", NewChanSink(1))
	if n := reaper.SweepOnce(time.Now()); n != 0 {
		t.Fatalf("evicted = %d, want 0", n)
	}
}

func TestHeartbeatBroadcastPing(t *testing.T) {
	r := NewRegistry()
	s1 := NewChanSink(2)
	s2 := NewChanSink(2)
	mustAdd(t, r, "c1", "u1", s1)
	mustAdd(t, r, "c2", "u2", s2)

	hb := NewHeartbeat(r, time.Minute)
	if n := hb.BroadcastPing(); n != 2 {
		t.Fatalf("delivered = %d, want 2", n)
	}

	frame := string(<-s1.C)
	if !strings.Contains(frame, "event: ping") {
		t.Errorf("frame = %q, want ping event", frame)
	}
	if !strings.Contains(frame, `"timestamp"`) {
		t.Errorf("ping payload missing timestamp: %q", frame)
	}
}

// Ping writes refresh activity, so a connection that keeps accepting
// heartbeats is not considered inactive.
func TestHeartbeatRefreshesActivity(t *testing.T) {
	r := NewRegistry()
	mustAdd(t, r, "c1", "u1", NewChanSink(4))

	r.mu.RLock()
	r.clients["c1"].lastActivity.Store(time.Now().Add(-time.Hour).UnixNano())
	r.mu.RUnlock()

	NewHeartbeat(r, time.Minute).BroadcastPing()

	// Activity refreshes when the connection's writer flushes the ping.
	deadline := time.Now().Add(2 * time.Second)
	for {
		info, _ := r.ClientInfo("c1")
		if time.Since(info.LastActivity) < time.Minute {
			return
		}
		if !time.Now().Before(deadline) {
			t.Fatalf("LastActivity = %s, want refreshed by ping", info.LastActivity)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
