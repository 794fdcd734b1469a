// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package relay

import (
	"context"
	"testing"
	"time"
)

// startTestRelay boots an embedded broker plus a connected relay. The
// returned relay and broker are torn down with the test.
func startTestRelay(t *testing.T, deliverer LocalDeliverer) *NATSRelay {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping embedded broker test in short mode")
	}

	srv, err := StartEmbeddedServer(EmbeddedServerConfig{
		Port:     -1,
		StoreDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("start embedded broker: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	r, err := NewNATSRelay(Config{
		URL:              srv.ClientURL(),
		Retention:        time.Hour,
		MaxEventsPerUser: 50,
		ConnectTimeout:   5 * time.Second,
	}, deliverer)
	if err != nil {
		t.Fatalf("connect relay: %v", err)
	}
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func waitForDelivery(t *testing.T, sink *captureDeliverer, want int) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if len(sink.delivered()) >= want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("wanted %d delivered events, got %d", want, len(sink.delivered()))
}

func TestNATSRelayPublishAnnouncesLocally(t *testing.T) {
	sink := &captureDeliverer{}
	r := startTestRelay(t, sink)

	ev := testEvent(t, "report-update", []string{"u1"})
	id, err := r.Publish(context.Background(), ev)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if id != ev.ID {
		t.Errorf("returned id = %q, want %q", id, ev.ID)
	}

	// The announce round-trips through the broker back to this instance.
	waitForDelivery(t, sink, 1)
	if got := sink.delivered()[0]; got.ID != ev.ID || got.Type != ev.Type {
		t.Errorf("announced event = %+v, want the published one", got)
	}
}

func TestNATSRelayDurableCatchUp(t *testing.T) {
	r := startTestRelay(t, nil)
	ctx := context.Background()

	targeted := testEvent(t, "notification", []string{"u1"})
	broadcast := testEvent(t, "systemAlert", nil)
	other := testEvent(t, "notification", []string{"u2"})

	if _, err := r.Publish(ctx, targeted); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Publish(ctx, broadcast); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Publish(ctx, other); err != nil {
		t.Fatal(err)
	}

	events, total, err := r.GetEventsForUser(ctx, "u1", time.Now().Add(-time.Minute), QueryOptions{})
	if err != nil {
		t.Fatalf("GetEventsForUser: %v", err)
	}
	if total != 2 || len(events) != 2 {
		t.Fatalf("got %d events (total %d), want targeted + broadcast", len(events), total)
	}
	for _, ev := range events {
		if ev.ID == other.ID {
			t.Error("another user's event leaked into the catch-up read")
		}
	}
}

func TestNATSRelaySinceWatermark(t *testing.T) {
	r := startTestRelay(t, nil)
	ctx := context.Background()

	early := testEvent(t, "notification", []string{"u1"})
	if _, err := r.Publish(ctx, early); err != nil {
		t.Fatal(err)
	}

	time.Sleep(50 * time.Millisecond)
	watermark := time.Now()
	time.Sleep(50 * time.Millisecond)

	late := testEvent(t, "notification", []string{"u1"})
	if _, err := r.Publish(ctx, late); err != nil {
		t.Fatal(err)
	}

	events, _, err := r.GetEventsForUser(ctx, "u1", watermark, QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != late.ID {
		t.Errorf("watermark read returned %d events, want only the late one", len(events))
	}
}

func TestNATSRelayPurge(t *testing.T) {
	r := startTestRelay(t, nil)
	ctx := context.Background()

	if _, err := r.Publish(ctx, testEvent(t, "notification", []string{"u1"})); err != nil {
		t.Fatal(err)
	}
	if err := r.PurgeEvents(ctx); err != nil {
		t.Fatalf("PurgeEvents: %v", err)
	}

	events, total, err := r.GetEventsForUser(ctx, "u1", time.Now().Add(-time.Minute), QueryOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 || total != 0 {
		t.Errorf("stream not empty after purge: %d events", len(events))
	}
}

func TestNATSRelayModeAndHealth(t *testing.T) {
	r := startTestRelay(t, nil)
	if r.Mode() != ModeNATS {
		t.Errorf("Mode = %q, want nats", r.Mode())
	}
	if err := r.Healthy(context.Background()); err != nil {
		t.Errorf("Healthy = %v, want nil with a live broker", err)
	}

	_ = r.Close()
	if err := r.Healthy(context.Background()); err == nil {
		t.Error("Healthy after Close = nil, want error")
	}
}

func TestNATSRelaySelectionDegradesWithoutBroker(t *testing.T) {
	r := New(Config{
		URL:            "nats://127.0.0.1:1", // nothing listens here
		ConnectTimeout: 500 * time.Millisecond,
	}, nil)
	t.Cleanup(func() { _ = r.Close() })

	if r.Mode() != ModeMemory {
		t.Errorf("Mode = %q, want memory fallback when broker is unreachable", r.Mode())
	}
}
