// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package sseclient

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		Token:          "test-token",
		PollInterval:   20 * time.Millisecond,
		InitialBackoff: 30 * time.Millisecond,
		MaxBackoff:     100 * time.Millisecond,
		MaxFailures:    5,
	}
}

func collectEvents(c *Client) (func() []Event, *sync.Mutex) {
	var mu sync.Mutex
	var events []Event
	c.OnAny(func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		events = append(events, ev)
	})
	return func() []Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]Event(nil), events...)
	}, &mu
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached within timeout")
}

func TestClientReceivesStreamEvents(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/events/stream" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-token" {
			t.Errorf("Authorization = %q", got)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "event: notification\nid: e1\ndata: {\"id\":\"e1\",\"type\":\"notification\",\"data\":{},\"timestamp\":1}\n\n")
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	got, _ := collectEvents(c)

	var typed atomic.Int32
	c.On("notification", func(Event) { typed.Add(1) })

	c.Start(context.Background())
	defer c.Close()

	waitFor(t, 2*time.Second, func() bool { return len(got()) >= 1 })
	if got()[0].ID != "e1" || got()[0].Type != "notification" {
		t.Errorf("event = %+v", got()[0])
	}
	waitFor(t, time.Second, func() bool { return typed.Load() >= 1 })
}

func TestClientFallsBackToPolling(t *testing.T) {
	var polls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/events/stream":
			http.Error(w, "no streaming here", http.StatusServiceUnavailable)
		case "/api/v1/events/poll":
			polls.Add(1)
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprint(w, `{"events":[{"id":"p1","type":"notification","data":{},"timestamp":1}],"meta":{"nextPollMs":20}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	got, _ := collectEvents(c)

	c.Start(context.Background())
	defer c.Close()

	waitFor(t, 2*time.Second, func() bool {
		return polls.Load() >= 1 && len(got()) >= 1
	})
	if got()[0].ID != "p1" {
		t.Errorf("polled event = %+v", got()[0])
	}
}

// The same event arriving on both transports must be delivered once.
func TestClientDeduplicates(t *testing.T) {
	payload := `{"id":"dup","type":"notification","data":{},"timestamp":1}`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/events/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "event: notification\nid: dup\ndata: %s\n\n", payload)
			w.(http.Flusher).Flush()
			// Drop the stream so the client falls back to polling.
		case "/api/v1/events/poll":
			fmt.Fprintf(w, `{"events":[%s],"meta":{"nextPollMs":20}}`, payload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	got, _ := collectEvents(c)

	c.Start(context.Background())
	defer c.Close()

	waitFor(t, 2*time.Second, func() bool { return len(got()) >= 1 })
	time.Sleep(150 * time.Millisecond)
	if n := len(got()); n != 1 {
		t.Errorf("delivered %d times, want 1", n)
	}
}

// The retry delay doubles from InitialBackoff up to the MaxBackoff ceiling
// and never shrinks while the stream keeps failing; a working polling
// fallback keeps the failure budget from running out in the meantime.
func TestClientBackoffGrowsToCap(t *testing.T) {
	var mu sync.Mutex
	var attempts []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/events/stream":
			mu.Lock()
			attempts = append(attempts, time.Now())
			mu.Unlock()
			http.Error(w, "down", http.StatusServiceUnavailable)
		case "/api/v1/events/poll":
			fmt.Fprint(w, `{"events":[],"meta":{"nextPollMs":0}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.InitialBackoff = 25 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond
	// One poll per backoff window, so the window length is the gap between
	// consecutive stream attempts.
	cfg.PollInterval = time.Hour
	c := New(cfg)

	c.Start(context.Background())
	defer c.Close()

	waitFor(t, 5*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(attempts) >= 5
	})
	c.Close()

	mu.Lock()
	defer mu.Unlock()
	wantAtLeast := []time.Duration{
		25 * time.Millisecond,
		50 * time.Millisecond,
		100 * time.Millisecond,
		100 * time.Millisecond,
	}
	const epsilon = 10 * time.Millisecond
	var prev time.Duration
	for i, want := range wantAtLeast {
		gap := attempts[i+1].Sub(attempts[i])
		if gap < want-epsilon {
			t.Errorf("gap %d = %s, want at least %s", i, gap, want)
		}
		if gap < prev-epsilon {
			t.Errorf("gap %d = %s shrank below previous gap %s", i, gap, prev)
		}
		if gap > cfg.MaxBackoff+time.Second {
			t.Errorf("gap %d = %s far exceeds the %s cap", i, gap, cfg.MaxBackoff)
		}
		prev = gap
	}
}

func TestStateChangeObservers(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:0"})

	var mu sync.Mutex
	var seen []State
	c.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, s)
	})

	c.setState(StateConnectingSSE)
	c.setState(StateConnectingSSE) // repeated transitions are suppressed
	c.setState(StateConnectedSSE)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != StateConnectingSSE || seen[1] != StateConnectedSSE {
		t.Errorf("observed transitions = %v", seen)
	}
}

func TestClientConnectionLostAfterFailureBudget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxFailures = 3
	c := New(cfg)

	var states []State
	var mu sync.Mutex
	c.OnStateChange(func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})

	c.Start(context.Background())
	defer c.Close()

	waitFor(t, 5*time.Second, func() bool { return c.State() == StateConnectionLost })

	mu.Lock()
	sawConnecting := false
	for _, s := range states {
		if s == StateConnectingSSE || s == StateConnectingPolling {
			sawConnecting = true
		}
	}
	mu.Unlock()
	if !sawConnecting {
		t.Error("no connecting states observed before giving up")
	}
}

func TestClientReconnectAfterConnectionLost(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !healthy.Load() {
			http.Error(w, "down", http.StatusServiceUnavailable)
			return
		}
		switch r.URL.Path {
		case "/api/v1/events/stream":
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, "event: notification\nid: r1\ndata: {\"id\":\"r1\",\"type\":\"notification\",\"data\":{},\"timestamp\":1}\n\n")
			w.(http.Flusher).Flush()
			<-r.Context().Done()
		case "/api/v1/events/poll":
			fmt.Fprint(w, `{"events":[],"meta":{"nextPollMs":20}}`)
		}
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.MaxFailures = 2
	c := New(cfg)
	got, _ := collectEvents(c)

	c.Start(context.Background())
	waitFor(t, 5*time.Second, func() bool { return c.State() == StateConnectionLost })

	healthy.Store(true)
	c.Reconnect(context.Background())
	defer c.Close()

	waitFor(t, 2*time.Second, func() bool { return len(got()) >= 1 })
	if c.State() != StateConnectedSSE {
		t.Errorf("state after reconnect = %s, want connected_sse", c.State())
	}
}

func TestClientCloseIsIdempotent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(testConfig(srv.URL))
	c.Start(context.Background())
	c.Close()
	c.Close()

	if c.State() != StateDisconnected {
		t.Errorf("state = %s, want disconnected", c.State())
	}
}
