// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package sseclient implements the hybrid consumer side of the realtime
// delivery protocol: a streaming connection with automatic fallback to
// polling, exponential backoff and duplicate suppression across both
// transports. It is the Go counterpart of the browser client and backs the
// service's own integration tests and CLI tooling.
package sseclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
)

// State is the controller's connection state.
type State string

const (
	StateDisconnected      State = "disconnected"
	StateConnectingSSE     State = "connecting_sse"
	StateConnectedSSE      State = "connected_sse"
	StateConnectingPolling State = "connecting_polling"
	StateConnectedPolling  State = "connected_polling"

	// StateConnectionLost is terminal: the failure budget is exhausted and
	// the controller stays down until Reconnect is called.
	StateConnectionLost State = "connection_lost"
)

// Event is a delivered notification, identical across both transports.
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Handler consumes one delivered event.
type Handler func(Event)

// Config tunes the controller. Zero fields take the reference defaults.
type Config struct {
	// BaseURL is the service root, e.g. "http://localhost:8085".
	BaseURL string

	// Token is the bearer token presented on every request.
	Token string

	// HTTPClient defaults to a client without a global timeout; the
	// streaming response must be allowed to live indefinitely.
	HTTPClient *http.Client

	// PollInterval is the cadence of the polling fallback. The server's
	// nextPollMs hint and Retry-After headers override it per cycle.
	PollInterval time.Duration

	// InitialBackoff is the first reconnect delay; it doubles per
	// consecutive failure up to MaxBackoff.
	InitialBackoff time.Duration
	MaxBackoff     time.Duration

	// MaxFailures is the consecutive-failure budget before the controller
	// gives up and parks in StateConnectionLost.
	MaxFailures int

	// DedupWindow caps how many recently seen event IDs are remembered.
	DedupWindow int
}

func (c *Config) applyDefaults() {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{}
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.MaxFailures <= 0 {
		c.MaxFailures = 5
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = 512
	}
}

// Client is the hybrid connection controller. Construct with New, register
// handlers, then call Start. All methods are safe for concurrent use.
type Client struct {
	cfg Config

	mu            sync.Mutex
	state         State
	handlers      map[string][]Handler
	anyHandlers   []Handler
	stateHandlers []func(State)
	failures      int
	lastEventAt   time.Time
	seen          *seenSet
	cancel        context.CancelFunc
	done          chan struct{}
}

// New builds a stopped client.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:      cfg,
		state:    StateDisconnected,
		handlers: make(map[string][]Handler),
		seen:     newSeenSet(cfg.DedupWindow),
	}
}

// On registers a handler for one event type. Register before Start.
func (c *Client) On(eventType string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[eventType] = append(c.handlers[eventType], h)
}

// OnAny registers a handler invoked for every event.
func (c *Client) OnAny(h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.anyHandlers = append(c.anyHandlers, h)
}

// OnStateChange registers a state transition observer.
func (c *Client) OnStateChange(h func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stateHandlers = append(c.stateHandlers, h)
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start launches the connection loop. Idempotent while running.
func (c *Client) Start(ctx context.Context) {
	c.mu.Lock()
	if c.cancel != nil {
		c.mu.Unlock()
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	c.failures = 0
	done := c.done
	c.mu.Unlock()

	go func() {
		defer close(done)
		c.run(runCtx)
	}()
}

// Close stops the loop and waits for it to exit. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.done
	c.cancel = nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	c.setState(StateDisconnected)
}

// Reconnect resets the failure budget and restarts the loop after
// StateConnectionLost. Safe to call at any time.
func (c *Client) Reconnect(ctx context.Context) {
	c.Close()
	c.Start(ctx)
}

// run alternates between the streaming transport and the polling fallback:
// each failed streaming attempt is followed by one polling window lasting
// the backoff delay, so events keep flowing while the stream recovers.
func (c *Client) run(ctx context.Context) {
	backoff := c.cfg.InitialBackoff

	for {
		if ctx.Err() != nil {
			return
		}

		c.setState(StateConnectingSSE)
		streamed, err := c.streamOnce(ctx)
		if ctx.Err() != nil {
			return
		}

		if streamed {
			// The stream was established and later dropped; start the
			// recovery cycle from a clean slate.
			c.resetFailures()
			backoff = c.cfg.InitialBackoff
		} else {
			if c.recordFailure() {
				logging.Warn().
					Int("failures", c.cfg.MaxFailures).
					Msg("realtime client failure budget exhausted")
				c.setState(StateConnectionLost)
				return
			}
			logging.Debug().Err(err).Dur("backoff", backoff).Msg("stream attempt failed, polling until retry")
		}

		if lost := c.pollUntil(ctx, time.Now().Add(backoff)); lost {
			return
		}

		backoff *= 2
		if backoff > c.cfg.MaxBackoff {
			backoff = c.cfg.MaxBackoff
		}
	}
}

// streamOnce connects the streaming transport and consumes frames until the
// stream drops. The bool result reports whether a connection was
// established at all.
func (c *Client) streamOnce(ctx context.Context) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/api/v1/events/stream", nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.waitRetryAfter(ctx, resp)
		return false, fmt.Errorf("stream rejected: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("stream rejected: %s", resp.Status)
	}

	c.setState(StateConnectedSSE)

	p := newParser(resp.Body)
	for {
		f, err := p.next()
		if err != nil {
			return true, err
		}
		if f.Data == "" {
			continue
		}
		var ev Event
		if uerr := json.Unmarshal([]byte(f.Data), &ev); uerr != nil {
			logging.Debug().Err(uerr).Str("frame_event", f.Event).Msg("undecodable stream frame dropped")
			continue
		}
		if ev.Type == "" {
			ev.Type = f.Event
		}
		if ev.ID == "" {
			ev.ID = f.ID
		}
		c.dispatch(ev)
	}
}

// pollUntil runs the polling fallback until the deadline passes or ctx is
// canceled. It reports whether the failure budget ran out.
func (c *Client) pollUntil(ctx context.Context, deadline time.Time) (lost bool) {
	c.setState(StateConnectingPolling)

	interval := c.cfg.PollInterval
	for {
		if ctx.Err() != nil || !time.Now().Before(deadline) {
			return false
		}

		next, err := c.pollOnce(ctx)
		if err != nil {
			logging.Debug().Err(err).Msg("poll attempt failed")
			if c.recordFailure() {
				logging.Warn().
					Int("failures", c.cfg.MaxFailures).
					Msg("realtime client failure budget exhausted")
				c.setState(StateConnectionLost)
				return true
			}
		} else {
			c.setState(StateConnectedPolling)
			c.resetFailures()
			if next > 0 {
				interval = next
			}
		}

		wait := interval
		if remaining := time.Until(deadline); remaining < wait {
			wait = remaining
		}
		if wait <= 0 {
			return false
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
	}
}

// pollOnce fetches one catch-up batch and dispatches it. It returns the
// server's next-poll hint, or the Retry-After delay on a 429.
func (c *Client) pollOnce(ctx context.Context) (time.Duration, error) {
	u, err := url.Parse(c.cfg.BaseURL + "/api/v1/events/poll")
	if err != nil {
		return 0, err
	}
	q := u.Query()
	if since := c.sinceWatermark(); !since.IsZero() {
		q.Set("since", strconv.FormatInt(since.UnixMilli(), 10))
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return retryAfter(resp), fmt.Errorf("poll rejected: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("poll rejected: %s", resp.Status)
	}

	var envelope struct {
		Events []Event `json:"events"`
		Meta   struct {
			NextPollMs int64 `json:"nextPollMs"`
		} `json:"meta"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return 0, err
	}
	for _, ev := range envelope.Events {
		c.dispatch(ev)
	}
	return time.Duration(envelope.Meta.NextPollMs) * time.Millisecond, nil
}

// dispatch fans one event out to the registered handlers, suppressing
// duplicates seen on either transport.
func (c *Client) dispatch(ev Event) {
	c.mu.Lock()
	if ev.ID != "" && !c.seen.add(ev.ID) {
		c.mu.Unlock()
		return
	}
	if ts := time.UnixMilli(ev.Timestamp); ts.After(c.lastEventAt) {
		c.lastEventAt = ts
	}
	typed := append([]Handler(nil), c.handlers[ev.Type]...)
	any := append([]Handler(nil), c.anyHandlers...)
	c.mu.Unlock()

	for _, h := range typed {
		h(ev)
	}
	for _, h := range any {
		h(ev)
	}
}

// sinceWatermark is the newest delivered event time, used to bound polls.
func (c *Client) sinceWatermark() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastEventAt
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	if c.state == s {
		c.mu.Unlock()
		return
	}
	c.state = s
	observers := append([]func(State){}, c.stateHandlers...)
	c.mu.Unlock()

	for _, h := range observers {
		h(s)
	}
}

func (c *Client) recordFailure() (exhausted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	return c.failures >= c.cfg.MaxFailures
}

func (c *Client) resetFailures() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures = 0
}

// waitRetryAfter blocks for the server-mandated delay after a 429.
func (c *Client) waitRetryAfter(ctx context.Context, resp *http.Response) {
	delay := retryAfter(resp)
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func retryAfter(resp *http.Response) time.Duration {
	secs, err := strconv.Atoi(resp.Header.Get("Retry-After"))
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// seenSet is a bounded set of recently delivered event IDs, evicting in
// insertion order.
type seenSet struct {
	ids   map[string]struct{}
	order []string
	max   int
}

func newSeenSet(max int) *seenSet {
	return &seenSet{ids: make(map[string]struct{}, max), max: max}
}

// add returns false when id was already present.
func (s *seenSet) add(id string) bool {
	if _, ok := s.ids[id]; ok {
		return false
	}
	s.ids[id] = struct{}{}
	s.order = append(s.order, id)
	if len(s.order) > s.max {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.ids, oldest)
	}
	return true
}
