// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package relay

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

const (
	// streamName is the JetStream stream holding durable per-user events.
	streamName = "REPORT_EVENTS"

	// subjectPrefix roots the durable event subjects: events.user.<id>
	// for targeted events, events.broadcast for everyone.
	subjectPrefix    = "events"
	broadcastSubject = subjectPrefix + ".broadcast"

	// announceSubject is the core NATS channel used for immediate
	// cross-instance fan-out. Outside the stream's subject space on
	// purpose: announcements are fire-and-forget, durability comes from
	// the stream.
	announceSubject = "announce.events"

	fetchBatch = 256
)

// NATSRelay is the broker-backed variant. Durability comes from a JetStream
// stream bounded by age and per-subject count; immediacy comes from a core
// NATS announce subject every instance subscribes to.
//
// A circuit breaker guards publishes. While the broker is unreachable the
// relay keeps working against an in-process buffer (degraded mode, visible
// in health and metrics) and resumes transparently on reconnect.
type NATSRelay struct {
	cfg       Config
	nc        *nats.Conn
	js        jetstream.JetStream
	stream    jetstream.Stream
	sub       *nats.Subscription
	breaker   *gobreaker.CircuitBreaker[any]
	fallback  *memoryStore
	deliverer LocalDeliverer

	mu       sync.RWMutex
	degraded bool
	closed   bool
}

// NewNATSRelay connects to the broker, ensures the stream exists and
// subscribes to the announce channel. Fails fast when the broker is
// unreachable within cfg.ConnectTimeout so the caller can degrade.
func NewNATSRelay(cfg Config, deliverer LocalDeliverer) (*NATSRelay, error) {
	cfg.applyDefaults()

	r := &NATSRelay{
		cfg:       cfg,
		fallback:  newMemoryStore(cfg.Retention, cfg.MaxEventsPerUser),
		deliverer: deliverer,
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.ConnectTimeout),
		nats.RetryOnFailedConnect(false),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logging.Warn().Err(err).Msg("broker disconnected, relay degraded")
			}
			r.setDegraded(true)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logging.Info().Str("url", nc.ConnectedUrl()).Msg("broker reconnected, relay restored")
			r.setDegraded(false)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	r.nc = nc

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	r.js = js

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	defer cancel()
	if err := r.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, err
	}

	sub, err := nc.Subscribe(announceSubject, r.handleAnnounce)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe announce channel: %w", err)
	}
	r.sub = sub

	r.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "relay-publish",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("relay publish circuit breaker state change")
		},
	})

	logging.Info().Str("url", cfg.URL).Str("stream", streamName).Msg("broker-backed relay ready")
	return r, nil
}

// ensureStream creates or updates the durable event stream. MaxAge is twice
// the retention window: reads filter at the window, the extra headroom lets
// includeExpired queries observe recently expired events.
func (r *NATSRelay) ensureStream(ctx context.Context) error {
	streamCfg := jetstream.StreamConfig{
		Name:              streamName,
		Subjects:          []string{subjectPrefix + ".>"},
		Retention:         jetstream.LimitsPolicy,
		MaxAge:            2 * r.cfg.Retention,
		MaxMsgsPerSubject: int64(r.cfg.MaxEventsPerUser),
		Storage:           jetstream.FileStorage,
		Discard:           jetstream.DiscardOld,
		AllowDirect:       true,
	}

	stream, err := r.js.CreateOrUpdateStream(ctx, streamCfg)
	if err != nil {
		return fmt.Errorf("ensure stream %s: %w", streamName, err)
	}
	r.stream = stream
	return nil
}

// Publish stores the event durably and announces it. A broker failure is
// absorbed: the event lands in the in-process buffer and local connections
// still receive it, with the degradation reported through health/metrics
// rather than surfaced to the producer.
func (r *NATSRelay) Publish(ctx context.Context, ev realtime.Event) (string, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return "", ErrRelayClosed
	}
	r.mu.RUnlock()

	payload, err := json.Marshal(ev)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	_, err = r.breaker.Execute(func() (any, error) {
		for _, subject := range eventSubjects(ev) {
			if _, perr := r.js.Publish(ctx, subject, payload, jetstream.WithMsgID(ev.ID+":"+subject)); perr != nil {
				return nil, fmt.Errorf("publish %s: %w", subject, perr)
			}
		}
		if perr := r.nc.Publish(announceSubject, payload); perr != nil {
			return nil, fmt.Errorf("announce: %w", perr)
		}
		return nil, nil
	})
	if err != nil {
		metrics.RelayPublishErrors.Inc()
		r.setDegraded(true)
		logging.Warn().
			Err(err).
			Str("event_id", ev.ID).
			Str("event_type", ev.Type).
			Msg("broker publish failed, delivering within instance only")
		r.fallback.append(ev)
		if r.deliverer != nil {
			r.deliverer.DeliverLocal(ev)
		}
		metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
		return ev.ID, nil
	}

	r.setDegraded(false)
	metrics.EventsPublished.WithLabelValues(ev.Type).Inc()
	return ev.ID, nil
}

// GetEventsForUser reads the user's durable subject plus the broadcast
// subject through an ephemeral consumer starting at the watermark. When the
// broker read fails the in-process buffer is consulted instead.
func (r *NATSRelay) GetEventsForUser(ctx context.Context, userID string, since time.Time, opts QueryOptions) ([]realtime.Event, int, error) {
	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return nil, 0, ErrRelayClosed
	}
	r.mu.RUnlock()

	raw, err := r.readStream(ctx, userID, since)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("broker read failed, serving in-process buffer")
		r.setDegraded(true)
		raw = r.fallback.eventsFor(userID)
	}

	events, total := filterEvents(raw, since, r.cfg.Retention, opts, time.Now())
	return events, total, nil
}

func (r *NATSRelay) readStream(ctx context.Context, userID string, since time.Time) ([]realtime.Event, error) {
	consumerCfg := jetstream.ConsumerConfig{
		FilterSubjects:    []string{userSubject(userID), broadcastSubject},
		AckPolicy:         jetstream.AckNonePolicy,
		InactiveThreshold: time.Minute,
		DeliverPolicy:     jetstream.DeliverAllPolicy,
	}
	if !since.IsZero() {
		startTime := since
		consumerCfg.DeliverPolicy = jetstream.DeliverByStartTimePolicy
		consumerCfg.OptStartTime = &startTime
	}

	cons, err := r.stream.CreateOrUpdateConsumer(ctx, consumerCfg)
	if err != nil {
		return nil, fmt.Errorf("create catch-up consumer: %w", err)
	}

	var events []realtime.Event
	for {
		batch, err := cons.FetchNoWait(fetchBatch)
		if err != nil {
			return nil, fmt.Errorf("fetch events: %w", err)
		}
		count := 0
		for msg := range batch.Messages() {
			count++
			var ev realtime.Event
			if uerr := json.Unmarshal(msg.Data(), &ev); uerr != nil {
				logging.Warn().Err(uerr).Msg("skipping undecodable durable event")
				continue
			}
			events = append(events, ev)
		}
		if err := batch.Error(); err != nil {
			return nil, fmt.Errorf("fetch events: %w", err)
		}
		if count < fetchBatch {
			return events, nil
		}
	}
}

// PurgeEvents clears the stream and the in-process buffer.
func (r *NATSRelay) PurgeEvents(ctx context.Context) error {
	r.fallback.clear()
	if err := r.stream.Purge(ctx); err != nil {
		return fmt.Errorf("purge stream: %w", err)
	}
	return nil
}

// Mode identifies the broker-backed variant.
func (r *NATSRelay) Mode() string { return ModeNATS }

// Healthy reports broker reachability and degraded state.
func (r *NATSRelay) Healthy(context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return ErrRelayClosed
	}
	if !r.nc.IsConnected() {
		return fmt.Errorf("%w: not connected", ErrBrokerUnavailable)
	}
	if r.degraded {
		return fmt.Errorf("%w: recent publish or read failure", ErrBrokerUnavailable)
	}
	return nil
}

// Close unsubscribes and drops the broker connection.
func (r *NATSRelay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.sub != nil {
		_ = r.sub.Unsubscribe()
	}
	r.nc.Close()
	return nil
}

func (r *NATSRelay) setDegraded(degraded bool) {
	r.mu.Lock()
	changed := r.degraded != degraded
	r.degraded = degraded
	r.mu.Unlock()
	if changed {
		metrics.SetRelayBrokerBacked(!degraded)
	}
}

// handleAnnounce fans a relayed event out to this instance's connections.
func (r *NATSRelay) handleAnnounce(msg *nats.Msg) {
	var ev realtime.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logging.Warn().Err(err).Msg("dropping undecodable announce message")
		return
	}
	if r.deliverer != nil {
		r.deliverer.DeliverLocal(ev)
	}
}

// eventSubjects maps an event to the durable subjects it is stored under.
func eventSubjects(ev realtime.Event) []string {
	if ev.IsBroadcast() {
		return []string{broadcastSubject}
	}
	subjects := make([]string, 0, len(ev.TargetUserIDs))
	for _, userID := range ev.TargetUserIDs {
		subjects = append(subjects, userSubject(userID))
	}
	return subjects
}

// userSubject builds the per-user durable subject. User IDs are sanitized
// into valid NATS subject tokens; IDs are opaque alphanumerics in practice,
// so the mapping stays unique.
func userSubject(userID string) string {
	return subjectPrefix + ".user." + sanitizeToken(userID)
}

func sanitizeToken(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
