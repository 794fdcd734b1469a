// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
)

// Removal reasons recorded in logs and metrics when a connection leaves the
// registry.
const (
	RemoveReasonClosed       = "closed"
	RemoveReasonInactive     = "inactive"
	RemoveReasonStale        = "stale"
	RemoveReasonWriteFailure = "write_failure"
	RemoveReasonForced       = "forced"
	RemoveReasonShutdown     = "shutdown"
)

// ClientMetadata carries informational attributes of a connection. It is
// used for diagnostics and limiter keys, never for authorization.
type ClientMetadata struct {
	ClientType string `json:"clientType,omitempty"`
	Role       string `json:"role,omitempty"`
	UserAgent  string `json:"userAgent,omitempty"`
	IP         string `json:"ip,omitempty"`
}

// connSendBuffer bounds each connection's outbound queue. A connection that
// falls this many frames behind has stopped draining and is evicted.
const connSendBuffer = 64

// Connection is one active streaming session. The registry entry exclusively
// owns the sink; frames are enqueued on send and written by a dedicated
// goroutine, so one stalled client never delays delivery to another.
type Connection struct {
	ID          string
	UserID      string
	Metadata    ClientMetadata
	ConnectedAt time.Time

	sink         Sink
	send         chan []byte
	quit         chan struct{}
	stopOnce     sync.Once
	lastActivity atomic.Int64 // unix nanos
}

// stop closes the outbound path. Idempotent; the send channel is never
// closed, so concurrent enqueues stay safe.
func (c *Connection) stop() {
	c.stopOnce.Do(func() {
		close(c.quit)
		_ = c.sink.Close()
	})
}

// LastActivity returns the time of the last successful send or heartbeat.
func (c *Connection) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Connection) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// ConnectionInfo is the diagnostic snapshot returned for admin queries.
type ConnectionInfo struct {
	ID           string         `json:"id"`
	UserID       string         `json:"userId"`
	Metadata     ClientMetadata `json:"metadata"`
	ConnectedAt  time.Time      `json:"connectedAt"`
	LastActivity time.Time      `json:"lastActivityAt"`
}

// Stats summarizes the registry for health and metrics surfaces.
type Stats struct {
	TotalConnections int            `json:"totalConnections"`
	UniqueUsers      int            `json:"uniqueUsers"`
	PerUser          map[string]int `json:"perUserCounts"`
	PerClientType    map[string]int `json:"perClientTypeCounts"`
}

// SendOptions tunes the streaming protocol fields of one send.
type SendOptions struct {
	// EventID overrides the generated event ID on the wire.
	EventID string

	// Retry emits a reconnection hint to the client, in milliseconds.
	Retry time.Duration
}

// RemoveHook observes connection removals. Hooks run synchronously after the
// entry has left the index; they must not call back into the registry.
type RemoveHook func(conn *Connection, reason string)

// Registry is the process-local index of live streaming connections, grouped
// by user. It is constructed once at bootstrap and injected into handlers;
// entries are never persisted.
//
// All methods are safe for concurrent use. Sends are dispatched through a
// bounded per-connection queue drained by the connection's own writer
// goroutine, so a slow sink cannot stall registration, unrelated deliveries
// or the relay's fan-out goroutine.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]*Connection
	byUser  map[string]map[string]*Connection
	hooks   []RemoveHook
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]*Connection),
		byUser:  make(map[string]map[string]*Connection),
	}
}

// OnRemove registers a removal observer. Call before serving traffic.
func (r *Registry) OnRemove(hook RemoveHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

// AddClient registers a new connection owning sink. The id must be unique
// for the life of the process.
func (r *Registry) AddClient(id, userID string, sink Sink, meta ClientMetadata) (*Connection, error) {
	conn := &Connection{
		ID:          id,
		UserID:      userID,
		Metadata:    meta,
		ConnectedAt: time.Now(),
		sink:        sink,
		send:        make(chan []byte, connSendBuffer),
		quit:        make(chan struct{}),
	}
	conn.touch()

	r.mu.Lock()
	if _, exists := r.clients[id]; exists {
		r.mu.Unlock()
		return nil, ErrClientExists
	}
	r.clients[id] = conn
	userConns := r.byUser[userID]
	if userConns == nil {
		userConns = make(map[string]*Connection)
		r.byUser[userID] = userConns
	}
	userConns[id] = conn
	total := len(r.clients)
	r.mu.Unlock()

	go r.writeLoop(conn)

	metrics.ConnectionsActive.Set(float64(total))
	metrics.ConnectionsTotal.WithLabelValues(orUnknown(meta.ClientType)).Inc()
	logging.Info().
		Str("client_id", id).
		Str("user_id", userID).
		Str("client_type", meta.ClientType).
		Int("total_connections", total).
		Msg("streaming client connected")
	return conn, nil
}

// RemoveClient deregisters a connection and closes its sink. Idempotent:
// the second removal of the same id returns false.
func (r *Registry) RemoveClient(id, reason string) bool {
	if reason == "" {
		reason = RemoveReasonClosed
	}

	r.mu.Lock()
	conn, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.clients, id)
	if userConns := r.byUser[conn.UserID]; userConns != nil {
		delete(userConns, id)
		if len(userConns) == 0 {
			delete(r.byUser, conn.UserID)
		}
	}
	hooks := r.hooks
	total := len(r.clients)
	r.mu.Unlock()

	conn.stop()
	for _, hook := range hooks {
		hook(conn, reason)
	}

	metrics.ConnectionsActive.Set(float64(total))
	metrics.ConnectionsEvicted.WithLabelValues(reason).Inc()
	logging.Info().
		Str("client_id", id).
		Str("user_id", conn.UserID).
		Str("reason", reason).
		Int("total_connections", total).
		Msg("streaming client disconnected")
	return true
}

// SendEventToUser encodes one event and queues it for every live connection
// of userID on this instance, returning the number of connections it was
// queued for. Each connection writes independently; a failure there removes
// only that connection.
func (r *Registry) SendEventToUser(userID, eventType string, data any, opts *SendOptions) int {
	ev, err := NewEvent(eventType, data, []string{userID}, "")
	if err != nil {
		logging.Err(err).Str("event_type", eventType).Msg("encode event for user send")
		return 0
	}
	return r.deliver(ev, r.connectionsForUser(userID), opts)
}

// BroadcastEvent sends one event to every registered connection.
func (r *Registry) BroadcastEvent(eventType string, data any, opts *SendOptions) int {
	ev, err := NewEvent(eventType, data, nil, "")
	if err != nil {
		logging.Err(err).Str("event_type", eventType).Msg("encode event for broadcast")
		return 0
	}
	return r.deliver(ev, r.snapshot(), opts)
}

// DeliverLocal pushes an already-published event (typically relayed from
// another instance) to its local target connections.
func (r *Registry) DeliverLocal(ev Event) int {
	var targets []*Connection
	if ev.IsBroadcast() {
		targets = r.snapshot()
	} else {
		for _, userID := range ev.TargetUserIDs {
			targets = append(targets, r.connectionsForUser(userID)...)
		}
	}
	return r.deliver(ev, targets, &SendOptions{EventID: ev.ID})
}

// UpdateClientActivity refreshes the liveness timestamp for a connection.
// Heartbeat acknowledgments pass isPing=true; the distinction only matters
// for debug logging.
func (r *Registry) UpdateClientActivity(id string, isPing bool) {
	r.mu.RLock()
	conn, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return
	}
	conn.touch()
	if isPing {
		logging.Debug().Str("client_id", id).Msg("heartbeat activity")
	}
}

// ClientInfo returns the diagnostic snapshot for one connection id.
func (r *Registry) ClientInfo(id string) (ConnectionInfo, bool) {
	r.mu.RLock()
	conn, ok := r.clients[id]
	r.mu.RUnlock()
	if !ok {
		return ConnectionInfo{}, false
	}
	return ConnectionInfo{
		ID:           conn.ID,
		UserID:       conn.UserID,
		Metadata:     conn.Metadata,
		ConnectedAt:  conn.ConnectedAt,
		LastActivity: conn.LastActivity(),
	}, true
}

// Stats returns aggregate connection counts.
func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := Stats{
		TotalConnections: len(r.clients),
		UniqueUsers:      len(r.byUser),
		PerUser:          make(map[string]int, len(r.byUser)),
		PerClientType:    make(map[string]int),
	}
	for userID, conns := range r.byUser {
		stats.PerUser[userID] = len(conns)
	}
	for _, conn := range r.clients {
		stats.PerClientType[orUnknown(conn.Metadata.ClientType)]++
	}
	return stats
}

// Connections returns a point-in-time snapshot of all connections, ordered
// by id for deterministic sweeps.
func (r *Registry) Connections() []*Connection {
	return r.snapshot()
}

// CloseAll removes every connection, used during graceful shutdown.
func (r *Registry) CloseAll() {
	for _, conn := range r.snapshot() {
		r.RemoveClient(conn.ID, RemoveReasonShutdown)
	}
}

func (r *Registry) connectionsForUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.byUser[userID]))
	for _, conn := range r.byUser[userID] {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns
}

func (r *Registry) snapshot() []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := make([]*Connection, 0, len(r.clients))
	for _, conn := range r.clients {
		conns = append(conns, conn)
	}
	sort.Slice(conns, func(i, j int) bool { return conns[i].ID < conns[j].ID })
	return conns
}

// deliver encodes the event once and enqueues the frame on each target's
// outbound queue. Enqueueing never blocks: a connection whose queue is full
// has stopped draining and is removed as failed, without delaying the rest
// of the fan-out. The return value is the number of connections the frame
// was queued for.
func (r *Registry) deliver(ev Event, targets []*Connection, opts *SendOptions) int {
	if len(targets) == 0 {
		return 0
	}

	frame := EncodeSSE(ev, opts)
	queued := 0
	var failed []*Connection

	for _, conn := range targets {
		select {
		case <-conn.quit:
			// Already stopping.
		case conn.send <- frame:
			queued++
		default:
			metrics.SinkWriteFailures.Inc()
			logging.Warn().
				Str("client_id", conn.ID).
				Str("user_id", conn.UserID).
				Str("event_type", ev.Type).
				Msg("outbound queue full, scheduling removal")
			failed = append(failed, conn)
		}
	}

	for _, conn := range failed {
		r.RemoveClient(conn.ID, RemoveReasonWriteFailure)
	}

	if queued > 0 {
		metrics.EventsDelivered.WithLabelValues(ev.Type).Add(float64(queued))
	}
	return queued
}

// writeLoop drains one connection's outbound queue onto its sink. A write
// error removes the connection; stop() makes the loop exit.
func (r *Registry) writeLoop(conn *Connection) {
	for {
		select {
		case <-conn.quit:
			return
		case frame := <-conn.send:
			if err := conn.sink.Write(frame); err != nil {
				metrics.SinkWriteFailures.Inc()
				logging.Warn().
					Err(err).
					Str("client_id", conn.ID).
					Str("user_id", conn.UserID).
					Msg("sink write failed, removing connection")
				r.RemoveClient(conn.ID, RemoveReasonWriteFailure)
				return
			}
			conn.touch()
		}
	}
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
