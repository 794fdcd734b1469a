// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/metrics"
)

// CategorySSE keys the streaming connection slots. Acquire and Release must
// use the same category or the slot leaks.
const CategorySSE = "sse"

// LimiterConfig holds the connection-cap and attempt-rate policies. The
// per-instance cap and the attempt window are deliberately independent
// knobs; neither implies the other.
type LimiterConfig struct {
	// MaxConnectionsPerUser caps concurrent connections per user on this
	// instance.
	MaxConnectionsPerUser int

	// MaxConnectionsPerIP caps concurrent connections per originating IP.
	MaxConnectionsPerIP int

	// AttemptsPerWindow is the number of new connection attempts allowed
	// per key in AttemptWindow.
	AttemptsPerWindow int

	// AttemptWindow is the sliding window for attempt limiting.
	AttemptWindow time.Duration

	// IdleTTL is how long an attempt limiter for an unseen key survives
	// before being pruned.
	IdleTTL time.Duration
}

// DefaultLimiterConfig returns the reference policy: 3 connections per user,
// 10 per IP, 5 attempts per minute.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		MaxConnectionsPerUser: 3,
		MaxConnectionsPerIP:   10,
		AttemptsPerWindow:     5,
		AttemptWindow:         time.Minute,
		IdleTTL:               10 * time.Minute,
	}
}

type attemptState struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// Limiter enforces concurrent-connection caps per user and per IP, and a
// token-bucket attempt limit per key. Checks run before a connection is
// registered; attempts over the limit are rejected with a retry-after hint,
// never queued.
type Limiter struct {
	cfg LimiterConfig

	mu        sync.Mutex
	userConns map[string]int
	ipConns   map[string]int
	attempts  map[string]*attemptState
	lastPrune time.Time
}

// NewLimiter builds a limiter, filling zero config fields with defaults.
func NewLimiter(cfg LimiterConfig) *Limiter {
	def := DefaultLimiterConfig()
	if cfg.MaxConnectionsPerUser <= 0 {
		cfg.MaxConnectionsPerUser = def.MaxConnectionsPerUser
	}
	if cfg.MaxConnectionsPerIP <= 0 {
		cfg.MaxConnectionsPerIP = def.MaxConnectionsPerIP
	}
	if cfg.AttemptsPerWindow <= 0 {
		cfg.AttemptsPerWindow = def.AttemptsPerWindow
	}
	if cfg.AttemptWindow <= 0 {
		cfg.AttemptWindow = def.AttemptWindow
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = def.IdleTTL
	}
	return &Limiter{
		cfg:       cfg,
		userConns: make(map[string]int),
		ipConns:   make(map[string]int),
		attempts:  make(map[string]*attemptState),
		lastPrune: time.Now(),
	}
}

// CheckUserLimit reports whether userID is already at its concurrent
// connection cap for the given category.
func (l *Limiter) CheckUserLimit(userID, category string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.userConns[connKey(category, userID)] >= l.cfg.MaxConnectionsPerUser
}

// CheckIPLimit reports whether ip is already at its concurrent connection
// cap for the given category.
func (l *Limiter) CheckIPLimit(ip, category string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ipConns[connKey(category, ip)] >= l.cfg.MaxConnectionsPerIP
}

// AllowAttempt consumes one attempt token for key. When the sliding window
// is exhausted it returns a RateLimitedError carrying the retry-after hint.
func (l *Limiter) AllowAttempt(key string) error {
	l.mu.Lock()
	st, ok := l.attempts[key]
	if !ok {
		st = &attemptState{
			lim: rate.NewLimiter(
				rate.Every(l.cfg.AttemptWindow/time.Duration(l.cfg.AttemptsPerWindow)),
				l.cfg.AttemptsPerWindow,
			),
		}
		l.attempts[key] = st
	}
	st.lastSeen = time.Now()
	l.pruneLocked(st.lastSeen)
	l.mu.Unlock()

	res := st.lim.Reserve()
	if delay := res.Delay(); delay > 0 {
		res.Cancel()
		metrics.LimiterRejections.WithLabelValues("rate").Inc()
		return &RateLimitedError{Key: key, RetryAfter: delay}
	}
	return nil
}

// Acquire runs every admission check for a new connection and, on success,
// counts it against the user and IP caps. Callers must pair it with Release
// when the connection ends.
func (l *Limiter) Acquire(userID, ip, category string) error {
	if err := l.AllowAttempt(connKey(category, userID)); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	userKey := connKey(category, userID)
	if l.userConns[userKey] >= l.cfg.MaxConnectionsPerUser {
		metrics.LimiterRejections.WithLabelValues("user_cap").Inc()
		return ErrUserConnectionLimit
	}
	ipKey := connKey(category, ip)
	if ip != "" && l.ipConns[ipKey] >= l.cfg.MaxConnectionsPerIP {
		metrics.LimiterRejections.WithLabelValues("ip_cap").Inc()
		return ErrIPConnectionLimit
	}

	l.userConns[userKey]++
	if ip != "" {
		l.ipConns[ipKey]++
	}
	return nil
}

// Release returns the user and IP slots taken by Acquire.
func (l *Limiter) Release(userID, ip, category string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	userKey := connKey(category, userID)
	if l.userConns[userKey] > 0 {
		l.userConns[userKey]--
		if l.userConns[userKey] == 0 {
			delete(l.userConns, userKey)
		}
	}
	if ip != "" {
		ipKey := connKey(category, ip)
		if l.ipConns[ipKey] > 0 {
			l.ipConns[ipKey]--
			if l.ipConns[ipKey] == 0 {
				delete(l.ipConns, ipKey)
			}
		}
	}
}

// OpenCounts returns the current number of tracked user and IP keys, for
// the health surface.
func (l *Limiter) OpenCounts() (users, ips int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.userConns), len(l.ipConns)
}

// pruneLocked drops attempt limiters idle past IdleTTL. Runs at most once
// per minute, piggybacked on AllowAttempt.
func (l *Limiter) pruneLocked(now time.Time) {
	if now.Sub(l.lastPrune) < time.Minute {
		return
	}
	l.lastPrune = now
	for key, st := range l.attempts {
		if now.Sub(st.lastSeen) > l.cfg.IdleTTL {
			delete(l.attempts, key)
		}
	}
}

func connKey(category, id string) string {
	if category == "" {
		return id
	}
	return category + ":" + id
}
