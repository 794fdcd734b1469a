// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSinkClosed is returned by Write on a closed sink.
	ErrSinkClosed = errors.New("sink closed")

	// ErrSinkBackpressure is returned when a sink cannot accept the chunk
	// without blocking. The connection is treated as broken.
	ErrSinkBackpressure = errors.New("sink buffer full")

	// ErrClientExists is returned when registering a duplicate client ID.
	ErrClientExists = errors.New("client id already registered")

	// ErrUserConnectionLimit is returned when a user is at the per-instance
	// concurrent connection cap.
	ErrUserConnectionLimit = errors.New("too many connections for user")

	// ErrIPConnectionLimit is returned when an IP is at the per-instance
	// concurrent connection cap.
	ErrIPConnectionLimit = errors.New("too many connections for ip")
)

// RateLimitedError signals that a connection attempt exceeded the sliding
// window limit. RetryAfter is the hint clients must honor before retrying.
type RateLimitedError struct {
	Key        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (key=%s, retry after %s)", e.Key, e.RetryAfter)
}

// IsRateLimited reports whether err is a RateLimitedError and returns it.
func IsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
