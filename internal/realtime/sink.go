// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import "sync"

// Sink is the write capability a transport hands to the registry. Each
// registered connection owns exactly one Sink; the registry never shares it.
//
// Write sends one pre-formatted protocol chunk and reports failure
// synchronously. A failing Sink is evicted from the registry; it is never
// retried. Implementations must be safe for concurrent use, since heartbeats
// and fan-out may write from different goroutines.
type Sink interface {
	Write(p []byte) error
	Close() error
}

// ChanSink is a Sink backed by a channel, used by tests and by the in-process
// consumer of broadcastable activity feeds.
type ChanSink struct {
	C chan []byte

	mu     sync.Mutex
	closed bool
}

// NewChanSink returns a ChanSink with the given buffer size.
func NewChanSink(buffer int) *ChanSink {
	return &ChanSink{C: make(chan []byte, buffer)}
}

// Write delivers p to the channel, dropping it if the buffer is full.
func (s *ChanSink) Write(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSinkClosed
	}
	// Copy: the caller may reuse the buffer.
	chunk := make([]byte, len(p))
	copy(chunk, p)
	select {
	case s.C <- chunk:
		return nil
	default:
		return ErrSinkBackpressure
	}
}

// Close closes the channel. Idempotent.
func (s *ChanSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.C)
	return nil
}
