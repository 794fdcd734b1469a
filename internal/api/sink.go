// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package api

import (
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
)

// streamSink adapts an http.ResponseWriter into the realtime.Sink
// capability handed to the registry. Every chunk is flushed immediately;
// Close wakes the owning handler so eviction by the reaper or the admin
// surface terminates the response promptly. Close must never wait on an
// in-flight Write: the underlying response write can stall on a dead
// client until the HTTP layer tears the connection down.
type streamSink struct {
	w       http.ResponseWriter
	flusher http.Flusher

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func newStreamSink(w http.ResponseWriter, flusher http.Flusher) *streamSink {
	return &streamSink{
		w:       w,
		flusher: flusher,
		done:    make(chan struct{}),
	}
}

// Write sends one protocol chunk and flushes it to the client.
func (s *streamSink) Write(p []byte) error {
	if s.closed.Load() {
		return realtime.ErrSinkClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.closed.Load() {
		return realtime.ErrSinkClosed
	}
	if _, err := s.w.Write(p); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Close marks the sink dead and unblocks the handler. Idempotent.
func (s *streamSink) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		close(s.done)
	})
	return nil
}

// Done is closed when the sink is no longer usable.
func (s *streamSink) Done() <-chan struct{} {
	return s.done
}
