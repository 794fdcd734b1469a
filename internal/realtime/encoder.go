// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"bytes"
	"strconv"
	"time"

	"github.com/goccy/go-json"
)

// EncodeSSE renders an event as one text/event-stream block:
//
//	event: report-update
//	id: 1756080000000-1a2b3c4d
//	retry: 5000
//	data: {"reportId":"r1"}
//
// terminated by a blank line. Optional fields are emitted only when present.
// The data line is compact JSON, so embedded newlines cannot occur.
func EncodeSSE(ev Event, opts *SendOptions) []byte {
	var buf bytes.Buffer

	if ev.Type != "" {
		buf.WriteString("event: ")
		buf.WriteString(ev.Type)
		buf.WriteByte('\n')
	}

	id := ev.ID
	if opts != nil && opts.EventID != "" {
		id = opts.EventID
	}
	if id != "" {
		buf.WriteString("id: ")
		buf.WriteString(id)
		buf.WriteByte('\n')
	}

	if opts != nil && opts.Retry > 0 {
		buf.WriteString("retry: ")
		buf.WriteString(strconv.FormatInt(opts.Retry.Milliseconds(), 10))
		buf.WriteByte('\n')
	}

	buf.WriteString("data: ")
	payload := compactJSON(wirePayload(ev))
	buf.Write(payload)
	buf.WriteString("\n\n")

	return buf.Bytes()
}

// wirePayload is what goes on the data line. The payload is the event data
// wrapped with identity fields so consumers can deduplicate without parsing
// protocol framing.
func wirePayload(ev Event) []byte {
	envelope := struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}{
		ID:        ev.ID,
		Type:      ev.Type,
		Data:      ev.Data,
		Timestamp: ev.Timestamp.UnixMilli(),
	}
	raw, err := json.Marshal(envelope)
	if err != nil {
		// Event.Data is already validated JSON; this cannot fail in practice.
		return []byte(`{}`)
	}
	return raw
}

// compactJSON strips whitespace, including any newlines, from raw JSON.
func compactJSON(raw []byte) []byte {
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return raw
	}
	return buf.Bytes()
}

// PollMeta describes the result set of a polling catch-up response.
type PollMeta struct {
	Count             int      `json:"count"`
	TotalBeforeFilter int      `json:"totalBeforeFilter"`
	TypesFilter       []string `json:"typesFilter,omitempty"`
	IncludeExpired    bool     `json:"includeExpired"`
	NextPollMs        int64    `json:"nextPollMs"`
}

// PollEnvelope is the JSON body returned by the polling endpoint. It is the
// transport-equivalent of a batch of SSE blocks.
type PollEnvelope struct {
	UserID    string  `json:"userId"`
	Timestamp int64   `json:"timestamp"`
	Since     int64   `json:"since"`
	Events    []Event `json:"events"`
	Meta      PollMeta `json:"meta"`
}

// NewPollEnvelope assembles a polling response. events must already be
// retention-filtered and ordered by publish time; totalBeforeFilter is the
// count before the type filter and limit were applied.
func NewPollEnvelope(userID string, since time.Time, events []Event, totalBeforeFilter int, typesFilter []string, includeExpired bool, nextPoll time.Duration) PollEnvelope {
	if events == nil {
		events = []Event{}
	}
	return PollEnvelope{
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
		Since:     since.UnixMilli(),
		Events:    events,
		Meta: PollMeta{
			Count:             len(events),
			TotalBeforeFilter: totalBeforeFilter,
			TypesFilter:       typesFilter,
			IncludeExpired:    includeExpired,
			NextPollMs:        nextPoll.Milliseconds(),
		},
	}
}
