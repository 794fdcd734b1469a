// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package realtime

import (
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestEncodeSSE(t *testing.T) {
	ev := Event{
		ID:        "1756080000000-abcd1234",
		Type:      "report-update",
		Data:      json.RawMessage(`{"reportId":"r1"}`),
		Timestamp: time.UnixMilli(1756080000000),
	}

	frame := string(EncodeSSE(ev, &SendOptions{Retry: 5 * time.Second}))

	lines := strings.Split(strings.TrimSuffix(frame, "\n\n"), "\n")
	want := []string{
		"event: report-update",
		"id: 1756080000000-abcd1234",
		"retry: 5000",
	}
	for i, w := range want {
		if lines[i] != w {
			t.Errorf("line %d = %q, want %q", i, lines[i], w)
		}
	}
	if !strings.HasPrefix(lines[3], "data: ") {
		t.Fatalf("line 3 = %q, want data field", lines[3])
	}
	if !strings.HasSuffix(frame, "\n\n") {
		t.Error("frame must end with a blank line")
	}

	var payload struct {
		ID        string          `json:"id"`
		Type      string          `json:"type"`
		Data      json.RawMessage `json:"data"`
		Timestamp int64           `json:"timestamp"`
	}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(lines[3], "data: ")), &payload); err != nil {
		t.Fatalf("data line is not valid JSON: %v", err)
	}
	if payload.ID != ev.ID || payload.Type != ev.Type || payload.Timestamp != 1756080000000 {
		t.Errorf("payload identity = %+v", payload)
	}
}

func TestEncodeSSEOmitsOptionalFields(t *testing.T) {
	ev := Event{ID: "x", Data: json.RawMessage(`{}`), Timestamp: time.Now()}
	frame := string(EncodeSSE(ev, nil))

	if strings.Contains(frame, "event:") {
		t.Error("empty type must not emit an event field")
	}
	if strings.Contains(frame, "retry:") {
		t.Error("nil options must not emit a retry field")
	}
}

func TestEncodeSSEEventIDOverride(t *testing.T) {
	ev := Event{ID: "original", Data: json.RawMessage(`{}`), Timestamp: time.Now()}
	frame := string(EncodeSSE(ev, &SendOptions{EventID: "override"}))
	if !strings.Contains(frame, "id: override") {
		t.Errorf("frame = %q, want id override", frame)
	}
}

// The data line must be a single line even when the payload was indented.
func TestEncodeSSECompactsData(t *testing.T) {
	ev := Event{
		ID:        "x",
		Type:      "notification",
		Data:      json.RawMessage("{\n  \"a\": 1\n}"),
		Timestamp: time.Now(),
	}
	frame := string(EncodeSSE(ev, nil))
	body := strings.TrimSuffix(frame, "\n\n")
	for _, line := range strings.Split(body, "\n")[2:] {
		if !strings.HasPrefix(line, "data: ") {
			t.Fatalf("payload spilled onto a bare line: %q", line)
		}
	}
	if strings.Count(body, "data: ") != 1 {
		t.Errorf("want exactly one data line, got %d", strings.Count(body, "data: "))
	}
}

func TestNewPollEnvelope(t *testing.T) {
	since := time.UnixMilli(1756080000000)
	events := []Event{
		{ID: "e1", Type: "notification", Data: json.RawMessage(`{}`), Timestamp: since.Add(time.Second)},
	}

	env := NewPollEnvelope("u1", since, events, 7, []string{"notification"}, false, 10*time.Second)

	if env.UserID != "u1" || env.Since != since.UnixMilli() {
		t.Errorf("envelope identity = %+v", env)
	}
	if env.Meta.Count != 1 || env.Meta.TotalBeforeFilter != 7 {
		t.Errorf("meta counts = %+v", env.Meta)
	}
	if env.Meta.NextPollMs != 10000 {
		t.Errorf("NextPollMs = %d, want 10000", env.Meta.NextPollMs)
	}

	empty := NewPollEnvelope("u1", since, nil, 0, nil, false, time.Second)
	raw, err := json.Marshal(empty)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"events":[]`) {
		t.Errorf("empty result must serialize as [], got %s", raw)
	}
}

func TestNewEventID(t *testing.T) {
	a := NewEventID()
	b := NewEventID()
	if a == b {
		t.Error("consecutive IDs collided")
	}
	if !strings.Contains(a, "-") {
		t.Errorf("ID %q missing timestamp prefix", a)
	}
}
