// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package sseclient

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestParserSingleFrame(t *testing.T) {
	input := "event: report-update\nid: e1\nretry: 5000\ndata: {\"a\":1}\n\n"
	p := newParser(strings.NewReader(input))

	f, err := p.next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if f.Event != "report-update" || f.ID != "e1" || f.Data != `{"a":1}` {
		t.Errorf("frame = %+v", f)
	}
	if f.Retry != 5*time.Second {
		t.Errorf("Retry = %s, want 5s", f.Retry)
	}

	if _, err := p.next(); !errors.Is(err, io.EOF) {
		t.Errorf("after stream end: %v, want EOF", err)
	}
}

func TestParserMultipleFrames(t *testing.T) {
	input := "event: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	p := newParser(strings.NewReader(input))

	first, err := p.next()
	if err != nil || first.Event != "a" || first.Data != "1" {
		t.Fatalf("first = %+v, %v", first, err)
	}
	second, err := p.next()
	if err != nil || second.Event != "b" || second.Data != "2" {
		t.Fatalf("second = %+v, %v", second, err)
	}
}

func TestParserMultilineData(t *testing.T) {
	input := "data: line1\ndata: line2\n\n"
	f, err := newParser(strings.NewReader(input)).next()
	if err != nil {
		t.Fatal(err)
	}
	if f.Data != "line1\nline2" {
		t.Errorf("Data = %q", f.Data)
	}
}

func TestParserSkipsCommentsAndBlankBlocks(t *testing.T) {
	input := ": keepalive\n\n: another\n\nevent: real\ndata: x\n\n"
	f, err := newParser(strings.NewReader(input)).next()
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != "real" {
		t.Errorf("Event = %q, want real (comments skipped)", f.Event)
	}
}

func TestParserNoSpaceAfterColon(t *testing.T) {
	input := "event:tight\ndata:{\"b\":2}\n\n"
	f, err := newParser(strings.NewReader(input)).next()
	if err != nil {
		t.Fatal(err)
	}
	if f.Event != "tight" || f.Data != `{"b":2}` {
		t.Errorf("frame = %+v", f)
	}
}

// A retry hint persists for frames that follow it.
func TestParserRetryPersists(t *testing.T) {
	input := "retry: 3000\nevent: a\ndata: 1\n\nevent: b\ndata: 2\n\n"
	p := newParser(strings.NewReader(input))

	first, _ := p.next()
	second, _ := p.next()
	if first.Retry != 3*time.Second || second.Retry != 3*time.Second {
		t.Errorf("retries = %s, %s, want 3s on both", first.Retry, second.Retry)
	}
}
