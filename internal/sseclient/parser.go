// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package sseclient

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// frame is one parsed text/event-stream block.
type frame struct {
	Event string
	ID    string
	Data  string
	Retry time.Duration
}

// parser reads text/event-stream blocks incrementally from a stream. It
// tolerates comment lines, multi-line data fields and both "field:value"
// and "field: value" spacing.
type parser struct {
	scanner *bufio.Scanner

	// lastRetry remembers the most recent retry hint from the server; it
	// survives across frames.
	lastRetry time.Duration
}

func newParser(r io.Reader) *parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 512*1024)
	return &parser{scanner: sc}
}

// next blocks until a complete frame arrives or the stream ends. A frame
// with no data is skipped (heartbeat comments produce these).
func (p *parser) next() (frame, error) {
	var f frame
	var data []string
	seen := false

	for p.scanner.Scan() {
		line := p.scanner.Text()

		if line == "" {
			if !seen {
				continue
			}
			f.Data = strings.Join(data, "\n")
			f.Retry = p.lastRetry
			return f, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			f.Event = value
			seen = true
		case "id":
			f.ID = value
			seen = true
		case "data":
			data = append(data, value)
			seen = true
		case "retry":
			if ms, err := strconv.ParseInt(value, 10, 64); err == nil && ms > 0 {
				p.lastRetry = time.Duration(ms) * time.Millisecond
			}
		}
	}

	if err := p.scanner.Err(); err != nil {
		return frame{}, err
	}
	return frame{}, io.EOF
}

func splitField(line string) (field, value string) {
	field, value, found := strings.Cut(line, ":")
	if !found {
		return line, ""
	}
	return field, strings.TrimPrefix(value, " ")
}
