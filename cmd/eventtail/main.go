// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Command eventtail follows a user's realtime event feed from the terminal,
// using the same hybrid streaming/polling controller the frontend uses.
// Useful for smoke-testing a deployment:
//
//	eventtail -url http://localhost:8085 -token "$JWT"
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/sseclient"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8085", "service base URL")
	token := flag.String("token", "", "bearer token")
	logLevel := flag.String("log-level", "warn", "log level")
	flag.Parse()

	logging.Init(logging.Config{Level: *logLevel, Format: "console"})

	if *token == "" {
		fmt.Fprintln(os.Stderr, "eventtail: -token is required")
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c := sseclient.New(sseclient.Config{
		BaseURL: *baseURL,
		Token:   *token,
	})
	c.OnStateChange(func(s sseclient.State) {
		fmt.Fprintf(os.Stderr, "%s [state] %s\n", time.Now().Format(time.TimeOnly), s)
	})
	c.OnAny(func(ev sseclient.Event) {
		fmt.Printf("%s %-20s %s %s\n",
			time.UnixMilli(ev.Timestamp).Format(time.TimeOnly), ev.Type, ev.ID, ev.Data)
	})

	c.Start(ctx)
	defer c.Close()

	<-ctx.Done()
}
