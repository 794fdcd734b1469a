// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Command server runs the realtime event delivery service: the streaming
// and polling endpoints the branch-report frontend connects to, the
// broker-backed relay that coordinates instances, and the health and
// metrics surfaces.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/api"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/auth"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/config"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/logging"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/realtime"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/relay"
	"github.com/parkkyonghun0510/lc-opd-daily-sub009/internal/supervisor"
)

func main() {
	if err := run(); err != nil {
		logging.Fatal().Err(err).Msg("server exited")
	}
}

func run() error {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().
		Str("listen", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))).
		Str("broker", cfg.Broker.URL).
		Bool("embedded_broker", cfg.Broker.Embedded).
		Msg("starting realtime delivery service")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	brokerURL := cfg.Broker.URL
	if cfg.Broker.Embedded {
		embedded, err := relay.StartEmbeddedServer(relay.EmbeddedServerConfig{
			StoreDir: cfg.Broker.StoreDir,
		})
		if err != nil {
			return fmt.Errorf("start embedded broker: %w", err)
		}
		defer embedded.Shutdown()
		brokerURL = embedded.ClientURL()
		logging.Info().Str("url", brokerURL).Msg("embedded broker ready")
	}

	registry := realtime.NewRegistry()
	limiter := realtime.NewLimiter(realtime.LimiterConfig{
		MaxConnectionsPerUser: cfg.Realtime.MaxConnectionsPerUser,
		MaxConnectionsPerIP:   cfg.Realtime.MaxConnectionsPerIP,
		AttemptsPerWindow:     cfg.Realtime.AttemptsPerWindow,
		AttemptWindow:         cfg.Realtime.AttemptWindow,
	})

	// Streaming connections hold a limiter slot for their lifetime; the
	// registry removal hook is the single release point.
	registry.OnRemove(func(conn *realtime.Connection, _ string) {
		limiter.Release(conn.UserID, conn.Metadata.IP, realtime.CategorySSE)
	})

	rel := relay.New(relay.Config{
		URL:              brokerURL,
		Retention:        cfg.Broker.Retention,
		MaxEventsPerUser: cfg.Broker.MaxEventsPerUser,
		ConnectTimeout:   cfg.Broker.ConnectTimeout,
	}, registry)
	defer rel.Close()

	tracker := realtime.NewErrorTracker(cfg.Realtime.ErrorHistory)
	monitor := realtime.NewHealthMonitor(registry, rel, limiter, tracker)
	monitor.ErrorRateAlert = cfg.Realtime.ErrorRateAlert

	authenticator, err := auth.NewAuthenticator(cfg.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("configure authentication: %w", err)
	}

	heartbeat := realtime.NewHeartbeat(registry, cfg.Realtime.HeartbeatInterval)
	reaper := realtime.NewReaper(registry, realtime.ReaperConfig{
		Interval:          cfg.Realtime.ReaperInterval,
		InactivityTimeout: cfg.Realtime.InactivityTimeout,
		MaxLifetime:       cfg.Realtime.MaxLifetime,
	})

	handler := api.NewHandler(cfg, registry, rel, limiter, monitor, heartbeat, authenticator)

	// WriteTimeout stays zero: streaming responses are long-lived by
	// design, and slow sinks are handled by the registry and reaper.
	srv := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:     handler.Router(),
		ReadTimeout: cfg.Server.ReadTimeout,
	}

	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddDeliveryService(heartbeat)
	tree.AddDeliveryService(reaper)
	tree.AddAPIService(supervisor.NewHTTPService(srv, cfg.Server.ShutdownTimeout))

	errCh := tree.ServeBackground(ctx)
	logging.Info().Msg("service ready")

	select {
	case <-ctx.Done():
		logging.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil && !isContextEnd(err) {
			return fmt.Errorf("supervision tree failed: %w", err)
		}
	}

	stop()
	registry.CloseAll()

	if unstopped, err := tree.UnstoppedServiceReport(); err == nil && len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service missed shutdown timeout")
		}
	}
	logging.Info().Msg("shutdown complete")
	return nil
}

func isContextEnd(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
