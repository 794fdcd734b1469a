// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

// Package config loads service configuration in three layers: struct
// defaults, an optional YAML file, then environment variables with the
// LCRT_ prefix (LCRT_SERVER_PORT=8080 maps to server.port).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration object.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
	Auth     AuthConfig     `koanf:"auth"`
	Broker   BrokerConfig   `koanf:"broker"`
	Realtime RealtimeConfig `koanf:"realtime"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// CORSAllowedOrigins is empty by default, requiring explicit
	// configuration before browsers on other origins may connect.
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error fatal disabled"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// AuthConfig holds the JWT verification settings for the external identity
// collaborator. Tokens are issued elsewhere; this service only verifies.
type AuthConfig struct {
	JWTSecret string `koanf:"jwt_secret" validate:"required,min=32"`
}

// BrokerConfig holds relay and broker settings.
type BrokerConfig struct {
	URL            string        `koanf:"url"`
	Embedded       bool          `koanf:"embedded"`
	StoreDir       string        `koanf:"store_dir"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`

	// Retention is the visibility window for durable events.
	Retention        time.Duration `koanf:"retention"`
	MaxEventsPerUser int           `koanf:"max_events_per_user" validate:"min=1"`
}

// RealtimeConfig holds connection lifecycle and limiter policies.
type RealtimeConfig struct {
	HeartbeatInterval time.Duration `koanf:"heartbeat_interval"`
	ReaperInterval    time.Duration `koanf:"reaper_interval"`
	InactivityTimeout time.Duration `koanf:"inactivity_timeout"`
	MaxLifetime       time.Duration `koanf:"max_lifetime"`

	MaxConnectionsPerUser int           `koanf:"max_connections_per_user" validate:"min=1"`
	MaxConnectionsPerIP   int           `koanf:"max_connections_per_ip" validate:"min=1"`
	AttemptsPerWindow     int           `koanf:"attempts_per_window" validate:"min=1"`
	AttemptWindow         time.Duration `koanf:"attempt_window"`

	// HTTPRateRequests/Window feed the router-level rate limiting
	// middleware, independent of the connection limiter.
	HTTPRateRequests int           `koanf:"http_rate_requests" validate:"min=1"`
	HTTPRateWindow   time.Duration `koanf:"http_rate_window"`

	// PollInterval is the next-poll delay recommended to polling clients.
	PollInterval time.Duration `koanf:"poll_interval"`
	PollMaxLimit int           `koanf:"poll_max_limit" validate:"min=1"`

	// ErrorRateAlert degrades overall health above this request error rate.
	ErrorRateAlert float64 `koanf:"error_rate_alert"`
	ErrorHistory   int     `koanf:"error_history" validate:"min=1"`
}

// Default returns the reference configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8085,
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Auth: AuthConfig{
			JWTSecret: "",
		},
		Broker: BrokerConfig{
			URL:              "nats://127.0.0.1:4222",
			Embedded:         false,
			StoreDir:         "/data/nats/jetstream",
			ConnectTimeout:   5 * time.Second,
			Retention:        30 * time.Minute,
			MaxEventsPerUser: 100,
		},
		Realtime: RealtimeConfig{
			HeartbeatInterval:     30 * time.Second,
			ReaperInterval:        30 * time.Second,
			InactivityTimeout:     3 * time.Minute,
			MaxLifetime:           15 * time.Minute,
			MaxConnectionsPerUser: 3,
			MaxConnectionsPerIP:   10,
			AttemptsPerWindow:     5,
			AttemptWindow:         time.Minute,
			HTTPRateRequests:      100,
			HTTPRateWindow:        time.Minute,
			PollInterval:          10 * time.Second,
			PollMaxLimit:          50,
			ErrorRateAlert:        0.1,
			ErrorHistory:          100,
		},
	}
}

// Validate checks invariants the struct tags cannot express.
func (c *Config) Validate() error {
	if c.Realtime.InactivityTimeout >= c.Realtime.MaxLifetime {
		return fmt.Errorf("realtime.inactivity_timeout (%s) must be below realtime.max_lifetime (%s)",
			c.Realtime.InactivityTimeout, c.Realtime.MaxLifetime)
	}
	if c.Broker.Retention < time.Minute {
		return fmt.Errorf("broker.retention (%s) must be at least one minute", c.Broker.Retention)
	}
	return nil
}
