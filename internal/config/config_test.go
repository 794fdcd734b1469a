// LC Daily Realtime - Branch Report Event Delivery
// Copyright 2026 parkkyonghun0510
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/parkkyonghun0510/lc-opd-daily-sub009

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("LCRT_AUTH_JWT_SECRET", testSecret)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for explicit missing file")
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8085 {
		t.Errorf("Port = %d, want 8085", cfg.Server.Port)
	}
	if cfg.Broker.Retention != 30*time.Minute {
		t.Errorf("Retention = %s, want 30m", cfg.Broker.Retention)
	}
	if cfg.Realtime.MaxConnectionsPerUser != 3 {
		t.Errorf("MaxConnectionsPerUser = %d, want 3", cfg.Realtime.MaxConnectionsPerUser)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	t.Setenv("LCRT_AUTH_JWT_SECRET", testSecret)

	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := strings.Join([]string{
		"server:",
		"  port: 9999",
		"realtime:",
		"  poll_interval: 5s",
		"  max_connections_per_user: 7",
	}, "\n")
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Port = %d, want file override 9999", cfg.Server.Port)
	}
	if cfg.Realtime.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want 5s", cfg.Realtime.PollInterval)
	}
	if cfg.Realtime.MaxConnectionsPerUser != 7 {
		t.Errorf("MaxConnectionsPerUser = %d, want 7", cfg.Realtime.MaxConnectionsPerUser)
	}
	// Untouched fields keep their defaults.
	if cfg.Broker.MaxEventsPerUser != 100 {
		t.Errorf("MaxEventsPerUser = %d, want default 100", cfg.Broker.MaxEventsPerUser)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	t.Setenv("LCRT_AUTH_JWT_SECRET", testSecret)
	t.Setenv("LCRT_SERVER_PORT", "7777")
	t.Setenv("LCRT_BROKER_RETENTION", "1h")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7777 {
		t.Errorf("Port = %d, want env override 7777", cfg.Server.Port)
	}
	if cfg.Broker.Retention != time.Hour {
		t.Errorf("Retention = %s, want env override 1h", cfg.Broker.Retention)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"missing secret", map[string]string{}},
		{"short secret", map[string]string{"LCRT_AUTH_JWT_SECRET": "short"}},
		{"bad port", map[string]string{
			"LCRT_AUTH_JWT_SECRET": testSecret,
			"LCRT_SERVER_PORT":     "70000",
		}},
		{"inactivity above lifetime", map[string]string{
			"LCRT_AUTH_JWT_SECRET":             testSecret,
			"LCRT_REALTIME_INACTIVITY_TIMEOUT": "20m",
			"LCRT_REALTIME_MAX_LIFETIME":       "15m",
		}},
		{"retention below minimum", map[string]string{
			"LCRT_AUTH_JWT_SECRET":  testSecret,
			"LCRT_BROKER_RETENTION": "10s",
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(""); err == nil {
				t.Error("Load succeeded, want validation error")
			}
		})
	}
}

func TestEnvToKey(t *testing.T) {
	tests := []struct{ in, want string }{
		{"LCRT_SERVER_PORT", "server.port"},
		{"LCRT_REALTIME_MAX_CONNECTIONS_PER_USER", "realtime.max_connections_per_user"},
		{"LCRT_LOGGING_LEVEL", "logging.level"},
	}
	for _, tt := range tests {
		if got := envToKey(tt.in); got != tt.want {
			t.Errorf("envToKey(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
