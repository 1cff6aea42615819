// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaultConfig()

	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	if cfg.Server.Port != 8787 {
		t.Errorf("default port = %d; want 8787", cfg.Server.Port)
	}
	if cfg.RateLimit.FailOpen || cfg.Quota.FailOpen {
		t.Error("limiters must fail closed by default")
	}
	if !cfg.NATS.EmbeddedServer {
		t.Error("embedded NATS should be the default")
	}
	if cfg.Quota.Window <= cfg.RateLimit.Window {
		t.Error("quota window should be longer than the burst window")
	}
}

func TestLoad_FileAndEnvLayering(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	yaml := `
server:
  port: 9100
logging:
  level: debug
pipeline:
  batch_size: 250
projects:
  - id: proj_1
    name: Web App
    api_key: th_key_one
  - id: proj_2
    name: Mobile
    api_key: th_key_two
`
	if err := os.WriteFile(configPath, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("LOG_LEVEL", "warn") // env overrides the file
	t.Setenv("PIPELINE_FLUSH_INTERVAL", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9100 {
		t.Errorf("file should override default port: got %d", cfg.Server.Port)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("env should override file log level: got %q", cfg.Logging.Level)
	}
	if cfg.Pipeline.BatchSize != 250 {
		t.Errorf("batch size = %d; want 250 from file", cfg.Pipeline.BatchSize)
	}
	if cfg.Pipeline.FlushInterval != 2*time.Second {
		t.Errorf("flush interval = %v; want 2s from env", cfg.Pipeline.FlushInterval)
	}
	if cfg.Intake.MaxBatchEvents != 1000 {
		t.Errorf("untouched default changed: max_batch_events = %d", cfg.Intake.MaxBatchEvents)
	}
	if len(cfg.Projects) != 2 || cfg.Projects[1].APIKey != "th_key_two" {
		t.Errorf("projects not loaded from file: %+v", cfg.Projects)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port out of range", func(c *Config) { c.Server.Port = 0 }},
		{"zero body cap", func(c *Config) { c.Intake.MaxBodyBytes = 0 }},
		{"enabled limiter without window", func(c *Config) { c.RateLimit.Window = 0 }},
		{"enabled quota without limit", func(c *Config) { c.Quota.Limit = 0 }},
		{"zero lock ttl", func(c *Config) { c.Lock.TTL = 0 }},
		{"no nats url without embedded", func(c *Config) {
			c.NATS.URL = ""
			c.NATS.EmbeddedServer = false
		}},
		{"empty stream name", func(c *Config) { c.NATS.StreamName = "" }},
		{"empty database path", func(c *Config) { c.Database.Path = "" }},
		{"zero batch size", func(c *Config) { c.Pipeline.BatchSize = 0 }},
		{"empty heartbeat path", func(c *Config) { c.Heartbeat.Path = "" }},
		{"geo enabled without database", func(c *Config) { c.Geo.Enabled = true }},
		{"project without api key", func(c *Config) {
			c.Projects = []ProjectConfig{{ID: "p1"}}
		}},
		{"project id with subject wildcard", func(c *Config) {
			c.Projects = []ProjectConfig{{ID: "p.>", APIKey: "k"}}
		}},
		{"duplicate project ids", func(c *Config) {
			c.Projects = []ProjectConfig{
				{ID: "p1", APIKey: "k1"},
				{ID: "p1", APIKey: "k2"},
			}
		}},
		{"duplicate api keys", func(c *Config) {
			c.Projects = []ProjectConfig{
				{ID: "p1", APIKey: "same"},
				{ID: "p2", APIKey: "same"},
			}
		}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidate_DisabledLimiterSkipsChecks(t *testing.T) {
	cfg := defaultConfig()
	cfg.RateLimit = LimiterConfig{Enabled: false}
	cfg.Quota = LimiterConfig{Enabled: false}
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled limiters should not require window settings: %v", err)
	}
}

func TestServerAddr(t *testing.T) {
	cfg := defaultConfig()
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 9999
	if got := cfg.ServerAddr(); got != "127.0.0.1:9999" {
		t.Errorf("ServerAddr = %q", got)
	}
}
