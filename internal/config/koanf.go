// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists where config files are searched, in order.
// The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/trackhouse/config.yaml",
	"/etc/trackhouse/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the built-in defaults. These are applied first,
// then overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8787,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Intake: IntakeConfig{
			MaxBodyBytes:          20 << 20, // 20MB decompressed
			MaxBatchEvents:        1000,
			ImportEventsPerSecond: 500,
			ImportBurst:           1000,
		},
		RateLimit: LimiterConfig{
			Enabled:       true,
			Window:        time.Minute,
			Limit:         2400,
			BlockDuration: time.Minute,
			FailOpen:      false,
		},
		Quota: LimiterConfig{
			Enabled:       true,
			Window:        time.Hour,
			Limit:         100000,
			BlockDuration: 10 * time.Minute,
			FailOpen:      false,
		},
		Redis: RedisConfig{
			Addr:     "", // empty: in-process stores, single instance only
			Password: "",
			DB:       0,
		},
		Lock: LockConfig{
			TTL:           30 * time.Second,
			RetryAttempts: 5,
			RetryDelay:    100 * time.Millisecond,
		},
		NATS: NATSConfig{
			URL:            "nats://127.0.0.1:4222",
			EmbeddedServer: true,
			StoreDir:       "/data/nats/jetstream",
			MaxMemory:      1 << 30,  // 1GB
			MaxStore:       10 << 30, // 10GB
			StreamName:     "TRACKHOUSE",
			RetentionDays:  7,
			DurableName:    "event-processor",
			QueueGroup:     "processors",
			ConnectTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Path:      "/data/trackhouse.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = runtime.NumCPU()
		},
		Pipeline: PipelineConfig{
			BatchSize:     500,
			FlushInterval: 5 * time.Second,
			RetryAttempts: 5,
			RetryDelay:    time.Second,
			MaxRetryDelay: 30 * time.Second,
		},
		Geo: GeoConfig{
			Enabled:      false,
			DatabasePath: "",
		},
		Heartbeat: HeartbeatConfig{
			Path:      "/data/heartbeat",
			Interval:  10 * time.Second,
			Staleness: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath := findConfigFile()
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Transform env var names to koanf paths: HTTP_PORT -> server.port.
	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first config file that exists, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths lists paths parsed as comma-separated slices when they
// arrive as strings from the environment.
var sliceConfigPaths = []string{
	"server.cors_origins",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		if val == nil {
			continue
		}
		if _, ok := val.([]interface{}); ok {
			continue
		}
		if _, ok := val.([]string); ok {
			continue
		}
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envTransformFunc maps environment variable names to config paths.
// Unmapped variables return "" and are skipped, so unrelated environment
// variables cannot pollute the configuration.
func envTransformFunc(key string) string {
	key = strings.ToLower(key)

	envMappings := map[string]string{
		// Server
		"http_host":               "server.host",
		"http_port":               "server.port",
		"http_read_timeout":       "server.read_timeout",
		"http_write_timeout":      "server.write_timeout",
		"http_shutdown_timeout":   "server.shutdown_timeout",
		"cors_origins":            "server.cors_origins",

		// Intake
		"intake_max_body_bytes":    "intake.max_body_bytes",
		"intake_max_batch_events":  "intake.max_batch_events",
		"import_events_per_second": "intake.import_events_per_second",
		"import_burst":             "intake.import_burst",

		// Limiters
		"rate_limit_enabled":        "rate_limit.enabled",
		"rate_limit_window":         "rate_limit.window",
		"rate_limit_limit":          "rate_limit.limit",
		"rate_limit_block_duration": "rate_limit.block_duration",
		"rate_limit_fail_open":      "rate_limit.fail_open",
		"quota_enabled":             "quota.enabled",
		"quota_window":              "quota.window",
		"quota_limit":               "quota.limit",
		"quota_block_duration":      "quota.block_duration",
		"quota_fail_open":           "quota.fail_open",

		// Redis
		"redis_addr":     "redis.addr",
		"redis_password": "redis.password",
		"redis_db":       "redis.db",

		// Lock
		"lock_ttl":            "lock.ttl",
		"lock_retry_attempts": "lock.retry_attempts",
		"lock_retry_delay":    "lock.retry_delay",

		// NATS
		"nats_url":             "nats.url",
		"nats_embedded":        "nats.embedded_server",
		"nats_store_dir":       "nats.store_dir",
		"nats_max_memory":      "nats.max_memory",
		"nats_max_store":       "nats.max_store",
		"nats_stream_name":     "nats.stream_name",
		"nats_retention_days":  "nats.stream_retention_days",
		"nats_durable_name":    "nats.durable_name",
		"nats_queue_group":     "nats.queue_group",
		"nats_connect_timeout": "nats.connect_timeout",

		// Database
		"duckdb_path":       "database.path",
		"duckdb_max_memory": "database.max_memory",
		"duckdb_threads":    "database.threads",

		// Pipeline
		"pipeline_batch_size":      "pipeline.batch_size",
		"pipeline_flush_interval":  "pipeline.flush_interval",
		"pipeline_retry_attempts":  "pipeline.retry_attempts",
		"pipeline_retry_delay":     "pipeline.retry_delay",
		"pipeline_max_retry_delay": "pipeline.max_retry_delay",

		// Geo
		"geo_enabled":       "geo.enabled",
		"geo_database_path": "geo.database_path",

		// Heartbeat
		"heartbeat_path":      "heartbeat.path",
		"heartbeat_interval":  "heartbeat.interval",
		"heartbeat_staleness": "heartbeat.staleness",

		// Logging
		"log_level":  "logging.level",
		"log_format": "logging.format",
		"log_caller": "logging.caller",
	}

	if mapped, ok := envMappings[key]; ok {
		return mapped
	}
	return ""
}
