// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package config loads and validates the pipeline configuration from
// layered sources: built-in defaults, an optional YAML file, then
// environment variables, with later layers overriding earlier ones.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration for the pipeline.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Intake    IntakeConfig    `koanf:"intake"`
	RateLimit LimiterConfig   `koanf:"rate_limit"`
	Quota     LimiterConfig   `koanf:"quota"`
	Redis     RedisConfig     `koanf:"redis"`
	Lock      LockConfig      `koanf:"lock"`
	NATS      NATSConfig      `koanf:"nats"`
	Database  DatabaseConfig  `koanf:"database"`
	Pipeline  PipelineConfig  `koanf:"pipeline"`
	Geo       GeoConfig       `koanf:"geo"`
	Heartbeat HeartbeatConfig `koanf:"heartbeat"`
	Logging   LoggingConfig   `koanf:"logging"`
	Projects  []ProjectConfig `koanf:"projects"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// IntakeConfig bounds what the intake endpoints accept.
type IntakeConfig struct {
	// MaxBodyBytes caps the decompressed request body size.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`

	// MaxBatchEvents caps the number of events in one batch request.
	MaxBatchEvents int `koanf:"max_batch_events"`

	// ImportEventsPerSecond throttles the historical import endpoint so
	// backfills cannot starve live traffic. 0 disables the endpoint.
	ImportEventsPerSecond float64 `koanf:"import_events_per_second"`
	ImportBurst           int     `koanf:"import_burst"`
}

// LimiterConfig parameterizes one sliding-window limiter.
type LimiterConfig struct {
	Enabled       bool          `koanf:"enabled"`
	Window        time.Duration `koanf:"window"`
	Limit         int64         `koanf:"limit"`
	BlockDuration time.Duration `koanf:"block_duration"`
	FailOpen      bool          `koanf:"fail_open"`
}

// RedisConfig holds the shared key-value store connection settings. The
// store backs both limiters and the merge lock; when Addr is empty the
// pipeline falls back to in-process stores, which is only correct for
// single-instance deployments.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// LockConfig tunes the identity-merge lock.
type LockConfig struct {
	TTL           time.Duration `koanf:"ttl"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
}

// NATSConfig holds the durable queue settings.
type NATSConfig struct {
	URL            string        `koanf:"url"`
	EmbeddedServer bool          `koanf:"embedded_server"`
	StoreDir       string        `koanf:"store_dir"`
	MaxMemory      int64         `koanf:"max_memory"`
	MaxStore       int64         `koanf:"max_store"`
	StreamName     string        `koanf:"stream_name"`
	RetentionDays  int           `koanf:"stream_retention_days"`
	DurableName    string        `koanf:"durable_name"`
	QueueGroup     string        `koanf:"queue_group"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// DatabaseConfig holds the columnar store settings.
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// PipelineConfig tunes the consumer loop and batch writer.
type PipelineConfig struct {
	BatchSize     int           `koanf:"batch_size"`
	FlushInterval time.Duration `koanf:"flush_interval"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
	MaxRetryDelay time.Duration `koanf:"max_retry_delay"`
}

// GeoConfig holds the IP geolocation settings.
type GeoConfig struct {
	Enabled      bool   `koanf:"enabled"`
	DatabasePath string `koanf:"database_path"`
}

// HeartbeatConfig tunes the consumer liveness file.
type HeartbeatConfig struct {
	Path     string        `koanf:"path"`
	Interval time.Duration `koanf:"interval"`

	// Staleness is how long after the consumer's latest progress report
	// the periodic rewrite keeps running. Zero defaults to twice the
	// interval.
	Staleness time.Duration `koanf:"staleness"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// ProjectConfig registers one tenant and its intake credentials.
type ProjectConfig struct {
	ID     string `koanf:"id"`
	Name   string `koanf:"name"`
	APIKey string `koanf:"api_key"`
}

// Validate checks cross-field constraints that the type system cannot.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.Intake.MaxBodyBytes <= 0 {
		return fmt.Errorf("intake.max_body_bytes must be positive")
	}
	if c.Intake.MaxBatchEvents <= 0 {
		return fmt.Errorf("intake.max_batch_events must be positive")
	}

	for _, l := range []struct {
		name string
		cfg  LimiterConfig
	}{{"rate_limit", c.RateLimit}, {"quota", c.Quota}} {
		if !l.cfg.Enabled {
			continue
		}
		if l.cfg.Window <= 0 {
			return fmt.Errorf("%s.window must be positive", l.name)
		}
		if l.cfg.Limit <= 0 {
			return fmt.Errorf("%s.limit must be positive", l.name)
		}
		if l.cfg.BlockDuration <= 0 {
			return fmt.Errorf("%s.block_duration must be positive", l.name)
		}
	}

	if c.Lock.TTL <= 0 {
		return fmt.Errorf("lock.ttl must be positive")
	}
	if c.NATS.URL == "" && !c.NATS.EmbeddedServer {
		return fmt.Errorf("nats.url required when nats.embedded_server is false")
	}
	if c.NATS.StreamName == "" {
		return fmt.Errorf("nats.stream_name required")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path required")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("pipeline.batch_size must be positive")
	}
	if c.Pipeline.FlushInterval <= 0 {
		return fmt.Errorf("pipeline.flush_interval must be positive")
	}
	if c.Heartbeat.Path == "" {
		return fmt.Errorf("heartbeat.path required")
	}
	if c.Heartbeat.Interval <= 0 {
		return fmt.Errorf("heartbeat.interval must be positive")
	}
	if c.Heartbeat.Staleness != 0 && c.Heartbeat.Staleness < c.Heartbeat.Interval {
		return fmt.Errorf("heartbeat.staleness must be at least heartbeat.interval")
	}
	if c.Geo.Enabled && c.Geo.DatabasePath == "" {
		return fmt.Errorf("geo.database_path required when geo.enabled is true")
	}

	seen := make(map[string]struct{}, len(c.Projects))
	keys := make(map[string]struct{}, len(c.Projects))
	for i, p := range c.Projects {
		if p.ID == "" {
			return fmt.Errorf("projects[%d].id required", i)
		}
		if strings.ContainsAny(p.ID, " .*>") {
			return fmt.Errorf("projects[%d].id %q contains reserved characters", i, p.ID)
		}
		if p.APIKey == "" {
			return fmt.Errorf("projects[%d].api_key required", i)
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate project id %q", p.ID)
		}
		if _, dup := keys[p.APIKey]; dup {
			return fmt.Errorf("duplicate api key across projects (project id %q)", p.ID)
		}
		seen[p.ID] = struct{}{}
		keys[p.APIKey] = struct{}{}
	}

	return nil
}

// ServerAddr returns the host:port the HTTP server binds to.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
