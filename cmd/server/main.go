// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	natsgo "github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/trackhouse/trackhouse/internal/config"
	"github.com/trackhouse/trackhouse/internal/database"
	"github.com/trackhouse/trackhouse/internal/enrich/geoip"
	"github.com/trackhouse/trackhouse/internal/heartbeat"
	"github.com/trackhouse/trackhouse/internal/identity"
	"github.com/trackhouse/trackhouse/internal/intake"
	"github.com/trackhouse/trackhouse/internal/lock"
	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/pipeline"
	"github.com/trackhouse/trackhouse/internal/queue"
	"github.com/trackhouse/trackhouse/internal/ratelimit"
	"github.com/trackhouse/trackhouse/internal/supervisor"
)

const queueDepthInterval = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("projects", len(cfg.Projects)).
		Bool("embedded_nats", cfg.NATS.EmbeddedServer).
		Msg("Starting Trackhouse")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Shared key-value store for the limiters and the merge lock. Without
	// Redis the in-process fallbacks apply, which is only correct when a
	// single instance runs.
	var (
		limiterStore ratelimit.AtomicCounterStore
		lockStore    lock.LockStore
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := client.Ping(pingCtx).Err(); err != nil {
			// Not fatal: the limiters resolve outages per their fail-open
			// policy, and the lock surfaces errors per merge.
			logging.Warn().Str("addr", cfg.Redis.Addr).Err(err).Msg("Redis unreachable at startup")
		}
		cancel()
		limiterStore = ratelimit.NewRedisStore(client)
		lockStore = lock.NewRedisStore(client)
	} else {
		logging.Warn().Msg("No Redis configured, using in-process limiter and lock stores (single instance only)")
		limiterStore = ratelimit.NewMemoryStore()
		lockStore = lock.NewMemoryStore()
	}

	var burst, quota *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		burst, err = ratelimit.New(limiterStore, ratelimit.Config{
			KeyPrefix:     "rate",
			Window:        cfg.RateLimit.Window,
			Limit:         cfg.RateLimit.Limit,
			BlockDuration: cfg.RateLimit.BlockDuration,
			FailOpen:      cfg.RateLimit.FailOpen,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create rate limiter")
		}
	}
	if cfg.Quota.Enabled {
		quota, err = ratelimit.New(limiterStore, ratelimit.Config{
			KeyPrefix:     "quota",
			Window:        cfg.Quota.Window,
			Limit:         cfg.Quota.Limit,
			BlockDuration: cfg.Quota.BlockDuration,
			FailOpen:      cfg.Quota.FailOpen,
		})
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create quota limiter")
		}
	}

	// Durable queue: embedded JetStream server unless an external URL is
	// configured.
	natsURL := cfg.NATS.URL
	if cfg.NATS.EmbeddedServer {
		embedded, err := queue.NewEmbeddedServer(&cfg.NATS)
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to start embedded NATS server")
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := embedded.Shutdown(shutdownCtx); err != nil {
				logging.Error().Err(err).Msg("Error shutting down embedded NATS server")
			}
		}()
		natsURL = embedded.ClientURL()
	}

	nc, err := natsgo.Connect(natsURL,
		natsgo.Timeout(cfg.NATS.ConnectTimeout),
		natsgo.MaxReconnects(-1),
	)
	if err != nil {
		logging.Fatal().Str("url", natsURL).Err(err).Msg("Failed to connect to NATS")
	}
	defer nc.Close()

	streamMgr, err := queue.NewStreamManager(nc, &cfg.NATS)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create stream manager")
	}
	if _, err := streamMgr.EnsureStream(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to ensure event stream")
	}

	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())
	publisher, err := queue.NewPublisher(&cfg.NATS, natsURL, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create queue publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing queue publisher")
		}
	}()

	subscriber, err := queue.NewSubscriber(&cfg.NATS, natsURL, wmLogger)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create queue subscriber")
	}
	defer func() {
		if err := subscriber.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing queue subscriber")
		}
	}()

	geoResolver := geoip.NewResolver(nil)
	if cfg.Geo.Enabled {
		provider, err := geoip.NewMaxMindProvider(cfg.Geo.DatabasePath)
		if err != nil {
			logging.Fatal().Str("path", cfg.Geo.DatabasePath).Err(err).Msg("Failed to open geo database")
		}
		defer provider.Close()
		geoResolver = geoip.NewResolver(provider)
		logging.Info().Str("path", cfg.Geo.DatabasePath).Msg("Geo enrichment enabled")
	}

	personResolver, err := identity.NewResolver(db, lockStore, identity.Config{
		Owner:         lockOwner(),
		LockTTL:       cfg.Lock.TTL,
		RetryAttempts: cfg.Lock.RetryAttempts,
		RetryDelay:    cfg.Lock.RetryDelay,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create identity resolver")
	}

	monitor, err := heartbeat.New(cfg.Heartbeat.Path, cfg.Heartbeat.Interval, cfg.Heartbeat.Staleness)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create heartbeat monitor")
	}

	writer, err := pipeline.NewWriter(db, cfg.Pipeline)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create batch writer")
	}
	consumer, err := pipeline.NewConsumer(subscriber, writer, geoResolver, personResolver, monitor,
		cfg.Pipeline.BatchSize, cfg.Pipeline.FlushInterval)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create consumer")
	}

	keyring := intake.NewKeyring(cfg.Projects)
	handler := intake.NewHandler(cfg.Intake, publisher, db, streamMgr, burst, quota)
	router := intake.NewRouter(handler, keyring, cfg.Server.CORSOrigins)

	tree := supervisor.NewTree(supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddPipelineService(supervisor.NewRunnerService("event-consumer", consumer))
	tree.AddPipelineService(supervisor.NewRunnerService("heartbeat", monitor))
	tree.AddPipelineService(supervisor.NewQueueDepthService(streamMgr, queueDepthInterval))
	tree.AddAPIService(supervisor.NewHTTPService(
		cfg.ServerAddr(), router,
		cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.ShutdownTimeout,
	))

	logging.Info().Str("addr", cfg.ServerAddr()).Msg("Trackhouse started")
	if err := tree.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Error().Err(err).Msg("Supervisor tree exited")
	}
	logging.Info().Msg("Shutdown complete")
}

// lockOwner returns a per-process identity for merge lock ownership.
func lockOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "trackhouse"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}
