// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package main is the entry point for the Trackhouse server.
//
// Trackhouse is a self-hosted product analytics pipeline: SDKs post events
// to the intake API, accepted events are persisted to an embedded NATS
// JetStream queue, and a supervised consumer enriches them (geolocation,
// property type inference, identity resolution) before batch-writing to
// DuckDB.
//
// # Startup order
//
//  1. Configuration: koanf layering of defaults, YAML file, environment
//  2. DuckDB: schema creation and connection pool
//  3. Redis (optional): shared store for limiters and the merge lock
//  4. NATS: embedded JetStream server unless an external URL is set
//  5. Supervisor tree: consumer, heartbeat, depth poller, HTTP server
//
// # Signal handling
//
// SIGINT and SIGTERM cancel the root context: the HTTP server drains
// in-flight requests, the consumer flushes its pending batch, and unacked
// messages stay in the stream for redelivery on the next start.
package main
