// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package intake

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter assembles the intake HTTP surface.
//
//	/v1/track, /v1/batch, /v1/import  - authenticated event ingestion
//	/api/v1/health/*                  - liveness and readiness probes
//	/api/v1/stats                     - per-project counters
//	/metrics                          - Prometheus exposition
//
// The tenant limiters inside Handler do per-project admission; the
// httprate limiters here only shield the unauthenticated ops endpoints
// from abusive IPs.
func NewRouter(h *Handler, keyring *Keyring, corsOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	if len(corsOrigins) == 0 {
		corsOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Content-Encoding", APIKeyHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Route("/v1", func(r chi.Router) {
		// Decompression runs before auth: a body that cannot be inflated
		// is a client error regardless of the presented key.
		r.Use(DecompressGzip)
		r.Use(keyring.Authenticate)
		r.With(Instrument("track")).Post("/track", h.handleTrack)
		r.With(Instrument("batch")).Post("/batch", h.handleBatch)
		r.With(Instrument("import")).Post("/import", h.handleImport)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(120, time.Minute))
		r.Get("/health/live", h.handleHealthLive)
		r.Get("/health/ready", h.handleHealthReady)
		r.Get("/stats", h.handleStats)
	})

	r.Handle("/metrics", promhttp.Handler())

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	return r
}
