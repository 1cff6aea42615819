// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package supervisor

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
)

// Runner is a long-running component driven by a context. The queue
// consumer and the heartbeat monitor both satisfy it.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture.Service.
type RunnerService struct {
	name   string
	runner Runner
}

// NewRunnerService wraps a runner for supervision.
func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{name: name, runner: runner}
}

// Serve implements suture.Service.
func (s *RunnerService) Serve(ctx context.Context) error {
	return s.runner.Run(ctx)
}

func (s *RunnerService) String() string { return s.name }

// HTTPService runs the intake HTTP server under supervision. A fresh
// http.Server is built per Serve call: a server that has been shut down
// cannot listen again, and the supervisor may restart us.
type HTTPService struct {
	addr            string
	handler         http.Handler
	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

// NewHTTPService creates the supervised HTTP listener.
func NewHTTPService(addr string, handler http.Handler, readTimeout, writeTimeout, shutdownTimeout time.Duration) *HTTPService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPService{
		addr:            addr,
		handler:         handler,
		readTimeout:     readTimeout,
		writeTimeout:    writeTimeout,
		shutdownTimeout: shutdownTimeout,
	}
}

// Serve implements suture.Service. On context cancellation the server
// drains in-flight requests up to the shutdown timeout.
func (s *HTTPService) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.handler,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", s.addr).Msg("HTTP server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logging.Warn().Err(err).Msg("Forcing HTTP server close")
			_ = srv.Close()
		}
		<-errCh
		return ctx.Err()
	}
}

func (s *HTTPService) String() string { return "intake-http" }

// QueueDepthSource reports the number of messages pending in the stream.
type QueueDepthSource interface {
	Depth(ctx context.Context) (uint64, error)
}

// QueueDepthService polls the stream depth into the queue_depth gauge.
type QueueDepthService struct {
	source   QueueDepthSource
	interval time.Duration
}

// NewQueueDepthService creates the depth poller.
func NewQueueDepthService(source QueueDepthSource, interval time.Duration) *QueueDepthService {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &QueueDepthService{source: source, interval: interval}
}

// Serve implements suture.Service.
func (s *QueueDepthService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			depth, err := s.source.Depth(ctx)
			if err != nil {
				logging.Debug().Err(err).Msg("Queue depth poll failed")
				continue
			}
			metrics.UpdateQueueDepth(int64(depth))
		}
	}
}

func (s *QueueDepthService) String() string { return "queue-depth" }
