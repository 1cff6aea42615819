// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/trackhouse/trackhouse/internal/config"
	"github.com/trackhouse/trackhouse/internal/metrics"
	"github.com/trackhouse/trackhouse/internal/models"
)

// Publisher writes accepted events to the durable queue. A circuit breaker
// sheds load fast when the broker is down so intake can report 503 instead
// of piling up blocked requests.
type Publisher struct {
	publisher  message.Publisher
	serializer *Serializer
	breaker    *gobreaker.CircuitBreaker[any]
	logger     watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// ErrQueueUnavailable is returned when the queue cannot accept events,
// either because the breaker is open or the broker rejected the publish.
var ErrQueueUnavailable = fmt.Errorf("event queue unavailable")

// NewPublisher creates a JetStream publisher with message ID tracking for
// server-side deduplication. The stream must already exist.
func NewPublisher(cfg *config.NATSConfig, url string, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NewStdLogger(false, false)
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.Timeout(cfg.ConnectTimeout),
		natsgo.DisconnectErrHandler(func(nc *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	wmConfig := wmNats.PublisherConfig{
		URL:         url,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			Disabled:      false,
			AutoProvision: false, // stream is pre-created by StreamManager
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}

	pub, err := wmNats.NewPublisher(wmConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        "queue-publish",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("Circuit breaker state change", watermill.LogFields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &Publisher{
		publisher:  pub,
		serializer: NewSerializer(),
		breaker:    breaker,
		logger:     logger,
	}, nil
}

// PublishEvent serializes an event and publishes it to its project subject.
// The event ID becomes the Nats-Msg-Id, so a client retry of the same
// request within the duplicate window stores only one copy.
func (p *Publisher) PublishEvent(ctx context.Context, ev *models.TrackedEvent) error {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return fmt.Errorf("publisher is closed")
	}
	p.mu.RUnlock()

	data, err := p.serializer.Marshal(ev)
	if err != nil {
		return fmt.Errorf("serialize event: %w", err)
	}

	msg := message.NewMessage(ev.EventID, data)
	msg.Metadata.Set(natsgo.MsgIdHdr, ev.EventID)
	msg.Metadata.Set("project_id", ev.ProjectID)
	msg.Metadata.Set("event_name", ev.EventName)

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.publisher.Publish(ev.Subject(), msg)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}

	metrics.QueuePublished.Inc()
	return nil
}

// Close shuts down the publisher.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
