// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package identity resolves distinct IDs to persons and applies identity
// merges. Merges are serialized across pipeline instances with a
// distributed lock scoped to the surviving person, and every step is
// idempotent so a redelivered $identify event converges instead of
// corrupting state.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/trackhouse/trackhouse/internal/database"
	"github.com/trackhouse/trackhouse/internal/lock"
	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/metrics"
	"github.com/trackhouse/trackhouse/internal/models"
)

// PersonStore is the subset of the database the resolver needs.
type PersonStore interface {
	ResolvePersonID(ctx context.Context, projectID, distinctID string) (string, error)
	GetPerson(ctx context.Context, projectID, personID string) (*models.Person, error)
	UpdatePersonProperties(ctx context.Context, projectID, personID string, properties map[string]any) error
	TransferPerson(ctx context.Context, projectID, fromPersonID, intoPersonID string) error
}

// Config tunes lock acquisition for merges.
type Config struct {
	// Owner identifies this pipeline instance in lock entries.
	Owner string

	// LockTTL bounds how long a crashed holder can stall merges.
	LockTTL time.Duration

	// RetryAttempts and RetryDelay govern lock contention backoff.
	RetryAttempts int
	RetryDelay    time.Duration
}

// Resolver maps events to persons and executes merges.
type Resolver struct {
	store PersonStore
	locks lock.LockStore
	cfg   Config
}

// NewResolver creates a resolver.
func NewResolver(store PersonStore, locks lock.LockStore, cfg Config) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("person store required")
	}
	if locks == nil {
		return nil, fmt.Errorf("lock store required")
	}
	if cfg.Owner == "" {
		return nil, fmt.Errorf("owner required")
	}
	if cfg.LockTTL <= 0 {
		return nil, fmt.Errorf("lock ttl must be positive")
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 100 * time.Millisecond
	}
	return &Resolver{store: store, locks: locks, cfg: cfg}, nil
}

// Resolve assigns the event its canonical person ID, executing the merge
// first when the event is an $identify linking two identities.
func (r *Resolver) Resolve(ctx context.Context, ev *models.TrackedEvent) error {
	if ev.IsIdentify() {
		if err := r.merge(ctx, ev.ProjectID, ev.AnonymousID, ev.DistinctID); err != nil {
			return fmt.Errorf("identity merge for event %s: %w", ev.EventID, err)
		}
	}

	personID, err := r.store.ResolvePersonID(ctx, ev.ProjectID, ev.DistinctID)
	if err != nil {
		return fmt.Errorf("resolve person for event %s: %w", ev.EventID, err)
	}
	ev.PersonID = personID

	if len(ev.UserProperties) > 0 {
		if err := r.applyUserProperties(ctx, ev.ProjectID, personID, ev.UserProperties); err != nil {
			return fmt.Errorf("apply user properties for event %s: %w", ev.EventID, err)
		}
	}
	return nil
}

// merge folds the anonymous identity's person into the canonical
// identity's person. The person behind distinctID survives.
func (r *Resolver) merge(ctx context.Context, projectID, anonymousID, distinctID string) error {
	fromID, err := r.store.ResolvePersonID(ctx, projectID, anonymousID)
	if err != nil {
		return fmt.Errorf("resolve anonymous identity: %w", err)
	}
	intoID, err := r.store.ResolvePersonID(ctx, projectID, distinctID)
	if err != nil {
		return fmt.Errorf("resolve canonical identity: %w", err)
	}
	if fromID == intoID {
		// Already merged, or both distinct IDs landed on the same person
		// at creation. Nothing to do.
		return nil
	}

	// The lock is scoped to the surviving person: concurrent merges into
	// the same target serialize, merges into different targets proceed in
	// parallel.
	mutex, err := lock.NewMutex(r.locks, mergeLockKey(projectID, intoID), r.cfg.Owner, r.cfg.LockTTL)
	if err != nil {
		return err
	}
	if err := r.acquireWithRetry(ctx, mutex); err != nil {
		return err
	}
	defer func() {
		if err := mutex.Release(ctx); err != nil {
			logging.Warn().Str("project_id", projectID).Err(err).Msg("Failed to release merge lock")
		}
	}()

	from, err := r.store.GetPerson(ctx, projectID, fromID)
	if errors.Is(err, database.ErrPersonNotFound) {
		// Another instance completed this merge between our resolve and
		// lock acquisition.
		return nil
	}
	if err != nil {
		return fmt.Errorf("load merging person: %w", err)
	}
	into, err := r.store.GetPerson(ctx, projectID, intoID)
	if err != nil {
		return fmt.Errorf("load surviving person: %w", err)
	}

	into.MergeProperties(from.Properties)
	if err := r.store.UpdatePersonProperties(ctx, projectID, intoID, into.Properties); err != nil {
		return fmt.Errorf("write merged properties: %w", err)
	}
	if err := r.store.TransferPerson(ctx, projectID, fromID, intoID); err != nil {
		return fmt.Errorf("transfer person: %w", err)
	}

	metrics.MergesApplied.Inc()
	logging.Debug().
		Str("project_id", projectID).
		Str("from_person", fromID).
		Str("into_person", intoID).
		Msg("Identity merge applied")
	return nil
}

// applyUserProperties folds event-carried user properties into the person.
// Existing person values win, matching merge semantics.
func (r *Resolver) applyUserProperties(ctx context.Context, projectID, personID string, props map[string]any) error {
	person, err := r.store.GetPerson(ctx, projectID, personID)
	if err != nil {
		return fmt.Errorf("load person: %w", err)
	}
	before := len(person.Properties)
	person.MergeProperties(props)
	if len(person.Properties) == before {
		return nil
	}
	return r.store.UpdatePersonProperties(ctx, projectID, personID, person.Properties)
}

func (r *Resolver) acquireWithRetry(ctx context.Context, mutex *lock.Mutex) error {
	for attempt := 0; attempt < r.cfg.RetryAttempts; attempt++ {
		ok, err := mutex.Acquire(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		metrics.MergeLockContention.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.cfg.RetryDelay * time.Duration(attempt+1)):
		}
	}
	return fmt.Errorf("merge lock contended after %d attempts", r.cfg.RetryAttempts)
}

func mergeLockKey(projectID, intoPersonID string) string {
	return "merge:" + projectID + ":" + intoPersonID
}
