// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/trackhouse/trackhouse/internal/models"
)

// ErrPersonNotFound is returned when a person lookup misses.
var ErrPersonNotFound = errors.New("person not found")

// ResolvePersonID returns the person owning a distinct ID, creating a new
// person and mapping on first sight. Safe under concurrent resolution of
// the same distinct ID: the mapping insert is ON CONFLICT DO NOTHING, and
// losers of the race re-read the winner's mapping.
func (db *DB) ResolvePersonID(ctx context.Context, projectID, distinctID string) (string, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	if id, err := db.lookupPersonID(ctx, projectID, distinctID); err == nil {
		return id, nil
	} else if !errors.Is(err, ErrPersonNotFound) {
		return "", err
	}

	personID := uuid.New().String()
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin person transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO persons (id, project_id, properties) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		personID, projectID, "{}",
	); err != nil {
		return "", fmt.Errorf("failed to create person: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO person_distinct_ids (project_id, distinct_id, person_id) VALUES (?, ?, ?) ON CONFLICT DO NOTHING`,
		projectID, distinctID, personID,
	)
	if err != nil {
		return "", fmt.Errorf("failed to map distinct id: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Lost the race: another writer mapped this distinct ID first. Drop
		// our orphan person and use theirs.
		if _, err := tx.ExecContext(ctx, `DELETE FROM persons WHERE id = ?`, personID); err != nil {
			return "", fmt.Errorf("failed to remove orphan person: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return "", fmt.Errorf("failed to commit person transaction: %w", err)
		}
		return db.lookupPersonID(ctx, projectID, distinctID)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit person transaction: %w", err)
	}
	return personID, nil
}

func (db *DB) lookupPersonID(ctx context.Context, projectID, distinctID string) (string, error) {
	var id string
	err := db.conn.QueryRowContext(ctx,
		`SELECT person_id FROM person_distinct_ids WHERE project_id = ? AND distinct_id = ?`,
		projectID, distinctID,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrPersonNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to look up person: %w", err)
	}
	return id, nil
}

// GetPerson loads a person with its distinct IDs.
func (db *DB) GetPerson(ctx context.Context, projectID, personID string) (*models.Person, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var propsJSON string
	var createdAt time.Time
	err := db.conn.QueryRowContext(ctx,
		`SELECT properties, created_at FROM persons WHERE project_id = ? AND id = ?`,
		projectID, personID,
	).Scan(&propsJSON, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPersonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load person %s: %w", personID, err)
	}

	props := make(map[string]any)
	if propsJSON != "" {
		if err := json.Unmarshal([]byte(propsJSON), &props); err != nil {
			return nil, fmt.Errorf("failed to decode person properties: %w", err)
		}
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT distinct_id FROM person_distinct_ids WHERE project_id = ? AND person_id = ? ORDER BY distinct_id`,
		projectID, personID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load distinct ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var distinctIDs []string
	for rows.Next() {
		var d string
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan distinct id: %w", err)
		}
		distinctIDs = append(distinctIDs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate distinct ids: %w", err)
	}

	return &models.Person{
		ID:          personID,
		ProjectID:   projectID,
		Properties:  props,
		CreatedAt:   createdAt,
		DistinctIDs: distinctIDs,
	}, nil
}

// UpdatePersonProperties replaces a person's property document.
func (db *DB) UpdatePersonProperties(ctx context.Context, projectID, personID string, properties map[string]any) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	propsJSON, err := json.Marshal(properties)
	if err != nil {
		return fmt.Errorf("failed to marshal person properties: %w", err)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE persons SET properties = ? WHERE project_id = ? AND id = ?`,
		string(propsJSON), projectID, personID,
	)
	if err != nil {
		return fmt.Errorf("failed to update person %s: %w", personID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrPersonNotFound
	}
	return nil
}

// TransferPerson moves everything owned by fromPersonID to intoPersonID and
// deletes the source person: distinct ID mappings, stored events, then the
// person row. Each statement is idempotent, so a retried transfer after a
// partial failure converges on the same end state.
func (db *DB) TransferPerson(ctx context.Context, projectID, fromPersonID, intoPersonID string) error {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transfer transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE person_distinct_ids SET person_id = ? WHERE project_id = ? AND person_id = ?`,
		intoPersonID, projectID, fromPersonID,
	); err != nil {
		return fmt.Errorf("failed to move distinct ids: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE events SET person_id = ? WHERE project_id = ? AND person_id = ?`,
		intoPersonID, projectID, fromPersonID,
	); err != nil {
		return fmt.Errorf("failed to reassign events: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM persons WHERE project_id = ? AND id = ?`,
		projectID, fromPersonID,
	); err != nil {
		return fmt.Errorf("failed to delete merged person: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer: %w", err)
	}
	return nil
}

// PersonCount returns the number of persons for a project, or across all
// projects when projectID is empty.
func (db *DB) PersonCount(ctx context.Context, projectID string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	var err error
	if projectID == "" {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons`).Scan(&count)
	} else {
		err = db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM persons WHERE project_id = ?`, projectID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count persons: %w", err)
	}
	return count, nil
}
