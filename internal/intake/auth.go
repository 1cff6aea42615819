// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package intake

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net/http"

	"github.com/trackhouse/trackhouse/internal/config"
)

// APIKeyHeader carries the project credential on intake requests.
const APIKeyHeader = "X-API-Key"

type contextKey int

const projectIDKey contextKey = iota

// Keyring maps API keys to project IDs. Keys are stored as SHA-256
// digests and compared in constant time, so neither the config struct in
// a heap dump nor the comparison itself leaks key material.
type Keyring struct {
	entries []keyringEntry
}

type keyringEntry struct {
	digest    [sha256.Size]byte
	projectID string
}

// NewKeyring builds a keyring from the configured projects.
func NewKeyring(projects []config.ProjectConfig) *Keyring {
	entries := make([]keyringEntry, 0, len(projects))
	for _, p := range projects {
		entries = append(entries, keyringEntry{
			digest:    sha256.Sum256([]byte(p.APIKey)),
			projectID: p.ID,
		})
	}
	return &Keyring{entries: entries}
}

// Lookup resolves an API key to its project ID. The scan is linear over
// all projects regardless of where (or whether) the key matches.
func (k *Keyring) Lookup(apiKey string) (string, bool) {
	digest := sha256.Sum256([]byte(apiKey))
	projectID := ""
	found := false
	for _, e := range k.entries {
		if subtle.ConstantTimeCompare(digest[:], e.digest[:]) == 1 {
			projectID = e.projectID
			found = true
		}
	}
	return projectID, found
}

// Authenticate resolves the tenant from the API key header and rejects
// requests that carry no valid key.
func (k *Keyring) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get(APIKeyHeader)
		if apiKey == "" {
			writeError(w, http.StatusUnauthorized, "missing API key")
			return
		}
		projectID, ok := k.Lookup(apiKey)
		if !ok {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
		ctx := context.WithValue(r.Context(), projectIDKey, projectID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ProjectID returns the authenticated project for the request, or "".
func ProjectID(ctx context.Context) string {
	id, _ := ctx.Value(projectIDKey).(string)
	return id
}
