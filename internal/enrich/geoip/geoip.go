// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package geoip resolves an event's IP context field to country/region/city.
// Loopback and private addresses short-circuit to an empty location without
// a provider lookup. Unknown IPs resolve to empty strings per field; partial
// results are valid, and a failed lookup never fails the enrichment path.
package geoip

import (
	"context"
	"net"

	"github.com/trackhouse/trackhouse/internal/logging"
	"github.com/trackhouse/trackhouse/internal/models"
)

// Provider performs the actual IP database or API lookup.
// Implementations may return a partial location together with an error;
// whatever fields resolved are kept.
type Provider interface {
	Lookup(ctx context.Context, ip string) (models.GeoLocation, error)
}

// Resolver wraps a Provider with the short-circuit rules.
type Resolver struct {
	provider Provider
}

// NewResolver creates a resolver. A nil provider yields empty locations for
// every public IP, which keeps the pipeline functional without a geo backend.
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Lookup resolves an IP to a location. It never returns an error: geo
// enrichment is best-effort and classification failures leave fields empty.
func (r *Resolver) Lookup(ctx context.Context, ip string) models.GeoLocation {
	if ip == "" {
		return models.GeoLocation{}
	}

	parsed := net.ParseIP(ip)
	if parsed == nil {
		return models.GeoLocation{}
	}

	// Loopback and private ranges have no meaningful geography.
	if parsed.IsLoopback() || parsed.IsPrivate() || parsed.IsLinkLocalUnicast() || parsed.IsUnspecified() {
		return models.GeoLocation{}
	}

	if r.provider == nil {
		return models.GeoLocation{}
	}

	loc, err := r.provider.Lookup(ctx, ip)
	if err != nil {
		// Keep whatever sub-fields resolved; an unknown IP is not an error
		// worth surfacing past debug level.
		logging.Debug().Str("ip", ip).Err(err).Msg("Geo lookup failed")
	}
	return loc
}
