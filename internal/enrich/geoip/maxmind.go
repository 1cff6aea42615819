// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package geoip

import (
	"context"
	"fmt"
	"net"

	"github.com/oschwald/maxminddb-golang"

	"github.com/trackhouse/trackhouse/internal/models"
)

// MaxMindProvider resolves IPs against a local MaxMind GeoLite2/GeoIP2
// City database file. Lookups are in-process and safe for concurrent use.
type MaxMindProvider struct {
	reader *maxminddb.Reader
}

// mmdbRecord maps only the fields the pipeline stores.
type mmdbRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
	City struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"city"`
	Subdivisions []struct {
		Names map[string]string `maxminddb:"names"`
	} `maxminddb:"subdivisions"`
}

// NewMaxMindProvider opens the database file at path.
func NewMaxMindProvider(path string) (*MaxMindProvider, error) {
	reader, err := maxminddb.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geo database: %w", err)
	}
	return &MaxMindProvider{reader: reader}, nil
}

// Lookup resolves one IP. An IP absent from the database yields an empty
// location without error; the database simply has no row for it.
func (p *MaxMindProvider) Lookup(_ context.Context, ip string) (models.GeoLocation, error) {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return models.GeoLocation{}, fmt.Errorf("invalid ip %q", ip)
	}

	var rec mmdbRecord
	if err := p.reader.Lookup(parsed, &rec); err != nil {
		return models.GeoLocation{}, fmt.Errorf("geo database lookup: %w", err)
	}

	loc := models.GeoLocation{
		Country: rec.Country.ISOCode,
		City:    rec.City.Names["en"],
	}
	if len(rec.Subdivisions) > 0 {
		loc.Region = rec.Subdivisions[0].Names["en"]
	}
	return loc, nil
}

// Close releases the database mapping.
func (p *MaxMindProvider) Close() error {
	return p.reader.Close()
}
