// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

// Package proptypes classifies a property value's semantic type from name
// and value heuristics. Classification is pure, deterministic, and cheap:
// it never blocks or fails the ingestion path. A value that cannot be
// classified is left undetermined rather than guessed.
//
// The precedence rules are an ordered list of (predicate, type) pairs
// evaluated top to bottom, first match wins:
//
//  1. Name-based hard overrides (campaign/feature-flag/survey keys) -> String
//  2. Timestamp-suggesting name + date-shaped value -> DateTime
//  3. Value shape: bool, number, "true"/"false", date string, numeric string
//  4. null, arrays, objects -> undetermined
package proptypes

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/trackhouse/trackhouse/internal/models"
)

// stringOverridePrefixes force String regardless of value shape. Campaign
// parameters and feature-flag payloads are always treated as opaque strings.
var stringOverridePrefixes = []string{
	"utm_",
	"$initial_utm_",
	"$feature/",
	"$survey_response",
}

// stringOverrideExact keys force String regardless of value shape.
var stringOverrideExact = map[string]struct{}{
	"$feature_flag_response": {},
}

// timestampKeywords suggest a property holds a point in time.
var timestampKeywords = []string{
	"time",
	"timestamp",
	"date",
	"_at",
	"-at",
	"createdat",
	"updatedat",
}

var (
	// isoDatePattern matches ISO-like dates: 2024-01-15, 2024-01-15T10:30:00Z,
	// 2024-01-15 10:30:00.123+02:00.
	isoDatePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}([T ]\d{2}:\d{2}(:\d{2}(\.\d+)?)?(Z|[+-]\d{2}:?\d{2})?)?$`)

	// slashDatePattern matches common slash-separated dates: 01/15/2024, 2024/01/15.
	slashDatePattern = regexp.MustCompile(`^(\d{2}/\d{2}/\d{4}|\d{4}/\d{2}/\d{2})([T ]\d{2}:\d{2}(:\d{2})?)?$`)
)

// Unix-timestamp plausibility window relative to "now".
const (
	plausiblePast   = 6 * 30 * 24 * time.Hour // six months back
	plausibleFuture = 10 * 365 * 24 * time.Hour
)

// DetectValueType classifies a property value. The returned bool is false
// when the type is left undetermined (null, arrays, objects).
func DetectValueType(key string, value any) (models.PropertyType, bool) {
	return detectValueTypeAt(key, value, time.Now())
}

// detectValueTypeAt is the clock-injected implementation backing
// DetectValueType. The precedence list lives here.
func detectValueTypeAt(key string, value any, now time.Time) (models.PropertyType, bool) {
	if hasStringOverride(key) {
		return models.PropertyTypeString, true
	}

	if nameSuggestsTimestamp(key) {
		if s, ok := asString(value); ok && isDateString(s) {
			return models.PropertyTypeDateTime, true
		}
		if n, ok := asNumber(value); ok && isPlausibleUnixTimestamp(n, now) {
			return models.PropertyTypeDateTime, true
		}
	}

	switch {
	case isBool(value):
		return models.PropertyTypeBoolean, true
	case isNumber(value):
		return models.PropertyTypeNumeric, true
	}

	if s, ok := asString(value); ok {
		switch {
		case strings.EqualFold(s, "true"), strings.EqualFold(s, "false"):
			return models.PropertyTypeBoolean, true
		case isDateString(s):
			return models.PropertyTypeDateTime, true
		case isNumericString(s):
			return models.PropertyTypeNumeric, true
		default:
			return models.PropertyTypeString, true
		}
	}

	// null, arrays, objects: type left undetermined, never guessed
	return "", false
}

func hasStringOverride(key string) bool {
	if _, ok := stringOverrideExact[key]; ok {
		return true
	}
	for _, prefix := range stringOverridePrefixes {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}

func nameSuggestsTimestamp(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range timestampKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

func isDateString(s string) bool {
	return isoDatePattern.MatchString(s) || slashDatePattern.MatchString(s)
}

// isPlausibleUnixTimestamp accepts values in seconds or milliseconds that
// fall between six months before now and ten years after.
func isPlausibleUnixTimestamp(v float64, now time.Time) bool {
	lo := float64(now.Add(-plausiblePast).Unix())
	hi := float64(now.Add(plausibleFuture).Unix())
	if v >= lo && v <= hi {
		return true
	}
	ms := v / 1000
	return ms >= lo && ms <= hi
}

func isNumericString(s string) bool {
	if s == "" {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return err == nil
}

func isBool(value any) bool {
	_, ok := value.(bool)
	return ok
}

func isNumber(value any) bool {
	_, ok := asNumber(value)
	return ok
}

func asNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(value any) (string, bool) {
	s, ok := value.(string)
	return s, ok
}
