// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// slideScript performs the block check and the add/trim/count/expire
// transitions in one round trip. Returns {allowed, retry_after_ms}.
//
// ARGV: now_ms, window_ms, limit, block_ms, member
var slideScript = redis.NewScript(`
local hitsKey = KEYS[1]
local blockKey = KEYS[2]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
local blockMs = tonumber(ARGV[4])

local blockTTL = redis.call('PTTL', blockKey)
if blockTTL > 0 then
  return {0, blockTTL}
end

redis.call('ZADD', hitsKey, now, ARGV[5])
redis.call('ZREMRANGEBYSCORE', hitsKey, 0, now - window)
local count = redis.call('ZCARD', hitsKey)
redis.call('PEXPIRE', hitsKey, window)

if count > limit then
  redis.call('SET', blockKey, '1', 'PX', blockMs)
  return {0, blockMs}
end
return {1, 0}
`)

// RedisStore implements AtomicCounterStore on Redis via a Lua script.
type RedisStore struct {
	client redis.Scripter
}

// NewRedisStore creates a Redis-backed counter store.
func NewRedisStore(client redis.Scripter) *RedisStore {
	return &RedisStore{client: client}
}

// HitsKey returns the sorted-set key for a tenant (public for interoperability).
func HitsKey(key string) string { return "rl:hits:" + key }

// BlockKey returns the block-marker key for a tenant.
func BlockKey(key string) string { return "rl:block:" + key }

// Slide evaluates one hit atomically. The member is a unique token so two
// hits in the same millisecond both count.
func (s *RedisStore) Slide(ctx context.Context, key string, now time.Time, window time.Duration, limit int64, block time.Duration) (Result, error) {
	keys := []string{HitsKey(key), BlockKey(key)}
	args := []interface{}{
		now.UnixMilli(),
		window.Milliseconds(),
		limit,
		block.Milliseconds(),
		uuid.NewString(),
	}

	raw, err := slideScript.Run(ctx, s.client, keys, args...).Result()
	if err != nil {
		return Result{}, fmt.Errorf("slide %s: %w", key, err)
	}

	reply, ok := raw.([]interface{})
	if !ok || len(reply) != 2 {
		return Result{}, fmt.Errorf("slide %s: unexpected reply %T", key, raw)
	}
	allowed, _ := reply[0].(int64)
	retryMs, _ := reply[1].(int64)

	return Result{
		Allowed:    allowed == 1,
		RetryAfter: time.Duration(retryMs) * time.Millisecond,
	}, nil
}
