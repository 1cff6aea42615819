// Trackhouse - Product Analytics Event Pipeline
// Copyright 2026 Trackhouse Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/trackhouse/trackhouse

package lock

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// releaseScript is the atomic compare-and-delete: the GET and DEL happen in
// one script so the ownership check cannot race a concurrent re-acquire.
var releaseScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// RedisStore implements LockStore on Redis. Acquisition is SET NX PX;
// release is the Lua compare-and-delete above.
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore creates a Redis-backed lock store.
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func lockKey(key string) string { return "lock:" + key }

// SetIfAbsent creates the lock entry iff absent, with the TTL.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, lockKey(key), owner, ttl).Result()
}

// ReleaseIfOwner deletes the entry iff owner still holds it.
func (s *RedisStore) ReleaseIfOwner(ctx context.Context, key, owner string) error {
	return releaseScript.Run(ctx, s.client, []string{lockKey(key)}, owner).Err()
}
