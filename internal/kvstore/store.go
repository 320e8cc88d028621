// Package kvstore is the shared (tier 2) key-value store behind CacheCore,
// DistMutex and SweeperCore's gate checks. Grounded on the teacher's
// internal/cache.MemoryClient (prefixKey, per-entry TTL, never-propagate
// error handling) but backed by a real github.com/redis/go-redis/v9 client
// instead of an in-process map, since CacheCore and DistMutex both need a
// store shared across replicas.
package kvstore

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// Store is the shared key-value backend every core component degrades to
// on failure: every method swallows a transport error into the zero value
// rather than propagating it, mirroring the teacher's never-fail cache tier.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	SetWithTTL(ctx context.Context, key string, val []byte, ttl time.Duration) error
	SetIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	SetTTL(ctx context.Context, key string, ttl time.Duration) error
	CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error)
}

// compareAndDeleteScript atomically deletes key only if its current value
// equals expected, avoiding the non-atomic GET-then-DEL race a distributed
// lock release must not risk.
const compareAndDeleteScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store on top of a redis.Client.
type RedisStore struct {
	client *redis.Client
	log    logging.Logger
	cadSHA *redis.Script
}

// NewRedisStore wraps an existing redis.Client.
func NewRedisStore(client *redis.Client, log logging.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		log:    log,
		cadSHA: redis.NewScript(compareAndDeleteScript),
	}
}

// Get returns (nil, false, nil) on both a real cache miss and any Redis
// error — callers never need to distinguish "not found" from "store down".
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		s.log.Warn("kvstore get failed, degrading to miss", logging.String("key", key), logging.Err(err))
		return nil, false, nil
	}
	return val, true, nil
}

// SetWithTTL unconditionally overwrites key. A ttl of 0 means no expiry.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, val, ttl).Err(); err != nil {
		s.log.Warn("kvstore set failed", logging.String("key", key), logging.Err(err))
		return nil
	}
	return nil
}

// SetIfAbsent performs a single atomic SET key val NX PX ttl. This is the
// resolution of the "avoid SETNX+EXPIRE" design question: a crash between
// the two calls in that pattern would leave a lock with no expiry, so the
// whole operation is one round trip.
func (s *RedisStore) SetIfAbsent(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, val, ttl).Result()
	if err != nil {
		s.log.Warn("kvstore setnx failed, degrading to not-acquired", logging.String("key", key), logging.Err(err))
		return false, nil
	}
	return ok, nil
}

// SetTTL refreshes the expiry on an existing key without touching its value.
func (s *RedisStore) SetTTL(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
		s.log.Warn("kvstore expire failed", logging.String("key", key), logging.Err(err))
		return nil
	}
	return nil
}

// CompareAndDelete deletes key only if its value still equals expected,
// via a server-side Lua script so the check-and-delete is atomic.
func (s *RedisStore) CompareAndDelete(ctx context.Context, key string, expected []byte) (bool, error) {
	res, err := s.cadSHA.Run(ctx, s.client, []string{key}, expected).Result()
	if err != nil {
		s.log.Warn("kvstore compare-and-delete failed", logging.String("key", key), logging.Err(err))
		return false, nil
	}
	n, ok := res.(int64)
	return ok && n == 1, nil
}
