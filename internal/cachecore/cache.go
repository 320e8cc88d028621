// Package cachecore implements the two-tier (in-process + shared) cache
// every Query result flows through. Tier 1 is grounded on the teacher's
// internal/cache.MemoryClient (per-entry TTL bookkeeping, prefixKey
// namespacing), promoted to an LRU-bounded github.com/hashicorp/golang-lru/v2
// cache instead of the teacher's unbounded sync.RWMutex map. Tier 2 is
// kvstore.Store. GetOrCompute follows the teacher's
// internal/cache.ResolverCache.GetOrCompute/computeAndCache split: a
// serialization or cache-write failure is logged, never propagated — the
// computed value is still returned.
package cachecore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	coreerrors "github.com/InterStella0/gfl-ze-watcher-sub000/internal/errors"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// schemaVersion prefixes every serialized entry. Bumping it invalidates all
// previously written entries wholesale instead of risking a partial decode
// of an old format.
const schemaVersion byte = 1

const keyPrefix = "product-x:"

// Fingerprint is the session epoch a value was computed under (Current) and,
// when known, the epoch before it (Previous). Only Current is part of the
// wire key.
type Fingerprint struct {
	Current  string
	Previous string
}

// CacheKey is the two-part key every cache lookup resolves against.
type CacheKey struct {
	LogicalKey  string
	Fingerprint Fingerprint
}

func (k CacheKey) wireKey() string {
	return fmt.Sprintf("%s%s@%s", keyPrefix, k.LogicalKey, k.Fingerprint.Current)
}

// Status reports which tier (if any) satisfied a lookup.
type Status int

const (
	StatusMiss Status = iota
	StatusTierOne
	StatusTierTwo
	StatusComputed
)

type tierOneEntry struct {
	payload []byte
	expiry  time.Time
}

func (e tierOneEntry) expired() bool {
	return !e.expiry.IsZero() && time.Now().After(e.expiry)
}

// CacheCore is the generic two-tier cache. T is the decoded payload type;
// callers get strongly-typed results without repeating json.Unmarshal calls.
type CacheCore[T any] struct {
	tierOne *lru.Cache[string, tierOneEntry]
	tierTwo kvstore.Store
	log     logging.Logger
}

// New builds a CacheCore with a bounded tier-1 LRU of the given size.
func New[T any](tierOneSize int, tierTwo kvstore.Store, log logging.Logger) (*CacheCore[T], error) {
	c, err := lru.New[string, tierOneEntry](tierOneSize)
	if err != nil {
		return nil, fmt.Errorf("cachecore: build tier one: %w", err)
	}
	return &CacheCore[T]{tierOne: c, tierTwo: tierTwo, log: log}, nil
}

// GetOrCompute implements the five-step lookup: tier 1, tier 2 (promoting
// into tier 1 on hit), compute, serialize-and-write-both-tiers, return.
func (c *CacheCore[T]) GetOrCompute(ctx context.Context, key CacheKey, ttl time.Duration, compute func(ctx context.Context) (T, error)) (T, Status, error) {
	wireKey := key.wireKey()

	if entry, ok := c.tierOne.Get(wireKey); ok && !entry.expired() {
		var val T
		if err := c.decode(entry.payload, &val); err == nil {
			return val, StatusTierOne, nil
		}
		c.tierOne.Remove(wireKey)
	}

	if raw, ok, _ := c.tierTwo.Get(ctx, wireKey); ok {
		var val T
		if err := c.decode(raw, &val); err == nil {
			c.tierOne.Add(wireKey, tierOneEntry{payload: raw, expiry: time.Now().Add(ttl)})
			return val, StatusTierTwo, nil
		}
		c.log.Warn("cachecore: tier-two payload failed to decode, treating as miss", logging.String("key", wireKey))
	}

	val, err := compute(ctx)
	if err != nil {
		var zero T
		return zero, StatusMiss, err
	}

	c.writeThrough(ctx, wireKey, val, ttl)
	return val, StatusComputed, nil
}

// ReadOnlyLookup returns the raw bytes behind key without computing,
// used by WorkerCore to check "is there anything to serve" before deciding
// whether a caller gets Fresh, Stale or Calculating.
func (c *CacheCore[T]) ReadOnlyLookup(ctx context.Context, key CacheKey) ([]byte, bool) {
	wireKey := key.wireKey()
	if entry, ok := c.tierOne.Get(wireKey); ok && !entry.expired() {
		return entry.payload, true
	}
	if raw, ok, _ := c.tierTwo.Get(ctx, wireKey); ok {
		return raw, true
	}
	return nil, false
}

func (c *CacheCore[T]) writeThrough(ctx context.Context, wireKey string, val T, ttl time.Duration) {
	payload, err := c.encode(val)
	if err != nil {
		c.log.Warn("cachecore: serialization failed, returning uncached value", logging.Err(coreerrors.SerializationFailure(err)))
		return
	}

	c.tierOne.Add(wireKey, tierOneEntry{payload: payload, expiry: time.Now().Add(ttl)})

	if err := c.tierTwo.SetWithTTL(ctx, wireKey, payload, ttl); err != nil {
		c.log.Warn("cachecore: tier-two write failed", logging.String("key", wireKey), logging.Err(err))
	}
}

func (c *CacheCore[T]) encode(val T) ([]byte, error) {
	body, err := json.Marshal(val)
	if err != nil {
		return nil, err
	}
	return append([]byte{schemaVersion}, body...), nil
}

func (c *CacheCore[T]) decode(payload []byte, out *T) error {
	if len(payload) == 0 || payload[0] != schemaVersion {
		return fmt.Errorf("cachecore: schema version mismatch or empty payload")
	}
	return json.Unmarshal(payload[1:], out)
}
