// Package workercore is the coalescing, priority-admission background
// compute worker sitting behind every read path. It decides whether a
// caller gets a fresh value, a stale-but-serviceable value with a refresh
// kicked off in the background, a "still calculating" signal, or a hard
// miss/error — never blocking the caller on a compute that is already in
// flight. Grounded on the teacher's registry-of-handles pattern
// (internal/websocket/services.ConnectionManager tracks live connections in
// a concurrent map the way this tracks live refresh tasks) and on
// golang.org/x/sync/semaphore for the Heavy-query admission gate, adopted
// from the dependency graph shared by the retrieval pack's infrastructure
// repos.
package workercore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/cachecore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// OutcomeKind is the sum-type tag on WorkOutcome.
type OutcomeKind int

const (
	OutcomeFresh OutcomeKind = iota
	OutcomeStale
	OutcomeCalculating
	OutcomeNotFound
	OutcomeDataError
)

// WorkOutcome is the result of a read through WorkerCore.
type WorkOutcome struct {
	Kind    OutcomeKind
	Payload []byte
	Err     error
}

// Query is anything WorkerCore can compute, cache and refresh.
type Query interface {
	Key() cachecore.CacheKey
	Heavy() bool
	FreshTTL() time.Duration
	StaleTTL() time.Duration
	Compute(ctx context.Context) ([]byte, error)
}

// cachedResult is the envelope stored in the cache tier: the computed
// payload plus the time it was computed. RunWithFallback tells Fresh from
// Stale by which fingerprint slot hit, not by ComputedAt.
type cachedResult struct {
	Payload    []byte    `json:"payload"`
	ComputedAt time.Time `json:"computed_at"`
}

// refreshHandle lets callers check "is this background refresh finished"
// without blocking — Done() is a non-blocking read of a channel closed on
// completion, never a mutex or waitgroup wait.
type refreshHandle struct {
	done chan struct{}
}

func newRefreshHandle() *refreshHandle { return &refreshHandle{done: make(chan struct{})} }

func (h *refreshHandle) finish() { close(h.done) }

func (h *refreshHandle) Done() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Core is the shared worker behind every Query read.
type Core struct {
	cache     *cachecore.CacheCore[cachedResult]
	admission *semaphore.Weighted
	inflight  sync.Map // resolved key (logical key + current fingerprint) -> *refreshHandle
	log       logging.Logger
}

// resolvedKey identifies one (logical-key, fingerprint) pair — the
// granularity the RefreshTask single-flight invariant is defined at (§3).
// Keying on LogicalKey alone would coalesce two fingerprint epochs of the
// same entity onto a single in-flight handle.
func resolvedKey(key cachecore.CacheKey) string {
	return key.LogicalKey + "@" + key.Fingerprint.Current
}

// New builds a Core with its own tier-1/tier-2 cache over the given store.
// heavyAdmissionLimit bounds concurrent Heavy computes; Light queries never
// touch the semaphore.
func New(tierOneSize int, store kvstore.Store, heavyAdmissionLimit int64, log logging.Logger) (*Core, error) {
	cache, err := cachecore.New[cachedResult](tierOneSize, store, log)
	if err != nil {
		return nil, err
	}
	return &Core{
		cache:     cache,
		admission: semaphore.NewWeighted(heavyAdmissionLimit),
		log:       log,
	}, nil
}

// RunWithFallback is the non-blocking read path: it never waits on a
// compute. Step 1: a hit on the current-fingerprint slot is Fresh. Step 2:
// a hit on the previous-fingerprint slot is Stale, with a refresh spawned
// for the current slot. Step 3: neither slot has anything usable — spawn a
// refresh for the current slot (coalesced with any already in flight for
// this exact resolved key) and return Calculating. It never computes
// inline (spec §4.5 steps 1-4).
func (c *Core) RunWithFallback(ctx context.Context, q Query) WorkOutcome {
	key := q.Key()

	if raw, ok := c.cache.ReadOnlyLookup(ctx, key); ok {
		if wrapped, ok := decodeCachedResult(raw); ok {
			return WorkOutcome{Kind: OutcomeFresh, Payload: wrapped.Payload}
		}
	}

	if key.Fingerprint.Previous != "" {
		previousKey := cachecore.CacheKey{
			LogicalKey:  key.LogicalKey,
			Fingerprint: cachecore.Fingerprint{Current: key.Fingerprint.Previous},
		}
		if raw, ok := c.cache.ReadOnlyLookup(ctx, previousKey); ok {
			if wrapped, ok := decodeCachedResult(raw); ok {
				c.scheduleRefresh(key, q)
				return WorkOutcome{Kind: OutcomeStale, Payload: wrapped.Payload}
			}
		}
	}

	c.scheduleRefresh(key, q)
	return WorkOutcome{Kind: OutcomeCalculating}
}

// decodeCachedResult strips the cachecore schema-version byte and decodes
// the wrapped result, treating any failure as "nothing usable here".
func decodeCachedResult(raw []byte) (cachedResult, bool) {
	if len(raw) <= 1 {
		return cachedResult{}, false
	}
	var wrapped cachedResult
	if err := json.Unmarshal(raw[1:], &wrapped); err != nil {
		return cachedResult{}, false
	}
	return wrapped, true
}

// RunExact is the synchronous path used by inner lookups (e.g. fingerprint
// resolution) that must never themselves return Calculating: it returns the
// cached value if there is one, and otherwise blocks until the value is
// computed or the context is cancelled.
func (c *Core) RunExact(ctx context.Context, q Query) ([]byte, error) {
	key := q.Key()

	if q.Heavy() {
		if err := c.admission.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer c.admission.Release(1)
	}

	return c.computeAndStore(ctx, key, q)
}

func (c *Core) computeAndStore(ctx context.Context, key cachecore.CacheKey, q Query) ([]byte, error) {
	wrapped, _, err := c.cache.GetOrCompute(ctx, key, q.StaleTTL(), func(ctx context.Context) (cachedResult, error) {
		payload, err := q.Compute(ctx)
		if err != nil {
			return cachedResult{}, err
		}
		return cachedResult{Payload: payload, ComputedAt: time.Now()}, nil
	})
	if err != nil {
		return nil, err
	}
	return wrapped.Payload, nil
}

// scheduleRefresh kicks off a background recompute for the resolved key
// (logical key + current fingerprint), coalescing concurrent callers onto
// the same in-flight handle — the LoadOrStore is the single atomic gate
// both the cold-miss and the stale-refresh paths go through, so 100
// concurrent callers on the same resolved key spawn exactly one compute
// (§8 Single-flight invariant). Heavy admission is acquired here, inside
// the spawned goroutine, never by the caller — RunWithFallback itself
// never blocks.
func (c *Core) scheduleRefresh(key cachecore.CacheKey, q Query) {
	resolved := resolvedKey(key)

	handle := newRefreshHandle()
	if _, loaded := c.inflight.LoadOrStore(resolved, handle); loaded {
		return
	}

	go func() {
		defer func() {
			handle.finish()
			c.inflight.Delete(resolved)
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if q.Heavy() {
			if err := c.admission.Acquire(ctx, 1); err != nil {
				c.log.Warn("workercore: admission acquire failed", logging.String("key", resolved), logging.Err(err))
				return
			}
			defer c.admission.Release(1)
		}

		if _, err := c.computeAndStore(ctx, key, q); err != nil {
			c.log.Warn("workercore: background refresh failed", logging.String("key", resolved), logging.Err(err))
		}
	}()
}
