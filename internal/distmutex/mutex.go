// Package distmutex provides a distributed mutual-exclusion helper on top
// of kvstore.Store. Grounded on the design note in SPEC_FULL.md §4.4: a
// single atomic SetIfAbsent carrying the lock's TTL, never the non-atomic
// SETNX+EXPIRE pair the Open Question warns about.
package distmutex

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

// ErrLockUnavailable is returned when maxRetries is exhausted without
// acquiring the lock.
var ErrLockUnavailable = errors.New("distmutex: lock unavailable")

const retryDelay = time.Second

// WithLock runs body while holding a distributed lock on key. The lock is
// acquired via one atomic SET NX PX call carrying ttl, retried every
// retryDelay up to maxRetries times, and always released via a token-owner
// checked compare-and-delete, even if body panics.
func WithLock(ctx context.Context, kv kvstore.Store, log logging.Logger, key string, ttl time.Duration, maxRetries int, body func(ctx context.Context) error) error {
	token := []byte(uuid.NewString())

	acquired := false
	for attempt := 0; attempt <= maxRetries; attempt++ {
		ok, err := kv.SetIfAbsent(ctx, key, token, ttl)
		if err == nil && ok {
			acquired = true
			break
		}

		if attempt == maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
		}
	}

	if !acquired {
		log.Warn("distmutex: lock unavailable after retries", logging.String("key", key), logging.Int("max_retries", maxRetries))
		return ErrLockUnavailable
	}

	defer func() {
		if _, err := kv.CompareAndDelete(context.Background(), key, token); err != nil {
			log.Warn("distmutex: release failed", logging.String("key", key), logging.Err(err))
		}
	}()

	return body(ctx)
}
