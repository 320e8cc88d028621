package distmutex

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

func newTestStore(t *testing.T) *kvstore.RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return kvstore.NewRedisStore(client, logging.New(logging.DefaultConfig()))
}

func TestWithLock_RunsBodyAndReleases(t *testing.T) {
	store := newTestStore(t)
	log := logging.New(logging.DefaultConfig())
	ran := false

	err := WithLock(context.Background(), store, log, "lock:a", time.Minute, 0, func(ctx context.Context) error {
		ran = true
		return nil
	})

	require.NoError(t, err)
	assert.True(t, ran)

	_, held, err := store.Get(context.Background(), "lock:a")
	require.NoError(t, err)
	assert.False(t, held, "lock key must be released after body completes")
}

func TestWithLock_MutualExclusion(t *testing.T) {
	store := newTestStore(t)
	log := logging.New(logging.DefaultConfig())

	var counter int64
	var wg sync.WaitGroup
	results := make([]error, 2)

	barrier := make(chan struct{})
	wg.Add(2)
	for i := 0; i < 2; i++ {
		i := i
		go func() {
			defer wg.Done()
			<-barrier
			results[i] = WithLock(context.Background(), store, log, "lock:b", 200*time.Millisecond, 0, func(ctx context.Context) error {
				atomic.AddInt64(&counter, 1)
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		}()
	}
	close(barrier)
	wg.Wait()

	succeeded := 0
	failed := 0
	for _, err := range results {
		if err == nil {
			succeeded++
		} else {
			assert.ErrorIs(t, err, ErrLockUnavailable)
			failed++
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, failed)
	assert.Equal(t, int64(1), counter)
}

func TestWithLock_ReturnsErrLockUnavailableWhenHeld(t *testing.T) {
	store := newTestStore(t)
	log := logging.New(logging.DefaultConfig())

	_, err := store.SetIfAbsent(context.Background(), "lock:c", []byte("someone-else"), time.Minute)
	require.NoError(t, err)

	err = WithLock(context.Background(), store, log, "lock:c", time.Minute, 0, func(ctx context.Context) error {
		t.Fatal("body must not run while lock is held by another owner")
		return nil
	})

	assert.ErrorIs(t, err, ErrLockUnavailable)
}
