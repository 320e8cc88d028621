package cachecore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

type payload struct {
	Value string `json:"value"`
}

func newTestCore(t *testing.T) *CacheCore[payload] {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, logging.New(logging.DefaultConfig()))
	core, err := New[payload](16, store, logging.New(logging.DefaultConfig()))
	require.NoError(t, err)
	return core
}

func TestGetOrCompute_ComputesOnMiss(t *testing.T) {
	core := newTestCore(t)
	calls := 0
	key := CacheKey{LogicalKey: "player:1", Fingerprint: Fingerprint{Current: "f1"}}

	val, status, err := core.GetOrCompute(context.Background(), key, time.Minute, func(ctx context.Context) (payload, error) {
		calls++
		return payload{Value: "computed"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, StatusComputed, status)
	assert.Equal(t, "computed", val.Value)
	assert.Equal(t, 1, calls)
}

func TestGetOrCompute_TierOneHitSkipsCompute(t *testing.T) {
	core := newTestCore(t)
	key := CacheKey{LogicalKey: "player:1", Fingerprint: Fingerprint{Current: "f1"}}
	compute := func(ctx context.Context) (payload, error) { return payload{Value: "computed"}, nil }

	_, _, err := core.GetOrCompute(context.Background(), key, time.Minute, compute)
	require.NoError(t, err)

	calls := 0
	val, status, err := core.GetOrCompute(context.Background(), key, time.Minute, func(ctx context.Context) (payload, error) {
		calls++
		return payload{Value: "should-not-happen"}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, StatusTierOne, status)
	assert.Equal(t, "computed", val.Value)
	assert.Equal(t, 0, calls)
}

func TestGetOrCompute_TierTwoHitPromotesToTierOne(t *testing.T) {
	core := newTestCore(t)
	key := CacheKey{LogicalKey: "player:1", Fingerprint: Fingerprint{Current: "f1"}}
	compute := func(ctx context.Context) (payload, error) { return payload{Value: "computed"}, nil }

	_, _, err := core.GetOrCompute(context.Background(), key, time.Minute, compute)
	require.NoError(t, err)

	core.tierOne.Purge()

	val, status, err := core.GetOrCompute(context.Background(), key, time.Minute, func(ctx context.Context) (payload, error) {
		t.Fatal("should not recompute on tier-two hit")
		return payload{}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, StatusTierTwo, status)
	assert.Equal(t, "computed", val.Value)

	_, ok := core.tierOne.Get(key.wireKey())
	assert.True(t, ok, "tier-two hit should promote into tier one")
}

func TestGetOrCompute_DifferentFingerprintIsDifferentKey(t *testing.T) {
	core := newTestCore(t)
	compute := func(v string) func(ctx context.Context) (payload, error) {
		return func(ctx context.Context) (payload, error) { return payload{Value: v}, nil }
	}

	keyA := CacheKey{LogicalKey: "player:1", Fingerprint: Fingerprint{Current: "epoch-a"}}
	keyB := CacheKey{LogicalKey: "player:1", Fingerprint: Fingerprint{Current: "epoch-b"}}

	valA, _, err := core.GetOrCompute(context.Background(), keyA, time.Minute, compute("a"))
	require.NoError(t, err)
	valB, _, err := core.GetOrCompute(context.Background(), keyB, time.Minute, compute("b"))
	require.NoError(t, err)

	assert.Equal(t, "a", valA.Value)
	assert.Equal(t, "b", valB.Value)
}

func TestReadOnlyLookup_MissWithoutComputing(t *testing.T) {
	core := newTestCore(t)
	key := CacheKey{LogicalKey: "player:404", Fingerprint: Fingerprint{Current: "f1"}}

	_, ok := core.ReadOnlyLookup(context.Background(), key)
	assert.False(t, ok)
}

func TestGetOrCompute_ComputeErrorNotCached(t *testing.T) {
	core := newTestCore(t)
	key := CacheKey{LogicalKey: "player:err", Fingerprint: Fingerprint{Current: "f1"}}

	_, _, err := core.GetOrCompute(context.Background(), key, time.Minute, func(ctx context.Context) (payload, error) {
		return payload{}, assert.AnError
	})
	require.Error(t, err)

	_, ok := core.ReadOnlyLookup(context.Background(), key)
	assert.False(t, ok, "a failed compute must not poison the cache")
}
