package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

func newTestStore(t *testing.T) *RedisStore {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRedisStore(client, logging.New(logging.DefaultConfig()))
}

func TestRedisStore_GetMiss(t *testing.T) {
	store := newTestStore(t)
	val, ok, err := store.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, val)
}

func TestRedisStore_SetWithTTLThenGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "k", []byte("v"), time.Minute))

	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}

func TestRedisStore_SetIfAbsent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "lock", []byte("tok1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "first acquire should succeed")

	ok, err = store.SetIfAbsent(ctx, "lock", []byte("tok2"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while lock held")
}

func TestRedisStore_CompareAndDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.SetIfAbsent(ctx, "lock", []byte("tok1"), time.Minute)
	require.NoError(t, err)

	ok, err := store.CompareAndDelete(ctx, "lock", []byte("wrong-token"))
	require.NoError(t, err)
	assert.False(t, ok, "must not delete on token mismatch")

	ok, err = store.CompareAndDelete(ctx, "lock", []byte("tok1"))
	require.NoError(t, err)
	assert.True(t, ok, "must delete on matching token")

	_, exists, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStore_SetTTL(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetWithTTL(ctx, "k", []byte("v"), 0))
	require.NoError(t, store.SetTTL(ctx, "k", time.Second))

	val, ok, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v"), val)
}
