package workercore

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/cachecore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/internal/kvstore"
	"github.com/InterStella0/gfl-ze-watcher-sub000/pkg/logging"
)

type fakeQuery struct {
	key      string
	current  string
	previous string
	heavy    bool
	freshTTL time.Duration
	staleTTL time.Duration
	calls    int64
	compute  func(ctx context.Context) ([]byte, error)
}

func (q *fakeQuery) Key() cachecore.CacheKey {
	return cachecore.CacheKey{
		LogicalKey:  q.key,
		Fingerprint: cachecore.Fingerprint{Current: q.current, Previous: q.previous},
	}
}
func (q *fakeQuery) Heavy() bool             { return q.heavy }
func (q *fakeQuery) FreshTTL() time.Duration { return q.freshTTL }
func (q *fakeQuery) StaleTTL() time.Duration { return q.staleTTL }
func (q *fakeQuery) Compute(ctx context.Context) ([]byte, error) {
	atomic.AddInt64(&q.calls, 1)
	if q.compute != nil {
		return q.compute(ctx)
	}
	return []byte(`{"v":1}`), nil
}

func newFakeQuery(key string) *fakeQuery {
	return &fakeQuery{key: key, current: "f1", freshTTL: time.Minute, staleTTL: time.Hour}
}

func newTestCore(t *testing.T) *Core {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := kvstore.NewRedisStore(client, logging.New(logging.DefaultConfig()))
	core, err := New(64, store, 2, logging.New(logging.DefaultConfig()))
	require.NoError(t, err)
	return core
}

// TestRunWithFallback_ColdMiss_ReturnsCalculatingAndSpawnsBackgroundRefresh
// covers spec §4.5 step 4 / E2E scenario 1: a true cold miss must never
// compute inline. The caller gets Calculating immediately; the value only
// becomes visible once the spawned refresh completes.
func TestRunWithFallback_ColdMiss_ReturnsCalculatingAndSpawnsBackgroundRefresh(t *testing.T) {
	core := newTestCore(t)
	q := newFakeQuery("k1")

	outcome := core.RunWithFallback(context.Background(), q)
	assert.Equal(t, OutcomeCalculating, outcome.Kind)
	assert.Nil(t, outcome.Payload)

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&q.calls) >= 1
	}, time.Second, 5*time.Millisecond, "background refresh should have run")

	require.Eventually(t, func() bool {
		return core.RunWithFallback(context.Background(), q).Kind == OutcomeFresh
	}, time.Second, 5*time.Millisecond, "value should become Fresh once the refresh completes")
}

func TestRunWithFallback_FreshHitNoRecompute(t *testing.T) {
	core := newTestCore(t)
	q := newFakeQuery("k2")

	core.RunWithFallback(context.Background(), q)
	require.Eventually(t, func() bool {
		return core.RunWithFallback(context.Background(), q).Kind == OutcomeFresh
	}, time.Second, 5*time.Millisecond)

	calls := atomic.LoadInt64(&q.calls)
	outcome := core.RunWithFallback(context.Background(), q)

	assert.Equal(t, OutcomeFresh, outcome.Kind)
	assert.Equal(t, calls, atomic.LoadInt64(&q.calls), "a fresh hit must not recompute")
}

// TestRunWithFallback_FingerprintRoll_ServesPreviousAsStale covers spec
// §3/§4.5 and E2E scenario 2: once the fingerprint rolls from F1 to F2, a
// read for F2 must return the F1 payload as Stale (not miss outright) and
// spawn a refresh for F2; a later read then sees the F2 value as Fresh.
func TestRunWithFallback_FingerprintRoll_ServesPreviousAsStale(t *testing.T) {
	core := newTestCore(t)
	q := newFakeQuery("k3")

	core.RunWithFallback(context.Background(), q)
	require.Eventually(t, func() bool {
		return core.RunWithFallback(context.Background(), q).Kind == OutcomeFresh
	}, time.Second, 5*time.Millisecond, "f1 should warm up")

	q.compute = func(ctx context.Context) ([]byte, error) {
		return []byte(`{"v":2}`), nil
	}
	q.current, q.previous = "f2", "f1"

	outcome := core.RunWithFallback(context.Background(), q)
	assert.Equal(t, OutcomeStale, outcome.Kind)
	assert.JSONEq(t, `{"v":1}`, string(outcome.Payload), "stale read must return the previous-epoch payload")

	require.Eventually(t, func() bool {
		next := core.RunWithFallback(context.Background(), q)
		return next.Kind == OutcomeFresh && string(next.Payload) == `{"v":2}`
	}, time.Second, 5*time.Millisecond, "f2 should become Fresh once its refresh completes")
}

func TestRunExact_NeverReturnsCalculating(t *testing.T) {
	core := newTestCore(t)
	q := newFakeQuery("k4")

	payload, err := core.RunExact(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, `{"v":1}`, string(payload))
}

// TestRunWithFallback_SingleFlight_100ConcurrentColdCallers covers spec §8's
// Single-flight invariant and E2E scenario 3: concurrent cold reads for the
// exact same resolved key must coalesce onto one compute, not one per
// caller.
func TestRunWithFallback_SingleFlight_100ConcurrentColdCallers(t *testing.T) {
	core := newTestCore(t)
	q := newFakeQuery("k5")

	const callers = 100
	var wg sync.WaitGroup
	outcomes := make([]WorkOutcome, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			outcomes[i] = core.RunWithFallback(context.Background(), q)
		}(i)
	}
	wg.Wait()

	for _, o := range outcomes {
		assert.Equal(t, OutcomeCalculating, o.Kind)
	}

	require.Eventually(t, func() bool {
		return core.RunWithFallback(context.Background(), q).Kind == OutcomeFresh
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int64(1), atomic.LoadInt64(&q.calls), "100 concurrent cold callers must coalesce onto a single compute")
}

// TestRunWithFallback_FingerprintRoll_DoesNotCoalesceWithOldEpoch covers the
// RefreshTask invariant (§3): the in-flight registry is keyed on the
// resolved (logical-key, fingerprint) pair, so a refresh already running
// for F1 must not be mistaken for a refresh of F2.
func TestRunWithFallback_FingerprintRoll_DoesNotCoalesceWithOldEpoch(t *testing.T) {
	core := newTestCore(t)

	blocking := make(chan struct{})
	q := &fakeQuery{
		key: "k6", current: "f1", freshTTL: time.Minute, staleTTL: time.Hour,
		compute: func(ctx context.Context) ([]byte, error) {
			<-blocking
			return []byte(`{"v":1}`), nil
		},
	}

	done := make(chan WorkOutcome, 1)
	go func() { done <- core.RunWithFallback(context.Background(), q) }()
	require.Eventually(t, func() bool { return atomic.LoadInt64(&q.calls) >= 1 }, time.Second, time.Millisecond)

	q2 := &fakeQuery{key: "k6", current: "f2", calls: 0, freshTTL: time.Minute, staleTTL: time.Hour}
	outcome := core.RunWithFallback(context.Background(), q2)
	assert.Equal(t, OutcomeCalculating, outcome.Kind)

	require.Eventually(t, func() bool { return atomic.LoadInt64(&q2.calls) >= 1 }, time.Second, 5*time.Millisecond,
		"f2's refresh must run independently of f1's in-flight compute")

	close(blocking)
	<-done
}

// TestRunWithFallback_HeavyAdmissionGateLimitsConcurrency covers E2E
// scenario 4: newTestCore sizes the heavy admission gate at 2, so five cold
// reads against distinct heavy queries must never have more than two
// computes in flight at once.
func TestRunWithFallback_HeavyAdmissionGateLimitsConcurrency(t *testing.T) {
	core := newTestCore(t)

	blocking := make(chan struct{})
	var inFlight, maxInFlight int64
	compute := func(ctx context.Context) ([]byte, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			m := atomic.LoadInt64(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt64(&maxInFlight, m, n) {
				break
			}
		}
		<-blocking
		atomic.AddInt64(&inFlight, -1)
		return []byte(`{"v":1}`), nil
	}

	qs := make([]*fakeQuery, 5)
	for i := range qs {
		qs[i] = &fakeQuery{
			key:      "heavy-" + strconv.Itoa(i),
			current:  "f1",
			heavy:    true,
			freshTTL: time.Minute,
			staleTTL: time.Hour,
			compute:  compute,
		}
		outcome := core.RunWithFallback(context.Background(), qs[i])
		assert.Equal(t, OutcomeCalculating, outcome.Kind)
	}

	require.Eventually(t, func() bool { return atomic.LoadInt64(&inFlight) == 2 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int64(2), atomic.LoadInt64(&maxInFlight), "at most two heavy computes may run at once")

	close(blocking)
	for _, q := range qs {
		require.Eventually(t, func() bool {
			return core.RunWithFallback(context.Background(), q).Kind == OutcomeFresh
		}, time.Second, 5*time.Millisecond)
	}
}
