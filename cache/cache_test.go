package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"opsbot/types"
)

var stateKey = Key{Kind: types.KindEC2, ResourceID: "i-0abc123def456789a", Query: QueryState}

// noSleep skips backoff delays so retry tests run instantly.
func noSleep(ctx context.Context, d time.Duration) error { return nil }

func TestDoCachesWithinTTL(t *testing.T) {
	var calls int32
	c := New(zerolog.Nop())

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return types.StateRunning, nil
	}

	for i := 0; i < 5; i++ {
		v, err := c.Do(context.Background(), stateKey, time.Minute, producer)
		if err != nil {
			t.Fatalf("Do() error = %v", err)
		}
		if v != types.StateRunning {
			t.Fatalf("Do() = %v, want running", v)
		}
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("producer calls = %d, want 1: repeat lookups within TTL must be served from cache", got)
	}
}

func TestDoRefetchesAfterExpiry(t *testing.T) {
	var calls int32
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	c := New(zerolog.Nop(), WithClock(func() time.Time { return now }))

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return types.StateStopped, nil
	}

	if _, err := c.Do(context.Background(), stateKey, 30*time.Second, producer); err != nil {
		t.Fatal(err)
	}
	now = now.Add(31 * time.Second)
	if _, err := c.Do(context.Background(), stateKey, 30*time.Second, producer); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("producer calls = %d, want 2 after TTL expiry", got)
	}
}

func TestDoCoalescesConcurrentCallers(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	c := New(zerolog.Nop())

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-release // hold the flight open until all callers have joined
		return types.StateRunning, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]any, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := c.Do(context.Background(), stateKey, time.Minute, producer)
			if err != nil {
				t.Errorf("Do() error = %v", err)
				return
			}
			results[i] = v
		}(i)
	}

	// Give every goroutine time to reach the flight group, then release.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("producer calls = %d, want 1: concurrent lookups must coalesce", got)
	}
	for i, v := range results {
		if v != types.StateRunning {
			t.Errorf("results[%d] = %v, want running", i, v)
		}
	}
}

func TestDoDistinctKeysDoNotCoalesce(t *testing.T) {
	var calls int32
	c := New(zerolog.Nop())

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return types.StateRunning, nil
	}

	otherKey := Key{Kind: types.KindRDS, ResourceID: "prod-db", Query: QueryState}
	if _, err := c.Do(context.Background(), stateKey, time.Minute, producer); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Do(context.Background(), otherKey, time.Minute, producer); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("producer calls = %d, want 2 for distinct keys", got)
	}
}

func TestRetryBackoffDelaysIncrease(t *testing.T) {
	var delays []time.Duration
	var attempts int32
	c := New(zerolog.Nop(),
		WithJitter(func() float64 { return 0.75 }),
		WithSleeper(func(ctx context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		}),
	)

	producer := func(ctx context.Context) (any, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n <= 3 {
			return nil, fmt.Errorf("%w: rate exceeded", types.ErrThrottled)
		}
		return types.StateRunning, nil
	}

	v, err := c.Do(context.Background(), stateKey, time.Minute, producer)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if v != types.StateRunning {
		t.Errorf("Do() = %v, want running", v)
	}
	if got := atomic.LoadInt32(&attempts); got != 4 {
		t.Errorf("attempts = %d, want 4 (3 throttles then success)", got)
	}

	// jitter fixed at 0.75 of ceilings 200/400/800ms
	want := []time.Duration{150 * time.Millisecond, 300 * time.Millisecond, 600 * time.Millisecond}
	if len(delays) != len(want) {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
	for i := range want {
		if delays[i] != want[i] {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], want[i])
		}
		if i > 0 && delays[i] <= delays[i-1] {
			t.Errorf("delays not strictly increasing: %v", delays)
		}
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	var attempts int32
	c := New(zerolog.Nop(), WithSleeper(noSleep))

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, fmt.Errorf("%w: rate exceeded", types.ErrThrottled)
	}

	_, err := c.Do(context.Background(), stateKey, time.Minute, producer)
	if !errors.Is(err, types.ErrUnavailable) {
		t.Errorf("error = %v, want ErrUnavailable", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 5 {
		t.Errorf("attempts = %d, want 5", got)
	}
}

func TestNonThrottleErrorsAreNotRetried(t *testing.T) {
	var attempts int32
	c := New(zerolog.Nop(), WithSleeper(noSleep))

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)
		return nil, fmt.Errorf("%w: missing permission", types.ErrUnauthorized)
	}

	_, err := c.Do(context.Background(), stateKey, time.Minute, producer)
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("error = %v, want ErrUnauthorized", err)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1: only throttling is retried", got)
	}
}

func TestFailedProducerIsNotCached(t *testing.T) {
	var attempts int32
	c := New(zerolog.Nop(), WithSleeper(noSleep))

	producer := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			return nil, errors.New("transient upstream failure")
		}
		return types.StateRunning, nil
	}

	if _, err := c.Do(context.Background(), stateKey, time.Minute, producer); err == nil {
		t.Fatal("first Do() should fail")
	}
	v, err := c.Do(context.Background(), stateKey, time.Minute, producer)
	if err != nil {
		t.Fatalf("second Do() error = %v", err)
	}
	if v != types.StateRunning {
		t.Errorf("Do() = %v, want running", v)
	}
}

func TestInvalidateResource(t *testing.T) {
	var calls int32
	c := New(zerolog.Nop())

	producer := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return types.StateStopped, nil
	}

	metricsKey := Key{Kind: stateKey.Kind, ResourceID: stateKey.ResourceID, Query: QueryMetrics}
	otherKey := Key{Kind: types.KindRDS, ResourceID: "prod-db", Query: QueryState}
	for _, k := range []Key{stateKey, metricsKey, otherKey} {
		if _, err := c.Do(context.Background(), k, time.Minute, producer); err != nil {
			t.Fatal(err)
		}
	}
	if c.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", c.Len())
	}

	c.InvalidateResource(stateKey.Kind, stateKey.ResourceID)

	if c.Len() != 1 {
		t.Errorf("Len() = %d, want 1: both queries for the resource must be dropped", c.Len())
	}
	// The untouched resource stays served from cache.
	if _, err := c.Do(context.Background(), otherKey, time.Minute, producer); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("producer calls = %d, want 3", got)
	}
}

// A describe already in flight when a mutation invalidates the resource
// must not land its pre-mutation result in the cache.
func TestInvalidateDuringFlightDiscardsStaleResult(t *testing.T) {
	var calls int32
	entered := make(chan struct{})
	release := make(chan struct{})
	c := New(zerolog.Nop())

	producer := func(ctx context.Context) (any, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(entered)
			<-release
			return types.StateRunning, nil // pre-mutation state
		}
		return types.StateStopped, nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		if _, err := c.Do(context.Background(), stateKey, time.Minute, producer); err != nil {
			t.Errorf("in-flight Do() error = %v", err)
		}
	}()

	<-entered
	// The mutation lands while the describe is still in flight.
	c.InvalidateResource(stateKey.Kind, stateKey.ResourceID)
	close(release)
	<-done

	v, err := c.Do(context.Background(), stateKey, time.Minute, producer)
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if v != types.StateStopped {
		t.Errorf("Do() = %v, want post-mutation state from a fresh fetch", v)
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("producer calls = %d, want 2: the stale in-flight result must not be cached", got)
	}
}

func TestLookupHook(t *testing.T) {
	var hits, misses int
	c := New(zerolog.Nop(), WithLookupHook(func(hit bool) {
		if hit {
			hits++
		} else {
			misses++
		}
	}))

	producer := func(ctx context.Context) (any, error) { return types.StateRunning, nil }

	if _, err := c.Do(context.Background(), stateKey, time.Minute, producer); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Do(context.Background(), stateKey, time.Minute, producer); err != nil {
		t.Fatal(err)
	}

	if hits != 1 {
		t.Errorf("hits = %d, want 1", hits)
	}
	// The first Do misses twice: once before joining the flight and once
	// inside it.
	if misses != 2 {
		t.Errorf("misses = %d, want 2", misses)
	}
}
