// Package cache shields the AWS control planes from bursty chat traffic.
// Recent describe results are kept for a short TTL, concurrent requests for
// the same key are coalesced into one upstream call, and throttled calls are
// retried with exponential backoff before surfacing as unavailable.
package cache

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"opsbot/types"
)

// Query types used as the third component of cache keys.
const (
	QueryState   = "state"
	QueryMetrics = "metrics"
)

// Backoff policy for throttled producers.
const (
	backoffBase = 200 * time.Millisecond
	maxAttempts = 5
)

// Key identifies one cached upstream result.
type Key struct {
	Kind       types.Kind
	ResourceID string
	Query      string
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Kind, k.ResourceID, k.Query)
}

// Producer fetches a fresh value from upstream.
type Producer func(ctx context.Context) (any, error)

type entry struct {
	value     any
	fetchedAt time.Time
}

// Cache is the backoff/cache layer. Safe for concurrent use; access to a
// given key is serialized through singleflight while distinct keys proceed
// in parallel.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]entry
	gens    map[Key]uint64
	group   singleflight.Group
	logger  zerolog.Logger

	// Injectable for deterministic tests.
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64

	onLookup func(hit bool)
}

// Option adjusts cache construction.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithSleeper overrides the backoff sleeper.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Cache) { c.sleep = sleep }
}

// WithJitter overrides the jitter source. The source must return values in
// [0, 1).
func WithJitter(jitter func() float64) Option {
	return func(c *Cache) { c.jitter = jitter }
}

// WithLookupHook observes every cache lookup (for metrics).
func WithLookupHook(hook func(hit bool)) Option {
	return func(c *Cache) { c.onLookup = hook }
}

// New creates an empty cache.
func New(logger zerolog.Logger, opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[Key]entry),
		gens:    make(map[Key]uint64),
		logger:  logger.With().Str("component", "cache").Logger(),
		now:     time.Now,
		sleep:   sleepCtx,
		jitter:  rand.Float64, // #nosec G404 -- jitter, not crypto
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do returns the cached value for key when fresh within ttl, otherwise calls
// producer exactly once regardless of how many goroutines ask concurrently.
func (c *Cache) Do(ctx context.Context, key Key, ttl time.Duration, producer Producer) (any, error) {
	if v, ok := c.lookup(key, ttl); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key.String(), func() (any, error) {
		// A racing caller may have populated the entry while we waited
		// on the flight group.
		if v, ok := c.lookup(key, ttl); ok {
			return v, nil
		}
		gen := c.generation(key)
		value, err := c.produceWithRetry(ctx, key, producer)
		if err != nil {
			return nil, err
		}
		c.store(key, value, gen)
		return value, nil
	})
	return v, err
}

func (c *Cache) lookup(key Key, ttl time.Duration) (any, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	hit := ok && c.now().Sub(e.fetchedAt) < ttl
	if c.onLookup != nil {
		c.onLookup(hit)
	}
	if !hit {
		return nil, false
	}
	return e.value, true
}

func (c *Cache) generation(key Key) uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key]
}

// store keeps a produced value unless the key was invalidated while the
// fetch was in flight; such a result may predate a mutation and is
// discarded rather than cached.
func (c *Cache) store(key Key, value any, gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != gen {
		return
	}
	c.entries[key] = entry{value: value, fetchedAt: c.now()}
}

// produceWithRetry retries only throttling errors, with exponential
// full-jitter backoff. Timeouts and IAM denials surface immediately.
func (c *Cache) produceWithRetry(ctx context.Context, key Key, producer Producer) (any, error) {
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.backoffDelay(attempt - 1)
			c.logger.Debug().
				Str("key", key.String()).
				Int("attempt", attempt).
				Dur("delay", delay).
				Msg("throttled, backing off")
			if err := c.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("%w: %v", types.ErrUnavailable, err)
			}
		}

		value, err := producer(ctx)
		if err == nil {
			return value, nil
		}
		if !errors.Is(err, types.ErrThrottled) {
			return nil, err
		}
		lastErr = err
	}
	c.logger.Warn().Str("key", key.String()).Int("attempts", maxAttempts).Msg("retry budget exhausted")
	return nil, fmt.Errorf("%w: gave up after %d attempts: %v", types.ErrUnavailable, maxAttempts, lastErr)
}

// backoffDelay computes the n-th full-jitter delay: random in
// (0, base*2^(n-1)].
func (c *Cache) backoffDelay(n int) time.Duration {
	ceil := backoffBase << (n - 1)
	d := time.Duration(c.jitter() * float64(ceil))
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// Invalidate drops one cached entry and fences any fetch already in flight
// for the key.
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key)
	c.gens[key]++
	c.mu.Unlock()
}

// InvalidateResource drops every cached entry for a resource across both
// query types. Called after a successful mutating command so the next
// describe never observes pre-mutation state, even when that describe was
// already in flight when the mutation landed.
func (c *Cache) InvalidateResource(kind types.Kind, resourceID string) {
	c.mu.Lock()
	for _, query := range []string{QueryState, QueryMetrics} {
		k := Key{Kind: kind, ResourceID: resourceID, Query: query}
		delete(c.entries, k)
		c.gens[k]++
	}
	c.mu.Unlock()
}

// Len reports the number of live entries (fresh or stale).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
