package sched

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"opsbot/cache"
	"opsbot/types"
)

type fakeControl struct {
	started []string
	stopped []string
	err     error
}

func (f *fakeControl) Start(ctx context.Context, kind types.Kind, resourceID string) error {
	f.started = append(f.started, resourceID)
	return f.err
}

func (f *fakeControl) Stop(ctx context.Context, kind types.Kind, resourceID string) error {
	f.stopped = append(f.stopped, resourceID)
	return f.err
}

func testAlias() types.ResourceAlias {
	return types.ResourceAlias{
		Alias:      "web",
		Kind:       types.KindEC2,
		ResourceID: "i-0abc123def456789a",
		Tier:       types.TierFullControl,
	}
}

func newTestScheduler(t *testing.T, control *fakeControl) (*Scheduler, *cache.Cache) {
	t.Helper()
	c := cache.New(zerolog.Nop())
	s := New(openTestStore(t), control, c, Options{
		DefaultStart:  "09:00",
		DefaultStop:   "18:00",
		RetentionDays: 30,
	}, zerolog.Nop())
	return s, c
}

func TestParseHHMM(t *testing.T) {
	tests := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{"00:00", 0, false},
		{"09:00", 540, false},
		{"23:59", 1439, false},
		{"24:00", 0, true},
		{"12:60", 0, true},
		{"9am", 0, true},
		{"12", 0, true},
		{"", 0, true},
		{"ab:cd", 0, true},
	}
	for _, tt := range tests {
		got, err := parseHHMM(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHHMM(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got != tt.want {
			t.Errorf("parseHHMM(%q) = %d, want %d", tt.in, got, tt.want)
		}
		if err != nil && !errors.Is(err, types.ErrConfig) {
			t.Errorf("parseHHMM(%q) error = %v, want ErrConfig", tt.in, err)
		}
	}
}

func TestSetDefaultsAndValidation(t *testing.T) {
	s, _ := newTestScheduler(t, &fakeControl{})
	ctx := context.Background()

	// Empty times take the configured defaults.
	if err := s.Set(ctx, testAlias(), "", ""); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, err := s.store.Get("web")
	if err != nil {
		t.Fatal(err)
	}
	if got.StartAt != "09:00" || got.StopAt != "18:00" {
		t.Errorf("schedule = %s-%s, want defaults 09:00-18:00", got.StartAt, got.StopAt)
	}

	// Stop must come after start.
	if err := s.Set(ctx, testAlias(), "18:00", "09:00"); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Set(inverted) error = %v, want ErrConfig", err)
	}
	if err := s.Set(ctx, testAlias(), "08:00", "08:00"); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Set(equal) error = %v, want ErrConfig", err)
	}
	if err := s.Set(ctx, testAlias(), "25:00", "26:00"); !errors.Is(err, types.ErrConfig) {
		t.Errorf("Set(bad hour) error = %v, want ErrConfig", err)
	}
}

func TestFireDueStartsAtStartTime(t *testing.T) {
	control := &fakeControl{}
	s, c := newTestScheduler(t, control)
	ctx := context.Background()

	if err := s.Set(ctx, testAlias(), "09:00", "18:00"); err != nil {
		t.Fatal(err)
	}

	// Warm the cache so invalidation is observable.
	key := cache.Key{Kind: types.KindEC2, ResourceID: "i-0abc123def456789a", Query: cache.QueryState}
	if _, err := c.Do(ctx, key, time.Hour, func(context.Context) (any, error) {
		return types.StateStopped, nil
	}); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Date(2026, 8, 31, 9, 0, 30, 0, time.UTC) }
	s.fireDue(ctx)

	if len(control.started) != 1 || control.started[0] != "i-0abc123def456789a" {
		t.Errorf("started = %v, want the scheduled instance", control.started)
	}
	if len(control.stopped) != 0 {
		t.Errorf("stopped = %v, want none at start time", control.stopped)
	}
	if c.Len() != 0 {
		t.Errorf("cache entries = %d, want 0 after scheduled start", c.Len())
	}
}

func TestFireDueStopsAtStopTime(t *testing.T) {
	control := &fakeControl{}
	s, _ := newTestScheduler(t, control)
	ctx := context.Background()

	if err := s.Set(ctx, testAlias(), "09:00", "18:00"); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Date(2026, 8, 31, 18, 0, 0, 0, time.UTC) }
	s.fireDue(ctx)

	if len(control.stopped) != 1 {
		t.Errorf("stopped = %v, want one stop", control.stopped)
	}
	if len(control.started) != 0 {
		t.Errorf("started = %v, want none at stop time", control.started)
	}
}

func TestFireDueNoActionOffSchedule(t *testing.T) {
	control := &fakeControl{}
	s, _ := newTestScheduler(t, control)
	ctx := context.Background()

	if err := s.Set(ctx, testAlias(), "09:00", "18:00"); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Date(2026, 8, 31, 12, 34, 0, 0, time.UTC) }
	s.fireDue(ctx)

	if len(control.started)+len(control.stopped) != 0 {
		t.Errorf("fired off schedule: started=%v stopped=%v", control.started, control.stopped)
	}
}

func TestFireDuePrunesExpired(t *testing.T) {
	control := &fakeControl{}
	s, _ := newTestScheduler(t, control)
	ctx := context.Background()

	s.now = func() time.Time { return time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC) }
	if err := s.Set(ctx, testAlias(), "09:00", "18:00"); err != nil {
		t.Fatal(err)
	}

	// Far past the 30-day retention, exactly at start time: the expired
	// schedule must be pruned, not fired.
	s.now = func() time.Time { return time.Date(2026, 12, 1, 9, 0, 0, 0, time.UTC) }
	s.fireDue(ctx)

	if len(control.started) != 0 {
		t.Errorf("started = %v, expired schedule must not fire", control.started)
	}
	if _, err := s.store.Get("web"); !errors.Is(err, types.ErrNotFound) {
		t.Errorf("expired schedule still stored: %v", err)
	}
}

func TestFireFailureKeepsCache(t *testing.T) {
	control := &fakeControl{err: errors.New("api down")}
	s, c := newTestScheduler(t, control)
	ctx := context.Background()

	if err := s.Set(ctx, testAlias(), "09:00", "18:00"); err != nil {
		t.Fatal(err)
	}
	key := cache.Key{Kind: types.KindEC2, ResourceID: "i-0abc123def456789a", Query: cache.QueryState}
	if _, err := c.Do(ctx, key, time.Hour, func(context.Context) (any, error) {
		return types.StateStopped, nil
	}); err != nil {
		t.Fatal(err)
	}

	s.now = func() time.Time { return time.Date(2026, 8, 31, 9, 0, 0, 0, time.UTC) }
	s.fireDue(ctx)

	if c.Len() != 1 {
		t.Errorf("cache entries = %d, want 1: failed action must not invalidate", c.Len())
	}
}
