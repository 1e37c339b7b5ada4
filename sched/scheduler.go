package sched

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"opsbot/cache"
	"opsbot/types"
)

// Control is the subset of the AWS control adapter the scheduler fires.
type Control interface {
	Start(ctx context.Context, kind types.Kind, resourceID string) error
	Stop(ctx context.Context, kind types.Kind, resourceID string) error
}

// Options configures schedule defaults.
type Options struct {
	DefaultStart  string
	DefaultStop   string
	RetentionDays int
}

// Scheduler fires due schedule actions once per minute, through the same
// control adapter and cache invalidation path as chat commands.
type Scheduler struct {
	store   *Store
	control Control
	cache   *cache.Cache
	opts    Options
	logger  zerolog.Logger
	now     func() time.Time
	tick    time.Duration
}

// New creates a scheduler over a store and control adapter.
func New(store *Store, control Control, c *cache.Cache, opts Options, logger zerolog.Logger) *Scheduler {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = 30
	}
	return &Scheduler{
		store:   store,
		control: control,
		cache:   c,
		opts:    opts,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
		tick:    time.Minute,
	}
}

// Set registers a daily start/stop pair for an alias. Empty times fall back
// to configured defaults. One schedule per alias; setting replaces.
func (s *Scheduler) Set(_ context.Context, alias types.ResourceAlias, startAt, stopAt string) error {
	if startAt == "" {
		startAt = s.opts.DefaultStart
	}
	if stopAt == "" {
		stopAt = s.opts.DefaultStop
	}

	startMin, err := parseHHMM(startAt)
	if err != nil {
		return err
	}
	stopMin, err := parseHHMM(stopAt)
	if err != nil {
		return err
	}
	if stopMin <= startMin {
		return fmt.Errorf("%w: stop time %s must be after start time %s", types.ErrConfig, stopAt, startAt)
	}

	now := s.now()
	sched := Schedule{
		Alias:      alias.Alias,
		Kind:       alias.Kind,
		ResourceID: alias.ResourceID,
		StartAt:    startAt,
		StopAt:     stopAt,
		CreatedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, s.opts.RetentionDays),
	}
	if err := s.store.Put(sched); err != nil {
		return err
	}
	s.logger.Info().
		Str("alias", alias.Alias).
		Str("start_at", startAt).
		Str("stop_at", stopAt).
		Time("expires_at", sched.ExpiresAt).
		Msg("schedule set")
	return nil
}

// Remove deletes the schedule for an alias.
func (s *Scheduler) Remove(_ context.Context, alias string) error {
	return s.store.Delete(alias)
}

// List returns all registered schedules.
func (s *Scheduler) List(_ context.Context) ([]Schedule, error) {
	return s.store.List()
}

// Run fires due actions once per minute until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.fireDue(ctx)
		}
	}
}

// fireDue runs every schedule action whose HH:MM matches the current minute
// and prunes expired schedules.
func (s *Scheduler) fireDue(ctx context.Context) {
	schedules, err := s.store.List()
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list schedules")
		return
	}

	now := s.now()
	hhmm := now.Format("15:04")
	for _, sched := range schedules {
		if sched.Expired(now) {
			s.logger.Info().Str("alias", sched.Alias).Msg("schedule expired, removing")
			if err := s.store.Delete(sched.Alias); err != nil {
				s.logger.Error().Err(err).Str("alias", sched.Alias).Msg("failed to remove expired schedule")
			}
			continue
		}
		switch hhmm {
		case sched.StartAt:
			s.fire(ctx, sched, "start")
		case sched.StopAt:
			s.fire(ctx, sched, "stop")
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, sched Schedule, op string) {
	var err error
	if op == "start" {
		err = s.control.Start(ctx, sched.Kind, sched.ResourceID)
	} else {
		err = s.control.Stop(ctx, sched.Kind, sched.ResourceID)
	}
	if err != nil {
		s.logger.Error().Err(err).
			Str("alias", sched.Alias).
			Str("op", op).
			Msg("scheduled action failed")
		return
	}
	s.cache.InvalidateResource(sched.Kind, sched.ResourceID)
	s.logger.Info().Str("alias", sched.Alias).Str("op", op).Msg("scheduled action fired")
}

// parseHHMM validates a wall-clock time and returns minutes since midnight.
func parseHHMM(v string) (int, error) {
	parts := strings.SplitN(v, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: time %q must be HH:MM", types.ErrConfig, v)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, fmt.Errorf("%w: hour in %q must be 00-23", types.ErrConfig, v)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("%w: minute in %q must be 00-59", types.ErrConfig, v)
	}
	return hour*60 + minute, nil
}
