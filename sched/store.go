// Package sched runs daily start/stop schedules for full-control aliases.
// Schedules survive restarts in a bbolt store and expire after a retention
// period.
package sched

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"opsbot/types"
)

var bucketSchedules = []byte("schedules")

// Schedule is one daily start/stop pair for a resource alias.
type Schedule struct {
	Alias      string     `json:"alias"`
	Kind       types.Kind `json:"kind"`
	ResourceID string     `json:"resource_id"`
	StartAt    string     `json:"start_at"` // HH:MM
	StopAt     string     `json:"stop_at"`  // HH:MM
	CreatedAt  time.Time  `json:"created_at"`
	ExpiresAt  time.Time  `json:"expires_at"`
}

// Expired reports whether the schedule passed its retention window.
func (s Schedule) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Store persists schedules in a bbolt bucket, keyed by alias. One schedule
// per alias; Put replaces.
type Store struct {
	db *bbolt.DB
}

// OpenStore opens (or creates) the schedule database.
func OpenStore(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open schedule store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSchedules)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to init schedule bucket: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Put stores or replaces the schedule for an alias.
func (s *Store) Put(sched Schedule) error {
	data, err := json.Marshal(sched)
	if err != nil {
		return fmt.Errorf("failed to encode schedule: %w", err)
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).Put([]byte(sched.Alias), data)
	})
}

// Get returns the schedule for an alias.
func (s *Store) Get(alias string) (Schedule, error) {
	var sched Schedule
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSchedules).Get([]byte(alias))
		if data == nil {
			return fmt.Errorf("%w: no schedule for %q", types.ErrNotFound, alias)
		}
		return json.Unmarshal(data, &sched)
	})
	return sched, err
}

// Delete removes the schedule for an alias.
func (s *Store) Delete(alias string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(bucketSchedules).Get([]byte(alias)) == nil {
			return fmt.Errorf("%w: no schedule for %q", types.ErrNotFound, alias)
		}
		return tx.Bucket(bucketSchedules).Delete([]byte(alias))
	})
}

// List returns all schedules sorted by alias.
func (s *Store) List() ([]Schedule, error) {
	var out []Schedule
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketSchedules).ForEach(func(_, v []byte) error {
			var sched Schedule
			if err := json.Unmarshal(v, &sched); err != nil {
				return err
			}
			out = append(out, sched)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out, nil
}
