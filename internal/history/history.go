// Package history keeps the per-feed record of previously observed events and
// decides whether an observation deserves a notification.
//
// A Store is owned by a single pipeline run: it is loaded whole at the start,
// mutated in memory, evicted by age and saved whole at the end. It is not safe
// for concurrent use.
package history

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rewired-gh/finnwatch/internal/logger"
	"github.com/rewired-gh/finnwatch/internal/models"
	"github.com/rewired-gh/finnwatch/internal/storage"
)

// Mode selects the dedup policy.
type Mode int

const (
	// ModeSimple alerts a key at most once: only when it is first observed.
	ModeSimple Mode = iota
	// ModeWindowed also alerts an already-seen key once, if it has not been
	// alerted yet and becomes significant within the re-check window.
	ModeWindowed
)

// ParseMode maps the config spelling of a mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "simple":
		return ModeSimple, nil
	case "windowed":
		return ModeWindowed, nil
	default:
		return ModeSimple, fmt.Errorf("unknown dedup mode %q", s)
	}
}

func (m Mode) String() string {
	if m == ModeWindowed {
		return "windowed"
	}
	return "simple"
}

// Policy is the dedup configuration of one feed.
type Policy struct {
	Mode   Mode
	Window time.Duration // re-check window, ModeWindowed only
}

// Store maps EventKey to HistoryRecord.
type Store struct {
	backend storage.Snapshotter
	policy  Policy
	records map[string]*models.HistoryRecord
}

// New returns an empty store backed by backend.
func New(backend storage.Snapshotter, policy Policy) *Store {
	return &Store{
		backend: backend,
		policy:  policy,
		records: make(map[string]*models.HistoryRecord),
	}
}

// Policy returns the store's dedup policy.
func (s *Store) Policy() Policy {
	return s.policy
}

// Load replaces the in-memory records with the persisted snapshot. Load is
// best-effort: an unreadable snapshot yields an empty store and a warning,
// never an error, and invalid records are dropped individually.
func (s *Store) Load(ctx context.Context) {
	s.records = make(map[string]*models.HistoryRecord)

	snapshot, err := s.backend.Load(ctx)
	if err != nil {
		logger.Warn("Could not read history snapshot, starting with empty history: %v", err)
		return
	}

	dropped := 0
	for key, r := range snapshot {
		if r.Key == "" {
			r.Key = key
		}
		if err := r.Validate(); err != nil {
			dropped++
			logger.Debug("Dropping invalid history record %s: %v", key, err)
			continue
		}
		s.records[key] = &r
	}
	if dropped > 0 {
		logger.Warn("Dropped %d invalid history records", dropped)
	}
}

// Save persists every record, replacing the previous snapshot.
func (s *Store) Save(ctx context.Context) error {
	snapshot := make(map[string]models.HistoryRecord, len(s.records))
	for key, r := range s.records {
		snapshot[key] = *r
	}
	if err := s.backend.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// Len returns the number of records.
func (s *Store) Len() int {
	return len(s.records)
}

// Contains reports whether key has been observed and not yet evicted.
func (s *Store) Contains(key string) bool {
	_, ok := s.records[key]
	return ok
}

// Get returns a copy of the record for key.
func (s *Store) Get(key string) (models.HistoryRecord, bool) {
	r, ok := s.records[key]
	if !ok {
		return models.HistoryRecord{}, false
	}
	return *r, true
}

// Upsert records an observation of key. A new key gets FirstSeen = now; an
// existing key keeps FirstSeen and its alert state, and its payload is
// replaced by the latest fetch.
func (s *Store) Upsert(key string, payload json.RawMessage, now time.Time) {
	if r, ok := s.records[key]; ok {
		r.LastSeen = now
		r.Payload = payload
		return
	}
	s.records[key] = &models.HistoryRecord{
		Key:       key,
		FirstSeen: now,
		LastSeen:  now,
		Payload:   payload,
	}
}

// ShouldAlert applies the dedup policy to an observation of key whose
// significance has already been evaluated. It must be called before the
// observation is upserted.
func (s *Store) ShouldAlert(key string, significant bool, now time.Time) bool {
	if !significant {
		return false
	}
	r, ok := s.records[key]
	if !ok {
		return true
	}
	if s.policy.Mode != ModeWindowed || r.Alerted {
		return false
	}
	return r.Age(now) <= s.policy.Window
}

// MarkAlerted flags key as alerted. Once set it is never cleared.
func (s *Store) MarkAlerted(key string, now time.Time) {
	r, ok := s.records[key]
	if !ok || r.Alerted {
		return
	}
	at := now
	r.Alerted = true
	r.AlertedAt = &at
}

// EvictOlderThan drops records first seen before now - horizon and returns
// how many were removed.
func (s *Store) EvictOlderThan(horizon time.Duration, now time.Time) int {
	cutoff := now.Add(-horizon)
	evicted := 0
	for key, r := range s.records {
		if r.FirstSeen.Before(cutoff) {
			delete(s.records, key)
			evicted++
		}
	}
	return evicted
}

// Stats summarizes the store for the history command.
type Stats struct {
	Records         int
	Alerted         int
	OldestFirstSeen time.Time
	NewestFirstSeen time.Time
}

// Stats computes record counts and the first-seen range.
func (s *Store) Stats() Stats {
	st := Stats{Records: len(s.records)}
	firsts := make([]time.Time, 0, len(s.records))
	for _, r := range s.records {
		if r.Alerted {
			st.Alerted++
		}
		firsts = append(firsts, r.FirstSeen)
	}
	if len(firsts) > 0 {
		sort.Slice(firsts, func(i, j int) bool { return firsts[i].Before(firsts[j]) })
		st.OldestFirstSeen = firsts[0]
		st.NewestFirstSeen = firsts[len(firsts)-1]
	}
	return st
}
