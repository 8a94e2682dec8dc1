// Package models defines the persisted domain entities shared by the history
// store and its snapshot backends.
package models

import (
	"encoding/json"
	"errors"
	"time"
)

// HistoryRecord is what the history store keeps for one EventKey.
// FirstSeen is set once when the key is first observed and never changes;
// Payload always holds the most recently fetched copy of the event.
type HistoryRecord struct {
	Key       string          `json:"key"`
	FirstSeen time.Time       `json:"first_seen"`
	LastSeen  time.Time       `json:"last_seen"`
	Alerted   bool            `json:"alerted"`
	AlertedAt *time.Time      `json:"alerted_at,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Validate checks record field constraints.
func (r *HistoryRecord) Validate() error {
	if r.Key == "" {
		return errors.New("history key must not be empty")
	}
	if r.FirstSeen.IsZero() {
		return errors.New("first seen must be set")
	}
	if !r.LastSeen.IsZero() && r.LastSeen.Before(r.FirstSeen) {
		return errors.New("last seen must be >= first seen")
	}
	if r.Alerted && r.AlertedAt == nil {
		return errors.New("alerted record must carry alerted at")
	}
	if !r.Alerted && r.AlertedAt != nil {
		return errors.New("alerted at set on a record that was never alerted")
	}
	if len(r.Payload) > 0 && !json.Valid(r.Payload) {
		return errors.New("payload must be valid JSON")
	}
	return nil
}

// Age returns how long ago the key was first observed.
func (r *HistoryRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.FirstSeen)
}
