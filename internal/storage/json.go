package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rewired-gh/finnwatch/internal/models"
)

// JSONFile stores a history snapshot as one indented JSON object keyed by
// EventKey. Saves go to a temp file in the same directory which then replaces
// the snapshot with a rename.
type JSONFile struct {
	path string
}

// NewJSONFile returns a JSON backend for path. Nothing is read until Load.
func NewJSONFile(path string) *JSONFile {
	return &JSONFile{path: path}
}

// Load reads the snapshot. A missing or blank file is an empty history.
func (j *JSONFile) Load(_ context.Context) (map[string]models.HistoryRecord, error) {
	records := make(map[string]models.HistoryRecord)

	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history file: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return records, nil
	}

	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse history file: %w", err)
	}
	for key, r := range records {
		if r.Key == "" {
			r.Key = key
			records[key] = r
		}
	}
	return records, nil
}

// Save writes records to a temp file and renames it over the snapshot.
func (j *JSONFile) Save(_ context.Context, records map[string]models.HistoryRecord) error {
	dir := filepath.Dir(j.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck // no-op after a successful rename

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(records); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to encode history: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to sync history: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, j.path); err != nil {
		return fmt.Errorf("failed to replace history file: %w", err)
	}
	return nil
}

// Close is a no-op; the JSON backend holds no open handles.
func (j *JSONFile) Close() error {
	return nil
}
