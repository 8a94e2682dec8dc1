// Package storage provides durable snapshot backends for alert history.
//
// A snapshot is the whole key -> record mapping of one feed. It is read fully
// when a run starts and replaced fully when the run completes; neither backend
// ever exposes a half-written snapshot.
package storage

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/rewired-gh/finnwatch/internal/models"
)

// Snapshotter loads and replaces a history snapshot.
type Snapshotter interface {
	Load(ctx context.Context) (map[string]models.HistoryRecord, error)
	Save(ctx context.Context, records map[string]models.HistoryRecord) error
	Close() error
}

// Open picks a backend from the file extension: ".json" files use the JSON
// backend, anything else is treated as a SQLite database.
func Open(path string) (Snapshotter, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return NewJSONFile(path), nil
	}
	return NewSQLite(path)
}
