package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/finnwatch/internal/logger"
	"github.com/rewired-gh/finnwatch/internal/models"
	_ "modernc.org/sqlite"
)

// SQLite stores a history snapshot in a single SQLite database file.
type SQLite struct {
	db   *sql.DB
	path string
}

// NewSQLite opens or creates the database at path. A file that is not a
// readable database is moved aside and replaced with a fresh one, so a
// corrupt snapshot never blocks startup.
func NewSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path must not be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	s, err := openSQLite(path)
	if err == nil {
		return s, nil
	}
	if path == ":memory:" {
		return nil, err
	}

	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().Unix())
	logger.Warn("History database %s unreadable (%v), moving it to %s", path, err, aside)
	if renameErr := os.Rename(path, aside); renameErr != nil {
		return nil, fmt.Errorf("failed to move corrupt database aside: %w", errors.Join(err, renameErr))
	}
	return openSQLite(path)
}

func openSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer, single run
	s := &SQLite{db: db, path: path}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS history (
			key         TEXT PRIMARY KEY,
			first_seen  INTEGER NOT NULL,
			last_seen   INTEGER NOT NULL,
			alerted     INTEGER NOT NULL DEFAULT 0,
			alerted_at  INTEGER,
			payload     TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_first_seen ON history(first_seen)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Load reads every record in the snapshot.
func (s *SQLite) Load(ctx context.Context) (map[string]models.HistoryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, first_seen, last_seen, alerted, alerted_at, payload FROM history`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	records := make(map[string]models.HistoryRecord)
	for rows.Next() {
		r, err := scanRecord(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records[r.Key] = *r
	}
	return records, rows.Err()
}

// Save replaces the snapshot with records inside one transaction.
func (s *SQLite) Save(ctx context.Context, records map[string]models.HistoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO history (key, first_seen, last_seen, alerted, alerted_at, payload)
		VALUES (?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for key, r := range records {
		var alertedAt sql.NullInt64
		if r.AlertedAt != nil {
			alertedAt = sql.NullInt64{Int64: r.AlertedAt.UnixNano(), Valid: true}
		}
		var payload sql.NullString
		if len(r.Payload) > 0 {
			payload = sql.NullString{String: string(r.Payload), Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			key, r.FirstSeen.UnixNano(), r.LastSeen.UnixNano(),
			boolToInt(r.Alerted), alertedAt, payload,
		); err != nil {
			return fmt.Errorf("failed to insert history record %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func scanRecord(scan func(...any) error) (*models.HistoryRecord, error) {
	var r models.HistoryRecord
	var firstSeenNano, lastSeenNano int64
	var alerted int
	var alertedAt sql.NullInt64
	var payload sql.NullString

	if err := scan(&r.Key, &firstSeenNano, &lastSeenNano, &alerted, &alertedAt, &payload); err != nil {
		return nil, err
	}
	r.FirstSeen = time.Unix(0, firstSeenNano)
	r.LastSeen = time.Unix(0, lastSeenNano)
	r.Alerted = alerted != 0
	if alertedAt.Valid {
		t := time.Unix(0, alertedAt.Int64)
		r.AlertedAt = &t
	}
	if payload.Valid {
		r.Payload = []byte(payload.String)
	}
	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
