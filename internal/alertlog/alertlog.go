// Package alertlog keeps a SQLite history of spoken alerts.
package alertlog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/Craftycody123/vision-safe-nav/internal/logger"
	"github.com/Craftycody123/vision-safe-nav/internal/voice"
)

// ErrClosed is returned after Close.
var ErrClosed = errors.New("alertlog: closed")

// Alert is one recorded utterance.
type Alert struct {
	ID         int64     `json:"id"`
	RunID      string    `json:"run_id"`
	Message    string    `json:"message"`
	Object     string    `json:"object,omitempty"`
	Direction  string    `json:"direction,omitempty"`
	Priority   *int      `json:"priority,omitempty"`
	SpokenAt   time.Time `json:"spoken_at"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
}

// Store persists alerts. It is safe for concurrent use; calls after Close
// return ErrClosed.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    message TEXT NOT NULL,
    object TEXT,
    direction TEXT,
    priority INTEGER,
    spoken_at INTEGER NOT NULL,
    duration_ms INTEGER NOT NULL,
    error TEXT
);
CREATE INDEX IF NOT EXISTS idx_alerts_spoken_at ON alerts (spoken_at);
CREATE INDEX IF NOT EXISTS idx_alerts_run_id ON alerts (run_id, spoken_at);
`

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "busy_timeout") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening alert log: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts a.
func (s *Store) Record(ctx context.Context, a Alert) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return 0, ErrClosed
	}
	var prio sql.NullInt64
	if a.Priority != nil {
		prio = sql.NullInt64{Int64: int64(*a.Priority), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (run_id, message, object, direction, priority, spoken_at, duration_ms, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Message, nullString(a.Object), nullString(a.Direction), prio,
		a.SpokenAt.UnixMilli(), a.DurationMs, nullString(a.Error),
	)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return res.LastInsertId()
}

const selectAlerts = `SELECT id, run_id, message, object, direction, priority, spoken_at, duration_ms, error FROM alerts`

// Recent returns up to limit alerts, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Alert, error) {
	return s.RecentForRun(ctx, "", limit)
}

// RecentForRun returns up to limit alerts of one run, newest first. An empty
// runID matches every run.
func (s *Store) RecentForRun(ctx context.Context, runID string, limit int) ([]Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	if limit <= 0 {
		limit = 50
	}

	query := selectAlerts + ` ORDER BY spoken_at DESC, id DESC LIMIT ?`
	args := []any{limit}
	if runID != "" {
		query = selectAlerts + ` WHERE run_id = ? ORDER BY spoken_at DESC, id DESC LIMIT ?`
		args = []any{runID, limit}
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var (
			a                     Alert
			object, dir, errorMsg sql.NullString
			prio                  sql.NullInt64
			spokenAt              int64
		)
		if err := rows.Scan(&a.ID, &a.RunID, &a.Message, &object, &dir, &prio, &spokenAt, &a.DurationMs, &errorMsg); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Object = object.String
		a.Direction = dir.String
		a.Error = errorMsg.String
		if prio.Valid {
			p := int(prio.Int64)
			a.Priority = &p
		}
		a.SpokenAt = time.UnixMilli(spokenAt)
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// FromUtterance converts a finished utterance into an Alert.
func FromUtterance(u voice.Utterance) Alert {
	a := Alert{
		RunID:      u.RunID,
		Message:    u.Message,
		SpokenAt:   u.StartedAt,
		DurationMs: u.Duration.Milliseconds(),
	}
	if u.Top != nil {
		p := u.Top.Priority
		a.Object = u.Top.Object
		a.Direction = string(u.Top.Direction)
		a.Priority = &p
	}
	if u.Err != nil {
		a.Error = u.Err.Error()
	}
	return a
}

// Observer returns a voice observer that records every utterance.
func (s *Store) Observer() voice.Observer {
	return func(u voice.Utterance) {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := s.Record(ctx, FromUtterance(u)); err != nil {
			logger.Warn("AlertLog", "record %q: %v", u.Message, err)
		}
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
