package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nvandessel/refinery/internal/models"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS drafts (
	session_id   TEXT    NOT NULL,
	draft_number INTEGER NOT NULL,
	record       TEXT    NOT NULL,
	version      INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT    NOT NULL,
	updated_at   TEXT    NOT NULL,
	PRIMARY KEY (session_id, draft_number)
);

CREATE INDEX IF NOT EXISTS idx_drafts_updated_at ON drafts(updated_at DESC);
`

const upsertDraft = `
INSERT INTO drafts (session_id, draft_number, record, version, created_at, updated_at)
VALUES (?, ?, ?, 1, ?, ?)
ON CONFLICT(session_id, draft_number) DO UPDATE SET
	record = excluded.record,
	version = drafts.version + 1,
	updated_at = excluded.updated_at
`

// SQLiteStore implements SessionStore on a SQLite database file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time

	closeOnce sync.Once
	closeErr  error
	mu        sync.RWMutex
	closed    bool
}

// NewSQLiteStore opens (or creates) the database at dbPath. The parent
// directory is created with 0700 permissions if it doesn't exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("open session store: %w", models.Invalid("storage.path", "must not be empty"))
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
			return nil, fmt.Errorf("create database directory: %w: %w", models.ErrStorage, err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w: %w", models.ErrStorage, err)
	}
	// One connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set journal mode: %w: %w", models.ErrStorage, err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w: %w", models.ErrStorage, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate database: %w: %w", models.ErrStorage, err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) checkOpen() error {
	if s.closed {
		return fmt.Errorf("session store closed: %w", models.ErrStorage)
	}
	return nil
}

// Upsert writes rec under (sessionID, rec.SequenceNumber).
func (s *SQLiteStore) Upsert(ctx context.Context, sessionID string, rec models.StepRecord) error {
	if err := validateKey(sessionID, rec.SequenceNumber); err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal draft: %w", err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return err
	}

	ts := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.db.ExecContext(ctx, upsertDraft, sessionID, rec.SequenceNumber, string(data), ts, ts); err != nil {
		return fmt.Errorf("upsert draft %d: %w: %w", rec.SequenceNumber, models.ErrStorage, err)
	}
	return nil
}

// Get returns the record stored at (sessionID, draftNumber).
func (s *SQLiteStore) Get(ctx context.Context, sessionID string, draftNumber int) (*models.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT record FROM drafts WHERE session_id = ? AND draft_number = ?`,
		sessionID, draftNumber,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("draft %d in session %q: %w", draftNumber, sessionID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get draft %d: %w: %w", draftNumber, models.ErrStorage, err)
	}

	var rec models.StepRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("decode draft %d: %w: %w", draftNumber, models.ErrStorage, err)
	}
	return &rec, nil
}

// Recent returns up to limit records, newest draft number first.
func (s *SQLiteStore) Recent(ctx context.Context, sessionID string, limit int) ([]models.StepRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM drafts WHERE session_id = ? ORDER BY draft_number DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query recent drafts: %w: %w", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []models.StepRecord
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan draft: %w: %w", models.ErrStorage, err)
		}
		var rec models.StepRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, fmt.Errorf("decode draft: %w: %w", models.ErrStorage, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w: %w", models.ErrStorage, err)
	}
	return out, nil
}

// Rows returns every row of a session in draft order.
func (s *SQLiteStore) Rows(ctx context.Context, sessionID string) ([]DraftRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT draft_number, record, version, created_at, updated_at
		FROM drafts WHERE session_id = ? ORDER BY draft_number ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query drafts: %w: %w", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []DraftRow
	for rows.Next() {
		var row DraftRow
		var data, created, updated string
		if err := rows.Scan(&row.DraftNumber, &data, &row.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan draft: %w: %w", models.ErrStorage, err)
		}
		if err := json.Unmarshal([]byte(data), &row.Record); err != nil {
			return nil, fmt.Errorf("decode draft %d: %w: %w", row.DraftNumber, models.ErrStorage, err)
		}
		row.SessionID = sessionID
		row.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		row.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate drafts: %w: %w", models.ErrStorage, err)
	}
	return out, nil
}

// Sessions lists the known sessions, most recently updated first.
func (s *SQLiteStore) Sessions(ctx context.Context) ([]SessionSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, COUNT(*), MAX(updated_at)
		FROM drafts GROUP BY session_id
		ORDER BY MAX(updated_at) DESC, session_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w: %w", models.ErrStorage, err)
	}
	defer rows.Close()

	var out []SessionSummary
	for rows.Next() {
		var (
			sum     SessionSummary
			updated string
		)
		if err := rows.Scan(&sum.SessionID, &sum.Drafts, &updated); err != nil {
			return nil, fmt.Errorf("scan session: %w: %w", models.ErrStorage, err)
		}
		sum.LastUpdated, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w: %w", models.ErrStorage, err)
	}
	return out, nil
}

// DeleteSession removes every draft of sessionID.
func (s *SQLiteStore) DeleteSession(ctx context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen(); err != nil {
		return 0, err
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM drafts WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("delete session: %w: %w", models.ErrStorage, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete session: %w: %w", models.ErrStorage, err)
	}
	return int(n), nil
}

// Close closes the database. Subsequent calls return the first result.
func (s *SQLiteStore) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.closed = true
		s.closeErr = s.db.Close()
	})
	return s.closeErr
}

func validateKey(sessionID string, draftNumber int) error {
	if sessionID == "" {
		return models.Invalid("sessionId", "must not be empty")
	}
	if draftNumber < 1 {
		return models.Invalid("sequenceNumber", "must be >= 1, got %d", draftNumber)
	}
	return nil
}
