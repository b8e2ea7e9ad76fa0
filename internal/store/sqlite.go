package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // CGO-less SQLite driver

	"github.com/raphaelgruber/memu-go/internal/apperr"
	"github.com/raphaelgruber/memu-go/internal/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	user_id    TEXT NOT NULL DEFAULT '',
	payload    TEXT NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
`

// SQLiteStore keeps records in a single SQLite table, one row per record.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, apperr.Storage("create sqlite directory", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.Storage("open sqlite", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA synchronous=FULL;`); err != nil {
		_ = db.Close()
		return nil, apperr.Storage("configure sqlite", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, apperr.Storage("migrate sqlite", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Persist(ctx context.Context, rec *models.ConversationRecord) (string, error) {
	id := models.NewID()
	data, err := encode(rec, id)
	if err != nil {
		return "", apperr.Storage("encode conversation", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, user_id, payload, created_at) VALUES (?, ?, ?, ?)`,
		id, rec.OwnerID(), string(data), time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return "", apperr.Storage("insert conversation", err)
	}
	return id, nil
}

func (s *SQLiteStore) Locate(ctx context.Context, id string) (*models.ConversationRecord, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM conversations WHERE id = ?`, id).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, apperr.Storage("query conversation", err)
	}
	rec, err := decode([]byte(payload))
	if err != nil {
		return nil, apperr.Storage("decode conversation", fmt.Errorf("row %s: %w", id, err))
	}
	return rec, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM conversations`).Scan(&n); err != nil {
		return 0, apperr.Storage("count conversations", err)
	}
	return n, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
