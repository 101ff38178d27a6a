package repository

import (
	"context"
	"errors"
	"fmt"
	"photobooth-kiosk/internal/database"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/domain/dto"
	"time"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 500
)

const createJournalSQLite = `
CREATE TABLE IF NOT EXISTS kiosk_journal (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);`

const createJournalPostgres = `
CREATE TABLE IF NOT EXISTS kiosk_journal (
    id         BIGSERIAL PRIMARY KEY,
    session_id TEXT NOT NULL,
    kind       TEXT NOT NULL,
    detail     TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);`

const createJournalIndex = `
CREATE INDEX IF NOT EXISTS kiosk_journal_created_at_idx ON kiosk_journal (created_at);`

const insertJournalQuery = `
INSERT INTO kiosk_journal (session_id, kind, detail, created_at)
VALUES (?, ?, ?, ?);`

const recentJournalQuery = `
SELECT session_id, kind, detail, created_at
  FROM kiosk_journal
 ORDER BY id DESC
 LIMIT ?;`

const summaryJournalQuery = `
SELECT kind, COUNT(1) AS total
  FROM kiosk_journal
 WHERE created_at >= ?
 GROUP BY kind
 ORDER BY kind;`

var _ domain.JournalRepository = (*JournalRepository)(nil)

type JournalRepository struct {
	db database.DB
}

// NewJournalRepository creates a new journal repository instance
func NewJournalRepository(db database.DB) *JournalRepository {
	if db == nil {
		panic("database must not be nil")
	}

	return &JournalRepository{
		db: db,
	}
}

// EnsureSchema creates the journal table for the connected dialect
func (rpt *JournalRepository) EnsureSchema(ctx context.Context) error {
	ddl := createJournalSQLite
	if rpt.db.Dialect() == database.DialectPostgres {
		ddl = createJournalPostgres
	}

	if err := rpt.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}
	if err := rpt.db.Exec(ctx, createJournalIndex); err != nil {
		return fmt.Errorf("create journal index: %w", err)
	}
	return nil
}

func (rpt *JournalRepository) Append(ctx context.Context, entry *dto.JournalEntry) error {
	if entry == nil || entry.Kind == "" {
		return errors.New("journal entry kind is required")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	return rpt.db.Exec(ctx, insertJournalQuery, entry.SessionID, entry.Kind, entry.Detail, entry.CreatedAt)
}

// Recent returns the latest entries, newest first
func (rpt *JournalRepository) Recent(ctx context.Context, limit int) ([]dto.JournalEntry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	limit = min(limit, MaxRecentLimit)

	entries := make([]dto.JournalEntry, 0, limit)
	if err := rpt.db.QueryStruct(ctx, &entries, recentJournalQuery, limit); err != nil {
		return nil, err
	}
	return entries, nil
}

func (rpt *JournalRepository) Summary(ctx context.Context, since time.Time) ([]dto.JournalSummary, error) {
	summary := make([]dto.JournalSummary, 0)
	if err := rpt.db.QueryStruct(ctx, &summary, summaryJournalQuery, since); err != nil {
		return nil, err
	}
	return summary, nil
}
