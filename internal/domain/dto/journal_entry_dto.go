package dto

import "time"

type JournalEntry struct {
	SessionID string    `db:"session_id" bun:"session_id"`
	Kind      string    `db:"kind" bun:"kind"`
	Detail    string    `db:"detail" bun:"detail"`
	CreatedAt time.Time `db:"created_at" bun:"created_at"`
}

type JournalSummary struct {
	Kind  string `db:"kind" bun:"kind"`
	Total int64  `db:"total" bun:"total"`
}
