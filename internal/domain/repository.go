package domain

import (
	"context"
	"photobooth-kiosk/internal/domain/dto"
	"time"
)

type JournalRepository interface {
	Append(ctx context.Context, entry *dto.JournalEntry) error
	Recent(ctx context.Context, limit int) ([]dto.JournalEntry, error)
	Summary(ctx context.Context, since time.Time) ([]dto.JournalSummary, error)
}
