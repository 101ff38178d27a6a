package services

import (
	"context"
	"encoding/json"
	"fmt"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/domain/dto"
	"sync"
	"time"
)

// Journal entry kinds
const (
	JournalSessionStarted   = "session_started"
	JournalVoucherApplied   = "voucher_applied"
	JournalPaymentCreated   = "payment_created"
	JournalFrameSaved       = "frame_saved"
	JournalPhotoCaptured    = "photo_captured"
	JournalMerged           = "merged"
	JournalPrinted          = "printed"
	JournalPrintFailed      = "print_failed"
	JournalUploaded         = "uploaded"
	JournalUploadFailed     = "upload_failed"
	JournalSessionCompleted = "session_completed"
	JournalSessionReset     = "session_reset"
)

const (
	journalQueueSize     = 256
	journalAppendTimeout = 5 * time.Second
)

// JournalService records kiosk activity. Recording is best effort and never
// blocks the guest flow. A single writer appends entries in the order they
// were recorded, so the repository never sees overlapping writes.
type JournalService struct {
	repository domain.JournalRepository
	logger     domain.Logger

	mu      sync.Mutex
	closed  bool
	pending chan *dto.JournalEntry
	done    chan struct{}
}

// NewJournalService creates a journal service, a nil repository disables it
func NewJournalService(repository domain.JournalRepository, logger domain.Logger) *JournalService {
	s := &JournalService{
		repository: repository,
		logger:     logger,
	}
	if repository != nil {
		s.pending = make(chan *dto.JournalEntry, journalQueueSize)
		s.done = make(chan struct{})
		go s.write()
	}
	return s
}

func (s *JournalService) Enabled() bool {
	return s != nil && s.repository != nil
}

// Record queues an entry. Failures are logged and a full queue drops the entry.
func (s *JournalService) Record(sessionID, kind string, detail map[string]any) {
	if !s.Enabled() {
		return
	}

	entry := &dto.JournalEntry{
		SessionID: sessionID,
		Kind:      kind,
		CreatedAt: time.Now().UTC(),
	}
	if len(detail) > 0 {
		raw, err := json.Marshal(detail)
		if err != nil {
			s.logger.WithError(err).WithField("kind", kind).Warn("journal detail not encodable")
		} else {
			entry.Detail = string(raw)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.pending <- entry:
	default:
		s.logger.WithFields(map[string]any{
			"session": sessionID,
			"kind":    kind,
		}).Warn("journal queue full, entry dropped")
	}
}

func (s *JournalService) write() {
	defer close(s.done)
	for entry := range s.pending {
		ctx, cancel := context.WithTimeout(context.Background(), journalAppendTimeout)
		err := s.repository.Append(ctx, entry)
		cancel()
		if err != nil {
			s.logger.WithError(err).WithFields(map[string]any{
				"session": entry.SessionID,
				"kind":    entry.Kind,
			}).Warn("journal append failed")
		}
	}
}

// Close writes what is still queued and stops the writer. Later records are
// ignored.
func (s *JournalService) Close() {
	if !s.Enabled() {
		return
	}
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.pending)
	}
	s.mu.Unlock()
	<-s.done
}

func (s *JournalService) Recent(ctx context.Context, limit int) ([]dto.JournalEntry, error) {
	if !s.Enabled() {
		return nil, nil
	}
	entries, err := s.repository.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("load recent journal entries: %w", err)
	}
	return entries, nil
}

// Summary counts entries per kind since the given time
func (s *JournalService) Summary(ctx context.Context, since time.Time) ([]dto.JournalSummary, error) {
	if !s.Enabled() {
		return nil, nil
	}
	summary, err := s.repository.Summary(ctx, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("summarize journal: %w", err)
	}
	return summary, nil
}
