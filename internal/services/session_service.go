package services

import (
	"photobooth-kiosk/internal/domain"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionService holds the local cache of the active kiosk session.
// The backend owns the authoritative record.
type SessionService struct {
	current *domain.KioskSession
	gen     uint64
	mu      sync.RWMutex
}

// NewSessionService creates a new session service instance
func NewSessionService() *SessionService {
	return &SessionService{}
}

// Start replaces any active session with a fresh one
func (s *SessionService) Start() domain.KioskSession {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.gen++
	s.current = &domain.KioskSession{
		ID:        uuid.NewString(),
		Status:    domain.SessionInProgress,
		MediaURLs: make(map[string]string),
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.snapshot()
}

// Current returns a copy of the active session, ok is false when none is active
func (s *SessionService) Current() (domain.KioskSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.current == nil {
		return domain.KioskSession{}, false
	}
	return s.snapshot(), true
}

// Generation changes every time a session starts or ends. Async results
// carrying an older generation belong to a superseded session.
func (s *SessionService) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Update applies fn to the active session and bumps its timestamp
func (s *SessionService) Update(fn func(*domain.KioskSession)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return false
	}
	fn(s.current)
	s.current.UpdatedAt = time.Now()
	return true
}

// End drops the active session
func (s *SessionService) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil {
		s.gen++
	}
	s.current = nil
}

func (s *SessionService) snapshot() domain.KioskSession {
	cp := *s.current
	cp.MediaURLs = make(map[string]string, len(s.current.MediaURLs))
	for k, v := range s.current.MediaURLs {
		cp.MediaURLs[k] = v
	}
	return cp
}
