package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image/png"
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/domain/dto"
	"photobooth-kiosk/internal/logger"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestFormatRupiah(t *testing.T) {
	tests := []struct {
		amount int64
		want   string
	}{
		{0, "Rp 0"},
		{500, "Rp 500"},
		{10000, "Rp 10,000"},
		{20000, "Rp 20,000"},
		{1250000, "Rp 1,250,000"},
		{-3500, "Rp -3,500"},
	}
	for _, tt := range tests {
		if got := FormatRupiah(tt.amount); got != tt.want {
			t.Errorf("FormatRupiah(%d) = %q, want %q", tt.amount, got, tt.want)
		}
	}
}

func TestPricingTotals(t *testing.T) {
	p, err := NewPricing(domain.CopyPriceOptions{1: 10000, 2: 20000, 4: 35000})
	if err != nil {
		t.Fatal(err)
	}

	if p.MinCopies() != 1 || p.BasePrice() != 10000 {
		t.Fatalf("min=%d base=%d", p.MinCopies(), p.BasePrice())
	}
	if got := p.TotalLabel(2); got != "Rp 20,000" {
		t.Fatalf("total for 2 copies = %q", got)
	}
	if p.Valid(3) || p.TotalLabel(3) != "" {
		t.Fatal("3 copies is not an option")
	}

	opts := p.Options()
	if len(opts) != 3 || opts[0].Copies != 1 || opts[2].Copies != 4 || opts[2].Label != "Rp 35,000" {
		t.Fatalf("options = %+v", opts)
	}
}

func TestPricingFree(t *testing.T) {
	p, err := NewPricing(domain.CopyPriceOptions{1: 0, 2: 5000})
	if err != nil {
		t.Fatal(err)
	}
	if p.BasePrice() != 0 || p.TotalLabel(1) != FreeLabel {
		t.Fatalf("base=%d label=%q", p.BasePrice(), p.TotalLabel(1))
	}
}

func TestPricingValidation(t *testing.T) {
	if _, err := NewPricing(nil); !errors.Is(err, ErrNoCopyOptions) {
		t.Fatalf("want ErrNoCopyOptions, got %v", err)
	}
	if _, err := NewPricing(domain.CopyPriceOptions{0: 100}); err == nil {
		t.Fatal("zero copies accepted")
	}
	if _, err := NewPricing(domain.CopyPriceOptions{1: -1}); err == nil {
		t.Fatal("negative price accepted")
	}
}

func TestSessionLifecycle(t *testing.T) {
	s := NewSessionService()
	if _, ok := s.Current(); ok {
		t.Fatal("session active before start")
	}

	first := s.Start()
	gen := s.Generation()
	if first.ID == "" || first.Status != domain.SessionInProgress {
		t.Fatalf("session = %+v", first)
	}

	s.Update(func(ks *domain.KioskSession) {
		ks.FrameID = 3
		ks.MediaURLs["strip"] = "https://cdn/strip.png"
	})
	cur, _ := s.Current()
	if cur.FrameID != 3 || cur.MediaURLs["strip"] == "" {
		t.Fatalf("update lost: %+v", cur)
	}

	// snapshots must not alias the cache
	cur.MediaURLs["strip"] = "mutated"
	again, _ := s.Current()
	if again.MediaURLs["strip"] == "mutated" {
		t.Fatal("snapshot aliases session media map")
	}

	second := s.Start()
	if second.ID == first.ID || s.Generation() == gen {
		t.Fatal("new session did not replace the old one")
	}

	s.End()
	if _, ok := s.Current(); ok || s.Update(func(*domain.KioskSession) {}) {
		t.Fatal("session still active after end")
	}
}

type memJournal struct {
	mu      sync.Mutex
	entries []dto.JournalEntry
	err     error
	busy    atomic.Bool
	overlap atomic.Bool
	delay   time.Duration
}

func (m *memJournal) Append(ctx context.Context, e *dto.JournalEntry) error {
	// a single connection cannot run two statements at once
	if !m.busy.CompareAndSwap(false, true) {
		m.overlap.Store(true)
		return errors.New("conn busy")
	}
	defer m.busy.Store(false)
	time.Sleep(m.delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memJournal) Recent(ctx context.Context, limit int) ([]dto.JournalEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries, m.err
}

func (m *memJournal) Summary(ctx context.Context, since time.Time) ([]dto.JournalSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return []dto.JournalSummary{{Kind: JournalPrinted, Total: int64(len(m.entries))}}, m.err
}

func TestJournalRecord(t *testing.T) {
	repo := &memJournal{}
	j := NewJournalService(repo, logger.NewNop())

	j.Record("s1", JournalPrinted, map[string]any{"copies": 2})
	j.Close()
	if len(repo.entries) != 1 {
		t.Fatalf("entries = %d", len(repo.entries))
	}
	e := repo.entries[0]
	if e.SessionID != "s1" || e.Kind != JournalPrinted || e.Detail != `{"copies":2}` {
		t.Fatalf("entry = %+v", e)
	}

	// records after close are ignored
	j.Record("s1", JournalMerged, nil)
	j.Close()
	if len(repo.entries) != 1 {
		t.Fatalf("entries after close = %d", len(repo.entries))
	}
}

func TestJournalSwallowsFailures(t *testing.T) {
	repo := &memJournal{err: errors.New("disk full")}
	j := NewJournalService(repo, logger.NewNop())

	j.Record("s1", JournalPrinted, nil)
	j.Close()
	if _, err := j.Recent(context.Background(), 10); err == nil {
		t.Fatal("recent should report repository errors")
	}
}

func TestJournalSerializesWrites(t *testing.T) {
	repo := &memJournal{delay: time.Millisecond}
	j := NewJournalService(repo, logger.NewNop())

	const writers = 8
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			j.Record(fmt.Sprintf("s%d", i), JournalUploaded, nil)
		}(i)
	}
	wg.Wait()

	for _, kind := range []string{JournalMerged, JournalPrinted, JournalSessionCompleted} {
		j.Record("ordered", kind, nil)
	}
	j.Close()

	if repo.overlap.Load() {
		t.Fatal("appends overlapped")
	}
	if len(repo.entries) != writers+3 {
		t.Fatalf("entries = %d", len(repo.entries))
	}
	var kinds []string
	for _, e := range repo.entries {
		if e.SessionID == "ordered" {
			kinds = append(kinds, e.Kind)
		}
	}
	if strings.Join(kinds, ",") != "merged,printed,session_completed" {
		t.Fatalf("order = %v", kinds)
	}
}

func TestJournalDisabled(t *testing.T) {
	j := NewJournalService(nil, logger.NewNop())
	j.Record("s", JournalMerged, nil)
	j.Close()
	entries, err := j.Recent(context.Background(), 5)
	if err != nil || entries != nil {
		t.Fatalf("disabled journal returned %v, %v", entries, err)
	}
}

func TestQRService(t *testing.T) {
	q := NewQRService("https://booth.example/r/{session}", 0)

	url, err := q.ResultURL("abc")
	if err != nil || url != "https://booth.example/r/abc" {
		t.Fatalf("url=%q err=%v", url, err)
	}

	raw, err := q.PNG(url)
	if err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("qr is not a png: %v", err)
	}
	if img.Bounds().Dx() != DefaultQRSize {
		t.Fatalf("qr width = %d", img.Bounds().Dx())
	}

	dataURL, err := q.DataURL(url)
	if err != nil || !strings.HasPrefix(dataURL, "data:image/png;base64,") {
		t.Fatalf("data url = %.40q err=%v", dataURL, err)
	}

	if _, err := NewQRService("", 0).ResultURL("x"); !errors.Is(err, ErrNoResultURL) {
		t.Fatalf("want ErrNoResultURL, got %v", err)
	}
}
