// Package guard provides per-operation reentrancy tokens and debouncing.
package guard

import (
	"sync"
	"time"
)

type Phase int

const (
	Idle Phase = iota
	InFlight
	Cooling
)

func (p Phase) String() string {
	switch p {
	case InFlight:
		return "in_flight"
	case Cooling:
		return "cooling"
	default:
		return "idle"
	}
}

// Ticket identifies one accepted run of an operation.
type Ticket struct {
	gen uint64
}

// Token admits one run of an operation at a time. A run that ends moves the
// token to Cooling for the configured cooldown before new runs are accepted.
type Token struct {
	name     string
	cooldown time.Duration

	mu    sync.Mutex
	phase Phase
	gen   uint64
	timer *time.Timer
}

func NewToken(name string, cooldown time.Duration) *Token {
	return &Token{name: name, cooldown: cooldown}
}

func (t *Token) Name() string {
	return t.name
}

// Begin starts a run if the token is idle
func (t *Token) Begin() (Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.phase != Idle {
		return Ticket{}, false
	}
	t.gen++
	t.phase = InFlight
	return Ticket{gen: t.gen}, true
}

// End finishes the run identified by ticket. Stale tickets are ignored.
func (t *Token) End(ticket Ticket) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if ticket.gen != t.gen || t.phase != InFlight {
		return
	}
	if t.cooldown <= 0 {
		t.phase = Idle
		return
	}

	t.phase = Cooling
	gen := t.gen
	t.timer = time.AfterFunc(t.cooldown, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if t.gen == gen && t.phase == Cooling {
			t.phase = Idle
		}
	})
}

// Current reports whether ticket belongs to the latest run.
func (t *Token) Current(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ticket.gen == t.gen
}

// Supersede invalidates every outstanding ticket and makes the token idle.
func (t *Token) Supersede() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.gen++
	t.phase = Idle
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
}

func (t *Token) Phase() Phase {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.phase
}

func (t *Token) Busy() bool {
	return t.Phase() != Idle
}
