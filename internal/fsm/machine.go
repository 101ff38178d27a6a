// Package fsm holds the kiosk screen state machine.
//
// A Machine is not safe for concurrent use. The kiosk confines it to the
// event loop goroutine, so handlers and listeners may call SetState
// re-entrantly.
package fsm

import "photobooth-kiosk/internal/domain"

// Handler runs when its state is entered.
type Handler func(next, prev domain.KioskState)

// Listener runs on every transition, before the state handler.
type Listener func(next, prev domain.KioskState)

// States lists every kiosk state in flow order.
var States = []domain.KioskState{
	domain.StateIdle,
	domain.StateReviewOrder,
	domain.StatePromoCode,
	domain.StatePayment,
	domain.StateFrame,
	domain.StateCapture,
	domain.StatePreview,
	domain.StatePrint,
	domain.StateResult,
	domain.StateReset,
}

type subscription struct {
	id int
	fn Listener
}

type Machine struct {
	current   domain.KioskState
	handlers  map[domain.KioskState]Handler
	listeners []subscription
	nextID    int
}

// New creates a machine in the given initial state. No handler runs for it.
func New(initial domain.KioskState, handlers map[domain.KioskState]Handler) *Machine {
	if !IsValid(initial) {
		initial = domain.StateIdle
	}
	if handlers == nil {
		handlers = make(map[domain.KioskState]Handler)
	}
	return &Machine{current: initial, handlers: handlers}
}

// IsValid reports whether s is a known kiosk state.
func IsValid(s domain.KioskState) bool {
	for _, known := range States {
		if s == known {
			return true
		}
	}
	return false
}

// State returns the active state
func (m *Machine) State() domain.KioskState {
	return m.current
}

// Handle registers or replaces the entry handler for a state
func (m *Machine) Handle(state domain.KioskState, h Handler) {
	m.handlers[state] = h
}

// Resolve applies the transition guard: an idle kiosk always goes through
// order review before frame selection or payment.
func Resolve(current, next domain.KioskState) domain.KioskState {
	if current == domain.StateIdle && (next == domain.StateFrame || next == domain.StatePayment) {
		return domain.StateReviewOrder
	}
	return next
}

// SetState moves to next and reports whether a transition happened.
func (m *Machine) SetState(next domain.KioskState) bool {
	if !IsValid(next) {
		return false
	}

	next = Resolve(m.current, next)
	if next == m.current {
		return false
	}

	prev := m.current
	m.current = next

	// copy so listeners may unsubscribe while being notified
	listeners := append([]subscription(nil), m.listeners...)
	for _, l := range listeners {
		l.fn(next, prev)
	}

	if h, ok := m.handlers[next]; ok && h != nil {
		h(next, prev)
	}
	return true
}

// Subscribe adds a transition listener and returns its unsubscribe func.
func (m *Machine) Subscribe(fn Listener) func() {
	m.nextID++
	id := m.nextID
	m.listeners = append(m.listeners, subscription{id: id, fn: fn})

	return func() {
		for i, l := range m.listeners {
			if l.id == id {
				m.listeners = append(m.listeners[:i:i], m.listeners[i+1:]...)
				return
			}
		}
	}
}
