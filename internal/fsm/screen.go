package fsm

import (
	"photobooth-kiosk/internal/domain"
	"strings"
)

// DeriveVisibleScreen returns the id of the only screen shown for state.
// RESET has no screen of its own and keeps the idle screen up.
func DeriveVisibleScreen(state domain.KioskState) string {
	if state == domain.StateReset || !IsValid(state) {
		state = domain.StateIdle
	}
	return "screen-" + strings.ReplaceAll(strings.ToLower(string(state)), "_", "-")
}

// Visibility maps every screen id to whether it is shown for state.
func Visibility(state domain.KioskState) map[string]bool {
	visible := DeriveVisibleScreen(state)
	out := make(map[string]bool, len(States))
	for _, s := range States {
		id := DeriveVisibleScreen(s)
		out[id] = id == visible
	}
	return out
}
