package handler

import (
	"photobooth-kiosk/internal/domain"
	"photobooth-kiosk/internal/fsm"

	"github.com/gookit/event"
)

// Presenter publishes kiosk output on the event bus
type Presenter struct {
	eventManager *event.Manager
}

// NewPresenter creates a new presenter instance
func NewPresenter(eventManager *event.Manager) *Presenter {
	return &Presenter{
		eventManager: eventManager,
	}
}

// Render publishes the screen for the current state
func (p *Presenter) Render(view domain.ScreenView) {
	view.Screen = fsm.DeriveVisibleScreen(view.State)
	view.Photos = append([]string(nil), view.Photos...)

	p.eventManager.MustFire("panel.screen.update", event.M{
		"view": &view,
	})
}

// Alert notifies the operator channel
func (p *Presenter) Alert(level, message string) {
	p.eventManager.MustFire("kiosk.alert", event.M{
		"alert": &domain.Alert{Level: level, Message: message},
	})
}

// Reply answers an operator command
func (p *Presenter) Reply(chatID int64, text string) {
	p.eventManager.MustFire("operator.reply", event.M{
		"reply": &domain.OperatorReply{ChatID: chatID, Text: text},
	})
}
