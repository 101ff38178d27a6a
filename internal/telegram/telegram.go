package telegram

import (
	"context"
	"fmt"
	"photobooth-kiosk/internal/domain"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gookit/event"
)

const sendTimeout = 15 * time.Second

type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// Telegram is the operator channel: kiosk alerts go out to one chat and
// commands from that chat come back in as events.
type Telegram struct {
	bot          *bot.Bot
	sender       sender
	chatID       int64
	eventManager *event.Manager
	logger       domain.Logger
}

func NewTelegram(token string, chatID int64, logger domain.Logger, eventManager *event.Manager) (*Telegram, error) {
	adapter := &Telegram{
		chatID:       chatID,
		eventManager: eventManager,
		logger:       logger,
	}

	opts := []bot.Option{
		bot.WithDefaultHandler(adapter.defaultHandler),
	}

	b, err := bot.New(token, opts...)
	if err != nil {
		return nil, err
	}
	adapter.bot = b
	adapter.sender = b

	// Register bot handlers
	adapter.registerHandlers()

	// Register event listeners for kiosk output
	adapter.registerEventListeners()

	return adapter, nil
}

// Start polls for updates until ctx is done
func (t *Telegram) Start(ctx context.Context) {
	t.bot.Start(ctx)
}

func (t *Telegram) registerHandlers() {
	t.bot.RegisterHandler(bot.HandlerTypeMessageText, "/", bot.MatchTypePrefix, t.handleCommand)
}

func (t *Telegram) handleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	t.dispatch(update.Message.Chat.ID, update.Message.Text)
}

// dispatch forwards a command from the operator chat to the kiosk
func (t *Telegram) dispatch(chatID int64, text string) {
	if chatID != t.chatID {
		t.logger.WithField("chat_id", chatID).Warn("ignoring command from unknown chat")
		return
	}

	cmd := &domain.OperatorCommand{
		ChatID:  chatID,
		Command: strings.TrimSpace(text),
	}
	if err, _ := t.eventManager.Fire("operator.command.received", event.M{"event": cmd}); err != nil {
		t.logger.WithError(err).WithField("command", cmd.Command).Error("operator command failed")
		t.send(chatID, fmt.Sprintf("Command failed: %v", err))
	}
}

func (t *Telegram) registerEventListeners() {
	t.eventManager.On("kiosk.alert", event.ListenerFunc(func(e event.Event) error {
		alert, ok := e.Get("alert").(*domain.Alert)
		if !ok {
			return fmt.Errorf("invalid alert type")
		}
		go t.send(t.chatID, alert.Message)
		return nil
	}))

	t.eventManager.On("operator.reply", event.ListenerFunc(func(e event.Event) error {
		reply, ok := e.Get("reply").(*domain.OperatorReply)
		if !ok {
			return fmt.Errorf("invalid operator reply type")
		}
		go t.send(reply.ChatID, reply.Text)
		return nil
	}))
}

// send never blocks the kiosk; failures are only logged
func (t *Telegram) send(chatID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	_, err := t.sender.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: operatorKeyboard(),
	})
	if err != nil {
		t.logger.WithError(err).WithField("chat_id", chatID).Error("failed to send telegram message")
	}
}

func operatorKeyboard() models.ReplyMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: "/status"}, {Text: "/reset"}},
		},
		ResizeKeyboard: true,
	}
}

func (t *Telegram) defaultHandler(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message != nil {
		t.logger.WithField("chat_id", update.Message.Chat.ID).Debug("unhandled telegram message")
	}
}
