package handler

import (
	"context"
	"fmt"
	"photobooth-kiosk/internal/domain"
	"strings"
	"time"
)

// HandleOperatorCommand answers /status and /reset from the operator chat
func (h *KioskHandler) HandleOperatorCommand(cmd *domain.OperatorCommand) error {
	ctx, cancel := context.WithTimeout(h.ctx, TIMEOUT_OPERATOR)
	defer cancel()

	name, _, _ := strings.Cut(strings.TrimSpace(cmd.Command), " ")
	// drop a bot mention such as /status@kiosk_bot
	name, _, _ = strings.Cut(name, "@")

	h.logger.WithFields(map[string]any{
		"chat_id": cmd.ChatID,
		"command": name,
	}).Info("operator command received")

	switch name {
	case "/status":
		text, err := h.statusReport(ctx)
		if err != nil {
			return err
		}
		h.presenter.Reply(cmd.ChatID, text)
	case "/reset":
		err := h.loop.Do(ctx, func() error {
			h.machine.SetState(domain.StateReset)
			return nil
		})
		if err != nil {
			return err
		}
		h.presenter.Reply(cmd.ChatID, MSG_OPERATOR_RESET)
	default:
		h.presenter.Reply(cmd.ChatID, MSG_OPERATOR_UNKNOWN)
	}
	return nil
}

func (h *KioskHandler) statusReport(ctx context.Context) (string, error) {
	view, err := h.Snapshot(ctx)
	if err != nil {
		return "", err
	}

	session := view.SessionID
	if session == "" {
		session = "-"
	}
	printer := "disconnected"
	if view.Printer.Connected {
		printer = fmt.Sprintf("connected (%s)", view.Printer.Type)
	}
	camera := "idle"
	switch {
	case view.CameraError != "":
		camera = "error"
	case view.CameraReady:
		camera = "ready"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, MSG_OPERATOR_STATUS, view.State, session, printer, camera)

	if h.deps.Journal.Enabled() {
		summary, err := h.deps.Journal.Summary(ctx, time.Now().Add(-24*time.Hour))
		if err != nil {
			h.logger.WithError(err).Warn("failed to read journal summary")
		} else if len(summary) > 0 {
			sb.WriteString(MSG_OPERATOR_SUMMARY_HEADER)
			for _, s := range summary {
				fmt.Fprintf(&sb, MSG_OPERATOR_SUMMARY_LINE, s.Kind, s.Total)
			}
		}

		recent, err := h.deps.Journal.Recent(ctx, OPERATOR_RECENT_ENTRIES)
		if err != nil {
			h.logger.WithError(err).Warn("failed to read recent journal entries")
		} else if len(recent) > 0 {
			sb.WriteString(MSG_OPERATOR_RECENT_HEADER)
			for _, e := range recent {
				session := e.SessionID
				if session == "" {
					session = "-"
				}
				fmt.Fprintf(&sb, MSG_OPERATOR_RECENT_LINE, e.CreatedAt.UTC().Format("15:04:05"), e.Kind, session)
			}
		}
	}
	return sb.String(), nil
}
