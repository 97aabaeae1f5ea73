package telegram

import (
	"context"
	"errors"
	"fmt"

	"handoffdesk/backend/internal/notify"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// sender is the part of *tgbotapi.BotAPI used to push messages.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Notifier posts handoff notifications into the configured admin chats.
type Notifier struct {
	api     sender
	chatIDs []int64
}

func NewNotifier(api sender, chatIDs []int64) *Notifier {
	return &Notifier{api: api, chatIDs: chatIDs}
}

func (n *Notifier) Name() string { return "telegram" }

// Notify sends to every chat and reports all failures together.
func (n *Notifier) Notify(ctx context.Context, note notify.Notification) error {
	text := notify.FormatText(note)
	var errs []error
	for _, chatID := range n.chatIDs {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		msg := tgbotapi.NewMessage(chatID, text)
		if note.Kind == notify.KindRequested {
			msg.ReplyMarkup = acceptKeyboard(note.Session.ID)
		}
		if _, err := n.api.Send(msg); err != nil {
			errs = append(errs, fmt.Errorf("telegram: send to %d: %w", chatID, err))
		}
	}
	return errors.Join(errs...)
}

func acceptKeyboard(sessionID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Accept", callbackAccept+sessionID),
		),
	)
}
