// Package telegram lets agents follow and act on handoff requests from
// Telegram: new requests are pushed into admin chats and the bot accepts
// /waiting, /accept and /end commands from those chats.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/localization"
	"handoffdesk/backend/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const callbackAccept = "accept_"

// SessionDesk is the subset of the handoff service the bot drives.
type SessionDesk interface {
	ListWaiting(ctx context.Context) ([]models.HandoffSession, error)
	AcceptSession(ctx context.Context, sessionID, adminID, adminName string) (*models.HandoffSession, error)
	EndSession(ctx context.Context, sessionID string) (*models.HandoffSession, error)
}

// botAPI is the part of *tgbotapi.BotAPI the service uses.
type botAPI interface {
	sender
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// BotService receives Telegram updates from admin chats.
type BotService struct {
	api       botAPI
	desk      SessionDesk
	allowed   map[int64]bool
	localizer *localization.Localizer
	logger    zerolog.Logger
}

// NewBotAPI authorizes the bot token.
func NewBotAPI(token string) (*tgbotapi.BotAPI, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	log.Info().Str("component", "telegram").Str("account", bot.Self.UserName).Msg("authorized telegram bot")
	return bot, nil
}

func NewBotService(api botAPI, desk SessionDesk, adminChatIDs []int64, localizer *localization.Localizer) *BotService {
	allowed := make(map[int64]bool, len(adminChatIDs))
	for _, id := range adminChatIDs {
		allowed[id] = true
	}
	return &BotService{
		api:       api,
		desk:      desk,
		allowed:   allowed,
		localizer: localizer,
		logger:    log.With().Str("component", "telegram").Logger(),
	}
}

// Run processes updates until ctx is cancelled.
func (s *BotService) Run(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := s.api.GetUpdatesChan(u)

	go func() {
		<-ctx.Done()
		s.api.StopReceivingUpdates()
	}()

	for update := range updates {
		s.HandleUpdate(ctx, update)
	}
	s.logger.Info().Msg("telegram update loop stopped")
}

// HandleUpdate dispatches a single update.
func (s *BotService) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.Message != nil && update.Message.IsCommand():
		s.handleCommand(ctx, update.Message)
	case update.CallbackQuery != nil:
		s.handleCallbackQuery(ctx, update.CallbackQuery)
	}
}

func (s *BotService) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	if !s.allowed[chatID] {
		s.reply(chatID, s.text("bot_not_allowed"))
		return
	}

	arg := strings.TrimSpace(msg.CommandArguments())
	switch msg.Command() {
	case "waiting":
		s.handleWaiting(ctx, chatID)
	case "accept":
		if arg == "" {
			s.reply(chatID, s.text("bot_usage_accept"))
			return
		}
		s.accept(ctx, chatID, msg.From, arg)
	case "end":
		if arg == "" {
			s.reply(chatID, s.text("bot_usage_end"))
			return
		}
		s.end(ctx, chatID, arg)
	default:
		s.reply(chatID, s.text("bot_help"))
	}
}

func (s *BotService) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	if _, err := s.api.Request(tgbotapi.NewCallback(cq.ID, "")); err != nil {
		s.logger.Warn().Err(err).Msg("failed to answer callback query")
	}
	if cq.Message == nil {
		return
	}
	chatID := cq.Message.Chat.ID
	if !s.allowed[chatID] {
		return
	}
	if sessionID, ok := strings.CutPrefix(cq.Data, callbackAccept); ok && sessionID != "" {
		s.accept(ctx, chatID, cq.From, sessionID)
	}
}

func (s *BotService) handleWaiting(ctx context.Context, chatID int64) {
	sessions, err := s.desk.ListWaiting(ctx)
	if err != nil {
		s.fail(chatID, err)
		return
	}
	if len(sessions) == 0 {
		s.reply(chatID, s.text("bot_no_waiting"))
		return
	}

	var b strings.Builder
	for i, sess := range sessions {
		fmt.Fprintf(&b, "%d. %s (conversation %s)", i+1, sess.ID, sess.ConversationID)
		if sess.InitialMessage != "" {
			fmt.Fprintf(&b, "\n   %s", sess.InitialMessage)
		}
		b.WriteString("\n")
	}
	s.reply(chatID, b.String())
}

func (s *BotService) accept(ctx context.Context, chatID int64, from *tgbotapi.User, sessionID string) {
	adminID, adminName := AdminIdentity(from, chatID)
	sess, err := s.desk.AcceptSession(ctx, sessionID, adminID, adminName)
	if err != nil {
		s.fail(chatID, err)
		return
	}
	s.logger.Info().Str("sessionId", sess.ID).Str("adminId", adminID).Msg("session accepted from telegram")
	s.reply(chatID, s.localizer.Format("en", "bot_accepted", sess.ID, sess.AdminName))
}

func (s *BotService) end(ctx context.Context, chatID int64, sessionID string) {
	sess, err := s.desk.EndSession(ctx, sessionID)
	if err != nil {
		s.fail(chatID, err)
		return
	}
	s.reply(chatID, s.localizer.Format("en", "bot_ended", sess.ID, sess.Status))
}

// AdminIdentity maps a Telegram user to the admin id and display name used
// in sessions. Chats without a sender fall back to the chat id.
func AdminIdentity(from *tgbotapi.User, chatID int64) (string, string) {
	if from == nil {
		return "tg-" + strconv.FormatInt(chatID, 10), ""
	}
	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	return "tg-" + strconv.FormatInt(from.ID, 10), name
}

func (s *BotService) fail(chatID int64, err error) {
	reason := err.Error()
	if appErr, ok := apperrors.AsAppError(err); ok {
		reason = appErr.Message
	} else {
		s.logger.Error().Err(err).Int64("chatId", chatID).Msg("telegram command failed")
	}
	s.reply(chatID, s.localizer.Format("en", "bot_failed", reason))
}

func (s *BotService) text(key string) string {
	return s.localizer.GetString("en", key)
}

func (s *BotService) reply(chatID int64, text string) {
	if _, err := s.api.Send(tgbotapi.NewMessage(chatID, text)); err != nil {
		s.logger.Error().Err(err).Int64("chatId", chatID).Msg("failed to send telegram reply")
	}
}
