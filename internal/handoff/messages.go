package handoff

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"handoffdesk/backend/internal/config"
	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/metrics"
	"handoffdesk/backend/internal/models"
)

// OutgoingMessage is a chat line sent by either side of a connected session.
// Admins address a session by SessionID; users may address their
// conversation instead.
type OutgoingMessage struct {
	SessionID      string
	ConversationID string
	Sender         models.SenderType
	// AdminID, when set, must be the admin the session is connected to.
	AdminID         string
	SenderName      string
	Content         string
	ClientMessageID string
	// SentAt is the client's timestamp; zero means now.
	SentAt   time.Time
	Language string
}

// Delivery is the outcome of SendMessage. Duplicate means the message had
// already been seen and nothing was stored or published.
type Delivery struct {
	Message   models.HandoffMessage `json:"message"`
	Duplicate bool                  `json:"duplicate"`
}

func (m OutgoingMessage) validate() error {
	if !m.Sender.Valid() {
		return apperrors.Validation("senderType must be user or admin")
	}
	if m.SessionID == "" && m.ConversationID == "" {
		return apperrors.Validation("sessionId or conversationId is required")
	}
	content := strings.TrimSpace(m.Content)
	if content == "" {
		return apperrors.Validation("message is required")
	}
	if utf8.RuneCountInString(content) > config.MaxMessageLength {
		return apperrors.Validation("message is too long")
	}
	return nil
}

// SendMessage stores and relays a chat line. Messages are accepted only while
// the session is connected. Repeats are dropped twice over: by content within
// the dedup window, and by message id in the store.
func (s *Service) SendMessage(ctx context.Context, msg OutgoingMessage) (*Delivery, error) {
	if err := msg.validate(); err != nil {
		return nil, err
	}
	session, err := s.resolveSession(ctx, msg)
	if err != nil {
		return nil, err
	}
	if session.Status != models.StatusConnected {
		metrics.RejectedTotal.WithLabelValues("message", string(apperrors.ErrCodeInvalidState)).Inc()
		return nil, apperrors.InvalidState(s.text(msg.Language, "not_connected")).
			WithDetails(map[string]any{"sessionId": session.ID, "status": session.Status})
	}
	if msg.Sender == models.SenderAdmin && msg.AdminID != "" && msg.AdminID != session.AdminIDValue() {
		return nil, apperrors.Forbidden("session is handled by another admin")
	}

	content := strings.TrimSpace(msg.Content)
	sentAt := msg.SentAt
	if sentAt.IsZero() {
		sentAt = s.now()
	}
	sentAt = sentAt.UTC()

	id := msg.ClientMessageID
	if id == "" {
		id = models.MessageKey(session.ConversationID, msg.Sender, content, sentAt, config.DedupBucket)
	}
	record := models.HandoffMessage{
		ClientMessageID: id,
		SessionID:       session.ID,
		ConversationID:  session.ConversationID,
		Sender:          msg.Sender,
		SenderName:      s.senderName(session, msg),
		Content:         content,
		SentAt:          sentAt,
	}

	suppress, err := s.dedup.ShouldSuppress(ctx, session.ConversationID, msg.Sender, content, sentAt)
	if err != nil {
		// Best effort: the store's id check still applies.
		s.logger.Warn().Err(err).Str("conversationId", session.ConversationID).Msg("duplicate check failed")
	}
	if suppress {
		metrics.DuplicatesSuppressed.WithLabelValues(string(msg.Sender)).Inc()
		return &Delivery{Message: record, Duplicate: true}, nil
	}

	stored, err := s.store.SaveMessage(ctx, &record)
	if err != nil {
		// Unstored messages must stay retryable inside the dedup window.
		if relErr := s.dedup.Release(ctx, session.ConversationID, msg.Sender, content, sentAt); relErr != nil {
			s.logger.Warn().Err(relErr).Str("conversationId", session.ConversationID).Msg("failed to release duplicate fingerprint")
		}
		return nil, err
	}
	if !stored {
		metrics.DuplicatesSuppressed.WithLabelValues(string(msg.Sender)).Inc()
		return &Delivery{Message: record, Duplicate: true}, nil
	}
	metrics.MessagesTotal.WithLabelValues(string(msg.Sender)).Inc()

	evType := models.EventUserMessage
	if msg.Sender == models.SenderAdmin {
		evType = models.EventAdminMessage
	}
	ev := models.NewEvent(evType, s.now())
	ev.SessionID = session.ID
	ev.ConversationID = session.ConversationID
	ev.AdminID = session.AdminIDValue()
	ev.Message = content
	ev.MessageID = record.ClientMessageID
	ev.Sender = msg.Sender
	ev.Timestamp = sentAt
	if msg.Sender == models.SenderAdmin {
		ev.AdminName = record.SenderName
	}
	// Both sides receive the line so every open tab stays in step; clients
	// drop their own echo by message id.
	target := models.UserTarget(session)
	target.AdminID = session.AdminIDValue()
	s.publish(ctx, target, ev)

	return &Delivery{Message: record}, nil
}

func (s *Service) resolveSession(ctx context.Context, msg OutgoingMessage) (*models.HandoffSession, error) {
	if msg.SessionID != "" {
		session, err := s.store.GetSession(ctx, msg.SessionID)
		if err != nil {
			return nil, err
		}
		if msg.ConversationID != "" && msg.ConversationID != session.ConversationID {
			return nil, apperrors.Forbidden("session belongs to another conversation")
		}
		return session, nil
	}
	session, err := s.store.GetActiveSession(ctx, msg.ConversationID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, apperrors.InvalidState(s.text(msg.Language, "not_connected")).
			WithDetails(map[string]any{"conversationId": msg.ConversationID})
	}
	return session, nil
}

func (s *Service) senderName(session *models.HandoffSession, msg OutgoingMessage) string {
	if name := strings.TrimSpace(msg.SenderName); name != "" {
		return name
	}
	if msg.Sender == models.SenderAdmin {
		return session.AdminName
	}
	if session.Profile != nil {
		return session.Profile.Name
	}
	return ""
}

// GetMessages returns the stored history of a session in send order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]models.HandoffMessage, error) {
	if _, err := s.store.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return s.store.GetMessages(ctx, sessionID)
}
