package handoff

import (
	"context"
	"time"

	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"
)

const frameTimeout = 10 * time.Second

// HandleFrame runs a socket frame through the same operations as the REST
// API. Failures are reported back to the sender as an error event.
func (s *Service) HandleFrame(p models.Participant, frame models.InboundFrame) {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()

	var err error
	switch frame.Type {
	case models.FrameMessage:
		err = s.frameMessage(ctx, p, frame)
	case models.FrameEnd:
		err = s.frameEnd(ctx, p, frame)
	case models.FramePing:
		return
	default:
		err = apperrors.Validation("unknown frame type").WithDetails(map[string]any{"type": frame.Type})
	}
	if err != nil {
		s.reportFrameError(ctx, p, frame, err)
	}
}

func (s *Service) frameMessage(ctx context.Context, p models.Participant, frame models.InboundFrame) error {
	msg := OutgoingMessage{
		Content:         frame.Message,
		ClientMessageID: frame.ClientMessageID,
	}
	if frame.Timestamp > 0 {
		msg.SentAt = time.UnixMilli(frame.Timestamp)
	}
	switch p.Role {
	case models.RoleAdmin:
		if frame.SessionID == "" {
			return apperrors.Validation("sessionId is required")
		}
		msg.SessionID = frame.SessionID
		msg.Sender = models.SenderAdmin
		msg.AdminID = p.AdminID
		msg.SenderName = frame.AdminName
		if msg.SenderName == "" {
			msg.SenderName = p.AdminName
		}
	default:
		session, err := s.ownedSession(ctx, p)
		if err != nil {
			return err
		}
		if session != nil {
			msg.SessionID = session.ID
		}
		msg.ConversationID = p.ConversationID
		msg.Sender = models.SenderUser
	}
	_, err := s.SendMessage(ctx, msg)
	return err
}

func (s *Service) frameEnd(ctx context.Context, p models.Participant, frame models.InboundFrame) error {
	if p.Role == models.RoleAdmin {
		if frame.SessionID == "" {
			return apperrors.Validation("sessionId is required")
		}
		session, err := s.store.GetSession(ctx, frame.SessionID)
		if err != nil {
			return err
		}
		if !session.HandledBy(p.AdminID) {
			return apperrors.Forbidden("session is handled by another admin")
		}
		_, err = s.EndSession(ctx, session.ID)
		return err
	}

	session, err := s.ownedSession(ctx, p)
	if err != nil || session == nil {
		return err
	}
	_, err = s.EndSession(ctx, session.ID)
	return err
}

// ownedSession returns the active session of a user socket's conversation,
// or nil when there is none. A session opened by someone else is FORBIDDEN.
func (s *Service) ownedSession(ctx context.Context, p models.Participant) (*models.HandoffSession, error) {
	session, err := s.store.GetActiveSession(ctx, p.ConversationID)
	if err != nil {
		return nil, err
	}
	if session != nil && !session.RequestedBy(p.Requester) {
		return nil, apperrors.Forbidden("session belongs to another requester")
	}
	return session, nil
}

func (s *Service) reportFrameError(ctx context.Context, p models.Participant, frame models.InboundFrame, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		s.logger.Error().Err(err).Str("frame", frame.Type).Str("participant", p.Key()).Msg("socket frame failed")
		appErr = apperrors.Internal("an unexpected error occurred")
	}
	ev := models.NewEvent(models.EventError, s.now())
	ev.SessionID = frame.SessionID
	ev.ConversationID = p.ConversationID
	ev.MessageID = frame.ClientMessageID
	ev.Code = string(appErr.Code)
	ev.Message = appErr.Message

	target := models.Target{ConversationID: p.ConversationID, Requester: p.Requester}
	if p.Role == models.RoleAdmin {
		target = models.Target{AdminID: p.AdminID}
	}
	s.publish(ctx, target, ev)
}

// Snapshot returns the events a freshly connected socket needs to catch up:
// the requester's current session, or the waiting list for an admin.
func (s *Service) Snapshot(p models.Participant) []models.Event {
	ctx, cancel := context.WithTimeout(context.Background(), frameTimeout)
	defer cancel()
	now := s.now()

	if p.Role == models.RoleAdmin {
		waiting, err := s.store.ListWaiting(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Str("adminId", p.AdminID).Msg("failed to build admin snapshot")
			return nil
		}
		ev := models.NewEvent(models.EventAdminNotifications, now)
		ev.Sessions = waiting
		return []models.Event{ev}
	}

	if _, err := s.ownedSession(ctx, p); err != nil {
		s.logger.Warn().Err(err).Str("conversationId", p.ConversationID).Msg("status snapshot refused")
		return nil
	}
	view, err := s.GetStatus(ctx, p.ConversationID)
	if err != nil {
		s.logger.Warn().Err(err).Str("conversationId", p.ConversationID).Msg("failed to build status snapshot")
		return nil
	}
	switch {
	case view.IsWaiting:
		ev := models.NewEvent(models.EventCountdown, now)
		ev.SessionID = view.SessionID
		ev.ConversationID = p.ConversationID
		if view.TimeoutRemaining != nil {
			ev.RemainingMs = *view.TimeoutRemaining
		}
		ev.Resumed = true
		return []models.Event{ev}
	case view.IsConnected:
		ev := models.NewEvent(models.EventAccepted, now)
		ev.SessionID = view.SessionID
		ev.ConversationID = p.ConversationID
		ev.AdminID = view.AdminID
		ev.AdminName = view.AdminName
		ev.Resumed = true
		return []models.Event{ev}
	}
	return nil
}
