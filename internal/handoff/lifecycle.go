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
	"handoffdesk/backend/internal/notify"
	"handoffdesk/backend/internal/timeout"
)

// SupportRequest asks for a human agent on a conversation.
type SupportRequest struct {
	ConversationID string
	Requester      models.Requester
	Message        string
	Profile        *models.RequesterProfile
	// Language selects user-facing messages; empty means the default.
	Language string
}

func (r SupportRequest) validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return apperrors.Validation("conversationId is required")
	}
	if err := r.Requester.Validate(); err != nil {
		return apperrors.Validation(err.Error())
	}
	msg := strings.TrimSpace(r.Message)
	if msg == "" {
		return apperrors.Validation("message is required")
	}
	if utf8.RuneCountInString(msg) > config.MaxInitialMessageLength {
		return apperrors.Validation("message is too long")
	}
	return nil
}

// RequestSupport opens a waiting session, starts its acceptance countdown and
// announces it to the admin pool. A conversation or requester with an active
// session gets a CONFLICT error whose details carry that session.
func (s *Service) RequestSupport(ctx context.Context, req SupportRequest) (*models.HandoffSession, error) {
	if err := req.validate(); err != nil {
		metrics.RejectedTotal.WithLabelValues("request", string(apperrors.ErrCodeValidation)).Inc()
		return nil, err
	}
	now := s.now()
	if err := s.CheckAvailability(req.Language, now); err != nil {
		metrics.RejectedTotal.WithLabelValues("request", string(err.Code)).Inc()
		return nil, err
	}

	window := s.Timeout()
	draft := models.NewHandoffSession(req.ConversationID, req.Requester, strings.TrimSpace(req.Message), req.Profile, now).
		WithWindow(window)
	session, err := s.store.CreateSession(ctx, draft)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeConflict {
			metrics.RejectedTotal.WithLabelValues("request", string(appErr.Code)).Inc()
			return nil, apperrors.Conflict(s.text(req.Language, "already_active")).WithDetails(appErr.Details)
		}
		return nil, err
	}

	s.arm(*session, window)

	metrics.TransitionsTotal.WithLabelValues(string(models.StatusWaiting)).Inc()
	s.logger.Info().
		Str("sessionId", session.ID).
		Str("conversationId", session.ConversationID).
		Dur("timeout", window).
		Msg("handoff requested")

	ev := models.NewEvent(models.EventRequested, now)
	ev.SessionID = session.ID
	ev.ConversationID = session.ConversationID
	ev.Message = session.InitialMessage
	ev.RemainingMs = window.Milliseconds()
	ev.Session = session
	s.publish(ctx, toRequesterAndAdmins(session), ev)

	s.dispatch(notify.KindRequested, *session)
	s.changedWaiting()
	return session, nil
}

// arm starts the countdown for a waiting session. Ticks go to the requester;
// expiry moves the session to timeout.
func (s *Service) arm(session models.HandoffSession, d time.Duration) {
	sessionID, conversationID := session.ID, session.ConversationID
	target := models.UserTarget(&session)
	onTick := func(remaining time.Duration) {
		ev := models.NewEvent(models.EventCountdown, s.now())
		ev.SessionID = sessionID
		ev.ConversationID = conversationID
		ev.RemainingMs = remaining.Milliseconds()
		s.publish(context.Background(), target, ev)
	}
	onTimeout := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := s.expire(ctx, sessionID); err != nil {
			s.logger.Error().Err(err).Str("sessionId", sessionID).Msg("failed to expire handoff session")
		}
	}
	s.track(sessionID, func() timeout.Disposer {
		return s.timers.Start(sessionID, d, onTick, onTimeout)
	})
}

// expire moves a waiting session to timeout. Only the caller whose update was
// applied publishes the timeout event.
func (s *Service) expire(ctx context.Context, sessionID string) (*models.HandoffSession, error) {
	s.dispose(sessionID)

	session, changed, err := s.store.TimeoutSession(ctx, sessionID, s.now())
	if err != nil {
		return nil, err
	}
	if !changed {
		return session, nil
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StatusTimeout)).Inc()
	s.logger.Info().Str("sessionId", session.ID).Str("conversationId", session.ConversationID).Msg("handoff request timed out")

	ev := models.NewEvent(models.EventTimeout, s.now())
	ev.SessionID = session.ID
	ev.ConversationID = session.ConversationID
	ev.Message = s.text("", "request_timeout")
	ev.Session = session
	s.publish(ctx, toRequesterAndAdmins(session), ev)

	s.dedup.Forget(session.ConversationID)
	s.dispatch(notify.KindTimedOut, *session)
	s.changedWaiting()
	return session, nil
}

// AcceptSession connects an admin to a waiting session. Of several admins
// accepting at once exactly one succeeds; the rest get INVALID_STATE.
func (s *Service) AcceptSession(ctx context.Context, sessionID, adminID, adminName string) (*models.HandoffSession, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(adminID) == "" {
		return nil, apperrors.Validation("sessionId and adminId are required")
	}
	now := s.now()
	name := s.adminDisplayName(adminID, adminName)

	session, err := s.store.AcceptSession(ctx, sessionID, adminID, name, now)
	if err != nil {
		if appErr, ok := apperrors.AsAppError(err); ok {
			metrics.RejectedTotal.WithLabelValues("accept", string(appErr.Code)).Inc()
		}
		return nil, err
	}
	s.dispose(session.ID)

	metrics.TransitionsTotal.WithLabelValues(string(models.StatusConnected)).Inc()
	if session.ConnectedAt != nil {
		metrics.AcceptLatency.Observe(session.ConnectedAt.Sub(session.RequestedAt).Seconds())
	}
	s.logger.Info().
		Str("sessionId", session.ID).
		Str("conversationId", session.ConversationID).
		Str("adminId", adminID).
		Msg("handoff accepted")

	ev := models.NewEvent(models.EventAccepted, now)
	ev.SessionID = session.ID
	ev.ConversationID = session.ConversationID
	ev.AdminID = adminID
	ev.AdminName = session.AdminName
	ev.Message = s.text("", "agent_joined", session.AdminName)
	ev.Session = session
	s.publish(ctx, toRequesterAndAdmins(session), ev)

	s.changedWaiting()
	return session, nil
}

// adminDisplayName picks the name shown to the requester.
func (s *Service) adminDisplayName(adminID, requested string) string {
	if name := strings.TrimSpace(requested); name != "" {
		return name
	}
	s.settingsMu.RLock()
	alias := strings.TrimSpace(s.settings.AgentAlias)
	s.settingsMu.RUnlock()
	if alias != "" {
		return alias + " " + adminID
	}
	return "Admin " + adminID
}

// EndSession closes a waiting or connected session. Ending a session that is
// already terminal returns the stored record unchanged.
func (s *Service) EndSession(ctx context.Context, sessionID string) (*models.HandoffSession, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, apperrors.Validation("sessionId is required")
	}
	now := s.now()
	session, changed, err := s.store.EndSession(ctx, sessionID, now)
	if err != nil {
		return nil, err
	}
	s.dispose(session.ID)
	if !changed {
		return session, nil
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.StatusEnded)).Inc()
	s.logger.Info().Str("sessionId", session.ID).Str("conversationId", session.ConversationID).Msg("handoff ended")

	ev := models.NewEvent(models.EventEnded, now)
	ev.SessionID = session.ID
	ev.ConversationID = session.ConversationID
	ev.AdminID = session.AdminIDValue()
	ev.Message = s.text("", "session_ended")
	ev.Session = session

	target := models.UserTarget(session)
	target.AdminID = session.AdminIDValue()
	if session.ConnectedAt == nil {
		// Cancelled while waiting: every admin still lists it.
		target.AllAdmins = true
	}
	s.publish(ctx, target, ev)

	s.dedup.Forget(session.ConversationID)
	s.changedWaiting()
	return session, nil
}

// ExpireOverdue times out waiting sessions whose window has passed. It covers
// countdowns lost to a restart or owned by another instance.
func (s *Service) ExpireOverdue(ctx context.Context) (int, error) {
	overdue, err := s.store.ListOverdue(ctx, s.now(), s.Timeout())
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, session := range overdue {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		if _, err := s.expire(ctx, session.ID); err != nil {
			s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("failed to expire overdue session")
			continue
		}
		expired++
	}
	return expired, nil
}

// RecoverPending re-arms countdowns for waiting sessions after a restart and
// expires those already past their deadline.
func (s *Service) RecoverPending(ctx context.Context) (int, error) {
	waiting, err := s.store.ListWaiting(ctx)
	if err != nil {
		return 0, err
	}
	now := s.now()
	window := s.Timeout()
	rearmed := 0
	for _, session := range waiting {
		remaining := session.Remaining(now, window)
		if remaining <= 0 {
			if _, err := s.expire(ctx, session.ID); err != nil {
				s.logger.Error().Err(err).Str("sessionId", session.ID).Msg("failed to expire session during recovery")
			}
			continue
		}
		s.arm(session, remaining)
		rearmed++
	}
	s.logger.Info().Int("rearmed", rearmed).Int("waiting", len(waiting)).Msg("recovered pending handoff sessions")
	return rearmed, nil
}
