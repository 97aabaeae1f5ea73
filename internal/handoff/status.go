package handoff

import (
	"context"
	"strings"

	"handoffdesk/backend/internal/config"
	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"
	"handoffdesk/backend/internal/storage"
)

// GetStatus reconciles a client with the stored state of its conversation.
// A waiting session found past its deadline is timed out here, so polling
// clients see the fallback even when no countdown is running.
func (s *Service) GetStatus(ctx context.Context, conversationID string) (models.StatusView, error) {
	if strings.TrimSpace(conversationID) == "" {
		return models.StatusView{}, apperrors.Validation("conversationId is required")
	}
	session, err := s.store.GetActiveSession(ctx, conversationID)
	if err != nil {
		return models.StatusView{}, err
	}
	if session == nil {
		return models.StatusView{}, nil
	}

	view := viewOf(session)
	if !view.IsWaiting {
		return view, nil
	}

	remaining := session.Remaining(s.now(), s.Timeout())
	if remaining <= 0 {
		expired, err := s.expire(ctx, session.ID)
		if err != nil {
			return models.StatusView{}, err
		}
		// An admin may have won the race against the expiry.
		return viewOf(expired), nil
	}
	ms := remaining.Milliseconds()
	view.TimeoutRemaining = &ms
	return view, nil
}

func viewOf(session *models.HandoffSession) models.StatusView {
	return models.StatusView{
		SessionID:   session.ID,
		Status:      session.Status,
		IsWaiting:   session.Status == models.StatusWaiting,
		IsConnected: session.Status == models.StatusConnected,
		AdminID:     session.AdminIDValue(),
		AdminName:   session.AdminName,
	}
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.HandoffSession, error) {
	return s.store.GetSession(ctx, sessionID)
}

// ActiveSession returns the waiting or connected session of a conversation,
// or nil.
func (s *Service) ActiveSession(ctx context.Context, conversationID string) (*models.HandoffSession, error) {
	return s.store.GetActiveSession(ctx, conversationID)
}

// ListWaiting returns the sessions awaiting an agent, oldest first.
func (s *Service) ListWaiting(ctx context.Context) ([]models.HandoffSession, error) {
	return s.store.ListWaiting(ctx)
}

// ListSessions returns the most recent sessions, optionally of one status.
func (s *Service) ListSessions(ctx context.Context, status string) ([]models.HandoffSession, error) {
	filter := storage.SessionFilter{Limit: config.AdminSessionListLimit}
	if status != "" {
		st := models.SessionStatus(status)
		if !st.Valid() {
			return nil, apperrors.Validation("unknown session status").WithDetails(map[string]any{"status": status})
		}
		filter.Status = st
	}
	return s.store.ListSessions(ctx, filter)
}
