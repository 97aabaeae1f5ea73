package storage

import (
	"context"
	"errors"
	"time"

	"handoffdesk/backend/internal/config"
	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"

	"gorm.io/gorm"
)

var (
	activeStatuses   = []string{string(models.StatusWaiting), string(models.StatusConnected)}
	terminalStatuses = []string{string(models.StatusEnded), string(models.StatusTimeout)}
)

// errActiveExists aborts the create transaction when an active session is found.
var errActiveExists = errors.New("active session exists")

// CreateSession inserts a waiting session unless the conversation or the
// requester already has an active one, in which case a CONFLICT error carrying
// the existing session is returned.
func (s *Service) CreateSession(ctx context.Context, session *models.HandoffSession) (*models.HandoffSession, error) {
	var existing models.HandoffSession

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := findActive(tx, session.ConversationID, session.Requester())
		if err != nil {
			return err
		}
		if found != nil {
			existing = *found
			return errActiveExists
		}
		return tx.Create(session).Error
	})

	switch {
	case err == nil:
		return session, nil
	case errors.Is(err, errActiveExists):
		return nil, conflictWith(&existing)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Lost a race against a concurrent create for the same conversation.
		found, findErr := findActive(s.DB.WithContext(ctx), session.ConversationID, session.Requester())
		if findErr == nil && found != nil {
			return nil, conflictWith(found)
		}
		return nil, apperrors.Conflict("an active handoff session already exists for this conversation")
	default:
		return nil, apperrors.Database("failed to create handoff session", err)
	}
}

func findActive(tx *gorm.DB, conversationID string, requester models.Requester) (*models.HandoffSession, error) {
	q := tx.Where("status IN ?", activeStatuses)
	switch {
	case requester.UserID != "":
		q = q.Where("(conversation_id = ? OR user_id = ?)", conversationID, requester.UserID)
	case requester.GuestID != "":
		q = q.Where("(conversation_id = ? OR guest_id = ?)", conversationID, requester.GuestID)
	default:
		q = q.Where("conversation_id = ?", conversationID)
	}

	var found models.HandoffSession
	err := q.Order("created_at DESC").First(&found).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &found, nil
}

func conflictWith(existing *models.HandoffSession) *apperrors.AppError {
	return apperrors.Conflict("an active handoff session already exists; finish it before requesting a new one").
		WithDetails(map[string]interface{}{"session": existing})
}

func (s *Service) GetSession(ctx context.Context, sessionID string) (*models.HandoffSession, error) {
	var session models.HandoffSession
	err := s.DB.WithContext(ctx).Where("id = ?", sessionID).First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperrors.NotFound("handoff session")
	}
	if err != nil {
		return nil, apperrors.Database("failed to load handoff session", err)
	}
	return &session, nil
}

// GetActiveSession returns the waiting or connected session of a conversation,
// or nil when there is none.
func (s *Service) GetActiveSession(ctx context.Context, conversationID string) (*models.HandoffSession, error) {
	var session models.HandoffSession
	err := s.DB.WithContext(ctx).
		Where("conversation_id = ? AND status IN ?", conversationID, activeStatuses).
		Order("created_at DESC").
		First(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database("failed to load active handoff session", err)
	}
	return &session, nil
}

// AcceptSession moves a waiting session to connected. The status check and
// the write are one UPDATE, so of several concurrent callers exactly one wins;
// the others get INVALID_STATE.
func (s *Service) AcceptSession(ctx context.Context, sessionID, adminID, adminName string, at time.Time) (*models.HandoffSession, error) {
	result := s.DB.WithContext(ctx).Model(&models.HandoffSession{}).
		Where("id = ? AND status = ?", sessionID, string(models.StatusWaiting)).
		Updates(map[string]interface{}{
			"status":       string(models.StatusConnected),
			"admin_id":     adminID,
			"admin_name":   adminName,
			"connected_at": at,
		})
	if result.Error != nil {
		return nil, apperrors.Database("failed to accept handoff session", result.Error)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if result.RowsAffected == 0 {
		return nil, apperrors.InvalidState("session is not in waiting status").
			WithDetails(map[string]interface{}{"status": session.Status, "adminName": session.AdminName})
	}
	return session, nil
}

// EndSession moves a waiting or connected session to ended. Ending a session
// that is already terminal is not an error: the stored record is returned with
// changed=false and endedAt is left untouched.
func (s *Service) EndSession(ctx context.Context, sessionID string, at time.Time) (*models.HandoffSession, bool, error) {
	return s.finish(ctx, sessionID, activeStatuses, models.StatusEnded, at, "failed to end handoff session")
}

// TimeoutSession moves a waiting session to timeout. changed=false means the
// session had already left waiting.
func (s *Service) TimeoutSession(ctx context.Context, sessionID string, at time.Time) (*models.HandoffSession, bool, error) {
	return s.finish(ctx, sessionID, []string{string(models.StatusWaiting)}, models.StatusTimeout, at, "failed to expire handoff session")
}

func (s *Service) finish(ctx context.Context, sessionID string, from []string, to models.SessionStatus, at time.Time, failure string) (*models.HandoffSession, bool, error) {
	result := s.DB.WithContext(ctx).Model(&models.HandoffSession{}).
		Where("id = ? AND status IN ?", sessionID, from).
		Updates(map[string]interface{}{
			"status":              string(to),
			"ended_at":            at,
			"active_conversation": nil,
		})
	if result.Error != nil {
		return nil, false, apperrors.Database(failure, result.Error)
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, false, err
	}
	return session, result.RowsAffected > 0, nil
}

// ListWaiting returns waiting sessions, oldest first.
func (s *Service) ListWaiting(ctx context.Context) ([]models.HandoffSession, error) {
	var sessions []models.HandoffSession
	err := s.DB.WithContext(ctx).
		Where("status = ?", string(models.StatusWaiting)).
		Order("requested_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.Database("failed to list waiting sessions", err)
	}
	return sessions, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, filter SessionFilter) ([]models.HandoffSession, error) {
	limit := filter.Limit
	if limit <= 0 || limit > config.AdminSessionListLimit {
		limit = config.AdminSessionListLimit
	}

	q := s.DB.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}

	var sessions []models.HandoffSession
	if err := q.Find(&sessions).Error; err != nil {
		return nil, apperrors.Database("failed to list sessions", err)
	}
	return sessions, nil
}

// ListOverdue returns waiting sessions whose deadline is at or before now.
// Sessions stored without a deadline use fallback as their window.
func (s *Service) ListOverdue(ctx context.Context, now time.Time, fallback time.Duration) ([]models.HandoffSession, error) {
	var sessions []models.HandoffSession
	err := s.DB.WithContext(ctx).
		Where("status = ? AND ((expires_at IS NOT NULL AND expires_at <= ?) OR (expires_at IS NULL AND requested_at <= ?))",
			string(models.StatusWaiting), now, now.Add(-fallback)).
		Order("requested_at ASC").
		Find(&sessions).Error
	if err != nil {
		return nil, apperrors.Database("failed to list overdue sessions", err)
	}
	return sessions, nil
}
