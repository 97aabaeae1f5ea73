package storage

import (
	"context"
	"time"

	apperrors "handoffdesk/backend/internal/errors"
	"handoffdesk/backend/internal/models"

	"gorm.io/gorm/clause"
)

// SaveMessage stores a handoff message keyed by (sessionId, clientMessageId).
// It reports false when the key was already stored.
func (s *Service) SaveMessage(ctx context.Context, msg *models.HandoffMessage) (bool, error) {
	result := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(msg)
	if result.Error != nil {
		return false, apperrors.Database("failed to save handoff message", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// GetMessages returns the history of a session in send order.
func (s *Service) GetMessages(ctx context.Context, sessionID string) ([]models.HandoffMessage, error) {
	var history []models.HandoffMessage
	err := s.DB.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sent_at asc, id asc").
		Find(&history).Error
	if err != nil {
		return nil, apperrors.Database("failed to load handoff messages", err)
	}
	return history, nil
}

// PruneMessages deletes messages of sessions that reached a terminal state
// before the cutoff.
func (s *Service) PruneMessages(ctx context.Context, endedBefore time.Time) (int64, error) {
	finished := s.DB.Model(&models.HandoffSession{}).
		Select("id").
		Where("status IN ? AND ended_at < ?", terminalStatuses, endedBefore)

	result := s.DB.WithContext(ctx).
		Where("session_id IN (?)", finished).
		Delete(&models.HandoffMessage{})
	if result.Error != nil {
		return 0, apperrors.Database("failed to prune handoff messages", result.Error)
	}
	return result.RowsAffected, nil
}
