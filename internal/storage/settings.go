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

const settingsRowID = 1

// GetSettings returns the stored settings override, or nil when none was saved.
func (s *Service) GetSettings(ctx context.Context) (*config.HandoffSettings, error) {
	var row models.HandoffSetting
	err := s.DB.WithContext(ctx).First(&row, settingsRowID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Database("failed to load handoff settings", err)
	}
	row.Settings.ApplyDefaults()
	return &row.Settings, nil
}

func (s *Service) SaveSettings(ctx context.Context, settings config.HandoffSettings, updatedBy string) error {
	row := models.HandoffSetting{
		ID:        settingsRowID,
		Settings:  settings,
		UpdatedBy: updatedBy,
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.DB.WithContext(ctx).Save(&row).Error; err != nil {
		return apperrors.Database("failed to save handoff settings", err)
	}
	return nil
}
