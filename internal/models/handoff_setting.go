package models

import (
	"time"

	"handoffdesk/backend/internal/config"
)

// HandoffSetting stores the runtime override of the handoff settings file.
// There is at most one row, with ID 1.
type HandoffSetting struct {
	ID        uint                   `gorm:"primaryKey"`
	Settings  config.HandoffSettings `gorm:"serializer:json;type:text"`
	UpdatedBy string                 `gorm:"type:varchar(128)"`
	UpdatedAt time.Time
}
