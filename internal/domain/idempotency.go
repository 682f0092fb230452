package domain

import "time"

// ProcessedUpdate records a Telegram update_id that has already been handled.
// The Bot API redelivers webhook updates that were not acknowledged in time,
// and a replayed update must not issue a second promo.
type ProcessedUpdate struct {
	UpdateID  int64     `gorm:"primaryKey;autoIncrement:false"`
	ChatID    int64     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (ProcessedUpdate) TableName() string { return "processed_updates" }
