// Package repo implements the persistence layer for sessions, roster members
// and promo codes. This file records processed Telegram update ids so that
// webhook redeliveries are acknowledged without being handled twice.
package repo

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// ErrDuplicate indicates that a unique key already exists.
var ErrDuplicate = errors.New("duplicate")

// MarkUpdateProcessed claims updateID for processing. It returns true when
// the caller is the first to see the update and false when a non-expired
// record already exists. Expired records are replaced.
func MarkUpdateProcessed(ctx context.Context, db *gorm.DB, updateID, chatID int64, ttl time.Duration, now time.Time) (bool, error) {
	db = db.WithContext(ctx)

	var existing domain.ProcessedUpdate
	err := db.First(&existing, "update_id = ?", updateID).Error
	switch {
	case err == nil && existing.ExpiresAt.After(now):
		return false, nil
	case err == nil:
		if err := db.Delete(&domain.ProcessedUpdate{}, "update_id = ?", updateID).Error; err != nil {
			return false, err
		}
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return false, err
	}

	rec := &domain.ProcessedUpdate{
		UpdateID:  updateID,
		ChatID:    chatID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	if err := db.Create(rec).Error; err != nil {
		// Lost the race against a concurrent delivery of the same update.
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// PurgeExpiredUpdates deletes dedup records that expired before now and
// returns how many rows were removed.
func PurgeExpiredUpdates(ctx context.Context, db *gorm.DB, now time.Time) (int64, error) {
	res := db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&domain.ProcessedUpdate{})
	return res.RowsAffected, res.Error
}

// isUniqueViolation recognizes unique/primary key violations across drivers.
// glebarez/sqlite often returns plain-text errors for UNIQUE violations.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	low := strings.ToLower(err.Error())
	return strings.Contains(low, "unique constraint failed") ||
		strings.Contains(low, "constraint failed: unique") ||
		strings.Contains(low, "constraint failed: primary key") ||
		strings.Contains(low, "duplicate key value")
}
