// Package repo implements the persistence layer for sessions, roster members
// and promo codes. This file provides the GORM-backed user store.
//
// Error semantics:
//   - Get returns domain.ErrNotFound (also exported here as ErrNotFound) when
//     no session exists for the chat.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = domain.ErrNotFound

// UserRepo stores chat sessions and their reminder history in SQL.
// Notifications live in a child table ordered most-recent-first on read.
type UserRepo struct {
	DB *gorm.DB
}

// NewUserRepo returns a UserRepo bound to db.
func NewUserRepo(db *gorm.DB) *UserRepo { return &UserRepo{DB: db} }

// Exists reports whether a session exists for chatID.
func (r *UserRepo) Exists(ctx context.Context, chatID int64) (bool, error) {
	var n int64
	if err := r.DB.WithContext(ctx).Model(&domain.User{}).Where("chat_id = ?", chatID).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// Get loads the session for chatID with its notification history.
func (r *UserRepo) Get(ctx context.Context, chatID int64) (*domain.User, error) {
	var u domain.User
	err := r.DB.WithContext(ctx).
		Preload("Notifications", func(db *gorm.DB) *gorm.DB {
			return db.Order("sent_at DESC, id DESC")
		}).
		First(&u, "chat_id = ?", chatID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// Set upserts the whole record: the user row is replaced and the
// notification history is rewritten to match u.Notifications.
func (r *UserRepo) Set(ctx context.Context, u *domain.User) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := domain.User{ChatID: u.ChatID, Phone: u.Phone, CreatedAt: u.CreatedAt, UpdatedAt: time.Now().UTC()}
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "chat_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"phone", "updated_at"}),
		}).Omit(clause.Associations).Create(&row).Error
		if err != nil {
			return err
		}

		if err := tx.Where("chat_id = ?", u.ChatID).Delete(&domain.Notification{}).Error; err != nil {
			return err
		}
		if len(u.Notifications) == 0 {
			return nil
		}
		// Insert oldest first so ids grow with time.
		rows := make([]domain.Notification, 0, len(u.Notifications))
		for i := len(u.Notifications) - 1; i >= 0; i-- {
			rows = append(rows, domain.Notification{ChatID: u.ChatID, SentAt: u.Notifications[i].SentAt})
		}
		return tx.Create(&rows).Error
	})
}

// Delete removes the session and its history. Deleting a missing session is
// not an error.
func (r *UserRepo) Delete(ctx context.Context, chatID int64) error {
	return r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("chat_id = ?", chatID).Delete(&domain.Notification{}).Error; err != nil {
			return err
		}
		return tx.Where("chat_id = ?", chatID).Delete(&domain.User{}).Error
	})
}

// Keys lists every chat id with a session, ascending.
func (r *UserRepo) Keys(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.DB.WithContext(ctx).Model(&domain.User{}).Order("chat_id ASC").Pluck("chat_id", &ids).Error
	return ids, err
}
