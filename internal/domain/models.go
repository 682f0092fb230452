// Package domain defines the persistence models for chat sessions, roster
// members and issued promo codes. These types are mapped with GORM and are
// shared across the repository, service and transport layers.
package domain

import (
	"time"
)

// DefaultPromoValidity is how long an issued promo code stays redeemable.
const DefaultPromoValidity = 72 * time.Hour

// DateLayout is the DD/MM/YYYY HH:MM:SS layout used for roster rows and for
// dates shown to users.
const DateLayout = "02/01/2006 15:04:05"

// User is a chat session created after successful phone verification.
//
// Fields:
//   - ChatID: opaque chat identifier supplied by the transport; primary key.
//   - Phone: normalized digits-only phone number. A new login replaces the
//     whole record rather than mutating the phone.
//   - Notifications: reminder history, most recent first.
//   - CreatedAt / UpdatedAt: timestamps managed by GORM.
type User struct {
	ChatID        int64          `json:"chat_id"        gorm:"primaryKey;autoIncrement:false"`
	Phone         string         `json:"phone"          gorm:"type:varchar(32);not null;index:idx_users_phone"`
	Notifications []Notification `json:"notifications"  gorm:"foreignKey:ChatID;references:ChatID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// NotificationCount returns the lifetime number of reminders sent.
func (u *User) NotificationCount() int { return len(u.Notifications) }

// LastNotification returns the most recent reminder time, if any.
func (u *User) LastNotification() (time.Time, bool) {
	if len(u.Notifications) == 0 {
		return time.Time{}, false
	}
	return u.Notifications[0].SentAt, true
}

// RecordNotification prepends a reminder sent at t, keeping the history
// ordered most-recent-first.
func (u *User) RecordNotification(t time.Time) {
	n := Notification{ChatID: u.ChatID, SentAt: t}
	u.Notifications = append([]Notification{n}, u.Notifications...)
}

// Notification is one reminder delivered to a user.
type Notification struct {
	ID     uint      `json:"-"       gorm:"primaryKey"`
	ChatID int64     `json:"-"       gorm:"not null;index:idx_notifications_chat"`
	SentAt time.Time `json:"sent_at" gorm:"not null"`
}

// TableName returns the database table name for Notification.
func (Notification) TableName() string { return "notifications" }

// Promo is an issued promo code. Rows are append-only; the current promo for
// a phone is the most recently issued one.
//
// Fields:
//   - ID: insertion-ordered surrogate key, used to break issuance ties.
//   - Phone: normalized phone number of the owner.
//   - Code: 10 characters from [A-Z0-9].
//   - Award: label from the award table.
//   - IssuedAt: issuance time with second precision.
type Promo struct {
	ID       uint      `json:"-"         gorm:"primaryKey"`
	Phone    string    `json:"phone"     gorm:"type:varchar(32);not null;index:idx_promos_phone" validate:"required,number"`
	Code     string    `json:"code"      gorm:"type:varchar(16);not null"                        validate:"required,len=10,alphanum,uppercase"`
	Award    string    `json:"award"     gorm:"type:varchar(64);not null"                        validate:"required"`
	IssuedAt time.Time `json:"issued_at" gorm:"not null"                                         validate:"required"`
}

// TableName returns the database table name for Promo.
func (Promo) TableName() string { return "promos" }

// ExpiresAt returns issuance + validity.
func (p *Promo) ExpiresAt(validity time.Duration) time.Time {
	return p.IssuedAt.Add(validity)
}

// ValidAt reports whether the promo is still redeemable at now.
func (p *Promo) ValidAt(now time.Time, validity time.Duration) bool {
	return now.Before(p.ExpiresAt(validity))
}

// Member is a roster directory entry that is allowed to log in.
type Member struct {
	ID        uint      `json:"id"         gorm:"primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null"`
	Phone     string    `json:"phone"      gorm:"type:varchar(32);not null;uniqueIndex:ux_members_phone"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName returns the database table name for Member.
func (Member) TableName() string { return "members" }
