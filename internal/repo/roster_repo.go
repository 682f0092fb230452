// Package repo implements the persistence layer for sessions, roster members
// and promo codes. This file provides the SQL roster: the member directory
// used for phone verification and the append-only promo issuance log.
package repo

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// RosterRepo is the GORM-backed roster store.
//
// Promo rows are returned in insertion order (ascending id) so callers can
// break issuance-time ties by position.
type RosterRepo struct {
	DB *gorm.DB
}

// NewRosterRepo returns a RosterRepo bound to db.
func NewRosterRepo(db *gorm.DB) *RosterRepo { return &RosterRepo{DB: db} }

// AllPromos returns every promo row in insertion order.
func (r *RosterRepo) AllPromos(ctx context.Context) ([]domain.Promo, error) {
	var out []domain.Promo
	err := r.DB.WithContext(ctx).Order("id ASC").Find(&out).Error
	return out, err
}

// PromosByPhone returns the promo history for phone in insertion order.
func (r *RosterRepo) PromosByPhone(ctx context.Context, phone string) ([]domain.Promo, error) {
	var out []domain.Promo
	err := r.DB.WithContext(ctx).
		Where("phone = ?", phone).
		Order("id ASC").
		Find(&out).Error
	return out, err
}

// AppendPromo inserts p. Rows are never updated afterwards.
func (r *RosterRepo) AppendPromo(ctx context.Context, p *domain.Promo) error {
	return r.DB.WithContext(ctx).Create(p).Error
}

// FindMember looks up the directory entry for a normalized phone.
func (r *RosterRepo) FindMember(ctx context.Context, phone string) (*domain.Member, error) {
	var m domain.Member
	err := r.DB.WithContext(ctx).First(&m, "phone = ?", phone).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// AddMember registers a directory entry. It returns ErrDuplicate when the
// phone is already on the roster.
func (r *RosterRepo) AddMember(ctx context.Context, m *domain.Member) error {
	if err := r.DB.WithContext(ctx).Create(m).Error; err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return err
	}
	return nil
}
