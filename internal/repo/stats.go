// Package repo implements the persistence layer for sessions, roster members
// and promo codes. This file provides small aggregate queries used by the
// admin API.
package repo

import (
	"context"

	"gorm.io/gorm"

	"github.com/tbourn/go-promo-bot/internal/domain"
)

// AwardCount is one row of the per-award issuance aggregate.
type AwardCount struct {
	Award string
	Count int64
}

// AwardCounts returns how many promos were issued per award label.
//
// It executes a single GROUP BY over the promos table. Labels that were never
// issued are absent from the result.
func AwardCounts(ctx context.Context, db *gorm.DB) (map[string]int64, error) {
	var rows []AwardCount
	err := db.WithContext(ctx).
		Model(&domain.Promo{}).
		Select("award, COUNT(*) AS count").
		Group("award").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64, len(rows))
	for _, r := range rows {
		out[r.Award] = r.Count
	}
	return out, nil
}

// AwardCounts proxies the package-level aggregate for the SQL roster.
func (r *RosterRepo) AwardCounts(ctx context.Context) (map[string]int64, error) {
	return AwardCounts(ctx, r.DB)
}
