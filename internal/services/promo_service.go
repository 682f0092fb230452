// Package services – PromoService
//
// PromoService is the promo engine: it finds the current promo for a phone,
// issues new codes with a weighted award, and implements get-or-issue with a
// per-phone lock so concurrent chat updates never issue twice in-process.
//
// Roster reads are retried on domain.ErrTransient with a fixed delay. All
// public methods are OpenTelemetry-instrumented.
package services

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-promo-bot/internal/domain"
	"github.com/tbourn/go-promo-bot/internal/events"
	"github.com/tbourn/go-promo-bot/internal/observability"
	"github.com/tbourn/go-promo-bot/internal/sysutil"
)

// RosterStore is the promo log plus member directory.
type RosterStore interface {
	AllPromos(ctx context.Context) ([]domain.Promo, error)
	PromosByPhone(ctx context.Context, phone string) ([]domain.Promo, error)
	AppendPromo(ctx context.Context, p *domain.Promo) error
	FindMember(ctx context.Context, phone string) (*domain.Member, error)
}

// awardCounter is implemented by rosters that can aggregate server-side.
type awardCounter interface {
	AwardCounts(ctx context.Context) (map[string]int64, error)
}

// Lookup results used as metric labels.
const (
	lookupFound  = "found"
	lookupAbsent = "absent"
	lookupError  = "error"
)

// PromoService coordinates promo lookup and issuance.
type PromoService struct {
	Roster RosterStore

	Validity      time.Duration // zero means domain.DefaultPromoValidity
	RetryAttempts int
	RetryDelay    time.Duration

	Awards *AwardSampler
	Intn   func(n int) int // code alphabet draws; defaults to rand.IntN
	Now    func() time.Time
	Events events.Publisher

	locks    keyedMutex
	validate *validator.Validate
}

// NewPromoService returns a PromoService with the default award table,
// a 3-day validity window and 5 attempts 10s apart for roster reads.
func NewPromoService(roster RosterStore) *PromoService {
	return &PromoService{
		Roster:        roster,
		Validity:      domain.DefaultPromoValidity,
		RetryAttempts: 5,
		RetryDelay:    10 * time.Second,
		Awards:        NewAwardSampler(domain.DefaultAwards),
		Intn:          rand.IntN,
		Now:           time.Now,
		Events:        events.Noop{},
		validate:      validator.New(),
	}
}

func (s *PromoService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *PromoService) validity() time.Duration {
	if s.Validity > 0 {
		return s.Validity
	}
	return domain.DefaultPromoValidity
}

// FindLatest returns the most recently issued promo for phone, or nil when
// the phone has none. Rows with equal issuance times resolve to the one the
// roster returned last.
func (s *PromoService) FindLatest(ctx context.Context, phone string) (*domain.Promo, error) {
	ctx, span := observability.Tracer("PromoService").Start(ctx, "FindLatest")
	defer span.End()

	rows, err := withRetry(ctx, s.RetryAttempts, s.RetryDelay, func(ctx context.Context) ([]domain.Promo, error) {
		return s.Roster.PromosByPhone(ctx, phone)
	})
	if err != nil {
		observability.PromoLookups.WithLabelValues(lookupError).Inc()
		observability.SpanError(span, err, "roster lookup failed")
		return nil, fmt.Errorf("find promos: %w", err)
	}
	latest := latestPromo(rows)
	if latest == nil {
		observability.PromoLookups.WithLabelValues(lookupAbsent).Inc()
		return nil, nil
	}
	observability.PromoLookups.WithLabelValues(lookupFound).Inc()
	span.SetAttributes(attribute.String("promo.award", latest.Award))
	return latest, nil
}

func latestPromo(rows []domain.Promo) *domain.Promo {
	var best *domain.Promo
	for i := range rows {
		if best == nil || !rows[i].IssuedAt.Before(best.IssuedAt) {
			best = &rows[i]
		}
	}
	if best == nil {
		return nil
	}
	out := *best
	return &out
}

// Issue draws a new code and award for phone and appends it to the roster.
// Every call creates a new row.
func (s *PromoService) Issue(ctx context.Context, phone string) (*domain.Promo, error) {
	ctx, span := observability.Tracer("PromoService").Start(ctx, "Issue")
	defer span.End()

	intn := s.Intn
	if intn == nil {
		intn = rand.IntN
	}
	awards := s.Awards
	if awards == nil {
		awards = NewAwardSampler(domain.DefaultAwards)
	}

	p := &domain.Promo{
		Phone:    phone,
		Code:     newCode(intn),
		Award:    awards.Draw(),
		IssuedAt: s.now().Truncate(time.Second).UTC(),
	}
	if s.validate != nil {
		if err := s.validate.Struct(p); err != nil {
			return nil, fmt.Errorf("invalid promo: %w", err)
		}
	}
	if err := s.Roster.AppendPromo(ctx, p); err != nil {
		observability.SpanError(span, err, "append failed")
		return nil, fmt.Errorf("append promo: %w", err)
	}

	observability.PromosIssued.WithLabelValues(p.Award).Inc()
	span.SetAttributes(attribute.String("promo.award", p.Award))
	log.Info().Str("phone", sysutil.MaskPhone(phone)).Str("award", p.Award).Msg("promo issued")

	ev := events.New(events.TypePromoIssued, p.IssuedAt)
	ev.Phone, ev.Award, ev.Code = phone, p.Award, p.Code
	s.publish(ctx, ev)
	return p, nil
}

// IsValid reports whether p is still redeemable at now.
func (s *PromoService) IsValid(p *domain.Promo, now time.Time) bool {
	return p != nil && p.ValidAt(now, s.validity())
}

// ExpiresAt returns the end of p's validity window.
func (s *PromoService) ExpiresAt(p *domain.Promo) time.Time {
	return p.ExpiresAt(s.validity())
}

// GetOrIssue returns the current promo when it is still valid, otherwise
// issues a new one. issued reports which branch was taken.
func (s *PromoService) GetOrIssue(ctx context.Context, phone string) (promo *domain.Promo, issued bool, err error) {
	ctx, span := observability.Tracer("PromoService").Start(ctx, "GetOrIssue",
		trace.WithAttributes(observability.PhoneAttr(sysutil.MaskPhone(phone))),
	)
	defer span.End()

	unlock := s.locks.Lock(phone)
	defer unlock()

	latest, err := s.FindLatest(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	if s.IsValid(latest, s.now()) {
		span.SetAttributes(attribute.Bool("promo.issued", false))
		return latest, false, nil
	}
	p, err := s.Issue(ctx, phone)
	if err != nil {
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("promo.issued", true))
	return p, true, nil
}

// Stats returns the number of promos issued per award label.
func (s *PromoService) Stats(ctx context.Context) (map[string]int64, error) {
	ctx, span := observability.Tracer("PromoService").Start(ctx, "Stats")
	defer span.End()

	if c, ok := s.Roster.(awardCounter); ok {
		return c.AwardCounts(ctx)
	}
	rows, err := withRetry(ctx, s.RetryAttempts, s.RetryDelay, s.Roster.AllPromos)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int64)
	for _, p := range rows {
		out[p.Award]++
	}
	return out, nil
}

func (s *PromoService) publish(ctx context.Context, ev events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Msg("event publish failed")
	}
}
