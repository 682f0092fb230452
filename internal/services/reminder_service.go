// Package services – ReminderService
//
// ReminderService scans every session and reminds users whose promo expired
// and who have not been reminded since. Each user costs at most one
// reminder per expiry and at most Cap reminders ever. Failures are isolated
// per user; a delivery failure records nothing so the next tick retries.
package services

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/tbourn/go-promo-bot/internal/domain"
	"github.com/tbourn/go-promo-bot/internal/events"
	"github.com/tbourn/go-promo-bot/internal/observability"
	"github.com/tbourn/go-promo-bot/internal/sysutil"
)

// Derived reminder states. They are never persisted.
const (
	StateCapReached             = "cap_reached"
	StateNoPromo                = "no_promo"
	StatePromoValid             = "promo_valid"
	StateNoHistory              = "no_history"
	StateExpiredNotNotified     = "expired_not_notified"
	StateExpiredAlreadyNotified = "expired_already_notified"
	StateError                  = "error"
)

// DefaultReminderCap is the lifetime reminder limit per user.
const DefaultReminderCap = 3

// Reminder delivers the reminder text to a chat.
type Reminder interface {
	SendReminder(ctx context.Context, chatID int64) error
}

// RunSummary describes one scan.
type RunSummary struct {
	Users    int            `json:"users"`
	Sent     int            `json:"sent"`
	Errors   int            `json:"errors"`
	States   map[string]int `json:"states"`
	Duration time.Duration  `json:"duration_ns"`
}

// ReminderService runs reminder scans.
type ReminderService struct {
	Users    UserStore
	Promos   *PromoService
	Reminder Reminder

	Cap    int
	Now    func() time.Time
	Events events.Publisher

	running atomic.Bool
}

// NewReminderService returns a ReminderService with the default cap.
func NewReminderService(users UserStore, promos *PromoService, r Reminder) *ReminderService {
	return &ReminderService{
		Users:    users,
		Promos:   promos,
		Reminder: r,
		Cap:      DefaultReminderCap,
		Now:      time.Now,
		Events:   events.Noop{},
	}
}

func (s *ReminderService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *ReminderService) limit() int {
	if s.Cap > 0 {
		return s.Cap
	}
	return DefaultReminderCap
}

// decide applies the reminder rules to a user below the cap whose latest
// promo is latest.
func decide(u *domain.User, latest *domain.Promo, now time.Time, validity time.Duration) (state string, send bool) {
	if latest == nil {
		return StateNoPromo, false
	}
	if latest.ValidAt(now, validity) {
		return StatePromoValid, false
	}
	last, ok := u.LastNotification()
	if !ok {
		return StateNoHistory, true
	}
	if last.Before(latest.ExpiresAt(validity)) {
		return StateExpiredNotNotified, true
	}
	return StateExpiredAlreadyNotified, false
}

// RunOnce scans all sessions sequentially. It returns an error only when
// the session list cannot be read or another scan is running.
func (s *ReminderService) RunOnce(ctx context.Context) (sum RunSummary, err error) {
	sum.States = map[string]int{}
	if !s.running.CompareAndSwap(false, true) {
		return sum, ErrRunInProgress
	}
	defer s.running.Store(false)

	ctx, span := observability.Tracer("ReminderService").Start(ctx, "RunOnce")
	defer span.End()

	start := time.Now()
	defer func() {
		sum.Duration = time.Since(start)
		observability.ReminderRunDuration.Observe(sum.Duration.Seconds())
	}()

	keys, err := s.Users.Keys(ctx)
	if err != nil {
		observability.SpanError(span, err, "list users failed")
		return sum, err
	}
	for _, chatID := range keys {
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		sum.Users++
		state, sent := s.processUser(ctx, chatID)
		sum.States[state]++
		observability.ReminderDecisions.WithLabelValues(state).Inc()
		switch {
		case state == StateError:
			sum.Errors++
		case sent:
			sum.Sent++
		}
	}
	span.SetAttributes(
		attribute.Int("reminder.users", sum.Users),
		attribute.Int("reminder.sent", sum.Sent),
	)
	log.Info().Int("users", sum.Users).Int("sent", sum.Sent).Int("errors", sum.Errors).Msg("reminder run finished")
	return sum, nil
}

func (s *ReminderService) processUser(ctx context.Context, chatID int64) (string, bool) {
	l := log.With().Int64("chat_id", chatID).Logger()

	u, err := s.Users.Get(ctx, chatID)
	if err != nil {
		l.Error().Err(err).Msg("reminder: load user")
		return StateError, false
	}
	if u.NotificationCount() >= s.limit() {
		return StateCapReached, false
	}

	latest, err := s.Promos.FindLatest(ctx, u.Phone)
	if err != nil {
		l.Error().Err(err).Str("phone", sysutil.MaskPhone(u.Phone)).Msg("reminder: find promo")
		return StateError, false
	}

	now := s.now()
	state, send := decide(u, latest, now, s.Promos.validity())
	l.Debug().Str("state", state).Msg("reminder decision")
	if !send {
		return state, false
	}

	if err := s.Reminder.SendReminder(ctx, chatID); err != nil {
		l.Error().Err(err).Msg("reminder: deliver")
		return StateError, false
	}
	u.RecordNotification(now.UTC())
	if err := s.Users.Set(ctx, u); err != nil {
		l.Error().Err(err).Msg("reminder: persist notification")
		return StateError, false
	}

	observability.RemindersSent.Inc()
	l.Info().Str("phone", sysutil.MaskPhone(u.Phone)).Int("count", u.NotificationCount()).Msg("reminder sent")

	ev := events.New(events.TypeReminderSent, now)
	ev.ChatID, ev.Phone = chatID, u.Phone
	if s.Events != nil {
		if err := s.Events.Publish(ctx, ev); err != nil {
			l.Warn().Err(err).Msg("event publish failed")
		}
	}
	return state, true
}

// Schedule runs one scan right away in the background, then registers RunOnce
// on spec (robfig/cron syntax, e.g. "@every 1h") in loc and starts the
// scheduler. Overlapping ticks are skipped and panics are recovered. Callers
// stop it with Stop.
func (s *ReminderService) Schedule(ctx context.Context, spec string, loc *time.Location) (*cron.Cron, error) {
	if loc == nil {
		loc = time.UTC
	}
	cl := cronLogger{l: log.With().Str("component", "reminder-cron").Logger()}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	run := func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("reminder run failed")
		}
	}
	if _, err := c.AddFunc(spec, run); err != nil {
		return nil, err
	}
	go run()
	c.Start()
	return c, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	l zerolog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.l.Debug().Fields(keysAndValues).Msg(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.l.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
