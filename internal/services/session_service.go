// Package services – SessionService
//
// SessionService owns chat sessions: phone login against the roster,
// logout, and session listing for the admin API.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-promo-bot/internal/domain"
	"github.com/tbourn/go-promo-bot/internal/events"
	"github.com/tbourn/go-promo-bot/internal/observability"
	"github.com/tbourn/go-promo-bot/internal/sysutil"
	"github.com/tbourn/go-promo-bot/internal/utils"
)

// UserStore persists sessions keyed by chat id. Get returns
// domain.ErrNotFound for unknown chats.
type UserStore interface {
	Exists(ctx context.Context, chatID int64) (bool, error)
	Get(ctx context.Context, chatID int64) (*domain.User, error)
	Set(ctx context.Context, u *domain.User) error
	Delete(ctx context.Context, chatID int64) error
	Keys(ctx context.Context) ([]int64, error)
}

// SessionService coordinates login and logout.
type SessionService struct {
	Users  UserStore
	Roster RosterStore

	RetryAttempts int
	RetryDelay    time.Duration

	Now    func() time.Time
	Events events.Publisher
}

// NewSessionService returns a SessionService with 5 roster attempts 10s apart.
func NewSessionService(users UserStore, roster RosterStore) *SessionService {
	return &SessionService{
		Users:         users,
		Roster:        roster,
		RetryAttempts: 5,
		RetryDelay:    10 * time.Second,
		Now:           time.Now,
		Events:        events.Noop{},
	}
}

// Current returns the session for chatID, or nil when the chat is not
// logged in.
func (s *SessionService) Current(ctx context.Context, chatID int64) (*domain.User, error) {
	u, err := s.Users.Get(ctx, chatID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Login validates input as a phone number, looks it up in the roster and
// stores a fresh session. No session is written when the phone is invalid
// or unknown.
func (s *SessionService) Login(ctx context.Context, chatID int64, input string) (*domain.User, *domain.Member, error) {
	ctx, span := observability.Tracer("SessionService").Start(ctx, "Login",
		trace.WithAttributes(attribute.Int64("chat.id", chatID)),
	)
	defer span.End()

	phone, err := ParsePhone(input)
	if err != nil {
		return nil, nil, err
	}

	member, err := withRetry(ctx, s.RetryAttempts, s.RetryDelay, func(ctx context.Context) (*domain.Member, error) {
		return s.Roster.FindMember(ctx, phone)
	})
	if errors.Is(err, domain.ErrNotFound) {
		log.Info().Int64("chat_id", chatID).Str("phone", sysutil.MaskPhone(phone)).Msg("login rejected: phone not in roster")
		return nil, nil, ErrMemberNotFound
	}
	if err != nil {
		return nil, nil, fmt.Errorf("find member: %w", err)
	}

	u := &domain.User{ChatID: chatID, Phone: phone}
	if err := s.Users.Set(ctx, u); err != nil {
		return nil, nil, fmt.Errorf("save session: %w", err)
	}
	log.Info().Int64("chat_id", chatID).Str("phone", sysutil.MaskPhone(phone)).Msg("user logged in")

	ev := events.New(events.TypeLoggedIn, s.now())
	ev.ChatID, ev.Phone = chatID, phone
	s.publish(ctx, ev)
	return u, member, nil
}

// Logout deletes the session for chatID. Deleting a missing session is not
// an error.
func (s *SessionService) Logout(ctx context.Context, chatID int64) error {
	if err := s.Users.Delete(ctx, chatID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	log.Info().Int64("chat_id", chatID).Msg("user logged out")

	ev := events.New(events.TypeLoggedOut, s.now())
	ev.ChatID = chatID
	s.publish(ctx, ev)
	return nil
}

// ListPage returns one page of sessions ordered by chat id plus the total.
func (s *SessionService) ListPage(ctx context.Context, page, pageSize int) ([]domain.User, int64, error) {
	ctx, span := observability.Tracer("SessionService").Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = utils.ClampPage(page, pageSize, 20, 100)
	keys, err := s.Users.Keys(ctx)
	if err != nil {
		return nil, 0, err
	}
	lo, hi := utils.PageBounds(len(keys), page, pageSize)
	out := make([]domain.User, 0, hi-lo)
	for _, id := range keys[lo:hi] {
		u, err := s.Users.Get(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *u)
	}
	return out, int64(len(keys)), nil
}

func (s *SessionService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *SessionService) publish(ctx context.Context, ev events.Event) {
	if s.Events == nil {
		return
	}
	if err := s.Events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("event", ev.Type).Msg("event publish failed")
	}
}
