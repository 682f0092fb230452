// Package bot implements the chat dialogue: login by phone, get-or-issue
// promo codes, help and logout, plus reminder delivery for the scheduler.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/skip2/go-qrcode"

	"github.com/tbourn/go-promo-bot/internal/domain"
	"github.com/tbourn/go-promo-bot/internal/observability"
	"github.com/tbourn/go-promo-bot/internal/services"
	"github.com/tbourn/go-promo-bot/internal/sysutil"
	"github.com/tbourn/go-promo-bot/internal/telegram"
)

// Sender delivers messages to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID int64, text string, markup *telegram.ReplyKeyboardMarkup) error
	SendPhoto(ctx context.Context, chatID int64, png []byte, caption string, markup *telegram.ReplyKeyboardMarkup) error
}

// Options tune the dialogue.
type Options struct {
	Location         *time.Location // zone for displayed dates
	AntispamInterval time.Duration  // zero disables anti-spam
	PromoQR          bool           // attach a QR image to new codes
}

// Bot dispatches updates to the session and promo services.
type Bot struct {
	sender   Sender
	sessions *services.SessionService
	promos   *services.PromoService

	loc      *time.Location
	qr       bool
	antispam *antispam

	offset int64 // next getUpdates offset; survives Poll restarts
}

// New wires a Bot.
func New(sender Sender, sessions *services.SessionService, promos *services.PromoService, opts Options) *Bot {
	b := &Bot{
		sender:   sender,
		sessions: sessions,
		promos:   promos,
		loc:      opts.Location,
		qr:       opts.PromoQR,
	}
	if b.loc == nil {
		b.loc = time.UTC
	}
	if opts.AntispamInterval > 0 {
		b.antispam = newAntispam(opts.AntispamInterval)
	}
	return b
}

// Update kinds used as metric labels.
const (
	kindStart    = "start"
	kindHelp     = "help"
	kindLogin    = "login"
	kindPromo    = "promo"
	kindLogout   = "logout"
	kindIgnored  = "ignored"
	kindThrottle = "throttled"
)

// HandleUpdate processes one update. A panic is recovered and returned as an
// error so one bad update never stops the loop.
func (b *Bot) HandleUpdate(ctx context.Context, u telegram.Update) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int64("update_id", u.UpdateID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("bot: panic while handling update")
			err = fmt.Errorf("panic handling update %d: %v", u.UpdateID, r)
		}
	}()

	m := u.Message
	if m == nil || m.Text == "" {
		observability.BotUpdates.WithLabelValues(kindIgnored).Inc()
		return nil
	}
	chatID := m.Chat.ID
	var senderID int64
	var firstName string
	if m.From != nil {
		senderID = m.From.ID
		firstName = sysutil.FirstNonEmpty(m.From.FirstName, m.From.Username)
	}
	if senderID == 0 {
		senderID = chatID
	}

	if b.antispam != nil && !b.antispam.Allow(senderID) {
		observability.BotUpdates.WithLabelValues(kindThrottle).Inc()
		log.Info().Int64("chat_id", chatID).Int64("sender_id", senderID).Msg("bot: request throttled")
		return b.sender.SendMessage(ctx, chatID, msgTooFast, nil)
	}

	text := strings.TrimSpace(m.Text)
	switch {
	case isCommand(text, "/start"):
		return b.track(kindStart, b.start(ctx, chatID, firstName))
	case isCommand(text, "/help"), text == ButtonHelp:
		return b.track(kindHelp, b.send(ctx, chatID, msgHelp))
	}

	user, err := b.sessions.Current(ctx, chatID)
	if err != nil {
		return b.fail(chatID, "load session", err)
	}
	if user == nil {
		return b.track(kindLogin, b.login(ctx, chatID, text))
	}

	switch text {
	case ButtonPromo:
		return b.track(kindPromo, b.getPromo(ctx, chatID, user.Phone))
	case ButtonLogout:
		return b.track(kindLogout, b.logout(ctx, chatID, firstName))
	}
	observability.BotUpdates.WithLabelValues(kindIgnored).Inc()
	log.Debug().Int64("chat_id", chatID).Msg("bot: unrecognized text from logged-in chat")
	return nil
}

func isCommand(text, cmd string) bool {
	if !strings.HasPrefix(text, cmd) {
		return false
	}
	rest := text[len(cmd):]
	return rest == "" || rest[0] == ' ' || rest[0] == '@'
}

func (b *Bot) track(kind string, err error) error {
	observability.BotUpdates.WithLabelValues(kind).Inc()
	return err
}

func (b *Bot) start(ctx context.Context, chatID int64, firstName string) error {
	user, err := b.sessions.Current(ctx, chatID)
	if err != nil {
		return b.fail(chatID, "load session", err)
	}
	if user != nil {
		return b.send(ctx, chatID, msgExistingUser)
	}
	return b.send(ctx, chatID, greeting(firstName))
}

func (b *Bot) login(ctx context.Context, chatID int64, text string) error {
	user, member, err := b.sessions.Login(ctx, chatID, text)
	switch {
	case errors.Is(err, services.ErrInvalidPhone):
		log.Info().Int64("chat_id", chatID).Msg("bot: invalid phone entered")
		return b.send(ctx, chatID, invalidPhone())
	case errors.Is(err, services.ErrMemberNotFound):
		return b.send(ctx, chatID, phoneNotFound())
	case err != nil:
		return b.fail(chatID, "login", err)
	}
	if err := b.send(ctx, chatID, recognized(member.Name)); err != nil {
		return err
	}
	return b.getPromo(ctx, chatID, user.Phone)
}

func (b *Bot) getPromo(ctx context.Context, chatID int64, phone string) error {
	p, issued, err := b.promos.GetOrIssue(ctx, phone)
	if err != nil {
		return b.fail(chatID, "get or issue promo", err)
	}
	if !issued {
		if err := b.send(ctx, chatID, currentPromo(p, b.loc)); err != nil {
			return err
		}
		return b.send(ctx, chatID, nextPromoAt(b.promos.ExpiresAt(p), b.loc))
	}

	text := newPromo(p, b.loc)
	if b.qr {
		err := b.sendQR(ctx, chatID, p, text)
		if err == nil {
			return nil
		}
		log.Warn().Err(err).Int64("chat_id", chatID).Msg("bot: qr delivery failed, sending text")
	}
	return b.send(ctx, chatID, text)
}

func (b *Bot) sendQR(ctx context.Context, chatID int64, p *domain.Promo, caption string) error {
	png, err := qrcode.Encode(p.Code, qrcode.Medium, 256)
	if err != nil {
		return err
	}
	return b.sender.SendPhoto(ctx, chatID, png, caption, b.keyboard(true))
}

func (b *Bot) logout(ctx context.Context, chatID int64, firstName string) error {
	if err := b.sessions.Logout(ctx, chatID); err != nil {
		return b.fail(chatID, "logout", err)
	}
	return b.start(ctx, chatID, firstName)
}

// SendReminder delivers the reminder text. It satisfies services.Reminder.
func (b *Bot) SendReminder(ctx context.Context, chatID int64) error {
	return b.sender.SendMessage(ctx, chatID, msgReminder, b.keyboard(true))
}

// send delivers text with the keyboard matching the chat's session state.
func (b *Bot) send(ctx context.Context, chatID int64, text string) error {
	loggedIn := false
	if u, err := b.sessions.Current(ctx, chatID); err == nil && u != nil {
		loggedIn = true
	}
	if err := b.sender.SendMessage(ctx, chatID, text, b.keyboard(loggedIn)); err != nil {
		return fmt.Errorf("send to chat %d: %w", chatID, err)
	}
	return nil
}

func (b *Bot) keyboard(loggedIn bool) *telegram.ReplyKeyboardMarkup {
	if loggedIn {
		return telegram.Keyboard(ButtonPromo, ButtonLogout, ButtonHelp)
	}
	return telegram.Keyboard(ButtonHelp)
}

// fail logs err and returns it wrapped. The chat gets no reply.
func (b *Bot) fail(chatID int64, op string, err error) error {
	log.Error().Err(err).Int64("chat_id", chatID).Str("op", op).Msg("bot: update failed")
	return fmt.Errorf("%s: %w", op, err)
}
