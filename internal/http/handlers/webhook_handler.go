package handlers

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-promo-bot/internal/http/middleware"
	"github.com/tbourn/go-promo-bot/internal/telegram"
)

// SecretHeader carries the secret registered with setWebhook.
const SecretHeader = "X-Telegram-Bot-Api-Secret-Token"

// UpdateHandler processes one Telegram update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, u telegram.Update) error
}

// ClaimFunc records updateID as processed and reports whether this call was
// the first one to do so.
type ClaimFunc func(ctx context.Context, updateID, chatID int64) (bool, error)

// Webhook receives updates pushed by Telegram.
type Webhook struct {
	bot    UpdateHandler
	secret string
	claim  ClaimFunc
}

// NewWebhook returns a receiver for bot. An empty secret disables the header
// check; a nil claim disables redelivery dedup.
func NewWebhook(bot UpdateHandler, secret string, claim ClaimFunc) *Webhook {
	return &Webhook{bot: bot, secret: secret, claim: claim}
}

// Receive godoc
// @ID          telegramWebhook
// @Summary     Telegram webhook receiver
// @Tags        Telegram
// @Accept      json
// @Produce     json
// @Param       X-Telegram-Bot-Api-Secret-Token  header  string  false  "Webhook secret"
// @Success     200  {object}  map[string]string
// @Failure     400  {object}  handlers.ErrorResponse
// @Failure     401  {object}  handlers.ErrorResponse
// @Router      /telegram/webhook [post]
func (w *Webhook) Receive(c *gin.Context) {
	if w.secret != "" && subtle.ConstantTimeCompare([]byte(c.GetHeader(SecretHeader)), []byte(w.secret)) != 1 {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid webhook secret")
		return
	}
	var u telegram.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid update body")
		return
	}

	ctx := c.Request.Context()
	lg := middleware.LoggerFrom(c)
	if w.claim != nil {
		var chatID int64
		if u.Message != nil {
			chatID = u.Message.Chat.ID
		}
		first, err := w.claim(ctx, u.UpdateID, chatID)
		if err != nil {
			lg.Error().Err(err).Int64("update_id", u.UpdateID).Msg("webhook: claim failed")
			// Non-2xx makes Telegram redeliver the update.
			fail(c, http.StatusInternalServerError, ErrCodeDedupFailed, "dedup unavailable")
			return
		}
		if !first {
			lg.Info().Int64("update_id", u.UpdateID).Msg("webhook: duplicate update ignored")
			ok(c, http.StatusOK, gin.H{"status": "duplicate"})
			return
		}
	}

	// The update is claimed, so a failure here is logged and acknowledged
	// instead of triggering a redelivery that dedup would drop anyway.
	if err := w.bot.HandleUpdate(ctx, u); err != nil {
		lg.Warn().Err(err).Int64("update_id", u.UpdateID).Msg("webhook: update failed")
	}
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}
