package bot

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-promo-bot/internal/telegram"
)

// UpdateSource long-polls for updates.
type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]telegram.Update, error)
}

// Poll fetches updates until ctx is done and handles them one by one.
// Handler errors are logged and the update is skipped. A fetch error is
// returned so a supervisor can restart the loop with backoff; the offset is
// kept on the Bot so a restart does not replay handled updates.
// Poll must not run concurrently with itself.
func (b *Bot) Poll(ctx context.Context, src UpdateSource, timeout time.Duration) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		updates, err := src.GetUpdates(ctx, b.offset, timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			if err := b.HandleUpdate(ctx, u); err != nil {
				log.Error().Err(err).Int64("update_id", u.UpdateID).Msg("bot: update dropped")
			}
		}
	}
}
