package bot

import (
	"context"
	"time"
)

func (b *Bot) withRecovery(handler func()) {
	defer func() {
		if r := recover(); r != nil {
			if b.metrics != nil {
				b.metrics.ErrorsTotal.Inc()
			}
			b.logger.Error().Interface("panic", r).Msg("Recovered from panic in update handler")
		}
	}()
	handler()
}

// allow applies the per-chat rate limit. Limiter failures let the update through.
func (b *Bot) allow(ctx context.Context, chatID int64) bool {
	window := time.Duration(b.config.Checkout.RateLimitWindow) * time.Second
	allowed, err := b.sessions.Allow(ctx, chatID, b.config.Checkout.RateLimitMessages, window)
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("Rate limit check failed")
		return true
	}
	if !allowed {
		b.logger.Warn().Int64("chat_id", chatID).Msg("Rate limit exceeded")
	}
	return allowed
}
