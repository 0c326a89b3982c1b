package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// telegramSendRate is the global outbound budget Telegram allows a bot.
const telegramSendRate = 30

// BotWrapper adapts *tgbotapi.BotAPI to domain.TelegramSender and keeps
// outbound calls under the Bot API flood limit.
type BotWrapper struct {
	*tgbotapi.BotAPI
	limiter *rate.Limiter
}

func NewBotWrapper(bot *tgbotapi.BotAPI) *BotWrapper {
	return &BotWrapper{BotAPI: bot, limiter: newOutboundLimiter(telegramSendRate)}
}

func newOutboundLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Limit(perSecond), int(perSecond))
}

func (w *BotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if err := w.limiter.Wait(context.Background()); err != nil {
		return tgbotapi.Message{}, err
	}
	return w.BotAPI.Send(c)
}

func (w *BotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	if err := w.limiter.Wait(context.Background()); err != nil {
		return nil, err
	}
	return w.BotAPI.Request(c)
}

func (w *BotWrapper) GetSelf() tgbotapi.User {
	return w.Self
}
