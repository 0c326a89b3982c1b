package bot

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"tourbook/internal/checkout"
	"tourbook/internal/config"
	"tourbook/internal/domain"
	"tourbook/internal/events"
	"tourbook/internal/models"
	"tourbook/internal/payment"
	"tourbook/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Backend is the part of the marketplace API the bot drives.
type Backend interface {
	checkout.BookingAPI
	GetActivity(ctx context.Context, activityID string) (models.AvailabilityWindow, error)
}

// EscalationJournal lists journaled post-payment failures for export.
type EscalationJournal interface {
	ListEscalations(ctx context.Context, from, to time.Time) ([]models.Escalation, error)
}

type Bot struct {
	tgService domain.TelegramService
	config    *config.Config
	sessions  *service.SessionManager
	backend   Backend
	payments  payment.Sheet
	eventBus  checkout.EventPublisher
	journal   EscalationJournal
	metrics   *Metrics
	loc       *time.Location
	managers  map[int64]bool
	logger    *zerolog.Logger

	mu      sync.Mutex
	screens map[int64]*screen
	rootCtx context.Context
	wg      sync.WaitGroup
}

func NewBot(
	tgService domain.TelegramService,
	config *config.Config,
	sessions *service.SessionManager,
	backend Backend,
	payments payment.Sheet,
	eventBus checkout.EventPublisher,
	journal EscalationJournal,
	metrics *Metrics,
	logger *zerolog.Logger,
) (*Bot, error) {
	if eventBus == nil {
		eventBus = events.NewEventBus()
	}

	if logger == nil {
		l := zerolog.New(os.Stdout).With().Timestamp().Logger()
		logger = &l
	}

	loc, err := config.Location()
	if err != nil {
		return nil, fmt.Errorf("checkout timezone: %w", err)
	}

	managers := make(map[int64]bool, len(config.Support.Managers))
	for _, id := range config.Support.Managers {
		managers[id] = true
	}

	return &Bot{
		tgService: tgService,
		config:    config,
		sessions:  sessions,
		backend:   backend,
		payments:  payments,
		eventBus:  eventBus,
		journal:   journal,
		metrics:   metrics,
		loc:       loc,
		managers:  managers,
		logger:    logger,
		screens:   make(map[int64]*screen),
		rootCtx:   context.Background(),
	}, nil
}

func (b *Bot) Start(ctx context.Context) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	b.mu.Lock()
	b.rootCtx = ctx
	b.mu.Unlock()

	updates := b.tgService.GetUpdatesChan(u)

	b.logger.Info().Str("username", b.tgService.GetSelf().UserName).Msg("Authorized on account")

	defer func() {
		// closing the flows cancels any checkout still waiting on the network
		b.sessions.CloseAll()
		b.wg.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info().Msg("Bot stopping...")
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.processUpdate(ctx, update)
		}
	}
}

// Stop stops receiving Telegram updates (best-effort).
func (b *Bot) Stop() {
	if b == nil || b.tgService == nil {
		return
	}
	b.tgService.StopReceivingUpdates()
}

func (b *Bot) processUpdate(ctx context.Context, update tgbotapi.Update) {
	start := time.Now()
	defer func() {
		if b.metrics != nil {
			b.metrics.UpdateProcessingTime.Observe(time.Since(start).Seconds())
		}
	}()

	updateCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	l := b.logger.With().Str("request_id", uuid.New().String()).Logger()
	updateCtx = l.WithContext(updateCtx)

	b.withRecovery(func() {
		var userID, chatID int64
		switch {
		case update.Message != nil && update.Message.From != nil:
			userID, chatID = update.Message.From.ID, update.Message.Chat.ID
		case update.CallbackQuery != nil && update.CallbackQuery.Message != nil:
			userID, chatID = update.CallbackQuery.From.ID, update.CallbackQuery.Message.Chat.ID
		}
		if userID == 0 {
			return
		}

		if !b.isManager(userID) && !b.allow(updateCtx, chatID) {
			if update.Message != nil {
				b.sendMessage(chatID, "⚠️ You are sending messages too quickly. Please wait a moment.")
			}
			return
		}

		if update.CallbackQuery != nil {
			b.handleCallbackQuery(updateCtx, update.CallbackQuery)
			return
		}
		b.handleMessage(updateCtx, update.Message)
	})
}

func (b *Bot) isManager(userID int64) bool {
	return b.managers[userID]
}

// background returns the context checkouts run under; it outlives a single update.
func (b *Bot) background() context.Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rootCtx
}

func (b *Bot) sendMessage(chatID int64, text string) {
	if _, err := b.tgService.SendMessage(chatID, text); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send message")
	}
}
