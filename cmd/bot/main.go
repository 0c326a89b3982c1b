package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tourbook/internal/api"
	"tourbook/internal/bot"
	"tourbook/internal/config"
	"tourbook/internal/database"
	"tourbook/internal/events"
	"tourbook/internal/google"
	"tourbook/internal/logging"
	"tourbook/internal/metrics"
	"tourbook/internal/payment"
	"tourbook/internal/repository"
	"tourbook/internal/service"
	"tourbook/internal/worker"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}
	logger := logging.Component(baseLogger, "bot-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, logging.Component(baseLogger, "journal"))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to open escalation journal")
		return err
	}
	defer db.Close()

	if cfg.Database.Backup.Enabled {
		backupService := database.NewBackupService(db, cfg.Database.Backup, logging.Component(baseLogger, "backup"))
		go backupService.Start(ctx)
	}

	redisClient, wishlists := initWishlistRepository(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	backend := api.NewClient(cfg.Backend, logging.Component(baseLogger, "backend"))
	if redisClient != nil {
		backend.UseRedisCache(redisClient, cfg.Backend.ActivityCacheTTL)
	}

	var payments payment.Sheet
	if cfg.Stripe.SecretKey != "" {
		payments = payment.NewStripeSheet(cfg.Stripe.SecretKey, cfg.Stripe.PaymentMethod, logging.Component(baseLogger, "payments"))
	} else {
		logger.Warn().Msg("Stripe key is not set, payments are disabled")
	}

	botAPI, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create Telegram bot API")
		return err
	}
	botAPI.Debug = cfg.Telegram.Debug
	tgService := service.NewTelegramService(bot.NewBotWrapper(botAPI))

	notifier := service.NewSupportNotifier(tgService, cfg.Support.ChatID, cfg.Support.Managers, logging.Component(baseLogger, "support"))
	escalations := worker.NewEscalationWorker(
		db,
		initSupportSheet(ctx, cfg, logger),
		notifier,
		redisClient,
		worker.DefaultRetryPolicy(),
		logging.Component(baseLogger, "escalations"),
	)
	go escalations.Start(ctx)

	eventBus := events.NewEventBus()
	eventBus.OnError(func(ev *events.Event, err error) {
		logger.Error().Err(err).Str("event", ev.Type).Msg("event handler failed")
	})
	eventBus.Subscribe(events.EventFinalizeFailed, escalations.HandleFinalizeFailed)

	metrics.Register()
	if cfg.Monitoring.PrometheusEnabled {
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	sessions := service.NewSessionManager(wishlists, logging.Component(baseLogger, "sessions"))
	telegramBot, err := bot.NewBot(
		tgService, cfg, sessions, backend, payments, eventBus, db,
		bot.NewMetrics(prometheus.DefaultRegisterer), logging.Component(baseLogger, "bot"),
	)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create bot")
		return err
	}

	go func() {
		<-ctx.Done()
		telegramBot.Stop()
	}()

	logger.Info().Msg("Bot started")
	telegramBot.Start(ctx)

	logger.Info().Msg("Shutdown complete.")
	return nil
}

// initWishlistRepository prefers Redis and falls back to process memory
// while Redis is unreachable.
func initWishlistRepository(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, *repository.FailoverWishlistRepository) {
	fallback := repository.NewMemoryWishlistRepository()
	if cfg.Redis.Address == "" {
		logger.Warn().Msg("Redis address is not set, wishlists are kept in memory")
		return nil, repository.NewFailoverWishlistRepository(fallback, fallback, logger)
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, redisClient); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable")
	}
	primary := repository.NewRedisWishlistRepository(redisClient, cfg.Checkout.WishlistTTL)
	return redisClient, repository.NewFailoverWishlistRepository(primary, fallback, logger)
}

func initSupportSheet(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) worker.SupportSheet {
	if cfg.Google.GoogleCredentialsFile == "" || cfg.Google.SupportSpreadsheetID == "" {
		logger.Info().Msg("Support spreadsheet is not configured")
		return nil
	}

	sheet, err := google.NewSupportSheet(ctx, cfg.Google.GoogleCredentialsFile, cfg.Google.SupportSpreadsheetID)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to initialize support spreadsheet")
		return nil
	}
	if err := sheet.TestConnection(ctx); err != nil {
		logger.Warn().Err(err).Msg("Support spreadsheet connection test failed")
		return nil
	}

	logger.Info().Msg("Support spreadsheet initialized")
	return sheet
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
