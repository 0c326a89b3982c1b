package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"tourbook/internal/database"
	"tourbook/internal/events"
	"tourbook/internal/metrics"
	"tourbook/internal/models"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// SupportSheet mirrors escalations into the support spreadsheet.
// UpsertEscalation must be idempotent per attempt id.
type SupportSheet interface {
	UpsertEscalation(ctx context.Context, e *models.Escalation) error
}

// SupportNotifier pings the support chat about an escalation.
type SupportNotifier interface {
	NotifyEscalation(ctx context.Context, e *models.Escalation) error
}

// EscalationWorker delivers journaled post-payment failures to support.
// It never talks to the payment provider.
type EscalationWorker struct {
	db            *database.DB
	sheet         SupportSheet
	notifier      SupportNotifier
	redis         *redis.Client
	retryPolicy   RetryPolicy
	queue         chan models.Escalation
	redisQueueKey string
	deadLetterKey string
	pollInterval  time.Duration
	batchSize     int
	logger        *zerolog.Logger
}

// NewEscalationWorker builds a worker with sane defaults. sheet, notifier
// and redisClient may be nil.
func NewEscalationWorker(
	db *database.DB,
	sheet SupportSheet,
	notifier SupportNotifier,
	redisClient *redis.Client,
	retry RetryPolicy,
	logger *zerolog.Logger,
) *EscalationWorker {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	return &EscalationWorker{
		db:            db,
		sheet:         sheet,
		notifier:      notifier,
		redis:         redisClient,
		retryPolicy:   retry.withDefaults(),
		queue:         make(chan models.Escalation, models.WorkerQueueSize),
		redisQueueKey: "escalations:queue",
		deadLetterKey: "escalations:deadletter",
		pollInterval:  2 * time.Second,
		batchSize:     20,
		logger:        logger,
	}
}

// Escalate journals e and schedules its delivery. Escalating the same
// attempt twice schedules nothing new.
func (w *EscalationWorker) Escalate(ctx context.Context, e *models.Escalation) error {
	if e.AttemptID == "" {
		return errors.New("attempt id is required")
	}

	if err := w.db.CreateEscalation(ctx, e); err != nil {
		return fmt.Errorf("journal escalation: %w", err)
	}
	if e.Status != models.EscalationPending {
		w.logger.Info().Str("attempt_id", e.AttemptID).Str("status", e.Status).Msg("escalation already journaled")
		return nil
	}
	metrics.IncEscalation(models.EscalationPending)
	w.logger.Warn().
		Str("attempt_id", e.AttemptID).
		Str("payment_intent_id", e.PaymentIntentID).
		Str("reason", e.Reason).
		Msg("paid checkout escalated to support")

	if w.redis != nil {
		if err := w.pushRedis(ctx, *e); err != nil {
			w.logger.Warn().Err(err).Int64("escalation_id", e.ID).Msg("redis push failed, fallback to memory queue")
		} else {
			return nil
		}
	}

	select {
	case w.queue <- *e:
	default:
		w.logger.Warn().Int64("escalation_id", e.ID).Msg("in-memory queue full, escalation left to polling")
	}

	return nil
}

// HandleFinalizeFailed is an events.EventHandler for checkout_finalize_failed.
func (w *EscalationWorker) HandleFinalizeFailed(event *events.Event) error {
	var payload events.CheckoutEventPayload
	if err := event.Decode(&payload); err != nil {
		return fmt.Errorf("decode %s: %w", event.Type, err)
	}

	// The checkout that failed may already be gone; the journal must not be.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return w.Escalate(ctx, &models.Escalation{
		AttemptID:       payload.AttemptID,
		ActivityID:      payload.ActivityID,
		UserID:          payload.UserID,
		Date:            payload.Date,
		SlotID:          payload.SlotID,
		Guests:          payload.Guests,
		PaymentIntentID: payload.PaymentIntentID,
		Reason:          payload.Error,
	})
}

// Start launches the main loop; it stops when ctx is done.
func (w *EscalationWorker) Start(ctx context.Context) {
	w.logger.Info().Msg("escalation worker started")
	defer w.logger.Info().Msg("escalation worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if e, ok := w.tryLocalQueue(); ok {
			w.processTask(ctx, &e)
			continue
		}

		if e, ok := w.tryRedis(ctx); ok {
			w.processTask(ctx, &e)
			continue
		}

		pending, err := w.db.GetPendingEscalations(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("fetch pending escalations")
			}
			w.idle(ctx)
			continue
		}
		if len(pending) == 0 {
			w.idle(ctx)
			continue
		}

		for i := range pending {
			w.processTask(ctx, &pending[i])
		}
	}
}

func (w *EscalationWorker) idle(ctx context.Context) {
	timer := time.NewTimer(w.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func (w *EscalationWorker) tryLocalQueue() (models.Escalation, bool) {
	select {
	case e := <-w.queue:
		return e, true
	default:
		return models.Escalation{}, false
	}
}

func (w *EscalationWorker) tryRedis(ctx context.Context) (models.Escalation, bool) {
	if w.redis == nil {
		return models.Escalation{}, false
	}
	res, err := w.redis.BRPop(ctx, time.Second, w.redisQueueKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return models.Escalation{}, false
		}
		w.logger.Error().Err(err).Msg("redis BRPOP error")
		return models.Escalation{}, false
	}
	if len(res) != 2 {
		return models.Escalation{}, false
	}
	var e models.Escalation
	if err := json.Unmarshal([]byte(res[1]), &e); err != nil {
		w.logger.Error().Err(err).Msg("decode redis escalation")
		return models.Escalation{}, false
	}
	return e, true
}

// processTask delivers one escalation. The journal row is the source of
// truth, so queued copies of already settled entries are skipped.
func (w *EscalationWorker) processTask(ctx context.Context, task *models.Escalation) {
	current, err := w.db.GetEscalation(ctx, task.ID)
	if err != nil {
		w.logger.Error().Err(err).Int64("escalation_id", task.ID).Msg("load escalation")
		return
	}
	switch current.Status {
	case models.EscalationDelivered, models.EscalationFailed:
		return
	case models.EscalationRetry:
		if current.NextRetryAt != nil && current.NextRetryAt.After(time.Now()) {
			return
		}
	}

	if err := w.deliver(ctx, current); err != nil {
		if ctx.Err() != nil {
			return
		}
		w.retryOrFail(ctx, current, err)
		return
	}

	if err := w.db.UpdateEscalationStatus(ctx, current.ID, models.EscalationDelivered, "", nil); err != nil {
		w.logger.Error().Err(err).Int64("escalation_id", current.ID).Msg("mark delivered")
		return
	}
	metrics.IncEscalation(models.EscalationDelivered)
	w.logger.Info().
		Int64("escalation_id", current.ID).
		Str("attempt_id", current.AttemptID).
		Str("payment_intent_id", current.PaymentIntentID).
		Msg("escalation delivered to support")
}

// deliver writes the sheet row before notifying, so a retried notification
// always points at an existing row.
func (w *EscalationWorker) deliver(ctx context.Context, e *models.Escalation) error {
	if w.sheet != nil {
		if err := w.sheet.UpsertEscalation(ctx, e); err != nil {
			return fmt.Errorf("support sheet: %w", err)
		}
	}
	if w.notifier != nil {
		if err := w.notifier.NotifyEscalation(ctx, e); err != nil {
			return fmt.Errorf("support notification: %w", err)
		}
	}
	return nil
}

func (w *EscalationWorker) retryOrFail(ctx context.Context, e *models.Escalation, cause error) {
	attempt := e.RetryCount + 1
	if w.retryPolicy.Exhausted(attempt) {
		if err := w.db.UpdateEscalationStatus(ctx, e.ID, models.EscalationFailed, cause.Error(), nil); err != nil {
			w.logger.Error().Err(err).Int64("escalation_id", e.ID).Msg("mark failed")
		}
		metrics.IncEscalation(models.EscalationFailed)
		w.logger.Error().Err(cause).
			Int64("escalation_id", e.ID).
			Str("attempt_id", e.AttemptID).
			Msg("escalation delivery gave up")
		w.pushDeadLetter(ctx, e)
		return
	}

	nextTime := time.Now().Add(w.retryPolicy.NextDelay(attempt))
	if err := w.db.UpdateEscalationStatus(ctx, e.ID, models.EscalationRetry, cause.Error(), &nextTime); err != nil {
		w.logger.Error().Err(err).Int64("escalation_id", e.ID).Msg("mark retry")
	}
	metrics.IncEscalation(models.EscalationRetry)
	w.logger.Warn().Err(cause).Int64("escalation_id", e.ID).Int("attempt", attempt).Time("next_retry_at", nextTime).Msg("escalation delivery failed")
}

func (w *EscalationWorker) pushRedis(ctx context.Context, e models.Escalation) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return w.redis.LPush(ctx, w.redisQueueKey, data).Err()
}

func (w *EscalationWorker) pushDeadLetter(ctx context.Context, e *models.Escalation) {
	if w.redis == nil {
		return
	}
	data, err := json.Marshal(e)
	if err != nil {
		w.logger.Error().Err(err).Int64("escalation_id", e.ID).Msg("encode deadletter")
		return
	}
	if err := w.redis.LPush(ctx, w.deadLetterKey, data).Err(); err != nil {
		w.logger.Error().Err(err).Int64("escalation_id", e.ID).Msg("deadletter push")
	}
}
