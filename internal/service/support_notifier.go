package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"tourbook/internal/domain"
	"tourbook/internal/models"

	"github.com/rs/zerolog"
)

// SupportNotifier tells support staff in Telegram about paid checkouts that
// were not confirmed by the backend.
type SupportNotifier struct {
	telegram domain.TelegramService
	chatID   int64
	managers []int64
	logger   *zerolog.Logger
}

// NewSupportNotifier sends to chatID when set, otherwise to every manager.
func NewSupportNotifier(telegram domain.TelegramService, chatID int64, managers []int64, logger *zerolog.Logger) *SupportNotifier {
	return &SupportNotifier{
		telegram: telegram,
		chatID:   chatID,
		managers: managers,
		logger:   logger,
	}
}

func (n *SupportNotifier) recipients() []int64 {
	if n.chatID != 0 {
		return []int64{n.chatID}
	}
	return n.managers
}

// NotifyEscalation succeeds when at least one recipient got the message.
func (n *SupportNotifier) NotifyEscalation(ctx context.Context, e *models.Escalation) error {
	recipients := n.recipients()
	if len(recipients) == 0 {
		return errors.New("no support recipients configured")
	}

	text := FormatEscalation(e)
	var errs []error
	for _, chatID := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := n.telegram.SendMessage(chatID, text); err != nil {
			n.logger.Warn().Err(err).Int64("chat_id", chatID).Str("attempt_id", e.AttemptID).Msg("support notification failed")
			errs = append(errs, fmt.Errorf("chat %d: %w", chatID, err))
		}
	}
	if len(errs) == len(recipients) {
		return errors.Join(errs...)
	}
	return nil
}

// FormatEscalation renders the support message for one escalation.
func FormatEscalation(e *models.Escalation) string {
	var b strings.Builder
	b.WriteString("⚠️ Paid booking needs manual confirmation\n\n")
	fmt.Fprintf(&b, "Attempt: %s\n", e.AttemptID)
	fmt.Fprintf(&b, "Payment intent: %s\n", e.PaymentIntentID)
	fmt.Fprintf(&b, "Activity: %s\n", e.ActivityID)
	fmt.Fprintf(&b, "User: %s\n", e.UserID)
	fmt.Fprintf(&b, "Date: %s, slot %s, %d guest(s)\n", e.Date, e.SlotID, e.Guests)
	if e.Reason != "" {
		fmt.Fprintf(&b, "Error: %s\n", e.Reason)
	}
	b.WriteString("\nDo not charge the customer again.")
	return b.String()
}
