package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tourbook/internal/checkout"
	"tourbook/internal/models"
	"tourbook/internal/payment"
	"tourbook/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const paymentTimeout = 10 * time.Minute

// screen is the chat message that renders one checkout flow.
type screen struct {
	flow      *checkout.Flow
	messageID int
	month     models.Date
	notice    string
	payment   chan bool
}

func (b *Bot) openScreen(chatID int64, flow *checkout.Flow, notice string) {
	snap := flow.Snapshot()
	month := monthOf(snap.MinDate)
	text, keyboard := renderCheckout(snap, month, notice)

	msg, err := b.tgService.SendWithInlineKeyboard(chatID, text, keyboard)
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("send checkout screen")
		return
	}

	b.mu.Lock()
	b.screens[chatID] = &screen{flow: flow, messageID: msg.MessageID, month: month, notice: notice}
	b.mu.Unlock()
}

// activeScreen reports whether the chat screen still renders flow in messageID.
func (b *Bot) activeScreen(chatID int64, flow *checkout.Flow, messageID int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := b.screens[chatID]
	return flow != nil && sc != nil && sc.flow == flow && sc.messageID == messageID
}

func (b *Bot) dropScreen(chatID int64) (messageID int, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc, ok := b.screens[chatID]
	if !ok {
		return 0, false
	}
	delete(b.screens, chatID)
	if sc.payment != nil {
		select {
		case sc.payment <- false:
		default:
		}
	}
	return sc.messageID, true
}

func (b *Bot) setMonth(chatID int64, month models.Date) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sc := b.screens[chatID]; sc != nil {
		sc.month = monthOf(month)
	}
}

func (b *Bot) setNotice(chatID int64, notice string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sc := b.screens[chatID]; sc != nil {
		sc.notice = notice
	}
}

// refreshScreen re-renders the checkout message from a fresh snapshot.
func (b *Bot) refreshScreen(chatID int64) {
	b.mu.Lock()
	sc := b.screens[chatID]
	if sc == nil {
		b.mu.Unlock()
		return
	}
	flow, messageID, month, notice := sc.flow, sc.messageID, sc.month, sc.notice
	b.mu.Unlock()

	snap := flow.Snapshot()
	if snap.Closed {
		return
	}
	text, keyboard := renderCheckout(snap, month, notice)
	b.editMessage(chatID, messageID, text, &keyboard)
}

func (b *Bot) editMessage(chatID int64, messageID int, text string, keyboard *tgbotapi.InlineKeyboardMarkup) {
	if _, err := b.tgService.EditMessage(chatID, messageID, text, keyboard); err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Int("message_id", messageID).Msg("edit message")
	}
}

// applyNotice records the inline notice for err and sends blocking notices
// as a separate message. It returns a short toast text, if any.
func (b *Bot) applyNotice(chatID int64, err error) string {
	n := checkout.Classify(err)
	if n.Silent() {
		b.setNotice(chatID, "")
		return ""
	}
	if n.Blocking {
		b.setNotice(chatID, "")
		b.sendMessage(chatID, "⚠️ "+n.Message)
		return ""
	}
	b.setNotice(chatID, n.Message)
	if n.Kind == checkout.NoticeLimit {
		return n.Message
	}
	return ""
}

func (b *Bot) handleCallbackQuery(ctx context.Context, cq *tgbotapi.CallbackQuery) {
	chatID := cq.Message.Chat.ID
	data := cq.Data
	toast := ""
	defer func() {
		if err := b.tgService.AnswerCallback(cq.ID, toast); err != nil {
			b.logger.Debug().Err(err).Msg("answer callback")
		}
	}()

	switch data {
	case cbNoop:
		return
	case cbPayOK, cbPayNo:
		if !b.resolvePayment(chatID, data == cbPayOK) {
			toast = "This payment request has expired."
		}
		return
	}

	s, err := b.sessions.Get(chatID)
	if err != nil {
		toast = userMessage(err)
		return
	}
	flow := s.Flow()
	if !b.activeScreen(chatID, flow, cq.Message.MessageID) {
		toast = "This checkout has expired. Start again with /book <activityId>."
		return
	}

	var actionErr error
	switch {
	case strings.HasPrefix(data, cbMonth):
		month, err := models.ParseDate(strings.TrimPrefix(data, cbMonth))
		if err != nil {
			return
		}
		b.setMonth(chatID, month)
	case strings.HasPrefix(data, cbDay):
		day, err := models.ParseDate(strings.TrimPrefix(data, cbDay))
		if err != nil {
			return
		}
		actionErr = flow.SelectDate(ctx, day)
		if actionErr == nil || errors.Is(actionErr, checkout.ErrTodayFull) {
			b.setMonth(chatID, day)
		}
	case strings.HasPrefix(data, cbSlot):
		actionErr = flow.SelectSlot(strings.TrimPrefix(data, cbSlot))
	case data == cbGuestInc:
		actionErr = flow.IncreaseGuests(ctx)
	case data == cbGuestDec:
		actionErr = flow.DecreaseGuests(ctx)
	case data == cbRefresh:
		actionErr = flow.Refresh(ctx)
	case data == cbClose:
		b.closeCheckout(chatID, s, flow)
		return
	case data == cbCheckout:
		actionErr = b.startCheckout(chatID, flow)
	default:
		return
	}

	toast = b.applyNotice(chatID, actionErr)
	b.refreshScreen(chatID)
}

func (b *Bot) closeCheckout(chatID int64, s *service.Session, flow *checkout.Flow) {
	s.EndFlow(flow)
	if messageID, ok := b.dropScreen(chatID); ok {
		b.editMessage(chatID, messageID, "Checkout closed.", nil)
	}
}

// startCheckout takes the flow's checkout guard before returning, then runs
// the payment in the background so the update loop stays free to receive
// the Pay / Cancel answer.
func (b *Bot) startCheckout(chatID int64, flow *checkout.Flow) error {
	attempt, err := flow.BeginCheckout()
	if err != nil {
		return err
	}
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		b.runCheckout(chatID, flow, attempt)
	}()
	return nil
}

func (b *Bot) runCheckout(chatID int64, flow *checkout.Flow, attempt *checkout.Attempt) {
	confirmation, err := attempt.Run(b.background())
	if err != nil {
		b.logger.Info().Err(err).Int64("chat_id", chatID).Msg("checkout ended without booking")
		if b.ownsScreen(chatID, flow) {
			b.applyNotice(chatID, err)
			b.refreshScreen(chatID)
		} else if n := checkout.Classify(err); n.Kind == checkout.NoticePostPayment {
			b.sendMessage(chatID, "⚠️ "+n.Message)
		}
		return
	}

	draft := confirmation.Draft
	b.sendMessage(chatID, fmt.Sprintf(
		"✅ Booking confirmed!\n%s, time slot %s, %d guest(s).\nPayment reference: %s",
		draft.Date, draft.SlotID, draft.Guests, confirmation.PaymentIntentID))
	if b.ownsScreen(chatID, flow) {
		b.setNotice(chatID, "")
		b.refreshScreen(chatID)
	}
}

func (b *Bot) ownsScreen(chatID int64, flow *checkout.Flow) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := b.screens[chatID]
	return sc != nil && sc.flow == flow
}

func (b *Bot) openPayment(chatID int64) (chan bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := b.screens[chatID]
	if sc == nil {
		return nil, errors.New("checkout screen is gone")
	}
	if sc.payment != nil {
		return nil, errors.New("a payment is already open")
	}
	sc.payment = make(chan bool, 1)
	return sc.payment, nil
}

func (b *Bot) closePayment(chatID int64, decision chan bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sc := b.screens[chatID]; sc != nil && sc.payment == decision {
		sc.payment = nil
	}
}

// resolvePayment delivers the Pay / Cancel answer to the open payment sheet.
func (b *Bot) resolvePayment(chatID int64, pay bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	sc := b.screens[chatID]
	if sc == nil || sc.payment == nil {
		return false
	}
	select {
	case sc.payment <- pay:
	default:
	}
	return true
}

// chatSheet is the payment UI of one chat: it asks for confirmation with
// Pay / Cancel buttons and hands the confirmed intent to the card processor.
type chatSheet struct {
	bot     *Bot
	chatID  int64
	timeout time.Duration
}

func (c *chatSheet) Present(ctx context.Context, clientSecret string) payment.Outcome {
	b := c.bot
	decision, err := b.openPayment(c.chatID)
	if err != nil {
		return payment.Failed(err.Error())
	}
	defer b.closePayment(c.chatID, decision)

	b.refreshScreen(c.chatID)
	msg, err := b.tgService.SendWithInlineKeyboard(c.chatID, "💳 Confirm the payment for your booking.", paymentKeyboard())
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", c.chatID).Msg("send payment sheet")
		return payment.Failed("could not open the payment screen")
	}

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	var pay bool
	select {
	case <-ctx.Done():
		b.editMessage(c.chatID, msg.MessageID, "Payment window closed.", nil)
		return payment.Cancelled()
	case <-timer.C:
		b.editMessage(c.chatID, msg.MessageID, "Payment window timed out.", nil)
		return payment.Cancelled()
	case pay = <-decision:
	}
	if !pay {
		b.editMessage(c.chatID, msg.MessageID, "Payment cancelled.", nil)
		return payment.Cancelled()
	}

	b.editMessage(c.chatID, msg.MessageID, "⏳ Processing payment…", nil)
	if b.payments == nil {
		return payment.Failed("payments are not configured")
	}
	outcome := b.payments.Present(ctx, clientSecret)

	switch outcome.Status {
	case payment.StatusCompleted:
		b.editMessage(c.chatID, msg.MessageID, "✅ Payment received.", nil)
	case payment.StatusCancelled:
		b.editMessage(c.chatID, msg.MessageID, "Payment cancelled.", nil)
	case payment.StatusUnknown:
		b.editMessage(c.chatID, msg.MessageID, "⚠️ Payment status could not be verified.", nil)
	default:
		b.editMessage(c.chatID, msg.MessageID, "❌ Payment failed.", nil)
	}
	return outcome
}
