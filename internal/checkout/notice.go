package checkout

import (
	"context"
	"errors"
	"fmt"

	"tourbook/internal/api"
	"tourbook/internal/models"
)

// NoticeKind groups errors by how the user should be told about them.
type NoticeKind int

const (
	NoticeNone NoticeKind = iota
	NoticeNetwork
	NoticeServer
	NoticeCapacity
	NoticeLimit
	NoticeInvalid
	NoticePaymentCancelled
	NoticePaymentFailed
	NoticePostPayment
	NoticeUnexpected
)

// Notice is the presentation view of an error: one message and whether it
// must interrupt the user.
type Notice struct {
	Kind     NoticeKind
	Blocking bool
	Message  string
}

// Silent reports notices that need no user-facing message.
func (n Notice) Silent() bool { return n.Kind == NoticeNone }

const (
	msgNetwork    = "Connection problem. Check your connection and try again."
	msgServer     = "Something went wrong on our side. Please try again."
	msgCapacity   = "Those seats were just taken. Availability was refreshed, please pick a time slot again."
	msgCancelled  = "Payment cancelled. Your selection is kept."
	msgPayFailed  = "Payment failed."
	msgUnexpected = "Unexpected error. Please try again."
)

// Classify maps any error from a Flow to the notice the UI should render.
func Classify(err error) Notice {
	if err == nil {
		return Notice{}
	}

	var (
		postPay   *PostPaymentFinalizeError
		cancelled *PaymentCancelledError
		failed    *PaymentFailedError
		intentErr *PaymentIntentError
		limit     *LimitError
		netErr    *api.NetworkError
		srvErr    *api.ServerError
	)
	// Pre-payment failures gate money movement and interrupt the user;
	// quote failures are shown inline.
	blocking := errors.As(err, &intentErr)

	switch {
	case errors.As(err, &postPay):
		return Notice{
			Kind:     NoticePostPayment,
			Blocking: true,
			Message: fmt.Sprintf(
				"Your payment may have gone through, but we could not confirm the booking. "+
					"Please do not pay again: support has been notified and will contact you. Reference: %s",
				postPay.AttemptID),
		}
	case errors.As(err, &cancelled):
		return Notice{Kind: NoticePaymentCancelled, Message: msgCancelled}
	case errors.As(err, &failed):
		msg := msgPayFailed
		if failed.Message != "" {
			msg = msgPayFailed + " " + failed.Message
		}
		return Notice{Kind: NoticePaymentFailed, Blocking: true, Message: msg}
	case errors.Is(err, ErrSuperseded), errors.Is(err, ErrClosed),
		errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return Notice{Kind: NoticeNone}
	case api.IsCapacityExceeded(err):
		return Notice{Kind: NoticeCapacity, Blocking: blocking, Message: msgCapacity}
	case errors.As(err, &limit):
		return Notice{Kind: NoticeLimit, Message: capitalize(limit.Error()) + "."}
	case errors.As(err, &netErr):
		return Notice{Kind: NoticeNetwork, Blocking: blocking, Message: msgNetwork}
	case errors.As(err, &srvErr):
		msg := srvErr.Message
		if msg == "" {
			msg = msgServer
		}
		return Notice{Kind: NoticeServer, Blocking: blocking, Message: msg}
	case errors.Is(err, ErrTodayFull):
		return Notice{Kind: NoticeInvalid, Message: "Today is fully booked. The earliest date is tomorrow."}
	case errors.Is(err, ErrDateOutOfWindow):
		return Notice{Kind: NoticeInvalid, Message: "That date cannot be booked."}
	case errors.Is(err, ErrUnknownSlot):
		return Notice{Kind: NoticeInvalid, Message: "That time slot is no longer available."}
	case errors.Is(err, models.ErrDraftOverCapacity), errors.Is(err, models.ErrDraftDayFull):
		return Notice{Kind: NoticeInvalid, Message: "Not enough seats left for your group. Try another time slot or fewer guests."}
	case errors.Is(err, ErrQuotesPending):
		return Notice{Kind: NoticeInvalid, Message: "Availability is still loading."}
	case errors.Is(err, ErrNoDate), errors.Is(err, ErrNotCheckoutReady):
		return Notice{Kind: NoticeInvalid, Message: "Choose a date and a time slot first."}
	case errors.Is(err, ErrCheckoutInProgress):
		return Notice{Kind: NoticeInvalid, Message: "A payment is already in progress."}
	default:
		return Notice{Kind: NoticeUnexpected, Blocking: blocking, Message: msgUnexpected}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	if c := s[0]; c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
