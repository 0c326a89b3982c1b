package checkout

import (
	"errors"
	"fmt"

	"tourbook/internal/models"
)

var (
	ErrClosed             = errors.New("checkout flow is closed")
	ErrSuperseded         = errors.New("slot quotes superseded by a newer request")
	ErrNotCheckoutReady   = errors.New("selection is not ready for checkout")
	ErrDateOutOfWindow    = errors.New("date is outside the bookable range")
	ErrUnknownSlot        = errors.New("slot is not in the current quotes")
	ErrNoDate             = errors.New("no date selected")
	ErrQuotesPending      = errors.New("slot quotes for the current selection are not loaded")
	ErrCheckoutInProgress = errors.New("a checkout attempt is already in progress")
	ErrTodayFull          = errors.New("today is fully booked")
	// ErrPaymentUnverified is the cause of a PostPaymentFinalizeError when
	// the payment UI could not tell whether the payer was charged.
	ErrPaymentUnverified = errors.New("payment outcome could not be verified")
)

// LimitReason names the ceiling that blocked a guest count change.
type LimitReason int

const (
	LimitMinimum LimitReason = iota + 1
	LimitDayCapacity
	LimitPerTime
)

func (r LimitReason) String() string {
	switch r {
	case LimitMinimum:
		return "minimum"
	case LimitDayCapacity:
		return "day_capacity"
	case LimitPerTime:
		return "per_time"
	default:
		return "unknown"
	}
}

// LimitError rejects a guest count change. The count is left untouched.
type LimitError struct {
	Reason LimitReason
	Limit  int
}

func (e *LimitError) Error() string {
	switch e.Reason {
	case LimitMinimum:
		return fmt.Sprintf("at least %d guest is required", e.Limit)
	case LimitDayCapacity:
		if e.Limit == 0 {
			return "no seats are left on this day"
		}
		return fmt.Sprintf("only %d seats are left on this day", e.Limit)
	case LimitPerTime:
		return fmt.Sprintf("at most %d guests can book one time slot", e.Limit)
	default:
		return "guest count limit reached"
	}
}

// PaymentIntentError is any failure before money moved.
type PaymentIntentError struct {
	Err error
}

func (e *PaymentIntentError) Error() string {
	return "create payment intent: " + e.Err.Error()
}

func (e *PaymentIntentError) Unwrap() error { return e.Err }

// PaymentCancelledError is the payer backing out. It is not a failure.
type PaymentCancelledError struct {
	PaymentIntentID string
}

func (e *PaymentCancelledError) Error() string {
	return "payment cancelled"
}

// PaymentFailedError is a decline or provider error reported by the payment UI.
type PaymentFailedError struct {
	PaymentIntentID string
	Message         string
}

func (e *PaymentFailedError) Error() string {
	if e.Message == "" {
		return "payment failed"
	}
	return "payment failed: " + e.Message
}

// PostPaymentFinalizeError means the charge went through and the booking did not.
// It must be reconciled by support, never by paying again.
type PostPaymentFinalizeError struct {
	AttemptID       string
	ActivityID      string
	PaymentIntentID string
	Draft           models.BookingDraft
	Err             error
}

func (e *PostPaymentFinalizeError) Error() string {
	return fmt.Sprintf("booking not confirmed after payment %s (attempt %s): %v", e.PaymentIntentID, e.AttemptID, e.Err)
}

func (e *PostPaymentFinalizeError) Unwrap() error { return e.Err }
