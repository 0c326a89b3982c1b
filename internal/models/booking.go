package models

import (
	"errors"
	"fmt"
)

var (
	ErrDraftIncomplete   = errors.New("draft has no date or slot")
	ErrDraftStaleQuotes  = errors.New("quotes do not match the draft")
	ErrDraftOutOfWindow  = errors.New("date outside the activity window")
	ErrDraftUnknownSlot  = errors.New("slot not offered for this date")
	ErrDraftDayFull      = errors.New("day is fully booked")
	ErrDraftOverCapacity = errors.New("guest count exceeds remaining capacity")
)

// BookingDraft is the client-local selection being checked out.
type BookingDraft struct {
	Date   Date   `json:"date"`
	SlotID string `json:"slotId"`
	Guests int    `json:"requestedGuests"`
	UserID string `json:"userId"`
}

// ValidFor checks the draft against the window and the latest quotes.
func (d BookingDraft) ValidFor(w AvailabilityWindow, q *DaySlotQuotes) error {
	if d.Date.IsZero() || d.SlotID == "" {
		return ErrDraftIncomplete
	}
	if d.Guests < 1 {
		return fmt.Errorf("%w: %d guests", ErrDraftOverCapacity, d.Guests)
	}
	if !w.Contains(d.Date) {
		return ErrDraftOutOfWindow
	}
	if !q.Matches(d.Date, d.Guests) {
		return ErrDraftStaleQuotes
	}
	if q.DayFullyBooked {
		return ErrDraftDayFull
	}
	slot, ok := q.Slot(d.SlotID)
	if !ok {
		return ErrDraftUnknownSlot
	}
	switch {
	case d.Guests > slot.Remaining:
		return fmt.Errorf("%w: slot has %d left", ErrDraftOverCapacity, slot.Remaining)
	case d.Guests > q.RemainingDayCapacity:
		return fmt.Errorf("%w: day has %d left", ErrDraftOverCapacity, q.RemainingDayCapacity)
	case w.MaxGuestsPerTime > 0 && d.Guests > w.MaxGuestsPerTime:
		return fmt.Errorf("%w: at most %d per slot", ErrDraftOverCapacity, w.MaxGuestsPerTime)
	}
	return nil
}

// PaymentIntentRef is single use and must never be stored.
type PaymentIntentRef struct {
	PaymentIntentID string `json:"paymentIntentId"`
	ClientSecret    string `json:"clientSecret"`
}

// BookingConfirmation is what the client learns about a committed booking.
type BookingConfirmation struct {
	ActivityID      string
	Draft           BookingDraft
	PaymentIntentID string
}
