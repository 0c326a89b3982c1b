package models

import (
	"errors"
	"fmt"
)

// ErrInconsistentWindow marks listing data whose per-slot ceiling exceeds the per-day one.
var ErrInconsistentWindow = errors.New("max guests per time exceeds max guests per day")

// AvailabilityWindow is the read-only booking envelope of a published activity.
type AvailabilityWindow struct {
	ActivityID       string `json:"activityId"`
	Title            string `json:"title,omitempty"`
	Start            Date   `json:"startDate"`
	End              Date   `json:"endDate"`
	MaxGuestsPerDay  int    `json:"maxGuestsPerDay"`
	MaxGuestsPerTime int    `json:"maxGuestsPerTime"`
}

// Validate reports data-quality problems. Callers log them and keep going.
func (w AvailabilityWindow) Validate() error {
	if w.MaxGuestsPerDay > 0 && w.MaxGuestsPerTime > w.MaxGuestsPerDay {
		return fmt.Errorf("activity %s: %w (%d > %d)", w.ActivityID, ErrInconsistentWindow, w.MaxGuestsPerTime, w.MaxGuestsPerDay)
	}
	return nil
}

// Contains reports whether d lies inside the inclusive bounds. Zero bounds are open.
func (w AvailabilityWindow) Contains(d Date) bool {
	if !w.Start.IsZero() && d.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && d.After(w.End) {
		return false
	}
	return true
}

// MinBookable is the earliest day that could ever be offered given today.
func (w AvailabilityWindow) MinBookable(today Date) Date {
	if w.Start.IsZero() || w.Start.Before(today) {
		return today
	}
	return w.Start
}

// Slot is one bookable time window of a day.
type Slot struct {
	SlotID    string `json:"slotId"`
	Label     string `json:"display"`
	Remaining int    `json:"remaining"`
}

// DaySlotQuotes is a volatile capacity snapshot for one (date, guests) pair.
type DaySlotQuotes struct {
	Date                 Date   `json:"date"`
	RequestedGuests      int    `json:"requestedGuests"`
	Slots                []Slot `json:"timeSlots"`
	DayFullyBooked       bool   `json:"dayFullyBooked"`
	RemainingDayCapacity int    `json:"remainingDayCapacity"`
	MaxGuestsPerDay      int    `json:"maxGuestsPerDay"`
}

func (q *DaySlotQuotes) Slot(id string) (Slot, bool) {
	if q == nil {
		return Slot{}, false
	}
	for _, s := range q.Slots {
		if s.SlotID == id {
			return s, true
		}
	}
	return Slot{}, false
}

// Bookable is false when nothing on this day can be offered.
func (q *DaySlotQuotes) Bookable() bool {
	return q != nil && !q.DayFullyBooked && len(q.Slots) > 0
}

// Matches reports whether the snapshot was issued for exactly this pair.
func (q *DaySlotQuotes) Matches(date Date, guests int) bool {
	return q != nil && q.Date.Equal(date) && q.RequestedGuests == guests
}
