package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDate_RoundTripAcrossZones(t *testing.T) {
	zones := []string{"UTC", "Pacific/Kiritimati", "Pacific/Pago_Pago", "Asia/Kathmandu", "America/St_Johns"}

	for _, name := range zones {
		t.Run(name, func(t *testing.T) {
			loc, err := time.LoadLocation(name)
			require.NoError(t, err)

			// 23:30 local is the moment a timestamp-based encoding would drift.
			picked := time.Date(2025, time.March, 9, 23, 30, 0, 0, loc)
			day := DateOf(picked)

			wire := day.String()
			assert.Equal(t, "2025-03-09", wire)

			parsed, err := ParseDate(wire)
			require.NoError(t, err)
			assert.True(t, parsed.Equal(day))
			assert.Equal(t, 9, parsed.In(loc).Day())
		})
	}
}

func TestDate_Helpers(t *testing.T) {
	d := NewDate(2024, time.December, 31)

	t.Run("AddDays", func(t *testing.T) {
		assert.Equal(t, NewDate(2025, time.January, 1), d.AddDays(1))
		assert.Equal(t, NewDate(2024, time.February, 29), NewDate(2024, time.March, 1).AddDays(-1))
	})

	t.Run("Compare", func(t *testing.T) {
		assert.True(t, d.Before(d.AddDays(1)))
		assert.True(t, d.After(d.AddDays(-1)))
		assert.True(t, d.Equal(NewDate(2024, time.December, 31)))
		assert.Equal(t, 0, d.Compare(d))
	})

	t.Run("Today", func(t *testing.T) {
		tokyo, err := time.LoadLocation("Asia/Tokyo")
		require.NoError(t, err)
		now := time.Date(2025, time.June, 1, 20, 0, 0, 0, time.UTC)
		assert.Equal(t, NewDate(2025, time.June, 2), Today(now, tokyo))
		assert.Equal(t, NewDate(2025, time.June, 1), Today(now, time.UTC))
	})

	t.Run("Parse_Invalid", func(t *testing.T) {
		_, err := ParseDate("09/03/2025")
		assert.Error(t, err)
	})

	t.Run("Zero", func(t *testing.T) {
		var zero Date
		assert.True(t, zero.IsZero())
		assert.Equal(t, "", zero.String())
	})
}

func TestDate_JSON(t *testing.T) {
	var payload struct {
		Start Date `json:"start"`
		End   Date `json:"end"`
		Empty Date `json:"empty"`
	}
	raw := `{"start":"2025-05-01","end":"2025-09-30T00:00:00.000Z","empty":""}`
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))

	assert.Equal(t, NewDate(2025, time.May, 1), payload.Start)
	assert.Equal(t, NewDate(2025, time.September, 30), payload.End)
	assert.True(t, payload.Empty.IsZero())

	out, err := json.Marshal(payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"start":"2025-05-01","end":"2025-09-30","empty":""}`, string(out))
}

func TestAvailabilityWindow(t *testing.T) {
	w := AvailabilityWindow{
		ActivityID:       "act-1",
		Start:            NewDate(2025, time.May, 1),
		End:              NewDate(2025, time.May, 31),
		MaxGuestsPerDay:  6,
		MaxGuestsPerTime: 4,
	}

	t.Run("Contains", func(t *testing.T) {
		assert.True(t, w.Contains(NewDate(2025, time.May, 1)))
		assert.True(t, w.Contains(NewDate(2025, time.May, 31)))
		assert.False(t, w.Contains(NewDate(2025, time.April, 30)))
		assert.False(t, w.Contains(NewDate(2025, time.June, 1)))
		assert.True(t, AvailabilityWindow{}.Contains(NewDate(1999, time.January, 1)))
	})

	t.Run("MinBookable", func(t *testing.T) {
		assert.Equal(t, w.Start, w.MinBookable(NewDate(2025, time.April, 2)))
		assert.Equal(t, NewDate(2025, time.May, 10), w.MinBookable(NewDate(2025, time.May, 10)))
	})

	t.Run("Validate", func(t *testing.T) {
		assert.NoError(t, w.Validate())

		bad := w
		bad.MaxGuestsPerTime = 8
		err := bad.Validate()
		assert.True(t, errors.Is(err, ErrInconsistentWindow))
	})
}

func TestBookingDraft_ValidFor(t *testing.T) {
	date := NewDate(2025, time.May, 10)
	w := AvailabilityWindow{Start: NewDate(2025, time.May, 1), End: NewDate(2025, time.May, 31), MaxGuestsPerDay: 6, MaxGuestsPerTime: 4}
	quotes := &DaySlotQuotes{
		Date:            date,
		RequestedGuests: 2,
		Slots: []Slot{
			{SlotID: "s1", Label: "09:00", Remaining: 4},
			{SlotID: "s2", Label: "14:00", Remaining: 1},
		},
		RemainingDayCapacity: 5,
		MaxGuestsPerDay:      6,
	}

	tests := []struct {
		name    string
		draft   BookingDraft
		quotes  *DaySlotQuotes
		wantErr error
	}{
		{"valid", BookingDraft{Date: date, SlotID: "s1", Guests: 2}, quotes, nil},
		{"no slot", BookingDraft{Date: date, Guests: 2}, quotes, ErrDraftIncomplete},
		{"stale guests", BookingDraft{Date: date, SlotID: "s1", Guests: 3}, quotes, ErrDraftStaleQuotes},
		{"nil quotes", BookingDraft{Date: date, SlotID: "s1", Guests: 2}, nil, ErrDraftStaleQuotes},
		{"unknown slot", BookingDraft{Date: date, SlotID: "s9", Guests: 2}, quotes, ErrDraftUnknownSlot},
		{"slot too small", BookingDraft{Date: date, SlotID: "s2", Guests: 2}, quotes, ErrDraftOverCapacity},
		{"outside window", BookingDraft{Date: NewDate(2025, time.June, 2), SlotID: "s1", Guests: 2}, quotes, ErrDraftOutOfWindow},
		{"day full", BookingDraft{Date: date, SlotID: "s1", Guests: 2}, &DaySlotQuotes{Date: date, RequestedGuests: 2, DayFullyBooked: true}, ErrDraftDayFull},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.draft.ValidFor(w, tt.quotes)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.True(t, errors.Is(err, tt.wantErr), "got %v", err)
		})
	}
}

func TestDaySlotQuotes_Helpers(t *testing.T) {
	var nilQuotes *DaySlotQuotes
	assert.False(t, nilQuotes.Bookable())
	_, ok := nilQuotes.Slot("x")
	assert.False(t, ok)

	q := &DaySlotQuotes{Date: NewDate(2025, time.May, 1), RequestedGuests: 1}
	assert.False(t, q.Bookable())
	q.Slots = []Slot{{SlotID: "a", Remaining: 3}}
	assert.True(t, q.Bookable())
	assert.True(t, q.Matches(NewDate(2025, time.May, 1), 1))
	assert.False(t, q.Matches(NewDate(2025, time.May, 1), 2))
}
