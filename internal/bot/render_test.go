package bot

import (
	"strings"
	"testing"
	"time"

	"tourbook/internal/checkout"
	"tourbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
)

func testSnapshot() checkout.Snapshot {
	date := models.NewDate(2025, time.May, 12)
	return checkout.Snapshot{
		ActivityID: "act-1",
		Title:      "Old town walk",
		Date:       date,
		Guests:     2,
		MinDate:    models.NewDate(2025, time.May, 1),
		MaxDate:    models.NewDate(2025, time.May, 31),
		Quotes: &models.DaySlotQuotes{
			Date:            date,
			RequestedGuests: 2,
			Slots: []models.Slot{
				{SlotID: "s1", Label: "10:00", Remaining: 5},
				{SlotID: "s2", Label: "16:00", Remaining: 1},
			},
			RemainingDayCapacity: 6,
		},
	}
}

func TestRenderCheckout_Selection(t *testing.T) {
	snap := testSnapshot()
	snap.SlotID = "s1"
	snap.CanCheckout = true

	text, keyboard := renderCheckout(snap, snap.MinDate, "")

	assert.Contains(t, text, "Old town walk")
	assert.Contains(t, text, "Date: 2025-05-12")
	assert.Contains(t, text, "Time: 10:00")
	assert.Contains(t, text, "Guests: 2")
	assert.Contains(t, text, "Seats left this day: 6")

	buttons := buttonText(keyboard.InlineKeyboard)
	assert.Equal(t, "✅ 10:00 · 5 left", buttons[cbSlot+"s1"])
	_, ok := buttons[cbSlot+"s2"]
	assert.False(t, ok, "slot with fewer seats than guests is not pressable")
	assert.Contains(t, buttons, cbCheckout)
	assert.Contains(t, buttons, cbGuestInc)
	assert.Contains(t, buttons, cbGuestDec)
	assert.Contains(t, buttons, cbClose)
}

func TestRenderCheckout_States(t *testing.T) {
	t.Run("no date", func(t *testing.T) {
		snap := testSnapshot()
		snap.Date = models.Date{}
		text, keyboard := renderCheckout(snap, snap.MinDate, "")
		assert.Contains(t, text, "Pick a date between 2025-05-01 and 2025-05-31")
		assert.NotContains(t, buttonText(keyboard.InlineKeyboard), cbCheckout)
	})

	t.Run("loading", func(t *testing.T) {
		snap := testSnapshot()
		snap.Loading = true
		_, keyboard := renderCheckout(snap, snap.MinDate, "")
		assert.True(t, hasButtonText(keyboard.InlineKeyboard, "⏳ Loading time slots…"))
	})

	t.Run("stale quotes are not shown", func(t *testing.T) {
		snap := testSnapshot()
		snap.Guests = 3
		_, keyboard := renderCheckout(snap, snap.MinDate, "")
		assert.NotContains(t, buttonText(keyboard.InlineKeyboard), cbSlot+"s1")
	})

	t.Run("fully booked", func(t *testing.T) {
		snap := testSnapshot()
		snap.Quotes.DayFullyBooked = true
		text, keyboard := renderCheckout(snap, snap.MinDate, "")
		assert.NotContains(t, text, "Seats left")
		assert.True(t, hasButtonText(keyboard.InlineKeyboard, "Fully booked"))
	})

	t.Run("notice", func(t *testing.T) {
		snap := testSnapshot()
		text, _ := renderCheckout(snap, snap.MinDate, "Not enough seats")
		assert.True(t, strings.HasSuffix(text, "ℹ️ Not enough seats"))
	})

	t.Run("checking out", func(t *testing.T) {
		snap := testSnapshot()
		snap.CheckingOut = true
		text, keyboard := renderCheckout(snap, snap.MinDate, "ignored")
		assert.Contains(t, text, "Checkout in progress")
		assert.NotContains(t, text, "ignored")
		assert.Empty(t, keyboard.InlineKeyboard)
	})
}

func hasButtonText(rows [][]tgbotapi.InlineKeyboardButton, text string) bool {
	for _, row := range rows {
		for _, btn := range row {
			if btn.Text == text {
				return true
			}
		}
	}
	return false
}

func TestFormatWishlist(t *testing.T) {
	assert.Contains(t, formatWishlist(nil), "empty")

	out := formatWishlist([]models.WishlistEntry{
		{ActivityID: "act-2", SavedAt: time.Date(2025, time.March, 2, 10, 0, 0, 0, time.UTC)},
		{ActivityID: "act-1", SavedAt: time.Date(2025, time.March, 1, 10, 0, 0, 0, time.UTC)},
	})
	assert.Less(t, strings.Index(out, "act-2"), strings.Index(out, "act-1"))
	assert.Contains(t, out, "saved 2025-03-02")
}
