package bot

import (
	"fmt"
	"strings"

	"tourbook/internal/checkout"
	"tourbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbSlot     = "slot:"
	cbGuestInc = "g:inc"
	cbGuestDec = "g:dec"
	cbCheckout = "co:pay"
	cbRefresh  = "co:refresh"
	cbClose    = "co:close"
	cbPayOK    = "pay:ok"
	cbPayNo    = "pay:cancel"
)

// renderCheckout draws the checkout screen for a snapshot.
func renderCheckout(snap checkout.Snapshot, month models.Date, notice string) (string, tgbotapi.InlineKeyboardMarkup) {
	var b strings.Builder

	title := snap.Title
	if title == "" {
		title = snap.ActivityID
	}
	fmt.Fprintf(&b, "🎟 %s\n\n", title)

	if snap.Date.IsZero() {
		fmt.Fprintf(&b, "📅 Pick a date between %s and %s\n", snap.MinDate, snap.MaxDate)
	} else {
		fmt.Fprintf(&b, "📅 Date: %s\n", snap.Date)
	}

	quotes := currentQuotes(snap)
	switch {
	case snap.SlotID != "":
		label := snap.SlotID
		if slot, ok := quotes.Slot(snap.SlotID); ok {
			label = slot.Label
		}
		fmt.Fprintf(&b, "🕒 Time: %s\n", label)
	case !snap.Date.IsZero():
		b.WriteString("🕒 Pick a time slot\n")
	}

	fmt.Fprintf(&b, "👥 Guests: %d\n", snap.Guests)
	if quotes != nil && !quotes.DayFullyBooked {
		fmt.Fprintf(&b, "🪑 Seats left this day: %d\n", quotes.RemainingDayCapacity)
	}

	if snap.CheckingOut {
		b.WriteString("\n⏳ Checkout in progress…")
		return b.String(), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: [][]tgbotapi.InlineKeyboardButton{}}
	}
	if notice != "" {
		fmt.Fprintf(&b, "\nℹ️ %s", notice)
	}

	rows := calendarRows(month, snap.MinDate, snap.MaxDate, snap.Date)
	rows = append(rows, slotRows(snap, quotes)...)
	rows = append(rows, []tgbotapi.InlineKeyboardButton{
		tgbotapi.NewInlineKeyboardButtonData("➖", cbGuestDec),
		noopButton(fmt.Sprintf("👥 %d", snap.Guests)),
		tgbotapi.NewInlineKeyboardButtonData("➕", cbGuestInc),
	})

	actions := make([]tgbotapi.InlineKeyboardButton, 0, 3)
	if snap.CanCheckout {
		actions = append(actions, tgbotapi.NewInlineKeyboardButtonData("💳 Checkout", cbCheckout))
	}
	actions = append(actions,
		tgbotapi.NewInlineKeyboardButtonData("🔄 Refresh", cbRefresh),
		tgbotapi.NewInlineKeyboardButtonData("✖ Close", cbClose),
	)
	rows = append(rows, actions)

	return b.String(), tgbotapi.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// currentQuotes returns the snapshot quotes only when they belong to the
// selected date and guest count.
func currentQuotes(snap checkout.Snapshot) *models.DaySlotQuotes {
	if snap.Date.IsZero() || !snap.Quotes.Matches(snap.Date, snap.Guests) {
		return nil
	}
	return snap.Quotes
}

func slotRows(snap checkout.Snapshot, quotes *models.DaySlotQuotes) [][]tgbotapi.InlineKeyboardButton {
	if snap.Date.IsZero() {
		return nil
	}
	if snap.Loading || quotes == nil {
		return [][]tgbotapi.InlineKeyboardButton{{noopButton("⏳ Loading time slots…")}}
	}
	if quotes.DayFullyBooked || len(quotes.Slots) == 0 {
		return [][]tgbotapi.InlineKeyboardButton{{noopButton("Fully booked")}}
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(quotes.Slots))
	for _, slot := range quotes.Slots {
		if slot.Remaining < snap.Guests {
			rows = append(rows, []tgbotapi.InlineKeyboardButton{
				noopButton(fmt.Sprintf("%s · %d left", slot.Label, slot.Remaining)),
			})
			continue
		}
		label := fmt.Sprintf("%s · %d left", slot.Label, slot.Remaining)
		if slot.SlotID == snap.SlotID {
			label = "✅ " + label
		}
		rows = append(rows, []tgbotapi.InlineKeyboardButton{
			tgbotapi.NewInlineKeyboardButtonData(label, cbSlot+slot.SlotID),
		})
	}
	return rows
}

func paymentKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("💳 Pay", cbPayOK),
		tgbotapi.NewInlineKeyboardButtonData("✖ Cancel", cbPayNo),
	))
}

func formatWishlist(entries []models.WishlistEntry) string {
	if len(entries) == 0 {
		return "Your wishlist is empty. Save an activity with /save <activityId>."
	}
	var b strings.Builder
	b.WriteString("❤️ Saved activities:\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "• %s (saved %s)\n", e.ActivityID, e.SavedAt.Format("2006-01-02"))
	}
	b.WriteString("\nBook one with /book <activityId>.")
	return b.String()
}
