package bot

import (
	"fmt"
	"strconv"
	"time"

	"tourbook/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	cbNoop       = "noop"
	cbMonth      = "cal:m:"
	cbDay        = "cal:d:"
	blankCell    = " "
	disabledCell = "·"
)

var weekdayHeader = []string{"Mo", "Tu", "We", "Th", "Fr", "Sa", "Su"}

func monthOf(d models.Date) models.Date {
	return models.NewDate(d.Year, d.Month, 1)
}

func addMonths(month models.Date, n int) models.Date {
	return models.NewDate(month.Year, month.Month+time.Month(n), 1)
}

// clampMonth keeps the shown month within the selectable range.
func clampMonth(month, minDate, maxDate models.Date) models.Date {
	month = monthOf(month)
	if lo := monthOf(minDate); month.Before(lo) {
		return lo
	}
	if hi := monthOf(maxDate); !maxDate.IsZero() && month.After(hi) {
		return hi
	}
	return month
}

func noopButton(text string) tgbotapi.InlineKeyboardButton {
	return tgbotapi.NewInlineKeyboardButtonData(text, cbNoop)
}

// calendarRows renders one month. Days before minDate or after maxDate are
// shown but cannot be pressed.
func calendarRows(month, minDate, maxDate, selected models.Date) [][]tgbotapi.InlineKeyboardButton {
	month = clampMonth(month, minDate, maxDate)

	prev, next := noopButton(blankCell), noopButton(blankCell)
	if month.After(monthOf(minDate)) {
		prev = tgbotapi.NewInlineKeyboardButtonData("◀", cbMonth+addMonths(month, -1).String())
	}
	if maxDate.IsZero() || month.Before(monthOf(maxDate)) {
		next = tgbotapi.NewInlineKeyboardButtonData("▶", cbMonth+addMonths(month, 1).String())
	}
	title := fmt.Sprintf("%s %d", month.Month, month.Year)
	rows := [][]tgbotapi.InlineKeyboardButton{
		{prev, noopButton(title), next},
	}

	header := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for _, wd := range weekdayHeader {
		header = append(header, noopButton(wd))
	}
	rows = append(rows, header)

	// Monday-first offset of the 1st.
	offset := (int(month.In(time.UTC).Weekday()) + 6) % 7
	week := make([]tgbotapi.InlineKeyboardButton, 0, 7)
	for i := 0; i < offset; i++ {
		week = append(week, noopButton(blankCell))
	}

	for day := month; day.Month == month.Month; day = day.AddDays(1) {
		week = append(week, dayButton(day, minDate, maxDate, selected))
		if len(week) == 7 {
			rows = append(rows, week)
			week = make([]tgbotapi.InlineKeyboardButton, 0, 7)
		}
	}
	if len(week) > 0 {
		for len(week) < 7 {
			week = append(week, noopButton(blankCell))
		}
		rows = append(rows, week)
	}
	return rows
}

func dayButton(day, minDate, maxDate, selected models.Date) tgbotapi.InlineKeyboardButton {
	if day.Before(minDate) || (!maxDate.IsZero() && day.After(maxDate)) {
		return noopButton(disabledCell)
	}
	label := strconv.Itoa(day.Day)
	if day.Equal(selected) {
		label = "[" + label + "]"
	}
	return tgbotapi.NewInlineKeyboardButtonData(label, cbDay+day.String())
}
