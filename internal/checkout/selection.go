package checkout

import (
	"tourbook/internal/models"
)

// Stage is the position of a selection in Empty -> DateChosen -> SlotChosen.
type Stage int

const (
	StageEmpty Stage = iota
	StageDateChosen
	StageSlotChosen
)

func (s Stage) String() string {
	switch s {
	case StageEmpty:
		return "empty"
	case StageDateChosen:
		return "date_chosen"
	case StageSlotChosen:
		return "slot_chosen"
	default:
		return "unknown"
	}
}

// SlotSelection holds the chosen date and slot. A slot never outlives its date.
type SlotSelection struct {
	stage  Stage
	date   models.Date
	slotID string
}

func (s *SlotSelection) Stage() Stage       { return s.stage }
func (s *SlotSelection) Date() models.Date  { return s.date }
func (s *SlotSelection) SlotID() string     { return s.slotID }
func (s *SlotSelection) HasDate() bool      { return s.stage != StageEmpty }
func (s *SlotSelection) IsSlotChosen() bool { return s.stage == StageSlotChosen }

// ChooseDate lands in DateChosen from any stage and drops the slot.
func (s *SlotSelection) ChooseDate(d models.Date) {
	s.stage = StageDateChosen
	s.date = d
	s.slotID = ""
}

// ChooseSlot accepts only a slot offered by quotes issued for the chosen date.
func (s *SlotSelection) ChooseSlot(q *models.DaySlotQuotes, slotID string) error {
	if s.stage == StageEmpty {
		return ErrNoDate
	}
	if q == nil || !q.Date.Equal(s.date) {
		return ErrQuotesPending
	}
	if _, ok := q.Slot(slotID); !ok {
		return ErrUnknownSlot
	}
	s.stage = StageSlotChosen
	s.slotID = slotID
	return nil
}

// Demote sends SlotChosen back to DateChosen; the slot must be reconfirmed.
func (s *SlotSelection) Demote() {
	if s.stage == StageSlotChosen {
		s.stage = StageDateChosen
		s.slotID = ""
	}
}

func (s *SlotSelection) Clear() {
	*s = SlotSelection{}
}
