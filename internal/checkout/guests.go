package checkout

import (
	"tourbook/internal/models"
)

// GuestNegotiator bounds the guest count against the per-slot ceiling of the
// activity and the remaining capacity of the selected day.
type GuestNegotiator struct {
	count      int
	maxPerTime int
}

func NewGuestNegotiator(maxPerTime int) *GuestNegotiator {
	return &GuestNegotiator{count: models.MinGuests, maxPerTime: maxPerTime}
}

func (g *GuestNegotiator) Count() int { return g.count }

func (g *GuestNegotiator) Reset() { g.count = models.MinGuests }

// Ceiling returns the tightest upper bound currently known. Quotes are nil
// when no date is selected or the day has not been fetched yet.
// On a tie the day capacity is reported.
func (g *GuestNegotiator) Ceiling(q *models.DaySlotQuotes) (limit int, reason LimitReason, bounded bool) {
	if q != nil {
		limit, reason, bounded = q.RemainingDayCapacity, LimitDayCapacity, true
	}
	if g.maxPerTime > 0 && (!bounded || g.maxPerTime < limit) {
		limit, reason, bounded = g.maxPerTime, LimitPerTime, true
	}
	return limit, reason, bounded
}

// Increase adds one guest or returns a LimitError naming the blocking ceiling.
func (g *GuestNegotiator) Increase(q *models.DaySlotQuotes) (int, error) {
	next := g.count + 1
	if limit, reason, ok := g.Ceiling(q); ok && next > limit {
		return g.count, &LimitError{Reason: reason, Limit: limit}
	}
	g.count = next
	return g.count, nil
}

func (g *GuestNegotiator) Decrease() (int, error) {
	if g.count <= models.MinGuests {
		return g.count, &LimitError{Reason: LimitMinimum, Limit: models.MinGuests}
	}
	g.count--
	return g.count, nil
}
