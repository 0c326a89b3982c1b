package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tourbook/internal/api"
	"tourbook/internal/events"
	"tourbook/internal/metrics"
	"tourbook/internal/models"
	"tourbook/internal/payment"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// finalizeTimeout bounds the booking call made after a completed payment.
const finalizeTimeout = 30 * time.Second

// BookingAPI is the slice of the backend a checkout needs.
type BookingAPI interface {
	GetTimeSlots(ctx context.Context, activityID string, date models.Date, guests int) (*models.DaySlotQuotes, error)
	CreatePaymentIntent(ctx context.Context, activityID string, draft models.BookingDraft) (models.PaymentIntentRef, error)
	BookTimeSlot(ctx context.Context, activityID string, draft models.BookingDraft, paymentIntentID string) error
}

// EventPublisher receives checkout lifecycle events. *events.EventBus
// satisfies it; a nil publisher disables events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// Snapshot is a consistent copy of the flow state for rendering.
type Snapshot struct {
	ActivityID  string
	Title       string
	Stage       Stage
	Date        models.Date
	SlotID      string
	Guests      int
	Quotes      *models.DaySlotQuotes
	Loading     bool
	MinDate     models.Date
	MaxDate     models.Date
	CanCheckout bool
	CheckingOut bool
	Closed      bool
}

type quoteRequest struct {
	seq    uint64
	date   models.Date
	guests int
}

// Flow is the checkout state of one activity for one user. It is safe for
// concurrent use; network calls run without holding the lock.
type Flow struct {
	mu sync.Mutex

	window  models.AvailabilityWindow
	userID  string
	backend BookingAPI
	sheet   payment.Sheet
	events  EventPublisher
	loc     *time.Location
	now     func() time.Time
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	closed bool

	selection   SlotSelection
	guests      *GuestNegotiator
	quotes      *models.DaySlotQuotes
	seq         uint64
	pending     bool
	fullDay     models.Date
	checkingOut bool
}

// NewFlow opens a checkout for window on behalf of userID.
func NewFlow(
	window models.AvailabilityWindow,
	userID string,
	backend BookingAPI,
	sheet payment.Sheet,
	bus EventPublisher,
	loc *time.Location,
	logger *zerolog.Logger,
) *Flow {
	if loc == nil {
		loc = time.Local
	}
	base := zerolog.Nop()
	if logger != nil {
		base = *logger
	}
	ctx, cancel := context.WithCancel(context.Background())

	f := &Flow{
		window:  window,
		userID:  userID,
		backend: backend,
		sheet:   sheet,
		events:  bus,
		loc:     loc,
		now:     time.Now,
		logger:  base.With().Str("component", "checkout").Str("activity_id", window.ActivityID).Str("user_id", userID).Logger(),
		ctx:     ctx,
		cancel:  cancel,
		guests:  NewGuestNegotiator(window.MaxGuestsPerTime),
	}

	if err := window.Validate(); err != nil {
		metrics.IncWindowInconsistent()
		f.logger.Warn().Err(err).Msg("inconsistent availability window")
	}
	return f
}

// Start checks today's capacity so a sold-out today is never offered.
func (f *Flow) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return ErrClosed
	}
	today := f.todayLocked()
	if !f.window.MinBookable(today).Equal(today) || !f.window.Contains(today) {
		f.mu.Unlock()
		return nil
	}
	guests := f.guests.Count()
	f.mu.Unlock()

	return f.checkToday(ctx, today, guests)
}

// checkToday fetches today's quotes for guests and applies the today
// policy. A result for a guest count that has since changed is dropped.
func (f *Flow) checkToday(ctx context.Context, today models.Date, guests int) error {
	ctx, done := f.callContext(ctx)
	defer done()

	q, err := f.backend.GetTimeSlots(ctx, f.window.ActivityID, today, guests)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	if err != nil {
		f.logger.Warn().Err(err).Msg("today capacity check failed")
		return err
	}
	if f.guests.Count() != guests {
		return ErrSuperseded
	}
	f.applyTodayPolicyLocked(q)
	return nil
}

// SelectDate moves to DateChosen and fetches quotes for the new date.
func (f *Flow) SelectDate(ctx context.Context, date models.Date) error {
	f.mu.Lock()
	if err := f.mutableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	minDate, maxDate := f.boundsLocked()
	if date.IsZero() || !f.window.Contains(date) || date.Before(minDate) || date.After(maxDate) {
		f.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDateOutOfWindow, date)
	}

	f.selection.ChooseDate(date)
	f.quotes = nil
	req := f.nextRequestLocked()
	f.mu.Unlock()

	return f.fetch(ctx, req)
}

// SelectSlot confirms a slot from quotes issued for the current (date, guests).
func (f *Flow) SelectSlot(slotID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.mutableLocked(); err != nil {
		return err
	}
	if !f.selection.HasDate() {
		return ErrNoDate
	}
	if f.pending || !f.quotes.Matches(f.selection.Date(), f.guests.Count()) {
		return ErrQuotesPending
	}

	draft := f.draftLocked()
	draft.SlotID = slotID
	if err := draft.ValidFor(f.window, f.quotes); err != nil {
		if errors.Is(err, models.ErrDraftUnknownSlot) {
			return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
		}
		return err
	}
	return f.selection.ChooseSlot(f.quotes, slotID)
}

func (f *Flow) IncreaseGuests(ctx context.Context) error {
	return f.changeGuests(ctx, func(q *models.DaySlotQuotes) (int, error) {
		return f.guests.Increase(q)
	})
}

func (f *Flow) DecreaseGuests(ctx context.Context) error {
	return f.changeGuests(ctx, func(*models.DaySlotQuotes) (int, error) {
		return f.guests.Decrease()
	})
}

func (f *Flow) changeGuests(ctx context.Context, change func(*models.DaySlotQuotes) (int, error)) error {
	f.mu.Lock()
	if err := f.mutableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}

	var known *models.DaySlotQuotes
	if f.selection.HasDate() {
		known = f.quotes
	}
	before := f.guests.Count()
	count, err := change(known)
	if err != nil {
		f.mu.Unlock()
		return err
	}

	// Today was ruled out for a larger group; a smaller one may fit.
	today := f.todayLocked()
	recheckToday := count < before && f.fullDay.Equal(today)

	f.selection.Demote()
	hasDate := f.selection.HasDate()
	var req quoteRequest
	if hasDate {
		req = f.nextRequestLocked()
	}
	f.mu.Unlock()

	f.logger.Debug().Int("guests", count).Msg("guest count changed")
	if recheckToday {
		if err := f.checkToday(ctx, today, count); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
			f.logger.Warn().Err(err).Msg("today recheck after guest decrease failed")
		}
	}
	if !hasDate {
		return nil
	}
	return f.fetch(ctx, req)
}

// Refresh re-fetches quotes for the current selection. It is rejected
// while a checkout attempt holds the draft.
func (f *Flow) Refresh(ctx context.Context) error {
	f.mu.Lock()
	if err := f.mutableLocked(); err != nil {
		f.mu.Unlock()
		return err
	}
	if !f.selection.HasDate() {
		f.mu.Unlock()
		return nil
	}
	req := f.nextRequestLocked()
	f.mu.Unlock()

	return f.fetch(ctx, req)
}

func (f *Flow) CanCheckout() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.readyLocked() == nil
}

func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	minDate, maxDate := f.boundsLocked()
	snap := Snapshot{
		ActivityID:  f.window.ActivityID,
		Title:       f.window.Title,
		Stage:       f.selection.Stage(),
		Date:        f.selection.Date(),
		SlotID:      f.selection.SlotID(),
		Guests:      f.guests.Count(),
		Loading:     f.pending,
		MinDate:     minDate,
		MaxDate:     maxDate,
		CanCheckout: f.readyLocked() == nil,
		CheckingOut: f.checkingOut,
		Closed:      f.closed,
	}
	if f.quotes != nil {
		q := *f.quotes
		q.Slots = append([]models.Slot(nil), f.quotes.Slots...)
		snap.Quotes = &q
	}
	return snap
}

// Close cancels every in-flight call and discards the draft.
func (f *Flow) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}
	f.closed = true
	f.cancel()
	f.selection.Clear()
	f.quotes = nil
	f.pending = false
}

// Checkout requests a fresh intent, presents the payment UI and finalizes
// the booking. The booking call is made only after a completed payment.
func (f *Flow) Checkout(ctx context.Context) (*models.BookingConfirmation, error) {
	a, err := f.BeginCheckout()
	if err != nil {
		return nil, err
	}
	return a.Run(ctx)
}

// Attempt is a checkout that holds the flow's in-progress guard. Every
// mutation is rejected with ErrCheckoutInProgress until Run returns.
type Attempt struct {
	flow  *Flow
	draft models.BookingDraft
	ran   bool
}

// BeginCheckout validates the selection and takes the in-progress guard
// without doing any I/O, so callers can run the attempt elsewhere.
func (f *Flow) BeginCheckout() (*Attempt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}
	if f.checkingOut {
		return nil, ErrCheckoutInProgress
	}
	if err := f.readyLocked(); err != nil {
		return nil, err
	}
	f.checkingOut = true
	return &Attempt{flow: f, draft: f.draftLocked()}, nil
}

// Run performs the attempt once and releases the guard.
func (a *Attempt) Run(ctx context.Context) (*models.BookingConfirmation, error) {
	f := a.flow
	f.mu.Lock()
	if a.ran {
		f.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	a.ran = true
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.checkingOut = false
		f.mu.Unlock()
	}()
	return f.runCheckout(ctx, a.draft)
}

func (f *Flow) runCheckout(ctx context.Context, draft models.BookingDraft) (*models.BookingConfirmation, error) {
	ctx, done := f.callContext(ctx)
	defer done()

	attemptID := uuid.NewString()
	log := f.logger.With().Str("attempt_id", attemptID).Str("date", draft.Date.String()).Str("slot_id", draft.SlotID).Int("guests", draft.Guests).Logger()
	payload := events.CheckoutEventPayload{
		AttemptID:  attemptID,
		ActivityID: f.window.ActivityID,
		UserID:     draft.UserID,
		Date:       draft.Date.String(),
		SlotID:     draft.SlotID,
		Guests:     draft.Guests,
	}

	ref, err := f.backend.CreatePaymentIntent(ctx, f.window.ActivityID, draft)
	if err != nil {
		if f.isClosed() {
			return nil, ErrClosed
		}
		if api.IsCapacityExceeded(err) {
			metrics.IncCheckout("capacity_exceeded")
			log.Warn().Err(err).Msg("draft rejected at intent creation")
			f.reconcileCapacity(ctx)
		} else {
			metrics.IncCheckout("intent_failed")
			log.Error().Err(err).Msg("payment intent request failed")
		}
		return nil, &PaymentIntentError{Err: err}
	}
	payload.PaymentIntentID = ref.PaymentIntentID
	f.publish(events.EventIntentCreated, payload)

	if f.isClosed() {
		log.Info().Str("payment_intent_id", ref.PaymentIntentID).Msg("flow closed before payment, intent discarded")
		return nil, ErrClosed
	}

	outcome := f.sheet.Present(ctx, ref.ClientSecret)
	switch outcome.Status {
	case payment.StatusCompleted:
	case payment.StatusUnknown:
		metrics.IncCheckout("payment_unverified")
		log.Error().Str("payment_intent_id", ref.PaymentIntentID).Str("message", outcome.Message).Msg("payment outcome unknown, escalating")
		pf := &PostPaymentFinalizeError{
			AttemptID:       attemptID,
			ActivityID:      f.window.ActivityID,
			PaymentIntentID: ref.PaymentIntentID,
			Draft:           draft,
			Err:             ErrPaymentUnverified,
		}
		payload.Error = ErrPaymentUnverified.Error()
		f.publish(events.EventFinalizeFailed, payload)
		return nil, pf
	case payment.StatusCancelled:
		metrics.IncCheckout("cancelled")
		log.Info().Str("payment_intent_id", ref.PaymentIntentID).Msg("payment cancelled")
		f.publish(events.EventPaymentCancelled, payload)
		if f.isClosed() {
			return nil, ErrClosed
		}
		return nil, &PaymentCancelledError{PaymentIntentID: ref.PaymentIntentID}
	default:
		metrics.IncCheckout("payment_failed")
		log.Warn().Str("payment_intent_id", ref.PaymentIntentID).Str("message", outcome.Message).Msg("payment failed")
		payload.Error = outcome.Message
		f.publish(events.EventPaymentFailed, payload)
		if f.isClosed() {
			return nil, ErrClosed
		}
		return nil, &PaymentFailedError{PaymentIntentID: ref.PaymentIntentID, Message: outcome.Message}
	}

	// The payer has been charged: Close must not abort the booking call.
	finalizeCtx, cancelFinalize := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancelFinalize()

	if err := f.backend.BookTimeSlot(finalizeCtx, f.window.ActivityID, draft, ref.PaymentIntentID); err != nil {
		metrics.IncCheckout("finalize_failed")
		pf := &PostPaymentFinalizeError{
			AttemptID:       attemptID,
			ActivityID:      f.window.ActivityID,
			PaymentIntentID: ref.PaymentIntentID,
			Draft:           draft,
			Err:             err,
		}
		log.Error().Err(err).Str("payment_intent_id", ref.PaymentIntentID).Msg("booking not confirmed after payment")
		payload.Error = err.Error()
		f.publish(events.EventFinalizeFailed, payload)
		if api.IsCapacityExceeded(err) {
			f.reconcileCapacity(finalizeCtx)
		}
		return nil, pf
	}

	metrics.IncCheckout("confirmed")
	log.Info().Str("payment_intent_id", ref.PaymentIntentID).Msg("booking confirmed")
	f.publish(events.EventBookingConfirmed, payload)

	f.mu.Lock()
	if !f.closed {
		f.selection.Clear()
		f.quotes = nil
		f.guests.Reset()
	}
	f.mu.Unlock()

	return &models.BookingConfirmation{
		ActivityID:      f.window.ActivityID,
		Draft:           draft,
		PaymentIntentID: ref.PaymentIntentID,
	}, nil
}

// reconcileCapacity demotes the selection and pulls fresh quotes after the
// backend rejected the draft as over capacity.
func (f *Flow) reconcileCapacity(ctx context.Context) {
	f.mu.Lock()
	if f.closed || !f.selection.HasDate() {
		f.mu.Unlock()
		return
	}
	f.selection.Demote()
	req := f.nextRequestLocked()
	f.mu.Unlock()

	if err := f.fetch(ctx, req); err != nil && !errors.Is(err, ErrSuperseded) && !errors.Is(err, ErrClosed) {
		f.logger.Warn().Err(err).Msg("quote refresh after capacity rejection failed")
	}
}

func (f *Flow) fetch(ctx context.Context, req quoteRequest) error {
	ctx, done := f.callContext(ctx)
	defer done()

	q, err := f.backend.GetTimeSlots(ctx, f.window.ActivityID, req.date, req.guests)
	return f.applyQuotes(req, q, err)
}

func (f *Flow) applyQuotes(req quoteRequest, q *models.DaySlotQuotes, err error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return ErrClosed
	}
	if req.seq != f.seq || !f.selection.Date().Equal(req.date) || f.guests.Count() != req.guests {
		metrics.IncSuperseded()
		f.logger.Debug().Uint64("seq", req.seq).Uint64("latest", f.seq).Msg("discarding superseded quotes")
		return ErrSuperseded
	}
	f.pending = false
	if err != nil {
		f.logger.Warn().Err(err).Str("date", req.date.String()).Int("guests", req.guests).Msg("slot quotes request failed")
		return err
	}

	f.quotes = q
	if f.applyTodayPolicyLocked(q) {
		return ErrTodayFull
	}

	if f.selection.IsSlotChosen() {
		if err := f.draftLocked().ValidFor(f.window, q); err != nil {
			f.logger.Info().Err(err).Str("slot_id", f.selection.SlotID()).Msg("selected slot no longer valid")
			f.selection.Demote()
		}
	}
	return nil
}

// applyTodayPolicyLocked advances the minimum selectable date past a
// sold-out today and clears a selection of today. Reports whether it did.
// A bookable result for today lifts an earlier sold-out mark.
func (f *Flow) applyTodayPolicyLocked(q *models.DaySlotQuotes) bool {
	today := f.todayLocked()
	if q == nil || !q.Date.Equal(today) || !f.window.MinBookable(today).Equal(today) {
		return false
	}
	if q.Bookable() {
		if f.fullDay.Equal(today) {
			f.fullDay = models.Date{}
			f.logger.Info().Int("guests", q.RequestedGuests).Msg("today is bookable again")
		}
		return false
	}

	f.fullDay = today
	f.logger.Info().Str("date", today.String()).Msg("today is fully booked, earliest date moves to tomorrow")
	if f.selection.Date().Equal(today) {
		f.selection.Clear()
		f.quotes = nil
		return true
	}
	return false
}

func (f *Flow) nextRequestLocked() quoteRequest {
	f.seq++
	f.pending = true
	return quoteRequest{seq: f.seq, date: f.selection.Date(), guests: f.guests.Count()}
}

func (f *Flow) mutableLocked() error {
	if f.closed {
		return ErrClosed
	}
	if f.checkingOut {
		return ErrCheckoutInProgress
	}
	return nil
}

func (f *Flow) readyLocked() error {
	if f.closed {
		return ErrClosed
	}
	if f.checkingOut {
		return ErrCheckoutInProgress
	}
	if !f.selection.IsSlotChosen() || f.pending {
		return ErrNotCheckoutReady
	}
	if f.quotes == nil || f.quotes.DayFullyBooked {
		return ErrNotCheckoutReady
	}
	if err := f.draftLocked().ValidFor(f.window, f.quotes); err != nil {
		return fmt.Errorf("%w: %w", ErrNotCheckoutReady, err)
	}
	return nil
}

func (f *Flow) draftLocked() models.BookingDraft {
	return models.BookingDraft{
		Date:   f.selection.Date(),
		SlotID: f.selection.SlotID(),
		Guests: f.guests.Count(),
		UserID: f.userID,
	}
}

func (f *Flow) todayLocked() models.Date {
	return models.Today(f.now(), f.loc)
}

// boundsLocked returns the inclusive range of selectable dates.
func (f *Flow) boundsLocked() (models.Date, models.Date) {
	today := f.todayLocked()
	minDate := f.window.MinBookable(today)
	if minDate.Equal(today) && f.fullDay.Equal(today) {
		minDate = today.AddDays(1)
	}

	maxDate := f.window.End
	if maxDate.IsZero() {
		maxDate = models.DateOf(today.In(f.loc).AddDate(0, models.CalendarMonthsAhead, 0))
	}
	return minDate, maxDate
}

func (f *Flow) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// callContext derives a context cancelled by either the caller or Close.
func (f *Flow) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(f.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (f *Flow) publish(eventType string, payload events.CheckoutEventPayload) {
	if f.events == nil {
		return
	}
	if err := f.events.PublishJSON(eventType, payload); err != nil {
		f.logger.Error().Err(err).Str("event", eventType).Msg("publish checkout event")
	}
}
