package events

import (
	"encoding/json"
	"sync"
	"time"
)

const (
	EventIntentCreated    = "checkout_intent_created"
	EventPaymentCancelled = "checkout_payment_cancelled"
	EventPaymentFailed    = "checkout_payment_failed"
	EventBookingConfirmed = "checkout_booking_confirmed"
	EventFinalizeFailed   = "checkout_finalize_failed"
)

// CheckoutEventPayload is the checkout snapshot handed to event consumers.
// It never carries a payment client secret.
type CheckoutEventPayload struct {
	AttemptID       string `json:"attempt_id"`
	ActivityID      string `json:"activity_id"`
	UserID          string `json:"user_id"`
	Date            string `json:"date"`
	SlotID          string `json:"slot_id"`
	Guests          int    `json:"guests"`
	PaymentIntentID string `json:"payment_intent_id,omitempty"`
	Error           string `json:"error,omitempty"`
}

// Event represents a lightweight domain event.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Decode unmarshals the payload into out.
func (e *Event) Decode(out interface{}) error {
	return json.Unmarshal(e.Payload, out)
}

// EventHandler reacts to an event.
type EventHandler func(event *Event) error

// ErrorHook observes handler failures; the bus itself never drops them silently.
type ErrorHook func(event *Event, err error)

// EventBus provides in-process pub/sub for events.
type EventBus struct {
	subscribers map[string][]EventHandler
	onError     ErrorHook
	mu          sync.RWMutex
}

// NewEventBus constructs an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subscribers: make(map[string][]EventHandler)}
}

// OnError installs a hook for handler errors.
func (b *EventBus) OnError(hook ErrorHook) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onError = hook
}

// Subscribe registers a handler for a given event type.
func (b *EventBus) Subscribe(eventType string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[eventType] = append(b.subscribers[eventType], handler)
}

// Publish notifies subscribers of the event type.
func (b *EventBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := append([]EventHandler(nil), b.subscribers[event.Type]...)
	hook := b.onError
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	for _, handler := range handlers {
		// Handlers run synchronously; caller decides concurrency model.
		if err := handler(event); err != nil && hook != nil {
			hook(event, err)
		}
	}
}

// PublishJSON serializes the payload and publishes an event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.Publish(&Event{Type: eventType, Payload: raw, CreatedAt: time.Now()})
	return nil
}
