package models

import "time"

// Escalation is a paid-but-unconfirmed checkout queued for support follow-up.
type Escalation struct {
	ID              int64      `json:"id"`
	AttemptID       string     `json:"attempt_id"`
	ActivityID      string     `json:"activity_id"`
	UserID          string     `json:"user_id"`
	Date            string     `json:"date"`
	SlotID          string     `json:"slot_id"`
	Guests          int        `json:"guests"`
	PaymentIntentID string     `json:"payment_intent_id"`
	Reason          string     `json:"reason"`
	Status          string     `json:"status"`
	RetryCount      int        `json:"retry_count"`
	LastError       *string    `json:"last_error"`
	CreatedAt       time.Time  `json:"created_at"`
	DeliveredAt     *time.Time `json:"delivered_at"`
	NextRetryAt     *time.Time `json:"next_retry_at"`
}

// WishlistEntry is one saved activity.
type WishlistEntry struct {
	ActivityID string    `json:"activity_id"`
	SavedAt    time.Time `json:"saved_at"`
}
