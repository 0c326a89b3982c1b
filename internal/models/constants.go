package models

const (
	EscalationPending   = "pending"
	EscalationRetry     = "retry"
	EscalationDelivered = "delivered"
	EscalationFailed    = "failed"
)

const (
	// DefaultWishlistTTL is how long a wishlist lives in Redis, in seconds.
	DefaultWishlistTTL = 30 * 24 * 60 * 60 // 30 days

	// DefaultActivityCacheTTL is the activity card cache lifetime, in seconds.
	DefaultActivityCacheTTL = 5 * 60

	// MinGuests is the lower bound of the guest count.
	MinGuests = 1

	WorkerQueueSize = 128

	// RateLimitMessages is the number of messages allowed per window.
	RateLimitMessages = 20

	// RateLimitWindow in seconds.
	RateLimitWindow = 60

	// CalendarMonthsAhead limits how far the calendar pages forward.
	CalendarMonthsAhead = 12
)
