package payment

import (
	"context"
	"strings"
)

// Status is the terminal state reported by a payment UI.
type Status int

const (
	StatusCompleted Status = iota + 1
	StatusCancelled
	StatusFailed
	// StatusUnknown means the payer may have been charged but the result
	// could not be read back.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusCancelled:
		return "cancelled"
	case StatusFailed:
		return "failed"
	case StatusUnknown:
		return "unknown"
	default:
		return "unknown"
	}
}

// Outcome is what the payment UI hands back after it is dismissed.
type Outcome struct {
	Status  Status
	Message string
}

func Completed() Outcome { return Outcome{Status: StatusCompleted} }

func Cancelled() Outcome { return Outcome{Status: StatusCancelled} }

func Failed(message string) Outcome {
	return Outcome{Status: StatusFailed, Message: message}
}

func Unknown(message string) Outcome {
	return Outcome{Status: StatusUnknown, Message: message}
}

// Sheet is an external payment UI initialised with a client secret.
// Present blocks until the payer completes, cancels or fails.
type Sheet interface {
	Present(ctx context.Context, clientSecret string) Outcome
}

// SheetFunc adapts a function to Sheet.
type SheetFunc func(ctx context.Context, clientSecret string) Outcome

func (f SheetFunc) Present(ctx context.Context, clientSecret string) Outcome {
	return f(ctx, clientSecret)
}

// IntentIDFromSecret extracts "pi_123" from "pi_123_secret_abc".
func IntentIDFromSecret(clientSecret string) string {
	if i := strings.Index(clientSecret, "_secret_"); i > 0 {
		return clientSecret[:i]
	}
	return ""
}
