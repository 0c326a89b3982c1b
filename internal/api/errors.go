package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// CodeCapacityExceeded is the backend code for a draft rejected against live capacity.
const CodeCapacityExceeded = "CAPACITY_EXCEEDED"

// ErrMissingPaymentIntent guards the booking commit against a call without a paid intent.
var ErrMissingPaymentIntent = errors.New("payment intent id is required to book")

// NetworkError means no usable response came back from the backend.
type NetworkError struct {
	Endpoint string
	Err      error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Endpoint, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerError is a non-2xx status or a success:false envelope.
type ServerError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
}

func (e *ServerError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: server error %d: %s", e.Endpoint, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: server error %d", e.Endpoint, e.Status)
}

// CapacityExceededError is a ServerError raised because the draft went stale
// between the quote and the submission.
type CapacityExceededError struct {
	*ServerError
}

func (e *CapacityExceededError) Error() string {
	return "capacity exceeded: " + e.ServerError.Error()
}

func (e *CapacityExceededError) Unwrap() error { return e.ServerError }

var capacityWording = []string{
	"capacity",
	"fully booked",
	"not enough",
	"sold out",
	"no seats",
	"no spots",
}

// newServerError promotes capacity rejections to CapacityExceededError.
func newServerError(endpoint string, status int, code, message string) error {
	se := &ServerError{Endpoint: endpoint, Status: status, Code: code, Message: message}
	if isCapacityRejection(status, code, message) {
		return &CapacityExceededError{ServerError: se}
	}
	return se
}

func isCapacityRejection(status int, code, message string) bool {
	if status == http.StatusConflict || strings.EqualFold(code, CodeCapacityExceeded) {
		return true
	}
	lower := strings.ToLower(message)
	for _, w := range capacityWording {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// IsCapacityExceeded reports whether err carries a capacity rejection.
func IsCapacityExceeded(err error) bool {
	var ce *CapacityExceededError
	return errors.As(err, &ce)
}
