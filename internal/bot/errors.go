package bot

import (
	"errors"

	"tourbook/internal/checkout"
	"tourbook/internal/service"
)

func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, service.ErrNotLoggedIn):
		return "Please link your marketplace account first: /link <userId>"
	case errors.Is(err, service.ErrEmptyUserID):
		return "Usage: /link <userId>"
	case errors.Is(err, service.ErrEmptyListing):
		return "Usage: /save <activityId> or /unsave <activityId>"
	}

	if n := checkout.Classify(err); !n.Silent() {
		return n.Message
	}
	return ""
}
