package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
)

// recheckTimeout bounds the status lookup after an interrupted confirm.
const recheckTimeout = 15 * time.Second

type intentConfirmer interface {
	Confirm(id string, params *stripe.PaymentIntentConfirmParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeSheet confirms the intent behind a client secret with a fixed
// payment method, standing in for the mobile payment sheet.
type StripeSheet struct {
	intents       intentConfirmer
	key           string
	paymentMethod string
	logger        *zerolog.Logger
}

// NewStripeSheet builds a sheet on the default Stripe API backend.
func NewStripeSheet(key, paymentMethod string, logger *zerolog.Logger) *StripeSheet {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &StripeSheet{
		intents:       &paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key},
		key:           key,
		paymentMethod: paymentMethod,
		logger:        logger,
	}
}

func (s *StripeSheet) Present(ctx context.Context, clientSecret string) Outcome {
	id := IntentIDFromSecret(clientSecret)
	if id == "" {
		return Failed("payment session is invalid")
	}

	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(s.paymentMethod),
	}
	params.Context = ctx
	// Publishable keys may only confirm an intent they hold the secret for.
	if strings.HasPrefix(s.key, "pk_") {
		params.AddExtra("client_secret", clientSecret)
	}

	pi, err := s.intents.Confirm(id, params)
	if err != nil {
		if ctx.Err() != nil {
			// The request may have reached Stripe before the cancellation.
			return s.recheck(id, clientSecret)
		}
		s.logger.Warn().Err(err).Str("payment_intent_id", id).Msg("stripe confirm failed")
		return outcomeFromError(err)
	}

	out := outcomeFromIntent(pi)
	s.logger.Info().
		Str("payment_intent_id", id).
		Str("stripe_status", string(pi.Status)).
		Str("outcome", out.Status.String()).
		Msg("payment sheet finished")
	return out
}

// recheck reads the intent back on a context of its own after the confirm
// call was interrupted.
func (s *StripeSheet) recheck(id, clientSecret string) Outcome {
	ctx, cancel := context.WithTimeout(context.Background(), recheckTimeout)
	defer cancel()

	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	if strings.HasPrefix(s.key, "pk_") {
		params.AddExtra("client_secret", clientSecret)
	}

	pi, err := s.intents.Get(id, params)
	if err != nil || pi == nil {
		s.logger.Error().Err(err).Str("payment_intent_id", id).Msg("payment status unknown after interrupted confirm")
		return Unknown("payment status could not be verified")
	}

	var out Outcome
	switch {
	case pi.Status == stripe.PaymentIntentStatusRequiresConfirmation,
		pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError == nil:
		// Confirm never took effect.
		out = Cancelled()
	default:
		out = outcomeFromIntent(pi)
	}
	s.logger.Warn().
		Str("payment_intent_id", id).
		Str("stripe_status", string(pi.Status)).
		Str("outcome", out.Status.String()).
		Msg("confirm interrupted, intent status read back")
	return out
}

func outcomeFromIntent(pi *stripe.PaymentIntent) Outcome {
	if pi == nil {
		return Failed("payment provider returned no result")
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded,
		stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresCapture:
		return Completed()
	case stripe.PaymentIntentStatusCanceled:
		return Cancelled()
	case stripe.PaymentIntentStatusRequiresAction:
		return Failed("the card requires additional authentication")
	default:
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			return Failed(pi.LastPaymentError.Msg)
		}
		return Failed(fmt.Sprintf("payment not completed (%s)", pi.Status))
	}
}

func outcomeFromError(err error) Outcome {
	var se *stripe.Error
	if errors.As(err, &se) && se.Msg != "" {
		return Failed(se.Msg)
	}
	return Failed("payment could not be confirmed")
}
