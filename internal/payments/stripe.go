package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// StripeClient settles fares that were held with capture_method=manual when
// the passenger booked.
type StripeClient struct {
	intents paymentintent.Client
}

// NewStripeClient builds a client for the given secret key.
func NewStripeClient(key string) *StripeClient {
	return &StripeClient{intents: paymentintent.Client{B: stripe.GetBackend(stripe.APIBackend), Key: key}}
}

// Capture finalizes a previously-held PaymentIntent.
func (s *StripeClient) Capture(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCaptureParams{}
	params.Context = ctx
	_, err := s.intents.Capture(paymentIntentID, params)
	return err
}

// Cancel releases the hold on a PaymentIntent.
func (s *StripeClient) Cancel(ctx context.Context, paymentIntentID string) error {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	_, err := s.intents.Cancel(paymentIntentID, params)
	return err
}
