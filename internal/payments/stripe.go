package payments

import (
	"context"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// Client is the payment collaborator used by the order lifecycle: a hold
// for the estimated price when a driver first accepts, capture of the
// final price on completion, release on cancellation. All calls are
// best-effort from the order service's point of view.
type Client interface {
	Hold(ctx context.Context, orderID string, amount int64, customerID string) (string, error)
	Capture(ctx context.Context, holdRef string, amount int64) error
	Release(ctx context.Context, holdRef string) error
}

// StripeClient implements Client over Stripe PaymentIntents with manual
// capture.
type StripeClient struct{}

// NewStripeClient initializes the stripe client with the given API key.
func NewStripeClient(apiKey string) *StripeClient {
	stripe.Key = apiKey
	return &StripeClient{}
}

// Hold creates a PaymentIntent with capture_method=manual for the
// estimated price and returns its id.
func (s *StripeClient) Hold(ctx context.Context, orderID string, amount int64, customerID string) (string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String("brl"),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	params.AddMetadata("order_id", orderID)
	params.AddMetadata("customer_id", customerID)
	pi, err := paymentintent.New(params)
	if err != nil {
		return "", err
	}
	return pi.ID, nil
}

// Capture finalizes a previously-held PaymentIntent. The captured amount
// may differ from the hold when the driver settles on a final price.
func (s *StripeClient) Capture(ctx context.Context, holdRef string, amount int64) error {
	params := &stripe.PaymentIntentCaptureParams{}
	if amount > 0 {
		params.AmountToCapture = stripe.Int64(amount)
	}
	_, err := paymentintent.Capture(holdRef, params)
	return err
}

// Release cancels the hold on a PaymentIntent.
func (s *StripeClient) Release(ctx context.Context, holdRef string) error {
	_, err := paymentintent.Cancel(holdRef, nil)
	return err
}
