package gateway

import (
	"context"
	"errors"
)

// InitiateRequest asks the gateway to set up a hosted payment page.
// Amount is in minor units (kobo).
type InitiateRequest struct {
	Reference   string
	Email       string
	Amount      int64
	CallbackURL string
}

// InitiateResponse carries the redirect URL the payer must visit.
type InitiateResponse struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// WebhookEvent is the normalized form of a gateway callback. Amount is in
// minor units as reported by the gateway.
type WebhookEvent struct {
	Event     string
	Reference string
	Status    string
	Amount    int64
	Currency  string
	PaidAt    string
}

// Success reports whether the event confirms a completed charge.
func (e *WebhookEvent) Success() bool {
	return e.Event == "charge.success" || e.Status == "success"
}

var (
	// ErrInvalidSignature means the webhook body failed authenticity checks.
	ErrInvalidSignature = errors.New("webhook signature mismatch")
	// ErrMalformedEvent means the body parsed but carried no usable reference.
	ErrMalformedEvent = errors.New("webhook event missing reference")
)

// PaymentGateway is the capability the ledger engine needs from a payment
// provider: start a hosted payment, and turn a raw webhook delivery into a
// verified event. Implementations must not mutate local state.
type PaymentGateway interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error)
	ParseWebhookEvent(signature string, body []byte) (*WebhookEvent, error)
}
