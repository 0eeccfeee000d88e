// Package payments adapts payment processors to the checkout core. Amounts are minor
// units of the order currency.
package payments

import (
	"context"
	"errors"
	"time"
)

// Status enumerates the normalised intent states shared across providers.
type Status string

const (
	// StatusPending indicates the intent awaits customer action or processor confirmation.
	StatusPending Status = "pending"
	// StatusSucceeded indicates the processor captured the payment.
	StatusSucceeded Status = "succeeded"
	// StatusFailed indicates the latest payment attempt failed.
	StatusFailed Status = "failed"
	// StatusRefunded indicates the charge was refunded.
	StatusRefunded Status = "refunded"
	// StatusCancelled indicates the intent was cancelled before capture.
	StatusCancelled Status = "cancelled"
)

var (
	// ErrInvalidSignature reports a webhook payload whose signature does not verify.
	ErrInvalidSignature = errors.New("payments: invalid webhook signature")
	// ErrWebhookNotConfigured reports a provider without a webhook signing secret.
	ErrWebhookNotConfigured = errors.New("payments: webhook secret not configured")
)

// ShippingDetails is forwarded to the processor for fraud screening and receipts.
type ShippingDetails struct {
	Name       string
	Phone      string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// IntentRequest describes a Payment Intent to open for an order.
type IntentRequest struct {
	Amount         int64
	Currency       string
	Description    string
	Shipping       *ShippingDetails
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent is the processor-side payment record.
type Intent struct {
	ID           string
	ClientSecret string
	Amount       int64
	Currency     string
	Status       Status
	CreatedAt    time.Time
}

// Provider is implemented by payment processor adapters.
type Provider interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	GetIntent(ctx context.Context, intentID string) (Intent, error)
	CancelIntent(ctx context.Context, intentID string) error
}

// WebhookEvent is the normalised form of a processor callback.
type WebhookEvent struct {
	ID       string
	Type     string
	IntentID string
	Status   Status
	// Handled is false for event types the store ignores.
	Handled bool
}

// WebhookParser verifies and decodes processor callbacks.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (WebhookEvent, error)
}
