// Package gateway defines the narrow contract to the third-party payment
// processor. Webhook signature verification and gateway-side retries live
// outside this module; callers receive opaque intent/refund references and a
// reported status, nothing more.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

const (
	IntentStatusPending   = "pending"
	IntentStatusSucceeded = "succeeded"
	IntentStatusFailed    = "failed"
)

var (
	ErrIntentNotFound = errors.New("gateway: intent not found")
	ErrInvalidAmount  = errors.New("gateway: amount must be positive")
)

type CreateIntentRequest struct {
	Amount   decimal.Decimal
	Currency string
	Metadata map[string]string
}

type Intent struct {
	ID           string
	ClientSecret string
	Status       string
	Amount       decimal.Decimal
	Currency     string
	Metadata     map[string]string
}

type Refund struct {
	ID       string
	IntentID string
	Amount   decimal.Decimal
}

type Gateway interface {
	CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error)
	RetrieveIntent(ctx context.Context, id string) (*Intent, error)
	// RefundIntent refunds up to amount against a succeeded intent. A zero
	// amount means the full intent amount.
	RefundIntent(ctx context.Context, id string, amount decimal.Decimal) (*Refund, error)
}
