package gateway

import (
	"context"
	"errors"
)

// Gateway errors
var (
	ErrNotConfigured   = errors.New("payment gateway is not configured")
	ErrRequestFailed   = errors.New("payment gateway request failed")
	ErrInvalidResponse = errors.New("payment gateway returned an invalid response")
)

// Intent status values as reported by the gateway
const (
	IntentStatusSucceeded      = "succeeded"
	IntentStatusRequiresAction = "requires_action"
	IntentStatusCanceled       = "canceled"
	IntentStatusProcessing     = "processing"
)

// Customer is a gateway-side customer record
type Customer struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

// PaymentIntent is the gateway's record of one payment attempt
type PaymentIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Status       string `json:"status"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	CustomerID   string `json:"customer"`
	ChargeID     string `json:"latest_charge"`
}

// Refund is the gateway's record of money returned to the payer
type Refund struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	ChargeID string `json:"charge"`
}

// Transfer is the gateway's record of a payout to a connected account
type Transfer struct {
	ID          string `json:"id"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	Destination string `json:"destination"`
}

// CustomerParams describes the customer to create
type CustomerParams struct {
	Email string
	Name  string
}

// IntentParams describes one payment attempt. Amount is in the currency's
// minor unit (cents).
type IntentParams struct {
	Amount         int64
	Currency       string
	CustomerID     string
	Description    string
	IdempotencyKey string
	Metadata       map[string]string
}

// RefundParams describes a refund of a settled charge. A zero Amount refunds
// the full charge.
type RefundParams struct {
	ChargeID       string
	IntentID       string
	Amount         int64
	Reason         string
	IdempotencyKey string
}

// TransferParams describes a payout to a consultant's connected account
type TransferParams struct {
	Amount         int64
	Currency       string
	Destination    string
	Description    string
	IdempotencyKey string
}

// PaymentGateway is the boundary to the external payment provider. The
// gateway's responses are the authoritative source of truth for whether
// money actually moved.
type PaymentGateway interface {
	CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error)
	CreatePaymentIntent(ctx context.Context, params IntentParams) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, params RefundParams) (*Refund, error)
	CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error)
}
