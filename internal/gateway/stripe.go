package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const defaultStripeBaseURL = "https://api.stripe.com"

// StripeGateway talks to the Stripe HTTP API with form-encoded requests.
type StripeGateway struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
}

// NewStripeGateway creates a gateway client. accountID may be empty when the
// platform operates on its own account.
func NewStripeGateway(apiKey, accountID string) *StripeGateway {
	return &StripeGateway{
		apiKey:    strings.TrimSpace(apiKey),
		accountID: strings.TrimSpace(accountID),
		baseURL:   defaultStripeBaseURL,
		client:    &http.Client{Timeout: 12 * time.Second},
	}
}

// WithBaseURL overrides the API host, used by tests
func (g *StripeGateway) WithBaseURL(baseURL string) *StripeGateway {
	g.baseURL = strings.TrimRight(baseURL, "/")
	return g
}

type stripeErrorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *StripeGateway) CreateCustomer(ctx context.Context, params CustomerParams) (*Customer, error) {
	values := url.Values{}
	values.Set("email", params.Email)
	values.Set("name", params.Name)

	var customer Customer
	if err := g.doRequest(ctx, http.MethodPost, "/v1/customers", values, "", &customer); err != nil {
		return nil, err
	}
	if customer.ID == "" {
		return nil, ErrInvalidResponse
	}
	return &customer, nil
}

func (g *StripeGateway) CreatePaymentIntent(ctx context.Context, params IntentParams) (*PaymentIntent, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(params.Amount, 10))
	values.Set("currency", strings.ToLower(params.Currency))
	values.Set("automatic_payment_methods[enabled]", "false")
	values.Set("payment_method_types[]", "card")
	values.Set("confirm", "true")
	if params.CustomerID != "" {
		values.Set("customer", params.CustomerID)
	}
	if params.Description != "" {
		values.Set("description", params.Description)
	}
	for k, v := range params.Metadata {
		values.Set(fmt.Sprintf("metadata[%s]", k), v)
	}

	var intent PaymentIntent
	if err := g.doRequest(ctx, http.MethodPost, "/v1/payment_intents", values, params.IdempotencyKey, &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, ErrInvalidResponse
	}
	return &intent, nil
}

func (g *StripeGateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	var intent PaymentIntent
	if err := g.doRequest(ctx, http.MethodGet, "/v1/payment_intents/"+intentID, nil, "", &intent); err != nil {
		return nil, err
	}
	if intent.ID == "" {
		return nil, ErrInvalidResponse
	}
	return &intent, nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, params RefundParams) (*Refund, error) {
	values := url.Values{}
	if params.ChargeID != "" {
		values.Set("charge", params.ChargeID)
	} else if params.IntentID != "" {
		values.Set("payment_intent", params.IntentID)
	}
	if params.Amount > 0 {
		values.Set("amount", strconv.FormatInt(params.Amount, 10))
	}
	if params.Reason != "" {
		values.Set("reason", params.Reason)
	}

	var refund Refund
	if err := g.doRequest(ctx, http.MethodPost, "/v1/refunds", values, params.IdempotencyKey, &refund); err != nil {
		return nil, err
	}
	if refund.ID == "" {
		return nil, ErrInvalidResponse
	}
	return &refund, nil
}

func (g *StripeGateway) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(params.Amount, 10))
	values.Set("currency", strings.ToLower(params.Currency))
	values.Set("destination", params.Destination)
	if params.Description != "" {
		values.Set("description", params.Description)
	}

	var transfer Transfer
	if err := g.doRequest(ctx, http.MethodPost, "/v1/transfers", values, params.IdempotencyKey, &transfer); err != nil {
		return nil, err
	}
	if transfer.ID == "" {
		return nil, ErrInvalidResponse
	}
	return &transfer, nil
}

func (g *StripeGateway) doRequest(
	ctx context.Context,
	method string,
	path string,
	values url.Values,
	idempotencyKey string,
	out interface{},
) error {
	if g.apiKey == "" {
		return ErrNotConfigured
	}

	var bodyReader *strings.Reader
	if values != nil {
		bodyReader = strings.NewReader(values.Encode())
	} else {
		bodyReader = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	if values != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if g.accountID != "" {
		req.Header.Set("Stripe-Account", g.accountID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr stripeErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return ErrRequestFailed
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			return ErrRequestFailed
		}
		return fmt.Errorf("%w: %s", ErrRequestFailed, message)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Join(ErrInvalidResponse, err)
	}
	return nil
}
