// Package payments moves approved payouts to technicians' connected
// accounts.
package payments

import (
	"context"
	"errors"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/transfer"
)

var ErrNoDestination = errors.New("payments: technician has no payout account")

// TransferRequest describes one payout transfer. IdempotencyKey makes a
// retried request return the original transfer instead of paying twice.
type TransferRequest struct {
	AmountCents    int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Description    string
	Metadata       map[string]string
}

// StripeClient is a thin wrapper around stripe-go Transfers.
type StripeClient struct {
	currency string
}

// NewStripeClient sets the process-wide stripe key.
func NewStripeClient(apiKey, currency string) *StripeClient {
	stripe.Key = apiKey
	if currency == "" {
		currency = string(stripe.CurrencyUSD)
	}
	return &StripeClient{currency: currency}
}

// Transfer sends the amount to the destination account and returns the
// transfer id.
func (s *StripeClient) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if req.Destination == "" {
		return "", ErrNoDestination
	}
	currency := req.Currency
	if currency == "" {
		currency = s.currency
	}
	params := &stripe.TransferParams{
		Amount:      stripe.Int64(req.AmountCents),
		Currency:    stripe.String(currency),
		Destination: stripe.String(req.Destination),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	params.Context = ctx
	tr, err := transfer.New(params)
	if err != nil {
		return "", err
	}
	return tr.ID, nil
}
