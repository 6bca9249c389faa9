package billing

import (
	"context"
	"fmt"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeProcessor creates overage charges as Stripe invoice items, which
// are collected on the customer's next invoice.
type StripeProcessor struct {
	api *client.API
}

func NewStripeProcessor(secretKey string) *StripeProcessor {
	return newStripeProcessor(secretKey, nil)
}

func newStripeProcessor(secretKey string, backends *stripe.Backends) *StripeProcessor {
	api := &client.API{}
	api.Init(secretKey, backends)
	return &StripeProcessor{api: api}
}

func (p *StripeProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(req.CustomerRef),
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(req.Currency),
		Description: stripe.String(req.Description),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.IdempotencyKey)
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	item, err := p.api.InvoiceItems.New(params)
	if err != nil {
		return ChargeResult{}, fmt.Errorf("%w: stripe: %v", ErrProcessorUnavailable, err)
	}
	return ChargeResult{Reference: item.ID}, nil
}
