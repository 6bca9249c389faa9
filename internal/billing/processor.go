package billing

import (
	"context"
	"log/slog"
)

// ChargeRequest is one overage line item for the payment processor.
type ChargeRequest struct {
	TenantID    string
	CustomerRef string
	AmountMinor int64
	Currency    string
	Description string
	// IdempotencyKey is derived from the call id; the processor dedupes on it.
	IdempotencyKey string
	Metadata       map[string]string
}

type ChargeResult struct {
	// Reference is the processor's id for the created line item.
	Reference string
}

// PaymentProcessor emits overage charges.
type PaymentProcessor interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// LogProcessor records charges in the log instead of billing anyone.
// Used outside production when no processor key is configured.
type LogProcessor struct {
	Log *slog.Logger
}

func (p LogProcessor) CreateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	l := p.Log
	if l == nil {
		l = slog.Default()
	}
	l.Info("overage charge (not sent)",
		"tenant_id", req.TenantID,
		"amount_minor", req.AmountMinor,
		"currency", req.Currency,
		"idempotency_key", req.IdempotencyKey,
	)
	return ChargeResult{Reference: "log:" + req.IdempotencyKey}, nil
}
