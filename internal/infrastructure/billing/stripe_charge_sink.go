package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aimeter/backend/internal/domain/metering"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/invoiceitem"
	"go.uber.org/zap"
)

// ErrStripeRateLimited is returned when Stripe throttles a charge
var ErrStripeRateLimited = errors.New("stripe: rate limited")

// StripeChargeSink pushes overage charges to Stripe as pending invoice
// items, which Stripe adds to the customer's next invoice
type StripeChargeSink struct {
	config *StripeConfig
	logger *zap.Logger
}

// NewStripeChargeSink creates a charge sink backed by the Stripe API
func NewStripeChargeSink(config *StripeConfig, logger *zap.Logger) (*StripeChargeSink, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.InitStripeClient()

	return &StripeChargeSink{
		config: config,
		logger: logger,
	}, nil
}

// CreateCharge creates an invoice item. The idempotency key makes retries
// of the same charge return the original item.
func (s *StripeChargeSink) CreateCharge(ctx context.Context, req metering.ChargeRequest) (string, error) {
	if req.CustomerID == "" {
		return "", fmt.Errorf("stripe: customer ID is required")
	}
	if req.AmountMinor <= 0 {
		return "", fmt.Errorf("stripe: charge amount must be positive")
	}

	description := req.Description
	if description == "" {
		description = s.config.ChargeDescription
	}

	params := &stripe.InvoiceItemParams{
		Customer:    stripe.String(req.CustomerID),
		Amount:      stripe.Int64(req.AmountMinor),
		Currency:    stripe.String(s.config.Currency(req.Currency)),
		Description: stripe.String(description),
	}
	params.Context = ctx
	params.AddMetadata("source", "ai_metering")
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	s.logger.Debug("Creating Stripe invoice item",
		zap.String("customer_id", req.CustomerID),
		zap.Int64("amount", req.AmountMinor),
		zap.String("idempotency_key", req.IdempotencyKey))

	item, err := invoiceitem.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusTooManyRequests {
			err = fmt.Errorf("%w: %v", ErrStripeRateLimited, stripeErr)
		}
		s.logger.Error("Failed to create Stripe invoice item",
			zap.String("customer_id", req.CustomerID),
			zap.Error(err))
		return "", fmt.Errorf("stripe: failed to create invoice item: %w", err)
	}

	s.logger.Info("Created Stripe invoice item",
		zap.String("customer_id", req.CustomerID),
		zap.String("invoice_item_id", item.ID),
		zap.Int64("amount", item.Amount))

	return item.ID, nil
}

var _ metering.ChargeSink = (*StripeChargeSink)(nil)
