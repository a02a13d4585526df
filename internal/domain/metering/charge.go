package metering

import "context"

// ChargeRequest describes a one-off charge in the payment system
type ChargeRequest struct {
	CustomerID     string
	AmountMinor    int64
	Currency       string
	Description    string
	IdempotencyKey string
}

// ChargeSink creates charges in the external payment system. Calls with
// the same IdempotencyKey must not charge twice.
type ChargeSink interface {
	CreateCharge(ctx context.Context, req ChargeRequest) (chargeID string, err error)
}
