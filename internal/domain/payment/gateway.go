package payment

import (
	"context"

	"github.com/shopspring/decimal"
)

// ChargeRequest is what the gateway needs to take a payment.
type ChargeRequest struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	Card          CardDetails
	Billing       BillingDetails
	Description   string
	IPAddress     string
}

// RefundRequest returns money from an earlier gateway charge.
type RefundRequest struct {
	TransactionID        string
	GatewayTransactionID string
	Amount               decimal.Decimal
	Currency             string
	CardLastFour         string
	Reason               string
}

// GatewayResult is the gateway's answer. Success false with a nil error is a
// decline; a non-nil error means the outcome is unknown to the gateway client.
type GatewayResult struct {
	Success              bool
	GatewayTransactionID string
	ResponseCode         string
	Message              string
	FraudScore           *decimal.Decimal
	Raw                  map[string]any
}

// Gateway is the external card processor. Each call is attempted at most once.
type Gateway interface {
	Name() string
	Charge(ctx context.Context, req ChargeRequest) (GatewayResult, error)
	Refund(ctx context.Context, req RefundRequest) (GatewayResult, error)
}
