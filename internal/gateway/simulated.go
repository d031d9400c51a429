// Package gateway provides card processor adapters for payment.Gateway.
package gateway

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Sandbox card numbers with a fixed outcome.
const (
	CardDeclined      = "4000000000000002"
	CardProcessingErr = "4000000000000119"
	CardHighRisk      = "4100000000000019"
)

// ErrProcessing is returned for the processing-error sandbox card.
var ErrProcessing = errors.New("gateway processing error")

const (
	refChars = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

	responseApproved = "1"
	responseDeclined = "2"
)

// Simulated is a sandbox Authorize.Net stand-in. It approves every charge
// except the sandbox cards above and honours context deadlines.
type Simulated struct {
	name    string
	latency time.Duration
	logger  *zap.Logger
}

// NewSimulated creates a sandbox gateway reporting as name.
func NewSimulated(name string, latency time.Duration, logger *zap.Logger) *Simulated {
	if name == "" {
		name = "authorize_net"
	}
	return &Simulated{name: name, latency: latency, logger: logger}
}

// Name identifies the gateway on stored transactions.
func (g *Simulated) Name() string { return g.name }

// Charge authorizes and captures req.Amount.
func (g *Simulated) Charge(ctx context.Context, req payment.ChargeRequest) (payment.GatewayResult, error) {
	if err := g.wait(ctx); err != nil {
		return payment.GatewayResult{}, err
	}

	number := strings.NewReplacer(" ", "", "-", "").Replace(req.Card.Number)
	switch number {
	case CardDeclined:
		g.logger.Info("sandbox charge declined", zap.String("transaction_id", req.TransactionID))
		return payment.GatewayResult{
			Success:      false,
			ResponseCode: responseDeclined,
			Message:      "This transaction has been declined.",
			Raw:          map[string]any{"response_code": responseDeclined},
		}, nil
	case CardProcessingErr:
		return payment.GatewayResult{}, ErrProcessing
	}

	authID, err := randomRef(12)
	if err != nil {
		return payment.GatewayResult{}, err
	}
	score := decimal.NewFromInt(5)
	if number == CardHighRisk {
		score = decimal.NewFromInt(85)
	}

	g.logger.Info("sandbox charge approved",
		zap.String("transaction_id", req.TransactionID),
		zap.String("amount", req.Amount.StringFixed(2)),
	)
	return payment.GatewayResult{
		Success:              true,
		GatewayTransactionID: "AUTH-" + authID,
		ResponseCode:         responseApproved,
		Message:              "This transaction has been approved.",
		FraudScore:           &score,
		Raw: map[string]any{
			"response_code": responseApproved,
			"auth_code":     authID[:6],
			"account_type":  string(payment.DetectCardBrand(number)),
		},
	}, nil
}

// Refund returns req.Amount against an earlier charge.
func (g *Simulated) Refund(ctx context.Context, req payment.RefundRequest) (payment.GatewayResult, error) {
	if err := g.wait(ctx); err != nil {
		return payment.GatewayResult{}, err
	}
	if req.GatewayTransactionID == "" {
		return payment.GatewayResult{
			Success:      false,
			ResponseCode: responseDeclined,
			Message:      "The referenced transaction does not meet the criteria for issuing a credit.",
		}, nil
	}

	refID, err := randomRef(12)
	if err != nil {
		return payment.GatewayResult{}, err
	}
	return payment.GatewayResult{
		Success:              true,
		GatewayTransactionID: "REF-" + refID,
		ResponseCode:         responseApproved,
		Message:              "This transaction has been approved.",
		Raw:                  map[string]any{"ref_trans_id": req.GatewayTransactionID},
	}, nil
}

func (g *Simulated) wait(ctx context.Context) error {
	if g.latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(g.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func randomRef(n int) (string, error) {
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, big.NewInt(int64(len(refChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate gateway reference: %w", err)
		}
		b[i] = refChars[idx.Int64()]
	}
	return string(b), nil
}
