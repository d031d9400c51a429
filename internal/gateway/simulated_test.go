package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chargeReq(number string) payment.ChargeRequest {
	return payment.ChargeRequest{
		TransactionID: "TXN-TEST",
		Amount:        decimal.RequireFromString("230.00"),
		Currency:      "USD",
		Card:          payment.CardDetails{Number: number, CVV: "123", HolderName: "Ana Ruiz", ExpiryMonth: "09", ExpiryYear: "2030"},
	}
}

func TestSimulated_Charge(t *testing.T) {
	g := NewSimulated("", 0, zap.NewNop())
	assert.Equal(t, "authorize_net", g.Name())

	res, err := g.Charge(context.Background(), chargeReq("4111 1111 1111 1111"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Regexp(t, `^AUTH-[A-Za-z0-9]{12}$`, res.GatewayTransactionID)
	assert.Equal(t, "1", res.ResponseCode)
	assert.Equal(t, "This transaction has been approved.", res.Message)
	require.NotNil(t, res.FraudScore)
	assert.True(t, res.FraudScore.LessThan(decimal.NewFromInt(75)))
}

func TestSimulated_SandboxCards(t *testing.T) {
	g := NewSimulated("authorize_net", 0, zap.NewNop())
	ctx := context.Background()

	res, err := g.Charge(ctx, chargeReq(CardDeclined))
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, "2", res.ResponseCode)

	_, err = g.Charge(ctx, chargeReq(CardProcessingErr))
	assert.True(t, errors.Is(err, ErrProcessing))

	res, err = g.Charge(ctx, chargeReq(CardHighRisk))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.True(t, res.FraudScore.GreaterThanOrEqual(decimal.NewFromInt(75)))
}

func TestSimulated_HonoursDeadline(t *testing.T) {
	g := NewSimulated("authorize_net", time.Second, zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := g.Charge(ctx, chargeReq("4111111111111111"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestSimulated_Refund(t *testing.T) {
	g := NewSimulated("authorize_net", 0, zap.NewNop())

	res, err := g.Refund(context.Background(), payment.RefundRequest{
		TransactionID:        "TXN-REFUND",
		GatewayTransactionID: "AUTH-abc",
		Amount:               decimal.RequireFromString("50"),
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Regexp(t, `^REF-`, res.GatewayTransactionID)

	res, err = g.Refund(context.Background(), payment.RefundRequest{Amount: decimal.RequireFromString("50")})
	require.NoError(t, err)
	assert.False(t, res.Success)
}
