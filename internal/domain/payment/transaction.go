package payment

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
)

const (
	transactionIDChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	transactionIDLength = 16
	flagThreshold       = 75
)

var (
	// ErrAlreadyPaid is returned when paying a booking that is already paid.
	ErrAlreadyPaid = booking.ErrAlreadyPaid
	// ErrNotRefundable is returned when refunding a transaction that cannot be refunded.
	ErrNotRefundable = domain.NewConflictCodeError("NOT_REFUNDABLE", "transaction cannot be refunded")
	// ErrPaymentInProgress is returned while another charge for the booking is in flight.
	ErrPaymentInProgress = domain.NewConflictCodeError("PAYMENT_IN_PROGRESS", "a payment for this booking is already in progress")
)

// Transaction is the aggregate root for a single movement of money.
type Transaction struct {
	id            uuid.UUID
	transactionID string
	bookingID     uuid.UUID
	owner         booking.Owner
	gateway       string

	gatewayTransactionID   string
	gatewayResponseCode    string
	gatewayResponseMessage string
	gatewayRawResponse     map[string]any

	amount   decimal.Decimal
	currency string
	txType   TransactionType
	method   Method
	card     MaskedCard
	billing  BillingDetails
	status   TransactionStatus

	parentID     *uuid.UUID
	refundAmount decimal.Decimal
	refundedAt   *time.Time
	refundReason string

	fraudScore *decimal.Decimal
	isFlagged  bool
	metadata   map[string]any

	ipAddress   string
	userAgent   string
	processedAt *time.Time

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// GenerateTransactionID creates an id in the format "TXN-XXXXXXXXXXXXXXXX".
func GenerateTransactionID() (string, error) {
	result := make([]byte, transactionIDLength)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(transactionIDChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate transaction id: %w", err)
		}
		result[i] = transactionIDChars[n.Int64()]
	}
	return "TXN-" + string(result), nil
}

// NewPaymentParams holds what is recorded before the gateway is called.
type NewPaymentParams struct {
	BookingID uuid.UUID
	Owner     booking.Owner
	Gateway   string
	Amount    decimal.Decimal
	Currency  string
	Method    Method
	Card      MaskedCard
	Billing   BillingDetails
	IPAddress string
	UserAgent string
	Metadata  map[string]any
}

// NewPayment creates a pending payment transaction.
func NewPayment(p NewPaymentParams) (*Transaction, error) {
	if p.BookingID == uuid.Nil {
		return nil, domain.NewValidationError("booking ID is required")
	}
	if err := p.Owner.Validate(); err != nil {
		return nil, err
	}
	if !p.Amount.IsPositive() {
		return nil, domain.NewValidationError("payment amount must be positive")
	}
	if !p.Method.IsValid() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid payment method: %s", p.Method))
	}
	if err := p.Billing.Validate(); err != nil {
		return nil, err
	}

	txID, err := GenerateTransactionID()
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Transaction{
		id:            uuid.New(),
		transactionID: txID,
		bookingID:     p.BookingID,
		owner:         p.Owner,
		gateway:       p.Gateway,
		amount:        p.Amount,
		currency:      p.Currency,
		txType:        TypePayment,
		method:        p.Method,
		card:          p.Card,
		billing:       p.Billing,
		status:        StatusPending,
		refundAmount:  decimal.Zero,
		metadata:      p.Metadata,
		ipAddress:     p.IPAddress,
		userAgent:     p.UserAgent,
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// NewRefund creates a pending child transaction returning amount from parent.
// A refund of the whole remaining balance of an untouched payment is a
// "refund"; anything else is a "partial_refund".
func NewRefund(parent *Transaction, amount decimal.Decimal, reason string) (*Transaction, error) {
	if !parent.CanBeRefunded() {
		return nil, ErrNotRefundable
	}
	if !amount.IsPositive() {
		return nil, domain.NewValidationError("refund amount must be positive")
	}
	remaining := parent.RefundableAmount()
	if amount.GreaterThan(remaining) {
		return nil, domain.NewValidationError(fmt.Sprintf("refund amount exceeds refundable balance %s", remaining.StringFixed(2)))
	}

	txType := TypePartialRefund
	if parent.refundAmount.IsZero() && amount.Equal(parent.amount) {
		txType = TypeRefund
	}

	txID, err := GenerateTransactionID()
	if err != nil {
		return nil, err
	}
	parentID := parent.id
	now := time.Now().UTC()
	return &Transaction{
		id:            uuid.New(),
		transactionID: txID,
		bookingID:     parent.bookingID,
		owner:         parent.owner,
		gateway:       parent.gateway,
		amount:        amount,
		currency:      parent.currency,
		txType:        txType,
		method:        parent.method,
		card:          parent.card,
		billing:       parent.billing,
		status:        StatusPending,
		parentID:      &parentID,
		refundAmount:  decimal.Zero,
		refundReason:  strings.TrimSpace(reason),
		version:       1,
		createdAt:     now,
		updatedAt:     now,
	}, nil
}

// ReconstructTransaction rebuilds a Transaction from persistence data (no validation).
func ReconstructTransaction(
	id uuid.UUID,
	transactionID string,
	bookingID uuid.UUID,
	owner booking.Owner,
	gateway string,
	gatewayTransactionID string,
	gatewayResponseCode string,
	gatewayResponseMessage string,
	gatewayRawResponse map[string]any,
	amount decimal.Decimal,
	currency string,
	txType TransactionType,
	method Method,
	card MaskedCard,
	billing BillingDetails,
	status TransactionStatus,
	parentID *uuid.UUID,
	refundAmount decimal.Decimal,
	refundedAt *time.Time,
	refundReason string,
	fraudScore *decimal.Decimal,
	isFlagged bool,
	metadata map[string]any,
	ipAddress string,
	userAgent string,
	processedAt *time.Time,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Transaction {
	return &Transaction{
		id:                     id,
		transactionID:          transactionID,
		bookingID:              bookingID,
		owner:                  owner,
		gateway:                gateway,
		gatewayTransactionID:   gatewayTransactionID,
		gatewayResponseCode:    gatewayResponseCode,
		gatewayResponseMessage: gatewayResponseMessage,
		gatewayRawResponse:     gatewayRawResponse,
		amount:                 amount,
		currency:               currency,
		txType:                 txType,
		method:                 method,
		card:                   card,
		billing:                billing,
		status:                 status,
		parentID:               parentID,
		refundAmount:           refundAmount,
		refundedAt:             refundedAt,
		refundReason:           refundReason,
		fraudScore:             fraudScore,
		isFlagged:              isFlagged,
		metadata:               metadata,
		ipAddress:              ipAddress,
		userAgent:              userAgent,
		processedAt:            processedAt,
		version:                version,
		createdAt:              createdAt,
		updatedAt:              updatedAt,
	}
}

// --- Getters ---

func (t *Transaction) ID() uuid.UUID                      { return t.id }
func (t *Transaction) TransactionID() string              { return t.transactionID }
func (t *Transaction) BookingID() uuid.UUID               { return t.bookingID }
func (t *Transaction) Owner() booking.Owner               { return t.owner }
func (t *Transaction) Gateway() string                    { return t.gateway }
func (t *Transaction) GatewayTransactionID() string       { return t.gatewayTransactionID }
func (t *Transaction) GatewayResponseCode() string        { return t.gatewayResponseCode }
func (t *Transaction) GatewayResponseMessage() string     { return t.gatewayResponseMessage }
func (t *Transaction) GatewayRawResponse() map[string]any { return t.gatewayRawResponse }
func (t *Transaction) Amount() decimal.Decimal            { return t.amount }
func (t *Transaction) Currency() string                   { return t.currency }
func (t *Transaction) Type() TransactionType              { return t.txType }
func (t *Transaction) Method() Method                     { return t.method }
func (t *Transaction) Card() MaskedCard                   { return t.card }
func (t *Transaction) Billing() BillingDetails            { return t.billing }
func (t *Transaction) Status() TransactionStatus          { return t.status }
func (t *Transaction) ParentID() *uuid.UUID               { return t.parentID }
func (t *Transaction) RefundAmount() decimal.Decimal      { return t.refundAmount }
func (t *Transaction) RefundedAt() *time.Time             { return t.refundedAt }
func (t *Transaction) RefundReason() string               { return t.refundReason }
func (t *Transaction) FraudScore() *decimal.Decimal       { return t.fraudScore }
func (t *Transaction) IsFlagged() bool                    { return t.isFlagged }
func (t *Transaction) Metadata() map[string]any           { return t.metadata }
func (t *Transaction) IPAddress() string                  { return t.ipAddress }
func (t *Transaction) UserAgent() string                  { return t.userAgent }
func (t *Transaction) ProcessedAt() *time.Time            { return t.processedAt }
func (t *Transaction) Version() int64                     { return t.version }
func (t *Transaction) CreatedAt() time.Time               { return t.createdAt }
func (t *Transaction) UpdatedAt() time.Time               { return t.updatedAt }

// --- Behavior ---

// CanBeRefunded reports whether any money of this payment can still be returned.
func (t *Transaction) CanBeRefunded() bool {
	return t.txType == TypePayment && t.status == StatusSuccess && t.refundAmount.LessThan(t.amount)
}

// RefundableAmount is the part of the payment not yet refunded.
func (t *Transaction) RefundableAmount() decimal.Decimal {
	return t.amount.Sub(t.refundAmount)
}

// IsFullyRefunded reports whether the whole amount has been returned.
func (t *Transaction) IsFullyRefunded() bool {
	return t.refundAmount.GreaterThanOrEqual(t.amount)
}

// MarkSucceeded records an approving gateway response.
func (t *Transaction) MarkSucceeded(res GatewayResult, now time.Time) error {
	if !t.status.CanTransitionTo(StatusSuccess) {
		return domain.NewInvalidStateError(string(t.status), string(StatusSuccess))
	}
	t.status = StatusSuccess
	t.recordGateway(res, now)
	return nil
}

// MarkFailed records a declined or failed attempt with the gateway's detail.
func (t *Transaction) MarkFailed(res GatewayResult, now time.Time) error {
	if !t.status.CanTransitionTo(StatusFailed) {
		return domain.NewInvalidStateError(string(t.status), string(StatusFailed))
	}
	if res.ResponseCode == "" {
		res.ResponseCode = "ERROR"
	}
	if res.Message == "" {
		res.Message = "Payment failed"
	}
	t.status = StatusFailed
	t.recordGateway(res, now)
	return nil
}

// MarkErrored closes an in-flight transaction whose outcome could not be
// recorded consistently. It never overwrites a recorded outcome.
func (t *Transaction) MarkErrored(message string, now time.Time) error {
	if !t.status.CanTransitionTo(StatusError) {
		return domain.NewInvalidStateError(string(t.status), string(StatusError))
	}
	t.status = StatusError
	t.gatewayResponseMessage = message
	t.processedAt = &now
	t.updatedAt = now
	return nil
}

// RecordRefund adds a completed child refund to this payment.
func (t *Transaction) RecordRefund(amount decimal.Decimal, reason string, now time.Time) error {
	if !t.CanBeRefunded() {
		return ErrNotRefundable
	}
	if amount.GreaterThan(t.RefundableAmount()) {
		return domain.NewValidationError("refund amount exceeds refundable balance")
	}
	t.refundAmount = t.refundAmount.Add(amount)
	t.refundedAt = &now
	t.refundReason = strings.TrimSpace(reason)
	if t.IsFullyRefunded() {
		t.status = StatusRefunded
	}
	t.updatedAt = now
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (t *Transaction) IncrementVersion() {
	t.version++
	t.updatedAt = time.Now().UTC()
}

func (t *Transaction) recordGateway(res GatewayResult, now time.Time) {
	t.gatewayTransactionID = res.GatewayTransactionID
	t.gatewayResponseCode = res.ResponseCode
	t.gatewayResponseMessage = res.Message
	t.gatewayRawResponse = res.Raw
	if res.FraudScore != nil {
		score := *res.FraudScore
		t.fraudScore = &score
		t.isFlagged = score.GreaterThanOrEqual(decimal.NewFromInt(flagThreshold))
	}
	t.processedAt = &now
	t.updatedAt = now
}
