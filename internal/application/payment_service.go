package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/pkgtravel/service-booking/internal/domain/uow"
	"github.com/pkgtravel/service-booking/internal/events"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/pkgtravel/service-booking/pkg/kafka"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// DefaultGatewayTimeout bounds a single gateway call.
const DefaultGatewayTimeout = 15 * time.Second

const (
	msgPaymentSucceeded = "payment successful"
	msgPaymentFailed    = "payment failed"
	msgGatewayTimeout   = "Gateway timeout"
	msgGatewayError     = "Gateway error"
)

// CardRequest is raw card data. It is never stored.
type CardRequest struct {
	Number      string `json:"number" binding:"required"`
	CVV         string `json:"cvv" binding:"required"`
	HolderName  string `json:"holder_name" binding:"required"`
	ExpiryMonth string `json:"expiry_month" binding:"required,len=2"`
	ExpiryYear  string `json:"expiry_year" binding:"required,len=4"`
}

// BillingRequest is the payer's billing identity and address.
type BillingRequest struct {
	FirstName  string `json:"first_name" binding:"required"`
	LastName   string `json:"last_name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Phone      string `json:"phone"`
	Address    string `json:"address" binding:"required"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state"`
	Country    string `json:"country" binding:"required"`
	PostalCode string `json:"postal_code" binding:"required"`
}

// ProcessPaymentRequest holds the data needed to pay a booking.
type ProcessPaymentRequest struct {
	BookingReference string         `json:"booking_reference" binding:"required"`
	PaymentMethod    string         `json:"payment_method" binding:"required,oneof=credit_card debit_card"`
	Card             CardRequest    `json:"card" binding:"required"`
	Billing          BillingRequest `json:"billing" binding:"required"`
}

// RefundPaymentRequest returns money from a successful payment. A nil
// Amount refunds the whole remaining balance.
type RefundPaymentRequest struct {
	Amount *decimal.Decimal `json:"amount"`
	Reason string           `json:"reason" binding:"max=500"`
}

// PaymentOutcomeDTO is the result of a payment attempt. Gateway diagnostics
// stay on the stored transaction.
type PaymentOutcomeDTO struct {
	Success          bool            `json:"success"`
	Message          string          `json:"message"`
	TransactionID    string          `json:"transaction_id"`
	BookingReference string          `json:"booking_reference"`
	Status           string          `json:"status"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	CardBrand        string          `json:"card_brand"`
	CardLastFour     string          `json:"card_last_four"`
	BookingStatus    string          `json:"booking_status"`
	PaymentStatus    string          `json:"payment_status"`
	ProcessedAt      *time.Time      `json:"processed_at,omitempty"`
}

// TransactionDTO is the response representation of a payment transaction.
type TransactionDTO struct {
	ID                   uuid.UUID        `json:"id"`
	TransactionID        string           `json:"transaction_id"`
	BookingID            uuid.UUID        `json:"booking_id"`
	Gateway              string           `json:"gateway"`
	GatewayTransactionID string           `json:"gateway_transaction_id,omitempty"`
	Type                 string           `json:"type"`
	Method               string           `json:"payment_method"`
	Status               string           `json:"status"`
	Amount               decimal.Decimal  `json:"amount"`
	Currency             string           `json:"currency"`
	CardBrand            string           `json:"card_brand"`
	CardLastFour         string           `json:"card_last_four"`
	ParentTransactionID  *uuid.UUID       `json:"parent_transaction_id,omitempty"`
	RefundAmount         decimal.Decimal  `json:"refund_amount"`
	RefundedAt           *time.Time       `json:"refunded_at,omitempty"`
	RefundReason         string           `json:"refund_reason,omitempty"`
	FraudScore           *decimal.Decimal `json:"fraud_score,omitempty"`
	IsFlagged            bool             `json:"is_flagged"`
	ProcessedAt          *time.Time       `json:"processed_at,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
}

// PaymentService is the application service for charging and refunding bookings.
type PaymentService struct {
	bookings       bookingDomain.BookingRepository
	payments       payment.TransactionRepository
	tx             uow.Transactor
	gateway        payment.Gateway
	gatewayTimeout time.Duration
	events         eventPublisher
	logger         *zap.Logger
	now            func() time.Time
}

// NewPaymentService creates a new PaymentService.
func NewPaymentService(
	bookings bookingDomain.BookingRepository,
	payments payment.TransactionRepository,
	tx uow.Transactor,
	gateway payment.Gateway,
	gatewayTimeout time.Duration,
	producer kafka.Publisher,
	logger *zap.Logger,
) *PaymentService {
	if gatewayTimeout <= 0 {
		gatewayTimeout = DefaultGatewayTimeout
	}
	return &PaymentService{
		bookings:       bookings,
		payments:       payments,
		tx:             tx,
		gateway:        gateway,
		gatewayTimeout: gatewayTimeout,
		events:         eventPublisher{producer: producer, logger: logger},
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// ProcessPayment charges the booking's total price once.
//
// A pending transaction is stored before the gateway is called. An approval
// marks the transaction successful and confirms the booking in one commit;
// anything else fails the transaction and leaves the booking payable.
func (s *PaymentService) ProcessPayment(
	ctx context.Context,
	req ProcessPaymentRequest,
	requester bookingDomain.Requester,
	client ClientInfo,
) (*PaymentOutcomeDTO, error) {
	card := payment.CardDetails{
		Number:      req.Card.Number,
		CVV:         req.Card.CVV,
		HolderName:  req.Card.HolderName,
		ExpiryMonth: req.Card.ExpiryMonth,
		ExpiryYear:  req.Card.ExpiryYear,
	}
	if err := card.Validate(); err != nil {
		return nil, err
	}

	bk, err := s.bookings.FindByReference(ctx, req.BookingReference)
	if err != nil {
		return nil, err
	}
	if !bk.AccessibleBy(requester) {
		return nil, domain.NewNotFoundError("Booking", req.BookingReference)
	}
	if err := bk.CheckPayable(); err != nil {
		return nil, err
	}
	if err := s.checkNoPaymentInFlight(ctx, bk.ID()); err != nil {
		return nil, err
	}

	txn, err := payment.NewPayment(payment.NewPaymentParams{
		BookingID: bk.ID(),
		Owner:     bk.Owner(),
		Gateway:   s.gateway.Name(),
		Amount:    bk.TotalPrice(),
		Currency:  bk.Currency(),
		Method:    payment.Method(req.PaymentMethod),
		Card:      card.Masked(),
		Billing:   toBillingDetails(req.Billing),
		IPAddress: client.IPAddress,
		UserAgent: client.UserAgent,
		Metadata:  map[string]any{"booking_reference": bk.Reference()},
	})
	if err != nil {
		return nil, err
	}
	if err := s.payments.Save(ctx, txn); err != nil {
		return nil, fmt.Errorf("failed to save transaction: %w", err)
	}

	res, gwErr := s.charge(ctx, bk.Reference(), txn, card, req.Billing, client)

	// The outcome is recorded even when the caller has gone away.
	recordCtx := context.WithoutCancel(ctx)
	if gwErr != nil || !res.Success {
		return s.recordFailure(recordCtx, bk, txn, res, gwErr)
	}
	return s.recordSuccess(recordCtx, bk, txn, res)
}

func (s *PaymentService) charge(
	ctx context.Context,
	reference string,
	txn *payment.Transaction,
	card payment.CardDetails,
	billing BillingRequest,
	client ClientInfo,
) (payment.GatewayResult, error) {
	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	defer cancel()

	return s.gateway.Charge(gctx, payment.ChargeRequest{
		TransactionID: txn.TransactionID(),
		Amount:        txn.Amount(),
		Currency:      txn.Currency(),
		Card:          card,
		Billing:       toBillingDetails(billing),
		Description:   "Booking " + reference,
		IPAddress:     client.IPAddress,
	})
}

// checkNoPaymentInFlight rejects a second charge while an earlier one may
// still be at the gateway. Older in-flight rows are left to the sweeper.
func (s *PaymentService) checkNoPaymentInFlight(ctx context.Context, bookingID uuid.UUID) error {
	txns, err := s.payments.FindByBookingID(ctx, bookingID)
	if err != nil {
		return fmt.Errorf("failed to load booking transactions: %w", err)
	}
	horizon := s.now().Add(-2 * s.gatewayTimeout)
	for _, t := range txns {
		if t.Type() == payment.TypePayment && t.Status().IsInFlight() && t.CreatedAt().After(horizon) {
			return payment.ErrPaymentInProgress
		}
	}
	return nil
}

func (s *PaymentService) recordFailure(
	ctx context.Context,
	bk *bookingDomain.Booking,
	txn *payment.Transaction,
	res payment.GatewayResult,
	gwErr error,
) (*PaymentOutcomeDTO, error) {
	if gwErr != nil {
		res = payment.GatewayResult{ResponseCode: "ERROR", Message: msgGatewayError}
		if errors.Is(gwErr, context.DeadlineExceeded) {
			res.Message = msgGatewayTimeout
		}
		s.logger.Warn("payment gateway call failed",
			zap.String("transaction_id", txn.TransactionID()),
			zap.String("booking_reference", bk.Reference()),
			zap.Error(gwErr),
		)
	}

	if err := txn.MarkFailed(res, s.now()); err != nil {
		return nil, fmt.Errorf("failed to record payment failure: %w", err)
	}
	txn.IncrementVersion()
	if err := s.payments.Update(ctx, txn); err != nil {
		s.logger.Error("failed to persist failed payment",
			zap.String("transaction_id", txn.TransactionID()),
			zap.String("booking_reference", bk.Reference()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to record payment outcome: %w", err)
	}

	s.publishPaymentEvent(ctx, events.PaymentFailed, bk, txn)

	outcome := toPaymentOutcomeDTO(bk, txn, false, msgPaymentFailed)
	return &outcome, nil
}

func (s *PaymentService) recordSuccess(
	ctx context.Context,
	bk *bookingDomain.Booking,
	txn *payment.Transaction,
	res payment.GatewayResult,
) (*PaymentOutcomeDTO, error) {
	var confirmed *bookingDomain.Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		now := s.now()
		if err := txn.MarkSucceeded(res, now); err != nil {
			return err
		}
		txn.IncrementVersion()
		if err := repos.Payments().Update(ctx, txn); err != nil {
			return err
		}

		b, err := repos.Bookings().FindByID(ctx, bk.ID())
		if err != nil {
			return err
		}
		if err := b.ConfirmPayment(txn.TransactionID(), txn.Amount(), now); err != nil {
			return err
		}
		b.IncrementVersion()
		if err := repos.Bookings().Update(ctx, b); err != nil {
			return err
		}
		confirmed = b
		return nil
	})
	if err != nil {
		s.closeUnconfirmed(ctx, txn, res, err)
		return nil, fmt.Errorf("failed to confirm payment %s: %w", txn.TransactionID(), err)
	}

	s.logger.Info("payment succeeded",
		zap.String("transaction_id", txn.TransactionID()),
		zap.String("booking_reference", confirmed.Reference()),
		zap.Bool("flagged", txn.IsFlagged()),
	)
	s.publishPaymentEvent(ctx, events.PaymentSucceeded, confirmed, txn)
	s.events.publishEvent(ctx, events.TopicBookingEvents, events.BookingConfirmed, confirmed.ID().String(), events.BookingConfirmedEvent{
		BookingID:     confirmed.ID(),
		Reference:     confirmed.Reference(),
		TransactionID: txn.TransactionID(),
		PaidAmount:    txn.Amount().StringFixed(2),
		Currency:      txn.Currency(),
		OccurredAt:    time.Now().UTC(),
	})

	outcome := toPaymentOutcomeDTO(confirmed, txn, true, msgPaymentSucceeded)
	return &outcome, nil
}

// closeUnconfirmed moves a charge whose confirmation rolled back to error,
// so that no success row exists without a confirmed booking.
func (s *PaymentService) closeUnconfirmed(
	ctx context.Context,
	txn *payment.Transaction,
	res payment.GatewayResult,
	cause error,
) {
	s.logger.Error("gateway approved but outcome could not be committed; needs reconciliation",
		zap.String("transaction_id", txn.TransactionID()),
		zap.String("booking_id", txn.BookingID().String()),
		zap.String("gateway_transaction_id", res.GatewayTransactionID),
		zap.Error(cause),
	)

	stored, err := s.payments.FindByID(ctx, txn.ID())
	if err != nil {
		s.logger.Error("failed to reload unconfirmed transaction",
			zap.String("transaction_id", txn.TransactionID()),
			zap.Error(err),
		)
		return
	}
	msg := "Approved by gateway but not confirmed"
	if res.GatewayTransactionID != "" {
		msg += " (gateway ref " + res.GatewayTransactionID + ")"
	}
	if err := stored.MarkErrored(msg, s.now()); err != nil {
		s.logger.Error("unconfirmed transaction is not in flight",
			zap.String("transaction_id", txn.TransactionID()),
			zap.String("status", string(stored.Status())),
		)
		return
	}
	stored.IncrementVersion()
	if err := s.payments.Update(ctx, stored); err != nil {
		s.logger.Error("failed to mark unconfirmed transaction as errored",
			zap.String("transaction_id", txn.TransactionID()),
			zap.Error(err),
		)
	}
}

// ExpireStalePending closes in-flight transactions older than olderThan whose
// outcome was never recorded. It returns how many were closed.
func (s *PaymentService) ExpireStalePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	stale, err := s.payments.FindStaleInFlight(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find stale transactions: %w", err)
	}

	closed := 0
	for _, txn := range stale {
		if err := txn.MarkErrored("Outcome not recorded before timeout", s.now()); err != nil {
			continue
		}
		txn.IncrementVersion()
		if err := s.payments.Update(ctx, txn); err != nil {
			if domain.IsConflict(err) {
				continue
			}
			return closed, fmt.Errorf("failed to expire transaction %s: %w", txn.TransactionID(), err)
		}
		s.logger.Warn("expired stale payment transaction",
			zap.String("transaction_id", txn.TransactionID()),
			zap.Time("created_at", txn.CreatedAt()),
		)
		closed++
	}
	return closed, nil
}

// GetTransaction retrieves a transaction the requester may see.
func (s *PaymentService) GetTransaction(ctx context.Context, transactionID string, requester bookingDomain.Requester) (*TransactionDTO, error) {
	txn, err := s.payments.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	bk, err := s.bookings.FindByID(ctx, txn.BookingID())
	if err != nil {
		return nil, err
	}
	if !bk.AccessibleBy(requester) {
		return nil, domain.NewNotFoundError("PaymentTransaction", transactionID)
	}
	result := toTransactionDTO(txn)
	return &result, nil
}

// GetBookingTransactions lists every transaction of a booking, newest first.
func (s *PaymentService) GetBookingTransactions(ctx context.Context, reference string, requester bookingDomain.Requester) ([]TransactionDTO, error) {
	bk, err := s.bookings.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !bk.AccessibleBy(requester) {
		return nil, domain.NewNotFoundError("Booking", reference)
	}
	txns, err := s.payments.FindByBookingID(ctx, bk.ID())
	if err != nil {
		return nil, fmt.Errorf("failed to list booking transactions: %w", err)
	}
	return toTransactionDTOs(txns), nil
}

// GetPaymentHistory returns a user's transactions, newest first.
func (s *PaymentService) GetPaymentHistory(ctx context.Context, userID uuid.UUID, page, limit int) (*domain.PaginatedResult[TransactionDTO], error) {
	page, limit = normalizePage(page, limit)
	txns, total, err := s.payments.FindByUserID(ctx, userID, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment history: %w", err)
	}
	result := domain.NewPaginatedResult(toTransactionDTOs(txns), total, page, limit)
	return &result, nil
}

// RefundPayment returns money from a successful payment (admin). The child
// refund, the parent's refunded total and the booking's payment status are
// committed together after the gateway approves.
func (s *PaymentService) RefundPayment(ctx context.Context, transactionID string, req RefundPaymentRequest) (*TransactionDTO, error) {
	parent, err := s.payments.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	amount := parent.RefundableAmount()
	if req.Amount != nil {
		amount = *req.Amount
	}

	refund, err := payment.NewRefund(parent, amount, req.Reason)
	if err != nil {
		return nil, err
	}
	if err := s.payments.Save(ctx, refund); err != nil {
		return nil, fmt.Errorf("failed to save refund: %w", err)
	}

	gctx, cancel := context.WithTimeout(ctx, s.gatewayTimeout)
	res, gwErr := s.gateway.Refund(gctx, payment.RefundRequest{
		TransactionID:        refund.TransactionID(),
		GatewayTransactionID: parent.GatewayTransactionID(),
		Amount:               amount,
		Currency:             parent.Currency(),
		CardLastFour:         parent.Card().LastFour,
		Reason:               refund.RefundReason(),
	})
	cancel()

	recordCtx := context.WithoutCancel(ctx)
	if gwErr != nil || !res.Success {
		if gwErr != nil {
			res = payment.GatewayResult{ResponseCode: "ERROR", Message: msgGatewayError}
			s.logger.Warn("refund gateway call failed",
				zap.String("transaction_id", refund.TransactionID()),
				zap.Error(gwErr),
			)
		}
		if err := refund.MarkFailed(res, s.now()); err == nil {
			refund.IncrementVersion()
			if err := s.payments.Update(recordCtx, refund); err != nil {
				s.logger.Error("failed to persist failed refund",
					zap.String("transaction_id", refund.TransactionID()),
					zap.Error(err),
				)
			}
		}
		return nil, domain.NewExternalError("refund was not accepted by the payment gateway")
	}

	var bk *bookingDomain.Booking
	err = s.tx.WithinTx(recordCtx, func(ctx context.Context, repos uow.Repositories) error {
		now := s.now()
		if err := refund.MarkSucceeded(res, now); err != nil {
			return err
		}
		refund.IncrementVersion()
		if err := repos.Payments().Update(ctx, refund); err != nil {
			return err
		}

		p, err := repos.Payments().FindByID(ctx, parent.ID())
		if err != nil {
			return err
		}
		if err := p.RecordRefund(amount, refund.RefundReason(), now); err != nil {
			return err
		}
		p.IncrementVersion()
		if err := repos.Payments().Update(ctx, p); err != nil {
			return err
		}

		b, err := repos.Bookings().FindByID(ctx, p.BookingID())
		if err != nil {
			return err
		}
		if err := b.ApplyRefund(p.IsFullyRefunded(), now); err != nil {
			return err
		}
		b.IncrementVersion()
		if err := repos.Bookings().Update(ctx, b); err != nil {
			return err
		}
		bk = b
		return nil
	})
	if err != nil {
		s.closeUnconfirmed(recordCtx, refund, res, err)
		return nil, fmt.Errorf("failed to record refund %s: %w", refund.TransactionID(), err)
	}

	s.publishPaymentEvent(recordCtx, events.PaymentRefunded, bk, refund)

	result := toTransactionDTO(refund)
	return &result, nil
}

// --- Helpers ---

func toBillingDetails(b BillingRequest) payment.BillingDetails {
	return payment.BillingDetails{
		FirstName:  strings.TrimSpace(b.FirstName),
		LastName:   strings.TrimSpace(b.LastName),
		Email:      strings.TrimSpace(b.Email),
		Phone:      b.Phone,
		Address:    b.Address,
		City:       b.City,
		State:      b.State,
		Country:    b.Country,
		PostalCode: b.PostalCode,
	}
}

func toPaymentOutcomeDTO(bk *bookingDomain.Booking, txn *payment.Transaction, success bool, message string) PaymentOutcomeDTO {
	card := txn.Card()
	return PaymentOutcomeDTO{
		Success:          success,
		Message:          message,
		TransactionID:    txn.TransactionID(),
		BookingReference: bk.Reference(),
		Status:           string(txn.Status()),
		Amount:           txn.Amount(),
		Currency:         txn.Currency(),
		CardBrand:        string(card.Brand),
		CardLastFour:     card.LastFour,
		BookingStatus:    string(bk.Status()),
		PaymentStatus:    string(bk.PaymentStatus()),
		ProcessedAt:      txn.ProcessedAt(),
	}
}

func toTransactionDTOs(txns []*payment.Transaction) []TransactionDTO {
	dtos := make([]TransactionDTO, len(txns))
	for i, t := range txns {
		dtos[i] = toTransactionDTO(t)
	}
	return dtos
}

func toTransactionDTO(t *payment.Transaction) TransactionDTO {
	return TransactionDTO{
		ID:                   t.ID(),
		TransactionID:        t.TransactionID(),
		BookingID:            t.BookingID(),
		Gateway:              t.Gateway(),
		GatewayTransactionID: t.GatewayTransactionID(),
		Type:                 string(t.Type()),
		Method:               string(t.Method()),
		Status:               string(t.Status()),
		Amount:               t.Amount(),
		Currency:             t.Currency(),
		CardBrand:            string(t.Card().Brand),
		CardLastFour:         t.Card().LastFour,
		ParentTransactionID:  t.ParentID(),
		RefundAmount:         t.RefundAmount(),
		RefundedAt:           t.RefundedAt(),
		RefundReason:         t.RefundReason(),
		FraudScore:           t.FraudScore(),
		IsFlagged:            t.IsFlagged(),
		ProcessedAt:          t.ProcessedAt(),
		CreatedAt:            t.CreatedAt(),
	}
}

func (s *PaymentService) publishPaymentEvent(ctx context.Context, eventType string, bk *bookingDomain.Booking, txn *payment.Transaction) {
	evt := events.PaymentEvent{
		TransactionID:        txn.TransactionID(),
		BookingID:            txn.BookingID(),
		BookingReference:     bk.Reference(),
		Type:                 string(txn.Type()),
		Status:               string(txn.Status()),
		Amount:               txn.Amount().StringFixed(2),
		Currency:             txn.Currency(),
		GatewayTransactionID: txn.GatewayTransactionID(),
		ResponseCode:         txn.GatewayResponseCode(),
		OccurredAt:           time.Now().UTC(),
	}
	s.events.publishEvent(ctx, events.TopicPaymentEvents, eventType, txn.BookingID().String(), evt)
}
