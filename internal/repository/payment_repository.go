package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// PaymentTransactionModel is the GORM model for the payment_transactions table.
type PaymentTransactionModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	TransactionID  string     `gorm:"uniqueIndex;not null;size:50"`
	BookingID      uuid.UUID  `gorm:"type:uuid;not null;index"`
	UserID         *uuid.UUID `gorm:"type:uuid;index"`
	GuestSessionID *string    `gorm:"size:64;index"`

	Gateway                string            `gorm:"not null;size:30"`
	GatewayTransactionID   string            `gorm:"size:100"`
	GatewayResponseCode    string            `gorm:"size:20"`
	GatewayResponseMessage string            `gorm:"type:text"`
	GatewayResponse        datatypes.JSONMap `gorm:""`

	Amount        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency      string          `gorm:"not null;size:3;default:'USD'"`
	Type          string          `gorm:"not null;size:20"`
	PaymentMethod string          `gorm:"not null;size:20"`

	CardBrand       string                                     `gorm:"size:20"`
	CardLastFour    string                                     `gorm:"size:4"`
	CardExpiryMonth string                                     `gorm:"size:2"`
	CardExpiryYear  string                                     `gorm:"size:4"`
	CardHolderName  string                                     `gorm:"size:255"`
	Billing         datatypes.JSONType[payment.BillingDetails] `gorm:""`

	Status string `gorm:"not null;size:20;index"`

	ParentTransactionID *uuid.UUID      `gorm:"type:uuid;index"`
	RefundAmount        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	RefundedAt          *time.Time      `gorm:""`
	RefundReason        string          `gorm:"type:text"`

	FraudScore decimal.NullDecimal `gorm:"type:decimal(5,2)"`
	IsFlagged  bool                `gorm:"not null;default:false"`
	Metadata   datatypes.JSONMap   `gorm:""`

	IPAddress   string     `gorm:"size:45"`
	UserAgent   string     `gorm:"type:text"`
	ProcessedAt *time.Time `gorm:""`

	Version   int64     `gorm:"not null;default:1"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (PaymentTransactionModel) TableName() string {
	return "payment_transactions"
}

// GormTransactionRepository is the GORM-based implementation of payment.TransactionRepository.
type GormTransactionRepository struct {
	db *gorm.DB
}

// NewGormTransactionRepository creates a new GormTransactionRepository.
func NewGormTransactionRepository(db *gorm.DB) *GormTransactionRepository {
	return &GormTransactionRepository{db: db}
}

// FindByID retrieves a transaction by its unique identifier.
func (r *GormTransactionRepository) FindByID(ctx context.Context, id uuid.UUID) (*payment.Transaction, error) {
	var model PaymentTransactionModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Transaction", id.String())
		}
		return nil, fmt.Errorf("failed to find transaction by ID: %w", err)
	}
	return toDomainTransaction(&model)
}

// FindByTransactionID retrieves a transaction by its public id.
func (r *GormTransactionRepository) FindByTransactionID(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	var model PaymentTransactionModel
	if err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Transaction", transactionID)
		}
		return nil, fmt.Errorf("failed to find transaction: %w", err)
	}
	return toDomainTransaction(&model)
}

// FindByBookingID lists the transactions of a booking, newest first.
func (r *GormTransactionRepository) FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*payment.Transaction, error) {
	var models []PaymentTransactionModel
	if err := r.db.WithContext(ctx).
		Where("booking_id = ?", bookingID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find booking transactions: %w", err)
	}
	return toDomainTransactions(models)
}

// FindByUserID retrieves a user's transactions with pagination.
func (r *GormTransactionRepository) FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]*payment.Transaction, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&PaymentTransactionModel{}).
		Where("user_id = ?", userID).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count user transactions: %w", err)
	}

	var models []PaymentTransactionModel
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Scopes(paginate(page, limit)).
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find user transactions: %w", err)
	}

	txs, err := toDomainTransactions(models)
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

// FindStaleInFlight returns up to limit in-flight transactions created before cutoff, oldest first.
func (r *GormTransactionRepository) FindStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*payment.Transaction, error) {
	var models []PaymentTransactionModel
	if err := r.db.WithContext(ctx).
		Where("status IN ? AND created_at < ?",
			[]string{string(payment.StatusPending), string(payment.StatusProcessing)}, cutoff).
		Order("created_at ASC").
		Limit(limit).
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to find stale transactions: %w", err)
	}
	return toDomainTransactions(models)
}

// Save persists a new transaction.
func (r *GormTransactionRepository) Save(ctx context.Context, tx *payment.Transaction) error {
	if err := r.db.WithContext(ctx).Create(toTransactionModel(tx)).Error; err != nil {
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// Update persists the outcome fields of a transaction with optimistic locking.
func (r *GormTransactionRepository) Update(ctx context.Context, tx *payment.Transaction) error {
	model := toTransactionModel(tx)

	expectedVersion := tx.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&PaymentTransactionModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"gateway_transaction_id":   model.GatewayTransactionID,
			"gateway_response_code":    model.GatewayResponseCode,
			"gateway_response_message": model.GatewayResponseMessage,
			"gateway_response":         model.GatewayResponse,
			"status":                   model.Status,
			"refund_amount":            model.RefundAmount,
			"refunded_at":              model.RefundedAt,
			"refund_reason":            model.RefundReason,
			"fraud_score":              model.FraudScore,
			"is_flagged":               model.IsFlagged,
			"metadata":                 model.Metadata,
			"processed_at":             model.ProcessedAt,
			"version":                  model.Version,
			"updated_at":               model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update transaction: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("transaction was modified by another transaction")
	}
	return nil
}

// --- Conversion Helpers ---

func toTransactionModel(tx *payment.Transaction) *PaymentTransactionModel {
	card := tx.Card()
	owner := tx.Owner()

	var sessionID *string
	if owner.IsGuest() {
		sid := owner.SessionID()
		sessionID = &sid
	}

	return &PaymentTransactionModel{
		ID:             tx.ID(),
		TransactionID:  tx.TransactionID(),
		BookingID:      tx.BookingID(),
		UserID:         owner.UserIDPtr(),
		GuestSessionID: sessionID,

		Gateway:                tx.Gateway(),
		GatewayTransactionID:   tx.GatewayTransactionID(),
		GatewayResponseCode:    tx.GatewayResponseCode(),
		GatewayResponseMessage: tx.GatewayResponseMessage(),
		GatewayResponse:        datatypes.JSONMap(tx.GatewayRawResponse()),

		Amount:        tx.Amount(),
		Currency:      tx.Currency(),
		Type:          string(tx.Type()),
		PaymentMethod: string(tx.Method()),

		CardBrand:       string(card.Brand),
		CardLastFour:    card.LastFour,
		CardExpiryMonth: card.ExpiryMonth,
		CardExpiryYear:  card.ExpiryYear,
		CardHolderName:  card.HolderName,
		Billing:         datatypes.NewJSONType(tx.Billing()),

		Status: string(tx.Status()),

		ParentTransactionID: tx.ParentID(),
		RefundAmount:        tx.RefundAmount(),
		RefundedAt:          tx.RefundedAt(),
		RefundReason:        tx.RefundReason(),

		FraudScore: nullDecimal(tx.FraudScore()),
		IsFlagged:  tx.IsFlagged(),
		Metadata:   datatypes.JSONMap(tx.Metadata()),

		IPAddress:   tx.IPAddress(),
		UserAgent:   tx.UserAgent(),
		ProcessedAt: tx.ProcessedAt(),

		Version:   tx.Version(),
		CreatedAt: tx.CreatedAt(),
		UpdatedAt: tx.UpdatedAt(),
	}
}

func toDomainTransaction(m *PaymentTransactionModel) (*payment.Transaction, error) {
	status, err := payment.ParseTransactionStatus(m.Status)
	if err != nil {
		return nil, err
	}
	owner, err := booking.OwnerFromColumns(m.UserID, m.GuestSessionID)
	if err != nil {
		return nil, fmt.Errorf("transaction %s: %w", m.TransactionID, err)
	}

	return payment.ReconstructTransaction(
		m.ID,
		m.TransactionID,
		m.BookingID,
		owner,
		m.Gateway,
		m.GatewayTransactionID,
		m.GatewayResponseCode,
		m.GatewayResponseMessage,
		map[string]any(m.GatewayResponse),
		m.Amount,
		m.Currency,
		payment.TransactionType(m.Type),
		payment.Method(m.PaymentMethod),
		payment.MaskedCard{
			Brand:       payment.CardBrand(m.CardBrand),
			LastFour:    m.CardLastFour,
			ExpiryMonth: m.CardExpiryMonth,
			ExpiryYear:  m.CardExpiryYear,
			HolderName:  m.CardHolderName,
		},
		m.Billing.Data(),
		status,
		m.ParentTransactionID,
		m.RefundAmount,
		utcPtr(m.RefundedAt),
		m.RefundReason,
		decimalPtr(m.FraudScore),
		m.IsFlagged,
		map[string]any(m.Metadata),
		m.IPAddress,
		m.UserAgent,
		utcPtr(m.ProcessedAt),
		m.Version,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	), nil
}

func toDomainTransactions(models []PaymentTransactionModel) ([]*payment.Transaction, error) {
	txs := make([]*payment.Transaction, len(models))
	for i := range models {
		tx, err := toDomainTransaction(&models[i])
		if err != nil {
			return nil, err
		}
		txs[i] = tx
	}
	return txs, nil
}
