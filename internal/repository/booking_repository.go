package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// BookingModel is the GORM model for the bookings table.
type BookingModel struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey"`
	Reference      string     `gorm:"uniqueIndex;not null;size:20"`
	Provider       string     `gorm:"not null;size:20;index"`
	UserID         *uuid.UUID `gorm:"type:uuid;index"`
	GuestSessionID *string    `gorm:"size:64;index"`
	GuestEmail     string     `gorm:"size:255"`
	GuestPhone     string     `gorm:"size:50"`

	HolderFirstName   string `gorm:"not null;size:100"`
	HolderLastName    string `gorm:"not null;size:100"`
	HolderEmail       string `gorm:"not null;size:255"`
	HolderPhone       string `gorm:"size:50"`
	HolderCountryCode string `gorm:"size:2"`

	PropertyCode    string   `gorm:"not null;size:50;index"`
	PropertyName    string   `gorm:"not null;size:255"`
	PropertyType    string   `gorm:"size:50"`
	PropertyAddress string   `gorm:"type:text"`
	City            string   `gorm:"size:100"`
	Country         string   `gorm:"size:100"`
	DestinationCode string   `gorm:"size:20"`
	Latitude        *float64 `gorm:""`
	Longitude       *float64 `gorm:""`

	CheckIn     time.Time      `gorm:"type:date;not null;index"`
	CheckOut    time.Time      `gorm:"type:date;not null"`
	Nights      int            `gorm:"not null"`
	Rooms       int            `gorm:"not null;default:1"`
	Adults      int            `gorm:"not null;default:1"`
	Children    int            `gorm:"not null;default:0"`
	RoomDetails datatypes.JSON `gorm:""`

	BasePrice        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	MarkupAmount     decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	MarkupPercentage decimal.Decimal `gorm:"type:decimal(8,2);not null;default:0"`
	TotalPrice       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Currency         string          `gorm:"not null;size:3;default:'USD'"`
	AppliedMarkupID  *uuid.UUID      `gorm:"type:uuid"`

	Status               string              `gorm:"not null;size:20;index"`
	PaymentStatus        string              `gorm:"not null;size:20;index"`
	PaymentTransactionID string              `gorm:"size:50"`
	PaidAmount           decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	PaidAt               *time.Time          `gorm:""`
	ConfirmedAt          *time.Time          `gorm:""`

	CancelledAt           *time.Time          `gorm:""`
	CancelledBy           string              `gorm:"size:10"`
	CancellationReason    string              `gorm:"size:500"`
	RefundAmount          decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	IsRefundable          bool                `gorm:"not null;default:true"`
	FreeCancellationUntil *time.Time          `gorm:""`

	SpecialRequests string    `gorm:"size:1000"`
	Version         int64     `gorm:"not null;default:1"`
	CreatedAt       time.Time `gorm:"not null;index"`
	UpdatedAt       time.Time `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (BookingModel) TableName() string {
	return "bookings"
}

// GormBookingRepository is the GORM-based implementation of BookingRepository.
type GormBookingRepository struct {
	db *gorm.DB
}

// NewGormBookingRepository creates a new GormBookingRepository.
func NewGormBookingRepository(db *gorm.DB) *GormBookingRepository {
	return &GormBookingRepository{db: db}
}

// FindByID retrieves a booking by its unique identifier.
func (r *GormBookingRepository) FindByID(ctx context.Context, id uuid.UUID) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", id.String())
		}
		return nil, fmt.Errorf("failed to find booking by ID: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByReference retrieves a booking by its reference.
func (r *GormBookingRepository) FindByReference(ctx context.Context, reference string) (*bookingDomain.Booking, error) {
	var model BookingModel
	if err := r.db.WithContext(ctx).Where("reference = ?", reference).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("Booking", reference)
		}
		return nil, fmt.Errorf("failed to find booking by reference: %w", err)
	}
	return toDomainBooking(&model)
}

// FindByUserID retrieves bookings for a specific user with pagination.
func (r *GormBookingRepository) FindByUserID(ctx context.Context, userID uuid.UUID, filter bookingDomain.ListFilter, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	byUser := func(db *gorm.DB) *gorm.DB { return db.Where("user_id = ?", userID) }

	var total int64
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Scopes(byUser, bookingFilterScope(filter)).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count user bookings: %w", err)
	}

	var models []BookingModel
	if err := r.db.WithContext(ctx).
		Scopes(byUser, bookingFilterScope(filter), paginate(page, limit)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to find user bookings: %w", err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// ListAll retrieves all bookings with pagination (admin).
func (r *GormBookingRepository) ListAll(ctx context.Context, filter bookingDomain.ListFilter, page, limit int) ([]*bookingDomain.Booking, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Scopes(bookingFilterScope(filter)).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count bookings: %w", err)
	}

	var models []BookingModel
	if err := r.db.WithContext(ctx).
		Scopes(bookingFilterScope(filter), paginate(page, limit)).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list bookings: %w", err)
	}

	bookings, err := toDomainBookings(models)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// CountByStatus returns booking counts grouped by status (admin).
func (r *GormBookingRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	type statusCount struct {
		Status string
		Count  int64
	}
	var results []statusCount
	if err := r.db.WithContext(ctx).Model(&BookingModel{}).
		Select("status, count(*) as count").
		Group("status").
		Find(&results).Error; err != nil {
		return nil, fmt.Errorf("failed to count by status: %w", err)
	}

	counts := make(map[string]int64)
	for _, sc := range results {
		counts[sc.Status] = sc.Count
	}
	return counts, nil
}

// Save persists a new booking.
func (r *GormBookingRepository) Save(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save booking: %w", err)
	}
	return nil
}

// Update persists the mutable state of an existing booking with optimistic locking.
func (r *GormBookingRepository) Update(ctx context.Context, bk *bookingDomain.Booking) error {
	model := toBookingModel(bk)

	// IncrementVersion was already called, so the stored row is one version behind.
	expectedVersion := bk.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"user_id":                 model.UserID,
			"guest_email":             model.GuestEmail,
			"guest_phone":             model.GuestPhone,
			"status":                  model.Status,
			"payment_status":          model.PaymentStatus,
			"payment_transaction_id":  model.PaymentTransactionID,
			"paid_amount":             model.PaidAmount,
			"paid_at":                 model.PaidAt,
			"confirmed_at":            model.ConfirmedAt,
			"cancelled_at":            model.CancelledAt,
			"cancelled_by":            model.CancelledBy,
			"cancellation_reason":     model.CancellationReason,
			"refund_amount":           model.RefundAmount,
			"is_refundable":           model.IsRefundable,
			"free_cancellation_until": model.FreeCancellationUntil,
			"special_requests":        model.SpecialRequests,
			"version":                 model.Version,
			"updated_at":              model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update booking: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return domain.NewConflictError("booking was modified by another transaction")
	}

	return nil
}

// TransferGuestBookings hands every unclaimed booking of a guest session to userID.
func (r *GormBookingRepository) TransferGuestBookings(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&BookingModel{}).
		Where("guest_session_id = ? AND user_id IS NULL", sessionID).
		Updates(map[string]interface{}{
			"user_id":    userID,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to transfer guest bookings: %w", result.Error)
	}
	return result.RowsAffected, nil
}

func bookingFilterScope(filter bookingDomain.ListFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.Status != "" {
			db = db.Where("status = ?", string(filter.Status))
		}
		if filter.PaymentStatus != "" {
			db = db.Where("payment_status = ?", string(filter.PaymentStatus))
		}
		if filter.Provider != "" {
			db = db.Where("provider = ?", string(filter.Provider))
		}
		return db
	}
}

// --- Conversion Helpers ---

func toBookingModel(bk *bookingDomain.Booking) *BookingModel {
	holder := bk.Holder()
	prop := bk.Property()
	stay := bk.Stay()

	var roomDetails datatypes.JSON
	if len(bk.RoomDetails()) > 0 {
		roomDetails = datatypes.JSON(bk.RoomDetails())
	}

	return &BookingModel{
		ID:             bk.ID(),
		Reference:      bk.Reference(),
		Provider:       string(bk.Provider()),
		UserID:         bk.Owner().UserIDPtr(),
		GuestSessionID: bk.OriginSessionID(),
		GuestEmail:     bk.GuestEmail(),
		GuestPhone:     bk.GuestPhone(),

		HolderFirstName:   holder.FirstName,
		HolderLastName:    holder.LastName,
		HolderEmail:       holder.Email,
		HolderPhone:       holder.Phone,
		HolderCountryCode: holder.CountryCode,

		PropertyCode:    prop.Code,
		PropertyName:    prop.Name,
		PropertyType:    prop.Type,
		PropertyAddress: prop.Address,
		City:            prop.City,
		Country:         prop.Country,
		DestinationCode: prop.DestinationCode,
		Latitude:        prop.Latitude,
		Longitude:       prop.Longitude,

		CheckIn:     stay.CheckIn,
		CheckOut:    stay.CheckOut,
		Nights:      stay.Nights(),
		Rooms:       stay.Rooms,
		Adults:      stay.Adults,
		Children:    stay.Children,
		RoomDetails: roomDetails,

		BasePrice:        bk.BasePrice(),
		MarkupAmount:     bk.MarkupAmount(),
		MarkupPercentage: bk.MarkupPercentage(),
		TotalPrice:       bk.TotalPrice(),
		Currency:         bk.Currency(),
		AppliedMarkupID:  bk.AppliedRuleID(),

		Status:               string(bk.Status()),
		PaymentStatus:        string(bk.PaymentStatus()),
		PaymentTransactionID: bk.PaymentTransactionID(),
		PaidAmount:           nullDecimal(bk.PaidAmount()),
		PaidAt:               bk.PaidAt(),
		ConfirmedAt:          bk.ConfirmedAt(),

		CancelledAt:           bk.CancelledAt(),
		CancelledBy:           bk.CancelledBy(),
		CancellationReason:    bk.CancellationReason(),
		RefundAmount:          nullDecimal(bk.RefundAmount()),
		IsRefundable:          bk.IsRefundable(),
		FreeCancellationUntil: bk.FreeCancellationUntil(),

		SpecialRequests: bk.SpecialRequests(),
		Version:         bk.Version(),
		CreatedAt:       bk.CreatedAt(),
		UpdatedAt:       bk.UpdatedAt(),
	}
}

func toDomainBooking(m *BookingModel) (*bookingDomain.Booking, error) {
	status, err := bookingDomain.ParseBookingStatus(m.Status)
	if err != nil {
		return nil, err
	}
	paymentStatus := bookingDomain.PaymentStatus(m.PaymentStatus)
	if !paymentStatus.IsValid() {
		return nil, fmt.Errorf("invalid payment status: %s", m.PaymentStatus)
	}
	owner, err := bookingDomain.OwnerFromColumns(m.UserID, m.GuestSessionID)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", m.Reference, err)
	}

	var roomDetails json.RawMessage
	if len(m.RoomDetails) > 0 {
		roomDetails = json.RawMessage(m.RoomDetails)
	}

	return bookingDomain.ReconstructBooking(
		m.ID,
		m.Reference,
		markup.Provider(m.Provider),
		owner,
		m.GuestSessionID,
		m.GuestEmail,
		m.GuestPhone,
		bookingDomain.Holder{
			FirstName:   m.HolderFirstName,
			LastName:    m.HolderLastName,
			Email:       m.HolderEmail,
			Phone:       m.HolderPhone,
			CountryCode: m.HolderCountryCode,
		},
		bookingDomain.PropertySnapshot{
			Code:            m.PropertyCode,
			Name:            m.PropertyName,
			Type:            m.PropertyType,
			Address:         m.PropertyAddress,
			City:            m.City,
			Country:         m.Country,
			DestinationCode: m.DestinationCode,
			Latitude:        m.Latitude,
			Longitude:       m.Longitude,
		},
		bookingDomain.Stay{
			CheckIn:  m.CheckIn.UTC(),
			CheckOut: m.CheckOut.UTC(),
			Rooms:    m.Rooms,
			Adults:   m.Adults,
			Children: m.Children,
		},
		roomDetails,
		m.BasePrice,
		m.MarkupAmount,
		m.MarkupPercentage,
		m.TotalPrice,
		m.Currency,
		m.AppliedMarkupID,
		status,
		paymentStatus,
		m.PaymentTransactionID,
		decimalPtr(m.PaidAmount),
		utcPtr(m.PaidAt),
		utcPtr(m.ConfirmedAt),
		utcPtr(m.CancelledAt),
		m.CancelledBy,
		m.CancellationReason,
		decimalPtr(m.RefundAmount),
		m.IsRefundable,
		utcPtr(m.FreeCancellationUntil),
		m.SpecialRequests,
		m.Version,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	), nil
}

func toDomainBookings(models []BookingModel) ([]*bookingDomain.Booking, error) {
	bookings := make([]*bookingDomain.Booking, len(models))
	for i := range models {
		bk, err := toDomainBooking(&models[i])
		if err != nil {
			return nil, err
		}
		bookings[i] = bk
	}
	return bookings, nil
}
