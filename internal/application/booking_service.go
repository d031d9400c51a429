package application

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	bookingDomain "github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/guest"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/domain/uow"
	"github.com/pkgtravel/service-booking/internal/events"
	"github.com/pkgtravel/service-booking/pkg/database"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/pkgtravel/service-booking/pkg/kafka"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxReferenceAttempts = 3

// HolderRequest is the lead guest named on a reservation.
type HolderRequest struct {
	FirstName   string `json:"first_name" binding:"required,max=100"`
	LastName    string `json:"last_name" binding:"required,max=100"`
	Email       string `json:"email" binding:"required,email"`
	Phone       string `json:"phone" binding:"required,max=20"`
	CountryCode string `json:"country_code" binding:"omitempty,len=2"`
}

// PropertyRequest is the listing as the provider returned it.
type PropertyRequest struct {
	Code            string   `json:"code" binding:"required"`
	Name            string   `json:"name" binding:"required"`
	Type            string   `json:"type"`
	Address         string   `json:"address"`
	City            string   `json:"city"`
	Country         string   `json:"country"`
	DestinationCode string   `json:"destination_code"`
	Latitude        *float64 `json:"latitude"`
	Longitude       *float64 `json:"longitude"`
}

// CreateBookingRequest holds the data needed to create a new booking.
type CreateBookingRequest struct {
	Provider              string          `json:"provider" binding:"required,oneof=hotelbeds ownerrez"`
	Holder                HolderRequest   `json:"holder" binding:"required"`
	Property              PropertyRequest `json:"property" binding:"required"`
	CheckIn               string          `json:"check_in" binding:"required"`
	CheckOut              string          `json:"check_out" binding:"required"`
	Rooms                 int             `json:"rooms" binding:"required,min=1"`
	Adults                int             `json:"adults" binding:"required,min=1"`
	Children              int             `json:"children" binding:"min=0"`
	RoomDetails           json.RawMessage `json:"room_details"`
	BasePrice             decimal.Decimal `json:"base_price"`
	Currency              string          `json:"currency"`
	SpecialRequests       string          `json:"special_requests" binding:"max=1000"`
	FreeCancellationUntil *string         `json:"free_cancellation_until"`
}

// CancelBookingRequest holds the optional reason for a cancellation.
type CancelBookingRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

// ListBookingsRequest filters booking listings.
type ListBookingsRequest struct {
	Status        string `form:"status"`
	PaymentStatus string `form:"payment_status"`
	Provider      string `form:"provider"`
}

// BookingDTO is the response representation of a booking.
type BookingDTO struct {
	ID                    uuid.UUID                      `json:"id"`
	Reference             string                         `json:"booking_reference"`
	Provider              string                         `json:"provider"`
	UserID                *uuid.UUID                     `json:"user_id,omitempty"`
	IsGuestBooking        bool                           `json:"is_guest_booking"`
	Holder                bookingDomain.Holder           `json:"holder"`
	Property              bookingDomain.PropertySnapshot `json:"property"`
	CheckIn               string                         `json:"check_in"`
	CheckOut              string                         `json:"check_out"`
	Nights                int                            `json:"nights"`
	Rooms                 int                            `json:"rooms"`
	Adults                int                            `json:"adults"`
	Children              int                            `json:"children"`
	RoomDetails           json.RawMessage                `json:"room_details,omitempty"`
	BasePrice             decimal.Decimal                `json:"base_price"`
	MarkupAmount          decimal.Decimal                `json:"markup_amount"`
	MarkupPercentage      decimal.Decimal                `json:"markup_percentage"`
	TotalPrice            decimal.Decimal                `json:"total_price"`
	Currency              string                         `json:"currency"`
	AppliedMarkupID       *uuid.UUID                     `json:"applied_markup_id,omitempty"`
	Status                string                         `json:"booking_status"`
	PaymentStatus         string                         `json:"payment_status"`
	PaymentTransactionID  string                         `json:"payment_transaction_id,omitempty"`
	PaidAmount            *decimal.Decimal               `json:"paid_amount,omitempty"`
	PaidAt                *time.Time                     `json:"paid_at,omitempty"`
	ConfirmedAt           *time.Time                     `json:"confirmed_at,omitempty"`
	CancelledAt           *time.Time                     `json:"cancelled_at,omitempty"`
	CancelledBy           string                         `json:"cancelled_by,omitempty"`
	CancellationReason    string                         `json:"cancellation_reason,omitempty"`
	RefundAmount          *decimal.Decimal               `json:"refund_amount,omitempty"`
	IsRefundable          bool                           `json:"is_refundable"`
	FreeCancellationUntil *string                        `json:"free_cancellation_until,omitempty"`
	SpecialRequests       string                         `json:"special_requests,omitempty"`
	Version               int64                          `json:"version"`
	CreatedAt             time.Time                      `json:"created_at"`
	UpdatedAt             time.Time                      `json:"updated_at"`
}

// GuestBookingSummaryDTO is what a guest sees when verifying a booking.
type GuestBookingSummaryDTO struct {
	Reference     string          `json:"booking_reference"`
	Status        string          `json:"booking_status"`
	PaymentStatus string          `json:"payment_status"`
	PropertyName  string          `json:"property_name"`
	HolderName    string          `json:"holder_name"`
	CheckIn       string          `json:"check_in"`
	CheckOut      string          `json:"check_out"`
	Nights        int             `json:"nights"`
	TotalPrice    decimal.Decimal `json:"total_price"`
	Currency      string          `json:"currency"`
}

// CancellationQuoteDTO tells the requester what a cancellation would cost now.
type CancellationQuoteDTO struct {
	Reference           string          `json:"booking_reference"`
	TotalPrice          decimal.Decimal `json:"total_price"`
	CancellationFee     decimal.Decimal `json:"cancellation_fee"`
	RefundEstimate      decimal.Decimal `json:"refund_estimate"`
	DaysUntilCheckIn    int             `json:"days_until_check_in"`
	IsCancellable       bool            `json:"is_cancellable"`
	HasFreeCancellation bool            `json:"has_free_cancellation"`
	Currency            string          `json:"currency"`
}

// BookingStatsDTO holds aggregate booking statistics.
type BookingStatsDTO struct {
	TotalBookings int64            `json:"total_bookings"`
	ByStatus      map[string]int64 `json:"by_status"`
}

// BookingOptions carries the booking defaults taken from configuration.
type BookingOptions struct {
	ReferencePrefix string
	DefaultCurrency string
}

// Quoter prices a stay.
type Quoter interface {
	Quote(ctx context.Context, pc markup.PricingContext) (markup.Result, error)
}

// BookingService is the application service orchestrating booking use cases.
type BookingService struct {
	repo    bookingDomain.BookingRepository
	tx      uow.Transactor
	pricing Quoter
	policy  bookingDomain.CancellationPolicy
	opts    BookingOptions
	events  eventPublisher
	logger  *zap.Logger
	now     func() time.Time
}

// NewBookingService creates a new BookingService.
func NewBookingService(
	repo bookingDomain.BookingRepository,
	tx uow.Transactor,
	pricing Quoter,
	policy bookingDomain.CancellationPolicy,
	opts BookingOptions,
	producer kafka.Publisher,
	logger *zap.Logger,
) *BookingService {
	if opts.DefaultCurrency == "" {
		opts.DefaultCurrency = domain.CurrencyUSD
	}
	return &BookingService{
		repo:    repo,
		tx:      tx,
		pricing: pricing,
		policy:  policy,
		opts:    opts,
		events:  eventPublisher{producer: producer, logger: logger},
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateBooking prices and stores a new pending booking. For guests the
// session's contact details and booking counter change in the same commit.
func (s *BookingService) CreateBooking(ctx context.Context, owner bookingDomain.Owner, req CreateBookingRequest) (*BookingDTO, error) {
	if err := owner.Validate(); err != nil {
		return nil, err
	}

	checkIn, err := parseDate("check_in", req.CheckIn)
	if err != nil {
		return nil, err
	}
	checkOut, err := parseDate("check_out", req.CheckOut)
	if err != nil {
		return nil, err
	}
	freeUntil, err := parseOptionalDate("free_cancellation_until", req.FreeCancellationUntil)
	if err != nil {
		return nil, err
	}
	if err := validateBasePrice(req.BasePrice); err != nil {
		return nil, err
	}

	provider, err := markup.ParseProvider(req.Provider)
	if err != nil {
		return nil, domain.NewValidationError(err.Error())
	}

	quote, err := s.pricing.Quote(ctx, markup.PricingContext{
		BasePrice:       req.BasePrice,
		Provider:        provider,
		PropertyType:    req.Property.Type,
		DestinationCode: strings.ToUpper(req.Property.DestinationCode),
		CheckIn:         checkIn,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to price booking: %w", err)
	}

	currency := req.Currency
	if currency == "" {
		currency = s.opts.DefaultCurrency
	}
	params := bookingDomain.NewBookingParams{
		Owner:    owner,
		Provider: provider,
		Holder: bookingDomain.Holder{
			FirstName:   strings.TrimSpace(req.Holder.FirstName),
			LastName:    strings.TrimSpace(req.Holder.LastName),
			Email:       strings.TrimSpace(req.Holder.Email),
			Phone:       strings.TrimSpace(req.Holder.Phone),
			CountryCode: strings.ToUpper(req.Holder.CountryCode),
		},
		Property: bookingDomain.PropertySnapshot{
			Code:            req.Property.Code,
			Name:            req.Property.Name,
			Type:            req.Property.Type,
			Address:         req.Property.Address,
			City:            req.Property.City,
			Country:         req.Property.Country,
			DestinationCode: strings.ToUpper(req.Property.DestinationCode),
			Latitude:        req.Property.Latitude,
			Longitude:       req.Property.Longitude,
		},
		Stay: bookingDomain.Stay{
			CheckIn:  checkIn,
			CheckOut: checkOut,
			Rooms:    req.Rooms,
			Adults:   req.Adults,
			Children: req.Children,
		},
		RoomDetails:           req.RoomDetails,
		Quote:                 quote,
		Currency:              currency,
		SpecialRequests:       req.SpecialRequests,
		FreeCancellationUntil: freeUntil,
		ReferencePrefix:       s.opts.ReferencePrefix,
		Now:                   s.now(),
	}

	var bk *bookingDomain.Booking
	for attempt := 1; ; attempt++ {
		bk, err = bookingDomain.NewBooking(params)
		if err != nil {
			return nil, err
		}
		err = s.tx.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
			if owner.IsGuest() {
				if err := recordGuestBooking(ctx, repos.Guests(), owner.SessionID(), params.Holder, params.Now); err != nil {
					return err
				}
			}
			return repos.Bookings().Save(ctx, bk)
		})
		if err == nil {
			break
		}
		// A reference collision rolls back the whole unit; try a fresh reference.
		if database.IsUniqueViolation(err) && attempt < maxReferenceAttempts {
			s.logger.Warn("booking reference collision, retrying", zap.String("booking_reference", bk.Reference()))
			continue
		}
		return nil, fmt.Errorf("failed to save booking: %w", err)
	}

	s.publishBookingCreated(ctx, bk)

	result := toBookingDTO(bk)
	return &result, nil
}

func recordGuestBooking(ctx context.Context, repo guest.SessionRepository, sessionID string, h bookingDomain.Holder, now time.Time) error {
	session, err := repo.FindBySessionID(ctx, sessionID)
	if err != nil {
		return err
	}
	contact := guest.Contact{
		Email:     h.Email,
		FirstName: h.FirstName,
		LastName:  h.LastName,
		Phone:     h.Phone,
		Country:   h.CountryCode,
	}
	if err := session.RecordBooking(contact, now); err != nil {
		return err
	}
	session.IncrementVersion()
	return repo.Update(ctx, session)
}

// GetBooking retrieves a booking by reference. A booking the requester may
// not see is reported as not found.
func (s *BookingService) GetBooking(ctx context.Context, reference string, requester bookingDomain.Requester) (*BookingDTO, error) {
	bk, err := s.findAccessible(ctx, s.repo, reference, requester)
	if err != nil {
		return nil, err
	}
	result := toBookingDTO(bk)
	return &result, nil
}

// VerifyGuestBooking returns a public summary when email matches the guest
// booking's email.
func (s *BookingService) VerifyGuestBooking(ctx context.Context, reference, email string) (*GuestBookingSummaryDTO, error) {
	bk, err := s.findAccessible(ctx, s.repo, reference, bookingDomain.GuestRequester(strings.TrimSpace(email)))
	if err != nil {
		return nil, err
	}
	stay := bk.Stay()
	return &GuestBookingSummaryDTO{
		Reference:     bk.Reference(),
		Status:        string(bk.Status()),
		PaymentStatus: string(bk.PaymentStatus()),
		PropertyName:  bk.Property().Name,
		HolderName:    bk.Holder().FullName(),
		CheckIn:       stay.CheckIn.Format(dateLayout),
		CheckOut:      stay.CheckOut.Format(dateLayout),
		Nights:        bk.Nights(),
		TotalPrice:    bk.TotalPrice(),
		Currency:      bk.Currency(),
	}, nil
}

// ListUserBookings returns a paginated list of a user's bookings, newest first.
func (s *BookingService) ListUserBookings(ctx context.Context, userID uuid.UUID, req ListBookingsRequest, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	filter, err := buildListFilter(req)
	if err != nil {
		return nil, err
	}

	page, limit = normalizePage(page, limit)
	bookings, total, err := s.repo.FindByUserID(ctx, userID, filter, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// CancelBooking cancels a booking on behalf of requester. A paid booking
// records the refund due after the cancellation fee.
func (s *BookingService) CancelBooking(ctx context.Context, reference string, requester bookingDomain.Requester, reason string) (*BookingDTO, error) {
	bk, err := s.transition(ctx, reference, requester, func(bk *bookingDomain.Booking, now time.Time) error {
		return bk.Cancel(requester, reason, s.policy, now)
	})
	if err != nil {
		return nil, err
	}

	evt := events.BookingCancelledEvent{
		BookingID:   bk.ID(),
		Reference:   bk.Reference(),
		CancelledBy: bk.CancelledBy(),
		Reason:      bk.CancellationReason(),
		OccurredAt:  time.Now().UTC(),
	}
	if bk.RefundAmount() != nil {
		evt.RefundAmount = bk.RefundAmount().StringFixed(2)
	}
	s.events.publishEvent(ctx, events.TopicBookingEvents, events.BookingCancelled, bk.ID().String(), evt)

	result := toBookingDTO(bk)
	return &result, nil
}

// GetCancellationQuote reports the fee a cancellation would incur now.
func (s *BookingService) GetCancellationQuote(ctx context.Context, reference string, requester bookingDomain.Requester) (*CancellationQuoteDTO, error) {
	bk, err := s.findAccessible(ctx, s.repo, reference, requester)
	if err != nil {
		return nil, err
	}

	now := s.now()
	fee := bk.CancellationFee(s.policy, now)
	refund := decimal.Zero
	if bk.PaidAmount() != nil {
		refund = bk.PaidAmount().Sub(fee)
		if refund.IsNegative() {
			refund = decimal.Zero
		}
	}
	days := bookingDomain.CancellationParams{CheckIn: bk.Stay().CheckIn, Now: now}.DaysUntilCheckIn()

	return &CancellationQuoteDTO{
		Reference:           bk.Reference(),
		TotalPrice:          bk.TotalPrice(),
		CancellationFee:     fee,
		RefundEstimate:      refund,
		DaysUntilCheckIn:    days,
		IsCancellable:       bk.IsCancellable(now),
		HasFreeCancellation: bk.HasFreeCancellation(now),
		Currency:            bk.Currency(),
	}, nil
}

// CompleteBooking closes a confirmed booking after the stay (admin).
func (s *BookingService) CompleteBooking(ctx context.Context, reference string, admin uuid.UUID) (*BookingDTO, error) {
	return s.adminTransition(ctx, reference, admin, func(bk *bookingDomain.Booking, now time.Time) error {
		return bk.Complete(now)
	})
}

// MarkNoShow closes a confirmed booking whose guest never arrived (admin).
func (s *BookingService) MarkNoShow(ctx context.Context, reference string, admin uuid.UUID) (*BookingDTO, error) {
	return s.adminTransition(ctx, reference, admin, func(bk *bookingDomain.Booking, now time.Time) error {
		return bk.MarkNoShow(now)
	})
}

// RejectBooking declines a pending booking (admin).
func (s *BookingService) RejectBooking(ctx context.Context, reference string, admin uuid.UUID, reason string) (*BookingDTO, error) {
	return s.adminTransition(ctx, reference, admin, func(bk *bookingDomain.Booking, now time.Time) error {
		return bk.Reject(reason, now)
	})
}

// ListAllBookings returns a paginated list of all bookings (admin).
func (s *BookingService) ListAllBookings(ctx context.Context, req ListBookingsRequest, page, limit int) (*domain.PaginatedResult[BookingDTO], error) {
	filter, err := buildListFilter(req)
	if err != nil {
		return nil, err
	}

	page, limit = normalizePage(page, limit)
	bookings, total, err := s.repo.ListAll(ctx, filter, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}

	result := domain.NewPaginatedResult(toBookingDTOs(bookings), total, page, limit)
	return &result, nil
}

// GetBookingStats returns aggregate booking statistics (admin).
func (s *BookingService) GetBookingStats(ctx context.Context) (*BookingStatsDTO, error) {
	counts, err := s.repo.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get booking stats: %w", err)
	}

	var total int64
	for _, c := range counts {
		total += c
	}

	return &BookingStatsDTO{
		TotalBookings: total,
		ByStatus:      counts,
	}, nil
}

// --- Helpers ---

func (s *BookingService) findAccessible(
	ctx context.Context,
	repo bookingDomain.BookingRepository,
	reference string,
	requester bookingDomain.Requester,
) (*bookingDomain.Booking, error) {
	bk, err := repo.FindByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !bk.AccessibleBy(requester) {
		return nil, domain.NewNotFoundError("Booking", reference)
	}
	return bk, nil
}

// transition applies fn to a booking the requester may act on and stores it.
func (s *BookingService) transition(
	ctx context.Context,
	reference string,
	requester bookingDomain.Requester,
	fn func(bk *bookingDomain.Booking, now time.Time) error,
) (*bookingDomain.Booking, error) {
	var bk *bookingDomain.Booking
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		b, err := s.findAccessible(ctx, repos.Bookings(), reference, requester)
		if err != nil {
			return err
		}
		if err := fn(b, s.now()); err != nil {
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
		return nil, fmt.Errorf("failed to update booking %s: %w", reference, err)
	}
	return bk, nil
}

func (s *BookingService) adminTransition(
	ctx context.Context,
	reference string,
	admin uuid.UUID,
	fn func(bk *bookingDomain.Booking, now time.Time) error,
) (*BookingDTO, error) {
	bk, err := s.transition(ctx, reference, bookingDomain.AdminRequester(admin), fn)
	if err != nil {
		return nil, err
	}
	s.logger.Info("booking status changed by admin",
		zap.String("booking_reference", bk.Reference()),
		zap.String("status", string(bk.Status())),
		zap.String("admin_id", admin.String()),
	)
	result := toBookingDTO(bk)
	return &result, nil
}

func buildListFilter(req ListBookingsRequest) (bookingDomain.ListFilter, error) {
	var filter bookingDomain.ListFilter
	if req.Status != "" {
		status, err := bookingDomain.ParseBookingStatus(req.Status)
		if err != nil {
			return filter, domain.NewValidationError(err.Error())
		}
		filter.Status = status
	}
	if req.PaymentStatus != "" {
		ps := bookingDomain.PaymentStatus(req.PaymentStatus)
		if !ps.IsValid() {
			return filter, domain.NewValidationError(fmt.Sprintf("invalid payment status: %s", req.PaymentStatus))
		}
		filter.PaymentStatus = ps
	}
	if req.Provider != "" {
		provider, err := markup.ParseProvider(req.Provider)
		if err != nil {
			return filter, domain.NewValidationError(err.Error())
		}
		filter.Provider = provider
	}
	return filter, nil
}

func toBookingDTOs(bookings []*bookingDomain.Booking) []BookingDTO {
	dtos := make([]BookingDTO, len(bookings))
	for i, bk := range bookings {
		dtos[i] = toBookingDTO(bk)
	}
	return dtos
}

func toBookingDTO(bk *bookingDomain.Booking) BookingDTO {
	stay := bk.Stay()
	return BookingDTO{
		ID:                    bk.ID(),
		Reference:             bk.Reference(),
		Provider:              string(bk.Provider()),
		UserID:                bk.Owner().UserIDPtr(),
		IsGuestBooking:        bk.Owner().IsGuest(),
		Holder:                bk.Holder(),
		Property:              bk.Property(),
		CheckIn:               stay.CheckIn.Format(dateLayout),
		CheckOut:              stay.CheckOut.Format(dateLayout),
		Nights:                bk.Nights(),
		Rooms:                 stay.Rooms,
		Adults:                stay.Adults,
		Children:              stay.Children,
		RoomDetails:           bk.RoomDetails(),
		BasePrice:             bk.BasePrice(),
		MarkupAmount:          bk.MarkupAmount(),
		MarkupPercentage:      bk.MarkupPercentage(),
		TotalPrice:            bk.TotalPrice(),
		Currency:              bk.Currency(),
		AppliedMarkupID:       bk.AppliedRuleID(),
		Status:                string(bk.Status()),
		PaymentStatus:         string(bk.PaymentStatus()),
		PaymentTransactionID:  bk.PaymentTransactionID(),
		PaidAmount:            bk.PaidAmount(),
		PaidAt:                bk.PaidAt(),
		ConfirmedAt:           bk.ConfirmedAt(),
		CancelledAt:           bk.CancelledAt(),
		CancelledBy:           bk.CancelledBy(),
		CancellationReason:    bk.CancellationReason(),
		RefundAmount:          bk.RefundAmount(),
		IsRefundable:          bk.IsRefundable(),
		FreeCancellationUntil: formatDate(bk.FreeCancellationUntil()),
		SpecialRequests:       bk.SpecialRequests(),
		Version:               bk.Version(),
		CreatedAt:             bk.CreatedAt(),
		UpdatedAt:             bk.UpdatedAt(),
	}
}

func (s *BookingService) publishBookingCreated(ctx context.Context, bk *bookingDomain.Booking) {
	stay := bk.Stay()
	evt := events.BookingCreatedEvent{
		BookingID:  bk.ID(),
		Reference:  bk.Reference(),
		Provider:   string(bk.Provider()),
		UserID:     bk.Owner().UserIDPtr(),
		Guest:      bk.Owner().IsGuest(),
		TotalPrice: bk.TotalPrice().StringFixed(2),
		Currency:   bk.Currency(),
		CheckIn:    stay.CheckIn.Format(dateLayout),
		CheckOut:   stay.CheckOut.Format(dateLayout),
		OccurredAt: time.Now().UTC(),
	}
	s.events.publishEvent(ctx, events.TopicBookingEvents, events.BookingCreated, bk.ID().String(), evt)
}
