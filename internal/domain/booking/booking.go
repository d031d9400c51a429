package booking

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
)

const (
	referenceChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	referenceLength = 12
	// DefaultReferencePrefix tags every booking reference.
	DefaultReferencePrefix = "PKG"
	// MaxReferenceLength is the width of the stored reference column.
	MaxReferenceLength = 20
	// MaxReferencePrefixLength leaves room for the separator and random part.
	MaxReferencePrefixLength = MaxReferenceLength - 1 - referenceLength
)

var (
	// ErrAlreadyCancelled is returned when cancelling a cancelled booking.
	ErrAlreadyCancelled = domain.NewConflictCodeError("ALREADY_CANCELLED", "booking already cancelled")
	// ErrAlreadyPaid is returned when charging a booking that is already paid.
	ErrAlreadyPaid = domain.NewConflictCodeError("ALREADY_PAID", "booking already paid")
)

// Booking is the aggregate root for the booking domain.
type Booking struct {
	id              uuid.UUID
	reference       string
	provider        markup.Provider
	owner           Owner
	originSessionID *string
	guestEmail      string
	guestPhone      string
	holder          Holder
	property        PropertySnapshot
	stay            Stay
	roomDetails     json.RawMessage

	basePrice        decimal.Decimal
	markupAmount     decimal.Decimal
	markupPercentage decimal.Decimal
	totalPrice       decimal.Decimal
	currency         string
	appliedRuleID    *uuid.UUID

	status               BookingStatus
	paymentStatus        PaymentStatus
	paymentTransactionID string
	paidAmount           *decimal.Decimal
	paidAt               *time.Time
	confirmedAt          *time.Time

	cancelledAt           *time.Time
	cancelledBy           string
	cancellationReason    string
	refundAmount          *decimal.Decimal
	isRefundable          bool
	freeCancellationUntil *time.Time

	specialRequests string

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// ValidateReferencePrefix rejects prefixes that would not fit the stored reference.
func ValidateReferencePrefix(prefix string) error {
	if len(prefix) > MaxReferencePrefixLength {
		return fmt.Errorf("reference prefix %q is longer than %d characters", prefix, MaxReferencePrefixLength)
	}
	if strings.ContainsAny(prefix, " -") {
		return fmt.Errorf("reference prefix %q must not contain spaces or dashes", prefix)
	}
	return nil
}

// GenerateReference creates a reference in the format "<prefix>-XXXXXXXXXXXX".
// Twelve symbols from a 32-character alphabet carry 60 bits of randomness.
func GenerateReference(prefix string) (string, error) {
	if prefix == "" {
		prefix = DefaultReferencePrefix
	}
	result := make([]byte, referenceLength)
	for i := range result {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(referenceChars))))
		if err != nil {
			return "", fmt.Errorf("failed to generate booking reference: %w", err)
		}
		result[i] = referenceChars[n.Int64()]
	}
	return prefix + "-" + string(result), nil
}

// NewBookingParams holds everything needed to open a booking.
type NewBookingParams struct {
	Owner                 Owner
	Provider              markup.Provider
	Holder                Holder
	Property              PropertySnapshot
	Stay                  Stay
	RoomDetails           json.RawMessage
	Quote                 markup.Result
	Currency              string
	SpecialRequests       string
	FreeCancellationUntil *time.Time
	ReferencePrefix       string
	// AllowBackdated lifts the check-in >= today rule for back-office entry.
	AllowBackdated bool
	Now            time.Time
}

// NewBooking creates a new Booking aggregate in pending/pending.
func NewBooking(p NewBookingParams) (*Booking, error) {
	if err := p.Owner.Validate(); err != nil {
		return nil, err
	}
	if !p.Provider.IsValidSource() {
		return nil, domain.NewValidationError(fmt.Sprintf("invalid provider: %s", p.Provider))
	}
	if err := validateHolder(p.Holder); err != nil {
		return nil, err
	}
	if strings.TrimSpace(p.Property.Code) == "" {
		return nil, domain.NewValidationError("property code is required")
	}
	if strings.TrimSpace(p.Property.Name) == "" {
		return nil, domain.NewValidationError("property name is required")
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	if err := validateStay(p.Stay, now, p.AllowBackdated); err != nil {
		return nil, err
	}
	if p.Quote.BasePrice.IsNegative() {
		return nil, domain.NewValidationError("base price must not be negative")
	}
	if len(p.SpecialRequests) > 1000 {
		return nil, domain.NewValidationError("special requests must be at most 1000 characters")
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if currency == "" {
		currency = domain.CurrencyUSD
	}
	if len(currency) != 3 {
		return nil, domain.NewValidationError("currency must be a 3-letter code")
	}

	reference, err := GenerateReference(p.ReferencePrefix)
	if err != nil {
		return nil, err
	}

	b := &Booking{
		id:                    uuid.New(),
		reference:             reference,
		provider:              p.Provider,
		owner:                 p.Owner,
		holder:                p.Holder,
		property:              p.Property,
		stay:                  p.Stay,
		roomDetails:           p.RoomDetails,
		basePrice:             p.Quote.BasePrice,
		markupAmount:          p.Quote.MarkupAmount,
		markupPercentage:      p.Quote.MarkupPercentage,
		totalPrice:            p.Quote.BasePrice.Add(p.Quote.MarkupAmount),
		currency:              currency,
		status:                StatusPending,
		paymentStatus:         PaymentPending,
		freeCancellationUntil: p.FreeCancellationUntil,
		specialRequests:       strings.TrimSpace(p.SpecialRequests),
		version:               1,
		createdAt:             now,
		updatedAt:             now,
	}
	if p.Quote.AppliedRule != nil {
		id := p.Quote.AppliedRule.ID
		b.appliedRuleID = &id
	}
	if p.Owner.IsGuest() {
		sid := p.Owner.SessionID()
		b.originSessionID = &sid
		b.guestEmail = p.Holder.Email
		b.guestPhone = p.Holder.Phone
	}
	return b, nil
}

func validateHolder(h Holder) error {
	if strings.TrimSpace(h.FirstName) == "" || strings.TrimSpace(h.LastName) == "" {
		return domain.NewValidationError("holder first and last name are required")
	}
	if !strings.Contains(h.Email, "@") {
		return domain.NewValidationError("holder email is invalid")
	}
	return nil
}

func validateStay(s Stay, now time.Time, allowBackdated bool) error {
	if s.CheckIn.IsZero() || s.CheckOut.IsZero() {
		return domain.NewValidationError("check-in and check-out dates are required")
	}
	if s.Nights() <= 0 {
		return domain.NewValidationError("check-out must be after check-in")
	}
	if !allowBackdated && markup.DateOnly(s.CheckIn).Before(markup.DateOnly(now)) {
		return domain.NewValidationError("check-in must not be in the past")
	}
	if s.Rooms < 1 {
		return domain.NewValidationError("at least one room is required")
	}
	if s.Adults < 1 {
		return domain.NewValidationError("at least one adult is required")
	}
	if s.Children < 0 {
		return domain.NewValidationError("children must not be negative")
	}
	return nil
}

// ReconstructBooking rebuilds a Booking from persistence data (no validation).
func ReconstructBooking(
	id uuid.UUID,
	reference string,
	provider markup.Provider,
	owner Owner,
	originSessionID *string,
	guestEmail string,
	guestPhone string,
	holder Holder,
	property PropertySnapshot,
	stay Stay,
	roomDetails json.RawMessage,
	basePrice decimal.Decimal,
	markupAmount decimal.Decimal,
	markupPercentage decimal.Decimal,
	totalPrice decimal.Decimal,
	currency string,
	appliedRuleID *uuid.UUID,
	status BookingStatus,
	paymentStatus PaymentStatus,
	paymentTransactionID string,
	paidAmount *decimal.Decimal,
	paidAt *time.Time,
	confirmedAt *time.Time,
	cancelledAt *time.Time,
	cancelledBy string,
	cancellationReason string,
	refundAmount *decimal.Decimal,
	isRefundable bool,
	freeCancellationUntil *time.Time,
	specialRequests string,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Booking {
	return &Booking{
		id:                    id,
		reference:             reference,
		provider:              provider,
		owner:                 owner,
		originSessionID:       originSessionID,
		guestEmail:            guestEmail,
		guestPhone:            guestPhone,
		holder:                holder,
		property:              property,
		stay:                  stay,
		roomDetails:           roomDetails,
		basePrice:             basePrice,
		markupAmount:          markupAmount,
		markupPercentage:      markupPercentage,
		totalPrice:            totalPrice,
		currency:              currency,
		appliedRuleID:         appliedRuleID,
		status:                status,
		paymentStatus:         paymentStatus,
		paymentTransactionID:  paymentTransactionID,
		paidAmount:            paidAmount,
		paidAt:                paidAt,
		confirmedAt:           confirmedAt,
		cancelledAt:           cancelledAt,
		cancelledBy:           cancelledBy,
		cancellationReason:    cancellationReason,
		refundAmount:          refundAmount,
		isRefundable:          isRefundable,
		freeCancellationUntil: freeCancellationUntil,
		specialRequests:       specialRequests,
		version:               version,
		createdAt:             createdAt,
		updatedAt:             updatedAt,
	}
}

// --- Getters ---

// ID returns the booking's unique identifier.
func (b *Booking) ID() uuid.UUID { return b.id }

// Reference returns the human-shareable booking reference.
func (b *Booking) Reference() string { return b.reference }

// Provider returns the upstream inventory source.
func (b *Booking) Provider() markup.Provider { return b.provider }

// Owner returns who the booking belongs to.
func (b *Booking) Owner() Owner { return b.owner }

// OriginSessionID returns the guest session the booking was made in, if any.
// It survives conversion of the session to a user account.
func (b *Booking) OriginSessionID() *string { return b.originSessionID }

func (b *Booking) GuestEmail() string                { return b.guestEmail }
func (b *Booking) GuestPhone() string                { return b.guestPhone }
func (b *Booking) Holder() Holder                    { return b.holder }
func (b *Booking) Property() PropertySnapshot        { return b.property }
func (b *Booking) Stay() Stay                        { return b.stay }
func (b *Booking) Nights() int                       { return b.stay.Nights() }
func (b *Booking) RoomDetails() json.RawMessage      { return b.roomDetails }
func (b *Booking) BasePrice() decimal.Decimal        { return b.basePrice }
func (b *Booking) MarkupAmount() decimal.Decimal     { return b.markupAmount }
func (b *Booking) MarkupPercentage() decimal.Decimal { return b.markupPercentage }
func (b *Booking) TotalPrice() decimal.Decimal       { return b.totalPrice }
func (b *Booking) Currency() string                  { return b.currency }
func (b *Booking) AppliedRuleID() *uuid.UUID         { return b.appliedRuleID }

// Status returns the current booking status.
func (b *Booking) Status() BookingStatus { return b.status }

// PaymentStatus returns the current payment status.
func (b *Booking) PaymentStatus() PaymentStatus { return b.paymentStatus }

func (b *Booking) PaymentTransactionID() string      { return b.paymentTransactionID }
func (b *Booking) PaidAmount() *decimal.Decimal      { return b.paidAmount }
func (b *Booking) PaidAt() *time.Time                { return b.paidAt }
func (b *Booking) ConfirmedAt() *time.Time           { return b.confirmedAt }
func (b *Booking) CancelledAt() *time.Time           { return b.cancelledAt }
func (b *Booking) CancelledBy() string               { return b.cancelledBy }
func (b *Booking) CancellationReason() string        { return b.cancellationReason }
func (b *Booking) RefundAmount() *decimal.Decimal    { return b.refundAmount }
func (b *Booking) IsRefundable() bool                { return b.isRefundable }
func (b *Booking) FreeCancellationUntil() *time.Time { return b.freeCancellationUntil }
func (b *Booking) SpecialRequests() string           { return b.specialRequests }

// Version returns the entity version for optimistic locking.
func (b *Booking) Version() int64 { return b.version }

// CreatedAt returns the creation timestamp.
func (b *Booking) CreatedAt() time.Time { return b.createdAt }

// UpdatedAt returns the last-updated timestamp.
func (b *Booking) UpdatedAt() time.Time { return b.updatedAt }

// --- Behavior ---

// AccessibleBy reports whether r may read or act on the booking. Guests are
// matched on the email the booking was made with.
func (b *Booking) AccessibleBy(r Requester) bool {
	switch {
	case r.Admin:
		return true
	case r.IsGuest():
		return b.owner.IsGuest() && r.Email != "" && strings.EqualFold(r.Email, b.guestEmail)
	default:
		return b.owner.IsUser() && b.owner.UserID() == r.UserID
	}
}

// CheckPayable returns an error unless a new charge may be attempted.
func (b *Booking) CheckPayable() error {
	if b.paymentStatus == PaymentPaid {
		return ErrAlreadyPaid
	}
	if b.status != StatusPending {
		return domain.NewInvalidStateError(string(b.status), string(StatusConfirmed))
	}
	if !b.paymentStatus.IsPayable() {
		return domain.NewInvalidStateError(string(b.paymentStatus), string(PaymentPaid))
	}
	return nil
}

// ConfirmPayment marks the booking paid and confirmed. It is the only path
// from pending to confirmed.
func (b *Booking) ConfirmPayment(transactionID string, amount decimal.Decimal, now time.Time) error {
	if err := b.CheckPayable(); err != nil {
		return err
	}
	b.status = StatusConfirmed
	b.paymentStatus = PaymentPaid
	b.paymentTransactionID = transactionID
	b.paidAmount = &amount
	b.paidAt = &now
	b.confirmedAt = &now
	b.updatedAt = now
	return nil
}

// Cancel transitions the booking to cancelled. When the booking was paid it
// records the refund due after the policy fee.
func (b *Booking) Cancel(r Requester, reason string, policy CancellationPolicy, now time.Time) error {
	if b.status == StatusCancelled {
		return ErrAlreadyCancelled
	}
	if !b.status.CanBeCancelled() {
		return domain.NewInvalidStateError(string(b.status), string(StatusCancelled))
	}
	if len(reason) > 500 {
		return domain.NewValidationError("cancellation reason must be at most 500 characters")
	}

	if b.paymentStatus == PaymentPaid && b.paidAmount != nil {
		refund := b.paidAmount.Sub(b.CancellationFee(policy, now))
		if refund.IsNegative() {
			refund = decimal.Zero
		}
		b.refundAmount = &refund
		b.isRefundable = refund.IsPositive()
	}
	b.status = StatusCancelled
	b.cancelledAt = &now
	b.cancelledBy = r.Actor()
	b.cancellationReason = strings.TrimSpace(reason)
	b.updatedAt = now
	return nil
}

// Reject declines a pending booking (back office).
func (b *Booking) Reject(reason string, now time.Time) error {
	if !b.status.CanTransitionTo(StatusRejected) {
		return domain.NewInvalidStateError(string(b.status), string(StatusRejected))
	}
	b.status = StatusRejected
	b.cancellationReason = strings.TrimSpace(reason)
	b.updatedAt = now
	return nil
}

// Complete closes a confirmed booking after the stay.
func (b *Booking) Complete(now time.Time) error {
	if !b.status.CanTransitionTo(StatusCompleted) {
		return domain.NewInvalidStateError(string(b.status), string(StatusCompleted))
	}
	b.status = StatusCompleted
	b.updatedAt = now
	return nil
}

// MarkNoShow closes a confirmed booking whose guest never arrived.
func (b *Booking) MarkNoShow(now time.Time) error {
	if !b.status.CanTransitionTo(StatusNoShow) {
		return domain.NewInvalidStateError(string(b.status), string(StatusNoShow))
	}
	b.status = StatusNoShow
	b.updatedAt = now
	return nil
}

// ApplyRefund moves the payment status after money was returned.
func (b *Booking) ApplyRefund(fully bool, now time.Time) error {
	if b.paymentStatus != PaymentPaid && b.paymentStatus != PaymentPartiallyRefunded {
		return domain.NewInvalidStateError(string(b.paymentStatus), string(PaymentRefunded))
	}
	if fully {
		b.paymentStatus = PaymentRefunded
	} else {
		b.paymentStatus = PaymentPartiallyRefunded
	}
	b.updatedAt = now
	return nil
}

// CancellationFee is the share of the total price kept if cancelled at now.
func (b *Booking) CancellationFee(policy CancellationPolicy, now time.Time) decimal.Decimal {
	rate := policy.FeeRate(b.cancellationParams(now))
	return b.totalPrice.Mul(rate).Round(2)
}

// HasFreeCancellation reports whether now is inside the free-cancellation window.
func (b *Booking) HasFreeCancellation(now time.Time) bool {
	return b.cancellationParams(now).InFreeWindow()
}

// IsCancellable reports whether a self-service cancellation is still open:
// within the free window when one is set, otherwise until a day before check-in.
func (b *Booking) IsCancellable(now time.Time) bool {
	if !b.status.CanBeCancelled() {
		return false
	}
	if b.freeCancellationUntil != nil {
		return b.HasFreeCancellation(now)
	}
	return now.Before(markup.DateOnly(b.stay.CheckIn).AddDate(0, 0, -1))
}

func (b *Booking) cancellationParams(now time.Time) CancellationParams {
	return CancellationParams{
		CheckIn:               b.stay.CheckIn,
		FreeCancellationUntil: b.freeCancellationUntil,
		Now:                   now,
	}
}

// IncrementVersion bumps the version for optimistic locking.
func (b *Booking) IncrementVersion() {
	b.version++
	b.updatedAt = time.Now().UTC()
}
