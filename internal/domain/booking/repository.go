package booking

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
)

// ListFilter narrows booking listings. Zero values mean "any".
type ListFilter struct {
	Status        BookingStatus
	PaymentStatus PaymentStatus
	Provider      markup.Provider
}

// BookingRepository defines the persistence contract for booking aggregates.
type BookingRepository interface {
	// FindByID retrieves a booking by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Booking, error)

	// FindByReference retrieves a booking by its human-shareable reference.
	FindByReference(ctx context.Context, reference string) (*Booking, error)

	// FindByUserID retrieves bookings owned by a user, newest first, with pagination.
	FindByUserID(ctx context.Context, userID uuid.UUID, filter ListFilter, page, limit int) ([]*Booking, int64, error)

	// ListAll retrieves all bookings with pagination (admin).
	ListAll(ctx context.Context, filter ListFilter, page, limit int) ([]*Booking, int64, error)

	// CountByStatus returns booking counts grouped by status (admin).
	CountByStatus(ctx context.Context) (map[string]int64, error)

	// Save persists a new booking.
	Save(ctx context.Context, booking *Booking) error

	// Update persists changes to an existing booking with optimistic locking.
	Update(ctx context.Context, booking *Booking) error

	// TransferGuestBookings makes every booking of a guest session owned by
	// userID and returns how many moved.
	TransferGuestBookings(ctx context.Context, sessionID string, userID uuid.UUID) (int64, error)
}
