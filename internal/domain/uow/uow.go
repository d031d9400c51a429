// Package uow declares the unit-of-work port used to commit groups of
// repository writes atomically.
package uow

import (
	"context"

	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/guest"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/domain/payment"
)

// Repositories are the repositories bound to one transaction.
type Repositories interface {
	Rules() markup.RuleRepository
	Bookings() booking.BookingRepository
	Payments() payment.TransactionRepository
	Guests() guest.SessionRepository
}

// Transactor runs fn inside a single transaction. Every write made through
// repos commits together when fn returns nil and rolls back otherwise.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
