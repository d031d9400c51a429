package payment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TransactionRepository defines the persistence contract for payment transactions.
type TransactionRepository interface {
	// FindByID retrieves a transaction by its unique identifier.
	FindByID(ctx context.Context, id uuid.UUID) (*Transaction, error)

	// FindByTransactionID retrieves a transaction by its public "TXN-" id.
	FindByTransactionID(ctx context.Context, transactionID string) (*Transaction, error)

	// FindByBookingID lists every transaction of a booking, newest first.
	FindByBookingID(ctx context.Context, bookingID uuid.UUID) ([]*Transaction, error)

	// FindByUserID lists a user's transactions, newest first, with pagination.
	FindByUserID(ctx context.Context, userID uuid.UUID, page, limit int) ([]*Transaction, int64, error)

	// FindStaleInFlight returns in-flight transactions created before cutoff.
	FindStaleInFlight(ctx context.Context, cutoff time.Time, limit int) ([]*Transaction, error)

	// Save persists a new transaction.
	Save(ctx context.Context, tx *Transaction) error

	// Update persists changes to an existing transaction with optimistic locking.
	Update(ctx context.Context, tx *Transaction) error
}
