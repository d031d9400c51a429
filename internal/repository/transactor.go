package repository

import (
	"context"
	"fmt"

	"github.com/pkgtravel/service-booking/internal/domain/booking"
	"github.com/pkgtravel/service-booking/internal/domain/guest"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/domain/payment"
	"github.com/pkgtravel/service-booking/internal/domain/uow"
	"gorm.io/gorm"
)

// Models lists every GORM model owned by this service, for AutoMigrate in
// development and tests. Production schemas come from migrations/.
func Models() []interface{} {
	return []interface{}{
		&MarkupRuleModel{},
		&BookingModel{},
		&PaymentTransactionModel{},
		&GuestSessionModel{},
	}
}

// AutoMigrate creates the schema from the models plus the indexes GORM tags
// cannot express, such as the single-default partial index.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto-migrate models: %w", err)
	}
	if err := db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_markup_rules_default
		ON pricing_markup_rules (is_default) WHERE is_default`).Error; err != nil {
		return fmt.Errorf("failed to create default rule index: %w", err)
	}
	return nil
}

// gormRepositories binds every repository to one *gorm.DB handle.
type gormRepositories struct {
	rules    *GormRuleRepository
	bookings *GormBookingRepository
	payments *GormTransactionRepository
	guests   *GormSessionRepository
}

func newGormRepositories(db *gorm.DB) *gormRepositories {
	return &gormRepositories{
		rules:    NewGormRuleRepository(db),
		bookings: NewGormBookingRepository(db),
		payments: NewGormTransactionRepository(db),
		guests:   NewGormSessionRepository(db),
	}
}

func (r *gormRepositories) Rules() markup.RuleRepository            { return r.rules }
func (r *gormRepositories) Bookings() booking.BookingRepository     { return r.bookings }
func (r *gormRepositories) Payments() payment.TransactionRepository { return r.payments }
func (r *gormRepositories) Guests() guest.SessionRepository         { return r.guests }

// GormTransactor implements uow.Transactor with database transactions.
type GormTransactor struct {
	db *gorm.DB
}

// NewGormTransactor creates a new GormTransactor.
func NewGormTransactor(db *gorm.DB) *GormTransactor {
	return &GormTransactor{db: db}
}

// WithinTx runs fn in a transaction. fn's error, or a panic, rolls everything back.
func (t *GormTransactor) WithinTx(ctx context.Context, fn func(ctx context.Context, repos uow.Repositories) error) error {
	return t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, newGormRepositories(tx))
	})
}
