package repository

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const maxPageSize = 100

// paginate applies offset/limit for a 1-based page.
func paginate(page, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if page < 1 {
			page = 1
		}
		if limit < 1 || limit > maxPageSize {
			limit = 20
		}
		return db.Offset((page - 1) * limit).Limit(limit)
	}
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

func decimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

// utcPtr normalizes driver-returned times, which may carry a local zone.
func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
