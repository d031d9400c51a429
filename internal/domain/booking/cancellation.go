package booking

import (
	"time"

	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/shopspring/decimal"
)

// CancellationPolicy defines the interface for pricing a cancellation.
type CancellationPolicy interface {
	// FeeRate returns the share of the total price kept on cancellation, in [0, 1].
	FeeRate(params CancellationParams) decimal.Decimal
}

// CancellationParams holds the inputs for a cancellation fee.
type CancellationParams struct {
	CheckIn               time.Time
	FreeCancellationUntil *time.Time
	Now                   time.Time
}

// DaysUntilCheckIn is the signed number of calendar days from Now to CheckIn.
func (p CancellationParams) DaysUntilCheckIn() int {
	return int(markup.DateOnly(p.CheckIn).Sub(markup.DateOnly(p.Now)).Hours() / 24)
}

// InFreeWindow reports whether Now is on or before the free-cancellation date.
func (p CancellationParams) InFreeWindow() bool {
	if p.FreeCancellationUntil == nil {
		return false
	}
	return !markup.DateOnly(p.Now).After(markup.DateOnly(*p.FreeCancellationUntil))
}

// StandardCancellationPolicy implements the default fee schedule.
type StandardCancellationPolicy struct{}

// NewStandardCancellationPolicy creates a new StandardCancellationPolicy.
func NewStandardCancellationPolicy() *StandardCancellationPolicy {
	return &StandardCancellationPolicy{}
}

var (
	rateNone    = decimal.Zero
	rateQuarter = decimal.RequireFromString("0.25")
	rateHalf    = decimal.RequireFromString("0.50")
	rateFull    = decimal.NewFromInt(1)
)

// FeeRate computes the fee share.
//
// Schedule:
//   - free-cancellation window or 7+ days before check-in: 0%
//   - 3 to 6 days: 25%
//   - 1 to 2 days: 50%
//   - same day or later: 100%
func (s *StandardCancellationPolicy) FeeRate(params CancellationParams) decimal.Decimal {
	if params.InFreeWindow() {
		return rateNone
	}
	switch days := params.DaysUntilCheckIn(); {
	case days >= 7:
		return rateNone
	case days >= 3:
		return rateQuarter
	case days >= 1:
		return rateHalf
	default:
		return rateFull
	}
}
