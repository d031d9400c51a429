package markup

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PricingContext is the input to rule resolution for a single stay.
type PricingContext struct {
	BasePrice       decimal.Decimal
	Provider        Provider
	PropertyType    string
	DestinationCode string
	CheckIn         time.Time
}

// AppliedRule identifies the rule that produced a Result.
type AppliedRule struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Type RuleType  `json:"type"`
}

// Result is the priced outcome of applying a rule to a base price.
// All amounts are rounded half-up to two decimals. FinalPrice is the rounded
// sum of the unrounded base and markup, so it equals BasePrice + MarkupAmount
// whenever the base already has at most two decimals.
type Result struct {
	BasePrice        decimal.Decimal `json:"base_price"`
	MarkupAmount     decimal.Decimal `json:"markup_amount"`
	MarkupPercentage decimal.Decimal `json:"markup_percentage"`
	FinalPrice       decimal.Decimal `json:"final_price"`
	AppliedRule      *AppliedRule    `json:"applied_rule,omitempty"`
}

// Calculate applies rule to base. A non-positive base yields an all-zero
// result; a nil rule yields the base unchanged. Tiers are matched against
// the base as given, the same value rule conditions are checked against.
func Calculate(base decimal.Decimal, rule *Rule) Result {
	if !base.IsPositive() {
		return Result{
			BasePrice:        decimal.Zero,
			MarkupAmount:     decimal.Zero,
			MarkupPercentage: decimal.Zero,
			FinalPrice:       decimal.Zero,
		}
	}

	if rule == nil {
		return Result{
			BasePrice:        round(base),
			MarkupAmount:     decimal.Zero,
			MarkupPercentage: decimal.Zero,
			FinalPrice:       round(base),
		}
	}

	amount, pct := markupFor(base, rule.pricing)
	return Result{
		BasePrice:        round(base),
		MarkupAmount:     round(amount),
		MarkupPercentage: round(pct),
		FinalPrice:       round(base.Add(amount)),
		AppliedRule: &AppliedRule{
			ID:   rule.id,
			Name: rule.name,
			Type: rule.pricing.Type,
		},
	}
}

// HasCents reports whether d carries at most two decimal places.
func HasCents(d decimal.Decimal) bool {
	return d.Equal(round(d))
}

func markupFor(base decimal.Decimal, p Pricing) (amount, pct decimal.Decimal) {
	switch p.Type {
	case TypePercentage:
		pct = valueOrZero(p.Percentage)
		return percentOf(base, pct), pct
	case TypeFixed:
		amount = valueOrZero(p.FixedAmount)
		return amount, amount.Div(base).Mul(hundred)
	case TypeTiered:
		for _, t := range p.Tiers {
			if t.Contains(base) {
				return percentOf(base, t.Percentage), t.Percentage
			}
		}
	}
	return decimal.Zero, decimal.Zero
}

func percentOf(base, pct decimal.Decimal) decimal.Decimal {
	return base.Mul(pct).Div(hundred)
}

func valueOrZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// round is half-up at two decimals for the non-negative amounts used here.
func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}
