package markup

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// RuleType selects how a rule computes its markup.
type RuleType string

const (
	TypePercentage RuleType = "percentage"
	TypeFixed      RuleType = "fixed"
	TypeTiered     RuleType = "tiered"
)

// IsValid returns true if the rule type is recognized.
func (t RuleType) IsValid() bool {
	switch t {
	case TypePercentage, TypeFixed, TypeTiered:
		return true
	}
	return false
}

// Provider identifies an upstream inventory source, or "all" as a rule scope.
type Provider string

const (
	ProviderHotelbeds Provider = "hotelbeds"
	ProviderOwnerRez  Provider = "ownerrez"
	ProviderAll       Provider = "all"
)

// IsValidScope returns true if p may be used as a rule's provider filter.
func (p Provider) IsValidScope() bool {
	return p == ProviderAll || p.IsValidSource()
}

// IsValidSource returns true if p is a concrete upstream provider.
func (p Provider) IsValidSource() bool {
	return p == ProviderHotelbeds || p == ProviderOwnerRez
}

// ParseProvider converts a string to a concrete upstream provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(s)
	if !p.IsValidSource() {
		return "", fmt.Errorf("invalid provider: %s", s)
	}
	return p, nil
}

// State is the rule lifecycle. It replaces the is_active / deleted_at flag pair.
type State string

const (
	StateDraft   State = "draft"
	StateActive  State = "active"
	StateRetired State = "retired"
)

// IsValid returns true if the state is recognized.
func (s State) IsValid() bool {
	switch s {
	case StateDraft, StateActive, StateRetired:
		return true
	}
	return false
}

// ParseState converts a string to a State.
func ParseState(s string) (State, error) {
	st := State(s)
	if !st.IsValid() {
		return "", fmt.Errorf("invalid rule state: %s", s)
	}
	return st, nil
}

// Tier is one price band of a tiered rule. A nil Max is unbounded.
type Tier struct {
	Min        decimal.Decimal  `json:"min"`
	Max        *decimal.Decimal `json:"max,omitempty"`
	Percentage decimal.Decimal  `json:"percentage"`
}

// Contains reports whether price falls in [Min, Max], inclusive on both ends.
func (t Tier) Contains(price decimal.Decimal) bool {
	if price.LessThan(t.Min) {
		return false
	}
	return t.Max == nil || price.LessThanOrEqual(*t.Max)
}

// Pricing is the rule's computation: a type plus the parameters that type needs.
type Pricing struct {
	Type        RuleType
	Percentage  *decimal.Decimal
	FixedAmount *decimal.Decimal
	Tiers       []Tier
}

// Conditions are the optional filters that decide whether a rule applies.
type Conditions struct {
	Provider        Provider
	PropertyType    string
	DestinationCode string
	MinPrice        *decimal.Decimal
	MaxPrice        *decimal.Decimal
	ValidFrom       *time.Time
	ValidTo         *time.Time
}
