package markup

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// ErrRuleRetired is returned when a retired rule is mutated.
var ErrRuleRetired = domain.NewConflictCodeError("RULE_RETIRED", "markup rule is retired")

// RuleParams carries the editable attributes of a rule.
type RuleParams struct {
	Name        string
	Description string
	Pricing     Pricing
	Conditions  Conditions
	Priority    int
}

// Rule is the aggregate root for a markup rule.
type Rule struct {
	id          uuid.UUID
	name        string
	description string
	pricing     Pricing
	conditions  Conditions
	priority    int
	state       State
	isDefault   bool

	createdBy *uuid.UUID
	updatedBy *uuid.UUID
	retiredAt *time.Time

	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// NewRule validates params and creates a rule. Rules start active unless
// activate is false, in which case they start as drafts.
func NewRule(params RuleParams, activate bool, createdBy *uuid.UUID) (*Rule, error) {
	params = normalizeParams(params)
	if err := validateParams(params); err != nil {
		return nil, err
	}

	state := StateActive
	if !activate {
		state = StateDraft
	}

	now := time.Now().UTC()
	return &Rule{
		id:          uuid.New(),
		name:        params.Name,
		description: params.Description,
		pricing:     params.Pricing,
		conditions:  params.Conditions,
		priority:    params.Priority,
		state:       state,
		createdBy:   createdBy,
		updatedBy:   createdBy,
		version:     1,
		createdAt:   now,
		updatedAt:   now,
	}, nil
}

// ReconstructRule rebuilds a Rule from persistence data (no validation).
func ReconstructRule(
	id uuid.UUID,
	name string,
	description string,
	pricing Pricing,
	conditions Conditions,
	priority int,
	state State,
	isDefault bool,
	createdBy *uuid.UUID,
	updatedBy *uuid.UUID,
	retiredAt *time.Time,
	version int64,
	createdAt time.Time,
	updatedAt time.Time,
) *Rule {
	return &Rule{
		id:          id,
		name:        name,
		description: description,
		pricing:     pricing,
		conditions:  conditions,
		priority:    priority,
		state:       state,
		isDefault:   isDefault,
		createdBy:   createdBy,
		updatedBy:   updatedBy,
		retiredAt:   retiredAt,
		version:     version,
		createdAt:   createdAt,
		updatedAt:   updatedAt,
	}
}

// --- Getters ---

func (r *Rule) ID() uuid.UUID          { return r.id }
func (r *Rule) Name() string           { return r.name }
func (r *Rule) Description() string    { return r.description }
func (r *Rule) Pricing() Pricing       { return r.pricing }
func (r *Rule) Type() RuleType         { return r.pricing.Type }
func (r *Rule) Conditions() Conditions { return r.conditions }
func (r *Rule) Priority() int          { return r.priority }
func (r *Rule) State() State           { return r.state }
func (r *Rule) IsDefault() bool        { return r.isDefault }
func (r *Rule) CreatedBy() *uuid.UUID  { return r.createdBy }
func (r *Rule) UpdatedBy() *uuid.UUID  { return r.updatedBy }
func (r *Rule) RetiredAt() *time.Time  { return r.retiredAt }
func (r *Rule) Version() int64         { return r.version }
func (r *Rule) CreatedAt() time.Time   { return r.createdAt }
func (r *Rule) UpdatedAt() time.Time   { return r.updatedAt }

// IsActive reports whether the rule takes part in resolution.
func (r *Rule) IsActive() bool { return r.state == StateActive }

// --- Behavior ---

// Update replaces the editable attributes after validating them.
func (r *Rule) Update(params RuleParams, actor *uuid.UUID) error {
	if r.state == StateRetired {
		return ErrRuleRetired
	}
	params = normalizeParams(params)
	if err := validateParams(params); err != nil {
		return err
	}
	r.name = params.Name
	r.description = params.Description
	r.pricing = params.Pricing
	r.conditions = params.Conditions
	r.priority = params.Priority
	r.updatedBy = actor
	r.updatedAt = time.Now().UTC()
	return nil
}

// Toggle flips the rule between active and draft.
func (r *Rule) Toggle(actor *uuid.UUID) error {
	switch r.state {
	case StateActive:
		r.state = StateDraft
	case StateDraft:
		r.state = StateActive
	default:
		return ErrRuleRetired
	}
	r.updatedBy = actor
	r.updatedAt = time.Now().UTC()
	return nil
}

// Retire soft-deletes the rule. A retired rule is never the default.
func (r *Rule) Retire(actor *uuid.UUID) error {
	if r.state == StateRetired {
		return ErrRuleRetired
	}
	now := time.Now().UTC()
	r.state = StateRetired
	r.isDefault = false
	r.retiredAt = &now
	r.updatedBy = actor
	r.updatedAt = now
	return nil
}

// MarkDefault flags the rule as the fallback. Callers must clear any other
// default in the same transaction.
func (r *Rule) MarkDefault(actor *uuid.UUID) error {
	if r.state == StateRetired {
		return ErrRuleRetired
	}
	r.isDefault = true
	r.updatedBy = actor
	r.updatedAt = time.Now().UTC()
	return nil
}

// IncrementVersion bumps the version for optimistic locking.
func (r *Rule) IncrementVersion() {
	r.version++
	r.updatedAt = time.Now().UTC()
}

// Matches reports whether every condition set on the rule holds for pc.
// Unset conditions match anything.
func (r *Rule) Matches(pc PricingContext) bool {
	c := r.conditions
	if c.Provider != "" && c.Provider != ProviderAll && c.Provider != pc.Provider {
		return false
	}
	if c.PropertyType != "" && c.PropertyType != pc.PropertyType {
		return false
	}
	if c.DestinationCode != "" && c.DestinationCode != pc.DestinationCode {
		return false
	}
	if c.MinPrice != nil && pc.BasePrice.LessThan(*c.MinPrice) {
		return false
	}
	if c.MaxPrice != nil && pc.BasePrice.GreaterThan(*c.MaxPrice) {
		return false
	}
	if c.ValidFrom != nil || c.ValidTo != nil {
		day := DateOnly(pc.CheckIn)
		if pc.CheckIn.IsZero() {
			day = DateOnly(time.Now())
		}
		if c.ValidFrom != nil && day.Before(DateOnly(*c.ValidFrom)) {
			return false
		}
		if c.ValidTo != nil && day.After(DateOnly(*c.ValidTo)) {
			return false
		}
	}
	return true
}

// DateOnly truncates t to midnight UTC of its calendar date.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func normalizeParams(p RuleParams) RuleParams {
	p.Name = strings.TrimSpace(p.Name)
	p.Description = strings.TrimSpace(p.Description)
	p.Conditions.PropertyType = strings.TrimSpace(p.Conditions.PropertyType)
	p.Conditions.DestinationCode = strings.ToUpper(strings.TrimSpace(p.Conditions.DestinationCode))
	if p.Conditions.Provider == "" {
		p.Conditions.Provider = ProviderAll
	}
	switch p.Pricing.Type {
	case TypePercentage:
		p.Pricing.FixedAmount = nil
		p.Pricing.Tiers = nil
	case TypeFixed:
		p.Pricing.Percentage = nil
		p.Pricing.Tiers = nil
	case TypeTiered:
		p.Pricing.Percentage = nil
		p.Pricing.FixedAmount = nil
	}
	return p
}

func validateParams(p RuleParams) error {
	if p.Name == "" {
		return domain.NewValidationError("rule name is required")
	}
	if len(p.Name) > 255 {
		return domain.NewValidationError("rule name must be at most 255 characters")
	}
	if p.Priority < 0 {
		return domain.NewValidationError("priority must not be negative")
	}
	if !p.Conditions.Provider.IsValidScope() {
		return domain.NewValidationError(fmt.Sprintf("invalid provider: %s", p.Conditions.Provider))
	}
	if err := validatePricing(p.Pricing); err != nil {
		return err
	}

	c := p.Conditions
	if c.MinPrice != nil && c.MinPrice.IsNegative() {
		return domain.NewValidationError("min price must not be negative")
	}
	if c.MaxPrice != nil && c.MaxPrice.IsNegative() {
		return domain.NewValidationError("max price must not be negative")
	}
	if c.MinPrice != nil && c.MaxPrice != nil && c.MinPrice.GreaterThan(*c.MaxPrice) {
		return domain.NewValidationError("min price must not exceed max price")
	}
	if c.ValidFrom != nil && c.ValidTo != nil && !DateOnly(*c.ValidTo).After(DateOnly(*c.ValidFrom)) {
		return domain.NewValidationError("valid_to must be after valid_from")
	}
	return nil
}

func validatePricing(p Pricing) error {
	switch p.Type {
	case TypePercentage:
		if p.Percentage == nil {
			return domain.NewValidationError("markup percentage is required for percentage rules")
		}
		if p.Percentage.IsNegative() || p.Percentage.GreaterThan(hundred) {
			return domain.NewValidationError("markup percentage must be between 0 and 100")
		}
	case TypeFixed:
		if p.FixedAmount == nil {
			return domain.NewValidationError("fixed amount is required for fixed rules")
		}
		if p.FixedAmount.IsNegative() {
			return domain.NewValidationError("fixed amount must not be negative")
		}
	case TypeTiered:
		if len(p.Tiers) == 0 {
			return domain.NewValidationError("tiers are required for tiered rules")
		}
		for i, t := range p.Tiers {
			if t.Min.IsNegative() {
				return domain.NewValidationError(fmt.Sprintf("tier %d: min must not be negative", i))
			}
			if t.Max != nil && t.Max.LessThan(t.Min) {
				return domain.NewValidationError(fmt.Sprintf("tier %d: max must not be below min", i))
			}
			if t.Percentage.IsNegative() || t.Percentage.GreaterThan(hundred) {
				return domain.NewValidationError(fmt.Sprintf("tier %d: percentage must be between 0 and 100", i))
			}
		}
	default:
		return domain.NewValidationError(fmt.Sprintf("invalid markup type: %s", p.Type))
	}
	return nil
}
