package markup

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Snapshot is the serializable form of a Rule, used by shared caches and events.
type Snapshot struct {
	ID              uuid.UUID        `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Type            RuleType         `json:"type"`
	Percentage      *decimal.Decimal `json:"percentage,omitempty"`
	FixedAmount     *decimal.Decimal `json:"fixed_amount,omitempty"`
	Tiers           []Tier           `json:"tiers,omitempty"`
	Provider        Provider         `json:"provider"`
	PropertyType    string           `json:"property_type,omitempty"`
	DestinationCode string           `json:"destination_code,omitempty"`
	MinPrice        *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice        *decimal.Decimal `json:"max_price,omitempty"`
	ValidFrom       *time.Time       `json:"valid_from,omitempty"`
	ValidTo         *time.Time       `json:"valid_to,omitempty"`
	Priority        int              `json:"priority"`
	State           State            `json:"state"`
	IsDefault       bool             `json:"is_default"`
	CreatedBy       *uuid.UUID       `json:"created_by,omitempty"`
	UpdatedBy       *uuid.UUID       `json:"updated_by,omitempty"`
	RetiredAt       *time.Time       `json:"retired_at,omitempty"`
	Version         int64            `json:"version"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Snapshot returns the serializable form of r.
func (r *Rule) Snapshot() Snapshot {
	return Snapshot{
		ID:              r.id,
		Name:            r.name,
		Description:     r.description,
		Type:            r.pricing.Type,
		Percentage:      r.pricing.Percentage,
		FixedAmount:     r.pricing.FixedAmount,
		Tiers:           r.pricing.Tiers,
		Provider:        r.conditions.Provider,
		PropertyType:    r.conditions.PropertyType,
		DestinationCode: r.conditions.DestinationCode,
		MinPrice:        r.conditions.MinPrice,
		MaxPrice:        r.conditions.MaxPrice,
		ValidFrom:       r.conditions.ValidFrom,
		ValidTo:         r.conditions.ValidTo,
		Priority:        r.priority,
		State:           r.state,
		IsDefault:       r.isDefault,
		CreatedBy:       r.createdBy,
		UpdatedBy:       r.updatedBy,
		RetiredAt:       r.retiredAt,
		Version:         r.version,
		CreatedAt:       r.createdAt,
		UpdatedAt:       r.updatedAt,
	}
}

// FromSnapshot rebuilds a Rule from its serialized form.
func FromSnapshot(s Snapshot) *Rule {
	return ReconstructRule(
		s.ID, s.Name, s.Description,
		Pricing{
			Type:        s.Type,
			Percentage:  s.Percentage,
			FixedAmount: s.FixedAmount,
			Tiers:       s.Tiers,
		},
		Conditions{
			Provider:        s.Provider,
			PropertyType:    s.PropertyType,
			DestinationCode: s.DestinationCode,
			MinPrice:        s.MinPrice,
			MaxPrice:        s.MaxPrice,
			ValidFrom:       s.ValidFrom,
			ValidTo:         s.ValidTo,
		},
		s.Priority, s.State, s.IsDefault,
		s.CreatedBy, s.UpdatedBy, s.RetiredAt,
		s.Version, s.CreatedAt, s.UpdatedAt,
	)
}
