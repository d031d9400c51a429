package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MarkupRuleModel is the GORM model for the pricing_markup_rules table.
type MarkupRuleModel struct {
	ID                uuid.UUID           `gorm:"type:uuid;primaryKey"`
	Name              string              `gorm:"not null;size:255"`
	Description       string              `gorm:"type:text"`
	MarkupType        string              `gorm:"not null;size:20"`
	MarkupPercentage  decimal.NullDecimal `gorm:"type:decimal(5,2)"`
	MarkupFixedAmount decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	TieredPricing     datatypes.JSON      `gorm:""`
	Provider          string              `gorm:"not null;size:20;default:'all';index"`
	PropertyType      string              `gorm:"size:50"`
	DestinationCode   string              `gorm:"size:20"`
	MinPrice          decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	MaxPrice          decimal.NullDecimal `gorm:"type:decimal(12,2)"`
	ValidFrom         *time.Time          `gorm:"type:date"`
	ValidTo           *time.Time          `gorm:"type:date"`
	Priority          int                 `gorm:"not null;default:0;index"`
	State             string              `gorm:"not null;size:20;index"`
	IsDefault         bool                `gorm:"not null;default:false"`
	CreatedBy         *uuid.UUID          `gorm:"type:uuid"`
	UpdatedBy         *uuid.UUID          `gorm:"type:uuid"`
	RetiredAt         *time.Time          `gorm:""`
	Version           int64               `gorm:"not null;default:1"`
	CreatedAt         time.Time           `gorm:"not null"`
	UpdatedAt         time.Time           `gorm:"not null"`
}

// TableName returns the table name for the GORM model.
func (MarkupRuleModel) TableName() string {
	return "pricing_markup_rules"
}

// GormRuleRepository is the GORM-based implementation of markup.RuleRepository.
type GormRuleRepository struct {
	db *gorm.DB
}

// NewGormRuleRepository creates a new GormRuleRepository.
func NewGormRuleRepository(db *gorm.DB) *GormRuleRepository {
	return &GormRuleRepository{db: db}
}

// FindByID retrieves a rule by its unique identifier.
func (r *GormRuleRepository) FindByID(ctx context.Context, id uuid.UUID) (*markup.Rule, error) {
	var model MarkupRuleModel
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.NewNotFoundError("MarkupRule", id.String())
		}
		return nil, fmt.Errorf("failed to find markup rule by ID: %w", err)
	}
	return toDomainRule(&model)
}

// ListActive returns every active rule in evaluation order.
func (r *GormRuleRepository) ListActive(ctx context.Context) ([]*markup.Rule, error) {
	var models []MarkupRuleModel
	if err := r.db.WithContext(ctx).
		Where("state = ?", string(markup.StateActive)).
		Order("priority DESC, created_at DESC").
		Find(&models).Error; err != nil {
		return nil, fmt.Errorf("failed to list active markup rules: %w", err)
	}
	return toDomainRules(models)
}

// List retrieves rules matching filter with pagination (admin). A provider
// filter also returns rules scoped to every provider.
func (r *GormRuleRepository) List(ctx context.Context, filter markup.RuleFilter, page, limit int) ([]*markup.Rule, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&MarkupRuleModel{}).
		Scopes(ruleFilterScope(filter)).
		Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count markup rules: %w", err)
	}

	var models []MarkupRuleModel
	if err := r.db.WithContext(ctx).
		Scopes(ruleFilterScope(filter), paginate(page, limit)).
		Order("priority DESC, created_at DESC").
		Find(&models).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list markup rules: %w", err)
	}

	rules, err := toDomainRules(models)
	if err != nil {
		return nil, 0, err
	}
	return rules, total, nil
}

// Save persists a new rule.
func (r *GormRuleRepository) Save(ctx context.Context, rule *markup.Rule) error {
	model, err := toRuleModel(rule)
	if err != nil {
		return fmt.Errorf("failed to convert markup rule to model: %w", err)
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return fmt.Errorf("failed to save markup rule: %w", err)
	}
	return nil
}

// Update persists changes to an existing rule with optimistic locking.
func (r *GormRuleRepository) Update(ctx context.Context, rule *markup.Rule) error {
	model, err := toRuleModel(rule)
	if err != nil {
		return fmt.Errorf("failed to convert markup rule to model: %w", err)
	}

	expectedVersion := rule.Version() - 1
	result := r.db.WithContext(ctx).
		Model(&MarkupRuleModel{}).
		Where("id = ? AND version = ?", model.ID, expectedVersion).
		Updates(map[string]interface{}{
			"name":                model.Name,
			"description":         model.Description,
			"markup_type":         model.MarkupType,
			"markup_percentage":   model.MarkupPercentage,
			"markup_fixed_amount": model.MarkupFixedAmount,
			"tiered_pricing":      model.TieredPricing,
			"provider":            model.Provider,
			"property_type":       model.PropertyType,
			"destination_code":    model.DestinationCode,
			"min_price":           model.MinPrice,
			"max_price":           model.MaxPrice,
			"valid_from":          model.ValidFrom,
			"valid_to":            model.ValidTo,
			"priority":            model.Priority,
			"state":               model.State,
			"is_default":          model.IsDefault,
			"updated_by":          model.UpdatedBy,
			"retired_at":          model.RetiredAt,
			"version":             model.Version,
			"updated_at":          model.UpdatedAt,
		})

	if result.Error != nil {
		return fmt.Errorf("failed to update markup rule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return domain.NewConflictError("markup rule was modified by another transaction")
	}
	return nil
}

// ClearDefault unsets is_default on every rule except keepID.
func (r *GormRuleRepository) ClearDefault(ctx context.Context, keepID uuid.UUID) error {
	if err := r.db.WithContext(ctx).
		Model(&MarkupRuleModel{}).
		Where("is_default = ? AND id <> ?", true, keepID).
		Updates(map[string]interface{}{
			"is_default": false,
			"version":    gorm.Expr("version + 1"),
			"updated_at": time.Now().UTC(),
		}).Error; err != nil {
		return fmt.Errorf("failed to clear default markup rule: %w", err)
	}
	return nil
}

func ruleFilterScope(filter markup.RuleFilter) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if filter.State != "" {
			db = db.Where("state = ?", string(filter.State))
		}
		if filter.Provider != "" && filter.Provider != markup.ProviderAll {
			db = db.Where("provider IN ?", []string{string(filter.Provider), string(markup.ProviderAll)})
		}
		return db
	}
}

// --- Conversion Helpers ---

func toRuleModel(rule *markup.Rule) (*MarkupRuleModel, error) {
	pricing := rule.Pricing()
	cond := rule.Conditions()

	var tiers datatypes.JSON
	if len(pricing.Tiers) > 0 {
		data, err := json.Marshal(pricing.Tiers)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal tiers: %w", err)
		}
		tiers = data
	}

	return &MarkupRuleModel{
		ID:                rule.ID(),
		Name:              rule.Name(),
		Description:       rule.Description(),
		MarkupType:        string(pricing.Type),
		MarkupPercentage:  nullDecimal(pricing.Percentage),
		MarkupFixedAmount: nullDecimal(pricing.FixedAmount),
		TieredPricing:     tiers,
		Provider:          string(cond.Provider),
		PropertyType:      cond.PropertyType,
		DestinationCode:   cond.DestinationCode,
		MinPrice:          nullDecimal(cond.MinPrice),
		MaxPrice:          nullDecimal(cond.MaxPrice),
		ValidFrom:         cond.ValidFrom,
		ValidTo:           cond.ValidTo,
		Priority:          rule.Priority(),
		State:             string(rule.State()),
		IsDefault:         rule.IsDefault(),
		CreatedBy:         rule.CreatedBy(),
		UpdatedBy:         rule.UpdatedBy(),
		RetiredAt:         rule.RetiredAt(),
		Version:           rule.Version(),
		CreatedAt:         rule.CreatedAt(),
		UpdatedAt:         rule.UpdatedAt(),
	}, nil
}

func toDomainRule(m *MarkupRuleModel) (*markup.Rule, error) {
	var tiers []markup.Tier
	if len(m.TieredPricing) > 0 {
		if err := json.Unmarshal(m.TieredPricing, &tiers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tiers: %w", err)
		}
	}

	state, err := markup.ParseState(m.State)
	if err != nil {
		return nil, err
	}
	provider := markup.Provider(m.Provider)
	if !provider.IsValidScope() {
		return nil, fmt.Errorf("invalid markup rule provider: %s", m.Provider)
	}

	return markup.ReconstructRule(
		m.ID,
		m.Name,
		m.Description,
		markup.Pricing{
			Type:        markup.RuleType(m.MarkupType),
			Percentage:  decimalPtr(m.MarkupPercentage),
			FixedAmount: decimalPtr(m.MarkupFixedAmount),
			Tiers:       tiers,
		},
		markup.Conditions{
			Provider:        provider,
			PropertyType:    m.PropertyType,
			DestinationCode: m.DestinationCode,
			MinPrice:        decimalPtr(m.MinPrice),
			MaxPrice:        decimalPtr(m.MaxPrice),
			ValidFrom:       utcPtr(m.ValidFrom),
			ValidTo:         utcPtr(m.ValidTo),
		},
		m.Priority,
		state,
		m.IsDefault,
		m.CreatedBy,
		m.UpdatedBy,
		m.RetiredAt,
		m.Version,
		m.CreatedAt,
		m.UpdatedAt,
	), nil
}

func toDomainRules(models []MarkupRuleModel) ([]*markup.Rule, error) {
	rules := make([]*markup.Rule, len(models))
	for i := range models {
		rule, err := toDomainRule(&models[i])
		if err != nil {
			return nil, err
		}
		rules[i] = rule
	}
	return rules, nil
}
