package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkgtravel/service-booking/internal/domain/markup"
	"github.com/pkgtravel/service-booking/internal/domain/uow"
	"github.com/pkgtravel/service-booking/internal/events"
	"github.com/pkgtravel/service-booking/pkg/domain"
	"github.com/pkgtravel/service-booking/pkg/kafka"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Rule change actions carried on RulesChangedEvent.
const (
	ActionCreated    = "created"
	ActionUpdated    = "updated"
	ActionRetired    = "retired"
	ActionToggled    = "toggled"
	ActionDefaultSet = "default_set"
)

// TierRequest is one band of a tiered rule.
type TierRequest struct {
	Min        decimal.Decimal  `json:"min"`
	Max        *decimal.Decimal `json:"max"`
	Percentage decimal.Decimal  `json:"percentage"`
}

// MarkupRuleRequest holds the editable fields of a markup rule.
type MarkupRuleRequest struct {
	Name              string           `json:"name" binding:"required,max=255"`
	Description       string           `json:"description"`
	MarkupType        string           `json:"markup_type" binding:"required,oneof=percentage fixed tiered"`
	MarkupPercentage  *decimal.Decimal `json:"markup_percentage"`
	MarkupFixedAmount *decimal.Decimal `json:"markup_fixed_amount"`
	TieredPricing     []TierRequest    `json:"tiered_pricing"`
	Provider          string           `json:"provider"`
	PropertyType      string           `json:"property_type"`
	DestinationCode   string           `json:"destination_code"`
	MinPrice          *decimal.Decimal `json:"min_price"`
	MaxPrice          *decimal.Decimal `json:"max_price"`
	ValidFrom         *string          `json:"valid_from"`
	ValidTo           *string          `json:"valid_to"`
	Priority          int              `json:"priority" binding:"min=0"`
	IsActive          *bool            `json:"is_active"`
	IsDefault         bool             `json:"is_default"`
}

// ListRulesRequest filters the admin rule listing.
type ListRulesRequest struct {
	State    string `form:"state"`
	Provider string `form:"provider"`
}

// QuoteRequest is the pricing context for a test calculation.
type QuoteRequest struct {
	BasePrice       decimal.Decimal `json:"base_price"`
	Provider        string          `json:"provider" binding:"required"`
	PropertyType    string          `json:"property_type"`
	DestinationCode string          `json:"destination_code"`
	CheckIn         *string         `json:"check_in"`
}

// MarkupRuleDTO is the response representation of a markup rule.
type MarkupRuleDTO struct {
	ID                uuid.UUID        `json:"id"`
	Name              string           `json:"name"`
	Description       string           `json:"description,omitempty"`
	MarkupType        string           `json:"markup_type"`
	MarkupPercentage  *decimal.Decimal `json:"markup_percentage,omitempty"`
	MarkupFixedAmount *decimal.Decimal `json:"markup_fixed_amount,omitempty"`
	TieredPricing     []markup.Tier    `json:"tiered_pricing,omitempty"`
	Provider          string           `json:"provider"`
	PropertyType      string           `json:"property_type,omitempty"`
	DestinationCode   string           `json:"destination_code,omitempty"`
	MinPrice          *decimal.Decimal `json:"min_price,omitempty"`
	MaxPrice          *decimal.Decimal `json:"max_price,omitempty"`
	ValidFrom         *string          `json:"valid_from,omitempty"`
	ValidTo           *string          `json:"valid_to,omitempty"`
	Priority          int              `json:"priority"`
	State             string           `json:"state"`
	IsActive          bool             `json:"is_active"`
	IsDefault         bool             `json:"is_default"`
	CreatedBy         *uuid.UUID       `json:"created_by,omitempty"`
	UpdatedBy         *uuid.UUID       `json:"updated_by,omitempty"`
	RetiredAt         *time.Time       `json:"retired_at,omitempty"`
	Version           int64            `json:"version"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// RuleCacheInvalidator drops the active-rule cache on every instance it reaches.
type RuleCacheInvalidator interface {
	Invalidate(ctx context.Context) error
}

// MarkupService is the application service for markup rule administration
// and price quotes.
type MarkupService struct {
	rules      markup.RuleRepository
	tx         uow.Transactor
	resolver   *markup.Resolver
	cache      RuleCacheInvalidator
	events     eventPublisher
	instanceID string
	logger     *zap.Logger
}

// NewMarkupService creates a new MarkupService.
func NewMarkupService(
	rules markup.RuleRepository,
	tx uow.Transactor,
	resolver *markup.Resolver,
	cache RuleCacheInvalidator,
	producer kafka.Publisher,
	instanceID string,
	logger *zap.Logger,
) *MarkupService {
	return &MarkupService{
		rules:      rules,
		tx:         tx,
		resolver:   resolver,
		cache:      cache,
		events:     eventPublisher{producer: producer, logger: logger},
		instanceID: instanceID,
		logger:     logger,
	}
}

// CreateRule validates and stores a new rule. A default rule replaces the
// previous default in the same transaction.
func (s *MarkupService) CreateRule(ctx context.Context, actor uuid.UUID, req MarkupRuleRequest) (*MarkupRuleDTO, error) {
	params, err := buildRuleParams(req)
	if err != nil {
		return nil, err
	}

	activate := req.IsActive == nil || *req.IsActive
	rule, err := markup.NewRule(params, activate, actorPtr(actor))
	if err != nil {
		return nil, err
	}
	if req.IsDefault {
		if err := rule.MarkDefault(actorPtr(actor)); err != nil {
			return nil, err
		}
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		if rule.IsDefault() {
			if err := repos.Rules().ClearDefault(ctx, rule.ID()); err != nil {
				return err
			}
		}
		return repos.Rules().Save(ctx, rule)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create markup rule: %w", err)
	}

	s.rulesChanged(ctx, rule.ID(), ActionCreated)

	result := toMarkupRuleDTO(rule)
	return &result, nil
}

// UpdateRule replaces the editable fields of a rule.
func (s *MarkupService) UpdateRule(ctx context.Context, id, actor uuid.UUID, req MarkupRuleRequest) (*MarkupRuleDTO, error) {
	params, err := buildRuleParams(req)
	if err != nil {
		return nil, err
	}

	rule, err := s.mutate(ctx, id, func(ctx context.Context, repos uow.Repositories, rule *markup.Rule) error {
		if err := rule.Update(params, actorPtr(actor)); err != nil {
			return err
		}
		if req.IsDefault && !rule.IsDefault() {
			if err := repos.Rules().ClearDefault(ctx, rule.ID()); err != nil {
				return err
			}
			return rule.MarkDefault(actorPtr(actor))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.rulesChanged(ctx, rule.ID(), ActionUpdated)

	result := toMarkupRuleDTO(rule)
	return &result, nil
}

// RetireRule soft-deletes a rule. It stays readable but never resolves again.
func (s *MarkupService) RetireRule(ctx context.Context, id, actor uuid.UUID) (*MarkupRuleDTO, error) {
	rule, err := s.mutate(ctx, id, func(_ context.Context, _ uow.Repositories, rule *markup.Rule) error {
		return rule.Retire(actorPtr(actor))
	})
	if err != nil {
		return nil, err
	}

	s.rulesChanged(ctx, rule.ID(), ActionRetired)

	result := toMarkupRuleDTO(rule)
	return &result, nil
}

// ToggleRule flips a rule between active and draft.
func (s *MarkupService) ToggleRule(ctx context.Context, id, actor uuid.UUID) (*MarkupRuleDTO, error) {
	rule, err := s.mutate(ctx, id, func(_ context.Context, _ uow.Repositories, rule *markup.Rule) error {
		return rule.Toggle(actorPtr(actor))
	})
	if err != nil {
		return nil, err
	}

	s.rulesChanged(ctx, rule.ID(), ActionToggled)

	result := toMarkupRuleDTO(rule)
	return &result, nil
}

// SetDefaultRule makes a rule the fallback. The previous default is cleared
// in the same transaction, so readers see exactly one default throughout.
func (s *MarkupService) SetDefaultRule(ctx context.Context, id, actor uuid.UUID) (*MarkupRuleDTO, error) {
	rule, err := s.mutate(ctx, id, func(ctx context.Context, repos uow.Repositories, rule *markup.Rule) error {
		if err := repos.Rules().ClearDefault(ctx, rule.ID()); err != nil {
			return err
		}
		return rule.MarkDefault(actorPtr(actor))
	})
	if err != nil {
		return nil, err
	}

	s.rulesChanged(ctx, rule.ID(), ActionDefaultSet)

	result := toMarkupRuleDTO(rule)
	return &result, nil
}

// GetRule retrieves a rule by ID, including retired ones.
func (s *MarkupService) GetRule(ctx context.Context, id uuid.UUID) (*MarkupRuleDTO, error) {
	rule, err := s.rules.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	result := toMarkupRuleDTO(rule)
	return &result, nil
}

// ListRules returns rules in evaluation order. A provider filter also
// returns rules scoped to every provider.
func (s *MarkupService) ListRules(ctx context.Context, req ListRulesRequest, page, limit int) (*domain.PaginatedResult[MarkupRuleDTO], error) {
	var filter markup.RuleFilter
	if req.State != "" {
		state, err := markup.ParseState(req.State)
		if err != nil {
			return nil, domain.NewValidationError(err.Error())
		}
		filter.State = state
	}
	if req.Provider != "" {
		provider := markup.Provider(req.Provider)
		if !provider.IsValidScope() {
			return nil, domain.NewValidationError(fmt.Sprintf("invalid provider: %s", req.Provider))
		}
		filter.Provider = provider
	}

	page, limit = normalizePage(page, limit)
	rules, total, err := s.rules.List(ctx, filter, page, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list markup rules: %w", err)
	}

	dtos := make([]MarkupRuleDTO, len(rules))
	for i, r := range rules {
		dtos[i] = toMarkupRuleDTO(r)
	}
	result := domain.NewPaginatedResult(dtos, total, page, limit)
	return &result, nil
}

// Quote prices a base amount with whichever active rule resolves for it.
func (s *MarkupService) Quote(ctx context.Context, req QuoteRequest) (*markup.Result, error) {
	pc, err := buildPricingContext(req.BasePrice, req.Provider, req.PropertyType, req.DestinationCode, req.CheckIn)
	if err != nil {
		return nil, err
	}
	if err := validateBasePrice(pc.BasePrice); err != nil {
		return nil, err
	}

	result, err := s.resolver.Quote(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve markup: %w", err)
	}
	return &result, nil
}

// mutate loads a rule, applies fn and stores it in one transaction.
func (s *MarkupService) mutate(
	ctx context.Context,
	id uuid.UUID,
	fn func(ctx context.Context, repos uow.Repositories, rule *markup.Rule) error,
) (*markup.Rule, error) {
	var rule *markup.Rule
	err := s.tx.WithinTx(ctx, func(ctx context.Context, repos uow.Repositories) error {
		r, err := repos.Rules().FindByID(ctx, id)
		if err != nil {
			return err
		}
		if err := fn(ctx, repos, r); err != nil {
			return err
		}
		r.IncrementVersion()
		if err := repos.Rules().Update(ctx, r); err != nil {
			return err
		}
		rule = r
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update markup rule: %w", err)
	}
	return rule, nil
}

// rulesChanged runs after commit: a load racing the invalidation can no
// longer repopulate the cache with the pre-commit rule set.
func (s *MarkupService) rulesChanged(ctx context.Context, ruleID uuid.UUID, action string) {
	if s.cache != nil {
		if err := s.cache.Invalidate(ctx); err != nil {
			s.logger.Error("failed to invalidate markup rule cache",
				zap.String("rule_id", ruleID.String()),
				zap.Error(err),
			)
		}
	}

	s.events.publishEvent(ctx, events.TopicMarkupEvents, events.MarkupRulesChanged, ruleID.String(), events.RulesChangedEvent{
		RuleID:     ruleID,
		Action:     action,
		InstanceID: s.instanceID,
		ChangedAt:  time.Now().UTC(),
	})

	s.logger.Info("markup rules changed",
		zap.String("rule_id", ruleID.String()),
		zap.String("action", action),
	)
}

// --- Helpers ---

func buildRuleParams(req MarkupRuleRequest) (markup.RuleParams, error) {
	validFrom, err := parseOptionalDate("valid_from", req.ValidFrom)
	if err != nil {
		return markup.RuleParams{}, err
	}
	validTo, err := parseOptionalDate("valid_to", req.ValidTo)
	if err != nil {
		return markup.RuleParams{}, err
	}

	tiers := make([]markup.Tier, len(req.TieredPricing))
	for i, t := range req.TieredPricing {
		tiers[i] = markup.Tier{Min: t.Min, Max: t.Max, Percentage: t.Percentage}
	}

	return markup.RuleParams{
		Name:        req.Name,
		Description: req.Description,
		Pricing: markup.Pricing{
			Type:        markup.RuleType(req.MarkupType),
			Percentage:  req.MarkupPercentage,
			FixedAmount: req.MarkupFixedAmount,
			Tiers:       tiers,
		},
		Conditions: markup.Conditions{
			Provider:        markup.Provider(req.Provider),
			PropertyType:    req.PropertyType,
			DestinationCode: req.DestinationCode,
			MinPrice:        req.MinPrice,
			MaxPrice:        req.MaxPrice,
			ValidFrom:       validFrom,
			ValidTo:         validTo,
		},
		Priority: req.Priority,
	}, nil
}

func buildPricingContext(base decimal.Decimal, provider, propertyType, destination string, checkIn *string) (markup.PricingContext, error) {
	p, err := markup.ParseProvider(provider)
	if err != nil {
		return markup.PricingContext{}, domain.NewValidationError(err.Error())
	}
	day, err := parseOptionalDate("check_in", checkIn)
	if err != nil {
		return markup.PricingContext{}, err
	}
	pc := markup.PricingContext{
		BasePrice:       base,
		Provider:        p,
		PropertyType:    propertyType,
		DestinationCode: strings.ToUpper(strings.TrimSpace(destination)),
	}
	if day != nil {
		pc.CheckIn = *day
	}
	return pc, nil
}

func actorPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func toMarkupRuleDTO(r *markup.Rule) MarkupRuleDTO {
	p := r.Pricing()
	c := r.Conditions()
	return MarkupRuleDTO{
		ID:                r.ID(),
		Name:              r.Name(),
		Description:       r.Description(),
		MarkupType:        string(p.Type),
		MarkupPercentage:  p.Percentage,
		MarkupFixedAmount: p.FixedAmount,
		TieredPricing:     p.Tiers,
		Provider:          string(c.Provider),
		PropertyType:      c.PropertyType,
		DestinationCode:   c.DestinationCode,
		MinPrice:          c.MinPrice,
		MaxPrice:          c.MaxPrice,
		ValidFrom:         formatDate(c.ValidFrom),
		ValidTo:           formatDate(c.ValidTo),
		Priority:          r.Priority(),
		State:             string(r.State()),
		IsActive:          r.IsActive(),
		IsDefault:         r.IsDefault(),
		CreatedBy:         r.CreatedBy(),
		UpdatedBy:         r.UpdatedBy(),
		RetiredAt:         r.RetiredAt(),
		Version:           r.Version(),
		CreatedAt:         r.CreatedAt(),
		UpdatedAt:         r.UpdatedAt(),
	}
}
