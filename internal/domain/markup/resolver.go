package markup

import (
	"context"
	"sort"
)

// ActiveRuleSource supplies the current active rule set.
type ActiveRuleSource interface {
	ActiveRules(ctx context.Context) ([]*Rule, error)
}

// Resolver picks the rule that prices a given PricingContext.
type Resolver struct {
	source ActiveRuleSource
}

// NewResolver creates a Resolver reading from source.
func NewResolver(source ActiveRuleSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the first matching active rule, falling back to the active
// default rule. It returns nil when neither exists.
func (r *Resolver) Resolve(ctx context.Context, pc PricingContext) (*Rule, error) {
	rules, err := r.source.ActiveRules(ctx)
	if err != nil {
		return nil, err
	}
	return SelectRule(rules, pc), nil
}

// Quote resolves a rule for pc and prices pc.BasePrice with it.
func (r *Resolver) Quote(ctx context.Context, pc PricingContext) (Result, error) {
	if !pc.BasePrice.IsPositive() {
		return Calculate(pc.BasePrice, nil), nil
	}
	rule, err := r.Resolve(ctx, pc)
	if err != nil {
		return Result{}, err
	}
	return Calculate(pc.BasePrice, rule), nil
}

// SelectRule evaluates rules in order and returns the first active match, or
// the first active default when nothing matches. rules must already be in
// evaluation order (see SortForEvaluation).
func SelectRule(rules []*Rule, pc PricingContext) *Rule {
	for _, rule := range rules {
		if rule.IsActive() && rule.Matches(pc) {
			return rule
		}
	}
	for _, rule := range rules {
		if rule.IsActive() && rule.isDefault {
			return rule
		}
	}
	return nil
}

// SortForEvaluation orders rules by priority descending, newest first on ties.
func SortForEvaluation(rules []*Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].priority != rules[j].priority {
			return rules[i].priority > rules[j].priority
		}
		return rules[i].createdAt.After(rules[j].createdAt)
	})
}
