package markup

import (
	"context"

	"github.com/google/uuid"
)

// RuleFilter narrows an admin rule listing. Zero values mean "any".
type RuleFilter struct {
	State    State
	Provider Provider
}

// RuleRepository defines the persistence contract for markup rules.
type RuleRepository interface {
	// FindByID retrieves a rule, including retired ones.
	FindByID(ctx context.Context, id uuid.UUID) (*Rule, error)

	// ListActive returns every active rule ordered by priority desc, created_at desc.
	ListActive(ctx context.Context) ([]*Rule, error)

	// List returns rules matching filter with pagination, in evaluation order.
	List(ctx context.Context, filter RuleFilter, page, limit int) ([]*Rule, int64, error)

	// Save persists a new rule.
	Save(ctx context.Context, rule *Rule) error

	// Update persists changes to an existing rule with optimistic locking.
	Update(ctx context.Context, rule *Rule) error

	// ClearDefault unsets is_default on every rule except keepID.
	ClearDefault(ctx context.Context, keepID uuid.UUID) error
}
