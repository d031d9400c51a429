package markup

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// DefaultCacheTTL bounds how long an active-rule set is served without reloading.
const DefaultCacheTTL = 30 * time.Minute

// RuleLoader reads the active rule set from the system of record.
type RuleLoader interface {
	ListActive(ctx context.Context) ([]*Rule, error)
}

// SharedCache is a cross-instance cache of the active rule set. Load returns
// a token naming the cache generation; Store only lands under that token, so
// a load that races an Invalidate can never overwrite the newer generation.
type SharedCache interface {
	Load(ctx context.Context) (token string, rules []*Rule, found bool, err error)
	Store(ctx context.Context, token string, rules []*Rule, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

// CacheOption configures a RuleCache.
type CacheOption func(*RuleCache)

// WithSharedCache adds a second-level cache shared between instances.
func WithSharedCache(shared SharedCache) CacheOption {
	return func(c *RuleCache) { c.shared = shared }
}

// WithSharedErrorHandler receives shared cache failures, which never fail a read.
func WithSharedErrorHandler(fn func(error)) CacheOption {
	return func(c *RuleCache) { c.onSharedError = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CacheOption {
	return func(c *RuleCache) { c.now = now }
}

// RuleCache is a read-through cache of the active rule set. It implements
// ActiveRuleSource.
//
// Every Invalidate bumps a generation counter. A load started under an older
// generation is returned to its caller but never stored, so once Invalidate
// returns no later read is served from data loaded before it.
type RuleCache struct {
	loader        RuleLoader
	shared        SharedCache
	ttl           time.Duration
	now           func() time.Time
	onSharedError func(error)

	mu         sync.RWMutex
	rules      []*Rule
	expiresAt  time.Time
	generation uint64

	flight singleflight.Group
}

// NewRuleCache creates a RuleCache over loader. A non-positive ttl uses DefaultCacheTTL.
func NewRuleCache(loader RuleLoader, ttl time.Duration, opts ...CacheOption) *RuleCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	c := &RuleCache{
		loader:        loader,
		ttl:           ttl,
		now:           time.Now,
		onSharedError: func(error) {},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActiveRules returns the active rules in evaluation order.
func (c *RuleCache) ActiveRules(ctx context.Context) ([]*Rule, error) {
	c.mu.RLock()
	if c.rules != nil && c.now().Before(c.expiresAt) {
		rules := append([]*Rule(nil), c.rules...)
		c.mu.RUnlock()
		return rules, nil
	}
	gen := c.generation
	c.mu.RUnlock()

	v, err, _ := c.flight.Do(strconv.FormatUint(gen, 10), func() (interface{}, error) {
		rules, err := c.load(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if c.generation == gen {
			c.rules = rules
			c.expiresAt = c.now().Add(c.ttl)
		}
		c.mu.Unlock()
		return rules, nil
	})
	if err != nil {
		return nil, err
	}
	return append([]*Rule(nil), v.([]*Rule)...), nil
}

// Invalidate drops the cached rule set locally and in the shared cache.
func (c *RuleCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	c.generation++
	c.rules = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()

	if c.shared != nil {
		return c.shared.Invalidate(ctx)
	}
	return nil
}

// InvalidateLocal drops only the in-process copy. Used when another instance
// has already invalidated the shared cache.
func (c *RuleCache) InvalidateLocal() {
	c.mu.Lock()
	c.generation++
	c.rules = nil
	c.expiresAt = time.Time{}
	c.mu.Unlock()
}

func (c *RuleCache) load(ctx context.Context) ([]*Rule, error) {
	token := ""
	if c.shared != nil {
		t, rules, found, err := c.shared.Load(ctx)
		switch {
		case err != nil:
			c.onSharedError(err)
		case found:
			return rules, nil
		default:
			token = t
		}
	}

	rules, err := c.loader.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		rules = []*Rule{}
	}
	SortForEvaluation(rules)

	if token != "" {
		if err := c.shared.Store(ctx, token, rules, c.ttl); err != nil {
			c.onSharedError(err)
		}
	}
	return rules, nil
}
