package markup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	rules []*Rule
	err   error
}

func (s staticSource) ActiveRules(context.Context) ([]*Rule, error) { return s.rules, s.err }

func pctRule(t *testing.T, name, pct string, priority int, cond Conditions) *Rule {
	t.Helper()
	return mustRule(t, RuleParams{
		Name:       name,
		Priority:   priority,
		Pricing:    Pricing{Type: TypePercentage, Percentage: decPtr(pct)},
		Conditions: cond,
	})
}

func TestSelectRule_FirstMatchByPriority(t *testing.T) {
	low := pctRule(t, "low", "5", 1, Conditions{})
	high := pctRule(t, "high", "20", 10, Conditions{Provider: ProviderHotelbeds})
	rules := []*Rule{low, high}
	SortForEvaluation(rules)

	got := SelectRule(rules, PricingContext{BasePrice: dec("100"), Provider: ProviderHotelbeds})
	assert.Equal(t, "high", got.Name())

	got = SelectRule(rules, PricingContext{BasePrice: dec("100"), Provider: ProviderOwnerRez})
	assert.Equal(t, "low", got.Name())
}

func TestSortForEvaluation_NewestFirstOnTie(t *testing.T) {
	older := ReconstructRule(uuid.New(), "older", "", Pricing{Type: TypeFixed, FixedAmount: decPtr("1")},
		Conditions{Provider: ProviderAll}, 5, StateActive, false, nil, nil, nil, 1,
		time.Now().Add(-time.Hour), time.Now())
	newer := ReconstructRule(uuid.New(), "newer", "", Pricing{Type: TypeFixed, FixedAmount: decPtr("2")},
		Conditions{Provider: ProviderAll}, 5, StateActive, false, nil, nil, nil, 1,
		time.Now(), time.Now())
	rules := []*Rule{older, newer}

	SortForEvaluation(rules)

	assert.Equal(t, "newer", rules[0].Name())
}

func TestSelectRule_Filters(t *testing.T) {
	from := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC)
	rule := pctRule(t, "summer villas", "12", 1, Conditions{
		Provider:        ProviderOwnerRez,
		PropertyType:    "villa",
		DestinationCode: "pmi",
		MinPrice:        decPtr("100"),
		MaxPrice:        decPtr("1000"),
		ValidFrom:       &from,
		ValidTo:         &to,
	})
	match := PricingContext{
		BasePrice:       dec("250"),
		Provider:        ProviderOwnerRez,
		PropertyType:    "villa",
		DestinationCode: "PMI",
		CheckIn:         time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC),
	}
	require.Same(t, rule, SelectRule([]*Rule{rule}, match))

	cases := map[string]func(pc *PricingContext){
		"provider":      func(pc *PricingContext) { pc.Provider = ProviderHotelbeds },
		"property type": func(pc *PricingContext) { pc.PropertyType = "hotel" },
		"destination":   func(pc *PricingContext) { pc.DestinationCode = "BCN" },
		"below min":     func(pc *PricingContext) { pc.BasePrice = dec("99.99") },
		"above max":     func(pc *PricingContext) { pc.BasePrice = dec("1000.01") },
		"before window": func(pc *PricingContext) { pc.CheckIn = from.Add(-time.Hour) },
		"after window":  func(pc *PricingContext) { pc.CheckIn = to.AddDate(0, 0, 1) },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			pc := match
			mutate(&pc)
			assert.Nil(t, SelectRule([]*Rule{rule}, pc))
		})
	}
}

func TestRuleMatches_TextConditionsAreExact(t *testing.T) {
	rule := pctRule(t, "paris hotels", "10", 1, Conditions{PropertyType: "Hotel", DestinationCode: "PAR"})

	assert.True(t, rule.Matches(PricingContext{BasePrice: dec("100"), PropertyType: "Hotel", DestinationCode: "PAR"}))
	assert.False(t, rule.Matches(PricingContext{BasePrice: dec("100"), PropertyType: "hotel", DestinationCode: "PAR"}))
	assert.False(t, rule.Matches(PricingContext{BasePrice: dec("100"), PropertyType: "Hotel", DestinationCode: "par"}))
}

func TestSelectRule_DefaultFallback(t *testing.T) {
	specific := pctRule(t, "bcn", "25", 10, Conditions{DestinationCode: "BCN"})
	def := pctRule(t, "default", "10", 0, Conditions{DestinationCode: "NOWHERE"})
	require.NoError(t, def.MarkDefault(nil))

	got := SelectRule([]*Rule{specific, def}, PricingContext{BasePrice: dec("100"), DestinationCode: "MAD"})
	assert.Equal(t, "default", got.Name())
}

func TestSelectRule_InactiveDefaultIgnored(t *testing.T) {
	def := pctRule(t, "default", "10", 0, Conditions{DestinationCode: "NOWHERE"})
	require.NoError(t, def.MarkDefault(nil))
	require.NoError(t, def.Toggle(nil))

	assert.Nil(t, SelectRule([]*Rule{def}, PricingContext{BasePrice: dec("100")}))
}

func TestSelectRule_NeverReturnsExcludedProvider(t *testing.T) {
	var rules []*Rule
	for i, p := range []Provider{ProviderHotelbeds, ProviderOwnerRez, ProviderAll, ProviderHotelbeds, ProviderOwnerRez} {
		rules = append(rules, pctRule(t, string(p), "10", i, Conditions{Provider: p, MinPrice: decPtr("50")}))
	}
	SortForEvaluation(rules)

	for _, ctxProvider := range []Provider{ProviderHotelbeds, ProviderOwnerRez} {
		for _, price := range []string{"10", "60", "500"} {
			got := SelectRule(rules, PricingContext{BasePrice: dec(price), Provider: ctxProvider})
			if got == nil {
				continue
			}
			p := got.Conditions().Provider
			assert.True(t, p == ProviderAll || p == ctxProvider, "rule %s selected for %s", p, ctxProvider)
		}
	}
}

func TestResolver_Quote(t *testing.T) {
	rule := pctRule(t, "all", "15", 0, Conditions{Provider: ProviderAll})
	r := NewResolver(staticSource{rules: []*Rule{rule}})

	res, err := r.Quote(context.Background(), PricingContext{BasePrice: dec("200.00"), Provider: ProviderHotelbeds})
	require.NoError(t, err)
	assert.True(t, res.FinalPrice.Equal(dec("230.00")))

	empty := NewResolver(staticSource{})
	res, err = empty.Quote(context.Background(), PricingContext{BasePrice: dec("80.00"), Provider: ProviderHotelbeds})
	require.NoError(t, err)
	assert.True(t, res.MarkupAmount.IsZero())
	assert.True(t, res.FinalPrice.Equal(dec("80.00")))
}

func TestResolver_QuoteSkipsLookupForNonPositiveBase(t *testing.T) {
	r := NewResolver(staticSource{err: errors.New("store down")})

	res, err := r.Quote(context.Background(), PricingContext{BasePrice: dec("0")})
	require.NoError(t, err)
	assert.True(t, res.FinalPrice.IsZero())
}

func TestResolver_PropagatesSourceError(t *testing.T) {
	r := NewResolver(staticSource{err: errors.New("store down")})

	_, err := r.Resolve(context.Background(), PricingContext{BasePrice: dec("10")})
	assert.Error(t, err)
}
