package pricing

import (
	"sort"
	"time"

	"prisportal/backend/internal/domain"
)

// Target is the hierarchy position of a product as seen by rule scopes.
type Target struct {
	ProductID      string
	ProductGroupID string
	DepartmentID   string
}

func TargetOf(product domain.Product) Target {
	return Target{
		ProductID:      product.ID,
		ProductGroupID: product.ProductGroupID,
		DepartmentID:   product.DepartmentID,
	}
}

// Eligible reports whether rule may apply on the day of at for the given order
// quantity. The rule's own validity window replaces the context's when either
// rule bound is set.
func Eligible(rule domain.PricingRule, pc domain.PricingContext, at time.Time, quantity int) bool {
	if pc.Status == domain.ContextExpired {
		return false
	}

	from, to := pc.ValidFrom, pc.ValidTo
	if rule.ValidFrom != nil || rule.ValidTo != nil {
		from, to = rule.ValidFrom, rule.ValidTo
	}
	day := dayOf(at)
	if from != nil && day.Before(dayOf(*from)) {
		return false
	}
	if to != nil && day.After(dayOf(*to)) {
		return false
	}

	if rule.QuantityThreshold != nil {
		if quantity < 1 {
			quantity = 1
		}
		if quantity < *rule.QuantityThreshold {
			return false
		}
	}
	return true
}

// Resolve picks the single applicable rule of one context for target.
// A more specific scope shadows every broader one; among several eligible
// rules of the same scope the higher quantity threshold wins, then the later
// validity start, then the lower id. An excluded rule can win, which means
// the context grants no price for the product.
func Resolve(target Target, rules []domain.PricingRule, pc domain.PricingContext, at time.Time, quantity int) (domain.PricingRule, bool) {
	candidates := make([]domain.PricingRule, 0, len(rules))
	for _, rule := range rules {
		if rule.ContextType != pc.Type || rule.ContextID != pc.ID {
			continue
		}
		if !rule.Scope.Matches(target.ProductID, target.ProductGroupID, target.DepartmentID) {
			continue
		}
		if !Eligible(rule, pc, at, quantity) {
			continue
		}
		candidates = append(candidates, rule)
	}
	if len(candidates) == 0 {
		return domain.PricingRule{}, false
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return precedes(candidates[i], candidates[j])
	})
	return candidates[0], true
}

func precedes(a, b domain.PricingRule) bool {
	if ra, rb := a.Scope.Kind().Rank(), b.Scope.Kind().Rank(); ra != rb {
		return ra > rb
	}
	if ta, tb := threshold(a), threshold(b); ta != tb {
		return ta > tb
	}
	switch {
	case a.ValidFrom != nil && b.ValidFrom == nil:
		return true
	case a.ValidFrom == nil && b.ValidFrom != nil:
		return false
	case a.ValidFrom != nil && b.ValidFrom != nil && !a.ValidFrom.Equal(*b.ValidFrom):
		return a.ValidFrom.After(*b.ValidFrom)
	}
	return a.ID < b.ID
}

func threshold(rule domain.PricingRule) int {
	if rule.QuantityThreshold == nil {
		return 0
	}
	return *rule.QuantityThreshold
}

// CampaignAllowed is the cross-context veto consulted before a campaign price
// is reconciled. A contract that excludes campaigns vetoes them for every
// product its resolved rule prices, unless that rule is whitelisted.
func CampaignAllowed(contractRule *domain.PricingRule, contract *domain.PricingContext) bool {
	if contractRule == nil || contract == nil {
		return true
	}
	if contractRule.Excluded || !contract.ExcludeFromCampaigns {
		return true
	}
	return contractRule.CampaignWhitelist
}

func dayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
