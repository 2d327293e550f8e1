package pricing

import (
	"sort"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
)

// Links are the surcharge ids attached to a product directly and to its
// primary supplier.
type Links struct {
	Product  map[string]bool
	Supplier map[string]bool
}

func NewLinks(productLinks []domain.ProductSurcharge, supplierLinks []domain.SupplierSurcharge) Links {
	links := Links{Product: map[string]bool{}, Supplier: map[string]bool{}}
	for _, link := range productLinks {
		links.Product[link.SurchargeID] = true
	}
	for _, link := range supplierLinks {
		links.Supplier[link.SurchargeID] = true
	}
	return links
}

// EligibleSurcharges returns the active surcharges of source that reach the
// product through links, in application order.
func EligibleSurcharges(all []domain.Surcharge, links Links, source domain.SurchargeSource) []domain.Surcharge {
	out := make([]domain.Surcharge, 0, len(all))
	for _, s := range all {
		if !s.IsActive || s.Source != source {
			continue
		}
		switch s.Type {
		case domain.SurchargeProduct:
			if !links.Product[s.ID] {
				continue
			}
		case domain.SurchargeSupplier:
			if !links.Supplier[s.ID] {
				continue
			}
		default:
			continue
		}
		out = append(out, s)
	}
	SortSurcharges(out)
	return out
}

// Layer applies surcharges in order, each on the running total left by the
// previous ones. Rounding happens once on the result; line amounts are
// rounded for display only.
func Layer(base decimal.Decimal, surcharges []domain.Surcharge) (decimal.Decimal, []domain.SurchargeLine) {
	running := base
	lines := make([]domain.SurchargeLine, 0, len(surcharges))
	for _, s := range surcharges {
		amount := costAmount(running, s.CostType, s.CostValue)
		running = running.Add(amount)
		lines = append(lines, domain.SurchargeLine{
			ID:           s.ID,
			Name:         s.Name,
			CostType:     s.CostType,
			CostValue:    s.CostValue,
			Amount:       RoundMoney(amount),
			RunningTotal: RoundMoney(running),
		})
	}
	return RoundMoney(running), lines
}

// LayerOtherCosts applies the active other costs by name, then id.
func LayerOtherCosts(base decimal.Decimal, costs []domain.OtherCost) (decimal.Decimal, []domain.SurchargeLine) {
	active := make([]domain.OtherCost, 0, len(costs))
	for _, c := range costs {
		if c.IsActive {
			active = append(active, c)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Name != active[j].Name {
			return active[i].Name < active[j].Name
		}
		return active[i].ID < active[j].ID
	})

	running := base
	lines := make([]domain.SurchargeLine, 0, len(active))
	for _, c := range active {
		amount := costAmount(running, c.CostType, c.CostValue)
		running = running.Add(amount)
		lines = append(lines, domain.SurchargeLine{
			ID:           c.ID,
			Name:         c.Name,
			CostType:     c.CostType,
			CostValue:    c.CostValue,
			Amount:       RoundMoney(amount),
			RunningTotal: RoundMoney(running),
		})
	}
	return RoundMoney(running), lines
}

func costAmount(running decimal.Decimal, costType domain.DiscountType, value decimal.Decimal) decimal.Decimal {
	if costType == domain.DiscountAmount {
		return value
	}
	return running.Mul(value.Div(hundred))
}
