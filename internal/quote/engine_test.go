package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/store/memory"
)

var fixedNow = time.Date(2026, 6, 15, 9, 0, 0, 0, time.UTC)

func newTestEngine(repo Reader, c *mapCache) *Engine {
	var engine *Engine
	if c == nil {
		engine = NewEngine(repo, nil, 0, zerolog.Nop())
	} else {
		engine = NewEngine(repo, c, time.Minute, zerolog.Nop())
	}
	engine.now = func() time.Time { return fixedNow }
	return engine
}

type mapCache struct {
	mu         sync.Mutex
	items      map[string]*domain.Quote
	generation int64
	hits       int
}

func newMapCache() *mapCache {
	return &mapCache{items: map[string]*domain.Quote{}}
}

func (c *mapCache) Get(_ context.Context, key string) (*domain.Quote, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	q, ok := c.items[key]
	if ok {
		c.hits++
	}
	return q, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, value *domain.Quote, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
	return nil
}

func (c *mapCache) Generation(_ context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation, nil
}

func (c *mapCache) Bump(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generation++
	return nil
}

func mustEqual(t *testing.T, label string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Fatalf("%s: expected %s, got %s", label, want, got)
	}
}

func TestQuoteWithoutContextsUsesCalculationPrice(t *testing.T) {
	engine := newTestEngine(memory.NewSeeded(), nil)

	q, err := engine.Quote(context.Background(), domain.QuoteRequest{ProductID: "prd-milk"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	// 10.00 less 5% from Arla, then freight 3% and handling 2% compounded.
	mustEqual(t, "calculation base", q.CalculationBase, "9.50")
	mustEqual(t, "calculation price", q.CalculationPrice, "9.98")
	if len(q.CalculationSurcharges) != 2 || q.CalculationSurcharges[0].ID != "sur-freight" {
		t.Fatalf("unexpected calculation surcharges %+v", q.CalculationSurcharges)
	}
	if q.NetSource != NetSourceCalculation {
		t.Fatalf("expected calculation source, got %s", q.NetSource)
	}
	mustEqual(t, "final price", q.FinalPrice, "10.98")
	mustEqual(t, "margin", q.MarginPercentage, "4.8")
	if len(q.OtherCosts) != 0 {
		t.Fatalf("inactive other cost applied: %+v", q.OtherCosts)
	}
}

func TestQuotePicksCheapestContextAndVetoesCampaign(t *testing.T) {
	engine := newTestEngine(memory.NewSeeded(), nil)

	q, err := engine.Quote(context.Background(), domain.QuoteRequest{
		ProductID:            "prd-milk",
		ContractID:           "ctr-ica",
		CustomerPriceGroupID: "cpg-b2b",
		CampaignID:           "cmp-summer",
	})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if len(q.Contexts) != 3 {
		t.Fatalf("expected three context prices, got %d", len(q.Contexts))
	}

	contract, group, campaign := q.Contexts[0], q.Contexts[1], q.Contexts[2]
	if contract.RuleID != "rule-ica-milk" || !contract.Applied {
		t.Fatalf("unexpected contract price %+v", contract)
	}
	mustEqual(t, "contract sum", contract.NetPrice, "12.60")
	if group.RuleID != "rule-b2b-milk" || !group.Applied {
		t.Fatalf("unexpected group price %+v", group)
	}
	mustEqual(t, "group price", group.NetPrice, "12.50")
	if !campaign.Suppressed || campaign.Applied {
		t.Fatalf("campaign should be vetoed by the contract, got %+v", campaign)
	}

	if q.NetSource != string(domain.ContextCustomerPriceGroup) {
		t.Fatalf("expected customer price group to win, got %s", q.NetSource)
	}
	mustEqual(t, "net", q.NetPrice, "12.50")
	mustEqual(t, "final", q.FinalPrice, "13.50")
	mustEqual(t, "margin", q.MarginPercentage, "24.0")
}

func TestQuoteCampaignAppliesWithoutContract(t *testing.T) {
	engine := newTestEngine(memory.NewSeeded(), nil)

	q, err := engine.Quote(context.Background(), domain.QuoteRequest{ProductID: "prd-milk", CampaignID: "cmp-summer"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	mustEqual(t, "campaign net", q.NetPrice, "8.48")
	mustEqual(t, "final", q.FinalPrice, "9.48")
}

func TestQuoteWhitelistedContractRuleAllowsCampaign(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	rule, err := repo.GetRule(ctx, "rule-ica-milk")
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	rule.CampaignWhitelist = true
	if _, err := repo.UpdateRule(ctx, *rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	q, err := newTestEngine(repo, nil).Quote(ctx, domain.QuoteRequest{ProductID: "prd-milk", ContractID: "ctr-ica", CampaignID: "cmp-summer"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Contexts[1].Applied {
		t.Fatalf("whitelisted rule must let the campaign through: %+v", q.Contexts[1])
	}
	if q.NetSource != string(domain.ContextCampaign) {
		t.Fatalf("expected campaign to be cheapest, got %s", q.NetSource)
	}
}

func TestQuoteBroadRuleDiscountsCalculationPrice(t *testing.T) {
	engine := newTestEngine(memory.NewSeeded(), nil)

	q, err := engine.Quote(context.Background(), domain.QuoteRequest{ProductID: "prd-bread", ContractID: "ctr-ica", CampaignID: "cmp-summer"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	mustEqual(t, "calculation price", q.CalculationPrice, "18.40")
	if q.Contexts[0].RuleID != "rule-ica-all" || q.Contexts[0].Scope != domain.ScopeAll {
		t.Fatalf("unexpected contract resolution %+v", q.Contexts[0])
	}
	mustEqual(t, "contract net", q.NetPrice, "18.03")
	if !q.Contexts[1].Suppressed {
		t.Fatalf("all-scope contract rule vetoes the campaign too: %+v", q.Contexts[1])
	}
}

func TestQuoteWithoutMatchingRuleFallsBackToPurchasePrice(t *testing.T) {
	engine := newTestEngine(memory.NewSeeded(), nil)

	q, err := engine.Quote(context.Background(), domain.QuoteRequest{ProductID: "prd-dish", CampaignID: "cmp-summer"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if q.Contexts[0].Applied || q.Contexts[0].RuleID != "" {
		t.Fatalf("no rule should match a home product: %+v", q.Contexts[0])
	}
	mustEqual(t, "net", q.NetPrice, "21.00")
	mustEqual(t, "final", q.FinalPrice, "21.00")
	mustEqual(t, "margin", q.MarginPercentage, "0")
}

func TestQuoteExcludedRuleGrantsNoPrice(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	rule, _ := repo.GetRule(ctx, "rule-ica-milk")
	rule.Excluded = true
	if _, err := repo.UpdateRule(ctx, *rule); err != nil {
		t.Fatalf("update rule: %v", err)
	}

	q, err := newTestEngine(repo, nil).Quote(ctx, domain.QuoteRequest{ProductID: "prd-milk", ContractID: "ctr-ica", CampaignID: "cmp-summer"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.Contexts[0].Excluded || q.Contexts[0].Applied {
		t.Fatalf("expected excluded contract price, got %+v", q.Contexts[0])
	}
	if !q.Contexts[1].Applied {
		t.Fatalf("an excluded contract rule does not veto campaigns: %+v", q.Contexts[1])
	}
}

func TestQuoteUnknownContext(t *testing.T) {
	engine := newTestEngine(memory.NewSeeded(), nil)

	_, err := engine.Quote(context.Background(), domain.QuoteRequest{ProductID: "prd-milk", ContractID: "ctr-missing"})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestQuoteIsCachedUntilInvalidated(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSeeded()
	c := newMapCache()
	engine := newTestEngine(repo, c)
	req := domain.QuoteRequest{ProductID: "prd-dish"}

	if _, err := engine.Quote(ctx, req); err != nil {
		t.Fatalf("quote: %v", err)
	}
	product, _ := repo.GetProduct(ctx, "prd-dish")
	product.PurchasePrice = decimal.RequireFromString("25.00")
	if _, err := repo.UpdateProduct(ctx, *product); err != nil {
		t.Fatalf("update product: %v", err)
	}

	cached, err := engine.Quote(ctx, req)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if c.hits != 1 {
		t.Fatalf("expected a cache hit, got %d", c.hits)
	}
	mustEqual(t, "cached net", cached.NetPrice, "21.00")

	engine.Invalidate(ctx)
	fresh, err := engine.Quote(ctx, req)
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	mustEqual(t, "fresh net", fresh.NetPrice, "25.00")
}

func TestRulePrice(t *testing.T) {
	calc := decimal.RequireFromString("100")
	cases := []struct {
		name string
		rule domain.PricingRule
		want string
	}{
		{
			name: "customer group single uses its own price",
			rule: domain.PricingRule{ContextType: domain.ContextCustomerPriceGroup, Scope: domain.SingleProduct("p"), BasePrice: decimal.NewNullDecimal(decimal.RequireFromString("80")), DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(50)},
			want: "80",
		},
		{
			name: "contract single discounts its price",
			rule: domain.PricingRule{ContextType: domain.ContextContract, Scope: domain.SingleProduct("p"), BasePrice: decimal.NewNullDecimal(decimal.RequireFromString("200")), DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(10)},
			want: "180",
		},
		{
			name: "campaign single without price falls back to calculation price",
			rule: domain.PricingRule{ContextType: domain.ContextCampaign, Scope: domain.SingleProduct("p"), DiscountType: domain.DiscountAmount, DiscountValue: decimal.NewFromInt(5)},
			want: "95",
		},
		{
			name: "group rule discounts calculation price",
			rule: domain.PricingRule{ContextType: domain.ContextCustomerPriceGroup, Scope: domain.ProductGroupScope("g"), DiscountType: domain.DiscountPercent, DiscountValue: decimal.NewFromInt(5)},
			want: "95",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mustEqual(t, tc.name, RulePrice(tc.rule, calc), tc.want)
		})
	}
}

func TestBuildCacheKeyChangesWithGeneration(t *testing.T) {
	req := domain.QuoteRequest{ProductID: "prd-milk", Quantity: 1}
	if buildCacheKey(req, fixedNow, 1) == buildCacheKey(req, fixedNow, 2) {
		t.Fatalf("generation must be part of the key")
	}
	if buildCacheKey(req, fixedNow, 1) != buildCacheKey(req, fixedNow.Add(time.Hour), 1) {
		t.Fatalf("same day should share a key")
	}
}
