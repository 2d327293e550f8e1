package quote

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"prisportal/backend/internal/cache"
	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/pricing"
)

const NetSourceCalculation = "calculation_price"

// Reader is the slice of the repository a quote needs.
type Reader interface {
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	ListProductSuppliers(ctx context.Context, productID string) ([]domain.ProductSupplier, error)
	GetContext(ctx context.Context, contextType domain.ContextType, id string) (*domain.PricingContext, error)
	FindRules(ctx context.Context, contextType domain.ContextType, contextID string) ([]domain.PricingRule, error)
	ListSurcharges(ctx context.Context) ([]domain.Surcharge, error)
	ListProductSurcharges(ctx context.Context, productID string) ([]domain.ProductSurcharge, error)
	ListSupplierSurcharges(ctx context.Context, supplierID string) ([]domain.SupplierSurcharge, error)
	ListOtherCosts(ctx context.Context) ([]domain.OtherCost, error)
}

type Engine struct {
	repo     Reader
	cache    cache.QuoteCache
	cacheTTL time.Duration
	logger   zerolog.Logger
	now      func() time.Time
}

func NewEngine(repo Reader, cacheStore cache.QuoteCache, cacheTTL time.Duration, logger zerolog.Logger) *Engine {
	if cacheStore == nil {
		cacheStore = cache.NoopQuoteCache{}
	}
	if cacheTTL <= 0 {
		cacheTTL = 20 * time.Second
	}

	return &Engine{
		repo:     repo,
		cache:    cacheStore,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Invalidate drops every cached quote.
func (e *Engine) Invalidate(ctx context.Context) {
	if err := e.cache.Bump(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("bump quote cache generation")
	}
}

// Quote prices one product for the requested contexts: supplier net price,
// calculation surcharges, the cheapest applicable context price, final
// surcharges and other costs.
func (e *Engine) Quote(ctx context.Context, req domain.QuoteRequest) (*domain.Quote, error) {
	now := e.now()
	at := now
	if req.At != nil {
		at = *req.At
	}
	if req.Quantity < 1 {
		req.Quantity = 1
	}

	useCache := true
	generation, err := e.cache.Generation(ctx)
	if err != nil {
		useCache = false
		e.logger.Warn().Err(err).Str("product_id", req.ProductID).Msg("read quote cache generation")
	}
	cacheKey := buildCacheKey(req, at, generation)
	if useCache {
		if cached, ok, err := e.cache.Get(ctx, cacheKey); err == nil && ok {
			return cached, nil
		}
	}

	product, err := e.repo.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, fmt.Errorf("load product %s: %w", req.ProductID, err)
	}

	calcBase, supplierID, err := e.calculationBase(ctx, *product)
	if err != nil {
		return nil, err
	}
	links, err := e.links(ctx, product.ID, supplierID)
	if err != nil {
		return nil, err
	}
	surcharges, err := e.repo.ListSurcharges(ctx)
	if err != nil {
		return nil, fmt.Errorf("list surcharges: %w", err)
	}
	calcPrice, calcLines := pricing.Layer(calcBase, pricing.EligibleSurcharges(surcharges, links, domain.SourceCalculationPrice))

	contexts, err := e.contextPrices(ctx, *product, req, at, calcPrice)
	if err != nil {
		return nil, err
	}

	net, source := calcPrice, NetSourceCalculation
	for _, cp := range contexts {
		if cp.Applied && (source == NetSourceCalculation || cp.NetPrice.LessThan(net)) {
			net, source = cp.NetPrice, string(cp.ContextType)
		}
	}

	afterSurcharges, finalLines := pricing.Layer(net, pricing.EligibleSurcharges(surcharges, links, domain.SourceFinalPrice))
	costs, err := e.repo.ListOtherCosts(ctx)
	if err != nil {
		return nil, fmt.Errorf("list other costs: %w", err)
	}
	final, costLines := pricing.LayerOtherCosts(afterSurcharges, costs)

	quote := &domain.Quote{
		ProductID:             product.ID,
		ProductCode:           product.Code,
		PurchasePrice:         product.PurchasePrice,
		CalculationBase:       pricing.RoundMoney(calcBase),
		CalculationSurcharges: calcLines,
		CalculationPrice:      calcPrice,
		Contexts:              contexts,
		NetPrice:              net,
		NetSource:             source,
		FinalSurcharges:       finalLines,
		OtherCosts:            costLines,
		FinalPrice:            final,
		MarginPercentage:      pricing.RoundedMargin(product.PurchasePrice, net),
		ComputedAt:            now.UTC(),
	}

	if useCache {
		if err := e.cache.Set(ctx, cacheKey, quote, e.cacheTTL); err != nil {
			e.logger.Warn().Err(err).Str("product_id", product.ID).Msg("write quote cache")
		}
	}
	return quote, nil
}

// calculationBase is the primary supplier's net price, or the purchase price
// when the product has no primary supplier.
func (e *Engine) calculationBase(ctx context.Context, product domain.Product) (decimal.Decimal, string, error) {
	rows, err := e.repo.ListProductSuppliers(ctx, product.ID)
	if err != nil {
		return decimal.Zero, "", fmt.Errorf("list suppliers of %s: %w", product.ID, err)
	}
	for _, row := range rows {
		if row.IsPrimary {
			return pricing.SupplierNetPrice(row), row.SupplierID, nil
		}
	}
	return product.PurchasePrice, "", nil
}

func (e *Engine) links(ctx context.Context, productID, supplierID string) (pricing.Links, error) {
	productLinks, err := e.repo.ListProductSurcharges(ctx, productID)
	if err != nil {
		return pricing.Links{}, fmt.Errorf("list product surcharges: %w", err)
	}
	var supplierLinks []domain.SupplierSurcharge
	if supplierID != "" {
		supplierLinks, err = e.repo.ListSupplierSurcharges(ctx, supplierID)
		if err != nil {
			return pricing.Links{}, fmt.Errorf("list supplier surcharges: %w", err)
		}
	}
	return pricing.NewLinks(productLinks, supplierLinks), nil
}

// contextPrices resolves the contract first because its rule can veto the campaign.
func (e *Engine) contextPrices(ctx context.Context, product domain.Product, req domain.QuoteRequest, at time.Time, calcPrice decimal.Decimal) ([]domain.ContextPrice, error) {
	target := pricing.TargetOf(product)
	out := make([]domain.ContextPrice, 0, 3)

	var contract *domain.PricingContext
	var contractRule *domain.PricingRule

	requested := []struct {
		kind domain.ContextType
		id   string
	}{
		{domain.ContextContract, req.ContractID},
		{domain.ContextCustomerPriceGroup, req.CustomerPriceGroupID},
		{domain.ContextCampaign, req.CampaignID},
	}
	for _, r := range requested {
		id := strings.TrimSpace(r.id)
		if id == "" {
			continue
		}
		pc, err := e.repo.GetContext(ctx, r.kind, id)
		if err != nil {
			return nil, fmt.Errorf("load %s %s: %w", r.kind, id, err)
		}
		rules, err := e.repo.FindRules(ctx, r.kind, id)
		if err != nil {
			return nil, fmt.Errorf("find rules of %s %s: %w", r.kind, id, err)
		}

		cp := domain.ContextPrice{ContextType: r.kind, ContextID: id}
		rule, ok := pricing.Resolve(target, rules, *pc, at, req.Quantity)
		if !ok {
			out = append(out, cp)
			continue
		}
		cp.RuleID = rule.ID
		cp.Scope = rule.Scope.Kind()
		cp.DiscountType = rule.DiscountType
		cp.DiscountValue = rule.DiscountValue

		if r.kind == domain.ContextContract {
			contract, contractRule = pc, &rule
		}
		switch {
		case rule.Excluded:
			cp.Excluded = true
		case r.kind == domain.ContextCampaign && !pricing.CampaignAllowed(contractRule, contract):
			cp.Suppressed = true
		default:
			cp.NetPrice = RulePrice(rule, calcPrice)
			cp.Applied = true
		}
		out = append(out, cp)
	}
	return out, nil
}

// RulePrice is the net price a resolved rule grants. Single-product rules
// carry their own price; broader rules discount the calculation price.
func RulePrice(rule domain.PricingRule, calcPrice decimal.Decimal) decimal.Decimal {
	if !rule.Scope.IsSingle() {
		return pricing.ApplyDiscount(calcPrice, rule.DiscountType, rule.DiscountValue)
	}
	price := calcPrice
	if rule.BasePrice.Valid {
		price = rule.BasePrice.Decimal
	}
	if rule.ContextType == domain.ContextCustomerPriceGroup {
		return pricing.RoundMoney(price)
	}
	return pricing.ApplyDiscount(price, rule.DiscountType, rule.DiscountValue)
}

func buildCacheKey(req domain.QuoteRequest, at time.Time, generation int64) string {
	parts := []string{
		req.ProductID,
		"c:" + req.ContractID,
		"g:" + req.CustomerPriceGroupID,
		"k:" + req.CampaignID,
		fmt.Sprintf("q:%d", req.Quantity),
		"d:" + at.Format(domain.DateLayout),
		fmt.Sprintf("v:%d", generation),
	}

	hash := sha1.Sum([]byte(strings.Join(parts, "|")))
	return "pricing:quote:" + hex.EncodeToString(hash[:])
}
