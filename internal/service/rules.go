package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/pricing"
	"prisportal/backend/internal/quote"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/xid"
)

// Grid columns accepted by EditCell.
const (
	FieldBasePrice        = "base_price"
	FieldDiscountType     = "discount_type"
	FieldDiscountValue    = "discount_value"
	FieldMarginPercentage = "margin_percentage"
	FieldFinalPrice       = "final_price"
)

// ListRules returns the rules of one context, single-product rows with their
// display fields.
func (s *Service) ListRules(ctx context.Context, rawType domain.ContextType, contextID string) ([]domain.RuleView, error) {
	pc, err := s.GetContext(ctx, rawType, contextID)
	if err != nil {
		return nil, err
	}
	rules, err := s.repo.FindRules(ctx, pc.Type, pc.ID)
	if err != nil {
		return nil, err
	}

	purchases := make(map[string]decimal.Decimal)
	views := make([]domain.RuleView, 0, len(rules))
	for _, rule := range rules {
		view := domain.RuleView{PricingRule: rule}
		if rule.Scope.IsSingle() {
			productID := rule.Scope.ProductID()
			purchase, ok := purchases[productID]
			if !ok {
				product, err := s.repo.GetProduct(ctx, productID)
				if err != nil {
					return nil, fmt.Errorf("load product %s of rule %s: %w", productID, rule.ID, err)
				}
				purchase = product.PurchasePrice
				purchases[productID] = purchase
			}
			derived := s.derive(rule, purchase)
			view.Derived = &derived
		}
		views = append(views, view)
	}
	return views, nil
}

func (s *Service) GetRule(ctx context.Context, id string) (domain.PricingRule, error) {
	rule, err := s.repo.GetRule(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PricingRule{}, err
	}
	return *rule, nil
}

func (s *Service) CreateRule(ctx context.Context, rawType domain.ContextType, contextID string, req domain.RuleCreateRequest) (domain.PricingRule, error) {
	pc, err := s.GetContext(ctx, rawType, contextID)
	if err != nil {
		return domain.PricingRule{}, err
	}
	scope, err := domain.ScopeFromFields(req.ProductType, req.ProductID, req.ProductGroupID, req.DepartmentID)
	if err != nil {
		return domain.PricingRule{}, scopeInvalid(err)
	}
	if err := s.requireTarget(ctx, scope); err != nil {
		return domain.PricingRule{}, err
	}

	dtype := normalizeDiscountType(req.DiscountType)
	discount := decimal.Zero
	if req.DiscountValue != nil {
		discount = *req.DiscountValue
	}
	if err := validateDiscount(FieldDiscountType, FieldDiscountValue, dtype, discount); err != nil {
		return domain.PricingRule{}, err
	}
	from, err := parseDate("valid_from", req.ValidFrom)
	if err != nil {
		return domain.PricingRule{}, err
	}
	to, err := parseDate("valid_to", req.ValidTo)
	if err != nil {
		return domain.PricingRule{}, err
	}
	if err := checkWindow(from, to); err != nil {
		return domain.PricingRule{}, err
	}
	if req.QuantityThreshold != nil && *req.QuantityThreshold < 1 {
		return domain.PricingRule{}, store.Invalid("quantity_threshold", "must be at least 1")
	}
	if req.CampaignWhitelist && pc.Type != domain.ContextContract {
		return domain.PricingRule{}, store.Invalid("campaign_whitelist", "only contract rules can be whitelisted")
	}

	now := s.now().UTC()
	rule := domain.PricingRule{
		ID:                xid.New("rule"),
		ContextType:       pc.Type,
		ContextID:         pc.ID,
		Scope:             scope,
		DiscountType:      dtype,
		DiscountValue:     pricing.RoundMoney(discount),
		ValidFrom:         from,
		ValidTo:           to,
		QuantityThreshold: req.QuantityThreshold,
		Excluded:          req.Excluded,
		CampaignWhitelist: req.CampaignWhitelist,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.BasePrice != nil {
		if !scope.IsSingle() {
			return domain.PricingRule{}, store.Invalid(FieldBasePrice, "only single-product rules carry a price")
		}
		if err := validateMoney(FieldBasePrice, *req.BasePrice); err != nil {
			return domain.PricingRule{}, err
		}
		rule.BasePrice = decimal.NewNullDecimal(pricing.RoundMoney(*req.BasePrice))
	}

	if scope.IsSingle() {
		product, err := s.repo.GetProduct(ctx, scope.ProductID())
		if err != nil {
			return domain.PricingRule{}, err
		}
		reconcileRule(&rule, product.PurchasePrice)
	}
	if scope.Kind() == domain.ScopeAll {
		if err := s.rejectDuplicateAllRule(ctx, rule); err != nil {
			return domain.PricingRule{}, err
		}
	}

	saved, err := s.repo.CreateRule(ctx, rule)
	if err != nil {
		return domain.PricingRule{}, err
	}

	s.publish(ctx, ruleEvent(domain.EventRuleCreated, *saved))
	s.priceChanged(ctx, saved.Scope.ProductID())
	s.logAudit(ctx, "rule_create", "pricing_rule", saved.ID, fmt.Sprintf("context=%s/%s,scope=%s", saved.ContextType, saved.ContextID, saved.Scope))
	return *saved, nil
}

// UpdateRule applies a partial update. The scope of a rule is fixed.
func (s *Service) UpdateRule(ctx context.Context, id string, req domain.RuleUpdateRequest) (domain.PricingRule, error) {
	existing, err := s.repo.GetRule(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.PricingRule{}, err
	}

	updated := *existing
	if req.BasePrice != nil {
		if !updated.Scope.IsSingle() {
			return domain.PricingRule{}, store.Invalid(FieldBasePrice, "only single-product rules carry a price")
		}
		if err := validateMoney(FieldBasePrice, *req.BasePrice); err != nil {
			return domain.PricingRule{}, err
		}
		updated.BasePrice = decimal.NewNullDecimal(pricing.RoundMoney(*req.BasePrice))
	}
	if req.DiscountType != nil {
		updated.DiscountType = normalizeDiscountType(*req.DiscountType)
	}
	if req.DiscountValue != nil {
		updated.DiscountValue = pricing.RoundMoney(*req.DiscountValue)
	}
	if err := validateDiscount(FieldDiscountType, FieldDiscountValue, updated.DiscountType, updated.DiscountValue); err != nil {
		return domain.PricingRule{}, err
	}
	if req.ValidFrom != nil {
		if updated.ValidFrom, err = parseDate("valid_from", *req.ValidFrom); err != nil {
			return domain.PricingRule{}, err
		}
	}
	if req.ValidTo != nil {
		if updated.ValidTo, err = parseDate("valid_to", *req.ValidTo); err != nil {
			return domain.PricingRule{}, err
		}
	}
	if err := checkWindow(updated.ValidFrom, updated.ValidTo); err != nil {
		return domain.PricingRule{}, err
	}
	if req.QuantityThreshold != nil {
		switch threshold := *req.QuantityThreshold; {
		case threshold < 0:
			return domain.PricingRule{}, store.Invalid("quantity_threshold", "must not be negative")
		case threshold == 0:
			updated.QuantityThreshold = nil
		default:
			updated.QuantityThreshold = &threshold
		}
	}
	if req.Excluded != nil {
		updated.Excluded = *req.Excluded
	}
	if req.CampaignWhitelist != nil {
		if *req.CampaignWhitelist && updated.ContextType != domain.ContextContract {
			return domain.PricingRule{}, store.Invalid("campaign_whitelist", "only contract rules can be whitelisted")
		}
		updated.CampaignWhitelist = *req.CampaignWhitelist
	}

	if updated.Scope.IsSingle() {
		product, err := s.repo.GetProduct(ctx, updated.Scope.ProductID())
		if err != nil {
			return domain.PricingRule{}, err
		}
		reconcileRule(&updated, product.PurchasePrice)
	}
	if updated.Scope.Kind() == domain.ScopeAll && !sameThreshold(existing.QuantityThreshold, updated.QuantityThreshold) {
		if err := s.rejectDuplicateAllRule(ctx, updated); err != nil {
			return domain.PricingRule{}, err
		}
	}

	saved, err := s.repo.UpdateRule(ctx, updated)
	if err != nil {
		return domain.PricingRule{}, err
	}
	s.afterRuleUpdate(ctx, *existing, *saved)
	return *saved, nil
}

func (s *Service) DeleteRule(ctx context.Context, id string) error {
	existing, err := s.repo.GetRule(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteRule(ctx, existing.ID); err != nil {
		return err
	}

	s.publish(ctx, ruleEvent(domain.EventRuleDeleted, *existing))
	s.priceChanged(ctx, existing.Scope.ProductID())
	s.logAudit(ctx, "rule_delete", "pricing_rule", existing.ID, fmt.Sprintf("context=%s/%s,scope=%s", existing.ContextType, existing.ContextID, existing.Scope))
	return nil
}

// EditCell applies one grid edit to a rule, recomputes the dependent columns
// and persists the row. Persist failures are returned to the caller.
func (s *Service) EditCell(ctx context.Context, ruleID string, req domain.CellEditRequest) (domain.CellEditResponse, error) {
	field := strings.TrimSpace(req.Field)
	existing, err := s.repo.GetRule(ctx, strings.TrimSpace(ruleID))
	if err != nil {
		return domain.CellEditResponse{}, err
	}

	var purchase decimal.Decimal
	if existing.Scope.IsSingle() {
		product, err := s.repo.GetProduct(ctx, existing.Scope.ProductID())
		if err != nil {
			return domain.CellEditResponse{}, err
		}
		purchase = product.PurchasePrice
	}

	updated := *existing
	switch {
	case !existing.Scope.IsSingle():
		err = editDiscountColumns(&updated, field, req.Value)
	case existing.ContextType == domain.ContextCustomerPriceGroup:
		err = editCustomerGroupRow(&updated, purchase, field, req.Value)
	default:
		err = editDiscountedRow(&updated, purchase, field, req.Value)
	}
	if err != nil {
		return domain.CellEditResponse{}, err
	}

	saved, err := s.repo.UpdateRule(ctx, updated)
	if err != nil {
		s.logger.Error().Err(err).Str("rule_id", existing.ID).Str("field", field).Msg("persist cell edit")
		return domain.CellEditResponse{}, fmt.Errorf("persist %s of rule %s: %w", field, existing.ID, err)
	}
	s.afterRuleUpdate(ctx, *existing, *saved)
	return domain.CellEditResponse{Rule: *saved, Derived: s.derive(*saved, purchase)}, nil
}

// DerivedFields renders a rule's computed columns with the configured locale.
func (s *Service) DerivedFields(ctx context.Context, ruleID string) (domain.DerivedFields, error) {
	rule, err := s.repo.GetRule(ctx, strings.TrimSpace(ruleID))
	if err != nil {
		return domain.DerivedFields{}, err
	}
	var purchase decimal.Decimal
	if rule.Scope.IsSingle() {
		product, err := s.repo.GetProduct(ctx, rule.Scope.ProductID())
		if err != nil {
			return domain.DerivedFields{}, err
		}
		purchase = product.PurchasePrice
	}
	return s.derive(*rule, purchase), nil
}

// derive leaves price and margin empty for broad rules, which only carry a discount.
func (s *Service) derive(rule domain.PricingRule, purchase decimal.Decimal) domain.DerivedFields {
	out := domain.DerivedFields{DiscountValue: s.formatter.Money(rule.DiscountValue)}
	if !rule.Scope.IsSingle() {
		return out
	}
	net := quote.RulePrice(rule, purchase)
	out.FinalPrice = s.formatter.Money(net)
	out.MarginPercentage = s.formatter.Percent(pricing.RoundedMargin(purchase, net))
	return out
}

func (s *Service) afterRuleUpdate(ctx context.Context, before, after domain.PricingRule) {
	productID := after.Scope.ProductID()
	s.recordPriceChange(ctx, "pricing_rule", after.ID, productID, FieldBasePrice, before.BasePrice.Decimal, after.BasePrice.Decimal)
	s.recordPriceChange(ctx, "pricing_rule", after.ID, productID, FieldDiscountValue, before.DiscountValue, after.DiscountValue)
	s.recordPriceChange(ctx, "pricing_rule", after.ID, productID, FieldMarginPercentage, before.MarginPercentage.Decimal, after.MarginPercentage.Decimal)
	s.recordPriceChange(ctx, "pricing_rule", after.ID, productID, FieldFinalPrice, before.FinalPrice.Decimal, after.FinalPrice.Decimal)

	s.publish(ctx, ruleEvent(domain.EventRuleUpdated, after))
	s.priceChanged(ctx, productID)
	s.logAudit(ctx, "rule_update", "pricing_rule", after.ID, fmt.Sprintf("base=%s,discount=%s%s,final=%s", nullString(after.BasePrice), after.DiscountValue.String(), after.DiscountType, nullString(after.FinalPrice)))
}

func (s *Service) requireTarget(ctx context.Context, scope domain.Scope) error {
	switch scope.Kind() {
	case domain.ScopeSingle:
		if _, err := s.repo.GetProduct(ctx, scope.ProductID()); err != nil {
			return missingReference("product_id", err)
		}
	case domain.ScopeProductGroup:
		if _, err := s.repo.GetProductGroup(ctx, scope.ProductGroupID()); err != nil {
			return missingReference("product_group_id", err)
		}
	case domain.ScopeDepartment:
		departments, err := s.repo.ListDepartments(ctx)
		if err != nil {
			return err
		}
		for _, dept := range departments {
			if dept.ID == scope.DepartmentID() {
				return nil
			}
		}
		return store.Invalid("department_id", "does not exist")
	}
	return nil
}

// rejectDuplicateAllRule allows several all-products rules in one context only
// when they differ by quantity threshold.
func (s *Service) rejectDuplicateAllRule(ctx context.Context, rule domain.PricingRule) error {
	rules, err := s.repo.FindRules(ctx, rule.ContextType, rule.ContextID)
	if err != nil {
		return err
	}
	for _, existing := range rules {
		if existing.ID == rule.ID {
			continue
		}
		if existing.Scope.Kind() == domain.ScopeAll && sameThreshold(existing.QuantityThreshold, rule.QuantityThreshold) {
			return fmt.Errorf("context already has an all-products rule %s: %w", existing.ID, store.ErrConflict)
		}
	}
	return nil
}

func sameThreshold(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func missingReference(field string, err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return store.Invalid(field, "does not exist")
	}
	return err
}

// reconcileRule fills the stored final price and margin of a single-product rule.
func reconcileRule(rule *domain.PricingRule, purchase decimal.Decimal) {
	if !rule.Scope.IsSingle() || !rule.BasePrice.Valid {
		return
	}
	if rule.ContextType == domain.ContextCustomerPriceGroup {
		row := pricing.EditBasePrice(purchase, rule.BasePrice.Decimal)
		rule.FinalPrice = decimal.NewNullDecimal(row.FinalPrice)
		rule.MarginPercentage = decimal.NewNullDecimal(row.MarginPercentage)
		return
	}
	sum := pricing.ApplyDiscount(rule.BasePrice.Decimal, rule.DiscountType, rule.DiscountValue)
	rule.FinalPrice = decimal.NewNullDecimal(sum)
	rule.MarginPercentage = decimal.NewNullDecimal(pricing.RoundedMargin(purchase, sum))
}

func editDiscountColumns(rule *domain.PricingRule, field string, raw string) error {
	switch field {
	case FieldDiscountValue:
		v, err := parseCell(field, raw)
		if err != nil {
			return err
		}
		if err := validateDiscount(FieldDiscountType, field, rule.DiscountType, v); err != nil {
			return err
		}
		rule.DiscountValue = pricing.RoundMoney(v)
	case FieldDiscountType:
		t, err := parseDiscountType(raw)
		if err != nil {
			return err
		}
		if err := validateDiscount(field, FieldDiscountValue, t, rule.DiscountValue); err != nil {
			return err
		}
		rule.DiscountType = t
	default:
		return store.Invalid(field, "only discount_value and discount_type are editable on group, department and all rows")
	}
	return nil
}

// editCustomerGroupRow keeps final price equal to base price.
func editCustomerGroupRow(rule *domain.PricingRule, purchase decimal.Decimal, field string, raw string) error {
	var row pricing.Row
	switch field {
	case FieldBasePrice, FieldFinalPrice:
		v, err := parseCell(field, raw)
		if err != nil {
			return err
		}
		if err := validateMoney(field, v); err != nil {
			return err
		}
		row = pricing.EditBasePrice(purchase, v)
	case FieldMarginPercentage:
		v, err := parseCell(field, raw)
		if err != nil {
			return err
		}
		if v.IsNegative() {
			return store.Invalid(field, "must not be negative")
		}
		row = pricing.EditMargin(purchase, v)
		if err := validateMoney(FieldBasePrice, row.BasePrice); err != nil {
			return err
		}
	default:
		return store.Invalid(field, "customer price group rows edit base_price, margin_percentage or final_price")
	}
	rule.BasePrice = decimal.NewNullDecimal(row.BasePrice)
	rule.FinalPrice = decimal.NewNullDecimal(row.FinalPrice)
	rule.MarginPercentage = decimal.NewNullDecimal(row.MarginPercentage)
	return nil
}

// editDiscountedRow handles contract and campaign rows, where the price stays
// fixed and an edited sum is solved into the discount. A row without a price
// of its own starts from the purchase price.
func editDiscountedRow(rule *domain.PricingRule, purchase decimal.Decimal, field string, raw string) error {
	price := purchase
	if rule.BasePrice.Valid {
		price = rule.BasePrice.Decimal
	}

	switch field {
	case FieldBasePrice:
		v, err := parseCell(field, raw)
		if err != nil {
			return err
		}
		if err := validateMoney(field, v); err != nil {
			return err
		}
		price = pricing.RoundMoney(v)
	case FieldDiscountValue, FieldDiscountType:
		if err := editDiscountColumns(rule, field, raw); err != nil {
			return err
		}
	case FieldFinalPrice:
		v, err := parseCell(field, raw)
		if err != nil {
			return err
		}
		if err := validateMoney(field, v); err != nil {
			return err
		}
		rule.DiscountValue = pricing.SolveDiscount(price, rule.DiscountType, v)
	case FieldMarginPercentage:
		return store.Invalid(field, "is derived from the sum on contract and campaign rows")
	default:
		return store.Invalid(field, "is not an editable column")
	}

	sum := pricing.ApplyDiscount(price, rule.DiscountType, rule.DiscountValue)
	rule.BasePrice = decimal.NewNullDecimal(price)
	rule.FinalPrice = decimal.NewNullDecimal(sum)
	rule.MarginPercentage = decimal.NewNullDecimal(pricing.RoundedMargin(purchase, sum))
	return nil
}

func parseCell(field string, raw string) (decimal.Decimal, error) {
	v, err := pricing.ParseDecimal(raw)
	if err != nil {
		return decimal.Zero, store.Invalid(field, "must be a number")
	}
	return v, nil
}

func parseDiscountType(raw string) (domain.DiscountType, error) {
	if strings.TrimSpace(raw) == "" {
		return "", store.Invalid(FieldDiscountType, "must be % or KR")
	}
	t := normalizeDiscountType(domain.DiscountType(raw))
	if !t.Valid() {
		return "", store.Invalid(FieldDiscountType, "must be % or KR")
	}
	return t, nil
}

func ruleEvent(eventType string, rule domain.PricingRule) domain.PriceEvent {
	event := domain.PriceEvent{
		Type:        eventType,
		ProductID:   rule.Scope.ProductID(),
		RuleID:      rule.ID,
		ContextType: rule.ContextType,
		ContextID:   rule.ContextID,
	}
	if rule.FinalPrice.Valid {
		event.NetPrice = rule.FinalPrice.Decimal
	}
	return event
}

func nullString(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return d.Decimal.StringFixed(2)
}
