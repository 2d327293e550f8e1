package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/pricing"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/store/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.PriceEvent
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, event domain.PriceEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

func newTestService() (*Service, *memory.Store, *recordingPublisher) {
	repo := memory.NewSeeded()
	publisher := &recordingPublisher{}
	return New(repo, nil, publisher, pricing.NewFormatter("sv"), zerolog.Nop()), repo, publisher
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func mustEqual(t *testing.T, label string, got decimal.NullDecimal, want string) {
	t.Helper()
	if !got.Valid || !got.Decimal.Equal(dec(want)) {
		t.Fatalf("%s: expected %s, got %v", label, want, got)
	}
}

func newProduct(t *testing.T, svc *Service, code string, purchase string) domain.Product {
	t.Helper()
	product, err := svc.CreateProduct(context.Background(), domain.ProductCreateRequest{
		Code:           code,
		Name:           "Testvara " + code,
		ProductGroupID: "grp-dairy",
		PurchasePrice:  dec(purchase),
	})
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	return product
}

func TestEditCellCustomerGroupPriceAndMargin(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	product := newProduct(t, svc, "300001", "100")

	rule, err := svc.CreateRule(ctx, domain.ContextCustomerPriceGroup, "cpg-b2b", domain.RuleCreateRequest{ProductType: "single", ProductID: product.ID})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}

	resp, err := svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldBasePrice, Value: "150,00"})
	if err != nil {
		t.Fatalf("edit base price: %v", err)
	}
	mustEqual(t, "margin", resp.Rule.MarginPercentage, "33.3")
	mustEqual(t, "final", resp.Rule.FinalPrice, "150")
	if resp.Derived.FinalPrice != "150,00" || resp.Derived.MarginPercentage != "33,3" {
		t.Fatalf("unexpected display fields %+v", resp.Derived)
	}

	resp, err = svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldMarginPercentage, Value: "50"})
	if err != nil {
		t.Fatalf("edit margin: %v", err)
	}
	mustEqual(t, "base", resp.Rule.BasePrice, "200")
	mustEqual(t, "final", resp.Rule.FinalPrice, "200")

	stored, err := svc.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("get rule: %v", err)
	}
	if !stored.FinalPrice.Decimal.Equal(stored.BasePrice.Decimal) {
		t.Fatalf("final price drifted from base price: %v vs %v", stored.FinalPrice, stored.BasePrice)
	}
}

func TestEditCellMarginIsCapped(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	product := newProduct(t, svc, "300002", "10")
	rule, _ := svc.CreateRule(ctx, domain.ContextCustomerPriceGroup, "cpg-b2b", domain.RuleCreateRequest{ProductType: "single", ProductID: product.ID})

	resp, err := svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldMarginPercentage, Value: "100"})
	if err != nil {
		t.Fatalf("edit margin: %v", err)
	}
	mustEqual(t, "margin", resp.Rule.MarginPercentage, "99.9")
	mustEqual(t, "base", resp.Rule.BasePrice, "10000")

	if _, err := svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldMarginPercentage, Value: "-5"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected negative margin to be rejected, got %v", err)
	}
}

func TestEditCellContractSumSolvesDiscount(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	product := newProduct(t, svc, "300003", "100")

	base := dec("200")
	discount := dec("10")
	rule, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-ica", domain.RuleCreateRequest{
		ProductType:   "single",
		ProductID:     product.ID,
		BasePrice:     &base,
		DiscountValue: &discount,
	})
	if err != nil {
		t.Fatalf("create rule: %v", err)
	}
	mustEqual(t, "sum", rule.FinalPrice, "180")

	resp, err := svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldFinalPrice, Value: "160"})
	if err != nil {
		t.Fatalf("edit sum: %v", err)
	}
	if !resp.Rule.DiscountValue.Equal(dec("20")) {
		t.Fatalf("expected discount 20, got %s", resp.Rule.DiscountValue)
	}
	mustEqual(t, "price stays fixed", resp.Rule.BasePrice, "200")
	mustEqual(t, "sum", resp.Rule.FinalPrice, "160")
	mustEqual(t, "margin", resp.Rule.MarginPercentage, "37.5")

	resp, err = svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldDiscountType, Value: "kr"})
	if err != nil {
		t.Fatalf("edit discount type: %v", err)
	}
	mustEqual(t, "sum after switching to KR", resp.Rule.FinalPrice, "180")

	if _, err := svc.EditCell(ctx, rule.ID, domain.CellEditRequest{Field: FieldMarginPercentage, Value: "30"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("margin is derived on contract rows, got %v", err)
	}
}

func TestEditCellBroadRuleOnlyTakesDiscounts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.EditCell(ctx, "rule-b2b-dairy", domain.CellEditRequest{Field: FieldBasePrice, Value: "12"})
	var validation *store.ValidationError
	if !errors.As(err, &validation) || validation.Field != FieldBasePrice {
		t.Fatalf("expected validation error on base_price, got %v", err)
	}

	resp, err := svc.EditCell(ctx, "rule-b2b-dairy", domain.CellEditRequest{Field: FieldDiscountValue, Value: "7,5"})
	if err != nil {
		t.Fatalf("edit discount: %v", err)
	}
	if !resp.Rule.DiscountValue.Equal(dec("7.5")) {
		t.Fatalf("unexpected discount %s", resp.Rule.DiscountValue)
	}
	if resp.Derived.DiscountValue != "7,50" || resp.Derived.FinalPrice != "" {
		t.Fatalf("unexpected display fields %+v", resp.Derived)
	}

	if _, err := svc.EditCell(ctx, "rule-b2b-dairy", domain.CellEditRequest{Field: FieldDiscountValue, Value: "abc"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected garbage to be rejected, got %v", err)
	}
	if _, err := svc.EditCell(ctx, "rule-b2b-dairy", domain.CellEditRequest{Field: FieldDiscountValue, Value: "120"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected percent above 100 to be rejected, got %v", err)
	}
}

func TestEditCellRecordsHistoryAndPublishes(t *testing.T) {
	svc, repo, publisher := newTestService()
	ctx := WithActor(context.Background(), domain.Actor{Username: "anna"})

	if _, err := svc.SyncProduct(ctx, "prd-milk"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if _, err := svc.EditCell(ctx, "rule-b2b-milk", domain.CellEditRequest{Field: FieldFinalPrice, Value: "13.00"}); err != nil {
		t.Fatalf("edit: %v", err)
	}

	changes, err := svc.ListPriceChanges(ctx, "rule-b2b-milk", 10)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	fields := map[string]domain.PriceChange{}
	for _, c := range changes {
		fields[c.Field] = c
	}
	base, ok := fields[FieldBasePrice]
	if !ok || !base.OldValue.Equal(dec("12.50")) || !base.NewValue.Equal(dec("13")) || base.ChangedBy != "anna" {
		t.Fatalf("unexpected base price history %+v", changes)
	}

	got := publisher.types()
	if len(got) != 2 || got[0] != domain.EventProductSynced || got[1] != domain.EventRuleUpdated {
		t.Fatalf("unexpected events %v", got)
	}

	product, _ := repo.GetProduct(ctx, "prd-milk")
	if product.SyncStatus != domain.SyncPending {
		t.Fatalf("price edit must mark the product pending, got %s", product.SyncStatus)
	}

	logs, _ := svc.ListAuditLogs(ctx, 10)
	found := false
	for _, entry := range logs {
		if entry.Action == "rule_update" && entry.EntityID == "rule-b2b-milk" && entry.ActorUsername == "anna" {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing rule_update audit entry in %+v", logs)
	}
}

func TestCreateRuleValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	price := dec("10")

	cases := []struct {
		name  string
		kind  domain.ContextType
		req   domain.RuleCreateRequest
		field string
	}{
		{"single without product", domain.ContextContract, domain.RuleCreateRequest{ProductType: "single"}, "product_id"},
		{"two targets", domain.ContextContract, domain.RuleCreateRequest{ProductType: "single", ProductID: "prd-dish", DepartmentID: "dept-home"}, "product_type"},
		{"unknown product", domain.ContextContract, domain.RuleCreateRequest{ProductType: "single", ProductID: "prd-none"}, "product_id"},
		{"unknown department", domain.ContextContract, domain.RuleCreateRequest{ProductType: "department", DepartmentID: "dept-none"}, "department_id"},
		{"price on group rule", domain.ContextContract, domain.RuleCreateRequest{ProductType: "product_group", ProductGroupID: "grp-clean", BasePrice: &price}, "base_price"},
		{"bad discount type", domain.ContextContract, domain.RuleCreateRequest{ProductType: "product_group", ProductGroupID: "grp-clean", DiscountType: "EUR"}, "discount_type"},
		{"bad threshold", domain.ContextContract, domain.RuleCreateRequest{ProductType: "product_group", ProductGroupID: "grp-clean", QuantityThreshold: new(int)}, "quantity_threshold"},
		{"inverted window", domain.ContextContract, domain.RuleCreateRequest{ProductType: "product_group", ProductGroupID: "grp-clean", ValidFrom: "2026-05-01", ValidTo: "2026-04-01"}, "valid_to"},
		{"whitelist outside contracts", domain.ContextCampaign, domain.RuleCreateRequest{ProductType: "product_group", ProductGroupID: "grp-clean", CampaignWhitelist: true}, "campaign_whitelist"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			contextID := "ctr-ica"
			if tc.kind == domain.ContextCampaign {
				contextID = "cmp-summer"
			}
			_, err := svc.CreateRule(ctx, tc.kind, contextID, tc.req)
			var validation *store.ValidationError
			if !errors.As(err, &validation) || validation.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
		})
	}
}

func TestCreateRuleConflicts(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateRule(ctx, domain.ContextCustomerPriceGroup, "cpg-b2b", domain.RuleCreateRequest{ProductType: "single", ProductID: "prd-milk"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second single rule, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-ica", domain.RuleCreateRequest{ProductType: "all"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for second all rule, got %v", err)
	}
	threshold := 10
	if _, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-ica", domain.RuleCreateRequest{ProductType: "all", QuantityThreshold: &threshold}); err != nil {
		t.Fatalf("an all rule with its own threshold is allowed: %v", err)
	}
	if _, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-missing", domain.RuleCreateRequest{ProductType: "all"}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found for unknown context, got %v", err)
	}
}

func TestListRulesCarriesDerivedFields(t *testing.T) {
	svc, _, _ := newTestService()

	views, err := svc.ListRules(context.Background(), domain.ContextContract, "ctr-ica")
	if err != nil {
		t.Fatalf("list rules: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected two contract rules, got %d", len(views))
	}
	for _, view := range views {
		switch view.ID {
		case "rule-ica-milk":
			if view.Derived == nil || view.Derived.FinalPrice != "12,60" || view.Derived.MarginPercentage != "24,6" {
				t.Fatalf("unexpected derived fields %+v", view.Derived)
			}
		case "rule-ica-all":
			if view.Derived != nil {
				t.Fatalf("broad rules carry no derived price")
			}
		}
	}
}

func TestSurchargeTypeChangeNeedsConfirmation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.LinkProductSurcharge(ctx, "prd-bread", domain.SurchargeLinkRequest{SurchargeID: "sur-handling"}); err != nil {
		t.Fatalf("link: %v", err)
	}

	preview, err := svc.PrepareSurchargeTypeChange(ctx, "sur-handling", domain.SurchargeSupplier)
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if !preview.RequiresConfirmation || preview.ProductCount != 3 {
		t.Fatalf("unexpected preview %+v", preview)
	}

	_, err = svc.ChangeSurchargeType(ctx, "sur-handling", domain.TypeChangeRequest{Type: domain.SurchargeSupplier})
	var confirm *ConfirmationError
	if !errors.Is(err, store.ErrConfirmationRequired) || !errors.As(err, &confirm) || confirm.Preview.ProductCount != 3 {
		t.Fatalf("expected confirmation error with 3 products, got %v", err)
	}
	unchanged, _ := svc.GetSurcharge(ctx, "sur-handling")
	counts, _ := svc.GetSurchargeRelationships(ctx, "sur-handling")
	if unchanged.Type != domain.SurchargeProduct || counts.ProductCount != 3 {
		t.Fatalf("cancelled change must leave state alone: %s with %d links", unchanged.Type, counts.ProductCount)
	}

	changed, err := svc.ChangeSurchargeType(ctx, "sur-handling", domain.TypeChangeRequest{Type: domain.SurchargeSupplier, Confirm: true})
	if err != nil {
		t.Fatalf("confirmed change: %v", err)
	}
	counts, _ = svc.GetSurchargeRelationships(ctx, "sur-handling")
	if changed.Type != domain.SurchargeSupplier || counts.ProductCount != 0 {
		t.Fatalf("expected supplier type without product links, got %s with %d", changed.Type, counts.ProductCount)
	}
}

func TestUpdateSurchargeTypeGoesThroughConfirmation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	supplier := domain.SurchargeSupplier
	name := "Kyl"

	_, err := svc.UpdateSurcharge(ctx, "sur-handling", domain.SurchargeUpdateRequest{Name: &name, Type: &supplier})
	if !errors.Is(err, store.ErrConfirmationRequired) {
		t.Fatalf("expected confirmation required, got %v", err)
	}
	if sc, _ := svc.GetSurcharge(ctx, "sur-handling"); sc.Name != "Hantering" {
		t.Fatalf("rejected update must not rename, got %s", sc.Name)
	}

	updated, err := svc.UpdateSurcharge(ctx, "sur-handling", domain.SurchargeUpdateRequest{Name: &name, Type: &supplier, Confirm: true})
	if err != nil {
		t.Fatalf("confirmed update: %v", err)
	}
	if updated.Name != "Kyl" || updated.Type != domain.SurchargeSupplier {
		t.Fatalf("unexpected surcharge %+v", updated)
	}
}

func TestReorderSurchargesKeepsSequenceDense(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	list, err := svc.ReorderSurcharges(ctx, domain.ReorderRequest{DraggedIDs: []string{"sur-handling"}, TargetID: "sur-freight", Position: "before"})
	if err != nil {
		t.Fatalf("reorder: %v", err)
	}
	want := []string{"sur-handling", "sur-freight", "sur-deposit"}
	for i, sc := range list {
		if sc.ID != want[i] || sc.SortOrder != i {
			t.Fatalf("position %d: got %s/%d, want %s/%d", i, sc.ID, sc.SortOrder, want[i], i)
		}
	}

	if _, err := svc.ReorderSurcharges(ctx, domain.ReorderRequest{DraggedIDs: []string{"sur-freight"}, TargetID: "sur-freight", Position: "after"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid reorder, got %v", err)
	}
}

func TestSortOrderBatchMustStayDense(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	_, err := svc.UpdateSurchargeSortOrder(ctx, domain.SortOrderRequest{Items: []domain.SortAssignment{{ID: "sur-freight", SortOrder: 2}}})
	if !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected duplicate sort order to be rejected, got %v", err)
	}

	list, err := svc.UpdateSurchargeSortOrder(ctx, domain.SortOrderRequest{Items: []domain.SortAssignment{
		{ID: "sur-freight", SortOrder: 2},
		{ID: "sur-handling", SortOrder: 0},
	}})
	if err != nil {
		t.Fatalf("swap: %v", err)
	}
	if list[0].ID != "sur-handling" || list[2].ID != "sur-freight" {
		t.Fatalf("unexpected order %v", pricing.SequenceIDs(list))
	}
}

func TestSyncProductMarksErrorWhenPublishFails(t *testing.T) {
	svc, repo, publisher := newTestService()
	ctx := context.Background()

	product, err := svc.SyncProduct(ctx, "prd-bread")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if product.SyncStatus != domain.SyncSynced || product.LastSync == nil {
		t.Fatalf("expected synced product with timestamp, got %+v", product)
	}

	publisher.err = errors.New("broker down")
	if _, err := svc.SyncProduct(ctx, "prd-milk"); err == nil {
		t.Fatalf("expected publish failure to surface")
	}
	milk, _ := repo.GetProduct(ctx, "prd-milk")
	if milk.SyncStatus != domain.SyncError {
		t.Fatalf("expected error status, got %s", milk.SyncStatus)
	}
}

func TestQuoteValidatesRequest(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.Quote(ctx, domain.QuoteRequest{}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected missing product to be invalid, got %v", err)
	}
	if _, err := svc.Quote(ctx, domain.QuoteRequest{ProductID: "prd-milk", Quantity: -1}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected negative quantity to be invalid, got %v", err)
	}
	q, err := svc.Quote(ctx, domain.QuoteRequest{ProductID: "prd-milk", CustomerPriceGroupID: "cpg-b2b"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.NetPrice.Equal(dec("12.50")) {
		t.Fatalf("unexpected net price %s", q.NetPrice)
	}
}

func TestSetPrimarySupplierChangesCalculationBase(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.SetPrimarySupplier(ctx, "prd-milk", "sup-bulk"); err != nil {
		t.Fatalf("set primary: %v", err)
	}
	q, err := svc.Quote(ctx, domain.QuoteRequest{ProductID: "prd-milk"})
	if err != nil {
		t.Fatalf("quote: %v", err)
	}
	if !q.CalculationBase.Equal(dec("9.80")) {
		t.Fatalf("expected bulk supplier price, got %s", q.CalculationBase)
	}
}

func TestContextValidation(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.CreateContext(ctx, domain.ContextCampaign, domain.ContextCreateRequest{Name: "Vår", ExcludeFromCampaigns: true}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("only contracts exclude campaigns, got %v", err)
	}
	if _, err := svc.CreateContext(ctx, "region", domain.ContextCreateRequest{Name: "Nord"}); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected unknown context type to be rejected, got %v", err)
	}

	created, err := svc.CreateContext(ctx, domain.ContextContract, domain.ContextCreateRequest{Name: "Coop", ValidFrom: "2026-01-01"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != domain.ContextActive || created.ValidFrom == nil {
		t.Fatalf("unexpected context %+v", created)
	}

	empty := ""
	updated, err := svc.UpdateContext(ctx, domain.ContextContract, created.ID, domain.ContextUpdateRequest{ValidFrom: &empty})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ValidFrom != nil {
		t.Fatalf("empty date must clear the bound")
	}
}

func TestPurchasePriceChangeReconcilesSingleRules(t *testing.T) {
	svc, repo, publisher := newTestService()
	ctx := context.Background()
	product := newProduct(t, svc, "300010", "100")

	groupRule, err := svc.CreateRule(ctx, domain.ContextCustomerPriceGroup, "cpg-b2b", domain.RuleCreateRequest{ProductType: "single", ProductID: product.ID})
	if err != nil {
		t.Fatalf("create group rule: %v", err)
	}
	if _, err := svc.EditCell(ctx, groupRule.ID, domain.CellEditRequest{Field: FieldBasePrice, Value: "150"}); err != nil {
		t.Fatalf("edit base price: %v", err)
	}
	base := dec("200")
	discount := dec("10")
	contractRule, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-ica", domain.RuleCreateRequest{
		ProductType:   "single",
		ProductID:     product.ID,
		BasePrice:     &base,
		DiscountValue: &discount,
	})
	if err != nil {
		t.Fatalf("create contract rule: %v", err)
	}
	mustEqual(t, "contract margin before", contractRule.MarginPercentage, "44.4")

	if _, err := svc.SyncProduct(ctx, product.ID); err != nil {
		t.Fatalf("sync: %v", err)
	}
	publisher.mu.Lock()
	publisher.events = nil
	publisher.mu.Unlock()

	purchase := dec("120")
	if _, err := svc.UpdateProduct(ctx, product.ID, domain.ProductUpdateRequest{PurchasePrice: &purchase}); err != nil {
		t.Fatalf("update purchase price: %v", err)
	}

	stored, err := svc.GetRule(ctx, groupRule.ID)
	if err != nil {
		t.Fatalf("get group rule: %v", err)
	}
	mustEqual(t, "group margin", stored.MarginPercentage, "20")
	mustEqual(t, "group final", stored.FinalPrice, "150")
	derived, err := svc.DerivedFields(ctx, groupRule.ID)
	if err != nil {
		t.Fatalf("derived: %v", err)
	}
	if derived.MarginPercentage != "20,0" {
		t.Fatalf("stored margin and derived margin disagree: %s", derived.MarginPercentage)
	}

	stored, err = svc.GetRule(ctx, contractRule.ID)
	if err != nil {
		t.Fatalf("get contract rule: %v", err)
	}
	mustEqual(t, "contract margin", stored.MarginPercentage, "33.3")
	mustEqual(t, "contract sum", stored.FinalPrice, "180")

	changes, _ := svc.ListPriceChanges(ctx, groupRule.ID, 20)
	found := false
	for _, c := range changes {
		if c.Field == FieldMarginPercentage && c.OldValue.Equal(dec("33.3")) && c.NewValue.Equal(dec("20")) {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected margin history on %s, got %+v", groupRule.ID, changes)
	}
	if got := publisher.types(); len(got) != 2 || got[0] != domain.EventRuleUpdated || got[1] != domain.EventRuleUpdated {
		t.Fatalf("expected one rule update per reconciled rule, got %v", got)
	}
	if saved, _ := repo.GetProduct(ctx, product.ID); saved.SyncStatus != domain.SyncPending {
		t.Fatalf("purchase price change must mark the product pending, got %s", saved.SyncStatus)
	}
}

func TestRenameOnlyLeavesRulesAlone(t *testing.T) {
	svc, _, publisher := newTestService()
	ctx := context.Background()

	name := "Mjölk 1,5%"
	if _, err := svc.UpdateProduct(ctx, "prd-milk", domain.ProductUpdateRequest{Name: &name}); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if got := publisher.types(); len(got) != 0 {
		t.Fatalf("a rename must not touch rules, got events %v", got)
	}
}

func TestUpdateSurchargeTypeAndFieldsInOneWrite(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	supplier := domain.SurchargeSupplier
	name := "Hantering per leverantör"
	cost := dec("3")

	updated, err := svc.UpdateSurcharge(ctx, "sur-handling", domain.SurchargeUpdateRequest{Name: &name, CostValue: &cost, Type: &supplier, Confirm: true})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	stored, _ := svc.GetSurcharge(ctx, "sur-handling")
	if stored.Name != name || !stored.CostValue.Equal(cost) || stored.Type != domain.SurchargeSupplier {
		t.Fatalf("expected name, cost and type persisted together, got %+v", stored)
	}
	if updated.Name != stored.Name {
		t.Fatalf("response and store disagree: %q vs %q", updated.Name, stored.Name)
	}
	counts, _ := svc.GetSurchargeRelationships(ctx, "sur-handling")
	if counts.ProductCount != 0 {
		t.Fatalf("expected product links removed, got %d", counts.ProductCount)
	}

	logs, _ := svc.ListAuditLogs(ctx, 20)
	typeChanges := 0
	for _, entry := range logs {
		if entry.EntityID != "sur-handling" {
			continue
		}
		switch entry.Action {
		case "surcharge_type_change":
			typeChanges++
		case "surcharge_update":
			t.Fatalf("a type change is a single write, found a separate update entry")
		}
	}
	if typeChanges != 1 {
		t.Fatalf("expected one type change entry, got %d", typeChanges)
	}
}

func TestDetachSurchargeLinks(t *testing.T) {
	svc, repo, _ := newTestService()
	ctx := context.Background()

	if _, err := svc.SyncProduct(ctx, "prd-butter"); err != nil {
		t.Fatalf("sync: %v", err)
	}
	removed, err := svc.DetachSurchargeProducts(ctx, "sur-handling")
	if err != nil {
		t.Fatalf("detach products: %v", err)
	}
	if removed != 2 {
		t.Fatalf("expected two product links removed, got %d", removed)
	}
	if butter, _ := repo.GetProduct(ctx, "prd-butter"); butter.SyncStatus != domain.SyncPending {
		t.Fatalf("unlinked product must be pending, got %s", butter.SyncStatus)
	}
	links, _ := svc.ListProductSurcharges(ctx, "prd-milk")
	for _, link := range links {
		if link.SurchargeID == "sur-handling" {
			t.Fatalf("stale link on prd-milk")
		}
	}

	removed, err = svc.DetachSurchargeSuppliers(ctx, "sur-freight")
	if err != nil || removed != 1 {
		t.Fatalf("expected one supplier link removed, got %d %v", removed, err)
	}
	if _, err := svc.DetachSurchargeProducts(ctx, "sur-missing"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateRuleRejectsDuplicateAllRuleThreshold(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	ten, twenty := 10, 20
	first, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-ica", domain.RuleCreateRequest{ProductType: "all", QuantityThreshold: &ten})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	second, err := svc.CreateRule(ctx, domain.ContextContract, "ctr-ica", domain.RuleCreateRequest{ProductType: "all", QuantityThreshold: &twenty})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}

	if _, err := svc.UpdateRule(ctx, second.ID, domain.RuleUpdateRequest{QuantityThreshold: &ten}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict moving onto an existing threshold, got %v", err)
	}
	zero := 0
	if _, err := svc.UpdateRule(ctx, second.ID, domain.RuleUpdateRequest{QuantityThreshold: &zero}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict with the threshold-free all rule, got %v", err)
	}
	if stored, _ := svc.GetRule(ctx, second.ID); stored.QuantityThreshold == nil || *stored.QuantityThreshold != 20 {
		t.Fatalf("rejected update must leave the threshold alone, got %v", stored.QuantityThreshold)
	}

	discount := dec("5")
	if _, err := svc.UpdateRule(ctx, first.ID, domain.RuleUpdateRequest{QuantityThreshold: &ten, DiscountValue: &discount}); err != nil {
		t.Fatalf("keeping its own threshold is not a duplicate: %v", err)
	}
	thirty := 30
	if _, err := svc.UpdateRule(ctx, second.ID, domain.RuleUpdateRequest{QuantityThreshold: &thirty}); err != nil {
		t.Fatalf("a free threshold is allowed: %v", err)
	}
}

func TestMoneyAboveColumnRangeIsRejected(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()
	tooLarge := dec("10000000000")

	assertField := func(t *testing.T, err error, field string) {
		t.Helper()
		var validation *store.ValidationError
		if !errors.As(err, &validation) || validation.Field != field {
			t.Fatalf("expected validation error on %s, got %v", field, err)
		}
	}

	_, err := svc.CreateProduct(ctx, domain.ProductCreateRequest{Code: "300020", Name: "Dyr", ProductGroupID: "grp-dairy", PurchasePrice: tooLarge})
	assertField(t, err, "purchase_price")

	_, err = svc.UpdateProduct(ctx, "prd-milk", domain.ProductUpdateRequest{PurchasePrice: &tooLarge})
	assertField(t, err, "purchase_price")

	_, err = svc.UpdateRule(ctx, "rule-b2b-milk", domain.RuleUpdateRequest{BasePrice: &tooLarge})
	assertField(t, err, FieldBasePrice)

	kr := domain.DiscountAmount
	_, err = svc.UpdateRule(ctx, "rule-ica-milk", domain.RuleUpdateRequest{DiscountType: &kr, DiscountValue: &tooLarge})
	assertField(t, err, FieldDiscountValue)

	_, err = svc.EditCell(ctx, "rule-b2b-milk", domain.CellEditRequest{Field: FieldFinalPrice, Value: "10000000000"})
	assertField(t, err, FieldFinalPrice)

	_, err = svc.UpdateSurcharge(ctx, "sur-deposit", domain.SurchargeUpdateRequest{CostValue: &tooLarge})
	assertField(t, err, "cost_value")

	largest := dec("9999999999.99")
	if _, err := svc.UpdateRule(ctx, "rule-b2b-milk", domain.RuleUpdateRequest{BasePrice: &largest}); err != nil {
		t.Fatalf("the largest column value is allowed: %v", err)
	}
}
