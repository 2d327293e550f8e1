package memory

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/store"
)

func TestSetPrimarySupplierIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	updated, err := s.SetPrimarySupplier(ctx, "prd-milk", "sup-bulk")
	if err != nil {
		t.Fatalf("set primary: %v", err)
	}
	if !updated.IsPrimary || updated.ID != "ps-milk-bulk" {
		t.Fatalf("unexpected primary row %+v", updated)
	}

	rows, err := s.ListProductSuppliers(ctx, "prd-milk")
	if err != nil {
		t.Fatalf("list product suppliers: %v", err)
	}
	primaries := 0
	for _, row := range rows {
		if row.IsPrimary {
			primaries++
		}
	}
	if primaries != 1 {
		t.Fatalf("expected exactly one primary, got %d", primaries)
	}

	product, err := s.GetProduct(ctx, "prd-milk")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.PrimarySupplierID != "ps-milk-bulk" {
		t.Fatalf("expected back-reference to ps-milk-bulk, got %q", product.PrimarySupplierID)
	}
}

func TestSetPrimarySupplierUnknownSupplierChangesNothing(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.SetPrimarySupplier(ctx, "prd-milk", "sup-pagen")
	var txErr *store.TxError
	if !errors.As(err, &txErr) || !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected TxError wrapping ErrNotFound, got %v", err)
	}
	product, _ := s.GetProduct(ctx, "prd-milk")
	if product.PrimarySupplierID != "ps-milk-arla" {
		t.Fatalf("primary changed after failed call: %q", product.PrimarySupplierID)
	}
}

func TestFirstProductSupplierBecomesPrimary(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	first, err := s.CreateProductSupplier(ctx, domain.ProductSupplier{ProductID: "prd-dish", SupplierID: "sup-bulk", BasePrice: decimal.NewFromInt(20), DiscountType: domain.DiscountPercent})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	second, err := s.CreateProductSupplier(ctx, domain.ProductSupplier{ProductID: "prd-dish", SupplierID: "sup-arla", BasePrice: decimal.NewFromInt(19), DiscountType: domain.DiscountPercent})
	if err != nil {
		t.Fatalf("create second: %v", err)
	}
	if !first.IsPrimary || second.IsPrimary {
		t.Fatalf("expected only the first supplier to be primary")
	}
	if _, err := s.CreateProductSupplier(ctx, domain.ProductSupplier{ProductID: "prd-dish", SupplierID: "sup-bulk"}); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate supplier, got %v", err)
	}
}

func TestCreateRuleRejectsDuplicateSingleScope(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	_, err := s.CreateRule(ctx, domain.PricingRule{
		ContextType: domain.ContextCustomerPriceGroup,
		ContextID:   "cpg-b2b",
		Scope:       domain.SingleProduct("prd-milk"),
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	other, err := s.CreateRule(ctx, domain.PricingRule{
		ContextType: domain.ContextContract,
		ContextID:   "ctr-ica",
		Scope:       domain.SingleProduct("prd-bread"),
	})
	if err != nil {
		t.Fatalf("create rule for another product: %v", err)
	}
	other.Scope = domain.SingleProduct("prd-milk")
	if _, err := s.UpdateRule(ctx, *other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict when retargeting onto an existing single rule, got %v", err)
	}
}

func TestChangeSurchargeTypeCascades(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	counts, err := s.GetSurchargeRelationshipCounts(ctx, "sur-handling")
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ProductCount != 2 || counts.SupplierCount != 0 {
		t.Fatalf("unexpected counts %+v", counts)
	}

	sc, err := s.GetSurcharge(ctx, "sur-handling")
	if err != nil {
		t.Fatalf("get surcharge: %v", err)
	}
	sc.Type = domain.SurchargeSupplier
	sc.Name = "Hantering per leverantör"
	updated, err := s.ChangeSurchargeType(ctx, *sc)
	if err != nil {
		t.Fatalf("change type: %v", err)
	}
	if updated.Type != domain.SurchargeSupplier || updated.Name != "Hantering per leverantör" {
		t.Fatalf("expected type and name written together, got %s %q", updated.Type, updated.Name)
	}
	counts, _ = s.GetSurchargeRelationshipCounts(ctx, "sur-handling")
	if counts.ProductCount != 0 {
		t.Fatalf("expected product links to be removed, got %d", counts.ProductCount)
	}
	links, _ := s.ListProductSurcharges(ctx, "prd-milk")
	for _, link := range links {
		if link.SurchargeID == "sur-handling" {
			t.Fatalf("stale link still present")
		}
	}
}

func TestCascadeDeleteSurchargeLinksReturnsTargets(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	products, err := s.CascadeDeleteSurchargeProducts(ctx, "sur-handling")
	if err != nil {
		t.Fatalf("detach products: %v", err)
	}
	if !slices.Equal(products, []string{"prd-butter", "prd-milk"}) {
		t.Fatalf("unexpected unlinked products %v", products)
	}
	suppliers, err := s.CascadeDeleteSurchargeSuppliers(ctx, "sur-freight")
	if err != nil {
		t.Fatalf("detach suppliers: %v", err)
	}
	if !slices.Equal(suppliers, []string{"sup-arla"}) {
		t.Fatalf("unexpected unlinked suppliers %v", suppliers)
	}

	counts, _ := s.GetSurchargeRelationshipCounts(ctx, "sur-handling")
	if counts.ProductCount != 0 {
		t.Fatalf("expected no product links left, got %d", counts.ProductCount)
	}
	again, err := s.CascadeDeleteSurchargeProducts(ctx, "sur-handling")
	if err != nil || len(again) != 0 {
		t.Fatalf("expected an empty second detach, got %v %v", again, err)
	}
	if _, err := s.GetSurcharge(ctx, "sur-handling"); err != nil {
		t.Fatalf("surcharge itself must survive a detach: %v", err)
	}
}

func TestFindProductRulesSpansContexts(t *testing.T) {
	s := NewSeeded()

	rules, err := s.FindProductRules(context.Background(), "prd-milk")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		ids = append(ids, rule.ID)
	}
	if !slices.Equal(ids, []string{"rule-ica-milk", "rule-b2b-milk"}) {
		t.Fatalf("expected contract then group rule for prd-milk, got %v", ids)
	}
}

func TestSortOrderBatchIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	err := s.UpdateSurchargeSortOrder(ctx, []domain.SortAssignment{
		{ID: "sur-handling", SortOrder: 0},
		{ID: "sur-missing", SortOrder: 1},
	})
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	sc, _ := s.GetSurcharge(ctx, "sur-handling")
	if sc.SortOrder != 2 {
		t.Fatalf("partial batch applied: sort order %d", sc.SortOrder)
	}
}

func TestSurchargeSequenceStaysDense(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	created, err := s.CreateSurcharge(ctx, domain.Surcharge{Name: "Emballage", CostType: domain.DiscountAmount, Type: domain.SurchargeProduct, Source: domain.SourceFinalPrice, IsActive: true})
	if err != nil {
		t.Fatalf("create surcharge: %v", err)
	}
	if created.SortOrder != 3 {
		t.Fatalf("expected new surcharge at the end, got %d", created.SortOrder)
	}

	if err := s.DeleteSurcharge(ctx, "sur-deposit"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	list, _ := s.ListSurcharges(ctx)
	for i, sc := range list {
		if sc.SortOrder != i {
			t.Fatalf("gap after delete: %s has %d at position %d", sc.ID, sc.SortOrder, i)
		}
	}
	links, _ := s.ListProductSurcharges(ctx, "prd-milk")
	for _, link := range links {
		if link.SurchargeID == "sur-deposit" {
			t.Fatalf("links of a deleted surcharge must go too")
		}
	}
}

func TestProductLinkMustMatchSurchargeType(t *testing.T) {
	ctx := context.Background()
	s := NewSeeded()

	if _, err := s.CreateProductSurcharge(ctx, "sur-freight", "prd-milk"); !errors.Is(err, store.ErrInvalidInput) {
		t.Fatalf("expected invalid input for supplier surcharge on a product, got %v", err)
	}
	if _, err := s.CreateProductSurcharge(ctx, "sur-deposit", "prd-milk"); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict for duplicate link, got %v", err)
	}
}

func TestProductsAreJoinedWithHierarchy(t *testing.T) {
	product, err := NewSeeded().GetProduct(context.Background(), "prd-bread")
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if product.ProductGroupName != "Bröd" || product.DepartmentID != "dept-food" || product.DepartmentName != "Livsmedel" {
		t.Fatalf("unexpected hierarchy %+v", product)
	}
}
