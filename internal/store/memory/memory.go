package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/pricing"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/xid"
)

type contextKey struct {
	kind domain.ContextType
	id   string
}

type linkKey struct {
	surchargeID string
	targetID    string
}

type Store struct {
	mu                 sync.RWMutex
	departments        map[string]domain.Department
	groups             map[string]domain.ProductGroup
	products           map[string]domain.Product
	suppliers          map[string]domain.Supplier
	productSuppliers   map[string]domain.ProductSupplier
	contexts           map[contextKey]domain.PricingContext
	rules              map[string]domain.PricingRule
	surcharges         map[string]domain.Surcharge
	productSurcharges  map[linkKey]domain.ProductSurcharge
	supplierSurcharges map[linkKey]domain.SupplierSurcharge
	otherCosts         map[string]domain.OtherCost
	priceChanges       []domain.PriceChange
	auditLogs          []domain.AuditLog
}

func New() *Store {
	return &Store{
		departments:        make(map[string]domain.Department),
		groups:             make(map[string]domain.ProductGroup),
		products:           make(map[string]domain.Product),
		suppliers:          make(map[string]domain.Supplier),
		productSuppliers:   make(map[string]domain.ProductSupplier),
		contexts:           make(map[contextKey]domain.PricingContext),
		rules:              make(map[string]domain.PricingRule),
		surcharges:         make(map[string]domain.Surcharge),
		productSurcharges:  make(map[linkKey]domain.ProductSurcharge),
		supplierSurcharges: make(map[linkKey]domain.SupplierSurcharge),
		otherCosts:         make(map[string]domain.OtherCost),
		priceChanges:       make([]domain.PriceChange, 0, 64),
		auditLogs:          make([]domain.AuditLog, 0, 128),
	}
}

// NewSeeded returns a store with a small demo assortment for dev mode and tests.
func NewSeeded() *Store {
	s := New()
	now := time.Now().UTC()
	d := decimal.RequireFromString

	for _, dept := range []domain.Department{
		{ID: "dept-food", Code: "10", Name: "Livsmedel"},
		{ID: "dept-home", Code: "20", Name: "Hem"},
	} {
		s.departments[dept.ID] = dept
	}
	for _, group := range []domain.ProductGroup{
		{ID: "grp-dairy", Code: "1010", Name: "Mejeri", DepartmentID: "dept-food"},
		{ID: "grp-bakery", Code: "1020", Name: "Bröd", DepartmentID: "dept-food"},
		{ID: "grp-clean", Code: "2010", Name: "Städ", DepartmentID: "dept-home"},
	} {
		s.groups[group.ID] = group
	}
	for _, product := range []domain.Product{
		{ID: "prd-milk", Code: "100001", Name: "Mjölk 1L", ProductGroupID: "grp-dairy", PurchasePrice: d("9.50"), PrimarySupplierID: "ps-milk-arla"},
		{ID: "prd-butter", Code: "100002", Name: "Smör 500g", ProductGroupID: "grp-dairy", PurchasePrice: d("38.00")},
		{ID: "prd-bread", Code: "100003", Name: "Rågbröd", ProductGroupID: "grp-bakery", PurchasePrice: d("18.40"), PrimarySupplierID: "ps-bread-pagen"},
		{ID: "prd-dish", Code: "200001", Name: "Diskmedel", ProductGroupID: "grp-clean", PurchasePrice: d("21.00")},
	} {
		product.SyncStatus = domain.SyncPending
		s.products[product.ID] = product
	}
	for _, supplier := range []domain.Supplier{
		{ID: "sup-arla", Code: "ARLA", Name: "Arla Foods"},
		{ID: "sup-pagen", Code: "PAGEN", Name: "Pågen"},
		{ID: "sup-bulk", Code: "GROSS", Name: "Grossisten AB"},
	} {
		supplier.CreatedAt = now
		s.suppliers[supplier.ID] = supplier
	}
	for _, ps := range []domain.ProductSupplier{
		{ID: "ps-milk-arla", ProductID: "prd-milk", SupplierID: "sup-arla", BasePrice: d("10.00"), DiscountType: domain.DiscountPercent, DiscountValue: d("5"), IsPrimary: true},
		{ID: "ps-milk-bulk", ProductID: "prd-milk", SupplierID: "sup-bulk", BasePrice: d("9.80"), DiscountType: domain.DiscountAmount, DiscountValue: decimal.Zero},
		{ID: "ps-bread-pagen", ProductID: "prd-bread", SupplierID: "sup-pagen", BasePrice: d("20.00"), DiscountType: domain.DiscountPercent, DiscountValue: d("8"), IsPrimary: true},
	} {
		s.productSuppliers[ps.ID] = ps
	}

	for _, pc := range []domain.PricingContext{
		{ID: "ctr-ica", Type: domain.ContextContract, Name: "ICA Nära avtal", Status: domain.ContextActive, ExcludeFromCampaigns: true},
		{ID: "cpg-b2b", Type: domain.ContextCustomerPriceGroup, Name: "Företagskunder", Status: domain.ContextActive},
		{ID: "cmp-summer", Type: domain.ContextCampaign, Name: "Sommarkampanj", Status: domain.ContextActive},
	} {
		pc.CreatedAt = now
		s.contexts[contextKey{kind: pc.Type, id: pc.ID}] = pc
	}
	for _, rule := range []domain.PricingRule{
		{
			ID: "rule-b2b-milk", ContextType: domain.ContextCustomerPriceGroup, ContextID: "cpg-b2b",
			Scope:            domain.SingleProduct("prd-milk"),
			BasePrice:        decimal.NewNullDecimal(d("12.50")),
			DiscountType:     domain.DiscountPercent,
			MarginPercentage: decimal.NewNullDecimal(d("24.0")),
			FinalPrice:       decimal.NewNullDecimal(d("12.50")),
		},
		{
			ID: "rule-b2b-dairy", ContextType: domain.ContextCustomerPriceGroup, ContextID: "cpg-b2b",
			Scope:         domain.ProductGroupScope("grp-dairy"),
			DiscountType:  domain.DiscountPercent,
			DiscountValue: d("5"),
		},
		{
			ID: "rule-ica-milk", ContextType: domain.ContextContract, ContextID: "ctr-ica",
			Scope:            domain.SingleProduct("prd-milk"),
			BasePrice:        decimal.NewNullDecimal(d("14.00")),
			DiscountType:     domain.DiscountPercent,
			DiscountValue:    d("10"),
			MarginPercentage: decimal.NewNullDecimal(d("24.6")),
			FinalPrice:       decimal.NewNullDecimal(d("12.60")),
		},
		{
			ID: "rule-ica-all", ContextType: domain.ContextContract, ContextID: "ctr-ica",
			Scope:         domain.AllProducts(),
			DiscountType:  domain.DiscountPercent,
			DiscountValue: d("2"),
		},
		{
			ID: "rule-summer-food", ContextType: domain.ContextCampaign, ContextID: "cmp-summer",
			Scope:         domain.DepartmentScope("dept-food"),
			DiscountType:  domain.DiscountPercent,
			DiscountValue: d("15"),
		},
	} {
		rule.CreatedAt = now
		rule.UpdatedAt = now
		s.rules[rule.ID] = rule
	}

	for _, sc := range []domain.Surcharge{
		{ID: "sur-freight", Name: "Frakt", Description: "Fraktpåslag från leverantör", CostType: domain.DiscountPercent, CostValue: d("3"), Type: domain.SurchargeSupplier, Source: domain.SourceCalculationPrice, SortOrder: 0, IsActive: true},
		{ID: "sur-deposit", Name: "Pant", Description: "Pant per förpackning", CostType: domain.DiscountAmount, CostValue: d("1.00"), Type: domain.SurchargeProduct, Source: domain.SourceFinalPrice, SortOrder: 1, IsActive: true},
		{ID: "sur-handling", Name: "Hantering", Description: "Kylhantering", CostType: domain.DiscountPercent, CostValue: d("2"), Type: domain.SurchargeProduct, Source: domain.SourceCalculationPrice, SortOrder: 2, IsActive: true},
	} {
		sc.CreatedAt = now
		s.surcharges[sc.ID] = sc
	}
	for _, link := range []domain.ProductSurcharge{
		{SurchargeID: "sur-deposit", ProductID: "prd-milk"},
		{SurchargeID: "sur-handling", ProductID: "prd-milk"},
		{SurchargeID: "sur-handling", ProductID: "prd-butter"},
	} {
		link.CreatedAt = now
		s.productSurcharges[linkKey{surchargeID: link.SurchargeID, targetID: link.ProductID}] = link
	}
	s.supplierSurcharges[linkKey{surchargeID: "sur-freight", targetID: "sup-arla"}] = domain.SupplierSurcharge{
		SupplierID: "sup-arla", SurchargeID: "sur-freight", CreatedAt: now,
	}
	s.otherCosts["oc-env"] = domain.OtherCost{
		ID: "oc-env", Name: "Miljöavgift", CostType: domain.DiscountAmount, CostValue: d("0.25"), IsActive: false, CreatedAt: now,
	}

	return s
}

func (s *Store) ListDepartments(_ context.Context) ([]domain.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Department, 0, len(s.departments))
	for _, dept := range s.departments {
		result = append(result, dept)
	}
	slices.SortFunc(result, func(a, b domain.Department) int {
		return cmpString(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) CreateDepartment(_ context.Context, dept domain.Department) (*domain.Department, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.departments {
		if strings.EqualFold(existing.Code, dept.Code) {
			return nil, store.ErrConflict
		}
	}
	if dept.ID == "" {
		dept.ID = xid.New("dept")
	}
	s.departments[dept.ID] = dept
	created := dept
	return &created, nil
}

func (s *Store) ListProductGroups(_ context.Context) ([]domain.ProductGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductGroup, 0, len(s.groups))
	for _, group := range s.groups {
		result = append(result, s.hydrateGroup(group))
	}
	slices.SortFunc(result, func(a, b domain.ProductGroup) int {
		return cmpString(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) GetProductGroup(_ context.Context, id string) (*domain.ProductGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	group, ok := s.groups[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	hydrated := s.hydrateGroup(group)
	return &hydrated, nil
}

func (s *Store) CreateProductGroup(_ context.Context, group domain.ProductGroup) (*domain.ProductGroup, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.departments[group.DepartmentID]; !ok {
		return nil, store.Invalid("department_id", "does not exist")
	}
	for _, existing := range s.groups {
		if strings.EqualFold(existing.Code, group.Code) {
			return nil, store.ErrConflict
		}
	}
	if group.ID == "" {
		group.ID = xid.New("grp")
	}
	group.DepartmentName = ""
	s.groups[group.ID] = group
	created := s.hydrateGroup(group)
	return &created, nil
}

func (s *Store) ListProducts(_ context.Context) ([]domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Product, 0, len(s.products))
	for _, product := range s.products {
		result = append(result, s.hydrateProduct(product))
	}
	slices.SortFunc(result, func(a, b domain.Product) int {
		return cmpString(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) GetProduct(_ context.Context, id string) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	product, ok := s.products[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	hydrated := s.hydrateProduct(product)
	return &hydrated, nil
}

func (s *Store) CreateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.groups[product.ProductGroupID]; !ok {
		return nil, store.Invalid("product_group_id", "does not exist")
	}
	for _, existing := range s.products {
		if strings.EqualFold(existing.Code, product.Code) {
			return nil, store.ErrConflict
		}
	}
	if product.ID == "" {
		product.ID = xid.New("prd")
	}
	if product.SyncStatus == "" {
		product.SyncStatus = domain.SyncPending
	}
	product.PrimarySupplierID = ""
	s.products[product.ID] = stripProduct(product)
	created := s.hydrateProduct(product)
	return &created, nil
}

func (s *Store) UpdateProduct(_ context.Context, product domain.Product) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.products[product.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.groups[product.ProductGroupID]; !ok {
		return nil, store.Invalid("product_group_id", "does not exist")
	}

	current.Name = product.Name
	current.ProductGroupID = product.ProductGroupID
	current.PurchasePrice = product.PurchasePrice
	current.SyncStatus = product.SyncStatus
	s.products[current.ID] = current
	updated := s.hydrateProduct(current)
	return &updated, nil
}

func (s *Store) SetProductSync(_ context.Context, productID string, status domain.SyncStatus, at *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return store.ErrNotFound
	}
	product.SyncStatus = status
	if at != nil {
		synced := at.UTC()
		product.LastSync = &synced
	}
	s.products[productID] = product
	return nil
}

func (s *Store) ListSuppliers(_ context.Context) ([]domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Supplier, 0, len(s.suppliers))
	for _, supplier := range s.suppliers {
		result = append(result, supplier)
	}
	slices.SortFunc(result, func(a, b domain.Supplier) int {
		return cmpString(a.Code, b.Code)
	})
	return result, nil
}

func (s *Store) GetSupplier(_ context.Context, id string) (*domain.Supplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	supplier, ok := s.suppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &supplier, nil
}

func (s *Store) CreateSupplier(_ context.Context, supplier domain.Supplier) (*domain.Supplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.suppliers {
		if strings.EqualFold(existing.Code, supplier.Code) {
			return nil, store.ErrConflict
		}
	}
	if supplier.ID == "" {
		supplier.ID = xid.New("sup")
	}
	if supplier.CreatedAt.IsZero() {
		supplier.CreatedAt = time.Now().UTC()
	}
	s.suppliers[supplier.ID] = supplier
	created := supplier
	return &created, nil
}

func (s *Store) ListProductSuppliers(_ context.Context, productID string) ([]domain.ProductSupplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductSupplier, 0, 4)
	for _, ps := range s.productSuppliers {
		if ps.ProductID == productID {
			result = append(result, s.hydrateProductSupplier(ps))
		}
	}
	slices.SortFunc(result, func(a, b domain.ProductSupplier) int {
		if a.IsPrimary != b.IsPrimary {
			if a.IsPrimary {
				return -1
			}
			return 1
		}
		return cmpString(a.SupplierCode, b.SupplierCode)
	})
	return result, nil
}

func (s *Store) GetProductSupplier(_ context.Context, id string) (*domain.ProductSupplier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ps, ok := s.productSuppliers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	hydrated := s.hydrateProductSupplier(ps)
	return &hydrated, nil
}

// CreateProductSupplier makes the row primary when the product has no other supplier.
func (s *Store) CreateProductSupplier(_ context.Context, ps domain.ProductSupplier) (*domain.ProductSupplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[ps.ProductID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if _, ok := s.suppliers[ps.SupplierID]; !ok {
		return nil, store.Invalid("supplier_id", "does not exist")
	}
	first := true
	for _, existing := range s.productSuppliers {
		if existing.ProductID != ps.ProductID {
			continue
		}
		if existing.SupplierID == ps.SupplierID {
			return nil, store.ErrConflict
		}
		first = false
	}

	if ps.ID == "" {
		ps.ID = xid.New("ps")
	}
	ps.IsPrimary = first
	s.productSuppliers[ps.ID] = ps
	if first {
		product.PrimarySupplierID = ps.ID
		s.products[product.ID] = product
	}
	created := s.hydrateProductSupplier(ps)
	return &created, nil
}

func (s *Store) UpdateProductSupplier(_ context.Context, ps domain.ProductSupplier) (*domain.ProductSupplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.productSuppliers[ps.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current.BasePrice = ps.BasePrice
	current.DiscountType = ps.DiscountType
	current.DiscountValue = ps.DiscountValue
	s.productSuppliers[current.ID] = current
	updated := s.hydrateProductSupplier(current)
	return &updated, nil
}

func (s *Store) DeleteProductSupplier(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ps, ok := s.productSuppliers[id]
	if !ok {
		return store.ErrNotFound
	}
	delete(s.productSuppliers, id)
	if product, ok := s.products[ps.ProductID]; ok && product.PrimarySupplierID == id {
		product.PrimarySupplierID = ""
		s.products[product.ID] = product
	}
	return nil
}

func (s *Store) SetPrimarySupplier(_ context.Context, productID string, supplierID string) (*domain.ProductSupplier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	product, ok := s.products[productID]
	if !ok {
		return nil, store.ErrNotFound
	}
	var chosen *domain.ProductSupplier
	for _, ps := range s.productSuppliers {
		if ps.ProductID == productID && ps.SupplierID == supplierID {
			found := ps
			chosen = &found
			break
		}
	}
	if chosen == nil {
		return nil, &store.TxError{Op: "set_primary_supplier", Err: store.ErrNotFound}
	}

	for id, ps := range s.productSuppliers {
		if ps.ProductID != productID {
			continue
		}
		ps.IsPrimary = id == chosen.ID
		s.productSuppliers[id] = ps
	}
	product.PrimarySupplierID = chosen.ID
	s.products[productID] = product

	updated := s.hydrateProductSupplier(s.productSuppliers[chosen.ID])
	return &updated, nil
}

func (s *Store) ListContexts(_ context.Context, contextType domain.ContextType) ([]domain.PricingContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PricingContext, 0, 8)
	for key, pc := range s.contexts {
		if key.kind == contextType {
			result = append(result, cloneContext(pc))
		}
	}
	slices.SortFunc(result, func(a, b domain.PricingContext) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetContext(_ context.Context, contextType domain.ContextType, id string) (*domain.PricingContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pc, ok := s.contexts[contextKey{kind: contextType, id: id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneContext(pc)
	return &cloned, nil
}

func (s *Store) CreateContext(_ context.Context, pc domain.PricingContext) (*domain.PricingContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pc.ID == "" {
		pc.ID = xid.New(contextPrefix(pc.Type))
	}
	key := contextKey{kind: pc.Type, id: pc.ID}
	if _, exists := s.contexts[key]; exists {
		return nil, store.ErrConflict
	}
	if pc.CreatedAt.IsZero() {
		pc.CreatedAt = time.Now().UTC()
	}
	s.contexts[key] = cloneContext(pc)
	created := cloneContext(pc)
	return &created, nil
}

func (s *Store) UpdateContext(_ context.Context, pc domain.PricingContext) (*domain.PricingContext, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := contextKey{kind: pc.Type, id: pc.ID}
	current, ok := s.contexts[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	pc.CreatedAt = current.CreatedAt
	s.contexts[key] = cloneContext(pc)
	updated := cloneContext(pc)
	return &updated, nil
}

func (s *Store) FindRules(_ context.Context, contextType domain.ContextType, contextID string) ([]domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PricingRule, 0, 16)
	for _, rule := range s.rules {
		if rule.ContextType == contextType && rule.ContextID == contextID {
			result = append(result, cloneRule(rule))
		}
	}
	slices.SortFunc(result, compareRules)
	return result, nil
}

func (s *Store) FindProductRules(_ context.Context, productID string) ([]domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PricingRule, 0, 4)
	for _, rule := range s.rules {
		if rule.Scope.IsSingle() && rule.Scope.ProductID() == productID {
			result = append(result, cloneRule(rule))
		}
	}
	slices.SortFunc(result, func(a, b domain.PricingRule) int {
		if c := strings.Compare(string(a.ContextType), string(b.ContextType)); c != 0 {
			return c
		}
		if c := strings.Compare(a.ContextID, b.ContextID); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return result, nil
}

func (s *Store) GetRule(_ context.Context, id string) (*domain.PricingRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rules[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cloned := cloneRule(rule)
	return &cloned, nil
}

func (s *Store) CreateRule(_ context.Context, rule domain.PricingRule) (*domain.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.contexts[contextKey{kind: rule.ContextType, id: rule.ContextID}]; !ok {
		return nil, store.Invalid("context_id", "does not exist")
	}
	if s.duplicateSingleRule(rule) {
		return nil, store.ErrConflict
	}
	if rule.ID == "" {
		rule.ID = xid.New("rule")
	}
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now
	s.rules[rule.ID] = cloneRule(rule)
	created := cloneRule(rule)
	return &created, nil
}

func (s *Store) UpdateRule(_ context.Context, rule domain.PricingRule) (*domain.PricingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.rules[rule.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	rule.ContextType = current.ContextType
	rule.ContextID = current.ContextID
	rule.CreatedAt = current.CreatedAt
	if s.duplicateSingleRule(rule) {
		return nil, store.ErrConflict
	}
	rule.UpdatedAt = time.Now().UTC()
	s.rules[rule.ID] = cloneRule(rule)
	updated := cloneRule(rule)
	return &updated, nil
}

func (s *Store) DeleteRule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rules[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.rules, id)
	return nil
}

func (s *Store) duplicateSingleRule(rule domain.PricingRule) bool {
	if !rule.Scope.IsSingle() {
		return false
	}
	for _, existing := range s.rules {
		if existing.ID == rule.ID {
			continue
		}
		if existing.ContextType == rule.ContextType && existing.ContextID == rule.ContextID && existing.Scope == rule.Scope {
			return true
		}
	}
	return false
}

func (s *Store) ListSurcharges(_ context.Context) ([]domain.Surcharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedSurcharges(), nil
}

func (s *Store) GetSurcharge(_ context.Context, id string) (*domain.Surcharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sc, ok := s.surcharges[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &sc, nil
}

// CreateSurcharge appends the surcharge at the end of the sequence.
func (s *Store) CreateSurcharge(_ context.Context, sc domain.Surcharge) (*domain.Surcharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sc.ID == "" {
		sc.ID = xid.New("sur")
	}
	if _, exists := s.surcharges[sc.ID]; exists {
		return nil, store.ErrConflict
	}
	if sc.CreatedAt.IsZero() {
		sc.CreatedAt = time.Now().UTC()
	}
	sc.SortOrder = pricing.NextSortOrder(s.sortedSurcharges())
	s.surcharges[sc.ID] = sc
	created := sc
	return &created, nil
}

// UpdateSurcharge leaves type and sort order alone; they have their own operations.
func (s *Store) UpdateSurcharge(_ context.Context, sc domain.Surcharge) (*domain.Surcharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.surcharges[sc.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	current.Name = sc.Name
	current.Description = sc.Description
	current.CostType = sc.CostType
	current.CostValue = sc.CostValue
	current.Source = sc.Source
	current.IsActive = sc.IsActive
	s.surcharges[current.ID] = current
	updated := current
	return &updated, nil
}

// DeleteSurcharge removes the surcharge with its links and closes the gap in the sequence.
func (s *Store) DeleteSurcharge(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.surcharges[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.surcharges, id)
	s.deleteProductLinks(id)
	s.deleteSupplierLinks(id)
	for _, a := range pricing.Densify(pricing.SequenceIDs(s.sortedSurcharges())) {
		sc := s.surcharges[a.ID]
		sc.SortOrder = a.SortOrder
		s.surcharges[a.ID] = sc
	}
	return nil
}

func (s *Store) UpdateSurchargeSortOrder(_ context.Context, items []domain.SortAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, item := range items {
		if _, ok := s.surcharges[item.ID]; !ok {
			return &store.TxError{Op: "update_sort_order", Err: fmt.Errorf("surcharge %s: %w", item.ID, store.ErrNotFound)}
		}
	}
	for _, item := range items {
		sc := s.surcharges[item.ID]
		sc.SortOrder = item.SortOrder
		s.surcharges[item.ID] = sc
	}
	return nil
}

func (s *Store) GetSurchargeRelationshipCounts(_ context.Context, id string) (domain.RelationshipCounts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.surcharges[id]; !ok {
		return domain.RelationshipCounts{}, store.ErrNotFound
	}
	counts := domain.RelationshipCounts{}
	for key := range s.productSurcharges {
		if key.surchargeID == id {
			counts.ProductCount++
		}
	}
	for key := range s.supplierSurcharges {
		if key.surchargeID == id {
			counts.SupplierCount++
		}
	}
	return counts, nil
}

func (s *Store) CascadeDeleteSurchargeProducts(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteProductLinks(id), nil
}

func (s *Store) CascadeDeleteSurchargeSuppliers(_ context.Context, id string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deleteSupplierLinks(id), nil
}

func (s *Store) ChangeSurchargeType(_ context.Context, sc domain.Surcharge) (*domain.Surcharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.surcharges[sc.ID]
	if !ok {
		return nil, &store.TxError{Op: "change_surcharge_type", Err: store.ErrNotFound}
	}
	switch sc.Type {
	case domain.SurchargeSupplier:
		s.deleteProductLinks(sc.ID)
	case domain.SurchargeProduct:
		s.deleteSupplierLinks(sc.ID)
	default:
		return nil, &store.TxError{Op: "change_surcharge_type", Err: store.Invalid("type", "must be product or supplier")}
	}
	current.Name = sc.Name
	current.Description = sc.Description
	current.CostType = sc.CostType
	current.CostValue = sc.CostValue
	current.Source = sc.Source
	current.IsActive = sc.IsActive
	current.Type = sc.Type
	s.surcharges[current.ID] = current
	updated := current
	return &updated, nil
}

func (s *Store) ListProductSurcharges(_ context.Context, productID string) ([]domain.ProductSurcharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ProductSurcharge, 0, 4)
	for key, link := range s.productSurcharges {
		if key.targetID == productID {
			result = append(result, link)
		}
	}
	slices.SortFunc(result, func(a, b domain.ProductSurcharge) int {
		return cmpString(a.SurchargeID, b.SurchargeID)
	})
	return result, nil
}

func (s *Store) CreateProductSurcharge(_ context.Context, surchargeID string, productID string) (*domain.ProductSurcharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.surcharges[surchargeID]
	if !ok {
		return nil, store.Invalid("surcharge_id", "does not exist")
	}
	if sc.Type != domain.SurchargeProduct {
		return nil, store.Invalid("surcharge_id", "is not a product surcharge")
	}
	if _, ok := s.products[productID]; !ok {
		return nil, store.ErrNotFound
	}
	key := linkKey{surchargeID: surchargeID, targetID: productID}
	if _, exists := s.productSurcharges[key]; exists {
		return nil, store.ErrConflict
	}
	link := domain.ProductSurcharge{SurchargeID: surchargeID, ProductID: productID, CreatedAt: time.Now().UTC()}
	s.productSurcharges[key] = link
	return &link, nil
}

func (s *Store) DeleteProductSurcharge(_ context.Context, surchargeID string, productID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{surchargeID: surchargeID, targetID: productID}
	if _, ok := s.productSurcharges[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.productSurcharges, key)
	return nil
}

func (s *Store) ListSupplierSurcharges(_ context.Context, supplierID string) ([]domain.SupplierSurcharge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.SupplierSurcharge, 0, 4)
	for key, link := range s.supplierSurcharges {
		if key.targetID == supplierID {
			result = append(result, link)
		}
	}
	slices.SortFunc(result, func(a, b domain.SupplierSurcharge) int {
		return cmpString(a.SurchargeID, b.SurchargeID)
	})
	return result, nil
}

func (s *Store) CreateSupplierSurcharge(_ context.Context, surchargeID string, supplierID string) (*domain.SupplierSurcharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.surcharges[surchargeID]
	if !ok {
		return nil, store.Invalid("surcharge_id", "does not exist")
	}
	if sc.Type != domain.SurchargeSupplier {
		return nil, store.Invalid("surcharge_id", "is not a supplier surcharge")
	}
	if _, ok := s.suppliers[supplierID]; !ok {
		return nil, store.ErrNotFound
	}
	key := linkKey{surchargeID: surchargeID, targetID: supplierID}
	if _, exists := s.supplierSurcharges[key]; exists {
		return nil, store.ErrConflict
	}
	link := domain.SupplierSurcharge{SupplierID: supplierID, SurchargeID: surchargeID, CreatedAt: time.Now().UTC()}
	s.supplierSurcharges[key] = link
	return &link, nil
}

func (s *Store) DeleteSupplierSurcharge(_ context.Context, surchargeID string, supplierID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := linkKey{surchargeID: surchargeID, targetID: supplierID}
	if _, ok := s.supplierSurcharges[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.supplierSurcharges, key)
	return nil
}

func (s *Store) ListOtherCosts(_ context.Context) ([]domain.OtherCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.OtherCost, 0, len(s.otherCosts))
	for _, cost := range s.otherCosts {
		result = append(result, cost)
	}
	slices.SortFunc(result, func(a, b domain.OtherCost) int {
		if a.Name == b.Name {
			return cmpString(a.ID, b.ID)
		}
		return cmpString(a.Name, b.Name)
	})
	return result, nil
}

func (s *Store) GetOtherCost(_ context.Context, id string) (*domain.OtherCost, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cost, ok := s.otherCosts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &cost, nil
}

func (s *Store) CreateOtherCost(_ context.Context, cost domain.OtherCost) (*domain.OtherCost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cost.ID == "" {
		cost.ID = xid.New("oc")
	}
	if cost.CreatedAt.IsZero() {
		cost.CreatedAt = time.Now().UTC()
	}
	s.otherCosts[cost.ID] = cost
	created := cost
	return &created, nil
}

func (s *Store) UpdateOtherCost(_ context.Context, cost domain.OtherCost) (*domain.OtherCost, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.otherCosts[cost.ID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cost.CreatedAt = current.CreatedAt
	s.otherCosts[cost.ID] = cost
	updated := cost
	return &updated, nil
}

func (s *Store) DeleteOtherCost(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.otherCosts[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.otherCosts, id)
	return nil
}

func (s *Store) CreatePriceChange(_ context.Context, entry domain.PriceChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("pc")
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceChanges = append(s.priceChanges, entry)
	return nil
}

func (s *Store) ListPriceChanges(_ context.Context, entityID string, limit int) ([]domain.PriceChange, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.PriceChange, 0, 16)
	for _, entry := range s.priceChanges {
		if entityID != "" && entry.EntityID != entityID && entry.ProductID != entityID {
			continue
		}
		result = append(result, entry)
	}
	slices.SortFunc(result, func(a, b domain.PriceChange) int {
		return newestFirst(a.ChangedAt, b.ChangedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.AuditLog, len(s.auditLogs))
	copy(result, s.auditLogs)
	slices.SortFunc(result, func(a, b domain.AuditLog) int {
		return newestFirst(a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) hydrateGroup(group domain.ProductGroup) domain.ProductGroup {
	if dept, ok := s.departments[group.DepartmentID]; ok {
		group.DepartmentName = dept.Name
	}
	return group
}

func (s *Store) hydrateProduct(product domain.Product) domain.Product {
	product = stripProduct(product)
	if group, ok := s.groups[product.ProductGroupID]; ok {
		product.ProductGroupName = group.Name
		product.DepartmentID = group.DepartmentID
		if dept, ok := s.departments[group.DepartmentID]; ok {
			product.DepartmentName = dept.Name
		}
	}
	if product.LastSync != nil {
		synced := *product.LastSync
		product.LastSync = &synced
	}
	return product
}

func (s *Store) hydrateProductSupplier(ps domain.ProductSupplier) domain.ProductSupplier {
	if supplier, ok := s.suppliers[ps.SupplierID]; ok {
		ps.SupplierCode = supplier.Code
		ps.SupplierName = supplier.Name
	}
	return ps
}

func (s *Store) sortedSurcharges() []domain.Surcharge {
	result := make([]domain.Surcharge, 0, len(s.surcharges))
	for _, sc := range s.surcharges {
		result = append(result, sc)
	}
	pricing.SortSurcharges(result)
	return result
}

// deleteProductLinks returns the ids of the unlinked products, sorted.
func (s *Store) deleteProductLinks(surchargeID string) []string {
	removed := make([]string, 0, 4)
	for key := range s.productSurcharges {
		if key.surchargeID == surchargeID {
			delete(s.productSurcharges, key)
			removed = append(removed, key.targetID)
		}
	}
	slices.Sort(removed)
	return removed
}

func (s *Store) deleteSupplierLinks(surchargeID string) []string {
	removed := make([]string, 0, 4)
	for key := range s.supplierSurcharges {
		if key.surchargeID == surchargeID {
			delete(s.supplierSurcharges, key)
			removed = append(removed, key.targetID)
		}
	}
	slices.Sort(removed)
	return removed
}

func stripProduct(product domain.Product) domain.Product {
	product.ProductGroupName = ""
	product.DepartmentID = ""
	product.DepartmentName = ""
	return product
}

func contextPrefix(t domain.ContextType) string {
	switch t {
	case domain.ContextContract:
		return "ctr"
	case domain.ContextCustomerPriceGroup:
		return "cpg"
	case domain.ContextCampaign:
		return "cmp"
	default:
		return "ctx"
	}
}

func compareRules(a, b domain.PricingRule) int {
	if ra, rb := a.Scope.Kind().Rank(), b.Scope.Kind().Rank(); ra != rb {
		return rb - ra
	}
	if c := cmpString(a.Scope.TargetID(), b.Scope.TargetID()); c != 0 {
		return c
	}
	return cmpString(a.ID, b.ID)
}

func newestFirst(a, b time.Time, aID, bID string) int {
	if a.Equal(b) {
		return cmpString(bID, aID)
	}
	if a.After(b) {
		return -1
	}
	return 1
}

func cmpString(a string, b string) int {
	if a == b {
		return 0
	}
	if a < b {
		return -1
	}
	return 1
}

func cloneContext(src domain.PricingContext) domain.PricingContext {
	src.ValidFrom = cloneTime(src.ValidFrom)
	src.ValidTo = cloneTime(src.ValidTo)
	return src
}

func cloneRule(src domain.PricingRule) domain.PricingRule {
	src.ValidFrom = cloneTime(src.ValidFrom)
	src.ValidTo = cloneTime(src.ValidTo)
	if src.QuantityThreshold != nil {
		threshold := *src.QuantityThreshold
		src.QuantityThreshold = &threshold
	}
	return src
}

func cloneTime(src *time.Time) *time.Time {
	if src == nil {
		return nil
	}
	t := *src
	return &t
}

var _ store.Repository = (*Store)(nil)
