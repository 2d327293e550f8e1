package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/xid"
)

func (s *Service) ListDepartments(ctx context.Context) ([]domain.Department, error) {
	return s.repo.ListDepartments(ctx)
}

func (s *Service) CreateDepartment(ctx context.Context, req domain.DepartmentCreateRequest) (domain.Department, error) {
	code, err := requireText("code", req.Code)
	if err != nil {
		return domain.Department{}, err
	}
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.Department{}, err
	}

	saved, err := s.repo.CreateDepartment(ctx, domain.Department{ID: xid.New("dept"), Code: code, Name: name})
	if err != nil {
		return domain.Department{}, err
	}
	s.logAudit(ctx, "department_create", "department", saved.ID, fmt.Sprintf("code=%s,name=%s", saved.Code, saved.Name))
	return *saved, nil
}

func (s *Service) ListProductGroups(ctx context.Context) ([]domain.ProductGroup, error) {
	return s.repo.ListProductGroups(ctx)
}

func (s *Service) CreateProductGroup(ctx context.Context, req domain.ProductGroupCreateRequest) (domain.ProductGroup, error) {
	code, err := requireText("code", req.Code)
	if err != nil {
		return domain.ProductGroup{}, err
	}
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.ProductGroup{}, err
	}
	departmentID, err := requireText("department_id", req.DepartmentID)
	if err != nil {
		return domain.ProductGroup{}, err
	}

	saved, err := s.repo.CreateProductGroup(ctx, domain.ProductGroup{
		ID:           xid.New("grp"),
		Code:         code,
		Name:         name,
		DepartmentID: departmentID,
	})
	if err != nil {
		return domain.ProductGroup{}, err
	}
	s.logAudit(ctx, "product_group_create", "product_group", saved.ID, fmt.Sprintf("code=%s,department=%s", saved.Code, saved.DepartmentID))
	return *saved, nil
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest) (domain.Product, error) {
	code, err := requireText("code", req.Code)
	if err != nil {
		return domain.Product{}, err
	}
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.Product{}, err
	}
	groupID, err := requireText("product_group_id", req.ProductGroupID)
	if err != nil {
		return domain.Product{}, err
	}
	if err := validateMoney("purchase_price", req.PurchasePrice); err != nil {
		return domain.Product{}, err
	}

	saved, err := s.repo.CreateProduct(ctx, domain.Product{
		ID:             xid.New("prd"),
		Code:           code,
		Name:           name,
		ProductGroupID: groupID,
		PurchasePrice:  req.PurchasePrice,
		SyncStatus:     domain.SyncPending,
	})
	if err != nil {
		return domain.Product{}, err
	}
	s.logAudit(ctx, "product_create", "product", saved.ID, fmt.Sprintf("code=%s,purchase_price=%s", saved.Code, saved.PurchasePrice.StringFixed(2)))
	return *saved, nil
}

func (s *Service) UpdateProduct(ctx context.Context, id string, req domain.ProductUpdateRequest) (domain.Product, error) {
	existing, err := s.repo.GetProduct(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Product{}, err
	}

	updated := *existing
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return domain.Product{}, err
		}
		updated.Name = name
	}
	if req.ProductGroupID != nil {
		groupID, err := requireText("product_group_id", *req.ProductGroupID)
		if err != nil {
			return domain.Product{}, err
		}
		updated.ProductGroupID = groupID
	}
	priceChanged := false
	if req.PurchasePrice != nil {
		if err := validateMoney("purchase_price", *req.PurchasePrice); err != nil {
			return domain.Product{}, err
		}
		priceChanged = !req.PurchasePrice.Equal(existing.PurchasePrice)
		updated.PurchasePrice = *req.PurchasePrice
	}
	if priceChanged || updated.ProductGroupID != existing.ProductGroupID {
		updated.SyncStatus = domain.SyncPending
	}

	saved, err := s.repo.UpdateProduct(ctx, updated)
	if err != nil {
		return domain.Product{}, err
	}

	s.recordPriceChange(ctx, "product", saved.ID, saved.ID, "purchase_price", existing.PurchasePrice, saved.PurchasePrice)
	if priceChanged || saved.ProductGroupID != existing.ProductGroupID {
		s.quotes.Invalidate(ctx)
	}
	if priceChanged {
		if err := s.reconcileProductRules(ctx, *saved); err != nil {
			s.logger.Error().Err(err).Str("product_id", saved.ID).Msg("reconcile rules after purchase price change")
			return domain.Product{}, fmt.Errorf("reconcile rules of %s: %w", saved.ID, err)
		}
	}
	s.logAudit(ctx, "product_update", "product", saved.ID, fmt.Sprintf("name=%s,group=%s,purchase_price=%s", saved.Name, saved.ProductGroupID, saved.PurchasePrice.StringFixed(2)))
	return *saved, nil
}

// reconcileProductRules recomputes the stored margin and final price of every
// single-product rule priced against the product's purchase price.
func (s *Service) reconcileProductRules(ctx context.Context, product domain.Product) error {
	rules, err := s.repo.FindProductRules(ctx, product.ID)
	if err != nil {
		return err
	}
	for _, before := range rules {
		after := before
		reconcileRule(&after, product.PurchasePrice)
		if nullEqual(before.MarginPercentage, after.MarginPercentage) && nullEqual(before.FinalPrice, after.FinalPrice) {
			continue
		}
		saved, err := s.repo.UpdateRule(ctx, after)
		if err != nil {
			return err
		}
		s.afterRuleUpdate(ctx, before, *saved)
	}
	return nil
}

func nullEqual(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func (s *Service) CreateSupplier(ctx context.Context, req domain.SupplierCreateRequest) (domain.Supplier, error) {
	code, err := requireText("code", req.Code)
	if err != nil {
		return domain.Supplier{}, err
	}
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.Supplier{}, err
	}

	saved, err := s.repo.CreateSupplier(ctx, domain.Supplier{
		ID:        xid.New("sup"),
		Code:      strings.ToUpper(code),
		Name:      name,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.Supplier{}, err
	}
	s.logAudit(ctx, "supplier_create", "supplier", saved.ID, fmt.Sprintf("code=%s,name=%s", saved.Code, saved.Name))
	return *saved, nil
}

func (s *Service) ListSuppliers(ctx context.Context) ([]domain.Supplier, error) {
	return s.repo.ListSuppliers(ctx)
}

func (s *Service) GetSupplier(ctx context.Context, id string) (domain.Supplier, error) {
	supplier, err := s.repo.GetSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Supplier{}, err
	}
	return *supplier, nil
}

func (s *Service) ListProductSuppliers(ctx context.Context, productID string) ([]domain.ProductSupplier, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListProductSuppliers(ctx, productID)
}

// AddProductSupplier links a supplier offer to a product. The product's first
// supplier becomes its primary one.
func (s *Service) AddProductSupplier(ctx context.Context, productID string, req domain.ProductSupplierCreateRequest) (domain.ProductSupplier, error) {
	supplierID, err := requireText("supplier_id", req.SupplierID)
	if err != nil {
		return domain.ProductSupplier{}, err
	}
	dtype := normalizeDiscountType(req.DiscountType)
	if err := validateMoney("base_price", req.BasePrice); err != nil {
		return domain.ProductSupplier{}, err
	}
	if err := validateDiscount("discount_type", "discount_value", dtype, req.DiscountValue); err != nil {
		return domain.ProductSupplier{}, err
	}

	saved, err := s.repo.CreateProductSupplier(ctx, domain.ProductSupplier{
		ID:            xid.New("ps"),
		ProductID:     strings.TrimSpace(productID),
		SupplierID:    supplierID,
		BasePrice:     req.BasePrice,
		DiscountType:  dtype,
		DiscountValue: req.DiscountValue,
	})
	if err != nil {
		return domain.ProductSupplier{}, err
	}
	if saved.IsPrimary {
		s.priceChanged(ctx, saved.ProductID)
	}
	s.logAudit(ctx, "product_supplier_create", "product_supplier", saved.ID, fmt.Sprintf("product=%s,supplier=%s,primary=%t", saved.ProductID, saved.SupplierID, saved.IsPrimary))
	return *saved, nil
}

func (s *Service) UpdateProductSupplier(ctx context.Context, id string, req domain.ProductSupplierUpdateRequest) (domain.ProductSupplier, error) {
	existing, err := s.repo.GetProductSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.ProductSupplier{}, err
	}

	updated := *existing
	if req.BasePrice != nil {
		if err := validateMoney("base_price", *req.BasePrice); err != nil {
			return domain.ProductSupplier{}, err
		}
		updated.BasePrice = *req.BasePrice
	}
	if req.DiscountType != nil {
		updated.DiscountType = normalizeDiscountType(*req.DiscountType)
	}
	if req.DiscountValue != nil {
		updated.DiscountValue = *req.DiscountValue
	}
	if err := validateDiscount("discount_type", "discount_value", updated.DiscountType, updated.DiscountValue); err != nil {
		return domain.ProductSupplier{}, err
	}

	saved, err := s.repo.UpdateProductSupplier(ctx, updated)
	if err != nil {
		return domain.ProductSupplier{}, err
	}

	s.recordPriceChange(ctx, "product_supplier", saved.ID, saved.ProductID, "base_price", existing.BasePrice, saved.BasePrice)
	s.recordPriceChange(ctx, "product_supplier", saved.ID, saved.ProductID, "discount_value", existing.DiscountValue, saved.DiscountValue)
	if saved.IsPrimary {
		s.priceChanged(ctx, saved.ProductID)
	}
	s.logAudit(ctx, "product_supplier_update", "product_supplier", saved.ID, fmt.Sprintf("base_price=%s,discount=%s%s", saved.BasePrice.StringFixed(2), saved.DiscountValue.String(), saved.DiscountType))
	return *saved, nil
}

// RemoveProductSupplier deletes the offer. Removing the primary one leaves the
// product without a primary supplier until another is chosen.
func (s *Service) RemoveProductSupplier(ctx context.Context, id string) error {
	existing, err := s.repo.GetProductSupplier(ctx, strings.TrimSpace(id))
	if err != nil {
		return err
	}
	if err := s.repo.DeleteProductSupplier(ctx, existing.ID); err != nil {
		return err
	}
	if existing.IsPrimary {
		s.priceChanged(ctx, existing.ProductID)
	}
	s.logAudit(ctx, "product_supplier_delete", "product_supplier", existing.ID, fmt.Sprintf("product=%s,supplier=%s", existing.ProductID, existing.SupplierID))
	return nil
}

func (s *Service) SetPrimarySupplier(ctx context.Context, productID string, supplierID string) (domain.ProductSupplier, error) {
	productID = strings.TrimSpace(productID)
	supplierID, err := requireText("supplier_id", supplierID)
	if err != nil {
		return domain.ProductSupplier{}, err
	}

	saved, err := s.repo.SetPrimarySupplier(ctx, productID, supplierID)
	if err != nil {
		s.logger.Error().Err(err).Str("product_id", productID).Str("supplier_id", supplierID).Msg("set primary supplier")
		return domain.ProductSupplier{}, err
	}
	s.priceChanged(ctx, productID)
	s.logAudit(ctx, "primary_supplier_set", "product", productID, fmt.Sprintf("supplier=%s,row=%s", supplierID, saved.ID))
	return *saved, nil
}

