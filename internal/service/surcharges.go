package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/pricing"
	"prisportal/backend/internal/store"
	"prisportal/backend/internal/xid"
)

// ConfirmationError carries the links a type change would delete.
type ConfirmationError struct {
	Preview domain.TypeChangePreview
}

func (e *ConfirmationError) Error() string {
	return fmt.Sprintf("changing surcharge %s from %s to %s deletes %d product and %d supplier links",
		e.Preview.SurchargeID, e.Preview.CurrentType, e.Preview.NewType, e.Preview.ProductCount, e.Preview.SupplierCount)
}

func (e *ConfirmationError) Unwrap() error { return store.ErrConfirmationRequired }

func (s *Service) ListSurcharges(ctx context.Context) ([]domain.Surcharge, error) {
	return s.repo.ListSurcharges(ctx)
}

func (s *Service) GetSurcharge(ctx context.Context, id string) (domain.Surcharge, error) {
	sc, err := s.repo.GetSurcharge(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Surcharge{}, err
	}
	return *sc, nil
}

func validateCost(dtype domain.DiscountType, value decimal.Decimal) error {
	if !dtype.Valid() {
		return store.Invalid("cost_type", "must be % or KR")
	}
	return validateMoney("cost_value", value)
}

// CreateSurcharge appends the surcharge at the end of the sequence.
func (s *Service) CreateSurcharge(ctx context.Context, req domain.SurchargeCreateRequest) (domain.Surcharge, error) {
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.Surcharge{}, err
	}
	costType := normalizeDiscountType(req.CostType)
	if err := validateCost(costType, req.CostValue); err != nil {
		return domain.Surcharge{}, err
	}
	if !req.Type.Valid() {
		return domain.Surcharge{}, store.Invalid("type", "must be product or supplier")
	}
	if !req.Source.Valid() {
		return domain.Surcharge{}, store.Invalid("source", "must be final_price or calculation_price")
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	saved, err := s.repo.CreateSurcharge(ctx, domain.Surcharge{
		ID:          xid.New("sur"),
		Name:        name,
		Description: strings.TrimSpace(req.Description),
		CostType:    costType,
		CostValue:   req.CostValue,
		Type:        req.Type,
		Source:      req.Source,
		IsActive:    active,
		CreatedAt:   s.now().UTC(),
	})
	if err != nil {
		return domain.Surcharge{}, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "surcharge_create", "surcharge", saved.ID, fmt.Sprintf("name=%s,cost=%s%s,type=%s,source=%s,sort_order=%d", saved.Name, saved.CostValue.String(), saved.CostType, saved.Type, saved.Source, saved.SortOrder))
	return *saved, nil
}

// UpdateSurcharge applies a partial update. A type change is written together
// with the other fields and needs Confirm when links would be deleted.
func (s *Service) UpdateSurcharge(ctx context.Context, id string, req domain.SurchargeUpdateRequest) (domain.Surcharge, error) {
	existing, err := s.repo.GetSurcharge(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Surcharge{}, err
	}

	updated := *existing
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return domain.Surcharge{}, err
		}
		updated.Name = name
	}
	if req.Description != nil {
		updated.Description = strings.TrimSpace(*req.Description)
	}
	if req.CostType != nil {
		updated.CostType = normalizeDiscountType(*req.CostType)
	}
	if req.CostValue != nil {
		updated.CostValue = *req.CostValue
	}
	if err := validateCost(updated.CostType, updated.CostValue); err != nil {
		return domain.Surcharge{}, err
	}
	if req.Source != nil {
		if !req.Source.Valid() {
			return domain.Surcharge{}, store.Invalid("source", "must be final_price or calculation_price")
		}
		updated.Source = *req.Source
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}

	if req.Type != nil && *req.Type != existing.Type {
		return s.applyTypeChange(ctx, updated, *req.Type, req.Confirm)
	}

	saved, err := s.repo.UpdateSurcharge(ctx, updated)
	if err != nil {
		return domain.Surcharge{}, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "surcharge_update", "surcharge", saved.ID, fmt.Sprintf("name=%s,cost=%s%s,source=%s,active=%t", saved.Name, saved.CostValue.String(), saved.CostType, saved.Source, saved.IsActive))
	return *saved, nil
}

// DeleteSurcharge removes the surcharge with its links and closes the gap in
// the sequence.
func (s *Service) DeleteSurcharge(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteSurcharge(ctx, id); err != nil {
		return err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "surcharge_delete", "surcharge", id, "")
	return nil
}

// UpdateSurchargeSortOrder stores an explicit batch. The resulting sequence
// must stay dense.
func (s *Service) UpdateSurchargeSortOrder(ctx context.Context, req domain.SortOrderRequest) ([]domain.Surcharge, error) {
	if len(req.Items) == 0 {
		return nil, store.Invalid("items", "is required")
	}
	list, err := s.repo.ListSurcharges(ctx)
	if err != nil {
		return nil, err
	}

	orders := make(map[string]int, len(list))
	for _, sc := range list {
		orders[sc.ID] = sc.SortOrder
	}
	for _, item := range req.Items {
		if _, ok := orders[item.ID]; !ok {
			return nil, fmt.Errorf("surcharge %s: %w", item.ID, store.ErrNotFound)
		}
		orders[item.ID] = item.SortOrder
	}
	seen := make([]bool, len(list))
	for _, order := range orders {
		if order < 0 || order >= len(list) || seen[order] {
			return nil, store.Invalid("items", fmt.Sprintf("sort orders must be exactly 0..%d", len(list)-1))
		}
		seen[order] = true
	}

	return s.storeSequence(ctx, req.Items)
}

// ReorderSurcharges moves the dragged surcharges before or after target and
// renumbers the whole sequence in one batch.
func (s *Service) ReorderSurcharges(ctx context.Context, req domain.ReorderRequest) ([]domain.Surcharge, error) {
	list, err := s.repo.ListSurcharges(ctx)
	if err != nil {
		return nil, err
	}
	position := pricing.Position(strings.ToLower(strings.TrimSpace(req.Position)))
	assignments, err := pricing.Reorder(pricing.SequenceIDs(list), req.DraggedIDs, strings.TrimSpace(req.TargetID), position)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidReorder) {
			return nil, store.Invalid("dragged_ids", err.Error())
		}
		return nil, err
	}
	return s.storeSequence(ctx, assignments)
}

func (s *Service) storeSequence(ctx context.Context, items []domain.SortAssignment) ([]domain.Surcharge, error) {
	if err := s.repo.UpdateSurchargeSortOrder(ctx, items); err != nil {
		s.logger.Error().Err(err).Int("items", len(items)).Msg("update surcharge sort order")
		return nil, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "surcharge_reorder", "surcharge", "*", fmt.Sprintf("items=%d", len(items)))
	return s.repo.ListSurcharges(ctx)
}

func (s *Service) GetSurchargeRelationships(ctx context.Context, id string) (domain.RelationshipCounts, error) {
	id = strings.TrimSpace(id)
	if _, err := s.repo.GetSurcharge(ctx, id); err != nil {
		return domain.RelationshipCounts{}, err
	}
	return s.repo.GetSurchargeRelationshipCounts(ctx, id)
}

// PrepareSurchargeTypeChange is the first step of a type change: it reports
// how many links of the current type the change would delete.
func (s *Service) PrepareSurchargeTypeChange(ctx context.Context, id string, newType domain.SurchargeScope) (domain.TypeChangePreview, error) {
	if !newType.Valid() {
		return domain.TypeChangePreview{}, store.Invalid("type", "must be product or supplier")
	}
	sc, err := s.repo.GetSurcharge(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.TypeChangePreview{}, err
	}
	counts, err := s.repo.GetSurchargeRelationshipCounts(ctx, sc.ID)
	if err != nil {
		return domain.TypeChangePreview{}, err
	}

	preview := domain.TypeChangePreview{
		SurchargeID:   sc.ID,
		CurrentType:   sc.Type,
		NewType:       newType,
		ProductCount:  counts.ProductCount,
		SupplierCount: counts.SupplierCount,
	}
	if newType != sc.Type {
		switch sc.Type {
		case domain.SurchargeProduct:
			preview.RequiresConfirmation = counts.ProductCount > 0
		case domain.SurchargeSupplier:
			preview.RequiresConfirmation = counts.SupplierCount > 0
		}
	}
	return preview, nil
}

// ChangeSurchargeType flips the scope of a surcharge. Links of the old scope
// are deleted in the same transaction; without Confirm nothing changes and a
// ConfirmationError reports what would be lost.
func (s *Service) ChangeSurchargeType(ctx context.Context, id string, req domain.TypeChangeRequest) (domain.Surcharge, error) {
	existing, err := s.repo.GetSurcharge(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.Surcharge{}, err
	}
	return s.applyTypeChange(ctx, *existing, req.Type, req.Confirm)
}

// applyTypeChange stores updated under newType with a single repository
// write, so field edits and the type flip commit together.
func (s *Service) applyTypeChange(ctx context.Context, updated domain.Surcharge, newType domain.SurchargeScope, confirm bool) (domain.Surcharge, error) {
	preview, err := s.PrepareSurchargeTypeChange(ctx, updated.ID, newType)
	if err != nil {
		return domain.Surcharge{}, err
	}
	if preview.CurrentType == preview.NewType {
		return s.GetSurcharge(ctx, preview.SurchargeID)
	}
	if preview.RequiresConfirmation && !confirm {
		return domain.Surcharge{}, &ConfirmationError{Preview: preview}
	}

	updated.Type = preview.NewType
	saved, err := s.repo.ChangeSurchargeType(ctx, updated)
	if err != nil {
		s.logger.Error().Err(err).Str("surcharge_id", preview.SurchargeID).Str("new_type", string(preview.NewType)).Msg("change surcharge type")
		return domain.Surcharge{}, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "surcharge_type_change", "surcharge", saved.ID, fmt.Sprintf("from=%s,to=%s,products=%d,suppliers=%d,name=%s,cost=%s%s,source=%s,active=%t",
		preview.CurrentType, preview.NewType, preview.ProductCount, preview.SupplierCount, saved.Name, saved.CostValue.String(), saved.CostType, saved.Source, saved.IsActive))
	return *saved, nil
}

// DetachSurchargeProducts removes every product link of a surcharge and
// reports how many went.
func (s *Service) DetachSurchargeProducts(ctx context.Context, id string) (int, error) {
	sc, err := s.repo.GetSurcharge(ctx, strings.TrimSpace(id))
	if err != nil {
		return 0, err
	}
	removed, err := s.repo.CascadeDeleteSurchargeProducts(ctx, sc.ID)
	if err != nil {
		return 0, err
	}
	s.priceChanged(ctx, removed...)
	s.logAudit(ctx, "surcharge_detach_products", "surcharge", sc.ID, fmt.Sprintf("removed=%d", len(removed)))
	return len(removed), nil
}

// DetachSurchargeSuppliers removes every supplier link of a surcharge.
func (s *Service) DetachSurchargeSuppliers(ctx context.Context, id string) (int, error) {
	sc, err := s.repo.GetSurcharge(ctx, strings.TrimSpace(id))
	if err != nil {
		return 0, err
	}
	removed, err := s.repo.CascadeDeleteSurchargeSuppliers(ctx, sc.ID)
	if err != nil {
		return 0, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "surcharge_detach_suppliers", "surcharge", sc.ID, fmt.Sprintf("removed=%d", len(removed)))
	return len(removed), nil
}

func (s *Service) ListProductSurcharges(ctx context.Context, productID string) ([]domain.ProductSurcharge, error) {
	if _, err := s.repo.GetProduct(ctx, productID); err != nil {
		return nil, err
	}
	return s.repo.ListProductSurcharges(ctx, productID)
}

func (s *Service) LinkProductSurcharge(ctx context.Context, productID string, req domain.SurchargeLinkRequest) (domain.ProductSurcharge, error) {
	surchargeID, err := requireText("surcharge_id", req.SurchargeID)
	if err != nil {
		return domain.ProductSurcharge{}, err
	}
	link, err := s.repo.CreateProductSurcharge(ctx, surchargeID, strings.TrimSpace(productID))
	if err != nil {
		return domain.ProductSurcharge{}, err
	}
	s.priceChanged(ctx, link.ProductID)
	s.logAudit(ctx, "product_surcharge_link", "product", link.ProductID, "surcharge="+link.SurchargeID)
	return *link, nil
}

func (s *Service) UnlinkProductSurcharge(ctx context.Context, productID string, surchargeID string) error {
	productID = strings.TrimSpace(productID)
	if err := s.repo.DeleteProductSurcharge(ctx, strings.TrimSpace(surchargeID), productID); err != nil {
		return err
	}
	s.priceChanged(ctx, productID)
	s.logAudit(ctx, "product_surcharge_unlink", "product", productID, "surcharge="+surchargeID)
	return nil
}

func (s *Service) ListSupplierSurcharges(ctx context.Context, supplierID string) ([]domain.SupplierSurcharge, error) {
	if _, err := s.repo.GetSupplier(ctx, supplierID); err != nil {
		return nil, err
	}
	return s.repo.ListSupplierSurcharges(ctx, supplierID)
}

func (s *Service) LinkSupplierSurcharge(ctx context.Context, supplierID string, req domain.SurchargeLinkRequest) (domain.SupplierSurcharge, error) {
	surchargeID, err := requireText("surcharge_id", req.SurchargeID)
	if err != nil {
		return domain.SupplierSurcharge{}, err
	}
	link, err := s.repo.CreateSupplierSurcharge(ctx, surchargeID, strings.TrimSpace(supplierID))
	if err != nil {
		return domain.SupplierSurcharge{}, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "supplier_surcharge_link", "supplier", link.SupplierID, "surcharge="+link.SurchargeID)
	return *link, nil
}

func (s *Service) UnlinkSupplierSurcharge(ctx context.Context, supplierID string, surchargeID string) error {
	supplierID = strings.TrimSpace(supplierID)
	if err := s.repo.DeleteSupplierSurcharge(ctx, strings.TrimSpace(surchargeID), supplierID); err != nil {
		return err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "supplier_surcharge_unlink", "supplier", supplierID, "surcharge="+surchargeID)
	return nil
}

func (s *Service) ListOtherCosts(ctx context.Context) ([]domain.OtherCost, error) {
	return s.repo.ListOtherCosts(ctx)
}

func (s *Service) CreateOtherCost(ctx context.Context, req domain.OtherCostCreateRequest) (domain.OtherCost, error) {
	name, err := requireText("name", req.Name)
	if err != nil {
		return domain.OtherCost{}, err
	}
	costType := normalizeDiscountType(req.CostType)
	if err := validateCost(costType, req.CostValue); err != nil {
		return domain.OtherCost{}, err
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	saved, err := s.repo.CreateOtherCost(ctx, domain.OtherCost{
		ID:        xid.New("oc"),
		Name:      name,
		CostType:  costType,
		CostValue: req.CostValue,
		IsActive:  active,
		CreatedAt: s.now().UTC(),
	})
	if err != nil {
		return domain.OtherCost{}, err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "other_cost_create", "other_cost", saved.ID, fmt.Sprintf("name=%s,cost=%s%s,active=%t", saved.Name, saved.CostValue.String(), saved.CostType, saved.IsActive))
	return *saved, nil
}

func (s *Service) UpdateOtherCost(ctx context.Context, id string, req domain.OtherCostUpdateRequest) (domain.OtherCost, error) {
	existing, err := s.repo.GetOtherCost(ctx, strings.TrimSpace(id))
	if err != nil {
		return domain.OtherCost{}, err
	}

	updated := *existing
	if req.Name != nil {
		name, err := requireText("name", *req.Name)
		if err != nil {
			return domain.OtherCost{}, err
		}
		updated.Name = name
	}
	if req.CostType != nil {
		updated.CostType = normalizeDiscountType(*req.CostType)
	}
	if req.CostValue != nil {
		updated.CostValue = *req.CostValue
	}
	if err := validateCost(updated.CostType, updated.CostValue); err != nil {
		return domain.OtherCost{}, err
	}
	if req.IsActive != nil {
		updated.IsActive = *req.IsActive
	}

	saved, err := s.repo.UpdateOtherCost(ctx, updated)
	if err != nil {
		return domain.OtherCost{}, err
	}
	s.recordPriceChange(ctx, "other_cost", saved.ID, "", "cost_value", existing.CostValue, saved.CostValue)
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "other_cost_update", "other_cost", saved.ID, fmt.Sprintf("name=%s,cost=%s%s,active=%t", saved.Name, saved.CostValue.String(), saved.CostType, saved.IsActive))
	return *saved, nil
}

func (s *Service) DeleteOtherCost(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if err := s.repo.DeleteOtherCost(ctx, id); err != nil {
		return err
	}
	s.quotes.Invalidate(ctx)
	s.logAudit(ctx, "other_cost_delete", "other_cost", id, "")
	return nil
}
