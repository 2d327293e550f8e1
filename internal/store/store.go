package store

import (
	"context"
	"time"

	"prisportal/backend/internal/domain"
)

type Repository interface {
	CatalogRepository
	SupplierRepository
	ContextRepository
	RuleRepository
	SurchargeRepository
	OtherCostRepository
	HistoryRepository
}

type CatalogRepository interface {
	ListDepartments(ctx context.Context) ([]domain.Department, error)
	CreateDepartment(ctx context.Context, dept domain.Department) (*domain.Department, error)
	ListProductGroups(ctx context.Context) ([]domain.ProductGroup, error)
	GetProductGroup(ctx context.Context, id string) (*domain.ProductGroup, error)
	CreateProductGroup(ctx context.Context, group domain.ProductGroup) (*domain.ProductGroup, error)
	ListProducts(ctx context.Context) ([]domain.Product, error)
	GetProduct(ctx context.Context, id string) (*domain.Product, error)
	CreateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	UpdateProduct(ctx context.Context, product domain.Product) (*domain.Product, error)
	SetProductSync(ctx context.Context, productID string, status domain.SyncStatus, at *time.Time) error
}

type SupplierRepository interface {
	ListSuppliers(ctx context.Context) ([]domain.Supplier, error)
	GetSupplier(ctx context.Context, id string) (*domain.Supplier, error)
	CreateSupplier(ctx context.Context, supplier domain.Supplier) (*domain.Supplier, error)
	ListProductSuppliers(ctx context.Context, productID string) ([]domain.ProductSupplier, error)
	GetProductSupplier(ctx context.Context, id string) (*domain.ProductSupplier, error)
	CreateProductSupplier(ctx context.Context, ps domain.ProductSupplier) (*domain.ProductSupplier, error)
	UpdateProductSupplier(ctx context.Context, ps domain.ProductSupplier) (*domain.ProductSupplier, error)
	DeleteProductSupplier(ctx context.Context, id string) error
	// SetPrimarySupplier clears every primary flag of the product, flags the
	// (product, supplier) row and updates the product's back-reference, atomically.
	SetPrimarySupplier(ctx context.Context, productID string, supplierID string) (*domain.ProductSupplier, error)
}

type ContextRepository interface {
	ListContexts(ctx context.Context, contextType domain.ContextType) ([]domain.PricingContext, error)
	GetContext(ctx context.Context, contextType domain.ContextType, id string) (*domain.PricingContext, error)
	CreateContext(ctx context.Context, pc domain.PricingContext) (*domain.PricingContext, error)
	UpdateContext(ctx context.Context, pc domain.PricingContext) (*domain.PricingContext, error)
}

type RuleRepository interface {
	FindRules(ctx context.Context, contextType domain.ContextType, contextID string) ([]domain.PricingRule, error)
	// FindProductRules lists the single-product rules of one product across
	// every context.
	FindProductRules(ctx context.Context, productID string) ([]domain.PricingRule, error)
	GetRule(ctx context.Context, id string) (*domain.PricingRule, error)
	// CreateRule and UpdateRule return ErrConflict when a second single-scope
	// rule would target the same product within one context.
	CreateRule(ctx context.Context, rule domain.PricingRule) (*domain.PricingRule, error)
	UpdateRule(ctx context.Context, rule domain.PricingRule) (*domain.PricingRule, error)
	DeleteRule(ctx context.Context, id string) error
}

type SurchargeRepository interface {
	ListSurcharges(ctx context.Context) ([]domain.Surcharge, error)
	GetSurcharge(ctx context.Context, id string) (*domain.Surcharge, error)
	CreateSurcharge(ctx context.Context, surcharge domain.Surcharge) (*domain.Surcharge, error)
	UpdateSurcharge(ctx context.Context, surcharge domain.Surcharge) (*domain.Surcharge, error)
	DeleteSurcharge(ctx context.Context, id string) error
	// UpdateSurchargeSortOrder applies the whole batch or nothing.
	UpdateSurchargeSortOrder(ctx context.Context, items []domain.SortAssignment) error
	GetSurchargeRelationshipCounts(ctx context.Context, id string) (domain.RelationshipCounts, error)
	// CascadeDeleteSurchargeProducts and CascadeDeleteSurchargeSuppliers drop
	// every link of one scope and return the unlinked product or supplier ids.
	CascadeDeleteSurchargeProducts(ctx context.Context, id string) ([]string, error)
	CascadeDeleteSurchargeSuppliers(ctx context.Context, id string) ([]string, error)
	// ChangeSurchargeType deletes the links of the scope sc.Type replaces and
	// writes sc, type included, in one transaction.
	ChangeSurchargeType(ctx context.Context, sc domain.Surcharge) (*domain.Surcharge, error)

	ListProductSurcharges(ctx context.Context, productID string) ([]domain.ProductSurcharge, error)
	CreateProductSurcharge(ctx context.Context, surchargeID string, productID string) (*domain.ProductSurcharge, error)
	DeleteProductSurcharge(ctx context.Context, surchargeID string, productID string) error
	ListSupplierSurcharges(ctx context.Context, supplierID string) ([]domain.SupplierSurcharge, error)
	CreateSupplierSurcharge(ctx context.Context, surchargeID string, supplierID string) (*domain.SupplierSurcharge, error)
	DeleteSupplierSurcharge(ctx context.Context, surchargeID string, supplierID string) error
}

type OtherCostRepository interface {
	ListOtherCosts(ctx context.Context) ([]domain.OtherCost, error)
	GetOtherCost(ctx context.Context, id string) (*domain.OtherCost, error)
	CreateOtherCost(ctx context.Context, cost domain.OtherCost) (*domain.OtherCost, error)
	UpdateOtherCost(ctx context.Context, cost domain.OtherCost) (*domain.OtherCost, error)
	DeleteOtherCost(ctx context.Context, id string) error
}

type HistoryRepository interface {
	CreatePriceChange(ctx context.Context, entry domain.PriceChange) error
	ListPriceChanges(ctx context.Context, entityID string, limit int) ([]domain.PriceChange, error)
	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, limit int) ([]domain.AuditLog, error)
}
