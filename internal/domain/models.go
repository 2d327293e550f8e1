package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ContextType string

const (
	ContextContract           ContextType = "contract"
	ContextCustomerPriceGroup ContextType = "customer_price_group"
	ContextCampaign           ContextType = "campaign"
)

func (t ContextType) Valid() bool {
	switch t {
	case ContextContract, ContextCustomerPriceGroup, ContextCampaign:
		return true
	default:
		return false
	}
}

// DiscountType is shared by rule discounts, supplier discounts and surcharge costs.
type DiscountType string

const (
	DiscountPercent DiscountType = "%"
	DiscountAmount  DiscountType = "KR"
)

func (t DiscountType) Valid() bool {
	return t == DiscountPercent || t == DiscountAmount
}

type ContextStatus string

const (
	ContextActive  ContextStatus = "active"
	ContextPlanned ContextStatus = "planned"
	ContextExpired ContextStatus = "expired"
)

func (s ContextStatus) Valid() bool {
	switch s {
	case ContextActive, ContextPlanned, ContextExpired:
		return true
	default:
		return false
	}
}

type SyncStatus string

const (
	SyncSynced  SyncStatus = "synced"
	SyncPending SyncStatus = "pending"
	SyncError   SyncStatus = "error"
)

type SurchargeScope string

const (
	SurchargeProduct  SurchargeScope = "product"
	SurchargeSupplier SurchargeScope = "supplier"
)

func (s SurchargeScope) Valid() bool {
	return s == SurchargeProduct || s == SurchargeSupplier
}

type SurchargeSource string

const (
	SourceFinalPrice       SurchargeSource = "final_price"
	SourceCalculationPrice SurchargeSource = "calculation_price"
)

func (s SurchargeSource) Valid() bool {
	return s == SourceFinalPrice || s == SourceCalculationPrice
}

type Department struct {
	ID   string `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

type DepartmentCreateRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type ProductGroup struct {
	ID             string `json:"id"`
	Code           string `json:"code"`
	Name           string `json:"name"`
	DepartmentID   string `json:"department_id"`
	DepartmentName string `json:"department_name,omitempty"`
}

type ProductGroupCreateRequest struct {
	Code         string `json:"code"`
	Name         string `json:"name"`
	DepartmentID string `json:"department_id"`
}

type Product struct {
	ID                string          `json:"id"`
	Code              string          `json:"code"`
	Name              string          `json:"name"`
	ProductGroupID    string          `json:"product_group_id"`
	ProductGroupName  string          `json:"product_group_name,omitempty"`
	DepartmentID      string          `json:"department_id,omitempty"`
	DepartmentName    string          `json:"department_name,omitempty"`
	PurchasePrice     decimal.Decimal `json:"purchase_price"`
	PrimarySupplierID string          `json:"primary_supplier_id,omitempty"`
	SyncStatus        SyncStatus      `json:"sync_status"`
	LastSync          *time.Time      `json:"last_sync,omitempty"`
}

type ProductCreateRequest struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	ProductGroupID string          `json:"product_group_id"`
	PurchasePrice  decimal.Decimal `json:"purchase_price"`
}

type ProductUpdateRequest struct {
	Name           *string          `json:"name,omitempty"`
	ProductGroupID *string          `json:"product_group_id,omitempty"`
	PurchasePrice  *decimal.Decimal `json:"purchase_price,omitempty"`
}

type Supplier struct {
	ID        string    `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type SupplierCreateRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

// ProductSupplier is a supplier's offer for one product.
type ProductSupplier struct {
	ID            string          `json:"id"`
	ProductID     string          `json:"product_id"`
	SupplierID    string          `json:"supplier_id"`
	SupplierCode  string          `json:"supplier_code,omitempty"`
	SupplierName  string          `json:"supplier_name,omitempty"`
	BasePrice     decimal.Decimal `json:"base_price"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	IsPrimary     bool            `json:"is_primary"`
}

type ProductSupplierCreateRequest struct {
	SupplierID    string          `json:"supplier_id"`
	BasePrice     decimal.Decimal `json:"base_price"`
	DiscountType  DiscountType    `json:"discount_type"`
	DiscountValue decimal.Decimal `json:"discount_value"`
}

type ProductSupplierUpdateRequest struct {
	BasePrice     *decimal.Decimal `json:"base_price,omitempty"`
	DiscountType  *DiscountType    `json:"discount_type,omitempty"`
	DiscountValue *decimal.Decimal `json:"discount_value,omitempty"`
}

// PricingContext is a contract, customer price group or campaign.
type PricingContext struct {
	ID                   string        `json:"id"`
	Type                 ContextType   `json:"type"`
	Name                 string        `json:"name"`
	ValidFrom            *time.Time    `json:"valid_from,omitempty"`
	ValidTo              *time.Time    `json:"valid_to,omitempty"`
	Status               ContextStatus `json:"status"`
	ExcludeFromCampaigns bool          `json:"exclude_from_campaigns"`
	CreatedAt            time.Time     `json:"created_at"`
}

type ContextCreateRequest struct {
	Name                 string        `json:"name"`
	ValidFrom            string        `json:"valid_from,omitempty"`
	ValidTo              string        `json:"valid_to,omitempty"`
	Status               ContextStatus `json:"status,omitempty"`
	ExcludeFromCampaigns bool          `json:"exclude_from_campaigns"`
}

// ContextUpdateRequest fields left nil are unchanged; an empty date string clears the bound.
type ContextUpdateRequest struct {
	Name                 *string        `json:"name,omitempty"`
	ValidFrom            *string        `json:"valid_from,omitempty"`
	ValidTo              *string        `json:"valid_to,omitempty"`
	Status               *ContextStatus `json:"status,omitempty"`
	ExcludeFromCampaigns *bool          `json:"exclude_from_campaigns,omitempty"`
}

type PricingRule struct {
	ID                string              `json:"id"`
	ContextType       ContextType         `json:"context_type"`
	ContextID         string              `json:"context_id"`
	Scope             Scope               `json:"scope"`
	BasePrice         decimal.NullDecimal `json:"base_price"`
	DiscountType      DiscountType        `json:"discount_type"`
	DiscountValue     decimal.Decimal     `json:"discount_value"`
	MarginPercentage  decimal.NullDecimal `json:"margin_percentage"`
	FinalPrice        decimal.NullDecimal `json:"final_price"`
	ValidFrom         *time.Time          `json:"valid_from,omitempty"`
	ValidTo           *time.Time          `json:"valid_to,omitempty"`
	QuantityThreshold *int                `json:"quantity_threshold,omitempty"`
	Excluded          bool                `json:"excluded"`
	CampaignWhitelist bool                `json:"campaign_whitelist"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
}

// RuleCreateRequest carries the scope as flat fields; exactly the id matching
// ProductType must be set.
type RuleCreateRequest struct {
	ProductType       string           `json:"product_type"`
	ProductID         string           `json:"product_id,omitempty"`
	ProductGroupID    string           `json:"product_group_id,omitempty"`
	DepartmentID      string           `json:"department_id,omitempty"`
	BasePrice         *decimal.Decimal `json:"base_price,omitempty"`
	DiscountType      DiscountType     `json:"discount_type,omitempty"`
	DiscountValue     *decimal.Decimal `json:"discount_value,omitempty"`
	ValidFrom         string           `json:"valid_from,omitempty"`
	ValidTo           string           `json:"valid_to,omitempty"`
	QuantityThreshold *int             `json:"quantity_threshold,omitempty"`
	Excluded          bool             `json:"excluded"`
	CampaignWhitelist bool             `json:"campaign_whitelist"`
}

// RuleUpdateRequest cannot change the scope; delete and recreate instead.
type RuleUpdateRequest struct {
	BasePrice         *decimal.Decimal `json:"base_price,omitempty"`
	DiscountType      *DiscountType    `json:"discount_type,omitempty"`
	DiscountValue     *decimal.Decimal `json:"discount_value,omitempty"`
	ValidFrom         *string          `json:"valid_from,omitempty"`
	ValidTo           *string          `json:"valid_to,omitempty"`
	QuantityThreshold *int             `json:"quantity_threshold,omitempty"`
	Excluded          *bool            `json:"excluded,omitempty"`
	CampaignWhitelist *bool            `json:"campaign_whitelist,omitempty"`
}

// RuleView is a rule as listed in the grid. Derived is set for single-product rules.
type RuleView struct {
	PricingRule
	Derived *DerivedFields `json:"derived,omitempty"`
}

type CellEditRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

// DerivedFields is the display form of a row, formatted for the configured locale.
type DerivedFields struct {
	FinalPrice       string `json:"final_price"`
	MarginPercentage string `json:"margin_percentage"`
	DiscountValue    string `json:"discount_value"`
}

type CellEditResponse struct {
	Rule    PricingRule   `json:"rule"`
	Derived DerivedFields `json:"derived"`
}

type Surcharge struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CostType    DiscountType    `json:"cost_type"`
	CostValue   decimal.Decimal `json:"cost_value"`
	Type        SurchargeScope  `json:"type"`
	Source      SurchargeSource `json:"source"`
	SortOrder   int             `json:"sort_order"`
	IsActive    bool            `json:"is_active"`
	CreatedAt   time.Time       `json:"created_at"`
}

type SurchargeCreateRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	CostType    DiscountType    `json:"cost_type"`
	CostValue   decimal.Decimal `json:"cost_value"`
	Type        SurchargeScope  `json:"type"`
	Source      SurchargeSource `json:"source"`
	IsActive    *bool           `json:"is_active,omitempty"`
}

// SurchargeUpdateRequest with a Type change that would orphan links needs Confirm.
type SurchargeUpdateRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	CostType    *DiscountType    `json:"cost_type,omitempty"`
	CostValue   *decimal.Decimal `json:"cost_value,omitempty"`
	Type        *SurchargeScope  `json:"type,omitempty"`
	Source      *SurchargeSource `json:"source,omitempty"`
	IsActive    *bool            `json:"is_active,omitempty"`
	Confirm     bool             `json:"confirm"`
}

type SortAssignment struct {
	ID        string `json:"id"`
	SortOrder int    `json:"sort_order"`
}

type SortOrderRequest struct {
	Items []SortAssignment `json:"items"`
}

type ReorderRequest struct {
	DraggedIDs []string `json:"dragged_ids"`
	TargetID   string   `json:"target_id"`
	Position   string   `json:"position"`
}

type RelationshipCounts struct {
	ProductCount  int `json:"product_count"`
	SupplierCount int `json:"supplier_count"`
}

type TypeChangeRequest struct {
	Type    SurchargeScope `json:"type"`
	Confirm bool           `json:"confirm"`
}

type TypeChangePreview struct {
	SurchargeID          string         `json:"surcharge_id"`
	CurrentType          SurchargeScope `json:"current_type"`
	NewType              SurchargeScope `json:"new_type"`
	ProductCount         int            `json:"product_count"`
	SupplierCount        int            `json:"supplier_count"`
	RequiresConfirmation bool           `json:"requires_confirmation"`
}

type ProductSurcharge struct {
	SurchargeID string    `json:"surcharge_id"`
	ProductID   string    `json:"product_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type SupplierSurcharge struct {
	SupplierID  string    `json:"supplier_id"`
	SurchargeID string    `json:"surcharge_id"`
	CreatedAt   time.Time `json:"created_at"`
}

type SurchargeLinkRequest struct {
	SurchargeID string `json:"surcharge_id"`
}

// OtherCost is a flat add-on applied to every final price while active.
type OtherCost struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	CostType  DiscountType    `json:"cost_type"`
	CostValue decimal.Decimal `json:"cost_value"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
}

type OtherCostCreateRequest struct {
	Name      string          `json:"name"`
	CostType  DiscountType    `json:"cost_type"`
	CostValue decimal.Decimal `json:"cost_value"`
	IsActive  *bool           `json:"is_active,omitempty"`
}

type OtherCostUpdateRequest struct {
	Name      *string          `json:"name,omitempty"`
	CostType  *DiscountType    `json:"cost_type,omitempty"`
	CostValue *decimal.Decimal `json:"cost_value,omitempty"`
	IsActive  *bool            `json:"is_active,omitempty"`
}

type QuoteRequest struct {
	ProductID            string     `json:"product_id"`
	ContractID           string     `json:"contract_id,omitempty"`
	CustomerPriceGroupID string     `json:"customer_price_group_id,omitempty"`
	CampaignID           string     `json:"campaign_id,omitempty"`
	Quantity             int        `json:"quantity,omitempty"`
	At                   *time.Time `json:"at,omitempty"`
}

type ContextPrice struct {
	ContextType   ContextType     `json:"context_type"`
	ContextID     string          `json:"context_id"`
	RuleID        string          `json:"rule_id,omitempty"`
	Scope         ScopeKind       `json:"scope,omitempty"`
	DiscountType  DiscountType    `json:"discount_type,omitempty"`
	DiscountValue decimal.Decimal `json:"discount_value"`
	NetPrice      decimal.Decimal `json:"net_price"`
	Applied       bool            `json:"applied"`
	Excluded      bool            `json:"excluded"`
	Suppressed    bool            `json:"suppressed"`
}

type SurchargeLine struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	CostType     DiscountType    `json:"cost_type"`
	CostValue    decimal.Decimal `json:"cost_value"`
	Amount       decimal.Decimal `json:"amount"`
	RunningTotal decimal.Decimal `json:"running_total"`
}

type Quote struct {
	ProductID             string          `json:"product_id"`
	ProductCode           string          `json:"product_code"`
	PurchasePrice         decimal.Decimal `json:"purchase_price"`
	CalculationBase       decimal.Decimal `json:"calculation_base"`
	CalculationSurcharges []SurchargeLine `json:"calculation_surcharges"`
	CalculationPrice      decimal.Decimal `json:"calculation_price"`
	Contexts              []ContextPrice  `json:"contexts"`
	NetPrice              decimal.Decimal `json:"net_price"`
	NetSource             string          `json:"net_source"`
	FinalSurcharges       []SurchargeLine `json:"final_surcharges"`
	OtherCosts            []SurchargeLine `json:"other_costs"`
	FinalPrice            decimal.Decimal `json:"final_price"`
	MarginPercentage      decimal.Decimal `json:"margin_percentage"`
	ComputedAt            time.Time       `json:"computed_at"`
}

type PriceChange struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	ProductID  string          `json:"product_id,omitempty"`
	Field      string          `json:"field"`
	OldValue   decimal.Decimal `json:"old_value"`
	NewValue   decimal.Decimal `json:"new_value"`
	ChangedBy  string          `json:"changed_by"`
	ChangedAt  time.Time       `json:"changed_at"`
}

type AuditLog struct {
	ID            string    `json:"id"`
	ActorUsername string    `json:"actor_username"`
	Action        string    `json:"action"`
	EntityType    string    `json:"entity_type"`
	EntityID      string    `json:"entity_id"`
	Detail        string    `json:"detail"`
	CreatedAt     time.Time `json:"created_at"`
}

type Actor struct {
	Username string
}

type PriceEvent struct {
	Type        string          `json:"type"`
	ProductID   string          `json:"product_id,omitempty"`
	RuleID      string          `json:"rule_id,omitempty"`
	ContextType ContextType     `json:"context_type,omitempty"`
	ContextID   string          `json:"context_id,omitempty"`
	NetPrice    decimal.Decimal `json:"net_price"`
	FinalPrice  decimal.Decimal `json:"final_price"`
	Actor       string          `json:"actor,omitempty"`
	At          time.Time       `json:"at"`
}

const (
	EventRuleCreated   = "rule.created"
	EventRuleUpdated   = "rule.updated"
	EventRuleDeleted   = "rule.deleted"
	EventProductSynced = "product.synced"
)

const DateLayout = "2006-01-02"
