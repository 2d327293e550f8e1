package domain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type ScopeKind string

const (
	ScopeSingle       ScopeKind = "single"
	ScopeProductGroup ScopeKind = "product_group"
	ScopeDepartment   ScopeKind = "department"
	ScopeAll          ScopeKind = "all"
)

// Rank orders scopes by specificity; higher wins.
func (k ScopeKind) Rank() int {
	switch k {
	case ScopeSingle:
		return 4
	case ScopeProductGroup:
		return 3
	case ScopeDepartment:
		return 2
	case ScopeAll:
		return 1
	default:
		return 0
	}
}

// Scope is the target of a pricing rule: one product, one product group,
// one department, or every product. The zero value is not a valid scope.
type Scope struct {
	kind     ScopeKind
	targetID string
}

func SingleProduct(productID string) Scope {
	return Scope{kind: ScopeSingle, targetID: productID}
}

func ProductGroupScope(groupID string) Scope {
	return Scope{kind: ScopeProductGroup, targetID: groupID}
}

func DepartmentScope(departmentID string) Scope {
	return Scope{kind: ScopeDepartment, targetID: departmentID}
}

func AllProducts() Scope {
	return Scope{kind: ScopeAll}
}

func (s Scope) Kind() ScopeKind { return s.kind }

// TargetID is the product, group or department id; empty for ScopeAll.
func (s Scope) TargetID() string { return s.targetID }

func (s Scope) IsZero() bool { return s.kind == "" }

func (s Scope) IsSingle() bool { return s.kind == ScopeSingle }

func (s Scope) ProductID() string {
	if s.kind == ScopeSingle {
		return s.targetID
	}
	return ""
}

func (s Scope) ProductGroupID() string {
	if s.kind == ScopeProductGroup {
		return s.targetID
	}
	return ""
}

func (s Scope) DepartmentID() string {
	if s.kind == ScopeDepartment {
		return s.targetID
	}
	return ""
}

// Matches reports whether the scope targets a product with the given hierarchy.
func (s Scope) Matches(productID, groupID, departmentID string) bool {
	switch s.kind {
	case ScopeSingle:
		return s.targetID != "" && s.targetID == productID
	case ScopeProductGroup:
		return s.targetID != "" && s.targetID == groupID
	case ScopeDepartment:
		return s.targetID != "" && s.targetID == departmentID
	case ScopeAll:
		return true
	default:
		return false
	}
}

func (s Scope) String() string {
	if s.kind == ScopeAll || s.targetID == "" {
		return string(s.kind)
	}
	return fmt.Sprintf("%s:%s", s.kind, s.targetID)
}

// ScopeError names the offending field of a flat scope representation.
type ScopeError struct {
	Field  string
	Reason string
}

func (e *ScopeError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// ScopeFromFields builds a Scope from the persisted/wire representation
// (discriminator plus three nullable ids) and rejects inconsistent combinations.
func ScopeFromFields(productType, productID, groupID, departmentID string) (Scope, error) {
	productID = strings.TrimSpace(productID)
	groupID = strings.TrimSpace(groupID)
	departmentID = strings.TrimSpace(departmentID)

	set := 0
	for _, id := range []string{productID, groupID, departmentID} {
		if id != "" {
			set++
		}
	}

	switch ScopeKind(strings.TrimSpace(productType)) {
	case ScopeSingle:
		if productID == "" {
			return Scope{}, &ScopeError{Field: "product_id", Reason: "required when product_type is single"}
		}
		if set > 1 {
			return Scope{}, &ScopeError{Field: "product_type", Reason: "single scope accepts only product_id"}
		}
		return SingleProduct(productID), nil
	case ScopeProductGroup:
		if groupID == "" {
			return Scope{}, &ScopeError{Field: "product_group_id", Reason: "required when product_type is product_group"}
		}
		if set > 1 {
			return Scope{}, &ScopeError{Field: "product_type", Reason: "product_group scope accepts only product_group_id"}
		}
		return ProductGroupScope(groupID), nil
	case ScopeDepartment:
		if departmentID == "" {
			return Scope{}, &ScopeError{Field: "department_id", Reason: "required when product_type is department"}
		}
		if set > 1 {
			return Scope{}, &ScopeError{Field: "product_type", Reason: "department scope accepts only department_id"}
		}
		return DepartmentScope(departmentID), nil
	case ScopeAll:
		if set > 0 {
			return Scope{}, &ScopeError{Field: "product_type", Reason: "all scope must not carry a target id"}
		}
		return AllProducts(), nil
	default:
		return Scope{}, &ScopeError{Field: "product_type", Reason: "must be one of single, product_group, department, all"}
	}
}

type scopeJSON struct {
	ProductType    ScopeKind `json:"product_type"`
	ProductID      string    `json:"product_id,omitempty"`
	ProductGroupID string    `json:"product_group_id,omitempty"`
	DepartmentID   string    `json:"department_id,omitempty"`
}

func (s Scope) MarshalJSON() ([]byte, error) {
	return json.Marshal(scopeJSON{
		ProductType:    s.kind,
		ProductID:      s.ProductID(),
		ProductGroupID: s.ProductGroupID(),
		DepartmentID:   s.DepartmentID(),
	})
}

func (s *Scope) UnmarshalJSON(data []byte) error {
	var raw scopeJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ScopeFromFields(string(raw.ProductType), raw.ProductID, raw.ProductGroupID, raw.DepartmentID)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
