package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"prisportal/backend/internal/domain"
)

type primarySupplierRequest struct {
	SupplierID string `json:"supplier_id"`
}

func (a *API) handleListDepartments(w http.ResponseWriter, r *http.Request) {
	departments, err := a.service.ListDepartments(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"departments": departments})
}

func (a *API) handleCreateDepartment(w http.ResponseWriter, r *http.Request) {
	var req domain.DepartmentCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	department, err := a.service.CreateDepartment(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"department": department})
}

func (a *API) handleListProductGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := a.service.ListProductGroups(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_groups": groups})
}

func (a *API) handleCreateProductGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductGroupCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	group, err := a.service.CreateProductGroup(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product_group": group})
}

func (a *API) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := a.service.ListProducts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"products": products})
}

func (a *API) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.GetProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product, err := a.service.CreateProduct(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product": product})
}

func (a *API) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	product, err := a.service.UpdateProduct(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func (a *API) handleListSuppliers(w http.ResponseWriter, r *http.Request) {
	suppliers, err := a.service.ListSuppliers(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suppliers": suppliers})
}

func (a *API) handleGetSupplier(w http.ResponseWriter, r *http.Request) {
	supplier, err := a.service.GetSupplier(r.Context(), chi.URLParam(r, "supplierID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier": supplier})
}

func (a *API) handleCreateSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.SupplierCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	supplier, err := a.service.CreateSupplier(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier": supplier})
}

func (a *API) handleListProductSuppliers(w http.ResponseWriter, r *http.Request) {
	rows, err := a.service.ListProductSuppliers(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_suppliers": rows})
}

func (a *API) handleAddProductSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductSupplierCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := a.service.AddProductSupplier(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product_supplier": row})
}

func (a *API) handleUpdateProductSupplier(w http.ResponseWriter, r *http.Request) {
	var req domain.ProductSupplierUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := a.service.UpdateProductSupplier(r.Context(), chi.URLParam(r, "productSupplierID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_supplier": row})
}

func (a *API) handleRemoveProductSupplier(w http.ResponseWriter, r *http.Request) {
	if err := a.service.RemoveProductSupplier(r.Context(), chi.URLParam(r, "productSupplierID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSetPrimarySupplier(w http.ResponseWriter, r *http.Request) {
	var req primarySupplierRequest
	if !decodeBody(w, r, &req) {
		return
	}
	row, err := a.service.SetPrimarySupplier(r.Context(), chi.URLParam(r, "productID"), req.SupplierID)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_supplier": row})
}
