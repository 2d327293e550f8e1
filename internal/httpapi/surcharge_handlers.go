package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"prisportal/backend/internal/domain"
)

func (a *API) handleListSurcharges(w http.ResponseWriter, r *http.Request) {
	surcharges, err := a.service.ListSurcharges(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharges": surcharges})
}

func (a *API) handleGetSurcharge(w http.ResponseWriter, r *http.Request) {
	sc, err := a.service.GetSurcharge(r.Context(), chi.URLParam(r, "surchargeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharge": sc})
}

func (a *API) handleCreateSurcharge(w http.ResponseWriter, r *http.Request) {
	var req domain.SurchargeCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := a.service.CreateSurcharge(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"surcharge": sc})
}

func (a *API) handleUpdateSurcharge(w http.ResponseWriter, r *http.Request) {
	var req domain.SurchargeUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := a.service.UpdateSurcharge(r.Context(), chi.URLParam(r, "surchargeID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharge": sc})
}

func (a *API) handleDeleteSurcharge(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteSurcharge(r.Context(), chi.URLParam(r, "surchargeID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSurchargeSortOrder(w http.ResponseWriter, r *http.Request) {
	var req domain.SortOrderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	surcharges, err := a.service.UpdateSurchargeSortOrder(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharges": surcharges})
}

func (a *API) handleReorderSurcharges(w http.ResponseWriter, r *http.Request) {
	var req domain.ReorderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	surcharges, err := a.service.ReorderSurcharges(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharges": surcharges})
}

func (a *API) handleSurchargeRelationships(w http.ResponseWriter, r *http.Request) {
	counts, err := a.service.GetSurchargeRelationships(r.Context(), chi.URLParam(r, "surchargeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"relationships": counts})
}

// handlePrepareTypeChange previews GET /surcharges/{id}/type?to=supplier.
func (a *API) handlePrepareTypeChange(w http.ResponseWriter, r *http.Request) {
	newType := domain.SurchargeScope(strings.ToLower(strings.TrimSpace(r.URL.Query().Get("to"))))
	preview, err := a.service.PrepareSurchargeTypeChange(r.Context(), chi.URLParam(r, "surchargeID"), newType)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"preview": preview})
}

func (a *API) handleChangeSurchargeType(w http.ResponseWriter, r *http.Request) {
	var req domain.TypeChangeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sc, err := a.service.ChangeSurchargeType(r.Context(), chi.URLParam(r, "surchargeID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"surcharge": sc})
}

func (a *API) handleDetachSurchargeProducts(w http.ResponseWriter, r *http.Request) {
	removed, err := a.service.DetachSurchargeProducts(r.Context(), chi.URLParam(r, "surchargeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) handleDetachSurchargeSuppliers(w http.ResponseWriter, r *http.Request) {
	removed, err := a.service.DetachSurchargeSuppliers(r.Context(), chi.URLParam(r, "surchargeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (a *API) handleListProductSurcharges(w http.ResponseWriter, r *http.Request) {
	links, err := a.service.ListProductSurcharges(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product_surcharges": links})
}

func (a *API) handleLinkProductSurcharge(w http.ResponseWriter, r *http.Request) {
	var req domain.SurchargeLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	link, err := a.service.LinkProductSurcharge(r.Context(), chi.URLParam(r, "productID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"product_surcharge": link})
}

func (a *API) handleUnlinkProductSurcharge(w http.ResponseWriter, r *http.Request) {
	err := a.service.UnlinkProductSurcharge(r.Context(), chi.URLParam(r, "productID"), chi.URLParam(r, "surchargeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListSupplierSurcharges(w http.ResponseWriter, r *http.Request) {
	links, err := a.service.ListSupplierSurcharges(r.Context(), chi.URLParam(r, "supplierID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"supplier_surcharges": links})
}

func (a *API) handleLinkSupplierSurcharge(w http.ResponseWriter, r *http.Request) {
	var req domain.SurchargeLinkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	link, err := a.service.LinkSupplierSurcharge(r.Context(), chi.URLParam(r, "supplierID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"supplier_surcharge": link})
}

func (a *API) handleUnlinkSupplierSurcharge(w http.ResponseWriter, r *http.Request) {
	err := a.service.UnlinkSupplierSurcharge(r.Context(), chi.URLParam(r, "supplierID"), chi.URLParam(r, "surchargeID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListOtherCosts(w http.ResponseWriter, r *http.Request) {
	costs, err := a.service.ListOtherCosts(r.Context())
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"other_costs": costs})
}

func (a *API) handleCreateOtherCost(w http.ResponseWriter, r *http.Request) {
	var req domain.OtherCostCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cost, err := a.service.CreateOtherCost(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"other_cost": cost})
}

func (a *API) handleUpdateOtherCost(w http.ResponseWriter, r *http.Request) {
	var req domain.OtherCostUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	cost, err := a.service.UpdateOtherCost(r.Context(), chi.URLParam(r, "otherCostID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"other_cost": cost})
}

func (a *API) handleDeleteOtherCost(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteOtherCost(r.Context(), chi.URLParam(r, "otherCostID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
