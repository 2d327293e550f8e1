package httpapi

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/store"
)

// contextTypeParam accepts both customer_price_group and customer-price-group.
func contextTypeParam(r *http.Request) domain.ContextType {
	raw := strings.ToLower(strings.TrimSpace(chi.URLParam(r, "contextType")))
	return domain.ContextType(strings.ReplaceAll(raw, "-", "_"))
}

func (a *API) handleListContexts(w http.ResponseWriter, r *http.Request) {
	contexts, err := a.service.ListContexts(r.Context(), contextTypeParam(r))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contexts": contexts})
}

func (a *API) handleGetContext(w http.ResponseWriter, r *http.Request) {
	pc, err := a.service.GetContext(r.Context(), contextTypeParam(r), chi.URLParam(r, "contextID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": pc})
}

func (a *API) handleCreateContext(w http.ResponseWriter, r *http.Request) {
	var req domain.ContextCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pc, err := a.service.CreateContext(r.Context(), contextTypeParam(r), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"context": pc})
}

func (a *API) handleUpdateContext(w http.ResponseWriter, r *http.Request) {
	var req domain.ContextUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	pc, err := a.service.UpdateContext(r.Context(), contextTypeParam(r), chi.URLParam(r, "contextID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"context": pc})
}

func (a *API) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := a.service.ListRules(r.Context(), contextTypeParam(r), chi.URLParam(r, "contextID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rules": rules})
}

func (a *API) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.RuleCreateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rule, err := a.service.CreateRule(r.Context(), contextTypeParam(r), chi.URLParam(r, "contextID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"rule": rule})
}

func (a *API) handleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, err := a.service.GetRule(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (a *API) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	var req domain.RuleUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	rule, err := a.service.UpdateRule(r.Context(), chi.URLParam(r, "ruleID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rule": rule})
}

func (a *API) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := a.service.DeleteRule(r.Context(), chi.URLParam(r, "ruleID")); err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleEditCell(w http.ResponseWriter, r *http.Request) {
	var req domain.CellEditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := a.service.EditCell(r.Context(), chi.URLParam(r, "ruleID"), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleDerivedFields(w http.ResponseWriter, r *http.Request) {
	derived, err := a.service.DerivedFields(r.Context(), chi.URLParam(r, "ruleID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"derived": derived})
}

func (a *API) handleQuote(w http.ResponseWriter, r *http.Request) {
	req, err := quoteRequestFromQuery(r)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	q, err := a.service.Quote(r.Context(), req)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"quote": q})
}

func (a *API) handleSyncProduct(w http.ResponseWriter, r *http.Request) {
	product, err := a.service.SyncProduct(r.Context(), chi.URLParam(r, "productID"))
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"product": product})
}

func quoteRequestFromQuery(r *http.Request) (domain.QuoteRequest, error) {
	query := r.URL.Query()
	req := domain.QuoteRequest{
		ProductID:            chi.URLParam(r, "productID"),
		ContractID:           strings.TrimSpace(query.Get("contract_id")),
		CustomerPriceGroupID: strings.TrimSpace(query.Get("customer_price_group_id")),
		CampaignID:           strings.TrimSpace(query.Get("campaign_id")),
	}
	if raw := strings.TrimSpace(query.Get("quantity")); raw != "" {
		qty, err := strconv.Atoi(raw)
		if err != nil {
			return domain.QuoteRequest{}, store.Invalid("quantity", "must be an integer")
		}
		req.Quantity = qty
	}
	if raw := strings.TrimSpace(query.Get("at")); raw != "" {
		at, err := time.Parse(domain.DateLayout, raw)
		if err != nil {
			return domain.QuoteRequest{}, store.Invalid("at", "must be a YYYY-MM-DD date")
		}
		req.At = &at
	}
	return req, nil
}
