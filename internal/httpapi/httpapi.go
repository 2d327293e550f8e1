package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"prisportal/backend/internal/domain"
	"prisportal/backend/internal/service"
	"prisportal/backend/internal/store"
)

const (
	maxBodyBytes = 1 << 20
	actorHeader  = "X-Actor"
)

type API struct {
	service       *service.Service
	allowedOrigin string
	logger        zerolog.Logger
}

func New(svc *service.Service, allowedOrigin string, logger zerolog.Logger) *API {
	if strings.TrimSpace(allowedOrigin) == "" {
		allowedOrigin = "*"
	}
	return &API{
		service:       svc,
		allowedOrigin: allowedOrigin,
		logger:        logger.With().Str("component", "httpapi").Logger(),
	}
}

func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(a.withMiddleware)
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) { writeMethodNotAllowed(w) })
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "route not found"})
	})

	r.Get("/healthz", a.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/departments", a.handleListDepartments)
		r.Post("/departments", a.handleCreateDepartment)
		r.Get("/product-groups", a.handleListProductGroups)
		r.Post("/product-groups", a.handleCreateProductGroup)

		r.Route("/products", func(r chi.Router) {
			r.Get("/", a.handleListProducts)
			r.Post("/", a.handleCreateProduct)
			r.Route("/{productID}", func(r chi.Router) {
				r.Get("/", a.handleGetProduct)
				r.Patch("/", a.handleUpdateProduct)
				r.Get("/quote", a.handleQuote)
				r.Post("/sync", a.handleSyncProduct)
				r.Get("/suppliers", a.handleListProductSuppliers)
				r.Post("/suppliers", a.handleAddProductSupplier)
				r.Put("/primary-supplier", a.handleSetPrimarySupplier)
				r.Get("/surcharges", a.handleListProductSurcharges)
				r.Post("/surcharges", a.handleLinkProductSurcharge)
				r.Delete("/surcharges/{surchargeID}", a.handleUnlinkProductSurcharge)
			})
		})

		r.Route("/product-suppliers/{productSupplierID}", func(r chi.Router) {
			r.Patch("/", a.handleUpdateProductSupplier)
			r.Delete("/", a.handleRemoveProductSupplier)
		})

		r.Route("/suppliers", func(r chi.Router) {
			r.Get("/", a.handleListSuppliers)
			r.Post("/", a.handleCreateSupplier)
			r.Get("/{supplierID}", a.handleGetSupplier)
			r.Get("/{supplierID}/surcharges", a.handleListSupplierSurcharges)
			r.Post("/{supplierID}/surcharges", a.handleLinkSupplierSurcharge)
			r.Delete("/{supplierID}/surcharges/{surchargeID}", a.handleUnlinkSupplierSurcharge)
		})

		r.Route("/contexts/{contextType}", func(r chi.Router) {
			r.Get("/", a.handleListContexts)
			r.Post("/", a.handleCreateContext)
			r.Get("/{contextID}", a.handleGetContext)
			r.Patch("/{contextID}", a.handleUpdateContext)
			r.Get("/{contextID}/rules", a.handleListRules)
			r.Post("/{contextID}/rules", a.handleCreateRule)
		})

		r.Route("/rules/{ruleID}", func(r chi.Router) {
			r.Get("/", a.handleGetRule)
			r.Patch("/", a.handleUpdateRule)
			r.Delete("/", a.handleDeleteRule)
			r.Post("/cells", a.handleEditCell)
			r.Get("/derived", a.handleDerivedFields)
		})

		r.Route("/surcharges", func(r chi.Router) {
			r.Get("/", a.handleListSurcharges)
			r.Post("/", a.handleCreateSurcharge)
			r.Put("/sort-order", a.handleSurchargeSortOrder)
			r.Post("/reorder", a.handleReorderSurcharges)
			r.Route("/{surchargeID}", func(r chi.Router) {
				r.Get("/", a.handleGetSurcharge)
				r.Patch("/", a.handleUpdateSurcharge)
				r.Delete("/", a.handleDeleteSurcharge)
				r.Get("/relationships", a.handleSurchargeRelationships)
				r.Get("/type", a.handlePrepareTypeChange)
				r.Put("/type", a.handleChangeSurchargeType)
				r.Delete("/products", a.handleDetachSurchargeProducts)
				r.Delete("/suppliers", a.handleDetachSurchargeSuppliers)
			})
		})

		r.Route("/other-costs", func(r chi.Router) {
			r.Get("/", a.handleListOtherCosts)
			r.Post("/", a.handleCreateOtherCost)
			r.Patch("/{otherCostID}", a.handleUpdateOtherCost)
			r.Delete("/{otherCostID}", a.handleDeleteOtherCost)
		})

		r.Get("/audit-logs", a.handleAuditLogs)
		r.Get("/price-changes", a.handlePriceChanges)
	})

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok": true,
		"at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	logs, err := a.service.ListAuditLogs(r.Context(), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs})
}

func (a *API) handlePriceChanges(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	changes, err := a.service.ListPriceChanges(r.Context(), r.URL.Query().Get("entity_id"), limit)
	if err != nil {
		a.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"price_changes": changes})
}

func (a *API) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
		w.Header().Set("Access-Control-Allow-Origin", a.allowedOrigin)
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+actorHeader)
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		w.Header().Set("Vary", "Origin")

		if r.Method == http.MethodPost || r.Method == http.MethodPatch || r.Method == http.MethodPut {
			r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if actor := strings.TrimSpace(r.Header.Get(actorHeader)); actor != "" {
			r = r.WithContext(service.WithActor(r.Context(), domain.Actor{Username: actor}))
		}

		startedAt := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(startedAt)).
			Msg("request")
	})
}

// writeServiceError maps store and service errors onto HTTP statuses.
func (a *API) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var confirm *service.ConfirmationError
	if errors.As(err, &confirm) {
		writeJSON(w, http.StatusConflict, map[string]any{
			"error":   err.Error(),
			"preview": confirm.Preview,
		})
		return
	}

	var invalid *store.ValidationError
	if errors.As(err, &invalid) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": err.Error(),
			"field": invalid.Field,
		})
		return
	}

	switch {
	case errors.Is(err, store.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err)
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrConflict), errors.Is(err, store.ErrConfirmationRequired):
		writeError(w, http.StatusConflict, err)
	default:
		a.logger.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		writeError(w, http.StatusInternalServerError, err)
	}
}

func decodeJSON(r *http.Request, dest any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return err
	}
	return nil
}

// decodeBody writes the 400 itself; handlers return when it reports false.
func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	if err := decodeJSON(r, dest); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, errors.New("request body too large"))
			return false
		}
		writeError(w, http.StatusBadRequest, err)
		return false
	}
	return true
}

func parsePositiveLimit(raw string, fallback int, max int) int {
	limit := fallback
	trimmed := strings.TrimSpace(raw)
	if trimmed != "" {
		if parsed, err := strconv.Atoi(trimmed); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if max > 0 && limit > max {
		return max
	}
	return limit
}

func writeMethodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, errors.New("method not allowed"))
}

func writeError(w http.ResponseWriter, status int, err error) {
	// 5xx details stay in the log.
	msg := err.Error()
	if status >= 500 {
		msg = "internal server error"
	}
	writeJSON(w, status, map[string]any{
		"error": msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
