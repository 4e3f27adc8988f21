package pos

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/backend-pos/internal/backend"
	"github.com/noah-isme/backend-pos/internal/cart"
	"github.com/noah-isme/backend-pos/internal/common"
	"github.com/noah-isme/backend-pos/internal/session"
)

// Handler exposes the POS session API over HTTP.
type Handler struct {
	Svc *Service
}

// Routes builds the router for the POS surface. The caller mounts it and
// decides which middleware (idempotency, rate limits) wrap it.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/products", h.SearchProducts)
	r.Get("/products/{productID}/units", h.ProductUnits)
	r.Post("/sessions", h.OpenSession)
	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Patch("/", h.UpdateContext)
		r.Delete("/", h.CancelSession)
		r.Post("/clear", h.ClearCart)
		r.Post("/lines", h.AddLine)
		r.Route("/lines/{index}", func(r chi.Router) {
			r.Patch("/", h.UpdateLine)
			r.Delete("/", h.RemoveLine)
			r.Post("/units", h.BindUnits)
		})
		r.Post("/submit", h.Submit)
	})
	return r
}

func (h *Handler) OpenSession(w http.ResponseWriter, r *http.Request) {
	if h.Svc == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "pos service not configured", nil)
		return
	}
	view, err := h.Svc.OpenSession(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusCreated, map[string]any{"data": view})
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.GetSession(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) CancelSession(w http.ResponseWriter, r *http.Request) {
	if err := h.Svc.CancelSession(r.Context(), chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UpdateContext(w http.ResponseWriter, r *http.Request) {
	var payload ContextInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	view, err := h.Svc.UpdateContext(r.Context(), chi.URLParam(r, "sessionID"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) SearchProducts(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	products, err := h.Svc.SearchProducts(r.Context(), query)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if limit := common.AtoiDefault(r.URL.Query().Get("limit"), 0); limit > 0 && len(products) > limit {
		products = products[:limit]
	}
	if products == nil {
		products = []backend.Product{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": products})
}

func (h *Handler) ProductUnits(w http.ResponseWriter, r *http.Request) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "productID"), 10, 64)
	if err != nil || productID <= 0 {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid product id", nil)
		return
	}
	units, err := h.Svc.UnitsForProduct(r.Context(), productID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if units == nil {
		units = []backend.SerializedUnit{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": units})
}

func (h *Handler) AddLine(w http.ResponseWriter, r *http.Request) {
	var payload AddLineInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.Svc.AddLine(r.Context(), chi.URLParam(r, "sessionID"), payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, lineEnvelope(result))
}

func (h *Handler) UpdateLine(w http.ResponseWriter, r *http.Request) {
	index, err := common.ParseIndex(chi.URLParam(r, "index"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line index", nil)
		return
	}
	var payload UpdateLineInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.Svc.UpdateLine(r.Context(), chi.URLParam(r, "sessionID"), index, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, lineEnvelope(result))
}

func (h *Handler) RemoveLine(w http.ResponseWriter, r *http.Request) {
	index, err := common.ParseIndex(chi.URLParam(r, "index"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line index", nil)
		return
	}
	view, err := h.Svc.RemoveLine(r.Context(), chi.URLParam(r, "sessionID"), index)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) BindUnits(w http.ResponseWriter, r *http.Request) {
	index, err := common.ParseIndex(chi.URLParam(r, "index"))
	if err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid line index", nil)
		return
	}
	var payload BindUnitsInput
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	result, err := h.Svc.BindUnits(r.Context(), chi.URLParam(r, "sessionID"), index, payload)
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, lineEnvelope(result))
}

func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	view, err := h.Svc.ClearCart(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": view})
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	result, err := h.Svc.Submit(r.Context(), chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func lineEnvelope(result LineResult) map[string]any {
	body := map[string]any{"data": result}
	if result.Clamped {
		body["warning"] = "requested quantity exceeded available stock and was reduced"
	}
	return body
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "unknown error", nil)
	case errors.Is(err, session.ErrNotFound):
		common.JSONError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "session not found or expired", nil)
	case errors.Is(err, cart.ErrLineNotFound):
		common.JSONError(w, http.StatusNotFound, "LINE_NOT_FOUND", "cart line not found", nil)
	case errors.Is(err, cart.ErrOutOfStock):
		common.JSONError(w, http.StatusConflict, "OUT_OF_STOCK", "product is out of stock", nil)
	case errors.Is(err, cart.ErrUnitCountMismatch), errors.Is(err, cart.ErrUnitNotAvailable):
		common.JSONError(w, http.StatusUnprocessableEntity, "UNIT_BINDING", err.Error(), nil)
	case errors.Is(err, ErrNotSubmittable):
		common.JSONError(w, http.StatusUnprocessableEntity, "NOT_SUBMITTABLE", err.Error(), nil)
	case errors.Is(err, errValidation):
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error(), nil)
	case errors.Is(err, backend.ErrUnavailable):
		common.JSONError(w, http.StatusServiceUnavailable, "BACKEND_UNAVAILABLE", "retail backend is unavailable, cart preserved", nil)
	default:
		if rej, ok := backend.IsRejection(err); ok {
			common.JSONError(w, http.StatusConflict, "SUBMISSION_REJECTED", rej.Message, nil)
			return
		}
		var appErr *common.AppError
		if errors.As(err, &appErr) {
			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusBadRequest
			}
			code := appErr.Code
			if code == "" {
				code = "BAD_REQUEST"
			}
			common.JSONError(w, status, code, appErr.Message, appErr.Details)
			return
		}
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), nil)
	}
}
