package stock

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-retail/backoffice/internal/platform/httpx"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// Handler wires HTTP endpoints for stock queries.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs stock handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers stock routes under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/products/{productID}/stock", h.current)
	r.Get("/products/{productID}/stock/history", h.history)
	r.Get("/products/{productID}/stock/reconcile", h.reconcile)
}

func (h *Handler) current(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	level, err := h.service.CurrentStock(r.Context(), productID)
	if err != nil {
		h.logger.Warn("current stock", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, level)
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	page, err := httpx.IntQuery(r, "page", 1)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	limit, err := httpx.IntQuery(r, "limit", shared.DefaultPerPage)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	result, err := h.service.History(r.Context(), productID, page, limit)
	if err != nil {
		h.logger.Warn("stock history", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	productID, err := httpx.IDParam(r, "productID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	report, err := h.service.Reconcile(r.Context(), productID)
	if err != nil {
		h.logger.Warn("stock reconcile", slog.Int64("product_id", productID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
