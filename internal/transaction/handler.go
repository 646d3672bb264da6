package transaction

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-retail/backoffice/internal/platform/httpx"
	"github.com/odyssey-retail/backoffice/internal/shared"
)

// IdempotencyHeader carries the client key that deduplicates creates.
const IdempotencyHeader = "Idempotency-Key"

// Handler wires HTTP endpoints for purchases, sales and adjustments.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs transaction handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers one route group per transaction type under /api.
func (h *Handler) MountRoutes(r chi.Router) {
	h.mountKind(r, "/purchases", TypePurchase)
	h.mountKind(r, "/sales", TypeSale)
	h.mountKind(r, "/adjustments", TypeAdjustment)
}

func (h *Handler) mountKind(r chi.Router, path string, typ Type) {
	r.Route(path, func(r chi.Router) {
		r.Get("/", h.list(typ))
		r.Post("/", h.create(typ))
		r.Get("/{id}", h.get(typ))
		r.Put("/{id}", h.update(typ))
	})
}

func (h *Handler) decode(r *http.Request) (Request, error) {
	var req Request
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return Request{}, err
	}
	if err := httpx.ValidateStruct(h.validator, req); err != nil {
		return Request{}, err
	}
	return req, nil
}

func (h *Handler) create(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.decode(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input, err := req.ToCreateInput(typ, shared.ActorFromContext(r.Context()), r.Header.Get(IdempotencyHeader))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		t, err := h.service.Create(r.Context(), input)
		if err != nil {
			h.fail(w, r, "create "+string(typ), err)
			return
		}
		httpx.JSON(w, http.StatusCreated, t)
	}
}

func (h *Handler) update(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		req, err := h.decode(r)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		input, err := req.ToUpdateInput(typ, id, shared.ActorFromContext(r.Context()))
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		t, err := h.service.Update(r.Context(), input)
		if err != nil {
			h.fail(w, r, "update "+string(typ), err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

func (h *Handler) get(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := httpx.IDParam(r, "id")
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		t, err := h.service.Get(r.Context(), typ, id)
		if err != nil {
			h.fail(w, r, "get "+string(typ), err)
			return
		}
		httpx.JSON(w, http.StatusOK, t)
	}
}

func (h *Handler) list(typ Type) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		filter := ListFilter{Type: typ}
		var err error
		if filter.From, err = dateQuery(r, "from"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.To, err = dateQuery(r, "to"); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.Page, err = httpx.IntQuery(r, "page", 1); err != nil {
			httpx.RespondError(w, err)
			return
		}
		if filter.Limit, err = httpx.IntQuery(r, "limit", shared.DefaultPerPage); err != nil {
			httpx.RespondError(w, err)
			return
		}
		res, err := h.service.List(r.Context(), filter)
		if err != nil {
			h.fail(w, r, "list "+string(typ), err)
			return
		}
		httpx.JSON(w, http.StatusOK, res)
	}
}

func dateQuery(r *http.Request, name string) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be YYYY-MM-DD", shared.ErrValidation, name)
	}
	return d, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	if !errors.Is(err, shared.ErrValidation) && !errors.Is(err, shared.ErrNotFound) &&
		!errors.Is(err, shared.ErrDuplicate) && !errors.Is(err, shared.ErrNotConfigured) &&
		!errors.Is(err, shared.ErrNegativeStock) && !errors.Is(err, shared.ErrInsufficientPayment) {
		h.logger.Error(msg, slog.Any("error", err), slog.String("path", r.URL.Path))
	} else {
		h.logger.Warn(msg, slog.Any("error", err), slog.String("path", r.URL.Path))
	}
	httpx.RespondError(w, err)
}
