package orders

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Handler exposes draft editing and order endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers /drafts and /orders.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/drafts", func(r chi.Router) {
		r.Post("/", h.createDraft)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.showDraft)
			r.Delete("/", h.discardDraft)
			r.Post("/lines", h.addLine)
			r.Patch("/lines/{index}", h.updateLine)
			r.Delete("/lines/{index}", h.removeLine)
			r.Post("/validate", h.validateDraft)
			r.Post("/submit", h.submitDraft)
		})
	})
	r.Route("/orders", func(r chi.Router) {
		r.Get("/", h.listOrders)
		r.Get("/{id}", h.showOrder)
		r.Post("/{id}/receive", h.receiveOrder)
		r.Post("/{id}/void", h.voidOrder)
	})
}

type draftView struct {
	Draft
	FormattedTotal string `json:"formatted_total"`
}

func newDraftView(d Draft) draftView {
	return draftView{Draft: d, FormattedTotal: pricing.FormatCurrency(d.Order.Total())}
}

type orderView struct {
	*Order
	FormattedTotal string `json:"formatted_total"`
}

func newOrderView(o *Order) orderView {
	return orderView{Order: o, FormattedTotal: pricing.FormatCurrency(o.Total)}
}

// ============================================================================
// DRAFTS
// ============================================================================

func (h *Handler) createDraft(w http.ResponseWriter, r *http.Request) {
	var req CreateDraftRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	draft, err := h.service.CreateDraft(r.Context(), req)
	if err != nil {
		h.respondError(w, "create draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newDraftView(draft))
}

func (h *Handler) showDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.GetDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "get draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDraftView(draft))
}

func (h *Handler) discardDraft(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DiscardDraft(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.respondError(w, "discard draft", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) addLine(w http.ResponseWriter, r *http.Request) {
	var req AddLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	draft, err := h.service.AddLine(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		h.respondError(w, "add line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDraftView(draft))
}

func (h *Handler) updateLine(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(w, r)
	if !ok {
		return
	}
	var req UpdateLineRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	draft, err := h.service.UpdateLine(r.Context(), chi.URLParam(r, "id"), index, req)
	if err != nil {
		h.respondError(w, "update line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDraftView(draft))
}

func (h *Handler) removeLine(w http.ResponseWriter, r *http.Request) {
	index, ok := lineIndex(w, r)
	if !ok {
		return
	}
	draft, err := h.service.RemoveLine(r.Context(), chi.URLParam(r, "id"), index)
	if err != nil {
		h.respondError(w, "remove line", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDraftView(draft))
}

func (h *Handler) validateDraft(w http.ResponseWriter, r *http.Request) {
	draft, err := h.service.ValidateDraft(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, "validate draft", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newDraftView(draft))
}

func (h *Handler) submitDraft(w http.ResponseWriter, r *http.Request) {
	order, err := h.service.SubmitDraft(r.Context(), chi.URLParam(r, "id"), r.Header.Get("Idempotency-Key"))
	if err != nil {
		h.respondError(w, "submit draft", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, newOrderView(order))
}

func lineIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		httpx.RespondError(w, httpx.NewError(httpx.ErrBadRequest, "line index must be an integer"))
		return 0, false
	}
	return index, true
}

// ============================================================================
// ORDERS
// ============================================================================

type listOrdersResponse struct {
	Orders []Order `json:"orders"`
	shared.Page
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var req ListOrdersRequest
	if v := q.Get("mode"); v != "" {
		mode := pricing.Mode(v)
		req.Mode = &mode
	}
	if v := q.Get("status"); v != "" {
		status := Status(v)
		req.Status = &status
	}
	if v := q.Get("counterparty_id"); v != "" {
		id, parseErr := strconv.ParseInt(v, 10, 64)
		if parseErr != nil {
			httpx.RespondError(w, httpx.NewError(httpx.ErrBadRequest, "counterparty_id must be an integer"))
			return
		}
		req.CounterpartyID = &id
	}
	var err error
	if req.Limit, req.Offset, err = shared.ParsePage(q); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}

	orders, total, err := h.service.ListOrders(r.Context(), req)
	if err != nil {
		h.respondError(w, "list orders", err)
		return
	}
	if orders == nil {
		orders = []Order{}
	}
	httpx.JSON(w, http.StatusOK, listOrdersResponse{Orders: orders, Page: shared.NewPage(req.Limit, req.Offset, total, len(orders))})
}

func (h *Handler) showOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.GetOrder(r.Context(), id)
	if err != nil {
		h.respondError(w, "get order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderView(order))
}

func (h *Handler) receiveOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	order, err := h.service.Receive(r.Context(), id)
	if err != nil {
		h.respondError(w, "receive order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderView(order))
}

func (h *Handler) voidOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	var req VoidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondValidation(w, err)
		return
	}
	order, err := h.service.Void(r.Context(), id, req)
	if err != nil {
		h.respondError(w, "void order", err)
		return
	}
	httpx.JSON(w, http.StatusOK, newOrderView(order))
}

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		httpx.RespondError(w, httpx.NewError(httpx.ErrBadRequest, "order id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// respondError maps engine errors onto the httpx kinds. Domain sentinels of
// this package already carry a kind and go straight to httpx.RespondError.
func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	var stockErr *pricing.StockError
	switch {
	case errors.As(err, &stockErr):
		httpx.ProblemWith(w, http.StatusConflict, "Insufficient Stock", err.Error(), map[string]any{
			"catalog_item_id": stockErr.CatalogItemID,
			"requested":       stockErr.Requested,
			"available":       stockErr.Available,
			"line_index":      stockErr.LineIndex,
		})
		return
	case errors.Is(err, pricing.ErrUnknownProduct):
		httpx.Problem(w, http.StatusNotFound, "Unknown Product", err.Error())
		return
	case errors.Is(err, pricing.ErrInvalidQuantity),
		errors.Is(err, pricing.ErrInvalidPrice),
		errors.Is(err, pricing.ErrInvalidDiscount),
		errors.Is(err, pricing.ErrInvalidAmount),
		errors.Is(err, pricing.ErrInvalidMode):
		err = httpx.Mark(err, httpx.ErrValidation)
	case errors.Is(err, pricing.ErrIndexOutOfRange),
		errors.Is(err, pricing.ErrEmptyOrder),
		errors.Is(err, pricing.ErrNotValidated):
		err = httpx.Mark(err, httpx.ErrBadRequest)
	case errors.Is(err, pricing.ErrOrderFinalized):
		err = httpx.Mark(err, httpx.ErrConflict)
	}
	if !httpx.IsClientError(err) {
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}
