package catalog

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// Reader is the subset of Service used by Handler.
type Reader interface {
	Get(ctx context.Context, code string) (Item, error)
	List(ctx context.Context, filter ListFilter) ([]Item, int, error)
}

// Handler serves read-only catalog endpoints.
type Handler struct {
	logger    *slog.Logger
	service   Reader
	validator *validator.Validate
}

// NewHandler constructs a Handler instance.
func NewHandler(logger *slog.Logger, service Reader) *Handler {
	return &Handler{logger: logger, service: service, validator: httpx.NewValidator()}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Get("/{code}", h.show)
}

type itemView struct {
	Item
	FormattedPrice string `json:"formatted_price"`
}

type listResponse struct {
	Items []itemView `json:"items"`
	shared.Page
}

func newItemView(item Item) itemView {
	return itemView{Item: item, FormattedPrice: pricing.FormatCurrency(clampPrice(item.ReferencePrice))}
}

func clampPrice(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return decimal.Zero
	}
	return d
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := ListFilter{
		Search:     q.Get("search"),
		ActiveOnly: q.Get("active") == "true",
	}
	var err error
	if filter.Limit, filter.Offset, err = shared.ParsePage(q); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(filter); err != nil {
		httpx.RespondValidation(w, err)
		return
	}

	items, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("list catalog", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := listResponse{Items: make([]itemView, 0, len(items)), Page: shared.NewPage(filter.Limit, filter.Offset, total, len(items))}
	for _, item := range items {
		resp.Items = append(resp.Items, newItemView(item))
	}
	httpx.JSON(w, http.StatusOK, resp)
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")
	item, err := h.service.Get(r.Context(), code)
	if err != nil {
		if !httpx.IsClientError(err) {
			h.logger.Error("get catalog item", slog.String("code", code), slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, newItemView(item))
}
