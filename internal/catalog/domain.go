package catalog

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

// Item is the product master record.
type Item struct {
	Code           string          `json:"code"`
	Name           string          `json:"name"`
	Stock          int             `json:"stock"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
	Active         bool            `json:"active"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// CatalogItem projects the record into the engine's read model.
func (i Item) CatalogItem() pricing.CatalogItem {
	return pricing.CatalogItem{
		ID:             i.Code,
		DisplayName:    i.Name,
		AvailableStock: i.Stock,
		ReferencePrice: i.ReferencePrice,
	}
}

// ListFilter narrows catalog listings.
type ListFilter struct {
	Search     string `json:"search,omitempty" validate:"omitempty,max=100"`
	ActiveOnly bool   `json:"active_only"`
	Limit      int    `json:"limit" validate:"gte=0,lte=500"`
	Offset     int    `json:"offset" validate:"gte=0"`
}

var (
	// ErrNotFound indicates the product code does not exist.
	ErrNotFound = httpx.NewError(httpx.ErrNotFound, "catalog: item not found")
	// ErrNegativeStock indicates a movement that would leave stock below zero.
	ErrNegativeStock = httpx.NewError(httpx.ErrConflict, "catalog: negative stock not allowed")
)
