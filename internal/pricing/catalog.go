package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// CatalogItem is the read-only product record the engine prices against.
type CatalogItem struct {
	ID             string          `json:"id"`
	DisplayName    string          `json:"display_name"`
	AvailableStock int             `json:"available_stock"`
	ReferencePrice decimal.Decimal `json:"reference_price"`
}

// Snapshot resolves catalog items at validation time. Implementations must
// return ErrUnknownProduct (possibly wrapped) for missing ids.
type Snapshot interface {
	Lookup(id string) (CatalogItem, error)
}

// MapSnapshot is an immutable in-memory Snapshot keyed by item id.
type MapSnapshot map[string]CatalogItem

// NewMapSnapshot indexes items by id.
func NewMapSnapshot(items ...CatalogItem) MapSnapshot {
	snap := make(MapSnapshot, len(items))
	for _, item := range items {
		snap[item.ID] = item
	}
	return snap
}

// Lookup implements Snapshot.
func (m MapSnapshot) Lookup(id string) (CatalogItem, error) {
	item, ok := m[id]
	if !ok {
		return CatalogItem{}, fmt.Errorf("%w: %s", ErrUnknownProduct, id)
	}
	return item, nil
}
