package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Mode selects which pricing rules apply to an order.
type Mode string

const (
	// ModePurchase orders add stock: no ceiling, no discount.
	ModePurchase Mode = "purchase"
	// ModeSale orders consume stock: ceiling and discount apply.
	ModeSale Mode = "sale"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool {
	return m == ModePurchase || m == ModeSale
}

func (m Mode) stockCeiling() bool {
	return m == ModeSale
}

// LineItem is one product entry of an order. Subtotal is derived from the
// other fields and recomputed by the engine on every mutation.
type LineItem struct {
	CatalogItemID   string          `json:"catalogItemId"`
	DisplayName     string          `json:"displayName"`
	Quantity        int             `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
	DiscountPercent decimal.Decimal `json:"discountPercent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
}

func (l *LineItem) recompute() {
	l.Subtotal = lineSubtotal(l.Quantity, l.UnitPrice, l.DiscountPercent)
}

// LineInput carries the caller supplied fields for a new line. A nil
// DiscountPercent means no discount.
type LineInput struct {
	CatalogItemID   string
	Quantity        int
	UnitPrice       decimal.Decimal
	DiscountPercent *decimal.Decimal
}

// LinePatch updates selected fields of an existing line.
type LinePatch struct {
	Quantity        *int
	UnitPrice       *decimal.Decimal
	DiscountPercent *decimal.Decimal
}

// CreateLineItem validates input against the snapshot and builds a priced
// line. Checks run in a fixed order and stop at the first failure.
func CreateLineItem(snap Snapshot, in LineInput, mode Mode) (LineItem, error) {
	if !mode.Valid() {
		return LineItem{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	item, err := snap.Lookup(in.CatalogItemID)
	if err != nil {
		return LineItem{}, err
	}
	discount, err := validateTerms(mode, in.Quantity, in.UnitPrice, in.DiscountPercent)
	if err != nil {
		return LineItem{}, err
	}
	if err := checkStock(mode, item, in.Quantity, -1); err != nil {
		return LineItem{}, err
	}
	return newLineItem(item, in.Quantity, in.UnitPrice, discount), nil
}

func newLineItem(item CatalogItem, quantity int, unitPrice, discount decimal.Decimal) LineItem {
	line := LineItem{
		CatalogItemID:   item.ID,
		DisplayName:     item.DisplayName,
		Quantity:        quantity,
		UnitPrice:       unitPrice,
		DiscountPercent: discount,
	}
	line.recompute()
	return line
}

// validateTerms runs the quantity, price and discount rules and returns the
// effective discount.
func validateTerms(mode Mode, quantity int, unitPrice decimal.Decimal, discount *decimal.Decimal) (decimal.Decimal, error) {
	if quantity <= 0 {
		return decimal.Zero, fmt.Errorf("%w: got %d", ErrInvalidQuantity, quantity)
	}
	if unitPrice.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: got %s", ErrInvalidPrice, unitPrice.String())
	}
	if !WithinBounds(unitPrice, MaxAmountScale) {
		return decimal.Zero, fmt.Errorf("%w: at most %d integer digits and %d decimals", ErrInvalidPrice, MaxIntegerDigits, MaxAmountScale)
	}
	return resolveDiscount(mode, discount)
}

func resolveDiscount(mode Mode, discount *decimal.Decimal) (decimal.Decimal, error) {
	if mode == ModePurchase {
		if discount != nil && !discount.IsZero() {
			return decimal.Zero, fmt.Errorf("%w: purchases do not carry discounts", ErrInvalidDiscount)
		}
		return decimal.Zero, nil
	}
	if discount == nil {
		return decimal.Zero, nil
	}
	if !WithinBounds(*discount, MaxDiscountScale) {
		return decimal.Zero, fmt.Errorf("%w: at most %d integer digits and %d decimals", ErrInvalidDiscount, MaxIntegerDigits, MaxDiscountScale)
	}
	if discount.IsNegative() || discount.GreaterThan(hundred) {
		return decimal.Zero, fmt.Errorf("%w: %s is outside [0,100]", ErrInvalidDiscount, discount.String())
	}
	return *discount, nil
}

// checkStock enforces the sale ceiling for a cumulative quantity of item.
func checkStock(mode Mode, item CatalogItem, quantity, lineIndex int) error {
	if !mode.stockCeiling() {
		return nil
	}
	if quantity > item.AvailableStock {
		return &StockError{
			CatalogItemID: item.ID,
			Requested:     quantity,
			Available:     item.AvailableStock,
			LineIndex:     lineIndex,
		}
	}
	return nil
}
