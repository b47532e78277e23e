package pricing

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownProduct indicates the catalog item id does not resolve.
	ErrUnknownProduct = errors.New("pricing: unknown product")
	// ErrInvalidQuantity indicates a quantity that is not a positive integer.
	ErrInvalidQuantity = errors.New("pricing: quantity must be a positive integer")
	// ErrInvalidPrice indicates a negative unit price.
	ErrInvalidPrice = errors.New("pricing: unit price must be >= 0")
	// ErrInvalidDiscount indicates a discount outside [0,100] or one supplied in purchase mode.
	ErrInvalidDiscount = errors.New("pricing: invalid discount")
	// ErrInvalidAmount indicates a non-finite or unparsable amount.
	ErrInvalidAmount = errors.New("pricing: invalid amount")
	// ErrInsufficientStock indicates a sale quantity above available stock.
	ErrInsufficientStock = errors.New("pricing: insufficient stock")
	// ErrIndexOutOfRange indicates a line index that does not exist.
	ErrIndexOutOfRange = errors.New("pricing: line index out of range")
	// ErrEmptyOrder indicates an order without lines was submitted.
	ErrEmptyOrder = errors.New("pricing: order has no lines")
	// ErrOrderFinalized indicates an operation on a submitted or discarded order.
	ErrOrderFinalized = errors.New("pricing: order is finalized")
	// ErrNotValidated indicates Submit was called before ValidateForSubmission.
	ErrNotValidated = errors.New("pricing: order not validated for submission")
	// ErrInvalidMode indicates an unsupported order mode.
	ErrInvalidMode = errors.New("pricing: invalid mode")
)

// StockError reports a sale quantity exceeding the available stock.
// LineIndex is -1 when the failing quantity does not belong to a committed line yet.
type StockError struct {
	CatalogItemID string
	Requested     int
	Available     int
	LineIndex     int
}

func (e *StockError) Error() string {
	if e.LineIndex >= 0 {
		return fmt.Sprintf("pricing: insufficient stock for %s on line %d: requested %d, available: %d",
			e.CatalogItemID, e.LineIndex, e.Requested, e.Available)
	}
	return fmt.Sprintf("pricing: insufficient stock for %s: requested %d, available: %d",
		e.CatalogItemID, e.Requested, e.Available)
}

// Is makes errors.Is(err, ErrInsufficientStock) match.
func (e *StockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// AvailableStock extracts the available quantity from a stock failure.
func AvailableStock(err error) (int, bool) {
	var se *StockError
	if errors.As(err, &se) {
		return se.Available, true
	}
	return 0, false
}
