package orders

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

// ============================================================================
// DRAFTS
// ============================================================================

// Draft is an order being edited. The pricing.Order inside carries the mode,
// all lines and the derived total. Version increases on every save; a save
// based on an older version fails with ErrDraftConflict.
type Draft struct {
	ID             string        `json:"id"`
	Version        int64         `json:"version"`
	CounterpartyID int64         `json:"counterparty_id"`
	Order          pricing.Order `json:"order"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// Mode is the mode of the order being edited.
func (d Draft) Mode() pricing.Mode { return d.Order.Mode() }

// Amount is a decimal accepted either as a JSON number or a JSON string.
type Amount string

// UnmarshalJSON keeps the literal text so no float conversion happens.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}
	*a = Amount(data)
	return nil
}

// Decimal parses the amount. Sign checks are left to the pricing rules.
func (a Amount) Decimal() (decimal.Decimal, error) {
	if len(a) > pricing.MaxAmountLength {
		return decimal.Zero, fmt.Errorf("%w: longer than %d characters", pricing.ErrInvalidAmount, pricing.MaxAmountLength)
	}
	d, err := decimal.NewFromString(string(a))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", pricing.ErrInvalidAmount, string(a))
	}
	if !pricing.WithinBounds(d, pricing.MaxAmountScale) {
		return decimal.Zero, fmt.Errorf("%w: %q is out of range", pricing.ErrInvalidAmount, string(a))
	}
	return d, nil
}

func (a *Amount) decimalPtr() (*decimal.Decimal, error) {
	if a == nil {
		return nil, nil
	}
	d, err := a.Decimal()
	if err != nil {
		return nil, err
	}
	return &d, nil
}

type CreateDraftRequest struct {
	Mode           pricing.Mode `json:"mode" validate:"required,oneof=purchase sale"`
	CounterpartyID int64        `json:"counterparty_id" validate:"required,gt=0"`
}

// AddLineRequest adds a product to a draft. UnitPrice defaults to the
// catalog reference price when omitted.
type AddLineRequest struct {
	CatalogItemID   string  `json:"catalog_item_id" validate:"required,max=64"`
	Quantity        int     `json:"quantity"`
	UnitPrice       *Amount `json:"unit_price,omitempty"`
	DiscountPercent *Amount `json:"discount_percent,omitempty"`
}

type UpdateLineRequest struct {
	Quantity        *int    `json:"quantity,omitempty"`
	UnitPrice       *Amount `json:"unit_price,omitempty"`
	DiscountPercent *Amount `json:"discount_percent,omitempty"`
}

// ============================================================================
// SUBMITTED ORDERS
// ============================================================================

// Status tracks a persisted order after submission.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusReceived  Status = "RECEIVED"
	StatusCompleted Status = "COMPLETED"
	StatusVoid      Status = "VOID"
)

// initialStatus is PENDING for purchases awaiting receipt and COMPLETED for
// sales, whose stock leaves at submission.
func initialStatus(mode pricing.Mode) Status {
	if mode == pricing.ModeSale {
		return StatusCompleted
	}
	return StatusPending
}

// Submission is the payload persisted for a submitted draft.
type Submission struct {
	Number      string `json:"number"`
	ProveedorID *int64 `json:"proveedorId,omitempty"`
	ClienteID   *int64 `json:"clienteId,omitempty"`
	pricing.Payload
}

// NewSubmission attaches the counterparty under the field matching the mode.
func NewSubmission(number string, counterpartyID int64, payload pricing.Payload) Submission {
	sub := Submission{Number: number, Payload: payload}
	id := counterpartyID
	if payload.Mode == pricing.ModeSale {
		sub.ClienteID = &id
	} else {
		sub.ProveedorID = &id
	}
	return sub
}

// CounterpartyID returns the supplier or client id.
func (s Submission) CounterpartyID() int64 {
	if s.ClienteID != nil {
		return *s.ClienteID
	}
	if s.ProveedorID != nil {
		return *s.ProveedorID
	}
	return 0
}

type Order struct {
	ID             int64           `json:"id" db:"id"`
	Number         string          `json:"number" db:"number"`
	Mode           pricing.Mode    `json:"mode" db:"mode"`
	CounterpartyID int64           `json:"counterparty_id" db:"counterparty_id"`
	Status         Status          `json:"status" db:"status"`
	Total          decimal.Decimal `json:"total" db:"total"`
	VoidReason     *string         `json:"void_reason,omitempty" db:"void_reason"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at" db:"updated_at"`
	Lines          []OrderLine     `json:"lines,omitempty" db:"-"`
}

type OrderLine struct {
	LineNo          int             `json:"line_no" db:"line_no"`
	CatalogItemID   string          `json:"catalog_item_id" db:"catalog_item_id"`
	DisplayName     string          `json:"display_name" db:"display_name"`
	Quantity        int             `json:"quantity" db:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price" db:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent" db:"discount_percent"`
	Subtotal        decimal.Decimal `json:"subtotal" db:"subtotal"`
}

type ListOrdersRequest struct {
	Mode           *pricing.Mode `json:"mode,omitempty" validate:"omitempty,oneof=purchase sale"`
	Status         *Status       `json:"status,omitempty" validate:"omitempty,oneof=PENDING RECEIVED COMPLETED VOID"`
	CounterpartyID *int64        `json:"counterparty_id,omitempty" validate:"omitempty,gt=0"`
	Limit          int           `json:"limit" validate:"gte=0,lte=1000"`
	Offset         int           `json:"offset" validate:"gte=0"`
}

type VoidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

var (
	ErrNotFound      = httpx.NewError(httpx.ErrNotFound, "orders: record not found")
	ErrDraftNotFound = httpx.NewError(httpx.ErrNotFound, "orders: draft not found")
	ErrInvalidStatus = httpx.NewError(httpx.ErrConflict, "orders: invalid status transition")
	// ErrDraftConflict indicates the draft changed since it was loaded.
	ErrDraftConflict = httpx.NewError(httpx.ErrConflict, "orders: draft was modified concurrently")
)
