package pricing

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// State tracks where a draft order is in its editing lifecycle.
type State string

const (
	StateEmpty     State = "empty"
	StateEditing   State = "editing"
	StateReady     State = "ready"
	StateSubmitted State = "submitted"
	StateDiscarded State = "discarded"
)

// Final reports whether no further operation is permitted.
func (s State) Final() bool {
	return s == StateSubmitted || s == StateDiscarded
}

func (s State) valid() bool {
	switch s {
	case StateEmpty, StateEditing, StateReady, StateSubmitted, StateDiscarded:
		return true
	}
	return false
}

// Order is an in-progress purchase or sale draft. It is a value: every
// operation returns a new Order and leaves its argument untouched.
type Order struct {
	mode  Mode
	state State
	lines []LineItem
}

// NewOrder starts an empty draft.
func NewOrder(mode Mode) (Order, error) {
	if !mode.Valid() {
		return Order{}, fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}
	return Order{mode: mode, state: StateEmpty}, nil
}

// Mode returns the order mode.
func (o Order) Mode() Mode { return o.mode }

// State returns the lifecycle state.
func (o Order) State() State { return o.state }

// Len returns the number of lines.
func (o Order) Len() int { return len(o.lines) }

// Lines returns a copy of the lines in insertion order.
func (o Order) Lines() []LineItem {
	out := make([]LineItem, len(o.lines))
	copy(out, o.lines)
	return out
}

// Line returns the line at index.
func (o Order) Line(index int) (LineItem, bool) {
	if index < 0 || index >= len(o.lines) {
		return LineItem{}, false
	}
	return o.lines[index], true
}

// Total is the sum of the line subtotals.
func (o Order) Total() decimal.Decimal {
	return ComputeTotal(o)
}

// CatalogItemIDs lists the distinct item ids referenced by the order.
func (o Order) CatalogItemIDs() []string {
	seen := make(map[string]struct{}, len(o.lines))
	ids := make([]string, 0, len(o.lines))
	for _, line := range o.lines {
		if _, ok := seen[line.CatalogItemID]; ok {
			continue
		}
		seen[line.CatalogItemID] = struct{}{}
		ids = append(ids, line.CatalogItemID)
	}
	return ids
}

func (o Order) clone() Order {
	next := o
	next.lines = make([]LineItem, len(o.lines))
	copy(next.lines, o.lines)
	return next
}

func (o Order) mutable() error {
	if o.state.Final() {
		return fmt.Errorf("%w: order is %s", ErrOrderFinalized, o.state)
	}
	if !o.mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, o.mode)
	}
	return nil
}

func (o Order) indexOf(catalogItemID string) int {
	for i, line := range o.lines {
		if line.CatalogItemID == catalogItemID {
			return i
		}
	}
	return -1
}

// reservedElsewhere sums quantities of item on lines other than skip.
func (o Order) reservedElsewhere(catalogItemID string, skip int) int {
	total := 0
	for i, line := range o.lines {
		if i != skip && line.CatalogItemID == catalogItemID {
			total += line.Quantity
		}
	}
	return total
}

func (o Order) checkIndex(index int) error {
	if index < 0 || index >= len(o.lines) {
		return fmt.Errorf("%w: %d (lines: %d)", ErrIndexOutOfRange, index, len(o.lines))
	}
	return nil
}

// AddLine validates input and adds it to the order. A line for the same
// catalog item is merged: quantities add up, price and discount take the new
// values. On error the returned order equals o.
func AddLine(o Order, snap Snapshot, in LineInput) (Order, error) {
	if err := o.mutable(); err != nil {
		return o, err
	}
	item, err := snap.Lookup(in.CatalogItemID)
	if err != nil {
		return o, err
	}
	discount, err := validateTerms(o.mode, in.Quantity, in.UnitPrice, in.DiscountPercent)
	if err != nil {
		return o, err
	}

	idx := o.indexOf(in.CatalogItemID)
	if idx < 0 {
		if err := checkStock(o.mode, item, in.Quantity+o.reservedElsewhere(item.ID, -1), -1); err != nil {
			return o, err
		}
		next := o.clone()
		next.lines = append(next.lines, newLineItem(item, in.Quantity, in.UnitPrice, discount))
		next.state = StateEditing
		return next, nil
	}

	merged := o.lines[idx].Quantity + in.Quantity
	if merged < in.Quantity {
		return o, fmt.Errorf("%w: merged quantity overflows", ErrInvalidQuantity)
	}
	if err := checkStock(o.mode, item, merged+o.reservedElsewhere(item.ID, idx), idx); err != nil {
		return o, err
	}
	next := o.clone()
	line := next.lines[idx]
	line.Quantity = merged
	line.UnitPrice = in.UnitPrice
	line.DiscountPercent = discount
	line.recompute()
	next.lines[idx] = line
	next.state = StateEditing
	return next, nil
}

// UpdateLine applies patch to the line at index and re-validates it.
func UpdateLine(o Order, snap Snapshot, index int, patch LinePatch) (Order, error) {
	if err := o.mutable(); err != nil {
		return o, err
	}
	if err := o.checkIndex(index); err != nil {
		return o, err
	}

	line := o.lines[index]
	if patch.Quantity != nil {
		line.Quantity = *patch.Quantity
	}
	if patch.UnitPrice != nil {
		line.UnitPrice = *patch.UnitPrice
	}
	discount := &line.DiscountPercent
	if patch.DiscountPercent != nil {
		discount = patch.DiscountPercent
	}
	effective, err := validateTerms(o.mode, line.Quantity, line.UnitPrice, discount)
	if err != nil {
		return o, err
	}
	line.DiscountPercent = effective

	if o.mode.stockCeiling() {
		item, err := snap.Lookup(line.CatalogItemID)
		if err != nil {
			return o, err
		}
		if err := checkStock(o.mode, item, line.Quantity+o.reservedElsewhere(item.ID, index), index); err != nil {
			return o, err
		}
	}

	line.recompute()
	next := o.clone()
	next.lines[index] = line
	next.state = StateEditing
	return next, nil
}

// RemoveLine drops the line at index. Orders may become empty this way but
// stay in the editing state.
func RemoveLine(o Order, index int) (Order, error) {
	if err := o.mutable(); err != nil {
		return o, err
	}
	if err := o.checkIndex(index); err != nil {
		return o, err
	}
	next := o
	next.lines = make([]LineItem, 0, len(o.lines)-1)
	next.lines = append(next.lines, o.lines[:index]...)
	next.lines = append(next.lines, o.lines[index+1:]...)
	next.state = StateEditing
	return next, nil
}

// ComputeTotal sums the line subtotals.
func ComputeTotal(o Order) decimal.Decimal {
	total := decimal.Zero
	for _, line := range o.lines {
		total = total.Add(line.Subtotal)
	}
	return total
}

// ValidateForSubmission re-checks every line against a fresh snapshot and
// marks the order ready. Stock may have moved since the lines were added.
func ValidateForSubmission(o Order, snap Snapshot) (Order, error) {
	if err := o.mutable(); err != nil {
		return o, err
	}
	if len(o.lines) == 0 {
		return o, ErrEmptyOrder
	}
	reserved := make(map[string]int, len(o.lines))
	for i, line := range o.lines {
		item, err := snap.Lookup(line.CatalogItemID)
		if err != nil {
			return o, fmt.Errorf("line %d: %w", i, err)
		}
		discount := line.DiscountPercent
		if _, err := validateTerms(o.mode, line.Quantity, line.UnitPrice, &discount); err != nil {
			return o, fmt.Errorf("line %d: %w", i, err)
		}
		reserved[line.CatalogItemID] += line.Quantity
		if err := checkStock(o.mode, item, reserved[line.CatalogItemID], i); err != nil {
			return o, err
		}
	}
	next := o.clone()
	next.state = StateReady
	return next, nil
}

// Submit finalizes a validated order and returns the persistence payload.
func Submit(o Order) (Order, Payload, error) {
	if err := o.mutable(); err != nil {
		return o, Payload{}, err
	}
	if o.state != StateReady {
		return o, Payload{}, ErrNotValidated
	}
	next := o.clone()
	next.state = StateSubmitted
	return next, next.Payload(), nil
}

// Discard abandons the draft.
func Discard(o Order) (Order, error) {
	if o.state.Final() {
		return o, fmt.Errorf("%w: order is %s", ErrOrderFinalized, o.state)
	}
	next := o.clone()
	next.state = StateDiscarded
	return next, nil
}

// Payload is the data handed to the persistence collaborator.
type Payload struct {
	Mode  Mode            `json:"mode"`
	Lines []LineItem      `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// Payload renders the order as a plain data payload.
func (o Order) Payload() Payload {
	return Payload{Mode: o.mode, Lines: o.Lines(), Total: o.Total()}
}

type orderJSON struct {
	Mode  Mode            `json:"mode"`
	State State           `json:"state"`
	Lines []LineItem      `json:"lines"`
	Total decimal.Decimal `json:"total"`
}

// MarshalJSON encodes the order including its derived total.
func (o Order) MarshalJSON() ([]byte, error) {
	lines := o.Lines()
	return json.Marshal(orderJSON{Mode: o.mode, State: o.state, Lines: lines, Total: o.Total()})
}

// UnmarshalJSON restores an order. Line inputs go through the same terms
// checks as AddLine, then subtotals and the total are recomputed; encoded
// derived values are ignored.
func (o *Order) UnmarshalJSON(data []byte) error {
	var raw orderJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if !raw.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, raw.Mode)
	}
	if !raw.State.valid() {
		return fmt.Errorf("pricing: invalid state %q", raw.State)
	}
	switch {
	case raw.State == StateEmpty && len(raw.Lines) > 0:
		return fmt.Errorf("pricing: empty order carries %d lines", len(raw.Lines))
	case (raw.State == StateReady || raw.State == StateSubmitted) && len(raw.Lines) == 0:
		return fmt.Errorf("%w: %s order has no lines", ErrEmptyOrder, raw.State)
	}
	lines := make([]LineItem, len(raw.Lines))
	for i, line := range raw.Lines {
		if line.CatalogItemID == "" {
			return fmt.Errorf("line %d: %w: missing catalog item", i, ErrUnknownProduct)
		}
		discount := line.DiscountPercent
		effective, err := validateTerms(raw.Mode, line.Quantity, line.UnitPrice, &discount)
		if err != nil {
			return fmt.Errorf("line %d: %w", i, err)
		}
		line.DiscountPercent = effective
		line.recompute()
		lines[i] = line
	}
	*o = Order{mode: raw.Mode, state: raw.State, lines: lines}
	return nil
}
