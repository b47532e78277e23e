package orders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/observability"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

// IdempotencyModule namespaces submission keys in the idempotency store.
const IdempotencyModule = "orders.submit"

// Catalog supplies engine snapshots and is told when stock moved.
type Catalog interface {
	Snapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error)
	FreshSnapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error)
	Invalidate(ctx context.Context)
}

// IdempotencyStore records processed submission keys.
type IdempotencyStore interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// SubmittedEvent is published after an order commits.
type SubmittedEvent struct {
	OrderID int64        `json:"order_id"`
	Number  string       `json:"number"`
	Mode    pricing.Mode `json:"mode"`
	Codes   []string     `json:"codes"`
}

// EventPublisher hands committed orders to background processing.
type EventPublisher interface {
	OrderSubmitted(ctx context.Context, event SubmittedEvent) error
}

// ServiceConfig collects the service dependencies. Idempotency, Events and
// Metrics are optional.
type ServiceConfig struct {
	Drafts      DraftStore
	Repo        Repository
	Catalog     Catalog
	Idempotency IdempotencyStore
	Events      EventPublisher
	Metrics     *observability.Metrics
	Logger      *slog.Logger
}

// Service runs draft editing sessions and the persisted order workflow.
type Service struct {
	drafts  DraftStore
	repo    Repository
	catalog Catalog
	idem    IdempotencyStore
	events  EventPublisher
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// NewService constructs the orders service.
func NewService(cfg ServiceConfig) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		drafts:  cfg.Drafts,
		repo:    cfg.Repo,
		catalog: cfg.Catalog,
		idem:    cfg.Idempotency,
		events:  cfg.Events,
		metrics: cfg.Metrics,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// ============================================================================
// DRAFTS
// ============================================================================

// CreateDraft starts an empty draft for the counterparty.
func (s *Service) CreateDraft(ctx context.Context, req CreateDraftRequest) (Draft, error) {
	order, err := pricing.NewOrder(req.Mode)
	if err != nil {
		return Draft{}, err
	}
	now := s.now()
	draft := Draft{
		ID:             s.newID(),
		CounterpartyID: req.CounterpartyID,
		Order:          order,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	return s.drafts.Save(ctx, draft)
}

// GetDraft loads a draft.
func (s *Service) GetDraft(ctx context.Context, id string) (Draft, error) {
	return s.drafts.Load(ctx, id)
}

// AddLine adds a product to the draft, merging with an existing line for the
// same product.
func (s *Service) AddLine(ctx context.Context, id string, req AddLineRequest) (Draft, error) {
	draft, err := s.drafts.Load(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	snap, err := s.catalog.Snapshot(ctx, []string{req.CatalogItemID})
	if err != nil {
		return Draft{}, err
	}

	in := pricing.LineInput{CatalogItemID: req.CatalogItemID, Quantity: req.Quantity}
	if req.UnitPrice != nil {
		if in.UnitPrice, err = req.UnitPrice.Decimal(); err != nil {
			return Draft{}, err
		}
	} else if item, lookupErr := snap.Lookup(req.CatalogItemID); lookupErr == nil {
		in.UnitPrice = item.ReferencePrice
	}
	if in.DiscountPercent, err = req.DiscountPercent.decimalPtr(); err != nil {
		return Draft{}, err
	}

	order, err := pricing.AddLine(draft.Order, snap, in)
	if err != nil {
		s.recordRejection(draft.Mode(), err)
		return Draft{}, err
	}
	return s.store(ctx, draft, order)
}

// UpdateLine patches the line at index.
func (s *Service) UpdateLine(ctx context.Context, id string, index int, req UpdateLineRequest) (Draft, error) {
	draft, err := s.drafts.Load(ctx, id)
	if err != nil {
		return Draft{}, err
	}

	patch := pricing.LinePatch{Quantity: req.Quantity}
	if patch.UnitPrice, err = req.UnitPrice.decimalPtr(); err != nil {
		return Draft{}, err
	}
	if patch.DiscountPercent, err = req.DiscountPercent.decimalPtr(); err != nil {
		return Draft{}, err
	}

	snap := pricing.MapSnapshot{}
	if line, ok := draft.Order.Line(index); ok && draft.Mode() == pricing.ModeSale {
		if snap, err = s.catalog.Snapshot(ctx, []string{line.CatalogItemID}); err != nil {
			return Draft{}, err
		}
	}

	order, err := pricing.UpdateLine(draft.Order, snap, index, patch)
	if err != nil {
		s.recordRejection(draft.Mode(), err)
		return Draft{}, err
	}
	return s.store(ctx, draft, order)
}

// RemoveLine drops the line at index.
func (s *Service) RemoveLine(ctx context.Context, id string, index int) (Draft, error) {
	draft, err := s.drafts.Load(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	order, err := pricing.RemoveLine(draft.Order, index)
	if err != nil {
		return Draft{}, err
	}
	return s.store(ctx, draft, order)
}

// ValidateDraft re-checks the draft against current stock and marks it ready.
func (s *Service) ValidateDraft(ctx context.Context, id string) (Draft, error) {
	draft, err := s.drafts.Load(ctx, id)
	if err != nil {
		return Draft{}, err
	}
	snap, err := s.catalog.FreshSnapshot(ctx, draft.Order.CatalogItemIDs())
	if err != nil {
		return Draft{}, err
	}
	order, err := pricing.ValidateForSubmission(draft.Order, snap)
	if err != nil {
		s.recordRejection(draft.Mode(), err)
		return Draft{}, err
	}
	return s.store(ctx, draft, order)
}

// DiscardDraft abandons the draft and removes it from the store.
func (s *Service) DiscardDraft(ctx context.Context, id string) error {
	draft, err := s.drafts.Load(ctx, id)
	if err != nil {
		return err
	}
	if _, err := pricing.Discard(draft.Order); err != nil {
		return err
	}
	return s.drafts.Delete(ctx, id)
}

func (s *Service) store(ctx context.Context, draft Draft, order pricing.Order) (Draft, error) {
	draft.Order = order
	draft.UpdatedAt = s.now()
	return s.drafts.Save(ctx, draft)
}

func (s *Service) recordRejection(mode pricing.Mode, err error) {
	if errors.Is(err, pricing.ErrInsufficientStock) {
		s.metrics.StockRejected(string(mode))
	}
}

// ============================================================================
// SUBMISSION
// ============================================================================

// SubmitDraft persists a validated draft. Sale stock is re-checked under row
// locks and decremented in the same transaction. A non-empty idempotencyKey
// makes repeated submissions fail with shared.ErrIdempotencyConflict.
func (s *Service) SubmitDraft(ctx context.Context, id, idempotencyKey string) (order *Order, err error) {
	if idempotencyKey != "" && s.idem != nil {
		if err := s.idem.CheckAndInsert(ctx, idempotencyKey, IdempotencyModule); err != nil {
			return nil, err
		}
		defer func() {
			if err == nil {
				return
			}
			if delErr := s.idem.Delete(context.WithoutCancel(ctx), idempotencyKey); delErr != nil {
				s.logger.Warn("release idempotency key", slog.String("key", idempotencyKey), slog.Any("error", delErr))
			}
		}()
	}

	draft, err := s.drafts.Load(ctx, id)
	if err != nil {
		return nil, err
	}
	if draft.Order.State() != pricing.StateReady {
		return nil, pricing.ErrNotValidated
	}

	snap, err := s.catalog.FreshSnapshot(ctx, draft.Order.CatalogItemIDs())
	if err != nil {
		return nil, err
	}
	validated, err := pricing.ValidateForSubmission(draft.Order, snap)
	if err != nil {
		s.recordRejection(draft.Mode(), err)
		return nil, err
	}
	_, payload, err := pricing.Submit(validated)
	if err != nil {
		return nil, err
	}

	sub := NewSubmission(s.orderNumber(draft.Mode()), draft.CounterpartyID, payload)
	status := initialStatus(draft.Mode())
	var orderID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		if draft.Mode() == pricing.ModeSale {
			if err := reserveStock(ctx, tx, sub.Lines); err != nil {
				return err
			}
		}
		id, err := tx.Insert(ctx, sub, status)
		if err != nil {
			return err
		}
		orderID = id
		return nil
	})
	if err != nil {
		s.recordRejection(draft.Mode(), err)
		return nil, err
	}

	if err := s.drafts.Delete(ctx, draft.ID); err != nil {
		s.logger.Warn("delete submitted draft", slog.String("draft_id", draft.ID), slog.Any("error", err))
	}
	if draft.Mode() == pricing.ModeSale {
		s.catalog.Invalidate(ctx)
	}
	total, _ := sub.Total.Float64()
	s.metrics.OrderSubmitted(string(draft.Mode()), total)

	codes := validated.CatalogItemIDs()
	if s.events != nil {
		event := SubmittedEvent{OrderID: orderID, Number: sub.Number, Mode: draft.Mode(), Codes: codes}
		if err := s.events.OrderSubmitted(ctx, event); err != nil {
			s.logger.Warn("publish order submitted", slog.String("number", sub.Number), slog.Any("error", err))
		}
	}

	s.logger.Info("order submitted",
		slog.Int64("order_id", orderID),
		slog.String("number", sub.Number),
		slog.String("mode", string(draft.Mode())),
		slog.String("total", sub.Total.String()))

	return submittedOrder(orderID, sub, status, s.now()), nil
}

// reserveStock locks the sale's catalog rows, re-checks the cumulative
// quantities against the locked stock and decrements it.
func reserveStock(ctx context.Context, tx Repository, lines []pricing.LineItem) error {
	need, firstLine := quantitiesByCode(lines)
	codes := sortedCodes(need)
	locked, err := tx.LockStock(ctx, codes)
	if err != nil {
		return err
	}
	for _, code := range codes {
		item, ok := locked[code]
		if !ok || !item.Active {
			return fmt.Errorf("line %d: %w: %s", firstLine[code], pricing.ErrUnknownProduct, code)
		}
		if need[code] > item.Stock {
			return &pricing.StockError{
				CatalogItemID: code,
				Requested:     need[code],
				Available:     item.Stock,
				LineIndex:     firstLine[code],
			}
		}
	}
	for _, code := range codes {
		if _, err := tx.AdjustStock(ctx, code, -need[code]); err != nil {
			return fmt.Errorf("decrement stock %s: %w", code, err)
		}
	}
	return nil
}

func (s *Service) orderNumber(mode pricing.Mode) string {
	prefix := "PO-"
	if mode == pricing.ModeSale {
		prefix = "SO-"
	}
	short := strings.ReplaceAll(s.newID(), "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return prefix + strings.ToUpper(short)
}

func submittedOrder(id int64, sub Submission, status Status, now time.Time) *Order {
	order := &Order{
		ID:             id,
		Number:         sub.Number,
		Mode:           sub.Mode,
		CounterpartyID: sub.CounterpartyID(),
		Status:         status,
		Total:          sub.Total,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	for i, line := range sub.Lines {
		order.Lines = append(order.Lines, OrderLine{
			LineNo:          i + 1,
			CatalogItemID:   line.CatalogItemID,
			DisplayName:     line.DisplayName,
			Quantity:        line.Quantity,
			UnitPrice:       line.UnitPrice,
			DiscountPercent: line.DiscountPercent,
			Subtotal:        line.Subtotal,
		})
	}
	return order
}

// ============================================================================
// PERSISTED ORDERS
// ============================================================================

// GetOrder returns a persisted order with its lines.
func (s *Service) GetOrder(ctx context.Context, id int64) (*Order, error) {
	return s.repo.Get(ctx, id)
}

// ListOrders returns a page of persisted orders.
func (s *Service) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	return s.repo.List(ctx, req)
}

// Receive books a pending purchase into stock.
func (s *Service) Receive(ctx context.Context, id int64) (*Order, error) {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Mode != pricing.ModePurchase || order.Status != StatusPending {
			return fmt.Errorf("%w: cannot receive %s order in status %s", ErrInvalidStatus, order.Mode, order.Status)
		}
		if err := adjustOrderStock(ctx, tx, order.Lines, 1); err != nil {
			return err
		}
		return tx.UpdateStatus(ctx, id, StatusReceived, nil)
	})
	if err != nil {
		return nil, err
	}
	s.catalog.Invalidate(ctx)
	s.logger.Info("purchase received", slog.Int64("order_id", id))
	return s.repo.Get(ctx, id)
}

// Void cancels an order. Completed sales return their stock; received
// purchases take theirs back out, failing when stock was already sold.
func (s *Service) Void(ctx context.Context, id int64, req VoidRequest) (*Order, error) {
	moved := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx Repository) error {
		order, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		switch order.Status {
		case StatusCompleted:
			if err := adjustOrderStock(ctx, tx, order.Lines, 1); err != nil {
				return err
			}
			moved = true
		case StatusReceived:
			if err := adjustOrderStock(ctx, tx, order.Lines, -1); err != nil {
				return err
			}
			moved = true
		case StatusPending:
		default:
			return fmt.Errorf("%w: order already %s", ErrInvalidStatus, order.Status)
		}
		reason := req.Reason
		return tx.UpdateStatus(ctx, id, StatusVoid, &reason)
	})
	if err != nil {
		return nil, err
	}
	if moved {
		s.catalog.Invalidate(ctx)
	}
	s.logger.Info("order voided", slog.Int64("order_id", id), slog.String("reason", req.Reason))
	return s.repo.Get(ctx, id)
}

func adjustOrderStock(ctx context.Context, tx Repository, lines []OrderLine, sign int) error {
	need := make(map[string]int, len(lines))
	for _, line := range lines {
		need[line.CatalogItemID] += line.Quantity
	}
	codes := sortedCodes(need)
	if _, err := tx.LockStock(ctx, codes); err != nil {
		return err
	}
	for _, code := range codes {
		if _, err := tx.AdjustStock(ctx, code, sign*need[code]); err != nil {
			if errors.Is(err, catalog.ErrNegativeStock) {
				return fmt.Errorf("%w: stock of %s already consumed", ErrInvalidStatus, code)
			}
			return fmt.Errorf("adjust stock %s: %w", code, err)
		}
	}
	return nil
}

func quantitiesByCode(lines []pricing.LineItem) (map[string]int, map[string]int) {
	need := make(map[string]int, len(lines))
	first := make(map[string]int, len(lines))
	for i, line := range lines {
		if _, ok := need[line.CatalogItemID]; !ok {
			first[line.CatalogItemID] = i
		}
		need[line.CatalogItemID] += line.Quantity
	}
	return need, first
}

// sortedCodes gives a stable lock order across concurrent submissions.
func sortedCodes(m map[string]int) []string {
	codes := make([]string, 0, len(m))
	for code := range m {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
