package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
	"github.com/odyssey-erp/odyssey-retail/internal/shared"
)

// ============================================================================
// MOCKS
// ============================================================================

type mockCatalog struct {
	mu          sync.Mutex
	items       map[string]catalog.Item
	invalidated int
	err         error
}

func newMockCatalog(items ...catalog.Item) *mockCatalog {
	m := &mockCatalog{items: make(map[string]catalog.Item)}
	for _, item := range items {
		m.items[item.Code] = item
	}
	return m
}

func (m *mockCatalog) snapshot(codes []string) (pricing.MapSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	snap := pricing.MapSnapshot{}
	for _, code := range codes {
		if item, ok := m.items[code]; ok && item.Active {
			snap[code] = item.CatalogItem()
		}
	}
	return snap, nil
}

func (m *mockCatalog) Snapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error) {
	return m.snapshot(codes)
}

func (m *mockCatalog) FreshSnapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error) {
	return m.snapshot(codes)
}

func (m *mockCatalog) Invalidate(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated++
}

func (m *mockCatalog) setStock(code string, stock int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.items[code]
	item.Stock = stock
	m.items[code] = item
}

// mockRepo keeps stock and orders in memory. WithTx snapshots state and
// restores it when fn fails.
type mockRepo struct {
	mu        sync.Mutex
	stock     map[string]catalog.Item
	orders    map[int64]*Order
	nextID    int64
	insertErr error
	// lockHook runs after LockStock to simulate a concurrent sale.
	lockHook func(stock map[string]catalog.Item)
}

func newMockRepo(items ...catalog.Item) *mockRepo {
	r := &mockRepo{stock: make(map[string]catalog.Item), orders: make(map[int64]*Order)}
	for _, item := range items {
		r.stock[item.Code] = item
	}
	return r
}

func (r *mockRepo) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	r.mu.Lock()
	stock := make(map[string]catalog.Item, len(r.stock))
	for k, v := range r.stock {
		stock[k] = v
	}
	orders := make(map[int64]Order, len(r.orders))
	for k, v := range r.orders {
		orders[k] = *v
	}
	nextID := r.nextID
	r.mu.Unlock()

	if err := fn(ctx, r); err != nil {
		r.mu.Lock()
		r.stock = stock
		r.orders = make(map[int64]*Order, len(orders))
		for k, v := range orders {
			o := v
			r.orders[k] = &o
		}
		r.nextID = nextID
		r.mu.Unlock()
		return err
	}
	return nil
}

func (r *mockRepo) LockStock(ctx context.Context, codes []string) (map[string]catalog.Item, error) {
	r.mu.Lock()
	if r.lockHook != nil {
		r.lockHook(r.stock)
	}
	out := make(map[string]catalog.Item, len(codes))
	for _, code := range codes {
		if item, ok := r.stock[code]; ok {
			out[code] = item
		}
	}
	r.mu.Unlock()
	return out, nil
}

func (r *mockRepo) AdjustStock(ctx context.Context, code string, delta int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.stock[code]
	if !ok {
		return 0, catalog.ErrNotFound
	}
	if item.Stock+delta < 0 {
		return 0, catalog.ErrNegativeStock
	}
	item.Stock += delta
	r.stock[code] = item
	return item.Stock, nil
}

func (r *mockRepo) Insert(ctx context.Context, sub Submission, status Status) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertErr != nil {
		return 0, r.insertErr
	}
	r.nextID++
	r.orders[r.nextID] = submittedOrder(r.nextID, sub, status, time.Now())
	return r.nextID, nil
}

func (r *mockRepo) Get(ctx context.Context, id int64) (*Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (r *mockRepo) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	return r.Get(ctx, id)
}

func (r *mockRepo) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Order
	for id := int64(1); id <= r.nextID; id++ {
		o, ok := r.orders[id]
		if !ok {
			continue
		}
		if req.Mode != nil && o.Mode != *req.Mode {
			continue
		}
		if req.Status != nil && o.Status != *req.Status {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (r *mockRepo) UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	if reason != nil {
		o.VoidReason = reason
	}
	return nil
}

func (r *mockRepo) stockOf(code string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[code].Stock
}

type mockIdempotency struct {
	mu   sync.Mutex
	keys map[string]bool
}

func (m *mockIdempotency) CheckAndInsert(ctx context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys == nil {
		m.keys = make(map[string]bool)
	}
	if m.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = true
	return nil
}

func (m *mockIdempotency) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type mockEvents struct {
	events []SubmittedEvent
	err    error
}

func (m *mockEvents) OrderSubmitted(ctx context.Context, event SubmittedEvent) error {
	m.events = append(m.events, event)
	return m.err
}

// ============================================================================
// FIXTURES
// ============================================================================

func catalogItems() []catalog.Item {
	return []catalog.Item{
		{Code: "P1", Name: "Arroz 500g", Stock: 10, ReferencePrice: decimal.NewFromInt(5000), Active: true},
		{Code: "P2", Name: "Aceite 1L", Stock: 3, ReferencePrice: decimal.NewFromInt(12500), Active: true},
		{Code: "P0", Name: "Sal", Stock: 0, ReferencePrice: decimal.NewFromInt(1000), Active: true},
		{Code: "OLD", Name: "Descontinuado", Stock: 50, ReferencePrice: decimal.NewFromInt(100), Active: false},
	}
}

type fixture struct {
	svc     *Service
	catalog *mockCatalog
	repo    *mockRepo
	idem    *mockIdempotency
	events  *mockEvents
	mr      *miniredis.Miniredis
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	f := &fixture{
		catalog: newMockCatalog(catalogItems()...),
		repo:    newMockRepo(catalogItems()...),
		idem:    &mockIdempotency{},
		events:  &mockEvents{},
		mr:      mr,
	}
	f.svc = NewService(ServiceConfig{
		Drafts:      NewRedisDraftStore(client, time.Hour),
		Repo:        f.repo,
		Catalog:     f.catalog,
		Idempotency: f.idem,
		Events:      f.events,
	})
	seq := 0
	f.svc.newID = func() string {
		seq++
		return fmt.Sprintf("%08x-0000-4000-8000-000000000000", seq)
	}
	return f
}

func amount(s string) *Amount {
	a := Amount(s)
	return &a
}

func intPtr(i int) *int { return &i }

func (f *fixture) saleDraft(t *testing.T) Draft {
	t.Helper()
	draft, err := f.svc.CreateDraft(context.Background(), CreateDraftRequest{Mode: pricing.ModeSale, CounterpartyID: 7})
	require.NoError(t, err)
	return draft
}

func (f *fixture) purchaseDraft(t *testing.T) Draft {
	t.Helper()
	draft, err := f.svc.CreateDraft(context.Background(), CreateDraftRequest{Mode: pricing.ModePurchase, CounterpartyID: 3})
	require.NoError(t, err)
	return draft
}

// ============================================================================
// DRAFT EDITING
// ============================================================================

func TestCreateDraftPersists(t *testing.T) {
	f := newFixture(t)
	draft := f.saleDraft(t)

	assert.Equal(t, "00000001-0000-4000-8000-000000000000", draft.ID)
	assert.Equal(t, pricing.StateEmpty, draft.Order.State())
	assert.EqualValues(t, 1, draft.Version)

	loaded, err := f.svc.GetDraft(context.Background(), draft.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), loaded.CounterpartyID)
	assert.Equal(t, pricing.ModeSale, loaded.Mode())

	edited, err := f.svc.AddLine(context.Background(), draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 2, edited.Version)
}

func TestCreateDraftRejectsUnknownMode(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.CreateDraft(context.Background(), CreateDraftRequest{Mode: "rental", CounterpartyID: 1})
	assert.ErrorIs(t, err, pricing.ErrInvalidMode)
}

func TestGetDraftMissing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.GetDraft(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestAddLineDefaultsToReferencePrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)

	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 2})
	require.NoError(t, err)
	line, ok := draft.Order.Line(0)
	require.True(t, ok)
	assert.True(t, line.UnitPrice.Equal(decimal.NewFromInt(5000)))
	assert.True(t, draft.Order.Total().Equal(decimal.NewFromInt(10000)))

	draft, err = f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P2", Quantity: 1, UnitPrice: amount("9999.5"), DiscountPercent: amount("10")})
	require.NoError(t, err)
	line, _ = draft.Order.Line(1)
	assert.Equal(t, "9000", line.Subtotal.String())
	assert.Equal(t, "19000", draft.Order.Total().String())

	loaded, err := f.svc.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.Order.Len())
	assert.Equal(t, "19000", loaded.Order.Total().String())
}

func TestAddLineSaleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)

	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 3, UnitPrice: amount("5000")})
	require.NoError(t, err)
	assert.Equal(t, "15000", draft.Order.Total().String())

	_, err = f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 8, UnitPrice: amount("5000")})
	require.ErrorIs(t, err, pricing.ErrInsufficientStock)
	available, ok := pricing.AvailableStock(err)
	require.True(t, ok)
	assert.Equal(t, 10, available)

	loaded, err := f.svc.GetDraft(ctx, draft.ID)
	require.NoError(t, err)
	line, _ := loaded.Order.Line(0)
	assert.Equal(t, 3, line.Quantity, "failed add leaves stored draft unchanged")
}

func TestAddLineErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)

	tests := []struct {
		name string
		req  AddLineRequest
		want error
	}{
		{"unknown", AddLineRequest{CatalogItemID: "P9", Quantity: 1}, pricing.ErrUnknownProduct},
		{"inactive", AddLineRequest{CatalogItemID: "OLD", Quantity: 1}, pricing.ErrUnknownProduct},
		{"quantity", AddLineRequest{CatalogItemID: "P1", Quantity: 0}, pricing.ErrInvalidQuantity},
		{"negative price", AddLineRequest{CatalogItemID: "P1", Quantity: 1, UnitPrice: amount("-1")}, pricing.ErrInvalidPrice},
		{"garbage price", AddLineRequest{CatalogItemID: "P1", Quantity: 1, UnitPrice: amount("abc")}, pricing.ErrInvalidAmount},
		{"discount", AddLineRequest{CatalogItemID: "P1", Quantity: 1, DiscountPercent: amount("100.01")}, pricing.ErrInvalidDiscount},
		{"huge price", AddLineRequest{CatalogItemID: "P1", Quantity: 1, UnitPrice: amount("1e20000000")}, pricing.ErrInvalidAmount},
		{"long price literal", AddLineRequest{CatalogItemID: "P1", Quantity: 1, UnitPrice: amount("0.00000000000000000000000000000001")}, pricing.ErrInvalidAmount},
		{"tiny discount", AddLineRequest{CatalogItemID: "P1", Quantity: 1, DiscountPercent: amount("1e-20000000")}, pricing.ErrInvalidAmount},
		{"discount scale", AddLineRequest{CatalogItemID: "P1", Quantity: 1, DiscountPercent: amount("10.12345")}, pricing.ErrInvalidDiscount},
		{"zero stock", AddLineRequest{CatalogItemID: "P0", Quantity: 1}, pricing.ErrInsufficientStock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.AddLine(ctx, draft.ID, tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestAddLineMissingDraft(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.AddLine(context.Background(), "missing", AddLineRequest{CatalogItemID: "P1", Quantity: 1})
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

func TestAddLineCatalogFailure(t *testing.T) {
	f := newFixture(t)
	draft := f.saleDraft(t)
	f.catalog.err = errors.New("db down")

	_, err := f.svc.AddLine(context.Background(), draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestPurchaseDraftIgnoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.purchaseDraft(t)

	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P0", Quantity: 100, UnitPrice: amount("800")})
	require.NoError(t, err)
	assert.Equal(t, "80000", draft.Order.Total().String())

	_, err = f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 1, DiscountPercent: amount("5")})
	assert.ErrorIs(t, err, pricing.ErrInvalidDiscount)
}

func TestUpdateAndRemoveLine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)

	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 2, UnitPrice: amount("5000")})
	require.NoError(t, err)

	draft, err = f.svc.UpdateLine(ctx, draft.ID, 0, UpdateLineRequest{Quantity: intPtr(4), DiscountPercent: amount("50")})
	require.NoError(t, err)
	assert.Equal(t, "10000", draft.Order.Total().String())

	_, err = f.svc.UpdateLine(ctx, draft.ID, 0, UpdateLineRequest{Quantity: intPtr(11)})
	assert.ErrorIs(t, err, pricing.ErrInsufficientStock)

	_, err = f.svc.UpdateLine(ctx, draft.ID, 3, UpdateLineRequest{Quantity: intPtr(1)})
	assert.ErrorIs(t, err, pricing.ErrIndexOutOfRange)

	draft, err = f.svc.RemoveLine(ctx, draft.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 0, draft.Order.Len())
	assert.Equal(t, pricing.StateEditing, draft.Order.State())

	_, err = f.svc.RemoveLine(ctx, draft.ID, 0)
	assert.ErrorIs(t, err, pricing.ErrIndexOutOfRange)

	_, err = f.svc.ValidateDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, pricing.ErrEmptyOrder)
}

func TestValidateDraftDetectsStaleStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)

	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P2", Quantity: 3})
	require.NoError(t, err)

	f.catalog.setStock("P2", 1)
	_, err = f.svc.ValidateDraft(ctx, draft.ID)
	require.ErrorIs(t, err, pricing.ErrInsufficientStock)
	available, _ := pricing.AvailableStock(err)
	assert.Equal(t, 1, available)

	f.catalog.setStock("P2", 3)
	draft, err = f.svc.ValidateDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, pricing.StateReady, draft.Order.State())
}

func TestDiscardDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)

	require.NoError(t, f.svc.DiscardDraft(ctx, draft.ID))
	_, err := f.svc.GetDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
	assert.ErrorIs(t, f.svc.DiscardDraft(ctx, draft.ID), ErrDraftNotFound)
}

func TestDraftsExpire(t *testing.T) {
	f := newFixture(t)
	draft := f.saleDraft(t)

	f.mr.FastForward(2 * time.Hour)
	_, err := f.svc.GetDraft(context.Background(), draft.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound)
}

// ============================================================================
// SUBMISSION
// ============================================================================

func readySale(t *testing.T, f *fixture, quantity int) Draft {
	t.Helper()
	ctx := context.Background()
	draft := f.saleDraft(t)
	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: quantity, UnitPrice: amount("5000")})
	require.NoError(t, err)
	draft, err = f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P2", Quantity: 1, UnitPrice: amount("12500"), DiscountPercent: amount("20")})
	require.NoError(t, err)
	draft, err = f.svc.ValidateDraft(ctx, draft.ID)
	require.NoError(t, err)
	return draft
}

func TestSubmitDraftRequiresValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.saleDraft(t)
	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.SubmitDraft(ctx, draft.ID, "")
	assert.ErrorIs(t, err, pricing.ErrNotValidated)
	assert.Equal(t, 10, f.repo.stockOf("P1"))
}

func TestSubmitSaleDecrementsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := readySale(t, f, 4)

	order, err := f.svc.SubmitDraft(ctx, draft.ID, "")
	require.NoError(t, err)

	assert.Equal(t, int64(1), order.ID)
	assert.Regexp(t, `^SO-[0-9A-F]{8}$`, order.Number)
	assert.Equal(t, StatusCompleted, order.Status)
	assert.Equal(t, int64(7), order.CounterpartyID)
	assert.Equal(t, "30000", order.Total.String())
	require.Len(t, order.Lines, 2)
	assert.Equal(t, 1, order.Lines[0].LineNo)
	assert.Equal(t, "10000", order.Lines[1].Subtotal.String())

	assert.Equal(t, 6, f.repo.stockOf("P1"))
	assert.Equal(t, 2, f.repo.stockOf("P2"))
	assert.Equal(t, 1, f.catalog.invalidated)

	require.Len(t, f.events.events, 1)
	assert.Equal(t, order.Number, f.events.events[0].Number)
	assert.Equal(t, []string{"P1", "P2"}, f.events.events[0].Codes)

	_, err = f.svc.GetDraft(ctx, draft.ID)
	assert.ErrorIs(t, err, ErrDraftNotFound, "submitted drafts are removed")
}

func TestSubmitPurchaseLeavesStockPending(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.purchaseDraft(t)
	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P0", Quantity: 100, UnitPrice: amount("800")})
	require.NoError(t, err)
	draft, err = f.svc.ValidateDraft(ctx, draft.ID)
	require.NoError(t, err)

	order, err := f.svc.SubmitDraft(ctx, draft.ID, "")
	require.NoError(t, err)
	assert.Regexp(t, `^PO-`, order.Number)
	assert.Equal(t, StatusPending, order.Status)
	assert.Equal(t, 0, f.repo.stockOf("P0"))
	assert.Equal(t, 0, f.catalog.invalidated)

	received, err := f.svc.Receive(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, received.Status)
	assert.Equal(t, 100, f.repo.stockOf("P0"))

	_, err = f.svc.Receive(ctx, order.ID)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestSubmitLosesRaceToConcurrentSale(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := readySale(t, f, 4)

	f.repo.lockHook = func(stock map[string]catalog.Item) {
		item := stock["P1"]
		item.Stock = 2
		stock["P1"] = item
	}

	_, err := f.svc.SubmitDraft(ctx, draft.ID, "")
	require.ErrorIs(t, err, pricing.ErrInsufficientStock)
	var stockErr *pricing.StockError
	require.True(t, errors.As(err, &stockErr))
	assert.Equal(t, "P1", stockErr.CatalogItemID)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 4, stockErr.Requested)

	assert.Equal(t, 3, f.repo.stockOf("P2"), "no partial decrement")
	assert.Empty(t, f.events.events)

	_, err = f.svc.GetDraft(ctx, draft.ID)
	assert.NoError(t, err, "draft survives a failed submission")
}

func TestSubmitRollsBackOnInsertFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := readySale(t, f, 4)
	f.repo.insertErr = errors.New("disk full")

	_, err := f.svc.SubmitDraft(ctx, draft.ID, "key-1")
	require.Error(t, err)
	assert.Equal(t, 10, f.repo.stockOf("P1"))
	assert.False(t, f.idem.keys["key-1"], "failed submission releases its key")
}

func TestSubmitIdempotencyKey(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := readySale(t, f, 1)

	_, err := f.svc.SubmitDraft(ctx, draft.ID, "key-1")
	require.NoError(t, err)

	_, err = f.svc.SubmitDraft(ctx, draft.ID, "key-1")
	assert.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	assert.Equal(t, 9, f.repo.stockOf("P1"))
}

func TestSubmitSucceedsWhenPublishFails(t *testing.T) {
	f := newFixture(t)
	f.events.err = errors.New("redis down")
	draft := readySale(t, f, 1)

	order, err := f.svc.SubmitDraft(context.Background(), draft.ID, "")
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
}

// ============================================================================
// PERSISTED ORDER WORKFLOW
// ============================================================================

func TestVoidCompletedSaleRestoresStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order, err := f.svc.SubmitDraft(ctx, readySale(t, f, 4).ID, "")
	require.NoError(t, err)
	require.Equal(t, 6, f.repo.stockOf("P1"))

	voided, err := f.svc.Void(ctx, order.ID, VoidRequest{Reason: "customer cancelled"})
	require.NoError(t, err)
	assert.Equal(t, StatusVoid, voided.Status)
	require.NotNil(t, voided.VoidReason)
	assert.Equal(t, "customer cancelled", *voided.VoidReason)
	assert.Equal(t, 10, f.repo.stockOf("P1"))
	assert.Equal(t, 3, f.repo.stockOf("P2"))

	_, err = f.svc.Void(ctx, order.ID, VoidRequest{Reason: "again"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestVoidReceivedPurchaseNeedsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.purchaseDraft(t)
	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P2", Quantity: 5, UnitPrice: amount("9000")})
	require.NoError(t, err)
	draft, err = f.svc.ValidateDraft(ctx, draft.ID)
	require.NoError(t, err)
	order, err := f.svc.SubmitDraft(ctx, draft.ID, "")
	require.NoError(t, err)
	_, err = f.svc.Receive(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, 8, f.repo.stockOf("P2"))

	_, err = f.repo.AdjustStock(ctx, "P2", -6)
	require.NoError(t, err)

	_, err = f.svc.Void(ctx, order.ID, VoidRequest{Reason: "wrong supplier"})
	assert.ErrorIs(t, err, ErrInvalidStatus)
	assert.Equal(t, 2, f.repo.stockOf("P2"))

	got, err := f.svc.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusReceived, got.Status)
}

func TestVoidPendingPurchase(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	draft := f.purchaseDraft(t)
	draft, err := f.svc.AddLine(ctx, draft.ID, AddLineRequest{CatalogItemID: "P1", Quantity: 5, UnitPrice: amount("4000")})
	require.NoError(t, err)
	draft, err = f.svc.ValidateDraft(ctx, draft.ID)
	require.NoError(t, err)
	order, err := f.svc.SubmitDraft(ctx, draft.ID, "")
	require.NoError(t, err)

	voided, err := f.svc.Void(ctx, order.ID, VoidRequest{Reason: "duplicate"})
	require.NoError(t, err)
	assert.Equal(t, StatusVoid, voided.Status)
	assert.Equal(t, 10, f.repo.stockOf("P1"))
	assert.Equal(t, 0, f.catalog.invalidated)
}

func TestListAndGetOrders(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.SubmitDraft(ctx, readySale(t, f, 1).ID, "")
	require.NoError(t, err)

	mode := pricing.ModeSale
	orders, total, err := f.svc.ListOrders(ctx, ListOrdersRequest{Mode: &mode})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, orders, 1)

	_, err = f.svc.GetOrder(ctx, 99)
	assert.ErrorIs(t, err, ErrNotFound)
}
