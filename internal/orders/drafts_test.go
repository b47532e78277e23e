package orders

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

func newDraftStore(t *testing.T) (*RedisDraftStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisDraftStore(client, time.Hour), mr
}

func TestRedisDraftStoreVersioning(t *testing.T) {
	ctx := context.Background()
	store, mr := newDraftStore(t)

	order, err := pricing.NewOrder(pricing.ModeSale)
	require.NoError(t, err)
	saved, err := store.Save(ctx, Draft{ID: "d1", CounterpartyID: 7, Order: order})
	require.NoError(t, err)
	assert.EqualValues(t, 1, saved.Version)
	assert.Equal(t, time.Hour, mr.TTL(draftKey("d1")))

	first, err := store.Load(ctx, "d1")
	require.NoError(t, err)
	second, err := store.Load(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, pricing.ModeSale, first.Mode())

	first, err = store.Save(ctx, first)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Version)

	_, err = store.Save(ctx, second)
	assert.ErrorIs(t, err, ErrDraftConflict)
	assert.ErrorIs(t, err, httpx.ErrConflict)

	loaded, err := store.Load(ctx, "d1")
	require.NoError(t, err)
	assert.EqualValues(t, 2, loaded.Version)

	require.NoError(t, store.Delete(ctx, "d1"))
	_, err = store.Save(ctx, loaded)
	assert.ErrorIs(t, err, ErrDraftNotFound, "a deleted draft is not recreated by a stale save")
	assert.False(t, mr.Exists(draftKey("d1")))
}

func TestRedisDraftStoreRejectsInconsistentPayload(t *testing.T) {
	ctx := context.Background()
	store, mr := newDraftStore(t)

	require.NoError(t, mr.Set(draftKey("bad"), `{"id":"bad","version":1,"counterparty_id":1,"order":{"mode":"sale","state":"ready","lines":[{"catalogItemId":"P1","quantity":0,"unitPrice":"10","discountPercent":"0"}]}}`))
	_, err := store.Load(ctx, "bad")
	assert.ErrorIs(t, err, pricing.ErrInvalidQuantity)

	_, err = store.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrDraftNotFound)
}
