package catalog

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
)

// Repository persists catalog items in PostgreSQL.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	Get(ctx context.Context, code string) (Item, error)
	GetMany(ctx context.Context, codes []string) ([]Item, error)
	List(ctx context.Context, filter ListFilter) ([]Item, int, error)
	AdjustStock(ctx context.Context, code string, delta int) (int, error)
	ListLowStock(ctx context.Context, threshold, limit int) ([]Item, error)
}

type repository struct {
	pool    *pgxpool.Pool
	queries *Queries
}

// NewRepository constructs the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{pool: pool, queries: NewQueries(pool)}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{pool: r.pool, queries: r.queries.WithTx(tx)})
	})
}

func (r *repository) Get(ctx context.Context, code string) (Item, error) {
	return r.queries.GetItem(ctx, code)
}

func (r *repository) GetMany(ctx context.Context, codes []string) ([]Item, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	return r.queries.GetItems(ctx, codes)
}

func (r *repository) List(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	return r.queries.ListItems(ctx, filter)
}

func (r *repository) AdjustStock(ctx context.Context, code string, delta int) (int, error) {
	return r.queries.AdjustStock(ctx, code, delta)
}

func (r *repository) ListLowStock(ctx context.Context, threshold, limit int) ([]Item, error) {
	return r.queries.ListLowStock(ctx, threshold, limit)
}
