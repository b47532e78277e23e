package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
)

// DBTX is satisfied by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries holds the catalog_items statements. Other packages reuse it inside
// their own transactions through WithTx.
type Queries struct {
	db DBTX
}

// NewQueries binds the statements to a connection.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx rebinds the statements to tx.
func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const itemColumns = `code, name, stock, reference_price::text, is_active, updated_at`

func scanItem(row pgx.Row) (Item, error) {
	var (
		item  Item
		price string
	)
	if err := row.Scan(&item.Code, &item.Name, &item.Stock, &price, &item.Active, &item.UpdatedAt); err != nil {
		return Item{}, err
	}
	d, err := decimal.NewFromString(price)
	if err != nil {
		return Item{}, fmt.Errorf("catalog: parse reference price for %s: %w", item.Code, err)
	}
	item.ReferencePrice = d
	return item, nil
}

func collectItems(rows pgx.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem loads one item.
func (q *Queries) GetItem(ctx context.Context, code string) (Item, error) {
	item, err := scanItem(q.db.QueryRow(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE code = $1`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrNotFound
		}
		return Item{}, err
	}
	return item, nil
}

// GetItems loads the items matching codes. Missing codes are skipped.
func (q *Queries) GetItems(ctx context.Context, codes []string) ([]Item, error) {
	rows, err := q.db.Query(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE code = ANY($1) ORDER BY code`, codes)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}

// LockItems loads the items matching codes with FOR UPDATE row locks. Rows
// are locked in code order so concurrent submissions cannot deadlock.
func (q *Queries) LockItems(ctx context.Context, codes []string) (map[string]Item, error) {
	rows, err := q.db.Query(ctx, `SELECT `+itemColumns+` FROM catalog_items WHERE code = ANY($1) ORDER BY code FOR UPDATE`, codes)
	if err != nil {
		return nil, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]Item, len(items))
	for _, item := range items {
		locked[item.Code] = item
	}
	return locked, nil
}

// AdjustStock applies delta and returns the new stock level.
func (q *Queries) AdjustStock(ctx context.Context, code string, delta int) (int, error) {
	var stock int
	err := q.db.QueryRow(ctx, `UPDATE catalog_items
		SET stock = stock + $2, updated_at = NOW()
		WHERE code = $1 AND stock + $2 >= 0
		RETURNING stock`, code, delta).Scan(&stock)
	if err == nil {
		return stock, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, err
	}
	if _, getErr := q.GetItem(ctx, code); getErr != nil {
		return 0, getErr
	}
	return 0, fmt.Errorf("%w: %s by %d", ErrNegativeStock, code, delta)
}

// ListItems returns a page of items and the total count.
func (q *Queries) ListItems(ctx context.Context, filter ListFilter) ([]Item, int, error) {
	where := "WHERE ($1 = '' OR code ILIKE '%' || $1 || '%' OR name ILIKE '%' || $1 || '%') AND (NOT $2 OR is_active)"
	var total int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM catalog_items `+where, filter.Search, filter.ActiveOnly).Scan(&total); err != nil {
		return nil, 0, err
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	rows, err := q.db.Query(ctx, `SELECT `+itemColumns+` FROM catalog_items `+where+` ORDER BY code LIMIT $3 OFFSET $4`,
		filter.Search, filter.ActiveOnly, limit, filter.Offset)
	if err != nil {
		return nil, 0, err
	}
	items, err := collectItems(rows)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

// ListLowStock returns active items whose stock is at or below threshold.
func (q *Queries) ListLowStock(ctx context.Context, threshold, limit int) ([]Item, error) {
	if limit <= 0 {
		limit = 200
	}
	rows, err := q.db.Query(ctx, `SELECT `+itemColumns+` FROM catalog_items
		WHERE is_active AND stock <= $1 ORDER BY stock, code LIMIT $2`, threshold, limit)
	if err != nil {
		return nil, err
	}
	return collectItems(rows)
}
