package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	"github.com/odyssey-erp/odyssey-retail/internal/platform/db"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

// Repository persists submitted orders and the stock they move.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, Repository) error) error
	LockStock(ctx context.Context, codes []string) (map[string]catalog.Item, error)
	AdjustStock(ctx context.Context, code string, delta int) (int, error)
	Insert(ctx context.Context, sub Submission, status Status) (int64, error)
	Get(ctx context.Context, id int64) (*Order, error)
	GetForUpdate(ctx context.Context, id int64) (*Order, error)
	List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error)
	UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error
}

type repository struct {
	db    catalog.DBTX
	pool  *pgxpool.Pool
	stock *catalog.Queries
}

// NewRepository constructs the pgx backed repository.
func NewRepository(pool *pgxpool.Pool) Repository {
	return &repository{db: pool, pool: pool, stock: catalog.NewQueries(pool)}
}

func (r *repository) WithTx(ctx context.Context, fn func(context.Context, Repository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &repository{db: tx, pool: r.pool, stock: r.stock.WithTx(tx)})
	})
}

func (r *repository) LockStock(ctx context.Context, codes []string) (map[string]catalog.Item, error) {
	return r.stock.LockItems(ctx, codes)
}

func (r *repository) AdjustStock(ctx context.Context, code string, delta int) (int, error) {
	return r.stock.AdjustStock(ctx, code, delta)
}

func (r *repository) Insert(ctx context.Context, sub Submission, status Status) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `INSERT INTO orders (number, mode, counterparty_id, status, total, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, NOW(), NOW())
		RETURNING id`,
		sub.Number, string(sub.Mode), sub.CounterpartyID(), string(status), sub.Total.String(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for i, line := range sub.Lines {
		batch.Queue(`INSERT INTO order_lines
			(order_id, line_no, catalog_item_id, display_name, quantity, unit_price, discount_percent, subtotal)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric)`,
			id, i+1, line.CatalogItemID, line.DisplayName, line.Quantity,
			line.UnitPrice.String(), line.DiscountPercent.String(), line.Subtotal.String())
	}
	if batch.Len() > 0 {
		results := r.sendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				_ = results.Close()
				return 0, fmt.Errorf("insert order line %d: %w", i+1, err)
			}
		}
		if err := results.Close(); err != nil {
			return 0, err
		}
	}
	return id, nil
}

type batchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

func (r *repository) sendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	if sender, ok := r.db.(batchSender); ok {
		return sender.SendBatch(ctx, b)
	}
	return r.pool.SendBatch(ctx, b)
}

const orderColumns = `id, number, mode, counterparty_id, status, total::text, void_reason, created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var (
		o     Order
		mode  string
		state string
		total string
	)
	if err := row.Scan(&o.ID, &o.Number, &mode, &o.CounterpartyID, &state, &total, &o.VoidReason, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.Mode = pricing.Mode(mode)
	o.Status = Status(state)
	d, err := decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse order total: %w", err)
	}
	o.Total = d
	return &o, nil
}

func (r *repository) get(ctx context.Context, id int64, lock bool) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	o, err := scanOrder(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	lines, err := r.lines(ctx, id)
	if err != nil {
		return nil, err
	}
	o.Lines = lines
	return o, nil
}

func (r *repository) Get(ctx context.Context, id int64) (*Order, error) {
	return r.get(ctx, id, false)
}

func (r *repository) GetForUpdate(ctx context.Context, id int64) (*Order, error) {
	return r.get(ctx, id, true)
}

func (r *repository) lines(ctx context.Context, orderID int64) ([]OrderLine, error) {
	rows, err := r.db.Query(ctx, `SELECT line_no, catalog_item_id, display_name, quantity,
			unit_price::text, discount_percent::text, subtotal::text
		FROM order_lines WHERE order_id = $1 ORDER BY line_no`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []OrderLine
	for rows.Next() {
		var (
			l                         OrderLine
			price, discount, subtotal string
		)
		if err := rows.Scan(&l.LineNo, &l.CatalogItemID, &l.DisplayName, &l.Quantity, &price, &discount, &subtotal); err != nil {
			return nil, err
		}
		if l.UnitPrice, err = decimal.NewFromString(price); err != nil {
			return nil, err
		}
		if l.DiscountPercent, err = decimal.NewFromString(discount); err != nil {
			return nil, err
		}
		if l.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (r *repository) List(ctx context.Context, req ListOrdersRequest) ([]Order, int, error) {
	var conditions []string
	var args []interface{}
	argPos := 1

	if req.Mode != nil {
		conditions = append(conditions, fmt.Sprintf("mode = $%d", argPos))
		args = append(args, string(*req.Mode))
		argPos++
	}
	if req.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*req.Status))
		argPos++
	}
	if req.CounterpartyID != nil {
		conditions = append(conditions, fmt.Sprintf("counterparty_id = $%d", argPos))
		args = append(args, *req.CounterpartyID)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM orders "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf("SELECT %s FROM orders %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d",
		orderColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, req.Offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *repository) UpdateStatus(ctx context.Context, id int64, status Status, reason *string) error {
	tag, err := r.db.Exec(ctx, `UPDATE orders SET status = $2, void_reason = COALESCE($3, void_reason), updated_at = NOW() WHERE id = $1`,
		id, string(status), reason)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
