package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/catalog"
	jobmetrics "github.com/odyssey-erp/odyssey-retail/internal/jobs"
	"github.com/odyssey-erp/odyssey-retail/internal/orders"
	"github.com/odyssey-erp/odyssey-retail/internal/pricing"
)

// StockReader is the catalog access the stock jobs need.
type StockReader interface {
	FreshSnapshot(ctx context.Context, codes []string) (pricing.MapSnapshot, error)
	LowStock(ctx context.Context, threshold int) ([]catalog.Item, error)
}

// StockAlertJob handles order follow-ups and the periodic low stock scan.
type StockAlertJob struct {
	Catalog   StockReader
	Threshold int
	Logger    *slog.Logger
	Metrics   *jobmetrics.Metrics
}

// NewStockAlertJob initialises the handlers.
func NewStockAlertJob(stock StockReader, threshold int, logger *slog.Logger, metrics *jobmetrics.Metrics) *StockAlertJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &StockAlertJob{Catalog: stock, Threshold: threshold, Logger: logger, Metrics: metrics}
}

// HandleOrderSubmitted checks the stock left for the products of a
// submitted order.
func (j *StockAlertJob) HandleOrderSubmitted(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("order submitted: handler not configured")
	}
	var event orders.SubmittedEvent
	if err := json.Unmarshal(t.Payload(), &event); err != nil {
		return fmt.Errorf("decode order submitted: %v: %w", err, asynq.SkipRetry)
	}
	tracker := j.Metrics.Track(TaskOrderSubmitted)

	logger := j.Logger.With(slog.String("number", event.Number), slog.String("mode", string(event.Mode)))
	snap, err := j.Catalog.FreshSnapshot(ctx, event.Codes)
	if err != nil {
		logger.Error("order submitted snapshot", slog.Any("error", err))
		return tracker.End(err)
	}
	low := lowEntries(snap, j.Threshold)
	for _, item := range low {
		logger.Warn("low stock after order",
			slog.String("code", item.ID),
			slog.Int("stock", item.AvailableStock),
			slog.Int("threshold", j.Threshold))
	}
	logger.Info("order follow-up done", slog.Int64("order_id", event.OrderID), slog.Int("low_stock", len(low)))
	return tracker.End(nil)
}

// HandleLowStockScan lists every active item at or below the threshold.
func (j *StockAlertJob) HandleLowStockScan(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Catalog == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("decode low stock scan: %v: %w", err, asynq.SkipRetry)
		}
	}
	threshold := payload.Threshold
	if threshold <= 0 {
		threshold = j.Threshold
	}
	tracker := j.Metrics.Track(TaskLowStockScan)

	items, err := j.Catalog.LowStock(ctx, threshold)
	if err != nil {
		j.Logger.Error("low stock scan", slog.Any("error", err))
		return tracker.End(err)
	}
	for _, item := range items {
		j.Logger.Warn("low stock",
			slog.String("code", item.Code),
			slog.String("name", item.Name),
			slog.Int("stock", item.Stock))
	}
	j.Metrics.SetLowStock(len(items))
	j.Logger.Info("low stock scan done", slog.Int("threshold", threshold), slog.Int("items", len(items)))
	return tracker.End(nil)
}

func lowEntries(snap pricing.MapSnapshot, threshold int) []pricing.CatalogItem {
	var low []pricing.CatalogItem
	for _, item := range snap {
		if item.AvailableStock <= threshold {
			low = append(low, item)
		}
	}
	sort.Slice(low, func(a, b int) bool { return low[a].ID < low[b].ID })
	return low
}
