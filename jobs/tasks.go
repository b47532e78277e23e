package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-retail/internal/orders"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOrderSubmitted follows up a committed order.
	TaskOrderSubmitted = "orders:submitted"
	// TaskLowStockScan reports catalog items running out.
	TaskLowStockScan = "catalog:low-stock-scan"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "idempotency:cleanup"
)

// NewOrderSubmittedTask wraps the submitted order event.
func NewOrderSubmittedTask(event orders.SubmittedEvent) (*asynq.Task, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("encode order submitted payload: %w", err)
	}
	return asynq.NewTask(TaskOrderSubmitted, body, asynq.Queue(QueueDefault), asynq.MaxRetry(5)), nil
}

// LowStockScanPayload carries the scan threshold. Zero uses the worker default.
type LowStockScanPayload struct {
	Threshold int `json:"threshold"`
}

// NewLowStockScanTask builds the scan task.
func NewLowStockScanTask(threshold int) (*asynq.Task, error) {
	body, err := json.Marshal(LowStockScanPayload{Threshold: threshold})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLowStockScan, body, asynq.Queue(QueueDefault)), nil
}

// IdempotencyCleanupPayload carries the retention in hours.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds the cleanup task.
func NewIdempotencyCleanupTask(retentionHours int) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: retentionHours})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
