package jobs

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/varejo-erp/varejo-erp/internal/stock"
)

// LowStockNotifier implements stock.Notifier by enqueueing alert mails.
// Enqueueing is the only work done on the request path; delivery happens in
// the worker.
type LowStockNotifier struct {
	client *asynq.Client
}

// NewLowStockNotifier builds the notifier.
func NewLowStockNotifier(client *asynq.Client) *LowStockNotifier {
	return &LowStockNotifier{client: client}
}

// NotifyLowStock enqueues a low-stock alert mail.
func (n *LowStockNotifier) NotifyLowStock(ctx context.Context, event stock.LowStockEvent) error {
	task, err := NewLowStockEmailTask(LowStockEmailPayload{
		EventID:    uuid.NewString(),
		To:         event.Email,
		ProductID:  event.ProductID,
		StoreID:    event.StoreID,
		StoreName:  event.StoreName,
		Quantity:   event.Quantity,
		MinStock:   event.MinStock,
		OccurredAt: event.OccurredAt,
	})
	if err != nil {
		return err
	}
	if _, err := n.client.EnqueueContext(ctx, task); err != nil {
		return fmt.Errorf("jobs: enqueue low stock mail: %w", err)
	}
	return nil
}
