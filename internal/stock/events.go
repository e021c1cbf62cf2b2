package stock

import (
	"context"
	"time"
)

// LowStockEvent signals that a decreasing movement pushed a position at or
// below its minimum threshold. Emitted once per crossing; replenishment never
// emits.
type LowStockEvent struct {
	ProductID  int64     `json:"product_id"`
	StoreID    int64     `json:"store_id"`
	StoreName  string    `json:"store_name"`
	Email      string    `json:"email"`
	Quantity   int64     `json:"quantity"`
	MinStock   int64     `json:"min_stock"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Notifier receives low-stock events. Delivery is fire-and-forget relative to
// the ledger transaction.
type Notifier interface {
	NotifyLowStock(ctx context.Context, event LowStockEvent) error
}
