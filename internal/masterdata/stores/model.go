package stores

import "time"

// ValuationMethod mirrors the stock engine's costing methods.
const (
	MethodFIFO        = "fifo"
	MethodAverageCost = "average_cost"
)

// Store represents a physical location holding stock. The valuation method
// and the low-stock recipient are configuration read by the stock engine.
type Store struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	ValuationMethod string    `json:"valuation_method"`
	MinStockEmail   string    `json:"min_stock_email"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
