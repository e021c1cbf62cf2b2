package products

import "time"

// Product represents a catalog product. The stock engine reads name and price
// and maintains AverageCost; everything else is catalog-owned.
type Product struct {
	ID          int64     `json:"id"`
	SKU         string    `json:"sku"`
	Name        string    `json:"name"`
	Unit        string    `json:"unit"`
	Price       int64     `json:"price"`
	AverageCost int64     `json:"average_cost"`
	IsActive    bool      `json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
