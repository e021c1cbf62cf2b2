package stores

import (
	"context"

	"github.com/varejo-erp/varejo-erp/internal/stock"
)

// StockDirectory adapts the store repository to the stock engine's
// StoreDirectory port.
type StockDirectory struct {
	service *Service
}

// NewStockDirectory builds the adapter.
func NewStockDirectory(service *Service) *StockDirectory {
	return &StockDirectory{service: service}
}

// StoreConfig resolves the configuration slice the engine needs.
func (d *StockDirectory) StoreConfig(ctx context.Context, storeID int64) (stock.StoreConfig, error) {
	s, err := d.service.Get(ctx, storeID)
	if err != nil {
		return stock.StoreConfig{}, err
	}
	return stock.StoreConfig{
		ID:              s.ID,
		Name:            s.Name,
		ValuationMethod: stock.ValuationMethod(s.ValuationMethod),
		MinStockEmail:   s.MinStockEmail,
	}, nil
}
