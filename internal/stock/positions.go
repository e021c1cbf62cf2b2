package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// PositionCache keeps snapshots in Redis for the read-heavy catalog path.
type PositionCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewPositionCache constructs the cache.
func NewPositionCache(client *redis.Client, ttl time.Duration) *PositionCache {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &PositionCache{client: client, ttl: ttl}
}

func snapshotKey(productID, storeID int64) string {
	return fmt.Sprintf("stock:snapshot:%d:%d", productID, storeID)
}

// Get returns a cached snapshot, reporting a miss as ok=false.
func (c *PositionCache) Get(ctx context.Context, productID, storeID int64) (Snapshot, bool) {
	if c == nil || c.client == nil {
		return Snapshot{}, false
	}
	data, err := c.client.Get(ctx, snapshotKey(productID, storeID)).Bytes()
	if err != nil {
		return Snapshot{}, false
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, false
	}
	return snap, true
}

// Set stores a snapshot.
func (c *PositionCache) Set(ctx context.Context, snap Snapshot) {
	if c == nil || c.client == nil {
		return
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, snapshotKey(snap.ProductID, snap.StoreID), data, c.ttl).Err()
}

// Invalidate drops the cached snapshot for a product+store.
func (c *PositionCache) Invalidate(ctx context.Context, productID, storeID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, snapshotKey(productID, storeID)).Err()
}

// GetSnapshot returns the derived position view for one product+store.
func (s *Service) GetSnapshot(ctx context.Context, productID, storeID int64) (Snapshot, error) {
	if snap, ok := s.cache.Get(ctx, productID, storeID); ok {
		return snap, nil
	}
	pos, err := s.repo.GetPosition(ctx, productID, storeID)
	if err != nil {
		return Snapshot{}, err
	}
	reserved, err := s.repo.SumActiveReservations(ctx, productID, storeID, s.now())
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{
		ProductID: pos.ProductID,
		StoreID:   pos.StoreID,
		Quantity:  pos.Quantity,
		Reserved:  reserved,
		Available: pos.Quantity - reserved,
		MinStock:  pos.MinStock,
		MaxStock:  pos.MaxStock,
		Status:    StatusFor(pos.Quantity, pos.MinStock),
	}
	s.cache.Set(ctx, snap)
	return snap, nil
}

// Overview aggregates the store's positions with the batches that need
// attention. The two reads fan out concurrently.
type Overview struct {
	Positions []Snapshot  `json:"positions"`
	Expiring  []BatchView `json:"expiring"`
	Expired   []BatchView `json:"expired"`
}

// GetOverview builds the stock overview for a store.
func (s *Service) GetOverview(ctx context.Context, storeID int64) (Overview, error) {
	var overview Overview
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		positions, err := s.repo.ListPositions(ctx, storeID)
		if err != nil {
			return err
		}
		now := s.now()
		snapshots := make([]Snapshot, 0, len(positions))
		for _, pos := range positions {
			reserved, err := s.repo.SumActiveReservations(ctx, pos.ProductID, pos.StoreID, now)
			if err != nil {
				return err
			}
			snapshots = append(snapshots, Snapshot{
				ProductID: pos.ProductID,
				StoreID:   pos.StoreID,
				Quantity:  pos.Quantity,
				Reserved:  reserved,
				Available: pos.Quantity - reserved,
				MinStock:  pos.MinStock,
				MaxStock:  pos.MaxStock,
				Status:    StatusFor(pos.Quantity, pos.MinStock),
			})
		}
		overview.Positions = snapshots
		return nil
	})
	g.Go(func() error {
		batches, err := s.ListBatches(ctx, BatchFilter{StoreID: storeID})
		if err != nil {
			return err
		}
		for _, view := range batches {
			switch view.BatchStatus {
			case BatchExpiring:
				overview.Expiring = append(overview.Expiring, view)
			case BatchExpired:
				overview.Expired = append(overview.Expired, view)
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Overview{}, err
	}
	return overview, nil
}

func (s *Service) invalidateSnapshot(ctx context.Context, productID, storeID int64) {
	if s.cache == nil {
		return
	}
	s.cache.Invalidate(ctx, productID, storeID)
	s.logger.Debug("snapshot invalidated", slog.Int64("product_id", productID), slog.Int64("store_id", storeID))
}
