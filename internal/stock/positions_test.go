package stock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestStatusFor(t *testing.T) {
	require.Equal(t, PositionCritical, StatusFor(0, 5))
	require.Equal(t, PositionCritical, StatusFor(-2, 0))
	require.Equal(t, PositionLow, StatusFor(5, 5))
	require.Equal(t, PositionLow, StatusFor(3, 5))
	require.Equal(t, PositionOK, StatusFor(6, 5))
	require.Equal(t, PositionOK, StatusFor(1, 0))
}

func TestGetSnapshot(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 100, BatchNumber: "L1"})
	require.NoError(t, err)
	pos := repo.positions[key(1, 1)]
	pos.MinStock = 4
	repo.positions[key(1, 1)] = pos
	_, err = svc.CreateReservation(ctx, 1, 1, 3, "")
	require.NoError(t, err)

	snap, err := svc.GetSnapshot(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), snap.Quantity)
	require.Equal(t, int64(3), snap.Reserved)
	require.Equal(t, int64(7), snap.Available)
	require.Equal(t, PositionOK, snap.Status)

	_, err = svc.GetSnapshot(ctx, 42, 1)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestPositionCache(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewPositionCache(client, time.Minute)
	ctx := context.Background()

	_, ok := cache.Get(ctx, 1, 1)
	require.False(t, ok)

	snap := Snapshot{ProductID: 1, StoreID: 1, Quantity: 10, Reserved: 2, Available: 8, Status: PositionOK}
	cache.Set(ctx, snap)
	got, ok := cache.Get(ctx, 1, 1)
	require.True(t, ok)
	require.Equal(t, snap, got)

	cache.Invalidate(ctx, 1, 1)
	_, ok = cache.Get(ctx, 1, 1)
	require.False(t, ok)

	// A nil cache is inert, not a panic.
	var none *PositionCache
	_, ok = none.Get(ctx, 1, 1)
	require.False(t, ok)
	none.Set(ctx, snap)
	none.Invalidate(ctx, 1, 1)
}

func TestSnapshotCacheInvalidatedByWrites(t *testing.T) {
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	svc := NewService(nil, repo, fakeStores{method: MethodFIFO}, nil, nil, nil, NewPositionCache(client, time.Minute), ServiceConfig{})
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 100, BatchNumber: "L1"})
	require.NoError(t, err)

	snap, err := svc.GetSnapshot(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(10), snap.Quantity)
	require.True(t, srv.Exists("stock:snapshot:1:1"))

	_, err = svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 4, Reason: "sale"})
	require.NoError(t, err)
	require.False(t, srv.Exists("stock:snapshot:1:1"))

	snap, err = svc.GetSnapshot(ctx, 1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(6), snap.Quantity)
}

func TestGetOverview(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return now })

	expired := now.Add(-24 * time.Hour)
	expiring := now.Add(10 * 24 * time.Hour)
	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 100, BatchNumber: "L1", ExpiryDate: &expired})
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 2, StoreID: 1, Quantity: 8, UnitCost: 100, BatchNumber: "L2", ExpiryDate: &expiring})
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 3, StoreID: 1, Quantity: 5, UnitCost: 100, BatchNumber: "L3"})
	require.NoError(t, err)
	pos := repo.positions[key(3, 1)]
	pos.MinStock = 5
	repo.positions[key(3, 1)] = pos

	overview, err := svc.GetOverview(ctx, 1)
	require.NoError(t, err)
	require.Len(t, overview.Positions, 3)
	require.Equal(t, PositionLow, overview.Positions[2].Status)
	require.Len(t, overview.Expired, 1)
	require.Equal(t, "L1", overview.Expired[0].BatchNumber)
	require.Len(t, overview.Expiring, 1)
	require.Equal(t, "L2", overview.Expiring[0].BatchNumber)
}
