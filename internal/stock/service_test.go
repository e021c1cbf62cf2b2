package stock

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	positions    map[string]Position
	batches      []Batch
	movements    []Movement
	reservations map[int64]Reservation
	avgCost      map[int64]int64
	nextID       int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{
		positions:    make(map[string]Position),
		reservations: make(map[int64]Reservation),
		avgCost:      make(map[int64]int64),
	}
}

func key(productID, storeID int64) string {
	return fmt.Sprintf("%d:%d", productID, storeID)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return fn(ctx, &memoryTx{repo: r})
}

func (r *memoryRepo) QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	result := []Movement{}
	for _, m := range r.movements {
		if filter.ProductID != 0 && m.ProductID != filter.ProductID {
			continue
		}
		if filter.StoreID != 0 && m.StoreID != filter.StoreID {
			continue
		}
		if filter.Type != "" && m.Type != filter.Type {
			continue
		}
		result = append(result, m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (r *memoryRepo) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	result := []Batch{}
	for _, b := range r.batches {
		if filter.ProductID != 0 && b.ProductID != filter.ProductID {
			continue
		}
		if filter.StoreID != 0 && b.StoreID != filter.StoreID {
			continue
		}
		if !filter.IncludeDepleted && b.Quantity == 0 {
			continue
		}
		result = append(result, b)
	}
	sortFIFO(result)
	return result, nil
}

func (r *memoryRepo) GetBatch(ctx context.Context, id int64) (Batch, error) {
	for _, b := range r.batches {
		if b.ID == id {
			return b, nil
		}
	}
	return Batch{}, ErrBatchNotFound
}

func (r *memoryRepo) GetPosition(ctx context.Context, productID, storeID int64) (Position, error) {
	if pos, ok := r.positions[key(productID, storeID)]; ok {
		return pos, nil
	}
	return Position{}, ErrPositionNotFound
}

func (r *memoryRepo) ListPositions(ctx context.Context, storeID int64) ([]Position, error) {
	result := []Position{}
	for _, pos := range r.positions {
		if storeID != 0 && pos.StoreID != storeID {
			continue
		}
		result = append(result, pos)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ProductID < result[j].ProductID })
	return result, nil
}

func (r *memoryRepo) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	if res, ok := r.reservations[id]; ok {
		return res, nil
	}
	return Reservation{}, ErrReservationNotFound
}

func (r *memoryRepo) SumActiveReservations(ctx context.Context, productID, storeID int64, now time.Time) (int64, error) {
	var total int64
	for _, res := range r.reservations {
		if res.ProductID == productID && res.StoreID == storeID && res.Status == ReservationActive && res.ExpiresAt.After(now) {
			total += res.Quantity
		}
	}
	return total, nil
}

func (r *memoryRepo) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	var count int64
	for id, res := range r.reservations {
		if res.Status == ReservationActive && !res.ExpiresAt.After(now) {
			res.Status = ReservationExpired
			r.reservations[id] = res
			count++
		}
	}
	return count, nil
}

func (tx *memoryTx) GetPositionForUpdate(ctx context.Context, productID, storeID int64) (Position, error) {
	if pos, ok := tx.repo.positions[key(productID, storeID)]; ok {
		return pos, nil
	}
	return Position{ProductID: productID, StoreID: storeID}, ErrPositionNotFound
}

func (tx *memoryTx) UpsertPosition(ctx context.Context, pos Position) error {
	k := key(pos.ProductID, pos.StoreID)
	if existing, ok := tx.repo.positions[k]; ok {
		existing.Quantity = pos.Quantity
		tx.repo.positions[k] = existing
		return nil
	}
	tx.repo.positions[k] = pos
	return nil
}

func (tx *memoryTx) ListBatchesForWithdrawal(ctx context.Context, productID, storeID int64) ([]Batch, error) {
	result := []Batch{}
	for _, b := range tx.repo.batches {
		if b.ProductID == productID && b.StoreID == storeID && b.Quantity > 0 {
			result = append(result, b)
		}
	}
	sortFIFO(result)
	return result, nil
}

func (tx *memoryTx) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	for _, b := range tx.repo.batches {
		if b.ProductID == batch.ProductID && b.StoreID == batch.StoreID && b.BatchNumber == batch.BatchNumber {
			return 0, ErrDuplicateBatchNumber
		}
	}
	tx.repo.nextID++
	batch.ID = tx.repo.nextID
	tx.repo.batches = append(tx.repo.batches, batch)
	return batch.ID, nil
}

func (tx *memoryTx) DecrementBatch(ctx context.Context, batchID, qty int64) error {
	for i, b := range tx.repo.batches {
		if b.ID == batchID {
			if b.Quantity < qty {
				return ErrInsufficientStock
			}
			tx.repo.batches[i].Quantity -= qty
			return nil
		}
	}
	return ErrBatchNotFound
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	m.CreatedAt = time.Now()
	tx.repo.movements = append(tx.repo.movements, m)
	return m.ID, nil
}

func (tx *memoryTx) GetProductAverageCost(ctx context.Context, productID int64) (int64, error) {
	return tx.repo.avgCost[productID], nil
}

func (tx *memoryTx) UpdateProductAverageCost(ctx context.Context, productID, averageCost int64) error {
	tx.repo.avgCost[productID] = averageCost
	return nil
}

func (tx *memoryTx) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	if res, ok := tx.repo.reservations[id]; ok {
		return res, nil
	}
	return Reservation{}, ErrReservationNotFound
}

func (tx *memoryTx) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	tx.repo.nextID++
	res.ID = tx.repo.nextID
	tx.repo.reservations[res.ID] = res
	return res.ID, nil
}

func (tx *memoryTx) UpdateReservationStatus(ctx context.Context, id int64, status ReservationStatus, at time.Time, orderRef string) error {
	res, ok := tx.repo.reservations[id]
	if !ok {
		return ErrReservationNotFound
	}
	res.Status = status
	switch status {
	case ReservationCompleted:
		res.CompletedAt = &at
		if orderRef != "" {
			res.OrderRef = orderRef
		}
	case ReservationCancelled:
		res.CancelledAt = &at
	}
	tx.repo.reservations[id] = res
	return nil
}

func (tx *memoryTx) SumActiveReservations(ctx context.Context, productID, storeID int64, now time.Time) (int64, error) {
	return tx.repo.SumActiveReservations(ctx, productID, storeID, now)
}

func sortFIFO(batches []Batch) {
	sort.Slice(batches, func(i, j int) bool {
		if !batches[i].EntryDate.Equal(batches[j].EntryDate) {
			return batches[i].EntryDate.Before(batches[j].EntryDate)
		}
		return batches[i].ID < batches[j].ID
	})
}

type fakeStores struct {
	method ValuationMethod
	email  string
}

func (f fakeStores) StoreConfig(ctx context.Context, storeID int64) (StoreConfig, error) {
	return StoreConfig{
		ID:              storeID,
		Name:            "Loja Centro",
		ValuationMethod: f.method,
		MinStockEmail:   f.email,
	}, nil
}

type fakeNotifier struct {
	events []LowStockEvent
}

func (f *fakeNotifier) NotifyLowStock(ctx context.Context, event LowStockEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestService(method ValuationMethod) (*Service, *memoryRepo, *fakeNotifier) {
	repo := newMemoryRepo()
	notifier := &fakeNotifier{}
	svc := NewService(slog.Default(), repo, fakeStores{method: method, email: "estoque@loja.example"}, nil, nil, notifier, nil, ServiceConfig{})
	return svc, repo, notifier
}

func requirePositionMatchesBatches(t *testing.T, repo *memoryRepo, productID, storeID int64) {
	t.Helper()
	var sum int64
	for _, b := range repo.batches {
		if b.ProductID == productID && b.StoreID == storeID {
			sum += b.Quantity
		}
	}
	pos, ok := repo.positions[key(productID, storeID)]
	require.True(t, ok, "position missing")
	require.Equal(t, sum, pos.Quantity, "position diverged from batch totals")
}

func TestCreateEntryRecomputesAverageCost(t *testing.T) {
	svc, repo, _ := newTestService(MethodAverageCost)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 200, BatchNumber: "L1"})
	require.NoError(t, err)
	require.Equal(t, int64(200), repo.avgCost[1])

	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 250, BatchNumber: "L2"})
	require.NoError(t, err)
	require.Equal(t, int64(225), repo.avgCost[1])

	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 280, BatchNumber: "L3"})
	require.NoError(t, err)
	require.Equal(t, int64(243), repo.avgCost[1])

	require.Equal(t, int64(30), repo.positions[key(1, 1)].Quantity)
	require.Len(t, repo.movements, 3)
	requirePositionMatchesBatches(t, repo, 1, 1)
}

func TestCreateEntryValidation(t *testing.T) {
	svc, _, _ := newTestService(MethodFIFO)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 0, UnitCost: 100})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 1, UnitCost: -1})
	require.ErrorIs(t, err, ErrInvalidUnitCost)

	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 5, UnitCost: 100, BatchNumber: "L1"})
	require.NoError(t, err)
	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 5, UnitCost: 100, BatchNumber: "L1"})
	require.ErrorIs(t, err, ErrDuplicateBatchNumber)
}

func seedThreeLots(t *testing.T, svc *Service) time.Time {
	t.Helper()
	ctx := context.Background()
	day := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	lots := []struct {
		number string
		cost   int64
		date   time.Time
	}{
		{"L1", 200, day},
		{"L2", 250, day.Add(24 * time.Hour)},
		{"L3", 280, day.Add(48 * time.Hour)},
	}
	for _, lot := range lots {
		_, err := svc.CreateEntry(ctx, EntryInput{
			ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: lot.cost,
			BatchNumber: lot.number, EntryDate: lot.date,
		})
		require.NoError(t, err)
	}
	return day
}

func TestWithdrawFIFODeterminism(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()
	seedThreeLots(t, svc)

	result, err := svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 15, Reason: "sale"})
	require.NoError(t, err)

	require.Equal(t, int64(3250), result.TotalCost)
	require.Len(t, result.Lines, 2)
	require.Equal(t, "L1", result.Lines[0].BatchNumber)
	require.Equal(t, int64(10), result.Lines[0].Quantity)
	require.Equal(t, int64(200), result.Lines[0].UnitCost)
	require.Equal(t, "L2", result.Lines[1].BatchNumber)
	require.Equal(t, int64(5), result.Lines[1].Quantity)
	require.Equal(t, int64(250), result.Lines[1].UnitCost)

	require.Equal(t, int64(15), repo.positions[key(1, 1)].Quantity)
	var remainingValue int64
	for _, b := range repo.batches {
		remainingValue += b.Quantity * b.UnitCost
	}
	require.Equal(t, int64(4050), remainingValue)
	requirePositionMatchesBatches(t, repo, 1, 1)
}

func TestWithdrawAverageCost(t *testing.T) {
	svc, repo, _ := newTestService(MethodAverageCost)
	ctx := context.Background()
	seedThreeLots(t, svc)
	require.Equal(t, int64(243), repo.avgCost[1])

	result, err := svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 15, Reason: "sale"})
	require.NoError(t, err)

	require.Equal(t, int64(15*243), result.TotalCost)
	for _, line := range result.Lines {
		require.Equal(t, int64(243), line.UnitCost)
	}
	// Physical depletion still walks the oldest lots first.
	require.Equal(t, int64(0), repo.batches[0].Quantity)
	require.Equal(t, int64(5), repo.batches[1].Quantity)
	require.Equal(t, int64(10), repo.batches[2].Quantity)
	// Withdrawals never move the rolling average.
	require.Equal(t, int64(243), repo.avgCost[1])
	requirePositionMatchesBatches(t, repo, 1, 1)
}

func TestWithdrawInsufficientLeavesStateUnchanged(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 5, UnitCost: 100, BatchNumber: "L1"})
	require.NoError(t, err)
	movementsBefore := len(repo.movements)

	_, err = svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 10, Reason: "sale"})
	require.ErrorIs(t, err, ErrInsufficientStock)

	require.Equal(t, int64(5), repo.positions[key(1, 1)].Quantity)
	require.Equal(t, int64(5), repo.batches[0].Quantity)
	require.Len(t, repo.movements, movementsBefore)

	_, err = svc.Withdraw(ctx, WithdrawalInput{ProductID: 9, StoreID: 1, Quantity: 1, Reason: "sale"})
	require.ErrorIs(t, err, ErrInsufficientStock)
}

func TestAdjustments(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()

	err := svc.Adjust(ctx, AdjustmentInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 150, Reason: "inventário inicial"})
	require.NoError(t, err)
	require.Equal(t, int64(10), repo.positions[key(1, 1)].Quantity)
	require.Equal(t, int64(150), repo.avgCost[1])

	err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, StoreID: 1, Quantity: -4, Reason: "quebra"})
	require.NoError(t, err)
	require.Equal(t, int64(6), repo.positions[key(1, 1)].Quantity)

	adjustments, err := svc.QueryMovements(ctx, MovementFilter{ProductID: 1, Type: MovementAdjustment})
	require.NoError(t, err)
	require.Len(t, adjustments, 2)
	requirePositionMatchesBatches(t, repo, 1, 1)

	err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, StoreID: 1, Quantity: 0, Reason: "noop"})
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestLedgerReconstructsPosition(t *testing.T) {
	svc, repo, _ := newTestService(MethodFIFO)
	ctx := context.Background()
	seedThreeLots(t, svc)

	_, err := svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 12, Reason: "sale"})
	require.NoError(t, err)
	err = svc.Adjust(ctx, AdjustmentInput{ProductID: 1, StoreID: 1, Quantity: -3, Reason: "quebra"})
	require.NoError(t, err)

	movements, err := svc.QueryMovements(ctx, MovementFilter{ProductID: 1, StoreID: 1})
	require.NoError(t, err)
	var sum int64
	for _, m := range movements {
		sum += m.Quantity
	}
	require.Equal(t, repo.positions[key(1, 1)].Quantity, sum)
}

func TestLowStockSignalOncePerCrossing(t *testing.T) {
	svc, repo, notifier := newTestService(MethodFIFO)
	ctx := context.Background()

	_, err := svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 100, BatchNumber: "L1"})
	require.NoError(t, err)
	pos := repo.positions[key(1, 1)]
	pos.MinStock = 5
	repo.positions[key(1, 1)] = pos

	// Crossing from 10 to 4 fires exactly once.
	_, err = svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 6, Reason: "sale"})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)
	require.Equal(t, int64(4), notifier.events[0].Quantity)
	require.Equal(t, int64(5), notifier.events[0].MinStock)
	require.Equal(t, "estoque@loja.example", notifier.events[0].Email)

	// Already below threshold: no storm.
	_, err = svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 1, Reason: "sale"})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)

	// Replenishment never signals.
	_, err = svc.CreateEntry(ctx, EntryInput{ProductID: 1, StoreID: 1, Quantity: 20, UnitCost: 100, BatchNumber: "L2"})
	require.NoError(t, err)
	require.Len(t, notifier.events, 1)

	// A fresh downward crossing fires again.
	_, err = svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 20, Reason: "sale"})
	require.NoError(t, err)
	require.Len(t, notifier.events, 2)
}

func TestListBatchesClassification(t *testing.T) {
	svc, _, _ := newTestService(MethodFIFO)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return now })

	past := now.Add(-24 * time.Hour)
	soon := now.Add(10 * 24 * time.Hour)
	far := now.Add(90 * 24 * time.Hour)
	for i, expiry := range []*time.Time{&past, &soon, &far, nil} {
		_, err := svc.CreateEntry(ctx, EntryInput{
			ProductID: 1, StoreID: 1, Quantity: 10, UnitCost: 100,
			BatchNumber: fmt.Sprintf("L%d", i+1), ExpiryDate: expiry,
		})
		require.NoError(t, err)
	}
	_, err := svc.Withdraw(ctx, WithdrawalInput{ProductID: 1, StoreID: 1, Quantity: 10, Reason: "deplete L1"})
	require.NoError(t, err)

	views, err := svc.ListBatches(ctx, BatchFilter{ProductID: 1, StoreID: 1, IncludeDepleted: true})
	require.NoError(t, err)
	require.Len(t, views, 4)
	require.Equal(t, BatchDepleted, views[0].BatchStatus)
	require.Equal(t, BatchExpiring, views[1].BatchStatus)
	require.Equal(t, BatchActive, views[2].BatchStatus)
	require.Equal(t, BatchActive, views[3].BatchStatus)

	expiring, err := svc.ListBatches(ctx, BatchFilter{ProductID: 1, StoreID: 1, Status: BatchExpiring})
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	require.Equal(t, "L2", expiring[0].BatchNumber)
}
