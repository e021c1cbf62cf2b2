package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/varejo-erp/varejo-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, error)
	ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error)
	GetBatch(ctx context.Context, id int64) (Batch, error)
	GetPosition(ctx context.Context, productID, storeID int64) (Position, error)
	ListPositions(ctx context.Context, storeID int64) ([]Position, error)
	GetReservation(ctx context.Context, id int64) (Reservation, error)
	SumActiveReservations(ctx context.Context, productID, storeID int64, now time.Time) (int64, error)
	ExpireReservations(ctx context.Context, now time.Time) (int64, error)
}

// StoreDirectory resolves store configuration. The valuation method and the
// low-stock recipient are configuration and never change mid-transaction.
type StoreDirectory interface {
	StoreConfig(ctx context.Context, storeID int64) (StoreConfig, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// DefaultReservationTTL is applied when configuration leaves the TTL unset.
const DefaultReservationTTL = 15 * time.Minute

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	ReservationTTL time.Duration
}

// Service coordinates the stock ledger, batch store, valuation engine,
// reservation manager and position aggregator.
type Service struct {
	logger      *slog.Logger
	repo        RepositoryPort
	stores      StoreDirectory
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	notifier    Notifier
	cache       *PositionCache
	ttl         time.Duration
	now         func() time.Time
}

// NewService builds Service. Audit, idempotency, notifier and cache are
// optional.
func NewService(logger *slog.Logger, repo RepositoryPort, stores StoreDirectory, audit AuditPort, idem *shared.IdempotencyStore, notifier Notifier, cache *PositionCache, cfg ServiceConfig) *Service {
	ttl := cfg.ReservationTTL
	if ttl <= 0 {
		ttl = DefaultReservationTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		logger:      logger,
		repo:        repo,
		stores:      stores,
		audit:       audit,
		idempotency: idem,
		notifier:    notifier,
		cache:       cache,
		ttl:         ttl,
		now:         time.Now,
	}
}

// WithNow overrides the service clock for testing.
func (s *Service) WithNow(fn func() time.Time) {
	if fn != nil {
		s.now = fn
	}
}

// CreateEntry receives stock into a new batch, recomputes the product's
// rolling average cost and appends an entry movement. The entry date comes
// from the source document, not from the import time.
func (s *Service) CreateEntry(ctx context.Context, in EntryInput) (Batch, error) {
	if in.ProductID == 0 || in.StoreID == 0 {
		return Batch{}, fmt.Errorf("%w: product and store required", ErrInvalidQuantity)
	}
	if in.Quantity <= 0 {
		return Batch{}, ErrInvalidQuantity
	}
	if in.UnitCost < 0 {
		return Batch{}, ErrInvalidUnitCost
	}
	now := s.now().UTC()
	entryDate := in.EntryDate
	if entryDate.IsZero() {
		entryDate = now
	}
	batchNumber := in.BatchNumber
	if batchNumber == "" {
		batchNumber = fmt.Sprintf("LOTE-%d", now.UnixNano())
	}

	insertedKey := false
	if s.idempotency != nil && in.IdempotencyKey != "" {
		if err := s.idempotency.CheckAndInsert(ctx, in.IdempotencyKey, "stock"); err != nil {
			return Batch{}, err
		}
		insertedKey = true
	}

	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, in.ProductID, in.StoreID)
		if err != nil && !errors.Is(err, ErrPositionNotFound) {
			return err
		}

		batch = Batch{
			ProductID:       in.ProductID,
			StoreID:         in.StoreID,
			BatchNumber:     batchNumber,
			Quantity:        in.Quantity,
			InitialQuantity: in.Quantity,
			UnitCost:        in.UnitCost,
			EntryDate:       entryDate,
			ExpiryDate:      in.ExpiryDate,
			Supplier:        in.Supplier,
			Notes:           in.Notes,
			CreatedAt:       now,
		}
		batchID, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = batchID

		currentAvg, err := tx.GetProductAverageCost(ctx, in.ProductID)
		if err != nil {
			return err
		}
		newAvg := weightedAverage(pos.Quantity, currentAvg, in.Quantity, in.UnitCost)
		if err := tx.UpdateProductAverageCost(ctx, in.ProductID, newAvg); err != nil {
			return err
		}

		pos.Quantity += in.Quantity
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}

		unitCost := in.UnitCost
		movement := Movement{
			ProductID: in.ProductID,
			StoreID:   in.StoreID,
			BatchID:   &batch.ID,
			Type:      MovementEntry,
			Quantity:  in.Quantity,
			UnitCost:  &unitCost,
			Reason:    "stock entry",
			ActorID:   in.ActorID,
			Notes:     in.Notes,
		}
		_, err = tx.InsertMovement(ctx, movement)
		return err
	})
	if err != nil {
		if insertedKey {
			_ = s.idempotency.Delete(ctx, in.IdempotencyKey)
		}
		return Batch{}, err
	}

	s.invalidateSnapshot(ctx, in.ProductID, in.StoreID)
	s.recordAudit(ctx, in.ActorID, "stock:entry", in.ProductID, in.StoreID, map[string]any{
		"batch_number": batchNumber,
		"quantity":     in.Quantity,
		"unit_cost":    in.UnitCost,
	})
	return batch, nil
}

// Withdraw removes stock from the oldest batches, priced by the store's
// valuation method, as a manual exit.
func (s *Service) Withdraw(ctx context.Context, in WithdrawalInput) (WithdrawalResult, error) {
	return s.withdraw(ctx, in, MovementExit)
}

func (s *Service) withdraw(ctx context.Context, in WithdrawalInput, movementType MovementType) (WithdrawalResult, error) {
	if in.ProductID == 0 || in.StoreID == 0 {
		return WithdrawalResult{}, fmt.Errorf("%w: product and store required", ErrInvalidQuantity)
	}
	if in.Quantity <= 0 {
		return WithdrawalResult{}, ErrInvalidQuantity
	}
	strategy, err := s.strategyFor(ctx, in.StoreID)
	if err != nil {
		return WithdrawalResult{}, err
	}

	var result WithdrawalResult
	var crossed bool
	var postQty, minStock int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, in.ProductID, in.StoreID)
		if err != nil {
			if errors.Is(err, ErrPositionNotFound) {
				return ErrInsufficientStock
			}
			return err
		}
		result, err = strategy.Withdraw(ctx, tx, in, movementType)
		if err != nil {
			return err
		}
		preQty := pos.Quantity
		pos.Quantity -= in.Quantity
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}
		crossed = preQty > pos.MinStock && pos.Quantity <= pos.MinStock
		postQty = pos.Quantity
		minStock = pos.MinStock
		return nil
	})
	if err != nil {
		return WithdrawalResult{}, err
	}

	s.invalidateSnapshot(ctx, in.ProductID, in.StoreID)
	if crossed {
		s.emitLowStock(ctx, in.ProductID, in.StoreID, postQty, minStock)
	}
	s.recordAudit(ctx, in.ActorID, fmt.Sprintf("stock:%s", movementType), in.ProductID, in.StoreID, map[string]any{
		"quantity": in.Quantity,
		"cmv":      result.TotalCost,
		"reason":   in.Reason,
	})
	return result, nil
}

// Adjust posts a signed manual correction. Positive adjustments create an
// adjustment batch; negative adjustments deplete batches in FIFO order. Both
// record adjustment movements.
func (s *Service) Adjust(ctx context.Context, in AdjustmentInput) error {
	if in.Quantity == 0 {
		return ErrInvalidQuantity
	}
	if in.Quantity > 0 {
		if in.UnitCost < 0 {
			return ErrInvalidUnitCost
		}
		now := s.now().UTC()
		_, err := s.createAdjustmentEntry(ctx, in, now)
		return err
	}
	_, err := s.withdraw(ctx, WithdrawalInput{
		ProductID: in.ProductID,
		StoreID:   in.StoreID,
		Quantity:  -in.Quantity,
		Reason:    in.Reason,
		ActorID:   in.ActorID,
	}, MovementAdjustment)
	return err
}

func (s *Service) createAdjustmentEntry(ctx context.Context, in AdjustmentInput, now time.Time) (Batch, error) {
	var batch Batch
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, in.ProductID, in.StoreID)
		if err != nil && !errors.Is(err, ErrPositionNotFound) {
			return err
		}
		batch = Batch{
			ProductID:       in.ProductID,
			StoreID:         in.StoreID,
			BatchNumber:     fmt.Sprintf("AJU-%d", now.UnixNano()),
			Quantity:        in.Quantity,
			InitialQuantity: in.Quantity,
			UnitCost:        in.UnitCost,
			EntryDate:       now,
			Notes:           in.Notes,
			CreatedAt:       now,
		}
		batchID, err := tx.InsertBatch(ctx, batch)
		if err != nil {
			return err
		}
		batch.ID = batchID

		currentAvg, err := tx.GetProductAverageCost(ctx, in.ProductID)
		if err != nil {
			return err
		}
		newAvg := weightedAverage(pos.Quantity, currentAvg, in.Quantity, in.UnitCost)
		if err := tx.UpdateProductAverageCost(ctx, in.ProductID, newAvg); err != nil {
			return err
		}

		pos.Quantity += in.Quantity
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}
		unitCost := in.UnitCost
		_, err = tx.InsertMovement(ctx, Movement{
			ProductID: in.ProductID,
			StoreID:   in.StoreID,
			BatchID:   &batch.ID,
			Type:      MovementAdjustment,
			Quantity:  in.Quantity,
			UnitCost:  &unitCost,
			Reason:    in.Reason,
			ActorID:   in.ActorID,
			Notes:     in.Notes,
		})
		return err
	})
	if err != nil {
		return Batch{}, err
	}
	s.invalidateSnapshot(ctx, in.ProductID, in.StoreID)
	s.recordAudit(ctx, in.ActorID, "stock:adjustment", in.ProductID, in.StoreID, map[string]any{
		"quantity": in.Quantity,
		"reason":   in.Reason,
	})
	return batch, nil
}

// QueryMovements lists ledger entries, newest first.
func (s *Service) QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	return s.repo.QueryMovements(ctx, filter)
}

// BatchView pairs a batch with its derived status.
type BatchView struct {
	Batch
	BatchStatus BatchStatus `json:"status"`
}

// ListBatches lists batches with their derived expiry classification,
// optionally filtered to a single status.
func (s *Service) ListBatches(ctx context.Context, filter BatchFilter) ([]BatchView, error) {
	if filter.Status == BatchDepleted {
		filter.IncludeDepleted = true
	}
	batches, err := s.repo.ListBatches(ctx, filter)
	if err != nil {
		return nil, err
	}
	now := s.now()
	views := make([]BatchView, 0, len(batches))
	for _, b := range batches {
		status := b.Status(now)
		if filter.Status != "" && status != filter.Status {
			continue
		}
		views = append(views, BatchView{Batch: b, BatchStatus: status})
	}
	return views, nil
}

func (s *Service) strategyFor(ctx context.Context, storeID int64) (Strategy, error) {
	store, err := s.stores.StoreConfig(ctx, storeID)
	if err != nil {
		return nil, err
	}
	return ForMethod(store.ValuationMethod)
}

func (s *Service) recordAudit(ctx context.Context, actorID int64, action string, productID, storeID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	meta["store_id"] = storeID
	if err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "stock",
		EntityID: fmt.Sprintf("%d:%d", productID, storeID),
		Meta:     meta,
	}); err != nil {
		s.logger.Warn("audit record failed", slog.Any("error", err))
	}
}

// emitLowStock fires the threshold-crossing signal. Delivery failures are
// logged and never affect the committed stock mutation.
func (s *Service) emitLowStock(ctx context.Context, productID, storeID, quantity, minStock int64) {
	if s.notifier == nil {
		return
	}
	store, err := s.stores.StoreConfig(ctx, storeID)
	if err != nil {
		s.logger.Warn("low stock: store lookup failed", slog.Int64("store_id", storeID), slog.Any("error", err))
		return
	}
	event := LowStockEvent{
		ProductID:  productID,
		StoreID:    storeID,
		StoreName:  store.Name,
		Email:      store.MinStockEmail,
		Quantity:   quantity,
		MinStock:   minStock,
		OccurredAt: s.now().UTC(),
	}
	if err := s.notifier.NotifyLowStock(ctx, event); err != nil {
		s.logger.Warn("low stock notification failed",
			slog.Int64("product_id", productID),
			slog.Int64("store_id", storeID),
			slog.Any("error", err))
	}
}
