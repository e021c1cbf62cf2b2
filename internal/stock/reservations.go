package stock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// CheckAvailability computes what checkout may still claim:
// physical quantity minus active, non-expired holds.
func (s *Service) CheckAvailability(ctx context.Context, productID, storeID int64) (int64, error) {
	pos, err := s.repo.GetPosition(ctx, productID, storeID)
	if err != nil {
		if errors.Is(err, ErrPositionNotFound) {
			return 0, nil
		}
		return 0, err
	}
	reserved, err := s.repo.SumActiveReservations(ctx, productID, storeID, s.now())
	if err != nil {
		return 0, err
	}
	return pos.Quantity - reserved, nil
}

// CreateReservation places a hold on available stock. The availability check
// and the insert run under the position row lock so two concurrent checkouts
// cannot jointly over-commit the same stock.
func (s *Service) CreateReservation(ctx context.Context, productID, storeID, quantity int64, orderRef string) (Reservation, error) {
	if productID == 0 || storeID == 0 {
		return Reservation{}, fmt.Errorf("%w: product and store required", ErrInvalidQuantity)
	}
	if quantity <= 0 {
		return Reservation{}, ErrInvalidQuantity
	}
	if err := validOrderRef(orderRef); err != nil {
		return Reservation{}, err
	}
	now := s.now().UTC()
	var reservation Reservation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		pos, err := tx.GetPositionForUpdate(ctx, productID, storeID)
		if err != nil {
			if errors.Is(err, ErrPositionNotFound) {
				return ErrInsufficientStock
			}
			return err
		}
		reserved, err := tx.SumActiveReservations(ctx, productID, storeID, now)
		if err != nil {
			return err
		}
		if pos.Quantity-reserved < quantity {
			return ErrInsufficientStock
		}
		reservation = Reservation{
			ProductID: productID,
			StoreID:   storeID,
			OrderRef:  orderRef,
			Quantity:  quantity,
			Status:    ReservationActive,
			ExpiresAt: now.Add(s.ttl),
			CreatedAt: now,
		}
		id, err := tx.InsertReservation(ctx, reservation)
		if err != nil {
			return err
		}
		reservation.ID = id
		return nil
	})
	if err != nil {
		return Reservation{}, err
	}
	s.invalidateSnapshot(ctx, productID, storeID)
	return reservation, nil
}

// CompleteReservation converts an active hold into a permanent withdrawal
// priced by the store's valuation method. A hold past its deadline is moved to
// expired and the completion fails.
func (s *Service) CompleteReservation(ctx context.Context, reservationID int64, orderRef string) (WithdrawalResult, error) {
	if err := validOrderRef(orderRef); err != nil {
		return WithdrawalResult{}, err
	}
	now := s.now().UTC()
	var result WithdrawalResult
	var productID, storeID int64
	var crossed bool
	var postQty, minStock int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		if res.Status != ReservationActive {
			return fmt.Errorf("%w: %s", ErrInvalidState, res.Status)
		}
		if !res.ExpiresAt.After(now) {
			if err := tx.UpdateReservationStatus(ctx, res.ID, ReservationExpired, now, ""); err != nil {
				return err
			}
			return ErrReservationExpired
		}
		productID, storeID = res.ProductID, res.StoreID

		store, err := s.stores.StoreConfig(ctx, storeID)
		if err != nil {
			return err
		}
		strategy, err := ForMethod(store.ValuationMethod)
		if err != nil {
			return err
		}

		pos, err := tx.GetPositionForUpdate(ctx, productID, storeID)
		if err != nil {
			if errors.Is(err, ErrPositionNotFound) {
				return ErrInsufficientStock
			}
			return err
		}
		result, err = strategy.Withdraw(ctx, tx, WithdrawalInput{
			ProductID: productID,
			StoreID:   storeID,
			Quantity:  res.Quantity,
			Reason:    "sale",
			OrderRef:  orderRef,
		}, MovementSale)
		if err != nil {
			return err
		}
		preQty := pos.Quantity
		pos.Quantity -= res.Quantity
		if err := tx.UpsertPosition(ctx, pos); err != nil {
			return err
		}
		crossed = preQty > pos.MinStock && pos.Quantity <= pos.MinStock
		postQty = pos.Quantity
		minStock = pos.MinStock
		return tx.UpdateReservationStatus(ctx, res.ID, ReservationCompleted, now, orderRef)
	})
	if err != nil {
		// The auto-expiry transition above was rolled back with everything
		// else; repeat it in its own transaction so the terminal state sticks.
		if errors.Is(err, ErrReservationExpired) {
			if _, sweepErr := s.repo.ExpireReservations(ctx, now); sweepErr != nil {
				s.logger.Warn("expire on failed completion", slog.Any("error", sweepErr))
			}
		}
		return WithdrawalResult{}, err
	}

	s.invalidateSnapshot(ctx, productID, storeID)
	if crossed {
		s.emitLowStock(ctx, productID, storeID, postQty, minStock)
	}
	return result, nil
}

// CancelReservation releases a hold. Cancelling an active hold frees the claim
// with nothing to undo physically. Cancelling a completed hold compensates:
// stock returns in a new batch and a positive sale_cancellation movement is
// appended to the ledger.
func (s *Service) CancelReservation(ctx context.Context, reservationID int64) error {
	now := s.now().UTC()
	var productID, storeID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		res, err := tx.GetReservationForUpdate(ctx, reservationID)
		if err != nil {
			return err
		}
		productID, storeID = res.ProductID, res.StoreID
		switch res.Status {
		case ReservationActive:
			return tx.UpdateReservationStatus(ctx, res.ID, ReservationCancelled, now, "")
		case ReservationCompleted:
			return s.compensateCompleted(ctx, tx, res, now)
		default:
			return fmt.Errorf("%w: %s", ErrInvalidState, res.Status)
		}
	})
	if err != nil {
		return err
	}
	s.invalidateSnapshot(ctx, productID, storeID)
	return nil
}

// compensateCompleted restores the reservation's quantity. The returned stock
// re-enters as a batch priced at the product's current average cost; the
// average itself is not recomputed because sale cancellations are not entries.
func (s *Service) compensateCompleted(ctx context.Context, tx TxRepository, res Reservation, now time.Time) error {
	pos, err := tx.GetPositionForUpdate(ctx, res.ProductID, res.StoreID)
	if err != nil && !errors.Is(err, ErrPositionNotFound) {
		return err
	}
	unitCost, err := tx.GetProductAverageCost(ctx, res.ProductID)
	if err != nil {
		return err
	}
	batch := Batch{
		ProductID:       res.ProductID,
		StoreID:         res.StoreID,
		BatchNumber:     fmt.Sprintf("DEV-%d", res.ID),
		Quantity:        res.Quantity,
		InitialQuantity: res.Quantity,
		UnitCost:        unitCost,
		EntryDate:       now,
		Notes:           "sale cancellation return",
		CreatedAt:       now,
	}
	batchID, err := tx.InsertBatch(ctx, batch)
	if err != nil {
		return err
	}
	pos.Quantity += res.Quantity
	if err := tx.UpsertPosition(ctx, pos); err != nil {
		return err
	}
	if _, err := tx.InsertMovement(ctx, Movement{
		ProductID: res.ProductID,
		StoreID:   res.StoreID,
		BatchID:   &batchID,
		Type:      MovementSaleCancellation,
		Quantity:  res.Quantity,
		UnitCost:  &unitCost,
		Reason:    "sale cancellation",
		OrderRef:  res.OrderRef,
	}); err != nil {
		return err
	}
	return tx.UpdateReservationStatus(ctx, res.ID, ReservationCancelled, now, "")
}

// GetReservation loads a reservation by id.
func (s *Service) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

func validOrderRef(orderRef string) error {
	if orderRef == "" {
		return nil
	}
	if _, err := uuid.Parse(orderRef); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidOrderRef, orderRef)
	}
	return nil
}

// SweepExpired transitions overdue active holds to expired. It runs
// periodically from the worker and is idempotent: sweeping twice over the same
// rows is a no-op.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	count, err := s.repo.ExpireReservations(ctx, now)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		s.logger.Info("expired reservations swept", slog.Int64("count", count))
	}
	return count, nil
}
