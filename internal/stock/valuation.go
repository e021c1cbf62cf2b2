package stock

import (
	"context"
)

// Strategy answers "what did this withdrawal cost?". Both strategies deplete
// batches in the same physical FIFO order so expiry and traceability stay
// correct; they differ only in the cost attached to each movement line.
type Strategy interface {
	Method() ValuationMethod
	Withdraw(ctx context.Context, tx TxRepository, in WithdrawalInput, movementType MovementType) (WithdrawalResult, error)
}

// ForMethod returns the strategy configured for a store.
func ForMethod(method ValuationMethod) (Strategy, error) {
	switch method {
	case MethodFIFO:
		return fifoStrategy{}, nil
	case MethodAverageCost:
		return averageCostStrategy{}, nil
	default:
		return nil, ErrUnknownValuationMethod
	}
}

type fifoStrategy struct{}

func (fifoStrategy) Method() ValuationMethod { return MethodFIFO }

// Withdraw consumes the oldest non-depleted batches first and prices every
// movement line at the consumed batch's own unit cost.
func (fifoStrategy) Withdraw(ctx context.Context, tx TxRepository, in WithdrawalInput, movementType MovementType) (WithdrawalResult, error) {
	lines, err := depleteFIFO(ctx, tx, in, movementType, nil)
	if err != nil {
		return WithdrawalResult{}, err
	}
	result := WithdrawalResult{Lines: lines, Quantity: in.Quantity, Method: MethodFIFO}
	for _, line := range lines {
		result.TotalCost += line.Quantity * line.UnitCost
	}
	return result, nil
}

type averageCostStrategy struct{}

func (averageCostStrategy) Method() ValuationMethod { return MethodAverageCost }

// Withdraw depletes batches in FIFO physical order but overwrites every line's
// unit cost with the product's current rolling average, so CMV is
// qty * averageCost regardless of which lot was touched.
func (averageCostStrategy) Withdraw(ctx context.Context, tx TxRepository, in WithdrawalInput, movementType MovementType) (WithdrawalResult, error) {
	averageCost, err := tx.GetProductAverageCost(ctx, in.ProductID)
	if err != nil {
		return WithdrawalResult{}, err
	}
	lines, err := depleteFIFO(ctx, tx, in, movementType, &averageCost)
	if err != nil {
		return WithdrawalResult{}, err
	}
	return WithdrawalResult{
		Lines:     lines,
		Quantity:  in.Quantity,
		TotalCost: in.Quantity * averageCost,
		Method:    MethodAverageCost,
	}, nil
}

// depleteFIFO walks the product's batches oldest first, decrementing each and
// appending one movement per batch touched. The candidate set is locked up
// front and the total is checked before any batch changes, so the withdrawal
// is all-or-nothing. costOverride, when set, replaces the batch unit cost on
// every recorded line.
func depleteFIFO(ctx context.Context, tx TxRepository, in WithdrawalInput, movementType MovementType, costOverride *int64) ([]WithdrawalLine, error) {
	batches, err := tx.ListBatchesForWithdrawal(ctx, in.ProductID, in.StoreID)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, b := range batches {
		total += b.Quantity
	}
	if total < in.Quantity {
		return nil, ErrInsufficientStock
	}

	remaining := in.Quantity
	lines := make([]WithdrawalLine, 0, 2)
	for _, batch := range batches {
		if remaining == 0 {
			break
		}
		take := batch.Quantity
		if take > remaining {
			take = remaining
		}
		if err := tx.DecrementBatch(ctx, batch.ID, take); err != nil {
			return nil, err
		}
		unitCost := batch.UnitCost
		if costOverride != nil {
			unitCost = *costOverride
		}
		batchID := batch.ID
		movement := Movement{
			ProductID: in.ProductID,
			StoreID:   in.StoreID,
			BatchID:   &batchID,
			Type:      movementType,
			Quantity:  -take,
			UnitCost:  &unitCost,
			Reason:    in.Reason,
			OrderRef:  in.OrderRef,
			ActorID:   in.ActorID,
		}
		if _, err := tx.InsertMovement(ctx, movement); err != nil {
			return nil, err
		}
		lines = append(lines, WithdrawalLine{
			BatchID:     batch.ID,
			BatchNumber: batch.BatchNumber,
			Quantity:    take,
			UnitCost:    unitCost,
		})
		remaining -= take
	}
	return lines, nil
}

// weightedAverage recomputes the rolling per-product cost on a stock entry.
// Integer cents with half-up rounding; when nothing is on hand the entered
// cost becomes the new average.
func weightedAverage(currentQty, currentAvg, enteredQty, enteredCost int64) int64 {
	if currentQty <= 0 {
		return enteredCost
	}
	num := currentQty*currentAvg + enteredQty*enteredCost
	den := currentQty + enteredQty
	return (num + den/2) / den
}
