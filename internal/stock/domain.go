package stock

import (
	"errors"
	"time"
)

// ValuationMethod selects how withdrawals are priced for a store.
type ValuationMethod string

const (
	// MethodFIFO prices each withdrawal line at the consumed batch's own unit cost.
	MethodFIFO ValuationMethod = "fifo"
	// MethodAverageCost prices every withdrawal line at the product's rolling average cost.
	MethodAverageCost ValuationMethod = "average_cost"
)

// MovementType enumerates supported ledger movements.
type MovementType string

const (
	// MovementEntry represents stock received into a new batch.
	MovementEntry MovementType = "entry"
	// MovementExit represents a manual outbound withdrawal.
	MovementExit MovementType = "exit"
	// MovementAdjustment represents a manual correction, positive or negative.
	MovementAdjustment MovementType = "adjustment"
	// MovementSale represents stock withdrawn by a completed sale.
	MovementSale MovementType = "sale"
	// MovementSaleCancellation represents stock restored by cancelling a completed sale.
	MovementSaleCancellation MovementType = "sale_cancellation"
)

// ReservationStatus tracks the hold lifecycle. Terminal states are final.
type ReservationStatus string

const (
	ReservationActive    ReservationStatus = "active"
	ReservationCompleted ReservationStatus = "completed"
	ReservationCancelled ReservationStatus = "cancelled"
	ReservationExpired   ReservationStatus = "expired"
)

// BatchStatus is derived from quantity and expiry date, never persisted.
type BatchStatus string

const (
	BatchActive   BatchStatus = "active"
	BatchExpiring BatchStatus = "expiring"
	BatchExpired  BatchStatus = "expired"
	BatchDepleted BatchStatus = "depleted"
)

// ExpiringWindow is how far ahead a batch counts as expiring.
const ExpiringWindow = 30 * 24 * time.Hour

// PositionStatus summarises a position against its thresholds.
type PositionStatus string

const (
	PositionCritical PositionStatus = "critical"
	PositionLow      PositionStatus = "low"
	PositionOK       PositionStatus = "ok"
)

// Batch is a discrete lot of a product received at one time at one unit cost.
// Quantity only decreases via withdrawals and never goes negative; depleted
// batches are retained for traceability.
type Batch struct {
	ID              int64      `json:"id"`
	ProductID       int64      `json:"product_id"`
	StoreID         int64      `json:"store_id"`
	BatchNumber     string     `json:"batch_number"`
	Quantity        int64      `json:"quantity"`
	InitialQuantity int64      `json:"initial_quantity"`
	UnitCost        int64      `json:"unit_cost"`
	EntryDate       time.Time  `json:"entry_date"`
	ExpiryDate      *time.Time `json:"expiry_date,omitempty"`
	Supplier        string     `json:"supplier,omitempty"`
	Notes           string     `json:"notes,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Status classifies the batch relative to now.
func (b Batch) Status(now time.Time) BatchStatus {
	if b.Quantity == 0 {
		return BatchDepleted
	}
	if b.ExpiryDate != nil {
		if b.ExpiryDate.Before(now) {
			return BatchExpired
		}
		if b.ExpiryDate.Before(now.Add(ExpiringWindow)) {
			return BatchExpiring
		}
	}
	return BatchActive
}

// Movement is one immutable ledger entry. Corrections are new compensating
// entries, never edits.
type Movement struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	StoreID   int64        `json:"store_id"`
	BatchID   *int64       `json:"batch_id,omitempty"`
	Type      MovementType `json:"type"`
	Quantity  int64        `json:"quantity"`
	UnitCost  *int64       `json:"unit_cost,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	OrderRef  string       `json:"order_ref,omitempty"`
	ActorID   int64        `json:"actor_id,omitempty"`
	Notes     string       `json:"notes,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// Position is the physical quantity of a product at a store. After every
// committed transaction it equals the sum of the store's batch quantities.
type Position struct {
	ID        int64     `json:"id"`
	ProductID int64     `json:"product_id"`
	StoreID   int64     `json:"store_id"`
	Quantity  int64     `json:"quantity"`
	MinStock  int64     `json:"min_stock"`
	MaxStock  int64     `json:"max_stock"`
	Location  string    `json:"location,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Reservation is a temporary claim against available stock. It does not move
// physical stock until completed.
type Reservation struct {
	ID          int64             `json:"id"`
	ProductID   int64             `json:"product_id"`
	StoreID     int64             `json:"store_id"`
	OrderRef    string            `json:"order_ref,omitempty"`
	Quantity    int64             `json:"quantity"`
	Status      ReservationStatus `json:"status"`
	ExpiresAt   time.Time         `json:"expires_at"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Snapshot is the read view served to catalog and checkout.
type Snapshot struct {
	ProductID int64          `json:"product_id"`
	StoreID   int64          `json:"store_id"`
	Quantity  int64          `json:"quantity"`
	Reserved  int64          `json:"reserved"`
	Available int64          `json:"available"`
	MinStock  int64          `json:"min_stock"`
	MaxStock  int64          `json:"max_stock"`
	Status    PositionStatus `json:"status"`
}

// StatusFor derives the position status from quantity and threshold.
func StatusFor(quantity, minStock int64) PositionStatus {
	switch {
	case quantity <= 0:
		return PositionCritical
	case quantity <= minStock:
		return PositionLow
	default:
		return PositionOK
	}
}

// MovementFilter narrows ledger queries. Zero fields are ignored.
type MovementFilter struct {
	ProductID int64
	StoreID   int64
	Type      MovementType
	From      time.Time
	To        time.Time
	Limit     int
}

// BatchFilter narrows batch listings.
type BatchFilter struct {
	ProductID       int64
	StoreID         int64
	IncludeDepleted bool
	Status          BatchStatus
	Limit           int
}

// EntryInput describes a stock entry creating a new batch.
type EntryInput struct {
	ProductID      int64
	StoreID        int64
	Quantity       int64
	UnitCost       int64
	BatchNumber    string
	EntryDate      time.Time
	ExpiryDate     *time.Time
	Supplier       string
	Notes          string
	ActorID        int64
	IdempotencyKey string
}

// WithdrawalInput describes an outbound request against a product+store.
type WithdrawalInput struct {
	ProductID int64
	StoreID   int64
	Quantity  int64
	Reason    string
	OrderRef  string
	ActorID   int64
}

// AdjustmentInput describes a signed manual correction.
type AdjustmentInput struct {
	ProductID int64
	StoreID   int64
	Quantity  int64
	UnitCost  int64
	Reason    string
	Notes     string
	ActorID   int64
}

// WithdrawalLine records one batch touched by a withdrawal.
type WithdrawalLine struct {
	BatchID     int64  `json:"batch_id"`
	BatchNumber string `json:"batch_number"`
	Quantity    int64  `json:"quantity"`
	UnitCost    int64  `json:"unit_cost"`
}

// WithdrawalResult reports which batches were consumed and the cost of goods
// sold for the withdrawal under the active valuation method.
type WithdrawalResult struct {
	Lines     []WithdrawalLine `json:"lines"`
	Quantity  int64            `json:"quantity"`
	TotalCost int64            `json:"total_cost"`
	Method    ValuationMethod  `json:"method"`
}

// StoreConfig is the slice of store configuration the engine needs. It is
// immutable during a transaction.
type StoreConfig struct {
	ID              int64
	Name            string
	ValuationMethod ValuationMethod
	MinStockEmail   string
}

var (
	// ErrInsufficientStock indicates the requested quantity exceeds what is
	// available or physically present. Nothing is applied partially.
	ErrInsufficientStock = errors.New("stock: insufficient stock")
	// ErrInvalidState indicates an illegal reservation transition.
	ErrInvalidState = errors.New("stock: invalid reservation state")
	// ErrReservationExpired indicates the reservation passed its deadline.
	ErrReservationExpired = errors.New("stock: reservation expired")
	// ErrInvalidQuantity indicates a zero or negative quantity where not permitted.
	ErrInvalidQuantity = errors.New("stock: quantity must be positive")
	// ErrInvalidUnitCost indicates a negative unit cost.
	ErrInvalidUnitCost = errors.New("stock: unit cost must be >= 0")
	// ErrInvalidOrderRef indicates a malformed order reference.
	ErrInvalidOrderRef = errors.New("stock: order ref must be a UUID")
	// ErrUnknownValuationMethod indicates an unrecognised store costing method.
	ErrUnknownValuationMethod = errors.New("stock: unknown valuation method")
	// ErrBatchNotFound indicates a missing batch.
	ErrBatchNotFound = errors.New("stock: batch not found")
	// ErrReservationNotFound indicates a missing reservation.
	ErrReservationNotFound = errors.New("stock: reservation not found")
	// ErrPositionNotFound indicates no stock record for the product+store.
	ErrPositionNotFound = errors.New("stock: position not found")
	// ErrDuplicateBatchNumber indicates the batch number already exists for
	// the product+store.
	ErrDuplicateBatchNumber = errors.New("stock: duplicate batch number")
)
