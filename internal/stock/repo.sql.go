package stock

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/varejo-erp/varejo-erp/internal/platform/db"
)

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes the row operations available inside a stock transaction.
// Every mutation path locks the position row first so writers on the same
// product+store serialise.
type TxRepository interface {
	GetPositionForUpdate(ctx context.Context, productID, storeID int64) (Position, error)
	UpsertPosition(ctx context.Context, pos Position) error
	ListBatchesForWithdrawal(ctx context.Context, productID, storeID int64) ([]Batch, error)
	InsertBatch(ctx context.Context, batch Batch) (int64, error)
	DecrementBatch(ctx context.Context, batchID, qty int64) error
	InsertMovement(ctx context.Context, m Movement) (int64, error)
	GetProductAverageCost(ctx context.Context, productID int64) (int64, error)
	UpdateProductAverageCost(ctx context.Context, productID, averageCost int64) error
	GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error)
	InsertReservation(ctx context.Context, res Reservation) (int64, error)
	UpdateReservationStatus(ctx context.Context, id int64, status ReservationStatus, at time.Time, orderRef string) error
	SumActiveReservations(ctx context.Context, productID, storeID int64, now time.Time) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("stock repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// QueryMovements lists ledger entries, newest first.
func (r *Repository) QueryMovements(ctx context.Context, filter MovementFilter) ([]Movement, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, batch_id, movement_type, quantity, unit_cost, reason, order_ref, actor_id, notes, created_at
FROM stock_movements
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = 0 OR store_id = $2)
  AND ($3 = '' OR movement_type = $3)
  AND created_at BETWEEN COALESCE($4, '-infinity') AND COALESCE($5, 'infinity')
ORDER BY created_at DESC, id DESC
LIMIT $6`, filter.ProductID, filter.StoreID, string(filter.Type), nullTime(filter.From), nullTime(filter.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	movements := []Movement{}
	for rows.Next() {
		var m Movement
		var orderRef, reason, notes *string
		var actorID *int64
		if err := rows.Scan(&m.ID, &m.ProductID, &m.StoreID, &m.BatchID, &m.Type, &m.Quantity, &m.UnitCost, &reason, &orderRef, &actorID, &notes, &m.CreatedAt); err != nil {
			return nil, err
		}
		m.Reason = deref(reason)
		m.OrderRef = deref(orderRef)
		m.Notes = deref(notes)
		if actorID != nil {
			m.ActorID = *actorID
		}
		movements = append(movements, m)
	}
	return movements, rows.Err()
}

// ListBatches lists batches for a product+store in FIFO order.
func (r *Repository) ListBatches(ctx context.Context, filter BatchFilter) ([]Batch, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, batch_number, quantity, initial_quantity, unit_cost, entry_date, expiry_date, supplier, notes, created_at
FROM stock_batches
WHERE ($1 = 0 OR product_id = $1)
  AND ($2 = 0 OR store_id = $2)
  AND ($3 OR quantity > 0)
ORDER BY entry_date ASC, id ASC
LIMIT $4`, filter.ProductID, filter.StoreID, filter.IncludeDepleted, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

// GetBatch loads one batch by id.
func (r *Repository) GetBatch(ctx context.Context, id int64) (Batch, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, product_id, store_id, batch_number, quantity, initial_quantity, unit_cost, entry_date, expiry_date, supplier, notes, created_at
FROM stock_batches WHERE id=$1`, id)
	b, err := scanBatch(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Batch{}, ErrBatchNotFound
	}
	return b, err
}

// GetPosition loads one position without locking.
func (r *Repository) GetPosition(ctx context.Context, productID, storeID int64) (Position, error) {
	var pos Position
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, store_id, quantity, min_stock, max_stock, location, updated_at
FROM stock_positions WHERE product_id=$1 AND store_id=$2`, productID, storeID).
		Scan(&pos.ID, &pos.ProductID, &pos.StoreID, &pos.Quantity, &pos.MinStock, &pos.MaxStock, &pos.Location, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Position{}, ErrPositionNotFound
	}
	return pos, err
}

// ListPositions lists all positions for a store.
func (r *Repository) ListPositions(ctx context.Context, storeID int64) ([]Position, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, store_id, quantity, min_stock, max_stock, location, updated_at
FROM stock_positions WHERE ($1 = 0 OR store_id = $1) ORDER BY product_id ASC`, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	positions := []Position{}
	for rows.Next() {
		var pos Position
		if err := rows.Scan(&pos.ID, &pos.ProductID, &pos.StoreID, &pos.Quantity, &pos.MinStock, &pos.MaxStock, &pos.Location, &pos.UpdatedAt); err != nil {
			return nil, err
		}
		positions = append(positions, pos)
	}
	return positions, rows.Err()
}

// GetReservation loads one reservation without locking.
func (r *Repository) GetReservation(ctx context.Context, id int64) (Reservation, error) {
	res, err := scanReservation(r.pool.QueryRow(ctx, `SELECT id, product_id, store_id, order_ref, quantity, status, expires_at, completed_at, cancelled_at, created_at
FROM stock_reservations WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

// SumActiveReservations totals non-expired active holds for a product+store.
func (r *Repository) SumActiveReservations(ctx context.Context, productID, storeID int64, now time.Time) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
WHERE product_id=$1 AND store_id=$2 AND status='active' AND expires_at > $3`, productID, storeID, now).Scan(&total)
	return total, err
}

// ExpireReservations transitions overdue active holds to expired. A single
// conditional UPDATE keeps the sweep idempotent.
func (r *Repository) ExpireReservations(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_reservations SET status='expired'
WHERE status='active' AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *txRepository) GetPositionForUpdate(ctx context.Context, productID, storeID int64) (Position, error) {
	var pos Position
	err := r.tx.QueryRow(ctx, `SELECT id, product_id, store_id, quantity, min_stock, max_stock, location, updated_at
FROM stock_positions WHERE product_id=$1 AND store_id=$2 FOR UPDATE`, productID, storeID).
		Scan(&pos.ID, &pos.ProductID, &pos.StoreID, &pos.Quantity, &pos.MinStock, &pos.MaxStock, &pos.Location, &pos.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Position{ProductID: productID, StoreID: storeID}, ErrPositionNotFound
	}
	return pos, err
}

func (r *txRepository) UpsertPosition(ctx context.Context, pos Position) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO stock_positions (product_id, store_id, quantity, min_stock, max_stock, location, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW())
ON CONFLICT (product_id, store_id) DO UPDATE SET quantity=EXCLUDED.quantity, updated_at=NOW()`,
		pos.ProductID, pos.StoreID, pos.Quantity, pos.MinStock, pos.MaxStock, pos.Location)
	return err
}

func (r *txRepository) ListBatchesForWithdrawal(ctx context.Context, productID, storeID int64) ([]Batch, error) {
	rows, err := r.tx.Query(ctx, `SELECT id, product_id, store_id, batch_number, quantity, initial_quantity, unit_cost, entry_date, expiry_date, supplier, notes, created_at
FROM stock_batches
WHERE product_id=$1 AND store_id=$2 AND quantity > 0
ORDER BY entry_date ASC, id ASC
FOR UPDATE`, productID, storeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanBatches(rows)
}

func (r *txRepository) InsertBatch(ctx context.Context, batch Batch) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_batches (product_id, store_id, batch_number, quantity, initial_quantity, unit_cost, entry_date, expiry_date, supplier, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		batch.ProductID, batch.StoreID, batch.BatchNumber, batch.Quantity, batch.InitialQuantity, batch.UnitCost, batch.EntryDate, batch.ExpiryDate, batch.Supplier, batch.Notes).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return 0, ErrDuplicateBatchNumber
		}
		return 0, err
	}
	return id, nil
}

// DecrementBatch subtracts qty from a batch. The conditional guard keeps the
// quantity from ever going negative regardless of interleavings.
func (r *txRepository) DecrementBatch(ctx context.Context, batchID, qty int64) error {
	tag, err := r.tx.Exec(ctx, `UPDATE stock_batches SET quantity = quantity - $2
WHERE id = $1 AND quantity >= $2`, batchID, qty)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInsufficientStock
	}
	return nil
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, store_id, batch_id, movement_type, quantity, unit_cost, reason, order_ref, actor_id, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,NOW()) RETURNING id`,
		m.ProductID, m.StoreID, m.BatchID, string(m.Type), m.Quantity, m.UnitCost, m.Reason, nullString(m.OrderRef), nullInt(m.ActorID), m.Notes).Scan(&id)
	return id, err
}

func (r *txRepository) GetProductAverageCost(ctx context.Context, productID int64) (int64, error) {
	var cost int64
	err := r.tx.QueryRow(ctx, `SELECT average_cost FROM products WHERE id=$1`, productID).Scan(&cost)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrPositionNotFound
	}
	return cost, err
}

func (r *txRepository) UpdateProductAverageCost(ctx context.Context, productID, averageCost int64) error {
	_, err := r.tx.Exec(ctx, `UPDATE products SET average_cost=$2, updated_at=NOW() WHERE id=$1`, productID, averageCost)
	return err
}

func (r *txRepository) GetReservationForUpdate(ctx context.Context, id int64) (Reservation, error) {
	res, err := scanReservation(r.tx.QueryRow(ctx, `SELECT id, product_id, store_id, order_ref, quantity, status, expires_at, completed_at, cancelled_at, created_at
FROM stock_reservations WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Reservation{}, ErrReservationNotFound
	}
	return res, err
}

func (r *txRepository) InsertReservation(ctx context.Context, res Reservation) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_reservations (product_id, store_id, order_ref, quantity, status, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,NOW()) RETURNING id`,
		res.ProductID, res.StoreID, nullString(res.OrderRef), res.Quantity, string(res.Status), res.ExpiresAt).Scan(&id)
	return id, err
}

func (r *txRepository) UpdateReservationStatus(ctx context.Context, id int64, status ReservationStatus, at time.Time, orderRef string) error {
	var err error
	switch status {
	case ReservationCompleted:
		_, err = r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2, completed_at=$3, order_ref=COALESCE($4, order_ref) WHERE id=$1`,
			id, string(status), at, nullString(orderRef))
	case ReservationCancelled:
		_, err = r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2, cancelled_at=$3 WHERE id=$1`, id, string(status), at)
	default:
		_, err = r.tx.Exec(ctx, `UPDATE stock_reservations SET status=$2 WHERE id=$1`, id, string(status))
	}
	return err
}

func (r *txRepository) SumActiveReservations(ctx context.Context, productID, storeID int64, now time.Time) (int64, error) {
	var total int64
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
WHERE product_id=$1 AND store_id=$2 AND status='active' AND expires_at > $3`, productID, storeID, now).Scan(&total)
	return total, err
}

func scanBatches(rows pgx.Rows) ([]Batch, error) {
	batches := []Batch{}
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

func scanBatch(row pgx.Row) (Batch, error) {
	var b Batch
	var supplier, notes *string
	err := row.Scan(&b.ID, &b.ProductID, &b.StoreID, &b.BatchNumber, &b.Quantity, &b.InitialQuantity, &b.UnitCost, &b.EntryDate, &b.ExpiryDate, &supplier, &notes, &b.CreatedAt)
	if err != nil {
		return Batch{}, err
	}
	b.Supplier = deref(supplier)
	b.Notes = deref(notes)
	return b, nil
}

func scanReservation(row pgx.Row) (Reservation, error) {
	var res Reservation
	var orderRef *string
	err := row.Scan(&res.ID, &res.ProductID, &res.StoreID, &orderRef, &res.Quantity, &res.Status, &res.ExpiresAt, &res.CompletedAt, &res.CancelledAt, &res.CreatedAt)
	if err != nil {
		return Reservation{}, err
	}
	res.OrderRef = deref(orderRef)
	return res, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
