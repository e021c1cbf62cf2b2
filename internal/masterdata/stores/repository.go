package stores

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/varejo-erp/varejo-erp/internal/shared"
)

// Repository persists stores in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const storeColumns = `id, name, valuation_method, min_stock_email, is_active, created_at, updated_at`

// Create inserts a store.
func (r *Repository) Create(ctx context.Context, s Store) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO stores (name, valuation_method, min_stock_email, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,NOW(),NOW()) RETURNING id`, s.Name, s.ValuationMethod, s.MinStockEmail, s.IsActive).Scan(&id)
	return id, err
}

// Get loads a store by id.
func (r *Repository) Get(ctx context.Context, id int64) (Store, error) {
	var s Store
	err := r.pool.QueryRow(ctx, `SELECT `+storeColumns+` FROM stores WHERE id=$1`, id).
		Scan(&s.ID, &s.Name, &s.ValuationMethod, &s.MinStockEmail, &s.IsActive, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Store{}, fmt.Errorf("store %d: %w", id, shared.ErrNotFound)
	}
	return s, err
}

// List returns all stores.
func (r *Repository) List(ctx context.Context) ([]Store, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+storeColumns+` FROM stores ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	list := []Store{}
	for rows.Next() {
		var s Store
		if err := rows.Scan(&s.ID, &s.Name, &s.ValuationMethod, &s.MinStockEmail, &s.IsActive, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, s)
	}
	return list, rows.Err()
}

// Update modifies a store.
func (r *Repository) Update(ctx context.Context, s Store) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stores SET name=$2, valuation_method=$3, min_stock_email=$4, is_active=$5, updated_at=NOW() WHERE id=$1`,
		s.ID, s.Name, s.ValuationMethod, s.MinStockEmail, s.IsActive)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("store %d: %w", s.ID, shared.ErrNotFound)
	}
	return nil
}
