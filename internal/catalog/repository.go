package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

var ErrProductNotFound = errors.New("product not found")

// StockChange is one product_id/quantity pair to reserve or restore.
type StockChange struct {
	ProductID uuid.UUID
	Quantity  int
}

// InsufficientStockError names the first product whose available quantity
// could not cover the requested one, so the caller can adjust and retry.
type InsufficientStockError struct {
	ProductID uuid.UUID
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for product %s: %d available, %d requested", e.ProductID, e.Available, e.Requested)
}

type Repository interface {
	GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Product, error)
	ReserveStock(ctx context.Context, q db.Querier, changes []StockChange) error
	RestoreStock(ctx context.Context, q db.Querier, changes []StockChange) error
}

type PostgresRepository struct{}

func NewRepository() *PostgresRepository {
	return &PostgresRepository{}
}

func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Product, error) {
	query := `
		SELECT id, vendor_id, name, price, discount_price, stock_quantity, status, created_at, updated_at
		FROM products
		WHERE id = $1
	`

	var p Product
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID,
		&p.VendorID,
		&p.Name,
		&p.Price,
		&p.DiscountPrice,
		&p.StockQuantity,
		&p.Status,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("catalog: failed to select product %s: %w", id, err)
	}

	return &p, nil
}

// ReserveStock decrements stock_quantity for every change as one atomic
// conditional statement per product. The check and the decrement are the
// same UPDATE, so two concurrent reservations of the last unit can never
// both succeed. If any product comes up short, every decrement already
// applied in this call is undone before the error is returned.
func (r *PostgresRepository) ReserveStock(ctx context.Context, q db.Querier, changes []StockChange) error {
	decrement := `
		UPDATE products
		SET stock_quantity = stock_quantity - $1, updated_at = now()
		WHERE id = $2 AND stock_quantity >= $1
	`

	applied := make([]StockChange, 0, len(changes))
	for _, ch := range changes {
		cmdTag, err := q.Exec(ctx, decrement, ch.Quantity, ch.ProductID)
		if err != nil {
			r.undo(ctx, q, applied)
			return fmt.Errorf("catalog: failed to decrement stock for product %s: %w", ch.ProductID, err)
		}

		if cmdTag.RowsAffected() == 0 {
			available, availErr := r.availableStock(ctx, q, ch.ProductID)
			r.undo(ctx, q, applied)
			if availErr != nil {
				return availErr
			}
			return &InsufficientStockError{
				ProductID: ch.ProductID,
				Available: available,
				Requested: ch.Quantity,
			}
		}

		applied = append(applied, ch)
	}

	return nil
}

// RestoreStock unconditionally increments stock_quantity for every change.
// A missing product row is reported, but the restore itself has no
// precondition to fail.
func (r *PostgresRepository) RestoreStock(ctx context.Context, q db.Querier, changes []StockChange) error {
	increment := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1, updated_at = now()
		WHERE id = $2
	`

	for _, ch := range changes {
		cmdTag, err := q.Exec(ctx, increment, ch.Quantity, ch.ProductID)
		if err != nil {
			return fmt.Errorf("catalog: failed to restore stock for product %s: %w", ch.ProductID, err)
		}
		if cmdTag.RowsAffected() == 0 {
			return fmt.Errorf("catalog: %w: %s", ErrProductNotFound, ch.ProductID)
		}
	}

	return nil
}

func (r *PostgresRepository) availableStock(ctx context.Context, q db.Querier, productID uuid.UUID) (int, error) {
	var available int
	err := q.QueryRow(ctx, `SELECT stock_quantity FROM products WHERE id = $1`, productID).Scan(&available)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("catalog: %w: %s", ErrProductNotFound, productID)
		}
		return 0, fmt.Errorf("catalog: failed to read stock for product %s: %w", productID, err)
	}
	return available, nil
}

func (r *PostgresRepository) undo(ctx context.Context, q db.Querier, applied []StockChange) {
	if len(applied) == 0 {
		return
	}
	if err := r.RestoreStock(ctx, q, applied); err != nil {
		// The enclosing transaction rolls back anyway; log and move on.
		log.Error().Err(err).Int("applied", len(applied)).Msg("catalog: failed to undo partial stock reservation")
	}
}
