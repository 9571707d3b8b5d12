package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

var ErrItemNotFound = errors.New("cart item not found")

type Repository interface {
	Lines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]Line, error)
	CheckoutLines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]Line, error)
	FindItem(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID) (uuid.UUID, int, error)
	UpsertItem(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID, quantity int) error
	UpdateQuantity(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID, quantity int) error
	ItemProduct(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) (uuid.UUID, error)
	RemoveItem(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) error
	Clear(ctx context.Context, q db.Querier, buyerID uuid.UUID) error
}

type PostgresRepository struct{}

func NewRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const linesQuery = `
	SELECT sc.id, sc.product_id, p.vendor_id, p.name, sc.quantity,
	       p.price, p.discount_price, p.stock_quantity, sc.created_at
	FROM shopping_cart sc
	JOIN products p ON sc.product_id = p.id
	WHERE sc.user_id = $1 AND p.status = 'active'
	ORDER BY sc.created_at DESC
`

// Lines returns the buyer's cart joined with live product data, newest
// first, inactive products excluded.
func (r *PostgresRepository) Lines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]Line, error) {
	rows, err := q.Query(ctx, linesQuery, buyerID)
	if err != nil {
		return nil, fmt.Errorf("cart: failed to query cart for user %s: %w", buyerID, err)
	}
	defer rows.Close()

	return scanLines(rows, buyerID)
}

// CheckoutLines is the placement-time snapshot read. It must run on the
// placement transaction's Querier so the stock checks that follow observe
// the same view of the products.
func (r *PostgresRepository) CheckoutLines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]Line, error) {
	return r.Lines(ctx, q, buyerID)
}

func scanLines(rows pgx.Rows, buyerID uuid.UUID) ([]Line, error) {
	lines := make([]Line, 0)
	for rows.Next() {
		var l Line
		err := rows.Scan(
			&l.ItemID,
			&l.ProductID,
			&l.VendorID,
			&l.ProductName,
			&l.Quantity,
			&l.Price,
			&l.DiscountPrice,
			&l.StockQuantity,
			&l.AddedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("cart: failed to scan cart line for user %s: %w", buyerID, err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("cart: error iterating cart lines for user %s: %w", buyerID, err)
	}
	return lines, nil
}

// FindItem returns the id and quantity of the buyer's cart row for a
// product, or ErrItemNotFound.
func (r *PostgresRepository) FindItem(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID) (uuid.UUID, int, error) {
	var itemID uuid.UUID
	var quantity int
	err := q.QueryRow(ctx,
		`SELECT id, quantity FROM shopping_cart WHERE user_id = $1 AND product_id = $2`,
		buyerID, productID,
	).Scan(&itemID, &quantity)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, 0, ErrItemNotFound
		}
		return uuid.Nil, 0, fmt.Errorf("cart: failed to find cart item for user %s: %w", buyerID, err)
	}
	return itemID, quantity, nil
}

// UpsertItem adds quantity units of a product to the buyer's cart in one
// statement. A concurrent add of the same product lands on the
// (user_id, product_id) unique constraint and merges instead of failing.
func (r *PostgresRepository) UpsertItem(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID, quantity int) error {
	itemID, err := uuid.NewV4()
	if err != nil {
		return fmt.Errorf("cart: failed to generate cart item ID: %w", err)
	}

	_, err = q.Exec(ctx, `
		INSERT INTO shopping_cart (id, user_id, product_id, quantity)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, product_id)
		DO UPDATE SET quantity = shopping_cart.quantity + EXCLUDED.quantity, updated_at = now()
	`, itemID, buyerID, productID, quantity)
	if err != nil {
		return fmt.Errorf("cart: failed to upsert cart item for user %s: %w", buyerID, err)
	}
	return nil
}

func (r *PostgresRepository) UpdateQuantity(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID, quantity int) error {
	cmdTag, err := q.Exec(ctx,
		`UPDATE shopping_cart SET quantity = $1, updated_at = now() WHERE id = $2 AND user_id = $3`,
		quantity, itemID, buyerID,
	)
	if err != nil {
		return fmt.Errorf("cart: failed to update cart item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

// ItemProduct returns the product id a buyer's cart item points at.
func (r *PostgresRepository) ItemProduct(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) (uuid.UUID, error) {
	var productID uuid.UUID
	err := q.QueryRow(ctx,
		`SELECT product_id FROM shopping_cart WHERE id = $1 AND user_id = $2`,
		itemID, buyerID,
	).Scan(&productID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrItemNotFound
		}
		return uuid.Nil, fmt.Errorf("cart: failed to select cart item %s: %w", itemID, err)
	}
	return productID, nil
}

func (r *PostgresRepository) RemoveItem(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) error {
	cmdTag, err := q.Exec(ctx,
		`DELETE FROM shopping_cart WHERE id = $1 AND user_id = $2`,
		itemID, buyerID,
	)
	if err != nil {
		return fmt.Errorf("cart: failed to remove cart item %s: %w", itemID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return ErrItemNotFound
	}
	return nil
}

func (r *PostgresRepository) Clear(ctx context.Context, q db.Querier, buyerID uuid.UUID) error {
	_, err := q.Exec(ctx, `DELETE FROM shopping_cart WHERE user_id = $1`, buyerID)
	if err != nil {
		return fmt.Errorf("cart: failed to clear cart for user %s: %w", buyerID, err)
	}
	return nil
}
