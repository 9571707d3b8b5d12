package order

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

var (
	ErrOrderNotFound = errors.New("order not found")

	// ErrStatusConflict means the order's status changed between the
	// transaction's read and its write, so the write was not applied.
	ErrStatusConflict = errors.New("order status changed concurrently")
)

// maxOrderNumberAttempts bounds the collision-retry loop on the
// order_number unique constraint. Collisions need the same millisecond
// timestamp and the same random suffix, so one retry is already rare.
const maxOrderNumberAttempts = 3

type ListFilter struct {
	Status *Status
	Page   int
	Limit  int
}

type Repository interface {
	Insert(ctx context.Context, q db.Querier, o *Order) error
	GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Order, error)
	GetByBuyer(ctx context.Context, q db.Querier, id, buyerID uuid.UUID) (*Order, error)
	ListByBuyer(ctx context.Context, q db.Querier, buyerID uuid.UUID, f ListFilter) ([]Summary, error)
	UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, from, to Status, trackingNumber *string) error
}

type PostgresRepository struct{}

func NewRepository() *PostgresRepository {
	return &PostgresRepository{}
}

const base36Alphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func newOrderNumber() string {
	var b strings.Builder
	b.WriteString("ORD")
	b.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	for i := 0; i < 5; i++ {
		b.WriteByte(base36Alphabet[rand.IntN(len(base36Alphabet))])
	}
	return b.String()
}

// Insert persists the order header and its items on the caller's Querier,
// normally the placement transaction. The header insert runs in a savepoint
// so an order_number collision can be retried with a fresh number without
// aborting the enclosing transaction.
func (r *PostgresRepository) Insert(ctx context.Context, q db.Querier, o *Order) error {
	if o.ID == uuid.Nil {
		id, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("order: failed to generate order ID: %w", err)
		}
		o.ID = id
	}

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	headerQuery := `
		INSERT INTO orders (
			id, order_number, user_id, subtotal, tax_amount, shipping_amount,
			discount_amount, total_amount, payment_method, shipping_address,
			billing_address, status, estimated_delivery_date, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`

	inserted := false
	for attempt := 0; attempt < maxOrderNumberAttempts && !inserted; attempt++ {
		o.OrderNumber = newOrderNumber()

		sp, err := q.Begin(ctx)
		if err != nil {
			return fmt.Errorf("order: failed to open savepoint for order insert: %w", err)
		}

		_, err = sp.Exec(ctx, headerQuery,
			o.ID,
			o.OrderNumber,
			o.UserID,
			o.Subtotal,
			o.TaxAmount,
			o.ShippingAmount,
			o.DiscountAmount,
			o.TotalAmount,
			string(o.PaymentMethod),
			o.ShippingAddress,
			o.BillingAddress,
			string(o.Status),
			o.EstimatedDeliveryDate,
			o.CreatedAt,
			o.UpdatedAt,
		)
		if err != nil {
			if rbErr := sp.Rollback(ctx); rbErr != nil {
				return fmt.Errorf("order: failed to rollback savepoint: %w", rbErr)
			}
			if isOrderNumberCollision(err) {
				log.Warn().Str("order_number", o.OrderNumber).Int("attempt", attempt+1).Msg("order: order number collision, regenerating")
				continue
			}
			return fmt.Errorf("order: failed to insert order: %w", err)
		}

		if err := sp.Commit(ctx); err != nil {
			return fmt.Errorf("order: failed to release savepoint: %w", err)
		}
		inserted = true
	}
	if !inserted {
		return fmt.Errorf("order: gave up inserting order after %d order number collisions", maxOrderNumberAttempts)
	}

	itemQuery := `
		INSERT INTO order_items (id, order_id, product_id, vendor_id, quantity, unit_price, total_price, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	for i := range o.Items {
		item := &o.Items[i]

		itemID, err := uuid.NewV4()
		if err != nil {
			return fmt.Errorf("order: failed to generate order item ID: %w", err)
		}
		item.ID = itemID
		item.OrderID = o.ID
		item.CreatedAt = now

		_, err = q.Exec(ctx, itemQuery,
			item.ID,
			item.OrderID,
			item.ProductID,
			item.VendorID,
			item.Quantity,
			item.UnitPrice,
			item.TotalPrice,
			item.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("order: failed to insert order item for order %s: %w", o.ID, err)
		}
	}

	return nil
}

func isOrderNumberCollision(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) &&
		pgErr.Code == pgerrcode.UniqueViolation &&
		pgErr.ConstraintName == "orders_order_number_key"
}

const orderColumns = `
	id, order_number, user_id, subtotal, tax_amount, shipping_amount,
	discount_amount, total_amount, payment_method, shipping_address,
	billing_address, status, tracking_number, estimated_delivery_date,
	created_at, updated_at
`

func (r *PostgresRepository) GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	return r.getOrder(ctx, q, query, id)
}

// GetByBuyer loads an order only when it belongs to the given buyer. A
// foreign order is indistinguishable from a missing one.
func (r *PostgresRepository) GetByBuyer(ctx context.Context, q db.Querier, id, buyerID uuid.UUID) (*Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 AND user_id = $2`
	return r.getOrder(ctx, q, query, id, buyerID)
}

func (r *PostgresRepository) getOrder(ctx context.Context, q db.Querier, query string, args ...any) (*Order, error) {
	var o Order
	err := q.QueryRow(ctx, query, args...).Scan(
		&o.ID,
		&o.OrderNumber,
		&o.UserID,
		&o.Subtotal,
		&o.TaxAmount,
		&o.ShippingAmount,
		&o.DiscountAmount,
		&o.TotalAmount,
		&o.PaymentMethod,
		&o.ShippingAddress,
		&o.BillingAddress,
		&o.Status,
		&o.TrackingNumber,
		&o.EstimatedDeliveryDate,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("order: failed to select order: %w", err)
	}

	itemsQuery := `
		SELECT id, order_id, product_id, vendor_id, quantity, unit_price, total_price, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at
	`
	rows, err := q.Query(ctx, itemsQuery, o.ID)
	if err != nil {
		return nil, fmt.Errorf("order: failed to query order items for order %s: %w", o.ID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		err := rows.Scan(
			&item.ID,
			&item.OrderID,
			&item.ProductID,
			&item.VendorID,
			&item.Quantity,
			&item.UnitPrice,
			&item.TotalPrice,
			&item.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("order: failed to scan order item for order %s: %w", o.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: error iterating order items for order %s: %w", o.ID, err)
	}

	o.Items = items
	return &o, nil
}

func (r *PostgresRepository) ListByBuyer(ctx context.Context, q db.Querier, buyerID uuid.UUID, f ListFilter) ([]Summary, error) {
	query := `
		SELECT o.id, o.order_number, o.status, o.total_amount, COUNT(oi.id), o.created_at
		FROM orders o
		LEFT JOIN order_items oi ON o.id = oi.order_id
		WHERE o.user_id = $1
	`
	args := []any{buyerID}

	if f.Status != nil {
		args = append(args, string(*f.Status))
		query += fmt.Sprintf(" AND o.status = $%d", len(args))
	}

	query += " GROUP BY o.id ORDER BY o.created_at DESC"

	page := f.Page
	if page < 1 {
		page = 1
	}
	limit := f.Limit
	if limit < 1 {
		limit = 10
	}
	args = append(args, limit, (page-1)*limit)
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("order: failed to query orders for user %s: %w", buyerID, err)
	}
	defer rows.Close()

	summaries := make([]Summary, 0)
	for rows.Next() {
		var s Summary
		err := rows.Scan(&s.ID, &s.OrderNumber, &s.Status, &s.TotalAmount, &s.ItemCount, &s.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("order: failed to scan order summary for user %s: %w", buyerID, err)
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("order: error iterating orders for user %s: %w", buyerID, err)
	}

	return summaries, nil
}

// UpdateStatus flips the order's status as a compare-and-swap: the write
// applies only while the row still holds the status the caller read. A
// concurrent transaction that moved the order first makes the predicate
// miss, and the caller gets ErrStatusConflict instead of a silent double
// write.
func (r *PostgresRepository) UpdateStatus(ctx context.Context, q db.Querier, id uuid.UUID, from, to Status, trackingNumber *string) error {
	query := `
		UPDATE orders
		SET status = $1, tracking_number = COALESCE($2, tracking_number), updated_at = now()
		WHERE id = $3 AND status = $4
	`

	cmdTag, err := q.Exec(ctx, query, string(to), trackingNumber, id, string(from))
	if err != nil {
		return fmt.Errorf("order: failed to update status for order %s: %w", id, err)
	}
	if cmdTag.RowsAffected() == 0 {
		// Orders are never deleted, so a zero row count after an in-tx read
		// can only mean the status moved under us.
		return fmt.Errorf("%w: order %s is no longer %s", ErrStatusConflict, id, from)
	}

	return nil
}
