package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/shopsy-backend/internal/cart"
	"github.com/vasiliy-maslov/shopsy-backend/internal/catalog"
	"github.com/vasiliy-maslov/shopsy-backend/internal/config"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

var (
	ErrCartEmpty               = errors.New("cart is empty")
	ErrOrderNotCancellable     = errors.New("order can no longer be cancelled")
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrValidation              = errors.New("invalid order input")
)

// txRunner runs a function inside one database transaction. Implemented by
// db.Postgres.
type txRunner interface {
	WithinTx(ctx context.Context, fn db.TxFunc) error
}

// cartStore is the slice of the cart the coordinator needs: the checkout
// snapshot read and the final clear, both on the placement transaction.
type cartStore interface {
	CheckoutLines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]cart.Line, error)
	Clear(ctx context.Context, q db.Querier, buyerID uuid.UUID) error
}

// stockGuard reserves and restores product inventory.
type stockGuard interface {
	ReserveStock(ctx context.Context, q db.Querier, changes []catalog.StockChange) error
	RestoreStock(ctx context.Context, q db.Querier, changes []catalog.StockChange) error
}

type PlaceOrderInput struct {
	BuyerID         uuid.UUID
	ShippingAddress string
	BillingAddress  string
	PaymentMethod   PaymentMethod
	DiscountAmount  decimal.Decimal
}

type PlacementResult struct {
	OrderID               uuid.UUID       `json:"order_id"`
	OrderNumber           string          `json:"order_number"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	EstimatedDeliveryDate time.Time       `json:"estimated_delivery_date"`
}

type Service interface {
	PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlacementResult, error)
	CancelOrder(ctx context.Context, orderID, buyerID uuid.UUID) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status, trackingNumber string) error
	GetOrder(ctx context.Context, orderID, buyerID uuid.UUID) (*Order, error)
	ListOrders(ctx context.Context, buyerID uuid.UUID, f ListFilter) ([]Summary, error)
}

type service struct {
	tx      txRunner
	db      db.Querier
	orders  Repository
	cart    cartStore
	stock   stockGuard
	pricing config.Pricing
}

func NewService(tx txRunner, q db.Querier, orders Repository, cartStore cartStore, stock stockGuard, pricing config.Pricing) Service {
	return &service{
		tx:      tx,
		db:      q,
		orders:  orders,
		cart:    cartStore,
		stock:   stock,
		pricing: pricing,
	}
}

// PlaceOrder converts the buyer's cart into a persisted order. Snapshot
// read, stock reservation, order write, and cart clear all run on one
// transaction; any failure rolls the whole attempt back and nothing
// becomes visible.
func (s *service) PlaceOrder(ctx context.Context, input PlaceOrderInput) (*PlacementResult, error) {
	if err := validatePlaceOrderInput(&input); err != nil {
		return nil, err
	}

	var result *PlacementResult
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		lines, err := s.cart.CheckoutLines(ctx, q, input.BuyerID)
		if err != nil {
			return fmt.Errorf("service: failed to read cart: %w", err)
		}
		if len(lines) == 0 {
			return ErrCartEmpty
		}

		changes := make([]catalog.StockChange, 0, len(lines))
		priceLines := make([]PriceLine, 0, len(lines))
		items := make([]OrderItem, 0, len(lines))
		for _, l := range lines {
			unitPrice := l.EffectiveUnitPrice()
			changes = append(changes, catalog.StockChange{ProductID: l.ProductID, Quantity: l.Quantity})
			priceLines = append(priceLines, PriceLine{UnitPrice: unitPrice, Quantity: l.Quantity})
			items = append(items, OrderItem{
				ProductID:  l.ProductID,
				VendorID:   l.VendorID,
				Quantity:   l.Quantity,
				UnitPrice:  unitPrice,
				TotalPrice: unitPrice.Mul(decimal.NewFromInt(int64(l.Quantity))).Round(2),
			})
		}

		if err := s.stock.ReserveStock(ctx, q, changes); err != nil {
			return err
		}

		totals := PriceCart(priceLines, input.DiscountAmount, s.pricing)

		o := &Order{
			UserID:                input.BuyerID,
			Subtotal:              totals.Subtotal,
			TaxAmount:             totals.TaxAmount,
			ShippingAmount:        totals.ShippingAmount,
			DiscountAmount:        totals.DiscountAmount,
			TotalAmount:           totals.TotalAmount,
			PaymentMethod:         input.PaymentMethod,
			ShippingAddress:       input.ShippingAddress,
			BillingAddress:        input.BillingAddress,
			Status:                StatusPending,
			EstimatedDeliveryDate: time.Now().UTC().AddDate(0, 0, s.pricing.DeliveryLeadDays),
			Items:                 items,
		}

		if err := s.orders.Insert(ctx, q, o); err != nil {
			return err
		}

		// Clearing the cart is the last write before commit, so a rollback
		// restores the cart along with everything else.
		if err := s.cart.Clear(ctx, q, input.BuyerID); err != nil {
			return err
		}

		result = &PlacementResult{
			OrderID:               o.ID,
			OrderNumber:           o.OrderNumber,
			TotalAmount:           o.TotalAmount,
			EstimatedDeliveryDate: o.EstimatedDeliveryDate,
		}
		return nil
	})
	if err != nil {
		var insufficientStock *catalog.InsufficientStockError
		switch {
		case errors.Is(err, ErrCartEmpty):
			log.Warn().Stringer("user_id", input.BuyerID).Msg("service: order placement on empty cart")
		case errors.As(err, &insufficientStock):
			log.Warn().
				Stringer("user_id", input.BuyerID).
				Stringer("product_id", insufficientStock.ProductID).
				Int("available", insufficientStock.Available).
				Int("requested", insufficientStock.Requested).
				Msg("service: order placement blocked by stock")
		default:
			log.Error().Err(err).Stringer("user_id", input.BuyerID).Msg("service: order placement failed")
		}
		return nil, err
	}

	log.Info().
		Stringer("order_id", result.OrderID).
		Str("order_number", result.OrderNumber).
		Stringer("user_id", input.BuyerID).
		Str("total_amount", result.TotalAmount.StringFixed(2)).
		Msg("Order placed")

	return result, nil
}

func validatePlaceOrderInput(input *PlaceOrderInput) error {
	if input.ShippingAddress == "" {
		return fmt.Errorf("%w: shipping address is required", ErrValidation)
	}
	if !input.PaymentMethod.Valid() {
		return fmt.Errorf("%w: unknown payment method %q", ErrValidation, input.PaymentMethod)
	}
	if input.DiscountAmount.IsNegative() {
		return fmt.Errorf("%w: discount amount cannot be negative", ErrValidation)
	}
	if input.BillingAddress == "" {
		input.BillingAddress = input.ShippingAddress
	}
	return nil
}

// CancelOrder cancels a buyer's order while it is still pending or
// confirmed, restoring the reserved stock of every order item in the same
// transaction that flips the status.
func (s *service) CancelOrder(ctx context.Context, orderID, buyerID uuid.UUID) error {
	err := s.tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		o, err := s.orders.GetByBuyer(ctx, q, orderID, buyerID)
		if err != nil {
			return err
		}

		if !o.Status.Cancellable() {
			return fmt.Errorf("%w: status is %s", ErrOrderNotCancellable, o.Status)
		}

		changes := make([]catalog.StockChange, 0, len(o.Items))
		for _, item := range o.Items {
			changes = append(changes, catalog.StockChange{ProductID: item.ProductID, Quantity: item.Quantity})
		}
		if err := s.stock.RestoreStock(ctx, q, changes); err != nil {
			return err
		}

		if err := s.orders.UpdateStatus(ctx, q, orderID, o.Status, StatusCancelled, nil); err != nil {
			// A concurrent transaction moved the order past the point of
			// cancellation. The rollback also undoes the stock restore above.
			if errors.Is(err, ErrStatusConflict) {
				return fmt.Errorf("%w: %v", ErrOrderNotCancellable, err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrOrderNotCancellable) {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: order cancellation rejected")
		} else {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("service: order cancellation failed")
		}
		return err
	}

	log.Info().Stringer("order_id", orderID).Stringer("user_id", buyerID).Msg("Order cancelled, stock restored")
	return nil
}

// UpdateStatus drives the order status state machine. Moving to cancelled
// goes through the same stock restoration as CancelOrder; every other
// transition touches only the order row.
func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, newStatus Status, trackingNumber string) error {
	if !newStatus.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, newStatus)
	}
	if trackingNumber != "" && !newStatus.AcceptsTracking() {
		return fmt.Errorf("%w: tracking number requires status shipped or delivered", ErrValidation)
	}

	err := s.tx.WithinTx(ctx, func(ctx context.Context, q db.Querier) error {
		o, err := s.orders.GetByID(ctx, q, orderID)
		if err != nil {
			return err
		}

		if o.Status == newStatus {
			log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: order already in requested status")
			return nil
		}

		if !o.Status.CanTransition(newStatus) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, newStatus)
		}

		if newStatus == StatusCancelled {
			changes := make([]catalog.StockChange, 0, len(o.Items))
			for _, item := range o.Items {
				changes = append(changes, catalog.StockChange{ProductID: item.ProductID, Quantity: item.Quantity})
			}
			if err := s.stock.RestoreStock(ctx, q, changes); err != nil {
				return err
			}
		}

		var tracking *string
		if trackingNumber != "" {
			tracking = &trackingNumber
		}
		if err := s.orders.UpdateStatus(ctx, q, orderID, o.Status, newStatus, tracking); err != nil {
			if errors.Is(err, ErrStatusConflict) {
				return fmt.Errorf("%w: %v", ErrInvalidStatusTransition, err)
			}
			return err
		}

		log.Info().
			Stringer("order_id", orderID).
			Stringer("old_status", o.Status).
			Stringer("new_status", newStatus).
			Msg("Order status updated")
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) || errors.Is(err, ErrInvalidStatusTransition) {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("service: status update rejected")
		} else {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("service: status update failed")
		}
	}
	return err
}

func (s *service) GetOrder(ctx context.Context, orderID, buyerID uuid.UUID) (*Order, error) {
	o, err := s.orders.GetByBuyer(ctx, s.db, orderID, buyerID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			return nil, ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to fetch order")
		return nil, fmt.Errorf("service: failed to fetch order: %w", err)
	}
	return o, nil
}

func (s *service) ListOrders(ctx context.Context, buyerID uuid.UUID, f ListFilter) ([]Summary, error) {
	if f.Status != nil && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, *f.Status)
	}

	summaries, err := s.orders.ListByBuyer(ctx, s.db, buyerID, f)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", buyerID).Msg("service: failed to fetch user orders")
		return nil, fmt.Errorf("service: failed to fetch user orders: %w", err)
	}
	return summaries, nil
}
