package cart

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/shopsy-backend/internal/catalog"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

var ErrProductUnavailable = errors.New("product is not available")

// productStore is the slice of the catalog the cart needs.
type productStore interface {
	GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*catalog.Product, error)
}

type Service interface {
	GetCart(ctx context.Context, buyerID uuid.UUID) (*View, error)
	AddItem(ctx context.Context, buyerID, productID uuid.UUID, quantity int) error
	UpdateItem(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) error
	RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) error
	ClearCart(ctx context.Context, buyerID uuid.UUID) error
}

type service struct {
	db       db.Querier
	repo     Repository
	products productStore
}

func NewService(q db.Querier, repo Repository, products productStore) Service {
	return &service{
		db:       q,
		repo:     repo,
		products: products,
	}
}

func (s *service) GetCart(ctx context.Context, buyerID uuid.UUID) (*View, error) {
	lines, err := s.repo.Lines(ctx, s.db, buyerID)
	if err != nil {
		log.Error().Err(err).Stringer("user_id", buyerID).Msg("service: failed to fetch cart")
		return nil, fmt.Errorf("service: failed to fetch cart: %w", err)
	}

	summary := Summary{Subtotal: decimal.Zero}
	for _, l := range lines {
		summary.ItemCount++
		summary.TotalQuantity += l.Quantity
		summary.Subtotal = summary.Subtotal.Add(l.EffectiveUnitPrice().Mul(decimal.NewFromInt(int64(l.Quantity))))
	}
	summary.Subtotal = summary.Subtotal.Round(2)

	return &View{Items: lines, Summary: summary}, nil
}

// AddItem puts quantity units of a product into the buyer's cart, merging
// with an existing row for the same product. The merged quantity may not
// exceed the product's current stock. This is a courtesy pre-check for the
// UI; the placement transaction re-validates stock atomically.
func (s *service) AddItem(ctx context.Context, buyerID, productID uuid.UUID, quantity int) error {
	product, err := s.products.GetByID(ctx, s.db, productID)
	if err != nil {
		if errors.Is(err, catalog.ErrProductNotFound) {
			return catalog.ErrProductNotFound
		}
		log.Error().Err(err).Stringer("product_id", productID).Msg("service: failed to fetch product for cart add")
		return fmt.Errorf("service: failed to fetch product: %w", err)
	}

	if product.Status != catalog.StatusActive {
		return ErrProductUnavailable
	}

	_, existing, err := s.repo.FindItem(ctx, s.db, buyerID, productID)
	if err != nil && !errors.Is(err, ErrItemNotFound) {
		return fmt.Errorf("service: failed to look up cart item: %w", err)
	}

	newQuantity := existing + quantity
	if newQuantity > product.StockQuantity {
		return &catalog.InsufficientStockError{
			ProductID: productID,
			Available: product.StockQuantity,
			Requested: newQuantity,
		}
	}

	// The write is a single additive upsert, so a concurrent add of the
	// same product merges on the unique constraint instead of erroring.
	if err := s.repo.UpsertItem(ctx, s.db, buyerID, productID, quantity); err != nil {
		log.Error().Err(err).Stringer("user_id", buyerID).Stringer("product_id", productID).Msg("service: failed to add cart item")
		return fmt.Errorf("service: failed to add cart item: %w", err)
	}

	log.Info().Stringer("user_id", buyerID).Stringer("product_id", productID).Int("quantity", newQuantity).Msg("Cart item added")
	return nil
}

func (s *service) UpdateItem(ctx context.Context, buyerID, itemID uuid.UUID, quantity int) error {
	productID, err := s.repo.ItemProduct(ctx, s.db, buyerID, itemID)
	if err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		return fmt.Errorf("service: failed to look up cart item: %w", err)
	}

	product, err := s.products.GetByID(ctx, s.db, productID)
	if err != nil {
		return fmt.Errorf("service: failed to fetch product for cart update: %w", err)
	}

	if quantity > product.StockQuantity {
		return &catalog.InsufficientStockError{
			ProductID: productID,
			Available: product.StockQuantity,
			Requested: quantity,
		}
	}

	if err := s.repo.UpdateQuantity(ctx, s.db, buyerID, itemID, quantity); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		log.Error().Err(err).Stringer("item_id", itemID).Msg("service: failed to update cart item")
		return fmt.Errorf("service: failed to update cart item: %w", err)
	}

	return nil
}

func (s *service) RemoveItem(ctx context.Context, buyerID, itemID uuid.UUID) error {
	if err := s.repo.RemoveItem(ctx, s.db, buyerID, itemID); err != nil {
		if errors.Is(err, ErrItemNotFound) {
			return ErrItemNotFound
		}
		log.Error().Err(err).Stringer("item_id", itemID).Msg("service: failed to remove cart item")
		return fmt.Errorf("service: failed to remove cart item: %w", err)
	}
	return nil
}

func (s *service) ClearCart(ctx context.Context, buyerID uuid.UUID) error {
	if err := s.repo.Clear(ctx, s.db, buyerID); err != nil {
		log.Error().Err(err).Stringer("user_id", buyerID).Msg("service: failed to clear cart")
		return fmt.Errorf("service: failed to clear cart: %w", err)
	}
	return nil
}
