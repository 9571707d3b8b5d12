package cart_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/shopsy-backend/internal/cart"
	"github.com/vasiliy-maslov/shopsy-backend/internal/catalog"
	"github.com/vasiliy-maslov/shopsy-backend/internal/db"
)

type mockCartRepo struct {
	linesFunc          func(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]cart.Line, error)
	findItemFunc       func(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID) (uuid.UUID, int, error)
	upsertItemFunc     func(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID, quantity int) error
	updateQuantityFunc func(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID, quantity int) error
	itemProductFunc    func(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) (uuid.UUID, error)
	removeItemFunc     func(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) error
	clearFunc          func(ctx context.Context, q db.Querier, buyerID uuid.UUID) error
}

func (m *mockCartRepo) Lines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]cart.Line, error) {
	return m.linesFunc(ctx, q, buyerID)
}

func (m *mockCartRepo) CheckoutLines(ctx context.Context, q db.Querier, buyerID uuid.UUID) ([]cart.Line, error) {
	return m.linesFunc(ctx, q, buyerID)
}

func (m *mockCartRepo) FindItem(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID) (uuid.UUID, int, error) {
	if m.findItemFunc != nil {
		return m.findItemFunc(ctx, q, buyerID, productID)
	}
	return uuid.Nil, 0, cart.ErrItemNotFound
}

func (m *mockCartRepo) UpsertItem(ctx context.Context, q db.Querier, buyerID, productID uuid.UUID, quantity int) error {
	if m.upsertItemFunc != nil {
		return m.upsertItemFunc(ctx, q, buyerID, productID, quantity)
	}
	return nil
}

func (m *mockCartRepo) UpdateQuantity(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID, quantity int) error {
	if m.updateQuantityFunc != nil {
		return m.updateQuantityFunc(ctx, q, buyerID, itemID, quantity)
	}
	return nil
}

func (m *mockCartRepo) ItemProduct(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) (uuid.UUID, error) {
	return m.itemProductFunc(ctx, q, buyerID, itemID)
}

func (m *mockCartRepo) RemoveItem(ctx context.Context, q db.Querier, buyerID, itemID uuid.UUID) error {
	return m.removeItemFunc(ctx, q, buyerID, itemID)
}

func (m *mockCartRepo) Clear(ctx context.Context, q db.Querier, buyerID uuid.UUID) error {
	return m.clearFunc(ctx, q, buyerID)
}

type mockProductStore struct {
	getByIDFunc func(ctx context.Context, q db.Querier, id uuid.UUID) (*catalog.Product, error)
}

func (m *mockProductStore) GetByID(ctx context.Context, q db.Querier, id uuid.UUID) (*catalog.Product, error) {
	return m.getByIDFunc(ctx, q, id)
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func activeProduct(id uuid.UUID, stock int) *catalog.Product {
	return &catalog.Product{
		ID:            id,
		VendorID:      uuid.Must(uuid.NewV4()),
		Name:          "Test Product",
		Price:         d("20.00"),
		StockQuantity: stock,
		Status:        catalog.StatusActive,
	}
}

func TestService_AddItem(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())
	existingItemID := uuid.Must(uuid.NewV4())

	tests := []struct {
		name        string
		product     *catalog.Product
		productErr  error
		existingQty int
		quantity    int
		wantErr     error
		wantStock   bool
		wantUpsert  int
	}{
		{
			name:       "new_item",
			product:    activeProduct(productID, 10),
			quantity:   3,
			wantUpsert: 3,
		},
		{
			name:        "merge_with_existing_row",
			product:     activeProduct(productID, 10),
			existingQty: 2,
			quantity:    3,
			wantUpsert:  3,
		},
		{
			name:       "product_not_found",
			productErr: catalog.ErrProductNotFound,
			quantity:   1,
			wantErr:    catalog.ErrProductNotFound,
		},
		{
			name: "inactive_product",
			product: &catalog.Product{
				ID:            productID,
				Price:         d("20.00"),
				StockQuantity: 10,
				Status:        catalog.StatusInactive,
			},
			quantity: 1,
			wantErr:  cart.ErrProductUnavailable,
		},
		{
			name:      "requested_more_than_stock",
			product:   activeProduct(productID, 2),
			quantity:  3,
			wantStock: true,
		},
		{
			name:        "merge_exceeds_stock",
			product:     activeProduct(productID, 4),
			existingQty: 3,
			quantity:    2,
			wantStock:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upserted := 0
			repo := &mockCartRepo{
				findItemFunc: func(ctx context.Context, q db.Querier, buyer, product uuid.UUID) (uuid.UUID, int, error) {
					if tt.existingQty > 0 {
						return existingItemID, tt.existingQty, nil
					}
					return uuid.Nil, 0, cart.ErrItemNotFound
				},
				upsertItemFunc: func(ctx context.Context, q db.Querier, buyer, product uuid.UUID, quantity int) error {
					upserted = quantity
					return nil
				},
			}
			products := &mockProductStore{
				getByIDFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*catalog.Product, error) {
					if tt.productErr != nil {
						return nil, tt.productErr
					}
					return tt.product, nil
				},
			}

			svc := cart.NewService(nil, repo, products)
			err := svc.AddItem(context.Background(), buyerID, productID, tt.quantity)

			if tt.wantStock {
				var stockErr *catalog.InsufficientStockError
				require.ErrorAs(t, err, &stockErr)
				assert.Equal(t, tt.product.StockQuantity, stockErr.Available)
				return
			}
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.wantUpsert, upserted, "the upsert carries the delta, the row merge happens in SQL")
		})
	}
}

func TestService_UpdateItem_CappedByStock(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())
	itemID := uuid.Must(uuid.NewV4())
	productID := uuid.Must(uuid.NewV4())

	repo := &mockCartRepo{
		itemProductFunc: func(ctx context.Context, q db.Querier, buyer, item uuid.UUID) (uuid.UUID, error) {
			return productID, nil
		},
	}
	products := &mockProductStore{
		getByIDFunc: func(ctx context.Context, q db.Querier, id uuid.UUID) (*catalog.Product, error) {
			return activeProduct(productID, 2), nil
		},
	}

	svc := cart.NewService(nil, repo, products)
	err := svc.UpdateItem(context.Background(), buyerID, itemID, 5)

	var stockErr *catalog.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	assert.Equal(t, 2, stockErr.Available)
	assert.Equal(t, 5, stockErr.Requested)
}

func TestService_UpdateItem_NotFound(t *testing.T) {
	repo := &mockCartRepo{
		itemProductFunc: func(ctx context.Context, q db.Querier, buyer, item uuid.UUID) (uuid.UUID, error) {
			return uuid.Nil, cart.ErrItemNotFound
		},
	}

	svc := cart.NewService(nil, repo, &mockProductStore{})
	err := svc.UpdateItem(context.Background(), uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4()), 1)
	assert.ErrorIs(t, err, cart.ErrItemNotFound)
}

func TestService_GetCart_Summary(t *testing.T) {
	buyerID := uuid.Must(uuid.NewV4())

	repo := &mockCartRepo{
		linesFunc: func(ctx context.Context, q db.Querier, buyer uuid.UUID) ([]cart.Line, error) {
			return []cart.Line{
				{
					ItemID:    uuid.Must(uuid.NewV4()),
					ProductID: uuid.Must(uuid.NewV4()),
					Quantity:  2,
					Price:     d("20.00"),
				},
				{
					ItemID:        uuid.Must(uuid.NewV4()),
					ProductID:     uuid.Must(uuid.NewV4()),
					Quantity:      1,
					Price:         d("15.00"),
					DiscountPrice: decimal.NullDecimal{Decimal: d("10.00"), Valid: true},
				},
			}, nil
		},
	}

	svc := cart.NewService(nil, repo, &mockProductStore{})
	view, err := svc.GetCart(context.Background(), buyerID)

	require.NoError(t, err)
	assert.Equal(t, 2, view.Summary.ItemCount)
	assert.Equal(t, 3, view.Summary.TotalQuantity)
	assert.Equal(t, "50.00", view.Summary.Subtotal.StringFixed(2), "discount price counts toward the subtotal")
}

func TestLine_EffectiveUnitPrice(t *testing.T) {
	tests := []struct {
		name     string
		price    string
		discount string
		want     string
	}{
		{"no_discount", "20.00", "", "20.00"},
		{"lower_discount_wins", "20.00", "15.00", "15.00"},
		{"higher_discount_ignored", "20.00", "25.00", "20.00"},
		{"equal_discount_ignored", "20.00", "20.00", "20.00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := cart.Line{Price: d(tt.price)}
			if tt.discount != "" {
				l.DiscountPrice = decimal.NullDecimal{Decimal: d(tt.discount), Valid: true}
			}
			assert.Equal(t, tt.want, l.EffectiveUnitPrice().StringFixed(2))
		})
	}
}
