package cart

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

// Line is one cart row joined with its product, the shape the cart view and
// the checkout read both use.
type Line struct {
	ItemID        uuid.UUID           `json:"item_id"`
	ProductID     uuid.UUID           `json:"product_id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	ProductName   string              `json:"product_name"`
	Quantity      int                 `json:"quantity"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discount_price,omitempty"`
	StockQuantity int                 `json:"stock_quantity"`
	AddedAt       time.Time           `json:"added_at"`
}

// EffectiveUnitPrice is the discount price when set and lower, else the
// regular price. Frozen into the order line at placement time.
func (l Line) EffectiveUnitPrice() decimal.Decimal {
	if l.DiscountPrice.Valid && l.DiscountPrice.Decimal.LessThan(l.Price) {
		return l.DiscountPrice.Decimal
	}
	return l.Price
}

type Summary struct {
	ItemCount     int             `json:"item_count"`
	TotalQuantity int             `json:"total_quantity"`
	Subtotal      decimal.Decimal `json:"subtotal"`
}

type View struct {
	Items   []Line  `json:"items"`
	Summary Summary `json:"summary"`
}
