package catalog

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	StatusActive   ProductStatus = "active"
	StatusInactive ProductStatus = "inactive"
)

type Product struct {
	ID            uuid.UUID           `json:"id"`
	VendorID      uuid.UUID           `json:"vendor_id"`
	Name          string              `json:"name"`
	Price         decimal.Decimal     `json:"price"`
	DiscountPrice decimal.NullDecimal `json:"discount_price,omitempty"`
	StockQuantity int                 `json:"stock_quantity"`
	Status        ProductStatus       `json:"status"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// EffectivePrice is the price a buyer actually pays: the discount price when
// one is set and lower than the regular price.
func (p *Product) EffectivePrice() decimal.Decimal {
	if p.DiscountPrice.Valid && p.DiscountPrice.Decimal.LessThan(p.Price) {
		return p.DiscountPrice.Decimal
	}
	return p.Price
}
