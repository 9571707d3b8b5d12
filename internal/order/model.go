package order

import (
	"time"

	"github.com/gofrs/uuid"
	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentCard           PaymentMethod = "card"
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentBankTransfer   PaymentMethod = "bank_transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentCard, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	}
	return false
}

type OrderItem struct {
	ID         uuid.UUID       `json:"id"`
	OrderID    uuid.UUID       `json:"order_id"`
	ProductID  uuid.UUID       `json:"product_id"`
	VendorID   uuid.UUID       `json:"vendor_id"`
	Quantity   int             `json:"quantity"`
	UnitPrice  decimal.Decimal `json:"unit_price"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
}

type Order struct {
	ID                    uuid.UUID       `json:"id"`
	OrderNumber           string          `json:"order_number"`
	UserID                uuid.UUID       `json:"user_id"`
	Subtotal              decimal.Decimal `json:"subtotal"`
	TaxAmount             decimal.Decimal `json:"tax_amount"`
	ShippingAmount        decimal.Decimal `json:"shipping_amount"`
	DiscountAmount        decimal.Decimal `json:"discount_amount"`
	TotalAmount           decimal.Decimal `json:"total_amount"`
	PaymentMethod         PaymentMethod   `json:"payment_method"`
	ShippingAddress       string          `json:"shipping_address"`
	BillingAddress        string          `json:"billing_address"`
	Status                Status          `json:"status"`
	TrackingNumber        *string         `json:"tracking_number,omitempty"`
	EstimatedDeliveryDate time.Time       `json:"estimated_delivery_date"`
	Items                 []OrderItem     `json:"items,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

// Summary is one row of a buyer's order history.
type Summary struct {
	ID          uuid.UUID       `json:"id"`
	OrderNumber string          `json:"order_number"`
	Status      Status          `json:"status"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ItemCount   int             `json:"item_count"`
	CreatedAt   time.Time       `json:"created_at"`
}
