package orders

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	IsVendor  bool   `json:"is_vendor"`
}

func (u User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

type Product struct {
	ID            string          `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	VendorID      string          `json:"vendor_id"`
	Price         decimal.Decimal `json:"price"`
	StockQuantity int             `json:"stock_quantity"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

type Order struct {
	ID              string          `json:"id"`
	OrderNumber     string          `json:"order_number"`
	CustomerID      string          `json:"customer_id"`
	Status          Status          `json:"status"` // lihat status.go
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxAmount       decimal.Decimal `json:"tax_amount"`
	ShippingCost    decimal.Decimal `json:"shipping_cost"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	ShippingAddress string          `json:"shipping_address"`
	BillingAddress  string          `json:"billing_address"`
	Notes           string          `json:"notes,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type OrderItem struct {
	ID          string          `json:"id"`
	OrderID     string          `json:"order_id"`
	ProductID   string          `json:"product_id"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
	FulfilledAt *time.Time      `json:"fulfilled_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type StatusEvent struct {
	ID        int64     `json:"id"`
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	Notes     string    `json:"notes"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemInput is one requested line of a new order; the unit price is
// taken from the product at creation time.
type ItemInput struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

type NewOrder struct {
	CustomerID      string      `json:"customer_id"`
	ShippingAddress string      `json:"shipping_address"`
	BillingAddress  string      `json:"billing_address"`
	Notes           string      `json:"notes"`
	Items           []ItemInput `json:"items"`
}

// StockChange is the outcome of UpdateProductStock. Quantity is the
// post-update stock recorded for the adjustment; for a replayed
// idempotency key it is the value recorded the first time.
type StockChange struct {
	ProductID string
	Quantity  int
	Applied   bool
}

type OrderFilter struct {
	CreatedFrom   time.Time // inclusive, zero = unbounded
	CreatedBefore time.Time // exclusive, zero = unbounded
	Statuses      []Status
	CustomerID    string
	Limit         int
}

func (f OrderFilter) matches(o Order) bool {
	if !f.CreatedFrom.IsZero() && o.CreatedAt.Before(f.CreatedFrom) {
		return false
	}
	if !f.CreatedBefore.IsZero() && !o.CreatedAt.Before(f.CreatedBefore) {
		return false
	}
	if f.CustomerID != "" && o.CustomerID != f.CustomerID {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// TableDump is one table of a full export.
type TableDump struct {
	Name string
	Ext  string // file extension of Data, e.g. "csv"
	Data []byte
}
