package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidTransition    = errors.New("invalid status transition")
	ErrInvalidOrder         = errors.New("invalid order")
	ErrDuplicateOrderNumber = errors.New("duplicate order number")
)

// Store is the durable state the fulfillment pipeline reads and mutates.
// Repo (postgres) and MemStore implement it.
type Store interface {
	CreateOrder(ctx context.Context, in NewOrder) (Order, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	GetUser(ctx context.Context, id string) (User, error)

	// UpdateProductStock adds delta to the product's stock in a single
	// atomic statement. A non-empty key makes the call idempotent.
	UpdateProductStock(ctx context.Context, productID string, delta int, key string) (StockChange, error)
	// MarkItemFulfilled records that an item's stock work is done and
	// returns how many items of the order are still outstanding.
	MarkItemFulfilled(ctx context.Context, orderID, itemID string) (int, error)

	AppendStatusEvent(ctx context.Context, orderID string, status Status, notes, actor string) (StatusEvent, error)
	StatusHistory(ctx context.Context, orderID string) ([]StatusEvent, error)

	ListOrders(ctx context.Context, f OrderFilter) ([]Order, error)
	DeleteOrders(ctx context.Context, f OrderFilter) (int, error)

	ListVendors(ctx context.Context) ([]string, error)
	ListVendorProducts(ctx context.Context, vendorID string) ([]Product, error)
	SyncProduct(ctx context.Context, productID string, stock int, price decimal.Decimal) error

	Snapshot(ctx context.Context) ([]TableDump, error)
}

var timeNow = time.Now

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXXXX.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}

func validateNewOrder(in NewOrder) error {
	if in.CustomerID == "" {
		return fmt.Errorf("%w: customer is required", ErrInvalidOrder)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidOrder)
	}
	for _, it := range in.Items {
		if it.ProductID == "" {
			return fmt.Errorf("%w: item without product", ErrInvalidOrder)
		}
		if it.Quantity <= 0 {
			return fmt.Errorf("%w: invalid quantity for product %s", ErrInvalidOrder, it.ProductID)
		}
	}
	return nil
}
