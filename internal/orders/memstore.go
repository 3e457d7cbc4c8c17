package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MemStore is an in-process Store. One mutex guards everything, which
// gives the same atomicity the postgres transactions give.
type MemStore struct {
	Pricing Pricing
	Now     func() time.Time

	mu          sync.Mutex
	users       map[string]User
	products    map[string]Product
	orders      map[string]Order
	items       map[string][]OrderItem // by order id
	events      map[string][]StatusEvent
	adjustments map[string]int // idempotency key -> resulting quantity
	numbers     map[string]bool
	eventSeq    int64
}

var _ Store = (*MemStore)(nil)

func NewMemStore() *MemStore {
	return &MemStore{
		Pricing:     DefaultPricing,
		Now:         time.Now,
		users:       map[string]User{},
		products:    map[string]Product{},
		orders:      map[string]Order{},
		items:       map[string][]OrderItem{},
		events:      map[string][]StatusEvent{},
		adjustments: map[string]int{},
		numbers:     map[string]bool{},
	}
}

func (m *MemStore) PutUser(u User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
}

func (m *MemStore) PutProduct(p Product) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.products[p.ID] = p
}

// PutOrder stores an order and its items as-is, bypassing pricing.
func (m *MemStore) PutOrder(o Order, items []OrderItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	m.numbers[o.OrderNumber] = true
	m.items[o.ID] = append([]OrderItem(nil), items...)
}

func (m *MemStore) CreateOrder(_ context.Context, in NewOrder) (Order, error) {
	if err := validateNewOrder(in); err != nil {
		return Order{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[in.CustomerID]; !ok {
		return Order{}, fmt.Errorf("customer %s: %w", in.CustomerID, ErrNotFound)
	}
	now := m.Now()
	o := Order{
		ID:              uuid.NewString(),
		CustomerID:      in.CustomerID,
		Status:          StatusPending,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	items := make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		p, ok := m.products[it.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("product %s: %w", it.ProductID, ErrNotFound)
		}
		items = append(items, OrderItem{
			ID:         uuid.NewString(),
			OrderID:    o.ID,
			ProductID:  p.ID,
			Quantity:   it.Quantity,
			UnitPrice:  p.Price,
			TotalPrice: LineTotal(p.Price, it.Quantity),
			CreatedAt:  now,
		})
	}
	t := m.Pricing.Quote(items)
	o.Subtotal, o.TaxAmount, o.ShippingCost, o.TotalAmount = t.Subtotal, t.TaxAmount, t.ShippingCost, t.TotalAmount

	for {
		o.OrderNumber = NewOrderNumber(now)
		if !m.numbers[o.OrderNumber] {
			break
		}
	}
	m.numbers[o.OrderNumber] = true
	m.orders[o.ID] = o
	m.items[o.ID] = items
	m.appendEventLocked(o.ID, StatusPending, "Order placed", o.CustomerID, now)
	return o, nil
}

func (m *MemStore) GetOrder(_ context.Context, id string) (Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, nil
}

func (m *MemStore) GetOrderItems(_ context.Context, orderID string) ([]OrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]OrderItem(nil), m.items[orderID]...), nil
}

func (m *MemStore) GetProduct(_ context.Context, id string) (Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, nil
}

func (m *MemStore) GetUser(_ context.Context, id string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, nil
}

func (m *MemStore) UpdateProductStock(_ context.Context, productID string, delta int, key string) (StockChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if key != "" {
		if qty, ok := m.adjustments[key]; ok {
			return StockChange{ProductID: productID, Quantity: qty}, nil
		}
	}
	p, ok := m.products[productID]
	if !ok {
		return StockChange{}, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	p.StockQuantity += delta
	p.UpdatedAt = m.Now()
	m.products[productID] = p
	if key != "" {
		m.adjustments[key] = p.StockQuantity
	}
	return StockChange{ProductID: productID, Quantity: p.StockQuantity, Applied: true}, nil
}

func (m *MemStore) MarkItemFulfilled(_ context.Context, orderID, itemID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[orderID]; !ok {
		return 0, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	items := m.items[orderID]
	found := false
	remaining := 0
	for i := range items {
		if items[i].ID == itemID {
			found = true
			if items[i].FulfilledAt == nil {
				now := m.Now()
				items[i].FulfilledAt = &now
			}
		}
		if items[i].FulfilledAt == nil {
			remaining++
		}
	}
	if !found {
		return 0, fmt.Errorf("order item %s: %w", itemID, ErrNotFound)
	}
	return remaining, nil
}

func (m *MemStore) AppendStatusEvent(_ context.Context, orderID string, status Status, notes, actor string) (StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[orderID]
	if !ok {
		return StatusEvent{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
	}
	if !CanTransition(o.Status, status) {
		return StatusEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, o.Status, status)
	}
	now := m.Now()
	o.Status = status
	o.UpdatedAt = now
	m.orders[orderID] = o
	return m.appendEventLocked(orderID, status, notes, actor, now), nil
}

func (m *MemStore) appendEventLocked(orderID string, status Status, notes, actor string, at time.Time) StatusEvent {
	m.eventSeq++
	ev := StatusEvent{ID: m.eventSeq, OrderID: orderID, Status: status, Notes: notes, CreatedBy: actor, CreatedAt: at}
	m.events[orderID] = append(m.events[orderID], ev)
	return ev
}

func (m *MemStore) StatusHistory(_ context.Context, orderID string) ([]StatusEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StatusEvent(nil), m.events[orderID]...), nil
}

func (m *MemStore) ListOrders(_ context.Context, f OrderFilter) ([]Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Order
	for _, o := range m.orders {
		if f.matches(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemStore) DeleteOrders(_ context.Context, f OrderFilter) (int, error) {
	if f.CreatedFrom.IsZero() && f.CreatedBefore.IsZero() && len(f.Statuses) == 0 && f.CustomerID == "" {
		return 0, fmt.Errorf("delete orders: refusing empty filter")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, o := range m.orders {
		if !f.matches(o) {
			continue
		}
		delete(m.orders, id)
		delete(m.items, id)
		delete(m.events, id)
		n++
	}
	return n, nil
}

func (m *MemStore) ListVendors(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := map[string]bool{}
	var out []string
	for _, p := range m.products {
		if !seen[p.VendorID] {
			seen[p.VendorID] = true
			out = append(out, p.VendorID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemStore) ListVendorProducts(_ context.Context, vendorID string) ([]Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[vendorID]; !ok {
		return nil, fmt.Errorf("vendor %s: %w", vendorID, ErrNotFound)
	}
	var out []Product
	for _, p := range m.products {
		if p.VendorID == vendorID {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

func (m *MemStore) SyncProduct(_ context.Context, productID string, stock int, price decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[productID]
	if !ok {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	p.StockQuantity = stock
	p.Price = price
	p.UpdatedAt = m.Now()
	m.products[productID] = p
	return nil
}

// Snapshot exports each table as a JSON array.
func (m *MemStore) Snapshot(_ context.Context) ([]TableDump, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var items []OrderItem
	var events []StatusEvent
	for id := range m.orders {
		items = append(items, m.items[id]...)
		events = append(events, m.events[id]...)
	}
	tables := []struct {
		name string
		v    any
	}{
		{"users", m.users},
		{"products", m.products},
		{"orders", m.orders},
		{"order_items", items},
		{"order_status_events", events},
		{"stock_adjustments", m.adjustments},
	}
	out := make([]TableDump, 0, len(tables))
	for _, t := range tables {
		b, err := json.Marshal(t.v)
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", t.name, err)
		}
		out = append(out, TableDump{Name: t.name, Ext: "json", Data: b})
	}
	return out, nil
}
