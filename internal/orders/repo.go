package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo is the postgres Store. Pricing is used as given; zero rates
// mean no tax and free shipping.
type Repo struct {
	DB      *pgxpool.Pool
	Pricing Pricing
}

// NewRepo returns a Repo priced with DefaultPricing.
func NewRepo(db *pgxpool.Pool) *Repo {
	return &Repo{DB: db, Pricing: DefaultPricing}
}

var _ Store = (*Repo)(nil)

const orderColumns = `id, order_number, customer_id, status, subtotal, tax_amount, shipping_cost,
	total_amount, shipping_address, billing_address, notes, created_at, updated_at`

const itemColumns = `id, order_id, product_id, quantity, unit_price, total_price, fulfilled_at, created_at`

const productColumns = `id, sku, name, vendor_id, price, stock_quantity, created_at, updated_at`

// CreateOrder prices the items from the products table (never from the
// client), then writes order, items and the initial status event in one
// transaction. A colliding order_number is retried with a fresh one.
func (r *Repo) CreateOrder(ctx context.Context, in NewOrder) (Order, error) {
	if err := validateNewOrder(in); err != nil {
		return Order{}, err
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		var o Order
		o, err = r.createOrderTx(ctx, in)
		if !errors.Is(err, ErrDuplicateOrderNumber) {
			return o, err
		}
	}
	return Order{}, err
}

func (r *Repo) createOrderTx(ctx context.Context, in NewOrder) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id=$1`, in.CustomerID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Order{}, fmt.Errorf("customer %s: %w", in.CustomerID, ErrNotFound)
		}
		return Order{}, err
	}

	productIDs := make([]string, 0, len(in.Items))
	for _, it := range in.Items {
		productIDs = append(productIDs, it.ProductID)
	}
	rows, err := tx.Query(ctx, `SELECT id, price FROM products WHERE id = ANY($1)`, productIDs)
	if err != nil {
		return Order{}, err
	}
	prices := map[string]pgtype.Numeric{}
	for rows.Next() {
		var id string
		var price pgtype.Numeric
		if err := rows.Scan(&id, &price); err != nil {
			rows.Close()
			return Order{}, err
		}
		prices[id] = price
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Order{}, err
	}

	o := Order{
		ID:              uuid.NewString(),
		CustomerID:      in.CustomerID,
		Status:          StatusPending,
		ShippingAddress: in.ShippingAddress,
		BillingAddress:  in.BillingAddress,
		Notes:           in.Notes,
	}
	items := make([]OrderItem, 0, len(in.Items))
	for _, it := range in.Items {
		price, ok := prices[it.ProductID]
		if !ok {
			return Order{}, fmt.Errorf("product %s: %w", it.ProductID, ErrNotFound)
		}
		unit := fromNumeric(price)
		items = append(items, OrderItem{
			ID:         uuid.NewString(),
			OrderID:    o.ID,
			ProductID:  it.ProductID,
			Quantity:   it.Quantity,
			UnitPrice:  unit,
			TotalPrice: LineTotal(unit, it.Quantity),
		})
	}
	t := r.Pricing.Quote(items)
	o.Subtotal, o.TaxAmount, o.ShippingCost, o.TotalAmount = t.Subtotal, t.TaxAmount, t.ShippingCost, t.TotalAmount

	err = tx.QueryRow(ctx, `
		INSERT INTO orders(id, order_number, customer_id, status, subtotal, tax_amount, shipping_cost,
		                   total_amount, shipping_address, billing_address, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING order_number, created_at, updated_at`,
		o.ID, NewOrderNumber(timeNow()), o.CustomerID, string(o.Status),
		toNumeric(o.Subtotal), toNumeric(o.TaxAmount), toNumeric(o.ShippingCost), toNumeric(o.TotalAmount),
		o.ShippingAddress, o.BillingAddress, o.Notes,
	).Scan(&o.OrderNumber, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == "orders_order_number_key" {
			return Order{}, ErrDuplicateOrderNumber
		}
		return Order{}, err
	}

	for _, it := range items {
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, quantity, unit_price, total_price)
			VALUES ($1,$2,$3,$4,$5,$6)`,
			it.ID, it.OrderID, it.ProductID, it.Quantity, toNumeric(it.UnitPrice), toNumeric(it.TotalPrice),
		); err != nil {
			return Order{}, err
		}
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO order_status_events(order_id, status, notes, created_by)
		VALUES ($1, $2, 'Order placed', $3)`, o.ID, string(StatusPending), o.CustomerID); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (r *Repo) GetOrder(ctx context.Context, id string) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	return o, err
}

func (r *Repo) GetOrderItems(ctx context.Context, orderID string) ([]OrderItem, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+itemColumns+` FROM order_items WHERE order_id=$1 ORDER BY created_at, id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrderItem
	for rows.Next() {
		var it OrderItem
		var unit, total pgtype.Numeric
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Quantity, &unit, &total, &it.FulfilledAt, &it.CreatedAt); err != nil {
			return nil, err
		}
		it.UnitPrice, it.TotalPrice = fromNumeric(unit), fromNumeric(total)
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *Repo) GetProduct(ctx context.Context, id string) (Product, error) {
	p, err := scanProduct(r.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", id, ErrNotFound)
	}
	return p, err
}

func (r *Repo) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	err := r.DB.QueryRow(ctx, `SELECT id, email, first_name, last_name, is_vendor FROM users WHERE id=$1`, id).
		Scan(&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.IsVendor)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, fmt.Errorf("user %s: %w", id, ErrNotFound)
	}
	return u, err
}

func (r *Repo) StatusHistory(ctx context.Context, orderID string) ([]StatusEvent, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, status, notes, created_by, created_at
		FROM order_status_events WHERE order_id=$1 ORDER BY id`, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StatusEvent
	for rows.Next() {
		var ev StatusEvent
		var s string
		if err := rows.Scan(&ev.ID, &ev.OrderID, &s, &ev.Notes, &ev.CreatedBy, &ev.CreatedAt); err != nil {
			return nil, err
		}
		ev.Status = Status(s)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	var status string
	var sub, tax, ship, total pgtype.Numeric
	err := row.Scan(&o.ID, &o.OrderNumber, &o.CustomerID, &status, &sub, &tax, &ship, &total,
		&o.ShippingAddress, &o.BillingAddress, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return Order{}, err
	}
	o.Status = Status(status)
	o.Subtotal, o.TaxAmount = fromNumeric(sub), fromNumeric(tax)
	o.ShippingCost, o.TotalAmount = fromNumeric(ship), fromNumeric(total)
	return o, nil
}

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	var price pgtype.Numeric
	if err := row.Scan(&p.ID, &p.SKU, &p.Name, &p.VendorID, &price, &p.StockQuantity, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return Product{}, err
	}
	p.Price = fromNumeric(price)
	return p, nil
}
