package orders

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

// tables in foreign-key order
var exportTables = []string{"users", "products", "orders", "order_items", "order_status_events", "stock_adjustments"}

func orderWhere(f OrderFilter) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if !f.CreatedFrom.IsZero() {
		add("created_at >= $%d", f.CreatedFrom)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	if len(f.Statuses) > 0 {
		ss := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			ss = append(ss, string(s))
		}
		add("status = ANY($%d)", ss)
	}
	if f.CustomerID != "" {
		add("customer_id = $%d", f.CustomerID)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repo) ListOrders(ctx context.Context, f OrderFilter) ([]Order, error) {
	where, args := orderWhere(f)
	q := `SELECT ` + orderColumns + ` FROM orders` + where + ` ORDER BY created_at, id`
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := r.DB.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// DeleteOrders removes matching orders in one transaction; items and
// status events go with them through ON DELETE CASCADE. An empty filter
// is rejected.
func (r *Repo) DeleteOrders(ctx context.Context, f OrderFilter) (int, error) {
	where, args := orderWhere(f)
	if where == "" {
		return 0, errors.New("delete orders: refusing empty filter")
	}
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ct, err := tx.Exec(ctx, `DELETE FROM orders`+where, args...)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return int(ct.RowsAffected()), nil
}

func (r *Repo) ListVendors(ctx context.Context) ([]string, error) {
	rows, err := r.DB.Query(ctx, `SELECT DISTINCT vendor_id FROM products ORDER BY vendor_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (r *Repo) ListVendorProducts(ctx context.Context, vendorID string) ([]Product, error) {
	var one int
	if err := r.DB.QueryRow(ctx, `SELECT 1 FROM users WHERE id=$1`, vendorID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("vendor %s: %w", vendorID, ErrNotFound)
		}
		return nil, err
	}
	rows, err := r.DB.Query(ctx, `SELECT `+productColumns+` FROM products WHERE vendor_id=$1 ORDER BY sku`, vendorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repo) SyncProduct(ctx context.Context, productID string, stock int, price decimal.Decimal) error {
	ct, err := r.DB.Exec(ctx, `
		UPDATE products SET stock_quantity=$2, price=$3, updated_at=now() WHERE id=$1`,
		productID, stock, toNumeric(price))
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	return nil
}

// Snapshot copies every table as CSV inside one repeatable-read,
// read-only transaction so the export is a consistent point in time.
func (r *Repo) Snapshot(ctx context.Context) ([]TableDump, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	out := make([]TableDump, 0, len(exportTables))
	for _, t := range exportTables {
		var buf bytes.Buffer
		sql := `COPY (SELECT * FROM ` + t + `) TO STDOUT WITH (FORMAT csv, HEADER true)`
		if _, err := tx.Conn().PgConn().CopyTo(ctx, &buf, sql); err != nil {
			return nil, fmt.Errorf("export %s: %w", t, err)
		}
		out = append(out, TableDump{Name: t, Ext: "csv", Data: buf.Bytes()})
	}
	return out, tx.Commit(ctx)
}
