package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// UpdateProductStock applies delta with one UPDATE ... RETURNING so
// concurrent decrements on the same row never lose an update. With a
// key, the adjustment row is written in the same transaction; a replayed
// key changes nothing and reports the quantity recorded the first time.
func (r *Repo) UpdateProductStock(ctx context.Context, productID string, delta int, key string) (StockChange, error) {
	if key != "" {
		if qty, ok, err := r.recordedAdjustment(ctx, key); err != nil || ok {
			return StockChange{ProductID: productID, Quantity: qty}, err
		}
	}

	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return StockChange{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var qty int
	err = tx.QueryRow(ctx, `
		UPDATE products SET stock_quantity = stock_quantity + $2, updated_at = now()
		WHERE id = $1
		RETURNING stock_quantity`, productID, delta).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockChange{}, fmt.Errorf("product %s: %w", productID, ErrNotFound)
	}
	if err != nil {
		return StockChange{}, err
	}

	if key != "" {
		ct, err := tx.Exec(ctx, `
			INSERT INTO stock_adjustments(idempotency_key, product_id, delta, resulting_quantity)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (idempotency_key) DO NOTHING`, key, productID, delta, qty)
		if err != nil {
			return StockChange{}, err
		}
		if ct.RowsAffected() != 1 {
			// a concurrent delivery of the same key committed first
			_ = tx.Rollback(ctx)
			qty, _, err := r.recordedAdjustment(ctx, key)
			return StockChange{ProductID: productID, Quantity: qty}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return StockChange{}, err
	}
	return StockChange{ProductID: productID, Quantity: qty, Applied: true}, nil
}

func (r *Repo) recordedAdjustment(ctx context.Context, key string) (int, bool, error) {
	var qty int
	err := r.DB.QueryRow(ctx, `SELECT resulting_quantity FROM stock_adjustments WHERE idempotency_key=$1`, key).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

// MarkItemFulfilled locks the order row so that concurrent completions of
// the same order's items are serialized and exactly one sees zero left.
func (r *Repo) MarkItemFulfilled(ctx context.Context, orderID, itemID string) (int, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	if err := tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return 0, err
	}

	ct, err := tx.Exec(ctx, `
		UPDATE order_items SET fulfilled_at = now()
		WHERE id=$1 AND order_id=$2 AND fulfilled_at IS NULL`, itemID, orderID)
	if err != nil {
		return 0, err
	}
	if ct.RowsAffected() == 0 {
		if err := tx.QueryRow(ctx, `SELECT 1 FROM order_items WHERE id=$1 AND order_id=$2`, itemID, orderID).Scan(&one); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return 0, fmt.Errorf("order item %s: %w", itemID, ErrNotFound)
			}
			return 0, err
		}
	}

	var remaining int
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM order_items WHERE order_id=$1 AND fulfilled_at IS NULL`, orderID).Scan(&remaining); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

// AppendStatusEvent checks the transition table under a row lock and
// writes orders.status together with the history row.
func (r *Repo) AppendStatusEvent(ctx context.Context, orderID string, status Status, notes, actor string) (StatusEvent, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return StatusEvent{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur string
	if err := tx.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1 FOR UPDATE`, orderID).Scan(&cur); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusEvent{}, fmt.Errorf("order %s: %w", orderID, ErrNotFound)
		}
		return StatusEvent{}, err
	}
	if !CanTransition(Status(cur), status) {
		return StatusEvent{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur, status)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2, updated_at=now() WHERE id=$1`, orderID, string(status)); err != nil {
		return StatusEvent{}, err
	}
	ev := StatusEvent{OrderID: orderID, Status: status, Notes: notes, CreatedBy: actor}
	if err := tx.QueryRow(ctx, `
		INSERT INTO order_status_events(order_id, status, notes, created_by)
		VALUES ($1,$2,$3,$4)
		RETURNING id, created_at`, orderID, string(status), notes, actor).Scan(&ev.ID, &ev.CreatedAt); err != nil {
		return StatusEvent{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return StatusEvent{}, err
	}
	return ev, nil
}
