package fulfillment

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// HandleOrderCreated fans out one StockDecrement per item. Running it
// again enqueues the same decrements; their keys make that harmless.
func (s *Service) HandleOrderCreated(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[jobs.OrderCreatedPayload](job)
	if err != nil {
		return err
	}
	o, err := s.Store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return classify(err)
	}
	if o.Status == orders.StatusCancelled {
		s.log().Info("order_cancelled_skip_fanout", "order_id", o.ID)
		return nil
	}
	items, err := s.Store.GetOrderItems(ctx, o.ID)
	if err != nil {
		return classify(err)
	}
	if len(items) == 0 {
		return s.complete(ctx, o.ID)
	}

	for _, it := range items {
		if it.FulfilledAt != nil {
			continue
		}
		_, err := s.Jobs.Submit(ctx, jobs.KindStockDecrement, StockDecrementPayload{
			OrderID:   o.ID,
			ItemID:    it.ID,
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			Key:       StockKey(o.ID, it.ID),
		})
		if err != nil {
			return fmt.Errorf("enqueue stock decrement for item %s: %w", it.ID, err)
		}
	}
	s.log().Info("order_fanout_enqueued", "order_id", o.ID, "items", len(items))
	return nil
}

// HandleStockDecrement applies the decrement, raises a low-stock alert
// when the recorded quantity is at or below zero, and marks the item
// done. The last item to finish confirms the order.
func (s *Service) HandleStockDecrement(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[StockDecrementPayload](job)
	if err != nil {
		return err
	}
	if p.Quantity <= 0 {
		return jobs.Permanent(fmt.Errorf("stock decrement for %s: quantity %d", p.ProductID, p.Quantity))
	}

	ch, err := s.Store.UpdateProductStock(ctx, p.ProductID, -p.Quantity, p.Key)
	if err != nil {
		return classify(err)
	}
	log := s.log().With("order_id", p.OrderID, "product_id", p.ProductID)
	if ch.Applied {
		log.Info("stock_decremented", "quantity", p.Quantity, "stock", ch.Quantity)
	} else {
		log.Info("stock_decrement_replayed", "stock", ch.Quantity)
	}

	// also on replay: the first delivery may have died before enqueueing
	if ch.Quantity <= 0 {
		if _, err := s.Jobs.Submit(ctx, jobs.KindLowStockAlert, LowStockAlertPayload{
			ProductID: p.ProductID,
			Key:       lowStockKey(p.Key),
		}); err != nil {
			return fmt.Errorf("enqueue low stock alert: %w", err)
		}
	}

	if p.OrderID == "" || p.ItemID == "" {
		return nil
	}
	remaining, err := s.Store.MarkItemFulfilled(ctx, p.OrderID, p.ItemID)
	if err != nil {
		return classify(err)
	}
	if remaining > 0 {
		return nil
	}
	return s.complete(ctx, p.OrderID)
}

// complete confirms a pending order once all its stock work is done and
// enqueues the confirmation email.
func (s *Service) complete(ctx context.Context, orderID string) error {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return classify(err)
	}
	if o.Status == orders.StatusPending {
		ev, err := s.Store.AppendStatusEvent(ctx, orderID, orders.StatusConfirmed, "All items processed", actor)
		switch {
		case errors.Is(err, orders.ErrInvalidTransition):
			// changed under us; decide on the fresh status
			if o, err = s.Store.GetOrder(ctx, orderID); err != nil {
				return classify(err)
			}
			s.cache().Set(ctx, orderID, orders.CachedStatus{Status: o.Status, UpdatedAt: o.UpdatedAt})
		case err != nil:
			return classify(err)
		default:
			o.Status = orders.StatusConfirmed
			s.cache().Set(ctx, orderID, orders.CachedStatus{Status: ev.Status, UpdatedAt: ev.CreatedAt})
		}
	}
	if o.Status == orders.StatusCancelled {
		s.log().Info("order_cancelled_skip_confirmation", "order_id", orderID)
		return nil
	}
	if _, err := s.Jobs.Submit(ctx, jobs.KindOrderConfirmationEmail, ConfirmationEmailPayload{OrderID: orderID}); err != nil {
		return fmt.Errorf("enqueue confirmation email: %w", err)
	}
	s.log().Info("order_confirmed", "order_id", orderID)
	return nil
}

func (s *Service) HandleConfirmationEmail(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[ConfirmationEmailPayload](job)
	if err != nil {
		return err
	}
	o, err := s.Store.GetOrder(ctx, p.OrderID)
	if err != nil {
		return classify(err)
	}
	items, err := s.Store.GetOrderItems(ctx, o.ID)
	if err != nil {
		return classify(err)
	}
	if err := orders.CheckTotals(o, items); err != nil {
		return classify(err)
	}
	customer, err := s.Store.GetUser(ctx, o.CustomerID)
	if err != nil {
		return classify(err)
	}

	msg, err := notify.Confirmation{
		To:           customer.Email,
		CustomerName: customer.FullName(),
		OrderNumber:  o.OrderNumber,
		Total:        o.TotalAmount,
		Status:       string(o.Status),
	}.Message(ConfirmationKey(o.ID))
	if err != nil {
		return jobs.Permanent(err)
	}
	if err := s.Mail.Send(ctx, msg); err != nil {
		return err
	}
	s.log().Info("confirmation_email_sent", "order_id", o.ID, "to", customer.Email)
	return nil
}

func (s *Service) HandleLowStockAlert(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[LowStockAlertPayload](job)
	if err != nil {
		return err
	}
	prod, err := s.Store.GetProduct(ctx, p.ProductID)
	if err != nil {
		return classify(err)
	}
	vendor, err := s.Store.GetUser(ctx, prod.VendorID)
	if err != nil {
		return classify(err)
	}

	msg, err := notify.LowStock{
		To:          vendor.Email,
		VendorName:  vendor.FullName(),
		ProductName: prod.Name,
		Stock:       prod.StockQuantity,
	}.Message(p.Key)
	if err != nil {
		return jobs.Permanent(err)
	}
	if err := s.Mail.Send(ctx, msg); err != nil {
		return err
	}
	s.log().Info("low_stock_alert_sent", "product_id", prod.ID, "stock", prod.StockQuantity, "to", vendor.Email)
	return nil
}
