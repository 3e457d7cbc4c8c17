package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

// HandleCleanup deletes finished orders created before the payload's
// cutoff. The store does it in one transaction; a retry starts over.
func (s *Service) HandleCleanup(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[CleanupPayload](job)
	if err != nil {
		return err
	}
	cutoff, err := time.Parse(time.RFC3339, p.Cutoff)
	if err != nil || cutoff.IsZero() {
		return jobs.Permanent(fmt.Errorf("cleanup cutoff %q is invalid", p.Cutoff))
	}
	n, err := s.Store.DeleteOrders(ctx, orders.OrderFilter{
		CreatedBefore: cutoff,
		Statuses:      []orders.Status{orders.StatusDelivered, orders.StatusCancelled},
	})
	if err != nil {
		return err
	}
	s.log().Info("old_orders_deleted", "count", n, "cutoff", p.Cutoff)
	return nil
}
