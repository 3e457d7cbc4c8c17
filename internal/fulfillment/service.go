// Package fulfillment holds the job handlers that carry a placed order
// through stock decrement, confirmation and low-stock alerting.
package fulfillment

import (
	"errors"
	"log/slog"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

const actor = "fulfillment"

type Service struct {
	Store orders.Store
	Jobs  *jobs.Client
	Mail  notify.Sender
	// Cache gets the new status whenever the service moves an order.
	Cache orders.StatusCache
	Log   *slog.Logger
}

// Handlers maps each job kind this service owns to its handler.
func (s *Service) Handlers() map[jobs.Kind]jobs.Handler {
	return map[jobs.Kind]jobs.Handler{
		jobs.KindOrderCreated:           s.HandleOrderCreated,
		jobs.KindStockDecrement:         s.HandleStockDecrement,
		jobs.KindOrderConfirmationEmail: s.HandleConfirmationEmail,
		jobs.KindLowStockAlert:          s.HandleLowStockAlert,
	}
}

func (s *Service) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Service) cache() orders.StatusCache {
	if s.Cache == nil {
		return orders.NoStatusCache{}
	}
	return s.Cache
}

// classify marks store errors that no retry can fix.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, orders.ErrNotFound),
		errors.Is(err, orders.ErrInvariant),
		errors.Is(err, orders.ErrInvalidOrder):
		return jobs.Permanent(err)
	}
	return err
}
