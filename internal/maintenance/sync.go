package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
)

// HandleInventorySync overwrites stock and price of each vendor product
// from the external feed. Overwrites are idempotent, so a transient
// failure retries the whole vendor. SKUs the feed does not know are
// skipped; malformed answers are skipped too and fail the job once the
// rest is synced.
func (s *Service) HandleInventorySync(ctx context.Context, job jobs.Job) error {
	p, err := jobs.Decode[jobs.InventorySyncPayload](job)
	if err != nil {
		return err
	}
	products, err := s.Store.ListVendorProducts(ctx, p.VendorID)
	if err != nil {
		return classify(err)
	}
	log := s.log().With("vendor_id", p.VendorID)

	var malformed []error
	synced := 0
	for _, prod := range products {
		q, err := s.Inventory.Fetch(ctx, prod.SKU)
		switch {
		case errors.Is(err, inventory.ErrUnknownSKU):
			log.Info("inventory_sku_unknown", "sku", prod.SKU)
			continue
		case errors.Is(err, inventory.ErrMalformed):
			log.Warn("inventory_response_malformed", "sku", prod.SKU, "error", err)
			malformed = append(malformed, err)
			continue
		case err != nil:
			return fmt.Errorf("sync vendor %s: %w", p.VendorID, err)
		}

		price := prod.Price
		if q.Price.Valid {
			price = q.Price.Decimal.Round(2)
		}
		if err := s.Store.SyncProduct(ctx, prod.ID, q.Stock, price); err != nil {
			return classify(err)
		}
		synced++
	}
	log.Info("inventory_synced", "products", len(products), "synced", synced, "malformed", len(malformed))
	if len(malformed) > 0 {
		return jobs.Permanent(errors.Join(malformed...))
	}
	return nil
}
