// Package maintenance runs the periodic jobs: daily report, cleanup of
// finished orders, external inventory sync and backup.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/facebookgo/clock"

	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
)

const (
	dateLayout  = "2006-01-02"
	stampLayout = "20060102_150405"
)

// QuoteFetcher is the part of inventory.Client the sync needs.
type QuoteFetcher interface {
	Fetch(ctx context.Context, sku string) (inventory.Quote, error)
}

type DailyReportPayload struct {
	Date string `json:"date"` // YYYY-MM-DD, UTC
}

type CleanupPayload struct {
	Cutoff string `json:"cutoff"` // RFC3339; orders created before it are eligible
}

type BackupPayload struct {
	Stamp string `json:"stamp"` // YYYYMMDD_HHMMSS, UTC
}

type Service struct {
	Store     orders.Store
	Inventory QuoteFetcher
	Clock     clock.Clock
	ReportDir string
	BackupDir string
	Log       *slog.Logger
}

func (s *Service) Handlers() map[jobs.Kind]jobs.Handler {
	return map[jobs.Kind]jobs.Handler{
		jobs.KindDailyReport:   s.HandleDailyReport,
		jobs.KindCleanup:       s.HandleCleanup,
		jobs.KindInventorySync: s.HandleInventorySync,
		jobs.KindBackup:        s.HandleBackup,
	}
}

func (s *Service) log() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Service) clk() clock.Clock {
	if s.Clock == nil {
		return clock.New()
	}
	return s.Clock
}

func classify(err error) error {
	if errors.Is(err, orders.ErrNotFound) {
		return jobs.Permanent(err)
	}
	return err
}

// writeFileAtomic writes data next to its final name and renames it into
// place, so readers never see a partial file.
func writeFileAtomic(dir, name string, write func(f *os.File) error) (err error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-*")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}
