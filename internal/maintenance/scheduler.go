package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/facebookgo/clock"
	"github.com/robfig/cron"

	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
)

// VendorLister is the part of the store the scheduler reads.
type VendorLister interface {
	ListVendors(ctx context.Context) ([]string, error)
}

// Specs are six-field cron expressions (seconds first), in UTC. An
// empty spec disables that job.
type Specs struct {
	Report  string
	Cleanup string
	Sync    string
	Backup  string
}

// Scheduler only enqueues; the work itself runs in the worker pool.
type Scheduler struct {
	cron        *cron.Cron
	jobs        *jobs.Client
	vendors     VendorLister
	clk         clock.Clock
	horizonDays int
	log         *slog.Logger
}

func NewScheduler(client *jobs.Client, vendors VendorLister, clk clock.Clock, horizonDays int, log *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = slog.Default()
	}
	if horizonDays <= 0 {
		horizonDays = 30
	}
	return &Scheduler{
		cron:        cron.NewWithLocation(time.UTC),
		jobs:        client,
		vendors:     vendors,
		clk:         clk,
		horizonDays: horizonDays,
		log:         log,
	}
}

func (s *Scheduler) Register(specs Specs) error {
	entries := []struct {
		name string
		spec string
		fn   func(context.Context) error
	}{
		{"daily_report", specs.Report, func(ctx context.Context) error { _, err := s.EnqueueDailyReport(ctx); return err }},
		{"cleanup", specs.Cleanup, func(ctx context.Context) error { _, err := s.EnqueueCleanup(ctx); return err }},
		{"inventory_sync", specs.Sync, func(ctx context.Context) error { _, err := s.EnqueueInventorySyncAll(ctx); return err }},
		{"backup", specs.Backup, func(ctx context.Context) error { _, err := s.EnqueueBackup(ctx); return err }},
	}
	for _, e := range entries {
		if e.spec == "" {
			continue
		}
		e := e
		err := s.cron.AddFunc(e.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := e.fn(ctx); err != nil {
				s.log.Error("schedule_enqueue_failed", "schedule", e.name, "error", err)
				return
			}
			s.log.Info("schedule_enqueued", "schedule", e.name)
		})
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", e.name, e.spec, err)
		}
	}
	return nil
}

// Run starts the cron loop and blocks until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.cron.Start()
	s.log.Info("scheduler_started", "entries", len(s.cron.Entries()))
	<-ctx.Done()
	s.cron.Stop()
	s.log.Info("scheduler_stopped")
	return nil
}

// EnqueueDailyReport enqueues the report for yesterday (UTC).
func (s *Scheduler) EnqueueDailyReport(ctx context.Context) (string, error) {
	day := s.clk.Now().UTC().AddDate(0, 0, -1)
	return s.jobs.Submit(ctx, jobs.KindDailyReport, DailyReportPayload{Date: day.Format(dateLayout)})
}

func (s *Scheduler) EnqueueCleanup(ctx context.Context) (string, error) {
	cutoff := s.clk.Now().UTC().AddDate(0, 0, -s.horizonDays)
	return s.jobs.Submit(ctx, jobs.KindCleanup, CleanupPayload{Cutoff: cutoff.Format(time.RFC3339)})
}

// EnqueueInventorySyncAll enqueues one sync job per vendor so a failing
// vendor only retries itself.
func (s *Scheduler) EnqueueInventorySyncAll(ctx context.Context) ([]string, error) {
	vendors, err := s.vendors.ListVendors(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vendors: %w", err)
	}
	ids := make([]string, 0, len(vendors))
	var errs []error
	for _, v := range vendors {
		id, err := s.jobs.EnqueueInventorySync(ctx, v)
		if err != nil {
			errs = append(errs, fmt.Errorf("vendor %s: %w", v, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

func (s *Scheduler) EnqueueBackup(ctx context.Context) (string, error) {
	stamp := s.clk.Now().UTC().Format(stampLayout)
	return s.jobs.Submit(ctx, jobs.KindBackup, BackupPayload{Stamp: stamp})
}
