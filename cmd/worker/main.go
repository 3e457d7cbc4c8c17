package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/facebookgo/clock"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/fulfillment"
	"github.com/ariefcatur/go-order-fulfillment/internal/inventory"
	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/maintenance"
	"github.com/ariefcatur/go-order-fulfillment/internal/notify"
	"github.com/ariefcatur/go-order-fulfillment/internal/obs"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := obs.InitLogger(cfg.LogLevel).With("service", cfg.ServiceName+"-worker")
	if err := cfg.Validate(); err != nil {
		log.Error("config_invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Error("db_connect_failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := postgres.Migrate(ctx, db); err != nil {
		log.Error("db_migrate_failed", "error", err)
		os.Exit(1)
	}

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		log.Error("redis_ping_failed", "error", err)
		os.Exit(1)
	}

	clk := clock.New()
	store := &orders.Repo{DB: db, Pricing: orders.Pricing{TaxRate: cfg.TaxRate, ShippingFlat: cfg.ShippingFlat}}
	queue := jobs.NewRedisQueue(rdb, clk, cfg.JobLease, cfg.JobPollInterval)
	client := jobs.NewClient(queue, nil)

	// the alert producer outlives ctx so failures raised while draining still go out
	alerts := kafkax.NewProducer(cfg.KafkaBrokers, cfg.AlertsTopic, 256)
	alerts.Start(context.Background())
	defer alerts.WaitClosed()
	defer alerts.Close()

	mail := notify.IdempotentSender{
		Next: &notify.SMTPSender{
			Addr:     cfg.SMTPAddr,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
			Timeout:  cfg.SMTPTimeout,
		},
		Dedup: notify.RedisDeduper{Redis: rdb, ClaimTTL: max(redisx.TTLDedupClaim, 3*cfg.SMTPTimeout)},
	}

	ful := &fulfillment.Service{Store: store, Jobs: client, Mail: mail, Cache: orders.RedisStatusCache{Redis: rdb}, Log: log}
	mnt := &maintenance.Service{
		Store:     store,
		Inventory: inventory.NewClient(cfg.InventoryAPIURL, cfg.InventoryTimeout, inventory.WithInterval(cfg.InventoryRate)),
		Clock:     clk,
		ReportDir: cfg.ReportDir,
		BackupDir: cfg.BackupDir,
		Log:       log,
	}
	handlers := ful.Handlers()
	for k, h := range mnt.Handlers() {
		handlers[k] = h
	}

	pool, err := jobs.NewPool(queue, handlers,
		jobs.WithSize(cfg.WorkerCount),
		jobs.WithHandlerTimeout(cfg.HandlerTimeout),
		jobs.WithClock(clk),
		jobs.WithLogger(log),
		jobs.WithAlerter(jobs.MultiAlerter{
			jobs.LogAlerter{Log: log},
			jobs.KafkaAlerter{Producer: alerts, Service: cfg.ServiceName},
		}),
	)
	if err != nil {
		log.Error("pool_init_failed", "error", err)
		os.Exit(1)
	}

	sched := maintenance.NewScheduler(client, store, clk, cfg.CleanupHorizonDays, log)
	if err := sched.Register(maintenance.Specs{
		Report:  cfg.ReportCron,
		Cleanup: cfg.CleanupCron,
		Sync:    cfg.SyncCron,
		Backup:  cfg.BackupCron,
	}); err != nil {
		log.Error("scheduler_init_failed", "error", err)
		os.Exit(1)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error { return sched.Run(gctx) })
	if cfg.OrderEventsTopic != "" {
		bridge := &fulfillment.Bridge{Jobs: client, Log: log}
		cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ServiceName+"-bridge", cfg.OrderEventsTopic, 4)
		g.Go(func() error { return cons.Start(gctx, bridge.HandleMessage) })
	}

	log.Info("worker_started", "workers", cfg.WorkerCount, "bridge", cfg.OrderEventsTopic != "")
	if err := g.Wait(); err != nil {
		log.Error("worker_exit", "error", err)
		stop()
		alerts.Close()
		alerts.WaitClosed()
		os.Exit(1)
	}
	log.Info("worker_stopped")
}
