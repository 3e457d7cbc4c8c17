package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/facebookgo/clock"
	"github.com/joho/godotenv"

	"github.com/ariefcatur/go-order-fulfillment/internal/config"
	"github.com/ariefcatur/go-order-fulfillment/internal/httpx"
	"github.com/ariefcatur/go-order-fulfillment/internal/jobs"
	kafkax "github.com/ariefcatur/go-order-fulfillment/internal/kafka"
	"github.com/ariefcatur/go-order-fulfillment/internal/obs"
	"github.com/ariefcatur/go-order-fulfillment/internal/orders"
	"github.com/ariefcatur/go-order-fulfillment/internal/postgres"
	"github.com/ariefcatur/go-order-fulfillment/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	log := obs.InitLogger(cfg.LogLevel).With("service", cfg.ServiceName+"-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

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

	queue := jobs.NewRedisQueue(rdb, clock.New(), cfg.JobLease, cfg.JobPollInterval)
	oh := &httpx.OrdersHandler{
		Store:   &orders.Repo{DB: db, Pricing: orders.Pricing{TaxRate: cfg.TaxRate, ShippingFlat: cfg.ShippingFlat}},
		Jobs:    jobs.NewClient(queue, nil),
		Cache:   orders.RedisStatusCache{Redis: rdb},
		Service: cfg.ServiceName,
		Log:     log,
	}

	// with an events topic, intake goes through Kafka and the worker bridges it
	var prod *kafkax.Producer
	if cfg.OrderEventsTopic != "" {
		prod = kafkax.NewProducer(cfg.KafkaBrokers, cfg.OrderEventsTopic, 1024)
		prod.Start(ctx)
		oh.Events = prod
	}

	router := httpx.NewRouter(log)
	oh.Register(router)
	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		log.Info("http_listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http_listen_failed", "error", err)
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Info("shutting_down")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	if prod != nil {
		prod.Close()
		prod.WaitClosed()
	}
	cancel()
	log.Info("stopped")
}
