package main

import (
	"context"
	"database/sql"
	stderrors "errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/ReWearExchange/internal/api"
	"github.com/honeynil/ReWearExchange/internal/config"
	"github.com/honeynil/ReWearExchange/internal/handler"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/kafka"
	"github.com/honeynil/ReWearExchange/internal/infrastructure/redis"
	"github.com/honeynil/ReWearExchange/internal/observability"
	"github.com/honeynil/ReWearExchange/internal/repository"
	"github.com/honeynil/ReWearExchange/internal/repository/memory"
	core "github.com/honeynil/ReWearExchange/internal/repository/postgres"
	service "github.com/honeynil/ReWearExchange/internal/services"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, metricsHandler := observability.Setup(ctx, "rewear-exchange", cfg.OTLPEndpoint, cfg.LogLevel)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Error("failed to shut down tracing", "error", err)
		}
	}()
	api.InitMetrics(prometheus.DefaultRegisterer)

	var uow repository.UnitOfWork
	switch cfg.Storage {
	case config.StorageMemory:
		slog.Warn("using in-memory storage, state is lost on restart")
		uow = memory.New(cfg.TxTimeout)
	default:
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			slog.Error("failed to open Postgres", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			slog.Error("failed to connect to Postgres", "error", err)
			os.Exit(1)
		}
		if err := core.Migrate(db, cfg.MigrationsPath, ""); err != nil {
			slog.Error("failed to migrate schema", "error", err)
			os.Exit(1)
		}
		uow = core.NewPostgresUnitOfWork(db, cfg.TxTimeout)
	}

	// interface-typed so a missing Redis stays a true nil for the services
	var redisClient redis.RedisClient
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Warn("running without Redis, balance cache and redemption idempotency disabled", "error", err)
		} else {
			defer client.Close()
			redisClient = client
		}
	}

	var producer kafka.KafkaProducer
	var consumer *kafka.Consumer
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewProducer(cfg.KafkaBrokers)
		defer p.Close()
		producer = p
		if redisClient != nil {
			consumer = kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroupID, redisClient)
			defer consumer.Close()
		}
	}

	opts := service.Options{
		OwnerSharePercent: cfg.OwnerSharePercent,
		MaxAttempts:       cfg.TxMaxRetries,
		Topic:             cfg.KafkaTopic,
	}
	h := handler.NewHandler(
		service.NewExchangeService(uow, redisClient, producer, opts),
		service.NewItemService(uow, opts),
		service.NewAccountService(uow, opts),
	)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.SetupRouter(h, cfg.JWTSecret, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, srv := range []*http.Server{server, metricsServer} {
		srv := srv
		g.Go(func() error {
			slog.Info("starting server", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}
	if consumer != nil {
		g.Go(func() error {
			return consumer.Consume(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		if mErr := metricsServer.Shutdown(shutdownCtx); err == nil {
			err = mErr
		}
		return err
	})

	if err := g.Wait(); err != nil {
		slog.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
