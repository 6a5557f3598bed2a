package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"inkpass/internal/access"
	"inkpass/internal/clock"
	"inkpass/internal/config"
	"inkpass/internal/events"
	"inkpass/internal/eventstore"
	"inkpass/internal/logger"
	"inkpass/internal/marketplace"
	"inkpass/internal/pricing"
	"inkpass/internal/subscription"
	"inkpass/internal/telemetry"
	"inkpass/internal/treasury"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLog.Sync()

	if err := run(cfg, logger.NewZapAdapter(zapLog)); err != nil {
		zapLog.Fatal("ledger stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer shutdownTracing(context.Background())

	store := subscription.NewMemoryStore()
	kiosks := marketplace.NewMemoryStore()
	var catalog pricing.Publisher = pricing.NewMemoryCatalog()
	var journal *eventstore.EventStore
	var notifiers events.Fanout

	if cfg.Database.URL != "" {
		db, err := sql.Open("postgres", cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdle)
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("failed to ping database: %w", err)
		}

		store = subscription.NewPostgresStore(db)
		kiosks = marketplace.NewPostgresStore(db)
		catalog = pricing.NewPostgresCatalog(db)
		journal = eventstore.NewEventStore(db)
		notifiers = append(notifiers, eventstore.NewJournal(journal))
		log.Info("using postgres store", nil)
	} else {
		log.Warn("no database configured, ledger state is in memory", nil)
	}

	if cfg.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to ping redis: %w", err)
		}
		notifiers = append(notifiers, events.NewRedisPublisher(client, cfg.Redis.Channel))
		log.Info("publishing events to redis", map[string]interface{}{"channel": cfg.Redis.Channel})
	}

	tr, err := treasury.New(cfg.Ledger.FeeBasisPoints)
	if err != nil {
		return err
	}

	royalty := marketplace.RoyaltyPolicy{
		BasisPoints: cfg.Royalty.BasisPoints,
		MinAmount:   cfg.Royalty.MinAmount,
		Beneficiary: cfg.Royalty.Beneficiary,
	}
	if err := royalty.Validate(); err != nil {
		return err
	}

	ledger := subscription.NewService(store, tr, notifiers, clock.NewMonotonic(clock.System()), log)
	market := marketplace.NewService(kiosks, ledger, catalog, tr, royalty, notifiers, log)

	router := newRouter(services{
		catalog:  catalog,
		treasury: tr,
		ledger:   ledger,
		market:   market,
		gate:     access.NewGate(ledger, catalog, log),
		journal:  journal,
	}, rate.NewLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst))

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("ledger listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	log.Info("shutting down", nil)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), config.GetDuration(cfg.Server.ShutdownTimeout))
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
