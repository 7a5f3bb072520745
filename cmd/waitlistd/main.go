// Command waitlistd serves the waitlist submission gate over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eigerteam/waitlist_gate"
	"github.com/eigerteam/waitlist_gate/internal/config"
	"github.com/eigerteam/waitlist_gate/internal/httpretry"
	"github.com/eigerteam/waitlist_gate/internal/logger"
	"github.com/eigerteam/waitlist_gate/internal/throttle"
	"github.com/eigerteam/waitlist_gate/record_stores"
	"github.com/eigerteam/waitlist_gate/waitlist_stores"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		logger.Error("waitlistd stopped", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadFromEnv(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.Redact())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	records, closeRecords, err := openRecordStore(cfg.RateLimit)
	if err != nil {
		return err
	}
	defer closeRecords()

	store, closeStore, err := openWaitlistStore(ctx, cfg.Waitlist)
	if err != nil {
		return err
	}
	defer closeStore()

	limiter := waitlist_gate.NewSubmissionLimiter(records,
		waitlist_gate.WithRecordKey(cfg.RateLimit.RecordKey),
		waitlist_gate.WithDegradeOnStorageError(cfg.RateLimit.Degrade()),
	)
	gate := waitlist_gate.NewGate(store, limiter,
		waitlist_gate.WithSilentlyAcceptBots(cfg.Gate.SilentBots()),
		waitlist_gate.WithCallTimeout(cfg.Gate.CallTimeout()),
		waitlist_gate.WithDisposableFilter(waitlist_gate.NewDisposableFilter(cfg.Gate.ExtraDisposableDomains...)),
	)

	var throttler *throttle.Limiter
	if cfg.Server.RequestsPerSecond > 0 {
		throttler = throttle.New(cfg.Server.RequestsPerSecond, cfg.Server.Burst)
	}

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      newRouter(cfg.Server, gate, throttler),
		ReadTimeout:  cfg.Server.ReadTimeout(),
		WriteTimeout: cfg.Server.WriteTimeout(),
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("waitlistd listening",
			"addr", srv.Addr,
			"record_store", cfg.RateLimit.Store,
			"waitlist_store", cfg.Waitlist.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down waitlistd")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func openRecordStore(cfg config.RateLimitConfig) (waitlist_gate.RecordStore, func(), error) {
	switch cfg.Store {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return record_stores.NewRedisRecordStore(client, waitlist_gate.Window), func() { client.Close() }, nil
	case "sqlite":
		db, err := record_stores.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("opening record store: %w", err)
		}
		store := record_stores.NewSQLiteRecordStore(db)
		return store, func() { store.Close() }, nil
	default:
		return record_stores.NewMemoryRecordStore(), func() {}, nil
	}
}

func openWaitlistStore(ctx context.Context, cfg config.WaitlistConfig) (waitlist_gate.Store, func(), error) {
	switch cfg.Store {
	case "postgres":
		db, err := waitlist_stores.OpenPostgres(ctx, cfg.DatabaseURL, cfg.MaxOpenConns)
		if err != nil {
			return nil, nil, err
		}
		store := waitlist_stores.NewPostgresStore(db, cfg.Table)
		if cfg.AutoMigrate {
			if err := store.Migrate(ctx); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
		return store, func() { db.Close() }, nil
	case "dynamodb":
		store, err := waitlist_stores.NewDynamoDBStore(ctx, cfg.Table, cfg.AWSRegion)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "supabase":
		client := httpretry.NewRetryClient(nil, cfg.MaxRetries)
		store := waitlist_stores.NewSupabaseStore(waitlist_stores.SupabaseConfig{
			URL:     cfg.SupabaseURL,
			AnonKey: cfg.SupabaseAnonKey,
			Table:   cfg.Table,
		}, client)
		return store, func() {}, nil
	default:
		logger.Warn("using the in-memory waitlist store, signups are lost on restart")
		return waitlist_stores.NewMemoryStore(), func() {}, nil
	}
}
