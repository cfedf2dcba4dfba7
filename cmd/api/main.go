package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Bikxs/Skafu-sub001/internal/app/migrate"
	"github.com/Bikxs/Skafu-sub001/internal/command"
	"github.com/Bikxs/Skafu-sub001/internal/eventbus"
	httpx "github.com/Bikxs/Skafu-sub001/internal/http"
	"github.com/Bikxs/Skafu-sub001/internal/store"
	"github.com/Bikxs/Skafu-sub001/internal/store/badgerstore"
	"github.com/Bikxs/Skafu-sub001/internal/store/postgres"
	"github.com/Bikxs/Skafu-sub001/internal/ws"
	"github.com/Bikxs/Skafu-sub001/pkg/config"
	"github.com/Bikxs/Skafu-sub001/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to open store", "driver", cfg.StoreDriver, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	bus, err := eventbus.NewRedisPublisher(cfg.EventBusRedisAddr, cfg.EventBusRedisPass, cfg.EventBusRedisDB, cfg.EventStream)
	if err != nil {
		log.Error("failed to connect to event bus", "addr", cfg.EventBusRedisAddr, "error", err)
		os.Exit(1)
	}
	defer bus.Close()

	hub := ws.NewHub()
	defer hub.Shutdown()

	proc := command.NewProcessor(st, bus, hub, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, proc, hub, limiter, cfg.AuthSecret, cfg.ExecutorToken, st.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "store", cfg.StoreDriver)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

// openStore selects the store driver. Postgres gets its schema migrated on
// boot; badger is the single-node embedded alternative.
func openStore(ctx context.Context, cfg config.APIConfig, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreDriver {
	case "badger":
		return badgerstore.Open(cfg.BadgerPath, log)
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
		if err != nil {
			pool.Close()
			return nil, err
		}
		defer runner.Close()
		if err := runner.Ping(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		if err := runner.Ensure(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return postgres.New(pool), nil
	default:
		return nil, errors.New("unknown store driver " + cfg.StoreDriver)
	}
}
