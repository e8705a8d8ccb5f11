package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/maltedev/amazon-product-scraper/internal/api"
	"github.com/maltedev/amazon-product-scraper/internal/browser"
	"github.com/maltedev/amazon-product-scraper/internal/cache"
	"github.com/maltedev/amazon-product-scraper/internal/config"
	"github.com/maltedev/amazon-product-scraper/internal/database"
	"github.com/maltedev/amazon-product-scraper/internal/fetch"
	"github.com/maltedev/amazon-product-scraper/internal/jobs"
	"github.com/maltedev/amazon-product-scraper/internal/logger"
	"github.com/maltedev/amazon-product-scraper/internal/ratelimit"
	"github.com/maltedev/amazon-product-scraper/internal/scraper"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server failed", "error", err)
		os.Exit(1)
	}
	log.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	metrics := fetch.NewMetrics()

	var limiter *rate.Limiter
	if cfg.Scraper.RequestsPerSecond > 0 {
		limiter = ratelimit.NewRequestLimiter(cfg.Scraper.RequestsPerSecond, cfg.Scraper.ConcurrentWorkers)
	}

	var shared fetch.Transport
	if cfg.Scraper.FetchMode == config.FetchModeBrowser {
		b, err := browser.New(&browser.Options{
			Headless:       cfg.Browser.Headless,
			Timeout:        cfg.Browser.Timeout,
			ViewportWidth:  cfg.Browser.ViewportWidth,
			ViewportHeight: cfg.Browser.ViewportHeight,
			Locale:         cfg.Browser.Locale,
			TimezoneID:     cfg.Browser.TimezoneID,
			SettleDelay:    browser.DefaultOptions().SettleDelay,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to initialize browser: %w", err)
		}
		defer b.Close()
		shared = b
	}

	pool, err := scraper.NewPool(cfg.Scraper.ConcurrentWorkers, func() (*scraper.Scraper, error) {
		transport := shared
		if transport == nil {
			// one cookie jar per slot
			t, err := fetch.NewRestyTransport(limiter)
			if err != nil {
				return nil, err
			}
			transport = t
		}
		s, err := fetch.NewSession(cfg.Scraper.Session, cfg.Scraper.Country,
			fetch.WithTransport(transport),
			fetch.WithMetrics(metrics),
			fetch.WithLogger(log),
		)
		if err != nil {
			return nil, err
		}
		return scraper.NewFromSession(s, log), nil
	})
	if err != nil {
		return fmt.Errorf("failed to create scraper pool: %w", err)
	}
	defer pool.Close()

	var store api.ProductStore
	var sink jobs.Sink
	if cfg.Database.Enabled {
		db, err := database.New(ctx, database.Config{
			DSN:      cfg.Database.DSN(),
			MaxConns: cfg.Database.MaxConns,
		})
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer db.Close()

		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		store, sink = db, db
		log.Info("database connected", "host", cfg.Database.Host, "name", cfg.Database.Name)
	}

	productCache := cache.Layered{cache.NewMemory(cfg.Cache.Size, cfg.Cache.TTL)}
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		productCache = append(productCache, cache.NewRedis(rdb, "amazon:", cfg.Cache.TTL))
		log.Info("redis cache enabled", "addr", cfg.Redis.Addr)
	}

	jobManager := jobs.NewManager(jobs.PoolExecutor(pool), sink, jobs.Options{
		Workers:   cfg.Jobs.Workers,
		QueueSize: cfg.Jobs.QueueSize,
		Retain:    cfg.Jobs.Retain,
		Retention: cfg.Jobs.Retention,
	}, log)
	jobManager.Start(ctx)
	defer jobManager.Stop()

	handlers := api.NewHandlers(pool, jobManager, productCache, store, log)
	router := api.NewRouter(handlers, api.RouterOptions{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		RequestTimeout: cfg.Server.WriteTimeout,
		Gatherer:       metrics.Registry,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting",
			"addr", server.Addr,
			"fetch_mode", cfg.Scraper.FetchMode,
			"country", cfg.Scraper.Country,
			"workers", cfg.Scraper.ConcurrentWorkers,
		)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}
