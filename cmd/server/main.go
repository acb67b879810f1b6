// Package main runs the renderdeck API server: REST endpoints, the
// websocket notifier and the background generation runner.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/renderdeck/renderdeck/internal/app"
	"github.com/renderdeck/renderdeck/internal/app/httpapi"
	"github.com/renderdeck/renderdeck/internal/app/metrics"
	"github.com/renderdeck/renderdeck/internal/app/queue"
	"github.com/renderdeck/renderdeck/internal/app/services/generations"
	"github.com/renderdeck/renderdeck/internal/app/storage/postgres"
	"github.com/renderdeck/renderdeck/internal/app/storage/postgres/migrations"
	"github.com/renderdeck/renderdeck/internal/app/uploads"
	"github.com/renderdeck/renderdeck/internal/config"
	"github.com/renderdeck/renderdeck/internal/middleware"
	"github.com/renderdeck/renderdeck/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Name:   "server",
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("server exited")
		os.Exit(1)
	}
}

func run(cfg config.Config, log *logger.Logger) error {
	ctx := context.Background()

	var stores app.Stores
	if dsn := strings.TrimSpace(cfg.Database.DSN); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping database: %w", err)
		}
		if err := migrations.Apply(ctx, db); err != nil {
			return fmt.Errorf("apply migrations: %w", err)
		}
		store := postgres.New(db)
		stores = app.Stores{
			Users:       store,
			Models:      store,
			Apps:        store,
			Generations: store,
			Executions:  store,
		}
		log.Info("using postgres storage")
	} else {
		log.Warn("DATABASE_URL not set; using in-memory storage")
	}

	var jobQueue queue.Queue
	if addr := strings.TrimSpace(cfg.Redis.Addr); addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("ping redis: %w", err)
		}
		defer client.Close()
		jobQueue = queue.NewRedis(client, cfg.Redis.QueueKey)
		log.WithField("addr", addr).Info("using redis job queue")
	} else {
		log.Warn("REDIS_ADDR not set; using in-process job queue")
	}

	var invoker generations.ModelInvoker
	switch {
	case cfg.Provider.Mock:
		log.Warn("provider mock enabled; generations return fabricated results")
		invoker = generations.NewMockInvoker()
	case strings.TrimSpace(cfg.Provider.URL) != "":
		httpInvoker, err := generations.NewHTTPInvoker(nil, cfg.Provider.URL, cfg.Provider.APIKey, log)
		if err != nil {
			return fmt.Errorf("configure model invoker: %w", err)
		}
		invoker = httpInvoker
	default:
		log.Warn("PROVIDER_URL not set; generation runner disabled")
	}

	uploadStore, err := uploads.NewDisk(cfg.Uploads.Dir, cfg.Uploads.BaseURL)
	if err != nil {
		return fmt.Errorf("configure uploads: %w", err)
	}

	application, err := app.New(stores, app.Options{
		Queue:   jobQueue,
		Uploads: uploadStore,
		Invoker: invoker,
		Workers: cfg.Provider.Workers,
	}, log)
	if err != nil {
		return fmt.Errorf("build application: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		return fmt.Errorf("start application: %w", err)
	}

	var opts []httpapi.Option
	if cfg.Server.AuditFile != "" {
		opts = append(opts, httpapi.WithAuditFile(cfg.Server.AuditFile))
	}
	api := httpapi.NewHandler(application, log, opts...)

	auth := middleware.NewAuth([]byte(cfg.Auth.Secret), log, []string{"/healthz", "/metrics"})
	cors := middleware.NewCORS(cfg.Server.AllowedOrigins)
	limiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst, log)
	limiter.StartCleanup(time.Minute)

	root := http.NewServeMux()
	root.Handle("/uploads/", http.StripPrefix("/uploads/", http.FileServer(http.Dir(cfg.Uploads.Dir))))
	root.Handle("/", middleware.RequestID(
		cors.Handler(
			auth.Handler(
				limiter.Handler(
					metrics.InstrumentHandler(api))))))

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           root,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case sig := <-sigCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("application shutdown")
	}
	return nil
}
