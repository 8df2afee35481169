package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/riandyrn/otelchi"

	"github.com/rosterbatch/rosterbatch/internal/adapter/cache"
	"github.com/rosterbatch/rosterbatch/internal/adapter/filestore"
	"github.com/rosterbatch/rosterbatch/internal/adapter/fsm"
	riveradapter "github.com/rosterbatch/rosterbatch/internal/adapter/river"
	"github.com/rosterbatch/rosterbatch/internal/adapter/sheet"
	"github.com/rosterbatch/rosterbatch/internal/adapter/sqlite"
	"github.com/rosterbatch/rosterbatch/internal/app"
	"github.com/rosterbatch/rosterbatch/internal/domain"
	"github.com/rosterbatch/rosterbatch/internal/logger"

	handler "github.com/rosterbatch/rosterbatch/internal/adapter/http"
	otelad "github.com/rosterbatch/rosterbatch/internal/adapter/otel"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	port := envOrDefault("PORT", "8080")
	dbPath := envOrDefault("DATABASE_PATH", "rosterbatch.db")

	lg, err := logger.New(envOrDefault("LOG_MODE", "development"))
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer lg.Sync()

	// --- Observability ---
	ctx := context.Background()
	providers, err := otelad.Setup(ctx, otelad.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			lg.Error("otel shutdown", "error", err)
		}
	}()

	// --- Adapters (out) ---
	db, err := otelad.OpenDB(dbPath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}

	repo, err := sqlite.NewFromDB(db, lg)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	defer repo.Close()

	riverClient, err := riveradapter.Setup(ctx, repo.DB(), lg)
	if err != nil {
		return fmt.Errorf("river: %w", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := riverClient.Stop(stopCtx); err != nil {
			lg.Error("river stop", "error", err)
		}
	}()

	validationCache, err := buildCache()
	if err != nil {
		return err
	}

	files, err := filestore.NewLocal(envOrDefault("UPLOAD_DIR", "uploads"))
	if err != nil {
		return fmt.Errorf("file store: %w", err)
	}

	publisher := otelad.NewTracingPublisher(riveradapter.NewPublisher(riverClient))
	tracedRepo := otelad.NewTracingRepository(repo)

	// --- Application ---
	svc := app.NewBatchService(tracedRepo, repo, validationCache,
		sheet.NewCSV(), files, fsm.New(), publisher, lg)

	// --- Adapters (in) ---
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(otelchi.Middleware("rosterbatch", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("rosterbatch", "0.1.0"))
	handler.Register(api, svc)

	// --- Server ---
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(done)

	serveErr := make(chan error, 1)
	go func() {
		lg.Info("rosterbatch listening", "port", port, "docs", "http://localhost:"+port+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}
	lg.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	lg.Info("stopped")
	return nil
}

// buildCache selects the validation cache backend. "none" disables
// caching entirely; commits then always re-parse the upload.
func buildCache() (domain.ValidationCache, error) {
	switch backend := envOrDefault("CACHE_BACKEND", "memory"); backend {
	case "memory":
		return cache.NewMemory(0), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr: envOrDefault("REDIS_ADDR", "localhost:6379"),
		})
		return cache.NewRedis(client, 0), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported CACHE_BACKEND: %q (use \"memory\", \"redis\" or \"none\")", backend)
	}
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
