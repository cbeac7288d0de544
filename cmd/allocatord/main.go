package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/gridcert/ggo-engine/internal/api"
	"github.com/gridcert/ggo-engine/internal/ledger"
	"github.com/gridcert/ggo-engine/internal/lock"
	"github.com/gridcert/ggo-engine/internal/metrics"
	"github.com/gridcert/ggo-engine/internal/notify"
	"github.com/gridcert/ggo-engine/internal/registry"
	"github.com/gridcert/ggo-engine/internal/task"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	var cleanup []func()

	// --- Registry (accounts, facilities, agreements) ---
	var reg registry.Registry
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		reg = registry.NewPostgresRegistry(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory registry (development only)")
		reg = registry.NewMemoryRegistry()
	}

	// --- Distributed lock ---
	var locker lock.Locker
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		locker = lock.NewRedisLocker(rdb)
		slog.Info("Redis locking enabled")
	} else {
		slog.Warn("REDIS_URL not set, using in-process locks (single instance only)")
		locker = lock.NewMemoryLocker()
	}

	// --- Gateways ---
	rps := envFloat("GATEWAY_RPS", 50)

	var measurements ledger.Measurements
	var ldg ledger.Ledger
	measurementURL := os.Getenv("MEASUREMENT_URL")
	ledgerURL := os.Getenv("LEDGER_URL")
	if measurementURL != "" && ledgerURL != "" {
		measurements = ledger.NewHTTPMeasurements(measurementURL, rps)
		ldg = ledger.NewHTTPLedger(ledgerURL, rps)
		slog.Info("gateway clients configured",
			"measurement_url", measurementURL, "ledger_url", ledgerURL, "rps", rps)
	} else {
		slog.Warn("MEASUREMENT_URL/LEDGER_URL not set, using in-memory gateways (development only)")
		measurements = ledger.NewMemoryMeasurements()
		ldg = ledger.NewMemoryLedger()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Notification hub ---
	hub := notify.NewHub()
	go hub.Run()

	// --- Task runner ---
	runner := task.NewRunner(task.Config{
		Workers:     envInt("WORKERS", 4),
		RetryDelay:  envDuration("RETRY_DELAY", 30*time.Second),
		RetryBudget: envDuration("RETRY_BUDGET", 24*time.Hour),
	}, reg, ldg, measurements, locker, hub)
	runner.Start()

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"allocatord"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	handler := api.NewHandler(runner)
	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for allocation notifications.
		r.Get("/ws", hub.HandleWS)

		handler.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("allocatord listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down allocatord...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	runner.Stop()
	fmt.Println("allocatord stopped")
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
