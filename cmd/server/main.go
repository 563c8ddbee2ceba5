package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/overunder/market-core/internal/config"
	"github.com/overunder/market-core/internal/market"
	"github.com/overunder/market-core/internal/metrics"
	"github.com/overunder/market-core/internal/middleware"
	"github.com/overunder/market-core/internal/store"
	"github.com/overunder/market-core/internal/treasury"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Store.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(context.Background()); err != nil {
			slog.Error("migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Store.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Store.RedisURL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.Store.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Treasury ---
	tr := treasury.New(cfg.Treasury.Owner)
	if err := tr.SetAuthorization(cfg.Treasury.Owner, market.FeeSource, true); err != nil {
		slog.Error("treasury authorization failed", "err", err)
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := market.NewWSHub()
	go wsHub.Run()

	// --- Market service ---
	svc := market.NewService(st, tr, cfg, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	r.Use(metrics.Middleware)
	r.Use(middleware.RateLimit(cfg.Server.RateLimitPerSec, cfg.Server.RateLimitBurst))

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"market-core"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time market updates.
		r.Get("/ws", wsHub.HandleWS)

		// Market lifecycle.
		r.Get("/markets", svc.ListMarkets)
		r.Post("/markets", svc.CreateMarket)
		r.Get("/markets/{marketID}", svc.GetMarket)
		r.Get("/markets/{marketID}/odds", svc.Odds)
		r.Get("/markets/{marketID}/resolution-status", svc.ResolutionStatus)
		r.Get("/markets/{marketID}/records", svc.MarketRecords)
		r.Get("/markets/{marketID}/positions/{userID}", svc.Position)

		// Value-moving operations.
		r.Post("/markets/{marketID}/wagers", svc.PlaceWager)
		r.Post("/markets/{marketID}/shares", svc.BuyShares)
		r.Post("/markets/{marketID}/liquidity", svc.ProvideLiquidity)
		r.Delete("/markets/{marketID}/liquidity", svc.RemoveLiquidity)
		r.Post("/markets/{marketID}/resolve", svc.Resolve)
		r.Post("/markets/{marketID}/claims", svc.Claim)

		// User queries and profiles.
		r.Get("/users/{userID}/records", svc.UserRecords)
		r.Get("/profiles/{userID}", svc.GetProfile)
		r.Put("/profiles/{userID}", svc.UpdateProfile)

		// Treasury.
		r.Get("/treasury", svc.TreasuryBalance)
		r.Get("/treasury/sources/{source}", svc.TreasuryFromSource)
		r.Post("/treasury/deposits", svc.TreasuryDeposit)
		r.Post("/treasury/withdrawals", svc.TreasuryWithdraw)
		r.Post("/treasury/authorizations", svc.TreasuryAuthorize)

		// Admin.
		r.Post("/admin/pause", svc.SetPaused(true))
		r.Post("/admin/unpause", svc.SetPaused(false))
		r.Post("/admin/blacklist", svc.SetBlacklisted(true))
		r.Post("/admin/unblacklist", svc.SetBlacklisted(false))
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.RequestTimeout,
		WriteTimeout: cfg.Server.RequestTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("market-core listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down market-core...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("market-core stopped")
}
