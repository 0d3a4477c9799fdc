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
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/weaponforge/economy-engine/internal/battle"
	"github.com/weaponforge/economy-engine/internal/enhance"
	"github.com/weaponforge/economy-engine/internal/feed"
	"github.com/weaponforge/economy-engine/internal/metrics"
	"github.com/weaponforge/economy-engine/internal/prayer"
	"github.com/weaponforge/economy-engine/internal/season"
	"github.com/weaponforge/economy-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize stores ---
	var st store.Store
	var live store.Live
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		live = store.NewRedisLive(rdb)
		slog.Info("connected to Redis")
	} else {
		slog.Warn("REDIS_URL not set, using in-memory live state (single instance only)")
		live = store.NewMemoryLive()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- WebSocket hub ---
	hub := feed.NewHub()
	go hub.Run()

	// --- Services ---
	seasonSvc := season.NewService(st, live, hub)
	prayerSvc := prayer.NewService(st, live, hub)
	enhanceSvc := enhance.NewService(st, prayerSvc, seasonSvc, hub)
	battleSvc := battle.NewService(st, live, seasonSvc, hub)

	if err := prayerSvc.Init(context.Background()); err != nil {
		slog.Error("prayer pool init failed", "err", err)
		os.Exit(1)
	}

	// Season lifecycle checker (activation + settlement).
	sched, err := seasonSvc.StartChecker()
	if err != nil {
		slog.Error("season checker start failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, func() { _ = sched.Shutdown() })

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for the game client.
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
		w.Write([]byte(`{"status":"ok","service":"economy-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live pool, enhancement, and battle events.
		r.Get("/ws", hub.HandleWS)

		// Prayer pool.
		r.Post("/pray", prayerSvc.HandlePray)
		r.Get("/pool", prayerSvc.HandlePoolStats)

		// Enhancement.
		r.Post("/enhance/{weaponID}", enhanceSvc.HandleAttempt)
		r.Get("/enhance/history", enhanceSvc.HandleHistory)

		// Battles.
		r.Post("/battle/enter", battleSvc.HandleEnter)
		r.Post("/battle/{matchID}/execute", battleSvc.HandleExecute)
		r.Get("/battle/history", battleSvc.HandleHistory)

		// Seasons and rankings.
		r.Get("/seasons/current", seasonSvc.HandleCurrent)
		r.Get("/seasons/{seasonID}/rankings", seasonSvc.HandleRankings)

		// Admin season management.
		r.Post("/admin/seasons", seasonSvc.HandleCreate)
		r.Post("/admin/seasons/{seasonID}/settle", seasonSvc.HandleSettle)
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
		slog.Info("economy-engine listening", "port", port)
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

	slog.Info("shutting down economy-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("economy-engine stopped")
}
