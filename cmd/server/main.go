package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/atmx/backtest-engine/internal/api"
	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/feed"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG"), "path to YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	logger := cfg.Logging.Setup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Feed sources ---
	connectCtx, connectCancel := context.WithTimeout(ctx, 10*time.Second)
	sources, err := feed.Connect(connectCtx, cfg.Feed, logger)
	connectCancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect feed sources")
	}
	defer sources.Close()

	// --- Run registry ---
	runs := store.NewMemoryStore(cfg.Server.MaxRuns)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(logger)
	go wsHub.Run(ctx)

	// --- Backtest service ---
	runner := api.NewRunner(sources.Feed, runs, wsHub, logger)
	svc := api.NewService(runner, runs, cfg, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      newRouter(svc, wsHub),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Server.Port).Str("feed", cfg.Feed.Source).Msg("backtest-engine listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	logger.Info().Msg("shutting down backtest-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	cancel()
	logger.Info().Msg("backtest-engine stopped")
}

// newRouter mounts the middleware stack, operational endpoints and the
// versioned API.
func newRouter(svc *api.Service, wsHub *api.WSHub) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(2 * time.Minute))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		w.Write([]byte(`{"status":"ok","service":"backtest-engine"}`))
	})

	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Live trades and run completions.
		r.Get("/ws", wsHub.HandleWS)

		svc.Routes(r)
	})
	return r
}
