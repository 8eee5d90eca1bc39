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

	"github.com/atmx/agent-market/internal/api"
	"github.com/atmx/agent-market/internal/app"
	"github.com/atmx/agent-market/internal/config"
	"github.com/atmx/agent-market/internal/metrics"
	"github.com/atmx/agent-market/internal/negotiation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Components ---
	a, err := app.New(ctx, cfg, negotiation.WithNotifier(wsHub))
	if err != nil {
		slog.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	if err := a.Populate(ctx); err != nil {
		slog.Error("roster setup failed", "err", err)
		os.Exit(1)
	}

	// A lost ledger write leaves nothing safe to serve: drain and exit.
	svc := api.NewService(a.Engine, a.Roster, a.Ledger, a.Memory, api.WithFatalHandler(func(err error) {
		slog.Error("market halted", "err", err)
		stop()
	}))

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
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
		w.Write([]byte(`{"status":"ok","service":"agent-market"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for resolved negotiations. Kept outside the
		// timeout middleware so connections are not cut.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			// Negotiations against a remote policy can take a while.
			r.Use(middleware.Timeout(2 * time.Minute))
			svc.Register(r)
		})
	})

	// --- Background simulation ---
	if cfg.SimInterval > 0 {
		go simulate(ctx, a, svc, time.Duration(cfg.SimInterval)*time.Second)
	}

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("agent-market listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down agent-market...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	if err := a.Ledger.Flush(shutdownCtx); err != nil {
		slog.Error("ledger flush failed", "err", err)
	}
	if err := a.Roster.Save(shutdownCtx, a.Engine); err != nil {
		slog.Error("roster save failed", "err", err)
	}
	fmt.Println("agent-market stopped")
}

// simulate runs a cycle every interval until ctx is done or a ledger
// failure stops the market.
func simulate(ctx context.Context, a *app.App, svc *api.Service, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.Runner.RunCycle(ctx); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("simulation stopped", "err", err)
				if negotiation.IsFatal(err) {
					svc.Halt(err)
				}
				return
			}
		}
	}
}
