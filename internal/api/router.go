package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/traceid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pocket-ledger/internal/api/handler"
	mw "pocket-ledger/internal/api/middleware"
	"pocket-ledger/internal/config"
	"pocket-ledger/internal/domain/ledger"
	"pocket-ledger/internal/syncengine"
)

// RouterDeps bundles the collaborators the HTTP surface exposes. The sync
// components are surfaced read-mostly: status plus operator-triggered drain
// and reconcile.
type RouterDeps struct {
	Service ledger.LedgerService
	Queue   *syncengine.Queue
	Monitor *syncengine.Monitor
	Worker  *syncengine.ReplayWorker
	Recon   *syncengine.Reconciler
}

func SetupRouter(deps RouterDeps, cfg *config.Config, logger *slog.Logger) *chi.Mux {
	router := chi.NewRouter()

	setupMiddleware(router, cfg, logger)
	setupMetricsEndpoint(router, cfg, logger)
	setupAuthRoutes(router, cfg, logger)
	setupCustomerRoutes(router, cfg, deps.Service, logger)
	setupTransactionRoutes(router, cfg, deps.Service, logger)
	setupHolidayRoutes(router, cfg, deps.Service, logger)
	setupSyncRoutes(router, cfg, deps, logger)
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	return router
}

func setupMiddleware(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(traceid.Middleware)
	router.Use(mw.StructuredLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Compress(5))
	router.Use(middleware.Timeout(60 * time.Second))
	router.Use(mw.NewRateLimiterMiddleware(cfg.Server.RateLimit, logger).Middleware)
	router.Use(mw.MetricsMiddleware())
}

func setupMetricsEndpoint(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	metricsPath := cfg.Metrics.Path
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	logger.Info("Setting up Prometheus metrics endpoint", "path", metricsPath)
	router.Handle(metricsPath, promhttp.Handler())
}

func setupAuthRoutes(router *chi.Mux, cfg *config.Config, logger *slog.Logger) {
	authHandler := handler.NewAuthHandler(*cfg, logger)
	router.Route("/auth", func(r chi.Router) {
		r.Post("/token", authHandler.GenerateBearerToken)
	})
}

func setupCustomerRoutes(router chi.Router, cfg *config.Config, svc ledger.LedgerService, logger *slog.Logger) {
	h := handler.NewCustomerHandler(svc, logger)

	router.Route("/customers", func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		r.Get("/", h.ListCustomers)
		r.Post("/borrowers", h.CreateBorrower)
		r.Post("/savers", h.CreateSaver)
		r.Route("/{customerID}", func(r chi.Router) {
			r.Get("/", h.GetCustomer)
			r.Put("/", h.UpdateCustomer)
			r.Delete("/", h.DeleteCustomer)
			r.Put("/archive", h.SetArchived)
			r.Get("/transactions", h.ListCustomerTransactions)
		})
	})
}

func setupTransactionRoutes(router chi.Router, cfg *config.Config, svc ledger.LedgerService, logger *slog.Logger) {
	h := handler.NewTransactionHandler(svc, logger)

	router.Route("/transactions", func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		r.Post("/", h.CreateTransaction)
		r.Get("/", h.ListTransactions)
		r.Route("/{transactionID}", func(r chi.Router) {
			r.Put("/", h.UpdateTransaction)
			r.Delete("/", h.DeleteTransaction)
		})
	})
}

func setupHolidayRoutes(router chi.Router, cfg *config.Config, svc ledger.LedgerService, logger *slog.Logger) {
	h := handler.NewHolidayHandler(svc, logger)

	router.Route("/holidays", func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		r.Get("/", h.ListOverrides)
		r.Route("/{date}", func(r chi.Router) {
			r.Put("/", h.SetOverride)
			r.Delete("/", h.RemoveOverride)
		})
	})
}

func setupSyncRoutes(router chi.Router, cfg *config.Config, deps RouterDeps, logger *slog.Logger) {
	h := handler.NewSyncHandler(deps.Queue, deps.Monitor, deps.Worker, deps.Recon, deps.Service, logger)

	router.Route("/sync", func(r chi.Router) {
		r.Use(mw.AuthMiddleware(cfg.Server.Auth, logger))
		r.Get("/status", h.Status)
		r.Post("/drain", h.Drain)
		r.Post("/reconcile", h.Reconcile)
	})
}
