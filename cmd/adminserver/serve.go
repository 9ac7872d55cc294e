package main

import (
	"admin_service/internal/api"
	"admin_service/internal/config"
	"admin_service/internal/domain"
	"admin_service/internal/permissions"
	"admin_service/internal/processor"
	"admin_service/internal/repository"
	"admin_service/internal/service"
	"admin_service/internal/subscription"
	"admin_service/pkg/crypto"
	"admin_service/pkg/metrics"
	"admin_service/pkg/rpc"
	"admin_service/pkg/validator"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the administration server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if listenAddr != "" {
			cfg.ListenAddr = listenAddr
		}
		logger, err := setupLogger(cfg.LogLevel)
		if err != nil {
			return err
		}
		defer logger.Sync()
		return serve(cmd.Context(), cfg, logger)
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "address to serve the rpc endpoint on")
}

type application struct {
	store         repository.DataStore
	rpcServer     *rpc.Server
	auditService  *service.AuditService
	collector     *metrics.MetricsCollector
	httpServer    *http.Server
	metricsServer *http.Server
}

func serve(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	logger.Info("Starting application", zap.String("name", appName))

	app, err := newApplication(ctx, cfg, logger)
	if err != nil {
		return err
	}
	app.start(logger)
	waitForShutdown(logger, app)
	logger.Info("Application shutdown complete")
	return nil
}

func newApplication(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	graph, roots, err := buildDirectory(ctx, cfg)
	if err != nil {
		return nil, err
	}
	database, err := config.LoadEntitlements(ctx, cfg.EntitlementsPath, graph, roots.Entitlements)
	if err != nil {
		return nil, err
	}
	store, err := setupStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}

	collector := metrics.NewMetricsCollector(logger)
	auditService := service.NewAuditService(service.NewZapSink(logger), cfg.Audit.Workers, cfg.Audit.QueueSize, logger)
	resolver := permissions.NewResolver(graph, roots)
	checker := validator.New()
	entitlements := processor.NewEntitlementManager(database, graph, auditService, logger)
	riskParameters := subscription.NewRegistry[domain.RiskParameters]("risk_parameters",
		store.LoadRiskParameters, store.StoreRiskParameters, collector, logger)
	riskStates := subscription.NewRegistry[domain.RiskState]("risk_state",
		store.LoadRiskState, store.StoreRiskState, collector, logger)

	workflow, err := processor.NewWorkflow(ctx, processor.Dependencies{
		Store:          store,
		Resolver:       resolver,
		Entitlements:   entitlements,
		RiskParameters: riskParameters,
		RiskStates:     riskStates,
		Validator:      checker,
		Audit:          auditService,
		Metrics:        collector,
		Logger:         logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	servlet := api.NewServlet(api.Config{
		Directory:      graph,
		Resolver:       resolver,
		Store:          store,
		Workflow:       workflow,
		Entitlements:   entitlements,
		RiskParameters: riskParameters,
		RiskStates:     riskStates,
		Validator:      checker,
		Logger:         logger,
	})
	signer := crypto.NewSigner(cfg.SessionSecret, logger)
	rpcServer := rpc.NewServer(rpc.ServerConfig{
		Authenticator: api.NewTokenAuthenticator(signer, graph, logger),
		MapError:      api.MapError,
		Metrics:       collector,
		Logger:        logger.Named("rpc"),
	})
	servlet.Bind(rpcServer)

	app := &application{
		store:        store,
		rpcServer:    rpcServer,
		auditService: auditService,
		collector:    collector,
	}
	app.httpServer = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           app.routes(cfg.MetricsAddr == ""),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.MetricsAddr != "" {
		app.metricsServer = collector.StartMetricsServer(cfg.MetricsAddr)
	}
	return app, nil
}

func (a *application) routes(withMetrics bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Handle("/rpc", a.rpcServer)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"name":     appName,
			"status":   "ok",
			"sessions": a.rpcServer.SessionCount(),
		})
	})
	if withMetrics {
		r.Handle("/metrics", a.collector.GetHandler())
	}
	return r
}

func (a *application) start(logger *zap.Logger) {
	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", a.httpServer.Addr))
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", zap.Error(err))
			os.Exit(1)
		}
	}()
}

func waitForShutdown(logger *zap.Logger, app *application) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	logger.Info("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := app.httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}
	app.rpcServer.Close()

	if app.metricsServer != nil {
		if err := app.metricsServer.Shutdown(ctx); err != nil {
			logger.Error("Metrics server shutdown failed", zap.Error(err))
		}
	}
	if err := app.auditService.Shutdown(ctx); err != nil {
		logger.Error("Audit service shutdown failed", zap.Error(err))
	}
	if err := app.store.Close(); err != nil {
		logger.Error("Data store close failed", zap.Error(err))
	}
	if err := app.collector.Shutdown(ctx); err != nil {
		logger.Error("Metrics collector shutdown failed", zap.Error(err))
	}
}
