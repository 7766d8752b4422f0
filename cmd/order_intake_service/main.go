package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chi_middleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/visaflow/golang_services/internal/platform/config"
	"github.com/visaflow/golang_services/internal/platform/database"
	"github.com/visaflow/golang_services/internal/platform/events"
	"github.com/visaflow/golang_services/internal/platform/logger"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"

	jobapp "github.com/visaflow/golang_services/internal/jobqueue/app"
	jobpg "github.com/visaflow/golang_services/internal/jobqueue/repository/postgres"
	orderhttp "github.com/visaflow/golang_services/internal/order_service/adapters/http"
	orderapp "github.com/visaflow/golang_services/internal/order_service/app"
	orderpg "github.com/visaflow/golang_services/internal/order_service/repository/postgres"
	syncapp "github.com/visaflow/golang_services/internal/sync_service/app"
	syncpg "github.com/visaflow/golang_services/internal/sync_service/repository/postgres"
)

const (
	serviceName     = "order-intake-service"
	shutdownTimeout = 10 * time.Second
)

func main() {
	mainCtx, mainCancel := context.WithCancel(context.Background())
	defer mainCancel()

	cfg, err := config.Load(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("starting service")

	dbPool, err := database.NewDBPool(mainCtx, cfg.PostgresDSN)
	if err != nil {
		log.Error("failed to initialize database pool", "error", err)
		os.Exit(1)
	}
	defer dbPool.Close()
	log.Info("database connection pool initialized")

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, log)
	if err != nil {
		log.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()
	log.Info("NATS connection initialized")

	// Stores
	orderRepo := orderpg.NewPgOrderRepository(dbPool, log)
	auditRepo := syncpg.NewPgAuditRepository(dbPool, log)
	jobRepo := jobpg.NewPgJobRepository(dbPool, log)

	// Queue facade used by the sync orchestrator
	queueService := jobapp.NewQueueService(jobRepo, natsClient, log, jobapp.QueueConfig{
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseBackoff: cfg.QueueBaseBackoff,
	})

	// In-process event bus wiring: order intake publishes, the saga consumes.
	bus := events.NewBus(log)
	orchestrator := syncapp.NewOrchestrator(queueService, orderRepo, auditRepo, log)
	saga := syncapp.NewSaga(orchestrator, log)
	if err := saga.Register(bus); err != nil {
		log.Error("failed to register sync saga", "error", err)
		os.Exit(1)
	}
	bus.Start()

	intakeService := orderapp.NewIntakeService(orderRepo, natsClient, bus, log,
		orderapp.IntakeDefaults{Currency: cfg.DefaultCurrency})

	router := chi.NewRouter()
	router.Use(chi_middleware.RequestID)
	router.Use(chi_middleware.RealIP)
	router.Use(chi_middleware.Recoverer)
	router.Use(chi_middleware.Timeout(30 * time.Second))
	orderhttp.NewOrderHandler(intakeService, orchestrator, log).RegisterRoutes(router, cfg.JWTAdminSecret)

	apiServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.OrderIntakePort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("order intake HTTP server listening", "addr", apiServer.Addr)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("order intake server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error("order intake server shutdown failed", "error", err)
		}
		return metricsServer.Shutdown(shutdownCtx)
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	g.Go(func() error {
		select {
		case sig := <-quit:
			log.Info("shutdown signal received", "signal", sig.String())
			mainCancel()
		case <-groupCtx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("service stopped")
}
