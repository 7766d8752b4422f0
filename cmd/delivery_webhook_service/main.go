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
	"github.com/visaflow/golang_services/internal/platform/logger"

	msghttp "github.com/visaflow/golang_services/internal/messaging_service/adapters/http"
	msgapp "github.com/visaflow/golang_services/internal/messaging_service/app"
	msgpg "github.com/visaflow/golang_services/internal/messaging_service/repository/postgres"
)

const (
	serviceName     = "delivery-webhook-service"
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

	messageRepo := msgpg.NewPgOutboundMessageRepository(dbPool, log)
	conversationRepo := msgpg.NewPgConversationRepository(dbPool, log)
	auditRepo := msgpg.NewPgCorrelationAuditRepository(dbPool, log)

	verifier := msgapp.NewVerifier(msgapp.VerifierConfig{
		VerifyToken:   cfg.WebhookVerifyToken,
		AppSecret:     cfg.WebhookAppSecret,
		MaxPayloadAge: cfg.WebhookMaxPayloadAge,
		MaxClockSkew:  cfg.WebhookMaxClockSkew,
	}, log)
	correlator := msgapp.NewCorrelator(messageRepo, auditRepo, msgapp.CorrelatorConfig{
		Lookback: cfg.MessageCorrelationLookback,
	}, log)
	tracker := msgapp.NewDeliveryTracker(messageRepo, conversationRepo, log)

	router := chi.NewRouter()
	router.Use(chi_middleware.RequestID)
	router.Use(chi_middleware.RealIP)
	router.Use(chi_middleware.Recoverer)
	// The provider retries on timeout; keep the callback path snappy.
	router.Use(chi_middleware.Timeout(15 * time.Second))
	msghttp.NewWebhookHandler(verifier, correlator, tracker, log).RegisterRoutes(router)

	webhookServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.DeliveryWebhookPort),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	g.Go(func() error {
		log.Info("delivery webhook server listening", "addr", webhookServer.Addr)
		if err := webhookServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("webhook server: %w", err)
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
		if err := webhookServer.Shutdown(shutdownCtx); err != nil {
			log.Error("webhook server shutdown failed", "error", err)
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
