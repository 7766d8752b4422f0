package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/visaflow/golang_services/internal/platform/config"
	"github.com/visaflow/golang_services/internal/platform/database"
	"github.com/visaflow/golang_services/internal/platform/logger"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"

	"github.com/visaflow/golang_services/internal/contact_service/adapters/crm"
	contactapp "github.com/visaflow/golang_services/internal/contact_service/app"
	contactpg "github.com/visaflow/golang_services/internal/contact_service/repository/postgres"
	jobapp "github.com/visaflow/golang_services/internal/jobqueue/app"
	jobdomain "github.com/visaflow/golang_services/internal/jobqueue/domain"
	jobpg "github.com/visaflow/golang_services/internal/jobqueue/repository/postgres"
	"github.com/visaflow/golang_services/internal/messaging_service/adapters/provider"
	msgapp "github.com/visaflow/golang_services/internal/messaging_service/app"
	msgpg "github.com/visaflow/golang_services/internal/messaging_service/repository/postgres"
	orderpg "github.com/visaflow/golang_services/internal/order_service/repository/postgres"
	syncdomain "github.com/visaflow/golang_services/internal/sync_service/domain"
)

const serviceName = "notification-worker-service"

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

	natsClient, err := messagebroker.NewNATSClient(cfg.NATSUrl, serviceName, log)
	if err != nil {
		log.Error("failed to connect to NATS", "error", err)
		os.Exit(1)
	}
	defer natsClient.Close()

	// Stores
	jobRepo := jobpg.NewPgJobRepository(dbPool, log)
	orderRepo := orderpg.NewPgOrderRepository(dbPool, log)
	contactRepo := contactpg.NewPgContactRepository(dbPool, log)
	messageRepo := msgpg.NewPgOutboundMessageRepository(dbPool, log)

	// External clients
	var crmClient crm.Client
	if cfg.CRMMockMode {
		log.Warn("CRM mock mode enabled; contact syncs stay in-process")
		crmClient = crm.NewMockClient(log)
	} else {
		crmClient = crm.NewHTTPClient(log, cfg.CRMAPIURL, cfg.CRMAPIKey, cfg.CRMBaseID, cfg.CRMTableID, cfg.CRMViewID, nil)
	}
	providerClient := provider.NewCloudAPIClient(log, cfg.ProviderAPIURL, cfg.ProviderAPIToken, cfg.ProviderPhoneID, nil)

	// Job handlers
	contactSync := contactapp.NewSyncService(contactRepo, orderRepo, crmClient, log)
	completedTracker := contactapp.NewCompletedTracker(orderRepo, crmClient, log)
	sender := msgapp.NewSender(orderRepo, messageRepo, providerClient, msgapp.SenderConfig{
		TemplateName: cfg.NotificationTemplate,
		Language:     cfg.NotificationTemplateLang,
	}, log)

	registry := jobapp.NewRegistry()
	for jobType, handler := range map[string]jobapp.Handler{
		syncdomain.JobTypeContactSync:      contactSync.HandleContactSyncJob,
		syncdomain.JobTypeNotificationSend: sender.HandleNotificationJob,
		syncdomain.JobTypeCompletedScan:    completedTracker.HandleCompletedScanJob,
	} {
		if err := registry.Register(jobType, handler); err != nil {
			log.Error("failed to register job handler", "job_type", jobType, "error", err)
			os.Exit(1)
		}
	}

	queueService := jobapp.NewQueueService(jobRepo, natsClient, log, jobapp.QueueConfig{
		MaxAttempts: cfg.QueueMaxAttempts,
		BaseBackoff: cfg.QueueBaseBackoff,
	})

	workerConfigs := []jobapp.WorkerConfig{
		{Queue: jobdomain.QueueCritical, Concurrency: cfg.QueueConcurrencyCritical, BaseBackoff: cfg.QueueBaseBackoff},
		{Queue: jobdomain.QueueDefault, Concurrency: cfg.QueueConcurrencyDefault, BaseBackoff: cfg.QueueBaseBackoff},
		{Queue: jobdomain.QueueBulk, Concurrency: cfg.QueueConcurrencyBulk, BaseBackoff: cfg.QueueBaseBackoff},
	}

	g, groupCtx := errgroup.WithContext(mainCtx)

	for _, wc := range workerConfigs {
		worker, err := jobapp.NewWorker(wc, registry, jobRepo, natsClient, log)
		if err != nil {
			log.Error("failed to build worker", "queue", wc.Queue, "error", err)
			os.Exit(1)
		}
		if err := worker.Start(groupCtx); err != nil {
			log.Error("failed to start worker", "queue", wc.Queue, "error", err)
			os.Exit(1)
		}
	}

	poller := jobapp.NewPoller(jobRepo, natsClient, log, jobapp.PollerConfig{
		PollingInterval:    cfg.QueuePollingInterval,
		CompletedRetention: cfg.QueueCompletedRetention,
		FailedRetention:    cfg.QueueFailedRetention,
		ResignalAfter:      cfg.QueueResignalAfter,
	})
	g.Go(func() error {
		return poller.Run(groupCtx)
	})

	// Periodically enqueue a completed-order scan. The cutoff overlaps the
	// previous window by one interval; completion marking is idempotent.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.CompletedScanInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				payload, err := json.Marshal(syncdomain.CompletedScanPayload{
					After: time.Now().UTC().Add(-2 * cfg.CompletedScanInterval),
				})
				if err != nil {
					return err
				}
				if _, err := queueService.Enqueue(groupCtx, jobdomain.QueueBulk, syncdomain.JobTypeCompletedScan, payload); err != nil {
					log.ErrorContext(groupCtx, "failed to enqueue completed scan", "error", err)
				}
			case <-groupCtx.Done():
				return groupCtx.Err()
			}
		}
	})

	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: promhttp.Handler(),
	}
	g.Go(func() error {
		log.Info("metrics server listening", "addr", metricsServer.Addr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
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

	log.Info("workers running",
		"critical_concurrency", cfg.QueueConcurrencyCritical,
		"default_concurrency", cfg.QueueConcurrencyDefault,
		"bulk_concurrency", cfg.QueueConcurrencyBulk)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("service exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("service stopped")
}
