package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/visaflow/golang_services/internal/jobqueue/domain"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"
)

// Handler executes one job. Returning a PermanentError (or any error wrapping
// one) fails the job immediately; any other error schedules a backoff retry
// until the job's attempts are exhausted.
type Handler func(ctx context.Context, job *domain.Job) error

// Registry maps job type names to handlers. The set is assembled at startup;
// dispatching a job whose type is absent is a permanent failure, not a
// silently swallowed log line.
type Registry struct {
	handlers map[string]Handler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds a handler for a job type. Duplicate registration is a wiring
// bug and fails fast.
func (r *Registry) Register(jobType string, h Handler) error {
	if jobType == "" {
		return errors.New("job type must not be empty")
	}
	if h == nil {
		return fmt.Errorf("nil handler for job type %q", jobType)
	}
	if _, exists := r.handlers[jobType]; exists {
		return fmt.Errorf("handler already registered for job type %q", jobType)
	}
	r.handlers[jobType] = h
	return nil
}

// Lookup returns the handler for a job type.
func (r *Registry) Lookup(jobType string) (Handler, bool) {
	h, ok := r.handlers[jobType]
	return h, ok
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int { return len(r.handlers) }

// WorkerConfig holds per-queue worker knobs.
type WorkerConfig struct {
	Queue       domain.Queue
	Concurrency int
	BaseBackoff time.Duration
	JobTimeout  time.Duration
}

// Worker consumes job signals for one queue and executes handlers with a
// bounded concurrency.
type Worker struct {
	config   WorkerConfig
	registry *Registry
	repo     domain.JobRepository
	broker   messagebroker.Client
	logger   *slog.Logger
	sem      chan struct{}
}

// NewWorker validates configuration and creates a Worker. An empty registry
// means the process was wired without any handlers, which is a startup error.
func NewWorker(config WorkerConfig, registry *Registry, repo domain.JobRepository, broker messagebroker.Client, logger *slog.Logger) (*Worker, error) {
	if !config.Queue.Valid() {
		return nil, domain.ErrInvalidQueue
	}
	if registry == nil || registry.Len() == 0 {
		return nil, errors.New("worker requires a non-empty handler registry")
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 30 * time.Second
	}
	if config.JobTimeout <= 0 {
		config.JobTimeout = 60 * time.Second
	}
	return &Worker{
		config:   config,
		registry: registry,
		repo:     repo,
		broker:   broker,
		logger:   logger.With("component", "job_worker", "queue", string(config.Queue)),
		sem:      make(chan struct{}, config.Concurrency),
	}, nil
}

// Start subscribes to the queue's dispatch subject. Blocking only for the
// subscription call; job execution happens on handler goroutines.
func (w *Worker) Start(ctx context.Context) error {
	subject := JobSubjectPrefix + string(w.config.Queue)
	queueGroup := "workers-" + string(w.config.Queue)

	w.logger.InfoContext(ctx, "starting job worker",
		"subject", subject, "queue_group", queueGroup, "concurrency", w.config.Concurrency)

	_, err := w.broker.SubscribeToSubjectWithQueue(ctx, subject, queueGroup, func(msg messagebroker.Message) {
		jobID, err := uuid.Parse(string(msg.Data()))
		if err != nil {
			w.logger.Error("discarding job signal with malformed id", "data", string(msg.Data()), "error", err)
			return
		}

		select {
		case w.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		go func() {
			defer func() { <-w.sem }()
			w.runJob(ctx, jobID)
		}()
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe worker for queue %q: %w", w.config.Queue, err)
	}
	return nil
}

func (w *Worker) runJob(ctx context.Context, jobID uuid.UUID) {
	logger := w.logger.With("job_id", jobID)

	paused, err := w.repo.IsPaused(ctx, w.config.Queue)
	if err != nil {
		logger.Error("could not read queue pause state; leaving job waiting", "error", err)
		return
	}
	if paused {
		logger.Debug("queue paused; leaving job waiting")
		return
	}

	job, err := w.repo.Acquire(ctx, jobID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotAcquirable) || errors.Is(err, domain.ErrJobNotFound) {
			// Another worker claimed it, or the job was cancelled/drained.
			logger.Debug("job not acquirable", "reason", err)
			return
		}
		logger.Error("failed to acquire job", "error", err)
		return
	}
	logger = logger.With("job_type", job.Type, "attempt", job.Attempts)

	handler, ok := w.registry.Lookup(job.Type)
	if !ok {
		logger.Error("no handler registered for job type; failing permanently")
		w.markFailed(ctx, job, domain.ErrUnknownJobType.Error())
		return
	}

	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	timer := prometheus.NewTimer(jobProcessingDurationHist.WithLabelValues(string(job.Queue), job.Type))
	handlerErr := w.execute(jobCtx, handler, job)
	timer.ObserveDuration()

	if handlerErr == nil {
		if err := w.repo.MarkCompleted(ctx, job.ID); err != nil {
			logger.Error("job succeeded but could not be marked completed", "error", err)
			return
		}
		jobsProcessedCounter.WithLabelValues(string(job.Queue), job.Type, "success").Inc()
		logger.Info("job completed")
		return
	}

	if domain.IsPermanent(handlerErr) {
		logger.Error("job failed permanently", "error", handlerErr)
		w.markFailed(ctx, job, handlerErr.Error())
		return
	}

	if job.Attempts >= job.MaxAttempts {
		logger.Error("job exhausted attempts", "error", handlerErr, "max_attempts", job.MaxAttempts)
		w.markFailed(ctx, job, handlerErr.Error())
		return
	}

	delay := Backoff(w.config.BaseBackoff, job.Attempts)
	runAt := time.Now().UTC().Add(delay)
	if err := w.repo.MarkDelayed(ctx, job.ID, runAt, handlerErr.Error()); err != nil {
		logger.Error("job failed and could not be delayed for retry", "error", err, "handler_error", handlerErr)
		return
	}
	jobsProcessedCounter.WithLabelValues(string(job.Queue), job.Type, "retry").Inc()
	logger.Warn("job failed; scheduled retry", "error", handlerErr, "retry_at", runAt, "delay", delay)
}

// execute runs the handler, converting panics into errors so one bad job
// cannot take the worker down.
func (w *Worker) execute(ctx context.Context, handler Handler, job *domain.Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panicked: %v", r)
		}
	}()
	return handler(ctx, job)
}

func (w *Worker) markFailed(ctx context.Context, job *domain.Job, reason string) {
	if err := w.repo.MarkFailed(ctx, job.ID, reason); err != nil {
		w.logger.Error("could not mark job failed", "job_id", job.ID, "error", err)
		return
	}
	jobsProcessedCounter.WithLabelValues(string(job.Queue), job.Type, "failed").Inc()
}
