package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/visaflow/golang_services/internal/jobqueue/domain"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"
)

// JobSubjectPrefix is the broker subject prefix for job dispatch signals;
// the full subject is "jobs.<queue>".
const JobSubjectPrefix = "jobs."

// QueueConfig holds queue policy knobs.
type QueueConfig struct {
	MaxAttempts int
	BaseBackoff time.Duration
}

// QueueService is the durable job queue facade. Job rows in the store are
// the source of truth; the broker only wakes up workers. Mutating operations
// propagate failures to the caller, read operations degrade to empty results
// when the store is unavailable.
type QueueService struct {
	repo   domain.JobRepository
	broker messagebroker.Client
	logger *slog.Logger
	config QueueConfig
}

// NewQueueService creates a QueueService.
func NewQueueService(repo domain.JobRepository, broker messagebroker.Client, logger *slog.Logger, config QueueConfig) *QueueService {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = 3
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = 30 * time.Second
	}
	return &QueueService{
		repo:   repo,
		broker: broker,
		logger: logger.With("component", "job_queue"),
		config: config,
	}
}

// Enqueue inserts a waiting job and signals the queue's workers. Store or
// broker failures are returned so the caller can decide whether a failed
// enqueue is fatal.
func (s *QueueService) Enqueue(ctx context.Context, queue domain.Queue, jobType string, payload []byte) (uuid.UUID, error) {
	return s.enqueueAt(ctx, queue, jobType, payload, time.Now().UTC())
}

// Schedule enqueues a job to run at a future time. A past or zero timestamp
// degrades gracefully to an immediate enqueue.
func (s *QueueService) Schedule(ctx context.Context, queue domain.Queue, jobType string, payload []byte, at time.Time) (uuid.UUID, error) {
	now := time.Now().UTC()
	if at.IsZero() || !at.After(now) {
		return s.enqueueAt(ctx, queue, jobType, payload, now)
	}

	job, err := s.newJob(queue, jobType, payload, at)
	if err != nil {
		return uuid.Nil, err
	}
	job.Status = domain.JobStatusDelayed

	if err := s.repo.Insert(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert delayed job: %w", err)
	}
	jobsEnqueuedCounter.WithLabelValues(string(queue), jobType).Inc()
	s.logger.InfoContext(ctx, "scheduled delayed job",
		"job_id", job.ID, "queue", queue, "job_type", jobType, "run_at", at)
	return job.ID, nil
}

// BulkEnqueue inserts a batch of waiting jobs in one store round trip, then
// signals workers for each. Returns the ids in input order.
func (s *QueueService) BulkEnqueue(ctx context.Context, queue domain.Queue, jobType string, payloads [][]byte) ([]uuid.UUID, error) {
	if len(payloads) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()
	jobs := make([]*domain.Job, 0, len(payloads))
	ids := make([]uuid.UUID, 0, len(payloads))
	for _, payload := range payloads {
		job, err := s.newJob(queue, jobType, payload, now)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		ids = append(ids, job.ID)
	}

	if err := s.repo.InsertBatch(ctx, jobs); err != nil {
		return nil, fmt.Errorf("failed to bulk insert jobs: %w", err)
	}

	for _, job := range jobs {
		jobsEnqueuedCounter.WithLabelValues(string(queue), jobType).Inc()
		if err := s.publishSignal(ctx, job); err != nil {
			// The row is durable; the poller's waiting-job sweep or a Resume
			// will re-signal it. Log and keep going.
			s.logger.WarnContext(ctx, "failed to signal bulk-enqueued job; row remains waiting",
				"job_id", job.ID, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "bulk enqueued jobs", "queue", queue, "job_type", jobType, "count", len(jobs))
	return ids, nil
}

// RetryFailed re-queues a failed job for another round of attempts.
func (s *QueueService) RetryFailed(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.repo.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if job.Status != domain.JobStatusFailed {
		return fmt.Errorf("%w: job %s is %s", domain.ErrJobNotRetryable, jobID, job.Status)
	}
	if err := s.repo.RequeueFailed(ctx, jobID); err != nil {
		return err
	}
	job.Status = domain.JobStatusWaiting
	if err := s.publishSignal(ctx, job); err != nil {
		s.logger.WarnContext(ctx, "failed to signal retried job", "job_id", jobID, "error", err)
	}
	s.logger.InfoContext(ctx, "re-queued failed job", "job_id", jobID, "queue", job.Queue, "job_type", job.Type)
	return nil
}

// Cancel removes a not-yet-started job from its queue. In-flight jobs are not
// interrupted; cancelling them returns ErrJobNotCancelable.
func (s *QueueService) Cancel(ctx context.Context, jobID uuid.UUID) error {
	if err := s.repo.Cancel(ctx, jobID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "cancelled job", "job_id", jobID)
	return nil
}

// Pause stops workers from acquiring new jobs on a queue. Jobs already active
// run to completion.
func (s *QueueService) Pause(ctx context.Context, queue domain.Queue) error {
	if !queue.Valid() {
		return domain.ErrInvalidQueue
	}
	if err := s.repo.SetPaused(ctx, queue, true); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "paused queue", "queue", queue)
	return nil
}

// Resume unpauses a queue and re-signals its waiting jobs so workers pick
// them back up without waiting for the poller.
func (s *QueueService) Resume(ctx context.Context, queue domain.Queue) error {
	if !queue.Valid() {
		return domain.ErrInvalidQueue
	}
	if err := s.repo.SetPaused(ctx, queue, false); err != nil {
		return err
	}

	waiting, err := s.repo.ListWaiting(ctx, queue, 1000)
	if err != nil {
		s.logger.WarnContext(ctx, "resume: could not list waiting jobs for re-signal", "queue", queue, "error", err)
		return nil
	}
	for _, job := range waiting {
		if err := s.publishSignal(ctx, job); err != nil {
			s.logger.WarnContext(ctx, "resume: failed to re-signal waiting job", "job_id", job.ID, "error", err)
		}
	}
	s.logger.InfoContext(ctx, "resumed queue", "queue", queue, "resignalled", len(waiting))
	return nil
}

// Drain removes all waiting and delayed jobs from a queue. Active jobs are
// left to finish.
func (s *QueueService) Drain(ctx context.Context, queue domain.Queue) (int64, error) {
	if !queue.Valid() {
		return 0, domain.ErrInvalidQueue
	}
	removed, err := s.repo.DeleteQueued(ctx, queue)
	if err != nil {
		return 0, err
	}
	s.logger.InfoContext(ctx, "drained queue", "queue", queue, "removed", removed)
	return removed, nil
}

// Stats returns job counts by state. On store unavailability it logs and
// returns zeroed stats rather than erroring: stats consumers (dashboards,
// health checks) should not fail because the store is briefly down.
func (s *QueueService) Stats(ctx context.Context, queue domain.Queue) domain.QueueStats {
	stats, err := s.repo.Stats(ctx, queue)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to read queue stats; returning zeroed stats", "queue", queue, "error", err)
		return domain.QueueStats{}
	}
	return stats
}

// GetJobs lists jobs in a given state. Degrades to an empty slice on store
// failure, mirroring Stats.
func (s *QueueService) GetJobs(ctx context.Context, queue domain.Queue, status domain.JobStatus, limit int) []*domain.Job {
	jobs, err := s.repo.ListByStatus(ctx, queue, status, limit)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to list jobs; returning empty result", "queue", queue, "status", status.String(), "error", err)
		return nil
	}
	return jobs
}

func (s *QueueService) enqueueAt(ctx context.Context, queue domain.Queue, jobType string, payload []byte, runAt time.Time) (uuid.UUID, error) {
	job, err := s.newJob(queue, jobType, payload, runAt)
	if err != nil {
		return uuid.Nil, err
	}

	if err := s.repo.Insert(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert job: %w", err)
	}
	jobsEnqueuedCounter.WithLabelValues(string(queue), jobType).Inc()

	if err := s.publishSignal(ctx, job); err != nil {
		// Enqueue is a mutating operation: the row exists but workers were
		// not signalled, so surface the failure to the caller.
		return uuid.Nil, fmt.Errorf("job %s inserted but broker signal failed: %w", job.ID, err)
	}

	s.logger.InfoContext(ctx, "enqueued job", "job_id", job.ID, "queue", queue, "job_type", jobType)
	return job.ID, nil
}

func (s *QueueService) newJob(queue domain.Queue, jobType string, payload []byte, runAt time.Time) (*domain.Job, error) {
	if !queue.Valid() {
		return nil, domain.ErrInvalidQueue
	}
	if jobType == "" {
		return nil, errors.New("job type must not be empty")
	}
	now := time.Now().UTC()
	return &domain.Job{
		ID:          uuid.New(),
		Queue:       queue,
		Type:        jobType,
		Payload:     payload,
		Status:      domain.JobStatusWaiting,
		Attempts:    0,
		MaxAttempts: s.config.MaxAttempts,
		RunAt:       runAt,
		LastError:   sql.NullString{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (s *QueueService) publishSignal(ctx context.Context, job *domain.Job) error {
	return s.broker.Publish(ctx, JobSubjectPrefix+string(job.Queue), []byte(job.ID.String()))
}

// Backoff computes the retry delay for a given attempt count (1-based):
// base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return base * (1 << (attempt - 1))
}
