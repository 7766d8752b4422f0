package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/visaflow/golang_services/internal/jobqueue/domain"
)

// PgJobRepository is the PostgreSQL implementation of domain.JobRepository.
// It expects tables:
//
//	queue_jobs(id uuid PK, queue text, job_type text, payload jsonb,
//	           status int, attempts int, max_attempts int, run_at timestamptz,
//	           last_error text NULL, created_at timestamptz, updated_at timestamptz,
//	           completed_at timestamptz NULL)
//	queue_state(queue text PK, paused boolean, updated_at timestamptz)
type PgJobRepository struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// NewPgJobRepository creates a new PostgreSQL job repository.
func NewPgJobRepository(db *pgxpool.Pool, logger *slog.Logger) *PgJobRepository {
	return &PgJobRepository{db: db, logger: logger}
}

var _ domain.JobRepository = (*PgJobRepository)(nil)

const jobColumns = `id, queue, job_type, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at, completed_at`

func (r *PgJobRepository) Insert(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO queue_jobs (id, queue, job_type, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		job.ID, string(job.Queue), job.Type, job.Payload, int(job.Status),
		job.Attempts, job.MaxAttempts, job.RunAt, job.LastError, job.CreatedAt, job.UpdatedAt,
	)
	if err != nil {
		r.logger.ErrorContext(ctx, "error inserting job", "error", err, "job_id", job.ID)
		return err
	}
	return nil
}

func (r *PgJobRepository) InsertBatch(ctx context.Context, jobs []*domain.Job) error {
	if len(jobs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	query := `
		INSERT INTO queue_jobs (id, queue, job_type, payload, status, attempts, max_attempts, run_at, last_error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	for _, job := range jobs {
		batch.Queue(query,
			job.ID, string(job.Queue), job.Type, job.Payload, int(job.Status),
			job.Attempts, job.MaxAttempts, job.RunAt, job.LastError, job.CreatedAt, job.UpdatedAt,
		)
	}
	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range jobs {
		if _, err := br.Exec(); err != nil {
			r.logger.ErrorContext(ctx, "error batch inserting jobs", "error", err, "count", len(jobs))
			return err
		}
	}
	return nil
}

func (r *PgJobRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM queue_jobs WHERE id = $1`
	job, err := r.scanJob(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		r.logger.ErrorContext(ctx, "error getting job by id", "error", err, "job_id", id)
		return nil, err
	}
	return job, nil
}

// Acquire claims a waiting job for execution. The conditional update is the
// concurrency guard: only one worker can move the row out of waiting.
func (r *PgJobRepository) Acquire(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	query := `
		UPDATE queue_jobs
		SET status = $1, attempts = attempts + 1, updated_at = $2
		WHERE id = $3 AND status = $4
		RETURNING ` + jobColumns
	job, err := r.scanJob(r.db.QueryRow(ctx, query,
		int(domain.JobStatusActive), time.Now().UTC(), id, int(domain.JobStatusWaiting)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either missing or not waiting; disambiguate for the caller.
			if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, domain.ErrJobNotFound) {
				return nil, domain.ErrJobNotFound
			}
			return nil, domain.ErrJobNotAcquirable
		}
		r.logger.ErrorContext(ctx, "error acquiring job", "error", err, "job_id", id)
		return nil, err
	}
	return job, nil
}

func (r *PgJobRepository) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	query := `
		UPDATE queue_jobs
		SET status = $1, completed_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return r.execTransition(ctx, query, "mark completed", id,
		int(domain.JobStatusCompleted), now, id, int(domain.JobStatusActive))
}

func (r *PgJobRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	now := time.Now().UTC()
	query := `
		UPDATE queue_jobs
		SET status = $1, last_error = $2, completed_at = $3, updated_at = $3
		WHERE id = $4
	`
	return r.execTransition(ctx, query, "mark failed", id,
		int(domain.JobStatusFailed), reason, now, id)
}

func (r *PgJobRepository) MarkDelayed(ctx context.Context, id uuid.UUID, runAt time.Time, reason string) error {
	query := `
		UPDATE queue_jobs
		SET status = $1, run_at = $2, last_error = $3, updated_at = $4
		WHERE id = $5 AND status = $6
	`
	return r.execTransition(ctx, query, "mark delayed", id,
		int(domain.JobStatusDelayed), runAt, reason, time.Now().UTC(), id, int(domain.JobStatusActive))
}

func (r *PgJobRepository) RequeueFailed(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE queue_jobs
		SET status = $1, completed_at = NULL, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	tag, err := r.db.Exec(ctx, query,
		int(domain.JobStatusWaiting), time.Now().UTC(), id, int(domain.JobStatusFailed))
	if err != nil {
		r.logger.ErrorContext(ctx, "error re-queueing failed job", "error", err, "job_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrJobNotRetryable
	}
	return nil
}

func (r *PgJobRepository) Cancel(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE queue_jobs
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status = ANY($4)
	`
	tag, err := r.db.Exec(ctx, query,
		int(domain.JobStatusCancelled), time.Now().UTC(), id,
		[]int{int(domain.JobStatusWaiting), int(domain.JobStatusDelayed)})
	if err != nil {
		r.logger.ErrorContext(ctx, "error cancelling job", "error", err, "job_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := r.GetByID(ctx, id); errors.Is(getErr, domain.ErrJobNotFound) {
			return domain.ErrJobNotFound
		}
		return domain.ErrJobNotCancelable
	}
	return nil
}

// AcquireDue claims due delayed jobs with FOR UPDATE SKIP LOCKED so multiple
// poller instances never promote the same row twice.
func (r *PgJobRepository) AcquireDue(ctx context.Context, now time.Time, limit int) ([]*domain.Job, error) {
	query := `
		WITH due AS (
			SELECT id
			FROM queue_jobs
			WHERE status = $1 AND run_at <= $2
			ORDER BY run_at ASC
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		UPDATE queue_jobs q
		SET status = $4, updated_at = $5
		FROM due
		WHERE q.id = due.id
		RETURNING q.id, q.queue, q.job_type, q.payload, q.status, q.attempts, q.max_attempts, q.run_at, q.last_error, q.created_at, q.updated_at, q.completed_at
	`
	rows, err := r.db.Query(ctx, query,
		int(domain.JobStatusDelayed), now, limit, int(domain.JobStatusWaiting), time.Now().UTC())
	if err != nil {
		r.logger.ErrorContext(ctx, "error acquiring due jobs", "error", err)
		return nil, err
	}
	defer rows.Close()
	return r.collectJobs(rows)
}

func (r *PgJobRepository) Stats(ctx context.Context, queue domain.Queue) (domain.QueueStats, error) {
	query := `
		SELECT status, COUNT(*)
		FROM queue_jobs
		WHERE queue = $1
		GROUP BY status
	`
	rows, err := r.db.Query(ctx, query, string(queue))
	if err != nil {
		return domain.QueueStats{}, err
	}
	defer rows.Close()

	var stats domain.QueueStats
	for rows.Next() {
		var status, count int
		if err := rows.Scan(&status, &count); err != nil {
			return domain.QueueStats{}, err
		}
		switch domain.JobStatus(status) {
		case domain.JobStatusWaiting:
			stats.Waiting = count
		case domain.JobStatusActive:
			stats.Active = count
		case domain.JobStatusCompleted:
			stats.Completed = count
		case domain.JobStatusFailed:
			stats.Failed = count
		case domain.JobStatusDelayed:
			stats.Delayed = count
		}
	}
	return stats, rows.Err()
}

func (r *PgJobRepository) ListByStatus(ctx context.Context, queue domain.Queue, status domain.JobStatus, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM queue_jobs
		WHERE queue = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`
	rows, err := r.db.Query(ctx, query, string(queue), int(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectJobs(rows)
}

func (r *PgJobRepository) ListWaiting(ctx context.Context, queue domain.Queue, limit int) ([]*domain.Job, error) {
	return r.ListByStatus(ctx, queue, domain.JobStatusWaiting, limit)
}

func (r *PgJobRepository) ListWaitingOlderThan(ctx context.Context, queue domain.Queue, cutoff time.Time, limit int) ([]*domain.Job, error) {
	query := `
		SELECT ` + jobColumns + `
		FROM queue_jobs
		WHERE queue = $1 AND status = $2 AND updated_at < $3
		ORDER BY created_at ASC
		LIMIT $4
	`
	rows, err := r.db.Query(ctx, query, string(queue), int(domain.JobStatusWaiting), cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectJobs(rows)
}

func (r *PgJobRepository) SetPaused(ctx context.Context, queue domain.Queue, paused bool) error {
	query := `
		INSERT INTO queue_state (queue, paused, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (queue) DO UPDATE SET paused = EXCLUDED.paused, updated_at = EXCLUDED.updated_at
	`
	if _, err := r.db.Exec(ctx, query, string(queue), paused, time.Now().UTC()); err != nil {
		r.logger.ErrorContext(ctx, "error setting queue pause state", "error", err, "queue", queue, "paused", paused)
		return err
	}
	return nil
}

func (r *PgJobRepository) IsPaused(ctx context.Context, queue domain.Queue) (bool, error) {
	var paused bool
	err := r.db.QueryRow(ctx, `SELECT paused FROM queue_state WHERE queue = $1`, string(queue)).Scan(&paused)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil // no row means never paused
		}
		return false, err
	}
	return paused, nil
}

func (r *PgJobRepository) DeleteQueued(ctx context.Context, queue domain.Queue) (int64, error) {
	query := `DELETE FROM queue_jobs WHERE queue = $1 AND status = ANY($2)`
	tag, err := r.db.Exec(ctx, query, string(queue),
		[]int{int(domain.JobStatusWaiting), int(domain.JobStatusDelayed)})
	if err != nil {
		r.logger.ErrorContext(ctx, "error draining queue", "error", err, "queue", queue)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgJobRepository) PruneFinished(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error) {
	query := `
		DELETE FROM queue_jobs
		WHERE (status = $1 AND completed_at < $2)
		   OR (status = $3 AND completed_at < $4)
	`
	tag, err := r.db.Exec(ctx, query,
		int(domain.JobStatusCompleted), completedBefore,
		int(domain.JobStatusFailed), failedBefore)
	if err != nil {
		r.logger.ErrorContext(ctx, "error pruning finished jobs", "error", err)
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *PgJobRepository) execTransition(ctx context.Context, query, op string, id uuid.UUID, args ...any) error {
	tag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		r.logger.ErrorContext(ctx, "error in job status transition", "op", op, "error", err, "job_id", id)
		return err
	}
	if tag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "job status transition affected no rows", "op", op, "job_id", id)
		return domain.ErrJobNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *PgJobRepository) scanJob(row rowScanner) (*domain.Job, error) {
	var job domain.Job
	var queue string
	var status int
	err := row.Scan(
		&job.ID, &queue, &job.Type, &job.Payload, &status, &job.Attempts,
		&job.MaxAttempts, &job.RunAt, &job.LastError, &job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Queue = domain.Queue(queue)
	job.Status = domain.JobStatus(status)
	return &job, nil
}

func (r *PgJobRepository) collectJobs(rows pgx.Rows) ([]*domain.Job, error) {
	var jobs []*domain.Job
	for rows.Next() {
		job, err := r.scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
