package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobRepository is the durable job store. Status transitions are conditional
// updates so concurrent workers cannot double-claim a job.
type JobRepository interface {
	Insert(ctx context.Context, job *Job) error
	InsertBatch(ctx context.Context, jobs []*Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*Job, error)

	// Acquire flips waiting -> active and increments attempts. Returns
	// ErrJobNotAcquirable if the job is in any other state.
	Acquire(ctx context.Context, id uuid.UUID) (*Job, error)

	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error
	// MarkDelayed parks an active job for a future retry at runAt.
	MarkDelayed(ctx context.Context, id uuid.UUID, runAt time.Time, reason string) error

	// RequeueFailed flips failed -> waiting (RetryFailed operation).
	RequeueFailed(ctx context.Context, id uuid.UUID) error
	// Cancel flips waiting/delayed -> cancelled; ErrJobNotCancelable otherwise.
	Cancel(ctx context.Context, id uuid.UUID) error

	// AcquireDue atomically claims delayed jobs whose run time has passed,
	// flipping them to waiting, and returns them for re-dispatch.
	AcquireDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	Stats(ctx context.Context, queue Queue) (QueueStats, error)
	ListByStatus(ctx context.Context, queue Queue, status JobStatus, limit int) ([]*Job, error)
	ListWaiting(ctx context.Context, queue Queue, limit int) ([]*Job, error)
	// ListWaitingOlderThan returns waiting jobs last touched before cutoff.
	// The poller's signal-recovery sweep uses it to find rows whose broker
	// signal was lost (published while no worker was subscribed).
	ListWaitingOlderThan(ctx context.Context, queue Queue, cutoff time.Time, limit int) ([]*Job, error)

	SetPaused(ctx context.Context, queue Queue, paused bool) error
	IsPaused(ctx context.Context, queue Queue) (bool, error)

	// DeleteQueued removes all waiting and delayed jobs from a queue (drain).
	DeleteQueued(ctx context.Context, queue Queue) (int64, error)
	// PruneFinished removes completed jobs older than completedBefore and
	// failed jobs older than failedBefore.
	PruneFinished(ctx context.Context, completedBefore, failedBefore time.Time) (int64, error)
}
