package domain

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Queue names a logical job queue. Queues share the durable store but have
// distinct worker pools and concurrency limits.
type Queue string

const (
	// QueueCritical carries latency-sensitive jobs (notification sends).
	QueueCritical Queue = "critical"
	// QueueDefault carries regular jobs (contact sync).
	QueueDefault Queue = "default"
	// QueueBulk carries high-volume background jobs (scans, reconciliation).
	QueueBulk Queue = "bulk"
)

// Queues lists every known queue in dispatch-priority order.
func Queues() []Queue {
	return []Queue{QueueCritical, QueueDefault, QueueBulk}
}

// Valid reports whether q is one of the known queues.
func (q Queue) Valid() bool {
	switch q {
	case QueueCritical, QueueDefault, QueueBulk:
		return true
	}
	return false
}

// JobStatus is the lifecycle state of a queued job.
type JobStatus int

const (
	// JobStatusWaiting means the job is ready to be picked up by a worker.
	JobStatusWaiting JobStatus = iota
	// JobStatusActive means a worker is currently executing the job.
	JobStatusActive
	// JobStatusCompleted means the job finished successfully.
	JobStatusCompleted
	// JobStatusFailed means the job exhausted its attempts or failed permanently.
	JobStatusFailed
	// JobStatusDelayed means the job is scheduled for a future run time.
	JobStatusDelayed
	// JobStatusCancelled means the job was removed before execution.
	JobStatusCancelled
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	switch s {
	case JobStatusWaiting:
		return "waiting"
	case JobStatusActive:
		return "active"
	case JobStatusCompleted:
		return "completed"
	case JobStatusFailed:
		return "failed"
	case JobStatusDelayed:
		return "delayed"
	case JobStatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is one durable unit of work. The row in the jobs table is the source of
// truth for status, attempts and scheduling; the broker only signals workers.
type Job struct {
	ID          uuid.UUID
	Queue       Queue
	Type        string
	Payload     []byte
	Status      JobStatus
	Attempts    int
	MaxAttempts int
	RunAt       time.Time
	LastError   sql.NullString
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt sql.NullTime
}

// QueueStats aggregates job counts by lifecycle state for one queue.
type QueueStats struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}
