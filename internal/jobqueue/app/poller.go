package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/visaflow/golang_services/internal/jobqueue/domain"
	"github.com/visaflow/golang_services/internal/platform/messagebroker"
)

// PollerConfig holds configuration for the delayed-job poller.
type PollerConfig struct {
	PollingInterval    time.Duration
	BatchSize          int
	CompletedRetention time.Duration
	FailedRetention    time.Duration
	// ResignalAfter is how long a job may sit in waiting before the sweep
	// treats its broker signal as lost and publishes it again.
	ResignalAfter time.Duration
}

// Poller promotes due delayed jobs (scheduled runs and backoff retries) back
// to waiting and signals workers. It also re-signals waiting rows whose NATS
// signal was lost (core NATS does not retain messages published while no
// worker was subscribed, e.g. during a deploy) and prunes finished jobs past
// their retention windows. Duplicate signals are harmless: Acquire's
// conditional update lets only one worker claim the row.
type Poller struct {
	repo   domain.JobRepository
	broker messagebroker.Client
	logger *slog.Logger
	config PollerConfig
}

// NewPoller creates a Poller.
func NewPoller(repo domain.JobRepository, broker messagebroker.Client, logger *slog.Logger, config PollerConfig) *Poller {
	if config.PollingInterval <= 0 {
		config.PollingInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}
	if config.CompletedRetention <= 0 {
		config.CompletedRetention = time.Hour
	}
	if config.FailedRetention <= 0 {
		config.FailedRetention = 7 * 24 * time.Hour
	}
	if config.ResignalAfter <= 0 {
		config.ResignalAfter = time.Minute
	}
	return &Poller{
		repo:   repo,
		broker: broker,
		logger: logger.With("component", "job_poller"),
		config: config,
	}
}

// Run polls until the context is cancelled. The waiting-job sweep and
// pruning piggyback on the poll loop at lower cadences.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.config.PollingInterval)
	defer ticker.Stop()

	sweepEvery := 12  // poll ticks between waiting-job sweeps
	pruneEvery := 120 // poll ticks between prune passes
	tick := 0

	p.logger.InfoContext(ctx, "delayed-job poller started", "interval", p.config.PollingInterval)
	for {
		select {
		case <-ctx.Done():
			p.logger.InfoContext(ctx, "delayed-job poller stopping", "reason", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			p.promoteDue(ctx)
			tick++
			if tick%sweepEvery == 0 {
				p.sweepWaiting(ctx)
			}
			if tick%pruneEvery == 0 {
				p.prune(ctx)
			}
		}
	}
}

// PromoteDueOnce runs one promotion pass; exposed for tests and manual runs.
func (p *Poller) PromoteDueOnce(ctx context.Context) int {
	return p.promoteDue(ctx)
}

func (p *Poller) promoteDue(ctx context.Context) int {
	jobs, err := p.repo.AcquireDue(ctx, time.Now().UTC(), p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to acquire due jobs", "error", err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}

	promoted := 0
	for _, job := range jobs {
		if err := p.broker.Publish(ctx, JobSubjectPrefix+string(job.Queue), []byte(job.ID.String())); err != nil {
			// The row is already waiting; the next Resume or waiting-sweep
			// will pick it up. Log and continue with the rest of the batch.
			p.logger.WarnContext(ctx, "failed to signal promoted job", "job_id", job.ID, "error", err)
			continue
		}
		promoted++
		delayedJobsPromotedCounter.Inc()
	}
	p.logger.InfoContext(ctx, "promoted due jobs", "acquired", len(jobs), "signalled", promoted)
	return promoted
}

// SweepWaitingOnce runs one signal-recovery pass; exposed for tests and
// manual runs.
func (p *Poller) SweepWaitingOnce(ctx context.Context) int {
	return p.sweepWaiting(ctx)
}

// sweepWaiting re-publishes signals for waiting rows older than
// ResignalAfter. Paused queues are skipped: their rows are re-signalled by
// Resume.
func (p *Poller) sweepWaiting(ctx context.Context) int {
	cutoff := time.Now().UTC().Add(-p.config.ResignalAfter)
	total := 0
	for _, queue := range domain.Queues() {
		paused, err := p.repo.IsPaused(ctx, queue)
		if err != nil {
			p.logger.ErrorContext(ctx, "sweep: failed to read pause state", "queue", queue, "error", err)
			continue
		}
		if paused {
			continue
		}

		jobs, err := p.repo.ListWaitingOlderThan(ctx, queue, cutoff, p.config.BatchSize)
		if err != nil {
			p.logger.ErrorContext(ctx, "sweep: failed to list stalled waiting jobs", "queue", queue, "error", err)
			continue
		}
		for _, job := range jobs {
			if err := p.broker.Publish(ctx, JobSubjectPrefix+string(job.Queue), []byte(job.ID.String())); err != nil {
				p.logger.WarnContext(ctx, "sweep: failed to re-signal waiting job", "job_id", job.ID, "error", err)
				continue
			}
			total++
			waitingJobsResignalledCounter.WithLabelValues(string(queue)).Inc()
		}
		if len(jobs) > 0 {
			p.logger.WarnContext(ctx, "re-signalled stalled waiting jobs", "queue", queue, "count", len(jobs))
		}
	}
	return total
}

func (p *Poller) prune(ctx context.Context) {
	now := time.Now().UTC()
	removed, err := p.repo.PruneFinished(ctx,
		now.Add(-p.config.CompletedRetention),
		now.Add(-p.config.FailedRetention),
	)
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to prune finished jobs", "error", err)
		return
	}
	if removed > 0 {
		p.logger.InfoContext(ctx, "pruned finished jobs", "removed", removed)
	}
}
