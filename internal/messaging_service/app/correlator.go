package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/visaflow/golang_services/internal/messaging_service/correlation"
	"github.com/visaflow/golang_services/internal/messaging_service/domain"
)

// Outcome classifies one reconciliation attempt.
type Outcome string

const (
	OutcomeApplied        Outcome = "applied"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeNoMatch        Outcome = "no_match"
	OutcomeConflict       Outcome = "conflict"
	OutcomeInvalidToken   Outcome = "invalid_token"
	OutcomeInvalidRealID  Outcome = "invalid_real_id"
)

// Callback is one provider delivery callback to reconcile.
type Callback struct {
	RawToken   string
	RealID     string
	ReceivedAt time.Time
}

// Result is the per-callback reconciliation outcome.
type Result struct {
	Outcome       Outcome
	PlaceholderID string
	Err           error
}

// CorrelatorConfig tunes the candidate lookup and batch pacing.
type CorrelatorConfig struct {
	// Lookback bounds the candidate search: only messages created within
	// this window before the callback are considered. The 5 minute default
	// is a documented heuristic, not a derived value.
	Lookback time.Duration
	// BatchDelayThreshold is the batch size above which ReconcileBatch
	// sleeps between items.
	BatchDelayThreshold int
	// BatchDelay is the inter-item sleep once the threshold is exceeded.
	BatchDelay time.Duration
}

const (
	DefaultLookback            = 5 * time.Minute
	DefaultBatchDelayThreshold = 10
	DefaultBatchDelay          = 25 * time.Millisecond
)

// Correlator matches provider callbacks, which carry only the recipient
// phone, back to the placeholder message they belong to. The candidate
// choice (newest message to that phone inside the lookback window) is a
// deliberate heuristic: concurrent callbacks for one phone inside the window
// can mis-correlate, and no lock is taken. Such cases surface as conflict
// results and in the audit trail for manual review.
type Correlator struct {
	messages domain.OutboundMessageRepository
	audits   domain.CorrelationAuditRepository
	config   CorrelatorConfig
	logger   *slog.Logger
}

func NewCorrelator(messages domain.OutboundMessageRepository, audits domain.CorrelationAuditRepository, config CorrelatorConfig, logger *slog.Logger) *Correlator {
	if config.Lookback <= 0 {
		config.Lookback = DefaultLookback
	}
	if config.BatchDelayThreshold <= 0 {
		config.BatchDelayThreshold = DefaultBatchDelayThreshold
	}
	if config.BatchDelay <= 0 {
		config.BatchDelay = DefaultBatchDelay
	}
	return &Correlator{
		messages: messages,
		audits:   audits,
		config:   config,
		logger:   logger.With("component", "correlator"),
	}
}

// Reconcile resolves one callback. A nil Result.Err with a non-applied
// outcome means the callback was consumed without effect (no match,
// duplicate); the provider must not retry it.
func (c *Correlator) Reconcile(ctx context.Context, cb Callback) Result {
	started := time.Now()
	defer func() {
		reconcileDurationHist.Observe(time.Since(started).Seconds())
	}()

	token, err := correlation.Decode(cb.RawToken)
	if err != nil {
		c.logger.ErrorContext(ctx, "unusable correlation token", "error", err)
		return c.done(Result{Outcome: OutcomeInvalidToken, Err: fmt.Errorf("unusable correlation token: %w", err)})
	}

	if !domain.ValidProviderMessageID(cb.RealID) {
		c.logger.ErrorContext(ctx, "malformed provider message id", "real_id", cb.RealID)
		return c.done(Result{Outcome: OutcomeInvalidRealID, Err: fmt.Errorf("malformed provider message id %q", cb.RealID)})
	}

	receivedAt := cb.ReceivedAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}
	cutoff := receivedAt.Add(-c.config.Lookback)

	candidate, err := c.messages.FindLatestByPhone(ctx, token.Phone, cutoff)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			c.logger.WarnContext(ctx, "no candidate message for callback",
				"phone", token.Phone, "real_id", cb.RealID, "lookback", c.config.Lookback)
			return c.done(Result{Outcome: OutcomeNoMatch})
		}
		return c.done(Result{Outcome: OutcomeNoMatch, Err: fmt.Errorf("candidate lookup failed: %w", err)})
	}

	if candidate.ProviderMessageID.Valid {
		if candidate.ProviderMessageID.String == cb.RealID {
			c.logger.DebugContext(ctx, "duplicate callback for reconciled message",
				"message_id", candidate.ID, "real_id", cb.RealID)
			return c.done(Result{Outcome: OutcomeAlreadyApplied, PlaceholderID: candidate.PlaceholderID})
		}
		c.logger.ErrorContext(ctx, "candidate reconciled to a different provider id",
			"message_id", candidate.ID, "existing", candidate.ProviderMessageID.String, "incoming", cb.RealID)
		return c.done(Result{
			Outcome:       OutcomeConflict,
			PlaceholderID: candidate.PlaceholderID,
			Err: fmt.Errorf("%w: message %s carries %s, callback brought %s",
				domain.ErrAlreadyReconciled, candidate.ID, candidate.ProviderMessageID.String, cb.RealID),
		})
	}

	assigned, err := c.messages.AssignProviderMessageID(ctx, candidate.ID, cb.RealID)
	if err != nil {
		return c.done(Result{Outcome: OutcomeConflict, PlaceholderID: candidate.PlaceholderID,
			Err: fmt.Errorf("failed to assign provider id: %w", err)})
	}
	if !assigned {
		// Lost the read-then-write race: another callback claimed the row
		// between our read and update. Re-read to classify.
		current, rereadErr := c.messages.GetByID(ctx, candidate.ID)
		if rereadErr == nil && current.ProviderMessageID.Valid && current.ProviderMessageID.String == cb.RealID {
			return c.done(Result{Outcome: OutcomeAlreadyApplied, PlaceholderID: candidate.PlaceholderID})
		}
		c.logger.ErrorContext(ctx, "reconciliation race lost",
			"message_id", candidate.ID, "incoming", cb.RealID)
		return c.done(Result{Outcome: OutcomeConflict, PlaceholderID: candidate.PlaceholderID,
			Err: fmt.Errorf("%w: concurrent reconciliation on message %s", domain.ErrAlreadyReconciled, candidate.ID)})
	}

	audit := &domain.CorrelationAudit{
		MessageID:         candidate.ID,
		PlaceholderID:     candidate.PlaceholderID,
		ProviderMessageID: cb.RealID,
		RawToken:          cb.RawToken,
		Elapsed:           time.Since(started),
	}
	if err := c.audits.Append(ctx, audit); err != nil {
		// The id is assigned; a lost audit row is not worth failing the
		// callback over.
		c.logger.ErrorContext(ctx, "failed to append correlation audit",
			"message_id", candidate.ID, "error", err)
	}

	c.logger.InfoContext(ctx, "provider message id reconciled",
		"message_id", candidate.ID, "placeholder_id", candidate.PlaceholderID,
		"real_id", cb.RealID, "elapsed", time.Since(started))
	return c.done(Result{Outcome: OutcomeApplied, PlaceholderID: candidate.PlaceholderID})
}

// BatchResult aggregates a ReconcileBatch run.
type BatchResult struct {
	Results   []Result
	Succeeded int
}

// ReconcileBatch processes callbacks sequentially. Batches larger than the
// configured threshold get a small delay between items to avoid hammering
// the store during callback bursts.
func (c *Correlator) ReconcileBatch(ctx context.Context, callbacks []Callback) BatchResult {
	throttled := len(callbacks) > c.config.BatchDelayThreshold

	batch := BatchResult{Results: make([]Result, 0, len(callbacks))}
	for i, cb := range callbacks {
		if throttled && i > 0 {
			select {
			case <-time.After(c.config.BatchDelay):
			case <-ctx.Done():
				return batch
			}
		}
		result := c.Reconcile(ctx, cb)
		batch.Results = append(batch.Results, result)
		if result.Err == nil && (result.Outcome == OutcomeApplied || result.Outcome == OutcomeAlreadyApplied) {
			batch.Succeeded++
		}
	}
	return batch
}

func (c *Correlator) done(result Result) Result {
	reconcileOutcomesCounter.WithLabelValues(string(result.Outcome)).Inc()
	return result
}
