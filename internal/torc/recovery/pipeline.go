// Package recovery implements the Recovery Pipeline (§4.2): a durable
// retry queue with exponential backoff, a dead-letter queue, and
// pending compensation-action records that an operator advances.
package recovery

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

// ClaimBatchSize is N in "selects up to N pending recovery entries" (§4.2).
const ClaimBatchSize = 10

// Handler re-executes one operation_type's unfinished steps. It
// consults saga.StepsCompleted to skip already-committed effects and
// returns the updated steps_completed on success.
type Handler func(ctx context.Context, s *model.Saga, entry *model.RecoveryEntry) (stepsCompleted []string, err error)

// CompensationPolicy decides requires_compensation for a saga reaching
// its retry limit, per §4.2.2.
type CompensationPolicy func(s *model.Saga, entry *model.RecoveryEntry) bool

// DefaultCompensationPolicy implements §4.2.2: compensation is required
// when a step with externally visible side effects already committed
// and the unfinished steps cannot undo it by idempotent retry.
func DefaultCompensationPolicy(s *model.Saga, entry *model.RecoveryEntry) bool {
	switch entry.OperationType {
	case model.OpEscrowRelease:
		return s.HasCompletedStep("BLOCKCHAIN_TX")
	case model.OpFinancingPipeline:
		return s.HasCompletedStep("EXTERNAL_LIQUIDITY")
	default:
		return false
	}
}

// Config tunes the pipeline's retry behavior, mirroring the Scheduler
// configuration contract (§6).
type Config struct {
	MaxRetries        int
	BackoffCapMinutes int
}

// Pipeline is the Recovery Pipeline.
type Pipeline struct {
	store      store.Store
	handlers   map[model.OperationType]Handler
	compensate CompensationPolicy
	cfg        Config
}

// New constructs a Pipeline. Unregistered operation_types fall through
// to an unknown-type handler that logs and fails, per §4.2.1.
func New(s store.Store, cfg Config) *Pipeline {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 5
	}
	if cfg.BackoffCapMinutes == 0 {
		cfg.BackoffCapMinutes = 60
	}
	return &Pipeline{
		store:      s,
		handlers:   map[model.OperationType]Handler{},
		compensate: DefaultCompensationPolicy,
		cfg:        cfg,
	}
}

// RegisterHandler adds a re-execution handler for opType, breaking the
// cyclic-dependency problem (§9): callers depend on this registry, not
// on each other.
func (p *Pipeline) RegisterHandler(opType model.OperationType, h Handler) {
	p.handlers[opType] = h
}

// WithCompensationPolicy overrides the default compensation policy.
func (p *Pipeline) WithCompensationPolicy(policy CompensationPolicy) {
	p.compensate = policy
}

// Enqueue upserts a recovery entry, computing next_retry_at from
// retry_count. Upsert (not insert) so repeated failures replace the row.
func (p *Pipeline) Enqueue(ctx context.Context, correlationID uuid.UUID, opType model.OperationType, data model.Context, retryCount int, lastErr string) error {
	entry := &model.RecoveryEntry{
		CorrelationID: correlationID,
		OperationType: opType,
		OperationData: data,
		RetryCount:    retryCount,
		MaxRetries:    p.cfg.MaxRetries,
		NextRetryAt:   model.NextBackoff(time.Now(), retryCount, p.cfg.BackoffCapMinutes),
		LastError:     lastErr,
		Status:        model.RecoveryPending,
	}
	if err := p.store.UpsertRecoveryEntry(ctx, entry); err != nil {
		return fmt.Errorf("enqueue recovery entry: %w", err)
	}
	logger.Warn("recovery entry enqueued", logger.Fields{
		"correlation_id": correlationID.String(),
		"retry_count":    retryCount,
		"next_retry_at":  entry.NextRetryAt,
	})
	return nil
}

// PromoteToDLQ inserts a DLQ row, advances the saga to dlq, and deletes
// the recovery row, atomically.
func (p *Pipeline) PromoteToDLQ(ctx context.Context, correlationID uuid.UUID, opType model.OperationType, data model.Context, reason string, retryCount int, requiresCompensation bool) error {
	return p.store.WithTx(ctx, func(tx store.Tx) error {
		dlq := &model.DLQEntry{
			CorrelationID:        correlationID,
			OperationType:        opType,
			OperationData:        data,
			FailureReason:        reason,
			RetryCount:           retryCount,
			RequiresCompensation: requiresCompensation,
			CompensationStatus:   model.CompensationPending,
		}
		if err := tx.InsertDLQEntry(ctx, dlq); err != nil {
			return fmt.Errorf("insert dlq entry: %w", err)
		}

		s, err := tx.GetSaga(ctx, correlationID)
		if err != nil {
			return fmt.Errorf("load saga for dlq promotion: %w", err)
		}
		s.CurrentState = model.SagaDLQ
		if err := tx.UpdateSaga(ctx, s); err != nil {
			return fmt.Errorf("advance saga to dlq: %w", err)
		}

		if err := tx.DeleteRecoveryEntry(ctx, correlationID); err != nil {
			return fmt.Errorf("delete recovery entry: %w", err)
		}

		if requiresCompensation {
			action := &model.CompensationAction{
				CorrelationID: correlationID,
				ActionType:    string(opType),
				ActionData:    data,
				Status:        model.CompActionPending,
			}
			if err := tx.InsertCompensationAction(ctx, action); err != nil {
				return fmt.Errorf("create compensation action: %w", err)
			}
		}

		logger.Error("saga promoted to DLQ", nil, logger.Fields{
			"correlation_id":       correlationID.String(),
			"reason":               reason,
			"requires_compensation": requiresCompensation,
		})
		return nil
	})
}

// Tick claims up to ClaimBatchSize due pending entries and drives each
// one's re-execution handler.
func (p *Pipeline) Tick(ctx context.Context) error {
	var claimed []*model.RecoveryEntry
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		var err error
		claimed, err = tx.ClaimDueRecoveryEntries(ctx, time.Now(), ClaimBatchSize)
		return err
	})
	if err != nil {
		return fmt.Errorf("claim due recovery entries: %w", err)
	}

	var succeeded, failed int
	for _, entry := range claimed {
		if p.processEntry(ctx, entry) {
			succeeded++
		} else {
			failed++
		}
	}
	logger.LogRecoveryTick(ctx, len(claimed), succeeded, failed)
	return nil
}

// processEntry runs one recovery entry's handler and reports whether
// the saga it backs completed successfully.
func (p *Pipeline) processEntry(ctx context.Context, entry *model.RecoveryEntry) bool {
	s, err := p.store.GetSaga(ctx, entry.CorrelationID)
	if err != nil {
		logger.Error("recovery tick: saga missing for recovery entry", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
		return false
	}
	if s.CurrentState != model.SagaProcessing {
		s.CurrentState = model.SagaProcessing
		if err := p.store.UpdateSaga(ctx, s); err != nil {
			logger.Error("recovery tick: failed to advance saga to processing", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
			return false
		}
	}

	handler, ok := p.handlers[entry.OperationType]
	if !ok {
		logger.Error("recovery tick: no handler registered for operation_type", nil, logger.Fields{
			"correlation_id": entry.CorrelationID.String(),
			"operation_type": string(entry.OperationType),
		})
		p.fail(ctx, s, entry, "no handler registered for operation_type")
		return false
	}

	stepsCompleted, err := handler(ctx, s, entry)
	if err != nil {
		p.fail(ctx, s, entry, err.Error())
		return false
	}

	s.StepsCompleted = stepsCompleted
	s.StepsRemaining = nil
	s.CurrentState = model.SagaCompleted
	now := time.Now()
	s.CompletedAt = &now
	if err := p.store.UpdateSaga(ctx, s); err != nil {
		logger.Error("recovery tick: failed to mark saga completed", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
		return false
	}
	if err := p.store.DeleteRecoveryEntry(ctx, entry.CorrelationID); err != nil {
		logger.Error("recovery tick: failed to delete recovery entry", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
	}
	logger.Info("recovery tick: saga completed", logger.Fields{"correlation_id": entry.CorrelationID.String()})
	return true
}

func (p *Pipeline) fail(ctx context.Context, s *model.Saga, entry *model.RecoveryEntry, reason string) {
	entry.RetryCount++
	if entry.RetryCount >= entry.MaxRetries {
		requiresCompensation := p.compensate(s, entry)
		if err := p.PromoteToDLQ(ctx, entry.CorrelationID, entry.OperationType, entry.OperationData, reason, entry.RetryCount, requiresCompensation); err != nil {
			logger.Error("recovery tick: failed to promote to DLQ", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
		}
		return
	}

	s.CurrentState = model.SagaFailed
	if err := p.store.UpdateSaga(ctx, s); err != nil {
		logger.Error("recovery tick: failed to mark saga failed", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
	}
	if err := p.Enqueue(ctx, entry.CorrelationID, entry.OperationType, entry.OperationData, entry.RetryCount, reason); err != nil {
		logger.Error("recovery tick: failed to re-enqueue", err, logger.Fields{"correlation_id": entry.CorrelationID.String()})
	}
}
