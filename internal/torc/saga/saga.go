// Package saga implements the Saga Manager (§4.1): durable, step-logged
// multi-step operation tracking keyed by correlation ID.
package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	appErrors "github.com/torcsys/torc/internal/shared/errors"
	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

// StuckAfter is the staleness threshold the stuck() scan uses, per §4.1.
const StuckAfter = 5 * time.Minute

// Manager is the Saga Manager.
type Manager struct {
	store store.Store
}

// New constructs a Manager over the given store.
func New(s store.Store) *Manager {
	return &Manager{store: s}
}

// AdvanceInput carries the optional fields advance() may update.
type AdvanceInput struct {
	NewState       model.SagaState
	StepsCompleted []string
	StepsRemaining []string
	Context        model.Context
}

// Begin inserts a new saga in pending. If idempotencyKey is non-empty
// and a saga with that key already exists, Begin returns the existing
// saga's correlation ID instead of creating a duplicate.
func (m *Manager) Begin(ctx context.Context, opType model.OperationType, entityType, entityID string, stepsRemaining []string, sagaCtx model.Context, initiatedBy, idempotencyKey string) (uuid.UUID, error) {
	if idempotencyKey != "" {
		existing, err := m.store.GetSagaByIdempotencyKey(ctx, idempotencyKey)
		if err == nil {
			return existing.CorrelationID, nil
		}
		if err != store.ErrNotFound {
			return uuid.Nil, fmt.Errorf("check idempotency key: %w", err)
		}
	}

	s := &model.Saga{
		CorrelationID:  uuid.New(),
		OperationType:  opType,
		EntityType:     entityType,
		EntityID:       entityID,
		CurrentState:   model.SagaPending,
		StepsRemaining: stepsRemaining,
		ContextData:    sagaCtx,
		InitiatedBy:    initiatedBy,
		IdempotencyKey: idempotencyKey,
	}
	if err := m.store.InsertSaga(ctx, s); err != nil {
		return uuid.Nil, fmt.Errorf("begin saga: %w", err)
	}

	logger.Info("saga begun", logger.Fields{
		"correlation_id": s.CorrelationID.String(),
		"operation_type": string(opType),
		"entity_type":    entityType,
		"entity_id":      entityID,
	})
	return s.CorrelationID, nil
}

// Advance performs an atomic state transition, rejecting illegal ones.
func (m *Manager) Advance(ctx context.Context, correlationID uuid.UUID, in AdvanceInput) error {
	s, err := m.store.GetSaga(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("advance saga: %w", err)
	}

	if !model.CanTransition(s.CurrentState, in.NewState) {
		return appErrors.StateMachineViolation(fmt.Sprintf("saga %s: illegal transition %s -> %s", correlationID, s.CurrentState, in.NewState))
	}

	fromState := s.CurrentState
	s.CurrentState = in.NewState
	if in.StepsCompleted != nil {
		s.StepsCompleted = in.StepsCompleted
	}
	if in.StepsRemaining != nil {
		s.StepsRemaining = in.StepsRemaining
	}
	if in.Context != nil {
		s.ContextData = in.Context
	}

	if in.NewState == model.SagaCompleted && len(s.StepsRemaining) != 0 {
		return appErrors.StateMachineViolation(fmt.Sprintf("saga %s: cannot complete with steps_remaining=%v", correlationID, s.StepsRemaining))
	}

	if in.NewState.IsTerminal() {
		now := time.Now()
		s.CompletedAt = &now
	}

	if err := m.store.UpdateSaga(ctx, s); err != nil {
		return fmt.Errorf("advance saga: %w", err)
	}

	logger.LogSagaTransition(ctx, correlationID.String(), string(s.OperationType), string(fromState), string(in.NewState))
	return nil
}

// Read returns a saga snapshot.
func (m *Manager) Read(ctx context.Context, correlationID uuid.UUID) (*model.Saga, error) {
	s, err := m.store.GetSaga(ctx, correlationID)
	if err != nil {
		return nil, fmt.Errorf("read saga: %w", err)
	}
	return s, nil
}

// History returns the saga's step log; since every step transition is
// persisted in StepsCompleted this is simply the current snapshot, kept
// as its own method so callers that only want the audit trail don't
// need to know that.
func (m *Manager) History(ctx context.Context, correlationID uuid.UUID) ([]string, error) {
	s, err := m.Read(ctx, correlationID)
	if err != nil {
		return nil, err
	}
	return s.StepsCompleted, nil
}

// Stuck returns sagas in {processing, compensating} that have not been
// updated in over StuckAfter.
func (m *Manager) Stuck(ctx context.Context) ([]*model.Saga, error) {
	sagas, err := m.store.ListStuckSagas(ctx, time.Now().Add(-StuckAfter))
	if err != nil {
		return nil, fmt.Errorf("list stuck sagas: %w", err)
	}
	return sagas, nil
}
