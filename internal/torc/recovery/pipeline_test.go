package recovery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/storetest"
)

func newTestPipeline() (*Pipeline, *storetest.Memory) {
	s := storetest.New()
	p := New(s, Config{MaxRetries: 3, BackoffCapMinutes: 60})
	return p, s
}

func pastTime() time.Time {
	return time.Now().Add(-time.Minute)
}

func TestTickRunsHandlerAndCompletesSaga(t *testing.T) {
	p, s := newTestPipeline()
	ctx := context.Background()

	saga := &model.Saga{
		CorrelationID:  uuid.New(),
		OperationType:  model.OpEscrowRelease,
		EntityType:     "escrow",
		EntityID:       "inv-1",
		CurrentState:   model.SagaFailed,
		StepsRemaining: []string{"DB_UPDATE"},
	}
	require.NoError(t, s.InsertSaga(ctx, saga))
	require.NoError(t, p.Enqueue(ctx, saga.CorrelationID, model.OpEscrowRelease, nil, 0, "transient failure"))

	called := false
	p.RegisterHandler(model.OpEscrowRelease, func(ctx context.Context, sg *model.Saga, entry *model.RecoveryEntry) ([]string, error) {
		called = true
		return []string{"DB_UPDATE"}, nil
	})

	entry, err := s.GetRecoveryEntry(ctx, saga.CorrelationID)
	require.NoError(t, err)
	entry.NextRetryAt = pastTime()
	require.NoError(t, s.UpsertRecoveryEntry(ctx, entry))

	require.NoError(t, p.Tick(ctx))
	require.True(t, called)

	got, err := s.GetSaga(ctx, saga.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, model.SagaCompleted, got.CurrentState)

	_, err = s.GetRecoveryEntry(ctx, saga.CorrelationID)
	require.Error(t, err, "recovery entry should be deleted on success")
}

func TestFailedHandlerReenqueuesUntilMaxRetries(t *testing.T) {
	p, s := newTestPipeline()
	ctx := context.Background()

	saga := &model.Saga{
		CorrelationID:  uuid.New(),
		OperationType:  model.OpEventProcessing,
		EntityType:     "ledger_event",
		EntityID:       "evt-1",
		CurrentState:   model.SagaFailed,
		StepsRemaining: []string{"APPLY"},
	}
	require.NoError(t, s.InsertSaga(ctx, saga))
	require.NoError(t, p.Enqueue(ctx, saga.CorrelationID, model.OpEventProcessing, nil, 0, "boom"))

	p.RegisterHandler(model.OpEventProcessing, func(ctx context.Context, sg *model.Saga, entry *model.RecoveryEntry) ([]string, error) {
		return nil, errors.New("still broken")
	})

	for i := 0; i < 3; i++ {
		entry, err := s.GetRecoveryEntry(ctx, saga.CorrelationID)
		require.NoError(t, err)
		entry.NextRetryAt = pastTime()
		require.NoError(t, s.UpsertRecoveryEntry(ctx, entry))
		require.NoError(t, p.Tick(ctx))
	}

	got, err := s.GetSaga(ctx, saga.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, model.SagaDLQ, got.CurrentState)

	_, err = s.GetRecoveryEntry(ctx, saga.CorrelationID)
	require.Error(t, err, "recovery entry removed once promoted to DLQ")
}

func TestDefaultCompensationPolicyRequiresCompensationAfterBlockchainTx(t *testing.T) {
	saga := &model.Saga{StepsCompleted: []string{"BLOCKCHAIN_TX"}}
	entry := &model.RecoveryEntry{OperationType: model.OpEscrowRelease}
	require.True(t, DefaultCompensationPolicy(saga, entry))

	saga2 := &model.Saga{StepsCompleted: []string{}}
	require.False(t, DefaultCompensationPolicy(saga2, entry))
}
