package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/storetest"
)

func newManager() *Manager {
	return New(storetest.New())
}

func TestBeginInsertsPendingSaga(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	id, err := m.Begin(ctx, model.OpEscrowRelease, "escrow", "inv-1", []string{"BLOCKCHAIN_TX", "DB_UPDATE"}, nil, "actor-1", "")
	require.NoError(t, err)

	s, err := m.Read(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.SagaPending, s.CurrentState)
	require.Equal(t, []string{"BLOCKCHAIN_TX", "DB_UPDATE"}, s.StepsRemaining)
}

func TestBeginIsIdempotentOnKey(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	id1, err := m.Begin(ctx, model.OpEscrowRelease, "escrow", "inv-1", nil, nil, "actor-1", "key-1")
	require.NoError(t, err)
	id2, err := m.Begin(ctx, model.OpEscrowRelease, "escrow", "inv-1", nil, nil, "actor-1", "key-1")
	require.NoError(t, err)
	require.Equal(t, id1, id2)
}

func TestAdvanceRejectsIllegalTransition(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	id, err := m.Begin(ctx, model.OpEscrowRelease, "escrow", "inv-1", nil, nil, "actor-1", "")
	require.NoError(t, err)

	err = m.Advance(ctx, id, AdvanceInput{NewState: model.SagaCompleted})
	require.Error(t, err)
}

func TestAdvanceCompletedRequiresEmptyStepsRemaining(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	id, err := m.Begin(ctx, model.OpEscrowRelease, "escrow", "inv-1", []string{"DB_UPDATE"}, nil, "actor-1", "")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, id, AdvanceInput{NewState: model.SagaProcessing}))

	err = m.Advance(ctx, id, AdvanceInput{NewState: model.SagaCompleted})
	require.Error(t, err, "steps_remaining must be empty before completing")

	err = m.Advance(ctx, id, AdvanceInput{NewState: model.SagaCompleted, StepsRemaining: []string{}})
	require.NoError(t, err)

	s, err := m.Read(ctx, id)
	require.NoError(t, err)
	require.Equal(t, model.SagaCompleted, s.CurrentState)
	require.NotNil(t, s.CompletedAt)
}

func TestStuckListsOnlyProcessingOrCompensatingPastThreshold(t *testing.T) {
	m := newManager()
	ctx := context.Background()

	id, err := m.Begin(ctx, model.OpEscrowRelease, "escrow", "inv-1", []string{"DB_UPDATE"}, nil, "actor-1", "")
	require.NoError(t, err)
	require.NoError(t, m.Advance(ctx, id, AdvanceInput{NewState: model.SagaProcessing}))

	stuck, err := m.Stuck(ctx)
	require.NoError(t, err)
	require.Empty(t, stuck, "freshly advanced saga is not yet stale")
}
