package health

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/storetest"
)

type noStuck struct{}

func (noStuck) Stuck(ctx context.Context) ([]*model.Saga, error) { return nil, nil }

func insertSaga(t *testing.T, s *storetest.Memory, state model.SagaState, completedAgo time.Duration) {
	t.Helper()
	now := time.Now()
	saga := &model.Saga{
		CorrelationID: uuid.New(),
		OperationType: model.OpEscrowRelease,
		EntityType:    "escrow",
		EntityID:      "inv",
		CurrentState:  state,
		CreatedAt:     now.Add(-completedAgo),
	}
	require.NoError(t, s.InsertSaga(context.Background(), saga))
	if state == model.SagaCompleted {
		completedAt := now
		saga.CompletedAt = &completedAt
		require.NoError(t, s.UpdateSaga(context.Background(), saga))
	}
}

func TestSnapshotComputesRatesAndPersistsRows(t *testing.T) {
	s := storetest.New()
	ctx := context.Background()

	insertSaga(t, s, model.SagaCompleted, 2*time.Second)
	insertSaga(t, s, model.SagaCompleted, 4*time.Second)
	insertSaga(t, s, model.SagaFailed, time.Second)

	a := New(s, noStuck{})
	metrics, err := a.Snapshot(ctx)
	require.NoError(t, err)
	require.Len(t, metrics, 7)

	var successRate, errorRate *model.HealthMetric
	for _, m := range metrics {
		switch m.MetricType {
		case model.MetricSuccessRate:
			successRate = m
		case model.MetricErrorRate:
			errorRate = m
		}
	}
	require.NotNil(t, successRate)
	require.NotNil(t, errorRate)
	require.True(t, successRate.MetricValue.GreaterThan(errorRate.MetricValue))

	latest, err := a.Latest(ctx)
	require.NoError(t, err)
	require.Len(t, latest, 7)
}

func TestSnapshotHandlesNoSagasWithoutDivideByZero(t *testing.T) {
	s := storetest.New()
	a := New(s, noStuck{})
	metrics, err := a.Snapshot(context.Background())
	require.NoError(t, err)
	for _, m := range metrics {
		require.False(t, m.MetricValue.IsNegative())
	}
}
