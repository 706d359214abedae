package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/torcsys/torc/internal/torc/model"
)

const sagaColumns = `
	correlation_id, operation_type, entity_type, entity_id, current_state,
	steps_completed, steps_remaining, context_data, initiated_by,
	idempotency_key, created_at, updated_at, completed_at
`

func (i *impl) InsertSaga(ctx context.Context, s *model.Saga) error {
	now := time.Now()
	if s.CreatedAt.IsZero() {
		s.CreatedAt = now
	}
	if s.UpdatedAt.IsZero() {
		s.UpdatedAt = now
	}

	idemp := sql.NullString{String: s.IdempotencyKey, Valid: s.IdempotencyKey != ""}

	query := `
		INSERT INTO torc_sagas (` + sagaColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`
	_, err := i.q.ExecContext(ctx, query,
		s.CorrelationID, s.OperationType, s.EntityType, s.EntityID, s.CurrentState,
		pq.Array(s.StepsCompleted), pq.Array(s.StepsRemaining), []byte(s.ContextData), s.InitiatedBy,
		idemp, s.CreatedAt, s.UpdatedAt, s.CompletedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "torc_sagas_idempotency_key_key") {
			return fmt.Errorf("saga with idempotency key %q: %w", s.IdempotencyKey, ErrAlreadyExists)
		}
		return fmt.Errorf("insert saga: %w", err)
	}
	return nil
}

func scanSaga(row interface{ Scan(...interface{}) error }) (*model.Saga, error) {
	s := &model.Saga{}
	var idemp sql.NullString
	var ctxData []byte
	err := row.Scan(
		&s.CorrelationID, &s.OperationType, &s.EntityType, &s.EntityID, &s.CurrentState,
		pq.Array(&s.StepsCompleted), pq.Array(&s.StepsRemaining), &ctxData, &s.InitiatedBy,
		&idemp, &s.CreatedAt, &s.UpdatedAt, &s.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	s.IdempotencyKey = idemp.String
	s.ContextData = ctxData
	return s, nil
}

func (i *impl) GetSaga(ctx context.Context, correlationID uuid.UUID) (*model.Saga, error) {
	query := `SELECT ` + sagaColumns + ` FROM torc_sagas WHERE correlation_id = $1`
	row := i.q.QueryRowContext(ctx, query, correlationID)
	s, err := scanSaga(row)
	if err != nil {
		return nil, fmt.Errorf("get saga: %w", mapNoRows(err))
	}
	return s, nil
}

func (i *impl) GetSagaByIdempotencyKey(ctx context.Context, key string) (*model.Saga, error) {
	query := `SELECT ` + sagaColumns + ` FROM torc_sagas WHERE idempotency_key = $1`
	row := i.q.QueryRowContext(ctx, query, key)
	s, err := scanSaga(row)
	if err != nil {
		return nil, fmt.Errorf("get saga by idempotency key: %w", mapNoRows(err))
	}
	return s, nil
}

func (i *impl) UpdateSaga(ctx context.Context, s *model.Saga) error {
	s.UpdatedAt = time.Now()
	query := `
		UPDATE torc_sagas SET
			current_state = $2, steps_completed = $3, steps_remaining = $4,
			context_data = $5, updated_at = $6, completed_at = $7
		WHERE correlation_id = $1
	`
	res, err := i.q.ExecContext(ctx, query,
		s.CorrelationID, s.CurrentState, pq.Array(s.StepsCompleted), pq.Array(s.StepsRemaining),
		[]byte(s.ContextData), s.UpdatedAt, s.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update saga: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update saga %s: %w", s.CorrelationID, ErrNotFoundRow)
	}
	return nil
}

func (i *impl) ListStuckSagas(ctx context.Context, olderThan time.Time) ([]*model.Saga, error) {
	query := `
		SELECT ` + sagaColumns + ` FROM torc_sagas
		WHERE current_state IN ($1, $2) AND updated_at < $3
		ORDER BY updated_at ASC
	`
	rows, err := i.q.QueryContext(ctx, query, model.SagaProcessing, model.SagaCompensating, olderThan)
	if err != nil {
		return nil, fmt.Errorf("list stuck sagas: %w", err)
	}
	defer rows.Close()

	var out []*model.Saga
	for rows.Next() {
		s, err := scanSaga(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stuck saga: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (i *impl) CountSagasByState(ctx context.Context, state model.SagaState) (int, error) {
	var n int
	err := i.q.QueryRowContext(ctx, `SELECT count(*) FROM torc_sagas WHERE current_state = $1`, state).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count sagas by state: %w", err)
	}
	return n, nil
}

func (i *impl) AverageCompletedSagaDuration(ctx context.Context) (time.Duration, error) {
	var seconds sql.NullFloat64
	query := `
		SELECT avg(extract(epoch from (completed_at - created_at)))
		FROM torc_sagas
		WHERE current_state = $1 AND completed_at IS NOT NULL
	`
	err := i.q.QueryRowContext(ctx, query, model.SagaCompleted).Scan(&seconds)
	if err != nil {
		return 0, fmt.Errorf("average completed saga duration: %w", err)
	}
	if !seconds.Valid {
		return 0, nil
	}
	return time.Duration(seconds.Float64 * float64(time.Second)), nil
}
