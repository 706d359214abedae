package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

func (i *impl) UpsertRecoveryEntry(ctx context.Context, e *model.RecoveryEntry) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `
		INSERT INTO torc_recovery_entries (
			correlation_id, operation_type, operation_data, retry_count,
			max_retries, next_retry_at, last_error, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (correlation_id) DO UPDATE SET
			operation_data = EXCLUDED.operation_data,
			retry_count = EXCLUDED.retry_count,
			max_retries = EXCLUDED.max_retries,
			next_retry_at = EXCLUDED.next_retry_at,
			last_error = EXCLUDED.last_error,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`
	_, err := i.q.ExecContext(ctx, query,
		e.CorrelationID, e.OperationType, []byte(e.OperationData), e.RetryCount,
		e.MaxRetries, e.NextRetryAt, e.LastError, e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert recovery entry: %w", err)
	}
	return nil
}

func (i *impl) DeleteRecoveryEntry(ctx context.Context, correlationID uuid.UUID) error {
	_, err := i.q.ExecContext(ctx, `DELETE FROM torc_recovery_entries WHERE correlation_id = $1`, correlationID)
	if err != nil {
		return fmt.Errorf("delete recovery entry: %w", err)
	}
	return nil
}

const recoveryColumns = `
	correlation_id, operation_type, operation_data, retry_count,
	max_retries, next_retry_at, last_error, status, created_at, updated_at
`

func scanRecoveryEntry(row interface{ Scan(...interface{}) error }) (*model.RecoveryEntry, error) {
	e := &model.RecoveryEntry{}
	var data []byte
	err := row.Scan(
		&e.CorrelationID, &e.OperationType, &data, &e.RetryCount,
		&e.MaxRetries, &e.NextRetryAt, &e.LastError, &e.Status, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.OperationData = data
	return e, nil
}

// ClaimDueRecoveryEntries marks up to limit pending, due entries as
// processing and returns them, under a row lock so two tick()
// invocations never claim the same entry.
func (i *impl) ClaimDueRecoveryEntries(ctx context.Context, now time.Time, limit int) ([]*model.RecoveryEntry, error) {
	query := `
		SELECT ` + recoveryColumns + `
		FROM torc_recovery_entries
		WHERE status = $1 AND next_retry_at <= $2
		ORDER BY next_retry_at ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED
	`
	rows, err := i.q.QueryContext(ctx, query, model.RecoveryPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due recovery entries: %w", err)
	}
	var claimed []*model.RecoveryEntry
	for rows.Next() {
		e, err := scanRecoveryEntry(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan recovery entry: %w", err)
		}
		claimed = append(claimed, e)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for _, e := range claimed {
		e.Status = model.RecoveryProcessing
		if _, err := i.q.ExecContext(ctx,
			`UPDATE torc_recovery_entries SET status = $2, updated_at = $3 WHERE correlation_id = $1`,
			e.CorrelationID, e.Status, now,
		); err != nil {
			return nil, fmt.Errorf("mark recovery entry processing: %w", err)
		}
	}
	return claimed, nil
}

func (i *impl) GetRecoveryEntry(ctx context.Context, correlationID uuid.UUID) (*model.RecoveryEntry, error) {
	query := `SELECT ` + recoveryColumns + ` FROM torc_recovery_entries WHERE correlation_id = $1`
	e, err := scanRecoveryEntry(i.q.QueryRowContext(ctx, query, correlationID))
	if err != nil {
		return nil, fmt.Errorf("get recovery entry: %w", mapNoRows(err))
	}
	return e, nil
}

const dlqColumns = `
	id, correlation_id, operation_type, operation_data, failure_reason,
	retry_count, requires_compensation, compensation_status,
	resolved_at, resolved_by, resolution_notes, created_at
`

func (i *impl) InsertDLQEntry(ctx context.Context, d *model.DLQEntry) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	query := `
		INSERT INTO torc_dlq_entries (` + dlqColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`
	resolvedBy := sql.NullString{String: d.ResolvedBy, Valid: d.ResolvedBy != ""}
	notes := sql.NullString{String: d.ResolutionNotes, Valid: d.ResolutionNotes != ""}
	_, err := i.q.ExecContext(ctx, query,
		d.ID, d.CorrelationID, d.OperationType, []byte(d.OperationData), d.FailureReason,
		d.RetryCount, d.RequiresCompensation, d.CompensationStatus,
		d.ResolvedAt, resolvedBy, notes, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dlq entry: %w", err)
	}
	return nil
}

func scanDLQEntry(row interface{ Scan(...interface{}) error }) (*model.DLQEntry, error) {
	d := &model.DLQEntry{}
	var data []byte
	var resolvedBy, notes sql.NullString
	err := row.Scan(
		&d.ID, &d.CorrelationID, &d.OperationType, &data, &d.FailureReason,
		&d.RetryCount, &d.RequiresCompensation, &d.CompensationStatus,
		&d.ResolvedAt, &resolvedBy, &notes, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.OperationData = data
	d.ResolvedBy = resolvedBy.String
	d.ResolutionNotes = notes.String
	return d, nil
}

func (i *impl) ListDLQEntries(ctx context.Context, p store.Page) ([]*model.DLQEntry, error) {
	query := `SELECT ` + dlqColumns + ` FROM torc_dlq_entries ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := i.q.QueryContext(ctx, query, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list dlq entries: %w", err)
	}
	defer rows.Close()
	var out []*model.DLQEntry
	for rows.Next() {
		d, err := scanDLQEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dlq entry: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (i *impl) CountDLQEntries(ctx context.Context) (int, error) {
	var n int
	err := i.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM torc_dlq_entries WHERE resolved_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count dlq entries: %w", err)
	}
	return n, nil
}

func (i *impl) CountPendingRecoveryEntries(ctx context.Context) (int, error) {
	var n int
	err := i.q.QueryRowContext(ctx, `SELECT COUNT(*) FROM torc_recovery_entries WHERE status = $1`, model.RecoveryPending).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count pending recovery entries: %w", err)
	}
	return n, nil
}

func (i *impl) AveragePendingRetryCount(ctx context.Context) (float64, error) {
	var avg sql.NullFloat64
	query := `SELECT avg(retry_count) FROM torc_recovery_entries WHERE status = $1`
	err := i.q.QueryRowContext(ctx, query, model.RecoveryPending).Scan(&avg)
	if err != nil {
		return 0, fmt.Errorf("average pending retry count: %w", err)
	}
	if !avg.Valid {
		return 0, nil
	}
	return avg.Float64, nil
}

func (i *impl) ResolveDLQEntry(ctx context.Context, id uuid.UUID, resolvedBy, notes string) error {
	now := time.Now()
	res, err := i.q.ExecContext(ctx,
		`UPDATE torc_dlq_entries SET resolved_at = $2, resolved_by = $3, resolution_notes = $4 WHERE id = $1`,
		id, now, resolvedBy, notes,
	)
	if err != nil {
		return fmt.Errorf("resolve dlq entry: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("resolve dlq entry %s: %w", id, ErrNotFoundRow)
	}
	return nil
}

const compActionColumns = `
	id, correlation_id, action_type, action_data, status, result, executed_at, created_at
`

func (i *impl) InsertCompensationAction(ctx context.Context, c *model.CompensationAction) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	query := `INSERT INTO torc_compensation_actions (` + compActionColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := i.q.ExecContext(ctx, query,
		c.ID, c.CorrelationID, c.ActionType, []byte(c.ActionData), c.Status, c.Result, c.ExecutedAt, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert compensation action: %w", err)
	}
	return nil
}

func scanCompensationAction(row interface{ Scan(...interface{}) error }) (*model.CompensationAction, error) {
	c := &model.CompensationAction{}
	var data []byte
	err := row.Scan(&c.ID, &c.CorrelationID, &c.ActionType, &data, &c.Status, &c.Result, &c.ExecutedAt, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	c.ActionData = data
	return c, nil
}

func (i *impl) GetCompensationAction(ctx context.Context, correlationID uuid.UUID) (*model.CompensationAction, error) {
	query := `SELECT ` + compActionColumns + ` FROM torc_compensation_actions WHERE correlation_id = $1 ORDER BY created_at DESC LIMIT 1`
	c, err := scanCompensationAction(i.q.QueryRowContext(ctx, query, correlationID))
	if err != nil {
		return nil, fmt.Errorf("get compensation action: %w", mapNoRows(err))
	}
	return c, nil
}

func (i *impl) UpdateCompensationAction(ctx context.Context, c *model.CompensationAction) error {
	res, err := i.q.ExecContext(ctx,
		`UPDATE torc_compensation_actions SET status = $2, result = $3, executed_at = $4 WHERE id = $1`,
		c.ID, c.Status, c.Result, c.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("update compensation action: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update compensation action %s: %w", c.ID, ErrNotFoundRow)
	}
	return nil
}
