package postgres

import (
	"context"
	"fmt"
)

// MarkEventProcessed relies on a unique index on identity: the insert
// either lands (first time seen) or conflicts (duplicate), which
// ON CONFLICT DO NOTHING turns into an affected-row count of 0.
func (i *impl) MarkEventProcessed(ctx context.Context, identity string) (bool, error) {
	res, err := i.q.ExecContext(ctx, `
		INSERT INTO torc_processed_ledger_events (identity, processed_at)
		VALUES ($1, now())
		ON CONFLICT (identity) DO NOTHING
	`, identity)
	if err != nil {
		return false, fmt.Errorf("mark event processed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark event processed: rows affected: %w", err)
	}
	return n == 1, nil
}
