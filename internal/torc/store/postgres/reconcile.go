package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

const summaryColumns = `
	run_id, run_type, total_count, matched_count, discrepancy_count,
	missing_chain_count, missing_db_count, total_discrepancy_amount,
	started_at, completed_at, status, error_message
`

func (i *impl) InsertReconciliationSummary(ctx context.Context, s *model.ReconciliationSummary) error {
	if s.StartedAt.IsZero() {
		s.StartedAt = time.Now()
	}
	if s.TotalDiscrepancyAmount.IsZero() {
		s.TotalDiscrepancyAmount = decimal.Zero
	}
	query := `INSERT INTO torc_reconciliation_summaries (` + summaryColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := i.q.ExecContext(ctx, query,
		s.RunID, s.RunType, s.TotalCount, s.MatchedCount, s.DiscrepancyCount,
		s.MissingChainCount, s.MissingDBCount, s.TotalDiscrepancyAmount.String(),
		s.StartedAt, s.CompletedAt, s.Status, nullString(s.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation summary: %w", err)
	}
	return nil
}

func scanSummary(row interface{ Scan(...interface{}) error }) (*model.ReconciliationSummary, error) {
	s := &model.ReconciliationSummary{}
	var total string
	var errMsg sql.NullString
	err := row.Scan(
		&s.RunID, &s.RunType, &s.TotalCount, &s.MatchedCount, &s.DiscrepancyCount,
		&s.MissingChainCount, &s.MissingDBCount, &total,
		&s.StartedAt, &s.CompletedAt, &s.Status, &errMsg,
	)
	if err != nil {
		return nil, err
	}
	s.TotalDiscrepancyAmount, err = decimal.NewFromString(total)
	if err != nil {
		return nil, fmt.Errorf("parse total_discrepancy_amount: %w", err)
	}
	s.ErrorMessage = errMsg.String
	return s, nil
}

func (i *impl) UpdateReconciliationSummary(ctx context.Context, s *model.ReconciliationSummary) error {
	query := `
		UPDATE torc_reconciliation_summaries SET
			total_count = $2, matched_count = $3, discrepancy_count = $4,
			missing_chain_count = $5, missing_db_count = $6, total_discrepancy_amount = $7,
			completed_at = $8, status = $9, error_message = $10
		WHERE run_id = $1
	`
	res, err := i.q.ExecContext(ctx, query,
		s.RunID, s.TotalCount, s.MatchedCount, s.DiscrepancyCount,
		s.MissingChainCount, s.MissingDBCount, s.TotalDiscrepancyAmount.String(),
		s.CompletedAt, s.Status, nullString(s.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("update reconciliation summary: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update reconciliation summary %s: %w", s.RunID, ErrNotFoundRow)
	}
	return nil
}

func (i *impl) GetReconciliationSummary(ctx context.Context, runID uuid.UUID) (*model.ReconciliationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM torc_reconciliation_summaries WHERE run_id = $1`
	s, err := scanSummary(i.q.QueryRowContext(ctx, query, runID))
	if err != nil {
		return nil, fmt.Errorf("get reconciliation summary: %w", mapNoRows(err))
	}
	return s, nil
}

func (i *impl) LatestReconciliationSummary(ctx context.Context) (*model.ReconciliationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM torc_reconciliation_summaries ORDER BY started_at DESC LIMIT 1`
	s, err := scanSummary(i.q.QueryRowContext(ctx, query))
	if err != nil {
		return nil, fmt.Errorf("get latest reconciliation summary: %w", mapNoRows(err))
	}
	return s, nil
}

func (i *impl) ListReconciliationSummaries(ctx context.Context, p store.Page) ([]*model.ReconciliationSummary, error) {
	query := `SELECT ` + summaryColumns + ` FROM torc_reconciliation_summaries ORDER BY started_at DESC LIMIT $1 OFFSET $2`
	rows, err := i.q.QueryContext(ctx, query, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list reconciliation summaries: %w", err)
	}
	defer rows.Close()
	var out []*model.ReconciliationSummary
	for rows.Next() {
		s, err := scanSummary(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reconciliation summary: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

const logColumns = `
	id, run_id, invoice_id, chain_status, db_status, chain_amount, db_amount,
	discrepancy_amount, discrepancy_type, chain_seller, chain_buyer,
	db_seller, db_buyer, notes, created_at
`

func (i *impl) InsertReconciliationLog(ctx context.Context, l *model.ReconciliationLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	query := `INSERT INTO torc_reconciliation_logs (` + logColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`
	_, err := i.q.ExecContext(ctx, query,
		l.ID, l.RunID, l.InvoiceID, l.ChainStatus, l.DBStatus, l.ChainAmount.String(), l.DBAmount.String(),
		l.DiscrepancyAmount.String(), l.DiscrepancyType, nullString(l.ChainSeller), nullString(l.ChainBuyer),
		nullString(l.DBSeller), nullString(l.DBBuyer), l.Notes, l.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reconciliation log: %w", err)
	}
	return nil
}

func (i *impl) ListReconciliationLogs(ctx context.Context, discrepancyType *model.DiscrepancyType, p store.Page) ([]*model.ReconciliationLog, error) {
	var rows *sql.Rows
	var err error
	if discrepancyType != nil {
		query := `SELECT ` + logColumns + ` FROM torc_reconciliation_logs WHERE discrepancy_type = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`
		rows, err = i.q.QueryContext(ctx, query, *discrepancyType, p.Limit, p.Offset)
	} else {
		query := `SELECT ` + logColumns + ` FROM torc_reconciliation_logs ORDER BY created_at DESC LIMIT $1 OFFSET $2`
		rows, err = i.q.QueryContext(ctx, query, p.Limit, p.Offset)
	}
	if err != nil {
		return nil, fmt.Errorf("list reconciliation logs: %w", err)
	}
	defer rows.Close()

	var out []*model.ReconciliationLog
	for rows.Next() {
		l := &model.ReconciliationLog{}
		var chainAmount, dbAmount, discAmount string
		var chainSeller, chainBuyer, dbSeller, dbBuyer sql.NullString
		if err := rows.Scan(
			&l.ID, &l.RunID, &l.InvoiceID, &l.ChainStatus, &l.DBStatus, &chainAmount, &dbAmount,
			&discAmount, &l.DiscrepancyType, &chainSeller, &chainBuyer, &dbSeller, &dbBuyer, &l.Notes, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan reconciliation log: %w", err)
		}
		l.ChainAmount, _ = decimal.NewFromString(chainAmount)
		l.DBAmount, _ = decimal.NewFromString(dbAmount)
		l.DiscrepancyAmount, _ = decimal.NewFromString(discAmount)
		l.ChainSeller, l.ChainBuyer, l.DBSeller, l.DBBuyer = chainSeller.String, chainBuyer.String, dbSeller.String, dbBuyer.String
		out = append(out, l)
	}
	return out, rows.Err()
}
