package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

const escrowColumns = `
	invoice_id, seller, buyer, amount, token, status,
	seller_confirmed, buyer_confirmed, dispute_raised,
	created_at, expires_at, rwa_nft_contract, rwa_token_id,
	fee_amount, discount_bps, discount_deadline, updated_at
`

func (i *impl) InsertEscrow(ctx context.Context, e *model.Escrow) error {
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now

	query := `INSERT INTO torc_escrows (` + escrowColumns + `) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`
	_, err := i.q.ExecContext(ctx, query,
		e.InvoiceID, e.Seller, e.Buyer, e.Amount.String(), e.Token, e.Status,
		e.SellerConfirmed, e.BuyerConfirmed, e.DisputeRaised,
		e.CreatedAt, e.ExpiresAt, nullString(e.RWANFTContract), nullString(e.RWATokenID),
		e.FeeAmount.String(), e.DiscountBps, e.DiscountDeadline, e.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "torc_escrows_pkey") {
			return fmt.Errorf("escrow %s: %w", e.InvoiceID, ErrAlreadyExists)
		}
		return fmt.Errorf("insert escrow: %w", err)
	}
	return nil
}

func scanEscrow(row interface{ Scan(...interface{}) error }) (*model.Escrow, error) {
	e := &model.Escrow{}
	var amount, fee string
	var rwaContract, rwaToken sql.NullString
	err := row.Scan(
		&e.InvoiceID, &e.Seller, &e.Buyer, &amount, &e.Token, &e.Status,
		&e.SellerConfirmed, &e.BuyerConfirmed, &e.DisputeRaised,
		&e.CreatedAt, &e.ExpiresAt, &rwaContract, &rwaToken,
		&fee, &e.DiscountBps, &e.DiscountDeadline, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse escrow amount: %w", err)
	}
	e.FeeAmount, err = decimal.NewFromString(fee)
	if err != nil {
		return nil, fmt.Errorf("parse escrow fee_amount: %w", err)
	}
	e.RWANFTContract = rwaContract.String
	e.RWATokenID = rwaToken.String
	return e, nil
}

// GetEscrowForUpdate locks the row; callers must be inside WithTx for
// the lock to have any effect (it is a no-op safety net outside a
// transaction, since a bare *sql.DB query commits and releases the
// lock immediately).
func (i *impl) GetEscrowForUpdate(ctx context.Context, invoiceID uuid.UUID) (*model.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM torc_escrows WHERE invoice_id = $1 FOR UPDATE`
	e, err := scanEscrow(i.q.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		return nil, fmt.Errorf("get escrow for update: %w", mapNoRows(err))
	}
	return e, nil
}

func (i *impl) GetEscrow(ctx context.Context, invoiceID uuid.UUID) (*model.Escrow, error) {
	query := `SELECT ` + escrowColumns + ` FROM torc_escrows WHERE invoice_id = $1`
	e, err := scanEscrow(i.q.QueryRowContext(ctx, query, invoiceID))
	if err != nil {
		return nil, fmt.Errorf("get escrow: %w", mapNoRows(err))
	}
	return e, nil
}

func (i *impl) UpdateEscrow(ctx context.Context, e *model.Escrow) error {
	e.UpdatedAt = time.Now()
	query := `
		UPDATE torc_escrows SET
			status = $2, seller_confirmed = $3, buyer_confirmed = $4, dispute_raised = $5,
			amount = $6, fee_amount = $7, rwa_nft_contract = $8, rwa_token_id = $9, updated_at = $10
		WHERE invoice_id = $1
	`
	res, err := i.q.ExecContext(ctx, query,
		e.InvoiceID, e.Status, e.SellerConfirmed, e.BuyerConfirmed, e.DisputeRaised,
		e.Amount.String(), e.FeeAmount.String(), nullString(e.RWANFTContract), nullString(e.RWATokenID), e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update escrow: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("update escrow %s: %w", e.InvoiceID, ErrNotFoundRow)
	}
	return nil
}

func (i *impl) ListEscrowInvoiceIDs(ctx context.Context, p store.Page) ([]uuid.UUID, error) {
	rows, err := i.q.QueryContext(ctx, `SELECT invoice_id FROM torc_escrows ORDER BY created_at ASC LIMIT $1 OFFSET $2`, p.Limit, p.Offset)
	if err != nil {
		return nil, fmt.Errorf("list escrow invoice ids: %w", err)
	}
	defer rows.Close()
	var out []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan invoice id: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (i *impl) GetMultiSigApproval(ctx context.Context, invoiceID uuid.UUID) (*model.MultiSigApproval, error) {
	m := &model.MultiSigApproval{InvoiceID: invoiceID}
	err := i.q.QueryRowContext(ctx,
		`SELECT approvers, required FROM torc_multisig_approvals WHERE invoice_id = $1`, invoiceID,
	).Scan(pq.Array(&m.Approvers), &m.Required)
	if err != nil {
		return nil, fmt.Errorf("get multisig approval: %w", mapNoRows(err))
	}
	return m, nil
}

func (i *impl) UpsertMultiSigApproval(ctx context.Context, m *model.MultiSigApproval) error {
	query := `
		INSERT INTO torc_multisig_approvals (invoice_id, approvers, required)
		VALUES ($1,$2,$3)
		ON CONFLICT (invoice_id) DO UPDATE SET approvers = EXCLUDED.approvers, required = EXCLUDED.required
	`
	_, err := i.q.ExecContext(ctx, query, m.InvoiceID, pq.Array(m.Approvers), m.Required)
	if err != nil {
		return fmt.Errorf("upsert multisig approval: %w", err)
	}
	return nil
}

func (i *impl) GetDisputeVote(ctx context.Context, invoiceID uuid.UUID) (*model.DisputeVote, error) {
	d := &model.DisputeVote{InvoiceID: invoiceID}
	var voters []byte
	err := i.q.QueryRowContext(ctx,
		`SELECT snapshot_arbitrator_count, votes_for_buyer, votes_for_seller, resolved, voters, created_at, resolved_at
		 FROM torc_dispute_votes WHERE invoice_id = $1`, invoiceID,
	).Scan(&d.SnapshotArbitratorCount, &d.VotesForBuyer, &d.VotesForSeller, &d.Resolved, &voters, &d.CreatedAt, &d.ResolvedAt)
	if err != nil {
		return nil, fmt.Errorf("get dispute vote: %w", mapNoRows(err))
	}
	d.Voters, err = decodeVoters(voters)
	if err != nil {
		return nil, fmt.Errorf("decode voters: %w", err)
	}
	return d, nil
}

func (i *impl) UpsertDisputeVote(ctx context.Context, d *model.DisputeVote) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	votersJSON, err := encodeVoters(d.Voters)
	if err != nil {
		return fmt.Errorf("encode voters: %w", err)
	}
	query := `
		INSERT INTO torc_dispute_votes (
			invoice_id, snapshot_arbitrator_count, votes_for_buyer, votes_for_seller,
			resolved, voters, created_at, resolved_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (invoice_id) DO UPDATE SET
			snapshot_arbitrator_count = EXCLUDED.snapshot_arbitrator_count,
			votes_for_buyer = EXCLUDED.votes_for_buyer,
			votes_for_seller = EXCLUDED.votes_for_seller,
			resolved = EXCLUDED.resolved,
			voters = EXCLUDED.voters,
			resolved_at = EXCLUDED.resolved_at
	`
	_, err = i.q.ExecContext(ctx, query,
		d.InvoiceID, d.SnapshotArbitratorCount, d.VotesForBuyer, d.VotesForSeller,
		d.Resolved, votersJSON, d.CreatedAt, d.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert dispute vote: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
