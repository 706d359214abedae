// Package reconcile implements the Reconciliation Engine (§4.5): a
// periodic and on-demand diff between the external ledger and the
// internal escrow mirror, per invoice, with per-run auditable
// summaries.
package reconcile

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/ids"
	"github.com/torcsys/torc/internal/torc/ledger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

const (
	DefaultBatchSize = 50
	MaxBatchSize     = 200

	// ScheduleInterval is the cadence of the periodic trigger started
	// by schedule() (§5).
	ScheduleInterval = 6 * time.Hour
)

// Engine is the Reconciliation Engine.
type Engine struct {
	store  store.Store
	ledger ledger.Client
}

// New constructs an Engine over the given Store and ledger capability.
func New(s store.Store, lc ledger.Client) *Engine {
	return &Engine{store: s, ledger: lc}
}

func clampBatchSize(n int) int {
	if n <= 0 {
		return DefaultBatchSize
	}
	if n > MaxBatchSize {
		return MaxBatchSize
	}
	return n
}

// Start inserts a running summary row and processes the batch loop in
// the background, returning run_id immediately per the public
// contract. Use Run when the caller wants to block until completion
// (the scheduler worker and tests both prefer that).
func (e *Engine) Start(ctx context.Context, runType model.RunType, batchSize int) (uuid.UUID, error) {
	summary, err := e.beginRun(ctx, runType)
	if err != nil {
		return uuid.Nil, err
	}
	batchSize = clampBatchSize(batchSize)
	go e.runBatches(context.Background(), summary, batchSize)
	return summary.RunID, nil
}

// Run blocks until the batch loop over every mirrored invoice
// completes and returns the final summary.
func (e *Engine) Run(ctx context.Context, runType model.RunType, batchSize int) (*model.ReconciliationSummary, error) {
	summary, err := e.beginRun(ctx, runType)
	if err != nil {
		return nil, err
	}
	e.runBatches(ctx, summary, clampBatchSize(batchSize))
	return e.store.GetReconciliationSummary(ctx, summary.RunID)
}

func (e *Engine) beginRun(ctx context.Context, runType model.RunType) (*model.ReconciliationSummary, error) {
	summary := &model.ReconciliationSummary{
		RunID:                  uuid.New(),
		RunType:                runType,
		TotalDiscrepancyAmount: decimal.Zero,
		StartedAt:              time.Now(),
		Status:                 model.RunRunning,
	}
	if err := e.store.InsertReconciliationSummary(ctx, summary); err != nil {
		return nil, fmt.Errorf("insert reconciliation summary: %w", err)
	}
	return summary, nil
}

// runBatches pages through every mirrored invoice, reconciling each
// one independently; a per-invoice error is logged as a discrepancy
// row and does not abort the run. Only an engine-level fault (the page
// query itself failing) marks the summary failed.
func (e *Engine) runBatches(ctx context.Context, summary *model.ReconciliationSummary, batchSize int) {
	offset := 0
	for {
		invoiceIDs, err := e.store.ListEscrowInvoiceIDs(ctx, store.Page{Limit: batchSize, Offset: offset})
		if err != nil {
			e.failRun(ctx, summary, fmt.Errorf("list mirrored invoices: %w", err))
			return
		}
		if len(invoiceIDs) == 0 {
			break
		}

		for _, invoiceID := range invoiceIDs {
			e.reconcileOne(ctx, summary, invoiceID)
		}

		if len(invoiceIDs) < batchSize {
			break
		}
		offset += batchSize
	}

	now := time.Now()
	summary.CompletedAt = &now
	summary.Status = model.RunCompleted
	if err := e.store.UpdateReconciliationSummary(ctx, summary); err != nil {
		logger.Error("failed to persist completed reconciliation summary", err, logger.Fields{"run_id": summary.RunID.String()})
	}
	logger.LogReconciliationRun(ctx, summary.RunID.String(), summary.MatchedCount, summary.DiscrepancyCount, summary.TotalDiscrepancyAmount.String())
}

func (e *Engine) failRun(ctx context.Context, summary *model.ReconciliationSummary, err error) {
	now := time.Now()
	summary.CompletedAt = &now
	summary.Status = model.RunFailed
	summary.ErrorMessage = err.Error()
	logger.Error("reconciliation run failed", err, logger.Fields{"run_id": summary.RunID.String()})
	if uErr := e.store.UpdateReconciliationSummary(ctx, summary); uErr != nil {
		logger.Error("failed to persist failed reconciliation summary", uErr, logger.Fields{"run_id": summary.RunID.String()})
	}
}

// reconcileOne diffs one invoice and records the outcome, updating the
// running summary counts. Per-invoice errors never abort the run.
func (e *Engine) reconcileOne(ctx context.Context, summary *model.ReconciliationSummary, invoiceID uuid.UUID) {
	summary.TotalCount++

	mirror, err := e.store.GetEscrow(ctx, invoiceID)
	if err != nil {
		e.recordError(ctx, summary, invoiceID, fmt.Errorf("load mirror row: %w", err))
		return
	}

	key := ids.EncodeInvoiceKey(invoiceID)
	chain, err := e.ledger.ReadEscrow(ctx, key)
	if err != nil {
		e.recordError(ctx, summary, invoiceID, fmt.Errorf("read ledger escrow: %w", err))
		return
	}

	log := diff(summary.RunID, invoiceID, mirror, chain)
	if err := e.store.InsertReconciliationLog(ctx, log); err != nil {
		logger.Error("failed to insert reconciliation log", err, logger.Fields{"invoice_id": invoiceID.String()})
	}

	switch log.DiscrepancyType {
	case model.DiscrepancyNone:
		summary.MatchedCount++
	case model.DiscrepancyMissingChain:
		summary.MissingChainCount++
		summary.DiscrepancyCount++
	case model.DiscrepancyMissingDB:
		summary.MissingDBCount++
		summary.DiscrepancyCount++
	default:
		summary.DiscrepancyCount++
	}
	summary.TotalDiscrepancyAmount = summary.TotalDiscrepancyAmount.Add(log.DiscrepancyAmount.Abs())

	if err := e.store.UpdateReconciliationSummary(ctx, summary); err != nil {
		logger.Error("failed to persist running reconciliation counts", err, logger.Fields{"run_id": summary.RunID.String()})
	}
}

func (e *Engine) recordError(ctx context.Context, summary *model.ReconciliationSummary, invoiceID uuid.UUID, cause error) {
	summary.DiscrepancyCount++
	log := &model.ReconciliationLog{
		ID:              uuid.New(),
		RunID:           summary.RunID,
		InvoiceID:       invoiceID,
		DiscrepancyType: model.DiscrepancyError,
		Notes:           cause.Error(),
		CreatedAt:       time.Now(),
	}
	if err := e.store.InsertReconciliationLog(ctx, log); err != nil {
		logger.Error("failed to insert error reconciliation log", err, logger.Fields{"invoice_id": invoiceID.String()})
	}
	if err := e.store.UpdateReconciliationSummary(ctx, summary); err != nil {
		logger.Error("failed to persist reconciliation error counts", err, logger.Fields{"run_id": summary.RunID.String()})
	}
}

// canonicalChainStatus maps the ledger's raw status code to the shared
// canonical EscrowStatus vocabulary (§4.5 step 2). An absent record
// (zero seller address) maps to not_found regardless of the status
// code it carries.
func canonicalChainStatus(chain *ledger.EscrowState) model.EscrowStatus {
	if chain == nil || chain.IsAbsent() {
		return model.EscrowNotFound
	}
	switch chain.Status {
	case ledger.StatusCreated:
		return model.EscrowCreated
	case ledger.StatusFunded:
		return model.EscrowFunded
	case ledger.StatusDisputed:
		return model.EscrowDisputed
	case ledger.StatusReleased:
		return model.EscrowReleased
	case ledger.StatusExpired:
		return model.EscrowExpired
	default:
		return model.EscrowNotFound
	}
}

// diff runs the §4.5 step-4 classification for one invoice. The
// mirror's status is already stored in the canonical vocabulary (the
// Escrow Protocol and Event Ingestor both only ever write canonical
// values), so unlike a system migrating off legacy status names there
// is no separate mirror-side mapping table to apply.
func diff(runID, invoiceID uuid.UUID, mirror *model.Escrow, chain *ledger.EscrowState) *model.ReconciliationLog {
	log := &model.ReconciliationLog{
		ID:        uuid.New(),
		RunID:     runID,
		InvoiceID: invoiceID,
		DBStatus:  mirror.Status,
		DBAmount:  mirror.Amount,
		DBSeller:  mirror.Seller,
		DBBuyer:   mirror.Buyer,
		CreatedAt: time.Now(),
	}

	chainStatus := canonicalChainStatus(chain)
	log.ChainStatus = chainStatus
	if chain != nil && !chain.IsAbsent() {
		log.ChainAmount = chain.Amount
		log.ChainSeller = chain.Seller
		log.ChainBuyer = chain.Buyer
	}

	chainAbsent := chainStatus == model.EscrowNotFound
	mirrorAbsent := mirror.Status == model.EscrowNotFound

	switch {
	case chainAbsent && !mirrorAbsent:
		log.DiscrepancyType = model.DiscrepancyMissingChain
		return log
	case !chainAbsent && mirrorAbsent:
		log.DiscrepancyType = model.DiscrepancyMissingDB
		return log
	}

	if chainStatus != mirror.Status {
		log.DiscrepancyType = model.DiscrepancyStatusMismatch
	} else if !log.ChainAmount.Equal(log.DBAmount) {
		log.DiscrepancyType = model.DiscrepancyAmountMismatch
		log.DiscrepancyAmount = log.ChainAmount.Sub(log.DBAmount)
	}

	if !strings.EqualFold(log.ChainSeller, log.DBSeller) || !strings.EqualFold(log.ChainBuyer, log.DBBuyer) {
		if log.Notes == "" {
			log.Notes = "counterparty address mismatch"
		}
		if log.DiscrepancyType == "" || log.DiscrepancyType == model.DiscrepancyNone {
			log.DiscrepancyType = model.DiscrepancyStatusMismatch
		}
	}

	if log.DiscrepancyType == "" {
		log.DiscrepancyType = model.DiscrepancyNone
	}
	return log
}

// Status returns the most recently started run's summary.
func (e *Engine) Status(ctx context.Context) (*model.ReconciliationSummary, error) {
	return e.store.LatestReconciliationSummary(ctx)
}

// Discrepancies pages through reconciliation log rows, optionally
// filtered to a single discrepancy type.
func (e *Engine) Discrepancies(ctx context.Context, discrepancyType *model.DiscrepancyType, p store.Page) ([]*model.ReconciliationLog, error) {
	return e.store.ListReconciliationLogs(ctx, discrepancyType, p)
}

// History pages through past run summaries, most recent first.
func (e *Engine) History(ctx context.Context, p store.Page) ([]*model.ReconciliationSummary, error) {
	return e.store.ListReconciliationSummaries(ctx, p)
}
