// Package store defines the transactional persistence contract the
// core requires (§3, §6) and a Postgres implementation in the
// store/postgres subpackage. Every write that must be atomic with a
// read (claiming a recovery entry, locking an escrow row for a mirror
// update) goes through WithTx.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/torcsys/torc/internal/torc/model"
)

// Page is a generic limit/offset page request.
type Page struct {
	Limit  int
	Offset int
}

// Tx is a single unit-of-work transaction handle. All Store methods
// taking a Tx participate in the same database transaction; callers
// commit or roll back exactly once via WithTx.
type Tx interface {
	SagaStore
	RecoveryStore
	EscrowStore
	ReconcileStore
	HealthStore
	IngestStore
}

// Store is the top-level capability. WithTx opens a transaction, hands
// it to fn, and commits on a nil return or rolls back otherwise.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Convenience non-transactional reads and writes, run directly
	// against the underlying connection outside any transaction.
	SagaStore
	RecoveryStore
	EscrowStore
	ReconcileStore
	HealthStore
	IngestStore
}

// SagaStore persists Saga rows.
type SagaStore interface {
	InsertSaga(ctx context.Context, s *model.Saga) error
	GetSaga(ctx context.Context, correlationID uuid.UUID) (*model.Saga, error)
	GetSagaByIdempotencyKey(ctx context.Context, key string) (*model.Saga, error)
	UpdateSaga(ctx context.Context, s *model.Saga) error
	ListStuckSagas(ctx context.Context, olderThan time.Time) ([]*model.Saga, error)

	// CountSagasByState feeds the Health/Metrics success/error/
	// compensation rates: a simple point-in-time count, not windowed.
	CountSagasByState(ctx context.Context, state model.SagaState) (int, error)
	// AverageCompletedSagaDuration averages CompletedAt-CreatedAt over
	// every saga that has ever reached model.SagaCompleted.
	AverageCompletedSagaDuration(ctx context.Context) (time.Duration, error)
}

// RecoveryStore persists the retry queue, DLQ, and compensation rows.
type RecoveryStore interface {
	UpsertRecoveryEntry(ctx context.Context, e *model.RecoveryEntry) error
	DeleteRecoveryEntry(ctx context.Context, correlationID uuid.UUID) error
	ClaimDueRecoveryEntries(ctx context.Context, now time.Time, limit int) ([]*model.RecoveryEntry, error)
	GetRecoveryEntry(ctx context.Context, correlationID uuid.UUID) (*model.RecoveryEntry, error)

	InsertDLQEntry(ctx context.Context, d *model.DLQEntry) error
	ListDLQEntries(ctx context.Context, p Page) ([]*model.DLQEntry, error)
	CountDLQEntries(ctx context.Context) (int, error)
	ResolveDLQEntry(ctx context.Context, id uuid.UUID, resolvedBy, notes string) error

	// AveragePendingRetryCount feeds the Health/Metrics retry_count
	// gauge; CountPendingRecoveryEntries is not read by the aggregator.
	CountPendingRecoveryEntries(ctx context.Context) (int, error)
	AveragePendingRetryCount(ctx context.Context) (float64, error)

	InsertCompensationAction(ctx context.Context, c *model.CompensationAction) error
	GetCompensationAction(ctx context.Context, correlationID uuid.UUID) (*model.CompensationAction, error)
	UpdateCompensationAction(ctx context.Context, c *model.CompensationAction) error
}

// EscrowStore persists the escrow mirror, multi-sig approvals, and
// dispute votes.
type EscrowStore interface {
	InsertEscrow(ctx context.Context, e *model.Escrow) error
	// GetEscrowForUpdate locks the escrow row for the duration of the
	// enclosing transaction (SELECT ... FOR UPDATE semantics).
	GetEscrowForUpdate(ctx context.Context, invoiceID uuid.UUID) (*model.Escrow, error)
	GetEscrow(ctx context.Context, invoiceID uuid.UUID) (*model.Escrow, error)
	UpdateEscrow(ctx context.Context, e *model.Escrow) error
	ListEscrowInvoiceIDs(ctx context.Context, p Page) ([]uuid.UUID, error)

	GetMultiSigApproval(ctx context.Context, invoiceID uuid.UUID) (*model.MultiSigApproval, error)
	UpsertMultiSigApproval(ctx context.Context, m *model.MultiSigApproval) error

	GetDisputeVote(ctx context.Context, invoiceID uuid.UUID) (*model.DisputeVote, error)
	UpsertDisputeVote(ctx context.Context, d *model.DisputeVote) error
}

// ReconcileStore persists reconciliation logs and run summaries.
type ReconcileStore interface {
	InsertReconciliationSummary(ctx context.Context, s *model.ReconciliationSummary) error
	UpdateReconciliationSummary(ctx context.Context, s *model.ReconciliationSummary) error
	GetReconciliationSummary(ctx context.Context, runID uuid.UUID) (*model.ReconciliationSummary, error)
	LatestReconciliationSummary(ctx context.Context) (*model.ReconciliationSummary, error)
	ListReconciliationSummaries(ctx context.Context, p Page) ([]*model.ReconciliationSummary, error)

	InsertReconciliationLog(ctx context.Context, l *model.ReconciliationLog) error
	ListReconciliationLogs(ctx context.Context, discrepancyType *model.DiscrepancyType, p Page) ([]*model.ReconciliationLog, error)
}

// HealthStore persists health metric observations.
type HealthStore interface {
	InsertHealthMetric(ctx context.Context, m *model.HealthMetric) error
	LatestHealthMetrics(ctx context.Context) ([]*model.HealthMetric, error)
}

// IngestStore tracks which ledger events have already been applied to
// the mirror, giving the Event Ingestor idempotent-by-identity
// processing (§4.4).
type IngestStore interface {
	// MarkEventProcessed atomically records identity as processed and
	// reports whether this call was the first to do so. A false result
	// means the event is a duplicate and must be skipped.
	MarkEventProcessed(ctx context.Context, identity string) (firstSeen bool, err error)
}

// ErrNotFound is returned by Get* methods when no row matches.
var ErrNotFound = &notFoundError{}

type notFoundError struct{}

func (e *notFoundError) Error() string { return "store: not found" }
