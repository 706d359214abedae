package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscrepancyType classifies a per-invoice reconciliation outcome.
type DiscrepancyType string

const (
	DiscrepancyNone           DiscrepancyType = "none"
	DiscrepancyAmountMismatch DiscrepancyType = "amount_mismatch"
	DiscrepancyStatusMismatch DiscrepancyType = "status_mismatch"
	DiscrepancyMissingChain   DiscrepancyType = "missing_chain"
	DiscrepancyMissingDB      DiscrepancyType = "missing_db"
	DiscrepancyError          DiscrepancyType = "error"
)

// ReconciliationLog is one row per (invoice, run).
type ReconciliationLog struct {
	ID                 uuid.UUID
	RunID              uuid.UUID
	InvoiceID          uuid.UUID
	ChainStatus        EscrowStatus
	DBStatus           EscrowStatus
	ChainAmount        decimal.Decimal
	DBAmount           decimal.Decimal
	DiscrepancyAmount  decimal.Decimal
	DiscrepancyType    DiscrepancyType
	ChainSeller        string
	ChainBuyer         string
	DBSeller           string
	DBBuyer            string
	Notes              string
	CreatedAt          time.Time
}

// RunType is the trigger that started a reconciliation run.
type RunType string

const (
	RunFull      RunType = "full"
	RunPartial   RunType = "partial"
	RunManual    RunType = "manual"
	RunScheduled RunType = "scheduled"
)

// RunStatus is the lifecycle state of a ReconciliationSummary.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// ReconciliationSummary is one row per reconciliation run.
type ReconciliationSummary struct {
	RunID                 uuid.UUID
	RunType               RunType
	TotalCount            int
	MatchedCount          int
	DiscrepancyCount      int
	MissingChainCount     int
	MissingDBCount        int
	TotalDiscrepancyAmount decimal.Decimal
	StartedAt             time.Time
	CompletedAt           *time.Time
	Status                RunStatus
	ErrorMessage          string
}

// MetricType is the kind of HealthMetric recorded.
type MetricType string

const (
	MetricSuccessRate       MetricType = "success_rate"
	MetricRetryCount        MetricType = "retry_count"
	MetricDLQSize           MetricType = "dlq_size"
	MetricAvgProcessingTime MetricType = "avg_processing_time"
	MetricStuckTransactions MetricType = "stuck_transactions"
	MetricCompensationRate  MetricType = "compensation_rate"
	MetricErrorRate         MetricType = "error_rate"
)

// HealthMetric is one recorded observation of pipeline health.
type HealthMetric struct {
	ID          uuid.UUID
	MetricType  MetricType
	MetricName  string
	MetricValue decimal.Decimal
	RecordedAt  time.Time
	Metadata    Context
}
