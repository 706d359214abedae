package model

import (
	"time"

	"github.com/google/uuid"
)

// RecoveryStatus is the status of a RecoveryEntry.
type RecoveryStatus string

const (
	RecoveryPending    RecoveryStatus = "pending"
	RecoveryProcessing RecoveryStatus = "processing"
	RecoveryCompleted  RecoveryStatus = "completed"
	RecoveryFailed     RecoveryStatus = "failed"
)

// RecoveryEntry is a durable retry-queue row. One per saga in-flight
// failure; upserted on (correlation_id).
type RecoveryEntry struct {
	CorrelationID uuid.UUID
	OperationType OperationType
	OperationData Context
	RetryCount    int
	MaxRetries    int
	NextRetryAt   time.Time
	LastError     string
	Status        RecoveryStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CompensationStatus is the lifecycle state of a DLQEntry's
// compensation tracking.
type CompensationStatus string

const (
	CompensationPending    CompensationStatus = "pending"
	CompensationInProgress CompensationStatus = "in_progress"
	CompensationCompleted  CompensationStatus = "completed"
	CompensationFailed     CompensationStatus = "failed"
)

// DLQEntry is a terminal resting place for a saga that exhausted its
// retry budget.
type DLQEntry struct {
	ID                  uuid.UUID
	CorrelationID       uuid.UUID
	OperationType       OperationType
	OperationData       Context
	FailureReason       string
	RetryCount          int
	RequiresCompensation bool
	CompensationStatus  CompensationStatus
	ResolvedAt          *time.Time
	ResolvedBy          string
	ResolutionNotes     string
	CreatedAt           time.Time
}

// CompensationActionStatus is the status of a CompensationAction.
type CompensationActionStatus string

const (
	CompActionPending    CompensationActionStatus = "pending"
	CompActionInProgress CompensationActionStatus = "in_progress"
	CompActionCompleted  CompensationActionStatus = "completed"
	CompActionFailed     CompensationActionStatus = "failed"
)

// CompensationAction is an operator-driven reversal of a visible
// external side effect left behind by a terminally failed saga.
type CompensationAction struct {
	ID            uuid.UUID
	CorrelationID uuid.UUID
	ActionType    string
	ActionData    Context
	Status        CompensationActionStatus
	Result        string
	ExecutedAt    *time.Time
	CreatedAt     time.Time
}

// NextBackoff computes next_retry_at for a given retry_count, capped at
// capMinutes (default 60): now + min(2^retry_count, cap) minutes.
func NextBackoff(now time.Time, retryCount int, capMinutes int) time.Time {
	minutes := 1 << uint(retryCount)
	if minutes > capMinutes {
		minutes = capMinutes
	}
	if minutes < 1 {
		minutes = 1
	}
	return now.Add(time.Duration(minutes) * time.Minute)
}
