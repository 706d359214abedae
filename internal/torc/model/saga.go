// Package model holds the entities persisted by the Store (§3): sagas,
// the recovery queue, the DLQ, compensation actions, the escrow mirror,
// dispute voting state, and reconciliation records.
package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// OperationType identifies which re-execution handler a saga or
// recovery entry is driven by.
type OperationType string

const (
	OpEscrowRelease     OperationType = "escrow_release"
	OpEscrowDispute     OperationType = "escrow_dispute"
	OpEventProcessing   OperationType = "event_processing"
	OpTokenization      OperationType = "tokenization"
	OpFinancingPipeline OperationType = "financing_pipeline"
)

// SagaState is the current_state of a Saga.
type SagaState string

const (
	SagaPending       SagaState = "pending"
	SagaProcessing    SagaState = "processing"
	SagaCompleted     SagaState = "completed"
	SagaFailed        SagaState = "failed"
	SagaDLQ           SagaState = "dlq"
	SagaCompensating  SagaState = "compensating"
	SagaCompensated   SagaState = "compensated"
)

// legalTransitions enumerates every allowed SagaState edge. advance()
// rejects anything not listed here.
var legalTransitions = map[SagaState]map[SagaState]bool{
	SagaPending:      {SagaProcessing: true},
	SagaProcessing:   {SagaCompleted: true, SagaFailed: true, SagaCompensating: true, SagaProcessing: true},
	SagaFailed:       {SagaDLQ: true, SagaCompensating: true, SagaProcessing: true},
	SagaDLQ:          {SagaCompensating: true},
	SagaCompensating: {SagaCompensated: true},
	SagaCompleted:    {},
	SagaCompensated:  {},
}

// CanTransition reports whether from -> to is a legal saga transition.
func CanTransition(from, to SagaState) bool {
	if from == to {
		// Re-advancing within processing (e.g. a step commit) is allowed;
		// any other self-loop on a terminal state is not.
		return from == SagaProcessing
	}
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// IsTerminal reports whether a saga in this state will never transition
// again without operator intervention.
func (s SagaState) IsTerminal() bool {
	return s == SagaCompleted || s == SagaCompensated
}

// Context is the saga's opaque, operation-defined payload. It travels
// as raw JSON so the Saga Manager never needs to know each operation's
// shape.
type Context = json.RawMessage

// Saga is a durable, step-logged record of a multi-step operation.
type Saga struct {
	CorrelationID   uuid.UUID
	OperationType   OperationType
	EntityType      string
	EntityID        string
	CurrentState    SagaState
	StepsCompleted  []string
	StepsRemaining  []string
	ContextData     Context
	InitiatedBy     string
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// HasCompletedStep reports whether the named step is already durable,
// letting a retry skip re-applying it.
func (s *Saga) HasCompletedStep(step string) bool {
	for _, c := range s.StepsCompleted {
		if c == step {
			return true
		}
	}
	return false
}
