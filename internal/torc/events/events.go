// Package events defines the domain events the orchestration core
// publishes to the realtime UI sink (§6 "Publish sink"). Publication is
// fire-and-forget: it never gates saga completion.
package events

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/shared/events"
)

// EscrowReleasedEvent is published once an escrow's release has
// committed to the mirror.
type EscrowReleasedEvent struct {
	events.BaseEvent

	InvoiceID  uuid.UUID       `json:"invoice_id"`
	WinnerIsBuyer bool         `json:"winner_is_buyer"`
	Amount     decimal.Decimal `json:"amount"`
	FeeAmount  decimal.Decimal `json:"fee_amount"`
	TxHash     string          `json:"tx_hash"`
}

func NewEscrowReleasedEvent(invoiceID uuid.UUID, winnerIsBuyer bool, amount, feeAmount decimal.Decimal, txHash string) *EscrowReleasedEvent {
	return &EscrowReleasedEvent{
		BaseEvent:     events.NewBaseEvent("escrow:released"),
		InvoiceID:     invoiceID,
		WinnerIsBuyer: winnerIsBuyer,
		Amount:        amount,
		FeeAmount:     feeAmount,
		TxHash:        txHash,
	}
}

// EscrowDisputeEvent is published when a dispute is raised or resolved.
type EscrowDisputeEvent struct {
	events.BaseEvent

	InvoiceID uuid.UUID `json:"invoice_id"`
	Resolved  bool      `json:"resolved"`
	Raised    bool      `json:"raised"`
}

func NewEscrowDisputeEvent(invoiceID uuid.UUID, raised, resolved bool) *EscrowDisputeEvent {
	return &EscrowDisputeEvent{
		BaseEvent: events.NewBaseEvent("escrow:dispute"),
		InvoiceID: invoiceID,
		Raised:    raised,
		Resolved:  resolved,
	}
}

// EscrowApprovalAddedEvent is published when a multi-sig approver is
// recorded against a funded escrow.
type EscrowApprovalAddedEvent struct {
	events.BaseEvent

	InvoiceID uuid.UUID `json:"invoice_id"`
	Approver  string    `json:"approver"`
	Count     int       `json:"count"`
	Required  int       `json:"required"`
}

func NewEscrowApprovalAddedEvent(invoiceID uuid.UUID, approver string, count, required int) *EscrowApprovalAddedEvent {
	return &EscrowApprovalAddedEvent{
		BaseEvent: events.NewBaseEvent("escrow:approval-added"),
		InvoiceID: invoiceID,
		Approver:  approver,
		Count:     count,
		Required:  required,
	}
}

// InsurancePurchasedEvent, InsuranceClaimFiledEvent, and
// InsuranceClaimApprovedEvent cover the financing_pipeline saga's
// counterpart notifications (§6); the core only ever publishes these,
// it does not implement insurance underwriting itself.
type InsurancePurchasedEvent struct {
	events.BaseEvent

	InvoiceID uuid.UUID       `json:"invoice_id"`
	Premium   decimal.Decimal `json:"premium"`
}

func NewInsurancePurchasedEvent(invoiceID uuid.UUID, premium decimal.Decimal) *InsurancePurchasedEvent {
	return &InsurancePurchasedEvent{
		BaseEvent: events.NewBaseEvent("insurance:purchased"),
		InvoiceID: invoiceID,
		Premium:   premium,
	}
}

type InsuranceClaimFiledEvent struct {
	events.BaseEvent

	InvoiceID uuid.UUID `json:"invoice_id"`
	ClaimID   uuid.UUID `json:"claim_id"`
}

func NewInsuranceClaimFiledEvent(invoiceID, claimID uuid.UUID) *InsuranceClaimFiledEvent {
	return &InsuranceClaimFiledEvent{
		BaseEvent: events.NewBaseEvent("insurance:claim-filed"),
		InvoiceID: invoiceID,
		ClaimID:   claimID,
	}
}

type InsuranceClaimApprovedEvent struct {
	events.BaseEvent

	InvoiceID uuid.UUID       `json:"invoice_id"`
	ClaimID   uuid.UUID       `json:"claim_id"`
	Payout    decimal.Decimal `json:"payout"`
}

func NewInsuranceClaimApprovedEvent(invoiceID, claimID uuid.UUID, payout decimal.Decimal) *InsuranceClaimApprovedEvent {
	return &InsuranceClaimApprovedEvent{
		BaseEvent: events.NewBaseEvent("insurance:claim-approved"),
		InvoiceID: invoiceID,
		ClaimID:   claimID,
		Payout:    payout,
	}
}
