package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EscrowStatus is the canonical status of an Escrow, shared by the
// mirror and by the reconciliation engine's canonical mapping.
type EscrowStatus string

const (
	EscrowCreated  EscrowStatus = "created"
	EscrowFunded   EscrowStatus = "funded"
	EscrowDisputed EscrowStatus = "disputed"
	EscrowReleased EscrowStatus = "released"
	EscrowExpired  EscrowStatus = "expired"
	EscrowNotFound EscrowStatus = "not_found"
)

// Escrow is the internal mirror of one escrow's external-ledger state.
type Escrow struct {
	InvoiceID        uuid.UUID
	Seller           string
	Buyer            string
	Amount           decimal.Decimal
	Token            string
	Status           EscrowStatus
	SellerConfirmed  bool
	BuyerConfirmed   bool
	DisputeRaised    bool
	CreatedAt        time.Time
	ExpiresAt        time.Time
	RWANFTContract   string
	RWATokenID       string
	FeeAmount        decimal.Decimal
	DiscountBps      int32
	DiscountDeadline *time.Time
	UpdatedAt        time.Time
}

// HasRWA reports whether this escrow holds NFT collateral.
func (e *Escrow) HasRWA() bool {
	return e.RWANFTContract != "" && e.RWATokenID != ""
}

// DiscountActive reports whether an early-payment discount still
// applies at the given time.
func (e *Escrow) DiscountActive(now time.Time) bool {
	return e.DiscountBps > 0 && e.DiscountDeadline != nil && !now.After(*e.DiscountDeadline)
}

// MultiSigApproval tracks approver accumulation for a funded escrow.
type MultiSigApproval struct {
	InvoiceID uuid.UUID
	Approvers []string
	Required  int
}

// HasApproved reports whether addr already approved.
func (m *MultiSigApproval) HasApproved(addr string) bool {
	for _, a := range m.Approvers {
		if a == addr {
			return true
		}
	}
	return false
}

// Satisfied reports whether the approval count meets the threshold.
func (m *MultiSigApproval) Satisfied() bool {
	return len(m.Approvers) >= m.Required
}

// DisputeVote is the per-dispute arbitrator voting record.
type DisputeVote struct {
	InvoiceID              uuid.UUID
	SnapshotArbitratorCount int
	VotesForBuyer          int
	VotesForSeller         int
	Resolved               bool
	Voters                 map[string]bool
	CreatedAt              time.Time
	ResolvedAt             *time.Time
}

// HasVoted reports whether arbitrator already cast a vote.
func (d *DisputeVote) HasVoted(arbitrator string) bool {
	return d.Voters[arbitrator]
}

// Quorum computes the current quorum threshold from the snapshot,
// ceil(snapshot * pct / 100), minimum 1.
func (d *DisputeVote) Quorum(quorumPct int) int {
	return QuorumThreshold(d.SnapshotArbitratorCount, quorumPct)
}

// QuorumThreshold computes ceil(snapshot * pct / 100), minimum 1.
func QuorumThreshold(snapshot, pct int) int {
	if snapshot <= 0 {
		return 1
	}
	num := snapshot * pct
	q := num / 100
	if num%100 != 0 {
		q++
	}
	if q < 1 {
		q = 1
	}
	return q
}
