// Package ledger defines the LedgerClient capability boundary (§6):
// the only trusted external surface the core depends on. Contract ABI
// binding, signer management, and RPC transport live entirely behind
// this interface and are out of scope for the core itself.
package ledger

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// EscrowStatusCode is the ledger's raw u8 status encoding, mapped to
// model.EscrowStatus by callers per the canonical table in §4.5.
type EscrowStatusCode uint8

const (
	StatusCreated  EscrowStatusCode = 0
	StatusFunded   EscrowStatusCode = 1
	StatusDisputed EscrowStatusCode = 2
	StatusReleased EscrowStatusCode = 3
	StatusExpired  EscrowStatusCode = 4
)

// EscrowState is the ledger's view of one escrow, read via readEscrow.
type EscrowState struct {
	Seller          string
	Buyer           string
	Amount          decimal.Decimal
	Token           string
	Status          EscrowStatusCode
	SellerConfirmed bool
	BuyerConfirmed  bool
	DisputeRaised   bool
	CreatedAt       time.Time
	ExpiresAt       time.Time
}

// IsAbsent reports whether this is the ledger's "no such record" zero
// value (seller address is the zero address).
func (s *EscrowState) IsAbsent() bool {
	return s.Seller == "" || s.Seller == ZeroAddress
}

// ZeroAddress is the ledger's canonical empty-address sentinel.
var ZeroAddress = common.Address{}.Hex()

// MultiSigApprovals is the ledger's view of accumulated approvals.
type MultiSigApprovals struct {
	Approvers []string
	Required  int
	Count     int
}

// Operation identifies a submit() call's intent; the reference adapter
// only names it in its error message, a production binding would map it
// to a contract method selector.
type Operation string

const (
	OpCreateEscrow    Operation = "create_escrow"
	OpDeposit         Operation = "deposit"
	OpConfirmRelease  Operation = "confirm_release"
	OpReclaimExpired  Operation = "reclaim_expired"
	OpRaiseDispute    Operation = "raise_dispute"
	OpVoteOnDispute   Operation = "vote_on_dispute"
	OpSafeEscape      Operation = "safe_escape"
)

// Event is one item from the ledger's event stream.
type Event struct {
	Name        string
	Args        map[string]string
	TxHash      string
	LogIndex    int
	BlockNumber uint64
}

// Identity returns the stable per-event identity used for idempotent
// ingestion: (event_name, tx_hash, log_index).
func (e Event) Identity() string {
	return e.Name + "|" + e.TxHash + "|" + itoa(e.LogIndex)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Client is the LedgerClient capability (§6). Every method is a
// suspension point and must honor ctx cancellation.
type Client interface {
	ReadEscrow(ctx context.Context, key common.Hash) (*EscrowState, error)
	Submit(ctx context.Context, op Operation, payload map[string]string) (txHash string, err error)
	Events(ctx context.Context) (<-chan Event, error)
	ReadMultiSigApprovals(ctx context.Context, key common.Hash) (*MultiSigApprovals, error)
}
