package escrow

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/torcsys/torc/internal/torc/ledger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/recovery"
	"github.com/torcsys/torc/internal/torc/saga"
	"github.com/torcsys/torc/internal/torc/storetest"
)

// fakeLedger is a scriptable ledger.Client used across the escrow
// test suite; submitErrs lets a test inject a fixed number of
// transient failures before Submit starts succeeding.
type fakeLedger struct {
	submitErrs int
	submitted  []ledger.Operation
	payloads   []map[string]string
}

func (f *fakeLedger) ReadEscrow(ctx context.Context, key common.Hash) (*ledger.EscrowState, error) {
	return nil, nil
}

func (f *fakeLedger) Submit(ctx context.Context, op ledger.Operation, payload map[string]string) (string, error) {
	f.submitted = append(f.submitted, op)
	f.payloads = append(f.payloads, payload)
	if f.submitErrs > 0 {
		f.submitErrs--
		return "", errTransient
	}
	return "0xdeadbeef", nil
}

func (f *fakeLedger) Events(ctx context.Context) (<-chan ledger.Event, error) {
	ch := make(chan ledger.Event)
	close(ch)
	return ch, nil
}

func (f *fakeLedger) ReadMultiSigApprovals(ctx context.Context, key common.Hash) (*ledger.MultiSigApprovals, error) {
	return nil, nil
}

var errTransient = &transientErr{}

type transientErr struct{}

func (e *transientErr) Error() string { return "simulated transient ledger error" }

func newProtocol(fl *fakeLedger) (*Protocol, *storetest.Memory) {
	s := storetest.New()
	sm := saga.New(s)
	rp := recovery.New(s, recovery.Config{MaxRetries: 5, BackoffCapMinutes: 60})
	p := New(s, fl, sm, rp, nil, Config{FeeBasisPoints: 50, QuorumPercentage: 51})
	return p, s
}

func TestCreateRejectsAmountBelowMinimum(t *testing.T) {
	p, _ := newProtocol(&fakeLedger{})
	_, err := p.Create(context.Background(), CreateInput{
		InvoiceID: uuid.New(),
		Seller:    "seller-1",
		Buyer:     "buyer-1",
		Amount:    decimal.NewFromInt(1),
		Token:     "native",
		Duration:  time.Hour,
	})
	require.Error(t, err)
}

func TestHappyPathReleaseComputesFeeAndCompletesSaga(t *testing.T) {
	fl := &fakeLedger{}
	p, s := newProtocol(fl)
	ctx := context.Background()
	invoiceID := uuid.New()

	e, err := p.Create(ctx, CreateInput{
		InvoiceID: invoiceID,
		Seller:    "seller-1",
		Buyer:     "buyer-1",
		Amount:    decimal.NewFromInt(1000),
		Token:     "native",
		Duration:  time.Hour,
	})
	require.NoError(t, err)
	require.True(t, e.FeeAmount.Equal(decimal.NewFromInt(5)))

	require.NoError(t, p.Deposit(ctx, invoiceID, "buyer-1"))
	require.NoError(t, p.ConfirmRelease(ctx, invoiceID, "seller-1"))
	require.NoError(t, p.ConfirmRelease(ctx, invoiceID, "buyer-1"))

	got, err := s.GetEscrow(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, model.EscrowReleased, got.Status)
}

func TestCreateAndReleaseCarryRWACollateralToLedger(t *testing.T) {
	fl := &fakeLedger{}
	p, _ := newProtocol(fl)
	ctx := context.Background()
	invoiceID := uuid.New()

	e, err := p.Create(ctx, CreateInput{
		InvoiceID:      invoiceID,
		Seller:         "seller-1",
		Buyer:          "buyer-1",
		Amount:         decimal.NewFromInt(1000),
		Token:          "native",
		Duration:       time.Hour,
		RWANFTContract: "0xNFTContract",
		RWATokenID:     "42",
	})
	require.NoError(t, err)
	require.Equal(t, "0xNFTContract", e.RWANFTContract)
	require.Equal(t, ledger.OpCreateEscrow, fl.submitted[0])
	require.Equal(t, "0xNFTContract", fl.payloads[0]["rwa_nft_contract"])
	require.Equal(t, "42", fl.payloads[0]["rwa_token_id"])

	require.NoError(t, p.Deposit(ctx, invoiceID, "buyer-1"))
	require.NoError(t, p.ConfirmRelease(ctx, invoiceID, "seller-1"))
	require.NoError(t, p.ConfirmRelease(ctx, invoiceID, "buyer-1"))

	releasePayload := fl.payloads[len(fl.payloads)-1]
	require.Equal(t, "0xNFTContract", releasePayload["rwa_nft_contract"])
	require.Equal(t, "42", releasePayload["rwa_token_id"])
}

func TestReclaimExpiredFundsCarriesRWACollateralToLedger(t *testing.T) {
	fl := &fakeLedger{}
	p, s := newProtocol(fl)
	ctx := context.Background()
	invoiceID := uuid.New()

	_, err := p.Create(ctx, CreateInput{
		InvoiceID:      invoiceID,
		Seller:         "seller-1",
		Buyer:          "buyer-1",
		Amount:         decimal.NewFromInt(1000),
		Token:          "native",
		Duration:       time.Hour,
		RWANFTContract: "0xNFTContract",
		RWATokenID:     "7",
	})
	require.NoError(t, err)
	require.NoError(t, p.Deposit(ctx, invoiceID, "buyer-1"))

	// Force the escrow past its expiry without sleeping the test.
	stored, err := s.GetEscrow(ctx, invoiceID)
	require.NoError(t, err)
	stored.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, s.UpdateEscrow(ctx, stored))

	require.NoError(t, p.ReclaimExpiredFunds(ctx, invoiceID, "buyer-1"))

	reclaimPayload := fl.payloads[len(fl.payloads)-1]
	require.Equal(t, ledger.OpReclaimExpired, fl.submitted[len(fl.submitted)-1])
	require.Equal(t, "0xNFTContract", reclaimPayload["rwa_nft_contract"])
	require.Equal(t, "7", reclaimPayload["rwa_token_id"])
}

func TestDisputeQuorumShrinksAndResolves(t *testing.T) {
	fl := &fakeLedger{}
	p, s := newProtocol(fl)
	ctx := context.Background()
	invoiceID := uuid.New()

	_, err := p.Create(ctx, CreateInput{
		InvoiceID: invoiceID, Seller: "seller-1", Buyer: "buyer-1",
		Amount: decimal.NewFromInt(1000), Token: "native", Duration: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, p.Deposit(ctx, invoiceID, "buyer-1"))
	require.NoError(t, p.RaiseDispute(ctx, invoiceID, "buyer-1", 10))

	require.NoError(t, p.VoteOnDispute(ctx, invoiceID, "arb-1", false, 10))
	require.NoError(t, p.VoteOnDispute(ctx, invoiceID, "arb-2", false, 10))
	require.NoError(t, p.VoteOnDispute(ctx, invoiceID, "arb-3", true, 10))

	dv, err := s.GetDisputeVote(ctx, invoiceID)
	require.NoError(t, err)
	require.False(t, dv.Resolved)

	require.NoError(t, p.VoteOnDispute(ctx, invoiceID, "arb-4", false, 5))

	dv, err = s.GetDisputeVote(ctx, invoiceID)
	require.NoError(t, err)
	require.True(t, dv.Resolved)
	require.Equal(t, 5, dv.SnapshotArbitratorCount)

	got, err := s.GetEscrow(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, model.EscrowReleased, got.Status)
}

func TestSafeEscapeOnlyWhenQuorumUnreachable(t *testing.T) {
	fl := &fakeLedger{}
	p, s := newProtocol(fl)
	ctx := context.Background()
	invoiceID := uuid.New()

	_, err := p.Create(ctx, CreateInput{
		InvoiceID: invoiceID, Seller: "seller-1", Buyer: "buyer-1",
		Amount: decimal.NewFromInt(1000), Token: "native", Duration: time.Hour,
	})
	require.NoError(t, err)
	require.NoError(t, p.Deposit(ctx, invoiceID, "buyer-1"))
	require.NoError(t, p.RaiseDispute(ctx, invoiceID, "buyer-1", 10))

	require.NoError(t, p.VoteOnDispute(ctx, invoiceID, "arb-1", true, 10))
	require.NoError(t, p.VoteOnDispute(ctx, invoiceID, "arb-2", true, 10))

	err = p.SafeEscape(ctx, invoiceID, true, 10)
	require.Error(t, err, "quorum is still reachable at live_count=10")

	require.NoError(t, p.SafeEscape(ctx, invoiceID, true, 0))

	got, err := s.GetEscrow(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, model.EscrowReleased, got.Status)
}
