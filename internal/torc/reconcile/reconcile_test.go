package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/torcsys/torc/internal/torc/ids"
	"github.com/torcsys/torc/internal/torc/ledger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
	"github.com/torcsys/torc/internal/torc/storetest"
)

// scriptedLedger answers ReadEscrow from a fixed, keyed table so each
// test can set up exactly the ledger-side state it needs.
type scriptedLedger struct {
	states map[common.Hash]*ledger.EscrowState
}

func newScriptedLedger() *scriptedLedger {
	return &scriptedLedger{states: make(map[common.Hash]*ledger.EscrowState)}
}

func (l *scriptedLedger) set(invoiceID uuid.UUID, s *ledger.EscrowState) {
	l.states[ids.EncodeInvoiceKey(invoiceID)] = s
}

func (l *scriptedLedger) ReadEscrow(ctx context.Context, key common.Hash) (*ledger.EscrowState, error) {
	if s, ok := l.states[key]; ok {
		return s, nil
	}
	return &ledger.EscrowState{}, nil
}

func (l *scriptedLedger) Submit(ctx context.Context, op ledger.Operation, payload map[string]string) (string, error) {
	return "", nil
}

func (l *scriptedLedger) Events(ctx context.Context) (<-chan ledger.Event, error) {
	ch := make(chan ledger.Event)
	close(ch)
	return ch, nil
}

func (l *scriptedLedger) ReadMultiSigApprovals(ctx context.Context, key common.Hash) (*ledger.MultiSigApprovals, error) {
	return nil, nil
}

func insertMirror(t *testing.T, s *storetest.Memory, status model.EscrowStatus, amount decimal.Decimal) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.InsertEscrow(context.Background(), &model.Escrow{
		InvoiceID: id,
		Seller:    "0xSeller",
		Buyer:     "0xBuyer",
		Amount:    amount,
		Token:     "USDC",
		Status:    status,
		CreatedAt: time.Now(),
	}))
	return id
}

func TestRunMatchesWhenLedgerAgreesWithMirror(t *testing.T) {
	s := storetest.New()
	fl := newScriptedLedger()
	id := insertMirror(t, s, model.EscrowFunded, decimal.NewFromInt(1000))
	fl.set(id, &ledger.EscrowState{
		Seller: "0xSeller",
		Buyer:  "0xBuyer",
		Amount: decimal.NewFromInt(1000),
		Status: ledger.StatusFunded,
	})

	e := New(s, fl)
	summary, err := e.Run(context.Background(), model.RunManual, 0)
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, summary.Status)
	require.Equal(t, 1, summary.TotalCount)
	require.Equal(t, 1, summary.MatchedCount)
	require.Equal(t, 0, summary.DiscrepancyCount)
}

func TestRunDetectsAmountMismatch(t *testing.T) {
	s := storetest.New()
	fl := newScriptedLedger()
	id := insertMirror(t, s, model.EscrowFunded, decimal.NewFromInt(1000))
	fl.set(id, &ledger.EscrowState{
		Seller: "0xSeller",
		Buyer:  "0xBuyer",
		Amount: decimal.NewFromInt(1200),
		Status: ledger.StatusFunded,
	})

	e := New(s, fl)
	summary, err := e.Run(context.Background(), model.RunManual, 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.DiscrepancyCount)
	require.True(t, summary.TotalDiscrepancyAmount.Equal(decimal.NewFromInt(200)))

	logs, err := e.Discrepancies(context.Background(), nil, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.Equal(t, model.DiscrepancyAmountMismatch, logs[0].DiscrepancyType)
}

func TestRunSumsDiscrepancyAmountsAsAbsoluteValue(t *testing.T) {
	s := storetest.New()
	fl := newScriptedLedger()
	over := insertMirror(t, s, model.EscrowFunded, decimal.NewFromInt(1000))
	fl.set(over, &ledger.EscrowState{
		Seller: "0xSeller",
		Buyer:  "0xBuyer",
		Amount: decimal.NewFromInt(1200),
		Status: ledger.StatusFunded,
	})
	under := insertMirror(t, s, model.EscrowFunded, decimal.NewFromInt(1000))
	fl.set(under, &ledger.EscrowState{
		Seller: "0xSeller",
		Buyer:  "0xBuyer",
		Amount: decimal.NewFromInt(800),
		Status: ledger.StatusFunded,
	})

	e := New(s, fl)
	summary, err := e.Run(context.Background(), model.RunManual, 0)
	require.NoError(t, err)
	require.Equal(t, 2, summary.DiscrepancyCount)
	// +200 and -200 must not cancel out: the running total tracks the
	// magnitude of every mismatch, not its signed sum.
	require.True(t, summary.TotalDiscrepancyAmount.Equal(decimal.NewFromInt(400)))
}

func TestRunDetectsMissingChain(t *testing.T) {
	s := storetest.New()
	fl := newScriptedLedger()
	insertMirror(t, s, model.EscrowFunded, decimal.NewFromInt(1000))
	// fl has no entry at all for this invoice, so ReadEscrow returns an
	// absent (zero-value) state.

	e := New(s, fl)
	summary, err := e.Run(context.Background(), model.RunManual, 0)
	require.NoError(t, err)
	require.Equal(t, 1, summary.MissingChainCount)

	logs, err := e.Discrepancies(context.Background(), nil, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Equal(t, model.DiscrepancyMissingChain, logs[0].DiscrepancyType)
}

func TestStatusReturnsLatestRun(t *testing.T) {
	s := storetest.New()
	fl := newScriptedLedger()
	e := New(s, fl)

	_, err := e.Run(context.Background(), model.RunManual, 0)
	require.NoError(t, err)

	latest, err := e.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, model.RunCompleted, latest.Status)
}
