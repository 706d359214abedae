package ingestor

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/torcsys/torc/internal/torc/ids"
	"github.com/torcsys/torc/internal/torc/ledger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/recovery"
	"github.com/torcsys/torc/internal/torc/saga"
	"github.com/torcsys/torc/internal/torc/store"
	"github.com/torcsys/torc/internal/torc/storetest"
)

// stubLedger is a minimal ledger.Client; the ingestor under test never
// calls Events itself (handle/applyEvent are exercised directly), so
// only the methods used indirectly need a real body.
type stubLedger struct{}

func (stubLedger) ReadEscrow(ctx context.Context, key common.Hash) (*ledger.EscrowState, error) {
	return nil, nil
}
func (stubLedger) Submit(ctx context.Context, op ledger.Operation, payload map[string]string) (string, error) {
	return "", nil
}
func (stubLedger) Events(ctx context.Context) (<-chan ledger.Event, error) {
	ch := make(chan ledger.Event)
	close(ch)
	return ch, nil
}
func (stubLedger) ReadMultiSigApprovals(ctx context.Context, key common.Hash) (*ledger.MultiSigApprovals, error) {
	return nil, nil
}

func newTestIngestor() (*Ingestor, *storetest.Memory) {
	s := storetest.New()
	sm := saga.New(s)
	rp := recovery.New(s, recovery.Config{MaxRetries: 5, BackoffCapMinutes: 60})
	in := New(s, stubLedger{}, sm, rp)
	return in, s
}

func createdEvent(invoiceID uuid.UUID) ledger.Event {
	key := ids.EncodeInvoiceKey(invoiceID)
	return ledger.Event{
		Name:     EventEscrowCreated,
		TxHash:   "0xabc",
		LogIndex: 0,
		Args: map[string]string{
			"invoice_id": key.Hex(),
			"seller":     "0xseller",
			"buyer":      "0xbuyer",
			"amount":     "1000",
			"fee_amount": "5",
			"token":      "USDC",
		},
	}
}

func TestHandleCreatesMirrorRow(t *testing.T) {
	in, s := newTestIngestor()
	ctx := context.Background()

	invoiceID := uuid.New()
	ev := createdEvent(invoiceID)

	in.handle(ctx, ev)

	got, err := s.GetEscrow(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, model.EscrowCreated, got.Status)
	require.Equal(t, "0xseller", got.Seller)
}

func TestHandleIgnoresDuplicateIdentity(t *testing.T) {
	in, s := newTestIngestor()
	ctx := context.Background()

	invoiceID := uuid.New()
	ev := createdEvent(invoiceID)

	in.handle(ctx, ev)
	in.handle(ctx, ev)

	ids_, err := s.ListEscrowInvoiceIDs(ctx, store.Page{Limit: 10})
	require.NoError(t, err)
	require.Len(t, ids_, 1, "duplicate identity must not create a second mirror row")
}

func TestHandleStartsRecoverySagaOnApplyFailure(t *testing.T) {
	in, s := newTestIngestor()
	ctx := context.Background()

	invoiceID := uuid.New()
	key := ids.EncodeInvoiceKey(invoiceID)

	fundedEv := ledger.Event{
		Name:     EventEscrowFunded,
		TxHash:   "0xdef",
		LogIndex: 1,
		Args:     map[string]string{"invoice_id": key.Hex()},
	}

	in.handle(ctx, fundedEv)

	saga, err := s.GetSagaByIdempotencyKey(ctx, fundedEv.Identity())
	require.NoError(t, err)
	require.Equal(t, model.OpEventProcessing, saga.OperationType)
	require.Equal(t, model.SagaFailed, saga.CurrentState)

	entry, err := s.GetRecoveryEntry(ctx, saga.CorrelationID)
	require.NoError(t, err)
	require.Equal(t, model.OpEventProcessing, entry.OperationType)
}

func TestReexecuteReappliesPreviouslyFailedEvent(t *testing.T) {
	in, s := newTestIngestor()
	ctx := context.Background()

	invoiceID := uuid.New()
	createEv := createdEvent(invoiceID)

	key := ids.EncodeInvoiceKey(invoiceID)
	fundedEv := ledger.Event{
		Name:     EventEscrowFunded,
		TxHash:   "0xdef",
		LogIndex: 1,
		Args:     map[string]string{"invoice_id": key.Hex()},
	}

	in.handle(ctx, fundedEv)
	in.handle(ctx, createEv)

	saga, err := s.GetSagaByIdempotencyKey(ctx, fundedEv.Identity())
	require.NoError(t, err)
	entry, err := s.GetRecoveryEntry(ctx, saga.CorrelationID)
	require.NoError(t, err)

	steps, err := in.reexecute(ctx, saga, entry)
	require.NoError(t, err)
	require.Equal(t, []string{"APPLY"}, steps)

	got, err := s.GetEscrow(ctx, invoiceID)
	require.NoError(t, err)
	require.Equal(t, model.EscrowFunded, got.Status)
}
