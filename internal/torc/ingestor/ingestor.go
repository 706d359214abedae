// Package ingestor implements the Event Ingestor (§4.4): it consumes
// the external ledger's event stream and keeps the internal mirror
// fresh, falling back to a recovery saga when a mirror update fails.
package ingestor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/ids"
	"github.com/torcsys/torc/internal/torc/ledger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/recovery"
	"github.com/torcsys/torc/internal/torc/saga"
	"github.com/torcsys/torc/internal/torc/store"
)

// Event names the ledger is expected to emit for escrow lifecycle
// transitions. A production ledger binding may emit richer names; the
// applier table below is the single place that would grow to cover
// them.
const (
	EventEscrowCreated  = "EscrowCreated"
	EventEscrowFunded   = "EscrowFunded"
	EventEscrowReleased = "EscrowReleased"
	EventEscrowDisputed = "EscrowDisputed"
	EventEscrowExpired  = "EscrowExpired"
)

// Ingestor drives the event stream.
type Ingestor struct {
	store    store.Store
	ledger   ledger.Client
	sagas    *saga.Manager
	recovery *recovery.Pipeline
}

// New constructs an Ingestor and registers its recovery handler with
// the given pipeline.
func New(s store.Store, lc ledger.Client, sm *saga.Manager, rp *recovery.Pipeline) *Ingestor {
	in := &Ingestor{store: s, ledger: lc, sagas: sm, recovery: rp}
	if rp != nil {
		rp.RegisterHandler(model.OpEventProcessing, in.reexecute)
	}
	return in
}

// Run subscribes to the ledger's event stream and applies each event
// until ctx is cancelled or the stream closes.
func (in *Ingestor) Run(ctx context.Context) error {
	events, err := in.ledger.Events(ctx)
	if err != nil {
		return fmt.Errorf("subscribe to ledger events: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			in.handle(ctx, ev)
		}
	}
}

func (in *Ingestor) handle(ctx context.Context, ev ledger.Event) {
	identity := ev.Identity()

	var applied bool
	err := in.store.WithTx(ctx, func(tx store.Tx) error {
		firstSeen, err := tx.MarkEventProcessed(ctx, identity)
		if err != nil {
			return fmt.Errorf("mark event processed: %w", err)
		}
		if !firstSeen {
			return nil
		}
		applied = true
		return applyEvent(ctx, tx, ev)
	})

	if err == nil {
		if applied {
			logger.Info("ledger event applied", logger.Fields{"event": ev.Name, "identity": identity})
		}
		return
	}

	logger.Warn("ledger event mirror update failed, starting recovery saga", logger.Fields{"event": ev.Name, "identity": identity, "error": err.Error()})
	in.startRecoverySaga(ctx, ev, identity, err)
}

func (in *Ingestor) startRecoverySaga(ctx context.Context, ev ledger.Event, identity string, applyErr error) {
	payload, _ := json.Marshal(ev)
	correlationID, err := in.sagas.Begin(ctx, model.OpEventProcessing, "ledger_event", identity, []string{"APPLY"}, payload, "event-ingestor", identity)
	if err != nil {
		logger.Error("failed to begin event_processing saga", err, logger.Fields{"identity": identity})
		return
	}
	if err := in.sagas.Advance(ctx, correlationID, saga.AdvanceInput{NewState: model.SagaProcessing}); err != nil {
		logger.Error("failed to mark event_processing saga processing", err, logger.Fields{"identity": identity})
	}
	if err := in.sagas.Advance(ctx, correlationID, saga.AdvanceInput{NewState: model.SagaFailed}); err != nil {
		logger.Error("failed to mark event_processing saga failed", err, logger.Fields{"identity": identity})
	}
	if err := in.recovery.Enqueue(ctx, correlationID, model.OpEventProcessing, payload, 0, applyErr.Error()); err != nil {
		logger.Error("failed to enqueue event_processing recovery", err, logger.Fields{"identity": identity})
	}
}

// reexecute is the Recovery Pipeline's registered handler for
// operation_type=event_processing: it re-runs the mirror update for
// the event carried in the saga/recovery payload. Idempotent because
// applyEvent only ever sets mirror fields to the event's values.
func (in *Ingestor) reexecute(ctx context.Context, s *model.Saga, entry *model.RecoveryEntry) ([]string, error) {
	var ev ledger.Event
	if err := json.Unmarshal(entry.OperationData, &ev); err != nil {
		return nil, fmt.Errorf("decode event_processing recovery payload: %w", err)
	}

	err := in.store.WithTx(ctx, func(tx store.Tx) error {
		return applyEvent(ctx, tx, ev)
	})
	if err != nil {
		return s.StepsCompleted, err
	}
	return []string{"APPLY"}, nil
}

// applyEvent maps one ledger event onto the escrow mirror. Missing
// mirror rows are created on EscrowCreated; for any other event a
// missing row is returned as an error, which handle turns into an
// event_processing recovery saga.
func applyEvent(ctx context.Context, tx store.Tx, ev ledger.Event) error {
	invoiceID, err := ids.DecodeInvoiceKeyHex(ev.Args["invoice_id"])
	if err != nil {
		return fmt.Errorf("decode invoice_id from event args: %w", err)
	}

	switch ev.Name {
	case EventEscrowCreated:
		amount, _ := decimal.NewFromString(ev.Args["amount"])
		fee, _ := decimal.NewFromString(ev.Args["fee_amount"])
		e := &model.Escrow{
			InvoiceID: invoiceID,
			Seller:    ev.Args["seller"],
			Buyer:     ev.Args["buyer"],
			Amount:    amount,
			Token:     ev.Args["token"],
			Status:    model.EscrowCreated,
			FeeAmount: fee,
			CreatedAt: time.Now(),
		}
		return tx.InsertEscrow(ctx, e)

	case EventEscrowFunded:
		return updateStatus(ctx, tx, invoiceID, model.EscrowFunded)
	case EventEscrowReleased:
		return updateStatus(ctx, tx, invoiceID, model.EscrowReleased)
	case EventEscrowDisputed:
		return updateStatus(ctx, tx, invoiceID, model.EscrowDisputed)
	case EventEscrowExpired:
		return updateStatus(ctx, tx, invoiceID, model.EscrowExpired)
	default:
		return fmt.Errorf("unrecognized ledger event name %q", ev.Name)
	}
}

// updateStatus loads the mirror row under lock and advances its
// status. Used for every lifecycle event after EscrowCreated.
func updateStatus(ctx context.Context, tx store.Tx, invoiceID uuid.UUID, status model.EscrowStatus) error {
	e, err := tx.GetEscrowForUpdate(ctx, invoiceID)
	if err != nil {
		return fmt.Errorf("load escrow %s for mirror update: %w", invoiceID, err)
	}
	e.Status = status
	e.UpdatedAt = time.Now()
	return tx.UpdateEscrow(ctx, e)
}
