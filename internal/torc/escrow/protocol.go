// Package escrow implements the Escrow Protocol (§4.3): the state
// machine each saga drives across funding, confirmation, multi-sig
// approval, dispute voting, expiry, and release.
package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appErrors "github.com/torcsys/torc/internal/shared/errors"
	sharedevents "github.com/torcsys/torc/internal/shared/events"
	"github.com/torcsys/torc/internal/pkg/logger"
	torcevents "github.com/torcsys/torc/internal/torc/events"
	"github.com/torcsys/torc/internal/torc/ids"
	"github.com/torcsys/torc/internal/torc/ledger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/recovery"
	"github.com/torcsys/torc/internal/torc/saga"
	"github.com/torcsys/torc/internal/torc/store"
)

// ReleaseSteps is the fixed step list S1 expects of a release saga.
var ReleaseSteps = []string{"BLOCKCHAIN_TX", "DB_UPDATE", "AUDIT_LOG"}

// Config carries the fee/quorum parameters that bound escrow creation
// and dispute resolution.
type Config struct {
	FeeBasisPoints   int
	QuorumPercentage int
}

// MinimumAmount is the smallest principal whose basis-point fee is
// strictly positive: ceil(10000 / fee_bps).
func (c Config) MinimumAmount() decimal.Decimal {
	if c.FeeBasisPoints <= 0 {
		return decimal.Zero
	}
	num := decimal.NewFromInt(10000)
	den := decimal.NewFromInt(int64(c.FeeBasisPoints))
	q := num.Div(den)
	ceil := q.Ceil()
	return ceil
}

// Protocol is the Escrow Protocol.
type Protocol struct {
	store     store.Store
	ledger    ledger.Client
	sagas     *saga.Manager
	recovery  *recovery.Pipeline
	publisher sharedevents.Publisher
	cfg       Config
}

// New constructs a Protocol and registers its recovery handler with
// the given pipeline.
func New(s store.Store, lc ledger.Client, sm *saga.Manager, rp *recovery.Pipeline, pub sharedevents.Publisher, cfg Config) *Protocol {
	p := &Protocol{store: s, ledger: lc, sagas: sm, recovery: rp, publisher: pub, cfg: cfg}
	if rp != nil {
		rp.RegisterHandler(model.OpEscrowRelease, p.reexecuteRelease)
	}
	return p
}

// releaseData is the opaque saga/recovery payload carried across a
// release operation's retries.
type releaseData struct {
	InvoiceID  uuid.UUID `json:"invoice_id"`
	SellerWins bool      `json:"seller_wins"`
}

func (d releaseData) marshal() model.Context {
	b, _ := json.Marshal(d)
	return b
}

// CreateInput carries the parameters of a new escrow.
type CreateInput struct {
	InvoiceID        uuid.UUID
	Seller           string
	Buyer            string
	Amount           decimal.Decimal
	Token            string
	Duration         time.Duration
	RWANFTContract   string
	RWATokenID       string
	DiscountBps      int32
	DiscountDeadline *time.Time
	Actor            string
}

// Create opens a new escrow. Admin-only by convention of the caller;
// this package does not re-check the actor's role.
func (p *Protocol) Create(ctx context.Context, in CreateInput) (*model.Escrow, error) {
	if _, err := p.store.GetEscrow(ctx, in.InvoiceID); err == nil {
		return nil, appErrors.Validation(fmt.Sprintf("escrow already exists for invoice %s", in.InvoiceID))
	} else if err != store.ErrNotFound {
		return nil, fmt.Errorf("check existing escrow: %w", err)
	}

	if in.Amount.LessThan(p.cfg.MinimumAmount()) {
		return nil, appErrors.Validation(fmt.Sprintf("amount %s below minimum %s for fee_bps=%d", in.Amount, p.cfg.MinimumAmount(), p.cfg.FeeBasisPoints))
	}

	feeAmount := in.Amount.Mul(decimal.NewFromInt(int64(p.cfg.FeeBasisPoints))).Div(decimal.NewFromInt(10000)).Floor()
	if feeAmount.IsZero() {
		return nil, appErrors.Validation("computed fee_amount is zero")
	}

	key := ids.EncodeInvoiceKey(in.InvoiceID)
	createPayload := map[string]string{
		"key":      key.Hex(),
		"seller":   in.Seller,
		"buyer":    in.Buyer,
		"amount":   in.Amount.String(),
		"token":    in.Token,
		"duration": in.Duration.String(),
	}
	if in.RWANFTContract != "" {
		createPayload["rwa_nft_contract"] = in.RWANFTContract
		createPayload["rwa_token_id"] = in.RWATokenID
	}
	_, err := p.ledger.Submit(ctx, ledger.OpCreateEscrow, createPayload)
	if err != nil {
		return nil, fmt.Errorf("submit create_escrow: %w", err)
	}

	now := time.Now()
	e := &model.Escrow{
		InvoiceID:        in.InvoiceID,
		Seller:           in.Seller,
		Buyer:            in.Buyer,
		Amount:           in.Amount,
		Token:            in.Token,
		Status:           model.EscrowCreated,
		CreatedAt:        now,
		ExpiresAt:        now.Add(in.Duration),
		RWANFTContract:   in.RWANFTContract,
		RWATokenID:       in.RWATokenID,
		FeeAmount:        feeAmount,
		DiscountBps:      in.DiscountBps,
		DiscountDeadline: in.DiscountDeadline,
	}
	if err := p.store.InsertEscrow(ctx, e); err != nil {
		return nil, fmt.Errorf("insert escrow mirror: %w", err)
	}

	logger.Info("escrow created", logger.Fields{"invoice_id": in.InvoiceID.String(), "amount": in.Amount.String()})
	return e, nil
}

// Deposit funds a Created escrow. Buyer-only.
func (p *Protocol) Deposit(ctx context.Context, invoiceID uuid.UUID, buyer string) error {
	return p.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load escrow: %w", err)
		}
		if e.Buyer != buyer {
			return appErrors.Validation("only the recorded buyer may deposit")
		}
		if e.Status != model.EscrowCreated {
			return appErrors.StateMachineViolation(fmt.Sprintf("deposit requires status=created, got %s", e.Status))
		}
		now := time.Now()
		if now.After(e.ExpiresAt) {
			return appErrors.StateMachineViolation("escrow has expired")
		}

		payable := e.Amount
		if e.DiscountActive(now) {
			discount := e.Amount.Mul(decimal.NewFromInt(int64(e.DiscountBps))).Div(decimal.NewFromInt(10000)).Floor()
			payable = e.Amount.Sub(discount)
		}

		key := ids.EncodeInvoiceKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpDeposit, map[string]string{"key": key.Hex(), "amount": payable.String()}); err != nil {
			return fmt.Errorf("submit deposit: %w", err)
		}

		e.Amount = payable
		e.Status = model.EscrowFunded
		e.UpdatedAt = now
		if err := tx.UpdateEscrow(ctx, e); err != nil {
			return fmt.Errorf("update escrow mirror: %w", err)
		}
		return nil
	})
}

// ConfirmRelease records caller's confirmation and, once both parties
// have confirmed, releases the escrow to the seller.
func (p *Protocol) ConfirmRelease(ctx context.Context, invoiceID uuid.UUID, caller string) error {
	var shouldRelease bool
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load escrow: %w", err)
		}
		if e.Status != model.EscrowFunded {
			return appErrors.StateMachineViolation(fmt.Sprintf("confirmRelease requires status=funded, got %s", e.Status))
		}
		if caller != e.Seller && caller != e.Buyer {
			return appErrors.Validation("caller is not a party to this escrow")
		}

		if caller == e.Seller {
			e.SellerConfirmed = true
		}
		if caller == e.Buyer {
			e.BuyerConfirmed = true
		}
		if time.Now().After(e.ExpiresAt) && !(e.SellerConfirmed && e.BuyerConfirmed) {
			e.Status = model.EscrowExpired
		}
		e.UpdatedAt = time.Now()
		if err := tx.UpdateEscrow(ctx, e); err != nil {
			return fmt.Errorf("update escrow mirror: %w", err)
		}

		shouldRelease = e.SellerConfirmed && e.BuyerConfirmed
		return nil
	})
	if err != nil {
		return err
	}
	if shouldRelease {
		return p.release(ctx, invoiceID, true)
	}
	return nil
}

// AddApproval records a multi-sig approver; release fires automatically
// once the approval count meets the threshold.
func (p *Protocol) AddApproval(ctx context.Context, invoiceID uuid.UUID, approver string, required int) error {
	var shouldRelease, added bool
	var approvals, threshold int
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load escrow: %w", err)
		}
		if e.Status != model.EscrowFunded {
			return appErrors.StateMachineViolation(fmt.Sprintf("approval requires status=funded, got %s", e.Status))
		}

		m, err := tx.GetMultiSigApproval(ctx, invoiceID)
		if err == store.ErrNotFound {
			m = &model.MultiSigApproval{InvoiceID: invoiceID, Required: required}
		} else if err != nil {
			return fmt.Errorf("load multisig approval: %w", err)
		}
		if m.HasApproved(approver) {
			return nil
		}
		m.Approvers = append(m.Approvers, approver)
		if err := tx.UpsertMultiSigApproval(ctx, m); err != nil {
			return fmt.Errorf("upsert multisig approval: %w", err)
		}

		added = true
		approvals, threshold = len(m.Approvers), m.Required
		shouldRelease = m.Satisfied()
		return nil
	})
	if err != nil {
		return err
	}
	if added && p.publisher != nil {
		_ = p.publisher.Publish(ctx, torcevents.NewEscrowApprovalAddedEvent(invoiceID, approver, approvals, threshold))
	}
	if shouldRelease {
		return p.release(ctx, invoiceID, true)
	}
	return nil
}

// ReclaimExpiredFunds returns funds (and any NFT) once an escrow has
// passed its expiry without completing release. Buyer-only.
func (p *Protocol) ReclaimExpiredFunds(ctx context.Context, invoiceID uuid.UUID, buyer string) error {
	return p.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load escrow: %w", err)
		}
		if e.Buyer != buyer {
			return appErrors.Validation("only the recorded buyer may reclaim")
		}
		if e.Status != model.EscrowFunded && e.Status != model.EscrowExpired {
			return appErrors.StateMachineViolation(fmt.Sprintf("reclaim requires status in {funded, expired}, got %s", e.Status))
		}
		if !time.Now().After(e.ExpiresAt) {
			return appErrors.StateMachineViolation("escrow has not expired")
		}

		key := ids.EncodeInvoiceKey(invoiceID)
		reclaimPayload := map[string]string{"key": key.Hex()}
		if e.RWANFTContract != "" {
			reclaimPayload["rwa_nft_contract"] = e.RWANFTContract
			reclaimPayload["rwa_token_id"] = e.RWATokenID
		}
		if _, err := p.ledger.Submit(ctx, ledger.OpReclaimExpired, reclaimPayload); err != nil {
			return fmt.Errorf("submit reclaim: %w", err)
		}

		e.Status = model.EscrowExpired
		e.UpdatedAt = time.Now()
		return tx.UpdateEscrow(ctx, e)
	})
}

// RaiseDispute moves a funded escrow into dispute, snapshotting the
// current arbitrator count.
func (p *Protocol) RaiseDispute(ctx context.Context, invoiceID uuid.UUID, caller string, arbitratorCount int) error {
	if arbitratorCount <= 0 {
		return appErrors.Validation("no arbitrators registered")
	}
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		e, err := tx.GetEscrowForUpdate(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load escrow: %w", err)
		}
		if e.Status != model.EscrowFunded {
			return appErrors.StateMachineViolation(fmt.Sprintf("raiseDispute requires status=funded, got %s", e.Status))
		}
		if caller != e.Seller && caller != e.Buyer {
			return appErrors.Validation("caller is not a party to this escrow")
		}

		key := ids.EncodeInvoiceKey(invoiceID)
		if _, err := p.ledger.Submit(ctx, ledger.OpRaiseDispute, map[string]string{"key": key.Hex()}); err != nil {
			return fmt.Errorf("submit raise_dispute: %w", err)
		}

		e.Status = model.EscrowDisputed
		e.DisputeRaised = true
		e.UpdatedAt = time.Now()
		if err := tx.UpdateEscrow(ctx, e); err != nil {
			return fmt.Errorf("update escrow mirror: %w", err)
		}

		dv := &model.DisputeVote{
			InvoiceID:               invoiceID,
			SnapshotArbitratorCount: arbitratorCount,
			Voters:                  map[string]bool{},
			CreatedAt:               time.Now(),
		}
		if err := tx.UpsertDisputeVote(ctx, dv); err != nil {
			return fmt.Errorf("init dispute vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if p.publisher != nil {
		_ = p.publisher.Publish(ctx, torcevents.NewEscrowDisputeEvent(invoiceID, true, false))
	}
	return nil
}

// VoteOnDispute records one arbitrator's vote, one vote each, and
// resolves the dispute once quorum is reached. It does not check that
// arbitrator is registered: any caller-supplied name is accepted.
func (p *Protocol) VoteOnDispute(ctx context.Context, invoiceID uuid.UUID, arbitrator string, voteForBuyer bool, liveArbitratorCount int) error {
	var resolved bool
	var sellerWins bool
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		dv, err := tx.GetDisputeVote(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load dispute vote: %w", err)
		}
		if dv.Resolved {
			return appErrors.StateMachineViolation("dispute already resolved")
		}
		if dv.HasVoted(arbitrator) {
			return appErrors.Validation("arbitrator already voted")
		}

		if liveArbitratorCount < dv.SnapshotArbitratorCount {
			dv.SnapshotArbitratorCount = liveArbitratorCount
		}
		dv.Voters[arbitrator] = true
		if voteForBuyer {
			dv.VotesForBuyer++
		} else {
			dv.VotesForSeller++
		}

		quorum := dv.Quorum(p.cfg.QuorumPercentage)
		if dv.VotesForBuyer+dv.VotesForSeller >= quorum {
			dv.Resolved = true
			now := time.Now()
			dv.ResolvedAt = &now
			sellerWins = dv.VotesForSeller > dv.VotesForBuyer
			resolved = true
		}
		if err := tx.UpsertDisputeVote(ctx, dv); err != nil {
			return fmt.Errorf("update dispute vote: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if resolved {
		if p.publisher != nil {
			_ = p.publisher.Publish(ctx, torcevents.NewEscrowDisputeEvent(invoiceID, true, true))
		}
		return p.release(ctx, invoiceID, sellerWins)
	}
	return nil
}

// SafeEscape is the admin-only escape hatch for a dispute whose quorum
// has become unreachable. The quorum is computed from the stored
// SnapshotArbitratorCount, which VoteOnDispute lowers to the live count
// on each vote, so it is the count as of the last vote rather than the
// count recorded by RaiseDispute.
func (p *Protocol) SafeEscape(ctx context.Context, invoiceID uuid.UUID, sellerWins bool, liveArbitratorCount int) error {
	err := p.store.WithTx(ctx, func(tx store.Tx) error {
		dv, err := tx.GetDisputeVote(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("load dispute vote: %w", err)
		}
		if dv.Resolved {
			return appErrors.StateMachineViolation("dispute already resolved")
		}

		quorumRequired := model.QuorumThreshold(dv.SnapshotArbitratorCount, p.cfg.QuorumPercentage)
		if liveArbitratorCount >= quorumRequired {
			return appErrors.StateMachineViolation("quorum is still reachable; safeEscape is not permitted")
		}

		dv.Resolved = true
		now := time.Now()
		dv.ResolvedAt = &now
		return tx.UpsertDisputeVote(ctx, dv)
	})
	if err != nil {
		return err
	}
	if p.publisher != nil {
		_ = p.publisher.Publish(ctx, torcevents.NewEscrowDisputeEvent(invoiceID, true, true))
	}
	return p.release(ctx, invoiceID, sellerWins)
}

// release drives the escrow_release saga: submit the ledger
// transaction, update the mirror, publish, and complete. Failures at
// any step hand off to the Recovery Pipeline instead of propagating a
// half-applied state.
func (p *Protocol) release(ctx context.Context, invoiceID uuid.UUID, sellerWins bool) error {
	data := releaseData{InvoiceID: invoiceID, SellerWins: sellerWins}

	correlationID, err := p.sagas.Begin(ctx, model.OpEscrowRelease, "escrow", invoiceID.String(), ReleaseSteps, data.marshal(), "system", "")
	if err != nil {
		return fmt.Errorf("begin release saga: %w", err)
	}
	if err := p.sagas.Advance(ctx, correlationID, saga.AdvanceInput{NewState: model.SagaProcessing}); err != nil {
		return fmt.Errorf("advance release saga to processing: %w", err)
	}

	s, err := p.sagas.Read(ctx, correlationID)
	if err != nil {
		return fmt.Errorf("read release saga: %w", err)
	}

	stepsCompleted, releaseErr := p.runReleaseSteps(ctx, s, data)
	if releaseErr != nil {
		if failErr := p.sagas.Advance(ctx, correlationID, saga.AdvanceInput{NewState: model.SagaFailed, StepsCompleted: stepsCompleted}); failErr != nil {
			logger.Error("failed to mark release saga failed", failErr, logger.Fields{"correlation_id": correlationID.String()})
		}
		if enqueueErr := p.recovery.Enqueue(ctx, correlationID, model.OpEscrowRelease, data.marshal(), 0, releaseErr.Error()); enqueueErr != nil {
			logger.Error("failed to enqueue release for retry", enqueueErr, logger.Fields{"correlation_id": correlationID.String()})
		}
		return fmt.Errorf("release escrow: %w", releaseErr)
	}

	return p.sagas.Advance(ctx, correlationID, saga.AdvanceInput{
		NewState:       model.SagaCompleted,
		StepsCompleted: stepsCompleted,
		StepsRemaining: []string{},
	})
}

// runReleaseSteps executes whichever release steps are not already in
// s.StepsCompleted, returning the updated list. Used both by the
// synchronous release() path and by the recovery re-execution handler.
func (p *Protocol) runReleaseSteps(ctx context.Context, s *model.Saga, data releaseData) ([]string, error) {
	completed := append([]string{}, s.StepsCompleted...)
	key := ids.EncodeInvoiceKey(data.InvoiceID)

	e, err := p.store.GetEscrow(ctx, data.InvoiceID)
	if err != nil {
		return completed, fmt.Errorf("load escrow for release: %w", err)
	}

	if !s.HasCompletedStep("BLOCKCHAIN_TX") {
		releasePayload := map[string]string{
			"key":         key.Hex(),
			"seller_wins": boolString(data.SellerWins),
		}
		if e.RWANFTContract != "" {
			releasePayload["rwa_nft_contract"] = e.RWANFTContract
			releasePayload["rwa_token_id"] = e.RWATokenID
		}
		if _, err := p.ledger.Submit(ctx, ledger.OpConfirmRelease, releasePayload); err != nil {
			return completed, fmt.Errorf("submit release: %w", err)
		}
		completed = append(completed, "BLOCKCHAIN_TX")
	}

	if !contains(completed, "DB_UPDATE") {
		e.Status = model.EscrowReleased
		e.UpdatedAt = time.Now()
		if err := p.store.UpdateEscrow(ctx, e); err != nil {
			return completed, appErrors.StoreContention("update escrow mirror on release", err)
		}
		completed = append(completed, "DB_UPDATE")

		if p.publisher != nil {
			_ = p.publisher.Publish(ctx, torcevents.NewEscrowReleasedEvent(data.InvoiceID, !data.SellerWins, e.Amount, e.FeeAmount, ""))
		}
	}

	if !contains(completed, "AUDIT_LOG") {
		logger.Info("escrow released", logger.Fields{
			"invoice_id":  data.InvoiceID.String(),
			"seller_wins": data.SellerWins,
		})
		completed = append(completed, "AUDIT_LOG")
	}

	return completed, nil
}

// reexecuteRelease is the Recovery Pipeline's registered handler for
// operation_type=escrow_release.
func (p *Protocol) reexecuteRelease(ctx context.Context, s *model.Saga, entry *model.RecoveryEntry) ([]string, error) {
	var data releaseData
	if err := json.Unmarshal(entry.OperationData, &data); err != nil {
		return nil, fmt.Errorf("decode release recovery payload: %w", err)
	}
	return p.runReleaseSteps(ctx, s, data)
}

func contains(xs []string, v string) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
