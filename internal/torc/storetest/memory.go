// Package storetest provides an in-memory store.Store used by the
// other torc packages' tests, so each subsystem can be tested without a
// real Postgres connection.
package storetest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

// Memory is an in-memory store.Store. It is not safe for truly
// concurrent transactional semantics (WithTx simply holds a single
// mutex for its duration) but that is sufficient to exercise the
// core's logic in tests.
type Memory struct {
	mu sync.Mutex

	sagas        map[uuid.UUID]*model.Saga
	idempotency  map[string]uuid.UUID
	recovery     map[uuid.UUID]*model.RecoveryEntry
	dlq          map[uuid.UUID]*model.DLQEntry
	compActions  map[uuid.UUID][]*model.CompensationAction
	escrows      map[uuid.UUID]*model.Escrow
	multisig     map[uuid.UUID]*model.MultiSigApproval
	disputes     map[uuid.UUID]*model.DisputeVote
	summaries    map[uuid.UUID]*model.ReconciliationSummary
	logs         []*model.ReconciliationLog
	healthMetrics []*model.HealthMetric
	processedEvents map[string]bool
}

// New constructs an empty in-memory store.
func New() *Memory {
	return &Memory{
		sagas:       map[uuid.UUID]*model.Saga{},
		idempotency: map[string]uuid.UUID{},
		recovery:    map[uuid.UUID]*model.RecoveryEntry{},
		dlq:         map[uuid.UUID]*model.DLQEntry{},
		compActions: map[uuid.UUID][]*model.CompensationAction{},
		escrows:     map[uuid.UUID]*model.Escrow{},
		multisig:    map[uuid.UUID]*model.MultiSigApproval{},
		disputes:    map[uuid.UUID]*model.DisputeVote{},
		summaries:   map[uuid.UUID]*model.ReconciliationSummary{},
		processedEvents: map[string]bool{},
	}
}

// MarkEventProcessed records identity as seen, reporting whether this
// call was the first to do so.
func (m *Memory) MarkEventProcessed(ctx context.Context, identity string) (bool, error) {
	if m.processedEvents[identity] {
		return false, nil
	}
	m.processedEvents[identity] = true
	return true, nil
}

// WithTx runs fn holding the store's single mutex for the duration,
// modeling the row-lock serialization the real Store provides.
func (m *Memory) WithTx(ctx context.Context, fn func(tx store.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(m)
}

func cloneSaga(s *model.Saga) *model.Saga {
	cp := *s
	cp.StepsCompleted = append([]string(nil), s.StepsCompleted...)
	cp.StepsRemaining = append([]string(nil), s.StepsRemaining...)
	return &cp
}

func (m *Memory) InsertSaga(ctx context.Context, s *model.Saga) error {
	if s.IdempotencyKey != "" {
		if _, ok := m.idempotency[s.IdempotencyKey]; ok {
			return store.ErrNotFound // reuse handled by caller via GetSagaByIdempotencyKey first
		}
	}
	now := time.Now()
	s.CreatedAt, s.UpdatedAt = now, now
	m.sagas[s.CorrelationID] = cloneSaga(s)
	if s.IdempotencyKey != "" {
		m.idempotency[s.IdempotencyKey] = s.CorrelationID
	}
	return nil
}

func (m *Memory) GetSaga(ctx context.Context, correlationID uuid.UUID) (*model.Saga, error) {
	s, ok := m.sagas[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSaga(s), nil
}

func (m *Memory) GetSagaByIdempotencyKey(ctx context.Context, key string) (*model.Saga, error) {
	id, ok := m.idempotency[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return m.GetSaga(ctx, id)
}

func (m *Memory) UpdateSaga(ctx context.Context, s *model.Saga) error {
	if _, ok := m.sagas[s.CorrelationID]; !ok {
		return store.ErrNotFound
	}
	s.UpdatedAt = time.Now()
	m.sagas[s.CorrelationID] = cloneSaga(s)
	return nil
}

func (m *Memory) ListStuckSagas(ctx context.Context, olderThan time.Time) ([]*model.Saga, error) {
	var out []*model.Saga
	for _, s := range m.sagas {
		if (s.CurrentState == model.SagaProcessing || s.CurrentState == model.SagaCompensating) && s.UpdatedAt.Before(olderThan) {
			out = append(out, cloneSaga(s))
		}
	}
	return out, nil
}

func (m *Memory) CountSagasByState(ctx context.Context, state model.SagaState) (int, error) {
	n := 0
	for _, s := range m.sagas {
		if s.CurrentState == state {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AverageCompletedSagaDuration(ctx context.Context) (time.Duration, error) {
	var total time.Duration
	n := 0
	for _, s := range m.sagas {
		if s.CurrentState == model.SagaCompleted && s.CompletedAt != nil {
			total += s.CompletedAt.Sub(s.CreatedAt)
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return total / time.Duration(n), nil
}

func (m *Memory) UpsertRecoveryEntry(ctx context.Context, e *model.RecoveryEntry) error {
	now := time.Now()
	if existing, ok := m.recovery[e.CorrelationID]; ok {
		e.CreatedAt = existing.CreatedAt
	} else {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	cp := *e
	m.recovery[e.CorrelationID] = &cp
	return nil
}

func (m *Memory) DeleteRecoveryEntry(ctx context.Context, correlationID uuid.UUID) error {
	delete(m.recovery, correlationID)
	return nil
}

func (m *Memory) ClaimDueRecoveryEntries(ctx context.Context, now time.Time, limit int) ([]*model.RecoveryEntry, error) {
	var out []*model.RecoveryEntry
	for _, e := range m.recovery {
		if e.Status == model.RecoveryPending && !e.NextRetryAt.After(now) {
			e.Status = model.RecoveryProcessing
			cp := *e
			out = append(out, &cp)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) GetRecoveryEntry(ctx context.Context, correlationID uuid.UUID) (*model.RecoveryEntry, error) {
	e, ok := m.recovery[correlationID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) InsertDLQEntry(ctx context.Context, d *model.DLQEntry) error {
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	d.CreatedAt = time.Now()
	cp := *d
	m.dlq[d.ID] = &cp
	return nil
}

func (m *Memory) ListDLQEntries(ctx context.Context, p store.Page) ([]*model.DLQEntry, error) {
	var out []*model.DLQEntry
	for _, d := range m.dlq {
		cp := *d
		out = append(out, &cp)
	}
	return paginateDLQ(out, p), nil
}

func paginateDLQ(all []*model.DLQEntry, p store.Page) []*model.DLQEntry {
	if p.Offset >= len(all) {
		return nil
	}
	end := len(all)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return all[p.Offset:end]
}

func (m *Memory) CountDLQEntries(ctx context.Context) (int, error) {
	n := 0
	for _, d := range m.dlq {
		if d.ResolvedAt == nil {
			n++
		}
	}
	return n, nil
}

func (m *Memory) CountPendingRecoveryEntries(ctx context.Context) (int, error) {
	n := 0
	for _, e := range m.recovery {
		if e.Status == model.RecoveryPending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) AveragePendingRetryCount(ctx context.Context) (float64, error) {
	total := 0
	n := 0
	for _, e := range m.recovery {
		if e.Status == model.RecoveryPending {
			total += e.RetryCount
			n++
		}
	}
	if n == 0 {
		return 0, nil
	}
	return float64(total) / float64(n), nil
}

func (m *Memory) ResolveDLQEntry(ctx context.Context, id uuid.UUID, resolvedBy, notes string) error {
	d, ok := m.dlq[id]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	d.ResolvedAt = &now
	d.ResolvedBy = resolvedBy
	d.ResolutionNotes = notes
	return nil
}

func (m *Memory) InsertCompensationAction(ctx context.Context, c *model.CompensationAction) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	c.CreatedAt = time.Now()
	cp := *c
	m.compActions[c.CorrelationID] = append(m.compActions[c.CorrelationID], &cp)
	return nil
}

func (m *Memory) GetCompensationAction(ctx context.Context, correlationID uuid.UUID) (*model.CompensationAction, error) {
	list := m.compActions[correlationID]
	if len(list) == 0 {
		return nil, store.ErrNotFound
	}
	cp := *list[len(list)-1]
	return &cp, nil
}

func (m *Memory) UpdateCompensationAction(ctx context.Context, c *model.CompensationAction) error {
	list := m.compActions[c.CorrelationID]
	for idx, existing := range list {
		if existing.ID == c.ID {
			cp := *c
			list[idx] = &cp
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *Memory) InsertEscrow(ctx context.Context, e *model.Escrow) error {
	if _, ok := m.escrows[e.InvoiceID]; ok {
		return store.ErrNotFound // duplicate; caller checks existence first
	}
	now := time.Now()
	e.CreatedAt, e.UpdatedAt = now, now
	cp := *e
	m.escrows[e.InvoiceID] = &cp
	return nil
}

func (m *Memory) GetEscrowForUpdate(ctx context.Context, invoiceID uuid.UUID) (*model.Escrow, error) {
	return m.GetEscrow(ctx, invoiceID)
}

func (m *Memory) GetEscrow(ctx context.Context, invoiceID uuid.UUID) (*model.Escrow, error) {
	e, ok := m.escrows[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (m *Memory) UpdateEscrow(ctx context.Context, e *model.Escrow) error {
	if _, ok := m.escrows[e.InvoiceID]; !ok {
		return store.ErrNotFound
	}
	e.UpdatedAt = time.Now()
	cp := *e
	m.escrows[e.InvoiceID] = &cp
	return nil
}

func (m *Memory) ListEscrowInvoiceIDs(ctx context.Context, p store.Page) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range m.escrows {
		ids = append(ids, id)
	}
	if p.Offset >= len(ids) {
		return nil, nil
	}
	end := len(ids)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return ids[p.Offset:end], nil
}

func (m *Memory) GetMultiSigApproval(ctx context.Context, invoiceID uuid.UUID) (*model.MultiSigApproval, error) {
	a, ok := m.multisig[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	cp.Approvers = append([]string(nil), a.Approvers...)
	return &cp, nil
}

func (m *Memory) UpsertMultiSigApproval(ctx context.Context, a *model.MultiSigApproval) error {
	cp := *a
	cp.Approvers = append([]string(nil), a.Approvers...)
	m.multisig[a.InvoiceID] = &cp
	return nil
}

func (m *Memory) GetDisputeVote(ctx context.Context, invoiceID uuid.UUID) (*model.DisputeVote, error) {
	d, ok := m.disputes[invoiceID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *d
	cp.Voters = cloneVoters(d.Voters)
	return &cp, nil
}

func (m *Memory) UpsertDisputeVote(ctx context.Context, d *model.DisputeVote) error {
	cp := *d
	cp.Voters = cloneVoters(d.Voters)
	m.disputes[d.InvoiceID] = &cp
	return nil
}

func cloneVoters(v map[string]bool) map[string]bool {
	out := make(map[string]bool, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func (m *Memory) InsertReconciliationSummary(ctx context.Context, s *model.ReconciliationSummary) error {
	cp := *s
	m.summaries[s.RunID] = &cp
	return nil
}

func (m *Memory) UpdateReconciliationSummary(ctx context.Context, s *model.ReconciliationSummary) error {
	if _, ok := m.summaries[s.RunID]; !ok {
		return store.ErrNotFound
	}
	cp := *s
	m.summaries[s.RunID] = &cp
	return nil
}

func (m *Memory) GetReconciliationSummary(ctx context.Context, runID uuid.UUID) (*model.ReconciliationSummary, error) {
	s, ok := m.summaries[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) LatestReconciliationSummary(ctx context.Context) (*model.ReconciliationSummary, error) {
	var latest *model.ReconciliationSummary
	for _, s := range m.summaries {
		if latest == nil || s.StartedAt.After(latest.StartedAt) {
			latest = s
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (m *Memory) ListReconciliationSummaries(ctx context.Context, p store.Page) ([]*model.ReconciliationSummary, error) {
	var all []*model.ReconciliationSummary
	for _, s := range m.summaries {
		cp := *s
		all = append(all, &cp)
	}
	if p.Offset >= len(all) {
		return nil, nil
	}
	end := len(all)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return all[p.Offset:end], nil
}

func (m *Memory) InsertReconciliationLog(ctx context.Context, l *model.ReconciliationLog) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	l.CreatedAt = time.Now()
	cp := *l
	m.logs = append(m.logs, &cp)
	return nil
}

func (m *Memory) ListReconciliationLogs(ctx context.Context, discrepancyType *model.DiscrepancyType, p store.Page) ([]*model.ReconciliationLog, error) {
	var filtered []*model.ReconciliationLog
	for _, l := range m.logs {
		if discrepancyType != nil && l.DiscrepancyType != *discrepancyType {
			continue
		}
		cp := *l
		filtered = append(filtered, &cp)
	}
	if p.Offset >= len(filtered) {
		return nil, nil
	}
	end := len(filtered)
	if p.Limit > 0 && p.Offset+p.Limit < end {
		end = p.Offset + p.Limit
	}
	return filtered[p.Offset:end], nil
}

func (m *Memory) InsertHealthMetric(ctx context.Context, hm *model.HealthMetric) error {
	if hm.ID == uuid.Nil {
		hm.ID = uuid.New()
	}
	hm.RecordedAt = time.Now()
	cp := *hm
	m.healthMetrics = append(m.healthMetrics, &cp)
	return nil
}

func (m *Memory) LatestHealthMetrics(ctx context.Context) ([]*model.HealthMetric, error) {
	latest := map[model.MetricType]*model.HealthMetric{}
	for _, hm := range m.healthMetrics {
		if cur, ok := latest[hm.MetricType]; !ok || hm.RecordedAt.After(cur.RecordedAt) {
			latest[hm.MetricType] = hm
		}
	}
	var out []*model.HealthMetric
	for _, hm := range latest {
		cp := *hm
		out = append(out, &cp)
	}
	return out, nil
}
