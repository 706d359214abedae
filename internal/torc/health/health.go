// Package health implements the Health/Metrics aggregator: the success
// rate, retry count, DLQ size, average processing time, stuck-
// transaction count, compensation rate, and error rate named in §3,
// both as durable snapshots and as live gauges on a private
// prometheus registry (exposing them over HTTP is the out-of-scope API
// surface's job).
package health

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"

	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/model"
	"github.com/torcsys/torc/internal/torc/store"
)

// StuckScanner is the narrow Saga Manager capability the aggregator
// needs; it mirrors recovery.StuckScanner so this package does not
// have to import internal/torc/saga for an interface it only calls
// one method of.
type StuckScanner interface {
	Stuck(ctx context.Context) ([]*model.Saga, error)
}

// Gauges is the set of live prometheus metrics this package owns on
// its own registry. Nothing here is exposed over HTTP by this core.
type Gauges struct {
	SuccessRate       prometheus.Gauge
	RetryCount        prometheus.Gauge
	DLQSize           prometheus.Gauge
	AvgProcessingTime prometheus.Gauge
	StuckTransactions prometheus.Gauge
	CompensationRate  prometheus.Gauge
	ErrorRate         prometheus.Gauge
}

func newGauges(reg *prometheus.Registry) *Gauges {
	g := &Gauges{
		SuccessRate:       prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "success_rate"}),
		RetryCount:        prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "retry_count"}),
		DLQSize:           prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "dlq_size"}),
		AvgProcessingTime: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "avg_processing_time_seconds"}),
		StuckTransactions: prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "stuck_transactions"}),
		CompensationRate:  prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "compensation_rate"}),
		ErrorRate:         prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "torc", Subsystem: "health", Name: "error_rate"}),
	}
	reg.MustRegister(g.SuccessRate, g.RetryCount, g.DLQSize, g.AvgProcessingTime, g.StuckTransactions, g.CompensationRate, g.ErrorRate)
	return g
}

// Aggregator computes the Health/Metrics snapshot on demand (§5
// "Health metric aggregator (on demand)").
type Aggregator struct {
	store    store.Store
	stuck    StuckScanner
	registry *prometheus.Registry
	gauges   *Gauges
}

// New constructs an Aggregator with its own private prometheus
// registry; Registry() exposes it for a caller that wants to scrape it
// through its own (out-of-scope) HTTP surface.
func New(s store.Store, stuck StuckScanner) *Aggregator {
	reg := prometheus.NewRegistry()
	return &Aggregator{
		store:    s,
		stuck:    stuck,
		registry: reg,
		gauges:   newGauges(reg),
	}
}

// Registry returns the private prometheus registry backing the live
// gauges.
func (a *Aggregator) Registry() *prometheus.Registry {
	return a.registry
}

// Snapshot computes every metric, updates the live gauges, and
// persists a HealthMetric row for each one. Returns the rows it wrote.
func (a *Aggregator) Snapshot(ctx context.Context) ([]*model.HealthMetric, error) {
	completed, err := a.store.CountSagasByState(ctx, model.SagaCompleted)
	if err != nil {
		return nil, fmt.Errorf("count completed sagas: %w", err)
	}
	failed, err := a.store.CountSagasByState(ctx, model.SagaFailed)
	if err != nil {
		return nil, fmt.Errorf("count failed sagas: %w", err)
	}
	dlq, err := a.store.CountSagasByState(ctx, model.SagaDLQ)
	if err != nil {
		return nil, fmt.Errorf("count dlq sagas: %w", err)
	}
	compensated, err := a.store.CountSagasByState(ctx, model.SagaCompensated)
	if err != nil {
		return nil, fmt.Errorf("count compensated sagas: %w", err)
	}

	dlqSize, err := a.store.CountDLQEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dlq entries: %w", err)
	}

	avgRetries, err := a.store.AveragePendingRetryCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("average pending retry count: %w", err)
	}

	avgDuration, err := a.store.AverageCompletedSagaDuration(ctx)
	if err != nil {
		return nil, fmt.Errorf("average completed saga duration: %w", err)
	}

	stuck, err := a.stuck.Stuck(ctx)
	if err != nil {
		return nil, fmt.Errorf("stuck saga scan: %w", err)
	}

	outcomeTotal := completed + failed + dlq
	successRate := rate(completed, outcomeTotal)
	errorRate := rate(failed+dlq, outcomeTotal)
	compensationRate := rate(compensated, outcomeTotal)

	now := time.Now()
	metrics := []*model.HealthMetric{
		{MetricType: model.MetricSuccessRate, MetricName: "saga_success_rate", MetricValue: successRate, RecordedAt: now},
		{MetricType: model.MetricRetryCount, MetricName: "avg_pending_retry_count", MetricValue: decimal.NewFromFloat(avgRetries), RecordedAt: now},
		{MetricType: model.MetricDLQSize, MetricName: "dlq_size", MetricValue: decimal.NewFromInt(int64(dlqSize)), RecordedAt: now},
		{MetricType: model.MetricAvgProcessingTime, MetricName: "avg_processing_time_seconds", MetricValue: decimal.NewFromFloat(avgDuration.Seconds()), RecordedAt: now},
		{MetricType: model.MetricStuckTransactions, MetricName: "stuck_transactions", MetricValue: decimal.NewFromInt(int64(len(stuck))), RecordedAt: now},
		{MetricType: model.MetricCompensationRate, MetricName: "saga_compensation_rate", MetricValue: compensationRate, RecordedAt: now},
		{MetricType: model.MetricErrorRate, MetricName: "saga_error_rate", MetricValue: errorRate, RecordedAt: now},
	}

	for _, m := range metrics {
		if err := a.store.InsertHealthMetric(ctx, m); err != nil {
			return nil, fmt.Errorf("insert health metric %s: %w", m.MetricType, err)
		}
	}

	successRateF, _ := successRate.Float64()
	errorRateF, _ := errorRate.Float64()
	compensationRateF, _ := compensationRate.Float64()

	a.gauges.SuccessRate.Set(successRateF)
	a.gauges.RetryCount.Set(avgRetries)
	a.gauges.DLQSize.Set(float64(dlqSize))
	a.gauges.AvgProcessingTime.Set(avgDuration.Seconds())
	a.gauges.StuckTransactions.Set(float64(len(stuck)))
	a.gauges.CompensationRate.Set(compensationRateF)
	a.gauges.ErrorRate.Set(errorRateF)

	logger.Info("health snapshot recorded", logger.Fields{
		"success_rate":       successRateF,
		"error_rate":         errorRateF,
		"dlq_size":           dlqSize,
		"stuck_transactions": len(stuck),
	})

	return metrics, nil
}

// Latest returns the most recently recorded metric rows.
func (a *Aggregator) Latest(ctx context.Context) ([]*model.HealthMetric, error) {
	return a.store.LatestHealthMetrics(ctx)
}

func rate(numerator, denominator int) decimal.Decimal {
	if denominator == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(int64(numerator)).Div(decimal.NewFromInt(int64(denominator)))
}
