package reconcile

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/model"
)

// TypeReconciliationRun is the scheduled task type this worker serves.
const TypeReconciliationRun = "torc:reconciliation_run"

// WorkerConfig configures the Reconciliation Engine's background
// server.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Engine        *Engine
	BatchSize     int
}

// Worker drives the 6-hour reconciliation schedule (§5 Scheduler
// contract). It mirrors the Recovery Pipeline's asynq server/scheduler
// shape, applied to this package's own cadence.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	engine    *Engine
	batchSize int
}

// NewWorker wires an asynq server and scheduler around an Engine.
func NewWorker(cfg WorkerConfig) *Worker {
	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 1,
			Queues: map[string]int{
				"reconcile": 1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("reconciliation worker task failed", err, logger.Fields{"task_type": task.Type()})
			}),
		},
	)

	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{LogLevel: asynq.InfoLevel})

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	w := &Worker{
		server:    srv,
		mux:       asynq.NewServeMux(),
		scheduler: scheduler,
		engine:    cfg.Engine,
		batchSize: batchSize,
	}

	w.registerHandlers()
	w.scheduleTasks()

	return w
}

func (w *Worker) registerHandlers() {
	w.mux.HandleFunc(TypeReconciliationRun, w.handleReconciliationRun)
	logger.Info("reconciliation worker handlers registered", logger.Fields{"handlers": []string{TypeReconciliationRun}})
}

func (w *Worker) scheduleTasks() {
	if _, err := w.scheduler.Register("@every 6h", asynq.NewTask(TypeReconciliationRun, nil), asynq.Queue("reconcile")); err != nil {
		logger.Error("failed to schedule reconciliation run", err)
	}
}

func (w *Worker) handleReconciliationRun(ctx context.Context, t *asynq.Task) error {
	summary, err := w.engine.Run(ctx, model.RunScheduled, w.batchSize)
	if err != nil {
		return fmt.Errorf("reconciliation run: %w", err)
	}
	logger.Info("reconciliation run completed", logger.Fields{
		"run_id":            summary.RunID.String(),
		"total_count":       summary.TotalCount,
		"discrepancy_count": summary.DiscrepancyCount,
		"status":            string(summary.Status),
	})
	return nil
}

// Start runs the scheduler and asynq server. Blocks until the server
// stops.
func (w *Worker) Start() error {
	go func() {
		if err := w.scheduler.Run(); err != nil {
			logger.Error("reconciliation scheduler stopped", err)
		}
	}()

	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("reconciliation worker server failed: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler and server gracefully.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}
