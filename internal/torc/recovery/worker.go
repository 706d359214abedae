package recovery

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/torc/model"
)

// Task type constants dispatched by the scheduler and handled by this
// same process's asynq.Server.
const (
	TypeRecoveryTick = "torc:recovery_tick"
	TypeStuckScan    = "torc:stuck_scan"
	TypeDLQSample    = "torc:dlq_sample"
)

// StuckScanner is the Saga Manager capability the stuck-saga scan
// needs. It is a narrow interface so this package does not import
// torc/saga directly.
type StuckScanner interface {
	Stuck(ctx context.Context) ([]*model.Saga, error)
}

// WorkerConfig configures the Recovery Pipeline's background server.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Pipeline      *Pipeline
	Stuck         StuckScanner
}

// Worker drives the Recovery Pipeline's periodic battery: the 30s
// retry tick, the 5-minute stuck-saga scan, and the 10-minute DLQ
// sampler (§4.2, §6 Scheduler contract).
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
	pipeline  *Pipeline
	stuck     StuckScanner
}

// NewWorker wires an asynq server and scheduler around a Pipeline.
func NewWorker(cfg WorkerConfig) *Worker {
	redisOpts := asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	srv := asynq.NewServer(
		redisOpts,
		asynq.Config{
			Concurrency: 5,
			Queues: map[string]int{
				"recovery": 3,
				"scan":     1,
			},
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("recovery worker task failed", err, logger.Fields{"task_type": task.Type()})
			}),
		},
	)

	scheduler := asynq.NewScheduler(redisOpts, &asynq.SchedulerOpts{LogLevel: asynq.InfoLevel})

	w := &Worker{
		server:    srv,
		mux:       asynq.NewServeMux(),
		scheduler: scheduler,
		pipeline:  cfg.Pipeline,
		stuck:     cfg.Stuck,
	}

	w.registerHandlers()
	w.scheduleTasks()

	return w
}

func (w *Worker) registerHandlers() {
	w.mux.HandleFunc(TypeRecoveryTick, w.handleRecoveryTick)
	w.mux.HandleFunc(TypeStuckScan, w.handleStuckScan)
	w.mux.HandleFunc(TypeDLQSample, w.handleDLQSample)

	logger.Info("recovery worker handlers registered", logger.Fields{
		"handlers": []string{TypeRecoveryTick, TypeStuckScan, TypeDLQSample},
	})
}

func (w *Worker) scheduleTasks() {
	if _, err := w.scheduler.Register("@every 30s", asynq.NewTask(TypeRecoveryTick, nil), asynq.Queue("recovery")); err != nil {
		logger.Error("failed to schedule recovery tick", err)
	}
	if _, err := w.scheduler.Register("@every 5m", asynq.NewTask(TypeStuckScan, nil), asynq.Queue("scan")); err != nil {
		logger.Error("failed to schedule stuck-saga scan", err)
	}
	if _, err := w.scheduler.Register("@every 10m", asynq.NewTask(TypeDLQSample, nil), asynq.Queue("scan")); err != nil {
		logger.Error("failed to schedule DLQ sampler", err)
	}
}

func (w *Worker) handleRecoveryTick(ctx context.Context, t *asynq.Task) error {
	if err := w.pipeline.Tick(ctx); err != nil {
		return fmt.Errorf("recovery tick: %w", err)
	}
	return nil
}

func (w *Worker) handleStuckScan(ctx context.Context, t *asynq.Task) error {
	stuck, err := w.stuck.Stuck(ctx)
	if err != nil {
		return fmt.Errorf("stuck-saga scan: %w", err)
	}
	if len(stuck) > 0 {
		logger.Warn("stuck sagas detected", logger.Fields{"count": len(stuck)})
	}
	return nil
}

func (w *Worker) handleDLQSample(ctx context.Context, t *asynq.Task) error {
	count, err := w.pipeline.store.CountDLQEntries(ctx)
	if err != nil {
		return fmt.Errorf("dlq sample: %w", err)
	}
	logger.Info("dlq sample", logger.Fields{"dlq_size": count})
	return nil
}

// Start runs the scheduler and asynq server. Blocks until the server
// stops.
func (w *Worker) Start() error {
	go func() {
		if err := w.scheduler.Run(); err != nil {
			logger.Error("recovery scheduler stopped", err)
		}
	}()

	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("recovery worker server failed: %w", err)
	}
	return nil
}

// Shutdown stops the scheduler and server gracefully.
func (w *Worker) Shutdown() {
	w.scheduler.Shutdown()
	w.server.Shutdown()
}
