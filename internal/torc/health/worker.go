package health

import (
	"context"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/torcsys/torc/internal/pkg/logger"
)

// TypeHealthSnapshot is the on-demand task an operator (or the
// out-of-scope API surface) enqueues to force a Snapshot. Unlike the
// Recovery Pipeline and Reconciliation Engine tasks, nothing schedules
// this one automatically (§5 "Health metric aggregator (on demand)").
const TypeHealthSnapshot = "torc:health_snapshot"

// WorkerConfig configures the on-demand health snapshot handler.
type WorkerConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Aggregator    *Aggregator
}

// Worker registers the health snapshot handler on a dedicated queue.
// It has no scheduler: Snapshot only runs when a task is enqueued.
type Worker struct {
	server     *asynq.Server
	mux        *asynq.ServeMux
	aggregator *Aggregator
}

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
			Queues:      map[string]int{"health": 1},
			LogLevel:    asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("health worker task failed", err, logger.Fields{"task_type": task.Type()})
			}),
		},
	)

	w := &Worker{
		server:     srv,
		mux:        asynq.NewServeMux(),
		aggregator: cfg.Aggregator,
	}
	w.mux.HandleFunc(TypeHealthSnapshot, w.handleSnapshot)
	return w
}

func (w *Worker) handleSnapshot(ctx context.Context, t *asynq.Task) error {
	if _, err := w.aggregator.Snapshot(ctx); err != nil {
		return fmt.Errorf("health snapshot: %w", err)
	}
	return nil
}

// Start runs the asynq server. Blocks until the server stops.
func (w *Worker) Start() error {
	if err := w.server.Run(w.mux); err != nil {
		return fmt.Errorf("health worker server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (w *Worker) Shutdown() {
	w.server.Shutdown()
}
