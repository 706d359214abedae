package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/torcsys/torc/internal/config"
	"github.com/torcsys/torc/internal/pkg/database"
	"github.com/torcsys/torc/internal/pkg/logger"
	"github.com/torcsys/torc/internal/shared/events"
	"github.com/torcsys/torc/internal/torc/escrow"
	"github.com/torcsys/torc/internal/torc/health"
	"github.com/torcsys/torc/internal/torc/ledger/evmref"
	"github.com/torcsys/torc/internal/torc/reconcile"
	"github.com/torcsys/torc/internal/torc/recovery"
	"github.com/torcsys/torc/internal/torc/saga"
	"github.com/torcsys/torc/internal/torc/store/postgres"
)

func main() {
	logger.Init(logger.Config{
		Level:  "info",
		Format: "json",
	})

	logger.Info("Starting orchestration worker service...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	logger.Info("Configuration loaded successfully", logger.Fields{
		"environment": cfg.Environment,
	})

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database connection", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := db.WaitForConnection(waitCtx, 5); err != nil {
		logger.Fatal("Database connection failed", err)
	}
	if err := db.HealthCheck(context.Background()); err != nil {
		logger.Fatal("Database health check failed", err)
	}
	logger.Info("Database connection established")

	ledgerClient, err := evmref.Dial(evmref.Config{
		RPCURL:  cfg.Ledger.RPCURL,
		Timeout: cfg.Ledger.Timeout,
	})
	if err != nil {
		logger.Fatal("Failed to dial ledger RPC", err)
	}
	logger.Info("Ledger client connected", logger.Fields{"rpc_url": cfg.Ledger.RPCURL})

	st := postgres.New(db.DB)
	bus := events.NewInMemoryEventBus(logger.GetLogger().Logger)

	sagaManager := saga.New(st)

	recoveryPipeline := recovery.New(st, recovery.Config{
		MaxRetries:        cfg.Scheduler.RecoveryMaxRetries,
		BackoffCapMinutes: cfg.Scheduler.RecoveryBackoffCapMinutes,
	})

	escrow.New(st, ledgerClient, sagaManager, recoveryPipeline, bus, escrow.Config{
		FeeBasisPoints:   cfg.Scheduler.FeeBasisPoints,
		QuorumPercentage: cfg.Scheduler.QuorumPercentage,
	})

	recoveryWorker := recovery.NewWorker(recovery.WorkerConfig{
		RedisAddr:     cfg.GetRedisAddr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Pipeline:      recoveryPipeline,
		Stuck:         sagaManager,
	})

	reconcileEngine := reconcile.New(st, ledgerClient)
	reconcileWorker := reconcile.NewWorker(reconcile.WorkerConfig{
		RedisAddr:     cfg.GetRedisAddr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Engine:        reconcileEngine,
		BatchSize:     cfg.Scheduler.ReconciliationBatchSize,
	})

	healthAggregator := health.New(st, sagaManager)
	healthWorker := health.NewWorker(health.WorkerConfig{
		RedisAddr:     cfg.GetRedisAddr(),
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		Aggregator:    healthAggregator,
	})

	logger.Info("Starting recovery worker...")
	go func() {
		if err := recoveryWorker.Start(); err != nil {
			logger.Fatal("Recovery worker failed", err)
		}
	}()

	logger.Info("Starting reconciliation worker...")
	go func() {
		if err := reconcileWorker.Start(); err != nil {
			logger.Fatal("Reconciliation worker failed", err)
		}
	}()

	logger.Info("Starting health snapshot worker...")
	go func() {
		if err := healthWorker.Start(); err != nil {
			logger.Fatal("Health worker failed", err)
		}
	}()

	logger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Received shutdown signal, gracefully shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	recoveryWorker.Shutdown()
	reconcileWorker.Shutdown()
	healthWorker.Shutdown()

	if err := bus.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error shutting down event bus", err)
	}

	if err := db.Close(); err != nil {
		logger.Error("Error closing database connection", err)
	}

	fmt.Println("Worker service stopped")
}
