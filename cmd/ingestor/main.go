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
	"github.com/torcsys/torc/internal/torc/ingestor"
	"github.com/torcsys/torc/internal/torc/ledger/evmref"
	"github.com/torcsys/torc/internal/torc/recovery"
	"github.com/torcsys/torc/internal/torc/saga"
	"github.com/torcsys/torc/internal/torc/store/postgres"
)

func main() {
	logger.Init(logger.Config{
		Level:  "info",
		Format: "json",
	})

	logger.Info("Starting event ingestor service...")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load configuration", err)
	}

	db, err := database.New(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to initialize database connection", err)
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer waitCancel()
	if err := db.WaitForConnection(waitCtx, 5); err != nil {
		logger.Fatal("Database connection failed", err)
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
	sagaManager := saga.New(st)
	recoveryPipeline := recovery.New(st, recovery.Config{
		MaxRetries:        cfg.Scheduler.RecoveryMaxRetries,
		BackoffCapMinutes: cfg.Scheduler.RecoveryBackoffCapMinutes,
	})

	eventIngestor := ingestor.New(st, ledgerClient, sagaManager, recoveryPipeline)

	ctx, cancel := context.WithCancel(context.Background())
	runErrs := make(chan error, 1)
	go func() {
		runErrs <- eventIngestor.Run(ctx)
	}()

	logger.Info("Event ingestor started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Received shutdown signal, gracefully shutting down...")
		cancel()
		<-runErrs
	case err := <-runErrs:
		if err != nil {
			logger.Error("Event ingestor stopped with error", err)
		}
	}

	if err := db.Close(); err != nil {
		logger.Error("Error closing database connection", err)
	}

	fmt.Println("Event ingestor stopped")
}
