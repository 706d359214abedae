package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/torcsys/torc/internal/config"
	"github.com/torcsys/torc/internal/pkg/logger"
)

// PostgresDB wraps the database connection pool backing the store
// package. The orchestration core has no PII fields to encrypt, so
// this wrapper carries only what torc/store/postgres needs: a pooled
// *sql.DB, health checks, and startup retry.
type PostgresDB struct {
	*sql.DB
	config *config.DatabaseConfig
}

// New creates a new PostgreSQL database connection pool
func New(cfg *config.DatabaseConfig) (*PostgresDB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(time.Minute * 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connection pool established", logger.Fields{
		"host":           cfg.Host,
		"port":           cfg.Port,
		"database":       cfg.Database,
		"max_open_conns": cfg.MaxOpenConns,
		"max_idle_conns": cfg.MaxIdleConns,
	})

	return &PostgresDB{DB: db, config: cfg}, nil
}

// HealthCheck verifies the database connection is healthy
func (db *PostgresDB) HealthCheck(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
	}

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database health check failed: %w", err)
	}

	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("database query check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("database returned unexpected result: %d", result)
	}

	return nil
}

// GetStats returns database connection pool statistics
func (db *PostgresDB) GetStats() sql.DBStats {
	return db.Stats()
}

// Close gracefully closes the database connection pool
func (db *PostgresDB) Close() error {
	logger.Info("Closing database connection pool")
	if err := db.DB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection: %w", err)
	}
	logger.Info("Database connection pool closed successfully")
	return nil
}

// BeginTx starts a new database transaction
func (db *PostgresDB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := db.DB.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// WithTransaction executes a function within a database transaction,
// rolling back on error or panic and committing otherwise.
func (db *PostgresDB) WithTransaction(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// CheckMigrationVersion returns the current database migration version
func (db *PostgresDB) CheckMigrationVersion(ctx context.Context) (uint, error) {
	var version uint

	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = 'schema_migrations'
		)
	`).Scan(&exists)
	if err != nil {
		return 0, fmt.Errorf("failed to check migrations table: %w", err)
	}
	if !exists {
		return 0, nil
	}

	err = db.QueryRowContext(ctx, `
		SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1
	`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get migration version: %w", err)
	}

	return version, nil
}

// WaitForConnection waits for the database to become available. Useful
// during startup when the database might not be ready yet.
func (db *PostgresDB) WaitForConnection(ctx context.Context, maxRetries int) error {
	retryDelay := time.Second

	for i := 0; i < maxRetries; i++ {
		if err := db.HealthCheck(ctx); err == nil {
			return nil
		}

		logger.Warn("Database not ready, retrying...", logger.Fields{
			"attempt":     i + 1,
			"max_retries": maxRetries,
			"retry_in":    retryDelay.String(),
		})

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(retryDelay):
			retryDelay *= 2
			if retryDelay > 10*time.Second {
				retryDelay = 10 * time.Second
			}
		}
	}

	return fmt.Errorf("failed to connect to database after %d retries", maxRetries)
}

// LogPoolStats logs database connection pool statistics
func (db *PostgresDB) LogPoolStats() {
	stats := db.GetStats()
	logger.Info("Database connection pool stats", logger.Fields{
		"open_connections":    stats.OpenConnections,
		"in_use":              stats.InUse,
		"idle":                stats.Idle,
		"wait_count":          stats.WaitCount,
		"wait_duration":       stats.WaitDuration.String(),
		"max_idle_closed":     stats.MaxIdleClosed,
		"max_lifetime_closed": stats.MaxLifetimeClosed,
	})
}
