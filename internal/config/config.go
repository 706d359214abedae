package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration for the orchestration core.
type Config struct {
	Environment string
	Version     string
	Database    DatabaseConfig
	Redis       RedisConfig
	Ledger      LedgerConfig
	Scheduler   SchedulerConfig
}

// DatabaseConfig contains PostgreSQL configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	SSLMode      string
}

// RedisConfig contains Redis configuration (asynq transport)
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// LedgerConfig contains connection details for the external ledger
// capability. The core never parses an ABI or holds a signer; it only
// needs an endpoint and a timeout to construct a LedgerClient.
type LedgerConfig struct {
	RPCURL  string
	Timeout time.Duration
}

// SchedulerConfig carries the recognized orchestration tuning options
// (the single config struct named by the external interface contract).
// Every field has the documented default.
type SchedulerConfig struct {
	RecoveryTickInterval      time.Duration
	StuckScanInterval         time.Duration
	DLQSampleInterval         time.Duration
	ReconciliationInterval    time.Duration
	RecoveryMaxRetries        int
	RecoveryBackoffCapMinutes int
	ReconciliationBatchSize   int
	QuorumPercentage          int
	FeeBasisPoints            int
}

// MinimumEscrowAmount returns the minimum escrow amount consistent with
// the configured fee, ceil(10000 / fee_bps). Returns 0 for a
// non-positive fee.
func (s SchedulerConfig) MinimumEscrowAmount() int64 {
	if s.FeeBasisPoints <= 0 {
		return 0
	}
	return ceilDiv(10000, int64(s.FeeBasisPoints))
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	q := a / b
	if a%b != 0 {
		q++
	}
	return q
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	config := &Config{
		Environment: getEnv("ENV", "development"),
		Version:     getEnv("VERSION", "1.0.0"),
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", ""),
			Database:     getEnv("DB_NAME", "torc"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Ledger: LedgerConfig{
			RPCURL:  getEnv("LEDGER_RPC_URL", ""),
			Timeout: time.Duration(getEnvAsInt("LEDGER_TIMEOUT_SECONDS", 10)) * time.Second,
		},
		Scheduler: SchedulerConfig{
			RecoveryTickInterval:      time.Duration(getEnvAsInt("RECOVERY_TICK_SECONDS", 30)) * time.Second,
			StuckScanInterval:         time.Duration(getEnvAsInt("STUCK_SCAN_MINUTES", 5)) * time.Minute,
			DLQSampleInterval:         time.Duration(getEnvAsInt("DLQ_SAMPLE_MINUTES", 10)) * time.Minute,
			ReconciliationInterval:    time.Duration(getEnvAsInt("RECONCILIATION_HOURS", 6)) * time.Hour,
			RecoveryMaxRetries:        getEnvAsInt("RECOVERY_MAX_RETRIES", 5),
			RecoveryBackoffCapMinutes: getEnvAsInt("RECOVERY_BACKOFF_CAP_MINUTES", 60),
			ReconciliationBatchSize:   getEnvAsInt("RECONCILIATION_BATCH_SIZE", 50),
			QuorumPercentage:          getEnvAsInt("QUORUM_PERCENTAGE", 51),
			FeeBasisPoints:            getEnvAsInt("FEE_BASIS_POINTS", 50),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks if all required configuration values are set
func (c *Config) Validate() error {
	var problems []string

	if c.Database.Host == "" {
		problems = append(problems, "DB_HOST is required")
	}
	if c.Database.Database == "" {
		problems = append(problems, "DB_NAME is required")
	}
	if c.Redis.Host == "" {
		problems = append(problems, "REDIS_HOST is required")
	}
	if c.Scheduler.FeeBasisPoints <= 0 {
		problems = append(problems, "FEE_BASIS_POINTS must be positive")
	}
	if c.Scheduler.ReconciliationBatchSize <= 0 || c.Scheduler.ReconciliationBatchSize > 200 {
		problems = append(problems, "RECONCILIATION_BATCH_SIZE must be in (0, 200]")
	}
	if c.Scheduler.QuorumPercentage <= 0 || c.Scheduler.QuorumPercentage > 100 {
		problems = append(problems, "QUORUM_PERCENTAGE must be in (0, 100]")
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(problems, "\n- "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// GetDatabaseDSN returns PostgreSQL connection string
func (c *Config) GetDatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.Database,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns Redis connection address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// Helper functions to read environment variables

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
