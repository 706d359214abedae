package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus.Logger with additional functionality
type Logger struct {
	*logrus.Logger
}

// Fields type for structured logging
type Fields map[string]interface{}

// ContextKey type for context values
type contextKey string

const (
	// CorrelationIDKey is the context key for correlation ID
	CorrelationIDKey contextKey = "correlation_id"
	// RequestIDKey is the context key for request ID
	RequestIDKey contextKey = "request_id"
)

var (
	// defaultLogger is the global logger instance
	defaultLogger *Logger
)

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json, text
	Output     io.Writer
	ReportCaller bool
}

// New creates a new logger instance
func New(cfg Config) *Logger {
	log := logrus.New()

	// Set log level
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// Set output format
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime:  "timestamp",
				logrus.FieldKeyLevel: "level",
				logrus.FieldKeyMsg:   "message",
				logrus.FieldKeyFunc:  "caller",
			},
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			TimestampFormat: time.RFC3339,
			FullTimestamp:   true,
		})
	}

	// Set output
	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stdout)
	}

	// Set caller reporting
	log.SetReportCaller(cfg.ReportCaller)

	return &Logger{Logger: log}
}

// Init initializes the default logger
func Init(cfg Config) {
	defaultLogger = New(cfg)
}

// GetLogger returns the default logger instance
func GetLogger() *Logger {
	if defaultLogger == nil {
		// Initialize with default config if not set
		Init(Config{
			Level:  "info",
			Format: "json",
		})
	}
	return defaultLogger
}

// WithFields creates a new logger entry with fields
func (l *Logger) WithFields(fields Fields) *logrus.Entry {
	return l.Logger.WithFields(logrus.Fields(fields))
}

// WithContext creates a new logger entry with context values
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := l.Logger.WithContext(ctx)

	// Add correlation ID if present
	if correlationID := ctx.Value(CorrelationIDKey); correlationID != nil {
		entry = entry.WithField("correlation_id", correlationID)
	}

	// Add request ID if present
	if requestID := ctx.Value(RequestIDKey); requestID != nil {
		entry = entry.WithField("request_id", requestID)
	}

	return entry
}

// WithError creates a new logger entry with error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}

// Helper methods for structured logging

// Debug logs a debug message
func Debug(msg string, fields ...Fields) {
	entry := GetLogger().Logger
	if len(fields) > 0 {
		entry = GetLogger().WithFields(fields[0]).Logger
	}
	entry.Debug(msg)
}

// Info logs an info message
func Info(msg string, fields ...Fields) {
	entry := GetLogger().Logger
	if len(fields) > 0 {
		entry = GetLogger().WithFields(fields[0]).Logger
	}
	entry.Info(msg)
}

// Warn logs a warning message
func Warn(msg string, fields ...Fields) {
	entry := GetLogger().Logger
	if len(fields) > 0 {
		entry = GetLogger().WithFields(fields[0]).Logger
	}
	entry.Warn(msg)
}

// Error logs an error message
func Error(msg string, err error, fields ...Fields) {
	entry := GetLogger().WithError(err)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields[0]))
	}
	entry.Error(msg)
}

// Fatal logs a fatal message and exits
func Fatal(msg string, err error, fields ...Fields) {
	entry := GetLogger().WithError(err)
	if len(fields) > 0 {
		entry = entry.WithFields(logrus.Fields(fields[0]))
	}
	entry.Fatal(msg)
}

// WithContext logs with context
func WithContext(ctx context.Context) *logrus.Entry {
	return GetLogger().WithContext(ctx)
}

// WithFields logs with fields
func WithFields(fields Fields) *logrus.Entry {
	return GetLogger().WithFields(fields)
}

// Structured event helpers

// LogSagaTransition logs a saga moving from one state to another.
func LogSagaTransition(ctx context.Context, correlationID, operationType, from, to string) {
	GetLogger().WithContext(ctx).WithFields(logrus.Fields{
		"event":          "saga_transition",
		"correlation_id": correlationID,
		"operation_type": operationType,
		"from_state":     from,
		"to_state":       to,
	}).Info("Saga transitioned")
}

// LogRecoveryTick logs the outcome of one recovery pipeline tick.
func LogRecoveryTick(ctx context.Context, claimed, succeeded, failed int) {
	GetLogger().WithContext(ctx).WithFields(logrus.Fields{
		"event":     "recovery_tick",
		"claimed":   claimed,
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("Recovery tick completed")
}

// LogReconciliationRun logs the summary counts of a completed
// reconciliation run.
func LogReconciliationRun(ctx context.Context, runID string, matched, discrepancies int, totalDiscrepancyAmount string) {
	GetLogger().WithContext(ctx).WithFields(logrus.Fields{
		"event":                    "reconciliation_run",
		"run_id":                   runID,
		"matched_count":            matched,
		"discrepancy_count":        discrepancies,
		"total_discrepancy_amount": totalDiscrepancyAmount,
	}).Info("Reconciliation run completed")
}
