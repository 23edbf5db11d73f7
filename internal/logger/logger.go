// Package logger provides structured logging for the DWN write core
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog with dwnnode-specific functionality
type Logger struct {
	zlog zerolog.Logger
}

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Pretty     bool   // pretty-print for development
	Output     io.Writer
	WithCaller bool
}

// NewLogger creates a new structured logger
func NewLogger(cfg Config) *Logger {
	// Set global log level
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	// Configure output
	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	// Pretty printing for development
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}
	}

	// Create logger
	zlog := zerolog.New(output).
		With().
		Timestamp().
		Str("service", "dwnnode").
		Logger()

	// Add caller information if requested
	if cfg.WithCaller {
		zlog = zlog.With().Caller().Logger()
	}

	return &Logger{zlog: zlog}
}

// GetZerolog returns the underlying zerolog logger
func (l *Logger) GetZerolog() *zerolog.Logger {
	return &l.zlog
}

// Info logs an info message
func (l *Logger) Info(msg string) *zerolog.Event {
	return l.zlog.Info().Str("msg", msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string) *zerolog.Event {
	return l.zlog.Debug().Str("msg", msg)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string) *zerolog.Event {
	return l.zlog.Warn().Str("msg", msg)
}

// Error logs an error message
func (l *Logger) Error(msg string) *zerolog.Event {
	return l.zlog.Error().Str("msg", msg)
}

// Fatal logs a fatal message and exits
func (l *Logger) Fatal(msg string) *zerolog.Event {
	return l.zlog.Fatal().Str("msg", msg)
}

// WithFields returns a logger with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	ctx := l.zlog.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &Logger{zlog: ctx.Logger()}
}

// WriteLogger returns a logger scoped to the write pipeline
func (l *Logger) WriteLogger(stage string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "write").
			Str("stage", stage).
			Logger(),
	}
}

// StoreLogger returns a logger scoped to message store operations
func (l *Logger) StoreLogger(operation string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "store").
			Str("operation", operation).
			Logger(),
	}
}

// AuthzLogger returns a logger scoped to protocol authorization
func (l *Logger) AuthzLogger(protocol string) *Logger {
	return &Logger{
		zlog: l.zlog.With().
			Str("component", "authz").
			Str("protocol", protocol).
			Logger(),
	}
}

// LogWriteStage logs the outcome of one write-pipeline stage
func (l *Logger) LogWriteStage(stage string, duration time.Duration, code int, detail string) {
	event := l.zlog.Info().
		Str("component", "write").
		Str("stage", stage).
		Dur("duration_ms", duration).
		Int("code", code)

	if code >= 400 {
		event = l.zlog.Warn().
			Str("component", "write").
			Str("stage", stage).
			Dur("duration_ms", duration).
			Int("code", code).
			Str("detail", detail)
	}

	event.Msg("write pipeline stage completed")
}

// LogStoreOperation logs a message store operation with structured fields
func (l *Logger) LogStoreOperation(operation string, duration time.Duration, recordCount int, err error) {
	event := l.zlog.Debug().
		Str("component", "store").
		Str("operation", operation).
		Dur("duration_ms", duration).
		Int("record_count", recordCount)

	if err != nil {
		event = l.zlog.Error().
			Str("component", "store").
			Str("operation", operation).
			Dur("duration_ms", duration).
			Err(err)
	}

	event.Msg("store operation completed")
}

// LogServerStart logs node startup
func (l *Logger) LogServerStart(port int, dbPath string) {
	l.zlog.Info().
		Str("event", "node_start").
		Int("port", port).
		Str("database", dbPath).
		Msg("dwnnode starting")
}

// LogServerReady logs when the node is ready
func (l *Logger) LogServerReady(port int) {
	l.zlog.Info().
		Str("event", "node_ready").
		Int("port", port).
		Msg("dwnnode ready to accept writes")
}

// LogServerShutdown logs node shutdown
func (l *Logger) LogServerShutdown() {
	l.zlog.Info().
		Str("event", "node_shutdown").
		Msg("dwnnode shutting down")
}

// Global logger instance
var globalLogger *Logger

// InitGlobalLogger initializes the global logger
func InitGlobalLogger(cfg Config) {
	globalLogger = NewLogger(cfg)
	log.Logger = *globalLogger.GetZerolog()
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() *Logger {
	if globalLogger == nil {
		// Initialize with defaults if not set
		InitGlobalLogger(Config{
			Level:  "info",
			Pretty: true,
		})
	}
	return globalLogger
}
