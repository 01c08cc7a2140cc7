// Package logger provides structured logging functionality.
// It wraps the standard log/slog package for consistent logging across the runtime.
//
// Helpers cover run start/end, job start/success/failure and error logging.
// All helpers take the *slog.Logger to write to, so callers can inject their
// own, and use consistent snake_case field names.
//
// The package supports two output formats:
//   - JSON (default): Machine-readable structured logging
//   - Human: Human-readable console output with colors and prefixes
//
// Logs are written to stderr: stdout is reserved for reports.
package logger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is the default logger instance.
var Logger *slog.Logger

// output is the destination of console logs.
var output io.Writer = os.Stderr

func init() {
	Logger = newLogger(output, slog.LevelInfo, FormatJSON)
}

// OutputFormat represents the log output format
type OutputFormat int

const (
	// FormatJSON is the default machine-readable JSON format
	FormatJSON OutputFormat = iota
	// FormatHuman is a human-readable console format with colors and prefixes
	FormatHuman
)

// ParseFormat converts a --log-format value into an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "human", "text":
		return FormatHuman, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format %q (expected json or human)", s)
	}
}

// String returns the name of the output format.
func (f OutputFormat) String() string {
	if f == FormatHuman {
		return "human"
	}
	return "json"
}

// SetLevel configures the logging level, keeping JSON output.
func SetLevel(level slog.Level) {
	Logger = newLogger(output, level, FormatJSON)
}

// SetLevelAndFormat sets both the log level and format.
func SetLevelAndFormat(level slog.Level, format OutputFormat) {
	Logger = newLogger(output, level, format)
}

// SetOutput redirects console logs. It is mostly useful in tests.
func SetOutput(w io.Writer, level slog.Level, format OutputFormat) {
	output = w
	Logger = newLogger(w, level, format)
}

func newLogger(w io.Writer, level slog.Level, format OutputFormat) *slog.Logger {
	return slog.New(newHandler(w, level, format))
}

func newHandler(w io.Writer, level slog.Level, format OutputFormat) slog.Handler {
	if format == FormatHuman {
		return NewHumanHandler(w, &HumanHandlerOptions{Level: level, UseColors: isTerminal(w)})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// Info logs an informational message.
func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Debug logs a debug message.
func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

// Warn logs a warning message.
func Warn(msg string, args ...any) {
	Logger.Warn(msg, args...)
}

// Error logs an error message.
func Error(msg string, args ...any) {
	Logger.Error(msg, args...)
}

// orDefault returns l, or the package logger when l is nil.
func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return Logger
	}
	return l
}

// =============================================================================
// Run and Job Context Types
// =============================================================================

// RunContext identifies one aggregation run.
type RunContext struct {
	// RunID is the unique identifier of the run (required)
	RunID string
	// Source describes where the request came from (cli, http)
	Source string
	// DryRun indicates that no collector is invoked
	DryRun bool
}

// JobContext identifies one job of a run.
type JobContext struct {
	RunID string
	// Key is the result key of the job
	Key string
	// Platform is the collector display name
	Platform string
	// Entity is the object, object type or metric view being profiled
	Entity string
}

// RunSummary holds the counters logged when a run ends.
type RunSummary struct {
	Outcome   string
	Jobs      int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

// ErrorContext contains structured context for error logging.
// Use this with LogError() for consistent, actionable error logs.
type ErrorContext struct {
	RunID    string
	Key      string
	Platform string

	// Error details
	ErrorKind    string
	ErrorMessage string
	Err          error

	// Contextual information
	Endpoint   string
	HTTPStatus int
	Duration   time.Duration

	// Additional context as key-value pairs
	Extra map[string]interface{}
}

// =============================================================================
// Run and Job Helpers
// =============================================================================

// WithRun returns a logger carrying the run attributes.
func WithRun(l *slog.Logger, ctx RunContext) *slog.Logger {
	return orDefault(l).With(runAttrs(ctx)...)
}

// WithJob returns a logger carrying the job attributes.
func WithJob(l *slog.Logger, ctx JobContext) *slog.Logger {
	return orDefault(l).With(jobAttrs(ctx)...)
}

type contextKey struct{}

// NewContext returns a context carrying l.
func NewContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, l)
}

// FromContext returns the logger carried by ctx, or Logger.
func FromContext(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(contextKey{}).(*slog.Logger); ok && l != nil {
			return l
		}
	}
	return Logger
}

// LogRunStart logs the start of a run.
func LogRunStart(l *slog.Logger, ctx RunContext, connections int) {
	attrs := append(runAttrs(ctx), slog.Int("connections", connections))
	orDefault(l).Info("run started", attrs...)
}

// LogRunEnd logs the completion of a run with its outcome and counters.
func LogRunEnd(l *slog.Logger, ctx RunContext, summary RunSummary) {
	attrs := append(runAttrs(ctx),
		slog.String("outcome", summary.Outcome),
		slog.Int("jobs", summary.Jobs),
		slog.Int("jobs_succeeded", summary.Succeeded),
		slog.Int("jobs_failed", summary.Failed),
		slog.Duration("duration", summary.Duration),
	)
	orDefault(l).Info("run completed", attrs...)
}

// LogJobStart logs the start of a job.
func LogJobStart(l *slog.Logger, ctx JobContext) {
	orDefault(l).Info("job started", jobAttrs(ctx)...)
}

// LogJobSuccess logs a job that produced an inventory.
func LogJobSuccess(l *slog.Logger, ctx JobContext, fields int, totalRecords *int, duration time.Duration) {
	attrs := append(jobAttrs(ctx), slog.Int("field_count", fields))
	if totalRecords != nil {
		attrs = append(attrs, slog.Int("total_records", *totalRecords))
	}
	attrs = append(attrs, slog.Duration("duration", duration))
	orDefault(l).Info("job succeeded", attrs...)
}

// LogJobFailure logs a job that ended with an error descriptor.
// Validation-class failures are warnings; unexpected ones are errors.
func LogJobFailure(l *slog.Logger, ctx JobContext, kind string, message string, err error, duration time.Duration) {
	attrs := append(jobAttrs(ctx),
		slog.String("error_kind", kind),
		slog.String("error", message),
		slog.Duration("duration", duration),
	)
	if err != nil {
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", err)))
	}
	if kind == "validation" {
		orDefault(l).Warn("job failed", attrs...)
		return
	}
	orDefault(l).Error("job failed", attrs...)
}

// LogError logs an error with full context.
func LogError(l *slog.Logger, message string, errCtx ErrorContext) {
	attrs := make([]any, 0, 16)

	if errCtx.RunID != "" {
		attrs = append(attrs, slog.String("run_id", errCtx.RunID))
	}
	if errCtx.Key != "" {
		attrs = append(attrs, slog.String("result_key", errCtx.Key))
	}
	if errCtx.Platform != "" {
		attrs = append(attrs, slog.String("platform", errCtx.Platform))
	}
	if errCtx.ErrorKind != "" {
		attrs = append(attrs, slog.String("error_kind", errCtx.ErrorKind))
	}
	if errCtx.ErrorMessage != "" {
		attrs = append(attrs, slog.String("error", errCtx.ErrorMessage))
	}
	if errCtx.Err != nil {
		attrs = append(attrs, slog.String("error_type", fmt.Sprintf("%T", errCtx.Err)))
		if chain := errorChain(errCtx.Err); len(chain) > 1 {
			attrs = append(attrs, slog.String("error_chain", strings.Join(chain, " -> ")))
		}
	}
	if errCtx.Endpoint != "" {
		attrs = append(attrs, slog.String("endpoint", errCtx.Endpoint))
	}
	if errCtx.HTTPStatus > 0 {
		attrs = append(attrs, slog.Int("http_status", errCtx.HTTPStatus))
	}
	if errCtx.Duration > 0 {
		attrs = append(attrs, slog.Duration("duration", errCtx.Duration))
	}
	for k, v := range errCtx.Extra {
		attrs = append(attrs, slog.Any(k, v))
	}

	orDefault(l).Error(message, attrs...)
}

func errorChain(err error) []string {
	chain := []string{err.Error()}
	for current := errors.Unwrap(err); current != nil; current = errors.Unwrap(current) {
		chain = append(chain, current.Error())
	}
	return chain
}

func runAttrs(ctx RunContext) []any {
	attrs := []any{slog.String("run_id", ctx.RunID)}
	if ctx.Source != "" {
		attrs = append(attrs, slog.String("source", ctx.Source))
	}
	if ctx.DryRun {
		attrs = append(attrs, slog.Bool("dry_run", true))
	}
	return attrs
}

func jobAttrs(ctx JobContext) []any {
	attrs := make([]any, 0, 4)
	if ctx.RunID != "" {
		attrs = append(attrs, slog.String("run_id", ctx.RunID))
	}
	attrs = append(attrs, slog.String("result_key", ctx.Key))
	if ctx.Platform != "" {
		attrs = append(attrs, slog.String("platform", ctx.Platform))
	}
	if ctx.Entity != "" {
		attrs = append(attrs, slog.String("entity", ctx.Entity))
	}
	return attrs
}

// =============================================================================
// Secret Masking
// =============================================================================

// sensitiveKeys are descriptor keys whose values are never logged in clear.
var sensitiveKeys = []string{"password", "token", "secret", "private_key", "service_account", "credential"}

// IsSensitiveKey reports whether a descriptor key holds a secret.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// MaskSecret keeps the first and last two characters of a secret.
// Short secrets are fully masked.
func MaskSecret(secret string) string {
	if len(secret) <= 8 {
		return strings.Repeat("*", len(secret))
	}
	return secret[:2] + strings.Repeat("*", len(secret)-4) + secret[len(secret)-2:]
}

// MaskDescriptor returns a copy of a connection descriptor that is safe to log.
// Sensitive string values are masked and nested secrets are replaced.
func MaskDescriptor(descriptor map[string]interface{}) map[string]interface{} {
	masked := make(map[string]interface{}, len(descriptor))
	for k, v := range descriptor {
		if !IsSensitiveKey(k) {
			masked[k] = v
			continue
		}
		if s, ok := v.(string); ok {
			masked[k] = MaskSecret(s)
		} else {
			masked[k] = "[redacted]"
		}
	}
	return masked
}

// =============================================================================
// Log File Output Support
// =============================================================================

// logFile holds the currently open log file (if any)
var logFile *os.File

// maxLogFileSize is the maximum size of a log file before rotation (10MB)
const maxLogFileSize = 10 * 1024 * 1024

// rotateLogFile renames the log file with a timestamp suffix once it exceeds
// maxLogFileSize.
func rotateLogFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("checking log file size: %w", err)
	}

	if info.Size() >= maxLogFileSize {
		rotatedPath := fmt.Sprintf("%s.%s", path, time.Now().Format("20060102-150405"))
		if err := os.Rename(path, rotatedPath); err != nil {
			return fmt.Errorf("rotating log file: %w", err)
		}
	}
	return nil
}

// SetLogFile configures logging to write to both the console and the given file.
// File logs are always JSON.
func SetLogFile(path string, level slog.Level, consoleFormat OutputFormat) error {
	CloseLogFile()

	if err := rotateLogFile(path); err != nil {
		Warn("log rotation failed", slog.String("error", err.Error()))
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	logFile = f

	Logger = slog.New(&dualHandler{
		console: newHandler(output, level, consoleFormat),
		file:    slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level}),
	})

	Debug("log file opened",
		slog.String("path", path),
		slog.String("console_format", consoleFormat.String()),
	)
	return nil
}

// CloseLogFile closes the current log file if one is open.
func CloseLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Sync(); err != nil {
		Warn("failed to sync log file", slog.String("error", err.Error()))
	}
	if err := logFile.Close(); err != nil {
		Warn("failed to close log file", slog.String("error", err.Error()))
	}
	logFile = nil
}
