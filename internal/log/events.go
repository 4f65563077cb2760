package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// StructuredLogger emits the recurring event lines with a fixed shape.
type StructuredLogger struct {
	logger *Logger
}

func NewStructuredLogger(logger *Logger) *StructuredLogger {
	return &StructuredLogger{logger: logger}
}

// LogHTTPEnd logs at info below 400, warn for 4xx and error for 5xx.
func (sl *StructuredLogger) LogHTTPEnd(ctx context.Context, r *http.Request, statusCode int, durationMs int64, clientIP string) {
	level := slog.LevelInfo
	switch {
	case statusCode >= 500:
		level = slog.LevelError
	case statusCode >= 400:
		level = slog.LevelWarn
	}

	fields := NewFields().
		WithHTTP(r.Method, r.URL.Path, r.URL.RawQuery, statusCode, durationMs).
		WithClientIP(clientIP).
		WithComponent(ComponentHTTP)

	sl.logger.Logger.Log(ctx, level, "HTTP request completed", fields.ToSlice()...)
}

func (sl *StructuredLogger) LogExpenseCreated(ctx context.Context, id, description string, amountCents int64, category, date string) {
	fields := NewFields().
		WithExpense(id, description, amountCents, category, date).
		WithOperation(OpCreate)

	sl.logger.WithComponent(ComponentExpense).InfoContext(ctx, "Expense created successfully", fields.ToSlice()...)
}

// LogIdempotentReplay logs a create answered from the idempotency ledger.
func (sl *StructuredLogger) LogIdempotentReplay(ctx context.Context, key, expenseID string) {
	fields := NewFields().
		WithIdempotencyKey(key).
		WithOperation(OpReplay)
	fields[FieldExpenseID] = expenseID

	sl.logger.WithComponent(ComponentIdempotency).InfoContext(ctx, "Expense already created, replaying", fields.ToSlice()...)
}

// LogCorruptDocument reports a document that failed to parse and was read as empty.
func (sl *StructuredLogger) LogCorruptDocument(ctx context.Context, path string, err error) {
	fields := NewFields().
		WithStorePath(path).
		WithError(err).
		WithErrorType(ErrorTypeCorruption).
		WithOperation(OpRead)

	sl.logger.WithComponent(ComponentStorage).WarnContext(ctx, "Stored document is corrupt, continuing with an empty collection", fields.ToSlice()...)
}

// LogQuarantineFailed reports corrupt bytes that are about to be overwritten
// without a copy.
func (sl *StructuredLogger) LogQuarantineFailed(ctx context.Context, path string, err error) {
	fields := NewFields().
		WithStorePath(path).
		WithError(err).
		WithErrorType(ErrorTypeCorruption).
		WithOperation(OpPersist)

	sl.logger.WithComponent(ComponentStorage).WarnContext(ctx, "Could not keep a copy of the corrupt document before overwriting it", fields.ToSlice()...)
}

func (sl *StructuredLogger) LogEviction(ctx context.Context, removed int, retention, elapsed time.Duration) {
	fields := NewFields().WithOperation(OpEvict)
	fields[FieldRemoved] = removed
	fields[FieldRetention] = retention.String()
	fields[FieldDuration] = elapsed.Milliseconds()

	sl.logger.WithComponent(ComponentSweeper).InfoContext(ctx, "Idempotency eviction sweep completed", fields.ToSlice()...)
}

// LogError logs err under component with the extra fields, which may be nil.
func (sl *StructuredLogger) LogError(ctx context.Context, msg string, err error, component, operation string, fields LogFields) {
	if fields == nil {
		fields = NewFields()
	}
	fields.WithError(err).WithOperation(operation)

	sl.logger.WithComponent(component).ErrorContext(ctx, msg, fields.ToSlice()...)
}
