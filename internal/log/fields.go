package log

import "sort"

// Field names shared by every component.
const (
	FieldComponent      = "component"
	FieldRequestID      = "request_id"
	FieldClientIP       = "client_ip"
	FieldMethod         = "method"
	FieldPath           = "path"
	FieldQuery          = "query"
	FieldUserAgent      = "user_agent"
	FieldStatusCode     = "status_code"
	FieldDuration       = "duration_ms"
	FieldError          = "error"
	FieldErrorType      = "error_type"
	FieldOperation      = "operation"
	FieldExpenseID      = "expense_id"
	FieldDescription    = "description"
	FieldAmountCents    = "amount_cents"
	FieldCategory       = "category"
	FieldDate           = "date"
	FieldIdempotencyKey = "idempotency_key"
	FieldStorePath      = "store_path"
	FieldRemoved        = "removed"
	FieldRetention      = "retention"
	FieldCount          = "count"
	FieldSheetsRef      = "sheets_ref"
)

const (
	ComponentApp         = "app"
	ComponentHTTP        = "http"
	ComponentExpense     = "expense"
	ComponentStorage     = "storage"
	ComponentIdempotency = "idempotency"
	ComponentAMQP        = "amqp"
	ComponentWorker      = "worker"
	ComponentSweeper     = "sweeper"
	ComponentMirror      = "mirror"
	ComponentSheets      = "sheets"
	ComponentCache       = "cache"
	ComponentSecurity    = "security"
	ComponentRateLimit   = "rate_limit"
	ComponentTrace       = "trace"
	ComponentBackend     = "backend"
	ComponentCLI         = "cli"
)

const (
	OpCreate   = "create"
	OpRead     = "read"
	OpList     = "list"
	OpEvict    = "evict"
	OpReplay   = "replay"
	OpPersist  = "persist"
	OpPublish  = "publish"
	OpMirror   = "mirror"
	OpSync     = "sync"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// Values for FieldErrorType.
const (
	ErrorTypeConfiguration = "configuration_error"
	ErrorTypePersistence   = "persistence_error"
	ErrorTypeCorruption    = "corruption_warning"
	ErrorTypeConflict      = "conflict_error"
	ErrorTypeInternal      = "internal_error"
)

// LogFields collects attributes for a single log line.
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithClientIP(ip string) LogFields {
	f[FieldClientIP] = ip
	return f
}

// WithError records err's message; a nil err leaves f unchanged.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithErrorType(kind string) LogFields {
	f[FieldErrorType] = kind
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

func (f LogFields) WithExpense(id, description string, amountCents int64, category, date string) LogFields {
	f[FieldExpenseID] = id
	f[FieldDescription] = description
	f[FieldAmountCents] = amountCents
	f[FieldCategory] = category
	f[FieldDate] = date
	return f
}

func (f LogFields) WithIdempotencyKey(key string) LogFields {
	f[FieldIdempotencyKey] = key
	return f
}

func (f LogFields) WithStorePath(path string) LogFields {
	f[FieldStorePath] = path
	return f
}

func (f LogFields) WithHTTP(method, path, query string, status int, durationMs int64) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldQuery] = query
	f[FieldStatusCode] = status
	f[FieldDuration] = durationMs
	return f
}

// ToSlice flattens f into slog key/value pairs, sorted by key so lines
// read the same every time.
func (f LogFields) ToSlice() []any {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]any, 0, len(f)*2)
	for _, k := range keys {
		out = append(out, k, f[k])
	}
	return out
}
