package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldUserID      = "user_id"
	FieldRecurringID = "recurring_id"
	FieldTitle       = "title"
	FieldCategory    = "category"
	FieldAmount      = "amount"
	FieldOccurrence  = "occurrence"
	FieldNext        = "next_occurrence"
	FieldEmitted     = "emitted"
	FieldRecords     = "records"
	FieldQuery       = "query"
	FieldResults     = "results"
	FieldPath        = "path"
	FieldBackend     = "backend"
)

// Components defines standard component names
const (
	ComponentApp       = "app"
	ComponentRecurring = "recurring"
	ComponentSuggest   = "suggest"
	ComponentStorage   = "storage"
	ComponentAMQP      = "amqp"
	ComponentWorker    = "worker"
	ComponentLedger    = "ledger"
	ComponentBackend   = "backend"
)

// Operations defines standard operation names
const (
	OpCreate   = "create"
	OpUpdate   = "update"
	OpDelete   = "delete"
	OpLoad     = "load"
	OpProcess  = "process_pending"
	OpPersist  = "persist"
	OpBuild    = "build"
	OpUpsert   = "upsert"
	OpQuery    = "query"
	OpReset    = "reset"
	OpSave     = "save"
	OpShutdown = "shutdown"
	OpStartup  = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

// NewFields creates a new LogFields instance
func NewFields() LogFields {
	return make(LogFields)
}

// WithComponent adds component field
func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

// WithError adds error field
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

// WithOperation adds operation field
func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithRecurring adds the identifying fields of a recurring record
func (f LogFields) WithRecurring(id, userID, title string) LogFields {
	f[FieldRecurringID] = id
	f[FieldUserID] = userID
	f[FieldTitle] = title
	return f
}

// ToSlice converts LogFields to a slice for slog
func (f LogFields) ToSlice() []any {
	slice := make([]any, 0, len(f)*2)
	for k, v := range f {
		slice = append(slice, k, v)
	}
	return slice
}
