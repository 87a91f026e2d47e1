package log

// Common field names for structured logging
const (
	FieldComponent   = "component"
	FieldRequestID   = "request_id"
	FieldClientIP    = "client_ip"
	FieldMethod      = "method"
	FieldPath        = "path"
	FieldStatusCode  = "status_code"
	FieldDuration    = "duration_ms"
	FieldError       = "error"
	FieldOperation   = "operation"
	FieldMediaRef    = "media_ref"
	FieldCategory    = "category"
	FieldAmountCOP   = "amount_cop"
	FieldDayKey      = "day_key"
	FieldSource      = "source"
	FieldSender      = "sender"
	FieldMessageID   = "message_id"
	FieldPattern     = "pattern"
	FieldFile        = "file"
	FieldDestination = "destination"
)

// Components defines standard component names
const (
	ComponentApp        = "app"
	ComponentHTTP       = "http"
	ComponentPipeline   = "pipeline"
	ComponentInbox      = "inbox"
	ComponentClassifier = "classifier"
	ComponentLedger     = "ledger"
	ComponentDedup      = "dedup"
	ComponentStorage    = "storage"
	ComponentOCR        = "ocr"
	ComponentNotify     = "notify"
	ComponentAMQP       = "amqp"
	ComponentArchive    = "archive"
	ComponentSheets     = "sheets"
	ComponentCache      = "cache"
	ComponentBackend    = "backend"
)

// Operations defines standard operation names
const (
	OpProcess   = "process"
	OpObserve   = "observe"
	OpRecognize = "recognize"
	OpClassify  = "classify"
	OpRecord    = "record"
	OpNotify    = "notify"
	OpArchive   = "archive"
	OpBatch     = "batch"
	OpShutdown  = "shutdown"
	OpStartup   = "startup"
)

// LogFields provides a builder pattern for structured log fields
type LogFields map[string]any

func NewFields() LogFields {
	return make(LogFields)
}

func (f LogFields) WithComponent(component string) LogFields {
	f[FieldComponent] = component
	return f
}

func (f LogFields) WithRequestID(requestID string) LogFields {
	f[FieldRequestID] = requestID
	return f
}

// WithError adds the error message; nil errors are skipped.
func (f LogFields) WithError(err error) LogFields {
	if err != nil {
		f[FieldError] = err.Error()
	}
	return f
}

func (f LogFields) WithOperation(op string) LogFields {
	f[FieldOperation] = op
	return f
}

// WithDocument adds the fields identifying one processed document. An empty
// amount is omitted.
func (f LogFields) WithDocument(mediaRef, category, amount string) LogFields {
	f[FieldMediaRef] = mediaRef
	f[FieldCategory] = category
	if amount != "" {
		f[FieldAmountCOP] = amount
	}
	return f
}

func (f LogFields) WithHTTPRequest(method, path, clientIP string) LogFields {
	f[FieldMethod] = method
	f[FieldPath] = path
	f[FieldClientIP] = clientIP
	return f
}

func (f LogFields) WithHTTPResponse(statusCode int, durationMs int64) LogFields {
	f[FieldStatusCode] = statusCode
	f[FieldDuration] = durationMs
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
