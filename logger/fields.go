package logger

// Standard field key constants for structured logging.
const (
	FieldComponent     = "component"
	FieldCorrelationID = "correlation_id"
	FieldCallID        = "call_id"
	FieldOperation     = "operation"
	FieldMethod        = "method"
	FieldURL           = "url"
	FieldStatus        = "status"
	FieldAttempt       = "attempt"
	FieldError         = "error"
	FieldDuration      = "duration_ms"
	FieldQueue         = "queue"
	FieldLane          = "lane"
)

// Fields builds a map[string]interface{} from alternating key-value pairs.
//
//	log := logger.NewDefault("httpcall")
//	log.Info("done", logger.Fields("operation", "perform", "call_id", 42))
func Fields(kvs ...interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(kvs)/2)
	for i := 0; i < len(kvs)-1; i += 2 {
		if key, ok := kvs[i].(string); ok {
			m[key] = kvs[i+1]
		}
	}
	return m
}

// ErrorFields creates fields for an operation that failed.
func ErrorFields(op string, err error) map[string]interface{} {
	return map[string]interface{}{
		FieldOperation: op,
		FieldError:     err,
	}
}
