package logger

// Logger is the minimal structured-logging surface the engine needs. Keyvals
// alternate key, value, key, value.
type Logger interface {
	Error(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Debug(msg string, keyvals ...any)
}

// TraceIDFunc generates a correlation ID for one decision. It must be cheap
// and safe for concurrent calls.
type TraceIDFunc func() string
