// Package schemas defines the shared types used across the meetscribe
// pipeline: meeting and task records, transcript segments, chunk results,
// broker message payloads, the status state machine, and the error taxonomy.
package schemas

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggerOutputType selects the encoding of log output.
type LoggerOutputType string

const (
	LoggerOutputTypeJSON   LoggerOutputType = "json"
	LoggerOutputTypePretty LoggerOutputType = "pretty"
)

// Logger defines the interface for logging operations across the workers.
// Messages are printf-style: args, when present, are interpolated into msg.
type Logger interface {
	// Debug logs a debug-level message, typically only needed during
	// development or troubleshooting.
	Debug(msg string, args ...any)

	// Info logs an info-level message about normal operation.
	Info(msg string, args ...any)

	// Warn logs a potentially harmful situation that does not prevent
	// normal operation.
	Warn(msg string, args ...any)

	// Error logs a serious problem that needs attention.
	Error(msg string, args ...any)

	// Fatal logs the message and terminates the process.
	Fatal(msg string, args ...any)

	// SetLevel sets the minimum severity that will be emitted.
	SetLevel(level LogLevel)

	// SetOutputType switches between JSON and pretty console output.
	SetOutputType(outputType LoggerOutputType)
}
