package schemas

// LogLevel represents the severity level of a log message.
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// LoggerOutputType selects how log lines are rendered.
type LoggerOutputType string

const (
	LoggerOutputTypeJSON   LoggerOutputType = "json"
	LoggerOutputTypePretty LoggerOutputType = "pretty"
)

// Logger defines the interface for logging operations in the live bridge.
// Messages are printf-style formatted with args.
type Logger interface {
	// Debug logs a debug level message
	Debug(msg string, args ...any)

	// Info logs an info level message
	Info(msg string, args ...any)

	// Warn logs a warning level message
	Warn(msg string, args ...any)

	// Error logs an error level message
	Error(msg string, args ...any)

	// Fatal logs a fatal level message and exits the process
	Fatal(msg string, args ...any)

	// SetLevel sets the minimum level that is written
	SetLevel(level LogLevel)

	// SetOutputType switches between json and pretty output
	SetOutputType(outputType LoggerOutputType)
}

// NoOpLogger discards every message. Useful in tests and for embedded bridges
// that report exclusively through events.
type NoOpLogger struct{}

func (NoOpLogger) Debug(msg string, args ...any)             {}
func (NoOpLogger) Info(msg string, args ...any)              {}
func (NoOpLogger) Warn(msg string, args ...any)              {}
func (NoOpLogger) Error(msg string, args ...any)             {}
func (NoOpLogger) Fatal(msg string, args ...any)             {}
func (NoOpLogger) SetLevel(level LogLevel)                   {}
func (NoOpLogger) SetOutputType(outputType LoggerOutputType) {}
