// Package bifrost provides the core of the Bifrost live session bridge.
package bifrost

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maximhq/bifrost-live/core/schemas"
	"github.com/rs/zerolog"
)

// DefaultLogger implements schemas.Logger on top of zerolog.
// Debug, Info and Warn go to stdout; Error and Fatal go to stderr.
type DefaultLogger struct {
	out    io.Writer
	errOut io.Writer
	stdout zerolog.Logger
	stderr zerolog.Logger
}

// NewDefaultLogger creates a JSON DefaultLogger at the given level.
func NewDefaultLogger(level schemas.LogLevel) *DefaultLogger {
	return newDefaultLogger(os.Stdout, os.Stderr, level, schemas.LoggerOutputTypeJSON)
}

func newDefaultLogger(out, errOut io.Writer, level schemas.LogLevel, outputType schemas.LoggerOutputType) *DefaultLogger {
	logger := &DefaultLogger{
		out:    out,
		errOut: errOut,
		stdout: zerolog.New(out).With().Timestamp().Logger(),
		stderr: zerolog.New(errOut).With().Timestamp().Logger(),
	}
	logger.SetOutputType(outputType)
	logger.SetLevel(level)
	return logger
}

func toZerologLevel(level schemas.LogLevel) zerolog.Level {
	switch level {
	case schemas.LogLevelDebug:
		return zerolog.DebugLevel
	case schemas.LogLevelWarn:
		return zerolog.WarnLevel
	case schemas.LogLevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Debug logs a debug level message to stdout.
func (logger *DefaultLogger) Debug(msg string, args ...any) {
	logger.stdout.Debug().Msg(format(msg, args))
}

// Info logs an info level message to stdout.
func (logger *DefaultLogger) Info(msg string, args ...any) {
	logger.stdout.Info().Msg(format(msg, args))
}

// Warn logs a warning level message to stdout.
func (logger *DefaultLogger) Warn(msg string, args ...any) {
	logger.stdout.Warn().Msg(format(msg, args))
}

// Error logs an error level message to stderr.
func (logger *DefaultLogger) Error(msg string, args ...any) {
	logger.stderr.Error().Msg(format(msg, args))
}

// Fatal logs a fatal level message to stderr and exits with status 1.
func (logger *DefaultLogger) Fatal(msg string, args ...any) {
	logger.stderr.Fatal().Msg(format(msg, args))
}

// SetLevel sets the minimum level written by the logger.
func (logger *DefaultLogger) SetLevel(level schemas.LogLevel) {
	zl := toZerologLevel(level)
	logger.stdout = logger.stdout.Level(zl)
	logger.stderr = logger.stderr.Level(zl)
}

// SetOutputType switches between JSON lines and human-readable console output.
func (logger *DefaultLogger) SetOutputType(outputType schemas.LoggerOutputType) {
	if outputType != schemas.LoggerOutputTypePretty {
		logger.stdout = logger.stdout.Output(logger.out)
		logger.stderr = logger.stderr.Output(logger.errOut)
		return
	}
	logger.stdout = logger.stdout.Output(zerolog.ConsoleWriter{Out: logger.out, TimeFormat: time.RFC3339})
	logger.stderr = logger.stderr.Output(zerolog.ConsoleWriter{Out: logger.errOut, TimeFormat: time.RFC3339})
}

func format(msg string, args []any) string {
	if len(args) == 0 {
		return msg
	}
	return fmt.Sprintf(msg, args...)
}
