// Package log provides structured logging for go-visage.
// It wraps zerolog with sensible defaults for production use.
package log

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	logger zerolog.Logger
	once   sync.Once
)

// Init initializes the global logger with the specified level.
// Valid levels: "debug", "info", "warn", "error".
// When pretty is true, output is human-readable console text instead of JSON.
func Init(level string, pretty bool) {
	once.Do(func() {
		var lvl zerolog.Level
		switch level {
		case "debug":
			lvl = zerolog.DebugLevel
		case "warn":
			lvl = zerolog.WarnLevel
		case "error":
			lvl = zerolog.ErrorLevel
		default:
			lvl = zerolog.InfoLevel
		}

		out := zerolog.New(os.Stdout)
		if pretty {
			out = zerolog.New(zerolog.ConsoleWriter{
				Out:        os.Stdout,
				TimeFormat: time.RFC3339,
			})
		}

		logger = out.Level(lvl).With().Timestamp().Logger()
	})
}

// L returns the global logger instance.
func L() zerolog.Logger {
	Init("info", false)
	return logger
}

// With returns a logger tagged with a component name.
func With(component string) zerolog.Logger {
	return L().With().Str("component", component).Logger()
}

// Debug logs at debug level.
func Debug(msg string) {
	l := L()
	l.Debug().Msg(msg)
}

// Info logs at info level.
func Info(msg string) {
	l := L()
	l.Info().Msg(msg)
}

// Warn logs at warn level.
func Warn(msg string) {
	l := L()
	l.Warn().Msg(msg)
}

// Error logs at error level with an attached cause.
func Error(msg string, err error) {
	l := L()
	l.Error().Err(err).Msg(msg)
}
