// Package logger owns the process-wide zerolog setup. Components pull
// tagged child loggers from it instead of configuring their own output.
package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Log is the root logger. Zero value before Initialize is a no-op writer,
// so early code paths may log safely.
var Log = zerolog.Nop()

// Initialize builds the root logger. An empty or unparseable level falls
// back to info. pretty selects human-readable console output for
// development; the default is one JSON object per line.
func Initialize(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if pretty {
		out = zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
	} else {
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	}

	Log = zerolog.New(out).
		Level(lvl).
		With().
		Timestamp().
		Str("service", "termgate").
		Logger()

	Log.Info().Str("level", lvl.String()).Msg("logger ready")
}

// component derives a child logger tagged with the component name. Children
// share the root's writer and level.
func component(name string) *zerolog.Logger {
	l := Log.With().Str("component", name).Logger()
	return &l
}

// Security logs authentication and token lifecycle events.
func Security() *zerolog.Logger { return component("security") }

// Terminal logs PTY relay events.
func Terminal() *zerolog.Logger { return component("terminal") }

// Webhook logs outbound OTP delivery.
func Webhook() *zerolog.Logger { return component("webhook") }

// Files logs sandboxed file access.
func Files() *zerolog.Logger { return component("files") }

// HTTP logs per-request lines.
func HTTP() *zerolog.Logger { return component("http") }
