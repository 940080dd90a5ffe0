package observability

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// NewLogger returns the logger for one oriumd component: JSON lines on
// stdout with a "component" field. ORIUM_LOG_LEVEL sets the level (default
// info) and ORIUM_LOG_FORMAT=console switches to human-readable output for
// local runs.
func NewLogger(component string) zerolog.Logger {
	return NewLoggerWithLevel(component, ParseLogLevel(os.Getenv("ORIUM_LOG_LEVEL")))
}

func NewLoggerWithLevel(component string, level zerolog.Level) zerolog.Logger {
	var w io.Writer = os.Stdout
	if os.Getenv("ORIUM_LOG_FORMAT") == "console" {
		w = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return newLogger(w, component, level)
}

func newLogger(w io.Writer, component string, level zerolog.Level) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("component", component).Logger()
}

// ParseLogLevel accepts debug, info, warn and error; anything else is info.
func ParseLogLevel(s string) zerolog.Level {
	switch s {
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LoggedOp is what an op log line identifies an operation by. event.Op
// satisfies it through its header.
type LoggedOp interface {
	IdempotencyKey() string
	SourceSequence() int64
	BlockHeight() uint64
}

// WithOp adds the op_type, op_id, source_sequence and height fields so
// ingestion and core lines about the same op can be joined.
func WithOp(e *zerolog.Event, opType string, op LoggedOp) *zerolog.Event {
	return e.
		Str("op_type", opType).
		Str("op_id", op.IdempotencyKey()).
		Int64("source_sequence", op.SourceSequence()).
		Uint64("height", op.BlockHeight())
}

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
