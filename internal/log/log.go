package log

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Canonical field names.
const (
	FieldComponent   = "component"
	FieldJID         = "jid"
	FieldOldState    = "old_state"
	FieldNewState    = "new_state"
	FieldError       = "connection_error"
	FieldActiveTasks = "active_tasks"
	FieldPending     = "pending_tasks"
	FieldHost        = "host"
	FieldPort        = "port"
)

type Config struct {
	Level  string    // "debug", "info", ...; falls back to KAIDAN_LOG_LEVEL
	Output io.Writer // defaults to os.Stderr
	JSON   bool      // plain JSON lines instead of the console writer
}

var (
	mu   sync.RWMutex
	base = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Configure replaces the process logger. Later calls win so that the CLI can
// reconfigure after flags are parsed.
func Configure(cfg Config) {
	level := zerolog.InfoLevel
	raw := cfg.Level
	if raw == "" {
		raw = os.Getenv("KAIDAN_LOG_LEVEL")
	}
	if raw != "" {
		if parsed, err := zerolog.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	zerolog.TimeFieldFormat = time.RFC3339

	writer := cfg.Output
	if writer == nil {
		writer = os.Stderr
	}
	if !cfg.JSON {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.Kitchen}
	}

	logger := zerolog.New(writer).Level(level).With().Timestamp().Str("service", "kaidan").Logger()

	mu.Lock()
	base = logger
	mu.Unlock()
}

func Base() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// WithComponent returns a child logger annotated with the given component name.
func WithComponent(component string) zerolog.Logger {
	return Base().With().Str(FieldComponent, component).Logger()
}

// Nop is used by tests and by components constructed without a logger.
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
