package log

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/YuminosukeSato/sparsesgd/pkg/errors"
)

var (
	defaultMu     sync.RWMutex
	defaultLogger Logger = NewZerologLogger(os.Stderr, LevelWarn)
)

// GetLogger returns the package-wide default logger.
func GetLogger() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// SetLogger replaces the package-wide default logger. A nil logger is ignored.
func SetLogger(l Logger) {
	if l == nil {
		return
	}
	defaultMu.Lock()
	defer defaultMu.Unlock()
	defaultLogger = l
}

// SetupLogger configures the default Logger, the slog default and the warning sink
// of pkg/errors in one go, and returns the provider commands take component loggers
// from. console selects zerolog's human-readable writer.
func SetupLogger(loglevel string, w io.Writer, console bool) (*ZerologProvider, error) {
	level, err := ParseLevel(loglevel)
	if err != nil {
		return nil, err
	}

	var p *ZerologProvider
	if console {
		p = NewConsoleProvider(w, level)
	} else {
		p = NewZerologProvider(w, level)
	}
	SetLogger(p.root)

	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     ToLogLevel(level),
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr.Key = "severity"
			case slog.MessageKey:
				attr.Key = "message"
			}
			return attr
		},
	}
	slog.SetDefault(slog.New(WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))))

	InstallWarningSink(p.root)
	return p, nil
}

// InstallWarningSink routes errors.Warn through the given zerolog-backed logger.
// Warnings implementing zerolog.LogObjectMarshaler keep their structured fields.
func InstallWarningSink(l *ZerologLogger) {
	zl := l.Zerolog()
	errors.SetZerologWarnFunc(func(w error) {
		if !l.Enabled(context.Background(), LevelWarn) {
			return
		}
		ev := zl.Warn()
		if m, ok := w.(zerolog.LogObjectMarshaler); ok {
			ev = ev.EmbedObject(m)
		}
		ev.Msg(w.Error())
	})
}

// ParseLevel converts "debug", "info", "warn" or "error" to a Level.
func ParseLevel(level string) (Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return LevelDebug, nil
	case "info", "":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, errors.NewValidationError("log_level", "must be one of debug, info, warn, error", level)
	}
}

// ToLogLevel converts a Level to the matching slog.Level.
func ToLogLevel(level Level) slog.Level {
	return slog.Level(level)
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}
